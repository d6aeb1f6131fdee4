package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleStream = "data: {\"type\":\"token\",\"content\":\"Grüße \"}\n" +
	"data: {\"type\":\"tool_start\",\"tool\":\"lookup_order\"}\n" +
	"\n" +
	"data: {\"type\":\"tool_end\",\"tool\":\"lookup_order\"}\n" +
	"data: {\"type\":\"token\",\"content\":\"日本 🍐\"}\n" +
	"data: {\"type\":\"done\"}\n"

func feedAll(d *Decoder, chunks ...[]byte) []Event {
	var events []Event
	for _, c := range chunks {
		events = append(events, d.Feed(c)...)
	}
	return append(events, d.Flush()...)
}

func TestDecoderChunkBoundaryIndependence(t *testing.T) {
	raw := []byte(sampleStream)
	whole := feedAll(NewDecoder(), raw)
	require.Len(t, whole, 5)
	assert.Equal(t, TokenEvent("Grüße "), whole[0])
	assert.Equal(t, TokenEvent("日本 🍐"), whole[3])

	t.Run("byte by byte", func(t *testing.T) {
		chunks := make([][]byte, len(raw))
		for i := range raw {
			chunks[i] = raw[i : i+1]
		}
		assert.Equal(t, whole, feedAll(NewDecoder(), chunks...))
	})

	t.Run("every split point", func(t *testing.T) {
		for i := 1; i < len(raw); i++ {
			got := feedAll(NewDecoder(), raw[:i], raw[i:])
			require.Equal(t, whole, got, "split at byte %d", i)
		}
	})

	t.Run("inside a multibyte rune", func(t *testing.T) {
		idx := strings.Index(sampleStream, "🍐")
		require.Positive(t, idx)
		got := feedAll(NewDecoder(), raw[:idx+2], raw[idx+2:])
		assert.Equal(t, whole, got)
	})
}

func TestDecoderScenarioSplitRecord(t *testing.T) {
	d := NewDecoder()
	first := d.Feed([]byte(`data: {"type":"token","content":"Hel"}` + "\n" + `data: {"typ`))
	require.Equal(t, []Event{TokenEvent("Hel")}, first)

	second := d.Feed([]byte(`e":"token","content":"lo"}` + "\n" + `data: {"type":"done"}` + "\n"))
	require.Equal(t, []Event{TokenEvent("lo"), DoneEvent()}, second)

	s := State{SessionID: "s1"}
	s, ok := s.BeginTurn("hi", fixedNow, seqIDs())
	require.True(t, ok)
	for _, ev := range append(first, second...) {
		s = s.ApplyEvent(ev)
	}
	last, _ := s.LastMessage()
	assert.Equal(t, "Hello", last.Content)
}

func TestDecoderMalformedRecord(t *testing.T) {
	input := `data: {"type":"token","content":"a"}` + "\n" +
		`data: {not valid json` + "\n" +
		`data: {"type":"token","content":"b"}` + "\n"
	events := feedAll(NewDecoder(), []byte(input))
	assert.Equal(t, []Event{TokenEvent("a"), TokenEvent("b")}, events)
}

func TestDecoderWrongFieldType(t *testing.T) {
	// A field of the wrong JSON type fails the whole record, not just the field.
	input := `data: {"type":"token","content":"a"}` + "\n" +
		`data: {"type":"token","content":5}` + "\n" +
		`data: {"type":"approval_required","actions":{"title":"x"}}` + "\n" +
		`data: {"type":"done"}` + "\n"
	assert.Equal(t, []Event{TokenEvent("a"), DoneEvent()}, ParseLines(input))
}

func TestParseLinesIgnoresNoise(t *testing.T) {
	input := ": keep-alive\n" +
		"event: message\n" +
		"data:\n" +
		"data:    \n" +
		"   data: {\"type\":\"token\",\"content\":\"x\"}   \n" +
		"data:{\"type\":\"done\"}\n"
	assert.Equal(t, []Event{TokenEvent("x"), DoneEvent()}, ParseLines(input))
}

func TestParseLinesUnknownType(t *testing.T) {
	events := ParseLines(`data: {"type":"heartbeat"}`)
	require.Len(t, events, 1)
	assert.Equal(t, EventType("heartbeat"), events[0].Type)
}

func TestDecoderFlush(t *testing.T) {
	t.Run("trailing record without newline", func(t *testing.T) {
		d := NewDecoder()
		assert.Empty(t, d.Feed([]byte(`data: {"type":"done"}`)))
		assert.Equal(t, []Event{DoneEvent()}, d.Flush())
	})

	t.Run("whitespace remainder", func(t *testing.T) {
		d := NewDecoder()
		assert.Equal(t, []Event{DoneEvent()}, d.Feed([]byte("data: {\"type\":\"done\"}\n  \t")))
		assert.Nil(t, d.Flush())
	})

	t.Run("only once", func(t *testing.T) {
		d := NewDecoder()
		d.Feed([]byte(`data: {"type":"done"}`))
		require.Len(t, d.Flush(), 1)
		assert.Nil(t, d.Flush())
		assert.Nil(t, d.Feed([]byte(`data: {"type":"done"}`+"\n")))
	})
}

func TestEventLineRoundTrip(t *testing.T) {
	ev := Event{
		Type: EventApprovalRequired,
		Actions: []ApprovalAction{{
			ToolCallID:  "call-1",
			ToolName:    "refund",
			Title:       "Refund order #42",
			Description: []string{"Amount: $19.99"},
		}},
	}
	line := ev.Line()
	assert.True(t, strings.HasPrefix(line, "data: "))
	assert.True(t, strings.HasSuffix(line, "\n"))
	assert.Contains(t, line, `"tool_call_id":"call-1"`)
	assert.Equal(t, []Event{ev}, ParseLines(line))
}

type chunkReader struct {
	chunks []string
	err    error
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, r.err
	}
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	if r.chunks[0] == "" {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func TestDecode(t *testing.T) {
	t.Run("delivers in order and flushes at EOF", func(t *testing.T) {
		r := &chunkReader{
			chunks: []string{`data: {"type":"token","content":"a"}` + "\n" + `data: {"type":"tok`, `en","content":"b"}`},
			err:    io.EOF,
		}
		var got []Event
		require.NoError(t, Decode(context.Background(), r, func(ev Event) { got = append(got, ev) }))
		assert.Equal(t, []Event{TokenEvent("a"), TokenEvent("b")}, got)
	})

	t.Run("read error after events", func(t *testing.T) {
		boom := errors.New("connection reset")
		r := &chunkReader{chunks: []string{`data: {"type":"token","content":"a"}` + "\n"}, err: boom}
		var got []Event
		err := Decode(context.Background(), r, func(ev Event) { got = append(got, ev) })
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, []Event{TokenEvent("a")}, got)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := Decode(ctx, strings.NewReader(sampleStream), func(Event) { t.Fatal("no events expected") })
		assert.ErrorIs(t, err, context.Canceled)
	})
}
