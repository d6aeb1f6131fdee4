package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

const readChunkSize = 4096

// Decoder reassembles a chunked event stream into events. Chunks may split
// lines and multi-byte runes anywhere; only text up to the last newline seen
// so far is ever scanned. A Decoder serves exactly one stream.
type Decoder struct {
	buf     []byte
	text    *encoding.Decoder
	flushed bool
}

func NewDecoder() *Decoder {
	return &Decoder{text: unicode.UTF8.NewDecoder()}
}

// Feed buffers chunk and returns the events completed by it, in order.
func (d *Decoder) Feed(chunk []byte) []Event {
	if d.flushed {
		return nil
	}
	d.buf = append(d.buf, chunk...)

	last := bytes.LastIndexByte(d.buf, '\n')
	if last == -1 {
		return nil
	}
	complete := d.decodeText(d.buf[:last+1])

	rest := len(d.buf) - (last + 1)
	copy(d.buf, d.buf[last+1:])
	d.buf = d.buf[:rest]

	return ParseLines(complete)
}

// Flush scans whatever is left in the buffer without a trailing newline.
// It runs once; later calls and Feeds return nothing.
func (d *Decoder) Flush() []Event {
	if d.flushed {
		return nil
	}
	d.flushed = true
	if len(d.buf) == 0 {
		return nil
	}
	rest := d.decodeText(d.buf)
	d.buf = nil
	if strings.TrimSpace(rest) == "" {
		return nil
	}
	return ParseLines(rest)
}

// decodeText converts raw bytes to text, replacing invalid UTF-8 with
// U+FFFD. Spans passed in always end on a rune boundary or at end of stream.
func (d *Decoder) decodeText(b []byte) string {
	out, err := d.text.Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), "�")
	}
	return string(out)
}

// ParseLines extracts events from newline-separated text. Lines without the
// data prefix are ignored and records that fail to parse are dropped,
// including well-formed JSON with a field of the wrong type.
func ParseLines(text string) []Event {
	var events []Event
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, DataPrefix) {
			continue
		}
		payload := strings.TrimSpace(trimmed[len(DataPrefix):])
		if payload == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			slog.Debug("dropping malformed stream record", "error", err, "record", truncate(payload, 120))
			continue
		}
		events = append(events, ev)
	}
	return events
}

// Decode runs the read loop over r, handing each event to fn in arrival
// order. At end of stream the remaining buffer is flushed. A read error is
// returned after every event decoded before it has been delivered.
func Decode(ctx context.Context, r io.Reader, fn func(Event)) error {
	d := NewDecoder()
	chunk := make([]byte, readChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(chunk)
		if n > 0 {
			for _, ev := range d.Feed(chunk[:n]) {
				fn(ev)
			}
		}
		if errors.Is(err, io.EOF) {
			for _, ev := range d.Flush() {
				fn(ev)
			}
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
