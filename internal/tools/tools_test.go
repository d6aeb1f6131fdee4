package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorkspace(t *testing.T) *Toolbox {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "orders.txt"), []byte("order 41 shipped\norder 42 pending\norder 43 shipped"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "returns.md"), []byte("# Returns\nOrders can be returned within 14 days."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "HEAD"), []byte("order in git"), 0o644))
	tb, err := New(root)
	require.NoError(t, err)
	return tb
}

func TestRead(t *testing.T) {
	tb := newWorkspace(t)

	out, err := tb.Execute(context.Background(), "read", `{"path":"orders.txt"}`)
	require.NoError(t, err)
	assert.Equal(t, "   1| order 41 shipped\n   2| order 42 pending\n   3| order 43 shipped\n", out)

	out, err = tb.Execute(context.Background(), "read", `{"path":"orders.txt","offset":1,"limit":1}`)
	require.NoError(t, err)
	assert.Equal(t, "   2| order 42 pending\n", out)

	_, err = tb.Execute(context.Background(), "read", `{"path":"missing.txt"}`)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPathsStayInWorkspace(t *testing.T) {
	tb := newWorkspace(t)
	for _, args := range []string{
		`{"path":"../outside.txt"}`,
		`{"path":"docs/../../outside.txt"}`,
		`{"path":"/etc/passwd"}`,
	} {
		_, err := tb.Execute(context.Background(), "read", args)
		assert.ErrorIs(t, err, ErrOutsideRoot, args)
	}

	_, err := tb.Execute(context.Background(), "write", `{"path":"../evil.txt","content":"x"}`)
	assert.ErrorIs(t, err, ErrOutsideRoot)
}

func TestLs(t *testing.T) {
	tb := newWorkspace(t)

	out, err := tb.Execute(context.Background(), "ls", "")
	require.NoError(t, err)
	assert.Contains(t, out, "[DIR]  docs/")
	assert.Contains(t, out, "[FILE] orders.txt")

	require.NoError(t, os.Mkdir(filepath.Join(tb.Root, "empty"), 0o755))
	out, err = tb.Execute(context.Background(), "ls", `{"path":"empty"}`)
	require.NoError(t, err)
	assert.Equal(t, "(empty directory)", out)
}

func TestGrep(t *testing.T) {
	tb := newWorkspace(t)

	out, err := tb.Execute(context.Background(), "grep", `{"pat":"shipped"}`)
	require.NoError(t, err)
	assert.Equal(t, "orders.txt:1:order 41 shipped\norders.txt:3:order 43 shipped", out)

	out, err = tb.Execute(context.Background(), "grep", `{"pat":"(?i)^orders can"}`)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("docs", "returns.md")+":2:Orders can be returned within 14 days.", out)

	out, err = tb.Execute(context.Background(), "grep", `{"pat":"in git"}`)
	require.NoError(t, err)
	assert.Equal(t, "none", out, "dot directories are skipped")

	_, err = tb.Execute(context.Background(), "grep", `{"pat":"("}`)
	assert.Error(t, err)
}

func TestWrite(t *testing.T) {
	tb := newWorkspace(t)

	out, err := tb.Execute(context.Background(), "write", `{"path":"notes/today.txt","content":"call customer"}`)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)

	data, err := os.ReadFile(filepath.Join(tb.Root, "notes", "today.txt"))
	require.NoError(t, err)
	assert.Equal(t, "call customer", string(data))
}

func TestBash(t *testing.T) {
	tb := newWorkspace(t)

	out, err := tb.Execute(context.Background(), "bash", `{"cmd":"cat orders.txt | wc -l"}`)
	require.NoError(t, err)
	assert.Equal(t, "2", strings.TrimSpace(out))

	out, err = tb.Execute(context.Background(), "bash", `{"cmd":"true"}`)
	require.NoError(t, err)
	assert.Equal(t, "(empty)", out)

	out, err = tb.Execute(context.Background(), "bash", `{"cmd":"exit 3"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "error:")
}

func TestExecuteErrors(t *testing.T) {
	tb := newWorkspace(t)

	_, err := tb.Execute(context.Background(), "delete", `{}`)
	assert.EqualError(t, err, "unknown tool: delete")

	_, err = tb.Execute(context.Background(), "read", `{not json`)
	assert.ErrorContains(t, err, "parse read arguments")
}

func TestExecuteTruncatesOutput(t *testing.T) {
	tb := newWorkspace(t)
	require.NoError(t, os.WriteFile(filepath.Join(tb.Root, "big.txt"), []byte(strings.Repeat("x", maxOutputSize*2)), 0o644))

	out, err := tb.Execute(context.Background(), "read", `{"path":"big.txt"}`)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out, "[... truncated]"))
	assert.Len(t, out, maxOutputSize+len("\n[... truncated]"))
}

func TestApprovalMetadata(t *testing.T) {
	assert.True(t, RequiresApproval("write"))
	assert.True(t, RequiresApproval("bash"))
	assert.False(t, RequiresApproval("read"))
	assert.False(t, RequiresApproval("grep"))

	assert.Equal(t, "Write notes.txt", Title("write", `{"path":"notes.txt","content":"a\nb"}`))
	assert.Equal(t, "Run `ls -la`", Title("bash", `{"cmd":"ls -la"}`))
	assert.Equal(t, "Run `"+strings.Repeat("a", 37)+"...`", Title("bash", `{"cmd":"`+strings.Repeat("a", 50)+`"}`))
	assert.Equal(t, "Grep", Title("grep", `{}`))
	assert.Equal(t, "", Title("", `{}`))

	assert.Equal(t, []string{"2 lines"}, Details("write", `{"path":"notes.txt","content":"a\nb"}`))
	assert.Equal(t, []string{"rm -rf build"}, Details("bash", `{"cmd":"rm -rf build"}`))
	assert.Nil(t, Details("read", `{"path":"x"}`))
}

func TestDefinitionsCoverEveryTool(t *testing.T) {
	tb := newWorkspace(t)
	require.Len(t, Definitions, 5)
	for _, def := range Definitions {
		require.NotNil(t, def.OfFunction)
		name := def.OfFunction.Function.Name
		_, err := tb.Execute(context.Background(), name, `{"path":"orders.txt","pat":"x","cmd":"true","content":""}`)
		assert.NotContains(t, errString(err), "unknown tool", name)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
