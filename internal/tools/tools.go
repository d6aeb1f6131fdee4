package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
)

const (
	maxReadLines  = 200
	maxGrepHits   = 30
	maxOutputSize = 8000
	bashTimeout   = 30 * time.Second
)

var ErrOutsideRoot = errors.New("path escapes workspace")

// Definitions are advertised to the model on every request.
var Definitions = []openai.ChatCompletionToolUnionParam{
	openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
		Name:        "read",
		Description: openai.String("Read a workspace file with line numbers"),
		Parameters: openai.FunctionParameters{
			"type": "object",
			"properties": map[string]interface{}{
				"path":   map[string]interface{}{"type": "string"},
				"offset": map[string]interface{}{"type": "integer"},
				"limit":  map[string]interface{}{"type": "integer"},
			},
			"required": []string{"path"},
		},
	}),
	openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
		Name:        "ls",
		Description: openai.String("List a workspace directory (defaults to the workspace root)"),
		Parameters: openai.FunctionParameters{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{"type": "string"},
			},
			"required": []string{},
		},
	}),
	openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
		Name:        "grep",
		Description: openai.String("Search workspace files for a regex"),
		Parameters: openai.FunctionParameters{
			"type": "object",
			"properties": map[string]interface{}{
				"pat":  map[string]interface{}{"type": "string"},
				"path": map[string]interface{}{"type": "string"},
			},
			"required": []string{"pat"},
		},
	}),
	openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
		Name:        "write",
		Description: openai.String("Create or overwrite a workspace file (needs user approval)"),
		Parameters: openai.FunctionParameters{
			"type": "object",
			"properties": map[string]interface{}{
				"path":    map[string]interface{}{"type": "string"},
				"content": map[string]interface{}{"type": "string"},
			},
			"required": []string{"path", "content"},
		},
	}),
	openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
		Name:        "bash",
		Description: openai.String("Run a shell command in the workspace (needs user approval)"),
		Parameters: openai.FunctionParameters{
			"type": "object",
			"properties": map[string]interface{}{
				"cmd": map[string]interface{}{"type": "string"},
			},
			"required": []string{"cmd"},
		},
	}),
}

// RequiresApproval reports whether a tool changes anything and so has to be
// confirmed by the user first.
func RequiresApproval(name string) bool {
	switch name {
	case "write", "bash":
		return true
	default:
		return false
	}
}

// Toolbox runs tools confined to a workspace directory.
type Toolbox struct {
	Root string
}

func New(root string) (*Toolbox, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &Toolbox{Root: abs}, nil
}

func (t *Toolbox) resolve(p string) (string, error) {
	if p == "" {
		p = "."
	}
	full := p
	if !filepath.IsAbs(full) {
		full = filepath.Join(t.Root, p)
	}
	full = filepath.Clean(full)
	rel, err := filepath.Rel(t.Root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", p, ErrOutsideRoot)
	}
	return full, nil
}

// Execute runs the named tool with JSON arguments.
func (t *Toolbox) Execute(ctx context.Context, name, argsJSON string) (string, error) {
	var args map[string]interface{}
	if strings.TrimSpace(argsJSON) == "" {
		argsJSON = "{}"
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", fmt.Errorf("parse %s arguments: %w", name, err)
	}

	var (
		out string
		err error
	)
	switch name {
	case "read":
		out, err = t.read(args)
	case "ls":
		out, err = t.ls(args)
	case "grep":
		out, err = t.grep(args)
	case "write":
		out, err = t.write(args)
	case "bash":
		out, err = t.bash(ctx, args)
	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	if len(out) > maxOutputSize {
		out = out[:maxOutputSize] + "\n[... truncated]"
	}
	return out, err
}

// Title is a one-line description of a pending call, shown on approval
// cards.
func Title(name, argsJSON string) string {
	var args map[string]interface{}
	_ = json.Unmarshal([]byte(argsJSON), &args)

	switch name {
	case "write":
		path, _ := args["path"].(string)
		return fmt.Sprintf("Write %s", path)
	case "bash":
		cmd, _ := args["cmd"].(string)
		if len(cmd) > 40 {
			cmd = cmd[:37] + "..."
		}
		return fmt.Sprintf("Run `%s`", cmd)
	case "":
		return ""
	default:
		return strings.ToUpper(name[:1]) + name[1:]
	}
}

// Details lists what an approval card should show about a call.
func Details(name, argsJSON string) []string {
	var args map[string]interface{}
	_ = json.Unmarshal([]byte(argsJSON), &args)

	switch name {
	case "write":
		content, _ := args["content"].(string)
		return []string{fmt.Sprintf("%d lines", strings.Count(content, "\n")+1)}
	case "bash":
		cmd, _ := args["cmd"].(string)
		return []string{cmd}
	default:
		return nil
	}
}

func (t *Toolbox) read(args map[string]interface{}) (string, error) {
	p, _ := args["path"].(string)
	offset, _ := args["offset"].(float64)
	limit, _ := args["limit"].(float64)

	full, err := t.resolve(p)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", err
	}

	lines := strings.Split(string(data), "\n")
	start := min(max(int(offset), 0), len(lines))
	n := int(limit)
	if n <= 0 {
		n = maxReadLines
	}
	end := min(start+n, len(lines))

	var sb strings.Builder
	for i, line := range lines[start:end] {
		fmt.Fprintf(&sb, "%4d| %s\n", start+i+1, line)
	}
	return sb.String(), nil
}

func (t *Toolbox) ls(args map[string]interface{}) (string, error) {
	p, _ := args["path"].(string)
	full, err := t.resolve(p)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, entry := range entries {
		if entry.IsDir() {
			fmt.Fprintf(&sb, "[DIR]  %s/\n", entry.Name())
		} else {
			fmt.Fprintf(&sb, "[FILE] %s\n", entry.Name())
		}
	}
	if sb.Len() == 0 {
		return "(empty directory)", nil
	}
	return sb.String(), nil
}

func (t *Toolbox) grep(args map[string]interface{}) (string, error) {
	pat, _ := args["pat"].(string)
	p, _ := args["path"].(string)

	re, err := regexp.Compile(pat)
	if err != nil {
		return "", err
	}
	root, err := t.resolve(p)
	if err != nil {
		return "", err
	}

	var hits []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(t.Root, path)
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				hits = append(hits, fmt.Sprintf("%s:%d:%s", rel, i+1, strings.TrimSpace(line)))
				if len(hits) >= maxGrepHits {
					return filepath.SkipAll
				}
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		return "none", nil
	}
	sort.Strings(hits)
	return strings.Join(hits, "\n"), nil
}

func (t *Toolbox) write(args map[string]interface{}) (string, error) {
	p, _ := args["path"].(string)
	content, _ := args["content"].(string)

	full, err := t.resolve(p)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return "", err
	}
	return "ok", nil
}

func (t *Toolbox) bash(ctx context.Context, args map[string]interface{}) (string, error) {
	cmdStr, _ := args["cmd"].(string)
	ctx, cancel := context.WithTimeout(ctx, bashTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", cmdStr)
	cmd.Dir = t.Root
	out, err := cmd.CombinedOutput()
	result := strings.TrimSpace(string(out))
	if result == "" {
		if err != nil {
			return fmt.Sprintf("error: %v", err), nil
		}
		return "(empty)", nil
	}
	return result, nil
}
