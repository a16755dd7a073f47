package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/forgecore/agentcore/pkg/domain"
)

// Workspace resolves tool-relative paths against a root directory,
// rejecting any path that would escape it.
type Workspace struct {
	Root string
}

// Resolve joins path against the workspace root and rejects traversal
// outside of it.
func (w Workspace) Resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	joined := filepath.Join(w.Root, path)
	root, err := filepath.Abs(w.Root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes workspace", path)
	}
	return abs, nil
}

const defaultMaxReadBytes = 200_000

// ReadHandler implements fs_read.
type ReadHandler struct {
	workspace    Workspace
	maxReadBytes int
}

// NewReadHandler builds a fs_read handler scoped to workspace.
func NewReadHandler(workspace Workspace, maxReadBytes int) *ReadHandler {
	if maxReadBytes <= 0 {
		maxReadBytes = defaultMaxReadBytes
	}
	return &ReadHandler{workspace: workspace, maxReadBytes: maxReadBytes}
}

func (h *ReadHandler) Name() domain.ToolName { return "fs_read" }

func (h *ReadHandler) Description() string {
	return "Read a file from the workspace with an optional byte offset and limit."
}

func (h *ReadHandler) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Path relative to the workspace."},
			"offset": {"type": "integer", "minimum": 0},
			"max_bytes": {"type": "integer", "minimum": 0}
		},
		"required": ["path"]
	}`)
}

type readArgs struct {
	Path     string `json:"path"`
	Offset   int64  `json:"offset"`
	MaxBytes int    `json:"max_bytes"`
}

func (h *ReadHandler) Operation(args json.RawMessage) (domain.Operation, bool) {
	var a readArgs
	_ = json.Unmarshal(args, &a)
	return domain.Operation{Kind: domain.OpRead, Path: a.Path, Cwd: h.workspace.Root}, true
}

func (h *ReadHandler) Execute(ctx context.Context, args json.RawMessage) (domain.ToolOutput, error) {
	var a readArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return domain.ToolOutput{}, fmt.Errorf("decode arguments: %w", err)
	}

	resolved, err := h.workspace.Resolve(a.Path)
	if err != nil {
		return domain.TextOutput(err.Error(), true), nil
	}

	file, err := os.Open(resolved)
	if err != nil {
		return domain.TextOutput(fmt.Sprintf("open file: %v", err), true), nil
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return domain.TextOutput(fmt.Sprintf("stat file: %v", err), true), nil
	}
	if a.Offset > 0 {
		if _, err := file.Seek(a.Offset, io.SeekStart); err != nil {
			return domain.TextOutput(fmt.Sprintf("seek file: %v", err), true), nil
		}
	}

	limit := h.maxReadBytes
	if a.MaxBytes > 0 && a.MaxBytes < limit {
		limit = a.MaxBytes
	}
	remaining := info.Size() - a.Offset
	if remaining < 0 {
		remaining = 0
	}
	if remaining > int64(limit) {
		remaining = int64(limit)
	}

	buf, err := io.ReadAll(io.LimitReader(file, remaining))
	if err != nil {
		return domain.TextOutput(fmt.Sprintf("read file: %v", err), true), nil
	}
	return domain.TextOutput(string(buf), false), nil
}

// FetchHandler implements net_fetch: a bounded HTTP GET whose URL is the
// derived Operation's subject for the Policy Engine.
type FetchHandler struct {
	client httpGetter
	maxBytes int
}

type httpGetter interface {
	Get(ctx context.Context, url string) (status int, body []byte, err error)
}

// NewFetchHandler builds a net_fetch handler over client.
func NewFetchHandler(client httpGetter, maxBytes int) *FetchHandler {
	if maxBytes <= 0 {
		maxBytes = 1_000_000
	}
	return &FetchHandler{client: client, maxBytes: maxBytes}
}

func (h *FetchHandler) Name() domain.ToolName { return "net_fetch" }

func (h *FetchHandler) Description() string {
	return "Fetch the contents of a URL over HTTP GET."
}

func (h *FetchHandler) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"url": {"type": "string", "format": "uri"}},
		"required": ["url"]
	}`)
}

type fetchArgs struct {
	URL string `json:"url"`
}

func (h *FetchHandler) Operation(args json.RawMessage) (domain.Operation, bool) {
	var a fetchArgs
	_ = json.Unmarshal(args, &a)
	return domain.Operation{Kind: domain.OpFetch, URL: a.URL}, true
}

func (h *FetchHandler) Execute(ctx context.Context, args json.RawMessage) (domain.ToolOutput, error) {
	var a fetchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return domain.ToolOutput{}, fmt.Errorf("decode arguments: %w", err)
	}
	status, body, err := h.client.Get(ctx, a.URL)
	if err != nil {
		return domain.TextOutput(fmt.Sprintf("fetch %s: %v", a.URL, err), true), nil
	}
	if len(body) > h.maxBytes {
		body = body[:h.maxBytes]
	}
	if status >= 400 {
		return domain.TextOutput(fmt.Sprintf("fetch %s: status %d", a.URL, status), true), nil
	}
	return domain.TextOutput(string(body), false), nil
}

// FollowupHandler implements followup: asking the user a clarifying
// question. It has no Operation: it is a conversational effect only, not
// a filesystem/network/process effect the Policy Engine gates.
type FollowupHandler struct{}

func (FollowupHandler) Name() domain.ToolName { return "followup" }
func (FollowupHandler) Description() string {
	return "Ask the user a clarifying question before continuing."
}
func (FollowupHandler) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"question":{"type":"string"}},"required":["question"]}`)
}
func (FollowupHandler) Operation(json.RawMessage) (domain.Operation, bool) { return domain.Operation{}, false }
func (FollowupHandler) Execute(ctx context.Context, args json.RawMessage) (domain.ToolOutput, error) {
	var a struct {
		Question string `json:"question"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return domain.ToolOutput{}, fmt.Errorf("decode arguments: %w", err)
	}
	return domain.TextOutput(a.Question, false), nil
}
