package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/forgecore/agentcore/internal/snapshot"
	"github.com/forgecore/agentcore/pkg/domain"
)

// snapshotBeforeWrite captures resolved's current content into snaps
// before a mutating handler overwrites or removes it, so fs_undo has
// something to restore to. A missing file (the common fs_create case)
// is not an error here — there is nothing to snapshot yet.
func snapshotBeforeWrite(snaps *snapshot.Store, resolved string) error {
	if snaps == nil {
		return nil
	}
	if _, err := os.Stat(resolved); os.IsNotExist(err) {
		return nil
	}
	if _, err := snaps.Create(resolved); err != nil {
		return fmt.Errorf("snapshot before write: %w", err)
	}
	return nil
}

// CreateHandler implements fs_create: write a new file, or overwrite an
// existing one, with the given content.
type CreateHandler struct {
	workspace Workspace
	snaps     *snapshot.Store
}

// NewCreateHandler builds a fs_create handler scoped to workspace. snaps
// may be nil, in which case overwriting an existing file is not undoable.
func NewCreateHandler(workspace Workspace, snaps *snapshot.Store) *CreateHandler {
	return &CreateHandler{workspace: workspace, snaps: snaps}
}

func (h *CreateHandler) Name() domain.ToolName { return "fs_create" }
func (h *CreateHandler) Description() string {
	return "Create a file in the workspace, overwriting it if it already exists."
}
func (h *CreateHandler) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string"},
			"content": {"type": "string"}
		},
		"required": ["path", "content"]
	}`)
}

type createArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (h *CreateHandler) Operation(args json.RawMessage) (domain.Operation, bool) {
	var a createArgs
	_ = json.Unmarshal(args, &a)
	return domain.Operation{Kind: domain.OpWrite, Path: a.Path, Cwd: h.workspace.Root}, true
}

func (h *CreateHandler) Execute(ctx context.Context, args json.RawMessage) (domain.ToolOutput, error) {
	var a createArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return domain.ToolOutput{}, fmt.Errorf("decode arguments: %w", err)
	}
	resolved, err := h.workspace.Resolve(a.Path)
	if err != nil {
		return domain.TextOutput(err.Error(), true), nil
	}
	if err := snapshotBeforeWrite(h.snaps, resolved); err != nil {
		return domain.TextOutput(err.Error(), true), nil
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return domain.TextOutput(fmt.Sprintf("create parent directories: %v", err), true), nil
	}
	if err := os.WriteFile(resolved, []byte(a.Content), 0o644); err != nil {
		return domain.TextOutput(fmt.Sprintf("write file: %v", err), true), nil
	}
	conv := ConversationFromContext(ctx)
	if conv != nil {
		conv.AddFileOperation(domain.FileOperation{Path: a.Path, Kind: "create"})
	}
	return domain.TextOutput(fmt.Sprintf("created %s (%d bytes)", a.Path, len(a.Content)), false), nil
}

// PatchHandler implements fs_patch: replace the first occurrence of a
// literal search string with a replacement, the minimal edit primitive a
// model can reliably emit without a full diff/patch format.
type PatchHandler struct {
	workspace Workspace
	snaps     *snapshot.Store
}

// NewPatchHandler builds a fs_patch handler scoped to workspace.
func NewPatchHandler(workspace Workspace, snaps *snapshot.Store) *PatchHandler {
	return &PatchHandler{workspace: workspace, snaps: snaps}
}

func (h *PatchHandler) Name() domain.ToolName { return "fs_patch" }
func (h *PatchHandler) Description() string {
	return "Replace the first occurrence of search with replace in a workspace file."
}
func (h *PatchHandler) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string"},
			"search": {"type": "string"},
			"replace": {"type": "string"}
		},
		"required": ["path", "search", "replace"]
	}`)
}

type patchArgs struct {
	Path    string `json:"path"`
	Search  string `json:"search"`
	Replace string `json:"replace"`
}

func (h *PatchHandler) Operation(args json.RawMessage) (domain.Operation, bool) {
	var a patchArgs
	_ = json.Unmarshal(args, &a)
	return domain.Operation{Kind: domain.OpWrite, Path: a.Path, Cwd: h.workspace.Root}, true
}

func (h *PatchHandler) Execute(ctx context.Context, args json.RawMessage) (domain.ToolOutput, error) {
	var a patchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return domain.ToolOutput{}, fmt.Errorf("decode arguments: %w", err)
	}
	resolved, err := h.workspace.Resolve(a.Path)
	if err != nil {
		return domain.TextOutput(err.Error(), true), nil
	}
	original, err := os.ReadFile(resolved)
	if err != nil {
		return domain.TextOutput(fmt.Sprintf("read file: %v", err), true), nil
	}
	if !strings.Contains(string(original), a.Search) {
		return domain.TextOutput("search text not found in file", true), nil
	}
	if err := snapshotBeforeWrite(h.snaps, resolved); err != nil {
		return domain.TextOutput(err.Error(), true), nil
	}
	patched := strings.Replace(string(original), a.Search, a.Replace, 1)
	if err := os.WriteFile(resolved, []byte(patched), 0o644); err != nil {
		return domain.TextOutput(fmt.Sprintf("write file: %v", err), true), nil
	}
	conv := ConversationFromContext(ctx)
	if conv != nil {
		conv.AddFileOperation(domain.FileOperation{Path: a.Path, Kind: "patch"})
	}
	return domain.TextOutput(fmt.Sprintf("patched %s", a.Path), false), nil
}

// RemoveHandler implements fs_remove: delete a file from the workspace.
type RemoveHandler struct {
	workspace Workspace
	snaps     *snapshot.Store
}

// NewRemoveHandler builds a fs_remove handler scoped to workspace.
func NewRemoveHandler(workspace Workspace, snaps *snapshot.Store) *RemoveHandler {
	return &RemoveHandler{workspace: workspace, snaps: snaps}
}

func (h *RemoveHandler) Name() domain.ToolName { return "fs_remove" }
func (h *RemoveHandler) Description() string   { return "Remove a file from the workspace." }
func (h *RemoveHandler) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`)
}

type removeArgs struct {
	Path string `json:"path"`
}

func (h *RemoveHandler) Operation(args json.RawMessage) (domain.Operation, bool) {
	var a removeArgs
	_ = json.Unmarshal(args, &a)
	return domain.Operation{Kind: domain.OpWrite, Path: a.Path, Cwd: h.workspace.Root}, true
}

func (h *RemoveHandler) Execute(ctx context.Context, args json.RawMessage) (domain.ToolOutput, error) {
	var a removeArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return domain.ToolOutput{}, fmt.Errorf("decode arguments: %w", err)
	}
	resolved, err := h.workspace.Resolve(a.Path)
	if err != nil {
		return domain.TextOutput(err.Error(), true), nil
	}
	if err := snapshotBeforeWrite(h.snaps, resolved); err != nil {
		return domain.TextOutput(err.Error(), true), nil
	}
	if err := os.Remove(resolved); err != nil {
		return domain.TextOutput(fmt.Sprintf("remove file: %v", err), true), nil
	}
	conv := ConversationFromContext(ctx)
	if conv != nil {
		conv.AddFileOperation(domain.FileOperation{Path: a.Path, Kind: "remove"})
	}
	return domain.TextOutput(fmt.Sprintf("removed %s", a.Path), false), nil
}

// UndoHandler implements fs_undo: restore a file to the state captured by
// its most recent snapshot, consuming that snapshot so repeated calls
// step further back in history.
type UndoHandler struct {
	workspace Workspace
	snaps     *snapshot.Store
}

// NewUndoHandler builds a fs_undo handler backed by snaps.
func NewUndoHandler(workspace Workspace, snaps *snapshot.Store) *UndoHandler {
	return &UndoHandler{workspace: workspace, snaps: snaps}
}

func (h *UndoHandler) Name() domain.ToolName { return "fs_undo" }
func (h *UndoHandler) Description() string {
	return "Revert a workspace file to its state before the most recent write."
}
func (h *UndoHandler) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`)
}

type undoArgs struct {
	Path string `json:"path"`
}

func (h *UndoHandler) Operation(args json.RawMessage) (domain.Operation, bool) {
	var a undoArgs
	_ = json.Unmarshal(args, &a)
	return domain.Operation{Kind: domain.OpWrite, Path: a.Path, Cwd: h.workspace.Root}, true
}

func (h *UndoHandler) Execute(ctx context.Context, args json.RawMessage) (domain.ToolOutput, error) {
	var a undoArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return domain.ToolOutput{}, fmt.Errorf("decode arguments: %w", err)
	}
	if h.snaps == nil {
		return domain.TextOutput("no snapshot store configured", true), nil
	}
	resolved, err := h.workspace.Resolve(a.Path)
	if err != nil {
		return domain.TextOutput(err.Error(), true), nil
	}
	if err := h.snaps.RestoreNewest(resolved); err != nil {
		return domain.TextOutput(fmt.Sprintf("undo %s: %v", a.Path, err), true), nil
	}
	return domain.TextOutput(fmt.Sprintf("reverted %s to its prior snapshot", a.Path), false), nil
}
