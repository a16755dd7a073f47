package toolexec

import (
	"github.com/forgecore/agentcore/internal/snapshot"
)

// Config bundles what every stock Handler needs to construct.
type Config struct {
	Workspace    Workspace
	Snapshots    *snapshot.Store
	HTTPClient   httpGetter
	ShellLimits  ShellLimits
	Shell        []string
	MaxReadBytes int
	MaxFetchBytes int
}

// RegisterDefaults registers the full stock handler set — fs_read,
// fs_create, fs_patch, fs_search, fs_remove, fs_undo, net_fetch, shell,
// followup, attempt_completion, and the task_list_* family — onto e.
func RegisterDefaults(e *Executor, cfg Config) error {
	handlers := []Handler{
		NewReadHandler(cfg.Workspace, cfg.MaxReadBytes),
		NewCreateHandler(cfg.Workspace, cfg.Snapshots),
		NewPatchHandler(cfg.Workspace, cfg.Snapshots),
		NewSearchHandler(cfg.Workspace),
		NewRemoveHandler(cfg.Workspace, cfg.Snapshots),
		NewUndoHandler(cfg.Workspace, cfg.Snapshots),
		NewShellHandler(cfg.Workspace, cfg.ShellLimits, cfg.Shell),
		FollowupHandler{},
		NewCompletionHandler(),
		NewTodoAppendHandler(),
		NewTodoUpdateHandler(),
		NewTodoListHandler(),
		NewTodoClearHandler(),
	}
	if cfg.HTTPClient != nil {
		handlers = append(handlers, NewFetchHandler(cfg.HTTPClient, cfg.MaxFetchBytes))
	}
	for _, h := range handlers {
		if err := e.Register(h); err != nil {
			return err
		}
	}
	return nil
}
