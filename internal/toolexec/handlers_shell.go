package toolexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/forgecore/agentcore/pkg/domain"
)

// ShellLimits bounds how much of a command's output is kept. Lines longer
// than MaxLineLength are truncated; once the combined output exceeds
// MaxPrefixLength+MaxSuffixLength, the middle is elided and only the head
// and tail are kept.
type ShellLimits struct {
	MaxLineLength  int
	MaxPrefixLength int
	MaxSuffixLength int
	Timeout         time.Duration
}

// DefaultShellLimits mirrors the runtime's stock configuration for inline
// shell output truncation.
func DefaultShellLimits() ShellLimits {
	return ShellLimits{
		MaxLineLength:   2000,
		MaxPrefixLength: 20000,
		MaxSuffixLength: 5000,
		Timeout:         2 * time.Minute,
	}
}

// ShellHandler implements shell: run a command through the system shell in
// a working directory under the workspace. Authorization is entirely the
// Policy Engine's responsibility via the OpExecute Operation this handler
// reports — the handler itself does not sanitize the command string, since
// its purpose is to run a shell-interpreted command the policy has already
// approved.
type ShellHandler struct {
	workspace Workspace
	limits    ShellLimits
	shell     []string // e.g. []string{"/bin/sh", "-c"}
}

// NewShellHandler builds a shell handler scoped to workspace, truncating
// output per limits. shell defaults to {"/bin/sh", "-c"} if nil.
func NewShellHandler(workspace Workspace, limits ShellLimits, shell []string) *ShellHandler {
	if len(shell) == 0 {
		shell = []string{"/bin/sh", "-c"}
	}
	return &ShellHandler{workspace: workspace, limits: limits, shell: shell}
}

func (h *ShellHandler) Name() domain.ToolName { return "shell" }
func (h *ShellHandler) Description() string {
	return "Run a shell command in the workspace and return its output."
}
func (h *ShellHandler) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "string"},
			"cwd": {"type": "string"}
		},
		"required": ["command"]
	}`)
}

type shellArgs struct {
	Command string `json:"command"`
	Cwd     string `json:"cwd"`
}

func (h *ShellHandler) Operation(args json.RawMessage) (domain.Operation, bool) {
	var a shellArgs
	_ = json.Unmarshal(args, &a)
	return domain.Operation{Kind: domain.OpExecute, Command: a.Command, Cwd: h.resolveCwd(a.Cwd)}, true
}

func (h *ShellHandler) resolveCwd(requested string) string {
	if requested == "" {
		return h.workspace.Root
	}
	resolved, err := h.workspace.Resolve(requested)
	if err != nil {
		return h.workspace.Root
	}
	return resolved
}

func (h *ShellHandler) Execute(ctx context.Context, args json.RawMessage) (domain.ToolOutput, error) {
	var a shellArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return domain.ToolOutput{}, fmt.Errorf("decode arguments: %w", err)
	}

	timeout := h.limits.Timeout
	if timeout <= 0 {
		timeout = DefaultShellLimits().Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	argv := append(append([]string{}, h.shell[1:]...), a.Command)
	cmd := exec.CommandContext(runCtx, h.shell[0], argv...)
	cmd.Dir = h.resolveCwd(a.Cwd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	combined := stdout.String()
	if stderr.Len() > 0 {
		if combined != "" {
			combined += "\n"
		}
		combined += stderr.String()
	}
	combined = truncateLines(combined, h.limits.MaxLineLength)
	combined = truncateMiddle(combined, h.limits.MaxPrefixLength, h.limits.MaxSuffixLength)

	exitCode := 0
	isError := false
	if runCtx.Err() != nil {
		isError = true
		combined = fmt.Sprintf("%s\n[command timed out after %s]", combined, timeout)
	} else if exitErr, ok := runErr.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
		isError = true
	} else if runErr != nil {
		return domain.ToolOutput{}, fmt.Errorf("run command: %w", runErr)
	}

	return domain.TextOutput(fmt.Sprintf("exit_code=%d\n%s", exitCode, combined), isError), nil
}

func truncateLines(text string, maxLineLength int) string {
	if maxLineLength <= 0 {
		return text
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if len(line) > maxLineLength {
			lines[i] = line[:maxLineLength] + "...[truncated]"
		}
	}
	return strings.Join(lines, "\n")
}

func truncateMiddle(text string, maxPrefix, maxSuffix int) string {
	if maxPrefix <= 0 && maxSuffix <= 0 {
		return text
	}
	limit := maxPrefix + maxSuffix
	if limit <= 0 || len(text) <= limit {
		return text
	}
	prefix := text[:maxPrefix]
	suffix := text[len(text)-maxSuffix:]
	omitted := len(text) - len(prefix) - len(suffix)
	return fmt.Sprintf("%s\n...[%d bytes omitted]...\n%s", prefix, omitted, suffix)
}
