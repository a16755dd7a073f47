package toolexec

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/forgecore/agentcore/pkg/domain"
)

const defaultSearchMaxResults = 200

// SearchHandler implements fs_search: a regexp grep over files under the
// workspace, rooted at an optional subpath.
type SearchHandler struct {
	workspace Workspace
}

// NewSearchHandler builds a fs_search handler scoped to workspace.
func NewSearchHandler(workspace Workspace) *SearchHandler {
	return &SearchHandler{workspace: workspace}
}

func (h *SearchHandler) Name() domain.ToolName { return "fs_search" }
func (h *SearchHandler) Description() string {
	return "Search files under the workspace for lines matching a regular expression."
}
func (h *SearchHandler) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {"type": "string"},
			"path": {"type": "string"},
			"max_results": {"type": "integer"}
		},
		"required": ["pattern"]
	}`)
}

type searchArgs struct {
	Pattern    string `json:"pattern"`
	Path       string `json:"path"`
	MaxResults int    `json:"max_results"`
}

type searchMatch struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

func (h *SearchHandler) Operation(args json.RawMessage) (domain.Operation, bool) {
	var a searchArgs
	_ = json.Unmarshal(args, &a)
	return domain.Operation{Kind: domain.OpRead, Path: a.Path, Cwd: h.workspace.Root}, true
}

func (h *SearchHandler) Execute(ctx context.Context, args json.RawMessage) (domain.ToolOutput, error) {
	var a searchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return domain.ToolOutput{}, fmt.Errorf("decode arguments: %w", err)
	}
	re, err := regexp.Compile(a.Pattern)
	if err != nil {
		return domain.TextOutput(fmt.Sprintf("invalid pattern: %v", err), true), nil
	}
	maxResults := a.MaxResults
	if maxResults <= 0 {
		maxResults = defaultSearchMaxResults
	}

	root := h.workspace.Root
	if a.Path != "" {
		resolved, err := h.workspace.Resolve(a.Path)
		if err != nil {
			return domain.TextOutput(err.Error(), true), nil
		}
		root = resolved
	}

	var matches []searchMatch
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if len(matches) >= maxResults {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer f.Close()

		rel, err := filepath.Rel(h.workspace.Root, path)
		if err != nil {
			rel = path
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		lineNum := 0
		for scanner.Scan() {
			lineNum++
			line := scanner.Text()
			if re.MatchString(line) {
				matches = append(matches, searchMatch{Path: rel, Line: lineNum, Text: strings.TrimSpace(line)})
				if len(matches) >= maxResults {
					break
				}
			}
		}
		return nil
	})
	if walkErr != nil && walkErr != ctx.Err() {
		return domain.TextOutput(fmt.Sprintf("search failed: %v", walkErr), true), nil
	}

	encoded, err := json.Marshal(matches)
	if err != nil {
		return domain.ToolOutput{}, fmt.Errorf("encode matches: %w", err)
	}
	return domain.TextOutput(string(encoded), false), nil
}
