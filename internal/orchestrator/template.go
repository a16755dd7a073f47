package orchestrator

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// promptEngine renders system/user prompt templates with the same
// variable-substitution conventions as the rest of the codebase's
// template tooling: Go's text/template with a small helper FuncMap,
// rather than a bespoke conditional-block parser.
type promptEngine struct {
	funcs template.FuncMap
}

func newPromptEngine() *promptEngine {
	return &promptEngine{funcs: template.FuncMap{
		"join": strings.Join,
		"default": func(def, value string) string {
			if value == "" {
				return def
			}
			return value
		},
	}}
}

// render executes tmplStr against data, returning a parse/execute error
// wrapped with the template's purpose for easier debugging.
func (e *promptEngine) render(name, tmplStr string, data any) (string, error) {
	if strings.TrimSpace(tmplStr) == "" {
		return "", nil
	}
	t, err := template.New(name).Funcs(e.funcs).Parse(tmplStr)
	if err != nil {
		return "", fmt.Errorf("parse %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute %s template: %w", name, err)
	}
	return buf.String(), nil
}

// systemPromptData is the set of variables made available to an agent's
// system prompt template.
type systemPromptData struct {
	Env             map[string]string
	CurrentTime     string
	Files           []string
	ToolInformation string
	ToolSupported   bool
	Variables       map[string]any
	CustomRules     string
}

// userPromptData is made available to the user prompt template. Mode is
// "task" for the first user turn in a conversation and "feedback"
// thereafter.
type userPromptData struct {
	Mode  string
	Text  string
	Agent string
}

func defaultSystemPromptTemplate() string {
	return `You are an autonomous coding agent.
{{if .ToolSupported}}You have access to tools; call them directly.{{else}}{{.ToolInformation}}{{end}}
Current time: {{.CurrentTime}}
{{if .CustomRules}}Project rules:
{{.CustomRules}}{{end}}`
}

func defaultUserPromptTemplate() string {
	return `{{if eq .Mode "task"}}Task: {{.Text}}{{else}}Feedback: {{.Text}}{{end}}`
}

func defaultContinuationPrompt() string {
	return "No tool was called and the task is not complete. Call a tool to make progress, or call attempt_completion if the task is done."
}

func toolInformationBlock(names []string) string {
	if len(names) == 0 {
		return "No tools are registered for this agent."
	}
	return "Available tools (no native tool-calling support; emit a <forge_tool_call> block): " + strings.Join(names, ", ")
}
