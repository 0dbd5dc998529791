package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/MrWong99/campusagent/internal/toolhost"
)

// DefaultHistoryWindow is how many of the most recent tool calls the system
// prompt shows.
const DefaultHistoryWindow = 5

// noToolCalls fills the tool results slot before the first tool call.
const noToolCalls = "No tool calls yet."

// DefaultSystemPrompt is the system prompt template used when none is
// configured. It receives a [PromptData].
const DefaultSystemPrompt = `You are the campus assistant of Shenzhen Technology University (SZTU).
Answer questions from students and staff about campus news, the library, the campus card, grades and anything else a web search can resolve.
Today is {{.Date}}.

Available tools: {{join .Tools ", "}}.

Rules:
1. Call tools whenever the answer depends on current or campus-specific facts. Independent lookups may be requested together in one turn.
2. Base your answer only on tool results and say so when they are incomplete or failed.
3. Do not call the same tool with the same arguments twice.
4. Answer in the language of the question.

Most recent tool calls:
{{.ToolResults}}`

// DefaultFinalInstruction is the user message that asks for an answer once
// the iteration ceiling is reached.
const DefaultFinalInstruction = "Please give the user an accurate, complete answer based on the tool call results above."

// HistoryEntry records one dispatched tool call for the system prompt.
type HistoryEntry struct {
	Tool      string          `json:"tool"`
	Arguments map[string]any  `json:"arguments"`
	Result    json.RawMessage `json:"result"`
}

func newHistoryEntry(o toolhost.Outcome) HistoryEntry {
	args := o.Args
	if args == nil {
		args = map[string]any{}
	}
	return HistoryEntry{
		Tool:      o.Call.Name,
		Arguments: args,
		Result:    json.RawMessage(o.Result.Encode()),
	}
}

// PromptData is the value a system prompt template is executed with.
type PromptData struct {
	// ToolResults is the indented JSON of the windowed tool history.
	ToolResults string
	// Tools lists the registered tool names.
	Tools []string
	// Date is the current date as YYYY-MM-DD.
	Date string
}

// Prompt renders the per-iteration system message.
type Prompt struct {
	tmpl   *template.Template
	window int
	tools  []string
	now    func() time.Time
}

// NewPrompt parses text as a system prompt template. window caps how many
// history entries are rendered; values below 1 select [DefaultHistoryWindow].
func NewPrompt(text string, window int, tools []string) (*Prompt, error) {
	if window < 1 {
		window = DefaultHistoryWindow
	}
	tmpl, err := template.New("system").
		Funcs(template.FuncMap{"join": strings.Join}).
		Option("missingkey=error").
		Parse(text)
	if err != nil {
		return nil, fmt.Errorf("agent: parse system prompt: %w", err)
	}
	p := &Prompt{tmpl: tmpl, window: window, tools: tools, now: time.Now}
	if _, err := p.Render(nil); err != nil {
		return nil, err
	}
	return p, nil
}

// Render builds the system message from the last window entries of history.
func (p *Prompt) Render(history []HistoryEntry) (string, error) {
	results := noToolCalls
	if len(history) > 0 {
		recent := history[max(0, len(history)-p.window):]
		data, err := json.MarshalIndent(recent, "", "  ")
		if err != nil {
			return "", fmt.Errorf("agent: encode tool history: %w", err)
		}
		results = string(data)
	}

	var sb strings.Builder
	err := p.tmpl.Execute(&sb, PromptData{
		ToolResults: results,
		Tools:       p.tools,
		Date:        p.now().Format(time.DateOnly),
	})
	if err != nil {
		return "", fmt.Errorf("agent: render system prompt: %w", err)
	}
	return sb.String(), nil
}
