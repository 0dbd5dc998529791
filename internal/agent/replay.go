package agent

import (
	"fmt"

	"github.com/MrWong99/campusagent/pkg/provider/llm"
)

// Turn is one completion of a run and the tool results it led to.
type Turn struct {
	// Instruction is a user message sent before the completion. Only the
	// forced final turn has one.
	Instruction string

	Assistant llm.Message

	// Results are the encoded tool results in the order they were appended.
	Results []TurnResult
}

// TurnResult is one tool message of a [Turn].
type TurnResult struct {
	CallID  string
	Content string
}

// Rebuild replays recorded turns onto a new conversation seeded with query.
// It fails when a turn answers a call its assistant message did not issue or
// leaves one unanswered.
func Rebuild(query string, turns []Turn) (*Conversation, error) {
	c := NewConversation()
	c.AppendUser(query)
	for i, t := range turns {
		if t.Instruction != "" {
			c.AppendUser(t.Instruction)
		}
		if err := c.AppendAssistant(t.Assistant.Content, t.Assistant.ToolCalls); err != nil {
			return nil, fmt.Errorf("agent: replay turn %d: %w", i, err)
		}
		for _, res := range t.Results {
			if err := c.AppendTool(res.CallID, res.Content); err != nil {
				return nil, fmt.Errorf("agent: replay turn %d: %w", i, err)
			}
		}
	}
	if n := c.Pending(); n > 0 {
		return nil, fmt.Errorf("agent: replay: %d tool calls unanswered", n)
	}
	return c, nil
}
