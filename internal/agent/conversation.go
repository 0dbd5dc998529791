package agent

import (
	"fmt"
	"slices"

	"github.com/MrWong99/campusagent/pkg/provider/llm"
)

// Conversation is the ordered message log of one run. It is append-only and
// owned by a single goroutine; it is not safe for concurrent use.
//
// The system message is not part of the log: it is rendered from the tool
// history before every completion and prepended to [Conversation.Messages].
type Conversation struct {
	msgs []llm.Message

	// pending counts unanswered tool calls of the latest assistant message
	// by id.
	pending map[string]int
	open    int
}

// NewConversation returns an empty conversation.
func NewConversation() *Conversation {
	return &Conversation{pending: make(map[string]int)}
}

// AppendUser adds a user turn.
func (c *Conversation) AppendUser(content string) {
	c.msgs = append(c.msgs, llm.Message{Role: llm.RoleUser, Content: content})
}

// AppendSystem adds a system turn to the log.
func (c *Conversation) AppendSystem(content string) {
	c.msgs = append(c.msgs, llm.Message{Role: llm.RoleSystem, Content: content})
}

// AppendAssistant adds an assistant turn. Every call in calls must be answered
// with [Conversation.AppendTool] before the next completion. Appending a new
// assistant turn while calls are still unanswered is an error.
func (c *Conversation) AppendAssistant(content string, calls []llm.ToolCall) error {
	if c.open > 0 {
		return fmt.Errorf("agent: %d tool calls of the previous assistant turn are unanswered", c.open)
	}
	c.msgs = append(c.msgs, llm.Message{
		Role:      llm.RoleAssistant,
		Content:   content,
		ToolCalls: slices.Clone(calls),
	})
	clear(c.pending)
	for _, call := range calls {
		c.pending[call.ID]++
	}
	c.open = len(calls)
	return nil
}

// AppendTool answers the pending tool call id with content. An id that the
// latest assistant turn did not issue, or that is already answered, is an
// error.
func (c *Conversation) AppendTool(id, content string) error {
	if c.pending[id] == 0 {
		return fmt.Errorf("agent: tool result for unknown or answered call %q", id)
	}
	c.pending[id]--
	c.open--
	c.msgs = append(c.msgs, llm.Message{Role: llm.RoleTool, Content: content, ToolCallID: id})
	return nil
}

// Pending returns the number of tool calls still waiting for a result.
func (c *Conversation) Pending() int { return c.open }

// Len returns the number of messages in the log.
func (c *Conversation) Len() int { return len(c.msgs) }

// Messages returns a copy of the log.
func (c *Conversation) Messages() []llm.Message {
	out := make([]llm.Message, len(c.msgs))
	for i, m := range c.msgs {
		m.ToolCalls = slices.Clone(m.ToolCalls)
		out[i] = m
	}
	return out
}
