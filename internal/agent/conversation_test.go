package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrWong99/campusagent/pkg/provider/llm"
)

func TestConversation_ToolCallLinkage(t *testing.T) {
	t.Parallel()

	c := NewConversation()
	c.AppendUser("what is new on campus?")
	require.NoError(t, c.AppendAssistant("", []llm.ToolCall{
		{ID: "a", Name: "search_jiaodian_news"},
		{ID: "b", Name: "google_search"},
	}))
	assert.Equal(t, 2, c.Pending())

	// Another assistant turn must wait for both answers.
	assert.Error(t, c.AppendAssistant("too early", nil))

	require.NoError(t, c.AppendTool("b", `{"success":true,"data":[]}`))
	assert.Error(t, c.AppendTool("b", "again"), "answered twice")
	assert.Error(t, c.AppendTool("zzz", "unknown"), "never issued")
	require.NoError(t, c.AppendTool("a", `{"success":false,"error":"x"}`))
	assert.Zero(t, c.Pending())

	require.NoError(t, c.AppendAssistant("done", nil))
	msgs := c.Messages()
	require.Len(t, msgs, 5)
	assert.Equal(t, []llm.Role{llm.RoleUser, llm.RoleAssistant, llm.RoleTool, llm.RoleTool, llm.RoleAssistant},
		[]llm.Role{msgs[0].Role, msgs[1].Role, msgs[2].Role, msgs[3].Role, msgs[4].Role})
	assert.Equal(t, "b", msgs[2].ToolCallID)
	assert.Equal(t, "a", msgs[3].ToolCallID)
}

func TestConversation_StaleIDsAfterNewTurn(t *testing.T) {
	t.Parallel()

	c := NewConversation()
	require.NoError(t, c.AppendAssistant("", []llm.ToolCall{{ID: "a"}}))
	require.NoError(t, c.AppendTool("a", "x"))
	require.NoError(t, c.AppendAssistant("", []llm.ToolCall{{ID: "b"}}))
	assert.Error(t, c.AppendTool("a", "late"), "ids of an older turn are not pending")
}

func TestConversation_MessagesIsACopy(t *testing.T) {
	t.Parallel()

	c := NewConversation()
	c.AppendSystem("extra context")
	require.NoError(t, c.AppendAssistant("", []llm.ToolCall{{ID: "a", Name: "x"}}))

	msgs := c.Messages()
	msgs[0].Content = "changed"
	msgs[1].ToolCalls[0].Name = "changed"

	again := c.Messages()
	assert.Equal(t, "extra context", again[0].Content)
	assert.Equal(t, llm.RoleSystem, again[0].Role)
	assert.Equal(t, "x", again[1].ToolCalls[0].Name)
	assert.Equal(t, 2, c.Len())
}
