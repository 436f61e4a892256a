package agent

import (
	"strings"
	"testing"

	"github.com/neotalk/edge-ai/pkg/models"
)

func TestBuildPromptKeepsSystemAndRecent(t *testing.T) {
	counter := NewTokenCounter()
	history := []models.Message{
		{Role: models.RoleUser, Content: "first question"},
		{Role: models.RoleAssistant, Content: "first answer"},
		{Role: models.RoleUser, Content: "second question"},
	}
	prompt := BuildPrompt(counter, "system prompt", history, 4096, 0)
	if prompt[0].Role != models.RoleSystem {
		t.Errorf("first message = %+v", prompt[0])
	}
	if len(prompt) != 4 {
		t.Errorf("prompt has %d messages, want all 4", len(prompt))
	}
	if prompt[len(prompt)-1].Content != "second question" {
		t.Error("prompt must end with the newest message")
	}
}

func TestBuildPromptDropsOldWhenOverBudget(t *testing.T) {
	counter := NewTokenCounter()
	long := strings.Repeat("wordy filler content ", 100)
	history := []models.Message{
		{Role: models.RoleUser, Content: long},
		{Role: models.RoleAssistant, Content: long},
		{Role: models.RoleUser, Content: "short recent question"},
	}
	prompt := BuildPrompt(counter, "", history, 300, 0)
	if len(prompt) == len(history) {
		t.Error("over-budget history must shrink")
	}
	if prompt[len(prompt)-1].Content != "short recent question" {
		t.Error("newest message must survive")
	}
}

func TestBuildPromptProtectsRecentToolResults(t *testing.T) {
	counter := NewTokenCounter()
	big := strings.Repeat("tool output data ", 200)
	history := []models.Message{
		{Role: models.RoleUser, Content: "query"},
		{Role: models.RoleTool, ToolCallName: "old.tool", Content: big},
		{Role: models.RoleTool, ToolCallName: "new.tool", Content: big},
		{Role: models.RoleUser, Content: "follow up"},
	}
	prompt := BuildPrompt(counter, "", history, 200, 1)

	var sawNewTool bool
	for _, msg := range prompt {
		if msg.Role == models.RoleTool && msg.ToolCallName == "new.tool" {
			sawNewTool = true
			if !strings.HasSuffix(msg.Content, truncateMarker) {
				t.Error("oversized protected tool result should be truncated, not dropped")
			}
		}
		if msg.ToolCallName == "old.tool" && len(msg.Content) == len(big) {
			t.Error("unprotected oversized tool result should not survive whole")
		}
	}
	if !sawNewTool {
		t.Error("most recent tool result must be kept")
	}
}

func TestTokenCounterMonotonic(t *testing.T) {
	counter := NewTokenCounter()
	short := counter.Count("hi")
	long := counter.Count(strings.Repeat("hello world ", 50))
	if long <= short {
		t.Errorf("longer text should count more tokens: %d vs %d", long, short)
	}
}
