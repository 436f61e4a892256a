package agent

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/neotalk/edge-ai/pkg/models"
)

// TokenCounter estimates token counts for context budgeting. It prefers a
// real BPE encoding and falls back to a character heuristic when the
// encoding is unavailable (offline environments).
type TokenCounter struct {
	once     sync.Once
	encoding *tiktoken.Tiktoken
}

// NewTokenCounter creates a lazy token counter.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{}
}

// Count returns the approximate token count of text.
func (c *TokenCounter) Count(text string) int {
	c.once.Do(func() {
		if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			c.encoding = enc
		}
	})
	if c.encoding != nil {
		return len(c.encoding.Encode(text, nil, nil))
	}
	// Rough heuristic: one token per four characters.
	n := len(text)/4 + 1
	return n
}

// CountMessage returns the token weight of a message including a small
// per-message overhead.
func (c *TokenCounter) CountMessage(msg models.Message) int {
	total := 4 + c.Count(msg.Text())
	for _, tc := range msg.ToolCalls {
		total += c.Count(tc.Name) + c.Count(string(tc.ArgumentsJSON()))
	}
	return total
}

// truncateMarker flags a shortened tool result body.
const truncateMarker = "\n...[truncated]"

// BuildPrompt selects the system prompt plus the most recent messages that
// fit the token budget. The most recent keepRecentToolResults tool results
// are always kept whole; when even those overflow the budget, their bodies
// are truncated rather than dropped.
func BuildPrompt(counter *TokenCounter, systemPrompt string, history []models.Message, maxContextTokens, keepRecentToolResults int) []models.Message {
	budget := maxContextTokens
	var system *models.Message
	if systemPrompt != "" {
		system = &models.Message{Role: models.RoleSystem, Content: systemPrompt}
		budget -= counter.CountMessage(*system)
	}

	// Identify the protected tool results, newest first.
	protected := make(map[int]bool)
	kept := 0
	for i := len(history) - 1; i >= 0 && kept < keepRecentToolResults; i-- {
		if history[i].Role == models.RoleTool {
			protected[i] = true
			kept++
		}
	}

	// Walk backwards, taking messages while they fit. Protected tool
	// results are taken regardless, truncated if needed.
	selected := make([]models.Message, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		cost := counter.CountMessage(msg)
		if cost <= budget {
			budget -= cost
			selected = append(selected, msg)
			continue
		}
		if protected[i] {
			truncated := truncateToolResult(counter, msg, budget)
			budget -= counter.CountMessage(truncated)
			selected = append(selected, truncated)
			continue
		}
		// An unprotected non-tool message that does not fit stops the walk:
		// everything earlier is at least as old. Unprotected tool results
		// that do not fit are dropped and the walk goes on.
		if msg.Role != models.RoleTool {
			break
		}
	}

	// Reverse into chronological order.
	out := make([]models.Message, 0, len(selected)+1)
	if system != nil {
		out = append(out, *system)
	}
	for i := len(selected) - 1; i >= 0; i-- {
		out = append(out, selected[i])
	}
	return out
}

// truncateToolResult shrinks a tool result body to roughly fit the
// remaining budget, never dropping the message itself.
func truncateToolResult(counter *TokenCounter, msg models.Message, budget int) models.Message {
	if budget < 16 {
		budget = 16
	}
	text := msg.Text()
	// Binary-ish shrink: cut the body until it fits.
	for counter.Count(text)+8 > budget && len(text) > 32 {
		text = text[:len(text)/2]
	}
	out := msg
	out.Content = text + truncateMarker
	out.Parts = nil
	return out
}
