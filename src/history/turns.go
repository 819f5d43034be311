package history

import (
	"unicode/utf8"

	"github.com/square-key-labs/omni-ai/src/services"
	"github.com/square-key-labs/omni-ai/src/store"
)

// Chronological turns a newest-first store read into display order and drops
// empty turns.
func Chronological(newestFirst []store.Turn) []store.Turn {
	out := make([]store.Turn, 0, len(newestFirst))
	for i := len(newestFirst) - 1; i >= 0; i-- {
		if newestFirst[i].Content == "" {
			continue
		}
		out = append(out, newestFirst[i])
	}
	return out
}

// Messages maps turns onto generation roles. Agent turns become assistant
// messages; anything unknown is treated as user text.
func Messages(turns []store.Turn) []services.LLMMessage {
	out := make([]services.LLMMessage, len(turns))
	for i, t := range turns {
		out[i] = services.LLMMessage{Role: llmRole(t.Role), Content: t.Content}
	}
	return out
}

func llmRole(r store.Role) string {
	switch r {
	case store.RoleAgent, "assistant":
		return services.RoleAssistant
	case store.RoleSystem:
		return services.RoleSystem
	default:
		return services.RoleUser
	}
}

// EstimateTokens approximates the token count as characters / 4.
func EstimateTokens(turns []store.Turn) int {
	chars := 0
	for _, t := range turns {
		chars += utf8.RuneCountInString(t.Content)
	}
	return chars / 4
}

// WithoutCurrent drops the trailing user turn when it is the message being
// answered, so the prompt carries it once.
func WithoutCurrent(turns []store.Turn, current string) []store.Turn {
	if n := len(turns); n > 0 && turns[n-1].Role == store.RoleUser && turns[n-1].Content == current {
		return turns[:n-1]
	}
	return turns
}
