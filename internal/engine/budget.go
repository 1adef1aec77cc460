package engine

import "github.com/quorumlabs/quorum/internal/gateway"

// Token estimation is a deliberate character-count heuristic, not real
// tokenization: close enough to keep prompts under provider limits with the
// conservative ceilings below.
const (
	charsPerToken      = 3
	messageOverhead    = 12 // per-message wrapping cost in chars
	protectedTailMsgs  = 2
	firstTruncatePass  = 500
	secondTruncatePass = 200
)

// providerBudgets are conservative input ceilings (in estimated tokens) per
// provider prefix, leaving headroom for output.
var providerBudgets = map[string]int{
	"anthropic": 150000,
	"openai":    90000,
	"google":    200000,
	"deepseek":  48000,
	"qwen":      24000,
	"nvidia":    24000,
}

// providerBudget returns the ceiling for a provider; unknown providers get
// the smallest configured ceiling.
func providerBudget(provider string) int {
	if b, ok := providerBudgets[provider]; ok {
		return b
	}
	smallest := 0
	for _, b := range providerBudgets {
		if smallest == 0 || b < smallest {
			smallest = b
		}
	}
	return smallest
}

// estimateTokens approximates the token cost of a message list.
func estimateTokens(msgs []gateway.Message) int {
	chars := 0
	for _, m := range msgs {
		chars += len(m.Content) + messageOverhead
	}
	return chars / charsPerToken
}

// trimToBudget progressively compresses msgs until the estimate fits
// maxTokens. The system prompt and the last two messages are never altered
// or removed; when only those remain the result may still exceed the budget.
func trimToBudget(msgs []gateway.Message, maxTokens int) []gateway.Message {
	if estimateTokens(msgs) <= maxTokens || len(msgs) <= protectedTailMsgs+1 {
		return msgs
	}

	out := make([]gateway.Message, len(msgs))
	copy(out, msgs)
	interiorEnd := func() int { return len(out) - protectedTailMsgs }

	for _, limit := range []int{firstTruncatePass, secondTruncatePass} {
		for i := 1; i < interiorEnd(); i++ {
			if len([]rune(out[i].Content)) > limit {
				out[i].Content = truncateMiddle(out[i].Content, limit)
			}
		}
		if estimateTokens(out) <= maxTokens {
			return out
		}
	}

	// Still over budget: drop interior messages, oldest first.
	for interiorEnd() > 1 && estimateTokens(out) > maxTokens {
		out = append(out[:1], out[2:]...)
	}
	return out
}
