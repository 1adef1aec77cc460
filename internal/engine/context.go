package engine

import (
	"fmt"
	"strings"

	"github.com/quorumlabs/quorum/internal/discussion"
	"github.com/quorumlabs/quorum/internal/gateway"
)

const (
	truncateTarget = 2000
	headRatio      = 0.70
	tailRatio      = 0.25
	elisionMarker  = "\n...[earlier content elided]...\n"
)

// buildContext assembles the ordered message list for one acting model:
// a system message, then every prior turn mapped into the actor's
// perspective. The most recent turns keep their full text; older turns use
// the cached digest when one exists, else middle-truncation.
func (e *Engine) buildContext(d *discussion.Discussion, turns []discussion.Turn, actingRole discussion.Role, actingName string) []gateway.Message {
	msgs := make([]gateway.Message, 0, len(turns)+1)
	msgs = append(msgs, gateway.Message{
		Role:    gateway.RoleSystem,
		Content: systemPrompt(d, actingRole, actingName),
	})

	fullFrom := len(turns) - e.opts.RecentFullTurns
	for i, t := range turns {
		content := t.Content
		if i < fullFrom {
			if digest, ok := e.summaries.get(d.ID, t.ID); ok {
				content = summaryNotePrefix + digest
			} else {
				content = truncateMiddle(content, truncateTarget)
			}
		}

		if authoredBy(t, actingRole, actingName) {
			// The model's own prior turns come back as assistant messages,
			// content untouched.
			msgs = append(msgs, gateway.Message{Role: gateway.RoleAssistant, Content: content})
			continue
		}
		msgs = append(msgs, gateway.Message{
			Role:    gateway.RoleUser,
			Content: speakerTag(t) + " " + content,
		})
	}
	return msgs
}

// authoredBy reports whether the turn was written by the current actor.
// Guests additionally need a matching display name: two guests share a role
// but must never see each other's turns as their own.
func authoredBy(t discussion.Turn, actingRole discussion.Role, actingName string) bool {
	if t.Role != actingRole {
		return false
	}
	if actingRole == discussion.RoleGuest {
		return t.ModelName == actingName
	}
	return true
}

// speakerTag renders the bracketed attribution prefix for a foreign turn, so
// the model can tell speakers apart in the flattened transcript.
func speakerTag(t discussion.Turn) string {
	switch t.Role {
	case discussion.RoleHost:
		return "[Host]"
	case discussion.RoleJudge:
		if t.ModelName != "" {
			return fmt.Sprintf("[Judge %s]", t.ModelName)
		}
		return "[Judge]"
	case discussion.RoleGuest:
		if t.ModelName != "" {
			return fmt.Sprintf("[Guest %s]", t.ModelName)
		}
		return "[Guest]"
	default:
		return "[System]"
	}
}

// truncateMiddle shortens s to roughly target runes, keeping the head and
// tail with an elision marker in between. Rune-based so multi-byte text is
// never split.
func truncateMiddle(s string, target int) string {
	runes := []rune(s)
	if len(runes) <= target {
		return s
	}
	head := int(float64(target) * headRatio)
	tail := int(float64(target) * tailRatio)
	var b strings.Builder
	b.WriteString(string(runes[:head]))
	b.WriteString(elisionMarker)
	b.WriteString(string(runes[len(runes)-tail:]))
	return b.String()
}
