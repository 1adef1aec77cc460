package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/quorumlabs/quorum/internal/discussion"
)

// Canonical verdict markers. The parser additionally accepts the English
// spellings; the judge is instructed to emit these exact forms.
const (
	scoresMarker     = "【置信度评分】"
	conclusionMarker = "【最终结论】"
)

const verdictFormatBlock = `When and only when you are ready to end the discussion, close your message with a verdict in exactly this format:

` + scoresMarker + `
- <hypothesis>: <score between 0 and 1>
(one line per hypothesis)
` + conclusionMarker + `
<your final conclusion>

Do not emit these markers for any other purpose.`

const searchCapabilityBlock = `You may request a web search by writing [SEARCH: your query] on its own line, up to 5 queries per message. Results will be returned to you before you must answer.`

const summaryNotePrefix = "[Summary of earlier turn] "

var judgeTemplates = map[discussion.Mode]string{
	discussion.ModeDebate:   "You are %s, the judge of a multi-model debate. Steer the discussion: weigh each guest's arguments, press on weak reasoning, and decide when the question is settled enough to conclude.",
	discussion.ModeDocument: "You are %s, the editor-in-chief of a collaborative document effort. Direct the contributors, reconcile conflicting drafts, and decide when the document answers the brief.",
}

var guestTemplates = map[discussion.Mode]string{
	discussion.ModeDebate:   "You are %s, a guest participant in a multi-model debate. Argue your own analysis of the question, engage directly with what the other speakers said, and bring evidence.",
	discussion.ModeDocument: "You are %s, a contributor in a collaborative document effort. Extend and improve the working draft, reconcile your contribution with the other contributors, and be concrete.",
}

// judgeInstructions is the phase table: one user-facing instruction per
// (mode, phase), appended as the final message of a judge context.
var judgeInstructions = map[discussion.Mode]map[RoundPhase]string{
	discussion.ModeDebate: {
		PhaseOpening:   "Open the debate: restate the question, enumerate the hypotheses worth considering, and hand the floor to the guests.",
		PhaseMidRound:  "Review the round so far. Point out where the guests disagree, push on unsupported claims, or conclude now if the question is already settled.",
		PhaseLateRound: "The debate has run long. Evaluate the positions on their current merits and deliver your verdict unless a decisive point is still genuinely open.",
	},
	discussion.ModeDocument: {
		PhaseOpening:   "Open the session: frame the brief, sketch the document structure, and assign the first pass to the contributors.",
		PhaseMidRound:  "Review the draft so far. Flag gaps and contradictions, or conclude now if the document already answers the brief.",
		PhaseLateRound: "The session has run long. Consolidate the draft into its final form and deliver your verdict unless something essential is still missing.",
	},
}

var finalVerdictInstructions = map[discussion.Mode]string{
	discussion.ModeDebate:   "Conclude the debate now. Weigh everything said so far and deliver your verdict immediately, even if some points remain open.",
	discussion.ModeDocument: "Close the session now. Consolidate the current draft and deliver your verdict immediately, even if some sections remain rough.",
}

var guestInstructions = map[discussion.Mode]string{
	discussion.ModeDebate:   "It is your turn to speak. Respond to the judge's direction and the other guests' latest arguments.",
	discussion.ModeDocument: "It is your turn to contribute. Respond to the editor's direction and build on the other contributors' latest passes.",
}

func modeOrDebate(mode discussion.Mode) discussion.Mode {
	if mode == discussion.ModeDocument {
		return mode
	}
	return discussion.ModeDebate
}

func judgeInstruction(mode discussion.Mode, phase RoundPhase) string {
	return judgeInstructions[modeOrDebate(mode)][phase]
}

func finalVerdictInstruction(mode discussion.Mode) string {
	return finalVerdictInstructions[modeOrDebate(mode)]
}

func guestInstruction(mode discussion.Mode) string {
	return guestInstructions[modeOrDebate(mode)]
}

// systemPrompt assembles the leading system message for an acting model:
// role template, current date, then the optional search-capability and
// reference-material blocks.
func systemPrompt(d *discussion.Discussion, role discussion.Role, displayName string) string {
	name := displayName
	if name == "" {
		name = string(role)
	}

	var template string
	if role == discussion.RoleJudge {
		template = judgeTemplates[modeOrDebate(d.Mode)]
	} else {
		template = guestTemplates[modeOrDebate(d.Mode)]
	}

	var b strings.Builder
	fmt.Fprintf(&b, template, name)
	fmt.Fprintf(&b, "\n\nThe question under discussion: %s", d.Question)
	fmt.Fprintf(&b, "\nToday's date: %s", time.Now().Format("2006-01-02"))

	if role == discussion.RoleJudge {
		b.WriteString("\n\n")
		b.WriteString(verdictFormatBlock)
		if d.ConfidenceThreshold > 0 {
			fmt.Fprintf(&b, "\nDeliver the verdict once your confidence in a leading hypothesis reaches %.2f.", d.ConfidenceThreshold)
		}
	}
	if d.SearchEnabled {
		b.WriteString("\n\n")
		b.WriteString(searchCapabilityBlock)
	}
	if len(d.Attachments) > 0 {
		b.WriteString("\n\nReference material provided by the host:")
		for _, a := range d.Attachments {
			fmt.Fprintf(&b, "\n--- %s ---\n%s", a.Name, a.Text)
		}
	}
	return b.String()
}

// summarySystemPrompt instructs the compression model.
func summarySystemPrompt(role discussion.Role, displayName string) string {
	return fmt.Sprintf(`Compress the following debate turn by %s (%s) into a dense digest at 30-40%% of its length. Keep concrete data points, conclusions, open questions, new findings, rebuttals to other speakers, and source URLs. Drop repetition, pleasantries, and methodology narration. Output only the digest.`, displayName, role)
}
