package engine

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Verdict is the judge's terminal output: per-hypothesis confidence scores
// and a conclusion.
type Verdict struct {
	Scores     map[string]float64 `json:"scores"`
	Conclusion string             `json:"conclusion"`
}

// Canonical renders the verdict in the same tagged format the judge is
// instructed to emit. Parsing a canonical rendering yields the verdict back.
func (v *Verdict) Canonical() string {
	labels := make([]string, 0, len(v.Scores))
	for label := range v.Scores {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	var b strings.Builder
	b.WriteString(scoresMarker)
	b.WriteString("\n")
	for _, label := range labels {
		fmt.Fprintf(&b, "- %s: %g\n", label, v.Scores[label])
	}
	b.WriteString(conclusionMarker)
	b.WriteString("\n")
	b.WriteString(v.Conclusion)
	return b.String()
}

// VerdictParser is the pluggable detection strategy for the tagged verdict
// protocol between judge model and orchestrator.
type VerdictParser interface {
	// IsVerdict reports whether the text carries a complete verdict.
	IsVerdict(text string) bool
	// Parse extracts the verdict, or nil when the text does not resolve one.
	Parse(text string) *Verdict
}

// Recognized section markers, canonical spelling first. Matching is
// case-insensitive.
var (
	scoresMarkers = []string{
		scoresMarker,
		"[confidence scores]",
		"## confidence scores",
		"置信度评分",
		"confidence scores:",
	}
	conclusionMarkers = []string{
		conclusionMarker,
		"[final conclusion]",
		"## final conclusion",
		"最终结论",
		"final conclusion:",
	}

	scoresMarkerPatterns     = markerPatterns(scoresMarkers)
	conclusionMarkerPatterns = markerPatterns(conclusionMarkers)
)

func markerPatterns(markers []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(markers))
	for i, m := range markers {
		out[i] = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(m))
	}
	return out
}

var scoreLineRe = regexp.MustCompile(`^\s*[-*•]?\s*(.+?)\s*[:：]\s*([0-9]*\.?[0-9]+)\s*$`)

// MarkerParser is the default marker-based verdict parser.
type MarkerParser struct{}

// IsVerdict requires BOTH a scores marker and a conclusion marker. Either
// alone is insufficient: a judge merely mentioning "the final verdict" in
// passing must not terminate the discussion.
func (MarkerParser) IsVerdict(text string) bool {
	_, _, hasScores := findMarker(text, scoresMarkerPatterns)
	_, _, hasConclusion := findMarker(text, conclusionMarkerPatterns)
	return hasScores && hasConclusion
}

// Parse extracts scores and conclusion. Returns nil unless both markers are
// present and at least one section yields content; a partially failed
// extraction falls back to an empty score map or the raw text as conclusion.
func (p MarkerParser) Parse(text string) *Verdict {
	if !p.IsVerdict(text) {
		return nil
	}
	scores := extractScores(text)
	conclusion := extractConclusion(text)
	if scores == nil && conclusion == "" {
		return nil
	}
	if scores == nil {
		scores = map[string]float64{}
	}
	if conclusion == "" {
		conclusion = strings.TrimSpace(text)
	}
	return &Verdict{Scores: scores, Conclusion: conclusion}
}

// findMarker locates the first of the candidate markers in text, returning
// its byte position and matched length. Matching runs on the original text
// so the offsets are valid for slicing it; lowering a copy first would skew
// offsets for runes whose case forms differ in encoded length.
func findMarker(text string, patterns []*regexp.Regexp) (pos, length int, ok bool) {
	for _, re := range patterns {
		if loc := re.FindStringIndex(text); loc != nil {
			return loc[0], loc[1] - loc[0], true
		}
	}
	return 0, 0, false
}

// extractScores parses the bullet lines of the scores section into a label
// -> score mapping, accepting only values in [0,1]. Nil when no valid line
// was found.
func extractScores(text string) map[string]float64 {
	pos, length, ok := findMarker(text, scoresMarkerPatterns)
	if !ok {
		return nil
	}
	section := text[pos+length:]
	if end, _, ok := findMarker(section, conclusionMarkerPatterns); ok {
		section = section[:end]
	}

	var scores map[string]float64
	for _, line := range strings.Split(section, "\n") {
		m := scoreLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		value, err := strconv.ParseFloat(m[2], 64)
		if err != nil || value < 0 || value > 1 {
			continue
		}
		if scores == nil {
			scores = make(map[string]float64)
		}
		scores[strings.TrimSpace(m[1])] = value
	}
	return scores
}

// extractConclusion returns the trimmed trailing text after the first
// recognized conclusion marker, empty when absent.
func extractConclusion(text string) string {
	pos, length, ok := findMarker(text, conclusionMarkerPatterns)
	if !ok {
		return ""
	}
	tail := text[pos+length:]
	tail = strings.TrimLeft(tail, ":： \t")
	return strings.TrimSpace(tail)
}
