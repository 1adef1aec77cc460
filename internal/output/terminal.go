package output

import (
	"fmt"
	"sort"

	"github.com/quorumlabs/quorum/internal/discussion"
	"github.com/quorumlabs/quorum/internal/engine"
)

const (
	ansiReset   = "\033[0m"
	ansiBold    = "\033[1m"
	ansiRed     = "\033[31m"
	ansiGreen   = "\033[32m"
	ansiYellow  = "\033[33m"
	ansiMagenta = "\033[35m"
	ansiCyan    = "\033[36m"
)

// Colorize wraps s with an ANSI color code and reset.
func Colorize(color, s string) string { return color + s + ansiReset }

// Bold wraps s with ANSI bold and reset.
func Bold(s string) string { return ansiBold + s + ansiReset }

func roleColor(role discussion.Role) string {
	switch role {
	case discussion.RoleJudge:
		return ansiMagenta
	case discussion.RoleGuest:
		return ansiCyan
	case discussion.RoleHost:
		return ansiYellow
	default:
		return ansiReset
	}
}

func speakerName(t discussion.Turn) string {
	if t.ModelName != "" {
		return t.ModelName
	}
	return string(t.Role)
}

// PrintTurn prints a formatted turn to stdout.
func PrintTurn(t discussion.Turn) {
	fmt.Printf("%s %s: %s\n",
		Colorize(roleColor(t.Role), fmt.Sprintf("[%s]", t.Role)),
		Bold(speakerName(t)),
		t.Content,
	)
}

// PrintRound prints a round banner.
func PrintRound(round int) {
	fmt.Printf("\n%s\n\n", Colorize(ansiBold+ansiCyan, fmt.Sprintf("=== Round %d ===", round)))
}

// PrintVerdict prints the final verdict summary.
func PrintVerdict(v *engine.Verdict) {
	if v == nil {
		fmt.Printf("Verdict: %s\n", Colorize(ansiBold+ansiRed, "none"))
		return
	}
	fmt.Printf("Verdict: %s\n", Colorize(ansiBold+ansiGreen, "reached"))

	labels := make([]string, 0, len(v.Scores))
	for label := range v.Scores {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		fmt.Printf("  %s: %s\n", label, Colorize(ansiYellow, fmt.Sprintf("%.2f", v.Scores[label])))
	}
	fmt.Printf("Conclusion: %s\n", v.Conclusion)
}
