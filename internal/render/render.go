// ABOUTME: Surface-specific formatting of relay results
// ABOUTME: Slack mrkdwn, Matrix markdown and HTML, short briefs and progress lines

package render

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/2389/coven-relay/internal/relay"
)

const (
	maxSlackAnswer   = 2500
	slackAnswerCut   = 2400
	maxQueryPreview  = 500
	previewTableRows = 10

	// BriefLength is the answer length slash-command briefs are cut to.
	BriefLength = 800

	FollowUpTip = "💡 _Tip: Ask follow-up questions by @mentioning me in this thread_"
	NoResponse  = "❌ No response received. Please try again."
)

// verbosePhrases mark explanatory lines that chat answers drop.
var verbosePhrases = []string{
	"this count comes from",
	"data spans from",
	"suggests we have",
	"this customer count is derived",
}

var progressEmoji = map[string]string{
	"planning":   "🧠",
	"executing":  "⚡",
	"generating": "✨",
	"forming":    "📝",
	"running":    "🔧",
	"streaming":  "📊",
}

var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Slack formats a completed result as Slack mrkdwn.
func Slack(res *relay.Result, elapsed time.Duration) string {
	answer := truncateRunes(res.Answer, maxSlackAnswer, slackAnswerCut, "\n\n_... (truncated)_")
	answer = strings.ReplaceAll(answer, "**", "*")
	answer = dropVerbose(answer)

	var b strings.Builder
	b.WriteString(answer)
	writeExtras(&b, res)
	fmt.Fprintf(&b, "\n\n_⏱️ %.1fs • Tools: %s_", elapsed.Seconds(), toolList(res.ToolsUsed))
	return b.String()
}

// Markdown formats a result as CommonMark for surfaces that render it.
func Markdown(res *relay.Result, elapsed time.Duration) string {
	var b strings.Builder
	b.WriteString(dropVerbose(res.Answer))
	writeExtras(&b, res)
	fmt.Fprintf(&b, "\n\n_⏱️ %.1fs • Tools: %s_", elapsed.Seconds(), toolList(res.ToolsUsed))
	return b.String()
}

func writeExtras(b *strings.Builder, res *relay.Result) {
	if res.GeneratedQuery != "" {
		fmt.Fprintf(b, "\n\n```sql\n%s\n```", truncateRunes(res.GeneratedQuery, maxQueryPreview, maxQueryPreview, ""))
	}
	if !res.Table.Empty() {
		fmt.Fprintf(b, "\n\n```\n%s```", Table(res.Table, previewTableRows))
	}
	if n := len(res.Charts); n > 0 {
		fmt.Fprintf(b, "\n\n_📈 %d chart%s generated_", n, plural(n))
	}
}

// HTML converts markdown to HTML.
func HTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("converting markdown: %w", err)
	}
	return buf.String(), nil
}

// Brief shortens an answer for one-shot replies.
func Brief(answer string, max int) string {
	if max <= 0 {
		max = BriefLength
	}
	return truncateRunes(answer, max, max, "")
}

// ProgressLine decorates an agent status message for a chat thread.
func ProgressLine(status string) string {
	status = strings.TrimRight(strings.TrimSpace(status), ". …")
	first := strings.ToLower(strings.Trim(strings.SplitN(status+" ", " ", 2)[0], ".,:!…"))
	emoji, ok := progressEmoji[first]
	if !ok {
		emoji = "⏳"
	}
	return fmt.Sprintf("%s %s...", emoji, status)
}

func dropVerbose(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		lower := strings.ToLower(line)
		skip := false
		for _, p := range verbosePhrases {
			if strings.Contains(lower, p) {
				skip = true
				break
			}
		}
		if !skip {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func toolList(tools []string) string {
	if len(tools) == 0 {
		return "None"
	}
	sorted := append([]string(nil), tools...)
	sort.Strings(sorted)
	return strings.Join(sorted, ", ")
}

// truncateRunes cuts s to cut runes plus suffix when it is longer than max.
func truncateRunes(s string, max, cut int, suffix string) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:cut]) + suffix
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
