// ABOUTME: Fixed-width text rendering of tabular results
// ABOUTME: Used inside code blocks on chat surfaces and by the CLI

package render

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/2389/coven-relay/internal/stream"
)

const maxCellWidth = 32

// Table renders up to maxRows rows of rs as aligned columns. Each line
// ends with a newline.
func Table(rs *stream.ResultSet, maxRows int) string {
	if rs.Empty() {
		return ""
	}
	if maxRows <= 0 {
		maxRows = len(rs.Rows)
	}

	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)

	if len(rs.Columns) > 0 {
		writeRow(tw, rs.Columns)
		seps := make([]string, len(rs.Columns))
		for i, c := range rs.Columns {
			seps[i] = strings.Repeat("-", min(max(len([]rune(c)), 3), maxCellWidth))
		}
		writeRow(tw, seps)
	}

	shown := min(maxRows, len(rs.Rows))
	for _, row := range rs.Rows[:shown] {
		writeRow(tw, row)
	}
	_ = tw.Flush()

	if extra := len(rs.Rows) - shown; extra > 0 {
		fmt.Fprintf(&b, "… %d more row%s\n", extra, plural(extra))
	}
	return b.String()
}

func writeRow(tw *tabwriter.Writer, cells []string) {
	out := make([]string, len(cells))
	for i, c := range cells {
		c = strings.ReplaceAll(c, "\n", " ")
		c = strings.ReplaceAll(c, "\t", " ")
		out[i] = truncateRunes(c, maxCellWidth, maxCellWidth-1, "…")
	}
	fmt.Fprintln(tw, strings.Join(out, "\t"))
}
