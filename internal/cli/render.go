package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/iliyamo/cinema-seat-lock/internal/reconcile"
)

var stateGlyph = map[reconcile.State]string{
	reconcile.Available:     ".",
	reconcile.PendingMine:   "?",
	reconcile.Mine:          "*",
	reconcile.LockedByOther: "x",
	reconcile.Booked:        "#",
}

// renderBoard draws one line per row, rows in label order.
func renderBoard(w io.Writer, b *reconcile.Board) {
	rows := b.Rows()
	labels := make([]string, 0, len(rows))
	for row := range rows {
		labels = append(labels, row)
	}
	sort.Slice(labels, func(i, j int) bool {
		if len(labels[i]) != len(labels[j]) {
			return len(labels[i]) < len(labels[j])
		}
		return labels[i] < labels[j]
	})
	for _, row := range labels {
		var sb strings.Builder
		for _, s := range rows[row] {
			sb.WriteString(stateGlyph[s.State])
		}
		fmt.Fprintf(w, "%-3s %s\n", row, sb.String())
	}
	mine := b.Mine()
	fmt.Fprintf(w, "held: %s  total: %s\n", strings.Join(mine, ","), formatCents(b.Total()))
}

func formatCents(c uint32) string {
	return fmt.Sprintf("%d.%02d", c/100, c%100)
}
