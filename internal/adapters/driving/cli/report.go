package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"golang.org/x/term"

	"github.com/custodia-labs/bisync/internal/core/domain"
)

// termWidth returns the width of w when it is a terminal, or 0.
func termWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return 0
	}
	return width
}

// writeReportJSON writes result as indented JSON.
func writeReportJSON(w io.Writer, result *domain.SyncResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// writeReport renders a human-readable pass report. A width of 0 leaves the
// tables at their natural size.
func writeReport(w io.Writer, result *domain.SyncResult, width int) error {
	var b strings.Builder

	title := "Pass " + shortID(result.PassID)
	if result.DryRun {
		title += " (dry run)"
	}
	fmt.Fprintf(&b, "%s  %s  %s\n",
		titleStyle.Render(title),
		stateStyle(string(result.State)).Render(string(result.State)),
		mutedStyle.Render(formatDuration(result.Duration())))

	if result.AbortReason != "" {
		fmt.Fprintf(&b, "%s %s\n", errorStyle.Render("Aborted:"), result.AbortReason)
	}

	if len(result.Counts) > 0 {
		b.WriteString(countsTable(result, width))
		b.WriteString("\n")
	}

	if len(result.Planned) > 0 {
		b.WriteString(titleStyle.Render("Planned"))
		b.WriteString("\n")
		b.WriteString(plannedTable(result.Planned, width))
		b.WriteString("\n")
	}

	for _, e := range result.Errors {
		fmt.Fprintf(&b, "%s %s %s: %s\n", errorStyle.Render("error"), e.Entity, e.ID, e.Reason)
	}
	for _, n := range result.Notes {
		fmt.Fprintf(&b, "%s %s %s: %s\n", warningStyle.Render(string(n.Kind)), n.Entity, n.ID, n.Detail)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func countsTable(result *domain.SyncResult, width int) string {
	rows := make([][]string, 0, len(result.Counts)+1)
	for _, entity := range result.Entities() {
		rows = append(rows, countsRow(string(entity), result.Counts[entity]))
	}
	if len(result.Counts) > 1 {
		rows = append(rows, countsRow("total", result.Total()))
	}

	t := newTable(width).
		Headers("ENTITY", "CREATED", "UPDATED", "SKIPPED", "CONFLICTED", "FAILED").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 0:
				return cellStyle
			default:
				return numberStyle
			}
		})
	return t.String()
}

func countsRow(label string, c domain.Counts) []string {
	return []string{
		label,
		strconv.Itoa(c.Created),
		strconv.Itoa(c.Updated),
		strconv.Itoa(c.Skipped),
		strconv.Itoa(c.Conflicted),
		strconv.Itoa(c.Failed),
	}
}

func plannedTable(planned []domain.PlannedOperation, width int) string {
	rows := make([][]string, 0, len(planned))
	for _, op := range planned {
		id := op.ID
		if id == "" {
			id = "-"
		}
		rows = append(rows, []string{
			string(op.Side),
			string(op.Kind),
			string(op.Entity),
			id,
			strings.Join(op.Fields, ", "),
		})
	}

	t := newTable(width).
		Headers("SIDE", "OP", "ENTITY", "ID", "FIELDS").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	return t.String()
}

func newTable(width int) *table.Table {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle)
	if width > 0 {
		t = t.Width(width)
	}
	return t
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}
