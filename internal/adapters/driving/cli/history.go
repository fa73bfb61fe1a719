package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/custodia-labs/bisync/internal/core/domain"
)

var (
	historyLimit int
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent sync passes",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "maximum number of passes")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "output passes as JSON")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	svc, err := open(ctx, nil)
	if err != nil {
		return err
	}
	defer svc.close()

	if svc.History == nil {
		return errors.New("pass history not configured")
	}

	passes, err := svc.History.ListPasses(ctx, historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list passes: %w", err)
	}

	if historyJSON {
		if passes == nil {
			passes = []domain.SyncResult{}
		}
		data, err := json.MarshalIndent(passes, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal passes: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	if len(passes) == 0 {
		cmd.Println("No passes recorded.")
		return nil
	}

	rows := make([][]string, 0, len(passes))
	for i := range passes {
		p := &passes[i]
		total := p.Total()
		state := string(p.State)
		if p.DryRun {
			state += " (dry run)"
		}
		rows = append(rows, []string{
			shortID(p.PassID),
			formatTime(p.StartedAt),
			state,
			strconv.Itoa(total.Created),
			strconv.Itoa(total.Updated),
			strconv.Itoa(total.Skipped),
			strconv.Itoa(total.Conflicted),
			strconv.Itoa(total.Failed),
			formatDuration(p.Duration()),
		})
	}

	t := newTable(termWidth(cmd.OutOrStdout())).
		Headers("PASS", "STARTED", "STATE", "CREATED", "UPDATED", "SKIPPED", "CONFLICTED", "FAILED", "DURATION").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col >= 3:
				return numberStyle
			default:
				return cellStyle
			}
		})
	cmd.Println(t.String())
	return nil
}
