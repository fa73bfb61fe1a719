package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/custodia-labs/bisync/internal/core/domain"
	"github.com/custodia-labs/bisync/internal/core/services"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show persisted sync state",
	Long: `Shows how many links are tracked per entity, when each was last
synced and the incremental fetch cursor of each side.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	svc, err := open(ctx, nil)
	if err != nil {
		return err
	}
	defer svc.close()

	state, err := svc.State.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load sync state: %w", err)
	}
	byEntity := services.Entries(state)

	cfg := svc.Config
	cmd.Printf("%s %s (%s) <-> %s (%s)\n", titleStyle.Render("Stores:"),
		cfg.Stores.Source.Name, cfg.Stores.Source.Type,
		cfg.Stores.Target.Name, cfg.Stores.Target.Type)

	entities := cfg.Entities()
	seen := make(map[domain.EntityType]bool, len(entities))
	for _, e := range entities {
		seen[e] = true
	}
	for _, e := range domain.AllEntityTypes() {
		if !seen[e] && len(byEntity[e]) > 0 {
			entities = append(entities, e)
		}
	}

	rows := make([][]string, 0, len(entities))
	for _, entity := range entities {
		entries := byEntity[entity]
		var last time.Time
		for i := range entries {
			if entries[i].LastSyncedAt.After(last) {
				last = entries[i].LastSyncedAt
			}
		}

		row := []string{string(entity), strconv.Itoa(len(entries)), formatTime(last)}
		for _, side := range domain.Sides() {
			cursor, err := svc.State.Cursor(ctx, entity, side)
			if err != nil {
				return fmt.Errorf("failed to load %s cursor for %s: %w", side, entity, err)
			}
			since := time.Time{}
			if cursor != nil {
				since = cursor.Since
			}
			row = append(row, formatTime(since))
		}
		rows = append(rows, row)
	}

	t := newTable(termWidth(cmd.OutOrStdout())).
		Headers("ENTITY", "LINKS", "LAST SYNCED", "SOURCE CURSOR", "TARGET CURSOR").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 1:
				return numberStyle
			default:
				return cellStyle
			}
		})
	cmd.Println(t.String())
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
