package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/bisync/internal/core/domain"
	"github.com/custodia-labs/bisync/internal/core/services"
	"github.com/custodia-labs/bisync/internal/logger"
)

var cliLog = logger.With("cli")

var (
	syncMode     string
	syncInterval int
	syncFields   []string
	syncJSON     bool
	syncDryRun   bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronise the source and target stores",
	Long: `Runs a sync pass between the configured stores.
In once mode a single pass runs and its report is printed. In continuous
mode passes repeat every interval until interrupted, and the mappings
file is reloaded whenever it changes.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringVar(&syncMode, "mode", "", "once or continuous (overrides sync.mode)")
	syncCmd.Flags().IntVar(&syncInterval, "interval", 0, "minutes between continuous passes (overrides sync.interval_minutes)")
	syncCmd.Flags().StringSliceVar(&syncFields, "fields", nil, "canonical fields to sync this run (default all)")
	syncCmd.Flags().BoolVar(&syncJSON, "json", false, "output reports as JSON")
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "plan writes without applying them")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	svc, err := open(ctx, applySyncFlags)
	if err != nil {
		return err
	}
	defer svc.close()

	cfg := svc.Config
	out := cmd.OutOrStdout()

	// Reports may arrive from the scheduler goroutine while the user reads.
	var mu sync.Mutex
	printResult := func(result *domain.SyncResult, _ error) {
		if result == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if err := writeResult(out, result, syncJSON); err != nil {
			cliLog.Error("writing report: %v", err)
		}
	}

	opts := []services.SchedulerOption{services.WithResultHandler(printResult)}
	if svc.Mappings != nil {
		opts = append(opts, services.WithMappingReload(svc.Mappings, reloadMapper(svc.Engine)))
	}

	sched := services.NewScheduler(services.SchedulerConfig{
		Mode:     cfg.Sync.Mode,
		Interval: cfg.Interval(),
		DryRun:   syncDryRun,
	}, svc.Engine, opts...)

	if cfg.Sync.Mode == domain.ModeContinuous && !syncJSON {
		cmd.Printf("Syncing %s and %s every %s (Ctrl+C to stop)...\n",
			cfg.Stores.Source.Name, cfg.Stores.Target.Name, cfg.Interval())
	}

	if err := sched.Start(ctx); err != nil {
		if cfg.Sync.Mode == domain.ModeContinuous && errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("sync failed: %w", err)
	}
	return nil
}

// applySyncFlags overlays the sync flags on the loaded configuration.
func applySyncFlags(cfg *domain.Config) {
	if syncMode != "" {
		cfg.Sync.Mode = domain.Mode(syncMode)
	}
	if syncInterval > 0 {
		cfg.Sync.IntervalMinutes = syncInterval
	}
	if len(syncFields) > 0 {
		fields := make([]string, 0, len(syncFields))
		for _, f := range syncFields {
			if f = strings.TrimSpace(f); f != "" {
				fields = append(fields, f)
			}
		}
		cfg.Sync.Fields = fields
	}
}

// reloadMapper installs a reloaded mapping set as is. The engine applies
// --fields to it on every pass.
func reloadMapper(engine *services.Engine) func(*services.FieldMapper) {
	return engine.SetMapper
}

func writeResult(w io.Writer, result *domain.SyncResult, asJSON bool) error {
	if asJSON {
		return writeReportJSON(w, result)
	}
	return writeReport(w, result, termWidth(w))
}
