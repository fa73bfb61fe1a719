package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/bisync/internal/logger"
)

var (
	version    = "dev"
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "bisync",
	Short: "Bidirectional sync between a Shopify store and a spreadsheet",
	Long: `bisync keeps records in a commerce store and a spreadsheet database
(Grist or Google Sheets) in step. Each pass fetches both sides, detects
what changed since the last pass, resolves conflicts field by field and
writes the result back in rate-limited batches.`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ~/.bisync/bisync.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// Execute runs the root command. It is cancelled by SIGINT or SIGTERM.
func Execute(v string) error {
	if v != "" {
		version = v
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
