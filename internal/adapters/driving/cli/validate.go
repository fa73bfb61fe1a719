package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check configuration and field mappings",
	Long: `Loads the configuration and field mappings, then checks every mapped
path against the schemas the stores report. Nothing is written.`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	svc, err := open(ctx, nil)
	if err != nil {
		return err
	}
	defer svc.close()

	if err := svc.Engine.Validate(ctx); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	mapper := svc.Engine.Mapper()
	for _, entity := range svc.Config.Entities() {
		cmd.Printf("  %s: %d field mappings\n", entity, len(mapper.Mappings(entity)))
	}
	cmd.Println(successStyle.Render("Configuration is valid."))
	return nil
}
