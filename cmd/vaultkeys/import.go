package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/vaultkeys/internal/events"
	"github.com/TheMichaelB/vaultkeys/internal/services/importer"
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import an export from another password manager",
	Long: `Import parses the file, merges logins that already exist in the vault
(same site, username and password) and uploads the rest in one batch.`,
	Example: `  vaultkeys import passwords.csv --format chromecsv
  vaultkeys formats`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List supported import formats",
	Args:  cobra.NoArgs,
	RunE:  runFormats,
}

var (
	importFormat   string
	importPassword string
)

func init() {
	rootCmd.AddCommand(importCmd, formatsCmd)

	importCmd.Flags().StringVarP(&importFormat, "format", "f", "",
		"Export format (required, see 'vaultkeys formats')")
	importCmd.Flags().StringVarP(&importPassword, "password", "p", "",
		"Master password (will prompt if not provided)")

	_ = importCmd.MarkFlagRequired("format")
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	content, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read export: %w", err)
	}

	if err := requireUnlocked(ctx, importPassword); err != nil {
		return err
	}

	summary, err := vaultClient.Import(ctx, string(content), importFormat)
	if jsonOutput {
		result := map[string]interface{}{
			"success": err == nil,
			"file":    args[0],
			"format":  importFormat,
		}
		if summary != nil {
			result["summary"] = summary
		}
		if err != nil {
			result["error"] = err.Error()
		}
		printJSON(result)
		return err
	}
	if err != nil {
		return err
	}

	fmt.Printf("\nImport Summary:\n")
	fmt.Printf("   Items parsed:   %d\n", summary.Parsed)
	fmt.Printf("   Logins kept:    %d\n", summary.Supported)
	fmt.Printf("   Created:        %d\n", summary.Created)
	fmt.Printf("   Merged:         %d\n", summary.Updated)
	if skipped := summary.Parsed - summary.Supported; skipped > 0 {
		printWarning("%d non-login items were skipped", skipped)
	}

	printSuccess("\nImport completed successfully!")
	return nil
}

func runFormats(cmd *cobra.Command, args []string) error {
	formats := importer.NewService(events.NewNopLogger()).Formats()

	if jsonOutput {
		printJSON(formats)
		return nil
	}
	for _, f := range formats {
		fmt.Println(f)
	}
	return nil
}
