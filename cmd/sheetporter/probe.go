package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ternarybob/sheetporter/internal/app"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check that a source is readable",
	Long:  `Checks that the worker's credentials can read the given source and prints its title and sheets.`,
	RunE:  runProbe,
}

var probeSource string

func init() {
	probeCmd.Flags().StringVar(&probeSource, "source", "", "Source id (spreadsheet id, or xlsx:<file> for a local workbook)")
	probeCmd.MarkFlagRequired("source")
}

func runProbe(cmd *cobra.Command, args []string) error {
	localOnly()

	application, err := app.New(config, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer application.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	if !application.Source.ProbeAccess(ctx, probeSource) {
		return fmt.Errorf("source %s is not accessible", probeSource)
	}

	meta, err := application.Source.Metadata(ctx, probeSource)
	if err != nil {
		return fmt.Errorf("failed to read metadata: %w", err)
	}

	fmt.Printf("Source:  %s\n", probeSource)
	fmt.Printf("Title:   %s\n", meta.Title)
	for _, sheet := range meta.Sheets {
		fmt.Printf("  - %s (%d rows x %d columns)\n", sheet.Title, sheet.RowCount, sheet.ColumnCount)
	}
	return nil
}

// localOnly adjusts config for one-shot commands: no persistent history and no
// server-side listeners, so they can run beside a serving worker.
func localOnly() {
	config.Storage.Badger.Path = ""
	config.Storage.Badger.ResetOnStartup = false
	config.History.PruneSchedule = ""
	config.WebSocket.Enabled = false
}
