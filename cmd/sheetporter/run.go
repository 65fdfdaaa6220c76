package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ternarybob/sheetporter/internal/app"
	"github.com/ternarybob/sheetporter/internal/common"
	"github.com/ternarybob/sheetporter/internal/models"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one import job in the foreground",
	Long: `Runs a single job locally and prints its results. Reports go to the callback
receiver when callback.base_url is configured and are dropped otherwise.
Ctrl+C stops the job before its next row.`,
	RunE: runJob,
}

var (
	runSource  string
	runRange   string
	runMapping string
	runJobID   string
	runDryRun  bool
)

func init() {
	runCmd.Flags().StringVar(&runSource, "source", "", "Source id (spreadsheet id, or xlsx:<file> for a local workbook)")
	runCmd.Flags().StringVar(&runRange, "range", "", "Range to read, e.g. Sheet1!A:E")
	runCmd.Flags().StringVar(&runMapping, "mapping", "", "Mapping id, e.g. Customers.Basic")
	runCmd.Flags().StringVar(&runJobID, "job-id", "", "Job id (generated when empty)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Validate rows without opening a browser")
	runCmd.MarkFlagRequired("source")
	runCmd.MarkFlagRequired("range")
	runCmd.MarkFlagRequired("mapping")
}

func runJob(cmd *cobra.Command, args []string) error {
	localOnly()

	application, err := app.New(config, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer application.Close()

	desc := models.JobDescriptor{
		JobID:     runJobID,
		SourceID:  runSource,
		Range:     runRange,
		MappingID: runMapping,
		DryRun:    runDryRun,
	}
	if desc.JobID == "" {
		desc.JobID = common.NewJobID()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	common.SafeGo(logger, "run-signal", func() {
		select {
		case <-sigChan:
			logger.Warn().Str("job_id", desc.JobID).Msg("Interrupt received, stopping before next row")
			_ = application.Orchestrator.Cancel(desc.JobID)
		case <-ctx.Done():
		}
	})

	outcome, err := application.Orchestrator.Run(ctx, desc)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(outcome, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode outcome: %w", err)
	}
	fmt.Println(string(out))

	if outcome.Err != nil {
		return fmt.Errorf("job %s failed: %w", desc.JobID, outcome.Err)
	}
	return nil
}
