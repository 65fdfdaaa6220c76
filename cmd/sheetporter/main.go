package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sheetporter/internal/common"
)

var (
	// Command-line flags
	configFiles []string // Multiple --config flags supported
	serverPort  int
	serverHost  string

	// Global state
	config *common.Config
	logger arbor.ILogger
)

var rootCmd = &cobra.Command{
	Use:   "sheetporter",
	Short: "Import spreadsheet rows into a web application through its forms",
	Long: `Sheetporter reads rows from Google Sheets or local workbooks, maps them onto
a target application's forms and submits them with a headless browser,
reporting progress to a signed callback receiver.

Running without a subcommand starts the HTTP server.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
	Run:               runServe,
}

func init() {
	rootCmd.PersistentFlags().StringArrayVarP(&configFiles, "config", "c", nil, "Configuration file path (can be specified multiple times, later files override earlier ones)")
	rootCmd.PersistentFlags().IntVarP(&serverPort, "port", "p", 0, "Server port (overrides config)")
	rootCmd.PersistentFlags().StringVar(&serverHost, "host", "", "Server host (overrides config)")

	rootCmd.AddCommand(serveCmd, versionCmd, probeCmd, runCmd)
}

// loadConfig runs before every command.
// Order: defaults -> file1 -> file2 -> ... -> env -> CLI flags, then the logger.
func loadConfig(cmd *cobra.Command, args []string) error {
	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		for _, candidate := range []string{"sheetporter.toml", "deployments/local/sheetporter.toml"} {
			if _, err := os.Stat(candidate); err == nil {
				configFiles = append(configFiles, candidate)
				break
			}
		}
	}

	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		return fmt.Errorf("failed to load configuration %v: %w", configFiles, err)
	}

	common.ApplyFlagOverrides(config, serverPort, serverHost)

	logger = common.InitLogger(config)
	if config.Logging.Dir != "" {
		common.CrashLogDir = config.Logging.Dir
	}
	logger.Debug().
		Strs("config_files", configFiles).
		Str("log_level", config.Logging.Level).
		Strs("log_output", config.Logging.Output).
		Str("source_provider", config.Source.Provider).
		Str("storage_path", config.Storage.Badger.Path).
		Msg("Resolved configuration")
	return nil
}

func main() {
	defer common.RecoverWithCrashFile()

	if err := rootCmd.Execute(); err != nil {
		common.GetLogger().Error().Err(err).Str("command", os.Args[0]).Msg("Command failed")
		os.Exit(1)
	}
}
