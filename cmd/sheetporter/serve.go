package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ternarybob/sheetporter/internal/app"
	"github.com/ternarybob/sheetporter/internal/common"
	"github.com/ternarybob/sheetporter/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server (default)",
	Long:  `Starts the worker: accepts signed job requests, processes one job at a time and reports progress to the callback receiver.`,
	Run:   runServe,
}

func runServe(cmd *cobra.Command, args []string) {
	common.PrintBanner(common.GetVersion())

	for _, problem := range config.Validate() {
		logger.Warn().Str("problem", problem).Msg("Configuration incomplete")
	}

	logger.Info().
		Int("port", config.Server.Port).
		Str("host", config.Server.Host).
		Msg("Starting Sheetporter server")

	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer application.Close()

	srv := server.New(application)

	serverErr := make(chan error, 1)
	common.SafeGoWithRecover(logger, "http-server", func() {
		serverErr <- srv.Start()
	}, func(recovered interface{}) {
		common.WriteCrashFile(recovered, common.GetStackTrace())
		serverErr <- fmt.Errorf("server panicked: %v", recovered)
	})

	logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)).
		Msg("Server ready - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info().Msg("Interrupt signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("Server failed")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}

	logger.Info().Msg("Server stopped")
}
