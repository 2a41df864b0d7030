package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/jasrulete/AI-Scheduler/internal/config"
	"github.com/jasrulete/AI-Scheduler/internal/logging"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "chedula",
	Short:         "Chedula assistant bridge",
	Long:          "Keeps a realtime session with the Chedula assistant, mirrors its transcript and refreshes scheduling data it changes.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logging.Setup(os.Stderr, cfg.LogLevel), nil
}
