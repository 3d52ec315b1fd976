package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ent0n29/taskibot/internal/config"
	"github.com/ent0n29/taskibot/internal/logutil"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "taskibot",
		Short:         "Chat bot front end for the Taski task service",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadEnvFile(cmd)
		},
	}

	cmd.PersistentFlags().String("env-file", "", "Dotenv file to load before reading the environment (default .env if present).")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newConsoleCmd())
	return cmd
}

// loadEnvFile populates the environment from a dotenv file. Variables that
// are already set win over the file.
func loadEnvFile(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("env-file")
	path = strings.TrimSpace(path)
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("config error: %w", err)
	}
	logger, err := logutil.New(cfg)
	if err != nil {
		return config.Config{}, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}
