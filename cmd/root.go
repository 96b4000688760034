package main

import (
	"github.com/spf13/cobra"

	"github.com/nikhil/projectdesk/internal/config"
	"github.com/nikhil/projectdesk/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "projectdesk",
	Short: "ProjectDesk project management server",
	Long: `ProjectDesk serves the project management API: projects, tasks, chat,
documents, guest access and scheduled status reports.

Configuration comes from .env, the YAML file named by CONFIG_FILE and the
process environment, in that order.`,
	SilenceUsage: true,
}

// loadConfig reads the configuration and sets up logging for a command.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.Configure(cfg.AppEnv, cfg.LogLevel)
	return cfg, nil
}
