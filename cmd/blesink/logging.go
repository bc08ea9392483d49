package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blesink/pkg/config"
)

// loadConfig reads --config and applies --log-level on top of the file and environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		if _, err := logrus.ParseLevel(level); err != nil {
			return nil, fmt.Errorf("invalid log level: %s (must be trace, debug, info, warn, or error)", level)
		}
		cfg.Log.Level = level
	}
	return cfg, nil
}

// configureLogger creates the logger for a command. Interactive commands stay quiet
// unless --log-level is given, so their output is not interleaved with log lines.
func configureLogger(cmd *cobra.Command, cfg *config.Config, interactive bool) (*logrus.Logger, error) {
	logger, err := cfg.NewLogger()
	if err != nil {
		return nil, err
	}

	if interactive {
		if level, _ := cmd.Flags().GetString("log-level"); level == "" {
			logger.SetLevel(logrus.PanicLevel)
		}
		logger.SetOutput(cmd.ErrOrStderr())
	}
	return logger, nil
}
