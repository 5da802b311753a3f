package cmd

import (
	"fmt"

	"webserver-bench/internal/config"
	"webserver-bench/internal/logging"
	"webserver-bench/internal/scenario"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	var configFile string

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a benchmark configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(configFile)
		},
	}

	validateCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to benchmark configuration file")
	validateCmd.MarkFlagRequired("config")

	return validateCmd
}

// validateConfig also compiles every scenario, which catches unreadable body files and
// broken JSON schemas that plain parsing cannot see.
func validateConfig(configFile string) error {
	logger := logging.GetLogger()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		logger.WithField("config_file", configFile).WithError(err).Error("Configuration validation failed")
		return err
	}

	for _, sc := range cfg.Scenarios {
		if _, err := scenario.Compile(sc); err != nil {
			logger.WithField("config_file", configFile).WithError(err).Error("Configuration validation failed")
			return fmt.Errorf("invalid config: %w", err)
		}
	}

	checksum, err := config.Checksum(cfg)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"config_file": configFile,
		"targets":     len(cfg.Targets),
		"scenarios":   len(cfg.Scenarios),
		"checksum":    checksum,
	}).Info("Configuration is valid")
	return nil
}
