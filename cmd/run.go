package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"webserver-bench/internal/config"
	"webserver-bench/internal/container"
	"webserver-bench/internal/database"
	"webserver-bench/internal/logging"
	"webserver-bench/internal/metrics"
	"webserver-bench/internal/orchestrator"
	"webserver-bench/internal/results"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type runOptions struct {
	configFile  string
	output      string
	targets     []string
	metricsAddr string
}

func newRunCommand() *cobra.Command {
	var opts runOptions

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a benchmark",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBenchmark(cmd.Context(), opts, cmd.Flags().Changed("log-level"))
		},
	}

	runCmd.Flags().StringVarP(&opts.configFile, "config", "c", "", "Path to benchmark configuration file")
	runCmd.Flags().StringVarP(&opts.output, "output", "o", "", "Path of the results file (overrides benchmark.output)")
	runCmd.Flags().StringSliceVarP(&opts.targets, "target", "t", nil, "Only benchmark the named targets (repeatable)")
	runCmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
	runCmd.MarkFlagRequired("config")

	return runCmd
}

func runBenchmark(parent context.Context, opts runOptions, logLevelFromFlag bool) error {
	logger := logging.GetLogger()

	cfg, configContent, err := config.LoadConfigWithContent(opts.configFile)
	if err != nil {
		logger.WithField("config_file", opts.configFile).WithError(err).Error("Failed to load configuration")
		return fmt.Errorf("failed to load config: %w", err)
	}

	environment, err := config.LoadEnvironment()
	if err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}
	applyEnvironment(cfg, environment)

	if !logLevelFromFlag && cfg.Benchmark.LogLevel != "" {
		if err := logging.SetLogLevel(cfg.Benchmark.LogLevel); err != nil {
			logger.WithField("log_level", cfg.Benchmark.LogLevel).WithError(err).Warn("Invalid log level in config, using INFO")
			logging.SetLogLevel("info")
		} else {
			logger.WithField("log_level", cfg.Benchmark.LogLevel).Debug("Log level set from configuration")
		}
	}

	checksum, err := config.Checksum(cfg)
	if err != nil {
		return fmt.Errorf("failed to compute config checksum: %w", err)
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if opts.metricsAddr != "" {
		metricsCtx, stopMetrics := context.WithCancel(context.WithoutCancel(ctx))
		defer stopMetrics()
		go func() {
			if err := metrics.Serve(metricsCtx, opts.metricsAddr); err != nil {
				logger.WithField("addr", opts.metricsAddr).WithError(err).Warn("Metrics server stopped")
			}
		}()
	}

	runtime, err := container.NewDockerRuntime(cfg.GetRegistryConfig())
	if err != nil {
		logger.WithError(err).Error("Failed to create Docker client")
		return fmt.Errorf("failed to create Docker client: %w", err)
	}
	defer runtime.Close()

	orch, err := orchestrator.New(cfg, orchestrator.Options{
		Runtime:        runtime,
		Targets:        opts.targets,
		Version:        Version,
		ConfigChecksum: checksum,
	})
	if err != nil {
		return err
	}

	report, err := orch.Run(ctx)
	if err != nil {
		logger.WithError(err).Error("Benchmark could not run")
		return fmt.Errorf("benchmark failed: %w", err)
	}

	output := opts.output
	if output == "" {
		output = cfg.GetOutput()
	}
	if err := database.WriteReport(output, report); err != nil {
		logger.WithField("output", output).WithError(err).Error("Failed to write results")
		return fmt.Errorf("failed to write results: %w", err)
	}
	logger.WithField("output", output).Info("Results written")

	// Archives and exports are best effort: the results file is already on disk.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
	defer cancel()
	spool(report, configContent, spoolDir(cfg, environment))
	export(persistCtx, cfg, report)

	printReport(os.Stdout, report)

	if report.Cancelled {
		logger.WithField("run_id", report.RunID).Warn("Benchmark was cancelled, results are partial")
	}
	return nil
}

// applyEnvironment fills credentials the config file left empty.
func applyEnvironment(cfg *config.BenchmarkConfig, environment *config.Environment) {
	if db := cfg.Benchmark.Data.DB; db != nil && db.Token == "" {
		db.Token = environment.InfluxToken
	}
	if reg := cfg.Benchmark.Registry; reg != nil {
		if reg.Username == "" {
			reg.Username = environment.RegistryUser
		}
		if reg.Password == "" {
			reg.Password = environment.RegistryPassword
		}
	}
}

func spoolDir(cfg *config.BenchmarkConfig, environment *config.Environment) string {
	if environment.SpoolDir != "" {
		return environment.SpoolDir
	}
	return cfg.Benchmark.SpoolDir
}

func spool(report *results.RunReport, configContent, dir string) {
	if dir == "" {
		return
	}
	logger := logging.GetLogger()

	path, err := database.WriteSpoolArtifact(dir, database.BuildSpoolArtifact(report, configContent))
	if err != nil {
		logger.WithField("spool_dir", dir).WithError(err).Warn("Failed to write spool artifact")
		return
	}
	logger.WithField("path", path).Info("Spool artifact written")
}

func export(ctx context.Context, cfg *config.BenchmarkConfig, report *results.RunReport) {
	db := cfg.Benchmark.Data.DB
	if db == nil {
		return
	}
	logger := logging.GetLogger().WithFields(logrus.Fields{
		"host":   db.Host,
		"bucket": db.Name,
	})

	client, err := database.NewInfluxDBClient(ctx, *db)
	if err != nil {
		logger.WithError(err).Warn("Skipping InfluxDB export")
		return
	}
	defer client.Close()

	if err := writeExport(ctx, client, report); err != nil {
		logger.WithError(err).Warn("InfluxDB export failed")
		return
	}
	logger.WithField("run_id", report.RunID).Info("Report exported to InfluxDB")
}

func writeExport(ctx context.Context, exporter database.Exporter, report *results.RunReport) error {
	if err := exporter.WriteReport(ctx, report); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("export timed out: %w", err)
		}
		return err
	}
	return nil
}
