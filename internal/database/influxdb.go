package database

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"webserver-bench/internal/config"
	"webserver-bench/internal/logging"
	"webserver-bench/internal/results"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"
)

// Exporter ships a finished report to an external store.
type Exporter interface {
	WriteReport(ctx context.Context, report *results.RunReport) error
	Close()
}

type InfluxDBClient struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	bucket   string
	org      string
}

func NewInfluxDBClient(ctx context.Context, cfg config.DatabaseConfig) (*InfluxDBClient, error) {
	logger := logging.GetLogger()

	client := influxdb2.NewClient(cfg.Host, cfg.Token)

	healthCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	health, err := client.Health(healthCtx)
	if err != nil {
		client.Close()
		logger.WithField("host", cfg.Host).WithError(err).Error("Failed to connect to InfluxDB")
		return nil, fmt.Errorf("failed to connect to InfluxDB at %s: %w", cfg.Host, err)
	}
	if health.Status != "pass" {
		client.Close()
		message := ""
		if health.Message != nil {
			message = *health.Message
		}
		logger.WithFields(logrus.Fields{
			"host":    cfg.Host,
			"status":  health.Status,
			"message": message,
		}).Error("InfluxDB health check failed")
		return nil, fmt.Errorf("InfluxDB at %s is not healthy: %s", cfg.Host, health.Status)
	}

	logger.WithFields(logrus.Fields{
		"host":   cfg.Host,
		"bucket": cfg.Name,
		"org":    cfg.Org,
	}).Info("Connected to InfluxDB")

	return &InfluxDBClient{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Name),
		bucket:   cfg.Name,
		org:      cfg.Org,
	}, nil
}

func (idb *InfluxDBClient) WriteReport(ctx context.Context, report *results.RunReport) error {
	points := reportPoints(report)
	if len(points) == 0 {
		return nil
	}
	if err := idb.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("failed to write data points: %w", err)
	}

	logging.GetLogger().WithFields(logrus.Fields{
		"bucket": idb.bucket,
		"points": len(points),
	}).Info("Report exported to InfluxDB")
	return nil
}

// reportPoints maps a report to one point per scenario result, one per failure and a
// single run metadata point.
func reportPoints(report *results.RunReport) []*write.Point {
	points := make([]*write.Point, 0, len(report.Results)+len(report.Failures)+1)

	for _, r := range report.Results {
		ts := r.LastCompleted
		if ts.IsZero() {
			ts = report.EndedAt
		}
		points = append(points, influxdb2.NewPoint("scenario_results",
			map[string]string{
				"run_id":     report.RunID,
				"benchmark":  report.Name,
				"target":     r.Target,
				"scenario":   r.Scenario,
				"incomplete": strconv.FormatBool(r.Incomplete),
			},
			resultFields(&r),
			ts))
	}

	for _, f := range report.Failures {
		ts := f.At
		if ts.IsZero() {
			ts = report.EndedAt
		}
		tags := map[string]string{
			"run_id":    report.RunID,
			"benchmark": report.Name,
			"target":    f.Target,
			"stage":     string(f.Stage),
		}
		if f.Scenario != "" {
			tags["scenario"] = f.Scenario
		}
		points = append(points, influxdb2.NewPoint("target_failures",
			tags,
			map[string]interface{}{
				"message": f.Message,
			},
			ts))
	}

	meta := map[string]interface{}{
		"config_checksum":  report.ConfigChecksum,
		"version":          report.Version,
		"started_at":       report.StartedAt.Format(time.RFC3339),
		"ended_at":         report.EndedAt.Format(time.RFC3339),
		"duration_seconds": report.EndedAt.Sub(report.StartedAt).Seconds(),
		"cancelled":        report.Cancelled,
		"results":          len(report.Results),
		"failures":         len(report.Failures),
	}
	if report.Host != nil {
		meta["hostname"] = report.Host.Hostname
		meta["cpu_model"] = report.Host.CPUModel
		meta["kernel_version"] = report.Host.KernelVersion
	}
	points = append(points, influxdb2.NewPoint("benchmark_meta",
		map[string]string{
			"run_id":    report.RunID,
			"benchmark": report.Name,
		},
		meta,
		report.EndedAt))

	return points
}

func resultFields(r *results.ScenarioResult) map[string]interface{} {
	fields := map[string]interface{}{
		"sample_count":     r.SampleCount,
		"success_count":    r.SuccessCount,
		"http_errors":      r.HTTPErrors,
		"transport_errors": r.TransportErrors,
		"timeouts":         r.Timeouts,
		"bytes_received":   r.BytesReceived,
		"throughput_rps":   r.Throughput,
		"elapsed_ns":       int64(r.Elapsed),
		"latency_min_ns":   int64(r.Latency.Min),
		"latency_max_ns":   int64(r.Latency.Max),
		"latency_mean_ns":  int64(r.Latency.Mean),
		"latency_p50_ns":   int64(r.Latency.P50),
		"latency_p90_ns":   int64(r.Latency.P90),
		"latency_p99_ns":   int64(r.Latency.P99),
	}

	if res := r.Resources; res != nil {
		fields["docker_cpu_avg_percent"] = res.AvgCPUPercent
		fields["docker_cpu_peak_percent"] = res.PeakCPUPercent
		fields["docker_memory_avg_bytes"] = res.AvgMemoryBytes
		fields["docker_memory_peak_bytes"] = res.PeakMemoryBytes
		fields["docker_network_rx_bytes"] = res.NetworkRxBytes
		fields["docker_network_tx_bytes"] = res.NetworkTxBytes
		if res.Cycles > 0 {
			fields["perf_instructions"] = res.Instructions
			fields["perf_cycles"] = res.Cycles
			fields["perf_instructions_per_cycle"] = res.IPC
		}
	}

	return fields
}

func (idb *InfluxDBClient) Close() {
	if idb.client != nil {
		idb.client.Close()
	}
}
