package cmd

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"webserver-bench/internal/database"
	"webserver-bench/internal/results"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport() *results.RunReport {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &results.RunReport{
		RunID:          "6f1c2b1e-0000-4000-8000-000000000000",
		Name:           "webservers",
		ConfigChecksum: "a1b2c3",
		StartedAt:      started,
		EndedAt:        started.Add(90 * time.Second),
		Results: []results.ScenarioResult{
			{
				Target:       "go-std",
				Scenario:     "plain",
				SampleCount:  1000,
				SuccessCount: 998,
				Throughput:   12345.6,
				Latency: results.LatencyStats{
					P50: 1500 * time.Microsecond,
					P90: 3 * time.Millisecond,
					P99: 12 * time.Millisecond,
				},
			},
			{
				Target:       "go-std",
				Scenario:     "json",
				SampleCount:  10,
				SuccessCount: 10,
				Incomplete:   true,
			},
		},
		Failures: []results.TargetFailure{
			{
				Target:  "node",
				Stage:   results.StageReadiness,
				Message: "target never became ready\n--- last 50 log lines ---\nError: EADDRINUSE",
			},
		},
	}
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	printReport(&buf, sampleReport())
	out := buf.String()

	assert.Contains(t, out, "Run 6f1c2b1e-0000-4000-8000-000000000000 (webservers)")
	assert.Contains(t, out, "took 1m30s")
	assert.Contains(t, out, "12345.6")
	assert.Contains(t, out, "1.5ms")
	assert.Contains(t, out, "json*")
	assert.Contains(t, out, "readiness")
	assert.Contains(t, out, "target never became ready")
	assert.NotContains(t, out, "EADDRINUSE")
	assert.NotContains(t, out, "Cancelled")
}

func TestPrintReport_Cancelled(t *testing.T) {
	report := sampleReport()
	report.Cancelled = true
	report.Failures = nil

	var buf bytes.Buffer
	printReport(&buf, report)
	assert.Contains(t, buf.String(), "Cancelled: results are partial")
	assert.NotContains(t, buf.String(), "STAGE")
}

func TestLoadReport(t *testing.T) {
	dir := t.TempDir()
	report := sampleReport()

	jsonPath := filepath.Join(dir, "results.json")
	require.NoError(t, database.WriteReport(jsonPath, report))
	loaded, err := loadReport(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, report.RunID, loaded.RunID)
	assert.Len(t, loaded.Results, 2)

	gzPath, err := database.WriteSpoolArtifact(dir, database.BuildSpoolArtifact(report, "benchmark: {}"))
	require.NoError(t, err)
	loaded, err = loadReport(gzPath)
	require.NoError(t, err)
	assert.Equal(t, report.RunID, loaded.RunID)
	assert.Len(t, loaded.Failures, 1)

	_, err = loadReport(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestFormatLatency(t *testing.T) {
	assert.Equal(t, "850µs", formatLatency(850*time.Microsecond))
	assert.Equal(t, "1.23ms", formatLatency(1234*time.Microsecond))
	assert.Equal(t, "2.346s", formatLatency(2345678*time.Microsecond))
}
