package database

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"webserver-bench/internal/results"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testReport() *results.RunReport {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return &results.RunReport{
		RunID:          "6f1c1a9e-0000-4000-8000-000000000001",
		Name:           "webservers",
		ConfigChecksum: "a1b2c3",
		StartedAt:      start,
		EndedAt:        start.Add(time.Minute),
		Results: []results.ScenarioResult{
			{
				Target:        "go",
				Scenario:      "plain",
				SampleCount:   1000,
				SuccessCount:  998,
				HTTPErrors:    2,
				StatusCodes:   map[int]int64{200: 998, 500: 2},
				Latency:       results.LatencyStats{Min: time.Millisecond, P50: 2 * time.Millisecond, P99: 9 * time.Millisecond, Max: 12 * time.Millisecond},
				Throughput:    4990,
				LastCompleted: start.Add(30 * time.Second),
				Resources:     &results.ResourceUsage{Samples: 4, PeakCPUPercent: 180, Cycles: 10, Instructions: 20, IPC: 2},
			},
		},
		Failures: []results.TargetFailure{
			{Target: "python", Stage: results.StageReadiness, Message: "did not become ready"},
		},
	}
}

func TestWriteReport_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "results.json")
	report := testReport()

	require.NoError(t, WriteReport(path, report))

	read, err := ReadReport(path)
	require.NoError(t, err)
	assert.Equal(t, report.RunID, read.RunID)
	require.Len(t, read.Results, 1)
	assert.Equal(t, int64(998), read.Results[0].StatusCodes[200])
	assert.Equal(t, 9*time.Millisecond, read.Results[0].Latency.P99)
	assert.Equal(t, results.StageReadiness, read.Failures[0].Stage)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestWriteReport_FailureKeepsPreviousFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"run_id":"old"}`), 0o644))

	assert.Error(t, WriteReport(path, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"run_id":"old"}`, string(data))
}

func TestWriteReport_ReplacesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o644))
	require.NoError(t, WriteReport(path, testReport()))

	read, err := ReadReport(path)
	require.NoError(t, err)
	assert.Equal(t, "webservers", read.Name)
}

func TestSpoolArtifact(t *testing.T) {
	dir := t.TempDir()
	artifact := BuildSpoolArtifact(testReport(), "benchmark:\n  name: webservers\n")

	path, err := WriteSpoolArtifact(dir, artifact)
	require.NoError(t, err)

	base := filepath.Base(path)
	assert.True(t, strings.HasPrefix(base, "run_"))
	assert.True(t, strings.HasSuffix(base, "_a1b2c3.json.gz"))

	read, err := ReadSpoolArtifact(path)
	require.NoError(t, err)
	assert.Equal(t, artifact.RunID, read.RunID)
	assert.Equal(t, artifact.ConfigContent, read.ConfigContent)
	require.NotNil(t, read.Report)
	assert.Len(t, read.Report.Results, 1)
}

func TestReportPoints(t *testing.T) {
	points := reportPoints(testReport())
	require.Len(t, points, 3)

	assert.Equal(t, "scenario_results", points[0].Name())
	line := write.PointToLineProtocol(points[0], time.Nanosecond)
	assert.Contains(t, line, "target=go")
	assert.Contains(t, line, "scenario=plain")
	assert.Contains(t, line, "success_count=998i")
	assert.Contains(t, line, "perf_instructions_per_cycle=2")

	assert.Equal(t, "target_failures", points[1].Name())
	assert.Contains(t, write.PointToLineProtocol(points[1], time.Nanosecond), "stage=readiness")

	assert.Equal(t, "benchmark_meta", points[2].Name())
}
