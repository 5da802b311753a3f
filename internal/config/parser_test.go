package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `
benchmark:
  name: webservers
  readiness:
    interval: 100ms
    max_wait: 30s

targets:
  - name: rust-axum
    image: webservers/rust-axum
    port: 8000
    scenarios: [plain-text, download-binary]
  - name: python-fastapi
    image: webservers/python-fastapi
    port: 8000
    host_port: 18000
    scenarios: [plain-text]

scenarios:
  - id: plain-text
    kind: plain-text
    path: /benchmark/plain-text
    concurrency: 50
    requests: 1000
    expect:
      body: "Hello, World!"
  - id: download-binary
    kind: download-binary
    path: /benchmark/download-binary
    concurrency: 10
    duration: 15s
    timeout: 2s
    expect:
      body_file: assets/download-binary.png
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "assets"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "assets", "download-binary.png"), []byte{0x89, 'P', 'N', 'G'}, 0o644))
	path := filepath.Join(dir, "bench.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_Valid(t *testing.T) {
	path := writeConfig(t, validConfig)

	cfg, content, err := LoadConfigWithContent(path)
	require.NoError(t, err)
	assert.Equal(t, validConfig, content)

	assert.Equal(t, []string{"rust-axum", "python-fastapi"}, cfg.TargetNames())
	assert.Equal(t, 100*time.Millisecond, cfg.Benchmark.Readiness.Interval.Std())
	assert.Equal(t, DefaultReadinessTimeout, cfg.Benchmark.Readiness.RequestTimeout.Std())
	assert.Equal(t, DefaultOutput, cfg.GetOutput())

	plain := cfg.GetScenario("plain-text")
	require.NotNil(t, plain)
	assert.True(t, plain.IsRequestCount())
	assert.Equal(t, "GET", plain.HTTPMethod())
	assert.Equal(t, DefaultRequestTimeout, plain.RequestTimeout())

	download := cfg.GetScenario("download-binary")
	require.NotNil(t, download)
	assert.False(t, download.IsRequestCount())
	assert.Equal(t, 15*time.Second, download.Duration.Std())
	assert.Equal(t, filepath.Join(filepath.Dir(path), "assets", "download-binary.png"), download.Expect.BodyFile)

	fastapi := cfg.GetTarget("python-fastapi")
	require.NotNil(t, fastapi)
	assert.Equal(t, 18000, fastapi.PublishedPort())
	assert.Equal(t, DefaultHealthPath, fastapi.GetHealthPath())
}

func TestScenariosFor_UsesCatalogOrder(t *testing.T) {
	path := writeConfig(t, validConfig)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	target := cfg.GetTarget("rust-axum")
	target.Scenarios = []string{"download-binary", "plain-text"}
	var ids []string
	for _, s := range cfg.ScenariosFor(target) {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"plain-text", "download-binary"}, ids)
}

func TestLoadConfig_ExpandsEnvironment(t *testing.T) {
	t.Setenv("BENCH_IMAGE", "registry.example/axum:latest")
	path := writeConfig(t, `
benchmark:
  name: env
targets:
  - name: axum
    image: ${BENCH_IMAGE}
    port: 8000
    scenarios: [plain-text]
scenarios:
  - id: plain-text
    kind: plain-text
    path: /benchmark/plain-text
    concurrency: 1
    requests: 10
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "registry.example/axum:latest", cfg.Targets[0].Image)
}

func TestLoadConfig_ReportsAllProblems(t *testing.T) {
	path := writeConfig(t, `
benchmark:
  name: ""
targets:
  - name: axum
    image: ""
    port: 0
    scenarios: [missing]
  - name: axum
    image: img
    port: 8000
    scenarios: [plain-text]
scenarios:
  - id: plain-text
    kind: teapot
    path: benchmark/plain-text
    concurrency: 0
    duration: 10s
    requests: 5
`)
	_, err := LoadConfig(path)
	require.Error(t, err)

	msg := err.Error()
	for _, want := range []string{
		"benchmark name is required",
		"target axum: image is required",
		"target axum: port 0 is out of range",
		`unknown scenario "missing"`,
		"target axum: name is already used",
		`unknown kind "teapot"`,
		"path must start with /",
		"concurrency must be greater than 0",
		"duration and requests are mutually exclusive",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestLoadConfig_MalformedDuration(t *testing.T) {
	path := writeConfig(t, `
benchmark:
  name: x
targets:
  - name: axum
    image: img
    port: 8000
    scenarios: [plain-text]
scenarios:
  - id: plain-text
    kind: plain-text
    path: /benchmark/plain-text
    concurrency: 1
    duration: ten seconds
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml"))
	require.Error(t, err)
}

func TestMatrixDefaults(t *testing.T) {
	path := writeConfig(t, `
benchmark:
  name: matrix
targets:
  - name: axum
    image: img
    port: 8000
    scenarios: [matrix]
scenarios:
  - id: matrix
    kind: matrix-multiplication
    path: /benchmark/matrix-multiplication
    concurrency: 4
    requests: 100
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	s := cfg.GetScenario("matrix")
	assert.Equal(t, "POST", s.HTTPMethod())
	assert.Equal(t, DefaultMatrixSize, s.Matrix.Size)
	assert.Equal(t, DefaultMatrixPool, s.Matrix.Pool)
}

func TestLoadConfig_CPUPinning(t *testing.T) {
	path := writeConfig(t, `
benchmark:
  name: pinned
targets:
  - name: axum
    image: img
    port: 8000
    cpus: 2
    scenarios: [plain-text]
  - name: both
    image: img
    port: 8000
    cpus: 2
    cpuset: "0-1"
    scenarios: [plain-text]
  - name: broken
    image: img
    port: 8000
    cpuset: "3-1"
    scenarios: [plain-text]
scenarios:
  - id: plain-text
    kind: plain-text
    path: /benchmark/plain-text
    concurrency: 1
    requests: 10
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target both: cpuset and cpus are mutually exclusive")
	assert.Contains(t, err.Error(), `target broken: invalid range "3-1"`)
	assert.NotContains(t, err.Error(), "target axum")
}
