package config

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"webserver-bench/internal/cpuallocator"
	"webserver-bench/internal/logging"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

func LoadConfig(path string) (*BenchmarkConfig, error) {
	config, _, err := LoadConfigWithContent(path)
	return config, err
}

func LoadConfigWithContent(path string) (*BenchmarkConfig, string, error) {
	logger := logging.GetLogger()

	data, err := os.ReadFile(path)
	if err != nil {
		logger.WithField("filepath", path).WithError(err).Error("Failed to read config file")
		return nil, "", err
	}

	originalContent := string(data)

	config, err := ParseConfig([]byte(expandEnvVars(originalContent)), filepath.Dir(path))
	if err != nil {
		logger.WithField("filepath", path).WithError(err).Error("Failed to parse config file")
		return nil, "", err
	}

	return config, originalContent, nil
}

// ParseConfig decodes, defaults and validates a configuration document. Relative file
// references (build contexts, expected body files) are resolved against baseDir.
func ParseConfig(data []byte, baseDir string) (*BenchmarkConfig, error) {
	var config BenchmarkConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("invalid yaml: %w", err)
	}

	applyDefaults(&config, baseDir)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func expandEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(content, func(match string) string {
		envVar := strings.Trim(match, "${}")
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})
}

func applyDefaults(config *BenchmarkConfig, baseDir string) {
	readiness := &config.Benchmark.Readiness
	if readiness.Interval <= 0 {
		readiness.Interval = Duration(DefaultReadinessInterval)
	}
	if readiness.MaxWait <= 0 {
		readiness.MaxWait = Duration(DefaultReadinessMaxWait)
	}
	if readiness.RequestTimeout <= 0 {
		readiness.RequestTimeout = Duration(DefaultReadinessTimeout)
	}
	if config.Benchmark.Collect.Frequency <= 0 {
		config.Benchmark.Collect.Frequency = Duration(DefaultCollectFrequency)
	}

	for i := range config.Targets {
		if b := config.Targets[i].Build; b != nil && b.Context != "" {
			b.Context = resolvePath(baseDir, b.Context)
		}
	}

	for i := range config.Scenarios {
		s := &config.Scenarios[i]
		if s.Expect.BodyFile != "" {
			s.Expect.BodyFile = resolvePath(baseDir, s.Expect.BodyFile)
		}
		if s.Expect.JSONSchema != "" && !strings.HasPrefix(strings.TrimSpace(s.Expect.JSONSchema), "{") {
			s.Expect.JSONSchema = resolvePath(baseDir, s.Expect.JSONSchema)
		}
		if s.Kind == KindMatrixMultiplication {
			if s.Matrix.Size <= 0 {
				s.Matrix.Size = DefaultMatrixSize
			}
			if s.Matrix.Pool <= 0 {
				s.Matrix.Pool = DefaultMatrixPool
			}
		}
	}
}

func resolvePath(baseDir, p string) string {
	if p == "" || filepath.IsAbs(p) || baseDir == "" {
		return p
	}
	return filepath.Join(baseDir, p)
}

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodHead:   true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// validateConfig reports every problem at once so a broken config is fixed in one pass.
func validateConfig(config *BenchmarkConfig) error {
	var result *multierror.Error

	if config.Benchmark.Name == "" {
		result = multierror.Append(result, fmt.Errorf("benchmark name is required"))
	}

	if len(config.Targets) == 0 {
		result = multierror.Append(result, fmt.Errorf("at least one target must be defined"))
	}

	if db := config.Benchmark.Data.DB; db != nil {
		if db.Host == "" || db.Name == "" || db.Org == "" {
			result = multierror.Append(result, fmt.Errorf("incomplete database configuration"))
		}
	}

	scenarioIDs := make(map[string]bool)
	for i, s := range config.Scenarios {
		if s.ID == "" {
			result = multierror.Append(result, fmt.Errorf("scenario #%d: id is required", i))
			continue
		}
		if scenarioIDs[s.ID] {
			result = multierror.Append(result, fmt.Errorf("scenario %s: id is already used", s.ID))
		}
		scenarioIDs[s.ID] = true

		if err := validateScenario(&s); err != nil {
			result = multierror.Append(result, fmt.Errorf("scenario %s: %w", s.ID, err))
		}
	}

	names := make(map[string]bool)
	for i, t := range config.Targets {
		if t.Name == "" {
			result = multierror.Append(result, fmt.Errorf("target #%d: name is required", i))
			continue
		}
		if names[t.Name] {
			result = multierror.Append(result, fmt.Errorf("target %s: name is already used", t.Name))
		}
		names[t.Name] = true

		if t.Image == "" {
			result = multierror.Append(result, fmt.Errorf("target %s: image is required", t.Name))
		}
		if t.Build != nil && t.Build.Context == "" {
			result = multierror.Append(result, fmt.Errorf("target %s: build context is required", t.Name))
		}
		if t.Port <= 0 || t.Port > 65535 {
			result = multierror.Append(result, fmt.Errorf("target %s: port %d is out of range", t.Name, t.Port))
		}
		if t.HostPort < 0 || t.HostPort > 65535 {
			result = multierror.Append(result, fmt.Errorf("target %s: host_port %d is out of range", t.Name, t.HostPort))
		}
		if !strings.HasPrefix(t.GetHealthPath(), "/") {
			result = multierror.Append(result, fmt.Errorf("target %s: health_path must start with /", t.Name))
		}
		if t.CPUs < 0 {
			result = multierror.Append(result, fmt.Errorf("target %s: cpus must not be negative", t.Name))
		}
		if t.Cpuset != "" {
			if t.CPUs > 0 {
				result = multierror.Append(result, fmt.Errorf("target %s: cpuset and cpus are mutually exclusive", t.Name))
			}
			if _, err := cpuallocator.ParseCPUSet(t.Cpuset); err != nil {
				result = multierror.Append(result, fmt.Errorf("target %s: %w", t.Name, err))
			}
		}
		if len(t.Scenarios) == 0 {
			result = multierror.Append(result, fmt.Errorf("target %s: at least one scenario must be declared", t.Name))
		}
		seen := make(map[string]bool)
		for _, id := range t.Scenarios {
			if !scenarioIDs[id] {
				result = multierror.Append(result, fmt.Errorf("target %s: unknown scenario %q", t.Name, id))
			}
			if seen[id] {
				result = multierror.Append(result, fmt.Errorf("target %s: scenario %q declared twice", t.Name, id))
			}
			seen[id] = true
		}
	}

	return result.ErrorOrNil()
}

func validateScenario(s *ScenarioConfig) error {
	var result *multierror.Error

	if !knownKinds[s.Kind] {
		result = multierror.Append(result, fmt.Errorf("unknown kind %q", s.Kind))
	}
	if !strings.HasPrefix(s.Path, "/") {
		result = multierror.Append(result, fmt.Errorf("path must start with /"))
	}
	if !allowedMethods[s.HTTPMethod()] {
		result = multierror.Append(result, fmt.Errorf("unsupported method %q", s.Method))
	}
	if s.Concurrency <= 0 {
		result = multierror.Append(result, fmt.Errorf("concurrency must be greater than 0"))
	}

	hasDuration := s.Duration > 0
	hasCount := s.Requests > 0
	switch {
	case hasDuration && hasCount:
		result = multierror.Append(result, fmt.Errorf("duration and requests are mutually exclusive"))
	case !hasDuration && !hasCount:
		result = multierror.Append(result, fmt.Errorf("one of duration or requests must be greater than 0"))
	}
	if s.Requests < 0 {
		result = multierror.Append(result, fmt.Errorf("requests must not be negative"))
	}
	if s.Timeout < 0 {
		result = multierror.Append(result, fmt.Errorf("timeout must not be negative"))
	}
	if s.Warmup < 0 {
		result = multierror.Append(result, fmt.Errorf("warmup must not be negative"))
	}
	if s.Rate < 0 {
		result = multierror.Append(result, fmt.Errorf("rate must not be negative"))
	}
	for _, code := range s.Expect.Status {
		if code < 100 || code > 599 {
			result = multierror.Append(result, fmt.Errorf("expected status %d is not an HTTP status", code))
		}
	}
	if s.Expect.BodyFile != "" {
		if _, err := os.Stat(s.Expect.BodyFile); err != nil {
			result = multierror.Append(result, fmt.Errorf("body_file: %w", err))
		}
	}

	return result.ErrorOrNil()
}
