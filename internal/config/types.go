package config

import (
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type BenchmarkConfig struct {
	Benchmark BenchmarkInfo    `yaml:"benchmark"`
	Targets   []TargetConfig   `yaml:"targets"`
	Scenarios []ScenarioConfig `yaml:"scenarios"`
}

type BenchmarkInfo struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	LogLevel    string          `yaml:"log_level"`
	Output      string          `yaml:"output"`
	SpoolDir    string          `yaml:"spool_dir"`
	Network     bool            `yaml:"network"`
	Address     string          `yaml:"address"`
	Readiness   ReadinessConfig `yaml:"readiness"`
	Collect     CollectConfig   `yaml:"collect"`
	Registry    *RegistryConfig `yaml:"registry,omitempty"`
	Data        DataConfig      `yaml:"data"`
}

type ReadinessConfig struct {
	Interval       Duration `yaml:"interval"`
	MaxWait        Duration `yaml:"max_wait"`
	RequestTimeout Duration `yaml:"request_timeout"`
}

// CollectConfig enables resource sampling of the target container while a scenario runs.
type CollectConfig struct {
	Docker    bool     `yaml:"docker"`
	Perf      bool     `yaml:"perf"`
	Frequency Duration `yaml:"frequency"`
}

type RegistryConfig struct {
	Host     string `yaml:"host"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type DataConfig struct {
	DB *DatabaseConfig `yaml:"db,omitempty"`
}

type DatabaseConfig struct {
	Host string `yaml:"host"`
	Name string `yaml:"name"`
	Org  string `yaml:"org"`
	// Token falls back to INFLUXDB_TOKEN when empty.
	Token string `yaml:"token"`
}

type TargetConfig struct {
	Name        string            `yaml:"name"`
	Image       string            `yaml:"image"`
	Build       *BuildConfig      `yaml:"build,omitempty"`
	Port        int               `yaml:"port"`
	HostPort    int               `yaml:"host_port,omitempty"`
	HealthPath  string            `yaml:"health_path,omitempty"`
	Scenarios   []string          `yaml:"scenarios"`
	Environment map[string]string `yaml:"environment,omitempty"`
	Volumes     []string          `yaml:"volumes,omitempty"`
	Cpuset      string            `yaml:"cpuset,omitempty"`
	CPUs        int               `yaml:"cpus,omitempty"`
	MemoryMB    int64             `yaml:"memory_mb,omitempty"`
}

type BuildConfig struct {
	Context    string            `yaml:"context"`
	Dockerfile string            `yaml:"dockerfile,omitempty"`
	Args       map[string]string `yaml:"args,omitempty"`
}

// ScenarioKind selects how requests are shaped and how responses are judged.
type ScenarioKind string

const (
	KindPlainText            ScenarioKind = "plain-text"
	KindDownloadBinary       ScenarioKind = "download-binary"
	KindJSON                 ScenarioKind = "json"
	KindMatrixMultiplication ScenarioKind = "matrix-multiplication"
	KindIO                   ScenarioKind = "io"
)

var knownKinds = map[ScenarioKind]bool{
	KindPlainText:            true,
	KindDownloadBinary:       true,
	KindJSON:                 true,
	KindMatrixMultiplication: true,
	KindIO:                   true,
}

type ScenarioConfig struct {
	ID          string       `yaml:"id"`
	Kind        ScenarioKind `yaml:"kind"`
	Path        string       `yaml:"path"`
	Method      string       `yaml:"method,omitempty"`
	Concurrency int          `yaml:"concurrency"`
	Duration    Duration     `yaml:"duration,omitempty"`
	Requests    int64        `yaml:"requests,omitempty"`
	Timeout     Duration     `yaml:"timeout,omitempty"`
	Warmup      int64        `yaml:"warmup,omitempty"`
	Rate        float64      `yaml:"rate,omitempty"`
	Expect      Expectation  `yaml:"expect"`
	Matrix      MatrixConfig `yaml:"matrix"`
}

type Expectation struct {
	Status     []int  `yaml:"status,omitempty"`
	Body       string `yaml:"body,omitempty"`
	BodyFile   string `yaml:"body_file,omitempty"`
	JSONSchema string `yaml:"json_schema,omitempty"`
	MIME       string `yaml:"mime,omitempty"`
}

type MatrixConfig struct {
	Size int   `yaml:"size"`
	Pool int   `yaml:"pool"`
	Seed int64 `yaml:"seed"`
}

const (
	DefaultOutput            = "results.json"
	DefaultHealthPath        = "/benchmark/health"
	DefaultAddress           = "127.0.0.1"
	DefaultRequestTimeout    = 10 * time.Second
	DefaultReadinessInterval = 250 * time.Millisecond
	DefaultReadinessMaxWait  = 60 * time.Second
	DefaultReadinessTimeout  = 5 * time.Second
	DefaultCollectFrequency  = 500 * time.Millisecond
	DefaultMatrixSize        = 101
	DefaultMatrixPool        = 16
)

// Duration accepts Go duration strings ("30s", "250ms") in YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// IsRequestCount reports whether the scenario runs a fixed request budget instead of a duration.
func (s *ScenarioConfig) IsRequestCount() bool {
	return s.Requests > 0
}

func (s *ScenarioConfig) RequestTimeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout.Std()
	}
	return DefaultRequestTimeout
}

func (s *ScenarioConfig) HTTPMethod() string {
	if s.Method != "" {
		return strings.ToUpper(s.Method)
	}
	if s.Kind == KindMatrixMultiplication {
		return "POST"
	}
	return "GET"
}

func (t *TargetConfig) PublishedPort() int {
	if t.HostPort > 0 {
		return t.HostPort
	}
	return t.Port
}

// Pinned reports whether the target asks for dedicated CPUs.
func (t *TargetConfig) Pinned() bool {
	return t.Cpuset != "" || t.CPUs > 0
}

func (t *TargetConfig) GetHealthPath() string {
	if t.HealthPath != "" {
		return t.HealthPath
	}
	return DefaultHealthPath
}

func (t *TargetConfig) Supports(scenarioID string) bool {
	for _, id := range t.Scenarios {
		if id == scenarioID {
			return true
		}
	}
	return false
}

// GetScenario returns the catalog entry for id, or nil.
func (c *BenchmarkConfig) GetScenario(id string) *ScenarioConfig {
	for i := range c.Scenarios {
		if c.Scenarios[i].ID == id {
			return &c.Scenarios[i]
		}
	}
	return nil
}

// ScenariosFor returns the target's scenarios in catalog declaration order.
func (c *BenchmarkConfig) ScenariosFor(target *TargetConfig) []ScenarioConfig {
	var scenarios []ScenarioConfig
	for _, s := range c.Scenarios {
		if target.Supports(s.ID) {
			scenarios = append(scenarios, s)
		}
	}
	return scenarios
}

func (c *BenchmarkConfig) GetTarget(name string) *TargetConfig {
	for i := range c.Targets {
		if c.Targets[i].Name == name {
			return &c.Targets[i]
		}
	}
	return nil
}

func (c *BenchmarkConfig) TargetNames() []string {
	names := make([]string, 0, len(c.Targets))
	for _, t := range c.Targets {
		names = append(names, t.Name)
	}
	return names
}

func (c *BenchmarkConfig) GetOutput() string {
	if c.Benchmark.Output != "" {
		return c.Benchmark.Output
	}
	return DefaultOutput
}

func (c *BenchmarkConfig) GetAddress() string {
	if c.Benchmark.Address != "" {
		return c.Benchmark.Address
	}
	return DefaultAddress
}

func (c *BenchmarkConfig) GetRegistryConfig() *RegistryConfig {
	return c.Benchmark.Registry
}
