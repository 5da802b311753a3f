package results

import (
	"time"

	"webserver-bench/internal/host"
)

type Stage string

const (
	StageBuild     Stage = "build"
	StageStart     Stage = "start"
	StageReadiness Stage = "readiness"
	StageScenario  Stage = "scenario"
)

// LatencyStats are nanosecond durations over every sample, failures included.
type LatencyStats struct {
	Min  time.Duration `json:"min_ns"`
	Max  time.Duration `json:"max_ns"`
	Mean time.Duration `json:"mean_ns"`
	P50  time.Duration `json:"p50_ns"`
	P90  time.Duration `json:"p90_ns"`
	P99  time.Duration `json:"p99_ns"`
}

// ResourceUsage summarizes the target container while one scenario ran.
type ResourceUsage struct {
	Samples         int     `json:"samples"`
	AvgCPUPercent   float64 `json:"avg_cpu_percent"`
	PeakCPUPercent  float64 `json:"peak_cpu_percent"`
	AvgMemoryBytes  uint64  `json:"avg_memory_bytes"`
	PeakMemoryBytes uint64  `json:"peak_memory_bytes"`
	NetworkRxBytes  uint64  `json:"network_rx_bytes"`
	NetworkTxBytes  uint64  `json:"network_tx_bytes"`
	Instructions    uint64  `json:"instructions,omitempty"`
	Cycles          uint64  `json:"cycles,omitempty"`
	IPC             float64 `json:"ipc,omitempty"`
}

type ScenarioResult struct {
	Target          string         `json:"target"`
	Scenario        string         `json:"scenario"`
	SampleCount     int64          `json:"sample_count"`
	SuccessCount    int64          `json:"success_count"`
	HTTPErrors      int64          `json:"http_errors"`
	TransportErrors int64          `json:"transport_errors"`
	Timeouts        int64          `json:"timeouts"`
	StatusCodes     map[int]int64  `json:"status_codes,omitempty"`
	BytesReceived   int64          `json:"bytes_received"`
	Latency         LatencyStats   `json:"latency"`
	Throughput      float64        `json:"throughput_rps"`
	FirstIssued     time.Time      `json:"first_issued"`
	LastCompleted   time.Time      `json:"last_completed"`
	Elapsed         time.Duration  `json:"elapsed_ns"`
	Incomplete      bool           `json:"incomplete"`
	Resources       *ResourceUsage `json:"resources,omitempty"`
}

type TargetFailure struct {
	Target   string    `json:"target"`
	Stage    Stage     `json:"stage"`
	Scenario string    `json:"scenario,omitempty"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// TargetSummary totals every result of one target.
type TargetSummary struct {
	Target       string  `json:"target"`
	Scenarios    int     `json:"scenarios"`
	Samples      int64   `json:"samples"`
	Successes    int64   `json:"successes"`
	SuccessRatio float64 `json:"success_ratio"`
	Failed       bool    `json:"failed"`
	FailedStage  Stage   `json:"failed_stage,omitempty"`
}

type RunReport struct {
	RunID          string           `json:"run_id"`
	Name           string           `json:"name"`
	Version        string           `json:"version"`
	ConfigChecksum string           `json:"config_checksum"`
	StartedAt      time.Time        `json:"started_at"`
	EndedAt        time.Time        `json:"ended_at"`
	Cancelled      bool             `json:"cancelled"`
	Host           *host.HostInfo   `json:"host,omitempty"`
	Results        []ScenarioResult `json:"results"`
	Failures       []TargetFailure  `json:"failures"`
	Targets        []TargetSummary  `json:"targets"`
}
