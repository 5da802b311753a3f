package config

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
)

type checksumScenario struct {
	ID          string       `json:"id"`
	Kind        ScenarioKind `json:"kind"`
	Path        string       `json:"path"`
	Method      string       `json:"method"`
	Concurrency int          `json:"concurrency"`
	DurationNS  int64        `json:"duration_ns,omitempty"`
	Requests    int64        `json:"requests,omitempty"`
	TimeoutNS   int64        `json:"timeout_ns"`
	Warmup      int64        `json:"warmup,omitempty"`
	Rate        float64      `json:"rate,omitempty"`
}

type checksumTarget struct {
	Name      string   `json:"name"`
	Image     string   `json:"image"`
	Port      int      `json:"port"`
	Cpuset    string   `json:"cpuset,omitempty"`
	CPUs      int      `json:"cpus,omitempty"`
	MemoryMB  int64    `json:"memory_mb,omitempty"`
	Scenarios []string `json:"scenarios"`
}

type checksumPayload struct {
	Targets   []checksumTarget   `json:"targets"`
	Scenarios []checksumScenario `json:"scenarios"`
}

// Checksum returns a short, stable checksum that identifies the effective benchmark matrix
// (targets × scenario load parameters), independent of logging, output and export settings.
//
// It computes MD5 over a canonical JSON representation and returns the first 6 hex
// characters (equivalent to `md5sum | cut -c1-6`). Declaration order is significant
// because it defines the report order.
func Checksum(cfg *BenchmarkConfig) (string, error) {
	if cfg == nil {
		return "", nil
	}

	payload := checksumPayload{
		Targets:   make([]checksumTarget, 0, len(cfg.Targets)),
		Scenarios: make([]checksumScenario, 0, len(cfg.Scenarios)),
	}
	for _, t := range cfg.Targets {
		payload.Targets = append(payload.Targets, checksumTarget{
			Name:      t.Name,
			Image:     t.Image,
			Port:      t.Port,
			Cpuset:    t.Cpuset,
			CPUs:      t.CPUs,
			MemoryMB:  t.MemoryMB,
			Scenarios: t.Scenarios,
		})
	}
	for _, s := range cfg.Scenarios {
		payload.Scenarios = append(payload.Scenarios, checksumScenario{
			ID:          s.ID,
			Kind:        s.Kind,
			Path:        s.Path,
			Method:      s.HTTPMethod(),
			Concurrency: s.Concurrency,
			DurationNS:  int64(s.Duration),
			Requests:    s.Requests,
			TimeoutNS:   int64(s.RequestTimeout()),
			Warmup:      s.Warmup,
			Rate:        s.Rate,
		})
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	sum := md5.Sum(b)
	hexStr := hex.EncodeToString(sum[:])
	if len(hexStr) > 6 {
		hexStr = hexStr[:6]
	}
	return hexStr, nil
}
