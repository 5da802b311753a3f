package loadgen

import (
	"time"
)

type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeHTTPError      Outcome = "http_error"
	OutcomeTransportError Outcome = "transport_error"
	OutcomeTimeout        Outcome = "timeout"
)

// Sample is one measured request. Failed requests are samples too: their latency is the
// time spent until the failure or timeout was observed.
type Sample struct {
	Target    string        `json:"target"`
	Scenario  string        `json:"scenario"`
	StartedAt time.Time     `json:"started_at"`
	Latency   time.Duration `json:"latency"`
	Outcome   Outcome       `json:"outcome"`
	Status    int           `json:"status,omitempty"`
	Bytes     int64         `json:"bytes,omitempty"`
	Error     string        `json:"error,omitempty"`
}

func (s *Sample) CompletedAt() time.Time {
	return s.StartedAt.Add(s.Latency)
}

func (s *Sample) Succeeded() bool {
	return s.Outcome == OutcomeSuccess
}

// Run holds everything one (target, scenario) execution produced.
type Run struct {
	Target     string
	Scenario   string
	Workers    int
	StartedAt  time.Time
	EndedAt    time.Time
	Samples    []Sample
	Incomplete bool
}

func (r *Run) Elapsed() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}
