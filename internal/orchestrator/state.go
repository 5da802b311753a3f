package orchestrator

import (
	"fmt"

	"webserver-bench/internal/results"
)

type State string

const (
	StatePending          State = "pending"
	StateBuilding         State = "building"
	StateStarting         State = "starting"
	StateProbingReadiness State = "probing_readiness"
	StateRunningScenarios State = "running_scenarios"
	StateTornDown         State = "torn_down"
	StateFailed           State = "failed"
)

func (s State) Terminal() bool {
	return s == StateTornDown || s == StateFailed
}

// StageError is a per-target failure. It never aborts the run.
type StageError struct {
	Target   string
	Stage    results.Stage
	Scenario string
	Err      error
}

func (e *StageError) Error() string {
	if e.Scenario != "" {
		return fmt.Sprintf("target %s: %s %s: %v", e.Target, e.Stage, e.Scenario, e.Err)
	}
	return fmt.Sprintf("target %s: %s: %v", e.Target, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
