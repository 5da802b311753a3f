package results

import (
	"math"
	"sort"
	"time"

	"webserver-bench/internal/loadgen"
)

// Reduce folds the samples of one (target, scenario) execution. The result does not
// depend on sample order.
func Reduce(target, scenario string, samples []loadgen.Sample) ScenarioResult {
	result := ScenarioResult{
		Target:      target,
		Scenario:    scenario,
		SampleCount: int64(len(samples)),
	}
	if len(samples) == 0 {
		return result
	}

	latencies := make([]time.Duration, len(samples))
	var sum int64
	for i := range samples {
		s := &samples[i]
		latencies[i] = s.Latency
		sum += int64(s.Latency)
		result.BytesReceived += s.Bytes

		switch s.Outcome {
		case loadgen.OutcomeSuccess:
			result.SuccessCount++
		case loadgen.OutcomeHTTPError:
			result.HTTPErrors++
		case loadgen.OutcomeTransportError:
			result.TransportErrors++
		case loadgen.OutcomeTimeout:
			result.Timeouts++
		}

		if s.Status != 0 {
			if result.StatusCodes == nil {
				result.StatusCodes = make(map[int]int64)
			}
			result.StatusCodes[s.Status]++
		}

		if result.FirstIssued.IsZero() || s.StartedAt.Before(result.FirstIssued) {
			result.FirstIssued = s.StartedAt
		}
		if done := s.CompletedAt(); done.After(result.LastCompleted) {
			result.LastCompleted = done
		}
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	result.Latency = LatencyStats{
		Min:  latencies[0],
		Max:  latencies[len(latencies)-1],
		Mean: time.Duration(sum / int64(len(latencies))),
		P50:  percentile(latencies, 50),
		P90:  percentile(latencies, 90),
		P99:  percentile(latencies, 99),
	}

	result.Elapsed = result.LastCompleted.Sub(result.FirstIssued)
	if result.Elapsed > 0 {
		result.Throughput = float64(result.SuccessCount) / result.Elapsed.Seconds()
	}

	return result
}

// percentile uses the nearest-rank method on an ascending slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	rank := int(math.Ceil(p * float64(len(sorted)) / 100))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

// Ordering is the declaration order results are reported in.
type Ordering struct {
	Targets   []string
	Scenarios []string
}

func indexOf(names []string) map[string]int {
	idx := make(map[string]int, len(names))
	for i, n := range names {
		idx[n] = i
	}
	return idx
}

// Merge builds the report body. Every result and failure appears exactly once: results
// sorted by target declaration then catalog order, failures by target declaration then
// occurrence. Entries naming an undeclared target keep their relative order at the end.
func Merge(order Ordering, scenarioResults []ScenarioResult, failures []TargetFailure) *RunReport {
	targets := indexOf(order.Targets)
	scenarios := indexOf(order.Scenarios)

	rank := func(idx map[string]int, name string) int {
		if i, ok := idx[name]; ok {
			return i
		}
		return len(idx)
	}

	merged := make([]ScenarioResult, len(scenarioResults))
	copy(merged, scenarioResults)
	sort.SliceStable(merged, func(i, j int) bool {
		ti, tj := rank(targets, merged[i].Target), rank(targets, merged[j].Target)
		if ti != tj {
			return ti < tj
		}
		return rank(scenarios, merged[i].Scenario) < rank(scenarios, merged[j].Scenario)
	})

	failed := make([]TargetFailure, len(failures))
	copy(failed, failures)
	sort.SliceStable(failed, func(i, j int) bool {
		return rank(targets, failed[i].Target) < rank(targets, failed[j].Target)
	})

	report := &RunReport{
		Results:  merged,
		Failures: failed,
	}
	report.Targets = Summarize(order.Targets, merged, failed)
	return report
}

// Summarize totals results per declared target, in declaration order.
func Summarize(targets []string, scenarioResults []ScenarioResult, failures []TargetFailure) []TargetSummary {
	summaries := make([]TargetSummary, 0, len(targets))
	for _, name := range targets {
		summary := TargetSummary{Target: name}
		for _, r := range scenarioResults {
			if r.Target != name {
				continue
			}
			summary.Scenarios++
			summary.Samples += r.SampleCount
			summary.Successes += r.SuccessCount
		}
		if summary.Samples > 0 {
			summary.SuccessRatio = float64(summary.Successes) / float64(summary.Samples)
		}
		for _, f := range failures {
			if f.Target == name {
				summary.Failed = true
				summary.FailedStage = f.Stage
				break
			}
		}
		summaries = append(summaries, summary)
	}
	return summaries
}

// ScenarioCount is the number of results reported for target.
func (r *RunReport) ScenarioCount(target string) int {
	n := 0
	for _, res := range r.Results {
		if res.Target == target {
			n++
		}
	}
	return n
}
