package dataframe

import (
	"sync"
	"time"

	"webserver-bench/internal/results"
)

// Frame holds the resource samples taken from one container while one scenario ran.
type Frame struct {
	steps []*SamplingStep
	mutex sync.RWMutex
}

type SamplingStep struct {
	Timestamp time.Time      `json:"timestamp"`
	Perf      *PerfMetrics   `json:"perf,omitempty"`
	Docker    *DockerMetrics `json:"docker,omitempty"`
}

// PerfMetrics are counter deltas for one sampling interval.
type PerfMetrics struct {
	CacheMisses     *uint64 `json:"cache_misses,omitempty"`
	CacheReferences *uint64 `json:"cache_references,omitempty"`
	Instructions    *uint64 `json:"instructions,omitempty"`
	Cycles          *uint64 `json:"cycles,omitempty"`

	CacheMissRate        *float64 `json:"cache_miss_rate,omitempty"`
	InstructionsPerCycle *float64 `json:"instructions_per_cycle,omitempty"`
}

// DockerMetrics mirror one stats frame. Network and disk counters are cumulative.
type DockerMetrics struct {
	CPUUsageTotal      *uint64  `json:"cpu_usage_total,omitempty"`
	CPUUsagePercent    *float64 `json:"cpu_usage_percent,omitempty"`
	MemoryUsage        *uint64  `json:"memory_usage,omitempty"`
	MemoryLimit        *uint64  `json:"memory_limit,omitempty"`
	MemoryUsagePercent *float64 `json:"memory_usage_percent,omitempty"`
	NetworkRxBytes     *uint64  `json:"network_rx_bytes,omitempty"`
	NetworkTxBytes     *uint64  `json:"network_tx_bytes,omitempty"`
	DiskReadBytes      *uint64  `json:"disk_read_bytes,omitempty"`
	DiskWriteBytes     *uint64  `json:"disk_write_bytes,omitempty"`
}

func NewFrame() *Frame {
	return &Frame{}
}

func (f *Frame) AddStep(step *SamplingStep) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.steps = append(f.steps, step)
}

func (f *Frame) Len() int {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	return len(f.steps)
}

func (f *Frame) GetAllSteps() []*SamplingStep {
	f.mutex.RLock()
	defer f.mutex.RUnlock()

	steps := make([]*SamplingStep, len(f.steps))
	copy(steps, f.steps)
	return steps
}

func (f *Frame) GetLatestStep() *SamplingStep {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	if len(f.steps) == 0 {
		return nil
	}
	return f.steps[len(f.steps)-1]
}

// Summarize reduces the frame to the usage attached to a scenario result, or nil when
// nothing was sampled.
func (f *Frame) Summarize() *results.ResourceUsage {
	steps := f.GetAllSteps()
	if len(steps) == 0 {
		return nil
	}

	usage := &results.ResourceUsage{Samples: len(steps)}

	var cpuSum float64
	var cpuCount int
	var memSum uint64
	var memCount uint64
	var firstRx, lastRx, firstTx, lastTx *uint64

	for _, step := range steps {
		if d := step.Docker; d != nil {
			if d.CPUUsagePercent != nil {
				cpuSum += *d.CPUUsagePercent
				cpuCount++
				if *d.CPUUsagePercent > usage.PeakCPUPercent {
					usage.PeakCPUPercent = *d.CPUUsagePercent
				}
			}
			if d.MemoryUsage != nil {
				memSum += *d.MemoryUsage
				memCount++
				if *d.MemoryUsage > usage.PeakMemoryBytes {
					usage.PeakMemoryBytes = *d.MemoryUsage
				}
			}
			if d.NetworkRxBytes != nil {
				if firstRx == nil {
					firstRx = d.NetworkRxBytes
				}
				lastRx = d.NetworkRxBytes
			}
			if d.NetworkTxBytes != nil {
				if firstTx == nil {
					firstTx = d.NetworkTxBytes
				}
				lastTx = d.NetworkTxBytes
			}
		}
		if p := step.Perf; p != nil {
			if p.Instructions != nil {
				usage.Instructions += *p.Instructions
			}
			if p.Cycles != nil {
				usage.Cycles += *p.Cycles
			}
		}
	}

	if cpuCount > 0 {
		usage.AvgCPUPercent = cpuSum / float64(cpuCount)
	}
	if memCount > 0 {
		usage.AvgMemoryBytes = memSum / memCount
	}
	usage.NetworkRxBytes = counterDelta(firstRx, lastRx)
	usage.NetworkTxBytes = counterDelta(firstTx, lastTx)
	if usage.Cycles > 0 {
		usage.IPC = float64(usage.Instructions) / float64(usage.Cycles)
	}

	return usage
}

func counterDelta(first, last *uint64) uint64 {
	if first == nil || last == nil || *last < *first {
		return 0
	}
	return *last - *first
}
