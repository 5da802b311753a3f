package collectors

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"webserver-bench/internal/dataframe"
	"webserver-bench/internal/logging"

	"github.com/elastic/go-perf"
	"github.com/sirupsen/logrus"
)

type eventState struct {
	value   uint64
	enabled time.Duration
	running time.Duration
}

// PerfCollector counts hardware events for every task of a container cgroup.
type PerfCollector struct {
	events     []*perf.Event
	cgroupFile *os.File

	lastState map[int]*eventState
	mutex     sync.Mutex
}

// CgroupPath finds the container's cgroup under the systemd and cgroupfs layouts.
func CgroupPath(containerID string) (string, error) {
	candidates := []string{
		fmt.Sprintf("/sys/fs/cgroup/system.slice/docker-%s.scope", containerID),
		filepath.Join("/sys/fs/cgroup/docker", containerID),
		filepath.Join("/sys/fs/cgroup/perf_event/docker", containerID),
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no cgroup found for container %s", shortID(containerID))
}

func NewPerfCollector(cgroupPath string) (*PerfCollector, error) {
	logger := logging.GetLogger()

	cgroupFile, err := os.Open(cgroupPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open cgroup %s: %w", cgroupPath, err)
	}

	collector := &PerfCollector{
		cgroupFile: cgroupFile,
		lastState:  make(map[int]*eventState),
	}

	hardwareCounters := []perf.HardwareCounter{
		perf.Instructions,
		perf.CPUCycles,
		perf.CacheMisses,
		perf.CacheReferences,
	}

	// cgroup events must be opened per CPU
	for cpu := 0; cpu < runtime.NumCPU(); cpu++ {
		for _, counter := range hardwareCounters {
			attr := &perf.Attr{}
			counter.Configure(attr)
			attr.CountFormat.Enabled = true
			attr.CountFormat.Running = true

			event, err := perf.OpenCGroup(attr, int(cgroupFile.Fd()), cpu, nil)
			if err != nil {
				collector.Close()
				logger.WithFields(logrus.Fields{
					"counter": counter,
					"cpu":     cpu,
				}).WithError(err).Debug("Failed to open perf event")
				return nil, fmt.Errorf("failed to open perf event %v on cpu %d: %w", counter, cpu, err)
			}
			collector.events = append(collector.events, event)
		}
	}

	for _, event := range collector.events {
		if err := event.Enable(); err != nil {
			collector.Close()
			return nil, fmt.Errorf("failed to enable perf event: %w", err)
		}
	}

	return collector, nil
}

// Collect returns the multiplexing-corrected deltas since the previous call. The first
// call only establishes the baseline.
func (pc *PerfCollector) Collect() *dataframe.PerfMetrics {
	pc.mutex.Lock()
	defer pc.mutex.Unlock()

	if len(pc.events) == 0 {
		return nil
	}

	counterSums := make(map[string]uint64)
	for i, event := range pc.events {
		count, err := event.ReadCount()
		if err != nil {
			continue
		}

		current := &eventState{
			value:   count.Value,
			enabled: count.Enabled,
			running: count.Running,
		}
		if last, ok := pc.lastState[i]; ok {
			counterSums[count.Label] += scaleDelta(last, current)
		}
		pc.lastState[i] = current
	}

	if len(counterSums) == 0 {
		return nil
	}

	value := func(label string) *uint64 {
		if v, ok := counterSums[label]; ok && v > 0 {
			return &v
		}
		return nil
	}

	metrics := &dataframe.PerfMetrics{
		Instructions:    value("instructions"),
		Cycles:          value("cpu-cycles"),
		CacheMisses:     value("cache-misses"),
		CacheReferences: value("cache-references"),
	}

	if metrics.CacheMisses != nil && metrics.CacheReferences != nil {
		rate := float64(*metrics.CacheMisses) / float64(*metrics.CacheReferences)
		metrics.CacheMissRate = &rate
	}
	if metrics.Instructions != nil && metrics.Cycles != nil {
		ipc := float64(*metrics.Instructions) / float64(*metrics.Cycles)
		metrics.InstructionsPerCycle = &ipc
	}

	return metrics
}

// scaleDelta extrapolates a counter delta when the kernel multiplexed the event.
func scaleDelta(last, current *eventState) uint64 {
	if current.value < last.value {
		return 0
	}
	delta := current.value - last.value
	deltaEnabled := current.enabled - last.enabled
	deltaRunning := current.running - last.running

	if deltaRunning > 0 && deltaEnabled > 0 && deltaRunning != deltaEnabled {
		return uint64(float64(delta) * float64(deltaEnabled) / float64(deltaRunning))
	}
	return delta
}

func (pc *PerfCollector) Close() {
	for _, event := range pc.events {
		if event != nil {
			event.Close()
		}
	}
	pc.events = nil

	if pc.cgroupFile != nil {
		pc.cgroupFile.Close()
		pc.cgroupFile = nil
	}
}
