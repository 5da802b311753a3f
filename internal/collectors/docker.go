package collectors

import (
	"context"
	"encoding/json"
	"sync"

	"webserver-bench/internal/dataframe"
	"webserver-bench/internal/logging"

	"github.com/docker/docker/api/types"
)

// StatsClient is the part of the Docker client the stats collector needs.
type StatsClient interface {
	ContainerStats(ctx context.Context, containerID string, stream bool) (types.ContainerStats, error)
}

type DockerCollector struct {
	client        StatsClient
	containerID   string
	latestMetrics *dataframe.DockerMetrics
	metricsMutex  sync.RWMutex
	streamCancel  context.CancelFunc
	done          chan struct{}
}

func NewDockerCollector(ctx context.Context, client StatsClient, containerID string) *DockerCollector {
	streamCtx, cancel := context.WithCancel(ctx)

	collector := &DockerCollector{
		client:       client,
		containerID:  containerID,
		streamCancel: cancel,
		done:         make(chan struct{}),
	}

	go collector.streamStats(streamCtx)

	return collector
}

func (dc *DockerCollector) streamStats(ctx context.Context) {
	defer close(dc.done)
	logger := logging.GetLogger()

	stats, err := dc.client.ContainerStats(ctx, dc.containerID, true)
	if err != nil {
		if ctx.Err() == nil {
			logger.WithField("container_id", shortID(dc.containerID)).WithError(err).Warn("Failed to open docker stats stream")
		}
		return
	}
	defer stats.Body.Close()

	decoder := json.NewDecoder(stats.Body)
	for {
		var dockerStats types.StatsJSON
		if err := decoder.Decode(&dockerStats); err != nil {
			return
		}

		metrics := ParseStats(&dockerStats)

		dc.metricsMutex.Lock()
		dc.latestMetrics = metrics
		dc.metricsMutex.Unlock()

		if ctx.Err() != nil {
			return
		}
	}
}

// Collect returns a copy of the most recent stats frame, or nil before the first one.
func (dc *DockerCollector) Collect() *dataframe.DockerMetrics {
	dc.metricsMutex.RLock()
	defer dc.metricsMutex.RUnlock()

	if dc.latestMetrics == nil {
		return nil
	}
	copied := *dc.latestMetrics
	return &copied
}

// ParseStats converts a stats frame. CPU percent needs the previous frame embedded by the
// daemon, so it is absent from the first frame of a stream.
func ParseStats(dockerStats *types.StatsJSON) *dataframe.DockerMetrics {
	metrics := &dataframe.DockerMetrics{}

	if dockerStats.CPUStats.CPUUsage.TotalUsage > 0 {
		totalUsage := dockerStats.CPUStats.CPUUsage.TotalUsage
		metrics.CPUUsageTotal = &totalUsage
	}

	if dockerStats.CPUStats.CPUUsage.TotalUsage > 0 && dockerStats.PreCPUStats.CPUUsage.TotalUsage > 0 {
		cpuDelta := float64(dockerStats.CPUStats.CPUUsage.TotalUsage) - float64(dockerStats.PreCPUStats.CPUUsage.TotalUsage)
		systemDelta := float64(dockerStats.CPUStats.SystemUsage) - float64(dockerStats.PreCPUStats.SystemUsage)

		onlineCPUs := float64(dockerStats.CPUStats.OnlineCPUs)
		if onlineCPUs == 0 {
			onlineCPUs = float64(len(dockerStats.CPUStats.CPUUsage.PercpuUsage))
		}

		if systemDelta > 0 && cpuDelta >= 0 {
			cpuPercent := (cpuDelta / systemDelta) * onlineCPUs * 100.0
			metrics.CPUUsagePercent = &cpuPercent
		}
	}

	if dockerStats.MemoryStats.Usage > 0 {
		memUsage := dockerStats.MemoryStats.Usage
		metrics.MemoryUsage = &memUsage
	}

	if dockerStats.MemoryStats.Limit > 0 {
		memLimit := dockerStats.MemoryStats.Limit
		metrics.MemoryLimit = &memLimit
	}

	if dockerStats.MemoryStats.Usage > 0 && dockerStats.MemoryStats.Limit > 0 {
		memPercent := float64(dockerStats.MemoryStats.Usage) / float64(dockerStats.MemoryStats.Limit) * 100.0
		metrics.MemoryUsagePercent = &memPercent
	}

	if len(dockerStats.Networks) > 0 {
		var rx, tx uint64
		for _, netStats := range dockerStats.Networks {
			rx += netStats.RxBytes
			tx += netStats.TxBytes
		}
		metrics.NetworkRxBytes = &rx
		metrics.NetworkTxBytes = &tx
	}

	for _, blkioStats := range dockerStats.BlkioStats.IoServiceBytesRecursive {
		value := blkioStats.Value
		switch blkioStats.Op {
		case "Read", "read":
			metrics.DiskReadBytes = &value
		case "Write", "write":
			metrics.DiskWriteBytes = &value
		}
	}

	return metrics
}

func (dc *DockerCollector) Close() {
	if dc.streamCancel != nil {
		dc.streamCancel()
	}
	<-dc.done
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
