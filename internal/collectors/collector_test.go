package collectors

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStats struct {
	frames []types.StatsJSON
	err    error
}

func (f *fakeStats) ContainerStats(ctx context.Context, containerID string, stream bool) (types.ContainerStats, error) {
	if f.err != nil {
		return types.ContainerStats{}, f.err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, frame := range f.frames {
		if err := enc.Encode(frame); err != nil {
			return types.ContainerStats{}, err
		}
	}
	return types.ContainerStats{Body: io.NopCloser(&buf), OSType: "linux"}, nil
}

func statsFrame(total, preTotal, system, preSystem, mem uint64) types.StatsJSON {
	var s types.StatsJSON
	s.CPUStats.CPUUsage.TotalUsage = total
	s.CPUStats.SystemUsage = system
	s.CPUStats.OnlineCPUs = 4
	s.PreCPUStats.CPUUsage.TotalUsage = preTotal
	s.PreCPUStats.SystemUsage = preSystem
	s.MemoryStats.Usage = mem
	s.MemoryStats.Limit = 4 * mem
	s.Networks = map[string]types.NetworkStats{
		"eth0": {RxBytes: 100, TxBytes: 200},
		"eth1": {RxBytes: 1, TxBytes: 2},
	}
	return s
}

func TestParseStats(t *testing.T) {
	frame := statsFrame(2000, 1000, 20000, 10000, 1024)
	frame.BlkioStats.IoServiceBytesRecursive = []types.BlkioStatEntry{
		{Op: "Read", Value: 10},
		{Op: "Write", Value: 20},
	}

	m := ParseStats(&frame)
	require.NotNil(t, m.CPUUsagePercent)
	assert.InDelta(t, 40.0, *m.CPUUsagePercent, 1e-9)
	assert.Equal(t, uint64(1024), *m.MemoryUsage)
	assert.InDelta(t, 25.0, *m.MemoryUsagePercent, 1e-9)
	assert.Equal(t, uint64(101), *m.NetworkRxBytes)
	assert.Equal(t, uint64(202), *m.NetworkTxBytes)
	assert.Equal(t, uint64(10), *m.DiskReadBytes)
	assert.Equal(t, uint64(20), *m.DiskWriteBytes)
}

func TestParseStats_FirstFrameHasNoCPUPercent(t *testing.T) {
	frame := statsFrame(2000, 0, 20000, 0, 1024)
	m := ParseStats(&frame)
	assert.Nil(t, m.CPUUsagePercent)
	assert.NotNil(t, m.CPUUsageTotal)
}

func TestContainerCollector_SamplesDockerStats(t *testing.T) {
	client := &fakeStats{frames: []types.StatsJSON{
		statsFrame(2000, 1000, 20000, 10000, 1024),
		statsFrame(3000, 2000, 30000, 20000, 2048),
	}}

	cc := NewContainerCollector(client, "0123456789abcdef", CollectorConfig{
		Frequency:    10 * time.Millisecond,
		EnableDocker: true,
	})
	cc.Start(context.Background())
	time.Sleep(80 * time.Millisecond)
	frame := cc.Stop()

	require.Greater(t, frame.Len(), 0)
	latest := frame.GetLatestStep()
	require.NotNil(t, latest.Docker)
	assert.Equal(t, uint64(2048), *latest.Docker.MemoryUsage)

	usage := frame.Summarize()
	require.NotNil(t, usage)
	assert.Equal(t, uint64(2048), usage.PeakMemoryBytes)

	// second Stop is a no-op
	assert.Same(t, frame, cc.Stop())
}

func TestContainerCollector_StreamFailureYieldsEmptyFrame(t *testing.T) {
	cc := NewContainerCollector(&fakeStats{err: errors.New("daemon gone")}, "abc", CollectorConfig{
		Frequency:    5 * time.Millisecond,
		EnableDocker: true,
	})
	cc.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	frame := cc.Stop()
	assert.Zero(t, frame.Len())
	assert.Nil(t, frame.Summarize())
}

func TestScaleDelta(t *testing.T) {
	last := &eventState{value: 100, enabled: time.Second, running: time.Second}
	assert.Equal(t, uint64(50), scaleDelta(last, &eventState{value: 150, enabled: 2 * time.Second, running: 2 * time.Second}))
	// running half the enabled time doubles the delta
	assert.Equal(t, uint64(100), scaleDelta(last, &eventState{value: 150, enabled: 3 * time.Second, running: 2 * time.Second}))
	assert.Zero(t, scaleDelta(last, &eventState{value: 50}))
}
