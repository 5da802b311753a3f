package collectors

import (
	"context"
	"time"

	"webserver-bench/internal/dataframe"
	"webserver-bench/internal/logging"

	"github.com/sirupsen/logrus"
)

type CollectorConfig struct {
	Frequency    time.Duration
	EnableDocker bool
	EnablePerf   bool
}

func (c CollectorConfig) Enabled() bool {
	return c.EnableDocker || c.EnablePerf
}

// ContainerCollector samples one container into a frame until stopped. One collector
// covers exactly one scenario execution.
type ContainerCollector struct {
	ContainerID string
	config      CollectorConfig
	client      StatsClient
	frame       *dataframe.Frame

	perfCollector   *PerfCollector
	dockerCollector *DockerCollector

	cancel context.CancelFunc
	done   chan struct{}
}

func NewContainerCollector(client StatsClient, containerID string, config CollectorConfig) *ContainerCollector {
	if config.Frequency <= 0 {
		config.Frequency = 500 * time.Millisecond
	}
	return &ContainerCollector{
		ContainerID: containerID,
		config:      config,
		client:      client,
		frame:       dataframe.NewFrame(),
	}
}

func (cc *ContainerCollector) Start(ctx context.Context) {
	logger := logging.GetLogger()
	fields := logrus.Fields{"container_id": shortID(cc.ContainerID)}

	ctx, cc.cancel = context.WithCancel(ctx)
	cc.done = make(chan struct{})

	if cc.config.EnablePerf {
		path, err := CgroupPath(cc.ContainerID)
		if err == nil {
			cc.perfCollector, err = NewPerfCollector(path)
		}
		if err != nil {
			logger.WithFields(fields).WithError(err).Warn("Perf counters unavailable, continuing without them")
			cc.perfCollector = nil
		}
	}

	if cc.config.EnableDocker && cc.client != nil {
		cc.dockerCollector = NewDockerCollector(ctx, cc.client, cc.ContainerID)
	}

	go cc.collect(ctx)
}

func (cc *ContainerCollector) collect(ctx context.Context) {
	defer close(cc.done)

	ticker := time.NewTicker(cc.config.Frequency)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			step := &dataframe.SamplingStep{Timestamp: now}
			if cc.perfCollector != nil {
				step.Perf = cc.perfCollector.Collect()
			}
			if cc.dockerCollector != nil {
				step.Docker = cc.dockerCollector.Collect()
			}
			if step.Perf == nil && step.Docker == nil {
				continue
			}
			cc.frame.AddStep(step)
		}
	}
}

// Stop ends sampling and returns everything collected. Safe to call more than once.
func (cc *ContainerCollector) Stop() *dataframe.Frame {
	if cc.cancel != nil {
		cc.cancel()
		<-cc.done
		cc.cancel = nil
	}
	if cc.dockerCollector != nil {
		cc.dockerCollector.Close()
		cc.dockerCollector = nil
	}
	if cc.perfCollector != nil {
		cc.perfCollector.Close()
		cc.perfCollector = nil
	}
	return cc.frame
}
