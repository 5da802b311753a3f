package container

import (
	"context"

	"webserver-bench/internal/collectors"
	"webserver-bench/internal/config"
)

// Instance is a started target container.
type Instance struct {
	ID       string
	Name     string
	PID      int
	HostPort int
}

// Runtime is everything the orchestrator needs from a container engine.
type Runtime interface {
	// PrepareImage pulls or builds the target image.
	PrepareImage(ctx context.Context, target *config.TargetConfig) error
	// Start creates and starts the target container, publishing its port.
	Start(ctx context.Context, target *config.TargetConfig, opts StartOptions) (*Instance, error)
	// Logs returns the last lines the container wrote to stdout and stderr.
	Logs(ctx context.Context, containerID string, tail int) (string, error)
	// Remove force-removes the container. A container that is already gone is not an error.
	Remove(ctx context.Context, containerID string) error
	CreateNetwork(ctx context.Context, name string) (string, error)
	RemoveNetwork(ctx context.Context, networkID string) error
	Version(ctx context.Context) (string, error)
	// Stats returns the stats source for resource collection, or nil when unsupported.
	Stats() collectors.StatsClient
	Close() error
}

type StartOptions struct {
	RunID       string
	NetworkName string
	HostAddress string
}
