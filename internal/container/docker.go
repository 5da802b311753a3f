package container

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"

	"webserver-bench/internal/collectors"
	"webserver-bench/internal/config"
	"webserver-bench/internal/logging"

	"github.com/docker/docker/api/types"
	containertypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/sirupsen/logrus"
)

const labelPrefix = "webserver-bench."

type DockerRuntime struct {
	client   *client.Client
	registry *config.RegistryConfig
}

// NewDockerRuntime connects to the daemon named by the DOCKER_* environment variables.
func NewDockerRuntime(registryConfig *config.RegistryConfig) (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &DockerRuntime{client: cli, registry: registryConfig}, nil
}

func (d *DockerRuntime) Version(ctx context.Context) (string, error) {
	v, err := d.client.ServerVersion(ctx)
	if err != nil {
		return "", err
	}
	return v.Version, nil
}

func (d *DockerRuntime) Stats() collectors.StatsClient {
	return d.client
}

func (d *DockerRuntime) Close() error {
	return d.client.Close()
}

func (d *DockerRuntime) PrepareImage(ctx context.Context, target *config.TargetConfig) error {
	if target.Build != nil {
		return d.buildImage(ctx, target)
	}
	return d.pullImage(ctx, target)
}

func (d *DockerRuntime) pullImage(ctx context.Context, target *config.TargetConfig) error {
	logger := logging.GetLogger()
	fields := logrus.Fields{"target": target.Name, "image": target.Image}

	pullOptions := types.ImagePullOptions{}
	if d.registry != nil && isPrivateRegistryImage(target.Image, d.registry.Host) {
		auth, err := createRegistryAuth(d.registry)
		if err != nil {
			return err
		}
		pullOptions.RegistryAuth = auth
		logger.WithFields(fields).WithField("registry", d.registry.Host).Debug("Using private registry authentication")
	}

	logger.WithFields(fields).Info("Pulling image")

	pullResp, err := d.client.ImagePull(ctx, target.Image, pullOptions)
	if err == nil {
		defer pullResp.Close()
		err = jsonmessage.DisplayJSONMessagesStream(pullResp, io.Discard, 0, false, nil)
	}
	if err != nil {
		// a locally built or tagged image is good enough
		if _, _, inspectErr := d.client.ImageInspectWithRaw(ctx, target.Image); inspectErr == nil {
			logger.WithFields(fields).WithError(err).Warn("Pull failed, using local image")
			return nil
		}
		return fmt.Errorf("failed to pull image %s: %w", target.Image, err)
	}

	logger.WithFields(fields).Info("Image pulled successfully")
	return nil
}

func (d *DockerRuntime) buildImage(ctx context.Context, target *config.TargetConfig) error {
	logger := logging.GetLogger()
	fields := logrus.Fields{"target": target.Name, "image": target.Image, "context": target.Build.Context}

	buildContext, err := archive.TarWithOptions(target.Build.Context, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("failed to archive build context %s: %w", target.Build.Context, err)
	}
	defer buildContext.Close()

	buildArgs := make(map[string]*string, len(target.Build.Args))
	for key, value := range target.Build.Args {
		v := value
		buildArgs[key] = &v
	}

	logger.WithFields(fields).Info("Building image")

	resp, err := d.client.ImageBuild(ctx, buildContext, types.ImageBuildOptions{
		Tags:        []string{target.Image},
		Dockerfile:  target.Build.Dockerfile,
		BuildArgs:   buildArgs,
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return fmt.Errorf("failed to build image %s: %w", target.Image, err)
	}
	defer resp.Body.Close()

	var out bytes.Buffer
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, &out, 0, false, nil); err != nil {
		logger.WithFields(fields).Debug(out.String())
		return fmt.Errorf("failed to build image %s: %w", target.Image, err)
	}

	logger.WithFields(fields).Info("Image built successfully")
	return nil
}

func (d *DockerRuntime) CreateNetwork(ctx context.Context, name string) (string, error) {
	resp, err := d.client.NetworkCreate(ctx, name, types.NetworkCreate{
		Driver:         "bridge",
		CheckDuplicate: true,
		Labels:         map[string]string{labelPrefix + "network": name},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create network %s: %w", name, err)
	}

	logging.GetLogger().WithFields(logrus.Fields{
		"network_name": name,
		"network_id":   shortID(resp.ID),
	}).Info("Docker network created")

	return resp.ID, nil
}

func (d *DockerRuntime) RemoveNetwork(ctx context.Context, networkID string) error {
	if err := d.client.NetworkRemove(ctx, networkID); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to remove network %s: %w", shortID(networkID), err)
	}
	logging.GetLogger().WithField("network_id", shortID(networkID)).Debug("Docker network removed")
	return nil
}

// ContainerName is unique per run so leftovers of an aborted run never collide.
func ContainerName(runID, target string) string {
	if len(runID) > 8 {
		runID = runID[:8]
	}
	return fmt.Sprintf("webserver-bench-%s-%s", runID, target)
}

func containerSpec(target *config.TargetConfig, opts StartOptions) (*containertypes.Config, *containertypes.HostConfig, error) {
	port, err := nat.NewPort("tcp", strconv.Itoa(target.Port))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid container port %d: %w", target.Port, err)
	}

	cfg := &containertypes.Config{
		Image:        target.Image,
		ExposedPorts: nat.PortSet{port: struct{}{}},
		Labels: map[string]string{
			labelPrefix + "run":    opts.RunID,
			labelPrefix + "target": target.Name,
		},
	}

	if len(target.Environment) > 0 {
		keys := make([]string, 0, len(target.Environment))
		for key := range target.Environment {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		cfg.Env = make([]string, 0, len(keys))
		for _, key := range keys {
			cfg.Env = append(cfg.Env, fmt.Sprintf("%s=%s", key, target.Environment[key]))
		}
	}

	hostAddress := opts.HostAddress
	if hostAddress == "" {
		hostAddress = config.DefaultAddress
	}

	hostConfig := &containertypes.HostConfig{
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{
				{
					HostIP:   hostAddress,
					HostPort: strconv.Itoa(target.PublishedPort()),
				},
			},
		},
		Binds: target.Volumes,
	}
	hostConfig.CpusetCpus = target.Cpuset
	if target.MemoryMB > 0 {
		hostConfig.Memory = target.MemoryMB * 1024 * 1024
	}
	if opts.NetworkName != "" {
		hostConfig.NetworkMode = containertypes.NetworkMode(opts.NetworkName)
	}

	return cfg, hostConfig, nil
}

func (d *DockerRuntime) Start(ctx context.Context, target *config.TargetConfig, opts StartOptions) (*Instance, error) {
	logger := logging.GetLogger()

	cfg, hostConfig, err := containerSpec(target, opts)
	if err != nil {
		return nil, err
	}

	name := ContainerName(opts.RunID, target.Name)
	resp, err := d.client.ContainerCreate(ctx, cfg, hostConfig, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create container %s: %w", name, err)
	}

	instance := &Instance{
		ID:       resp.ID,
		Name:     name,
		HostPort: target.PublishedPort(),
	}

	logger.WithFields(logrus.Fields{
		"target":       target.Name,
		"container_id": shortID(resp.ID),
	}).Debug("Container created")

	if err := d.client.ContainerStart(ctx, resp.ID, containertypes.StartOptions{}); err != nil {
		return instance, fmt.Errorf("failed to start container %s: %w", name, err)
	}

	info, err := d.client.ContainerInspect(ctx, resp.ID)
	if err != nil {
		return instance, fmt.Errorf("failed to inspect container %s: %w", name, err)
	}
	instance.PID = info.State.Pid

	logger.WithFields(logrus.Fields{
		"target":       target.Name,
		"container_id": shortID(resp.ID),
		"pid":          instance.PID,
		"port":         instance.HostPort,
	}).Info("Container started")

	return instance, nil
}

func (d *DockerRuntime) Logs(ctx context.Context, containerID string, tail int) (string, error) {
	rc, err := d.client.ContainerLogs(ctx, containerID, containertypes.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(tail),
	})
	if err != nil {
		return "", fmt.Errorf("failed to read logs of %s: %w", shortID(containerID), err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		return buf.String(), err
	}
	return buf.String(), nil
}

func (d *DockerRuntime) Remove(ctx context.Context, containerID string) error {
	removeOptions := types.ContainerRemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	}

	if err := d.client.ContainerRemove(ctx, containerID, removeOptions); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to remove container %s: %w", shortID(containerID), err)
	}
	logging.GetLogger().WithField("container_id", shortID(containerID)).Debug("Container force removed")
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
