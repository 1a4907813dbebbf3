// Package runtime drives the container runtime through the Docker Engine
// API. The orchestration layers depend on the Runtime interface only, so
// tests can substitute a fake without a live daemon.
package runtime

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// CreateSpec describes a container to create for a subscription.
type CreateSpec struct {
	Name       string
	Image      string
	Hostname   string
	Network    string
	IPAddress  string
	SSHPort    int
	CPUCores   float64
	MemoryMB   int64
	StorageGB  int64
	VolumePath string
	Env        map[string]string
	Labels     map[string]string
}

// State is the observed runtime state of a container.
type State struct {
	Running  bool
	ExitCode int
	Error    string
}

// StatsSample is one resource usage sample read from the runtime.
type StatsSample struct {
	CPUPercent   float64
	MemoryBytes  int64
	NetworkRxB   int64
	NetworkTxB   int64
	BlockReadB   int64
	BlockWriteB  int64
	ProcessCount int
}

// Runtime is the narrow interface the orchestration layers depend on.
type Runtime interface {
	CreateContainer(ctx context.Context, spec CreateSpec) (string, error)
	StartContainer(ctx context.Context, id string) error
	StopContainer(ctx context.Context, id string, timeout time.Duration) error
	RestartContainer(ctx context.Context, id string, timeout time.Duration) error
	RemoveContainer(ctx context.Context, id string, force bool) error
	InspectState(ctx context.Context, id string) (*State, error)
	Stats(ctx context.Context, id string) (*StatsSample, error)
	PullImage(ctx context.Context, ref string) error
	BuildImage(ctx context.Context, buildContext io.Reader, opts BuildOptions, onLine func(string)) (string, error)
	Ping(ctx context.Context) error
}

// DockerRuntime implements Runtime against a local Docker daemon.
type DockerRuntime struct {
	docker *dockerclient.Client
}

// NewDocker connects to the Docker daemon at the given socket.
func NewDocker(socket string) (*DockerRuntime, error) {
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.WithHost("unix://"+socket),
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerRuntime{docker: cli}, nil
}

// CreateContainer creates a container with the plan-derived resource limits,
// the SSH port binding and its static address on the managed network. The
// container is not started.
func (r *DockerRuntime) CreateContainer(ctx context.Context, spec CreateSpec) (string, error) {
	sshPort, err := nat.NewPort("tcp", "22")
	if err != nil {
		return "", fmt.Errorf("invalid ssh port: %w", err)
	}

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	containerConfig := &container.Config{
		Image:        spec.Image,
		Hostname:     spec.Hostname,
		Env:          env,
		Labels:       spec.Labels,
		ExposedPorts: nat.PortSet{sshPort: struct{}{}},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			sshPort: []nat.PortBinding{{
				HostIP:   "0.0.0.0",
				HostPort: strconv.Itoa(spec.SSHPort),
			}},
		},
		RestartPolicy: container.RestartPolicy{Name: "unless-stopped"},
		Binds:         []string{fmt.Sprintf("%s:/data", spec.VolumePath)},
		Resources: container.Resources{
			NanoCPUs: int64(spec.CPUCores * 1e9),
			Memory:   spec.MemoryMB * 1024 * 1024,
		},
	}

	resp, err := r.docker.ContainerCreate(ctx, containerConfig, hostConfig, networkingConfig(spec), nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	return resp.ID, nil
}

// networkingConfig attaches the container to the managed bridge network with
// its allocated static address. Without a network name the daemon falls back
// to the default bridge and assigns its own address.
func networkingConfig(spec CreateSpec) *network.NetworkingConfig {
	if spec.Network == "" {
		return &network.NetworkingConfig{}
	}
	endpoint := &network.EndpointSettings{}
	if spec.IPAddress != "" {
		endpoint.IPAMConfig = &network.EndpointIPAMConfig{IPv4Address: spec.IPAddress}
	}
	return &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{spec.Network: endpoint},
	}
}

// StartContainer starts a created or stopped container.
func (r *DockerRuntime) StartContainer(ctx context.Context, id string) error {
	if err := r.docker.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}
	return nil
}

// StopContainer stops a running container with a grace period.
func (r *DockerRuntime) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	seconds := int(timeout.Seconds())
	if err := r.docker.ContainerStop(ctx, id, container.StopOptions{Timeout: &seconds}); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	return nil
}

// RestartContainer restarts a container with a grace period.
func (r *DockerRuntime) RestartContainer(ctx context.Context, id string, timeout time.Duration) error {
	seconds := int(timeout.Seconds())
	if err := r.docker.ContainerRestart(ctx, id, container.StopOptions{Timeout: &seconds}); err != nil {
		return fmt.Errorf("failed to restart container: %w", err)
	}
	return nil
}

// RemoveContainer removes a container. Force removal also kills a running
// container; volumes are left in place because they are backed up separately.
func (r *DockerRuntime) RemoveContainer(ctx context.Context, id string, force bool) error {
	err := r.docker.ContainerRemove(ctx, id, container.RemoveOptions{Force: force})
	if err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

// InspectState reads the current runtime state of a container.
func (r *DockerRuntime) InspectState(ctx context.Context, id string) (*State, error) {
	info, err := r.docker.ContainerInspect(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}
	state := &State{}
	if info.State != nil {
		state.Running = info.State.Running
		state.ExitCode = info.State.ExitCode
		state.Error = info.State.Error
	}
	return state, nil
}

// PullImage pulls an image if it is not present locally.
func (r *DockerRuntime) PullImage(ctx context.Context, ref string) error {
	if _, _, err := r.docker.ImageInspectWithRaw(ctx, ref); err == nil {
		return nil
	}

	reader, err := r.docker.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	// Consume pull output to ensure the pull completes.
	_, err = io.Copy(io.Discard, reader)
	return err
}

// Ping verifies daemon connectivity for health checks.
func (r *DockerRuntime) Ping(ctx context.Context) error {
	_, err := r.docker.Ping(ctx)
	return err
}
