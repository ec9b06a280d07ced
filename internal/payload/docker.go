package payload

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerRuntime runs simulation containers on the host Docker daemon.
type DockerRuntime struct {
	client *client.Client
}

// NewDockerRuntime connects to the daemon configured by DOCKER_HOST and friends.
func NewDockerRuntime() (*DockerRuntime, error) {
	c, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerRuntime{client: c}, nil
}

// Pull fetches image unless it is already present.
func (d *DockerRuntime) Pull(ctx context.Context, ref string) error {
	if _, err := d.client.ImageInspect(ctx, ref); err == nil {
		return nil
	}
	reader, err := d.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

func (d *DockerRuntime) Create(ctx context.Context, spec ContainerSpec) (string, error) {
	cfg := &container.Config{
		Image:  spec.Image,
		Cmd:    spec.Cmd,
		Env:    spec.Env,
		Labels: spec.Labels,
	}
	host := &container.HostConfig{
		Resources: container.Resources{
			NanoCPUs: int64(spec.CPU * 1e9),
			Memory:   int64(spec.MemoryMB) * 1024 * 1024,
		},
	}
	if spec.HostDir != "" {
		cfg.WorkingDir = workspaceMount
		host.Mounts = []mount.Mount{{
			Type:   mount.TypeBind,
			Source: spec.HostDir,
			Target: workspaceMount,
		}}
	}

	resp, err := d.client.ContainerCreate(ctx, cfg, host, nil, nil, spec.Name)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (d *DockerRuntime) Start(ctx context.Context, id string) error {
	return d.client.ContainerStart(ctx, id, container.StartOptions{})
}

// Wait blocks until the container stops and returns its exit code.
func (d *DockerRuntime) Wait(ctx context.Context, id string) (int, error) {
	statusCh, errCh := d.client.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	case err := <-errCh:
		return -1, err
	case status := <-statusCh:
		if status.Error != nil {
			return int(status.StatusCode), fmt.Errorf("%s", status.Error.Message)
		}
		return int(status.StatusCode), nil
	}
}

// Logs follows the container's combined stdout and stderr into w until it exits.
func (d *DockerRuntime) Logs(ctx context.Context, id string, w io.Writer) error {
	logs, err := d.client.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Timestamps: true,
	})
	if err != nil {
		return err
	}
	defer logs.Close()
	_, err = stdcopy.StdCopy(w, w, logs)
	return err
}

func (d *DockerRuntime) Stop(ctx context.Context, id string, grace time.Duration) error {
	seconds := int(grace.Seconds())
	return d.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &seconds})
}

func (d *DockerRuntime) Remove(ctx context.Context, id string) error {
	return d.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}

// Sweep removes containers left behind by a previous process.
func (d *DockerRuntime) Sweep(ctx context.Context) (int, error) {
	containers, err := d.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", "managed-by=simtracker")),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list containers: %w", err)
	}
	removed := 0
	for _, c := range containers {
		if err := d.Remove(ctx, c.ID); err != nil && !strings.Contains(err.Error(), "No such container") {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Ping reports whether the daemon is reachable.
func (d *DockerRuntime) Ping(ctx context.Context) error {
	_, err := d.client.Ping(ctx)
	return err
}

func (d *DockerRuntime) Close() error {
	return d.client.Close()
}

var _ ContainerRuntime = (*DockerRuntime)(nil)
