package payload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"simtracker/internal/simulation"
)

// Container channel names beyond the defaults.
const (
	ExitCodeChannel = "exit_code"
	LogFile         = "container.log"
	workspaceMount  = "/workspace"
)

// ContainerSpec describes the container backing one simulation.
type ContainerSpec struct {
	Name     string
	Image    string
	Cmd      []string
	Env      []string
	Labels   map[string]string
	HostDir  string // bind-mounted at /workspace when set
	CPU      float64
	MemoryMB int
}

// ContainerRuntime is the subset of a container engine the container payload needs.
type ContainerRuntime interface {
	Pull(ctx context.Context, image string) error
	Create(ctx context.Context, spec ContainerSpec) (string, error)
	Start(ctx context.Context, id string) error
	Wait(ctx context.Context, id string) (int, error)
	Logs(ctx context.Context, id string, w io.Writer) error
	Stop(ctx context.Context, id string, grace time.Duration) error
	Remove(ctx context.Context, id string) error
}

// Container runs a container image as a simulation. Progress requests are
// answered with the elapsed run time, a stop request stops the container, and
// the exit code is published on exit_code. A non-zero exit fails the run.
//
// Params: image (required), command, env, cpu, memory_mb, stop_grace (seconds).
type Container struct {
	runtime ContainerRuntime

	spec  ContainerSpec
	grace time.Duration

	mu          sync.Mutex
	containerID string
}

// ContainerFactory returns a registry factory bound to runtime.
func ContainerFactory(runtime ContainerRuntime) simulation.Factory {
	return func(cfg simulation.Config) (simulation.Payload, error) {
		if _, ok := cfg.Params["image"]; !ok {
			return nil, errors.New("image is required")
		}
		return &Container{runtime: runtime}, nil
	}
}

func (c *Container) Channels() []string { return []string{ExitCodeChannel} }

func (c *Container) Setup(ctx context.Context, sim *simulation.Simulation, params map[string]any) error {
	spec, grace, err := containerSpec(sim, params)
	if err != nil {
		return err
	}
	c.spec, c.grace = spec, grace

	if err := c.runtime.Pull(ctx, spec.Image); err != nil {
		return fmt.Errorf("pull %s: %w", spec.Image, err)
	}
	id, err := c.runtime.Create(ctx, spec)
	if err != nil {
		return fmt.Errorf("create container: %w", err)
	}
	c.mu.Lock()
	c.containerID = id
	c.mu.Unlock()
	return nil
}

func containerSpec(sim *simulation.Simulation, params map[string]any) (ContainerSpec, time.Duration, error) {
	image, err := stringParam(params, "image", "")
	if err != nil {
		return ContainerSpec{}, 0, err
	}
	if image == "" {
		return ContainerSpec{}, 0, errors.New("image is required")
	}
	command, err := stringParam(params, "command", "")
	if err != nil {
		return ContainerSpec{}, 0, err
	}
	env, err := stringMapParam(params, "env")
	if err != nil {
		return ContainerSpec{}, 0, err
	}
	cpu, _, err := number(params, "cpu")
	if err != nil {
		return ContainerSpec{}, 0, err
	}
	memory, err := intParam(params, "memory_mb", 0)
	if err != nil {
		return ContainerSpec{}, 0, err
	}
	grace, err := durationParam(params, "stop_grace", 10*time.Second)
	if err != nil {
		return ContainerSpec{}, 0, err
	}

	id := sim.ID().String()
	spec := ContainerSpec{
		Name:  "simtracker-" + id,
		Image: image,
		Labels: map[string]string{
			"simtracker.sim-id":  id,
			"simtracker.sim-key": sim.Config().Key,
			"managed-by":         "simtracker",
		},
		HostDir:  sim.StoragePath(),
		CPU:      cpu,
		MemoryMB: memory,
	}
	if command != "" {
		spec.Cmd = []string{"/bin/sh", "-c", command}
	}
	for k, v := range env {
		spec.Env = append(spec.Env, k+"="+v)
	}
	spec.Env = append(spec.Env, "SIMTRACKER_SIM_ID="+id)
	return spec, grace, nil
}

func (c *Container) id() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.containerID
}

func (c *Container) Run(ctx context.Context, sim *simulation.Simulation, _ map[string]any) error {
	id := c.id()
	if id == "" {
		return errors.New("container was not created")
	}
	logger := slog.With("component", "container", "simId", sim.ID().String(), "containerId", shortID(id))

	if err := c.runtime.Start(ctx, id); err != nil {
		return fmt.Errorf("start container: %w", err)
	}
	logger.Info("Container started", "image", c.spec.Image)

	type exit struct {
		code int
		err  error
	}
	exited := make(chan exit, 1)
	go func() {
		code, err := c.runtime.Wait(ctx, id)
		exited <- exit{code, err}
	}()
	logsDone := c.captureLogs(ctx, logger, id, sim.StoragePath())

	started := time.Now()
	ticker := time.NewTicker(responsiveness)
	defer ticker.Stop()
	stopping := false

	for {
		select {
		case res := <-exited:
			select {
			case <-logsDone:
			case <-time.After(2 * time.Second):
				logger.Warn("Container log capture did not finish")
			}
			if res.err != nil {
				return fmt.Errorf("wait for container: %w", res.err)
			}
			sim.Interactor().SetOut(ExitCodeChannel, res.code)
			logger.Info("Container exited", "exitCode", res.code, "stopped", stopping)
			if res.code != 0 && !stopping {
				return fmt.Errorf("container exited with code %d", res.code)
			}
			return nil

		case <-ticker.C:
			if stopping {
				continue
			}
			progress := map[string]any{"elapsed": time.Since(started).Seconds(), "status": "running"}
			if serve(sim, progress) {
				stopping = true
				logger.Info("Stopping container", "grace", c.grace)
				if err := c.runtime.Stop(context.WithoutCancel(ctx), id, c.grace); err != nil {
					logger.Warn("Failed to stop container", "error", err)
				}
			}
		}
	}
}

// captureLogs copies container output into the simulation's storage
// directory. The returned channel closes when the copy ends.
func (c *Container) captureLogs(ctx context.Context, logger *slog.Logger, id, dir string) <-chan struct{} {
	done := make(chan struct{})
	if dir == "" {
		close(done)
		return done
	}
	go func() {
		defer close(done)
		f, err := os.Create(filepath.Join(dir, LogFile))
		if err != nil {
			logger.Warn("Failed to create container log file", "error", err)
			return
		}
		defer f.Close()
		if err := c.runtime.Logs(ctx, id, f); err != nil && ctx.Err() == nil {
			logger.Debug("Container log stream ended", "error", err)
		}
	}()
	return done
}

// Close removes the container.
func (c *Container) Close() error {
	id := c.id()
	if id == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return c.runtime.Remove(ctx, id)
}

func shortID(id string) string {
	id = strings.TrimPrefix(id, "sha256:")
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
