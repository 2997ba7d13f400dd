package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// ContainerExecutor drives a sandbox runner inside a real Docker container
// rather than a bare host subprocess, attaching to its stdio over a docker
// attach socket carrying Docker's multiplexed stream frames — exactly what
// FrameReader decodes. It applies the hardened SecurityConfig settings
// table, isolating untrusted code execution.
type ContainerExecutor struct {
	security SecurityConfig
	logger   *slog.Logger

	docker      *client.Client
	containerID string
	conn        attachedConn

	stdin  *LineWriter
	stdout *FrameReader
	alive  boolFlag
}

// attachedConn is the subset of a Docker hijacked attach connection this
// package needs: a combined read/write stream plus a way to release it.
type attachedConn interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close()
}

// NewContainerExecutor builds a Docker-backed executor using cfg, which
// must at minimum set Image.
func NewContainerExecutor(cfg SecurityConfig, logger *slog.Logger) *ContainerExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContainerExecutor{security: cfg, logger: logger}
}

// Start creates and starts the sandbox container with the hardened
// settings table applied, then attaches to its stdio.
func (e *ContainerExecutor) Start(ctx context.Context) error {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("sandbox: docker client: %w", err)
	}
	e.docker = cli

	hostConfig := &container.HostConfig{
		CapDrop:        []string{"ALL"},
		Privileged:     e.security.Privileged,
		ReadonlyRootfs: e.security.ReadOnlyRootFS,
		SecurityOpt:    []string{"no-new-privileges:true"},
	}
	if e.security.NetworkDisabled {
		hostConfig.NetworkMode = "none"
	}
	if e.security.MemoryLimitMiB > 0 {
		hostConfig.Resources.Memory = int64(e.security.MemoryLimitMiB) * 1024 * 1024
	}
	if e.security.CPUCount > 0 {
		hostConfig.Resources.NanoCPUs = int64(e.security.CPUCount) * 1_000_000_000
	}

	created, err := cli.ContainerCreate(ctx, &container.Config{
		Image:        e.security.Image,
		OpenStdin:    true,
		StdinOnce:    false,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          false,
		NetworkDisabled: e.security.NetworkDisabled,
	}, hostConfig, nil, nil, "")
	if err != nil {
		return fmt.Errorf("sandbox: create container: %w", err)
	}
	e.containerID = created.ID

	if err := cli.ContainerStart(ctx, e.containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("sandbox: start container: %w", err)
	}

	hijacked, err := cli.ContainerAttach(ctx, e.containerID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return fmt.Errorf("sandbox: attach container stdio: %w", err)
	}
	e.conn = hijacked.Conn

	e.stdin = NewLineWriter(hijacked.Conn)
	e.stdout = NewFrameReader(hijacked.Conn)
	e.alive.set(true)
	e.logger.Info("sandbox container started", "image", e.security.Image, "container_id", e.containerID)
	return nil
}

func (e *ContainerExecutor) SetupContext(ctx context.Context, documents []string) error {
	return roundTripOn(ctx, e.stdin, e.stdout, SetupRequest(documents), &e.alive)
}

func (e *ContainerExecutor) ResetNamespace(ctx context.Context) error {
	return roundTripOn(ctx, e.stdin, e.stdout, ResetRequest(), &e.alive)
}

func (e *ContainerExecutor) Execute(ctx context.Context, code string, timeout time.Duration, onQuery QueryHandler) (ExecutionResult, error) {
	deadlineCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return executeOn(deadlineCtx, e.stdin, e.stdout, code, onQuery, &e.alive)
}

// Stop terminates the container. Idempotent.
func (e *ContainerExecutor) Stop(ctx context.Context) error {
	e.alive.set(false)
	if e.conn != nil {
		e.conn.Close()
	}
	if e.docker == nil || e.containerID == "" {
		return nil
	}
	timeoutSec := 5
	_ = e.docker.ContainerStop(ctx, e.containerID, container.StopOptions{Timeout: &timeoutSec})
	return e.docker.ContainerRemove(ctx, e.containerID, container.RemoveOptions{Force: true})
}

func (e *ContainerExecutor) IsAlive() bool { return e.alive.get() }
