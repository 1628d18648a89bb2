package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/bdobrica/Kakehashi/common/trace"
)

const (
	labelManagedBy = "kakehashi.managed-by"
	labelRequestID = "kakehashi.request-id"
	managedByValue = "kakehashi"

	// WorkspaceDir is where the files root is mounted inside the container.
	WorkspaceDir = "/workspace"

	// cleanupTimeout bounds log collection and removal after the command
	// context is gone.
	cleanupTimeout = 10 * time.Second
	// defaultMemoryBytes limits each container's memory.
	defaultMemoryBytes = 256 << 20
)

// DockerRunner runs every command in a fresh container of Image with
// networking disabled and the files root mounted read-only.
type DockerRunner struct {
	client   *dockerclient.Client
	image    string
	rootDir  string
	memLimit int64
}

// NewDockerRunner connects to the Docker daemon named by DOCKER_HOST (or
// the default socket).
func NewDockerRunner(img, rootDir string) (*DockerRunner, error) {
	if img == "" {
		return nil, errors.New("docker runner: image is required")
	}
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &DockerRunner{client: cli, image: img, rootDir: rootDir, memLimit: defaultMemoryBytes}, nil
}

// Close releases the Docker client.
func (r *DockerRunner) Close() error { return r.client.Close() }

// Run implements Runner.
func (r *DockerRunner) Run(ctx context.Context, cmd Command) (*Outcome, error) {
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cfg, hostCfg := r.containerConfig(cmd, trace.ID(ctx))
	id, err := r.create(runCtx, cfg, hostCfg)
	if err != nil {
		return nil, err
	}
	defer r.remove(id)

	start := time.Now()
	if err := r.client.ContainerStart(runCtx, id, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	out := &Outcome{}
	waitCh, errCh := r.client.ContainerWait(runCtx, id, container.WaitConditionNotRunning)
	select {
	case res := <-waitCh:
		out.ExitCode = int(res.StatusCode)
	case err := <-errCh:
		if !errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("wait for container: %w", err)
		}
		out.TimedOut = true
		out.ExitCode = -1
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		out.TimedOut = true
		out.ExitCode = -1
	}
	out.Duration = time.Since(start)

	r.collectLogs(id, out)
	return out, nil
}

// containerConfig builds the create request for cmd. It has no side effects.
func (r *DockerRunner) containerConfig(cmd Command, requestID string) (*container.Config, *container.HostConfig) {
	labels := map[string]string{labelManagedBy: managedByValue}
	if requestID != "" {
		labels[labelRequestID] = requestID
	}
	cfg := &container.Config{
		Image:           r.image,
		Entrypoint:      []string{cmd.Name},
		Cmd:             append([]string(nil), cmd.Args...),
		WorkingDir:      WorkspaceDir,
		NetworkDisabled: true,
		AttachStdout:    true,
		AttachStderr:    true,
		Labels:          labels,
	}
	hostCfg := &container.HostConfig{
		NetworkMode: "none",
		CapDrop:     []string{"ALL"},
		SecurityOpt: []string{"no-new-privileges"},
		Resources:   container.Resources{Memory: r.memLimit},
	}
	if r.rootDir != "" {
		hostCfg.Mounts = []mount.Mount{{
			Type:     mount.TypeBind,
			Source:   r.rootDir,
			Target:   WorkspaceDir,
			ReadOnly: true,
		}}
	}
	return cfg, hostCfg
}

func (r *DockerRunner) create(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig) (string, error) {
	resp, err := r.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err == nil {
		return resp.ID, nil
	}
	if !dockerclient.IsErrNotFound(err) {
		return "", fmt.Errorf("create container: %w", err)
	}

	slog.Info("pulling command image", "image", r.image)
	rc, err := r.client.ImagePull(ctx, r.image, image.PullOptions{})
	if err != nil {
		return "", fmt.Errorf("pull image %q: %w", r.image, err)
	}
	_, _ = io.Copy(io.Discard, rc)
	_ = rc.Close()

	resp, err = r.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}
	return resp.ID, nil
}

func (r *DockerRunner) collectLogs(id string, out *Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if out.TimedOut {
		_ = r.client.ContainerKill(ctx, id, "KILL")
	}
	rc, err := r.client.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		slog.Warn("read container logs", "container", id, "err", err)
		return
	}
	defer rc.Close()
	stdout := &cappedBuffer{limit: MaxOutputBytes}
	stderr := &cappedBuffer{limit: MaxOutputBytes}
	if _, err := stdcopy.StdCopy(stdout, stderr, rc); err != nil {
		slog.Warn("demultiplex container logs", "container", id, "err", err)
	}
	out.Stdout = stdout.String()
	out.Stderr = stderr.String()
	out.Truncated = stdout.truncated || stderr.truncated
}

func (r *DockerRunner) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := r.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		if !dockerclient.IsErrNotFound(err) {
			slog.Warn("remove command container", "container", id, "err", err)
		}
	}
}

var _ Runner = (*DockerRunner)(nil)
