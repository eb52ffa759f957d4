// Package sandbox runs learner code in throwaway Docker containers.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"

	"github.com/ashureev/codetutor/internal/domain"
)

const (
	containerUser = "65534"
	workingDir    = "/tmp"

	cpuQuota  = 50000 // 0.5 CPU
	pidsLimit = 64

	// maxOutputBytes caps each of stdout and stderr.
	maxOutputBytes = 64 * 1024

	cleanupTimeout = 10 * time.Second
)

// ErrUnsupportedLanguage is returned for languages the sandbox cannot run.
var ErrUnsupportedLanguage = errors.New("language not supported by sandbox")

// Runner executes a code snippet and reports its output.
type Runner interface {
	Run(ctx context.Context, language, code string) (*domain.RunResult, error)
}

type languageSpec struct {
	image string
	cmd   func(code string) []string
}

var languages = map[string]languageSpec{
	"python": {
		image: "python:3.12-alpine",
		cmd:   func(code string) []string { return []string{"python3", "-c", code} },
	},
	"javascript": {
		image: "node:22-alpine",
		cmd:   func(code string) []string { return []string{"node", "-e", code} },
	},
	"shell": {
		image: "alpine:3.20",
		cmd:   func(code string) []string { return []string{"sh", "-c", code} },
	},
}

var languageAliases = map[string]string{
	"py":      "python",
	"python3": "python",
	"js":      "javascript",
	"node":    "javascript",
	"sh":      "shell",
	"bash":    "shell",
}

// Supported reports whether language can be run.
func Supported(language string) bool {
	_, ok := languages[canonicalLanguage(language)]
	return ok
}

func canonicalLanguage(language string) string {
	l := strings.ToLower(strings.TrimSpace(language))
	if alias, ok := languageAliases[l]; ok {
		return alias
	}
	return l
}

// Limits bound a single run.
type Limits struct {
	Timeout  time.Duration
	MemoryMB int64
}

// DockerRunner runs each snippet in a fresh container with no network and is
// removed afterwards.
type DockerRunner struct {
	cli     *client.Client
	runtime string // Container runtime: "" = default (runc), "runsc" = gVisor
	limits  Limits
	logger  *slog.Logger
}

// NewDockerRunner connects to the Docker daemon from the environment.
func NewDockerRunner(runtime string, limits Limits, logger *slog.Logger) (*DockerRunner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if limits.Timeout <= 0 {
		limits.Timeout = 10 * time.Second
	}
	if limits.MemoryMB <= 0 {
		limits.MemoryMB = 128
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if runtime != "" {
		logger.Info("Sandbox docker client initialized", "runtime", runtime)
	} else {
		logger.Info("Sandbox docker client initialized", "runtime", "default")
	}
	return &DockerRunner{cli: cli, runtime: runtime, limits: limits, logger: logger}, nil
}

// Ping checks that the daemon is reachable.
func (r *DockerRunner) Ping(ctx context.Context) error {
	if _, err := r.cli.Ping(ctx); err != nil {
		return fmt.Errorf("ping docker: %w", err)
	}
	return nil
}

// Close releases the Docker client.
func (r *DockerRunner) Close() error {
	return r.cli.Close()
}

// Run executes code and waits at most the configured timeout. A run that
// times out is killed and reported with TimedOut set, not as an error.
func (r *DockerRunner) Run(ctx context.Context, language, code string) (*domain.RunResult, error) {
	spec, ok := languages[canonicalLanguage(language)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}

	config, hostConfig := containerConfig(spec, code, r.runtime, r.limits)
	name := "codetutor-run-" + uuid.NewString()

	id, err := r.create(ctx, config, hostConfig, name)
	if err != nil {
		return nil, err
	}
	defer r.remove(id)

	start := time.Now()
	if err := r.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start sandbox container %s: %w", id, err)
	}

	result := &domain.RunResult{}
	runCtx, cancel := context.WithTimeout(ctx, r.limits.Timeout)
	defer cancel()

	statusCh, errCh := r.cli.ContainerWait(runCtx, id, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		result.ExitCode = int(status.StatusCode)
		if status.Error != nil {
			r.logger.Warn("Sandbox wait reported error", "container_id", id, "error", status.Error.Message)
		}
	case err := <-errCh:
		if !errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("wait for sandbox container %s: %w", id, err)
		}
		result.TimedOut = true
		result.ExitCode = -1
		if killErr := r.cli.ContainerKill(context.WithoutCancel(ctx), id, "KILL"); killErr != nil && !errdefs.IsNotFound(killErr) {
			r.logger.Warn("Failed to kill timed out sandbox container", "container_id", id, "error", killErr)
		}
	}
	result.Duration = time.Since(start).Milliseconds()

	stdout, stderr, err := r.logs(context.WithoutCancel(ctx), id)
	if err != nil {
		return nil, err
	}
	result.Stdout = stdout
	result.Stderr = stderr

	r.logger.Info("Sandbox run finished",
		"language", canonicalLanguage(language),
		"exit_code", result.ExitCode,
		"timed_out", result.TimedOut,
		"duration_ms", result.Duration,
	)
	return result, nil
}

// create makes the container, pulling the image once if it is missing.
func (r *DockerRunner) create(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, name string) (string, error) {
	resp, err := r.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, name)
	if err == nil {
		return resp.ID, nil
	}
	if !errdefs.IsNotFound(err) {
		return "", fmt.Errorf("create sandbox container: %w", err)
	}

	r.logger.Info("Pulling sandbox image", "image", config.Image)
	rc, pullErr := r.cli.ImagePull(ctx, config.Image, image.PullOptions{})
	if pullErr != nil {
		return "", fmt.Errorf("pull sandbox image %s: %w", config.Image, pullErr)
	}
	_, copyErr := io.Copy(io.Discard, rc)
	_ = rc.Close()
	if copyErr != nil {
		return "", fmt.Errorf("pull sandbox image %s: %w", config.Image, copyErr)
	}

	resp, err = r.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("create sandbox container: %w", err)
	}
	return resp.ID, nil
}

func (r *DockerRunner) logs(ctx context.Context, id string) (string, string, error) {
	rc, err := r.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", fmt.Errorf("read sandbox logs %s: %w", id, err)
	}
	defer rc.Close()

	stdout := &limitedBuffer{max: maxOutputBytes}
	stderr := &limitedBuffer{max: maxOutputBytes}
	if _, err := stdcopy.StdCopy(stdout, stderr, rc); err != nil {
		return "", "", fmt.Errorf("demux sandbox logs %s: %w", id, err)
	}
	return stdout.String(), stderr.String(), nil
}

// remove force-removes the container. It runs on its own context so a
// canceled request still cleans up.
func (r *DockerRunner) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := r.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) || strings.Contains(err.Error(), "is already in progress") {
			return
		}
		r.logger.Warn("Failed to remove sandbox container", "container_id", id, "error", err)
	}
}

func containerConfig(spec languageSpec, code, runtime string, limits Limits) (*container.Config, *container.HostConfig) {
	config := &container.Config{
		Image:           spec.image,
		Cmd:             spec.cmd(code),
		User:            containerUser,
		WorkingDir:      workingDir,
		NetworkDisabled: true,
		Env:             []string{"HOME=/tmp"},
	}
	hostConfig := &container.HostConfig{
		Runtime:        runtime,
		NetworkMode:    container.NetworkMode("none"),
		ReadonlyRootfs: true,
		Tmpfs:          map[string]string{workingDir: "rw,size=16m"},
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		Resources: container.Resources{
			Memory:    limits.MemoryMB * 1024 * 1024,
			CPUQuota:  cpuQuota,
			PidsLimit: ptr(int64(pidsLimit)),
		},
	}
	return config, hostConfig
}

func ptr[T any](v T) *T {
	return &v
}

// limitedBuffer keeps the first max bytes and silently drops the rest.
type limitedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
			b.truncated = true
		} else {
			b.buf.Write(p)
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + "\n[output truncated]"
	}
	return b.buf.String()
}
