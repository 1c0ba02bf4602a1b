package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"

	"github.com/saltfish/freqsweep/internal/config"
)

const (
	// Label keys for container management
	labelCommand = "freqsweep.command"
	labelManaged = "freqsweep.managed"

	// Timeout for cleanup calls made after the run context is gone
	cleanupTimeout = 30 * time.Second
)

// toAbsolutePath converts a relative path to absolute path.
// If the path is already absolute, it returns as-is.
func toAbsolutePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	cwd, err := os.Getwd()
	if err != nil {
		return p
	}
	return filepath.Join(cwd, p)
}

// DockerExecutor runs the tool inside a container of the configured image.
type DockerExecutor struct {
	client *client.Client
	config *config.DockerConfig
	tool   string
	logger *zap.Logger
}

// NewDockerExecutor connects to the Docker daemon and returns a DockerExecutor.
func NewDockerExecutor(cfg *config.DockerConfig, tool string, logger *zap.Logger) (*DockerExecutor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to connect to Docker daemon: %w", err)
	}

	logger.Info("Docker client connected",
		zap.String("image", cfg.Image),
	)

	return &DockerExecutor{
		client: cli,
		config: cfg,
		tool:   tool,
		logger: logger,
	}, nil
}

// containerSpec returns the entrypoint, arguments and bind mounts for cmd.
func containerSpec(cfg *config.DockerConfig, tool string, cmd Command) (entrypoint, args, binds []string) {
	var configPath, userDir string
	if cmd.ConfigPath != "" {
		configPath = path.Join(cfg.WorkDir, "config.json")
		binds = append(binds, toAbsolutePath(cmd.ConfigPath)+":"+configPath+":ro")
	}
	if cmd.UserDir != "" {
		userDir = path.Join(cfg.WorkDir, "user_data")
		binds = append(binds, toAbsolutePath(cmd.UserDir)+":"+userDir+":rw")
	}
	return []string{tool}, toolArgs(cmd, configPath, userDir), binds
}

// Execute runs cmd in a new container, following its logs until it exits.
func (e *DockerExecutor) Execute(ctx context.Context, cmd Command, onLine LineHandler) (*Execution, error) {
	if e.config.PullImage {
		if err := e.ensureImage(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure image: %w", err)
		}
	}

	entrypoint, args, binds := containerSpec(e.config, e.tool, cmd)

	labels := map[string]string{
		labelManaged: "true",
		labelCommand: cmd.Name,
	}
	for k, v := range cmd.Labels {
		labels[k] = v
	}

	containerConfig := &container.Config{
		Image:      e.config.Image,
		Entrypoint: entrypoint,
		Cmd:        args,
		WorkingDir: e.config.WorkDir,
		Labels:     labels,
	}

	hostConfig := &container.HostConfig{
		Binds: binds,
		Resources: container.Resources{
			CPUQuota: e.config.CPUQuota(),
			Memory:   e.config.MemoryBytes(),
		},
		AutoRemove: false, // We handle removal manually
	}
	if e.config.Network != "" {
		hostConfig.NetworkMode = container.NetworkMode(e.config.Network)
	}

	resp, err := e.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	containerID := resp.ID
	defer e.removeContainer(containerID)

	start := time.Now()
	if err := e.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	e.logger.Info("Started tool container",
		zap.String("container_id", shortID(containerID)),
		zap.String("command", cmd.Name),
		zap.Strings("args", args),
	)

	output, stderr, err := e.followLogs(ctx, containerID, onLine)
	if err != nil && ctx.Err() == nil {
		e.logger.Warn("Failed to follow container logs",
			zap.String("container_id", shortID(containerID)),
			zap.Error(err),
		)
	}

	exitCode, err := e.waitContainer(ctx, containerID)
	if err != nil {
		return nil, err
	}

	return &Execution{
		ExitCode: exitCode,
		Output:   output,
		Stderr:   stderr,
		Duration: time.Since(start),
	}, nil
}

// followLogs streams container output until the container stops.
func (e *DockerExecutor) followLogs(ctx context.Context, containerID string, onLine LineHandler) (string, string, error) {
	options := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	}

	reader, err := e.client.ContainerLogs(ctx, containerID, options)
	if err != nil {
		return "", "", fmt.Errorf("failed to get container logs: %w", err)
	}
	defer reader.Close()

	var (
		mu     sync.Mutex
		output strings.Builder
		stderr bytes.Buffer
	)
	stdoutW := newLineWriter(&mu, &output, onLine)

	// Docker multiplexes stdout/stderr, need to demux
	var errW io.Writer = &stderr
	if onLine != nil {
		errW = stdoutW
	}
	_, err = stdcopy.StdCopy(stdoutW, errW, reader)
	stdoutW.Flush()

	return output.String(), stderr.String(), err
}

// waitContainer waits for a container to exit and returns its exit code.
// A cancelled context kills the container and reports exit code -1.
func (e *DockerExecutor) waitContainer(ctx context.Context, containerID string) (int, error) {
	statusCh, errCh := e.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)

	select {
	case err := <-errCh:
		if ctx.Err() != nil {
			e.killContainer(containerID)
			return -1, nil
		}
		return -1, fmt.Errorf("error waiting for container: %w", err)
	case status := <-statusCh:
		e.logger.Info("Container finished",
			zap.String("container_id", shortID(containerID)),
			zap.Int64("exit_code", status.StatusCode),
		)
		return int(status.StatusCode), nil
	case <-ctx.Done():
		e.killContainer(containerID)
		return -1, nil
	}
}

func (e *DockerExecutor) killContainer(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	timeout := 10 // seconds
	if err := e.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		e.logger.Warn("Failed to stop container",
			zap.String("container_id", shortID(containerID)),
			zap.Error(err),
		)
	}
}

func (e *DockerExecutor) removeContainer(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	removeOptions := container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	}
	if err := e.client.ContainerRemove(ctx, containerID, removeOptions); err != nil {
		e.logger.Warn("Failed to remove container",
			zap.String("container_id", shortID(containerID)),
			zap.Error(err),
		)
		return
	}

	e.logger.Debug("Removed container",
		zap.String("container_id", shortID(containerID)),
	)
}

// CleanupStaleContainers removes managed containers left behind by an interrupted run.
func (e *DockerExecutor) CleanupStaleContainers(ctx context.Context, maxAge time.Duration) (int, error) {
	filterArgs := filters.NewArgs()
	filterArgs.Add("label", labelManaged+"=true")

	containers, err := e.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filterArgs,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list containers: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	cleaned := 0

	for _, c := range containers {
		created := time.Unix(c.Created, 0)
		if !created.Before(cutoff) {
			continue
		}
		if c.State == "running" {
			e.killContainer(c.ID)
		}
		e.removeContainer(c.ID)
		cleaned++
		e.logger.Info("Cleaned up stale container",
			zap.String("container_id", shortID(c.ID)),
			zap.Time("created", created),
		)
	}

	return cleaned, nil
}

// ensureImage ensures the tool image is available locally.
func (e *DockerExecutor) ensureImage(ctx context.Context) error {
	_, _, err := e.client.ImageInspectWithRaw(ctx, e.config.Image)
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to check image: %w", err)
	}

	e.logger.Info("Pulling tool image",
		zap.String("image", e.config.Image),
	)

	reader, err := e.client.ImagePull(ctx, e.config.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	// Wait for pull to complete
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to complete image pull: %w", err)
	}

	e.logger.Info("Successfully pulled image",
		zap.String("image", e.config.Image),
	)

	return nil
}

// Close releases the Docker client.
func (e *DockerExecutor) Close() error {
	return e.client.Close()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// Ensure interface compliance at compile time.
var _ Executor = (*DockerExecutor)(nil)
