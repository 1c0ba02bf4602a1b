package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// killGrace is how long a killed process may hold its output pipes open.
const killGrace = 5 * time.Second

// LocalExecutor runs the tool binary directly on the host.
type LocalExecutor struct {
	tool   string
	logger *zap.Logger
}

// NewLocalExecutor creates a LocalExecutor for the given tool binary.
func NewLocalExecutor(tool string, logger *zap.Logger) *LocalExecutor {
	return &LocalExecutor{tool: tool, logger: logger}
}

// Argv returns the full command line for cmd.
func (e *LocalExecutor) Argv(cmd Command) []string {
	return append([]string{e.tool}, toolArgs(cmd, cmd.ConfigPath, cmd.UserDir)...)
}

// Execute runs cmd and waits for it to exit.
func (e *LocalExecutor) Execute(ctx context.Context, cmd Command, onLine LineHandler) (*Execution, error) {
	argv := e.Argv(cmd)
	c := exec.CommandContext(ctx, argv[0], argv[1:]...)
	c.WaitDelay = killGrace

	var (
		mu     sync.Mutex
		output strings.Builder
		stderr bytes.Buffer
		lw     *lineWriter
	)
	if onLine != nil {
		// Same writer for both streams: exec merges them through one pipe.
		lw = newLineWriter(&mu, &output, onLine)
		c.Stdout = lw
		c.Stderr = lw
	} else {
		lw = newLineWriter(&mu, &output, nil)
		c.Stdout = lw
		c.Stderr = &stderr
	}

	e.logger.Debug("Starting tool process",
		zap.String("command", cmd.Name),
		zap.Strings("argv", argv),
	)

	start := time.Now()
	err := c.Run()
	lw.Flush()
	duration := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
			exitCode = exitErr.ExitCode()
		case ctx.Err() != nil:
			exitCode = -1
		case errors.Is(err, exec.ErrWaitDelay) && c.ProcessState != nil:
			exitCode = c.ProcessState.ExitCode()
		default:
			return nil, fmt.Errorf("failed to run %s: %w", argv[0], err)
		}
	}

	e.logger.Debug("Tool process finished",
		zap.String("command", cmd.Name),
		zap.Int("exit_code", exitCode),
		zap.Duration("duration", duration),
	)

	return &Execution{
		ExitCode: exitCode,
		Output:   output.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}, nil
}

// Close implements Executor.
func (e *LocalExecutor) Close() error {
	return nil
}

// Ensure interface compliance at compile time.
var _ Executor = (*LocalExecutor)(nil)
