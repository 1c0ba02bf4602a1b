// Package executor runs the external strategy tool as a local process or in a Docker container.
package executor

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"
)

// Command describes one invocation of the external tool.
type Command struct {
	// Name is a human-readable label used in logs and container labels.
	Name string

	// Subcommand is the tool subcommand, e.g. "hyperopt".
	Subcommand string

	// Args are the subcommand flags that do not reference host paths.
	Args []string

	// ConfigPath is the tool configuration file on the host.
	ConfigPath string

	// UserDir is the tool's user data directory on the host.
	UserDir string

	// Labels are attached to containers started for this command.
	Labels map[string]string
}

// LineHandler observes output lines as they are produced.
type LineHandler func(line string)

// Execution is the result of a finished process.
type Execution struct {
	// ExitCode is the process exit status. -1 means the process was killed.
	ExitCode int

	// Output is stdout, or the merged stdout/stderr stream when lines were observed.
	Output string

	// Stderr is the separately captured error stream. Empty when streams were merged.
	Stderr string

	// Duration is how long the process ran.
	Duration time.Duration
}

// Executor runs tool commands. A nil LineHandler captures the output and returns it
// when the process exits; a non-nil handler also receives every line as it arrives.
// Errors are returned only when the process could not be run at all.
type Executor interface {
	Execute(ctx context.Context, cmd Command, onLine LineHandler) (*Execution, error)
	Close() error
}

// toolArgs returns the subcommand arguments with the given config and user dir paths.
func toolArgs(cmd Command, configPath, userDir string) []string {
	args := []string{cmd.Subcommand}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	if userDir != "" {
		args = append(args, "--userdir", userDir)
	}
	return append(args, cmd.Args...)
}

// lineWriter splits written bytes into lines for a LineHandler and
// accumulates everything written into a shared builder.
type lineWriter struct {
	mu      *sync.Mutex
	all     *strings.Builder
	onLine  LineHandler
	partial []byte
}

func newLineWriter(mu *sync.Mutex, all *strings.Builder, onLine LineHandler) *lineWriter {
	return &lineWriter{mu: mu, all: all, onLine: onLine}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.all.Write(p)
	w.partial = append(w.partial, p...)
	for {
		idx := bytes.IndexByte(w.partial, '\n')
		if idx == -1 {
			break
		}
		line := strings.TrimRight(string(w.partial[:idx]), "\r")
		w.partial = w.partial[idx+1:]
		if w.onLine != nil {
			w.onLine(line)
		}
	}
	return len(p), nil
}

// Flush emits any trailing text that did not end with a newline.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.partial) > 0 && w.onLine != nil {
		w.onLine(strings.TrimRight(string(w.partial), "\r"))
	}
	w.partial = nil
}
