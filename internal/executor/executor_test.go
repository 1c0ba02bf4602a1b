package executor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/saltfish/freqsweep/internal/config"
)

// writeTool writes an executable shell script standing in for the tool binary.
func writeTool(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-tool")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestLocalExecutor_Argv(t *testing.T) {
	e := NewLocalExecutor("freqtrade", zaptest.NewLogger(t))

	argv := e.Argv(Command{
		Subcommand: "hyperopt",
		Args:       []string{"--strategy", "GodStra", "--epochs", "10"},
		ConfigPath: "config.json",
		UserDir:    "user_data",
	})

	assert.Equal(t, []string{
		"freqtrade", "hyperopt",
		"--config", "config.json",
		"--userdir", "user_data",
		"--strategy", "GodStra", "--epochs", "10",
	}, argv)
}

func TestLocalExecutor_Capture(t *testing.T) {
	tool := writeTool(t, `echo "Total profit: 1.5%"; echo "warning" >&2; exit 0`)
	e := NewLocalExecutor(tool, zaptest.NewLogger(t))

	res, err := e.Execute(context.Background(), Command{Name: "capture", Subcommand: "backtesting"}, nil)

	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "Total profit: 1.5%\n", res.Output)
	assert.Equal(t, "warning\n", res.Stderr)
}

func TestLocalExecutor_StreamMergesOutput(t *testing.T) {
	tool := writeTool(t, `echo one; echo two >&2; printf three; exit 3`)
	e := NewLocalExecutor(tool, zaptest.NewLogger(t))

	var (
		mu    sync.Mutex
		lines []string
	)
	res, err := e.Execute(context.Background(), Command{Name: "stream", Subcommand: "hyperopt"}, func(line string) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, line)
	})

	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, []string{"one", "two", "three"}, lines)
	assert.Empty(t, res.Stderr)
	assert.Contains(t, res.Output, "two")
}

func TestLocalExecutor_Timeout(t *testing.T) {
	tool := writeTool(t, `exec sleep 5`)
	e := NewLocalExecutor(tool, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	res, err := e.Execute(ctx, Command{Name: "hang", Subcommand: "hyperopt"}, nil)

	require.NoError(t, err)
	assert.Equal(t, -1, res.ExitCode)
	assert.Less(t, res.Duration, 5*time.Second)
}

func TestLocalExecutor_MissingBinary(t *testing.T) {
	e := NewLocalExecutor(filepath.Join(t.TempDir(), "does-not-exist"), zaptest.NewLogger(t))

	_, err := e.Execute(context.Background(), Command{Subcommand: "hyperopt"}, nil)

	assert.Error(t, err)
}

func TestLineWriter_SplitsAcrossWrites(t *testing.T) {
	var (
		mu    sync.Mutex
		all   strings.Builder
		lines []string
	)
	w := newLineWriter(&mu, &all, func(line string) { lines = append(lines, line) })

	_, _ = w.Write([]byte("par"))
	_, _ = w.Write([]byte("tial\r\nnext\nta"))
	_, _ = w.Write([]byte("il"))
	w.Flush()

	assert.Equal(t, []string{"partial", "next", "tail"}, lines)
	assert.Equal(t, "partial\r\nnext\ntail", all.String())
}

func TestContainerSpec(t *testing.T) {
	cfg := &config.DockerConfig{WorkDir: "/freqtrade"}

	entrypoint, args, binds := containerSpec(cfg, "freqtrade", Command{
		Subcommand: "backtesting",
		Args:       []string{"--strategy", "MultiMa"},
		ConfigPath: "/etc/sweep/config.json",
		UserDir:    "/srv/user_data",
	})

	assert.Equal(t, []string{"freqtrade"}, entrypoint)
	assert.Equal(t, []string{
		"backtesting",
		"--config", "/freqtrade/config.json",
		"--userdir", "/freqtrade/user_data",
		"--strategy", "MultiMa",
	}, args)
	assert.Equal(t, []string{
		"/etc/sweep/config.json:/freqtrade/config.json:ro",
		"/srv/user_data:/freqtrade/user_data:rw",
	}, binds)
}
