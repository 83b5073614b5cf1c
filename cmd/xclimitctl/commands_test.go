package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/climit/pkg/config/xconf"
	"github.com/omeyang/climit/pkg/storage/xclimit"
)

// runApp 运行一次 CLI，返回 stdout、stderr 和 Run 的错误。
func runApp(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := createApp(&stdout, &stderr)
	err := app.Run(context.Background(), append([]string{"xclimitctl"}, args...))
	return stdout.String(), stderr.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "limiter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestCheck_Defaults(t *testing.T) {
	out, _, err := runApp(t, "check")
	require.NoError(t, err)
	assert.Contains(t, out, "xclimitctl")
	assert.Regexp(t, `capacity:\s+64`, out)
}

func TestCheck_ConfigFile(t *testing.T) {
	path := writeConfig(t, `
limiter:
  name: shaders
  capacity: 16
  evict_on_release: true
  release_workers: 2
`)
	out, _, err := runApp(t, "-c", path, "check", "--json")
	require.NoError(t, err)

	var cfg xclimit.Config
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, xclimit.Config{
		Name:           "shaders",
		Capacity:       16,
		EvictOnRelease: true,
		ReleaseWorkers: 2,
	}, cfg)
}

func TestCheck_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{"negative capacity", func(t *testing.T) string { return writeConfig(t, "limiter:\n  capacity: -1\n") }},
		{"type mismatch", func(t *testing.T) string { return writeConfig(t, "limiter:\n  capacity: many\n") }},
		{"missing file", func(t *testing.T) string { return filepath.Join(t.TempDir(), "absent.yaml") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := runApp(t, "-c", tt.path(t), "check")
			var usageErr *usageError
			require.ErrorAs(t, err, &usageErr)
			assert.Equal(t, 2, exitCode(err, &bytes.Buffer{}))
		})
	}
}

func decodeReport(t *testing.T, out string) report {
	t.Helper()
	var r report
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	return r
}

func TestSimulate(t *testing.T) {
	out, _, err := runApp(t, "simulate",
		"--capacity", "8", "--keys", "32", "--ops", "2000",
		"--workers", "4", "--hold", "2", "--json", "--metrics")
	require.NoError(t, err)

	r := decodeReport(t, out)
	assert.Equal(t, "xclimitctl", r.Limiter)
	assert.Equal(t, uint64(2000), r.Hits+r.Misses+r.FactoryErrors)
	assert.Zero(t, r.FactoryErrors)
	assert.Equal(t, 0, r.InUse)
	assert.Equal(t, 8, r.Capacity)
	assert.LessOrEqual(t, r.Entries, 8)
	assert.Equal(t, int64(r.Evictions), r.Disposed)
	assert.Equal(t, r.Misses, r.Evictions+uint64(r.Entries))

	assert.Equal(t, int64(r.Misses), r.Metrics[xclimit.MetricMisses])
	assert.Equal(t, int64(r.Hits), r.Metrics[xclimit.MetricHits])
	assert.Equal(t, int64(8), r.Metrics[xclimit.MetricCapacity])
}

func TestSimulate_TextOutput(t *testing.T) {
	out, _, err := runApp(t, "simulate", "--ops", "100", "--keys", "4", "--skew", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "hits:")
	assert.Contains(t, out, "hit_ratio:")
	assert.Regexp(t, `capacity:\s+64`, out)
}

func TestSimulate_FailRate(t *testing.T) {
	out, _, err := runApp(t, "simulate", "--ops", "100", "--fail-rate", "1", "--json")
	require.NoError(t, err)

	r := decodeReport(t, out)
	assert.Equal(t, uint64(100), r.FactoryErrors)
	assert.Zero(t, r.Misses)
	assert.Zero(t, r.Entries)
}

func TestSimulate_ReleaseWorkers(t *testing.T) {
	path := writeConfig(t, "limiter:\n  name: async\n  capacity: 2\n  release_workers: 2\n")
	out, _, err := runApp(t, "-c", path, "simulate", "--ops", "500", "--keys", "16", "--json")
	require.NoError(t, err)

	r := decodeReport(t, out)
	assert.Equal(t, "async", r.Limiter)
	assert.Equal(t, r.Misses, r.Evictions+uint64(r.Entries))
}

func TestSimulate_InvalidArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"zero workers", []string{"simulate", "--workers", "0"}},
		{"zero ops", []string{"simulate", "--ops", "0"}},
		{"small skew", []string{"simulate", "--skew", "0.5"}},
		{"fail rate", []string{"simulate", "--fail-rate", "2"}},
		{"negative capacity", []string{"simulate", "--capacity", "-1"}},
		{"log level", []string{"--log-level", "loud", "simulate"}},
		{"log format", []string{"--log-format", "xml", "simulate"}},
		{"unknown flag", []string{"simulate", "--nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := runApp(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, 2, exitCode(err, &bytes.Buffer{}))
		})
	}
}

func TestSimulate_LogFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "xclimitctl.log")
	_, stderr, err := runApp(t, "--log-level", "debug", "--log-format", "json", "--log-file", logPath,
		"simulate", "--ops", "10")
	require.NoError(t, err)
	assert.Empty(t, stderr)

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"limiter created"`)
	assert.Contains(t, string(data), "xclimit: limiter closed")
}

func TestWatch_RequiresConfig(t *testing.T) {
	_, _, err := runApp(t, "watch", "--duration", "10ms")
	var usageErr *usageError
	require.ErrorAs(t, err, &usageErr)
}

func TestWatch_RunsUntilDuration(t *testing.T) {
	path := writeConfig(t, "limiter:\n  capacity: 4\n")
	start := time.Now()
	out, _, err := runApp(t, "-c", path, "watch",
		"--duration", "300ms", "--interval", "50ms", "--keys", "8", "--json")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)

	dec := json.NewDecoder(bytes.NewBufferString(out))
	n := 0
	var last report
	for dec.More() {
		require.NoError(t, dec.Decode(&last))
		n++
	}
	assert.GreaterOrEqual(t, n, 2, "periodic reports plus the final one")
	assert.Equal(t, 4, last.Capacity)
	assert.Positive(t, last.Hits+last.Misses)
}

func TestApplyReload(t *testing.T) {
	quiet := slog.New(slog.DiscardHandler)
	path := writeConfig(t, "limiter:\n  capacity: 4\n")
	src, err := xconf.Open(path)
	require.NoError(t, err)

	l, err := xclimit.New[*payload](4, xclimit.WithLogger[*payload](quiet))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	require.NoError(t, os.WriteFile(path, []byte("limiter:\n  capacity: 9\n"), 0o600))
	require.NoError(t, src.Reload())
	applyReload(l, quiet, src, nil)
	assert.Equal(t, 9, l.Capacity())

	// 重新加载失败时保持原容量
	applyReload(l, quiet, src, errors.New("read failed"))
	assert.Equal(t, 9, l.Capacity())

	require.NoError(t, os.WriteFile(path, []byte("limiter:\n  capacity: -2\n"), 0o600))
	require.NoError(t, src.Reload())
	applyReload(l, quiet, src, nil)
	assert.Equal(t, 9, l.Capacity())

	// 没有 capacity 字段时保持原容量
	require.NoError(t, os.WriteFile(path, []byte("limiter:\n  name: other\n"), 0o600))
	require.NoError(t, src.Reload())
	applyReload(l, quiet, src, nil)
	assert.Equal(t, 9, l.Capacity())
}

func TestExitCode(t *testing.T) {
	var stderr bytes.Buffer
	assert.Equal(t, 0, exitCode(nil, &stderr))
	assert.Equal(t, 3, exitCode(&exitError{code: 3}, &stderr))
	assert.Equal(t, 2, exitCode(&usageError{err: errors.New("bad")}, &stderr))
	assert.Contains(t, stderr.String(), "参数错误: bad")
	assert.Equal(t, 2, exitCode(errors.New("flag provided but not defined: -x"), &stderr))
	assert.Equal(t, 1, exitCode(errors.New("boom"), &stderr))
	assert.Contains(t, stderr.String(), "错误: boom")
}
