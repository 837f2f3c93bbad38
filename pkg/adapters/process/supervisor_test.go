package process_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"syscall"
	"testing"
	"time"

	"github.com/aretw0/patchbay/pkg/adapters/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func TestSupervisor_LaunchAndStop(t *testing.T) {
	skipOnWindows(t)

	s := process.NewSupervisor()
	s.Register("sleeper", "sh", "-c", "sleep 30")

	proc, err := s.Launch(context.Background(), "sleeper")
	require.NoError(t, err)
	assert.Positive(t, proc.Pid())
	assert.Equal(t, 1, s.Running())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, proc.Stop(ctx, syscall.SIGTERM))

	select {
	case <-proc.Done():
	default:
		t.Fatal("process should have exited")
	}
	assert.Eventually(t, func() bool { return s.Running() == 0 }, time.Second, 10*time.Millisecond)

	// Stopping again is a no-op.
	assert.NoError(t, proc.Stop(ctx, syscall.SIGTERM))
}

func TestSupervisor_KillsAfterGrace(t *testing.T) {
	skipOnWindows(t)

	s := process.NewSupervisor()
	// Ignores SIGTERM, so only the kill after the deadline stops it.
	s.Register("stubborn", "sh", "-c", "trap '' TERM; sleep 30")

	proc, err := s.Launch(context.Background(), "stubborn")
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond) // let the trap install

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	require.NoError(t, proc.Stop(ctx, syscall.SIGTERM))
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestSupervisor_AppendsArgsAndEnv(t *testing.T) {
	skipOnWindows(t)

	out := filepath.Join(t.TempDir(), "out.txt")
	s := process.NewSupervisor(process.WithRegistry(map[string]process.CommandConfig{
		"writer": {
			Name:        "writer",
			Command:     "sh",
			Args:        []string{"-c", `echo "$GREETING $0" > "$1"`},
			Environment: map[string]string{"GREETING": "hello"},
		},
	}))

	proc, err := s.Launch(context.Background(), "writer", "patchbay", out)
	require.NoError(t, err)
	<-proc.Done()

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "hello patchbay\n", string(data))
}

func TestSupervisor_Strict(t *testing.T) {
	s := process.NewSupervisor(process.WithStrict(true))

	_, err := s.Launch(context.Background(), "mpv")
	assert.ErrorContains(t, err, "not registered")
}

func TestSupervisor_LaunchFailure(t *testing.T) {
	s := process.NewSupervisor()

	_, err := s.Launch(context.Background(), "definitely-not-a-real-binary-xyz")
	assert.ErrorContains(t, err, "failed to launch")
}

func TestLoadCommands(t *testing.T) {
	dir := t.TempDir()

	t.Run("YAML", func(t *testing.T) {
		path := filepath.Join(dir, "commands.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
commands:
  - name: mpv
    command: /opt/mpv/bin/mpv
    args: ["--no-config"]
  - name: ""
    command: ignored
`), 0644))

		cmds, err := process.LoadCommands(path)
		require.NoError(t, err)
		require.Len(t, cmds, 1)
		assert.Equal(t, "/opt/mpv/bin/mpv", cmds["mpv"].Command)
		assert.Equal(t, []string{"--no-config"}, cmds["mpv"].Args)
	})

	t.Run("JSON", func(t *testing.T) {
		path := filepath.Join(dir, "commands.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"commands":[{"name":"ffmpeg","command":"ffmpeg6"}]}`), 0644))

		cmds, err := process.LoadCommands(path)
		require.NoError(t, err)
		assert.Equal(t, "ffmpeg6", cmds["ffmpeg"].Command)
	})

	t.Run("TOML", func(t *testing.T) {
		t.Setenv("MPV_HOME", "/opt/mpv")
		path := filepath.Join(dir, "commands.toml")
		require.NoError(t, os.WriteFile(path, []byte(`
[[commands]]
name = "mpv"
command = "$MPV_HOME/bin/mpv"
env = { MPV_VERBOSE = "1" }
`), 0644))

		cmds, err := process.LoadCommands(path)
		require.NoError(t, err)
		assert.Equal(t, "/opt/mpv/bin/mpv", cmds["mpv"].Command)
		assert.Equal(t, "1", cmds["mpv"].Environment["MPV_VERBOSE"])
	})

	t.Run("Duplicate", func(t *testing.T) {
		path := filepath.Join(dir, "dup.yaml")
		require.NoError(t, os.WriteFile(path, []byte("commands:\n  - {name: mpv, command: a}\n  - {name: mpv, command: b}\n"), 0644))

		_, err := process.LoadCommands(path)
		assert.ErrorContains(t, err, "defined twice")
	})

	t.Run("Missing File", func(t *testing.T) {
		cmds, err := process.LoadCommands(filepath.Join(dir, "nope.yaml"))
		require.NoError(t, err)
		assert.Empty(t, cmds)

		cmds, err = process.LoadCommands("")
		require.NoError(t, err)
		assert.Empty(t, cmds)
	})

	t.Run("Malformed", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(path, []byte(`{`), 0644))

		_, err := process.LoadCommands(path)
		assert.Error(t, err)
	})
}
