package imselect

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartcursor/internal/config"
)

// fakeSelect writes an im-select stand-in that records its argument and
// prints the last recorded code when queried.
func fakeSelect(t *testing.T) (path, state string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in requires a Unix shell")
	}
	dir := t.TempDir()
	state = filepath.Join(dir, "state")
	require.NoError(t, os.WriteFile(state, []byte("1033\n"), 0600))

	path = filepath.Join(dir, "im-select")
	script := "#!/bin/sh\nif [ -n \"$1\" ]; then\n  [ \"$1\" = fail ] && { echo broken >&2; exit 3; }\n  echo \"$1\" > " + state + "\nelse\n  echo \"  $(cat " + state + ")  \"\nfi\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0700))
	return path, state
}

func TestResolve(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "opt", "smartcursor")
	abs := filepath.Join(string(filepath.Separator), "usr", "bin", "im-select")

	assert.Equal(t, abs, Resolve(abs, root))
	assert.Equal(t, filepath.Join(root, "bin", "im-select.exe"), Resolve("bin/im-select.exe", root))
	assert.Equal(t, "", Resolve("   ", root))
}

func TestExecMissingBinary(t *testing.T) {
	e := NewExec("does/not/exist", t.TempDir())

	err := e.Switch(context.Background(), "2052")
	assert.ErrorIs(t, err, ErrBinaryMissing)
	assert.Contains(t, err.Error(), e.Path())

	_, err = e.Query(context.Background())
	assert.ErrorIs(t, err, ErrBinaryMissing)

	assert.ErrorIs(t, NewExec("", "/").Check(), ErrNoCommand)
}

func TestExecSwitchAndQuery(t *testing.T) {
	path, state := fakeSelect(t)
	e := NewExec(path, "")
	ctx := context.Background()

	code, err := e.Query(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1033", code, "output is trimmed")

	require.NoError(t, e.Switch(ctx, "2052"))
	data, err := os.ReadFile(state)
	require.NoError(t, err)
	assert.Equal(t, "2052", strings.TrimSpace(string(data)))

	err = e.Switch(ctx, "fail")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestSwitchAsync(t *testing.T) {
	path, _ := fakeSelect(t)
	done := SwitchAsync(context.Background(), NewExec(path, ""), "2052")

	select {
	case err, ok := <-done:
		assert.True(t, ok)
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("switch did not complete")
	}
	_, ok := <-done
	assert.False(t, ok, "channel is closed after the outcome")

	missing := SwitchAsync(context.Background(), NewExec("nope", t.TempDir()), "1")
	assert.True(t, errors.Is(<-missing, ErrBinaryMissing))
}

func TestNewBackends(t *testing.T) {
	cfg := config.DefaultConfig()
	s, err := New(cfg, "/opt/sc")
	require.NoError(t, err)
	exec, ok := s.(*Exec)
	require.True(t, ok)
	assert.Equal(t, filepath.Join("/opt/sc", "bin/im-select.exe"), exec.Path())

	cfg.Backend = "carrier-pigeon"
	_, err = New(cfg, "")
	assert.Error(t, err)

	cfg.Backend = config.BackendIBus
	s, err = New(cfg, "")
	if runtime.GOOS == "linux" {
		require.NoError(t, err)
		assert.NotNil(t, s)
	} else {
		assert.ErrorIs(t, err, ErrUnsupported)
	}
}

type mutableProvider struct{ cfg *config.Config }

func (p *mutableProvider) Current() *config.Config { return p.cfg }

func TestLiveFollowsConfig(t *testing.T) {
	path, state := fakeSelect(t)
	cfg := config.DefaultConfig()
	cfg.IMSelectPath = filepath.Join(t.TempDir(), "absent")
	p := &mutableProvider{cfg: cfg}
	live := NewLive(p, "/")
	defer live.Close()

	assert.ErrorIs(t, live.Switch(context.Background(), "2052"), ErrBinaryMissing)

	next := cfg.Clone()
	next.IMSelectPath = path
	p.cfg = next
	require.NoError(t, live.Switch(context.Background(), "2052"))
	data, err := os.ReadFile(state)
	require.NoError(t, err)
	assert.Equal(t, "2052", strings.TrimSpace(string(data)))

	code, err := live.Query(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2052", code)

	broken := next.Clone()
	broken.Backend = "carrier-pigeon"
	p.cfg = broken
	_, err = live.Query(context.Background())
	assert.ErrorContains(t, err, "unknown backend")
}
