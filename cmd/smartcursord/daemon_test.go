package main

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartcursor/internal/editor"
	"smartcursor/internal/ipc"
	"smartcursor/internal/logging"
)

func writeFakeSelect(t *testing.T, dir string) (path, state string) {
	t.Helper()
	state = filepath.Join(dir, "state")
	require.NoError(t, os.WriteFile(state, []byte("1033\n"), 0600))
	path = filepath.Join(dir, "im-select")
	script := "#!/bin/sh\nif [ -n \"$1\" ]; then echo \"$1\" > " + state + "; else cat " + state + "; fi\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0700))
	return path, state
}

func TestDaemonSwitchesWithEditor(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a Unix shell")
	}
	dir, err := os.MkdirTemp("", "scd")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	selectPath, state := writeFakeSelect(t, dir)
	configPath := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(strings.Join([]string{
		`im_select_path = "` + selectPath + `"`,
		`capture_initial_ime_as_english = false`,
		`[features]`,
		`performance_cache = true`,
	}, "\n")), 0600))

	d, err := NewDaemon(Options{
		ConfigPath: configPath,
		SocketPath: filepath.Join(dir, "d.sock"),
		Version:    "test",
		Logger:     logging.Discard(),
	})
	require.NoError(t, err)

	readState := func() string {
		data, _ := os.ReadFile(state)
		return strings.TrimSpace(string(data))
	}

	ctx := context.Background()
	require.NoError(t, d.Start(ctx))
	require.Eventually(t, func() bool { return readState() == "2052" }, 2*time.Second, 5*time.Millisecond,
		"no editor yet counts as blurred")

	cfg := ipc.DefaultClientConfig(filepath.Join(dir, "d.sock"))
	cfg.Editor = true
	cli := ipc.NewClient(cfg)
	require.NoError(t, cli.Connect())
	defer cli.Close()

	require.NoError(t, cli.Notify(ipc.MsgDocumentOpen, &ipc.DocumentOpen{
		DocumentID: "main.c", LanguageID: "c", Version: 1, Text: "int x; // 注释",
	}))
	require.NoError(t, cli.Notify(ipc.MsgSelection, &ipc.Selection{
		DocumentID: "main.c", Cursor: editor.Position{Character: 3},
	}))
	require.Eventually(t, func() bool { return readState() == "1033" }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, cli.Notify(ipc.MsgSelection, &ipc.Selection{
		DocumentID: "main.c", Cursor: editor.Position{Character: 11},
	}))
	require.Eventually(t, func() bool { return readState() == "2052" }, 2*time.Second, 5*time.Millisecond)

	st, err := cli.Status()
	require.NoError(t, err)
	assert.Equal(t, "chinese", st.Controller.Mode)
	assert.Equal(t, 1, st.Documents)
	require.NotNil(t, st.Cache)

	m, err := cli.Metrics()
	require.NoError(t, err)
	assert.Contains(t, m.Text, "# TYPE smartcursor_switch_duration_seconds histogram")
	assert.GreaterOrEqual(t, m.Values["smartcursor_switch_commands_total"], 3.0)
	assert.Equal(t, 1.0, m.Values["smartcursor_documents"])
	assert.Equal(t, 1.0, m.Values["smartcursor_ipc_clients"])

	require.NoError(t, cli.Notify(ipc.MsgSelection, &ipc.Selection{
		DocumentID: "main.c", Cursor: editor.Position{Character: 0},
	}))
	require.Eventually(t, func() bool { return readState() == "1033" }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, d.Stop(ctx))
	assert.Equal(t, "2052", readState(), "exit switches back to Chinese")
}

func TestDaemonRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(`chinese_code = ""`), 0600))

	_, err := NewDaemon(Options{ConfigPath: configPath, Logger: logging.Discard()})
	assert.Error(t, err)
}
