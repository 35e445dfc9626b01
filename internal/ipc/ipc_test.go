package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartcursor/internal/config"
	"smartcursor/internal/controller"
	"smartcursor/internal/editor"
	"smartcursor/internal/status"
)

func TestMessageFraming(t *testing.T) {
	payload, err := Encode(&Selection{DocumentID: "a.c", Cursor: editor.Position{Line: 2, Character: 5}})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, NewMessage(MsgSelection, 7, payload).Write(&buf))
	assert.Equal(t, HeaderSize+len(payload), buf.Len())

	msg, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgSelection, msg.Header.Type)
	assert.EqualValues(t, 7, msg.Header.RequestID)

	var sel Selection
	require.NoError(t, Decode(msg.Payload, &sel))
	assert.Equal(t, 5, sel.Cursor.Character)
}

func TestReadHeaderRejectsGarbage(t *testing.T) {
	_, err := ReadMessage(bytes.NewReader(make([]byte, HeaderSize)))
	assert.ErrorContains(t, err, "invalid magic")

	var buf bytes.Buffer
	h := NewMessage(MsgPing, 1, nil).Header
	h.Length = MaxPayload + 1
	require.NoError(t, h.Write(&buf))
	_, err = ReadMessage(&buf)
	assert.ErrorContains(t, err, "too large")
}

type recorder struct {
	mu     sync.Mutex
	events []editor.Event
}

func (r *recorder) handle(ev editor.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []editor.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]editor.Event(nil), r.events...)
}

type invalidations struct {
	mu        sync.Mutex
	versions  map[string]int64
	forgotten []string
}

func (i *invalidations) InvalidateDocument(id string, v int64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.versions == nil {
		i.versions = make(map[string]int64)
	}
	i.versions[id] = v
}

func (i *invalidations) ForgetDocument(id string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.forgotten = append(i.forgotten, id)
}

func send(t *testing.T, b *Bridge, client *Client, typ MessageType, reqID uint32, v any) *Message {
	t.Helper()
	payload, err := Encode(v)
	require.NoError(t, err)
	resp, err := b.HandleMessage(context.Background(), client, NewMessage(typ, reqID, payload))
	require.NoError(t, err)
	return resp
}

func TestBridgeDecodesEditorMessages(t *testing.T) {
	inv := &invalidations{}
	b := NewBridge(BridgeConfig{Config: config.Static(config.DefaultConfig()), Invalidator: inv})
	rec := &recorder{}
	b.Subscribe(rec.handle)
	editorClient := &Client{ID: "ed", Editor: true}

	assert.Nil(t, send(t, b, editorClient, MsgDocumentOpen, 0, &DocumentOpen{
		DocumentID: "main.c", LanguageID: "c", Version: 1, Text: "int x;\n// note",
	}))
	assert.Empty(t, rec.all(), "opening a document is not an editor event")

	resp := send(t, b, editorClient, MsgActiveView, 3, &ActiveView{DocumentID: "main.c", Cursor: &editor.Position{Line: 1, Character: 7}})
	require.NotNil(t, resp)
	assert.Equal(t, MsgAck, resp.Header.Type)

	view := b.ActiveView()
	require.NotNil(t, view)
	assert.Equal(t, "// note", editor.CurrentLinePrefix(view))

	text := "int x;\n// 注释"
	send(t, b, editorClient, MsgDocumentChange, 0, &DocumentChange{DocumentID: "main.c", Version: 2, Text: &text})
	send(t, b, editorClient, MsgDocumentChange, 0, &DocumentChange{DocumentID: "main.c", Edits: []TextEdit{{
		Start: editor.Position{Line: 0, Character: 4},
		End:   editor.Position{Line: 0, Character: 5},
		Text:  "y",
	}}})
	assert.Equal(t, "int y;\n// 注释", view.Document().(*editor.Buffer).Text())
	assert.EqualValues(t, 3, inv.versions["main.c"])

	send(t, b, editorClient, MsgSelection, 0, &Selection{DocumentID: "main.c", Cursor: editor.Position{Line: 1, Character: 4}})
	send(t, b, editorClient, MsgViewFocus, 0, &Focus{Focused: false})
	send(t, b, editorClient, MsgTerminalFocus, 0, nil)
	send(t, b, editorClient, MsgActiveView, 0, &ActiveView{})

	var types []editor.EventType
	for _, ev := range rec.all() {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []editor.EventType{
		editor.ActiveViewChanged,
		editor.DocumentChanged,
		editor.DocumentChanged,
		editor.SelectionChanged,
		editor.ViewFocusChanged,
		editor.TerminalFocused,
		editor.ActiveViewChanged,
	}, types)
	assert.Nil(t, rec.all()[6].View)
	assert.Equal(t, "main.c", rec.all()[1].DocumentID)

	focused, err := b.EditorFocused(context.Background())
	require.NoError(t, err)
	assert.False(t, focused)
}

func TestBridgeEditsFollowEditorVersion(t *testing.T) {
	inv := &invalidations{}
	b := NewBridge(BridgeConfig{Config: config.Static(config.DefaultConfig()), Invalidator: inv})
	editorClient := &Client{ID: "ed", Editor: true}

	send(t, b, editorClient, MsgDocumentOpen, 0, &DocumentOpen{DocumentID: "a.c", LanguageID: "c", Version: 1, Text: "int x;"})
	send(t, b, editorClient, MsgActiveView, 0, &ActiveView{DocumentID: "a.c"})
	buf := b.ActiveView().Document().(*editor.Buffer)

	send(t, b, editorClient, MsgDocumentChange, 0, &DocumentChange{DocumentID: "a.c", Version: 2, Edits: []TextEdit{
		{Start: editor.Position{Character: 6}, End: editor.Position{Character: 6}, Text: " "},
		{Start: editor.Position{Character: 7}, End: editor.Position{Character: 7}, Text: "/"},
	}})
	assert.Equal(t, "int x; /", buf.Text())
	assert.EqualValues(t, 2, buf.Version())

	full := "int x; // 注释"
	send(t, b, editorClient, MsgDocumentChange, 0, &DocumentChange{DocumentID: "a.c", Version: 3, Text: &full})
	assert.Equal(t, full, buf.Text())
	assert.EqualValues(t, 3, buf.Version())
	assert.EqualValues(t, 3, inv.versions["a.c"])
}

func TestBridgeErrors(t *testing.T) {
	b := NewBridge(BridgeConfig{})
	c := &Client{ID: "c"}

	assert.Nil(t, send(t, b, c, MsgSelection, 0, &Selection{DocumentID: "missing"}), "notifications fail silently")

	resp := send(t, b, c, MsgSelection, 9, &Selection{DocumentID: "missing"})
	require.NotNil(t, resp)
	assert.Equal(t, MsgError, resp.Header.Type)
	var e ErrorResponse
	require.NoError(t, Decode(resp.Payload, &e))
	assert.Equal(t, ErrNotFound, e.Code)

	resp = send(t, b, c, MsgSetMode, 1, &SetModeRequest{Mode: "english"})
	require.NoError(t, Decode(resp.Payload, &e))
	assert.Equal(t, ErrUnavailable, e.Code)

	resp = send(t, b, c, MessageType(0x7777), 2, nil)
	assert.Equal(t, MsgError, resp.Header.Type)
}

func TestLastEditorLeavingDropsDocuments(t *testing.T) {
	inv := &invalidations{}
	b := NewBridge(BridgeConfig{Invalidator: inv})
	rec := &recorder{}
	b.Subscribe(rec.handle)
	ed := &Client{ID: "ed", Editor: true}

	send(t, b, ed, MsgDocumentOpen, 0, &DocumentOpen{DocumentID: "a", LanguageID: "c", Text: "x"})
	send(t, b, ed, MsgViewFocus, 0, &Focus{Focused: false})
	b.ClientGone(&Client{ID: "cli"})
	assert.Equal(t, 1, b.DocumentCount())

	b.ClientGone(ed)
	assert.Zero(t, b.DocumentCount())
	assert.Contains(t, inv.forgotten, "a")

	events := rec.all()
	assert.Equal(t, editor.ActiveViewChanged, events[len(events)-1].Type)

	focused, err := b.EditorFocused(context.Background())
	require.NoError(t, err)
	assert.True(t, focused)

	b.Close()
	_, err = b.EditorFocused(context.Background())
	assert.ErrorIs(t, err, ErrServerClosed)
}

type fakeControls struct {
	mu   sync.Mutex
	mode controller.Mode
}

func (f *fakeControls) ForceMode(m controller.Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mode = m
	return nil
}

func (f *fakeControls) Snapshot() controller.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return controller.Snapshot{Running: true, Mode: f.mode.String()}
}

type staticSwitcher struct{ code string }

func (s staticSwitcher) Switch(context.Context, string) error  { return nil }
func (s staticSwitcher) Query(context.Context) (string, error) { return s.code, nil }

func socketPath(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("unix sockets in temp dirs are not reliable on windows runners")
	}
	// sun_path is short; t.TempDir can exceed it.
	dir, err := os.MkdirTemp("", "sc")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "s.sock")
}

func TestServerClientRoundTrip(t *testing.T) {
	bar := status.NewBar()
	controls := &fakeControls{}
	bridge := NewBridge(BridgeConfig{
		Version:  "test",
		Config:   config.Static(config.DefaultConfig()),
		Controls: controls,
		Switcher: staticSwitcher{code: "1033"},
		Status:   bar,
	})

	srv, err := NewServer(ServerConfig{SocketPath: socketPath(t), Version: "test"}, bridge)
	require.NoError(t, err)
	bridge.SetServer(srv)
	require.NoError(t, srv.Start())
	defer srv.Stop()

	bar.OnChange(func(l status.Label) { srv.Publish(EventModeChanged, l) })

	cli := NewClient(DefaultClientConfig(srv.SocketPath()))
	require.NoError(t, cli.Connect())
	defer cli.Close()
	assert.Equal(t, "test", cli.ServerVersion())
	assert.NotEmpty(t, cli.SessionID())

	require.NoError(t, cli.Ping())
	require.NoError(t, cli.Subscribe(EventModeChanged))

	mode, err := cli.SetMode("chinese")
	require.NoError(t, err)
	assert.Equal(t, "chinese", mode)

	_, err = cli.SetMode("klingon")
	var remote *ErrorResponse
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, ErrInvalidRequest, remote.Code)

	q, err := cli.QueryIME()
	require.NoError(t, err)
	assert.Equal(t, "1033", q.Code)
	assert.Equal(t, config.BackendIMSelect, q.Backend)

	st, err := cli.Status()
	require.NoError(t, err)
	assert.Equal(t, "chinese", st.Controller.Mode)
	assert.Equal(t, 1, st.Clients)

	assert.Error(t, cli.Reload(), "no reloader attached")

	bar.Update("english", true)
	select {
	case ev := <-cli.Events():
		assert.Equal(t, EventModeChanged, ev.Type)
		var l status.Label
		require.NoError(t, json.Unmarshal(ev.Data, &l))
		assert.Equal(t, "EN", l.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("no mode event")
	}
}

func TestEditorClientFeedsBridge(t *testing.T) {
	bridge := NewBridge(BridgeConfig{})
	rec := &recorder{}
	bridge.Subscribe(rec.handle)

	srv, err := NewServer(ServerConfig{SocketPath: socketPath(t)}, bridge)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	defer srv.Stop()

	cfg := DefaultClientConfig(srv.SocketPath())
	cfg.ClientName = "vscode"
	cfg.Editor = true
	cli := NewClient(cfg)
	require.NoError(t, cli.Connect())

	require.NoError(t, cli.Notify(MsgDocumentOpen, &DocumentOpen{DocumentID: "a.cpp", LanguageID: "cpp", Text: "/* 说明 */"}))
	require.NoError(t, cli.Notify(MsgSelection, &Selection{DocumentID: "a.cpp", Cursor: editor.Position{Character: 4}}))

	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, editor.SelectionChanged, rec.all()[0].Type)

	cli.Close()
	require.Eventually(t, func() bool { return bridge.DocumentCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestServerRejectsSecondDaemon(t *testing.T) {
	path := socketPath(t)
	first, err := NewServer(ServerConfig{SocketPath: path}, nil)
	require.NoError(t, err)
	require.NoError(t, first.Start())
	defer first.Stop()

	second, err := NewServer(ServerConfig{SocketPath: path}, nil)
	require.NoError(t, err)
	assert.Error(t, second.Start())
}

func TestDefaultServerConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.IPC.Permissions = "0660"
	cfg.IPC.MaxConnections = 0

	sc := DefaultServerConfig(cfg)
	assert.Equal(t, os.FileMode(0o660), sc.Permissions)
	assert.Equal(t, 8, sc.MaxConnections)
	assert.Equal(t, cfg.IPC.SocketPath, sc.SocketPath)
}

func TestBroadcastRacingStop(t *testing.T) {
	srv, err := NewServer(ServerConfig{SocketPath: socketPath(t), Version: "test"}, NewBridge(BridgeConfig{}))
	require.NoError(t, err)
	require.NoError(t, srv.Start())

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					srv.Publish(EventNotification, map[string]string{"text": "x"})
				}
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, srv.Stop())
	time.Sleep(10 * time.Millisecond)
	close(stop)
	wg.Wait()

	assert.NotPanics(t, func() { srv.Publish(EventModeChanged, nil) })
	assert.NoError(t, srv.Stop())
}
