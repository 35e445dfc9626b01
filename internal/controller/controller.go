// Package controller turns editor events into input method switches.
//
// It debounces cursor and document events, asks the rules for a verdict,
// and issues a switch only when the wanted mode differs from the last
// commanded one. Blur-like events force Chinese input. A background poll
// catches focus losses the editor does not report as events.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"smartcursor/internal/config"
	"smartcursor/internal/editor"
	"smartcursor/internal/imselect"
	"smartcursor/internal/logging"
	"smartcursor/internal/notify"
	"smartcursor/internal/status"
)

const (
	// DefaultDebounce collapses bursts of cursor and typing events.
	DefaultDebounce = 50 * time.Millisecond

	// DefaultPollInterval is the period of the focus poll.
	DefaultPollInterval = 250 * time.Millisecond

	// captureTimeout bounds the startup query of the current input method.
	captureTimeout = 3 * time.Second
)

var (
	// ErrNotRunning is returned before Init and after Shutdown.
	ErrNotRunning = errors.New("controller: not running")

	// ErrAlreadyRunning is returned by a second Init.
	ErrAlreadyRunning = errors.New("controller: already running")
)

// Mode is the last commanded input mode.
type Mode int

const (
	ModeUnknown Mode = iota
	ModeEnglish
	ModeChinese
)

func (m Mode) String() string {
	switch m {
	case ModeEnglish:
		return config.ModeEnglish
	case ModeChinese:
		return config.ModeChinese
	default:
		return "unknown"
	}
}

// ParseMode parses "english" or "chinese".
func ParseMode(s string) (Mode, error) {
	switch s {
	case config.ModeEnglish:
		return ModeEnglish, nil
	case config.ModeChinese:
		return ModeChinese, nil
	}
	return ModeUnknown, fmt.Errorf("unknown mode %q", s)
}

// Verdicter decides whether the cursor wants Chinese input.
type Verdicter interface {
	ShouldUseSecondaryScript(v editor.View) bool
}

// FocusProbe reports whether the editor's text area has input focus.
type FocusProbe interface {
	EditorFocused(ctx context.Context) (bool, error)
}

// Options wires a controller. Config, Rules and Switcher are required.
type Options struct {
	Config   config.Provider
	Rules    Verdicter
	Switcher imselect.Switcher

	Status   status.Indicator
	Notifier notify.Notifier
	Focus    FocusProbe
	Logger   *logging.Logger

	Debounce     time.Duration
	PollInterval time.Duration
}

// Snapshot is a point-in-time view of the controller.
type Snapshot struct {
	Running             bool   `json:"running"`
	Enabled             bool   `json:"enabled"`
	Mode                string `json:"mode"`
	EnglishCode         string `json:"english_code"`
	ChineseCode         string `json:"chinese_code"`
	DetectedEnglishCode string `json:"detected_english_code,omitempty"`
	FocusPolling        bool   `json:"focus_polling"`
	Pending             bool   `json:"pending"`
	MissingWarned       bool   `json:"missing_warned"`
	Evaluations         uint64 `json:"evaluations"`
	Switches            uint64 `json:"switches"`
}

// Controller is the switching state machine. It is safe for concurrent use.
type Controller struct {
	opts Options
	log  *logging.Logger

	mu       sync.Mutex
	running  bool
	ctx      context.Context
	cancel   context.CancelFunc
	mode     Mode
	active   editor.View
	timer    *time.Timer
	seq      uint64
	detected string

	pollCancel context.CancelFunc
	polling    atomic.Bool
	pollBusy   atomic.Bool

	warned   atomic.Bool
	inflight sync.WaitGroup

	evaluations atomic.Uint64
	switches    atomic.Uint64
}

// New validates opts and creates a stopped controller.
func New(opts Options) (*Controller, error) {
	if opts.Config == nil || opts.Rules == nil || opts.Switcher == nil {
		return nil, errors.New("controller: config, rules and switcher are required")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Controller{opts: opts, log: opts.Logger.WithComponent("controller")}, nil
}

// Init starts the controller. It captures the current input method as the
// English code when configured, starts the focus poll, and evaluates
// active, or treats the editor as blurred when active is nil.
func (c *Controller) Init(ctx context.Context, active editor.View) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.running = true
	c.mode = ModeUnknown
	c.active = active
	c.mu.Unlock()

	c.captureEnglishCode(c.ctx)

	c.mu.Lock()
	c.startPollLocked()
	c.updateStatusLocked()
	c.mu.Unlock()

	if active == nil {
		c.HandleBlur()
		return nil
	}
	c.Schedule(active)
	return nil
}

// Shutdown stops timers and the poll, then issues one final switch to the
// Chinese code when switch_to_chinese_on_exit is set. It waits for
// in-flight switches until ctx is done.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return ErrNotRunning
	}
	c.running = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.seq++
	c.stopPollLocked()
	c.cancel()
	cfg := c.opts.Config.Current()
	c.mu.Unlock()

	var final error
	if cfg.Enabled && cfg.SwitchToChineseOnExit {
		final = c.opts.Switcher.Switch(ctx, cfg.ChineseCode)
		if final != nil && !errors.Is(final, imselect.ErrNoCommand) {
			c.log.Debug("[exec error]", "phase", "shutdown", "error", final)
		}
		if errors.Is(final, imselect.ErrNoCommand) || imselect.Unavailable(final) {
			final = nil
		}
	}

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return final
}

// Schedule evaluates v after the debounce interval. A later call replaces
// a pending one.
func (c *Controller) Schedule(v editor.View) {
	if v == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.seq++
	seq := c.seq
	c.timer = time.AfterFunc(c.opts.Debounce, func() {
		defer c.log.Recover("debounced evaluation")
		c.mu.Lock()
		defer c.mu.Unlock()
		// Stop cannot retract a callback already waiting for the lock.
		if seq != c.seq || !c.running {
			return
		}
		c.timer = nil
		c.evaluateLocked(v)
	})
}

// Evaluate decides the mode for v immediately.
func (c *Controller) Evaluate(v editor.View) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return ErrNotRunning
	}
	c.evaluateLocked(v)
	return nil
}

// ForceMode commands m regardless of the cursor position. Repeating the
// current mode does nothing.
func (c *Controller) ForceMode(m Mode) error {
	if m != ModeEnglish && m != ModeChinese {
		return fmt.Errorf("controller: cannot force mode %s", m)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return ErrNotRunning
	}
	if !c.opts.Config.Current().Enabled {
		return nil
	}
	c.setModeLocked(m)
	return nil
}

// HandleBlur switches to Chinese when switch_to_chinese_on_editor_blur is
// set.
func (c *Controller) HandleBlur() {
	if !c.opts.Config.Current().SwitchToChineseOnEditorBlur {
		return
	}
	if err := c.ForceMode(ModeChinese); err != nil && !errors.Is(err, ErrNotRunning) {
		c.log.Debug("blur", "error", err)
	}
}

// HandleEvent routes one editor event.
func (c *Controller) HandleEvent(ev editor.Event) {
	switch ev.Type {
	case editor.ActiveViewChanged:
		c.setActive(ev.View)
		if ev.View == nil {
			c.HandleBlur()
			return
		}
		c.Schedule(ev.View)

	case editor.SelectionChanged:
		c.setActive(ev.View)
		c.Schedule(ev.View)

	case editor.DocumentChanged:
		if active := c.Active(); active != nil && active.Document().ID() == ev.DocumentID {
			c.Schedule(active)
		}

	case editor.ViewFocusChanged:
		if !ev.Focused {
			c.HandleBlur()
			return
		}
		c.Schedule(c.Active())

	case editor.WindowFocusChanged:
		if !ev.Focused {
			c.HandleBlur()
		}

	case editor.TerminalFocused:
		c.HandleBlur()
	}
}

// Attach subscribes the controller to src.
func (c *Controller) Attach(src editor.Source) editor.Disposable {
	return src.Subscribe(c.HandleEvent)
}

// OnConfigChange re-captures the English code, restarts the focus poll and
// re-evaluates the active view.
func (c *Controller) OnConfigChange(cfg *config.Config) {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	ctx := c.ctx
	c.startPollLocked()
	c.updateStatusLocked()
	active := c.active
	c.inflight.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.inflight.Done()
		defer c.log.Recover("capture english code")
		c.captureEnglishCode(ctx)
	}()

	c.log.Debug("config applied", "enabled", cfg.Enabled, "backend", cfg.Backend)
	c.Schedule(active)
}

// Active returns the view the controller currently follows.
func (c *Controller) Active() editor.View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Mode returns the last commanded mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Snapshot returns the controller state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg := c.opts.Config.Current()
	return Snapshot{
		Running:             c.running,
		Enabled:             cfg.Enabled,
		Mode:                c.mode.String(),
		EnglishCode:         c.codeLocked(cfg, ModeEnglish),
		ChineseCode:         cfg.ChineseCode,
		DetectedEnglishCode: c.detected,
		FocusPolling:        c.polling.Load(),
		Pending:             c.timer != nil,
		MissingWarned:       c.warned.Load(),
		Evaluations:         c.evaluations.Load(),
		Switches:            c.switches.Load(),
	}
}

func (c *Controller) setActive(v editor.View) {
	c.mu.Lock()
	c.active = v
	c.mu.Unlock()
}

func (c *Controller) evaluateLocked(v editor.View) {
	if v == nil {
		return
	}
	if !c.opts.Config.Current().Enabled {
		return
	}
	c.evaluations.Add(1)
	next := ModeEnglish
	if c.opts.Rules.ShouldUseSecondaryScript(v) {
		next = ModeChinese
	}
	c.setModeLocked(next)
}

// setModeLocked records m and starts the external switch. The mode is
// recorded before the switch completes, so a failed switch is not retried
// until the wanted mode changes.
func (c *Controller) setModeLocked(m Mode) {
	if m == c.mode {
		return
	}
	cfg := c.opts.Config.Current()
	code := c.codeLocked(cfg, m)

	c.log.Debug("[switch]", "mode", m.String(), "command", cfg.IMSelectPath+" "+code)
	c.mode = m
	c.switches.Add(1)
	c.updateStatusLocked()

	done := imselect.SwitchAsync(context.Background(), c.opts.Switcher, code)
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		c.switchFailed(<-done)
	}()
}

func (c *Controller) switchFailed(err error) {
	switch {
	case err == nil, errors.Is(err, imselect.ErrNoCommand):
	case errors.Is(err, imselect.ErrBinaryMissing):
		c.warnUnavailable(err, "Install im-select there or set im_select_path.")
	case errors.Is(err, imselect.ErrIBusUnavailable):
		c.warnUnavailable(err, "Start ibus-daemon or set backend to im-select.")
	default:
		c.log.Debug("[exec error]", "error", err)
	}
}

func (c *Controller) warnUnavailable(err error, hint string) {
	c.log.Debug("[missing]", "error", err)
	if c.opts.Config.Current().WarnOnMissingBinary && c.warned.CompareAndSwap(false, true) && c.opts.Notifier != nil {
		c.opts.Notifier.Warn(fmt.Sprintf("SmartCursor: %v. %s", err, hint))
	}
}

func (c *Controller) codeLocked(cfg *config.Config, m Mode) string {
	if m == ModeEnglish && c.detected != "" {
		return c.detected
	}
	return cfg.CodeFor(m.String())
}

func (c *Controller) updateStatusLocked() {
	if c.opts.Status == nil {
		return
	}
	c.opts.Status.Update(c.mode.String(), c.opts.Config.Current().Enabled)
}

// captureEnglishCode adopts the input method active right now as the
// English code, unless it is the Chinese one.
func (c *Controller) captureEnglishCode(ctx context.Context) {
	cfg := c.opts.Config.Current()
	if !cfg.CaptureInitialIMEAsEnglish {
		c.setDetected("")
		return
	}

	qctx, cancel := context.WithTimeout(ctx, captureTimeout)
	defer cancel()
	code, err := c.opts.Switcher.Query(qctx)
	if err != nil {
		if !imselect.Unavailable(err) && !errors.Is(err, imselect.ErrNoCommand) {
			c.log.Debug("[query error]", "error", err)
		}
		c.setDetected("")
		return
	}
	if code == "" || code == cfg.ChineseCode {
		c.setDetected("")
		return
	}
	c.log.Debug("[init] detected englishCode=" + code)
	c.setDetected(code)
}

func (c *Controller) setDetected(code string) {
	c.mu.Lock()
	c.detected = code
	c.mu.Unlock()
}
