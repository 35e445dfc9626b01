package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"smartcursor/internal/cache"
	"smartcursor/internal/config"
	"smartcursor/internal/controller"
	"smartcursor/internal/editor"
	"smartcursor/internal/imselect"
	"smartcursor/internal/ipc"
	"smartcursor/internal/logging"
	"smartcursor/internal/metrics"
	"smartcursor/internal/notify"
	"smartcursor/internal/rules"
	"smartcursor/internal/status"
)

// Options configures a Daemon.
type Options struct {
	ConfigPath string
	SocketPath string
	Debug      bool
	Version    string

	// InstallRoot resolves a relative im_select_path. Empty means
	// config.InstallRoot().
	InstallRoot string

	// Logger replaces the logger built from the configuration.
	Logger *logging.Logger
}

// Daemon owns every long-lived component.
type Daemon struct {
	opts   Options
	loader *config.Loader
	log    *logging.Logger
	owns   bool

	rules    *rules.Evaluator
	live     *imselect.Live
	switcher *meteredSwitcher
	metrics  *metrics.Registry
	bar      *status.Bar
	notes    *notify.Hub
	bridge   *ipc.Bridge
	server   *ipc.Server
	ctrl     *controller.Controller

	sub       editor.Disposable
	cancelLog context.CancelFunc
	started   time.Time
}

// NewDaemon loads the configuration and wires the components.
func NewDaemon(opts Options) (*Daemon, error) {
	loader := config.NewLoader(opts.ConfigPath)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", loader.Path(), err)
	}
	if opts.SocketPath != "" {
		cfg.IPC.SocketPath = opts.SocketPath
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	d := &Daemon{opts: opts, loader: loader, log: opts.Logger, started: time.Now()}
	if d.log == nil {
		lc := logging.FromSettings(cfg)
		if opts.Debug {
			lc.Level = logging.LevelDebug
		}
		if d.log, err = logging.New(lc); err != nil {
			return nil, fmt.Errorf("create logger: %w", err)
		}
		d.owns = true
	}
	for _, w := range config.Check(cfg).Warnings() {
		d.log.Warn("config warning", "field", w.Field, "error", w.Message)
	}

	cached, err := cache.New(cache.DefaultSize)
	if err != nil {
		return nil, err
	}
	root := opts.InstallRoot
	if root == "" {
		root = config.InstallRoot()
	}

	d.rules = rules.New(loader, cached, d.log)
	d.metrics = metrics.NewRegistry("smartcursor")
	d.live = imselect.NewLive(loader, root)
	d.switcher = newMeteredSwitcher(d.live, d.metrics)
	d.bar = status.NewBar()
	d.notes = notify.NewHub(d.log)
	d.bridge = ipc.NewBridge(ipc.BridgeConfig{
		Version:     opts.Version,
		Config:      loader,
		Switcher:    d.switcher,
		Invalidator: d.rules,
		Reloader:    loader,
		Status:      d.bar,
		CacheStats:  d.rules.CacheStats,
		Metrics:     d.metrics,
		Logger:      d.log,
	})

	d.ctrl, err = controller.New(controller.Options{
		Config:   loader,
		Rules:    d.rules,
		Switcher: d.switcher,
		Status:   d.bar,
		Notifier: d.notes,
		Focus:    d.bridge,
		Logger:   d.log,
	})
	if err != nil {
		return nil, err
	}
	d.bridge.SetControls(d.ctrl)

	if cfg.IPC.Enabled {
		sc := ipc.DefaultServerConfig(cfg)
		sc.Version = opts.Version
		sc.Logger = d.log
		if d.server, err = ipc.NewServer(sc, d.bridge); err != nil {
			return nil, err
		}
		d.bridge.SetServer(d.server)
		d.bar.OnChange(func(l status.Label) { d.server.Publish(ipc.EventModeChanged, l) })
		d.notes.Subscribe(func(m notify.Message) { d.server.Publish(ipc.EventNotification, m) })
	}
	d.registerMetrics(d.metrics)
	return d, nil
}

// Start begins watching the configuration, listening for editors and
// switching.
func (d *Daemon) Start(ctx context.Context) error {
	d.loader.OnChange(d.applyConfig)
	if err := d.loader.Watch(); err != nil {
		d.log.Warn("config hot reload unavailable", "error", err)
	}
	logCtx, cancel := context.WithCancel(ctx)
	d.cancelLog = cancel
	go d.logReloadErrors(logCtx)

	if d.server != nil {
		if err := d.server.Start(); err != nil {
			return fmt.Errorf("start ipc server: %w", err)
		}
	}

	d.sub = d.ctrl.Attach(d.bridge)
	if err := d.ctrl.Init(ctx, d.bridge.ActiveView()); err != nil {
		return err
	}
	d.log.Info("started", "config", d.loader.Path(), "version", d.opts.Version,
		"level", logging.LevelString(d.log.Level()))
	return nil
}

// Stop switches back to Chinese input and releases everything.
func (d *Daemon) Stop(ctx context.Context) error {
	var errs []error
	if d.sub != nil {
		d.sub.Dispose()
	}
	d.bridge.Close()
	if err := d.ctrl.Shutdown(ctx); err != nil && !errors.Is(err, controller.ErrNotRunning) {
		errs = append(errs, fmt.Errorf("controller: %w", err))
	}
	if d.server != nil {
		if err := d.server.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("ipc server: %w", err))
		}
	}
	if d.cancelLog != nil {
		d.cancelLog()
	}
	if err := d.loader.Close(); err != nil {
		errs = append(errs, fmt.Errorf("config watcher: %w", err))
	}
	d.live.Close()
	d.log.Info("stopped")
	if d.owns {
		d.log.Close()
	}
	return errors.Join(errs...)
}

func (d *Daemon) applyConfig(cfg *config.Config) {
	if d.owns && !d.opts.Debug {
		if level, err := logging.ParseLevel(cfg.LogLevel()); err == nil {
			d.log.SetLevel(level)
		}
	}
	for _, w := range config.Check(cfg).Warnings() {
		d.log.Warn("config warning", "field", w.Field, "error", w.Message)
	}
	d.log.Info("config reloaded", "enabled", cfg.Enabled)
	d.ctrl.OnConfigChange(cfg)
	if d.server != nil {
		d.server.Publish(ipc.EventConfigChanged, map[string]any{"path": d.loader.Path(), "enabled": cfg.Enabled})
	}
}

// Reload re-reads the configuration file now. A rejected file leaves the
// running configuration in place.
func (d *Daemon) Reload() {
	if err := d.loader.Reload(); err != nil {
		d.log.Warn("config reload rejected, keeping previous configuration", "error", err)
	}
}

func (d *Daemon) logReloadErrors(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-d.loader.Errors():
			d.log.Warn("config reload rejected, keeping previous configuration", "error", err)
		}
	}
}
