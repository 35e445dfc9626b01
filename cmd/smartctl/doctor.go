package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"smartcursor/internal/config"
	"smartcursor/internal/health"
	"smartcursor/internal/imselect"
	"smartcursor/internal/ipc"
)

// doctorChecks registers the diagnostics for the configuration at path.
// socket overrides ipc.socket_path when set.
func doctorChecks(path, socket, root string) *health.Checker {
	c := health.NewChecker()

	cfg, loadErr := config.Load(path)
	if loadErr == nil {
		if found := config.Check(cfg); found.HasErrors() {
			loadErr = found.Errors()
		}
	}

	c.RegisterFunc("config", true, func(context.Context) health.Result {
		if loadErr != nil {
			return health.Unhealthy("fix "+path, loadErr)
		}
		if warnings := config.Check(cfg).Warnings(); len(warnings) > 0 {
			return health.Degraded("these entries are skipped at runtime", "%s", warnings.Error())
		}
		return health.Healthy("%s", path)
	})

	c.RegisterFunc("backend", true, func(ctx context.Context) health.Result {
		if loadErr != nil {
			return health.Skipped("configuration did not load")
		}
		sw, err := imselect.New(cfg, root)
		if err != nil {
			return health.Unhealthy("set backend to im-select or ibus", err)
		}
		if cl, ok := sw.(io.Closer); ok {
			defer cl.Close()
		}
		if e, ok := sw.(*imselect.Exec); ok {
			if err := e.Check(); err != nil {
				if errors.Is(err, imselect.ErrNoCommand) {
					return health.Degraded("set im_select_path", "no switch command configured")
				}
				return health.Unhealthy("install im-select or point im_select_path at it", err)
			}
			return health.Healthy("%s", e.Path())
		}
		if _, err := sw.Query(ctx); err != nil {
			return health.Unhealthy("is the IBus daemon running?", err)
		}
		return health.Healthy("%s", cfg.Backend)
	})

	c.RegisterFunc("codes", false, func(ctx context.Context) health.Result {
		if loadErr != nil {
			return health.Skipped("configuration did not load")
		}
		sw, err := imselect.New(cfg, root)
		if err != nil {
			return health.Skipped("no backend")
		}
		if cl, ok := sw.(io.Closer); ok {
			defer cl.Close()
		}
		code, err := sw.Query(ctx)
		if err != nil {
			return health.Skipped("backend cannot be queried")
		}
		switch code {
		case cfg.EnglishCode, cfg.ChineseCode:
			return health.Healthy("current input method %s is configured", code)
		}
		return health.Degraded("run smartctl detect",
			"current input method %s is neither english_code %s nor chinese_code %s", code, cfg.EnglishCode, cfg.ChineseCode)
	})

	c.RegisterFunc("daemon", false, func(context.Context) health.Result {
		sock := socket
		if sock == "" {
			if loadErr != nil {
				return health.Skipped("configuration did not load")
			}
			sock = cfg.IPC.SocketPath
		}
		cc := ipc.DefaultClientConfig(sock)
		cc.ClientVersion = Version
		cc.ConnectTimeout = time.Second
		client := ipc.NewClient(cc)
		defer client.Close()
		if err := client.Connect(); err != nil {
			return health.Unhealthy("start smartcursord", err)
		}
		if err := client.Ping(); err != nil {
			return health.Unhealthy("restart smartcursord", err)
		}
		return health.Healthy("smartcursord %s on %s", client.ServerVersion(), sock)
	})
	return c
}

func printReport(w io.Writer, results []health.Result) health.Status {
	for _, r := range results {
		fmt.Fprintf(w, "%-8s %-10s %s\n", r.Name, strings.ToUpper(string(r.Status)), r.Message)
		if r.Hint != "" && r.Status != health.StatusHealthy && r.Status != health.StatusSkipped {
			fmt.Fprintf(w, "%-8s %-10s hint: %s\n", "", "", r.Hint)
		}
	}
	overall := health.Overall(results)
	fmt.Fprintf(w, "\nOverall: %s\n", overall)
	return overall
}

func cmdDoctor() error {
	results := doctorChecks(resolvedConfigPath(), *socketPath, config.InstallRoot()).Run(context.Background())
	if printReport(os.Stdout, results) == health.StatusUnhealthy {
		return errors.New("unhealthy: " + strings.Join(health.Failing(results), ", "))
	}
	return nil
}
