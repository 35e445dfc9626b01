package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"smartcursor/internal/ipc"
)

func connect() (*ipc.IPCClient, error) {
	path := *socketPath
	if path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		path = cfg.IPC.SocketPath
	}

	cfg := ipc.DefaultClientConfig(path)
	cfg.ClientVersion = Version

	client := ipc.NewClient(cfg)
	if err := client.Connect(); err != nil {
		if errors.Is(err, ipc.ErrDaemonNotRunning) {
			return nil, fmt.Errorf("%w (start it with: smartcursord)", err)
		}
		return nil, fmt.Errorf("cannot connect to daemon: %w", err)
	}
	return client, nil
}

func cmdStatus() error {
	client, err := connect()
	if err != nil {
		return err
	}
	defer client.Close()

	st, err := client.Status()
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}

	ctl := st.Controller
	fmt.Println("=== smartcursord Status ===")
	fmt.Printf("Version:        %s\n", st.Version)
	fmt.Printf("Uptime:         %s\n", st.Uptime.Round(time.Second))
	if st.ConfigPath != "" {
		fmt.Printf("Config:         %s\n", st.ConfigPath)
	}
	fmt.Println()

	fmt.Println("Switching:")
	if !ctl.Enabled {
		fmt.Println("  DISABLED")
	}
	fmt.Printf("  Mode:         %s", ctl.Mode)
	if st.Label.Visible {
		fmt.Printf(" [%s]", st.Label.Text)
	}
	fmt.Println()
	fmt.Printf("  English code: %s", ctl.EnglishCode)
	if ctl.DetectedEnglishCode != "" {
		fmt.Printf(" (detected %s)", ctl.DetectedEnglishCode)
	}
	fmt.Println()
	fmt.Printf("  Chinese code: %s\n", ctl.ChineseCode)
	fmt.Printf("  Evaluations:  %d\n", ctl.Evaluations)
	fmt.Printf("  Switches:     %d\n", ctl.Switches)
	if ctl.MissingWarned {
		fmt.Println("  Switch binary missing")
	}
	if !ctl.FocusPolling {
		fmt.Println("  Focus polling off")
	}
	fmt.Println()

	fmt.Println("Editors:")
	fmt.Printf("  Clients:      %d\n", st.Clients)
	fmt.Printf("  Documents:    %d\n", st.Documents)

	if st.Cache != nil {
		fmt.Println()
		fmt.Println("Cache:")
		fmt.Printf("  Entries:      %d\n", st.Cache.Entries)
		fmt.Printf("  Hits/Misses:  %d/%d\n", st.Cache.Hits, st.Cache.Misses)
		fmt.Printf("  Resumed:      %d\n", st.Cache.Resumed)
		fmt.Printf("  Dropped:      %d\n", st.Cache.Dropped)
	}
	return nil
}

func cmdMode(mode string) error {
	client, err := connect()
	if err != nil {
		return err
	}
	defer client.Close()

	got, err := client.SetMode(mode)
	if err != nil {
		return fmt.Errorf("set mode: %w", err)
	}
	fmt.Printf("Switched to %s\n", got)
	return nil
}

func cmdQuery() error {
	client, err := connect()
	if err != nil {
		return err
	}
	defer client.Close()

	resp, err := client.QueryIME()
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	fmt.Printf("%s (%s)\n", resp.Code, resp.Backend)
	return nil
}

func cmdReload() error {
	client, err := connect()
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Reload(); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	fmt.Println("Configuration reloaded")
	return nil
}

func cmdWatch() error {
	client, err := connect()
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Subscribe(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	for {
		select {
		case ev, ok := <-client.Events():
			if !ok {
				return nil
			}
			printEvent(ev)
			if ev.Type == ipc.EventDaemonShutdown {
				return nil
			}
		case <-sig:
			return nil
		}
	}
}

func printEvent(ev *ipc.Event) {
	var data any
	if len(ev.Data) > 0 {
		_ = json.Unmarshal(ev.Data, &data)
	}
	if data == nil {
		fmt.Printf("%s %s\n", ev.Timestamp.Format(time.TimeOnly), ev.Type)
		return
	}
	compact, _ := json.Marshal(data)
	fmt.Printf("%s %s %s\n", ev.Timestamp.Format(time.TimeOnly), ev.Type, compact)
}

func cmdMetrics(args []string) error {
	fs := flag.NewFlagSet("metrics", flag.ExitOnError)
	prom := fs.Bool("prom", false, "print the Prometheus text format")
	fs.Parse(args)

	client, err := connect()
	if err != nil {
		return err
	}
	defer client.Close()

	m, err := client.Metrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	if *prom {
		fmt.Print(m.Text)
		return nil
	}

	names := make([]string, 0, len(m.Values))
	for name := range m.Values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("%-48s %g\n", name, m.Values[name])
	}
	return nil
}
