// smartcursord switches the system input method while you edit: Chinese in
// comments and strings, English in code.
//
//	smartcursord                    Run with the default configuration file
//	smartcursord -config <file>     Run with another configuration file
//	smartcursord -socket <path>     Listen on another socket
//	smartcursord -debug             Force debug logging
//
// Editors connect through the socket and stream their document and focus
// changes; smartctl talks to the same socket. SIGHUP re-reads the
// configuration file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Version is set at build time.
var Version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config file")
	socketPath := flag.String("socket", "", "override ipc.socket_path")
	debug := flag.Bool("debug", false, "force debug logging")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("smartcursord", Version)
		return
	}

	d, err := NewDaemon(Options{
		ConfigPath: *configPath,
		SocketPath: *socketPath,
		Debug:      *debug,
		Version:    Version,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "smartcursord: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "smartcursord: %v\n", err)
		os.Exit(1)
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
wait:
	for {
		select {
		case <-hup:
			d.Reload()
		case <-ctx.Done():
			break wait
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Stop(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "smartcursord: shutdown: %v\n", err)
		os.Exit(1)
	}
}
