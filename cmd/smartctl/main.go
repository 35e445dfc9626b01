// smartctl is the control CLI for smartcursord.
package main

import (
	"flag"
	"fmt"
	"os"

	"smartcursor/internal/config"
)

// Version is set at build time.
var Version = "dev"

var (
	configPath = flag.String("config", "", "path to config file")
	socketPath = flag.String("socket", "", "daemon socket (default: ipc.socket_path)")
)

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	var err error
	switch cmd {
	case "init":
		err = cmdInit()
	case "status":
		err = cmdStatus()
	case "mode":
		if len(args) < 1 {
			fmt.Fprintln(os.Stderr, "Usage: smartctl mode <english|chinese>")
			os.Exit(1)
		}
		err = cmdMode(args[0])
	case "query":
		err = cmdQuery()
	case "reload":
		err = cmdReload()
	case "metrics":
		err = cmdMetrics(args)
	case "doctor":
		err = cmdDoctor()
	case "watch":
		err = cmdWatch()
	case "scan":
		err = cmdScan(args)
	case "detect":
		err = cmdDetect(args)
	case "import-vscode":
		if len(args) < 1 {
			fmt.Fprintln(os.Stderr, "Usage: smartctl import-vscode <settings.json>")
			os.Exit(1)
		}
		err = cmdImportVSCode(args[0])
	case "version":
		fmt.Println("smartctl", Version)
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `smartctl - Control utility for smartcursord

Usage: smartctl [options] <command> [args]

Commands:
  init                        Write a default configuration file if none exists
  status                      Show daemon state, mode and cache statistics
  mode <english|chinese>      Switch the input method now
  query                       Print the input method the daemon sees
  reload                      Re-read the configuration file
  watch                       Stream daemon events until interrupted
  metrics [-prom]             Show daemon metrics
  doctor                      Check the configuration, switch backend and daemon
  scan [-lang id] <file> <line:col>
                              Explain the verdict at a position (no daemon needed)
  detect [-local]             Record the English and Chinese input method codes
  import-vscode <file>        Import imeContextSwitcher.* editor settings
  version                     Print the version
  help                        Show this help message

Options:
  -config <path>  Path to config file
  -socket <path>  Daemon socket`)
}

func resolvedConfigPath() string {
	if *configPath != "" {
		return *configPath
	}
	return config.ConfigPath()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolvedConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func cmdInit() error {
	path := resolvedConfigPath()
	_, created, err := config.LoadOrCreate(path)
	if err != nil {
		return err
	}
	if created {
		fmt.Printf("Created %s\n", path)
		fmt.Println("Run 'smartctl detect' to record your input method codes.")
		return nil
	}
	fmt.Printf("%s already exists and is valid\n", path)
	return nil
}
