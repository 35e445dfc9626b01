package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

// PlatformDataDir returns the platform-specific data directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/smartcursor/
//   - Linux:   ~/.local/share/smartcursor/
//   - Windows: %APPDATA%\smartcursor\
//
// Falls back to ~/.smartcursor if platform detection fails.
func PlatformDataDir() string {
	switch runtime.GOOS {
	case "darwin":
		return macOSDataDir()
	case "linux":
		return linuxDataDir()
	case "windows":
		return windowsDataDir()
	default:
		return fallbackDataDir()
	}
}

// PlatformConfigDir returns the platform-specific config directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/smartcursor/
//   - Linux:   ~/.config/smartcursor/
//   - Windows: %APPDATA%\smartcursor\
func PlatformConfigDir() string {
	switch runtime.GOOS {
	case "darwin":
		return macOSDataDir()
	case "linux":
		return linuxConfigDir()
	case "windows":
		return windowsDataDir()
	default:
		return fallbackDataDir()
	}
}

// PlatformRuntimeDir returns the directory for the IPC socket.
//
// Platform paths:
//   - Linux:   $XDG_RUNTIME_DIR/smartcursor/ or /tmp/smartcursor-$UID/
//   - Windows: %LOCALAPPDATA%\smartcursor\run\
//   - others:  /tmp/smartcursor-$UID/
func PlatformRuntimeDir() string {
	switch runtime.GOOS {
	case "linux":
		if xdg := os.Getenv("XDG_RUNTIME_DIR"); xdg != "" {
			return filepath.Join(xdg, "smartcursor")
		}
	case "windows":
		// AF_UNIX sockets work on Windows 10 and later.
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, "smartcursor", "run")
		}
		return filepath.Join(windowsDataDir(), "run")
	}
	return filepath.Join(os.TempDir(), "smartcursor-"+strconv.Itoa(os.Getuid()))
}

// InstallRoot is the directory relative switch paths resolve against: the
// directory holding the running executable, or SMARTCURSOR_HOME when set.
func InstallRoot() string {
	if home := os.Getenv("SMARTCURSOR_HOME"); home != "" {
		return home
	}
	exe, err := os.Executable()
	if err != nil {
		wd, _ := os.Getwd()
		return wd
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe)
}

func macOSDataDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, "Library", "Application Support", "smartcursor")
}

func linuxDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "smartcursor")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "smartcursor")
}

func linuxConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "smartcursor")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "smartcursor")
}

func windowsDataDir() string {
	if appData := os.Getenv("APPDATA"); appData != "" {
		return filepath.Join(appData, "smartcursor")
	}
	return fallbackDataDir()
}

func fallbackDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".smartcursor")
}

// SupportedConfigFormats returns the list of supported config file formats.
func SupportedConfigFormats() []string {
	return []string{
		"toml",
		"json",
		"yaml",
		"yml",
	}
}

// FindConfigFile searches for a config file in standard locations.
// Returns the path to the first found config file, or empty string if none found.
func FindConfigFile() string {
	// Search order:
	// 1. SMARTCURSOR_CONFIG
	// 2. Current directory
	// 3. Config directory
	if p := os.Getenv("SMARTCURSOR_CONFIG"); p != "" {
		return p
	}

	for _, dir := range []string{".", PlatformConfigDir()} {
		for _, ext := range SupportedConfigFormats() {
			path := filepath.Join(dir, "smartcursor."+ext)
			if dir != "." {
				path = filepath.Join(dir, "config."+ext)
			}
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}

	return ""
}
