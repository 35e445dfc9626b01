// Package config handles configuration loading, validation, and management for smartcursor.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Version is the current configuration schema version.
const Version = 1

// Switch backends.
const (
	BackendIMSelect = "im-select"
	BackendIBus     = "ibus"
)

// Rule modes.
const (
	ModeChinese = "chinese"
	ModeEnglish = "english"
)

// Config holds the complete smartcursor configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Enabled turns the whole switcher on or off.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Debug enables debug-level logging of switch decisions.
	Debug bool `toml:"debug" json:"debug" yaml:"debug"`

	// EnabledLanguageIDs lists the editor languages the lexical scan applies to.
	EnabledLanguageIDs []string `toml:"enabled_language_ids" json:"enabled_language_ids" yaml:"enabled_language_ids"`

	EnableInLineComment        bool `toml:"enable_in_line_comment" json:"enable_in_line_comment" yaml:"enable_in_line_comment"`
	EnableInBlockComment       bool `toml:"enable_in_block_comment" json:"enable_in_block_comment" yaml:"enable_in_block_comment"`
	EnableInDoubleQuotedString bool `toml:"enable_in_double_quoted_string" json:"enable_in_double_quoted_string" yaml:"enable_in_double_quoted_string"`
	EnableInSingleQuotedString bool `toml:"enable_in_single_quoted_string" json:"enable_in_single_quoted_string" yaml:"enable_in_single_quoted_string"`
	EnableInTemplateString     bool `toml:"enable_in_template_string" json:"enable_in_template_string" yaml:"enable_in_template_string"`

	// CustomRules are matched against the cursor line before anything else.
	CustomRules []CustomRule `toml:"custom_rules" json:"custom_rules" yaml:"custom_rules"`

	// SwitchToChineseOnEditorBlur forces Chinese input when the editor
	// loses focus or a terminal becomes active.
	SwitchToChineseOnEditorBlur bool `toml:"switch_to_chinese_on_editor_blur" json:"switch_to_chinese_on_editor_blur" yaml:"switch_to_chinese_on_editor_blur"`

	// CaptureInitialIMEAsEnglish records the IME active at startup as the
	// English code for the session.
	CaptureInitialIMEAsEnglish bool `toml:"capture_initial_ime_as_english" json:"capture_initial_ime_as_english" yaml:"capture_initial_ime_as_english"`

	// WarnOnMissingBinary shows one warning when the switch binary is absent.
	WarnOnMissingBinary bool `toml:"warn_on_missing_binary" json:"warn_on_missing_binary" yaml:"warn_on_missing_binary"`

	// SwitchToChineseOnExit issues a final Chinese switch on shutdown.
	SwitchToChineseOnExit bool `toml:"switch_to_chinese_on_exit" json:"switch_to_chinese_on_exit" yaml:"switch_to_chinese_on_exit"`

	// EnglishCode and ChineseCode are the IME identifiers passed to the backend.
	EnglishCode string `toml:"english_code" json:"english_code" yaml:"english_code"`
	ChineseCode string `toml:"chinese_code" json:"chinese_code" yaml:"chinese_code"`

	// IMSelectPath is the switch executable. Relative paths resolve against
	// the install root.
	IMSelectPath string `toml:"im_select_path" json:"im_select_path" yaml:"im_select_path"`

	// Backend selects the switch implementation: "im-select" or "ibus".
	Backend string `toml:"backend" json:"backend" yaml:"backend"`

	// Features gates optional behaviour.
	Features FeaturesConfig `toml:"features" json:"features" yaml:"features"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// IPC configuration for the editor bridge.
	IPC IPCConfig `toml:"ipc" json:"ipc" yaml:"ipc"`
}

// CustomRule overrides classification when Pattern matches the text
// before the cursor on the current line.
type CustomRule struct {
	Pattern     string `toml:"pattern" json:"pattern" yaml:"pattern"`
	Mode        string `toml:"mode" json:"mode" yaml:"mode"`
	Description string `toml:"description,omitempty" json:"description,omitempty" yaml:"description,omitempty"`
}

// FeaturesConfig holds the feature flags.
type FeaturesConfig struct {
	ExtendedLanguages bool `toml:"extended_languages" json:"extended_languages" yaml:"extended_languages"`
	MarkdownSupport   bool `toml:"markdown_support" json:"markdown_support" yaml:"markdown_support"`
	CustomRules       bool `toml:"custom_rules" json:"custom_rules" yaml:"custom_rules"`
	TemplateStrings   bool `toml:"template_strings" json:"template_strings" yaml:"template_strings"`
	PerformanceCache  bool `toml:"performance_cache" json:"performance_cache" yaml:"performance_cache"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	// Debug forces "debug".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is the log destination: "stdout", "stderr", or "file".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file when Output is "file".
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the size at which the log file is rotated.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of rotated files kept.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
}

// IPCConfig holds the editor bridge configuration.
type IPCConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// SocketPath is the Unix socket the editor plugin connects to.
	SocketPath string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`

	// Permissions is the socket file mode, e.g. "0600".
	Permissions string `toml:"permissions" json:"permissions" yaml:"permissions"`

	// MaxConnections bounds concurrently connected editors.
	MaxConnections int `toml:"max_connections" json:"max_connections" yaml:"max_connections"`
}

// Provider supplies the configuration in effect. Callers read it on every
// decision so reloads apply without restarts.
type Provider interface {
	Current() *Config
}

type staticProvider struct{ cfg *Config }

func (p staticProvider) Current() *Config { return p.cfg }

// Static returns a Provider that always yields cfg.
func Static(cfg *Config) Provider {
	return staticProvider{cfg: cfg}
}

// DefaultConfig returns a configuration with the documented defaults.
func DefaultConfig() *Config {
	dir := SmartcursorDir()

	return &Config{
		Version:                     Version,
		Enabled:                     true,
		Debug:                       false,
		EnabledLanguageIDs:          []string{"c", "cpp"},
		EnableInLineComment:         true,
		EnableInBlockComment:        true,
		EnableInDoubleQuotedString:  true,
		EnableInSingleQuotedString:  false,
		EnableInTemplateString:      true,
		CustomRules:                 []CustomRule{},
		SwitchToChineseOnEditorBlur: true,
		CaptureInitialIMEAsEnglish:  true,
		WarnOnMissingBinary:         true,
		SwitchToChineseOnExit:       true,
		EnglishCode:                 "1033",
		ChineseCode:                 "2052",
		IMSelectPath:                "bin/im-select.exe",
		Backend:                     BackendIMSelect,
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(dir, "smartcursor.log"),
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		IPC: IPCConfig{
			Enabled:        true,
			SocketPath:     defaultSocketPath(),
			Permissions:    "0600",
			MaxConnections: 8,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	if found := FindConfigFile(); found != "" {
		return found
	}
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
// A .env file next to the configuration is loaded before the
// SMARTCURSOR_* overrides are applied.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}

	LoadDotEnv(filepath.Dir(path))
	cfg.ApplyEnvOverrides()

	return cfg, nil
}

// LoadDotEnv loads dir/.env into the process environment. Variables that
// are already set win. A missing file is ignored.
func LoadDotEnv(dir string) {
	p := filepath.Join(dir, ".env")
	if _, err := os.Stat(p); err != nil {
		return
	}
	_ = godotenv.Load(p)
}

// Validate checks the configuration for errors. Warnings such as malformed
// custom rules are not reported here; see Check.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates the directories the daemon writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{filepath.Dir(c.IPC.SocketPath)}
	if c.Logging.Output == "file" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// SmartcursorDir returns the base data directory.
// SMARTCURSOR_DATA_DIR overrides the platform default.
func SmartcursorDir() string {
	if envDir := os.Getenv("SMARTCURSOR_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with SMARTCURSOR_ and use underscores.
func (c *Config) ApplyEnvOverrides() {
	if v, ok := envBool("SMARTCURSOR_ENABLED"); ok {
		c.Enabled = v
	}
	if v, ok := envBool("SMARTCURSOR_DEBUG"); ok {
		c.Debug = v
	}
	if v := os.Getenv("SMARTCURSOR_LANGUAGES"); v != "" {
		c.EnabledLanguageIDs = splitList(v)
	}

	if v := os.Getenv("SMARTCURSOR_ENGLISH_CODE"); v != "" {
		c.EnglishCode = v
	}
	if v := os.Getenv("SMARTCURSOR_CHINESE_CODE"); v != "" {
		c.ChineseCode = v
	}
	if v := os.Getenv("SMARTCURSOR_IM_SELECT_PATH"); v != "" {
		c.IMSelectPath = v
	}
	if v := os.Getenv("SMARTCURSOR_BACKEND"); v != "" {
		c.Backend = v
	}

	if v := os.Getenv("SMARTCURSOR_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SMARTCURSOR_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
		c.Logging.Output = "file"
	}

	if v := os.Getenv("SMARTCURSOR_SOCKET_PATH"); v != "" {
		c.IPC.SocketPath = v
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.EnabledLanguageIDs = append([]string{}, c.EnabledLanguageIDs...)
	clone.CustomRules = append([]CustomRule{}, c.CustomRules...)
	return &clone
}

// LogLevel returns the effective log level.
func (c *Config) LogLevel() string {
	if c.Debug {
		return "debug"
	}
	return c.Logging.Level
}

// CodeFor returns the configured IME code for a mode.
func (c *Config) CodeFor(mode string) string {
	if mode == ModeChinese {
		return c.ChineseCode
	}
	return c.EnglishCode
}

// SetIMECodes rewrites the codes in the configuration file at path,
// keeping every other setting in the file. Environment overrides are not
// written back.
func SetIMECodes(path, english, chinese string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	if english != "" {
		cfg.EnglishCode = english
	}
	if chinese != "" {
		cfg.ChineseCode = chinese
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := SaveConfig(cfg, path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultSocketPath() string {
	return filepath.Join(PlatformRuntimeDir(), "smartcursor.sock")
}

func envBool(name string) (bool, bool) {
	v := os.Getenv(name)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
