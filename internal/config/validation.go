package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Severity separates problems that reject a configuration from those that
// only disable part of it.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field    string
	Message  string
	Severity Severity
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// IsWarning reports whether the issue leaves the configuration usable.
func (e *ValidationError) IsWarning() bool {
	return e.Severity == SeverityWarning
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i := range e {
		msgs[i] = e[i].Error()
	}
	return strings.Join(msgs, "; ")
}

func (e ValidationErrors) filter(warnings bool) ValidationErrors {
	var out ValidationErrors
	for i := range e {
		if e[i].IsWarning() == warnings {
			out = append(out, e[i])
		}
	}
	return out
}

// Warnings returns only warning-level issues.
func (e ValidationErrors) Warnings() ValidationErrors { return e.filter(true) }

// Errors returns only error-level issues.
func (e ValidationErrors) Errors() ValidationErrors { return e.filter(false) }

// HasErrors returns true if there are any non-warning errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e.Errors()) > 0
}

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

var permissionsPattern = regexp.MustCompile(`^0[0-7]{3}$`)

// issues accumulates findings while walking a configuration.
type issues struct {
	list ValidationErrors
}

func (v *issues) fail(field, format string, args ...any) {
	v.list = append(v.list, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (v *issues) warn(field, format string, args ...any) {
	v.list = append(v.list, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Severity: SeverityWarning})
}

func (v *issues) oneOf(field, value string, valid ...string) {
	for _, ok := range valid {
		if value == ok {
			return
		}
	}
	v.fail(field, "invalid value %q (valid: %s)", value, strings.Join(valid, ", "))
}

// ValidateConfig reports the error-level problems of c. Warning-level
// problems never reject a configuration.
func ValidateConfig(c *Config) error {
	if errs := Check(c).Errors(); len(errs) > 0 {
		return errs
	}
	return nil
}

// Check collects every validation issue of c, warnings included.
func Check(c *Config) ValidationErrors {
	var v issues

	if c.Version < 1 || c.Version > Version {
		v.fail("version", "unsupported version %d (current: %d)", c.Version, Version)
	}
	for i, id := range c.EnabledLanguageIDs {
		if strings.TrimSpace(id) == "" {
			v.fail(fmt.Sprintf("enabled_language_ids[%d]", i), "language id cannot be empty")
		}
	}
	if strings.TrimSpace(c.EnglishCode) == "" {
		v.fail("english_code", "required field is missing")
	}
	if strings.TrimSpace(c.ChineseCode) == "" {
		v.fail("chinese_code", "required field is missing")
	}

	v.oneOf("backend", c.Backend, BackendIMSelect, BackendIBus)
	if c.Backend == BackendIMSelect && strings.TrimSpace(c.IMSelectPath) == "" {
		v.warn("im_select_path", "path is empty; switching is disabled")
	}

	v.customRules(c.CustomRules)
	v.logging(&c.Logging)
	v.ipc(&c.IPC)
	return v.list
}

// Malformed rules are skipped by the evaluator, so they only warn.
func (v *issues) customRules(rules []CustomRule) {
	for i, r := range rules {
		field := fmt.Sprintf("custom_rules[%d]", i)
		switch {
		case r.Pattern == "":
			v.warn(field+".pattern", "pattern is required; rule skipped")
		case r.Mode != ModeChinese && r.Mode != ModeEnglish:
			v.warn(field+".mode", "invalid mode %q (valid: %s, %s); rule skipped", r.Mode, ModeChinese, ModeEnglish)
		default:
			if _, err := regexp.Compile(r.Pattern); err != nil {
				v.warn(field+".pattern", "%v; rule skipped", err)
			}
		}
	}
}

func (v *issues) logging(l *LoggingConfig) {
	v.oneOf("logging.level", l.Level, "debug", "info", "warn", "error")
	v.oneOf("logging.format", l.Format, "text", "json")
	v.oneOf("logging.output", l.Output, "stdout", "stderr", "file")

	if l.Output == "file" {
		if l.FilePath == "" {
			v.fail("logging.file_path", "file path is required when output is 'file'")
		}
		if l.MaxSizeMB < 1 {
			v.fail("logging.max_size_mb", "max size must be at least 1 MB")
		}
	}
	if l.MaxBackups < 0 {
		v.fail("logging.max_backups", "max backups cannot be negative")
	}
}

func (v *issues) ipc(i *IPCConfig) {
	if !i.Enabled {
		return
	}
	if i.SocketPath == "" {
		v.fail("ipc.socket_path", "socket path is required when IPC is enabled")
	}
	if i.Permissions != "" && !permissionsPattern.MatchString(i.Permissions) {
		v.fail("ipc.permissions", "invalid permissions %s (expected octal like 0600)", i.Permissions)
	}
	if i.MaxConnections < 1 {
		v.fail("ipc.max_connections", "max connections must be at least 1")
	}
}
