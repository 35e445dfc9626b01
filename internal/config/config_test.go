package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.True(t, cfg.Enabled)
	assert.False(t, cfg.Debug)
	assert.Equal(t, []string{"c", "cpp"}, cfg.EnabledLanguageIDs)
	assert.True(t, cfg.EnableInLineComment)
	assert.True(t, cfg.EnableInBlockComment)
	assert.True(t, cfg.EnableInDoubleQuotedString)
	assert.False(t, cfg.EnableInSingleQuotedString)
	assert.True(t, cfg.EnableInTemplateString)
	assert.True(t, cfg.SwitchToChineseOnEditorBlur)
	assert.True(t, cfg.CaptureInitialIMEAsEnglish)
	assert.True(t, cfg.WarnOnMissingBinary)
	assert.Equal(t, "1033", cfg.EnglishCode)
	assert.Equal(t, "2052", cfg.ChineseCode)
	assert.Equal(t, "bin/im-select.exe", cfg.IMSelectPath)
	assert.Equal(t, BackendIMSelect, cfg.Backend)
	assert.Equal(t, FeaturesConfig{}, cfg.Features)

	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, "2052", cfg.ChineseCode)
}

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{"toml", "config.toml", `
english_code = "0409"
enabled_language_ids = ["go"]

[features]
markdown_support = true

[[custom_rules]]
pattern = "TODO"
mode = "chinese"
`},
		{"json", "config.json", `{
  "english_code": "0409",
  "enabled_language_ids": ["go"],
  "features": {"markdown_support": true},
  "custom_rules": [{"pattern": "TODO", "mode": "chinese"}]
}`},
		{"yaml", "config.yaml", `
english_code: "0409"
enabled_language_ids: [go]
features:
  markdown_support: true
custom_rules:
  - pattern: TODO
    mode: chinese
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0600))

			cfg, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, "0409", cfg.EnglishCode)
			assert.Equal(t, "2052", cfg.ChineseCode, "unset keys keep defaults")
			assert.Equal(t, []string{"go"}, cfg.EnabledLanguageIDs)
			assert.True(t, cfg.Features.MarkdownSupport)
			assert.Equal(t, []CustomRule{{Pattern: "TODO", Mode: ModeChinese}}, cfg.CustomRules)
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("SMARTCURSOR_ENABLED", "false")
	t.Setenv("SMARTCURSOR_DEBUG", "true")
	t.Setenv("SMARTCURSOR_LANGUAGES", "c, go ,")
	t.Setenv("SMARTCURSOR_CHINESE_CODE", "zh")
	t.Setenv("SMARTCURSOR_BACKEND", BackendIBus)
	t.Setenv("SMARTCURSOR_LOG_PATH", "/tmp/sc.log")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	assert.False(t, cfg.Enabled)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "debug", cfg.LogLevel())
	assert.Equal(t, []string{"c", "go"}, cfg.EnabledLanguageIDs)
	assert.Equal(t, "zh", cfg.ChineseCode)
	assert.Equal(t, BackendIBus, cfg.Backend)
	assert.Equal(t, "file", cfg.Logging.Output)
}

func TestDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("SMARTCURSOR_ENGLISH_CODE=from-dotenv\nSMARTCURSOR_CHINESE_CODE=from-dotenv\n"), 0600))
	t.Setenv("SMARTCURSOR_CHINESE_CODE", "from-env")
	t.Setenv("SMARTCURSOR_ENGLISH_CODE", "")
	os.Unsetenv("SMARTCURSOR_ENGLISH_CODE")

	cfg, err := Load(filepath.Join(dir, "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.EnglishCode)
	assert.Equal(t, "from-env", cfg.ChineseCode)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"empty english code", func(c *Config) { c.EnglishCode = " " }, "english_code"},
		{"unknown backend", func(c *Config) { c.Backend = "xkb" }, "backend"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad permissions", func(c *Config) { c.IPC.Permissions = "777" }, "ipc.permissions"},
		{"empty language", func(c *Config) { c.EnabledLanguageIDs = []string{""} }, "enabled_language_ids[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMalformedRulesAreWarnings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CustomRules = []CustomRule{
		{Pattern: "", Mode: ModeChinese},
		{Pattern: "x", Mode: "klingon"},
		{Pattern: "(", Mode: ModeEnglish},
		{Pattern: "ok", Mode: ModeEnglish},
	}

	require.NoError(t, cfg.Validate())

	warnings := Check(cfg).Warnings()
	require.Len(t, warnings, 3)
	assert.Equal(t, "custom_rules[0].pattern", warnings[0].Field)
	assert.Equal(t, "custom_rules[1].mode", warnings[1].Field)
	assert.Equal(t, "custom_rules[2].pattern", warnings[2].Field)
}

func TestSetIMECodesRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("debug = true\n"), 0600))
	t.Setenv("SMARTCURSOR_IM_SELECT_PATH", "/from/env")

	_, err := SetIMECodes(path, "1033", "2052-ms")
	require.NoError(t, err)

	cfg, err := loadConfigFromFile(path)
	require.NoError(t, err)
	assert.True(t, cfg.Debug, "other settings survive")
	assert.Equal(t, "1033", cfg.EnglishCode)
	assert.Equal(t, "2052-ms", cfg.ChineseCode)
	assert.Equal(t, "bin/im-select.exe", cfg.IMSelectPath, "environment is not written back")
}

func TestSaveConfigFormats(t *testing.T) {
	for _, name := range []string{"c.toml", "c.json", "c.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			want := DefaultConfig()
			want.CustomRules = []CustomRule{{Pattern: "NOTE", Mode: ModeEnglish, Description: "notes"}}

			require.NoError(t, SaveConfig(want, path))
			got, err := loadConfigFromFile(path)
			require.NoError(t, err)
			assert.Equal(t, want.CustomRules, got.CustomRules)
			assert.Equal(t, want.EnabledLanguageIDs, got.EnabledLanguageIDs)
		})
	}
}

func TestLoaderRejectsInvalidReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`chinese_code = "a"`), 0600))

	l := NewLoader(path)
	defer l.Close()
	_, err := l.Load()
	require.NoError(t, err)

	changed := make(chan *Config, 4)
	l.OnChange(func(c *Config) { changed <- c })
	require.NoError(t, l.Watch())

	require.NoError(t, os.WriteFile(path, []byte(`chinese_code = "b"`), 0600))
	select {
	case c := <-changed:
		assert.Equal(t, "b", c.ChineseCode)
	case <-time.After(3 * time.Second):
		t.Fatal("reload not observed")
	}

	require.NoError(t, os.WriteFile(path, []byte(`backend = "nope"`), 0600))
	select {
	case err := <-l.Errors():
		assert.True(t, errors.As(err, new(ValidationErrors)))
	case <-time.After(3 * time.Second):
		t.Fatal("invalid reload not reported")
	}
	assert.Equal(t, "b", l.Current().ChineseCode)
}

func TestLoaderLoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`backend = "nope"`), 0600))

	_, err := NewLoader(path).Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestStaticProvider(t *testing.T) {
	cfg := DefaultConfig()
	assert.Same(t, cfg, Static(cfg).Current())
}

func TestLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")

	cfg, created, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "1033", cfg.EnglishCode)
	_, err = os.Stat(path)
	require.NoError(t, err)

	_, created, err = LoadOrCreate(path)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestCheckSeverity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IMSelectPath = ""
	cfg.Logging.Format = "xml"

	found := Check(cfg)
	require.True(t, found.HasErrors())
	require.Len(t, found.Warnings(), 1)
	assert.Equal(t, "im_select_path", found.Warnings()[0].Field)
	require.Len(t, found.Errors(), 1)
	assert.Equal(t, "logging.format", found.Errors()[0].Field)
	assert.Contains(t, found.Error(), "; ")
}
