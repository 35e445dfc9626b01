package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardizeJSONC(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"line comment", "{\"a\": 1 // one\n}", `{"a":1}`},
		{"block comment", `{/* lead */"a": /* mid */ 2}`, `{"a":2}`},
		{"url in string", `{"u": "https://example.com/x"}`, `{"u":"https://example.com/x"}`},
		{"escaped quote", `{"s": "say \"//\" twice"} // tail`, `{"s":"say \"//\" twice"}`},
		{"trailing commas", `{"a": [1, 2, ], "b": {"c": 3,}, }`, `{"a":[1,2],"b":{"c":3}}`},
		{"comma in string", `{"s": "x,}"}`, `{"s":"x,}"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := []byte(tt.in)
			plain, err := StandardizeJSONC(in)
			require.NoError(t, err)
			assert.Equal(t, tt.in, string(in), "input untouched")
			var got any
			require.NoError(t, json.Unmarshal(plain, &got), string(plain))
			compact, err := json.Marshal(got)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(compact))
		})
	}
}

func TestImportVSCodeSettings(t *testing.T) {
	data := []byte(`{
		// flat keys as written by the settings editor
		"imeContextSwitcher.enabled": false,
		"imeContextSwitcher.englishCode": 1033,
		"imeContextSwitcher.chineseCode": "2052",
		"imeContextSwitcher.customRules": [
			{"pattern": "^\\s*#", "mode": "english", "description": "preprocessor"},
			{"pattern": "(", "mode": "chinese"},
		],
		// nested form
		"imeContextSwitcher": {
			"features": {"markdownSupport": true, "performanceCache": true},
			"imSelectPath": "C:/tools/im-select.exe",
			"noSuchSetting": 1,
		},
		"editor.tabSize": 4,
	}`)

	base := DefaultConfig()
	cfg, unknown, err := ImportVSCodeSettings(data, base)
	require.NoError(t, err)

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "1033", cfg.EnglishCode)
	assert.Equal(t, "2052", cfg.ChineseCode)
	assert.Equal(t, "C:/tools/im-select.exe", cfg.IMSelectPath)
	assert.True(t, cfg.Features.MarkdownSupport)
	assert.True(t, cfg.Features.PerformanceCache)
	assert.False(t, cfg.Features.CustomRules)
	require.Len(t, cfg.CustomRules, 2)
	assert.Equal(t, `^\s*#`, cfg.CustomRules[0].Pattern)
	assert.Equal(t, "preprocessor", cfg.CustomRules[0].Description)
	assert.Equal(t, "(", cfg.CustomRules[1].Pattern, "malformed rules are kept for the evaluator to skip")
	assert.Equal(t, []string{"imeContextSwitcher.noSuchSetting"}, unknown)

	assert.True(t, base.Enabled, "base is not modified")
}

func TestImportVSCodeSettingsTypeErrors(t *testing.T) {
	tests := []string{
		`{"imeContextSwitcher.enabled": "yes"}`,
		`{"imeContextSwitcher.enabledLanguageIds": "c"}`,
		`{"imeContextSwitcher.enabledLanguageIds": [1]}`,
		`{"imeContextSwitcher.englishCode": true}`,
		`{"imeContextSwitcher.customRules": {}}`,
		`{"imeContextSwitcher.customRules": {"pattern": "x"}}`,
		`{"imeContextSwitcher": {"customRules": {"pattern": "x"}}}`,
		`not json`,
	}
	for _, in := range tests {
		_, _, err := ImportVSCodeSettings([]byte(in), nil)
		assert.Error(t, err, in)
	}
}

func TestImportVSCodeSettingsEmptySection(t *testing.T) {
	cfg, unknown, err := ImportVSCodeSettings([]byte(`{"imeContextSwitcher": {}, "other": {}}`), nil)
	require.NoError(t, err)
	assert.Empty(t, unknown)
	assert.True(t, cfg.Enabled)
}

func TestImportVSCodeFile(t *testing.T) {
	_, _, err := ImportVSCodeFile(filepath.Join(t.TempDir(), "missing.json"), nil)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"imeContextSwitcher.debug": true}`), 0600))
	cfg, unknown, err := ImportVSCodeFile(path, nil)
	require.NoError(t, err)
	assert.True(t, cfg.Debug)
	assert.Empty(t, unknown)
}
