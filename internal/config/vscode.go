package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/tailscale/hujson"
)

// VSCodeSection is the settings namespace of the editor extension.
const VSCodeSection = "imeContextSwitcher"

type settingSetter func(c *Config, v any) error

var vscodeSettings = map[string]settingSetter{
	"enabled":                     setBool(func(c *Config) *bool { return &c.Enabled }),
	"debug":                       setBool(func(c *Config) *bool { return &c.Debug }),
	"enabledLanguageIds":          setStrings(func(c *Config) *[]string { return &c.EnabledLanguageIDs }),
	"enableInLineComment":         setBool(func(c *Config) *bool { return &c.EnableInLineComment }),
	"enableInBlockComment":        setBool(func(c *Config) *bool { return &c.EnableInBlockComment }),
	"enableInDoubleQuotedString":  setBool(func(c *Config) *bool { return &c.EnableInDoubleQuotedString }),
	"enableInSingleQuotedString":  setBool(func(c *Config) *bool { return &c.EnableInSingleQuotedString }),
	"enableInTemplateString":      setBool(func(c *Config) *bool { return &c.EnableInTemplateString }),
	"switchToChineseOnEditorBlur": setBool(func(c *Config) *bool { return &c.SwitchToChineseOnEditorBlur }),
	"captureInitialImeAsEnglish":  setBool(func(c *Config) *bool { return &c.CaptureInitialIMEAsEnglish }),
	"warnOnMissingBinary":         setBool(func(c *Config) *bool { return &c.WarnOnMissingBinary }),
	"switchToChineseOnExit":       setBool(func(c *Config) *bool { return &c.SwitchToChineseOnExit }),
	"englishCode":                 setString(func(c *Config) *string { return &c.EnglishCode }),
	"chineseCode":                 setString(func(c *Config) *string { return &c.ChineseCode }),
	"imSelectPath":                setString(func(c *Config) *string { return &c.IMSelectPath }),
	"customRules":                 setCustomRules,

	"features.extendedLanguages": setBool(func(c *Config) *bool { return &c.Features.ExtendedLanguages }),
	"features.markdownSupport":   setBool(func(c *Config) *bool { return &c.Features.MarkdownSupport }),
	"features.customRules":       setBool(func(c *Config) *bool { return &c.Features.CustomRules }),
	"features.templateStrings":   setBool(func(c *Config) *bool { return &c.Features.TemplateStrings }),
	"features.performanceCache":  setBool(func(c *Config) *bool { return &c.Features.PerformanceCache }),
}

// ImportVSCodeFile reads an editor settings.json and applies it to base.
func ImportVSCodeFile(path string, base *Config) (*Config, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read settings: %w", err)
	}
	return ImportVSCodeSettings(data, base)
}

// ImportVSCodeSettings applies the imeContextSwitcher.* keys of an editor
// settings document to a copy of base. The document may contain comments
// and trailing commas. Unrecognised keys of the section are returned.
func ImportVSCodeSettings(data []byte, base *Config) (*Config, []string, error) {
	if base == nil {
		base = DefaultConfig()
	}

	plain, err := StandardizeJSONC(data)
	if err != nil {
		return nil, nil, fmt.Errorf("decode settings: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(plain, &raw); err != nil {
		return nil, nil, fmt.Errorf("decode settings: %w", err)
	}

	flat := make(map[string]any)
	flatten("", raw, flat)

	cfg := base.Clone()
	var unknown []string
	for key, v := range flat {
		name, ok := strings.CutPrefix(key, VSCodeSection+".")
		if !ok {
			continue
		}
		set, ok := vscodeSettings[name]
		if !ok {
			unknown = append(unknown, key)
			continue
		}
		if err := set(cfg, v); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", key, err)
		}
	}
	sort.Strings(unknown)
	return cfg, unknown, nil
}

// flatten turns nested objects into dotted keys. Arrays are kept whole, and
// so are objects sitting on a known setting or holding nothing, so that the
// setter can reject their type.
func flatten(prefix string, m map[string]any, out map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok && len(sub) > 0 && !isSetting(key) {
			flatten(key, sub, out)
			continue
		}
		out[key] = v
	}
}

func isSetting(key string) bool {
	name, ok := strings.CutPrefix(key, VSCodeSection+".")
	if !ok {
		return false
	}
	_, known := vscodeSettings[name]
	return known
}

// StandardizeJSONC turns a settings document with comments and trailing
// commas into plain JSON. data is not modified.
func StandardizeJSONC(data []byte) ([]byte, error) {
	v, err := hujson.Parse(bytes.Clone(data))
	if err != nil {
		return nil, err
	}
	v.Standardize()
	return v.Pack(), nil
}

func setBool(field func(*Config) *bool) settingSetter {
	return func(c *Config, v any) error {
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("expected boolean, got %T", v)
		}
		*field(c) = b
		return nil
	}
}

func setString(field func(*Config) *string) settingSetter {
	return func(c *Config, v any) error {
		switch t := v.(type) {
		case string:
			*field(c) = t
		case float64:
			*field(c) = strconv.FormatFloat(t, 'f', -1, 64)
		default:
			return fmt.Errorf("expected string, got %T", v)
		}
		return nil
	}
}

func setStrings(field func(*Config) *[]string) settingSetter {
	return func(c *Config, v any) error {
		list, ok := v.([]any)
		if !ok {
			return fmt.Errorf("expected array, got %T", v)
		}
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return fmt.Errorf("expected string element, got %T", item)
			}
			out = append(out, s)
		}
		*field(c) = out
		return nil
	}
}

// setCustomRules keeps malformed entries as they are; the rule evaluator
// reports and skips them.
func setCustomRules(c *Config, v any) error {
	list, ok := v.([]any)
	if !ok {
		return fmt.Errorf("expected array, got %T", v)
	}
	rules := make([]CustomRule, 0, len(list))
	for _, item := range list {
		m, _ := item.(map[string]any)
		var r CustomRule
		r.Pattern, _ = m["pattern"].(string)
		r.Mode, _ = m["mode"].(string)
		r.Description, _ = m["description"].(string)
		rules = append(rules, r)
	}
	c.CustomRules = rules
	return nil
}
