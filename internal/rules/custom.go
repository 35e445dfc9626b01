package rules

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"smartcursor/internal/config"
)

//go:embed custom_rule.schema.json
var customRuleSchema []byte

const customRuleSchemaURL = "custom_rule.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func ruleSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(customRuleSchemaURL, bytes.NewReader(customRuleSchema)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile(customRuleSchemaURL)
	})
	return schema, schemaErr
}

// ValidateRule checks the structure of a rule. It does not compile the
// pattern.
func ValidateRule(r config.CustomRule) error {
	sch, err := ruleSchema()
	if err != nil {
		return err
	}

	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return err
	}
	return sch.Validate(instance)
}

// Rule is a structurally valid custom rule with its compiled pattern.
type Rule struct {
	config.CustomRule
	re *regexp.Regexp
}

// Chinese reports whether a match selects Chinese input.
func (r Rule) Chinese() bool { return r.Mode == config.ModeChinese }

// Match tests the rule against the text before the cursor.
func (r Rule) Match(linePrefix string) bool { return r.re.MatchString(linePrefix) }

// RuleError describes a skipped rule.
type RuleError struct {
	Index int
	Rule  config.CustomRule
	Err   error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("custom rule %d (%q): %v", e.Index, e.Rule.Pattern, e.Err)
}

func (e *RuleError) Unwrap() error { return e.Err }

// regexCache holds compiled patterns by source. Failed compilations are
// remembered too.
type regexCache struct {
	mu      sync.Mutex
	entries map[string]regexEntry
}

type regexEntry struct {
	re  *regexp.Regexp
	err error
}

func newRegexCache() *regexCache {
	return &regexCache{entries: make(map[string]regexEntry)}
}

func (c *regexCache) compile(pattern string) (*regexp.Regexp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[pattern]; ok {
		return e.re, e.err
	}
	re, err := regexp.Compile(pattern)
	c.entries[pattern] = regexEntry{re: re, err: err}
	return re, err
}

// Compile turns the configured rules into the ordered list of usable rules.
// Every skipped rule is returned as a *RuleError.
func (c *regexCache) Compile(raw []config.CustomRule) ([]Rule, []error) {
	var out []Rule
	var errs []error
	for i, r := range raw {
		if err := ValidateRule(r); err != nil {
			errs = append(errs, &RuleError{Index: i, Rule: r, Err: err})
			continue
		}
		re, err := c.compile(r.Pattern)
		if err != nil {
			errs = append(errs, &RuleError{Index: i, Rule: r, Err: err})
			continue
		}
		out = append(out, Rule{CustomRule: r, re: re})
	}
	return out, errs
}

// CompileRules compiles rules without a shared cache.
func CompileRules(raw []config.CustomRule) ([]Rule, []error) {
	return newRegexCache().Compile(raw)
}
