// Package rules decides whether the cursor sits in natural-language text.
//
// The decision is an override chain: custom rules, then the Markdown
// paragraph heuristic, then the language allow-list combined with the
// lexical scan. The first step that applies decides.
package rules

import (
	"slices"
	"sync"

	"smartcursor/internal/cache"
	"smartcursor/internal/config"
	"smartcursor/internal/editor"
	"smartcursor/internal/lexer"
	"smartcursor/internal/logging"
)

// ExtendedLanguages are added to the allow-list by the extended_languages
// feature.
var ExtendedLanguages = []string{
	"javascript", "typescript", "javascriptreact", "typescriptreact",
	"java", "csharp", "go", "rust", "python", "php", "kotlin", "swift",
	"dart", "scala", "markdown",
}

// Reason names the step that produced a verdict.
type Reason string

const (
	ReasonCustomRule        Reason = "custom_rule"
	ReasonMarkdownFence     Reason = "markdown_fence"
	ReasonMarkdownIndented  Reason = "markdown_indented"
	ReasonMarkdownParagraph Reason = "markdown_paragraph"
	ReasonLanguage          Reason = "language_not_enabled"
	ReasonLineComment       Reason = "line_comment"
	ReasonBlockComment      Reason = "block_comment"
	ReasonDoubleQuoted      Reason = "double_quoted"
	ReasonSingleQuoted      Reason = "single_quoted"
	ReasonTemplateString    Reason = "template_string"
	ReasonCode              Reason = "code"
)

// Verdict is the outcome of an evaluation.
type Verdict struct {
	Chinese bool   `json:"chinese"`
	Reason  Reason `json:"reason"`

	// Rule is the matching custom rule for ReasonCustomRule.
	Rule *config.CustomRule `json:"rule,omitempty"`

	// Scan is set when the lexical scan ran.
	Scan *lexer.Result `json:"scan,omitempty"`
}

// Evaluator computes verdicts. It is safe for concurrent use.
type Evaluator struct {
	provider config.Provider
	cached   *cache.Cached
	log      *logging.Logger
	regexes  *regexCache

	mu        sync.Mutex
	rulesFrom *config.Config
	rules     []Rule
}

// New creates an evaluator. cached may be nil, in which case the
// performance_cache feature has no effect.
func New(provider config.Provider, cached *cache.Cached, log *logging.Logger) *Evaluator {
	if log == nil {
		log = logging.Discard()
	}
	return &Evaluator{
		provider: provider,
		cached:   cached,
		log:      log.WithComponent("rules"),
		regexes:  newRegexCache(),
	}
}

// ShouldUseSecondaryScript reports whether the cursor of v is in a region
// where Chinese input is wanted.
func (e *Evaluator) ShouldUseSecondaryScript(v editor.View) bool {
	return e.Evaluate(v).Chinese
}

// Evaluate returns the verdict with the step that decided it.
func (e *Evaluator) Evaluate(v editor.View) Verdict {
	cfg := e.provider.Current()
	doc := v.Document()
	pos := v.Cursor()
	linePrefix := editor.CurrentLinePrefix(v)

	if cfg.Features.CustomRules {
		for _, r := range e.customRules(cfg) {
			if r.Match(linePrefix) {
				rule := r.CustomRule
				return Verdict{Chinese: r.Chinese(), Reason: ReasonCustomRule, Rule: &rule}
			}
		}
	}

	if cfg.Features.MarkdownSupport && doc.LanguageID() == "markdown" {
		switch ClassifyMarkdown(doc, pos) {
		case MarkdownFenced:
			return Verdict{Reason: ReasonMarkdownFence}
		case MarkdownIndented:
			return Verdict{Reason: ReasonMarkdownIndented}
		case MarkdownCJK:
			return Verdict{Chinese: true, Reason: ReasonMarkdownParagraph}
		default:
			return Verdict{Reason: ReasonMarkdownParagraph}
		}
	}

	if !LanguageEnabled(cfg, doc.LanguageID()) {
		return Verdict{Reason: ReasonLanguage}
	}

	scan := e.scanner(cfg).ScanAt(doc, pos)
	verdict := func(chinese bool, reason Reason) Verdict {
		return Verdict{Chinese: chinese, Reason: reason, Scan: &scan}
	}

	if cfg.EnableInLineComment {
		if start := lexer.FindLineCommentStart(linePrefix); start >= 0 && len(linePrefix) > start+1 {
			return verdict(true, ReasonLineComment)
		}
	}
	if cfg.EnableInBlockComment && scan.InBlockComment {
		return verdict(true, ReasonBlockComment)
	}
	if cfg.EnableInDoubleQuotedString && (scan.InDoubleString || lexer.IsInsideDoubleQuotedString(linePrefix)) {
		return verdict(true, ReasonDoubleQuoted)
	}
	if cfg.EnableInSingleQuotedString && scan.InSingleString {
		return verdict(true, ReasonSingleQuoted)
	}
	if cfg.Features.TemplateStrings && cfg.EnableInTemplateString && scan.InTemplateString {
		return verdict(true, ReasonTemplateString)
	}
	return verdict(false, ReasonCode)
}

// InvalidateDocument must be called on every mutation of a document.
func (e *Evaluator) InvalidateDocument(docID string, version int64) {
	if e.cached != nil {
		e.cached.InvalidateDocument(docID, version)
	}
}

// ForgetDocument drops cache state of a closed document.
func (e *Evaluator) ForgetDocument(docID string) {
	if e.cached != nil {
		e.cached.Forget(docID)
	}
}

// CacheStats returns the cache counters, if a cache is attached.
func (e *Evaluator) CacheStats() (cache.Stats, bool) {
	if e.cached == nil {
		return cache.Stats{}, false
	}
	return e.cached.Stats(), true
}

func (e *Evaluator) scanner(cfg *config.Config) cache.Scanner {
	if cfg.Features.PerformanceCache && e.cached != nil {
		return e.cached
	}
	return cache.Direct{}
}

// customRules returns the compiled rules of cfg, compiling and reporting
// them once per configuration.
func (e *Evaluator) customRules(cfg *config.Config) []Rule {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rulesFrom == cfg {
		return e.rules
	}
	rules, errs := e.regexes.Compile(cfg.CustomRules)
	for _, err := range errs {
		e.log.Warn("[rule skipped]", "error", err)
	}
	e.rulesFrom = cfg
	e.rules = rules
	return rules
}

// LanguageEnabled reports whether the lexical scan applies to languageID.
func LanguageEnabled(cfg *config.Config, languageID string) bool {
	if slices.Contains(cfg.EnabledLanguageIDs, languageID) {
		return true
	}
	return cfg.Features.ExtendedLanguages && slices.Contains(ExtendedLanguages, languageID)
}
