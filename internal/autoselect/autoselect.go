// Package autoselect answers Auto turns. It picks a tool with a keyword
// heuristic and then runs an ordinary dispatch through that tool.
package autoselect

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"aichat/internal/providers"
)

// Answerer runs one call against a concrete tool. *gateway.Dispatcher
// satisfies it.
type Answerer interface {
	Dispatch(ctx context.Context, tool providers.ToolID, prompt string, opts providers.Options) (providers.Normalized, error)
}

type Catalog interface {
	Lookup(tool providers.ToolID) (providers.Descriptor, bool)
	IsMock(tool providers.ToolID) bool
}

// CredentialPolicy decides what credential an Auto turn may use.
type CredentialPolicy string

const (
	// PolicyCaller forwards the caller's credential to the chosen tool.
	PolicyCaller CredentialPolicy = "caller"
	// PolicyNone never forwards a credential; only keyless tools and the
	// mock can answer.
	PolicyNone CredentialPolicy = "none"
)

func ParsePolicy(v string) (CredentialPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "caller":
		return PolicyCaller, nil
	case "none":
		return PolicyNone, nil
	default:
		return "", fmt.Errorf("unknown auto credential policy %q", v)
	}
}

// Rule routes a query to Tool when any keyword matches. Keywords made of
// letters and digits match whole words; anything else matches as a substring.
type Rule struct {
	Tool     providers.ToolID
	Keywords []string
}

func DefaultRules() []Rule {
	return []Rule{
		{Tool: providers.ToolDeepseek, Keywords: []string{
			"code", "function", "bug", "debug", "compile", "error", "stack", "trace", "regex", "sql",
			"golang", "python", "javascript", "typescript", "java", "rust", "refactor", "algorithm", "```",
		}},
		{Tool: providers.ToolPurplexcity, Keywords: []string{
			"latest", "news", "today", "current", "search", "source", "sources", "cite", "citation", "recent",
		}},
		{Tool: providers.ToolGrok, Keywords: []string{
			"twitter", "tweet", "trending", "meme", "memes", "joke", "roast", "x.com",
		}},
		{Tool: providers.ToolGemini, Keywords: []string{
			"summarize", "summary", "translate", "translation", "document", "pdf", "image", "outline",
		}},
	}
}

type Config struct {
	Answerer Answerer
	Catalog  Catalog
	Rules    []Rule
	// Default answers queries no rule matches.
	Default providers.ToolID
	// Fallback answers when neither a matched tool nor Default is usable.
	Fallback providers.ToolID
	Policy   CredentialPolicy
	Logger   zerolog.Logger
}

type Selector struct {
	answerer Answerer
	catalog  Catalog
	rules    []Rule
	def      providers.ToolID
	fallback providers.ToolID
	policy   CredentialPolicy
	logger   zerolog.Logger
}

func New(cfg Config) *Selector {
	if cfg.Rules == nil {
		cfg.Rules = DefaultRules()
	}
	if cfg.Default == "" {
		cfg.Default = providers.ToolGPT
	}
	if cfg.Fallback == "" {
		cfg.Fallback = providers.ToolFree
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyCaller
	}
	return &Selector{
		answerer: cfg.Answerer,
		catalog:  cfg.Catalog,
		rules:    cfg.Rules,
		def:      cfg.Default,
		fallback: cfg.Fallback,
		policy:   cfg.Policy,
		logger:   cfg.Logger,
	}
}

// Choose returns the tool that should answer query. It never touches the
// network.
func (s *Selector) Choose(query string, opts providers.Options) providers.ToolID {
	opts = s.scope(opts)
	words := tokenize(query)
	lower := strings.ToLower(query)

	for _, r := range s.rules {
		if !matches(r.Keywords, words, lower) {
			continue
		}
		if s.usable(r.Tool, opts) {
			return r.Tool
		}
	}
	if s.usable(s.def, opts) {
		return s.def
	}
	return s.fallback
}

// Select chooses a tool and answers with it in one call.
func (s *Selector) Select(ctx context.Context, query, userID string, opts providers.Options) (providers.Normalized, error) {
	if s.answerer == nil {
		return providers.Normalized{}, fmt.Errorf("auto selector has no answerer")
	}
	opts = s.scope(opts)
	tool := s.Choose(query, opts)
	s.logger.Debug().Str("user_id", userID).Str("tool", string(tool)).Msg("auto selected tool")

	answer, err := s.answerer.Dispatch(ctx, tool, query, opts)
	if err != nil {
		return providers.Normalized{}, fmt.Errorf("answer with %s: %w", tool, err)
	}
	return answer, nil
}

func (s *Selector) scope(opts providers.Options) providers.Options {
	if s.policy == PolicyNone {
		opts.Credential = ""
	}
	return opts
}

func (s *Selector) usable(tool providers.ToolID, opts providers.Options) bool {
	if s.catalog == nil {
		return false
	}
	if s.catalog.IsMock(tool) {
		return true
	}
	d, ok := s.catalog.Lookup(tool)
	if !ok {
		return false
	}
	if !d.RequiresCredential() {
		return true
	}
	return strings.TrimSpace(opts.Credential) != ""
}

func matches(keywords []string, words map[string]struct{}, lower string) bool {
	for _, kw := range keywords {
		kw = strings.ToLower(kw)
		if isWord(kw) {
			if _, ok := words[kw]; ok {
				return true
			}
			continue
		}
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func tokenize(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		out[f] = struct{}{}
	}
	return out
}

func isWord(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
