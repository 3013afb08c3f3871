// Package redact masks personal data in prompts before they are stored.
//
// Masking is best-effort text matching. It catches common email, phone and
// (in strict mode) card and IPv4 shapes; it does not guarantee that a redacted
// string is free of personal data.
package redact

import (
	"fmt"
	"regexp"
	"strings"
)

type Level string

const (
	LevelBasic  Level = "basic"
	LevelStrict Level = "strict"
)

const (
	EmailPlaceholder = "[REDACTED_EMAIL]"
	PhonePlaceholder = "[REDACTED_PHONE]"
	CardPlaceholder  = "[REDACTED_CARD]"
	IPPlaceholder    = "[REDACTED_IP]"
)

var (
	emailPattern = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	phonePattern = regexp.MustCompile(`(?:\+?\b1[\s.\-]?(?:\(\d{3}\)|\d{3})|\(\d{3}\)|\b\d{3})[\s.\-]?\d{3}[\s.\-]?\d{4}\b`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ \-]?){12,18}\d\b`)
	ipv4Pattern  = regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`)
)

type rule struct {
	pattern     *regexp.Regexp
	placeholder string
}

type Redactor struct {
	rules []rule
}

func ParseLevel(v string) (Level, error) {
	switch Level(strings.ToLower(strings.TrimSpace(v))) {
	case "", LevelBasic:
		return LevelBasic, nil
	case LevelStrict:
		return LevelStrict, nil
	default:
		return "", fmt.Errorf("unknown redaction level %q", v)
	}
}

// New builds a Redactor. Email runs before phone so that digits inside an
// address are masked as part of the address. Phone runs before card so that
// adjacent phone numbers are not read as one long card run.
func New(level Level) *Redactor {
	rules := []rule{
		{emailPattern, EmailPlaceholder},
		{phonePattern, PhonePlaceholder},
	}
	if level == LevelStrict {
		rules = append(rules,
			rule{cardPattern, CardPlaceholder},
			rule{ipv4Pattern, IPPlaceholder},
		)
	}
	return &Redactor{rules: rules}
}

func (r *Redactor) Redact(text string) string {
	for _, rl := range r.rules {
		text = rl.pattern.ReplaceAllString(text, rl.placeholder)
	}
	return text
}
