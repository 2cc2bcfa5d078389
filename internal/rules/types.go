package rules

import (
	"fmt"
	"strings"
)

type MatchType string

const (
	MatchRegex MatchType = "regex"
	MatchAho   MatchType = "aho"
)

// Severity is the risk tier of a signature. The zero value is SeverityLow.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
)

func (s Severity) String() string {
	switch s {
	case SeverityHigh:
		return "high"
	case SeverityMedium:
		return "medium"
	default:
		return "low"
	}
}

func ParseSeverity(value string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "low":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	default:
		return SeverityLow, fmt.Errorf("unknown severity %q", value)
	}
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Signature is one precompiled XSS technique. Signatures are never mutated
// after the catalog is built.
type Signature struct {
	ID       int
	Name     string
	Pattern  string
	Severity Severity
	Matcher  Matcher
}

// Matcher returns up to limit matched substrings of input, or nil when the
// input does not match. A limit <= 0 means no limit.
type Matcher interface {
	FindAll(input string, limit int) []string
}
