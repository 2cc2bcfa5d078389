package rules

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xsswatch/xsswatch/internal/config"
)

// BuildCatalog compiles the operator rules from cfg and appends them to the
// built-in catalog.
func BuildCatalog(cfg *config.Config) (*Catalog, error) {
	if cfg == nil {
		return Default(), nil
	}

	extra := make([]Signature, 0, len(cfg.Rules))
	for _, raw := range cfg.Rules {
		compiled, err := compileRule(raw, cfg.BaseDir())
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", raw.ID, err)
		}
		extra = append(extra, compiled)
	}

	return NewCatalog(extra)
}

func compileRule(raw config.Rule, baseDir string) (Signature, error) {
	severity, err := ParseSeverity(raw.Severity)
	if err != nil {
		return Signature{}, err
	}

	var matcher Matcher
	pattern := raw.Match.Pattern
	switch MatchType(raw.Match.Type) {
	case MatchRegex:
		if raw.Match.Pattern == "" {
			return Signature{}, fmt.Errorf("regex pattern is required")
		}
		matcher, err = NewRegexMatcher(raw.Match.Pattern)
	case MatchAho:
		if raw.Match.PatternsFile == "" {
			return Signature{}, fmt.Errorf("patternsFile is required")
		}
		patterns, readErr := readPatterns(resolvePath(baseDir, raw.Match.PatternsFile))
		if readErr != nil {
			return Signature{}, readErr
		}
		pattern = strings.Join(patterns, "|")
		matcher, err = NewAhoMatcher(patterns)
	default:
		return Signature{}, fmt.Errorf("unknown match type %q", raw.Match.Type)
	}
	if err != nil {
		return Signature{}, err
	}

	return Signature{
		Name:     raw.ID,
		Pattern:  pattern,
		Severity: severity,
		Matcher:  matcher,
	}, nil
}

func errMissingMatcher(name string) error {
	return fmt.Errorf("signature %q has no matcher", name)
}

func readPatterns(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	var patterns []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return patterns, nil
}

func resolvePath(baseDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}
