package rules

import "regexp"

type RegexMatcher struct {
	re *regexp.Regexp
}

// NewRegexMatcher compiles pattern case-insensitively.
func NewRegexMatcher(pattern string) (*RegexMatcher, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, err
	}
	return &RegexMatcher{re: re}, nil
}

func mustRegex(pattern string) *RegexMatcher {
	m, err := NewRegexMatcher(pattern)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *RegexMatcher) FindAll(input string, limit int) []string {
	if limit <= 0 {
		limit = -1
	}
	found := m.re.FindAllString(input, limit)
	if len(found) == 0 {
		return nil
	}
	out := make([]string, len(found))
	for i, s := range found {
		out[i] = snippet(s)
	}
	return out
}
