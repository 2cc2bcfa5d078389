package rules

// Catalog is the ordered, read-only signature set shared by every caller.
type Catalog struct {
	signatures []Signature
}

type builtin struct {
	name     string
	pattern  string
	severity Severity
}

var builtins = []builtin{
	// script tags
	{"script-block", `<script[^>]*>.*?</script>`, SeverityHigh},
	{"script-open", `<script[^>]*>`, SeverityHigh},

	// script URI schemes
	{"javascript-uri", `javascript:`, SeverityHigh},
	{"vbscript-uri", `vbscript:`, SeverityHigh},
	{"livescript-uri", `livescript:`, SeverityHigh},

	// inline event handlers
	{"event-handler", `\bon\w+\s*=`, SeverityHigh},
	{"onerror-handler", `onerror\s*=`, SeverityHigh},
	{"onload-handler", `onload\s*=`, SeverityHigh},
	{"onclick-handler", `onclick\s*=`, SeverityHigh},
	{"onmouseover-handler", `onmouseover\s*=`, SeverityHigh},

	// sink calls
	{"alert-call", `alert\s*\(`, SeverityHigh},
	{"prompt-call", `prompt\s*\(`, SeverityHigh},
	{"confirm-call", `confirm\s*\(`, SeverityHigh},
	{"eval-call", `eval\s*\(`, SeverityHigh},
	{"document-cookie", `document\.cookie`, SeverityHigh},
	{"document-write", `document\.write`, SeverityHigh},
	{"fromcharcode", `String\.fromCharCode`, SeverityHigh},
	{"unescape-call", `unescape\s*\(`, SeverityHigh},
	{"settimeout-call", `setTimeout\s*\(`, SeverityHigh},
	{"setinterval-call", `setInterval\s*\(`, SeverityHigh},

	// HTML injection
	{"iframe-tag", `<iframe[^>]*>`, SeverityMedium},
	{"object-tag", `<object[^>]*>`, SeverityMedium},
	{"embed-tag", `<embed[^>]*>`, SeverityMedium},
	{"img-onerror", `<img[^>]*onerror`, SeverityMedium},
	{"svg-onload", `<svg[^>]*onload`, SeverityMedium},
	{"data-html-uri", `data:\s*text/html`, SeverityMedium},

	// markup that only redirects or restyles
	{"css-expression", `expression\s*\(`, SeverityLow},
	{"meta-refresh", `<meta[^>]+http-equiv\s*=\s*["']?refresh`, SeverityLow},
	{"base-href", `<base[^>]+href`, SeverityLow},
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := NewCatalog(nil)
	if err != nil {
		panic(err)
	}
	return c
}

// NewCatalog builds the built-in signatures followed by extra, renumbering
// extra signatures so ids continue the built-in sequence.
func NewCatalog(extra []Signature) (*Catalog, error) {
	sigs := make([]Signature, 0, len(builtins)+len(extra))
	for i, b := range builtins {
		sigs = append(sigs, Signature{
			ID:       i,
			Name:     b.name,
			Pattern:  b.pattern,
			Severity: b.severity,
			Matcher:  mustRegex(b.pattern),
		})
	}
	for _, sig := range extra {
		if sig.Matcher == nil {
			return nil, errMissingMatcher(sig.Name)
		}
		sig.ID = len(sigs)
		sigs = append(sigs, sig)
	}
	return &Catalog{signatures: sigs}, nil
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.signatures)
}

// Signatures returns a copy of the ordered signature list.
func (c *Catalog) Signatures() []Signature {
	if c == nil {
		return nil
	}
	return append([]Signature(nil), c.signatures...)
}

// Match evaluates every signature against input and returns one entry per
// matching signature, in catalog order.
func (c *Catalog) Match(input string, limit int) []Match {
	if c == nil {
		return nil
	}
	var matches []Match
	for i := range c.signatures {
		sig := &c.signatures[i]
		found := sig.Matcher.FindAll(input, limit)
		if len(found) == 0 {
			continue
		}
		matches = append(matches, Match{
			SignatureID: sig.ID,
			Name:        sig.Name,
			Severity:    sig.Severity,
			Matches:     found,
		})
	}
	return matches
}

// Match is the per-signature outcome of Catalog.Match.
type Match struct {
	SignatureID int
	Name        string
	Severity    Severity
	Matches     []string
}

// MaxSeverity is the highest severity among matches, or SeverityLow.
func MaxSeverity(matches []Match) Severity {
	max := SeverityLow
	for _, m := range matches {
		if m.Severity > max {
			max = m.Severity
		}
	}
	return max
}
