package detect

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/xsswatch/xsswatch/internal/logging"
	"github.com/xsswatch/xsswatch/internal/normalize"
	"github.com/xsswatch/xsswatch/internal/rules"
)

// Recorder receives detected attacks and request counts. *state.Tracker
// satisfies it.
type Recorder interface {
	Record(record logging.AttackRecord)
	CountRequest(detected bool)
}

// Observer is notified of every inspection, detected or not.
type Observer interface {
	ObserveInspection(location string, result Result, elapsed time.Duration)
}

type Options struct {
	MinLength    int
	MaxMatches   int
	SampleLength int
}

func DefaultOptions() Options {
	return Options{MinLength: 10, MaxMatches: logging.MaxPatternMatches, SampleLength: logging.MaxSample}
}

// Engine runs the catalog against request fragments. The engine holds no
// mutable state of its own; the recorder owns counters and history.
type Engine struct {
	catalog  *rules.Catalog
	recorder Recorder
	observer Observer
	opts     Options
	now      func() time.Time
}

func New(catalog *rules.Catalog, recorder Recorder, opts Options) *Engine {
	if catalog == nil {
		catalog = rules.Default()
	}
	def := DefaultOptions()
	if opts.MinLength < 0 {
		opts.MinLength = 0
	}
	if opts.MaxMatches <= 0 {
		opts.MaxMatches = def.MaxMatches
	}
	if opts.SampleLength <= 0 {
		opts.SampleLength = def.SampleLength
	}
	return &Engine{
		catalog:  catalog,
		recorder: recorder,
		opts:     opts,
		now:      time.Now,
	}
}

func (e *Engine) SetObserver(observer Observer) {
	e.observer = observer
}

func (e *Engine) Catalog() *rules.Catalog {
	return e.catalog
}

// MatchRecord lists what one signature matched.
type MatchRecord struct {
	SignatureID int      `json:"pattern_id"`
	Name        string   `json:"name"`
	Matches     []string `json:"matches"`
}

// Result is the outcome of inspecting one piece of content. Detected is
// true exactly when Matches is non-empty.
type Result struct {
	Detected bool           `json:"detected"`
	Matches  []MatchRecord  `json:"matches"`
	Risk     rules.Severity `json:"risk_level"`
	Sample   string         `json:"content_sample,omitempty"`
}

// Detect inspects content on behalf of sourceIP. url is only used to label
// the attack record.
func (e *Engine) Detect(content, sourceIP, url string) Result {
	return e.detect(content, sourceIP, url, "")
}

func (e *Engine) detect(content, sourceIP, url, location string) Result {
	start := time.Now()
	result := e.scan(content)
	if e.observer != nil {
		e.observer.ObserveInspection(location, result, time.Since(start))
	}

	if result.Detected && e.recorder != nil {
		e.recorder.Record(e.attackRecord(result, sourceIP, url, location))
	}
	return result
}

// scan is the side-effect free part of Detect.
func (e *Engine) scan(content string) Result {
	if content == "" || utf8.RuneCountInString(content) < e.opts.MinLength {
		return Result{Risk: rules.SeverityLow}
	}

	decoded := normalize.Decode(content)
	found := e.catalog.Match(decoded, e.opts.MaxMatches)
	if len(found) == 0 {
		return Result{Risk: rules.SeverityLow}
	}

	matches := make([]MatchRecord, len(found))
	for i, m := range found {
		matches[i] = MatchRecord{SignatureID: m.SignatureID, Name: m.Name, Matches: m.Matches}
	}

	return Result{
		Detected: true,
		Matches:  matches,
		Risk:     rules.MaxSeverity(found),
		Sample:   logging.Truncate(decoded, e.opts.SampleLength),
	}
}

func (e *Engine) attackRecord(result Result, sourceIP, url, location string) logging.AttackRecord {
	patterns := make([]logging.DetectedPattern, len(result.Matches))
	for i, m := range result.Matches {
		patterns[i] = logging.DetectedPattern{
			PatternID: m.SignatureID,
			Name:      m.Name,
			Matches:   append([]string(nil), m.Matches...),
		}
	}
	return logging.AttackRecord{
		ID:               uuid.NewString(),
		Timestamp:        e.now().UTC(),
		SourceIP:         sourceIP,
		URL:              url,
		Location:         location,
		RiskLevel:        result.Risk,
		DetectedPatterns: patterns,
		ContentSample:    result.Sample,
	}
}
