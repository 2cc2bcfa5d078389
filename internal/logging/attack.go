package logging

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xsswatch/xsswatch/internal/rules"
)

const (
	MaxSample         = 200
	MaxPatternMatches = 5
)

// AttackRecord is written as a single JSON object per detected attack.
type AttackRecord struct {
	ID               string            `json:"id"`
	Timestamp        time.Time         `json:"timestamp"`
	SourceIP         string            `json:"source_ip"`
	URL              string            `json:"url"`
	Location         string            `json:"location,omitempty"`
	RiskLevel        rules.Severity    `json:"risk_level"`
	DetectedPatterns []DetectedPattern `json:"detected_patterns"`
	ContentSample    string            `json:"content_sample"`
}

type DetectedPattern struct {
	PatternID int      `json:"pattern_id"`
	Name      string   `json:"name"`
	Matches   []string `json:"matches"`
}

// RecordWriter persists attack records. Implementations need not be safe
// for concurrent use; AsyncWriter calls them from a single goroutine.
type RecordWriter interface {
	Write(record AttackRecord) error
}

// AttackLogger writes newline-delimited JSON records.
type AttackLogger struct {
	mu sync.Mutex
	w  io.Writer
}

func NewAttackLogger(w io.Writer) *AttackLogger {
	return &AttackLogger{w: w}
}

// OpenAttackLog opens path in append mode, creating it and its directory
// if needed.
func OpenAttackLog(path string) (*AttackLogger, func() error, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, err
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, err
	}
	return NewAttackLogger(file), file.Close, nil
}

func (l *AttackLogger) Write(record AttackRecord) error {
	data, err := MarshalRecord(record)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.w.Write(data)
	return err
}

// MarshalRecord encodes record as one JSON line including the trailing
// newline.
func MarshalRecord(record AttackRecord) ([]byte, error) {
	record = sanitize(record)
	data, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func sanitize(record AttackRecord) AttackRecord {
	record.ContentSample = Truncate(record.ContentSample, MaxSample)
	if len(record.DetectedPatterns) == 0 {
		record.DetectedPatterns = []DetectedPattern{}
		return record
	}
	patterns := make([]DetectedPattern, len(record.DetectedPatterns))
	for i, p := range record.DetectedPatterns {
		patterns[i] = p
		if len(p.Matches) > MaxPatternMatches {
			patterns[i].Matches = p.Matches[:MaxPatternMatches]
		}
	}
	record.DetectedPatterns = patterns
	return record
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
