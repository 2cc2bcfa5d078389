package state

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/xsswatch/xsswatch/internal/logging"
	"github.com/xsswatch/xsswatch/internal/rules"
	"go.uber.org/zap"
)

const topSourcesLimit = 5

// Sink receives every recorded attack without blocking the caller.
type Sink interface {
	Submit(record logging.AttackRecord) bool
	Dropped() uint64
}

type Options struct {
	HistorySize    int
	TrackedSources int
	PatternsLoaded int
	Sink           Sink
	Logger         *zap.Logger
}

// Tracker is the detector state shared by every inspection in the process.
// All methods are safe for concurrent use.
type Tracker struct {
	mu               sync.Mutex
	total            uint64
	byTier           map[rules.Severity]uint64
	history          []logging.AttackRecord
	historySize      int
	pending          []logging.AttackRecord
	requests         uint64
	requestsDetected uint64
	sources          *lru.Cache[string, uint64]
	patternsLoaded   int

	persistMu sync.Mutex

	sink   Sink
	logger *zap.Logger
}

func NewTracker(opts Options) (*Tracker, error) {
	if opts.HistorySize <= 0 {
		return nil, fmt.Errorf("history size must be > 0")
	}
	if opts.TrackedSources <= 0 {
		return nil, fmt.Errorf("tracked sources must be > 0")
	}
	sources, err := lru.New[string, uint64](opts.TrackedSources)
	if err != nil {
		return nil, fmt.Errorf("source cache: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		byTier:         map[rules.Severity]uint64{},
		historySize:    opts.HistorySize,
		sources:        sources,
		patternsLoaded: opts.PatternsLoaded,
		sink:           opts.Sink,
		logger:         logger,
	}, nil
}

// Record counts one detected attack, keeps it in the bounded history and
// the persist backlog, logs it and hands it to the sink.
func (t *Tracker) Record(record logging.AttackRecord) {
	t.mu.Lock()
	t.total++
	t.byTier[record.RiskLevel]++
	t.history = append(t.history, record)
	if len(t.history) > t.historySize {
		t.history = append([]logging.AttackRecord(nil), t.history[len(t.history)-t.historySize:]...)
	}
	t.pending = append(t.pending, record)
	if record.SourceIP != "" {
		count, _ := t.sources.Get(record.SourceIP)
		t.sources.Add(record.SourceIP, count+1)
	}
	t.mu.Unlock()

	names := make([]string, len(record.DetectedPatterns))
	for i, p := range record.DetectedPatterns {
		names[i] = p.Name
	}
	t.logger.Warn("xss attack detected",
		zap.String("id", record.ID),
		zap.String("source_ip", record.SourceIP),
		zap.String("url", record.URL),
		zap.String("location", record.Location),
		zap.Stringer("risk", record.RiskLevel),
		zap.Strings("patterns", names),
	)

	if t.sink != nil {
		t.sink.Submit(record)
	}
}

// CountRequest counts one analyzed request or response.
func (t *Tracker) CountRequest(detected bool) {
	t.mu.Lock()
	t.requests++
	if detected {
		t.requestsDetected++
	}
	t.mu.Unlock()
}

type SourceCount struct {
	SourceIP   string `json:"source_ip"`
	Detections uint64 `json:"detections"`
}

type Statistics struct {
	TotalDetections  uint64                 `json:"total_detections"`
	RiskLevels       map[string]uint64      `json:"risk_levels"`
	RecentAttacks    []logging.AttackRecord `json:"recent_attacks"`
	PatternsLoaded   int                    `json:"patterns_loaded"`
	RequestsAnalyzed uint64                 `json:"requests_analyzed"`
	RequestsDetected uint64                 `json:"requests_detected"`
	DetectionRate    float64                `json:"detection_rate"`
	TopSources       []SourceCount          `json:"top_sources"`
	LogDropped       uint64                 `json:"log_dropped"`
}

// Statistics returns a consistent snapshot.
func (t *Tracker) Statistics() Statistics {
	t.mu.Lock()
	stats := Statistics{
		TotalDetections: t.total,
		RiskLevels: map[string]uint64{
			rules.SeverityHigh.String():   t.byTier[rules.SeverityHigh],
			rules.SeverityMedium.String(): t.byTier[rules.SeverityMedium],
			rules.SeverityLow.String():    t.byTier[rules.SeverityLow],
		},
		RecentAttacks:    append([]logging.AttackRecord{}, t.history...),
		PatternsLoaded:   t.patternsLoaded,
		RequestsAnalyzed: t.requests,
		RequestsDetected: t.requestsDetected,
		TopSources:       t.topSources(),
	}
	t.mu.Unlock()

	if stats.RequestsAnalyzed > 0 {
		stats.DetectionRate = float64(stats.RequestsDetected) / float64(stats.RequestsAnalyzed) * 100
	}
	if t.sink != nil {
		stats.LogDropped = t.sink.Dropped()
	}
	return stats
}

func (t *Tracker) topSources() []SourceCount {
	keys := t.sources.Keys()
	if len(keys) == 0 {
		return nil
	}
	out := make([]SourceCount, 0, len(keys))
	for _, key := range keys {
		count, ok := t.sources.Peek(key)
		if !ok {
			continue
		}
		out = append(out, SourceCount{SourceIP: key, Detections: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Detections == out[j].Detections {
			return out[i].SourceIP < out[j].SourceIP
		}
		return out[i].Detections > out[j].Detections
	})
	if len(out) > topSourcesLimit {
		out = out[:topSourcesLimit]
	}
	return out
}

// Pending is the number of recorded attacks not yet persisted.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Persist appends every not yet persisted record to path as NDJSON. Either
// the whole batch is written or the file is restored to its prior size and
// an error is returned; the backlog is kept for the next attempt.
func (t *Tracker) Persist(path string) error {
	t.persistMu.Lock()
	defer t.persistMu.Unlock()

	t.mu.Lock()
	batch := append([]logging.AttackRecord(nil), t.pending...)
	t.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, record := range batch {
		data, err := logging.MarshalRecord(record)
		if err != nil {
			return fmt.Errorf("encode attack record %s: %w", record.ID, err)
		}
		buf.Write(data)
	}

	if err := appendAll(path, buf.Bytes()); err != nil {
		return err
	}

	t.mu.Lock()
	t.pending = append([]logging.AttackRecord(nil), t.pending[len(batch):]...)
	t.mu.Unlock()

	t.logger.Info("attack log persisted", zap.String("path", path), zap.Int("records", len(batch)))
	return nil
}

func appendAll(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create attack log dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open attack log: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("stat attack log: %w", err)
	}
	size := info.Size()

	if _, err := file.Write(data); err != nil {
		_ = file.Truncate(size)
		_ = file.Close()
		return fmt.Errorf("write attack log: %w", err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Truncate(size)
		_ = file.Close()
		return fmt.Errorf("sync attack log: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close attack log: %w", err)
	}
	return nil
}
