package main

import (
	"fmt"

	"github.com/xsswatch/xsswatch/internal/config"
	"github.com/xsswatch/xsswatch/internal/detect"
	"github.com/xsswatch/xsswatch/internal/logging"
	"github.com/xsswatch/xsswatch/internal/observability"
	"github.com/xsswatch/xsswatch/internal/rules"
	"github.com/xsswatch/xsswatch/internal/state"
	"github.com/xsswatch/xsswatch/internal/storage"
	"go.uber.org/zap"
)

// pipeline is the detector wiring shared by run and scan: catalog, tracker,
// engine and the durable sinks behind the async writer.
type pipeline struct {
	cfg     *config.Config
	logger  *zap.Logger
	tracker *state.Tracker
	engine  *detect.Engine
	writer  *logging.AsyncWriter
	closers []func() error
}

func newPipeline(cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics) (_ *pipeline, err error) {
	p := &pipeline{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			p.closeSinks()
		}
	}()

	catalog, err := rules.BuildCatalog(cfg)
	if err != nil {
		return nil, err
	}

	var writers []logging.RecordWriter
	if cfg.Logging.AttackLog != "" {
		attackLog, closeLog, err := logging.OpenAttackLog(cfg.ResolvePath(cfg.Logging.AttackLog))
		if err != nil {
			return nil, fmt.Errorf("open attack log: %w", err)
		}
		p.closers = append(p.closers, closeLog)
		writers = append(writers, attackLog)
	}
	if cfg.Storage.SQLite != "" {
		db, err := storage.Open(cfg.ResolvePath(cfg.Storage.SQLite))
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, db.Close)
		writers = append(writers, storage.NewAttackRepo(db))
	}

	var sink state.Sink
	if len(writers) > 0 {
		p.writer = logging.NewAsyncWriter(cfg.Logging.QueueSize, logger, writers...)
		if metrics != nil {
			p.writer.OnDrop(metrics.ObserveDrop)
		}
		sink = p.writer
	}

	p.tracker, err = state.NewTracker(state.Options{
		HistorySize:    cfg.Detector.HistorySize,
		TrackedSources: cfg.Detector.TrackedSources,
		PatternsLoaded: catalog.Len(),
		Sink:           sink,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	p.engine = detect.New(catalog, p.tracker, detect.Options{
		MinLength:    cfg.Detector.MinLength,
		MaxMatches:   cfg.Detector.MaxMatches,
		SampleLength: cfg.Detector.SampleLength,
	})
	if metrics != nil {
		p.engine.SetObserver(metrics)
	}

	logger.Info("detector ready",
		zap.Int("signatures", catalog.Len()),
		zap.Int("min_length", cfg.Detector.MinLength),
		zap.Int("sinks", len(writers)),
	)
	return p, nil
}

// Close drains the sinks and persists the attack backlog when a persist
// path is configured.
func (p *pipeline) Close() error {
	p.closeSinks()
	if p.cfg.Detector.PersistPath == "" || p.tracker == nil {
		return nil
	}
	return p.tracker.Persist(p.cfg.ResolvePath(p.cfg.Detector.PersistPath))
}

func (p *pipeline) closeSinks() {
	if p.writer != nil {
		p.writer.Close()
		p.writer = nil
	}
	for _, closeFn := range p.closers {
		if err := closeFn(); err != nil {
			p.logger.Error("close attack sink", zap.Error(err))
		}
	}
	p.closers = nil
}
