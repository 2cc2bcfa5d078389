package config

import "time"

type Config struct {
	ConfigVersion int               `yaml:"configVersion"`
	Detector      DetectorConfig    `yaml:"detector"`
	Server        ServerConfig      `yaml:"server"`
	Upstreams     []Upstream        `yaml:"upstreams"`
	Routes        []Route           `yaml:"routes"`
	Policies      map[string]Policy `yaml:"policies"`
	Rules         []Rule            `yaml:"rules"`
	Logging       LoggingConfig     `yaml:"logging"`
	Storage       StorageConfig     `yaml:"storage"`
	Metrics       MetricsConfig     `yaml:"metrics"`
	Stats         StatsConfig       `yaml:"stats"`

	baseDir string `yaml:"-"`
}

type DetectorConfig struct {
	MinLength      int    `yaml:"minLength"`
	MaxMatches     int    `yaml:"maxMatches"`
	SampleLength   int    `yaml:"sampleLength"`
	HistorySize    int    `yaml:"historySize"`
	TrackedSources int    `yaml:"trackedSources"`
	PersistPath    string `yaml:"persistPath"`
}

type ServerConfig struct {
	Listen string    `yaml:"listen"`
	TLS    TLSConfig `yaml:"tls"`
}

type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"certFile"`
	KeyFile  string `yaml:"keyFile"`
}

type Upstream struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

type Route struct {
	Match    RouteMatch `yaml:"match"`
	Upstream string     `yaml:"upstream"`
	Policy   string     `yaml:"policy"`
}

type RouteMatch struct {
	Host       string `yaml:"host"`
	PathPrefix string `yaml:"pathPrefix"`
}

// Policy is what the gateway does with a verdict. The detector itself never
// blocks.
type Policy struct {
	Mode             string        `yaml:"mode"`
	BlockRisk        string        `yaml:"blockRisk"`
	BlockDuration    time.Duration `yaml:"blockDuration"`
	BlockStatusCode  int           `yaml:"blockStatusCode"`
	BlockBody        string        `yaml:"blockBody"`
	MaxBodyBytes     int64         `yaml:"maxBodyBytes"`
	Timeout          time.Duration `yaml:"timeout"`
	InspectResponses bool          `yaml:"inspectResponses"`
}

type Rule struct {
	ID       string    `yaml:"id"`
	Severity string    `yaml:"severity"`
	Match    RuleMatch `yaml:"match"`
}

type RuleMatch struct {
	Type         string `yaml:"type"`
	Pattern      string `yaml:"pattern"`
	PatternsFile string `yaml:"patternsFile"`
}

type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AttackLog string `yaml:"attackLog"`
	QueueSize int    `yaml:"queueSize"`
}

type StorageConfig struct {
	SQLite string `yaml:"sqlite"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type StatsConfig struct {
	Interval time.Duration `yaml:"interval"`
}

const (
	ModeMonitor = "monitor"
	ModeBlock   = "block"
)

const (
	DefaultMinLength      = 10
	DefaultMaxMatches     = 5
	DefaultSampleLength   = 200
	DefaultHistorySize    = 10
	DefaultTrackedSources = 1024
	DefaultQueueSize      = 1024
	DefaultStatsInterval  = 30 * time.Second
	DefaultMaxBodyBytes   = 1 << 20
)

// Default returns a detector-only configuration.
func Default() *Config {
	cfg := &Config{ConfigVersion: 1}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset values. Explicit values are left untouched.
func (c *Config) ApplyDefaults() {
	if c.Detector.MinLength == 0 {
		c.Detector.MinLength = DefaultMinLength
	}
	if c.Detector.MaxMatches == 0 {
		c.Detector.MaxMatches = DefaultMaxMatches
	}
	if c.Detector.SampleLength == 0 {
		c.Detector.SampleLength = DefaultSampleLength
	}
	if c.Detector.HistorySize == 0 {
		c.Detector.HistorySize = DefaultHistorySize
	}
	if c.Detector.TrackedSources == 0 {
		c.Detector.TrackedSources = DefaultTrackedSources
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.QueueSize == 0 {
		c.Logging.QueueSize = DefaultQueueSize
	}
	if c.Stats.Interval == 0 {
		c.Stats.Interval = DefaultStatsInterval
	}
	for name, p := range c.Policies {
		if p.Mode == "" {
			p.Mode = ModeMonitor
		}
		if p.BlockRisk == "" {
			p.BlockRisk = "high"
		}
		if p.Timeout == 0 {
			p.Timeout = 10 * time.Second
		}
		if p.MaxBodyBytes == 0 {
			p.MaxBodyBytes = DefaultMaxBodyBytes
		}
		if p.BlockStatusCode == 0 {
			p.BlockStatusCode = 403
		}
		c.Policies[name] = p
	}
}

func (c *Config) BaseDir() string {
	return c.baseDir
}

func (c *Config) ResolvePath(path string) string {
	return c.resolvePath(path)
}
