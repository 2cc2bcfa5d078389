package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got %v", err.(*ValidationError).Problems)
	}
	if cfg.Detector.MinLength != 10 || cfg.Detector.HistorySize != 10 || cfg.Detector.MaxMatches != 5 {
		t.Fatalf("unexpected detector defaults %+v", cfg.Detector)
	}
	if cfg.Detector.SampleLength != 200 {
		t.Fatalf("expected sample length 200, got %d", cfg.Detector.SampleLength)
	}
}

func TestLoadGatewayConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "patterns.txt", "# literals\ndocument.domain\n")
	path := writeFile(t, dir, "xsswatch.yaml", `configVersion: 1
detector:
  minLength: 4
  persistPath: attacks.jsonl
server:
  listen: "127.0.0.1:8080"
upstreams:
  - name: app
    url: "http://127.0.0.1:9000"
routes:
  - match:
      pathPrefix: /
    upstream: app
    policy: default
policies:
  default:
    mode: block
    blockDuration: 5m
rules:
  - id: domain-access
    severity: medium
    match:
      type: aho
      patternsFile: patterns.txt
logging:
  level: debug
  format: console
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err.(*ValidationError).Problems)
	}

	if cfg.Detector.MinLength != 4 {
		t.Fatalf("expected explicit minLength kept, got %d", cfg.Detector.MinLength)
	}
	if cfg.BaseDir() != dir {
		t.Fatalf("expected base dir %s, got %s", dir, cfg.BaseDir())
	}
	if got := cfg.ResolvePath(cfg.Detector.PersistPath); got != filepath.Join(dir, "attacks.jsonl") {
		t.Fatalf("unexpected resolved path %s", got)
	}

	policy := cfg.Policies["default"]
	if policy.Mode != ModeBlock || policy.BlockRisk != "high" {
		t.Fatalf("unexpected policy %+v", policy)
	}
	if policy.BlockDuration != 5*time.Minute || policy.Timeout != 10*time.Second {
		t.Fatalf("unexpected policy durations %+v", policy)
	}
	if policy.MaxBodyBytes != DefaultMaxBodyBytes || policy.BlockStatusCode != 403 {
		t.Fatalf("unexpected policy defaults %+v", policy)
	}
	if cfg.Stats.Interval != DefaultStatsInterval {
		t.Fatalf("expected default stats interval, got %s", cfg.Stats.Interval)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}

	path := writeFile(t, t.TempDir(), "bad.yaml", "detector: [")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "parse config") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := &Config{
		ConfigVersion: 2,
		Detector:      DetectorConfig{MinLength: -1},
		Server:        ServerConfig{Listen: ""},
		Routes: []Route{
			{Match: RouteMatch{PathPrefix: "/"}, Upstream: "missing", Policy: "missing"},
		},
		Policies: map[string]Policy{
			"p": {Mode: "deny", BlockRisk: "critical"},
		},
		Rules: []Rule{
			{ID: "dup", Match: RuleMatch{Type: "regex", Pattern: "("}},
			{ID: "dup", Severity: "severe", Match: RuleMatch{Type: "glob"}},
		},
		Logging: LoggingConfig{Level: "trace"},
	}
	cfg.ApplyDefaults()

	err := cfg.Validate()
	verr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	want := []string{
		"configVersion must be 1",
		"detector.minLength must be >= 0",
		"logging.level must be debug|info|warn|error",
		"policies.p.mode must be monitor|block",
		"policies.p.blockRisk must be low|medium|high",
		"routes[0].upstream \"missing\" does not exist",
		"routes[0].policy \"missing\" does not exist",
		"rules[0].match.pattern invalid",
		"rules[1].id \"dup\" is duplicated",
		"rules[1].severity must be low|medium|high",
		"rules[1].match.type must be aho|regex",
		"server.listen invalid",
	}
	joined := strings.Join(verr.Problems, "\n")
	for _, w := range want {
		if !strings.Contains(joined, w) {
			t.Fatalf("expected problem %q in:\n%s", w, joined)
		}
	}
}

func TestValidateRejectsMissingAttackLogDir(t *testing.T) {
	cfg := Default()
	cfg.Logging.AttackLog = filepath.Join(t.TempDir(), "missing", "attacks.jsonl")

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected error for missing attack log directory")
	}
	if !strings.Contains(strings.Join(err.(*ValidationError).Problems, "\n"), "logging.attackLog invalid") {
		t.Fatalf("unexpected problems %v", err.(*ValidationError).Problems)
	}
}
