package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

type ValidationError struct {
	Problems []string
}

func (v *ValidationError) Add(format string, args ...any) {
	v.Problems = append(v.Problems, fmt.Sprintf(format, args...))
}

func (v *ValidationError) Error() string {
	return fmt.Sprintf("%d validation error(s)", len(v.Problems))
}

func (c *Config) Validate() error {
	v := &ValidationError{}

	if c.ConfigVersion != 1 {
		v.Add("configVersion must be 1")
	}

	c.validateDetector(v)
	c.validateLogging(v)
	c.validateRules(v)

	if len(c.Routes) > 0 {
		c.validateGateway(v)
	}

	if c.Metrics.Enabled {
		if err := validateListen(c.Metrics.Listen); err != nil {
			v.Add("metrics.listen invalid: %v", err)
		}
	}

	if c.Storage.SQLite != "" {
		if err := ensureWritable(c.resolvePath(c.Storage.SQLite)); err != nil {
			v.Add("storage.sqlite invalid: %v", err)
		}
	}

	if c.Stats.Interval < 0 {
		v.Add("stats.interval must be >= 0")
	}

	if len(v.Problems) > 0 {
		sort.Strings(v.Problems)
		return v
	}
	return nil
}

func (c *Config) validateDetector(v *ValidationError) {
	d := c.Detector
	if d.MinLength < 0 {
		v.Add("detector.minLength must be >= 0")
	}
	if d.MaxMatches <= 0 {
		v.Add("detector.maxMatches must be > 0")
	}
	if d.SampleLength <= 0 {
		v.Add("detector.sampleLength must be > 0")
	}
	if d.HistorySize <= 0 {
		v.Add("detector.historySize must be > 0")
	}
	if d.TrackedSources <= 0 {
		v.Add("detector.trackedSources must be > 0")
	}
	if d.PersistPath != "" {
		if err := ensureWritable(c.resolvePath(d.PersistPath)); err != nil {
			v.Add("detector.persistPath invalid: %v", err)
		}
	}
}

func (c *Config) validateLogging(v *ValidationError) {
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		v.Add("logging.level must be debug|info|warn|error")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		v.Add("logging.format must be json|console")
	}
	if c.Logging.QueueSize <= 0 {
		v.Add("logging.queueSize must be > 0")
	}
	if c.Logging.AttackLog != "" {
		if err := ensureWritable(c.resolvePath(c.Logging.AttackLog)); err != nil {
			v.Add("logging.attackLog invalid: %v", err)
		}
	}
}

func (c *Config) validateRules(v *ValidationError) {
	ruleIDs := map[string]struct{}{}
	for i, rule := range c.Rules {
		if rule.ID == "" {
			v.Add("rules[%d].id is required", i)
		} else if _, exists := ruleIDs[rule.ID]; exists {
			v.Add("rules[%d].id %q is duplicated", i, rule.ID)
		} else {
			ruleIDs[rule.ID] = struct{}{}
		}

		if !validSeverity(rule.Severity, true) {
			v.Add("rules[%d].severity must be low|medium|high", i)
		}

		switch rule.Match.Type {
		case "aho":
			if rule.Match.PatternsFile == "" {
				v.Add("rules[%d].match.patternsFile is required for aho", i)
			} else if err := requireFile(c.resolvePath(rule.Match.PatternsFile)); err != nil {
				v.Add("rules[%d].match.patternsFile invalid: %v", i, err)
			}
		case "regex":
			if rule.Match.Pattern == "" {
				v.Add("rules[%d].match.pattern is required for regex", i)
			} else if _, err := regexp.Compile(rule.Match.Pattern); err != nil {
				v.Add("rules[%d].match.pattern invalid: %v", i, err)
			}
		case "":
			v.Add("rules[%d].match.type is required", i)
		default:
			v.Add("rules[%d].match.type must be aho|regex", i)
		}
	}
}

func (c *Config) validateGateway(v *ValidationError) {
	if err := validateListen(c.Server.Listen); err != nil {
		v.Add("server.listen invalid: %v", err)
	}

	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" {
			v.Add("server.tls.certFile required when tls.enabled is true")
		} else if err := requireFile(c.resolvePath(c.Server.TLS.CertFile)); err != nil {
			v.Add("server.tls.certFile invalid: %v", err)
		}
		if c.Server.TLS.KeyFile == "" {
			v.Add("server.tls.keyFile required when tls.enabled is true")
		} else if err := requireFile(c.resolvePath(c.Server.TLS.KeyFile)); err != nil {
			v.Add("server.tls.keyFile invalid: %v", err)
		}
	}

	upstreamNames := map[string]struct{}{}
	for i, upstream := range c.Upstreams {
		if upstream.Name == "" {
			v.Add("upstreams[%d].name is required", i)
		} else if _, exists := upstreamNames[upstream.Name]; exists {
			v.Add("upstreams[%d].name %q is duplicated", i, upstream.Name)
		} else {
			upstreamNames[upstream.Name] = struct{}{}
		}

		if upstream.URL == "" {
			v.Add("upstreams[%d].url is required", i)
		} else if err := validateURL(upstream.URL); err != nil {
			v.Add("upstreams[%d].url invalid: %v", i, err)
		}
	}

	for name, policy := range c.Policies {
		switch policy.Mode {
		case ModeMonitor, ModeBlock:
		default:
			v.Add("policies.%s.mode must be monitor|block", name)
		}
		if !validSeverity(policy.BlockRisk, false) {
			v.Add("policies.%s.blockRisk must be low|medium|high", name)
		}
		if policy.BlockDuration < 0 {
			v.Add("policies.%s.blockDuration must be >= 0", name)
		}
		if policy.MaxBodyBytes <= 0 {
			v.Add("policies.%s.maxBodyBytes must be > 0", name)
		}
		if policy.Timeout <= 0 {
			v.Add("policies.%s.timeout must be > 0", name)
		}
	}

	for i, route := range c.Routes {
		if route.Match.PathPrefix == "" {
			v.Add("routes[%d].match.pathPrefix is required", i)
		}
		if route.Upstream == "" {
			v.Add("routes[%d].upstream is required", i)
		} else if _, exists := upstreamNames[route.Upstream]; !exists {
			v.Add("routes[%d].upstream %q does not exist", i, route.Upstream)
		}
		if route.Policy == "" {
			v.Add("routes[%d].policy is required", i)
		} else if _, exists := c.Policies[route.Policy]; !exists {
			v.Add("routes[%d].policy %q does not exist", i, route.Policy)
		}
	}
}

func validSeverity(value string, allowEmpty bool) bool {
	switch strings.ToLower(value) {
	case "low", "medium", "high":
		return true
	case "":
		return allowEmpty
	default:
		return false
	}
}

func validateListen(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("address is required")
	}
	if _, err := net.ResolveTCPAddr("tcp", addr); err != nil {
		return err
	}
	return nil
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return errors.New("must include scheme and host")
	}
	return nil
}

func requireFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}

func ensureWritable(path string) error {
	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	file, err := os.CreateTemp(dir, "xsswatch-validate-*")
	if err != nil {
		return err
	}
	name := file.Name()
	if err := file.Close(); err != nil {
		return err
	}
	return os.Remove(name)
}
