package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xsswatch/xsswatch/internal/config"
	"github.com/xsswatch/xsswatch/internal/detect"
	"github.com/xsswatch/xsswatch/internal/observability"
	"github.com/xsswatch/xsswatch/internal/policy"
	"github.com/xsswatch/xsswatch/internal/rules"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-Id"

type routePolicy struct {
	config.Policy
	threshold rules.Severity
}

// Gateway is a reverse proxy that runs every request through the detection
// engine and applies the route's policy to the verdict.
type Gateway struct {
	router    *Router
	upstreams map[string]*url.URL
	policies  map[string]routePolicy
	proxies   map[string]*httputil.ReverseProxy

	engine    *detect.Engine
	blocklist *policy.Blocklist
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func New(cfg *config.Config, engine *detect.Engine, logger *zap.Logger) (*Gateway, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if engine == nil {
		return nil, errors.New("detection engine is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	router, err := NewRouter(cfg)
	if err != nil {
		return nil, err
	}

	upstreams := make(map[string]*url.URL, len(cfg.Upstreams))
	for _, upstream := range cfg.Upstreams {
		parsed, err := url.Parse(upstream.URL)
		if err != nil {
			return nil, fmt.Errorf("parse upstream %s: %w", upstream.Name, err)
		}
		upstreams[upstream.Name] = parsed
	}

	policies := make(map[string]routePolicy, len(cfg.Policies))
	for name, policyCfg := range cfg.Policies {
		threshold, err := rules.ParseSeverity(policyCfg.BlockRisk)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", name, err)
		}
		if policyCfg.Timeout <= 0 {
			policyCfg.Timeout = maxPolicyTimeout(cfg)
		}
		policies[name] = routePolicy{Policy: policyCfg, threshold: threshold}
	}

	g := &Gateway{
		router:    router,
		upstreams: upstreams,
		policies:  policies,
		engine:    engine,
		blocklist: policy.NewBlocklist(),
		logger:    logger,
		now:       time.Now,
	}

	transport := newTransport(maxPolicyTimeout(cfg))
	g.proxies = make(map[string]*httputil.ReverseProxy, len(upstreams))
	for name, target := range upstreams {
		proxy := httputil.NewSingleHostReverseProxy(target)
		proxy.Transport = transport
		proxy.ModifyResponse = g.inspectResponse
		proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
			var maxErr *http.MaxBytesError
			switch {
			case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
				http.Error(w, "upstream timeout", http.StatusGatewayTimeout)
			case errors.As(err, &maxErr):
				http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			default:
				g.logger.Error("upstream error", zap.String("upstream", target.Host), zap.Error(err))
				http.Error(w, "upstream error", http.StatusBadGateway)
			}
		}
		g.proxies[name] = proxy
	}

	return g, nil
}

func (g *Gateway) SetMetrics(metrics *observability.Metrics) {
	g.metrics = metrics
}

func (g *Gateway) Blocklist() *policy.Blocklist {
	return g.blocklist
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route, policyCfg, proxy, ok := g.resolveRoute(r)
	if !ok {
		http.NotFound(w, r)
		return
	}

	start := time.Now()
	requestID := uuid.NewString()
	w.Header().Set(requestIDHeader, requestID)
	ip := clientIP(r)
	log := g.logger.With(
		zap.String("request_id", requestID),
		zap.String("route", route.ID),
		zap.String("client_ip", ip),
	)

	if g.blocklist.Blocked(ip, g.now()) {
		g.metrics.ObserveBlock(route.ID, "blocklist")
		log.Info("request rejected from blocked source")
		http.Error(w, blockBody(policyCfg), blockStatus(policyCfg))
		return
	}

	if policyCfg.MaxBodyBytes > 0 && r.ContentLength > policyCfg.MaxBodyBytes {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	body, err := readBody(w, r, policyCfg.MaxBodyBytes)
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	target := r.URL.RequestURI()
	verdict := g.engine.AnalyzeRequest(r.Method, target, flattenHeaders(r.Header), string(body), ip)
	action, shouldBlock := policy.DecideAction(policyCfg.Mode, verdict.Detected, verdict.Risk(), policyCfg.threshold)

	if verdict.Detected {
		log.Info("request verdict",
			zap.String("method", r.Method),
			zap.String("url", target),
			zap.String("action", string(action)),
			zap.Stringer("risk", verdict.Risk()),
			zap.Int("locations", verdict.TotalDetections),
		)
	}

	if shouldBlock {
		g.blocklist.Block(ip, policyCfg.BlockDuration, g.now())
		g.metrics.ObserveBlock(route.ID, "risk")
		http.Error(w, blockBody(policyCfg), blockStatus(policyCfg))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), policyCfg.Timeout)
	defer cancel()
	if policyCfg.InspectResponses {
		ctx = context.WithValue(ctx, inspectKey{}, responseInspection{
			clientIP: ip,
			url:      target,
			maxBytes: policyCfg.MaxBodyBytes,
			log:      log,
		})
	}

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	proxy.ServeHTTP(rec, r.WithContext(ctx))
	log.Debug("request proxied",
		zap.Int("status", rec.status),
		zap.Duration("duration", time.Since(start)),
	)
}

type inspectKey struct{}

type responseInspection struct {
	clientIP string
	url      string
	maxBytes int64
	log      *zap.Logger
}

// inspectResponse scans text responses on routes that ask for it. Bodies
// over the route limit or with a content encoding pass through unscanned.
func (g *Gateway) inspectResponse(resp *http.Response) error {
	if resp.Request == nil {
		return nil
	}
	inspection, ok := resp.Request.Context().Value(inspectKey{}).(responseInspection)
	if !ok || !inspectable(resp.Header) {
		return nil
	}

	limit := inspection.maxBytes
	if limit <= 0 {
		limit = config.DefaultMaxBodyBytes
	}
	head, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return err
	}
	resp.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(head), resp.Body), resp.Body}
	if int64(len(head)) > limit {
		return nil
	}

	verdict := g.engine.AnalyzeResponse(string(head), inspection.clientIP, inspection.url)
	if verdict.Detected {
		inspection.log.Warn("script content in upstream response",
			zap.String("url", inspection.url),
			zap.Stringer("risk", verdict.Risk()),
		)
	}
	return nil
}

func inspectable(h http.Header) bool {
	if enc := strings.ToLower(h.Get("Content-Encoding")); enc != "" && enc != "identity" {
		return false
	}
	ct := strings.ToLower(h.Get("Content-Type"))
	return strings.HasPrefix(ct, "text/") ||
		strings.Contains(ct, "json") ||
		strings.Contains(ct, "javascript") ||
		strings.Contains(ct, "xml")
}

func (g *Gateway) resolveRoute(r *http.Request) (Route, routePolicy, *httputil.ReverseProxy, bool) {
	route, ok := g.router.Match(r)
	if !ok {
		return Route{}, routePolicy{}, nil, false
	}

	policyCfg, ok := g.policies[route.Policy]
	if !ok {
		return Route{}, routePolicy{}, nil, false
	}
	proxy, ok := g.proxies[route.Upstream]
	if !ok {
		return Route{}, routePolicy{}, nil, false
	}

	return route, policyCfg, proxy, true
}

// flattenHeaders joins repeated header values the way they would appear on
// a single header line.
func flattenHeaders(headers http.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for name, values := range headers {
		out[http.CanonicalHeaderKey(name)] = strings.Join(values, ", ")
	}
	return out
}

func readBody(w http.ResponseWriter, r *http.Request, maxBytes int64) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}

	r.Body = io.NopCloser(bytes.NewReader(body))
	r.ContentLength = int64(len(body))
	return body, nil
}

func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

func blockStatus(policyCfg routePolicy) int {
	if policyCfg.BlockStatusCode > 0 {
		return policyCfg.BlockStatusCode
	}
	return http.StatusForbidden
}

func blockBody(policyCfg routePolicy) string {
	if policyCfg.BlockBody != "" {
		return policyCfg.BlockBody
	}
	return "request blocked"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func maxPolicyTimeout(cfg *config.Config) time.Duration {
	var max time.Duration
	for _, policyCfg := range cfg.Policies {
		if policyCfg.Timeout > max {
			max = policyCfg.Timeout
		}
	}
	if max <= 0 {
		max = 5 * time.Second
	}
	return max
}

func newTransport(timeout time.Duration) *http.Transport {
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: timeout,
	}
}
