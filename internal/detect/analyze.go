package detect

import (
	"sort"
	"strings"

	"github.com/xsswatch/xsswatch/internal/rules"
)

const (
	LocationURL      = "URL"
	LocationBody     = "Body"
	LocationResponse = "Response"
	headerPrefix     = "Header-"
)

var inspectedHeaders = map[string]bool{
	"user-agent":      true,
	"referer":         true,
	"x-forwarded-for": true,
}

// LocationResult is a detection in one part of a request.
type LocationResult struct {
	Location string `json:"location"`
	Result
}

// Verdict aggregates the per-location results of one request.
type Verdict struct {
	Detected        bool             `json:"detected"`
	Results         []LocationResult `json:"results"`
	TotalDetections int              `json:"total_detections"`
}

// Risk is the highest risk among the detected locations.
func (v Verdict) Risk() rules.Severity {
	max := rules.SeverityLow
	for _, r := range v.Results {
		if r.Risk > max {
			max = r.Risk
		}
	}
	return max
}

// AnalyzeRequest inspects the URL, the User-Agent, Referer and
// X-Forwarded-For headers, and the body of a parsed request. Only locations
// that triggered appear in the verdict.
func (e *Engine) AnalyzeRequest(method, url string, headers map[string]string, body, sourceIP string) Verdict {
	var results []LocationResult

	if res := e.detect(url, sourceIP, url, LocationURL); res.Detected {
		results = append(results, LocationResult{Location: LocationURL, Result: res})
	}

	names := make([]string, 0, len(headers))
	for name := range headers {
		if inspectedHeaders[strings.ToLower(name)] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		location := headerPrefix + name
		if res := e.detect(headers[name], sourceIP, url, location); res.Detected {
			results = append(results, LocationResult{Location: location, Result: res})
		}
	}

	if body != "" {
		if res := e.detect(body, sourceIP, url, LocationBody); res.Detected {
			results = append(results, LocationResult{Location: LocationBody, Result: res})
		}
	}

	return e.verdict(results)
}

// AnalyzeResponse inspects a response body sent to clientIP.
func (e *Engine) AnalyzeResponse(body, clientIP, url string) Verdict {
	var results []LocationResult
	if res := e.detect(body, clientIP, url, LocationResponse); res.Detected {
		results = append(results, LocationResult{Location: LocationResponse, Result: res})
	}
	return e.verdict(results)
}

func (e *Engine) verdict(results []LocationResult) Verdict {
	v := Verdict{
		Detected:        len(results) > 0,
		Results:         results,
		TotalDetections: len(results),
	}
	if e.recorder != nil {
		e.recorder.CountRequest(v.Detected)
	}
	return v
}
