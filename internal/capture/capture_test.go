package capture

import (
	"errors"
	"testing"

	"github.com/xsswatch/xsswatch/internal/detect"
	"github.com/xsswatch/xsswatch/internal/rules"
	"github.com/xsswatch/xsswatch/internal/state"
)

const rawRequest = "POST /comment?page=1 HTTP/1.1\r\n" +
	"Host: shop.example\r\n" +
	"User-Agent: <script>alert(1)</script>\r\n" +
	"Content-Type: application/x-www-form-urlencoded\r\n" +
	"Content-Length: 41\r\n" +
	"\r\n" +
	"comment=%3Cscript%3Ealert(1)%3C/script%3E"

func TestIsRequestAndResponse(t *testing.T) {
	cases := []struct {
		payload      string
		wantRequest  bool
		wantResponse bool
	}{
		{"GET / HTTP/1.1\r\n\r\n", true, false},
		{"OPTIONS * HTTP/1.1\r\n\r\n", true, false},
		{"HTTP/1.1 200 OK\r\n\r\n", false, true},
		{"GETTER / HTTP/1.1", false, false},
		{"\x16\x03\x01 tls", false, false},
	}

	for _, tt := range cases {
		if got := IsRequest([]byte(tt.payload)); got != tt.wantRequest {
			t.Fatalf("IsRequest(%q) = %v", tt.payload, got)
		}
		if got := IsResponse([]byte(tt.payload)); got != tt.wantResponse {
			t.Fatalf("IsResponse(%q) = %v", tt.payload, got)
		}
	}
}

func TestParseRequest(t *testing.T) {
	req, err := ParseRequest([]byte(rawRequest))
	if err != nil {
		t.Fatalf("ParseRequest error: %v", err)
	}
	if req.Method != "POST" || req.URL != "/comment?page=1" {
		t.Fatalf("unexpected request line %s %s", req.Method, req.URL)
	}
	if req.Headers["User-Agent"] != "<script>alert(1)</script>" || req.Headers["Host"] != "shop.example" {
		t.Fatalf("unexpected headers %v", req.Headers)
	}
	if req.Body != "comment=%3Cscript%3Ealert(1)%3C/script%3E" {
		t.Fatalf("unexpected body %q", req.Body)
	}
}

func TestParseRequestTruncatedBody(t *testing.T) {
	raw := "POST /c HTTP/1.1\r\nHost: a\r\nContent-Length: 100\r\n\r\ncomment=<svg onload="
	req, err := ParseRequest([]byte(raw))
	if err != nil {
		t.Fatalf("ParseRequest error: %v", err)
	}
	if req.Body != "comment=<svg onload=" {
		t.Fatalf("expected partial body, got %q", req.Body)
	}
}

func TestParseRequestInvalid(t *testing.T) {
	if _, err := ParseRequest([]byte("GET\r\n\r\n")); err == nil {
		t.Fatalf("expected error for malformed request line")
	}
}

func TestParseResponse(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Type: text/html\r\nContent-Length: 25\r\n\r\n<p><script>x</script></p>"
	resp, err := ParseResponse([]byte(raw))
	if err != nil {
		t.Fatalf("ParseResponse error: %v", err)
	}
	if resp.StatusCode != 200 || resp.Headers["Content-Type"] != "text/html" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Body != "<p><script>x</script></p>" {
		t.Fatalf("unexpected body %q", resp.Body)
	}
}

func TestInspect(t *testing.T) {
	tracker, err := state.NewTracker(state.Options{HistorySize: 10, TrackedSources: 4})
	if err != nil {
		t.Fatalf("NewTracker error: %v", err)
	}
	engine := detect.New(rules.Default(), tracker, detect.DefaultOptions())

	v, err := Inspect(engine, []byte(rawRequest), "10.0.0.1", "10.0.0.100")
	if err != nil {
		t.Fatalf("Inspect request error: %v", err)
	}
	locations := map[string]bool{}
	for _, r := range v.Results {
		locations[r.Location] = true
	}
	if !locations["Header-User-Agent"] || !locations["Body"] || len(locations) != 2 {
		t.Fatalf("unexpected locations %v", locations)
	}

	raw := "HTTP/1.1 200 OK\r\nContent-Length: 29\r\n\r\n<script>alert('x')</script>\r\n"
	v, err = Inspect(engine, []byte(raw), "10.0.0.100", "10.0.0.1")
	if err != nil {
		t.Fatalf("Inspect response error: %v", err)
	}
	if !v.Detected || v.Results[0].Location != detect.LocationResponse {
		t.Fatalf("expected response detection, got %+v", v)
	}
	recent := tracker.Statistics().RecentAttacks
	if last := recent[len(recent)-1]; last.SourceIP != "10.0.0.1" || last.URL != "HTTP Response" {
		t.Fatalf("expected response attributed to client, got %+v", last)
	}

	if v, err := Inspect(engine, []byte("GET /"), "a", "b"); err != nil || v.Detected {
		t.Fatalf("expected short payload ignored, got %+v, %v", v, err)
	}
	if _, err := Inspect(engine, []byte("SSH-2.0-OpenSSH_9.6"), "a", "b"); !errors.Is(err, ErrNotHTTP) {
		t.Fatalf("expected ErrNotHTTP, got %v", err)
	}
}
