package capture

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/xsswatch/xsswatch/internal/detect"
)

// minPayload is the smallest payload worth parsing.
const minPayload = 10

var requestMethods = []string{"GET ", "POST ", "PUT ", "DELETE ", "PATCH ", "HEAD ", "OPTIONS "}

var ErrNotHTTP = errors.New("payload is not an HTTP message")

// Request holds the parts of a captured request the analyzer inspects.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
}

type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       string
}

func IsRequest(payload []byte) bool {
	for _, m := range requestMethods {
		if bytes.HasPrefix(payload, []byte(m)) {
			return true
		}
	}
	return false
}

func IsResponse(payload []byte) bool {
	return bytes.HasPrefix(payload, []byte("HTTP/"))
}

// ParseRequest parses a raw HTTP/1.x request. A body cut short by the
// capture is returned as far as it goes.
func ParseRequest(payload []byte) (Request, error) {
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(payload)))
	if err != nil {
		return Request{}, fmt.Errorf("parse request: %w", err)
	}
	defer func() { _ = req.Body.Close() }()

	body, err := readBody(req.Body)
	if err != nil {
		return Request{}, fmt.Errorf("read request body: %w", err)
	}

	headers := flatten(req.Header)
	if req.Host != "" {
		headers["Host"] = req.Host
	}
	return Request{
		Method:  req.Method,
		URL:     req.RequestURI,
		Headers: headers,
		Body:    body,
	}, nil
}

func ParseResponse(payload []byte) (Response, error) {
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(payload)), nil)
	if err != nil {
		return Response{}, fmt.Errorf("parse response: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := readBody(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read response body: %w", err)
	}
	return Response{
		StatusCode: resp.StatusCode,
		Headers:    flatten(resp.Header),
		Body:       body,
	}, nil
}

func readBody(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", err
	}
	return string(data), nil
}

func flatten(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		out[name] = strings.Join(values, ", ")
	}
	return out
}

// Inspect classifies a captured payload and runs the matching analysis.
// Requests are attributed to src; responses to dst, the client receiving
// them. Payloads too short to carry an attack yield an empty verdict.
func Inspect(engine *detect.Engine, payload []byte, src, dst string) (detect.Verdict, error) {
	if len(payload) < minPayload {
		return detect.Verdict{}, nil
	}

	switch {
	case IsRequest(payload):
		req, err := ParseRequest(payload)
		if err != nil {
			return detect.Verdict{}, err
		}
		return engine.AnalyzeRequest(req.Method, req.URL, req.Headers, req.Body, src), nil
	case IsResponse(payload):
		resp, err := ParseResponse(payload)
		if err != nil {
			return detect.Verdict{}, err
		}
		return engine.AnalyzeResponse(resp.Body, dst, "HTTP Response"), nil
	default:
		return detect.Verdict{}, ErrNotHTTP
	}
}
