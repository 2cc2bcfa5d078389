package report

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/xsswatch/xsswatch/internal/logging"
	"github.com/xsswatch/xsswatch/internal/rules"
)

const topN = 5

type Summary struct {
	Total        int         `json:"total"`
	High         int         `json:"high"`
	Medium       int         `json:"medium"`
	Low          int         `json:"low"`
	Start        time.Time   `json:"start"`
	End          time.Time   `json:"end"`
	TopPatterns  []CountItem `json:"top_patterns"`
	TopSources   []CountItem `json:"top_sources"`
	TopLocations []CountItem `json:"top_locations"`
	TopURLs      []CountItem `json:"top_urls"`
}

type CountItem struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type Reader struct {
	Since time.Time
}

// Read loads an attack log. Lines that fail to decode abort the read with
// their line number.
func (r *Reader) Read(path string) ([]logging.AttackRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return r.decode(file)
}

func (r *Reader) decode(in io.Reader) ([]logging.AttackRecord, error) {
	var records []logging.AttackRecord
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var rec logging.AttackRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if !r.Keep(rec) {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// Keep reports whether rec falls inside the reader's window.
func (r *Reader) Keep(rec logging.AttackRecord) bool {
	return r.Since.IsZero() || !rec.Timestamp.Before(r.Since)
}

func Summarize(records []logging.AttackRecord) Summary {
	var summary Summary
	if len(records) == 0 {
		return summary
	}

	summary.Start = records[0].Timestamp
	summary.End = records[0].Timestamp

	patternCounts := map[string]int{}
	sourceCounts := map[string]int{}
	locationCounts := map[string]int{}
	urlCounts := map[string]int{}

	for _, rec := range records {
		summary.Total++
		if rec.Timestamp.Before(summary.Start) {
			summary.Start = rec.Timestamp
		}
		if rec.Timestamp.After(summary.End) {
			summary.End = rec.Timestamp
		}

		switch rec.RiskLevel {
		case rules.SeverityHigh:
			summary.High++
		case rules.SeverityMedium:
			summary.Medium++
		default:
			summary.Low++
		}

		for _, p := range rec.DetectedPatterns {
			patternCounts[p.Name]++
		}
		if rec.SourceIP != "" {
			sourceCounts[rec.SourceIP]++
		}
		location := rec.Location
		if location == "" {
			location = "content"
		}
		locationCounts[location]++
		if rec.URL != "" {
			urlCounts[rec.URL]++
		}
	}

	summary.TopPatterns = topCounts(patternCounts, topN)
	summary.TopSources = topCounts(sourceCounts, topN)
	summary.TopLocations = topCounts(locationCounts, topN)
	summary.TopURLs = topCounts(urlCounts, topN)

	return summary
}

func topCounts(counts map[string]int, n int) []CountItem {
	items := make([]CountItem, 0, len(counts))
	for key, count := range counts {
		items = append(items, CountItem{Key: key, Count: count})
	}
	if len(items) == 0 {
		return nil
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Count == items[j].Count {
			return items[i].Key < items[j].Key
		}
		return items[i].Count > items[j].Count
	})

	if len(items) > n {
		items = items[:n]
	}
	return items
}

func RenderText(summary Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Total attacks: %d\n", summary.Total)
	fmt.Fprintf(&b, "High: %d\n", summary.High)
	fmt.Fprintf(&b, "Medium: %d\n", summary.Medium)
	fmt.Fprintf(&b, "Low: %d\n", summary.Low)
	if summary.Total > 0 {
		fmt.Fprintf(&b, "Window: %s - %s\n", summary.Start.UTC().Format(time.RFC3339), summary.End.UTC().Format(time.RFC3339))
	}

	writeCounts(&b, "Top signatures", summary.TopPatterns)
	writeCounts(&b, "Top sources", summary.TopSources)
	writeCounts(&b, "Top locations", summary.TopLocations)
	writeCounts(&b, "Top URLs", summary.TopURLs)

	return b.String()
}

func RenderMarkdown(summary Summary) string {
	var b strings.Builder
	b.WriteString("# XSS Attack Report\n\n")
	b.WriteString("## Totals\n\n")
	fmt.Fprintf(&b, "- Total attacks: %d\n", summary.Total)
	fmt.Fprintf(&b, "- High: %d\n", summary.High)
	fmt.Fprintf(&b, "- Medium: %d\n", summary.Medium)
	fmt.Fprintf(&b, "- Low: %d\n", summary.Low)
	if summary.Total > 0 {
		fmt.Fprintf(&b, "- Window: %s - %s\n", summary.Start.UTC().Format(time.RFC3339), summary.End.UTC().Format(time.RFC3339))
	}
	b.WriteString("\n")

	writeCountsMarkdown(&b, "Top signatures", summary.TopPatterns)
	writeCountsMarkdown(&b, "Top sources", summary.TopSources)
	writeCountsMarkdown(&b, "Top locations", summary.TopLocations)
	writeCountsMarkdown(&b, "Top URLs", summary.TopURLs)

	return b.String()
}

func RenderJSON(summary Summary) ([]byte, error) {
	return json.MarshalIndent(summary, "", "  ")
}

func writeCounts(b *strings.Builder, title string, items []CountItem) {
	if len(items) == 0 {
		fmt.Fprintf(b, "%s: none\n", title)
		return
	}
	fmt.Fprintf(b, "%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s: %d\n", item.Key, item.Count)
	}
}

func writeCountsMarkdown(b *strings.Builder, title string, items []CountItem) {
	b.WriteString("## ")
	b.WriteString(title)
	b.WriteString("\n\n")
	if len(items) == 0 {
		b.WriteString("- none\n\n")
		return
	}
	for _, item := range items {
		fmt.Fprintf(b, "- `%s`: %d\n", item.Key, item.Count)
	}
	b.WriteString("\n")
}

// WriteOutput writes content to path, or to stdout when path is empty.
func WriteOutput(stdout io.Writer, path string, content []byte) error {
	if path == "" {
		_, err := io.Copy(stdout, bytes.NewReader(content))
		return err
	}
	return os.WriteFile(path, content, 0o600)
}
