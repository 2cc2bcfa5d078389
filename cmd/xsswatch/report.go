package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/xsswatch/xsswatch/internal/logging"
	"github.com/xsswatch/xsswatch/internal/report"
	"github.com/xsswatch/xsswatch/internal/storage"
)

func newReportCmd() *cobra.Command {
	var inputPath string
	var dbPath string
	var since string
	var format string
	var outPath string
	var limit int

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize recorded attacks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (inputPath == "") == (dbPath == "") {
				return errors.New("exactly one of --in or --db is required")
			}

			reader := report.Reader{}
			if since != "" {
				dur, err := time.ParseDuration(since)
				if err != nil {
					return fmt.Errorf("invalid since duration: %w", err)
				}
				reader.Since = time.Now().Add(-dur)
			}

			var records []logging.AttackRecord
			var err error
			if inputPath != "" {
				records, err = reader.Read(inputPath)
			} else {
				records, err = readStore(dbPath, limit, reader)
			}
			if err != nil {
				return err
			}

			summary := report.Summarize(records)
			switch format {
			case "", "text":
				return report.WriteOutput(cmd.OutOrStdout(), outPath, []byte(report.RenderText(summary)))
			case "md":
				return report.WriteOutput(cmd.OutOrStdout(), outPath, []byte(report.RenderMarkdown(summary)))
			case "json":
				data, err := report.RenderJSON(summary)
				if err != nil {
					return err
				}
				return report.WriteOutput(cmd.OutOrStdout(), outPath, data)
			default:
				return fmt.Errorf("unknown format %q", format)
			}
		},
	}

	cmd.Flags().StringVar(&inputPath, "in", "", "Path to attack log JSONL")
	cmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite attack store")
	cmd.Flags().IntVar(&limit, "limit", 0, "With --db, only the most recent N attacks (0 for all)")
	cmd.Flags().StringVar(&since, "since", "", "Only include attacks newer than this duration (e.g. 10m)")
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text|md|json")
	cmd.Flags().StringVar(&outPath, "out", "", "Output file path (default stdout)")

	return cmd
}

func readStore(path string, limit int, reader report.Reader) ([]logging.AttackRecord, error) {
	db, err := storage.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	all, err := storage.NewAttackRepo(db).Query(storage.QueryOptions{Limit: limit})
	if err != nil {
		return nil, err
	}
	records := all[:0]
	for _, rec := range all {
		if reader.Keep(rec) {
			records = append(records, rec)
		}
	}
	return records, nil
}
