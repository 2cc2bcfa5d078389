package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/xsswatch/xsswatch/internal/capture"
	"github.com/xsswatch/xsswatch/internal/detect"
	"github.com/xsswatch/xsswatch/internal/logging"
	"github.com/xsswatch/xsswatch/internal/state"
	"go.uber.org/zap"
)

type scanOutput struct {
	Verdict    *detect.Verdict   `json:"verdict,omitempty"`
	Result     *detect.Result    `json:"result,omitempty"`
	Statistics *state.Statistics `json:"statistics,omitempty"`
}

func newScanCmd() *cobra.Command {
	var configPath string
	var payload string
	var filePath string
	var source string
	var dest string
	var url string
	var withStats bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Inspect a payload or a captured HTTP message",
		Long: "Inspect a single piece of content (--payload) or a raw HTTP/1.x request or\n" +
			"response (--file, \"-\" for stdin) and print the verdict as JSON.",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if (payload == "") == (filePath == "") {
				return errors.New("exactly one of --payload or --file is required")
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			logger := zap.NewNop()
			if configPath != "" {
				if logger, err = logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
					return err
				}
				defer func() { _ = logger.Sync() }()
			}

			p, err := newPipeline(cfg, logger, nil)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := p.Close(); closeErr != nil && err == nil {
					err = closeErr
				}
			}()

			var out scanOutput
			if payload != "" {
				res := p.engine.Detect(payload, source, url)
				out.Result = &res
			} else {
				raw, err := readInput(cmd.InOrStdin(), filePath)
				if err != nil {
					return err
				}
				verdict, err := capture.Inspect(p.engine, raw, source, dest)
				if err != nil {
					return err
				}
				out.Verdict = &verdict
			}
			if withStats {
				stats := p.tracker.Statistics()
				out.Statistics = &stats
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file (defaults to built-in settings)")
	cmd.Flags().StringVar(&payload, "payload", "", "Content to inspect")
	cmd.Flags().StringVar(&filePath, "file", "", "Raw HTTP message to inspect, - for stdin")
	cmd.Flags().StringVar(&source, "source", "", "Source IP of the request")
	cmd.Flags().StringVar(&dest, "dest", "", "Client IP receiving a response")
	cmd.Flags().StringVar(&url, "url", "", "URL to attribute a --payload detection to")
	cmd.Flags().BoolVar(&withStats, "stats", false, "Include detector statistics in the output")

	return cmd
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
