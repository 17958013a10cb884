package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/snarg/talkpace/internal/analysis"
	"github.com/snarg/talkpace/internal/config"
	"github.com/snarg/talkpace/internal/diarize"
	"github.com/snarg/talkpace/internal/output"
)

// engineOutput is a saved speech engine response. A bare JSON array is
// read as Segments.
type engineOutput struct {
	Title    string `json:"title"`
	Segments []any  `json:"segments"`
	Words    []any  `json:"words"`
}

func runAnalyze(args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	input := fs.String("i", "", "engine output JSON (segments and/or words); - reads stdin")
	audioPath := fs.String("audio", "", "original audio, enables overlap detection when diarization is configured")
	format := fs.String("format", "md", "output format: "+strings.Join(output.Formats(), ", ")+", or result for the raw analysis")
	outPath := fs.String("o", "", "output file (default stdout)")
	title := fs.String("title", "", "document title (default input file name)")
	bucket := fs.Float64("bucket", 0, "bucket length in seconds (overrides BUCKET_SECONDS)")
	fs.Parse(args)

	if *input == "" {
		fs.Usage()
		return errors.New("-i is required")
	}
	if *format != "result" && !output.Supported(*format) {
		return fmt.Errorf("unknown output format %q", *format)
	}

	cfg, err := config.Load(config.Overrides{EnvFile: common.envFile, LogLevel: common.logLevel, Profile: common.profile})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, closeLog := newLogger(cfg, os.Stderr)
	defer closeLog()

	doc, err := readEngineOutput(*input)
	if err != nil {
		return err
	}
	words := analysis.FlattenSegments(doc.Segments, log)
	for _, raw := range doc.Words {
		if w, ok := analysis.NormalizeWord(raw); ok {
			words = append(words, w)
		}
	}
	log.Debug().Int("words", len(words)).Str("input", *input).Msg("input loaded")

	opts := cfg.AnalysisOptions()
	if *bucket > 0 {
		opts.BucketSeconds = *bucket
	}

	ctx := context.Background()
	var detector *analysis.OverlapDetector
	if *audioPath == "" {
		opts.DetectOverlap = false
	} else if opts.DetectOverlap {
		detector = analysis.NewOverlapDetector(diarize.Load(ctx, cfg.DiarizeURL, cfg.DiarizeTimeout, log), log)
	}

	res, err := analysis.Run(ctx, words, *audioPath, opts, detector, log)
	if err != nil {
		return err
	}

	var body []byte
	if *format == "result" {
		body, err = json.MarshalIndent(res, "", "  ")
	} else {
		name := *title
		if name == "" {
			name = doc.Title
		}
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(*input), filepath.Ext(*input))
		}
		var meta []output.Field
		if *audioPath != "" {
			meta = append(meta, output.Field{Key: "Audio", Value: filepath.Base(*audioPath)})
		}
		body, err = output.Render(*format, output.NewDocument(name, res, opts.BucketSeconds, meta...))
	}
	if err != nil {
		return fmt.Errorf("render %s: %w", *format, err)
	}

	if *outPath == "" {
		_, err = os.Stdout.Write(body)
		return err
	}
	if err := os.WriteFile(*outPath, body, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	log.Info().Str("output", *outPath).Int("records", len(res.Records)).Msg("analysis written")
	return nil
}

func readEngineOutput(path string) (*engineOutput, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return parseEngineOutput(data)
}

func parseEngineOutput(data []byte) (*engineOutput, error) {
	var doc engineOutput
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, &doc.Segments); err != nil {
			return nil, fmt.Errorf("decode segments: %w", err)
		}
		return &doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	if len(doc.Segments) == 0 && len(doc.Words) == 0 {
		return nil, errors.New("input has no segments or words")
	}
	return &doc, nil
}
