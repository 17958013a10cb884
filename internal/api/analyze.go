package api

import (
	"net/http"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/talkpace/internal/analysis"
	"github.com/snarg/talkpace/internal/output"
)

// AnalyzeRequest is a saved engine output to analyse without audio.
// Either Segments (engine segments, with or without nested words) or a
// flat Words list must be present. Options fields override the server
// defaults when set.
type AnalyzeRequest struct {
	Title    string            `json:"title"`
	Segments []any             `json:"segments"`
	Words    []any             `json:"words"`
	Options  *OptionsPatch     `json:"options"`
	Metadata map[string]string `json:"metadata"`
}

// OptionsPatch holds optional per-request analysis overrides.
type OptionsPatch struct {
	BucketSeconds        *float64 `json:"bucket_seconds"`
	Tolerance            *float64 `json:"bucket_tolerance"`
	GapThreshold         *float64 `json:"gap_threshold"`
	TimingRepair         *bool    `json:"timing_repair"`
	MinBucketSeconds     *float64 `json:"min_bucket_seconds"`
	UncertaintyThreshold *float64 `json:"uncertainty_threshold"`
}

func (p *OptionsPatch) apply(o analysis.Options) analysis.Options {
	if p == nil {
		return o
	}
	if p.BucketSeconds != nil {
		o.BucketSeconds = *p.BucketSeconds
	}
	if p.Tolerance != nil {
		o.Tolerance = *p.Tolerance
	}
	if p.GapThreshold != nil {
		o.GapThreshold = *p.GapThreshold
	}
	if p.TimingRepair != nil {
		o.TimingRepair = *p.TimingRepair
	}
	if p.MinBucketSeconds != nil {
		o.MinBucketSeconds = *p.MinBucketSeconds
	}
	if p.UncertaintyThreshold != nil {
		o.UncertaintyThreshold = *p.UncertaintyThreshold
	}
	return o
}

// AnalyzeHandler runs the analysis core on posted word timings. There is
// no audio, so every record's overlap status is unknown.
type AnalyzeHandler struct {
	defaults analysis.Options
	maxBody  int64
}

func NewAnalyzeHandler(defaults analysis.Options, maxBody int64) *AnalyzeHandler {
	return &AnalyzeHandler{defaults: defaults, maxBody: maxBody}
}

// Analyze handles POST /api/v1/analyze[?format=md|json|csv|srt]. Without
// a format the full analysis result is returned as JSON.
func (h *AnalyzeHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	format, _ := QueryString(r, "format")
	format = strings.ToLower(format)
	if format != "" && !output.Supported(format) {
		WriteErrorDetail(w, http.StatusBadRequest, "unknown output format", format)
		return
	}

	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	var req AnalyzeRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if len(req.Segments) == 0 && len(req.Words) == 0 {
		WriteError(w, http.StatusBadRequest, "segments or words required")
		return
	}

	log := hlog.FromRequest(r).With().Str("handler", "analyze").Logger()
	opts := req.Options.apply(h.defaults)
	opts.DetectOverlap = false

	words := flatten(req, log)
	res, err := analysis.Run(r.Context(), words, "", opts, nil, log)
	if err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid analysis options", err.Error())
		return
	}

	if format == "" {
		WriteJSON(w, http.StatusOK, res)
		return
	}

	title := req.Title
	if title == "" {
		title = "transcript"
	}
	doc := output.NewDocument(title, res, opts.BucketSeconds, metadataFields(req.Metadata)...)
	body, err := output.Render(format, doc)
	if err != nil {
		log.Error().Err(err).Str("format", format).Msg("render failed")
		WriteError(w, http.StatusInternalServerError, "failed to render output")
		return
	}
	w.Header().Set("Content-Type", output.ContentType(format))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func flatten(req AnalyzeRequest, log zerolog.Logger) []analysis.Word {
	words := analysis.FlattenSegments(req.Segments, log)
	for _, raw := range req.Words {
		if w, ok := analysis.NormalizeWord(raw); ok {
			words = append(words, w)
		}
	}
	return words
}

func metadataFields(meta map[string]string) []output.Field {
	if len(meta) == 0 {
		return nil
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := make([]output.Field, len(keys))
	for i, k := range keys {
		fields[i] = output.Field{Key: k, Value: meta[k]}
	}
	return fields
}
