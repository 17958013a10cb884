package output

import (
	"encoding/json"
	"io"
	"time"

	"github.com/snarg/talkpace/internal/analysis"
)

// JSONFormatVersion identifies the layout written by WriteJSON.
const JSONFormatVersion = "talkpace-records/v1"

type jsonDocument struct {
	Metadata    jsonMetadata                `json:"metadata"`
	Context     analysis.AnalysisContext    `json:"analysis_context"`
	Records     []map[string]any            `json:"records"`
	Validation  *analysis.ValidationReport  `json:"validation,omitempty"`
	Summary     *analysis.Summary           `json:"summary,omitempty"`
	Uncertainty *analysis.UncertaintyReport `json:"uncertainty,omitempty"`
}

type jsonMetadata struct {
	Format      string            `json:"format"`
	Title       string            `json:"title,omitempty"`
	GeneratedAt string            `json:"generated_at"`
	Fields      map[string]string `json:"fields,omitempty"`
	RecordCount int               `json:"record_count"`
}

// WriteJSON renders the document as indented JSON. Records use the
// flattened Record.Map form so every field is present.
func WriteJSON(w io.Writer, doc *Document) error {
	out := jsonDocument{
		Metadata: jsonMetadata{
			Format:      JSONFormatVersion,
			Title:       doc.Title,
			GeneratedAt: doc.GeneratedAt.UTC().Format(time.RFC3339),
			RecordCount: len(doc.Records),
		},
		Context:     doc.Context,
		Records:     make([]map[string]any, len(doc.Records)),
		Validation:  doc.Validation,
		Summary:     doc.Summary,
		Uncertainty: doc.Uncertainty,
	}
	if len(doc.Metadata) > 0 {
		out.Metadata.Fields = make(map[string]string, len(doc.Metadata))
		for _, f := range doc.Metadata {
			out.Metadata.Fields[f.Key] = f.Value
		}
	}
	for i, r := range doc.Records {
		out.Records[i] = r.Map()
		if u, ok := doc.recordUncertainty(i); ok {
			out.Records[i]["uncertainty_level"] = string(u.Level)
			out.Records[i]["suggested_review"] = u.SuggestedReview
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(out)
}
