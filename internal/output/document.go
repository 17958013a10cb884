package output

import (
	"time"

	"github.com/snarg/talkpace/internal/analysis"
)

// DefaultPrecision is the number of decimals used for gap values.
const DefaultPrecision = 4

// Field is one ordered metadata entry shown in document headers.
type Field struct {
	Key   string
	Value string
}

// Document is everything a renderer needs: the records plus the
// transcript-wide context and reports they were produced with.
type Document struct {
	Title       string
	Metadata    []Field
	Records     []analysis.Record
	Context     analysis.AnalysisContext
	Validation  *analysis.ValidationReport
	Summary     *analysis.Summary
	Uncertainty *analysis.UncertaintyReport
	GeneratedAt time.Time

	// Precision is the decimal precision for gaps; 0 means DefaultPrecision.
	Precision int
	// MaxGaps caps gaps listed per record; 0 lists all of them.
	MaxGaps int
	// BucketSeconds is the target window length noted in headers.
	BucketSeconds float64
}

// NewDocument builds a document from an analysis result.
func NewDocument(title string, res *analysis.Result, bucketSeconds float64, meta ...Field) *Document {
	doc := &Document{
		Title:         title,
		Metadata:      meta,
		GeneratedAt:   time.Now().UTC(),
		BucketSeconds: bucketSeconds,
	}
	if res != nil {
		doc.Records = res.Records
		doc.Context = res.Context
		v := res.Validation
		doc.Validation = &v
		doc.Summary = res.Summary
		doc.Uncertainty = res.Uncertainty
	}
	return doc
}

// recordUncertainty returns the assessment for record i, if any.
func (d *Document) recordUncertainty(i int) (analysis.RecordUncertainty, bool) {
	if d.Uncertainty == nil || i >= len(d.Uncertainty.Records) {
		return analysis.RecordUncertainty{}, false
	}
	return d.Uncertainty.Records[i], true
}

func (d *Document) precision() int {
	if d.Precision > 0 {
		return d.Precision
	}
	return DefaultPrecision
}
