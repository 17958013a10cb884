package output

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/snarg/talkpace/internal/analysis"
)

// WriteMarkdown renders the document as a report: header, one numbered
// section per record with <sub> metadata lines, then an analysis summary.
func WriteMarkdown(w io.Writer, doc *Document) error {
	bw := bufio.NewWriter(w)
	p := doc.precision()

	title := doc.Title
	if title == "" {
		title = "Transcription Analysis"
	}
	fmt.Fprintf(bw, "# %s\n\n", title)

	if len(doc.Metadata) > 0 {
		bw.WriteString("## Transcription Metadata\n\n")
		for _, f := range doc.Metadata {
			fmt.Fprintf(bw, "**%s:** %s  \n", f.Key, f.Value)
		}
		bw.WriteString("\n")
	}

	recs := doc.Records
	if len(recs) > 0 {
		var dur float64
		var words, gaps int
		for _, r := range recs {
			dur += r.Duration
			words += r.WordCount
			gaps += r.GapCount
		}
		bw.WriteString("## Processing Summary\n\n")
		fmt.Fprintf(bw, "**Total Duration:** %.1f seconds  \n", dur)
		fmt.Fprintf(bw, "**Total Words:** %d  \n", words)
		fmt.Fprintf(bw, "**Total Word Gaps:** %d  \n", gaps)
		if doc.BucketSeconds > 0 {
			fmt.Fprintf(bw, "**Timing Buckets:** %d (%g-second windows)  \n", len(recs), doc.BucketSeconds)
		} else {
			fmt.Fprintf(bw, "**Timing Buckets:** %d  \n", len(recs))
		}
		fmt.Fprintf(bw, "**Analysis Method:** Population variance with ±%gσ cadence thresholds  \n", doc.Context.GapThreshold)
		bw.WriteString("\n")
	}

	bw.WriteString("## Enhanced Transcript\n\n")
	for i, r := range recs {
		fmt.Fprintf(bw, "%d. **[%s]** %s\n", i+1, r.TimeRange(), r.Text)
		fmt.Fprintf(bw, "<sub>confidence %.2f</sub>\n", r.Confidence)
		fmt.Fprintf(bw, "<sub>speaker_overlap %s</sub>\n", r.SpeakerOverlap)
		fmt.Fprintf(bw, "<sub>word_gap_count %d</sub>\n", r.GapCount)
		fmt.Fprintf(bw, "<sub>word_gaps %s</sub>\n", r.GapsString(p, doc.MaxGaps))
		fmt.Fprintf(bw, "<sub>word_gap_mean %.*f</sub>\n", p, r.GapMean)
		fmt.Fprintf(bw, "<sub>word_gap_var %.*f</sub>\n", p+2, r.GapVar)
		fmt.Fprintf(bw, "<sub>cadence %s</sub>\n", r.Cadence)
		if u, ok := doc.recordUncertainty(i); ok {
			if u.SuggestedReview {
				fmt.Fprintf(bw, "<sub>uncertainty %s, review: %s</sub>\n", u.Level, strings.Join(u.Reasons, ", "))
			} else {
				fmt.Fprintf(bw, "<sub>uncertainty %s</sub>\n", u.Level)
			}
		}
		bw.WriteString("\n")
	}

	if len(recs) > 0 {
		writeMarkdownSummary(bw, doc, p)
	}
	return bw.Flush()
}

func writeMarkdownSummary(bw *bufio.Writer, doc *Document, p int) {
	recs := doc.Records
	n := float64(len(recs))
	bw.WriteString("## Analysis Summary\n\n")

	cad := map[analysis.Cadence]int{}
	ovl := map[analysis.OverlapStatus]int{}
	var words, gaps int
	var conf float64
	for _, r := range recs {
		cad[r.Cadence]++
		ovl[r.SpeakerOverlap]++
		words += r.WordCount
		gaps += r.GapCount
		conf += r.Confidence
	}

	bw.WriteString("### Cadence Distribution\n\n")
	for _, c := range []analysis.Cadence{analysis.CadenceSlow, analysis.CadenceNormal, analysis.CadenceFast} {
		fmt.Fprintf(bw, "- **%s:** %d segments (%.1f%%)  \n", capitalize(string(c)), cad[c], float64(cad[c])/n*100)
	}
	bw.WriteString("\n")

	bw.WriteString("### Speaker Overlap Analysis\n\n")
	for _, s := range []analysis.OverlapStatus{analysis.OverlapDetected, analysis.OverlapSingle, analysis.OverlapUnknown} {
		fmt.Fprintf(bw, "- **%s:** %d segments (%.1f%%)  \n", capitalize(string(s)), ovl[s], float64(ovl[s])/n*100)
	}
	bw.WriteString("\n")

	bw.WriteString("### Quality Metrics\n\n")
	fmt.Fprintf(bw, "- **Average Confidence:** %.3f  \n", conf/n)
	fmt.Fprintf(bw, "- **Words per Segment:** %.1f  \n", float64(words)/n)
	fmt.Fprintf(bw, "- **Gaps per Segment:** %.1f  \n", float64(gaps)/n)
	bw.WriteString("\n")

	ctx := doc.Context
	if ctx.TotalGaps > 0 {
		bw.WriteString("### Global Gap Statistics\n\n")
		fmt.Fprintf(bw, "- **Total Gaps Analyzed:** %d  \n", ctx.TotalGaps)
		fmt.Fprintf(bw, "- **Global Mean:** %.*fs  \n", p, ctx.GlobalMean)
		fmt.Fprintf(bw, "- **Global Variance:** %.*f  \n", p+2, ctx.GlobalVariance)
		fmt.Fprintf(bw, "- **Global Std Dev:** %.*fs  \n", p, ctx.GlobalStdDev)
		fmt.Fprintf(bw, "- **Cadence Thresholds:** Fast < %.3fs, Slow > %.3fs  \n",
			ctx.FastThreshold(), ctx.SlowThreshold())
		bw.WriteString("\n")
	}

	if u := doc.Uncertainty; u != nil && u.TotalRecords > 0 {
		writeMarkdownUncertainty(bw, u)
	}
}

func writeMarkdownUncertainty(bw *bufio.Writer, u *analysis.UncertaintyReport) {
	bw.WriteString("### Uncertainty\n\n")
	fmt.Fprintf(bw, "- **Overall Quality Score:** %.2f  \n", u.QualityScore)
	fmt.Fprintf(bw, "- **Flagged for Review:** %d of %d records (%.1f%%)  \n",
		u.FlaggedRecords, u.TotalRecords, u.FlaggedPercentage)
	if st := u.Stats; st.Scored > 0 {
		fmt.Fprintf(bw, "- **Confidence:** mean %.3f, median %.3f, std %.3f, range %.3f-%.3f  \n",
			st.Mean, st.Median, st.StdDev, st.Min, st.Max)
	}
	bw.WriteString("\n")
	for i, rec := range u.Recommendations {
		fmt.Fprintf(bw, "%d. %s\n", i+1, rec)
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
