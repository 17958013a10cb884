package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/snarg/talkpace/internal/analysis"
)

// ListRecords returns a job's records in bucket order. A job with no
// records (or an unknown job) yields an empty slice.
func (db *DB) ListRecords(ctx context.Context, jobID string) ([]analysis.Record, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT bucket_index, start_time, end_time, duration, text,
			word_count, word_gap_count, word_gaps, word_gap_mean, word_gap_var,
			cadence, speaker_overlap, confidence_score, words
		FROM records
		WHERE job_id = $1::uuid
		ORDER BY bucket_index
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []analysis.Record{}
	for rows.Next() {
		var (
			r                analysis.Record
			cadence, overlap string
			words            []byte
		)
		if err := rows.Scan(
			&r.BucketIndex, &r.Start, &r.End, &r.Duration, &r.Text,
			&r.WordCount, &r.GapCount, &r.Gaps, &r.GapMean, &r.GapVar,
			&cadence, &overlap, &r.Confidence, &words,
		); err != nil {
			return nil, err
		}
		r.Cadence = analysis.Cadence(cadence)
		r.SpeakerOverlap = analysis.OverlapStatus(overlap)
		if err := json.Unmarshal(words, &r.Words); err != nil {
			return nil, fmt.Errorf("decode words for bucket %d: %w", r.BucketIndex, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
