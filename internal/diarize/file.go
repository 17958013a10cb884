package diarize

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/snarg/talkpace/internal/analysis"
)

// SidecarSuffix is appended to an audio path to find its diarization file.
const SidecarSuffix = ".diarization.json"

// FileDiarizer reads precomputed diarization from <audio>.diarization.json,
// in the same JSON layout the sidecar service returns.
type FileDiarizer struct{}

func (FileDiarizer) Overlaps(_ context.Context, audioPath string) (analysis.Timeline, error) {
	data, err := os.ReadFile(audioPath + SidecarSuffix)
	if err != nil {
		return analysis.Timeline{}, fmt.Errorf("read diarization file: %w", err)
	}
	var res result
	if err := json.Unmarshal(data, &res); err != nil {
		return analysis.Timeline{}, fmt.Errorf("decode diarization file: %w", err)
	}
	return res.timeline()
}
