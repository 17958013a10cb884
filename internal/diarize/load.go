package diarize

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/talkpace/internal/analysis"
)

// FileScheme selects FileDiarizer instead of the HTTP sidecar.
const FileScheme = "file://"

// Load probes the configured diarization backend once. The returned handle
// is meant to be shared by every job for the life of the process.
//
//	""        -> Unavailable("diarization disabled")
//	"file://" -> FileDiarizer
//	otherwise -> Client, if GET {url}/health succeeds
func Load(ctx context.Context, url string, timeout time.Duration, log zerolog.Logger) analysis.Availability {
	log = log.With().Str("component", "diarize").Logger()
	switch url {
	case "":
		log.Info().Msg("diarization disabled, speaker overlap will be reported as unknown")
		return analysis.Unavailable("diarization disabled")
	case FileScheme:
		log.Info().Str("suffix", SidecarSuffix).Msg("using diarization sidecar files")
		return analysis.Available(FileDiarizer{})
	}

	c := NewClient(url, timeout)
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Health(probeCtx); err != nil {
		log.Warn().Err(err).Str("url", url).Msg("diarization service unavailable")
		return analysis.Unavailable("diarization service unreachable: " + err.Error())
	}
	log.Info().Str("url", url).Msg("diarization service ready")
	return analysis.Available(c)
}
