package audio

import (
	"os"
	"path/filepath"
	"strings"
)

// supported lists the container extensions the speech providers accept.
// Video containers are included; providers extract the audio track.
var supported = map[string]string{
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".opus": "audio/opus",
	".webm": "audio/webm",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
}

// IsSupported reports whether the file name has a supported extension.
func IsSupported(name string) bool {
	_, ok := supported[strings.ToLower(filepath.Ext(name))]
	return ok
}

// ContentType returns the MIME type for a supported file name, or
// application/octet-stream.
func ContentType(name string) string {
	if ct, ok := supported[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// ResolveFile finds an audio file on disk.
// Priority: 1) audioDir/audioPath  2) audioPath as an absolute path
// Returns "" when neither exists or audioPath escapes audioDir.
func ResolveFile(audioDir, audioPath string) string {
	if audioPath == "" {
		return ""
	}

	if audioDir != "" && !filepath.IsAbs(audioPath) {
		full := filepath.Join(audioDir, audioPath)
		rel, err := filepath.Rel(audioDir, full)
		if err != nil || strings.HasPrefix(rel, "..") {
			return ""
		}
		if isFile(full) {
			return full
		}
	}

	if filepath.IsAbs(audioPath) && isFile(audioPath) {
		return audioPath
	}

	return ""
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
