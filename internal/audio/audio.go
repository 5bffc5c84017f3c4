// Package audio provides format detection, validation, re-encoding and duration
// measurement for voice reference audio and generated speech.
//
// Conversion and duration probing are best-effort: failures are logged and reported
// as a boolean or a zero duration, never returned to the caller.
package audio

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/plomtts/internal/core"
	"github.com/book-expert/plomtts/internal/fileutil"
)

// Format is an audio format tag derived from a file extension.
type Format string

// Supported audio formats.
const (
	FormatMP3  Format = "mp3"
	FormatWAV  Format = "wav"
	FormatFLAC Format = "flac"
	FormatOGG  Format = "ogg"
)

// SupportedFormats lists the accepted primary formats in listing preference order.
var SupportedFormats = []Format{FormatMP3, FormatWAV, FormatFLAC, FormatOGG}

// ReferenceFallbackFormats lists the non-wav formats probed, in order, when a voice
// has no wav companion.
var ReferenceFallbackFormats = []Format{FormatMP3, FormatFLAC, FormatOGG}

// Log messages.
const (
	logFmtConversionFailed = "Audio conversion of %s to %s failed: %v"
	logFmtDurationFailed   = "Could not measure duration of %s: %v"
)

// FormatOf derives the format from the file name extension, lower-cased. Unknown
// extensions pass through unchanged.
func FormatOf(path string) Format {
	return Format(strings.ToLower(fileutil.GetFileExtension(filepath.Base(path))))
}

// IsSupported reports whether format is one of the supported formats.
func IsSupported(format Format) bool {
	for _, supported := range SupportedFormats {
		if format == supported {
			return true
		}
	}

	return false
}

// Validate reports whether path exists and carries a supported extension. The file
// structure is not parsed.
func Validate(path string) bool {
	if !fileutil.FileExists(path) {
		return false
	}

	return IsSupported(FormatOf(path))
}

// Processor wraps an AudioCodec with the best-effort contract used by the store and
// the synthesis client.
type Processor struct {
	codec core.AudioCodec
	log   *logger.Logger
}

// NewProcessor creates a Processor backed by codec.
func NewProcessor(codec core.AudioCodec, log *logger.Logger) *Processor {
	return &Processor{
		codec: codec,
		log:   log,
	}
}

// Convert re-encodes inputPath into outputPath as format. It returns false on any
// failure.
func (p *Processor) Convert(ctx context.Context, inputPath, outputPath string, format Format) bool {
	err := p.codec.Convert(ctx, inputPath, outputPath, string(format))
	if err != nil {
		p.log.Error(logFmtConversionFailed, inputPath, format, err)

		return false
	}

	return true
}

// Duration returns the length of the audio at path in seconds, or 0 when it cannot be
// decoded. WAV files are measured from their header when the codec is unavailable.
func (p *Processor) Duration(ctx context.Context, path string) float64 {
	seconds, err := p.codec.Duration(ctx, path)
	if err == nil {
		return seconds
	}

	if FormatOf(path) == FormatWAV {
		headerSeconds, headerErr := WAVDuration(path)
		if headerErr == nil {
			return headerSeconds
		}
	}

	p.log.Warn(logFmtDurationFailed, path, err)

	return 0
}
