package audio

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/book-expert/plomtts/internal/fileutil"
)

// Default binary names, resolved through PATH.
const (
	DefaultFFmpegPath  = "ffmpeg"
	DefaultFFprobePath = "ffprobe"
)

// ErrNoDuration is returned when ffprobe reports no usable duration.
var ErrNoDuration = errors.New("no duration reported")

// FFmpegCodec implements core.AudioCodec by invoking the ffmpeg and ffprobe binaries.
type FFmpegCodec struct {
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpegCodec creates a codec using the given binaries. Empty paths fall back to
// the defaults.
func NewFFmpegCodec(ffmpegPath, ffprobePath string) *FFmpegCodec {
	if ffmpegPath == "" {
		ffmpegPath = DefaultFFmpegPath
	}

	if ffprobePath == "" {
		ffprobePath = DefaultFFprobePath
	}

	return &FFmpegCodec{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
	}
}

// Convert decodes inputPath and encodes it to outputPath in the target format. The
// output is written to a partial file and renamed, so readers never observe a
// half-written file.
func (c *FFmpegCodec) Convert(ctx context.Context, inputPath, outputPath, format string) error {
	partial := fileutil.PartialPath(outputPath)

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", inputPath,
		"-f", format,
		partial,
	}

	// #nosec G204 -- paths are built by the store from validated voice ids
	cmd := exec.CommandContext(ctx, c.ffmpegPath, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		_ = fileutil.RemoveIfExists(partial)

		return fmt.Errorf("ffmpeg execution failed: %w - output: %s", err, strings.TrimSpace(string(output)))
	}

	commitErr := fileutil.CommitPartial(outputPath)
	if commitErr != nil {
		_ = fileutil.RemoveIfExists(partial)

		return commitErr
	}

	return nil
}

// Duration asks ffprobe for the container duration of path in seconds.
func (c *FFmpegCodec) Duration(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	// #nosec G204 -- path is produced by the service
	cmd := exec.CommandContext(ctx, c.ffprobePath, args...)

	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe execution failed: %w", err)
	}

	value := strings.TrimSpace(string(output))

	seconds, parseErr := strconv.ParseFloat(value, 64)
	if parseErr != nil {
		return 0, fmt.Errorf("%w: %q", ErrNoDuration, value)
	}

	return seconds, nil
}
