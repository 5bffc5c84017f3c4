// Package fishspeech implements speech synthesis against a fish-speech backend
// served through the Gradio HTTP API.
//
// Each synthesis call connects afresh, uploads the voice's reference audio, runs the
// generation endpoint and downloads the result. Nothing is pooled or cached between
// calls apart from on-the-fly wav companions written into the voice directory.
package fishspeech

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/plomtts/internal/audio"
	"github.com/book-expert/plomtts/internal/core"
	"github.com/book-expert/plomtts/internal/fileutil"
	"github.com/book-expert/plomtts/internal/voicestore"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultAPIName is the generation endpoint exposed by the fish-speech web UI.
	DefaultAPIName = "/partial"
	// DefaultTimeout bounds a whole synthesis call.
	DefaultTimeout = 300 * time.Second
	// HealthCheckTimeout bounds a health probe.
	HealthCheckTimeout = 10 * time.Second

	memoryCacheOff = "off"
)

// Log messages.
const (
	logFmtUsingWAV          = "Using WAV reference audio: %s"
	logFmtConvertingRef     = "Converting %s to WAV for voice '%s'"
	logFmtCreatedWAV        = "Created WAV version: %s"
	logFmtFallbackRef       = "WAV conversion failed for voice '%s', using %s directly"
	logFmtGenerating        = "Generating audio for voice '%s' (%d characters)"
	logFmtGenerated         = "Generated audio: %s"
	logFmtSaved             = "Saved generated audio to %s"
	logFmtRemoveFailed      = "Failed to remove downloaded audio: %v"
	logFmtHealthCheckFailed = "Fish-speech health check failed: %v"
)

// Options configures a Client.
type Options struct {
	BaseURL     string
	APIName     string
	Timeout     time.Duration
	DownloadDir string
}

// Client implements core.Synthesizer.
type Client struct {
	opts        Options
	httpClient  *http.Client
	layout      voicestore.Layout
	audio       *audio.Processor
	log         *logger.Logger
	conversions singleflight.Group
}

// New creates a synthesis client reading voices laid out by layout.
func New(opts Options, layout voicestore.Layout, processor *audio.Processor, log *logger.Logger) *Client {
	if opts.APIName == "" {
		opts.APIName = DefaultAPIName
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	if opts.DownloadDir == "" {
		opts.DownloadDir = filepath.Join(os.TempDir(), "plomtts-gradio")
	}

	return &Client{
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
		layout:     layout,
		audio:      processor,
		log:        log,
	}
}

// BaseURL returns the backend address.
func (c *Client) BaseURL() string {
	return c.opts.BaseURL
}

// ResolveReferenceAudio returns the reference audio for voiceID, preferring the wav
// companion. When only a non-wav primary exists the companion is created on the fly;
// if that fails the primary itself is returned.
func (c *Client) ResolveReferenceAudio(ctx context.Context, voiceID string) (string, error) {
	companion := c.layout.CompanionPath(voiceID)
	if fileutil.FileExists(companion) {
		c.log.Info(logFmtUsingWAV, companion)

		return companion, nil
	}

	for _, format := range audio.ReferenceFallbackFormats {
		source := c.layout.AudioPath(voiceID, format)
		if !fileutil.FileExists(source) {
			continue
		}

		converted, _, _ := c.conversions.Do(voiceID, func() (any, error) {
			if fileutil.FileExists(companion) {
				return true, nil
			}

			c.log.Info(logFmtConvertingRef, strings.ToUpper(string(format)), voiceID)

			return c.audio.Convert(ctx, source, companion, audio.FormatWAV), nil
		})

		if ok, _ := converted.(bool); ok {
			c.log.Info(logFmtCreatedWAV, companion)

			return companion, nil
		}

		c.log.Warn(logFmtFallbackRef, voiceID, strings.ToUpper(string(format)))

		return source, nil
	}

	return "", fmt.Errorf("%w for voice: %s", core.ErrReferenceAudioMissing, voiceID)
}

// Synthesize generates speech for text in the given voice and returns the path of
// the downloaded backend artifact. The artifact stays in the download directory.
func (c *Client) Synthesize(
	ctx context.Context,
	text, voiceID string,
	params core.SamplingParams,
) (string, error) {
	if !c.voiceExists(voiceID) {
		return "", fmt.Errorf("%w: %s", core.ErrVoiceNotFound, voiceID)
	}

	transcript, err := c.readTranscript(voiceID)
	if err != nil {
		return "", err
	}

	reference, err := c.ResolveReferenceAudio(ctx, voiceID)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	gradio, err := Connect(ctx, c.httpClient, c.opts.BaseURL)
	if err != nil {
		return "", fmt.Errorf("failed to connect to fish-speech service: %w", err)
	}

	uploaded, err := gradio.Upload(ctx, reference)
	if err != nil {
		return "", fmt.Errorf("fish-speech API call failed: %w", err)
	}

	c.log.Info(logFmtGenerating, voiceID, len([]rune(text)))

	output, err := gradio.Predict(ctx, c.opts.APIName, predictArgs(text, uploaded, transcript, params))
	if err != nil {
		return "", fmt.Errorf("fish-speech API call failed: %w", err)
	}

	generated, err := generatedFile(output)
	if err != nil {
		return "", err
	}

	path, err := gradio.Download(ctx, generated, c.opts.DownloadDir)
	if err != nil {
		return "", err
	}

	c.log.Info(logFmtGenerated, path)

	return path, nil
}

// SynthesizeToFile runs Synthesize and copies the result to outputPath. The local
// download is removed once copied; the backend's own artifact is left alone.
func (c *Client) SynthesizeToFile(
	ctx context.Context,
	text, voiceID, outputPath string,
	params core.SamplingParams,
) (string, error) {
	generated, err := c.Synthesize(ctx, text, voiceID, params)
	if err != nil {
		return "", err
	}

	defer func() {
		removeErr := fileutil.RemoveIfExists(generated)
		if removeErr != nil {
			c.log.Warn(logFmtRemoveFailed, removeErr)
		}
	}()

	copyErr := fileutil.CopyFile(generated, outputPath)
	if copyErr != nil {
		return "", fmt.Errorf("failed to copy generated audio: %w", copyErr)
	}

	c.log.Info(logFmtSaved, outputPath)

	return outputPath, nil
}

// HealthCheck reports whether the backend accepts connections.
func (c *Client) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	_, err := Connect(ctx, c.httpClient, c.opts.BaseURL)
	if err != nil {
		c.log.Warn(logFmtHealthCheckFailed, err)

		return false
	}

	return true
}

func (c *Client) voiceExists(voiceID string) bool {
	if !voicestore.ValidID(voiceID) {
		return false
	}

	return fileutil.DirExists(c.layout.Dir(voiceID))
}

func (c *Client) readTranscript(voiceID string) (string, error) {
	data, err := os.ReadFile(c.layout.TranscriptPath(voiceID))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w for voice: %s", core.ErrTranscriptMissing, voiceID)
		}

		return "", fmt.Errorf("failed to read transcript: %w", err)
	}

	return strings.TrimSpace(string(data)), nil
}

// predictArgs orders the inputs of the generation endpoint.
func predictArgs(text string, reference FileData, transcript string, params core.SamplingParams) []any {
	return []any{
		text,
		"",
		reference,
		transcript,
		params.MaxNewTokens,
		params.ChunkLength,
		params.TopP,
		params.RepetitionPenalty,
		params.Temperature,
		params.Seed,
		memoryCacheOff,
	}
}

// generatedFile extracts the audio reference from the endpoint output [audio, error].
func generatedFile(output []json.RawMessage) (FileData, error) {
	if len(output) > 1 {
		var message string

		_ = json.Unmarshal(output[1], &message)

		if message != "" {
			return FileData{}, fmt.Errorf("fish-speech generation failed: %w: %s", core.ErrBackendError, message)
		}
	}

	if len(output) == 0 || isNull(output[0]) {
		return FileData{}, fmt.Errorf("fish-speech generation failed: %w: no output path", core.ErrBackendError)
	}

	var path string

	if json.Unmarshal(output[0], &path) == nil {
		if path == "" {
			return FileData{}, fmt.Errorf("fish-speech generation failed: %w: no output path", core.ErrBackendError)
		}

		return FileData{Path: path, Meta: fileMeta{Type: fileDataType}}, nil
	}

	var file FileData

	err := parseJSON(output[0], &file)
	if err != nil {
		return FileData{}, fmt.Errorf("%w: unexpected audio output: %w", core.ErrBackendError, err)
	}

	if file.Path == "" && file.URL == "" {
		return FileData{}, fmt.Errorf("fish-speech generation failed: %w: no output path", core.ErrBackendError)
	}

	return file, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))

	return trimmed == "" || trimmed == "null"
}
