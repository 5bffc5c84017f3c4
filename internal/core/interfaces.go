// Package core defines the domain types and interfaces shared by the voice service.
package core

import (
	"context"
	"fmt"
	"time"
)

// Voice is a named reference-audio bundle stored as a directory under the voices root.
type Voice struct {
	ID            string
	Name          string
	HasTranscript bool
	AudioFormat   string
	// CreatedAt is best-effort and nil when the filesystem could not report it.
	CreatedAt *time.Time
}

// SamplingParams holds the generation-time controls passed through to the backend.
type SamplingParams struct {
	MaxNewTokens      int
	ChunkLength       int
	TopP              float64
	RepetitionPenalty float64
	Temperature       float64
	Seed              int
}

// Default sampling values applied when a caller omits a parameter.
const (
	DefaultMaxNewTokens      = 0
	DefaultChunkLength       = 200
	DefaultTopP              = 0.7
	DefaultRepetitionPenalty = 1.2
	DefaultTemperature       = 0.7
	DefaultSeed              = 0
)

// DefaultSamplingParams returns the backend sampling defaults.
func DefaultSamplingParams() SamplingParams {
	return SamplingParams{
		MaxNewTokens:      DefaultMaxNewTokens,
		ChunkLength:       DefaultChunkLength,
		TopP:              DefaultTopP,
		RepetitionPenalty: DefaultRepetitionPenalty,
		Temperature:       DefaultTemperature,
		Seed:              DefaultSeed,
	}
}

// SamplingOverrides carries optional sampling fields from a request. Nil fields
// keep their defaults.
type SamplingOverrides struct {
	MaxNewTokens      *int     `json:"max_new_tokens,omitempty"`
	ChunkLength       *int     `json:"chunk_length,omitempty"`
	TopP              *float64 `json:"top_p,omitempty"`
	RepetitionPenalty *float64 `json:"repetition_penalty,omitempty"`
	Temperature       *float64 `json:"temperature,omitempty"`
	Seed              *int     `json:"seed,omitempty"`
}

// SamplingParams merges the set fields over DefaultSamplingParams.
func (o SamplingOverrides) SamplingParams() SamplingParams {
	params := DefaultSamplingParams()

	overrideInt(&params.MaxNewTokens, o.MaxNewTokens)
	overrideInt(&params.ChunkLength, o.ChunkLength)
	overrideFloat(&params.TopP, o.TopP)
	overrideFloat(&params.RepetitionPenalty, o.RepetitionPenalty)
	overrideFloat(&params.Temperature, o.Temperature)
	overrideInt(&params.Seed, o.Seed)

	return params
}

func overrideInt(target, value *int) {
	if value != nil {
		*target = *value
	}
}

func overrideFloat(target, value *float64) {
	if value != nil {
		*target = *value
	}
}

// Validate rejects sampling values the backend cannot use. Errors wrap
// ErrInvalidRequest.
func (p SamplingParams) Validate() error {
	switch {
	case p.TopP < 0 || p.TopP > 1:
		return fmt.Errorf("%w: top_p must be between 0 and 1, got %g", ErrInvalidRequest, p.TopP)
	case p.RepetitionPenalty < 1:
		return fmt.Errorf("%w: repetition_penalty must be at least 1, got %g", ErrInvalidRequest, p.RepetitionPenalty)
	case p.Temperature < 0:
		return fmt.Errorf("%w: temperature must not be negative, got %g", ErrInvalidRequest, p.Temperature)
	case p.MaxNewTokens < 0:
		return fmt.Errorf("%w: max_new_tokens must not be negative, got %d", ErrInvalidRequest, p.MaxNewTokens)
	case p.ChunkLength < 0:
		return fmt.Errorf("%w: chunk_length must not be negative, got %d", ErrInvalidRequest, p.ChunkLength)
	default:
		return nil
	}
}

// VoiceStore manages voice assets on the filesystem.
type VoiceStore interface {
	List() []Voice
	Get(id string) (Voice, bool)
	Exists(id string) bool
	Create(ctx context.Context, id string, audio []byte, audioFilename string, transcript *string) (Voice, error)
	Delete(id string) bool
}

// Synthesizer turns text into speech using a stored voice as reference.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string, params SamplingParams) (string, error)
	SynthesizeToFile(ctx context.Context, text, voiceID, outputPath string, params SamplingParams) (string, error)
	HealthCheck(ctx context.Context) bool
}

// AudioCodec decodes and re-encodes audio files.
type AudioCodec interface {
	Convert(ctx context.Context, inputPath, outputPath, format string) error
	Duration(ctx context.Context, path string) (float64, error)
}

// SpeechGenerated describes a completed synthesis request.
type SpeechGenerated struct {
	VoiceID         string
	TextLength      int
	DurationSeconds float64
}

// AudioArchive keeps generated audio under a key for later retrieval.
type AudioArchive interface {
	UploadFile(ctx context.Context, key, path string) error
	Download(ctx context.Context, key string) ([]byte, error)
}

// EventPublisher broadcasts lifecycle notifications. Implementations must not block
// request handling for long and may drop events.
type EventPublisher interface {
	VoiceCreated(ctx context.Context, voice Voice) error
	VoiceDeleted(ctx context.Context, voiceID string) error
	SpeechGenerated(ctx context.Context, event SpeechGenerated) error
}

type workflowIDKey struct{}

// WithWorkflowID returns a context carrying the id that correlates the events of one
// request or job.
func WithWorkflowID(ctx context.Context, workflowID string) context.Context {
	return context.WithValue(ctx, workflowIDKey{}, workflowID)
}

// WorkflowID returns the id stored by WithWorkflowID, or "".
func WorkflowID(ctx context.Context) string {
	workflowID, _ := ctx.Value(workflowIDKey{}).(string)

	return workflowID
}
