package core_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/book-expert/plomtts/internal/core"
	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want core.Kind
	}{
		{fmt.Errorf("bad: %w", core.ErrInvalidID), core.KindInvalidInput},
		{core.ErrUnsupportedFormat, core.KindInvalidInput},
		{core.ErrValidationFailed, core.KindInvalidInput},
		{core.ErrInvalidRequest, core.KindInvalidInput},
		{fmt.Errorf("voice 'x': %w", core.ErrVoiceNotFound), core.KindNotFound},
		{core.ErrAlreadyExists, core.KindConflict},
		{core.ErrTranscriptMissing, core.KindBackendFailure},
		{core.ErrReferenceAudioMissing, core.KindBackendFailure},
		{core.ErrBackendUnreachable, core.KindBackendFailure},
		{core.ErrBackendError, core.KindBackendFailure},
		{core.ErrGeneratedFileMissing, core.KindBackendFailure},
		{errors.New("disk on fire"), core.KindIOFailure},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, core.KindOf(tc.err), tc.err.Error())
	}
}

func TestDefaultSamplingParams(t *testing.T) {
	t.Parallel()

	params := core.DefaultSamplingParams()

	assert.Equal(t, 0, params.MaxNewTokens)
	assert.Equal(t, 200, params.ChunkLength)
	assert.InEpsilon(t, 0.7, params.TopP, 0.001)
	assert.InEpsilon(t, 1.2, params.RepetitionPenalty, 0.001)
	assert.InEpsilon(t, 0.7, params.Temperature, 0.001)
	assert.Equal(t, 0, params.Seed)
}

func TestSamplingOverrides(t *testing.T) {
	t.Parallel()

	assert.Equal(t, core.DefaultSamplingParams(), core.SamplingOverrides{}.SamplingParams())

	tokens, chunk, seed := 512, 100, 9
	topP, penalty, temperature := 0.5, 1.5, 0.0

	params := core.SamplingOverrides{
		MaxNewTokens:      &tokens,
		ChunkLength:       &chunk,
		TopP:              &topP,
		RepetitionPenalty: &penalty,
		Temperature:       &temperature,
		Seed:              &seed,
	}.SamplingParams()

	assert.Equal(t, core.SamplingParams{
		MaxNewTokens:      512,
		ChunkLength:       100,
		TopP:              0.5,
		RepetitionPenalty: 1.5,
		Temperature:       0,
		Seed:              9,
	}, params)
}

func TestSamplingParamsValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, core.DefaultSamplingParams().Validate())

	tests := []struct {
		name   string
		mutate func(*core.SamplingParams)
	}{
		{"top_p above one", func(p *core.SamplingParams) { p.TopP = 1.01 }},
		{"top_p negative", func(p *core.SamplingParams) { p.TopP = -0.1 }},
		{"repetition penalty", func(p *core.SamplingParams) { p.RepetitionPenalty = 0.9 }},
		{"temperature", func(p *core.SamplingParams) { p.Temperature = -1 }},
		{"max new tokens", func(p *core.SamplingParams) { p.MaxNewTokens = -1 }},
		{"chunk length", func(p *core.SamplingParams) { p.ChunkLength = -5 }},
	}

	for _, tc := range tests {
		params := core.DefaultSamplingParams()
		tc.mutate(&params)

		err := params.Validate()
		assert.ErrorIs(t, err, core.ErrInvalidRequest, tc.name)
		assert.Equal(t, core.KindInvalidInput, core.KindOf(err), tc.name)
	}
}
