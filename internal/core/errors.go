package core

import "errors"

// Voice store errors.
var (
	ErrInvalidID             = errors.New("invalid voice id")
	ErrAlreadyExists         = errors.New("voice already exists")
	ErrUnsupportedFormat     = errors.New("unsupported audio format")
	ErrValidationFailed      = errors.New("audio file validation failed")
	ErrInvalidRequest        = errors.New("invalid request")
	ErrVoiceNotFound         = errors.New("voice not found")
	ErrTranscriptMissing     = errors.New("transcript not found")
	ErrReferenceAudioMissing = errors.New("reference audio file not found")
)

// Synthesis backend errors.
var (
	ErrBackendUnreachable   = errors.New("synthesis backend unreachable")
	ErrBackendError         = errors.New("synthesis backend error")
	ErrGeneratedFileMissing = errors.New("generated audio file not found")
)

// Kind classifies an error for callers that need to map it onto a transport status.
type Kind int

const (
	KindIOFailure Kind = iota
	KindInvalidInput
	KindNotFound
	KindConflict
	KindBackendFailure
)

// String returns the taxonomy name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "InvalidInput"
	case KindNotFound:
		return "NotFound"
	case KindConflict:
		return "Conflict"
	case KindBackendFailure:
		return "BackendFailure"
	default:
		return "IOFailure"
	}
}

// KindOf classifies err. Errors outside the taxonomy are IO failures.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrInvalidID),
		errors.Is(err, ErrUnsupportedFormat),
		errors.Is(err, ErrValidationFailed),
		errors.Is(err, ErrInvalidRequest):
		return KindInvalidInput
	case errors.Is(err, ErrVoiceNotFound):
		return KindNotFound
	case errors.Is(err, ErrAlreadyExists):
		return KindConflict
	case errors.Is(err, ErrTranscriptMissing),
		errors.Is(err, ErrReferenceAudioMissing),
		errors.Is(err, ErrBackendUnreachable),
		errors.Is(err, ErrBackendError),
		errors.Is(err, ErrGeneratedFileMissing):
		return KindBackendFailure
	default:
		return KindIOFailure
	}
}
