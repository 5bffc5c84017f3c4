// Package events publishes voice lifecycle and synthesis notifications over NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bookevents "github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/plomtts/internal/core"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Subject suffixes, appended to the configured prefix.
const (
	SubjectVoiceCreated    = "voice.created"
	SubjectVoiceDeleted    = "voice.deleted"
	SubjectSpeechGenerated = "speech.generated"
	SubjectSpeechCompleted = "speech.completed"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "plomtts"

const (
	clientName     = "plomtts"
	reconnectWait  = 2 * time.Second
	drainTimeout   = 5 * time.Second
	unlimitedRetry = -1
)

// Every event embeds the pipeline EventHeader. The event type is carried by the
// subject, and WorkflowID ties together the events of one HTTP request or job.

// VoiceCreatedEvent is published after a voice is stored.
type VoiceCreatedEvent struct {
	Header        bookevents.EventHeader `json:"header"`
	VoiceID       string                 `json:"voice_id"`
	AudioFormat   string                 `json:"audio_format"`
	HasTranscript bool                   `json:"has_transcript"`
}

// VoiceDeletedEvent is published after a voice directory is removed.
type VoiceDeletedEvent struct {
	Header  bookevents.EventHeader `json:"header"`
	VoiceID string                 `json:"voice_id"`
}

// SpeechGeneratedEvent is published after a synthesis response is produced.
type SpeechGeneratedEvent struct {
	Header          bookevents.EventHeader `json:"header"`
	VoiceID         string                 `json:"voice_id"`
	TextLength      int                    `json:"text_length"`
	DurationSeconds float64                `json:"duration_seconds"`
}

// SpeechRequestedEvent asks the speech worker for audio. Omitted sampling fields
// take their defaults.
type SpeechRequestedEvent struct {
	Header  bookevents.EventHeader `json:"header"`
	Text    string                 `json:"text"`
	VoiceID string                 `json:"voice_id"`
	core.SamplingOverrides
}

// SpeechCompletedEvent is the reply to a SpeechRequestedEvent and shares its
// WorkflowID. Error is set instead of AudioKey when synthesis failed.
type SpeechCompletedEvent struct {
	Header          bookevents.EventHeader `json:"header"`
	VoiceID         string                 `json:"voice_id"`
	AudioKey        string                 `json:"audio_key,omitempty"`
	DurationSeconds float64                `json:"duration_seconds,omitempty"`
	Error           string                 `json:"error,omitempty"`
}

// Publisher implements core.EventPublisher on a NATS connection.
type Publisher struct {
	conn   *nats.Conn
	prefix string
	log    *logger.Logger
	owned  bool
}

// Connect dials the NATS server at url and returns a publisher that owns the
// connection. The connection reconnects indefinitely.
func Connect(url, prefix string, log *logger.Logger) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name(clientName),
		nats.MaxReconnects(unlimitedRetry),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, disconnectErr error) {
			if disconnectErr != nil {
				log.Warn("Disconnected from NATS: %v", disconnectErr)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("Reconnected to NATS at %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	publisher := NewPublisher(conn, prefix, log)
	publisher.owned = true

	return publisher, nil
}

// NewPublisher wraps an existing connection. The caller keeps ownership of conn.
func NewPublisher(conn *nats.Conn, prefix string, log *logger.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}

	return &Publisher{
		conn:   conn,
		prefix: prefix,
		log:    log,
	}
}

// Conn returns the underlying connection.
func (p *Publisher) Conn() *nats.Conn {
	return p.conn
}

// Subject returns the full subject for suffix.
func (p *Publisher) Subject(suffix string) string {
	return p.prefix + "." + suffix
}

// VoiceCreated announces a new voice.
func (p *Publisher) VoiceCreated(ctx context.Context, voice core.Voice) error {
	return p.publish(ctx, SubjectVoiceCreated, VoiceCreatedEvent{
		Header:        NewHeader(core.WorkflowID(ctx)),
		VoiceID:       voice.ID,
		AudioFormat:   voice.AudioFormat,
		HasTranscript: voice.HasTranscript,
	})
}

// VoiceDeleted announces a removed voice.
func (p *Publisher) VoiceDeleted(ctx context.Context, voiceID string) error {
	return p.publish(ctx, SubjectVoiceDeleted, VoiceDeletedEvent{
		Header:  NewHeader(core.WorkflowID(ctx)),
		VoiceID: voiceID,
	})
}

// SpeechGenerated announces a completed synthesis.
func (p *Publisher) SpeechGenerated(ctx context.Context, event core.SpeechGenerated) error {
	return p.publish(ctx, SubjectSpeechGenerated, SpeechGeneratedEvent{
		Header:          NewHeader(core.WorkflowID(ctx)),
		VoiceID:         event.VoiceID,
		TextLength:      event.TextLength,
		DurationSeconds: event.DurationSeconds,
	})
}

// Close drains the connection when the publisher owns it.
func (p *Publisher) Close() error {
	if !p.owned {
		return nil
	}

	done := make(chan struct{})

	p.conn.SetClosedHandler(func(_ *nats.Conn) {
		close(done)
	})

	err := p.conn.Drain()
	if err != nil {
		p.conn.Close()

		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}

	select {
	case <-done:
	case <-time.After(drainTimeout):
		p.conn.Close()
	}

	return nil
}

func (p *Publisher) publish(ctx context.Context, suffix string, event any) error {
	ctxErr := ctx.Err()
	if ctxErr != nil {
		return fmt.Errorf("event %s not published: %w", suffix, ctxErr)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", suffix, err)
	}

	subject := p.Subject(suffix)

	err = p.conn.Publish(subject, data)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	return nil
}

// NewHeader returns a header with a fresh event id. An empty workflowID starts a
// new workflow named after the event.
func NewHeader(workflowID string) bookevents.EventHeader {
	eventID := uuid.NewString()
	if workflowID == "" {
		workflowID = eventID
	}

	return bookevents.EventHeader{
		EventID:    eventID,
		WorkflowID: workflowID,
		Timestamp:  time.Now().UTC(),
	}
}

// NopPublisher discards every event. It is used when NATS is not configured.
type NopPublisher struct{}

// VoiceCreated does nothing.
func (NopPublisher) VoiceCreated(context.Context, core.Voice) error { return nil }

// VoiceDeleted does nothing.
func (NopPublisher) VoiceDeleted(context.Context, string) error { return nil }

// SpeechGenerated does nothing.
func (NopPublisher) SpeechGenerated(context.Context, core.SpeechGenerated) error { return nil }
