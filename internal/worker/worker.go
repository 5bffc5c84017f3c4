// Package worker provides a NATS worker that synthesizes speech requested over a
// subject and archives the audio in an object store.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/book-expert/logger"
	"github.com/book-expert/plomtts/internal/audio"
	"github.com/book-expert/plomtts/internal/core"
	"github.com/book-expert/plomtts/internal/events"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// DefaultQueueGroup spreads requests across every worker instance.
const DefaultQueueGroup = "plomtts-workers"

const (
	handleMessageTimeout = 10 * time.Minute
	tempPattern          = "plomtts-job-*.mp3"
	audioKeySuffix       = ".mp3"
)

var (
	// ErrTextEmpty indicates a request without text.
	ErrTextEmpty = errors.New("text cannot be empty")
	// ErrVoiceEmpty indicates a request without a voice id.
	ErrVoiceEmpty = errors.New("voice_id cannot be empty")
)

// Options configures a NatsWorker.
type Options struct {
	Subject    string
	QueueGroup string
	// TempDir holds synthesis output until it is archived. Empty means os.TempDir().
	TempDir string
}

// NatsWorker answers SpeechRequestedEvent messages with SpeechCompletedEvent replies.
type NatsWorker struct {
	natsConnection *nats.Conn
	opts           Options
	synthesizer    core.Synthesizer
	archive        core.AudioArchive
	audio          *audio.Processor
	events         core.EventPublisher
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker. A nil publisher disables
// speech-generated notifications.
func NewNatsWorker(
	natsConnection *nats.Conn,
	opts Options,
	synthesizer core.Synthesizer,
	archive core.AudioArchive,
	processor *audio.Processor,
	publisher core.EventPublisher,
	log *logger.Logger,
) *NatsWorker {
	if opts.QueueGroup == "" {
		opts.QueueGroup = DefaultQueueGroup
	}

	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}

	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		opts:           opts,
		synthesizer:    synthesizer,
		archive:        archive,
		audio:          processor,
		events:         publisher,
		log:            log,
	}
}

// Run subscribes and handles messages until ctx is cancelled.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.QueueSubscribe(w.opts.Subject, w.opts.QueueGroup, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.opts.Subject, err)
	}

	w.log.System("Speech worker listening on %s (queue %s)", w.opts.Subject, w.opts.QueueGroup)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	request, err := parseAndValidateEvent(msg)

	reply := events.SpeechCompletedEvent{Header: events.NewHeader(workflowID(request))}
	if request != nil {
		reply.VoiceID = request.VoiceID
	}

	if err != nil {
		w.log.Error("Rejected speech request %s: %v", reply.Header.WorkflowID, err)
		reply.Error = err.Error()
		w.respond(msg, reply)

		return
	}

	ctx = core.WithWorkflowID(ctx, reply.Header.WorkflowID)

	audioKey, duration, err := w.processSpeechJob(ctx, request)
	if err != nil {
		w.log.Error("Failed to process speech request %s for voice '%s': %v",
			reply.Header.WorkflowID, request.VoiceID, err)
		reply.Error = err.Error()
		w.respond(msg, reply)

		return
	}

	reply.AudioKey = audioKey
	reply.DurationSeconds = duration
	w.respond(msg, reply)

	pubErr := w.events.SpeechGenerated(ctx, core.SpeechGenerated{
		VoiceID:         request.VoiceID,
		TextLength:      utf8.RuneCountInString(request.Text),
		DurationSeconds: duration,
	})
	if pubErr != nil {
		w.log.Warn("Failed to publish speech generated event for '%s': %v", request.VoiceID, pubErr)
	}
}

// workflowID keeps the request's workflow, falling back to its event id. Requests
// that could not be decoded start a new workflow.
func workflowID(request *events.SpeechRequestedEvent) string {
	if request == nil {
		return ""
	}

	if request.Header.WorkflowID != "" {
		return request.Header.WorkflowID
	}

	return request.Header.EventID
}

// processSpeechJob synthesizes into a scoped temporary file and archives it.
func (w *NatsWorker) processSpeechJob(ctx context.Context, request *events.SpeechRequestedEvent) (string, float64, error) {
	tmp, err := os.CreateTemp(w.opts.TempDir, tempPattern)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temporary file: %w", err)
	}

	tempPath := tmp.Name()
	_ = tmp.Close()

	defer func() {
		removeErr := os.Remove(tempPath)
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			w.log.Warn("Failed to remove temporary file %s: %v", tempPath, removeErr)
		}
	}()

	_, err = w.synthesizer.SynthesizeToFile(ctx, request.Text, request.VoiceID, tempPath, request.SamplingParams())
	if err != nil {
		return "", 0, fmt.Errorf("failed to synthesize speech: %w", err)
	}

	duration := w.audio.Duration(ctx, tempPath)
	audioKey := request.VoiceID + "/" + uuid.NewString() + audioKeySuffix

	err = w.archive.UploadFile(ctx, audioKey, tempPath)
	if err != nil {
		return "", 0, fmt.Errorf("failed to upload audio for key '%s': %w", audioKey, err)
	}

	return audioKey, duration, nil
}

// respond replies to request-reply messages. Fire-and-forget requests get nothing.
func (w *NatsWorker) respond(msg *nats.Msg, reply events.SpeechCompletedEvent) {
	if msg.Reply == "" {
		return
	}

	replyData, err := json.Marshal(reply)
	if err != nil {
		w.log.Error("Failed to marshal reply event: %v", err)

		return
	}

	err = msg.Respond(replyData)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", reply.Header.WorkflowID, err)
	}
}

// parseAndValidateEvent returns the decoded event whenever decoding succeeded, so
// rejections can still be correlated.
func parseAndValidateEvent(msg *nats.Msg) (*events.SpeechRequestedEvent, error) {
	var event events.SpeechRequestedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal event: %w", core.ErrInvalidRequest, err)
	}

	if strings.TrimSpace(event.Text) == "" {
		return &event, fmt.Errorf("%w: %w", core.ErrInvalidRequest, ErrTextEmpty)
	}

	if event.VoiceID == "" {
		return &event, fmt.Errorf("%w: %w", core.ErrInvalidRequest, ErrVoiceEmpty)
	}

	err = event.SamplingParams().Validate()
	if err != nil {
		return &event, err
	}

	return &event, nil
}
