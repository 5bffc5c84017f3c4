// Package worker_test tests the NATS speech worker.
package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	bookevents "github.com/book-expert/events"
	"github.com/book-expert/plomtts/internal/audio"
	"github.com/book-expert/plomtts/internal/core"
	"github.com/book-expert/plomtts/internal/events"
	"github.com/book-expert/plomtts/internal/objectstore"
	"github.com/book-expert/plomtts/internal/testutil"
	"github.com/book-expert/plomtts/internal/worker"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSubject = "plomtts.speech.requested"

var (
	errMockSynthesize = errors.New("mock synthesis error")
	errMockUpload     = errors.New("mock upload error")
)

// mockSynthesizer writes fixed audio to the output path.
type mockSynthesizer struct {
	mu         sync.Mutex
	fail       bool
	voiceID    string
	params     core.SamplingParams
	outputPath string
}

func (m *mockSynthesizer) Synthesize(context.Context, string, string, core.SamplingParams) (string, error) {
	return "", errMockSynthesize
}

func (m *mockSynthesizer) SynthesizeToFile(
	_ context.Context, _, voiceID, outputPath string, params core.SamplingParams,
) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fail {
		return "", errMockSynthesize
	}

	m.voiceID = voiceID
	m.params = params
	m.outputPath = outputPath

	return outputPath, os.WriteFile(outputPath, []byte("sample audio"), 0o600)
}

func (m *mockSynthesizer) HealthCheck(context.Context) bool {
	return true
}

func (m *mockSynthesizer) last() (string, core.SamplingParams, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.voiceID, m.params, m.outputPath
}

// mockArchive keeps uploads in memory.
type mockArchive struct {
	mu      sync.Mutex
	fail    bool
	uploads map[string][]byte
}

func (m *mockArchive) UploadFile(_ context.Context, key, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fail {
		return errMockUpload
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if m.uploads == nil {
		m.uploads = make(map[string][]byte)
	}

	m.uploads[key] = data

	return nil
}

func (m *mockArchive) Download(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.uploads[key], nil
}

type workerFixture struct {
	conn    *nats.Conn
	synth   *mockSynthesizer
	archive *mockArchive
	tempDir string
}

func createTestNatsClient(t *testing.T) *nats.Conn {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	server := test.RunServer(&opts)
	t.Cleanup(server.Shutdown)

	natsConnection, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	t.Cleanup(natsConnection.Close)

	return natsConnection
}

// startWorker runs a worker until the test ends.
func startWorker(t *testing.T, conn *nats.Conn, synth core.Synthesizer, archive core.AudioArchive, tempDir string) {
	t.Helper()

	log := testutil.NewLogger(t)
	processor := audio.NewProcessor(&testutil.CopyCodec{Seconds: 4.25}, log)
	publisher := events.NewPublisher(conn, "", log)

	w := worker.NewNatsWorker(conn, worker.Options{Subject: testSubject, TempDir: tempDir},
		synth, archive, processor, publisher, log)

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)

	go func() {
		errChan <- w.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-errChan, "worker.Run should not error on graceful shutdown")
	})

	// Run subscribes asynchronously; wait until it answers.
	require.Eventually(t, func() bool {
		_, err := conn.Request(testSubject, []byte("{}"), 200*time.Millisecond)

		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
}

func setupTest(t *testing.T) *workerFixture {
	t.Helper()

	f := &workerFixture{
		conn:    createTestNatsClient(t),
		synth:   &mockSynthesizer{},
		archive: &mockArchive{},
		tempDir: t.TempDir(),
	}

	startWorker(t, f.conn, f.synth, f.archive, f.tempDir)

	return f
}

func request(t *testing.T, conn *nats.Conn, event events.SpeechRequestedEvent) events.SpeechCompletedEvent {
	t.Helper()

	data, err := json.Marshal(event)
	require.NoError(t, err)

	replyMsg, err := conn.Request(testSubject, data, 5*time.Second)
	require.NoError(t, err, "Request should succeed and receive a reply")

	var reply events.SpeechCompletedEvent
	require.NoError(t, json.Unmarshal(replyMsg.Data, &reply))

	return reply
}

func TestMessageHandler_Success(t *testing.T) {
	t.Parallel()

	f := setupTest(t)

	generated, err := f.conn.SubscribeSync("plomtts." + events.SubjectSpeechGenerated)
	require.NoError(t, err)

	temperature := 0.4
	requestEvent := events.SpeechRequestedEvent{
		Header: bookevents.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: uuid.NewString(),
			EventID:    uuid.NewString(),
		},
		Text:              "hello there",
		VoiceID:           "alice",
		SamplingOverrides: core.SamplingOverrides{Temperature: &temperature},
	}

	reply := request(t, f.conn, requestEvent)

	assert.Empty(t, reply.Error)
	assert.Equal(t, requestEvent.Header.WorkflowID, reply.Header.WorkflowID)
	assert.NotEqual(t, requestEvent.Header.EventID, reply.Header.EventID)
	assert.Equal(t, "alice", reply.VoiceID)
	assert.True(t, strings.HasPrefix(reply.AudioKey, "alice/"))
	assert.InDelta(t, 4.25, reply.DurationSeconds, 1e-9)

	voiceID, params, outputPath := f.synth.last()
	assert.Equal(t, "alice", voiceID)
	assert.InDelta(t, 0.4, params.Temperature, 1e-9)
	assert.InDelta(t, core.DefaultTopP, params.TopP, 1e-9)

	data, err := f.archive.Download(context.Background(), reply.AudioKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("sample audio"), data)

	msg, err := generated.NextMsg(5 * time.Second)
	require.NoError(t, err)

	var event events.SpeechGeneratedEvent
	require.NoError(t, json.Unmarshal(msg.Data, &event))
	assert.Equal(t, 11, event.TextLength)
	assert.Equal(t, requestEvent.Header.WorkflowID, event.Header.WorkflowID)

	assert.NoFileExists(t, outputPath, "temporary output must be removed")
}

func TestMessageHandler_RejectsInvalidRequests(t *testing.T) {
	t.Parallel()

	f := setupTest(t)
	badTopP := 2.0

	tests := []struct {
		name  string
		event events.SpeechRequestedEvent
		want  string
	}{
		{"empty text", events.SpeechRequestedEvent{VoiceID: "alice"}, "text cannot be empty"},
		{"empty voice", events.SpeechRequestedEvent{Text: "hi"}, "voice_id cannot be empty"},
		{"bad sampling", events.SpeechRequestedEvent{
			Text: "hi", VoiceID: "alice", SamplingOverrides: core.SamplingOverrides{TopP: &badTopP},
		}, "top_p"},
	}

	for _, tc := range tests {
		reply := request(t, f.conn, tc.event)
		assert.Contains(t, reply.Error, tc.want, tc.name)
		assert.Empty(t, reply.AudioKey, tc.name)
	}

	eventID := uuid.NewString()
	reply := request(t, f.conn, events.SpeechRequestedEvent{
		Header: bookevents.EventHeader{EventID: eventID},
		Text:   "hi",
	})
	assert.Equal(t, eventID, reply.Header.WorkflowID, "event id stands in for a missing workflow id")

	replyMsg, err := f.conn.Request(testSubject, []byte("not json"), 5*time.Second)
	require.NoError(t, err)
	assert.Contains(t, string(replyMsg.Data), "invalid request")
}

func TestMessageHandler_Failures(t *testing.T) {
	t.Parallel()

	conn := createTestNatsClient(t)
	tempDir := t.TempDir()

	failingSynth := &mockSynthesizer{fail: true}
	startWorker(t, conn, failingSynth, &mockArchive{}, tempDir)

	reply := request(t, conn, events.SpeechRequestedEvent{Text: "hi", VoiceID: "alice"})
	assert.Contains(t, reply.Error, errMockSynthesize.Error())

	entries, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary output must be removed on failure")
}

func TestMessageHandler_UploadFailure(t *testing.T) {
	t.Parallel()

	conn := createTestNatsClient(t)
	tempDir := t.TempDir()

	startWorker(t, conn, &mockSynthesizer{}, &mockArchive{fail: true}, tempDir)

	reply := request(t, conn, events.SpeechRequestedEvent{Text: "hi", VoiceID: "alice"})
	assert.Contains(t, reply.Error, errMockUpload.Error())

	entries, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMessageHandler_ArchivesToJetStream(t *testing.T) {
	t.Parallel()

	conn := createTestNatsClient(t)

	js, err := jetstream.New(conn)
	require.NoError(t, err)

	archive, err := objectstore.New(context.Background(), js, "")
	require.NoError(t, err)

	startWorker(t, conn, &mockSynthesizer{}, archive, t.TempDir())

	reply := request(t, conn, events.SpeechRequestedEvent{Text: "hi", VoiceID: "bob"})
	require.Empty(t, reply.Error)

	data, err := archive.Download(context.Background(), reply.AudioKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("sample audio"), data)
}
