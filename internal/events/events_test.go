package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/book-expert/plomtts/internal/core"
	"github.com/book-expert/plomtts/internal/events"
	"github.com/book-expert/plomtts/internal/testutil"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestServer starts an in-memory NATS server on a random port.
func startTestServer(t *testing.T) *server.Server {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	natsServer := test.RunServer(&opts)
	t.Cleanup(natsServer.Shutdown)

	return natsServer
}

func subscribe(t *testing.T, url, subject string) *nats.Subscription {
	t.Helper()

	conn, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	sub, err := conn.SubscribeSync(subject)
	require.NoError(t, err)
	require.NoError(t, conn.Flush())

	return sub
}

func TestPublisher_PublishesLifecycleEvents(t *testing.T) {
	t.Parallel()

	natsServer := startTestServer(t)
	sub := subscribe(t, natsServer.ClientURL(), "voices-test.>")

	publisher, err := events.Connect(natsServer.ClientURL(), "voices-test", testutil.NewLogger(t))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = publisher.Close()
	})

	ctx := core.WithWorkflowID(context.Background(), "req-7")

	require.NoError(t, publisher.VoiceCreated(ctx, core.Voice{ID: "alice", AudioFormat: "wav", HasTranscript: true}))
	require.NoError(t, publisher.VoiceDeleted(ctx, "alice"))
	require.NoError(t, publisher.SpeechGenerated(ctx, core.SpeechGenerated{VoiceID: "bob", TextLength: 12, DurationSeconds: 1.5}))

	msg, err := sub.NextMsg(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "voices-test.voice.created", msg.Subject)

	var created events.VoiceCreatedEvent
	require.NoError(t, json.Unmarshal(msg.Data, &created))
	assert.Equal(t, "alice", created.VoiceID)
	assert.Equal(t, "wav", created.AudioFormat)
	assert.True(t, created.HasTranscript)
	assert.Equal(t, "req-7", created.Header.WorkflowID)
	assert.NotEmpty(t, created.Header.EventID)
	assert.False(t, created.Header.Timestamp.IsZero())

	msg, err = sub.NextMsg(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "voices-test.voice.deleted", msg.Subject)

	var deleted events.VoiceDeletedEvent
	require.NoError(t, json.Unmarshal(msg.Data, &deleted))
	assert.Equal(t, "alice", deleted.VoiceID)
	assert.NotEqual(t, created.Header.EventID, deleted.Header.EventID)
	assert.Equal(t, "req-7", deleted.Header.WorkflowID)

	msg, err = sub.NextMsg(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "voices-test.speech.generated", msg.Subject)

	var generated events.SpeechGeneratedEvent
	require.NoError(t, json.Unmarshal(msg.Data, &generated))
	assert.Equal(t, "bob", generated.VoiceID)
	assert.Equal(t, 12, generated.TextLength)
	assert.InDelta(t, 1.5, generated.DurationSeconds, 1e-9)
}

func TestPublisher_DefaultPrefixAndCancelledContext(t *testing.T) {
	t.Parallel()

	natsServer := startTestServer(t)

	conn, err := nats.Connect(natsServer.ClientURL())
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	publisher := events.NewPublisher(conn, "", testutil.NewLogger(t))
	assert.Equal(t, "plomtts.voice.created", publisher.Subject(events.SubjectVoiceCreated))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, publisher.VoiceDeleted(ctx, "x"), context.Canceled)
	require.NoError(t, publisher.Close(), "borrowed connections are left open")
	assert.True(t, conn.IsConnected())
}

func TestNewHeader(t *testing.T) {
	t.Parallel()

	fresh := events.NewHeader("")
	assert.NotEmpty(t, fresh.EventID)
	assert.Equal(t, fresh.EventID, fresh.WorkflowID)
	assert.False(t, fresh.Timestamp.IsZero())

	joined := events.NewHeader("wf-1")
	assert.Equal(t, "wf-1", joined.WorkflowID)
	assert.NotEqual(t, fresh.EventID, joined.EventID)
}

func TestConnect_Unreachable(t *testing.T) {
	t.Parallel()

	_, err := events.Connect("nats://127.0.0.1:1", "", testutil.NewLogger(t))
	require.Error(t, err)
}

func TestNopPublisher(t *testing.T) {
	t.Parallel()

	var publisher core.EventPublisher = events.NopPublisher{}

	ctx := context.Background()
	assert.NoError(t, publisher.VoiceCreated(ctx, core.Voice{ID: "a"}))
	assert.NoError(t, publisher.VoiceDeleted(ctx, "a"))
	assert.NoError(t, publisher.SpeechGenerated(ctx, core.SpeechGenerated{}))
}
