package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/edgeflow/transport"
	"github.com/drblury/edgeflow/transport/transporttest"
)

func newTransport(t *testing.T) *Transport {
	t.Helper()
	tr, err := New(Config{
		FilePath:     filepath.Join(t.TempDir(), "queue.db"),
		PollInterval: 10 * time.Millisecond,
	}, watermill.NopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func receive(t *testing.T, ch <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "channel closed")
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func TestRegister(t *testing.T) {
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "sqlite", caps.Name)
	assert.True(t, caps.Durable)
	assert.True(t, caps.SupportsReliableDelivery())
	assert.Equal(t, transport.SQLiteCapabilities, Capabilities())
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultFile, cfg.FilePath)
	assert.Equal(t, DefaultPollInterval, cfg.PollInterval)
	assert.Equal(t, DefaultLockTimeout, cfg.LockTimeout)

	custom := Config{FilePath: "x.db", PollInterval: time.Second, LockTimeout: time.Minute}.withDefaults()
	assert.Equal(t, Config{FilePath: "x.db", PollInterval: time.Second, LockTimeout: time.Minute}, custom)
}

func TestBuild(t *testing.T) {
	path := filepath.Join(t.TempDir(), "build.db")
	tr, err := Build(context.Background(), &transporttest.Config{SQLiteFile: path}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.Same(t, tr.Publisher, tr.Subscriber)
	require.NoError(t, tr.Close())
}

func TestPublishSubscribeAck(t *testing.T) {
	tr := newTransport(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg := message.NewMessage("m-1", []byte(`{"hello":"edge"}`))
	msg.Metadata.Set("edgeflow_kind", "message")
	require.NoError(t, tr.Publish("edgeflow.node.a", msg))

	count, err := tr.GetPendingCount("edgeflow.node.a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	ch, err := tr.Subscribe(ctx, "edgeflow.node.a")
	require.NoError(t, err)

	got := receive(t, ch)
	assert.Equal(t, "m-1", got.UUID)
	assert.Equal(t, `{"hello":"edge"}`, string(got.Payload))
	assert.Equal(t, "message", got.Metadata.Get("edgeflow_kind"))
	got.Ack()

	assert.Eventually(t, func() bool {
		n, err := tr.GetPendingCount("edgeflow.node.a")
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEmptyPayloadIsStored(t *testing.T) {
	tr := newTransport(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, tr.Publish("t", message.NewMessage("empty", nil)))
	ch, err := tr.Subscribe(ctx, "t")
	require.NoError(t, err)

	got := receive(t, ch)
	assert.Equal(t, "empty", got.UUID)
	assert.Empty(t, got.Payload)
	got.Ack()
}

func TestTopicsAreIsolated(t *testing.T) {
	tr := newTransport(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, tr.Publish("edgeflow.node.b", message.NewMessage("other", nil)))
	require.NoError(t, tr.Publish("edgeflow.node.a", message.NewMessage("mine", nil)))

	ch, err := tr.Subscribe(ctx, "edgeflow.node.a")
	require.NoError(t, err)
	got := receive(t, ch)
	assert.Equal(t, "mine", got.UUID)
	got.Ack()

	n, err := tr.GetPendingCount("edgeflow.node.b")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestNackSchedulesRedelivery(t *testing.T) {
	tr := newTransport(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, tr.Publish("t", message.NewMessage("m-1", nil)))
	ch, err := tr.Subscribe(ctx, "t")
	require.NoError(t, err)

	receive(t, ch).Nack()

	assert.Eventually(t, func() bool {
		var attempts int
		err := tr.db.QueryRow(`SELECT attempts FROM messages WHERE uuid = 'm-1'`).Scan(&attempts)
		return err == nil && attempts == 1
	}, 2*time.Second, 10*time.Millisecond)

	again := receive(t, ch)
	assert.Equal(t, "m-1", again.UUID)
	again.Ack()
}

func TestMessagesSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "durable.db")

	first, err := New(Config{FilePath: path}, watermill.NopLogger{})
	require.NoError(t, err)
	require.NoError(t, first.Publish("t", message.NewMessage("kept", nil)))
	require.NoError(t, first.Close())

	second, err := New(Config{FilePath: path}, watermill.NopLogger{})
	require.NoError(t, err)
	defer second.Close()

	n, err := second.GetPendingCount("t")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestBackoff(t *testing.T) {
	assert.Zero(t, Backoff(0))
	assert.Equal(t, time.Second, Backoff(1))
	assert.Equal(t, 5*time.Second, Backoff(5))
	assert.Equal(t, MaxBackoff, Backoff(1000))
}

func TestClose(t *testing.T) {
	tr := newTransport(t)
	ch, err := tr.Subscribe(context.Background(), "t")
	require.NoError(t, err)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	_, open := <-ch
	assert.False(t, open)
	assert.ErrorIs(t, tr.Publish("t", message.NewMessage("x", nil)), ErrClosed)
	_, err = tr.Subscribe(context.Background(), "t")
	assert.ErrorIs(t, err, ErrClosed)
}
