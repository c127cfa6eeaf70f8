package channel

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/edgeflow/transport"
	"github.com/drblury/edgeflow/transport/transporttest"
)

func TestRegister(t *testing.T) {
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "channel", caps.Name)
	assert.False(t, caps.Remote)
	assert.False(t, caps.Durable)
	assert.True(t, caps.SupportsReliableDelivery())
	assert.Equal(t, transport.ChannelCapabilities, Capabilities())
}

func TestBuildRoundTrip(t *testing.T) {
	tr, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
	require.NoError(t, err)
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := tr.Subscriber.Subscribe(ctx, "edgeflow.node.a")
	require.NoError(t, err)

	require.NoError(t, tr.Publisher.Publish("edgeflow.node.a", message.NewMessage("1", []byte("hello"))))

	select {
	case msg := <-msgs:
		assert.Equal(t, "hello", string(msg.Payload))
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestBuildUsesBufferedChannels(t *testing.T) {
	original := Factory
	defer func() { Factory = original }()

	var got gochannel.Config
	pub, sub := &transporttest.Publisher{}, &transporttest.Subscriber{}
	Factory = func(cfg gochannel.Config, _ watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
		got = cfg
		return pub, sub
	}

	tr, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.Same(t, pub, tr.Publisher)
	assert.Same(t, sub, tr.Subscriber)
	assert.Equal(t, int64(OutputBuffer), got.OutputChannelBuffer)
}
