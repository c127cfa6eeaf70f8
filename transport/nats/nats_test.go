package nats

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/edgeflow/transport"
	"github.com/drblury/edgeflow/transport/transporttest"
)

func TestRegister(t *testing.T) {
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "nats", caps.Name)
	assert.False(t, caps.Durable)
	assert.Equal(t, transport.NATSCapabilities, Capabilities())
}

func TestConnectOptions(t *testing.T) {
	assert.Len(t, ConnectOptions(), 3)
}

func TestBuild(t *testing.T) {
	origPub, origSub := PublisherFactory, SubscriberFactory
	defer func() {
		PublisherFactory = origPub
		SubscriberFactory = origSub
	}()

	pub := &transporttest.Publisher{}
	sub := &transporttest.Subscriber{}
	PublisherFactory = func(cfg nats.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
		assert.Equal(t, "nats://localhost:4222", cfg.URL)
		assert.True(t, cfg.JetStream.Disabled)
		assert.NotEmpty(t, cfg.NatsOptions)
		return pub, nil
	}
	SubscriberFactory = func(cfg nats.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
		assert.Equal(t, "nats://localhost:4222", cfg.URL)
		assert.True(t, cfg.JetStream.Disabled)
		return sub, nil
	}

	tr, err := Build(context.Background(), &transporttest.Config{NATSURL: "nats://localhost:4222"}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.Same(t, pub, tr.Publisher)
	assert.Same(t, sub, tr.Subscriber)
}

func TestBuildErrors(t *testing.T) {
	t.Run("missing url", func(t *testing.T) {
		_, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "url is required")
	})

	t.Run("subscriber fails closes publisher", func(t *testing.T) {
		origPub, origSub := PublisherFactory, SubscriberFactory
		defer func() {
			PublisherFactory = origPub
			SubscriberFactory = origSub
		}()
		pub := &transporttest.Publisher{}
		PublisherFactory = func(nats.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) { return pub, nil }
		SubscriberFactory = func(nats.SubscriberConfig, watermill.LoggerAdapter) (message.Subscriber, error) {
			return nil, errors.New("subscriber error")
		}

		_, err := Build(context.Background(), &transporttest.Config{NATSURL: "nats://x:4222"}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "subscriber error")
		assert.True(t, pub.Closed())
	})
}
