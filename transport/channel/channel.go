// Package channel registers an in-process broker. A node running on it only
// talks to itself, which is what local development and tests need.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/edgeflow/transport"
)

const TransportName = "channel"

// OutputBuffer is the per-subscriber buffer. Dispatch fans out to successors
// from inside a handler, so an unbuffered channel would deadlock on
// self-addressed messages.
const OutputBuffer = 256

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	Register()
}

// Register adds the channel broker to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Build creates a fresh in-process pub/sub. Messages do not survive Close.
func Build(_ context.Context, _ transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	pub, sub := Factory(gochannel.Config{OutputChannelBuffer: OutputBuffer}, logger)
	return transport.Transport{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}

func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}
