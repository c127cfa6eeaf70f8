// Package http registers a broker that pushes messages as HTTP POSTs. Topics
// become URL paths on both sides.
package http

import (
	"context"
	"fmt"
	nethttp "net/http"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/edgeflow/transport"
)

const TransportName = "http"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(config http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(config, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(addr string, config http.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return http.NewSubscriber(addr, config, logger)
}

func init() {
	Register()
}

func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.HTTPCapabilities)
}

// Build creates the publisher and the listening subscriber. The listener is
// not started here; callers start it through transport.ServerStarter after
// subscribing.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	serverAddr := cfg.GetHTTPServerAddress()
	publisherURL := cfg.GetHTTPPublisherURL()
	if serverAddr == "" || publisherURL == "" {
		return transport.Transport{}, fmt.Errorf("http: server address and publisher url are required")
	}
	base := strings.TrimSuffix(publisherURL, "/")

	publisher, err := PublisherFactory(
		http.PublisherConfig{
			MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
				return http.DefaultMarshalMessageFunc(base+TopicPath(topic), msg)
			},
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		serverAddr,
		http.SubscriberConfig{
			UnmarshalMessageFunc: http.DefaultUnmarshalMessageFunc,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: pathSubscriber{subscriber},
	}, nil
}

// TopicPath maps a topic onto the URL path it is served under.
func TopicPath(topic string) string {
	return "/" + strings.TrimPrefix(topic, "/")
}

type pathSubscriber struct {
	message.Subscriber
}

func (p pathSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return p.Subscriber.Subscribe(ctx, TopicPath(topic))
}

func (p pathSubscriber) StartHTTPServer() error {
	if s, ok := p.Subscriber.(transport.ServerStarter); ok {
		return s.StartHTTPServer()
	}
	return nil
}

func Capabilities() transport.Capabilities {
	return transport.HTTPCapabilities
}
