// Package transport defines how a node talks to its hub: the Contract the
// itinerary engine drives, and the broker registry the canonical contract
// implementation builds its publisher/subscriber pair from. Each broker lives
// in its own sub-package and registers itself with the registry.
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines a publisher and subscriber pair produced by a broker.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close closes both halves. Brokers backed by one object are closed once.
func (t Transport) Close() error {
	var pubErr, subErr error
	if t.Publisher != nil {
		pubErr = t.Publisher.Close()
	}
	if t.Subscriber != nil {
		if same, ok := t.Subscriber.(message.Publisher); !ok || same != t.Publisher {
			subErr = t.Subscriber.Close()
		}
	}
	if pubErr != nil {
		return pubErr
	}
	return subErr
}

// Builder creates a broker from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the values brokers need without depending on the full
// config package.
type Config interface {
	GetPubSubSystem() string

	GetKafkaBrokers() []string
	GetKafkaClientID() string
	GetKafkaConsumerGroup() string

	GetRabbitMQURL() string

	GetNATSURL() string

	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	GetSQLiteFile() string

	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int

	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by brokers that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}

// QueueIntrospector is implemented by brokers that can report how many
// messages wait on a topic.
type QueueIntrospector interface {
	GetPendingCount(topic string) (int64, error)
}

// ServerStarter is implemented by subscribers that receive through their own
// listener. The listener starts once every topic is subscribed.
type ServerStarter interface {
	StartHTTPServer() error
}
