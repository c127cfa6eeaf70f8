// Package transporttest provides a plain Config and recording broker halves
// for tests of broker packages and of code built on the transport registry.
package transporttest

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/edgeflow/transport"
)

// Config implements transport.Config with exported fields.
type Config struct {
	PubSubSystem string

	KafkaBrokers       []string
	KafkaClientID      string
	KafkaConsumerGroup string

	RabbitMQURL string
	NATSURL     string

	HTTPServerAddress string
	HTTPPublisherURL  string

	SQLiteFile string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AWSRegion          string
	AWSAccountID       string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSEndpoint        string
}

var _ transport.Config = (*Config)(nil)

func (c *Config) GetPubSubSystem() string       { return c.PubSubSystem }
func (c *Config) GetKafkaBrokers() []string     { return c.KafkaBrokers }
func (c *Config) GetKafkaClientID() string      { return c.KafkaClientID }
func (c *Config) GetKafkaConsumerGroup() string { return c.KafkaConsumerGroup }
func (c *Config) GetRabbitMQURL() string        { return c.RabbitMQURL }
func (c *Config) GetNATSURL() string            { return c.NATSURL }
func (c *Config) GetHTTPServerAddress() string  { return c.HTTPServerAddress }
func (c *Config) GetHTTPPublisherURL() string   { return c.HTTPPublisherURL }
func (c *Config) GetSQLiteFile() string         { return c.SQLiteFile }
func (c *Config) GetRedisAddr() string          { return c.RedisAddr }
func (c *Config) GetRedisPassword() string      { return c.RedisPassword }
func (c *Config) GetRedisDB() int               { return c.RedisDB }
func (c *Config) GetAWSRegion() string          { return c.AWSRegion }
func (c *Config) GetAWSAccountID() string       { return c.AWSAccountID }
func (c *Config) GetAWSAccessKeyID() string     { return c.AWSAccessKeyID }
func (c *Config) GetAWSSecretAccessKey() string { return c.AWSSecretAccessKey }
func (c *Config) GetAWSEndpoint() string        { return c.AWSEndpoint }

// Publisher records published messages per topic. Err, when set, is
// returned from every Publish.
type Publisher struct {
	mu       sync.Mutex
	Err      error
	messages map[string][]*message.Message
	closed   bool
}

func (p *Publisher) Publish(topic string, msgs ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	if p.messages == nil {
		p.messages = make(map[string][]*message.Message)
	}
	p.messages[topic] = append(p.messages[topic], msgs...)
	return nil
}

// Messages returns what was published to topic.
func (p *Publisher) Messages(topic string) []*message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*message.Message(nil), p.messages[topic]...)
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *Publisher) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Subscriber hands out channels that stay open until Close.
type Subscriber struct {
	mu     sync.Mutex
	topics []string
	chans  []chan *message.Message
	closed bool
}

func (s *Subscriber) Subscribe(_ context.Context, topic string) (<-chan *message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan *message.Message)
	s.topics = append(s.topics, topic)
	s.chans = append(s.chans, ch)
	return ch, nil
}

// Topics returns the subscribed topics in order.
func (s *Subscriber) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.topics...)
}

func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, ch := range s.chans {
		close(ch)
	}
	return nil
}

func (s *Subscriber) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
