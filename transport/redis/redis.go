// Package redis registers a broker built on Redis lists. Each topic is one
// list: publishers RPUSH msgpack frames, subscribers BLPOP them. A nacked
// message goes back to the head of its list.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-redis/redis/v8"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/drblury/edgeflow/transport"
)

const TransportName = "redis"

const (
	// KeyPrefix namespaces topic lists inside the Redis database.
	KeyPrefix = "edgeflow:queue:"
	// PopTimeout bounds each BLPOP so subscribers notice ctx and Close.
	PopTimeout = time.Second
	// RetryDelay is the pause after a failed pop before trying again.
	RetryDelay = 500 * time.Millisecond
)

var ErrClosed = errors.New("redis: transport is closed")

// ClientFactory allows overriding the client creation for testing.
var ClientFactory = func(opts *redis.Options) *redis.Client {
	return redis.NewClient(opts)
}

func init() {
	Register()
}

func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RedisCapabilities)
}

// Build connects to the configured Redis and checks the connection.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	addr := cfg.GetRedisAddr()
	if addr == "" {
		return transport.Transport{}, fmt.Errorf("redis: address is required")
	}

	client := ClientFactory(&redis.Options{
		Addr:     addr,
		Password: cfg.GetRedisPassword(),
		DB:       cfg.GetRedisDB(),
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return transport.Transport{}, fmt.Errorf("redis: ping %s: %w", addr, err)
	}

	t := New(client, logger)
	return transport.Transport{
		Publisher:  t,
		Subscriber: t,
	}, nil
}

func Capabilities() transport.Capabilities {
	return transport.RedisCapabilities
}

// Frame is the stored form of a message.
type Frame struct {
	UUID     string            `msgpack:"uuid"`
	Metadata map[string]string `msgpack:"metadata"`
	Payload  []byte            `msgpack:"payload"`
}

// EncodeFrame serialises msg for storage.
func EncodeFrame(msg *message.Message) ([]byte, error) {
	return msgpack.Marshal(&Frame{
		UUID:     msg.UUID,
		Metadata: msg.Metadata,
		Payload:  msg.Payload,
	})
}

// DecodeFrame restores a message stored by EncodeFrame.
func DecodeFrame(data []byte) (*message.Message, error) {
	var f Frame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	msg := message.NewMessage(f.UUID, f.Payload)
	for k, v := range f.Metadata {
		msg.Metadata.Set(k, v)
	}
	return msg, nil
}

// ListKey is the Redis key holding topic.
func ListKey(topic string) string {
	return KeyPrefix + topic
}

// Transport is both publisher and subscriber. It owns the client.
type Transport struct {
	client *redis.Client
	logger watermill.LoggerAdapter

	closeOnce sync.Once
	closing   chan struct{}
	wg        sync.WaitGroup
}

var (
	_ message.Publisher           = (*Transport)(nil)
	_ message.Subscriber          = (*Transport)(nil)
	_ transport.QueueIntrospector = (*Transport)(nil)
)

func New(client *redis.Client, logger watermill.LoggerAdapter) *Transport {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Transport{
		client:  client,
		logger:  logger,
		closing: make(chan struct{}),
	}
}

func (t *Transport) isClosed() bool {
	select {
	case <-t.closing:
		return true
	default:
		return false
	}
}

func (t *Transport) Publish(topic string, messages ...*message.Message) error {
	if t.isClosed() {
		return ErrClosed
	}
	if len(messages) == 0 {
		return nil
	}

	frames := make([]any, 0, len(messages))
	for _, msg := range messages {
		data, err := EncodeFrame(msg)
		if err != nil {
			return fmt.Errorf("redis: encode %s: %w", msg.UUID, err)
		}
		frames = append(frames, data)
	}
	if err := t.client.RPush(context.Background(), ListKey(topic), frames...).Err(); err != nil {
		return fmt.Errorf("redis: push to %s: %w", topic, err)
	}
	return nil
}

func (t *Transport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if t.isClosed() {
		return nil, ErrClosed
	}

	out := make(chan *message.Message)
	ctx, cancel := context.WithCancel(ctx)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer cancel()
		defer close(out)
		t.consume(ctx, topic, out)
	}()
	go func() {
		select {
		case <-t.closing:
			cancel()
		case <-ctx.Done():
		}
	}()
	return out, nil
}

func (t *Transport) consume(ctx context.Context, topic string, out chan *message.Message) {
	key := ListKey(topic)
	for ctx.Err() == nil {
		res, err := t.client.BLPop(ctx, PopTimeout, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.logger.Error("Failed to pop message", err, watermill.LogFields{"topic": topic})
			select {
			case <-time.After(RetryDelay):
			case <-ctx.Done():
				return
			}
			continue
		}

		raw := res[1]
		msg, err := DecodeFrame([]byte(raw))
		if err != nil {
			t.logger.Error("Dropping undecodable frame", err, watermill.LogFields{"topic": topic})
			continue
		}

		requeue, stop := t.deliver(ctx, msg, out)
		if requeue {
			t.requeue(key, raw)
		}
		if stop {
			return
		}
	}
}

// deliver hands msg out and waits for the verdict. Nacked and abandoned
// messages are requeued; stop means the subscriber is shutting down.
func (t *Transport) deliver(ctx context.Context, msg *message.Message, out chan *message.Message) (requeue, stop bool) {
	select {
	case out <- msg:
	case <-ctx.Done():
		return true, true
	}

	select {
	case <-msg.Acked():
		return false, false
	case <-msg.Nacked():
		return true, false
	case <-ctx.Done():
		return true, true
	}
}

func (t *Transport) requeue(key, raw string) {
	if err := t.client.LPush(context.Background(), key, raw).Err(); err != nil {
		t.logger.Error("Failed to requeue message", err, watermill.LogFields{"key": key})
	}
}

// GetPendingCount returns the length of the topic list.
func (t *Transport) GetPendingCount(topic string) (int64, error) {
	return t.client.LLen(context.Background(), ListKey(topic)).Result()
}

// Close stops all subscribers and closes the client.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closing)
		t.wg.Wait()
		err = t.client.Close()
	})
	return err
}
