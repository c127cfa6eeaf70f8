// Package bus is the canonical transport contract. It runs a watermill router
// over the node inbox of whichever broker the registry builds, publishes
// outbound envelopes, tracking and state, and parks everything it cannot
// publish in the retry store.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/edgeflow/internal/runtime/envelope"
	errspkg "github.com/drblury/edgeflow/internal/runtime/errors"
	"github.com/drblury/edgeflow/internal/runtime/jsoncodec"
	"github.com/drblury/edgeflow/internal/runtime/logging"
	"github.com/drblury/edgeflow/internal/runtime/metadata"
	"github.com/drblury/edgeflow/internal/runtime/retrystore"
	"github.com/drblury/edgeflow/transport"
)

// InboxHandlerName names the router handler consuming the node inbox.
const InboxHandlerName = "edgeflow_inbox"

// DefaultCloseTimeout bounds how long Stop waits for in-flight messages.
const DefaultCloseTimeout = 10 * time.Second

// Connector opens a fresh publisher/subscriber pair. The bus calls it on
// every Start because the router closes its subscriber when it stops.
type Connector func(ctx context.Context) (transport.Transport, error)

// RegistryConnector builds the broker named by cfg.GetPubSubSystem() from
// reg, or from the default registry when reg is nil.
func RegistryConnector(reg *transport.Registry, cfg transport.Config, logger watermill.LoggerAdapter) Connector {
	if reg == nil {
		reg = transport.DefaultRegistry
	}
	return func(ctx context.Context) (transport.Transport, error) {
		return reg.Build(ctx, cfg, logger)
	}
}

// Options configures a Bus. Connector and Store are required.
type Options struct {
	Connector Connector
	Store     retrystore.Store
	Logger    logging.ServiceLogger
	Settings  transport.Settings

	// Middlewares are added after the default chain.
	Middlewares               []MiddlewareRegistration
	DisableDefaultMiddlewares bool
	Retry                     RetryMiddlewareConfig
	Hooks                     JobHooks
	// MetricsRegisterer enables Prometheus router metrics.
	MetricsRegisterer prometheus.Registerer
	CloseTimeout      time.Duration
}

type connection struct {
	router    *message.Router
	transport transport.Transport
	cancel    context.CancelFunc
	done      chan struct{}
}

// Bus implements transport.Contract.
type Bus struct {
	connect      Connector
	store        retrystore.Store
	logger       logging.ServiceLogger
	metrics      prometheus.Registerer
	middlewares  []MiddlewareRegistration
	closeTimeout time.Duration

	// lifecycle serialises Start and Stop.
	lifecycle sync.Mutex
	mu        sync.RWMutex
	settings  transport.Settings
	handlers  transport.Handlers
	conn      *connection
	connected atomic.Bool
}

var _ transport.Contract = (*Bus)(nil)

func New(opts Options) (*Bus, error) {
	if opts.Connector == nil {
		return nil, errspkg.ErrTransportRequired
	}
	if opts.Store == nil {
		return nil, errspkg.ErrStoreRequired
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopServiceLogger()
	}
	closeTimeout := opts.CloseTimeout
	if closeTimeout <= 0 {
		closeTimeout = DefaultCloseTimeout
	}

	var chain []MiddlewareRegistration
	if !opts.DisableDefaultMiddlewares {
		chain = append(chain, DefaultMiddlewares(opts.Retry)...)
	}
	chain = append(chain, opts.Middlewares...)
	if !opts.Hooks.empty() {
		chain = append(chain, JobHooksMiddleware(opts.Hooks))
	}

	return &Bus{
		connect:      opts.Connector,
		store:        opts.Store,
		logger:       logger.With(logging.LogFields{"component": "bus"}),
		metrics:      opts.MetricsRegisterer,
		middlewares:  chain,
		closeTimeout: closeTimeout,
		settings:     opts.Settings,
	}, nil
}

// Connected reports whether the inbox router is running.
func (b *Bus) Connected() bool {
	return b.connected.Load()
}

// Settings returns the current settings.
func (b *Bus) Settings() transport.Settings {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.settings
}

func (b *Bus) topics() Topics {
	return TopicsFor(b.Settings().TopicPrefix)
}

func (b *Bus) currentHandlers() transport.Handlers {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.handlers
}

func (b *Bus) SetHandlers(h transport.Handlers) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = h
}

// Update replaces the settings. Outbound identity changes at once; the inbox
// topic follows on the next Start.
func (b *Bus) Update(_ context.Context, settings transport.Settings) error {
	if settings.NodeName == "" {
		return errspkg.ErrNodeNameRequired
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.settings = settings
	return nil
}

// Start connects, subscribes the node inbox and calls onReady once the router
// runs. Starting a running bus only calls onReady.
func (b *Bus) Start(ctx context.Context, onReady func()) error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	if b.Connected() {
		if onReady != nil {
			onReady()
		}
		return nil
	}
	settings := b.Settings()
	if settings.NodeName == "" {
		return errspkg.ErrNodeNameRequired
	}

	tr, err := b.connect(ctx)
	if err != nil {
		return &errspkg.TransportError{Op: "connect", Err: err}
	}

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: b.closeTimeout}, logging.NewWatermillAdapter(b.logger))
	if err != nil {
		_ = tr.Close()
		return &errspkg.TransportError{Op: "start", Err: err}
	}
	for _, reg := range b.middlewares {
		if err := b.registerMiddleware(router, reg); err != nil {
			_ = tr.Close()
			return &errspkg.TransportError{Op: "start", Err: err}
		}
	}

	inbox := TopicsFor(settings.TopicPrefix).Node(settings.NodeName)
	router.AddConsumerHandler(InboxHandlerName, inbox, tr.Subscriber, b.handleInbound)

	runCtx, cancel := context.WithCancel(context.Background())
	conn := &connection{router: router, transport: tr, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(conn.done)
		if err := router.Run(runCtx); err != nil {
			b.logger.Error("Inbox router stopped", err, nil)
		}
	}()

	select {
	case <-router.Running():
	case <-conn.done:
		cancel()
		_ = tr.Close()
		return &errspkg.TransportError{Op: "start", Err: errors.New("router stopped before running")}
	case <-ctx.Done():
		cancel()
		_ = router.Close()
		_ = tr.Close()
		return ctx.Err()
	}

	if starter, ok := tr.Subscriber.(transport.ServerStarter); ok {
		go func() {
			if err := starter.StartHTTPServer(); err != nil {
				b.logger.Error("Inbound HTTP server stopped", err, nil)
			}
		}()
	}

	b.mu.Lock()
	b.conn = conn
	b.connected.Store(true)
	b.mu.Unlock()
	b.logger.Info("Bus connected", logging.LogFields{"inbox": inbox})
	if onReady != nil {
		onReady()
	}
	return nil
}

// Stop closes the router and the broker. Submits after Stop go to the retry
// store.
func (b *Bus) Stop(ctx context.Context) error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.connected.Store(false)
	b.mu.Unlock()

	if conn == nil {
		return nil
	}

	routerErr := conn.router.Close()
	conn.cancel()
	select {
	case <-conn.done:
	case <-ctx.Done():
	}
	closeErr := conn.transport.Close()
	b.logger.Info("Bus disconnected", nil)
	return errors.Join(routerErr, closeErr)
}

func (b *Bus) publisher() message.Publisher {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.conn == nil {
		return nil
	}
	return b.conn.transport.Publisher
}

// Submit publishes env to the inbox of node for service.
func (b *Bus) Submit(ctx context.Context, env *envelope.Envelope, node, service string) error {
	if env == nil {
		return errors.New("bus: envelope is required")
	}
	payload, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("bus: encode envelope: %w", err)
	}
	settings := b.Settings()
	md := envelopeMetadata(env, metadata.KindMessage, node, service, settings.NodeName)
	topic := TopicsFor(settings.TopicPrefix).Node(node)

	if err := b.publish(ctx, topic, payload, md); err != nil {
		if _, perr := b.store.PutMessage(ctx, env, node, service); perr != nil {
			return perr
		}
		b.reportPublishFailure("submit", err, logging.LogFields{"node": node, "service": service, "interchange_id": env.InterchangeID})
	}
	return nil
}

// Track publishes rec on the tracking topic.
func (b *Bus) Track(ctx context.Context, rec envelope.TrackingRecord) error {
	payload, err := jsoncodec.Marshal(rec)
	if err != nil {
		return fmt.Errorf("bus: encode tracking record: %w", err)
	}

	if err := b.publish(ctx, b.topics().Tracking(), payload, trackingMetadata(rec)); err != nil {
		if _, perr := b.store.PutTracking(ctx, rec); perr != nil {
			return perr
		}
		b.reportPublishFailure("track", err, logging.LogFields{"interchange_id": rec.InterchangeID, "state": rec.State})
	}
	return nil
}

// ChangeState announces the state of node. It is not persisted: a state
// change while disconnected returns ErrNotConnected.
func (b *Bus) ChangeState(ctx context.Context, state, node string) error {
	payload, err := jsoncodec.Marshal(StateChange{Node: node, State: state})
	if err != nil {
		return err
	}
	md := metadata.New(metadata.KeyKind, string(metadata.KindState), metadata.KeyNode, node)
	if err := b.publish(ctx, b.topics().State(), payload, md); err != nil {
		return &errspkg.TransportError{Op: "change state", Err: err}
	}
	return nil
}

func (b *Bus) publish(ctx context.Context, topic string, payload []byte, md metadata.Metadata) error {
	pub := b.publisher()
	if pub == nil {
		return errspkg.ErrNotConnected
	}
	return Publish(ctx, pub, topic, payload, md)
}

// reportPublishFailure is called after the item was persisted. Being
// disconnected is expected and only logged.
func (b *Bus) reportPublishFailure(op string, err error, fields logging.LogFields) {
	if errors.Is(err, errspkg.ErrNotConnected) {
		b.logger.Debug("Not connected, item persisted", fields)
		return
	}
	b.logger.Error("Publish failed, item persisted", err, fields)
	b.currentHandlers().SubmitError(&errspkg.TransportError{Op: op, Err: err})
}

func (b *Bus) handleInbound(msg *message.Message) error {
	md := metadata.Of(msg)
	h := b.currentHandlers()
	ctx := msg.Context()

	if b.Settings().Debug {
		h.Debug(fmt.Sprintf("Received %s %s", md.Kind(), msg.UUID))
	}

	switch md.Kind() {
	case metadata.KindState:
		h.StateReceived(ctx, decodeState(msg.Payload))
		return nil
	case metadata.KindAction:
		action, err := transport.ParseAction(msg.Payload)
		if err != nil {
			h.QueueError(&errspkg.TransportError{Op: "receive action", Err: err})
			return nil
		}
		h.Action(ctx, action)
		return nil
	case metadata.KindMessage:
		env, err := envelope.Unmarshal(msg.Payload)
		if err != nil {
			h.QueueError(&errspkg.TransportError{Op: "receive message", Err: err})
			return nil
		}
		return h.MessageReceived(ctx, transport.NewInboundMessage(env, md.Service()))
	default:
		b.logger.Debug("Ignoring inbound message of unknown kind", logging.LogFields{"kind": md.Kind(), "message_uuid": msg.UUID})
		return nil
	}
}
