package bus

import (
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	errspkg "github.com/drblury/edgeflow/internal/runtime/errors"
	"github.com/drblury/edgeflow/internal/runtime/ids"
	"github.com/drblury/edgeflow/internal/runtime/logging"
	"github.com/drblury/edgeflow/internal/runtime/metadata"
)

// MetricsNamespace prefixes the Prometheus router metrics.
const MetricsNamespace = "edgeflow"

// MiddlewareBuilder constructs a handler middleware for the router of one
// connection. Returning a nil middleware skips the registration.
type MiddlewareBuilder func(b *Bus, r *message.Router) (message.HandlerMiddleware, error)

// MiddlewareRegistration captures how a middleware is added to the inbox router.
type MiddlewareRegistration struct {
	Name       string
	Middleware message.HandlerMiddleware
	Builder    MiddlewareBuilder
}

// RetryMiddlewareConfig customises the retry middleware behaviour.
type RetryMiddlewareConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	RetryIf         func(error) bool
}

func (cfg RetryMiddlewareConfig) withDefaults() RetryMiddlewareConfig {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = time.Second
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 16 * time.Second
	}
	return cfg
}

// DefaultMiddlewares returns the chain every inbox router gets, outermost
// first.
func DefaultMiddlewares(retry RetryMiddlewareConfig) []MiddlewareRegistration {
	return []MiddlewareRegistration{
		QueueErrorMiddleware(),
		CorrelationIDMiddleware(),
		LogMessagesMiddleware(nil),
		TracerMiddleware(),
		MetricsMiddleware(),
		RetryMiddleware(retry),
		RecovererMiddleware(),
	}
}

// QueueErrorMiddleware reports failures that survived the retries through
// the OnQueueError callback and acknowledges the message. ErrNodeInactive is
// nacked instead so the broker keeps the message.
func QueueErrorMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "queue_error",
		Builder: func(b *Bus, _ *message.Router) (message.HandlerMiddleware, error) {
			return b.queueErrorMiddleware(), nil
		},
	}
}

// CorrelationIDMiddleware ensures each processed message carries a correlation identifier.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "correlation_id",
		Middleware: correlationIDMiddleware,
	}
}

// LogMessagesMiddleware logs the metadata of handled messages. The bus
// logger is used when logger is nil.
func LogMessagesMiddleware(logger logging.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_messages",
		Builder: func(b *Bus, _ *message.Router) (message.HandlerMiddleware, error) {
			l := logger
			if l == nil {
				l = b.logger
			}
			if l == nil {
				return nil, errors.New("log messages middleware requires a logger")
			}
			return logMessagesMiddleware(l), nil
		},
	}
}

// TracerMiddleware wraps handler execution in an OpenTelemetry span.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "tracer",
		Middleware: tracerMiddleware,
	}
}

// MetricsMiddleware adds Prometheus router metrics when the bus has a
// registerer.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(b *Bus, r *message.Router) (message.HandlerMiddleware, error) {
			if b.metrics == nil {
				return nil, nil
			}
			builder := metrics.NewPrometheusMetricsBuilder(b.metrics, MetricsNamespace, "bus")
			r.AddPublisherDecorators(builder.DecoratePublisher)
			r.AddSubscriberDecorators(builder.DecorateSubscriber)
			return builder.NewRouterMiddleware().Middleware, nil
		},
	}
}

// JobHooksMiddleware invokes hooks around every inbound message.
func JobHooksMiddleware(hooks JobHooks) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "job_hooks",
		Middleware: jobHooksMiddleware(hooks),
	}
}

// RetryMiddleware retries handler execution using the provided configuration (defaults applied to zero values).
func RetryMiddleware(cfg RetryMiddlewareConfig) MiddlewareRegistration {
	normalized := cfg.withDefaults()
	return MiddlewareRegistration{
		Name: "retry",
		Middleware: middleware.Retry{
			MaxRetries:      normalized.MaxRetries,
			InitialInterval: normalized.InitialInterval,
			MaxInterval:     normalized.MaxInterval,
			ShouldRetry: func(params middleware.RetryParams) bool {
				if normalized.RetryIf != nil {
					return normalized.RetryIf(params.Err)
				}
				return true
			},
		}.Middleware,
	}
}

// RecovererMiddleware converts panics in callbacks into handler errors.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "recoverer",
		Middleware: middleware.Recoverer,
	}
}

func (b *Bus) registerMiddleware(r *message.Router, reg MiddlewareRegistration) error {
	var mw message.HandlerMiddleware
	switch {
	case reg.Middleware != nil:
		mw = reg.Middleware
	case reg.Builder != nil:
		var err error
		mw, err = reg.Builder(b, r)
		if err != nil {
			return fmt.Errorf("middleware %s: %w", reg.Name, err)
		}
	default:
		return fmt.Errorf("middleware %s: registration requires Middleware or Builder", reg.Name)
	}

	if mw == nil {
		return nil
	}
	r.AddMiddleware(mw)
	return nil
}

func (b *Bus) queueErrorMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			msgs, err := h(msg)
			if err == nil {
				return msgs, nil
			}
			if errors.Is(err, errspkg.ErrNodeInactive) {
				b.logger.Debug("Node not accepting, returning message to the broker", logging.LogFields{"message_uuid": msg.UUID})
				return nil, err
			}
			b.logger.Error("Giving up on inbound message", err, logging.LogFields{
				"message_uuid":   msg.UUID,
				"interchange_id": msg.Metadata.Get(metadata.KeyInterchangeID),
			})
			var terr *errspkg.TransportError
			if !errors.As(err, &terr) {
				err = &errspkg.TransportError{Op: "receive", Err: err}
			}
			b.currentHandlers().QueueError(err)
			return nil, nil
		}
	}
}

func correlationIDMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		if msg.Metadata.Get(metadata.KeyCorrelationID) == "" {
			msg.Metadata.Set(metadata.KeyCorrelationID, ids.CreateULID())
		}
		return h(msg)
	}
}

func logMessagesMiddleware(logger logging.ServiceLogger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			logger.Debug("Processing message", logging.LogFields{
				"message_uuid": msg.UUID,
				"size":         len(msg.Payload),
				"metadata":     msg.Metadata,
			})
			return h(msg)
		}
	}
}

func tracerMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		ctx, span := otel.Tracer("edgeflow-bus").Start(msg.Context(), "ProcessMessage")
		defer span.End()
		msg.SetContext(ctx)

		span.SetAttributes(
			attribute.String("message.uuid", msg.UUID),
			attribute.String("edgeflow.kind", msg.Metadata.Get(metadata.KeyKind)),
			attribute.String("edgeflow.service", msg.Metadata.Get(metadata.KeyService)),
			attribute.String("edgeflow.interchange_id", msg.Metadata.Get(metadata.KeyInterchangeID)),
		)
		msgs, err := h(msg)
		if err != nil {
			span.RecordError(err)
		}
		return msgs, err
	}
}
