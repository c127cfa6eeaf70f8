package bus

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/edgeflow/internal/runtime/logging"
	"github.com/drblury/edgeflow/internal/runtime/metadata"
)

// JobContext describes one inbound message to hooks.
type JobContext struct {
	HandlerName string
	Topic       string
	MessageUUID string
	Kind        metadata.Kind
	Service     string
	Metadata    message.Metadata
	Context     context.Context
	StartedAt   time.Time
	// Duration is only set in OnJobDone and OnJobError.
	Duration time.Duration
}

// JobHooks are optional callbacks around inbound handling.
type JobHooks struct {
	OnJobStart func(ctx JobContext)
	OnJobDone  func(ctx JobContext)
	OnJobError func(ctx JobContext, err error)
}

// Merge combines two JobHooks. The hooks from other run after those of h.
func (h JobHooks) Merge(other JobHooks) JobHooks {
	return JobHooks{
		OnJobStart: chainHooks(h.OnJobStart, other.OnJobStart),
		OnJobDone:  chainHooks(h.OnJobDone, other.OnJobDone),
		OnJobError: chainErrorHooks(h.OnJobError, other.OnJobError),
	}
}

func (h JobHooks) empty() bool {
	return h.OnJobStart == nil && h.OnJobDone == nil && h.OnJobError == nil
}

func chainHooks(a, b func(JobContext)) func(JobContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(JobContext, error)) func(JobContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

func jobHooksMiddleware(hooks JobHooks) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			md := metadata.Of(msg)
			jobCtx := JobContext{
				HandlerName: message.HandlerNameFromCtx(msg.Context()),
				Topic:       message.SubscribeTopicFromCtx(msg.Context()),
				MessageUUID: msg.UUID,
				Kind:        md.Kind(),
				Service:     md.Service(),
				Metadata:    msg.Metadata,
				Context:     msg.Context(),
				StartedAt:   time.Now(),
			}

			if hooks.OnJobStart != nil {
				hooks.OnJobStart(jobCtx)
			}

			msgs, err := h(msg)
			jobCtx.Duration = time.Since(jobCtx.StartedAt)

			if err != nil {
				if hooks.OnJobError != nil {
					hooks.OnJobError(jobCtx, err)
				}
			} else if hooks.OnJobDone != nil {
				hooks.OnJobDone(jobCtx)
			}
			return msgs, err
		}
	}
}

// LoggingHooks logs inbound message lifecycle events at debug level.
func LoggingHooks(logger logging.ServiceLogger) JobHooks {
	fields := func(ctx JobContext) logging.LogFields {
		return logging.LogFields{
			"topic":        ctx.Topic,
			"kind":         ctx.Kind,
			"service":      ctx.Service,
			"message_uuid": ctx.MessageUUID,
		}
	}
	return JobHooks{
		OnJobStart: func(ctx JobContext) {
			logger.Debug("Inbound message started", fields(ctx))
		},
		OnJobDone: func(ctx JobContext) {
			f := fields(ctx)
			f["duration_ms"] = ctx.Duration.Milliseconds()
			logger.Debug("Inbound message handled", f)
		},
		OnJobError: func(ctx JobContext, err error) {
			f := fields(ctx)
			f["duration_ms"] = ctx.Duration.Milliseconds()
			logger.Error("Inbound message failed", err, f)
		},
	}
}
