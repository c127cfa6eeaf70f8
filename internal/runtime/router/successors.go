package router

import (
	"context"
	"fmt"

	"github.com/drblury/edgeflow/internal/runtime/envelope"
	errspkg "github.com/drblury/edgeflow/internal/runtime/errors"
	"github.com/drblury/edgeflow/internal/runtime/itinerary"
	"github.com/drblury/edgeflow/internal/runtime/logging"
)

// Successor is an eligible next activity with its configured host
// assignment.
type Successor struct {
	Activity *itinerary.Activity
	Host     string
}

type hopsKey struct{}

// Hops returns how many dispatches the message behind ctx went through on
// this node.
func Hops(ctx context.Context) int {
	n, _ := ctx.Value(hopsKey{}).(int)
	return n
}

func enterHop(ctx context.Context, limit int) (context.Context, error) {
	n := Hops(ctx) + 1
	if n > limit {
		return ctx, fmt.Errorf("%w: %d", errspkg.ErrHopLimitExceeded, limit)
	}
	return context.WithValue(ctx, hopsKey{}, n), nil
}

// Successors returns the activities env should go to next: targets of the
// edges leaving env.LastActivity whose routing expression accepts the
// payload. A failing expression aborts the whole resolution.
func (r *Router) Successors(ctx context.Context, env *envelope.Envelope, payload envelope.Payload) ([]Successor, error) {
	return r.successors(ctx, nil, env, payload)
}

func (r *Router) successors(ctx context.Context, it *itinerary.Itinerary, env *envelope.Envelope, payload envelope.Payload) ([]Successor, error) {
	if it == nil || it.ItineraryID != env.ItineraryID {
		var ok bool
		if it, ok = r.itinerary(env); !ok {
			return nil, errspkg.ErrItineraryNotFound
		}
	}
	targets, err := it.Targets(env.LastActivity)
	if err != nil {
		return nil, fmt.Errorf("successors of %s: %w", env.LastActivity, err)
	}

	var message any
	if env.IsJSON() {
		message = payload.Value
	}

	out := make([]Successor, 0, len(targets))
	for _, target := range targets {
		hostAssignment, err := target.Host()
		if err != nil {
			r.logger.Error("Skipping successor without host", err, logging.LogFields{"service": target.UserData.ID})
			continue
		}
		expr := target.RoutingExpression()
		eligible, err := r.evaluator.Eligible(ctx, expr, message, env.Variables)
		if err != nil {
			return nil, &errspkg.RoutingExpressionError{Activity: target.UserData.ID, Expression: expr, Err: err}
		}
		if eligible {
			out = append(out, Successor{Activity: target, Host: hostAssignment})
		}
	}
	return out, nil
}
