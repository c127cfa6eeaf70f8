package retrystore

import (
	"context"
	"errors"
	"time"

	"github.com/drblury/edgeflow/internal/runtime/envelope"
	errspkg "github.com/drblury/edgeflow/internal/runtime/errors"
	"github.com/drblury/edgeflow/internal/runtime/logging"
)

// Dispatcher is the part of the transport contract replay hands items to.
type Dispatcher interface {
	Submit(ctx context.Context, env *envelope.Envelope, node, service string) error
	Track(ctx context.Context, rec envelope.TrackingRecord) error
}

// ReplayOptions tunes a replay pass.
type ReplayOptions struct {
	Logger  logging.ServiceLogger
	Metrics *Metrics
}

// ReplayResult summarises a replay pass.
type ReplayResult struct {
	// Dispatched items were accepted by the dispatcher.
	Dispatched int
	// Failed items were rejected by the dispatcher. They are removed anyway;
	// the dispatcher persists them again if it cannot deliver.
	Failed int
	// Corrupt items could not be decoded and were discarded.
	Corrupt int
	// Retained items could not be removed and stay for the next pass.
	Retained int
}

// Replay hands every stored item to d in enumeration order. Each item is
// removed after its dispatch attempt whatever the outcome. Corrupt items are
// removed without dispatch. Items that cannot be removed stay in the store.
func Replay(ctx context.Context, store Store, d Dispatcher, opts ReplayOptions) (ReplayResult, error) {
	log := opts.Logger
	if log == nil {
		log = logging.NopServiceLogger()
	}
	started := time.Now()
	var res ReplayResult

	keys, err := store.Keys(ctx)
	if err != nil {
		return res, err
	}
	if len(keys) > 0 {
		log.Info("Restoring persisted messages", logging.LogFields{"count": len(keys)})
	}

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		item, err := store.Load(ctx, key)
		if err != nil {
			if !errors.Is(err, errspkg.ErrCorruptItem) {
				log.Error("Unable to read persisted item", err, logging.LogFields{"key": key})
				res.Retained++
				continue
			}
			log.Error("Discarding corrupt persisted item", err, logging.LogFields{"key": key})
			if opts.Metrics != nil {
				opts.Metrics.RecordCorrupt()
			}
			if delErr := store.Delete(ctx, key); delErr != nil {
				log.Error("Unable to remove corrupt persisted item", delErr, logging.LogFields{"key": key})
				res.Retained++
				continue
			}
			res.Corrupt++
			continue
		}

		dispatchErr := dispatch(ctx, d, item)
		if opts.Metrics != nil {
			opts.Metrics.RecordReplayed(item.Kind, dispatchErr == nil)
		}
		if dispatchErr != nil {
			log.Error("Unable to dispatch persisted item", dispatchErr, logging.LogFields{"key": key, "kind": string(item.Kind)})
			res.Failed++
		} else {
			res.Dispatched++
		}

		if err := store.Delete(ctx, key); err != nil {
			log.Error("Unable to remove persisted item, it will be submitted again after the node restarts", err, logging.LogFields{"key": key})
			res.Retained++
		}
	}

	if opts.Metrics != nil {
		opts.Metrics.ObserveReplay(time.Since(started))
	}
	return res, nil
}

func dispatch(ctx context.Context, d Dispatcher, item Item) error {
	if item.Kind == KindTracking {
		return d.Track(ctx, *item.Tracking)
	}
	return d.Submit(ctx, item.Message.Message, item.Message.Node, item.Message.Service)
}
