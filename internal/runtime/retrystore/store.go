// Package retrystore keeps messages and tracking records that could not be
// handed to the transport, and replays them once the node is connected again.
package retrystore

import (
	"context"
	"fmt"
	"strings"

	"github.com/drblury/edgeflow/internal/runtime/config"
	"github.com/drblury/edgeflow/internal/runtime/envelope"
	errspkg "github.com/drblury/edgeflow/internal/runtime/errors"
	"github.com/drblury/edgeflow/internal/runtime/ids"
	"github.com/drblury/edgeflow/internal/runtime/jsoncodec"
)

// TrackingPrefix marks keys holding tracking records.
const TrackingPrefix = "_tracking_"

// Kind tells which payload an item holds.
type Kind string

const (
	KindMessage  Kind = "message"
	KindTracking Kind = "tracking"
)

// MessageItem is a message awaiting submission.
type MessageItem struct {
	Message *envelope.Envelope `json:"message"`
	Node    string             `json:"node"`
	Service string             `json:"service"`
}

// Item is one persisted entry.
type Item struct {
	Key      string
	Kind     Kind
	Message  *MessageItem
	Tracking *envelope.TrackingRecord
}

// Store is durable, key addressed storage for undelivered items.
type Store interface {
	PutMessage(ctx context.Context, env *envelope.Envelope, node, service string) (string, error)
	PutTracking(ctx context.Context, rec envelope.TrackingRecord) (string, error)
	// Keys lists every stored key in replay order.
	Keys(ctx context.Context) ([]string, error)
	// Load returns ErrCorruptItem (wrapped) when the content cannot be decoded.
	Load(ctx context.Context, key string) (Item, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open selects the backend configured for the node.
func Open(cfg *config.Config) (Store, error) {
	switch strings.ToLower(cfg.RetryStore) {
	case "", "file":
		return NewFileStore(cfg.PersistDir)
	case "sqlite":
		return NewSQLiteStore(cfg.SQLiteFile)
	default:
		return nil, fmt.Errorf("retry store: unknown backend %q", cfg.RetryStore)
	}
}

// IsTrackingKey reports whether key names a tracking record.
func IsTrackingKey(key string) bool {
	return strings.HasPrefix(key, TrackingPrefix)
}

func newMessageKey() string {
	return ids.CreateULID()
}

// newTrackingKey keys tracking records per interchange. The ULID suffix keeps
// several records of one interchange apart.
func newTrackingKey(interchangeID string) string {
	return TrackingPrefix + sanitizeKeyPart(interchangeID) + "." + ids.CreateULID()
}

var keyReplacer = strings.NewReplacer("/", "_", "\\", "_", "..", "_", ":", "_")

func sanitizeKeyPart(s string) string {
	if s == "" {
		return "unknown"
	}
	return keyReplacer.Replace(s)
}

func encodeMessage(env *envelope.Envelope, node, service string) ([]byte, error) {
	return jsoncodec.Marshal(MessageItem{Message: env, Node: node, Service: service})
}

func encodeTracking(rec envelope.TrackingRecord) ([]byte, error) {
	return jsoncodec.Marshal(rec)
}

func decodeItem(key string, kind Kind, data []byte) (Item, error) {
	item := Item{Key: key, Kind: kind}
	switch kind {
	case KindTracking:
		var rec envelope.TrackingRecord
		if err := jsoncodec.Unmarshal(data, &rec); err != nil {
			return Item{}, corrupt(key, err)
		}
		item.Tracking = &rec
	default:
		var msg MessageItem
		if err := jsoncodec.Unmarshal(data, &msg); err != nil {
			return Item{}, corrupt(key, err)
		}
		if msg.Message == nil {
			return Item{}, corrupt(key, fmt.Errorf("missing message"))
		}
		item.Message = &msg
	}
	return item, nil
}

func corrupt(key string, err error) error {
	return &errspkg.PersistenceError{Op: "load", Key: key, Err: fmt.Errorf("%w: %v", errspkg.ErrCorruptItem, err)}
}

func kindOf(key string) Kind {
	if IsTrackingKey(key) {
		return KindTracking
	}
	return KindMessage
}
