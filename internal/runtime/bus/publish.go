package bus

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/edgeflow/internal/runtime/envelope"
	"github.com/drblury/edgeflow/internal/runtime/ids"
	"github.com/drblury/edgeflow/internal/runtime/jsoncodec"
	"github.com/drblury/edgeflow/internal/runtime/metadata"
)

var (
	errPublisherRequired = errors.New("publisher is required")
	errTopicRequired     = errors.New("topic is required")
)

// NewMessage wraps payload in a watermill message carrying md.
func NewMessage(payload []byte, md metadata.Metadata) *message.Message {
	msg := message.NewMessage(ids.CreateULID(), payload)
	md.Stamp(msg)
	if msg.Metadata.Get(metadata.KeyCorrelationID) == "" {
		msg.Metadata.Set(metadata.KeyCorrelationID, msg.UUID)
	}
	return msg
}

// Publish sends payload to topic.
func Publish(ctx context.Context, publisher message.Publisher, topic string, payload []byte, md metadata.Metadata) error {
	if publisher == nil {
		return errPublisherRequired
	}
	if topic == "" {
		return errTopicRequired
	}

	msg := NewMessage(payload, md)
	if ctx != nil {
		msg.SetContext(ctx)
	}
	return publisher.Publish(topic, msg)
}

func envelopeMetadata(env *envelope.Envelope, kind metadata.Kind, node, service, sender string) metadata.Metadata {
	md := metadata.New(
		metadata.KeyKind, string(kind),
		metadata.KeyNode, node,
		metadata.KeySender, sender,
		metadata.KeyInterchangeID, env.InterchangeID,
		metadata.KeyItineraryID, env.ItineraryID,
	)
	if service != "" {
		md[metadata.KeyService] = service
	}
	if env.InterchangeID != "" {
		md[metadata.KeyCorrelationID] = env.InterchangeID
	}
	return md
}

func trackingMetadata(rec envelope.TrackingRecord) metadata.Metadata {
	md := metadata.New(
		metadata.KeyKind, string(metadata.KindTracking),
		metadata.KeyNode, rec.Node,
		metadata.KeyInterchangeID, rec.InterchangeID,
		metadata.KeyItineraryID, rec.ItineraryID,
	)
	if rec.InterchangeID != "" {
		md[metadata.KeyCorrelationID] = rec.InterchangeID
	}
	return md
}

// StateChange is the payload published on the state topic.
type StateChange struct {
	Node  string `json:"node"`
	State string `json:"state"`
}

// decodeState accepts a StateChange document, a JSON string or plain text.
func decodeState(payload []byte) string {
	var change StateChange
	if err := jsoncodec.Unmarshal(payload, &change); err == nil && change.State != "" {
		return change.State
	}
	var text string
	if err := jsoncodec.Unmarshal(payload, &text); err == nil {
		return text
	}
	return string(payload)
}
