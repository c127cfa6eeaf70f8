package host

import (
	"context"

	"github.com/drblury/edgeflow/internal/runtime/envelope"
	"github.com/drblury/edgeflow/internal/runtime/jsoncodec"
)

// StateReceiveAdapter turns node state pushed by the hub into a message
// {"state": "..."} for its successors.
type StateReceiveAdapter struct {
	Base
}

func NewStateReceiveAdapter() *StateReceiveAdapter {
	return &StateReceiveAdapter{}
}

func (u *StateReceiveAdapter) Init(context.Context, UnitConfig) error { return nil }
func (u *StateReceiveAdapter) Start(context.Context) error            { return nil }
func (u *StateReceiveAdapter) Stop(context.Context) error             { return nil }

// Process forwards the delivery unchanged.
func (u *StateReceiveAdapter) Process(ctx context.Context, d Delivery) error {
	u.Emit(ctx, Message{Body: d.Payload.Raw, ContentType: d.Envelope.ContentType, Source: d.Envelope})
	return nil
}

func (u *StateReceiveAdapter) ReceiveState(ctx context.Context, state string) error {
	body, err := jsoncodec.Marshal(map[string]string{"state": state})
	if err != nil {
		return err
	}
	u.Emit(ctx, Message{Body: body, ContentType: envelope.ContentTypeJSON})
	return nil
}
