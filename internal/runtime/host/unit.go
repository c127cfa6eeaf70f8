package host

import (
	"context"
	"net/http"
	"sync"

	"github.com/drblury/edgeflow/internal/runtime/envelope"
	"github.com/drblury/edgeflow/internal/runtime/itinerary"
	"github.com/drblury/edgeflow/internal/runtime/logging"
)

// Unit is the executable behind an activity. The host calls Init once,
// Start when the node goes active, Process for every delivered message and
// Stop on shutdown or reload. Subscribe is called before Init.
type Unit interface {
	Init(ctx context.Context, cfg UnitConfig) error
	Process(ctx context.Context, d Delivery) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Subscribe(ev Events)
}

// AddressResolver lets a unit pick the destination nodes of its output. host
// is the configured host assignment of the successor.
type AddressResolver interface {
	ResolveAddress(ctx context.Context, host string, env *envelope.Envelope, payload []byte) (string, error)
}

// StateReceiver is implemented by units that accept node state pushed by the
// hub.
type StateReceiver interface {
	ReceiveState(ctx context.Context, state string) error
}

// Routes is where inbound REST units register their endpoints. chi.Router
// satisfies it.
type Routes interface {
	Method(method, pattern string, h http.Handler)
}

// UnitConfig is handed to Init.
type UnitConfig struct {
	Name           string
	ItineraryID    string
	OrganizationID string
	NodeName       string
	Activity       itinerary.Activity
	// Static is the flattened staticConfig of the activity.
	Static map[string]any
	Logger logging.ServiceLogger
	// Routes is nil when the node runs without a REST listener.
	Routes Routes
}

// Delivery is one message handed to Process.
type Delivery struct {
	Envelope *envelope.Envelope
	// Payload is the decrypted body; Value holds parsed JSON for
	// application/json bodies.
	Payload envelope.Payload
}

// Message is unit output. The host turns it into an envelope produced by the
// unit's activity.
type Message struct {
	Body        []byte
	ContentType string
	Variables   []envelope.Variable
	// Source is the envelope being processed; nil when the unit originates
	// the message.
	Source           *envelope.Envelope
	FaultCode        string
	FaultDescription string
}

// Events are the host callbacks a unit raises.
type Events struct {
	OnMessageReceived func(ctx context.Context, msg Message)
	OnReceivedState   func(ctx context.Context, state string)
	OnError           func(err error)
	OnDebug           func(text string)
}

// Base implements Subscribe and the emit helpers. Embed it in units.
type Base struct {
	mu     sync.RWMutex
	events Events
}

func (b *Base) Subscribe(ev Events) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = ev
}

func (b *Base) current() Events {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.events
}

// Emit hands msg to the router.
func (b *Base) Emit(ctx context.Context, msg Message) {
	if fn := b.current().OnMessageReceived; fn != nil {
		fn(ctx, msg)
	}
}

// EmitState asks the node to announce state.
func (b *Base) EmitState(ctx context.Context, state string) {
	if fn := b.current().OnReceivedState; fn != nil {
		fn(ctx, state)
	}
}

func (b *Base) EmitError(err error) {
	if fn := b.current().OnError; fn != nil && err != nil {
		fn(err)
	}
}

func (b *Base) EmitDebug(text string) {
	if fn := b.current().OnDebug; fn != nil {
		fn(text)
	}
}
