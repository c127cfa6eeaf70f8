package transport

import (
	"context"
	"fmt"

	"github.com/drblury/edgeflow/internal/runtime/envelope"
	"github.com/drblury/edgeflow/internal/runtime/jsoncodec"
)

// Contract is the node's connection to the hub. Submit and Track never lose
// data: while disconnected, or when a publish fails, the item goes to the
// retry store instead and the call still succeeds.
type Contract interface {
	Start(ctx context.Context, onReady func()) error
	Stop(ctx context.Context) error
	Submit(ctx context.Context, env *envelope.Envelope, node, service string) error
	Track(ctx context.Context, rec envelope.TrackingRecord) error
	ChangeState(ctx context.Context, state, node string) error
	Update(ctx context.Context, settings Settings) error
	SetHandlers(h Handlers)
}

// Settings is the part of the node configuration a contract depends on.
type Settings struct {
	NodeName       string
	OrganizationID string
	Debug          bool
	// TopicPrefix namespaces every topic the contract uses.
	TopicPrefix string
}

// Handlers are the inbound callbacks the engine registers. Nil handlers are
// skipped.
type Handlers struct {
	OnMessageReceived func(ctx context.Context, msg InboundMessage) error
	OnStateReceived   func(ctx context.Context, state string)
	OnQueueError      func(err error)
	OnSubmitError     func(err error)
	OnDebug           func(text string)
	OnAction          func(ctx context.Context, action Action)
}

func (h Handlers) MessageReceived(ctx context.Context, msg InboundMessage) error {
	if h.OnMessageReceived == nil {
		return nil
	}
	return h.OnMessageReceived(ctx, msg)
}

func (h Handlers) StateReceived(ctx context.Context, state string) {
	if h.OnStateReceived != nil {
		h.OnStateReceived(ctx, state)
	}
}

func (h Handlers) QueueError(err error) {
	if h.OnQueueError != nil {
		h.OnQueueError(err)
	}
}

func (h Handlers) SubmitError(err error) {
	if h.OnSubmitError != nil {
		h.OnSubmitError(err)
	}
}

func (h Handlers) Debug(text string) {
	if h.OnDebug != nil {
		h.OnDebug(text)
	}
}

func (h Handlers) Action(ctx context.Context, action Action) {
	if h.OnAction != nil {
		h.OnAction(ctx, action)
	}
}

// InboundMessage is the normalised shape of a message delivered to this node.
type InboundMessage struct {
	Body                  *envelope.Envelope    `json:"body"`
	ApplicationProperties ApplicationProperties `json:"applicationProperties"`
}

type ApplicationProperties struct {
	Value PropertyValue `json:"value"`
}

type PropertyValue struct {
	Service string `json:"service"`
}

// NewInboundMessage wraps an envelope addressed to service.
func NewInboundMessage(env *envelope.Envelope, service string) InboundMessage {
	return InboundMessage{
		Body:                  env,
		ApplicationProperties: ApplicationProperties{Value: PropertyValue{Service: service}},
	}
}

// Service returns the destination service id.
func (m InboundMessage) Service() string {
	return m.ApplicationProperties.Value.Service
}

// Action is a command pushed by the hub, such as a restart or a log upload
// request. Name is the "action" field; Fields holds the whole document.
type Action struct {
	Name   string
	Fields map[string]any
}

// ParseAction decodes an action document.
func ParseAction(data []byte) (Action, error) {
	fields := map[string]any{}
	if err := jsoncodec.Unmarshal(data, &fields); err != nil {
		return Action{}, fmt.Errorf("decode action: %w", err)
	}
	name, _ := fields["action"].(string)
	if name == "" {
		return Action{}, fmt.Errorf("decode action: missing action name")
	}
	return Action{Name: name, Fields: fields}, nil
}
