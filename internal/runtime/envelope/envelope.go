// Package envelope holds the message envelope routed between activities and
// the tracking records reported to the hub.
package envelope

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/drblury/edgeflow/internal/runtime/ids"
	"github.com/drblury/edgeflow/internal/runtime/itinerary"
	"github.com/drblury/edgeflow/internal/runtime/jsoncodec"
)

// ContentTypeJSON is the only content type whose body is parsed before it is
// handed to a unit.
const ContentTypeJSON = "application/json"

// Variable types.
const (
	VariableString   = "String"
	VariableNumber   = "Number"
	VariableDateTime = "DateTime"
	VariableDecimal  = "Decimal"
	VariableMessage  = "Message"
)

// Variable is a typed value travelling with the envelope.
type Variable struct {
	Variable string `json:"Variable"`
	Type     string `json:"Type"`
	Value    any    `json:"Value"`
}

// Envelope is the unit routed through an itinerary. The body is kept as
// base64 text; raw bytes only exist while a unit processes the message.
type Envelope struct {
	InterchangeID    string     `json:"InterchangeId"`
	ItineraryID      string     `json:"ItineraryId"`
	IntegrationID    string     `json:"IntegrationId,omitempty"`
	IntegrationName  string     `json:"IntegrationName,omitempty"`
	Environment      string     `json:"Environment,omitempty"`
	TrackingLevel    string     `json:"TrackingLevel,omitempty"`
	LastActivity     string     `json:"LastActivity"`
	ContentType      string     `json:"ContentType"`
	MessageBuffer    string     `json:"_messageBuffer"`
	IsFirstAction    bool       `json:"IsFirstAction"`
	Encrypted        bool       `json:"Encrypted"`
	Variables        []Variable `json:"Variables,omitempty"`
	Sender           string     `json:"Sender,omitempty"`
	FaultCode        string     `json:"FaultCode,omitempty"`
	FaultDescription string     `json:"FaultDescription,omitempty"`
	IsDynamicRoute   bool       `json:"isDynamicRoute,omitempty"`
	// Itinerary travels with dynamically routed envelopes so the receiving
	// node can provision the target activity.
	Itinerary *itinerary.Itinerary `json:"Itinerary,omitempty"`
}

// Origin describes the activity that produces a new envelope.
type Origin struct {
	ItineraryID     string
	IntegrationID   string
	IntegrationName string
	Environment     string
	TrackingLevel   string
	Activity        string
}

// New creates a first-action envelope produced by origin.
func New(origin Origin, contentType string, body []byte) *Envelope {
	if contentType == "" {
		contentType = ContentTypeJSON
	}
	env := &Envelope{
		InterchangeID:   ids.CreateULID(),
		ItineraryID:     origin.ItineraryID,
		IntegrationID:   origin.IntegrationID,
		IntegrationName: origin.IntegrationName,
		Environment:     origin.Environment,
		TrackingLevel:   origin.TrackingLevel,
		LastActivity:    origin.Activity,
		ContentType:     contentType,
		IsFirstAction:   true,
	}
	env.SetBody(body)
	return env
}

// Body decodes the base64 buffer.
func (e *Envelope) Body() ([]byte, error) {
	if e.MessageBuffer == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(e.MessageBuffer)
	if err != nil {
		return nil, fmt.Errorf("decode message buffer: %w", err)
	}
	return raw, nil
}

// SetBody stores raw bytes as base64 text.
func (e *Envelope) SetBody(raw []byte) {
	e.MessageBuffer = base64.StdEncoding.EncodeToString(raw)
}

// IsFault reports whether a unit marked the envelope as failed.
func (e *Envelope) IsFault() bool {
	return e.FaultCode != "" || e.FaultDescription != ""
}

// IsJSON reports whether the body should be parsed as JSON.
func (e *Envelope) IsJSON() bool {
	return strings.EqualFold(strings.TrimSpace(e.ContentType), ContentTypeJSON)
}

// Variable returns the variable with the given name.
func (e *Envelope) Variable(name string) (Variable, bool) {
	for _, v := range e.Variables {
		if v.Variable == name {
			return v, true
		}
	}
	return Variable{}, false
}

// SetVariable adds or replaces a variable.
func (e *Envelope) SetVariable(name, typ string, value any) {
	for i := range e.Variables {
		if e.Variables[i].Variable == name {
			e.Variables[i].Type = typ
			e.Variables[i].Value = value
			return
		}
	}
	e.Variables = append(e.Variables, Variable{Variable: name, Type: typ, Value: value})
}

// Clone returns a copy that can be changed per successor without affecting
// the original. The itinerary pointer is shared.
func (e *Envelope) Clone() *Envelope {
	cp := *e
	if e.Variables != nil {
		cp.Variables = append([]Variable(nil), e.Variables...)
	}
	return &cp
}

// Marshal encodes the envelope for the wire.
func (e *Envelope) Marshal() ([]byte, error) {
	return jsoncodec.Marshal(e)
}

// Unmarshal decodes an envelope from the wire.
func Unmarshal(data []byte) (*Envelope, error) {
	env := &Envelope{}
	if err := jsoncodec.Unmarshal(data, env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}
