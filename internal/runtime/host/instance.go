package host

import (
	"context"
	"sync/atomic"

	"github.com/drblury/edgeflow/internal/runtime/envelope"
	"github.com/drblury/edgeflow/internal/runtime/itinerary"
)

// Instance is a running unit bound to one activity of one itinerary.
type Instance struct {
	// Name is the activity id.
	Name            string
	OrganizationID  string
	ItineraryID     string
	IntegrationID   string
	IntegrationName string
	Environment     string
	TrackingLevel   string
	BaseType        string
	UseEncryption   bool
	Activity        itinerary.Activity
	Itinerary       *itinerary.Itinerary
	Unit            Unit
	// Script is the unit source location, empty for compiled units.
	Script  string
	started atomic.Bool
}

func newInstance(act itinerary.Activity, it *itinerary.Itinerary, orgID string, useEncryption bool) *Instance {
	return &Instance{
		Name:            act.UserData.ID,
		OrganizationID:  orgID,
		ItineraryID:     it.ItineraryID,
		IntegrationID:   act.UserData.IntegrationID,
		IntegrationName: it.IntegrationName,
		Environment:     it.Environment,
		TrackingLevel:   it.TrackingLevel,
		BaseType:        act.UserData.BaseType,
		UseEncryption:   useEncryption,
		Activity:        act,
		Itinerary:       it,
	}
}

// Started reports whether Start succeeded and Stop has not run since.
func (i *Instance) Started() bool {
	return i.started.Load()
}

func (i *Instance) Start(ctx context.Context) error {
	if i.started.Load() {
		return nil
	}
	if err := i.Unit.Start(ctx); err != nil {
		return err
	}
	i.started.Store(true)
	return nil
}

func (i *Instance) Stop(ctx context.Context) error {
	i.started.Store(false)
	return i.Unit.Stop(ctx)
}

func (i *Instance) origin() envelope.Origin {
	return envelope.Origin{
		ItineraryID:     i.ItineraryID,
		IntegrationID:   i.IntegrationID,
		IntegrationName: i.IntegrationName,
		Environment:     i.Environment,
		TrackingLevel:   i.TrackingLevel,
		Activity:        i.Name,
	}
}

// Envelope turns unit output into the envelope produced by this instance.
// Output derived from a source envelope keeps its interchange id and
// variables; originated output starts a new interchange.
func (i *Instance) Envelope(msg Message) *envelope.Envelope {
	contentType := msg.ContentType
	var env *envelope.Envelope
	if msg.Source == nil {
		env = envelope.New(i.origin(), contentType, msg.Body)
	} else {
		env = msg.Source.Clone()
		if contentType != "" {
			env.ContentType = contentType
		}
		env.SetBody(msg.Body)
		env.Encrypted = false
		env.IsDynamicRoute = false
		env.Itinerary = nil
		env.Sender = ""
	}
	env.LastActivity = i.Name
	for _, v := range msg.Variables {
		env.SetVariable(v.Variable, v.Type, v.Value)
	}
	if msg.FaultCode != "" || msg.FaultDescription != "" {
		env.FaultCode = msg.FaultCode
		env.FaultDescription = msg.FaultDescription
	}
	return env
}
