package envelope

import (
	"encoding/base64"
	"time"

	"github.com/drblury/edgeflow/internal/runtime/ids"
)

// Tracking states.
const (
	StateStarted   = "Started"
	StateCompleted = "Completed"
	StateFailed    = "Failed"
)

// TimestampLayout renders tracking timestamps in UTC with millisecond
// precision and an explicit offset.
const TimestampLayout = "2006-01-02 15:04:05.000-07:00"

var encryptedPlaceholder = base64.StdEncoding.EncodeToString([]byte("[ENCRYPTED]"))

// TrackingRecord is the audit event emitted at each activity transition.
type TrackingRecord struct {
	MessageID        string     `json:"MessageId"`
	TimeStamp        string     `json:"TimeStamp"`
	Message          string     `json:"_message"`
	ContentType      string     `json:"ContentType"`
	LastActivity     string     `json:"LastActivity"`
	NextActivity     *string    `json:"NextActivity"`
	Node             string     `json:"Node"`
	OrganizationID   string     `json:"OrganizationId"`
	InterchangeID    string     `json:"InterchangeId"`
	ItineraryID      string     `json:"ItineraryId"`
	IntegrationName  string     `json:"IntegrationName"`
	Environment      string     `json:"Environment"`
	TrackingLevel    string     `json:"TrackingLevel"`
	IntegrationID    string     `json:"IntegrationId"`
	IsFault          bool       `json:"IsFault"`
	IsEncrypted      bool       `json:"IsEncrypted"`
	FaultCode        string     `json:"FaultCode,omitempty"`
	FaultDescription string     `json:"FaultDescription,omitempty"`
	IsFirstAction    bool       `json:"IsFirstAction"`
	State            string     `json:"State"`
	Variables        []Variable `json:"Variables"`
}

// Reporter identifies the node emitting tracking records.
type Reporter struct {
	Node           string
	OrganizationID string
	UseEncryption  bool
}

// Clock is replaced in tests.
var Clock = time.Now

// Track builds a tracking record for env at activity. A Completed record
// clears the envelope's first-action flag.
func (r Reporter) Track(env *Envelope, activity, state string) TrackingRecord {
	if env.IsFirstAction && state == StateCompleted {
		env.IsFirstAction = false
	}
	rec := r.base(env, activity, state)
	rec.Variables = append([]Variable(nil), env.Variables...)
	return rec
}

// Fault builds a Failed tracking record carrying a fault code and description.
func (r Reporter) Fault(env *Envelope, activity, code, description string) TrackingRecord {
	rec := r.base(env, activity, StateFailed)
	rec.IsFault = true
	rec.FaultCode = code
	rec.FaultDescription = description
	return rec
}

func (r Reporter) base(env *Envelope, activity, state string) TrackingRecord {
	body := env.MessageBuffer
	if r.UseEncryption {
		body = encryptedPlaceholder
	}
	return TrackingRecord{
		MessageID:        ids.CreateTimeUUID(),
		TimeStamp:        Clock().UTC().Format(TimestampLayout),
		Message:          body,
		ContentType:      env.ContentType,
		LastActivity:     activity,
		Node:             r.Node,
		OrganizationID:   r.OrganizationID,
		InterchangeID:    env.InterchangeID,
		ItineraryID:      env.ItineraryID,
		IntegrationName:  env.IntegrationName,
		Environment:      env.Environment,
		TrackingLevel:    env.TrackingLevel,
		IntegrationID:    env.IntegrationID,
		IsEncrypted:      r.UseEncryption,
		FaultCode:        env.FaultCode,
		FaultDescription: env.FaultDescription,
		IsFirstAction:    env.IsFirstAction,
		State:            state,
	}
}
