// Package itinerary models hub-authored flow graphs: activities bound to
// executable units and the connections between them.
package itinerary

import (
	"fmt"
	"strings"

	errspkg "github.com/drblury/edgeflow/internal/runtime/errors"
	"github.com/drblury/edgeflow/internal/runtime/jsoncodec"
)

// Connection types drawn by the hub designer. Activities of these types are
// edges, never services.
const (
	ConnectionType      = "draw2d.Connection"
	LabelConnectionType = "LabelConnection"
)

// Well known config keys and base types.
const (
	KeyHost              = "host"
	KeyEnabled           = "enabled"
	KeyRoutingExpression = "routingExpression"

	BaseTypeOneWayReceive = "onewayreceiveadapter"
	BaseTypeTwoWayReceive = "twowayreceiveadapter"
	BaseTypeStateReceive  = "statereceiveadapter"
)

// Itinerary is one flow graph.
type Itinerary struct {
	ItineraryID     string       `json:"itineraryId"`
	IntegrationName string       `json:"integrationName"`
	Environment     string       `json:"environment"`
	TrackingLevel   string       `json:"trackingLevel"`
	Activities      []Activity   `json:"activities"`
	Connections     []Connection `json:"connections,omitempty"`
}

// Activity is a node in the graph. ID is the graph id referenced by
// connections; UserData.ID is the stable activity id used for routing.
type Activity struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	UserData UserData  `json:"userData"`
	Source   *Endpoint `json:"source,omitempty"`
	Target   *Endpoint `json:"target,omitempty"`
}

// UserData carries the activity's unit binding and configuration.
type UserData struct {
	ID            string          `json:"id"`
	BaseType      string          `json:"baseType"`
	Type          string          `json:"type"`
	IntegrationID string          `json:"integrationId,omitempty"`
	IsCustom      bool            `json:"isCustom,omitempty"`
	IsInboundREST bool            `json:"isInboundREST,omitempty"`
	Config        *ActivityConfig `json:"config,omitempty"`
}

// ActivityConfig holds the general (placement) and static (unit) settings.
type ActivityConfig struct {
	GeneralConfig []Setting `json:"generalConfig"`
	StaticConfig  []Setting `json:"staticConfig"`
}

// Setting is one {id, value} entry.
type Setting struct {
	ID    string `json:"id"`
	Value any    `json:"value"`
}

// Connection is a directed edge between two activities.
type Connection struct {
	Type   string   `json:"type"`
	Source Endpoint `json:"source"`
	Target Endpoint `json:"target"`
}

// Endpoint references an activity graph id.
type Endpoint struct {
	Node string `json:"node"`
	Port string `json:"port,omitempty"`
}

// Parse decodes an itinerary document.
func Parse(data []byte) (Itinerary, error) {
	var it Itinerary
	if err := jsoncodec.Unmarshal(data, &it); err != nil {
		return Itinerary{}, fmt.Errorf("parse itinerary: %w", err)
	}
	if it.ItineraryID == "" {
		return Itinerary{}, errspkg.ErrItineraryRequired
	}
	return it, nil
}

// IsConnectionType reports whether t names an edge type.
func IsConnectionType(t string) bool {
	return t == ConnectionType || t == LabelConnectionType
}

// IsConnection reports whether the activity is an edge drawn as an activity.
func (a Activity) IsConnection() bool {
	return IsConnectionType(a.Type)
}

// IsReceiveAdapter reports whether the activity is an inbound adapter that
// may be claimed by tag.
func (a Activity) IsReceiveAdapter() bool {
	return a.UserData.BaseType == BaseTypeOneWayReceive || a.UserData.BaseType == BaseTypeTwoWayReceive
}

// General returns a generalConfig value.
func (a Activity) General(id string) (any, bool) {
	if a.UserData.Config == nil {
		return nil, false
	}
	return lookup(a.UserData.Config.GeneralConfig, id)
}

// Static returns a staticConfig value.
func (a Activity) Static(id string) (any, bool) {
	if a.UserData.Config == nil {
		return nil, false
	}
	return lookup(a.UserData.Config.StaticConfig, id)
}

// StaticString returns a staticConfig value as text, empty when absent.
func (a Activity) StaticString(id string) string {
	v, ok := a.Static(id)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Host returns the configured host assignment.
func (a Activity) Host() (string, error) {
	v, ok := a.General(KeyHost)
	if !ok || v == nil {
		return "", &errspkg.ConfigurationError{Activity: a.UserData.ID, Key: KeyHost}
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Sprint(v), nil
	}
	return s, nil
}

// Enabled returns the configured enabled flag. String values "true"/"false"
// are accepted since older hub versions serialise flags as text.
func (a Activity) Enabled() (bool, error) {
	v, ok := a.General(KeyEnabled)
	if !ok || v == nil {
		return false, &errspkg.ConfigurationError{Activity: a.UserData.ID, Key: KeyEnabled}
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return strings.EqualFold(b, "true"), nil
	default:
		return false, &errspkg.ConfigurationError{Activity: a.UserData.ID, Key: KeyEnabled}
	}
}

// RoutingExpression returns the optional static routing expression.
func (a Activity) RoutingExpression() string {
	return strings.TrimSpace(a.StaticString(KeyRoutingExpression))
}

// StaticMap flattens staticConfig into a map handed to unit init hooks.
func (a Activity) StaticMap() map[string]any {
	out := map[string]any{}
	if a.UserData.Config == nil {
		return out
	}
	for _, s := range a.UserData.Config.StaticConfig {
		out[s.ID] = s.Value
	}
	return out
}

// WithHost returns a copy of the activity with its host assignment replaced.
// The config slices are copied so the original itinerary is left untouched.
func (a Activity) WithHost(host string) Activity {
	cp := a
	if a.UserData.Config == nil {
		cp.UserData.Config = &ActivityConfig{}
	} else {
		cfg := *a.UserData.Config
		cfg.GeneralConfig = append([]Setting(nil), a.UserData.Config.GeneralConfig...)
		cfg.StaticConfig = append([]Setting(nil), a.UserData.Config.StaticConfig...)
		cp.UserData.Config = &cfg
	}
	for i, s := range cp.UserData.Config.GeneralConfig {
		if s.ID == KeyHost {
			cp.UserData.Config.GeneralConfig[i].Value = host
			return cp
		}
	}
	cp.UserData.Config.GeneralConfig = append(cp.UserData.Config.GeneralConfig, Setting{ID: KeyHost, Value: host})
	return cp
}

// HostList splits a comma separated host assignment.
func HostList(host string) []string {
	parts := strings.Split(host, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// HostIncludes reports whether node is part of the host assignment.
func HostIncludes(host, node string) bool {
	for _, h := range HostList(host) {
		if strings.EqualFold(h, node) {
			return true
		}
	}
	return false
}

func lookup(settings []Setting, id string) (any, bool) {
	for _, s := range settings {
		if s.ID == id {
			return s.Value, true
		}
	}
	return nil, false
}
