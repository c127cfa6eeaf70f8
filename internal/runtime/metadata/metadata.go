package metadata

// Metadata represents the headers carried alongside an envelope on the bus.
type Metadata map[string]string

// Header keys set by the bus on every outgoing message.
const (
	KeyKind          = "edgeflow_kind"
	KeyService       = "edgeflow_service"
	KeyNode          = "edgeflow_node"
	KeySender        = "edgeflow_sender"
	KeyInterchangeID = "edgeflow_interchange_id"
	KeyItineraryID   = "edgeflow_itinerary_id"
	KeyCorrelationID = "correlation_id"
)

// Kind discriminates what an inbound payload carries.
type Kind string

const (
	KindMessage  Kind = "message"
	KindState    Kind = "state"
	KindAction   Kind = "action"
	KindTracking Kind = "tracking"
)

func (m Metadata) cloneWithExtra(extra int) Metadata {
	size := len(m) + extra
	if size <= 0 {
		return Metadata{}
	}

	cloned := make(Metadata, size)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a cloned metadata map containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	cloned[key] = value
	return cloned
}

// Kind returns the payload kind, defaulting to KindMessage.
func (m Metadata) Kind() Kind {
	if k := m[KeyKind]; k != "" {
		return Kind(k)
	}
	return KindMessage
}

// New constructs a Metadata map from alternating key/value pairs.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}
