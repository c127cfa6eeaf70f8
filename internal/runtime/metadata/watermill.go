package metadata

import "github.com/ThreeDotsLabs/watermill/message"

// Of reads the edgeflow headers of a bus message.
func Of(msg *message.Message) Metadata {
	md := make(Metadata, len(msg.Metadata))
	for k, v := range msg.Metadata {
		md[k] = v
	}
	return md
}

// Stamp writes m onto msg. Headers already present on msg win.
func (m Metadata) Stamp(msg *message.Message) {
	if msg.Metadata == nil {
		msg.Metadata = make(message.Metadata, len(m))
	}
	for k, v := range m {
		if _, ok := msg.Metadata[k]; !ok {
			msg.Metadata.Set(k, v)
		}
	}
}

// Service is the activity an inbound message is addressed to.
func (m Metadata) Service() string { return m[KeyService] }
