package bus

import (
	"strings"

	"github.com/drblury/edgeflow/internal/runtime/config"
)

// Topics derives the topic names a node uses from one prefix.
type Topics struct {
	Prefix string
}

// TopicsFor returns the topics under prefix, falling back to the default
// prefix when it is empty.
func TopicsFor(prefix string) Topics {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = config.DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

// Node is the inbox of the named node. Node names are case-insensitive.
func (t Topics) Node(name string) string {
	return t.Prefix + ".node." + strings.ToLower(strings.TrimSpace(name))
}

// Tracking receives tracking records from every node.
func (t Topics) Tracking() string {
	return t.Prefix + ".tracking"
}

// State receives node state changes.
func (t Topics) State() string {
	return t.Prefix + ".state"
}
