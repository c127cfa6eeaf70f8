package transport

// Capabilities describes what a broker guarantees. The bus uses it to decide
// whether publish failures can be left to the broker or must be absorbed by
// the node's retry store.
type Capabilities struct {
	Name string

	// Durable brokers keep messages across restarts of either side.
	Durable bool

	// SupportsOrdering means messages on one topic arrive in publish order.
	SupportsOrdering bool

	// SupportsAck and SupportsNack mean the broker redelivers messages that
	// were not acknowledged.
	SupportsAck  bool
	SupportsNack bool

	// SupportsTracing means message metadata travels with the payload, so
	// correlation ids and trace headers survive the hop.
	SupportsTracing bool

	// Remote brokers reach other nodes. In-process brokers only connect
	// components inside one node.
	Remote bool

	// MaxMessageSize in bytes, 0 when unknown.
	MaxMessageSize int64
}

// SupportsReliableDelivery reports at-least-once redelivery (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Fits reports whether a payload of size bytes can be published.
func (c Capabilities) Fits(size int) bool {
	return c.MaxMessageSize == 0 || int64(size) <= c.MaxMessageSize
}

var (
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsTracing:  true,
	}

	KafkaCapabilities = Capabilities{
		Name:             "kafka",
		Durable:          true,
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsTracing:  true,
		Remote:           true,
		MaxMessageSize:   1 << 20,
	}

	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		Durable:          true,
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsTracing:  true,
		Remote:           true,
	}

	NATSCapabilities = Capabilities{
		Name:            "nats",
		SupportsTracing: true,
		Remote:          true,
		MaxMessageSize:  1 << 20,
	}

	AWSCapabilities = Capabilities{
		Name:             "aws",
		Durable:          true,
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsTracing:  true,
		Remote:           true,
		MaxMessageSize:   256 << 10,
	}

	HTTPCapabilities = Capabilities{
		Name:            "http",
		SupportsTracing: true,
		Remote:          true,
	}

	SQLiteCapabilities = Capabilities{
		Name:             "sqlite",
		Durable:          true,
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsTracing:  true,
	}

	RedisCapabilities = Capabilities{
		Name:             "redis",
		Durable:          true,
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsTracing:  true,
		Remote:           true,
		MaxMessageSize:   512 << 20,
	}
)

// GetCapabilities returns the capabilities registered for a broker name, or
// a zero value carrying only the name.
func GetCapabilities(name string) Capabilities {
	return DefaultRegistry.GetCapabilities(name)
}
