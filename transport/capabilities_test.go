package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapabilitiesSupportsReliableDelivery(t *testing.T) {
	tests := []struct {
		name string
		caps Capabilities
		want bool
	}{
		{name: "ack and nack", caps: Capabilities{SupportsAck: true, SupportsNack: true}, want: true},
		{name: "ack only", caps: Capabilities{SupportsAck: true}, want: false},
		{name: "nack only", caps: Capabilities{SupportsNack: true}, want: false},
		{name: "neither", caps: Capabilities{}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.caps.SupportsReliableDelivery())
		})
	}
}

func TestCapabilitiesFits(t *testing.T) {
	assert.True(t, Capabilities{}.Fits(10<<20), "unknown limit accepts anything")
	assert.True(t, AWSCapabilities.Fits(256<<10))
	assert.False(t, AWSCapabilities.Fits(256<<10+1))
	assert.False(t, KafkaCapabilities.Fits(2<<20))
}

func TestBrokerCapabilities(t *testing.T) {
	all := []Capabilities{
		ChannelCapabilities,
		KafkaCapabilities,
		RabbitMQCapabilities,
		NATSCapabilities,
		AWSCapabilities,
		HTTPCapabilities,
		SQLiteCapabilities,
		RedisCapabilities,
	}

	seen := map[string]bool{}
	for _, caps := range all {
		assert.NotEmpty(t, caps.Name)
		assert.False(t, seen[caps.Name], "duplicate name %s", caps.Name)
		seen[caps.Name] = true
	}

	assert.False(t, ChannelCapabilities.Remote)
	assert.False(t, SQLiteCapabilities.Remote)
	assert.True(t, SQLiteCapabilities.Durable)
	assert.False(t, NATSCapabilities.Durable)
	assert.False(t, HTTPCapabilities.SupportsReliableDelivery())
	assert.True(t, RabbitMQCapabilities.SupportsReliableDelivery())
}
