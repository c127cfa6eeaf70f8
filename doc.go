// Package edgeflow runs integration flows at the edge. A node signs in to its
// hub, receives itineraries (graphs of activities and connections) and runs
// the activities placed on it. Each activity is backed by a unit: a compiled
// built-in registered with RegisterUnit, or a Lua script downloaded from the
// hub. Unit output is routed along the itinerary graph, to units on the same
// node directly or to other nodes through the transport contract.
//
// # Transports
//
// The canonical contract is a Watermill router over the node inbox. The broker
// behind it is read from Config.PubSubSystem:
//   - channel: In-memory Go channels for testing
//   - kafka: High-throughput streaming with consumer groups
//   - rabbitmq: AMQP-based durable queues
//   - aws: AWS SNS/SQS with LocalStack support
//   - nats: High-performance messaging
//   - http: Request/response messaging
//   - sqlite: Embedded persistent queue
//   - redis: Lists with msgpack encoded messages
//
// Import github.com/drblury/edgeflow/transport/transports to register all of
// them, or a single broker package for a smaller binary.
//
// # Delivery guarantees
//
// Submit and Track never lose data. While the bus is disconnected, or when a
// publish fails, the item is written to the retry store (files or sqlite) and
// replayed after the next load. Delivery is at least once.
//
// # Routing
//
// Activities may carry a routing expression, a Lua expression evaluated in a
// sandbox against the message and the envelope variables. Host assignments may
// contain placeholders resolved from the message, which routes the envelope
// dynamically; the receiving node then starts the target activity on demand.
// A hop limit bounds routing on cyclic graphs.
package edgeflow
