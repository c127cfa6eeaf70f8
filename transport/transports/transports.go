// Package transports registers every built-in broker with the default
// registry. Import it for side effects.
package transports

import (
	_ "github.com/drblury/edgeflow/transport/aws"
	_ "github.com/drblury/edgeflow/transport/channel"
	_ "github.com/drblury/edgeflow/transport/http"
	_ "github.com/drblury/edgeflow/transport/kafka"
	_ "github.com/drblury/edgeflow/transport/nats"
	_ "github.com/drblury/edgeflow/transport/rabbitmq"
	_ "github.com/drblury/edgeflow/transport/redis"
	_ "github.com/drblury/edgeflow/transport/sqlite"
)
