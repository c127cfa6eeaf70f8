package runtime

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/edgeflow/internal/runtime/bus"
	configpkg "github.com/drblury/edgeflow/internal/runtime/config"
	loggingpkg "github.com/drblury/edgeflow/internal/runtime/logging"
	"github.com/drblury/edgeflow/internal/runtime/retrystore"
	"github.com/drblury/edgeflow/transport"
)

// ContractFactory builds the transport contract of a node. It is called once,
// on the first sign-in.
type ContractFactory func(ctx context.Context, conf *configpkg.Config, settings transport.Settings) (transport.Contract, error)

// BusContractOptions configures BusContract.
type BusContractOptions struct {
	Store  retrystore.Store
	Logger loggingpkg.ServiceLogger
	// Registry resolves the broker; nil uses transport.DefaultRegistry.
	Registry *transport.Registry
	// MetricsRegisterer enables Prometheus router metrics.
	MetricsRegisterer prometheus.Registerer
	Middlewares       []bus.MiddlewareRegistration
	Hooks             bus.JobHooks
}

// BusContract returns a factory for the canonical contract: a bus over the
// broker selected by PubSubSystem, parking undeliverable items in opts.Store.
func BusContract(opts BusContractOptions) ContractFactory {
	return func(_ context.Context, conf *configpkg.Config, settings transport.Settings) (transport.Contract, error) {
		logger := opts.Logger
		if logger == nil {
			logger = loggingpkg.NopServiceLogger()
		}
		c := *conf
		return bus.New(bus.Options{
			Connector: bus.RegistryConnector(opts.Registry, &c, loggingpkg.NewWatermillAdapter(logger)),
			Store:     opts.Store,
			Logger:    logger,
			Settings:  settings,
			Retry: bus.RetryMiddlewareConfig{
				MaxRetries:      c.RetryMaxRetries,
				InitialInterval: c.RetryInitialInterval,
				MaxInterval:     c.RetryMaxInterval,
			},
			Middlewares:       opts.Middlewares,
			Hooks:             opts.Hooks,
			MetricsRegisterer: opts.MetricsRegisterer,
		})
	}
}
