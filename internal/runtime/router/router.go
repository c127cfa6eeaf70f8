// Package router moves envelopes between running instances. Successors on
// this node are called directly; everything else goes through the transport
// contract.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/drblury/edgeflow/internal/runtime/config"
	"github.com/drblury/edgeflow/internal/runtime/envelope"
	errspkg "github.com/drblury/edgeflow/internal/runtime/errors"
	"github.com/drblury/edgeflow/internal/runtime/expression"
	"github.com/drblury/edgeflow/internal/runtime/host"
	"github.com/drblury/edgeflow/internal/runtime/itinerary"
	"github.com/drblury/edgeflow/internal/runtime/logging"
)

// RoutingMissDescription is the fault description tracked with a routing
// miss.
const RoutingMissDescription = "The service receiving this message is no longer configured to run on this node. " +
	"This can happen when a service has been shut down and restarted on a different machine"

// ProcessFaultCode is tracked when a unit fails to process a message.
const ProcessFaultCode = "ProcessError"

// Contract is the part of the transport contract the router uses.
type Contract interface {
	Submit(ctx context.Context, env *envelope.Envelope, node, service string) error
	Track(ctx context.Context, rec envelope.TrackingRecord) error
}

// Options configures a Router.
type Options struct {
	Host        *host.Host
	Contract    Contract
	Itineraries *itinerary.Set
	Evaluator   *expression.Evaluator
	// Cipher opens encrypted envelopes and seals remote submissions when the
	// node encrypts.
	Cipher  envelope.Cipher
	MaxHops int
	Logger  logging.ServiceLogger
	// OnDynamicStart is called after an instance was started for a
	// dynamically routed message.
	OnDynamicStart func(inst *host.Instance)
}

// Router implements host.Dispatcher.
type Router struct {
	host        *host.Host
	itineraries *itinerary.Set
	evaluator   *expression.Evaluator
	cipher      envelope.Cipher
	maxHops     int
	logger      logging.ServiceLogger
	onDynamic   func(inst *host.Instance)

	mu       sync.RWMutex
	contract Contract

	// dynamic serialises on-demand starts so a service is started once.
	dynamic sync.Mutex
}

var _ host.Dispatcher = (*Router)(nil)

func New(opts Options) (*Router, error) {
	if opts.Host == nil {
		return nil, errors.New("router: host is required")
	}
	r := &Router{
		host:        opts.Host,
		contract:    opts.Contract,
		itineraries: opts.Itineraries,
		evaluator:   opts.Evaluator,
		cipher:      opts.Cipher,
		maxHops:     opts.MaxHops,
		logger:      opts.Logger,
		onDynamic:   opts.OnDynamicStart,
	}
	if r.itineraries == nil {
		r.itineraries = itinerary.NewSet()
	}
	if r.evaluator == nil {
		r.evaluator = expression.NewEvaluator(config.DefaultExpressionTimeout)
	}
	if r.maxHops <= 0 {
		r.maxHops = config.DefaultMaxHops
	}
	if r.logger == nil {
		r.logger = logging.NopServiceLogger()
	}
	return r, nil
}

// SetContract replaces the transport contract, for example once the node
// has signed in.
func (r *Router) SetContract(c Contract) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contract = c
}

func (r *Router) currentContract() Contract {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.contract
}

func (r *Router) reporter() envelope.Reporter {
	s := r.host.Settings()
	return envelope.Reporter{Node: s.NodeName, OrganizationID: s.OrganizationID, UseEncryption: s.UseEncryption}
}

func (r *Router) track(ctx context.Context, rec envelope.TrackingRecord) {
	c := r.currentContract()
	if c == nil {
		r.logger.Debug("Dropping tracking record without contract", logging.LogFields{"interchange_id": rec.InterchangeID, "state": rec.State})
		return
	}
	if err := c.Track(ctx, rec); err != nil {
		r.logger.Error("Failed to track message", err, logging.LogFields{"interchange_id": rec.InterchangeID, "state": rec.State})
	}
}

// itinerary returns the installed itinerary of env, or the one carried by a
// dynamically routed envelope.
func (r *Router) itinerary(env *envelope.Envelope) (*itinerary.Itinerary, bool) {
	if it, ok := r.itineraries.Get(env.ItineraryID); ok {
		return it, true
	}
	if env.Itinerary != nil && env.Itinerary.ItineraryID == env.ItineraryID {
		return env.Itinerary, true
	}
	return nil, false
}

// ReceiveMessage delivers env to the instance of activityID. A missing
// instance is started on demand for dynamically routed envelopes; otherwise
// a Failed record with code 90001 is tracked and a RoutingMissError
// returned. A registered instance that is not started counts as missing.
func (r *Router) ReceiveMessage(ctx context.Context, env *envelope.Envelope, activityID string) error {
	inst, ok := r.host.Registry().Lookup(env.ItineraryID, activityID)
	ok = ok && inst.Started()
	if !ok && env.IsDynamicRoute {
		var err error
		if inst, err = r.startDynamic(ctx, env, activityID); err != nil {
			r.logger.Error("Failed to start dynamically routed service", err, logging.LogFields{"service": activityID, "itinerary_id": env.ItineraryID})
		}
		ok = inst != nil
	}
	if !ok {
		miss := &errspkg.RoutingMissError{Service: activityID, ItineraryID: env.ItineraryID}
		r.track(ctx, r.reporter().Fault(env, activityID, miss.Code(), RoutingMissDescription))
		r.logger.Error("Routing miss", miss, logging.LogFields{"interchange_id": env.InterchangeID})
		return miss
	}

	rep := r.reporter()
	env.IsFirstAction = false
	r.track(ctx, rep.Track(env, inst.Name, envelope.StateStarted))

	payload, err := envelope.Decode(env, r.cipher)
	if err == nil {
		err = inst.Unit.Process(ctx, host.Delivery{Envelope: env, Payload: payload})
	}
	if err != nil {
		r.track(ctx, rep.Fault(env, inst.Name, ProcessFaultCode, err.Error()))
		return fmt.Errorf("process %s: %w", inst.Name, err)
	}
	return nil
}

func (r *Router) startDynamic(ctx context.Context, env *envelope.Envelope, activityID string) (*host.Instance, error) {
	r.dynamic.Lock()
	defer r.dynamic.Unlock()

	if inst, ok := r.host.Registry().Lookup(env.ItineraryID, activityID); ok {
		if err := inst.Start(ctx); err != nil {
			return nil, err
		}
		env.IsDynamicRoute = false
		return inst, nil
	}
	it, ok := r.itinerary(env)
	if !ok {
		return nil, errspkg.ErrItineraryNotFound
	}
	act, ok := it.ActivityByID(activityID)
	if !ok {
		return nil, errspkg.ErrActivityNotFound
	}
	out, err := r.host.StartActivity(ctx, *act, it, true)
	if err != nil {
		return nil, err
	}
	if out.Instance == nil {
		return nil, fmt.Errorf("service %s is %s", activityID, strings.ToLower(string(out.Status)))
	}
	if err := out.Instance.Start(ctx); err != nil {
		return nil, err
	}
	env.IsDynamicRoute = false
	if r.onDynamic != nil {
		r.onDynamic(out.Instance)
	}
	inst, ok := r.host.Registry().Lookup(env.ItineraryID, activityID)
	if !ok {
		return nil, errspkg.ErrActivityNotFound
	}
	return inst, nil
}

// Dispatch handles output of inst: it tracks the transition and delivers a
// copy of env to every eligible successor. Faulted envelopes are only
// tracked.
func (r *Router) Dispatch(ctx context.Context, inst *host.Instance, env *envelope.Envelope) error {
	rep := r.reporter()
	if env.IsFault() {
		r.track(ctx, rep.Fault(env, env.LastActivity, env.FaultCode, env.FaultDescription))
		r.logger.Info("Service raised a fault", logging.LogFields{"service": inst.Name, "code": env.FaultCode, "description": env.FaultDescription})
		return nil
	}

	ctx, err := enterHop(ctx, r.maxHops)
	if err != nil {
		r.track(ctx, rep.Fault(env, env.LastActivity, "HopLimitExceeded", err.Error()))
		return err
	}

	state := envelope.StateCompleted
	if env.IsFirstAction {
		state = envelope.StateStarted
	}
	r.track(ctx, rep.Track(env, env.LastActivity, state))

	payload, err := envelope.Decode(env, r.cipher)
	if err != nil {
		return err
	}
	successors, err := r.successors(ctx, inst.Itinerary, env, payload)
	if err != nil {
		return err
	}

	settings := r.host.Settings()
	var errs []error
	for _, succ := range successors {
		if err := r.deliver(ctx, inst, env, payload, succ, settings); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Router) deliver(ctx context.Context, inst *host.Instance, env *envelope.Envelope, payload envelope.Payload, succ Successor, settings host.Settings) error {
	out := env.Clone()
	out.Sender = settings.NodeName
	service := succ.Activity.UserData.ID

	destination, err := r.resolveAddress(ctx, inst, succ.Host, out, payload.Raw)
	if err != nil {
		r.logger.Error("Failed to resolve successor address", err, logging.LogFields{"service": service, "host": succ.Host})
		return fmt.Errorf("resolve address of %s: %w", service, err)
	}
	out.IsDynamicRoute = destination != succ.Host
	if out.IsDynamicRoute {
		out.Itinerary = inst.Itinerary
	}

	var errs []error
	for _, node := range itinerary.HostList(destination) {
		msg := out.Clone()
		if strings.EqualFold(node, settings.NodeName) {
			if err := r.ReceiveMessage(ctx, msg, service); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if settings.UseEncryption {
			if err := envelope.Encrypt(msg, r.cipher); err != nil {
				errs = append(errs, fmt.Errorf("encrypt for %s: %w", node, err))
				continue
			}
		}
		c := r.currentContract()
		if c == nil {
			errs = append(errs, &errspkg.TransportError{Op: "submit", Err: errspkg.ErrNotConnected})
			continue
		}
		if err := c.Submit(ctx, msg, strings.ToLower(node), service); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Router) resolveAddress(ctx context.Context, inst *host.Instance, hostAssignment string, env *envelope.Envelope, body []byte) (string, error) {
	if resolver, ok := inst.Unit.(host.AddressResolver); ok {
		return resolver.ResolveAddress(ctx, hostAssignment, env, body)
	}
	return expression.ResolveAddress(hostAssignment, env.Variables, body)
}
