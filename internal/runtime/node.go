package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	configpkg "github.com/drblury/edgeflow/internal/runtime/config"
	"github.com/drblury/edgeflow/internal/runtime/envelope"
	errspkg "github.com/drblury/edgeflow/internal/runtime/errors"
	"github.com/drblury/edgeflow/internal/runtime/expression"
	"github.com/drblury/edgeflow/internal/runtime/host"
	"github.com/drblury/edgeflow/internal/runtime/itinerary"
	loggingpkg "github.com/drblury/edgeflow/internal/runtime/logging"
	"github.com/drblury/edgeflow/internal/runtime/rest"
	"github.com/drblury/edgeflow/internal/runtime/retrystore"
	"github.com/drblury/edgeflow/internal/runtime/router"
	"github.com/drblury/edgeflow/transport"
)

// LoadState tracks itinerary loading.
type LoadState int32

const (
	LoadNone LoadState = iota
	LoadLoading
	LoadDone
)

func (s LoadState) String() string {
	switch s {
	case LoadLoading:
		return "loading"
	case LoadDone:
		return "done"
	default:
		return "none"
	}
}

// Callbacks let the embedding application follow the node.
type Callbacks struct {
	// OnLog receives every line shown to the operator: status tables and
	// errors worth surfacing on the hub.
	OnLog func(line string)
	// OnStarted is raised after an active load with the number of running
	// services and the number of activities that failed to start.
	OnStarted func(loaded int, exceptions int64)
	OnAction  func(ctx context.Context, action transport.Action)
}

// NodeDependencies holds the collaborators of a Node. Leave fields nil for
// the defaults.
type NodeDependencies struct {
	// Contract builds the transport contract on the first sign-in.
	Contract ContractFactory
	// Store is replayed after every load.
	Store         retrystore.Store
	ReplayMetrics *retrystore.Metrics
	Loader        *host.Loader
	// Listener serves inbound REST units. By default one is created on the
	// configured port.
	Listener  *rest.Listener
	Callbacks Callbacks
	// Output receives status lines, os.Stdout by default.
	Output io.Writer
}

// Node is the itinerary engine. It owns the itinerary set, the service host,
// the router and the transport contract, and drives them through sign-in,
// reloads and state changes.
type Node struct {
	logger  loggingpkg.ServiceLogger
	factory ContractFactory
	store   retrystore.Store
	metrics *retrystore.Metrics
	cb      Callbacks
	out     io.Writer
	status  *loggingpkg.StatusTable

	itineraries *itinerary.Set
	host        *host.Host
	router      *router.Router

	// ctx lives until Shutdown and bounds background work.
	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.RWMutex
	conf         configpkg.Config
	contract     transport.Contract
	listener     *rest.Listener
	ownsListener bool

	// lifecycle serialises reload and stop-all.
	lifecycle sync.Mutex
	loading   atomic.Int32

	replayMu sync.Mutex
	replay   *time.Timer
	closed   bool

	// replaying allows one replay pass at a time.
	replaying sync.Mutex
}

// NewNode validates conf and wires the host and router. The contract is built
// on the first SignInComplete.
func NewNode(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps NodeDependencies) (*Node, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	c := *conf
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}

	cipher, err := newCipher(&c)
	if err != nil {
		return nil, err
	}

	log.Info("Creating node", loggingpkg.LogFields{"node": c.NodeName, "pubsub_system": c.PubSubSystem, "config": c})

	n := &Node{
		logger:      log,
		factory:     deps.Contract,
		store:       deps.Store,
		metrics:     deps.ReplayMetrics,
		cb:          deps.Callbacks,
		out:         deps.Output,
		itineraries: itinerary.NewSet(),
		conf:        c,
		listener:    deps.Listener,
	}
	if n.out == nil {
		n.out = os.Stdout
	}
	n.status = loggingpkg.NewStatusTable(n.emitLine)
	n.ctx, n.cancel = context.WithCancel(context.Background())
	if n.listener == nil {
		n.listener = n.newListener(c.Port)
		n.ownsListener = true
	}

	loader := deps.Loader
	if loader == nil {
		loader = host.NewLoader(nil, c.FetchTimeout)
	}
	n.host, err = host.New(host.Options{
		Settings: hostSettings(c),
		Loader:   loader,
		Routes:   n.listener,
		Logger:   log.With(loggingpkg.LogFields{"component": "host"}),
	})
	if err != nil {
		return nil, err
	}
	n.router, err = router.New(router.Options{
		Host:           n.host,
		Itineraries:    n.itineraries,
		Evaluator:      expression.NewEvaluator(c.ExpressionTimeout),
		Cipher:         cipher,
		MaxHops:        c.MaxHops,
		Logger:         log.With(loggingpkg.LogFields{"component": "router"}),
		OnDynamicStart: n.dynamicStarted,
	})
	if err != nil {
		return nil, err
	}
	n.host.SetDispatcher(n.router)
	return n, nil
}

// newCipher returns a sealer when a key is configured. Without one, encrypted
// envelopes cannot be opened and remote submissions stay in clear text.
func newCipher(c *configpkg.Config) (envelope.Cipher, error) {
	key, err := c.Key()
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(key) == 0 {
		return nil, nil
	}
	return envelope.NewSealer(key)
}

func hostSettings(c configpkg.Config) host.Settings {
	return host.Settings{
		NodeName:       c.NodeName,
		OrganizationID: c.OrganizationID,
		HubURI:         c.HubURI,
		UseEncryption:  c.UseEncryption,
		Debug:          c.Debug,
	}
}

func transportSettings(c configpkg.Config) transport.Settings {
	return transport.Settings{
		NodeName:       c.NodeName,
		OrganizationID: c.OrganizationID,
		Debug:          c.Debug,
		TopicPrefix:    c.TopicPrefix,
	}
}

func (n *Node) newListener(port int) *rest.Listener {
	return rest.New(rest.Options{
		Address:  rest.Address(port),
		Logger:   n.logger.With(loggingpkg.LogFields{"component": "rest"}),
		Services: n.services,
	})
}

// Config returns a copy of the current configuration.
func (n *Node) Config() configpkg.Config {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.conf
}

func (n *Node) Host() *host.Host             { return n.host }
func (n *Node) Router() *router.Router       { return n.router }
func (n *Node) Itineraries() *itinerary.Set  { return n.itineraries }
func (n *Node) LoadState() LoadState         { return LoadState(n.loading.Load()) }
func (n *Node) Contract() transport.Contract { return n.currentContract() }
func (n *Node) Listener() *rest.Listener     { return n.currentListener() }

func (n *Node) currentListener() *rest.Listener {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.listener
}

func (n *Node) currentContract() transport.Contract {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.contract
}

// SignInComplete applies a sign-in response: it stores the redacted
// settings, installs the itineraries, connects the contract and reloads.
func (n *Node) SignInComplete(ctx context.Context, resp configpkg.SignInResponse) error {
	n.mu.Lock()
	n.conf.ApplySignIn(resp)
	conf := n.conf
	n.mu.Unlock()

	n.logger.Info("Signed in", loggingpkg.LogFields{"node": conf.NodeName, "itineraries": len(resp.Itineraries), "state": conf.State})
	if conf.SettingsFile != "" {
		if err := configpkg.SaveRedactedSettings(conf.SettingsFile, conf.NodeName, resp); err != nil {
			n.logError("Unable to persist settings", err)
		}
	}

	n.itineraries.Replace(resp.Itineraries)
	n.host.Update(hostSettings(conf))
	n.rebindListener(conf.Port)
	if err := n.connect(ctx, conf); err != nil {
		return err
	}
	return n.Reload(ctx)
}

// connect builds the contract once and updates it on later sign-ins.
func (n *Node) connect(ctx context.Context, conf configpkg.Config) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	settings := transportSettings(conf)
	if n.contract != nil {
		return n.contract.Update(ctx, settings)
	}
	if n.factory == nil {
		return errspkg.ErrTransportRequired
	}
	c, err := n.factory(ctx, &conf, settings)
	if err != nil {
		return &errspkg.TransportError{Op: "create", Err: err}
	}
	c.SetHandlers(n.handlers())
	n.contract = c
	n.router.SetContract(c)
	n.host.SetStateChanger(c)
	return nil
}

// rebindListener moves an idle default listener to a new port.
func (n *Node) rebindListener(port int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.ownsListener || n.listener.Running() || n.listener.ListenAddress() == rest.Address(port) {
		return
	}
	n.listener = n.newListener(port)
	n.host.SetRoutes(n.listener)
}

// UpdateItinerary installs it, replacing the itinerary with the same id, and
// reloads.
func (n *Node) UpdateItinerary(ctx context.Context, it itinerary.Itinerary) error {
	n.itineraries.Upsert(it)
	n.logger.Info("Itinerary updated", loggingpkg.LogFields{"itinerary_id": it.ItineraryID, "integration": it.IntegrationName})
	return n.Reload(ctx)
}

// ChangeState switches the operational state. Active reloads every
// itinerary; any other state stops all services and the receive path.
func (n *Node) ChangeState(ctx context.Context, state string) error {
	n.mu.Lock()
	prev := n.conf.State
	n.conf.State = state
	n.mu.Unlock()

	n.logger.Info("Node state changed", loggingpkg.LogFields{"from": prev, "to": state})
	if state == configpkg.DefaultState {
		return n.Reload(ctx)
	}
	n.lifecycle.Lock()
	defer n.lifecycle.Unlock()
	err := n.stopAllLocked(ctx)
	n.pause(ctx)
	return err
}

// ChangeDebug toggles debug output for the host and the contract.
func (n *Node) ChangeDebug(ctx context.Context, on bool) error {
	n.mu.Lock()
	n.conf.Debug = on
	conf := n.conf
	c := n.contract
	n.mu.Unlock()

	n.host.SetDebug(on)
	if c == nil {
		return nil
	}
	return c.Update(ctx, transportSettings(conf))
}

// ReceiveState hands a state pushed by the hub to the running state receive
// adapters.
func (n *Node) ReceiveState(ctx context.Context, state string) error {
	var errs []error
	delivered := 0
	for _, inst := range n.host.Registry().ByBaseType(itinerary.BaseTypeStateReceive) {
		recv, ok := inst.Unit.(host.StateReceiver)
		if !ok || !inst.Started() {
			continue
		}
		delivered++
		if err := recv.ReceiveState(ctx, state); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", inst.Name, err))
		}
	}
	if delivered == 0 {
		n.logger.Debug("No state receiver running", loggingpkg.LogFields{"state": state})
	}
	return errors.Join(errs...)
}

// ReceiveMessage is the inbound contract callback. Routing misses and
// processing failures are tracked by the router and acknowledged here so the
// transport does not redeliver them. While the node is inactive or reloading
// it returns ErrNodeInactive and the message stays with the transport.
func (n *Node) ReceiveMessage(ctx context.Context, msg transport.InboundMessage) error {
	if !n.accepting() {
		return errspkg.ErrNodeInactive
	}
	if msg.Body == nil {
		n.logger.Error("Discarding inbound message", errors.New("message has no body"), loggingpkg.LogFields{"service": msg.Service()})
		return nil
	}
	err := n.router.ReceiveMessage(ctx, msg.Body, msg.Service())
	if err == nil {
		return nil
	}
	var miss *errspkg.RoutingMissError
	if errors.As(err, &miss) {
		n.emitLine(fmt.Sprintf("Error %s: %s", miss.Code(), miss.Error()))
		return nil
	}
	n.logError("Failed to process inbound message", err)
	return nil
}

// Reload stops every service and starts the activities of all installed
// itineraries that belong on this node. A reload already in progress makes
// it return ErrReloadInProgress.
func (n *Node) Reload(ctx context.Context) error {
	if !n.beginLoad() {
		n.logger.Info("Reload already in progress", nil)
		return errspkg.ErrReloadInProgress
	}
	defer n.loading.Store(int32(LoadDone))

	n.lifecycle.Lock()
	defer n.lifecycle.Unlock()

	if err := n.stopAllLocked(ctx); err != nil {
		n.logError("Failed to stop services before reload", err)
	}
	loaded := n.load(ctx)
	if conf := n.Config(); conf.IsActive() {
		n.activate(ctx, loaded)
	} else {
		n.pause(ctx)
		n.report(loaded)
	}
	n.scheduleReplay()
	return nil
}

func (n *Node) beginLoad() bool {
	for {
		cur := n.loading.Load()
		if LoadState(cur) == LoadLoading {
			return false
		}
		if n.loading.CompareAndSwap(cur, int32(LoadLoading)) {
			return true
		}
	}
}

type loadedActivity struct {
	sel     itinerary.Selection
	outcome host.Outcome
}

// load starts every selected activity, bounded by LoadConcurrency. A failing
// activity never affects its siblings.
func (n *Node) load(ctx context.Context) []loadedActivity {
	n.host.Loader().ClearCache()
	n.host.ResetExceptions()

	conf := n.Config()
	var loaded []loadedActivity
	for _, it := range n.itineraries.All() {
		for _, sel := range it.SelectForNode(conf.NodeName, conf.HasTag) {
			loaded = append(loaded, loadedActivity{sel: sel})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(conf.LoadConcurrency)
	for i := range loaded {
		g.Go(func() error {
			sel := loaded[i].sel
			loaded[i].outcome, _ = n.host.StartActivity(gctx, sel.Activity, sel.Itinerary, false)
			return nil
		})
	}
	_ = g.Wait()
	return loaded
}

func (n *Node) accepting() bool {
	conf := n.Config()
	return conf.IsActive() && n.LoadState() != LoadLoading
}

// activate starts every loaded service and then the receive path, then
// reports.
func (n *Node) activate(ctx context.Context, loaded []loadedActivity) {
	for i := range loaded {
		inst := loaded[i].outcome.Instance
		if inst == nil {
			continue
		}
		if err := inst.Start(ctx); err != nil {
			loaded[i].outcome.Status = loggingpkg.StatusFailed
			n.logger.Error("Failed to start service", err, loggingpkg.LogFields{"service": inst.Name, "itinerary_id": inst.ItineraryID})
			continue
		}
		loaded[i].outcome.Status = loggingpkg.StatusStarted
	}
	if c := n.currentContract(); c != nil {
		if err := c.Start(ctx, func() { n.logger.Info("Receiving messages", nil) }); err != nil {
			n.logError("Unable to start the transport", err)
		}
	}
	n.startListener(ctx)
	n.report(loaded)

	if n.cb.OnStarted != nil {
		n.cb.OnStarted(n.host.Registry().Len(), n.host.Exceptions())
	}
}

func (n *Node) report(loaded []loadedActivity) {
	n.status.Header("Service")
	for _, l := range loaded {
		if l.outcome.Skipped() {
			continue
		}
		n.status.Row(l.outcome.Service, l.outcome.Status, l.sel.Itinerary.IntegrationName)
	}
	n.status.Footer()
}

// startListener serves inbound REST units once at least one is registered.
func (n *Node) startListener(ctx context.Context) {
	needed := false
	for _, inst := range n.host.Registry().All() {
		if inst.Activity.UserData.IsInboundREST {
			needed = true
			break
		}
	}
	if !needed {
		return
	}
	if err := n.currentListener().Start(ctx); err != nil {
		n.logError("Unable to start the REST listener", err)
	}
}

func (n *Node) dynamicStarted(inst *host.Instance) {
	n.status.Row(inst.Name, loggingpkg.StatusStarted, inst.IntegrationName)
	if inst.Activity.UserData.IsInboundREST {
		n.startListener(n.ctx)
	}
}

// pause stops the receive path. Until the next activation Submit and Track
// go to the retry store.
func (n *Node) pause(ctx context.Context) {
	c := n.currentContract()
	if c == nil {
		return
	}
	if err := c.Stop(ctx); err != nil {
		n.logError("Unable to stop the transport", err)
	}
}

// StopAll stops and unregisters every running service. The itinerary set is
// kept.
func (n *Node) StopAll(ctx context.Context) error {
	n.lifecycle.Lock()
	defer n.lifecycle.Unlock()
	return n.stopAllLocked(ctx)
}

func (n *Node) stopAllLocked(ctx context.Context) error {
	defer n.currentListener().Reset()
	reg := n.host.Registry()
	if reg.Len() == 0 {
		return nil
	}
	n.status.Header("Service")
	err := reg.StopAll(ctx, func(inst *host.Instance, err error) {
		status := loggingpkg.StatusStopped
		if err != nil {
			status = loggingpkg.StatusFailed
		}
		n.status.Row(inst.Name, status, inst.IntegrationName)
	})
	n.status.Footer()
	return err
}

// RestorePersistedMessages replays the retry store through the contract.
// Passes never overlap: a call made while another pass runs waits for it and
// then replays what is left.
func (n *Node) RestorePersistedMessages(ctx context.Context) (retrystore.ReplayResult, error) {
	c := n.currentContract()
	if c == nil {
		return retrystore.ReplayResult{}, errspkg.ErrTransportRequired
	}
	if n.store == nil {
		return retrystore.ReplayResult{}, errspkg.ErrStoreRequired
	}
	n.replaying.Lock()
	defer n.replaying.Unlock()
	return retrystore.Replay(ctx, n.store, c, retrystore.ReplayOptions{Logger: n.logger, Metrics: n.metrics})
}

// scheduleReplay restores persisted items after RestoreDelay so the replay
// does not race the transport that was just opened. A pending replay is
// pushed back.
func (n *Node) scheduleReplay() {
	if n.store == nil || n.currentContract() == nil {
		return
	}
	delay := n.Config().RestoreDelay

	n.replayMu.Lock()
	defer n.replayMu.Unlock()
	if n.closed {
		return
	}
	if n.replay != nil {
		n.replay.Stop()
	}
	n.replay = time.AfterFunc(delay, func() {
		res, err := n.RestorePersistedMessages(n.ctx)
		if err != nil {
			n.logError("Unable to restore persisted messages", err)
			return
		}
		if res != (retrystore.ReplayResult{}) {
			n.logger.Info("Restored persisted messages", loggingpkg.LogFields{
				"dispatched": res.Dispatched,
				"failed":     res.Failed,
				"corrupt":    res.Corrupt,
				"retained":   res.Retained,
			})
		}
	})
}

// Shutdown stops the services, the REST listener and the contract. The node
// cannot be restarted afterwards.
func (n *Node) Shutdown(ctx context.Context) error {
	n.replayMu.Lock()
	n.closed = true
	if n.replay != nil {
		n.replay.Stop()
	}
	n.replayMu.Unlock()
	n.cancel()

	errs := []error{n.StopAll(ctx), n.currentListener().Stop(ctx)}
	if c := n.currentContract(); c != nil {
		errs = append(errs, c.Stop(ctx))
	}
	n.logger.Info("Node stopped", nil)
	return errors.Join(errs...)
}

func (n *Node) handlers() transport.Handlers {
	return transport.Handlers{
		OnMessageReceived: n.ReceiveMessage,
		OnStateReceived: func(ctx context.Context, state string) {
			if err := n.ReceiveState(ctx, state); err != nil {
				n.logError("Unable to deliver state", err)
			}
		},
		OnQueueError: func(err error) {
			n.logError("Unable to receive message", err)
		},
		OnSubmitError: func(err error) {
			n.logError("Unable to submit message", err)
		},
		OnDebug: func(text string) {
			if n.host.Debug() {
				n.logger.Info(text, loggingpkg.LogFields{"debug": true})
			}
		},
		OnAction: func(ctx context.Context, action transport.Action) {
			n.logger.Info("Received action", loggingpkg.LogFields{"action": action.Name})
			if n.cb.OnAction != nil {
				n.cb.OnAction(ctx, action)
			}
		},
	}
}

func (n *Node) services() []rest.ServiceInfo {
	insts := n.host.Registry().All()
	out := make([]rest.ServiceInfo, 0, len(insts))
	for _, inst := range insts {
		out = append(out, rest.ServiceInfo{
			Name:            inst.Name,
			ItineraryID:     inst.ItineraryID,
			IntegrationName: inst.IntegrationName,
			BaseType:        inst.BaseType,
			Started:         inst.Started(),
		})
	}
	return out
}

// logError logs err and mirrors it to the operator.
func (n *Node) logError(msg string, err error) {
	n.logger.Error(msg, err, nil)
	n.emitLine(fmt.Sprintf("%s: %v", msg, err))
}

func (n *Node) emitLine(line string) {
	_, _ = fmt.Fprintln(n.out, line)
	if n.cb.OnLog != nil {
		n.cb.OnLog(line)
	}
}
