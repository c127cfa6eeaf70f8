// Package host materialises itinerary activities into running units. Units
// are compiled built-ins registered with RegisterUnit or Lua scripts fetched
// from the hub.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/drblury/edgeflow/internal/runtime/envelope"
	errspkg "github.com/drblury/edgeflow/internal/runtime/errors"
	"github.com/drblury/edgeflow/internal/runtime/itinerary"
	"github.com/drblury/edgeflow/internal/runtime/logging"
)

// Dispatcher routes unit output to the successors of the producing instance.
type Dispatcher interface {
	Dispatch(ctx context.Context, inst *Instance, env *envelope.Envelope) error
}

// StateChanger announces node state on behalf of units.
type StateChanger interface {
	ChangeState(ctx context.Context, state, node string) error
}

// Settings are the node values the host needs when it starts activities.
type Settings struct {
	NodeName       string
	OrganizationID string
	HubURI         string
	UseEncryption  bool
	Debug          bool
}

// Options configures a Host. Loader and Registry default to fresh instances.
type Options struct {
	Settings   Settings
	Loader     *Loader
	Registry   *Registry
	Dispatcher Dispatcher
	States     StateChanger
	Routes     Routes
	Logger     logging.ServiceLogger
}

// Host starts activities and owns the registry of running instances.
type Host struct {
	loader   *Loader
	registry *Registry
	logger   logging.ServiceLogger

	mu         sync.RWMutex
	settings   Settings
	dispatcher Dispatcher
	states     StateChanger
	routes     Routes

	debug      atomic.Bool
	exceptions atomic.Int64
}

func New(opts Options) (*Host, error) {
	if opts.Settings.NodeName == "" {
		return nil, errspkg.ErrNodeNameRequired
	}
	h := &Host{
		loader:     opts.Loader,
		registry:   opts.Registry,
		logger:     opts.Logger,
		settings:   opts.Settings,
		dispatcher: opts.Dispatcher,
		states:     opts.States,
		routes:     opts.Routes,
	}
	if h.loader == nil {
		h.loader = NewLoader(nil, 0)
	}
	if h.registry == nil {
		h.registry = NewRegistry()
	}
	if h.logger == nil {
		h.logger = logging.NopServiceLogger()
	}
	h.debug.Store(opts.Settings.Debug)
	return h, nil
}

func (h *Host) Registry() *Registry { return h.registry }
func (h *Host) Loader() *Loader     { return h.loader }

func (h *Host) Settings() Settings {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := h.settings
	s.Debug = h.debug.Load()
	return s
}

// Update replaces the node settings used for activities started afterwards.
func (h *Host) Update(s Settings) {
	h.mu.Lock()
	h.settings = s
	h.mu.Unlock()
	h.debug.Store(s.Debug)
}

func (h *Host) SetDispatcher(d Dispatcher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dispatcher = d
}

func (h *Host) SetStateChanger(s StateChanger) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states = s
}

// SetRoutes sets where inbound REST units bind. Units already initialised
// keep their binding.
func (h *Host) SetRoutes(r Routes) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.routes = r
}

func (h *Host) SetDebug(on bool) { h.debug.Store(on) }
func (h *Host) Debug() bool      { return h.debug.Load() }

// Exceptions is the number of activities that failed to start since the last
// ResetExceptions.
func (h *Host) Exceptions() int64 { return h.exceptions.Load() }
func (h *Host) ResetExceptions()  { h.exceptions.Store(0) }

func (h *Host) current() (Settings, Dispatcher, StateChanger, Routes) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.settings, h.dispatcher, h.states, h.routes
}

// Outcome reports what StartActivity did with an activity.
type Outcome struct {
	Service  string
	Instance *Instance
	// Status is empty when the activity is not placed on this node.
	Status logging.Status
	Script string
}

// Skipped reports whether the activity belongs to another node.
func (o Outcome) Skipped() bool { return o.Status == "" && o.Instance == nil }

// activityStart carries the state shared by the stages of StartActivity.
type activityStart struct {
	act      itinerary.Activity
	it       *itinerary.Itinerary
	force    bool
	settings Settings
	routes   Routes

	enabled bool
	factory UnitFactory
	source  []byte
	outcome Outcome
	// halt ends the pipeline early without an error.
	halt bool
}

type stage struct {
	name string
	run  func(ctx context.Context, s *activityStart) error
}

func (h *Host) stages() []stage {
	return []stage{
		{"resolve placement", h.resolvePlacement},
		{"check enabled", h.checkEnabled},
		{"resolve source", h.resolveSource},
		{"fetch", h.fetch},
		{"instantiate", h.instantiate},
	}
}

// StartActivity runs the activity through placement, source resolution,
// fetch and instantiation. Activities placed on other nodes are skipped
// unless force is set. A stage failure aborts this activity only; the
// returned outcome still carries the status to report. The instance is
// registered but not started.
func (h *Host) StartActivity(ctx context.Context, act itinerary.Activity, it *itinerary.Itinerary, force bool) (Outcome, error) {
	settings, _, _, routes := h.current()
	s := &activityStart{
		act:      act,
		it:       it,
		force:    force,
		settings: settings,
		routes:   routes,
		outcome:  Outcome{Service: act.UserData.ID},
	}
	if it == nil {
		return s.outcome, errspkg.ErrItineraryNotFound
	}

	for _, st := range h.stages() {
		if err := st.run(ctx, s); err != nil {
			h.exceptions.Add(1)
			if s.outcome.Status == "" {
				s.outcome.Status = logging.StatusFailed
			}
			h.logger.Error("Failed to start service", err, logging.LogFields{
				"stage":        st.name,
				"service":      act.UserData.ID,
				"itinerary_id": it.ItineraryID,
				"unit":         s.outcome.Script,
			})
			return s.outcome, err
		}
		if s.halt {
			break
		}
	}
	return s.outcome, nil
}

func (h *Host) resolvePlacement(_ context.Context, s *activityStart) error {
	hostList, err := s.act.Host()
	if err != nil {
		return err
	}
	enabled, err := s.act.Enabled()
	if err != nil {
		return err
	}
	s.enabled = enabled
	if !s.force && !itinerary.HostIncludes(hostList, s.settings.NodeName) {
		s.halt = true
	}
	return nil
}

func (h *Host) checkEnabled(_ context.Context, s *activityStart) error {
	if !s.enabled {
		s.outcome.Status = logging.StatusDisabled
		s.halt = true
	}
	return nil
}

func (h *Host) resolveSource(_ context.Context, s *activityStart) error {
	ud := s.act.UserData
	switch {
	case ud.IsInboundREST:
		s.factory, _ = LookupUnit(TypeInboundREST)
		return nil
	case ud.BaseType == itinerary.BaseTypeStateReceive:
		s.factory, _ = LookupUnit(TypeStateReceive)
		return nil
	}
	if f, ok := LookupUnit(ud.Type); ok {
		s.factory = f
		return nil
	}
	if ud.Type == "" {
		s.outcome.Status = logging.StatusNotFound
		return fmt.Errorf("activity %s has no unit type", ud.ID)
	}
	uri, err := ScriptURI(s.settings.HubURI, s.settings.OrganizationID, ud.Type, ud.IsCustom)
	if err != nil {
		s.outcome.Status = logging.StatusNotFound
		return err
	}
	s.outcome.Script = uri
	return nil
}

func (h *Host) fetch(ctx context.Context, s *activityStart) error {
	if s.factory != nil {
		return nil
	}
	src, err := h.loader.Fetch(ctx, s.outcome.Script)
	if err != nil {
		s.outcome.Status = logging.StatusNotFound
		return err
	}
	s.source = src
	return nil
}

func (h *Host) instantiate(ctx context.Context, s *activityStart) error {
	var unit Unit
	if s.factory != nil {
		unit = s.factory()
	} else {
		unit = NewLuaUnit(s.source)
	}

	inst := newInstance(s.act, s.it, s.settings.OrganizationID, s.settings.UseEncryption)
	inst.Unit = unit
	inst.Script = s.outcome.Script
	logger := h.logger.With(logging.LogFields{"service": inst.Name, "itinerary_id": inst.ItineraryID})
	unit.Subscribe(h.events(inst, logger))

	cfg := UnitConfig{
		Name:           inst.Name,
		ItineraryID:    inst.ItineraryID,
		OrganizationID: inst.OrganizationID,
		NodeName:       s.settings.NodeName,
		Activity:       s.act,
		Static:         s.act.StaticMap(),
		Logger:         logger,
		Routes:         s.routes,
	}
	if err := unit.Init(ctx, cfg); err != nil {
		return &errspkg.InitializationError{Service: inst.Name, ItineraryID: inst.ItineraryID, Err: err}
	}

	if prev := h.registry.Add(inst); prev != nil {
		if err := prev.Stop(ctx); err != nil {
			logger.Error("Failed to stop replaced service", err, nil)
		}
	}
	s.outcome.Instance = inst
	s.outcome.Status = logging.StatusStopped
	return nil
}

func (h *Host) events(inst *Instance, logger logging.ServiceLogger) Events {
	return Events{
		OnMessageReceived: func(ctx context.Context, msg Message) {
			_, dispatcher, _, _ := h.current()
			if dispatcher == nil {
				logger.Error("Dropping message", errors.New("no dispatcher configured"), nil)
				return
			}
			if err := dispatcher.Dispatch(ctx, inst, inst.Envelope(msg)); err != nil {
				logger.Error("Failed to dispatch message", err, nil)
			}
		},
		OnReceivedState: func(ctx context.Context, state string) {
			settings, _, states, _ := h.current()
			if states == nil {
				return
			}
			if err := states.ChangeState(ctx, state, settings.NodeName); err != nil {
				logger.Error("Failed to change state", err, logging.LogFields{"state": state})
			}
		},
		OnError: func(err error) {
			logger.Error("Service error", err, nil)
		},
		OnDebug: func(text string) {
			if h.debug.Load() {
				logger.Info(text, logging.LogFields{"debug": true})
			}
		},
	}
}
