package host

import (
	"context"
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/drblury/edgeflow/internal/runtime/envelope"
	"github.com/drblury/edgeflow/internal/runtime/expression"
	"github.com/drblury/edgeflow/internal/runtime/jsoncodec"
	"github.com/drblury/edgeflow/internal/runtime/logging"
)

// Script entry points. All of them are optional.
const (
	luaInit           = "init"
	luaProcess        = "process"
	luaStart          = "start"
	luaStop           = "stop"
	luaResolveAddress = "resolve_address"
)

// LuaUnit runs a unit script fetched from the hub in a sandboxed Lua state.
// Scripts see emit, fault, set_state, debug and log. Messages and state
// changes raised by the script are buffered and handed to the host after
// the script returns, so a unit can receive its own output without
// deadlocking.
type LuaUnit struct {
	Base
	source string

	mu      sync.Mutex
	L       *lua.LState
	cfg     UnitConfig
	logger  logging.ServiceLogger
	current *envelope.Envelope
	pending []Message
	states  []string
}

func NewLuaUnit(source []byte) *LuaUnit {
	return &LuaUnit{source: string(source)}
}

func (u *LuaUnit) Init(ctx context.Context, cfg UnitConfig) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.cfg = cfg
	u.logger = cfg.Logger
	if u.logger == nil {
		u.logger = logging.NopServiceLogger()
	}
	u.L = expression.NewSandbox()
	u.register()

	u.L.SetContext(ctx)
	defer u.L.RemoveContext()
	if err := u.L.DoString(u.source); err != nil {
		u.L.Close()
		u.L = nil
		return fmt.Errorf("load script: %w", err)
	}

	conf := u.L.CreateTable(0, len(cfg.Static)+4)
	for k, v := range cfg.Static {
		conf.RawSetString(k, expression.ToLua(u.L, v))
	}
	conf.RawSetString("name", lua.LString(cfg.Name))
	conf.RawSetString("itineraryId", lua.LString(cfg.ItineraryID))
	conf.RawSetString("organizationId", lua.LString(cfg.OrganizationID))
	conf.RawSetString("node", lua.LString(cfg.NodeName))
	if _, err := u.call(luaInit, 0, conf); err != nil {
		u.L.Close()
		u.L = nil
		return err
	}
	return nil
}

func (u *LuaUnit) Process(ctx context.Context, d Delivery) error {
	msgs, states, err := u.run(ctx, d.Envelope, func() error {
		vars := u.L.CreateTable(0, len(d.Envelope.Variables))
		for _, v := range d.Envelope.Variables {
			vars.RawSetString(v.Variable, expression.ToLua(u.L, v.Value))
		}
		info := u.L.CreateTable(0, 6)
		info.RawSetString("interchangeId", lua.LString(d.Envelope.InterchangeID))
		info.RawSetString("itineraryId", lua.LString(d.Envelope.ItineraryID))
		info.RawSetString("lastActivity", lua.LString(d.Envelope.LastActivity))
		info.RawSetString("contentType", lua.LString(d.Envelope.ContentType))
		info.RawSetString("sender", lua.LString(d.Envelope.Sender))
		info.RawSetString("variables", vars)

		ret, err := u.call(luaProcess, 1, expression.ToLua(u.L, d.Payload.Value), info)
		if err != nil || ret == lua.LNil {
			return err
		}
		// A returned value is emitted like emit(value).
		msg, err := luaMessage(ret, "")
		if err != nil {
			return err
		}
		msg.Source = d.Envelope
		u.pending = append(u.pending, msg)
		return nil
	})
	u.flush(ctx, msgs, states)
	return err
}

func (u *LuaUnit) Start(ctx context.Context) error {
	msgs, states, err := u.run(ctx, nil, func() error {
		_, err := u.call(luaStart, 0)
		return err
	})
	u.flush(ctx, msgs, states)
	return err
}

func (u *LuaUnit) Stop(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.L == nil {
		return nil
	}
	u.L.SetContext(ctx)
	_, err := u.call(luaStop, 0)
	u.L.Close()
	u.L = nil
	u.pending, u.states = nil, nil
	return err
}

// ResolveAddress calls resolve_address(host, message) when the script defines
// it and falls back to placeholder expansion otherwise.
func (u *LuaUnit) ResolveAddress(ctx context.Context, host string, env *envelope.Envelope, payload []byte) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.L == nil || !u.defines(luaResolveAddress) {
		return expression.ResolveAddress(host, env.Variables, payload)
	}

	u.L.SetContext(ctx)
	defer u.L.RemoveContext()
	var message any = string(payload)
	if env.IsJSON() && len(payload) > 0 {
		if v, err := jsoncodec.DecodeValue(payload); err == nil {
			message = v
		}
	}
	ret, err := u.call(luaResolveAddress, 1, lua.LString(host), expression.ToLua(u.L, message))
	if err != nil {
		return "", err
	}
	if ret == lua.LNil {
		return expression.ResolveAddress(host, env.Variables, payload)
	}
	return lua.LVAsString(ret), nil
}

func (u *LuaUnit) run(ctx context.Context, current *envelope.Envelope, fn func() error) ([]Message, []string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.L == nil {
		return nil, nil, fmt.Errorf("unit %s is not initialised", u.cfg.Name)
	}
	u.L.SetContext(ctx)
	defer u.L.RemoveContext()
	u.current = current
	defer func() { u.current = nil }()

	err := fn()
	msgs, states := u.pending, u.states
	u.pending, u.states = nil, nil
	return msgs, states, err
}

func (u *LuaUnit) flush(ctx context.Context, msgs []Message, states []string) {
	for _, state := range states {
		u.EmitState(ctx, state)
	}
	for _, msg := range msgs {
		u.Emit(ctx, msg)
	}
}

func (u *LuaUnit) defines(name string) bool {
	_, ok := u.L.GetGlobal(name).(*lua.LFunction)
	return ok
}

// call invokes a global function if it is defined. Missing functions are a
// no-op returning nil.
func (u *LuaUnit) call(name string, nret int, args ...lua.LValue) (lua.LValue, error) {
	fn, ok := u.L.GetGlobal(name).(*lua.LFunction)
	if !ok {
		return lua.LNil, nil
	}
	if err := u.L.CallByParam(lua.P{Fn: fn, NRet: nret, Protect: true}, args...); err != nil {
		return lua.LNil, fmt.Errorf("%s: %w", name, err)
	}
	if nret == 0 {
		return lua.LNil, nil
	}
	ret := u.L.Get(-1)
	u.L.Pop(1)
	return ret, nil
}

func (u *LuaUnit) register() {
	u.L.SetGlobal("emit", u.L.NewFunction(u.luaEmit))
	u.L.SetGlobal("fault", u.L.NewFunction(u.luaFault))
	u.L.SetGlobal("set_state", u.L.NewFunction(u.luaSetState))
	u.L.SetGlobal("debug", u.L.NewFunction(u.luaDebug))
	u.L.SetGlobal("log", u.L.NewFunction(u.luaLog))
}

func (u *LuaUnit) luaEmit(L *lua.LState) int {
	msg, err := luaMessage(L.CheckAny(1), L.OptString(2, ""))
	if err != nil {
		L.ArgError(1, err.Error())
		return 0
	}
	msg.Source = u.current
	u.pending = append(u.pending, msg)
	return 0
}

func (u *LuaUnit) luaFault(L *lua.LState) int {
	msg := Message{
		Source:           u.current,
		FaultCode:        L.CheckString(1),
		FaultDescription: L.OptString(2, ""),
	}
	if u.current != nil {
		msg.ContentType = u.current.ContentType
		if body, err := u.current.Body(); err == nil {
			msg.Body = body
		}
	}
	u.pending = append(u.pending, msg)
	return 0
}

func (u *LuaUnit) luaSetState(L *lua.LState) int {
	u.states = append(u.states, L.CheckString(1))
	return 0
}

func (u *LuaUnit) luaDebug(L *lua.LState) int {
	u.EmitDebug(L.CheckString(1))
	return 0
}

func (u *LuaUnit) luaLog(L *lua.LState) int {
	u.logger.Info(L.CheckString(1), logging.LogFields{"service": u.cfg.Name, "itinerary_id": u.cfg.ItineraryID})
	return 0
}

// luaMessage converts a script value into unit output. Strings keep their
// bytes, everything else is encoded as JSON.
func luaMessage(v lua.LValue, contentType string) (Message, error) {
	if s, ok := v.(lua.LString); ok {
		if contentType == "" {
			contentType = "text/plain"
		}
		return Message{Body: []byte(s), ContentType: contentType}, nil
	}
	body, err := jsoncodec.Marshal(expression.FromLua(v))
	if err != nil {
		return Message{}, fmt.Errorf("encode message: %w", err)
	}
	if contentType == "" {
		contentType = envelope.ContentTypeJSON
	}
	return Message{Body: body, ContentType: contentType}, nil
}
