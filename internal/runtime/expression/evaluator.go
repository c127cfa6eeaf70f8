package expression

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/drblury/edgeflow/internal/runtime/envelope"
	"github.com/drblury/edgeflow/internal/runtime/jsoncodec"
)

// MessageGlobal is the name the decoded body is bound to.
const MessageGlobal = "message"

// RouteGlobal is read when an expression assigns its result instead of
// returning it.
const RouteGlobal = "route"

var (
	routeDecl = regexp.MustCompile(`\bvar\s+` + RouteGlobal + `\s*=`)
	varDecl   = regexp.MustCompile(`\bvar\s+`)
)

// Normalize rewrites hub style declarations into Lua: "var route =" assigns
// the route global and any other "var x =" becomes a local.
func Normalize(expr string) string {
	expr = routeDecl.ReplaceAllString(expr, RouteGlobal+" =")
	return varDecl.ReplaceAllString(expr, "local ")
}

// Evaluator runs routing expressions. The zero value has no timeout.
type Evaluator struct {
	Timeout time.Duration
}

// NewEvaluator returns an evaluator that aborts expressions running longer
// than timeout.
func NewEvaluator(timeout time.Duration) *Evaluator {
	return &Evaluator{Timeout: timeout}
}

// Eligible evaluates expr against the message and the envelope variables and
// reports whether the successor should receive the message. Expressions may
// either return a value ("message.total > 100") or assign the global route
// ("if message.total > 100 then route = true end"). Expressions pass through
// Normalize first. An empty expression is always eligible.
func (e *Evaluator) Eligible(ctx context.Context, expr string, message any, vars []envelope.Variable) (bool, error) {
	expr = Normalize(strings.TrimSpace(expr))
	if expr == "" {
		return true, nil
	}

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	L := NewSandbox()
	defer L.Close()
	L.SetContext(ctx)

	if message == nil {
		message = map[string]any{}
	}
	L.SetGlobal(MessageGlobal, ToLua(L, message))
	for _, v := range vars {
		L.SetGlobal(v.Variable, bindVariable(L, v))
	}

	fn, err := compile(L, expr)
	if err != nil {
		return false, err
	}

	L.Push(fn)
	if err := L.PCall(0, 1, nil); err != nil {
		return false, fmt.Errorf("evaluate: %w", err)
	}
	result := L.Get(-1)
	L.Pop(1)

	if result == lua.LNil {
		result = L.GetGlobal(RouteGlobal)
	}
	return lua.LVAsBool(result), nil
}

func compile(L *lua.LState, expr string) (*lua.LFunction, error) {
	if fn, err := L.LoadString("return " + expr); err == nil {
		return fn, nil
	}
	fn, err := L.LoadString(expr)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	return fn, nil
}

func bindVariable(L *lua.LState, v envelope.Variable) lua.LValue {
	switch v.Type {
	case envelope.VariableNumber, envelope.VariableDecimal:
		switch n := v.Value.(type) {
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return lua.LNumber(f)
			}
			return lua.LString(n)
		default:
			return ToLua(L, n)
		}
	case envelope.VariableMessage:
		if s, ok := v.Value.(string); ok {
			if decoded, err := jsoncodec.DecodeValue([]byte(s)); err == nil {
				return ToLua(L, decoded)
			}
			return lua.LString(s)
		}
		return ToLua(L, v.Value)
	default:
		if v.Value == nil {
			return lua.LNil
		}
		return lua.LString(fmt.Sprint(v.Value))
	}
}
