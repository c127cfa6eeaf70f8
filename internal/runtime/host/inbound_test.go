package host

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/edgeflow/internal/runtime/envelope"
	"github.com/drblury/edgeflow/internal/runtime/itinerary"
)

func newInbound(t *testing.T, static map[string]any) (*InboundREST, chi.Router, *capture) {
	t.Helper()
	r := chi.NewRouter()
	u := NewInboundREST()
	c := &capture{}
	u.Subscribe(c.events())
	require.NoError(t, u.Init(context.Background(), UnitConfig{Name: "Orders", Static: static, Routes: r}))
	return u, r, c
}

func serve(r http.Handler, method, target, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestInboundRESTRequiresListener(t *testing.T) {
	assert.ErrorIs(t, NewInboundREST().Init(context.Background(), UnitConfig{Name: "x"}), errNoListener)
}

func TestInboundRESTUnavailableUntilStarted(t *testing.T) {
	u, r, c := newInbound(t, nil)
	assert.Equal(t, "/orders", u.Route())

	rec := serve(r, http.MethodPost, "/orders", "application/json", `{"id":1}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, c.msgs)

	require.NoError(t, u.Start(context.Background()))
	rec = serve(r, http.MethodPost, "/orders", "application/json", `{"id":1}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, c.msgs, 1)
	assert.JSONEq(t, `{"id":1}`, string(c.msgs[0].Body))
	assert.Equal(t, envelope.ContentTypeJSON, c.msgs[0].ContentType)
	assert.Nil(t, c.msgs[0].Source)

	require.NoError(t, u.Stop(context.Background()))
	rec = serve(r, http.MethodPost, "/orders", "application/json", `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestInboundRESTBodies(t *testing.T) {
	u, r, c := newInbound(t, map[string]any{StaticRoute: "intake", StaticMethod: "put"})
	require.NoError(t, u.Start(context.Background()))

	rec := serve(r, http.MethodPut, "/intake", "application/x-www-form-urlencoded", "name=acme&city=berlin")
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec = serve(r, http.MethodPut, "/intake", "text/csv", "a,b")
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec = serve(r, http.MethodPut, "/intake", "application/json", `{broken`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = serve(r, http.MethodPost, "/intake", "application/json", `{}`)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	require.Len(t, c.msgs, 2)
	assert.JSONEq(t, `{"name":"acme","city":"berlin"}`, string(c.msgs[0].Body))
	assert.Equal(t, "a,b", string(c.msgs[1].Body))
	assert.Equal(t, "text/csv", c.msgs[1].ContentType)
}

func TestInboundRESTThroughHost(t *testing.T) {
	r := chi.NewRouter()
	h, d, _ := newHost(t, "http://hub")
	h.SetRoutes(r)

	act := activity("intake", "webhook", testNode, true)
	act.UserData.IsInboundREST = true
	out, err := h.StartActivity(context.Background(), act, testItinerary(act), false)
	require.NoError(t, err)
	assert.Empty(t, out.Script)
	require.NoError(t, out.Instance.Start(context.Background()))

	rec := serve(r, http.MethodPost, "/intake", "application/json", `{"ok":true}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	calls := d.all()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].env.IsFirstAction)
	assert.Equal(t, "intake", calls[0].env.LastActivity)
	assert.Equal(t, "orders", calls[0].env.IntegrationName)
}

func TestStateReceiveAdapter(t *testing.T) {
	u := NewStateReceiveAdapter()
	c := &capture{}
	u.Subscribe(c.events())

	require.NoError(t, u.ReceiveState(context.Background(), "Active"))
	d := delivery(t, envelope.ContentTypeJSON, `{"a":1}`)
	require.NoError(t, u.Process(context.Background(), d))

	require.Len(t, c.msgs, 2)
	assert.JSONEq(t, `{"state":"Active"}`, string(c.msgs[0].Body))
	assert.Same(t, d.Envelope, c.msgs[1].Source)
	assert.JSONEq(t, `{"a":1}`, string(c.msgs[1].Body))
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	it := testItinerary()
	mk := func(id, baseType string) *Instance {
		act := activity(id, TypeStateReceive, testNode, true)
		act.UserData.BaseType = baseType
		inst := newInstance(act, it, "", false)
		inst.Unit = NewStateReceiveAdapter()
		return inst
	}

	a := mk("A", itinerary.BaseTypeStateReceive)
	b := mk("b", "")
	assert.Nil(t, reg.Add(a))
	assert.Nil(t, reg.Add(b))

	got, ok := reg.Lookup("it-1", "a")
	require.True(t, ok)
	assert.Same(t, a, got)
	_, ok = reg.Lookup("it-2", "a")
	assert.False(t, ok)

	replacement := mk("a", "")
	assert.Same(t, a, reg.Add(replacement))
	assert.Equal(t, []*Instance{replacement, b}, reg.All())
	assert.Empty(t, reg.ByBaseType(itinerary.BaseTypeStateReceive))

	require.NoError(t, replacement.Start(context.Background()))
	var stopped []string
	require.NoError(t, reg.StopAll(context.Background(), func(inst *Instance, err error) {
		stopped = append(stopped, inst.Name)
	}))
	assert.Equal(t, []string{"a", "b"}, stopped)
	assert.False(t, replacement.Started())
	assert.Equal(t, 0, reg.Len())
}

func TestBuiltinUnitTypes(t *testing.T) {
	RegisterUnit("custom-test", func() Unit { return NewStateReceiveAdapter() })
	_, ok := LookupUnit("CUSTOM-TEST")
	assert.True(t, ok)
	assert.Contains(t, UnitTypes(), strings.ToLower(TypeAzureAPIAppInbound))
}
