package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/edgeflow/internal/runtime/config"
	"github.com/drblury/edgeflow/internal/runtime/envelope"
	errspkg "github.com/drblury/edgeflow/internal/runtime/errors"
	"github.com/drblury/edgeflow/internal/runtime/host"
	"github.com/drblury/edgeflow/internal/runtime/itinerary"
	loggingpkg "github.com/drblury/edgeflow/internal/runtime/logging"
	"github.com/drblury/edgeflow/internal/runtime/rest"
	"github.com/drblury/edgeflow/internal/runtime/retrystore"
	"github.com/drblury/edgeflow/transport"
)

const (
	testNode    = "edge-1"
	forwardType = "node-test-forward"
)

func init() {
	host.RegisterUnit(forwardType, func() host.Unit { return &forwardUnit{} })
}

// forwardUnit passes every delivery on to its successors.
type forwardUnit struct {
	host.Base
}

func (u *forwardUnit) Init(context.Context, host.UnitConfig) error { return nil }
func (u *forwardUnit) Start(context.Context) error                 { return nil }
func (u *forwardUnit) Stop(context.Context) error                  { return nil }

func (u *forwardUnit) Process(ctx context.Context, d host.Delivery) error {
	u.Emit(ctx, host.Message{Body: d.Payload.Raw, ContentType: d.Envelope.ContentType, Source: d.Envelope})
	return nil
}

type submitCall struct {
	env     *envelope.Envelope
	node    string
	service string
}

// recordingContract is an in-memory transport.Contract.
type recordingContract struct {
	mu       sync.Mutex
	starts   int
	stops    int
	updates  int
	settings transport.Settings
	handlers transport.Handlers
	submits  []submitCall
	tracked  []envelope.TrackingRecord
}

func (c *recordingContract) Start(_ context.Context, onReady func()) error {
	c.mu.Lock()
	c.starts++
	c.mu.Unlock()
	if onReady != nil {
		onReady()
	}
	return nil
}

func (c *recordingContract) Stop(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	return nil
}

func (c *recordingContract) Submit(_ context.Context, env *envelope.Envelope, node, service string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submits = append(c.submits, submitCall{env: env, node: node, service: service})
	return nil
}

func (c *recordingContract) Track(_ context.Context, rec envelope.TrackingRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracked = append(c.tracked, rec)
	return nil
}

func (c *recordingContract) ChangeState(context.Context, string, string) error { return nil }

func (c *recordingContract) Update(_ context.Context, s transport.Settings) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates++
	c.settings = s
	return nil
}

func (c *recordingContract) SetHandlers(h transport.Handlers) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = h
}

func (c *recordingContract) currentHandlers() transport.Handlers {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handlers
}

func (c *recordingContract) submissions() []submitCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]submitCall(nil), c.submits...)
}

func (c *recordingContract) records() []envelope.TrackingRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]envelope.TrackingRecord(nil), c.tracked...)
}

func (c *recordingContract) counts() (starts, stops, updates int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts, c.stops, c.updates
}

type nodeFixture struct {
	node     *Node
	contract *recordingContract
	builds   int
	out      *syncBuffer
	started  [][2]int64
	actions  []transport.Action
}

// syncBuffer collects status output written from several goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newNodeFixture(t *testing.T, mutate func(*configpkg.Config), deps NodeDependencies) *nodeFixture {
	t.Helper()
	conf := &configpkg.Config{
		NodeName:       testNode,
		OrganizationID: "org-1",
		PersistDir:     t.TempDir(),
		RestoreDelay:   time.Hour,
	}
	if mutate != nil {
		mutate(conf)
	}

	f := &nodeFixture{contract: &recordingContract{}, out: &syncBuffer{}}
	deps.Contract = func(context.Context, *configpkg.Config, transport.Settings) (transport.Contract, error) {
		f.builds++
		return f.contract, nil
	}
	deps.Output = f.out
	if deps.Listener == nil {
		deps.Listener = rest.New(rest.Options{Address: "127.0.0.1:0"})
	}
	deps.Callbacks.OnStarted = func(loaded int, exceptions int64) {
		f.started = append(f.started, [2]int64{int64(loaded), exceptions})
	}
	deps.Callbacks.OnAction = func(_ context.Context, action transport.Action) {
		f.actions = append(f.actions, action)
	}

	node, err := NewNode(conf, loggingpkg.NopServiceLogger(), deps)
	require.NoError(t, err)
	f.node = node
	t.Cleanup(func() { _ = node.Shutdown(context.Background()) })
	return f
}

func (f *nodeFixture) signIn(t *testing.T, state string, its ...itinerary.Itinerary) {
	t.Helper()
	require.NoError(t, f.node.SignInComplete(context.Background(), configpkg.SignInResponse{
		Sas:         "secret",
		State:       state,
		Itineraries: its,
	}))
}

func (f *nodeFixture) instance(t *testing.T, itineraryID, name string) *host.Instance {
	t.Helper()
	inst, ok := f.node.Host().Registry().Lookup(itineraryID, name)
	require.True(t, ok, "instance %s", name)
	return inst
}

func activity(id, hostAssignment string, opts ...func(*itinerary.Activity)) itinerary.Activity {
	a := itinerary.Activity{
		ID:   "g-" + id,
		Type: "draw2d.shape.basic.Rectangle",
		UserData: itinerary.UserData{
			ID:   id,
			Type: forwardType,
			Config: &itinerary.ActivityConfig{
				GeneralConfig: []itinerary.Setting{
					{ID: itinerary.KeyHost, Value: hostAssignment},
					{ID: itinerary.KeyEnabled, Value: true},
				},
			},
		},
	}
	for _, opt := range opts {
		opt(&a)
	}
	return a
}

func disabled(a *itinerary.Activity) {
	a.UserData.Config.GeneralConfig[1].Value = false
}

func baseType(bt string) func(*itinerary.Activity) {
	return func(a *itinerary.Activity) { a.UserData.BaseType = bt }
}

func connect(from, to string) itinerary.Connection {
	return itinerary.Connection{
		Type:   itinerary.ConnectionType,
		Source: itinerary.Endpoint{Node: "g-" + from},
		Target: itinerary.Endpoint{Node: "g-" + to},
	}
}

func integration(id string, acts []itinerary.Activity, edges ...itinerary.Connection) itinerary.Itinerary {
	return itinerary.Itinerary{ItineraryID: id, IntegrationName: "integration-" + id, Activities: acts, Connections: edges}
}

func TestNewNodeRequiresConfigAndLogger(t *testing.T) {
	_, err := NewNode(nil, loggingpkg.NopServiceLogger(), NodeDependencies{})
	assert.ErrorIs(t, err, errspkg.ErrConfigRequired)

	_, err = NewNode(&configpkg.Config{NodeName: testNode}, nil, NodeDependencies{})
	assert.ErrorIs(t, err, errspkg.ErrLoggerRequired)

	_, err = NewNode(&configpkg.Config{NodeName: "a,b"}, loggingpkg.NopServiceLogger(), NodeDependencies{})
	assert.Error(t, err)
}

func TestSignInWithoutContractFactoryFails(t *testing.T) {
	node, err := NewNode(&configpkg.Config{NodeName: testNode}, loggingpkg.NopServiceLogger(), NodeDependencies{
		Output:   io.Discard,
		Listener: rest.New(rest.Options{Address: "127.0.0.1:0"}),
	})
	require.NoError(t, err)
	err = node.SignInComplete(context.Background(), configpkg.SignInResponse{})
	assert.ErrorIs(t, err, errspkg.ErrTransportRequired)
}

func TestSignInBuildsContractOnceAndPersistsRedactedSettings(t *testing.T) {
	settingsFile := filepath.Join(t.TempDir(), "settings.json")
	f := newNodeFixture(t, func(c *configpkg.Config) { c.SettingsFile = settingsFile }, NodeDependencies{})

	require.NoError(t, f.node.SignInComplete(context.Background(), configpkg.SignInResponse{
		Sas:   "secret",
		Debug: true,
		State: "Active",
		Port:  8080,
		Tags:  []string{"factory"},
	}))
	f.signIn(t, "Active")

	assert.Equal(t, 1, f.builds)
	_, _, updates := f.contract.counts()
	assert.Equal(t, 1, updates)
	assert.Equal(t, testNode, f.contract.settings.NodeName)

	saved, err := configpkg.LoadSettings(settingsFile)
	require.NoError(t, err)
	assert.Equal(t, "secret", saved.Sas)
	assert.Equal(t, testNode, saved.NodeName)
	assert.False(t, saved.Debug)
	assert.Empty(t, saved.State)
	assert.Zero(t, saved.Port)
	assert.Empty(t, saved.Tags)
}

func TestReloadSelectsActivitiesForNode(t *testing.T) {
	f := newNodeFixture(t, func(c *configpkg.Config) { c.Tags = []string{"factory"} }, NodeDependencies{})

	f.signIn(t, "Active", integration("it-1", []itinerary.Activity{
		activity("A", testNode),
		activity("B", "node-b"),
		activity("C", testNode, disabled),
		activity("D", "factory", baseType(itinerary.BaseTypeOneWayReceive)),
		activity("E", "factory"),
		{ID: "edge", Type: itinerary.ConnectionType},
	}))

	reg := f.node.Host().Registry()
	assert.Equal(t, 2, reg.Len())
	a := f.instance(t, "it-1", "A")
	d := f.instance(t, "it-1", "D")
	assert.True(t, a.Started())
	assert.True(t, d.Started())
	claimed, err := d.Activity.Host()
	require.NoError(t, err)
	assert.Equal(t, testNode, claimed)

	assert.Equal(t, [][2]int64{{2, 0}}, f.started)
	assert.Equal(t, LoadDone, f.node.LoadState())
	starts, _, _ := f.contract.counts()
	assert.Equal(t, 1, starts)

	out := f.out.String()
	assert.Contains(t, out, "Started")
	assert.Contains(t, out, "Disabled")
	assert.NotContains(t, out, "|B ")
}

func TestFailedActivityDoesNotAbortSiblings(t *testing.T) {
	f := newNodeFixture(t, nil, NodeDependencies{})
	broken := activity("broken", testNode, func(a *itinerary.Activity) { a.UserData.Type = "" })

	f.signIn(t, "Active", integration("it-1", []itinerary.Activity{activity("A", testNode), broken}))

	assert.Equal(t, 1, f.node.Host().Registry().Len())
	assert.Equal(t, [][2]int64{{1, 1}}, f.started)
	assert.Contains(t, f.out.String(), "Not found")
}

func TestInactiveNodeKeepsServicesStopped(t *testing.T) {
	f := newNodeFixture(t, nil, NodeDependencies{})
	f.signIn(t, "Inactive", integration("it-1", []itinerary.Activity{activity("A", testNode)}))

	a := f.instance(t, "it-1", "A")
	assert.False(t, a.Started())
	starts, _, _ := f.contract.counts()
	assert.Zero(t, starts)
	assert.Empty(t, f.started)

	require.NoError(t, f.node.ChangeState(context.Background(), "Active"))
	assert.True(t, f.instance(t, "it-1", "A").Started())
	starts, _, _ = f.contract.counts()
	assert.Equal(t, 1, starts)

	require.NoError(t, f.node.ChangeState(context.Background(), "Inactive"))
	assert.Zero(t, f.node.Host().Registry().Len())
	assert.Equal(t, 1, f.node.Itineraries().Len())
	assert.False(t, a.Started())
}

func TestInactiveNodeStopsReceivingAndNacks(t *testing.T) {
	ctx := context.Background()
	f := newNodeFixture(t, nil, NodeDependencies{})
	f.signIn(t, "Active", integration("it-1",
		[]itinerary.Activity{activity("A", testNode), activity("B", "node-b")},
		connect("A", "B"),
	))

	require.NoError(t, f.node.ChangeState(ctx, "Inactive"))
	starts, stops, _ := f.contract.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)

	env := envelope.New(envelope.Origin{ItineraryID: "it-1", Activity: "inbound"}, envelope.ContentTypeJSON, []byte(`{}`))
	err := f.contract.currentHandlers().MessageReceived(ctx, transport.NewInboundMessage(env, "A"))
	assert.ErrorIs(t, err, errspkg.ErrNodeInactive)
	assert.Empty(t, f.contract.records())

	// a reload while inactive registers the services without starting them
	require.NoError(t, f.node.UpdateItinerary(ctx, integration("it-1",
		[]itinerary.Activity{activity("A", testNode), activity("B", "node-b")},
		connect("A", "B"),
	)))
	a := f.instance(t, "it-1", "A")
	assert.False(t, a.Started())
	err = f.contract.currentHandlers().MessageReceived(ctx, transport.NewInboundMessage(env, "A"))
	assert.ErrorIs(t, err, errspkg.ErrNodeInactive)
	assert.Empty(t, f.contract.submissions())
	assert.Empty(t, f.contract.records())

	require.NoError(t, f.node.ChangeState(ctx, "Active"))
	starts, _, _ = f.contract.counts()
	assert.Equal(t, 2, starts)
	require.NoError(t, f.contract.currentHandlers().MessageReceived(ctx, transport.NewInboundMessage(env, "A")))
	assert.Len(t, f.contract.submissions(), 1)
}

func TestReloadGuard(t *testing.T) {
	f := newNodeFixture(t, nil, NodeDependencies{})
	assert.Equal(t, LoadNone, f.node.LoadState())

	f.node.loading.Store(int32(LoadLoading))
	assert.ErrorIs(t, f.node.Reload(context.Background()), errspkg.ErrReloadInProgress)

	f.node.loading.Store(int32(LoadDone))
	assert.NoError(t, f.node.Reload(context.Background()))
	assert.Equal(t, LoadDone, f.node.LoadState())
}

func TestRemoteSuccessorIsSubmittedOnce(t *testing.T) {
	f := newNodeFixture(t, nil, NodeDependencies{})
	f.signIn(t, "Active", integration("it-1",
		[]itinerary.Activity{activity("A", testNode), activity("B", "node-b")},
		connect("A", "B"),
	))

	env := envelope.New(envelope.Origin{ItineraryID: "it-1", Activity: "inbound"}, envelope.ContentTypeJSON, []byte(`{"x":1}`))
	handlers := f.contract.currentHandlers()
	require.NoError(t, handlers.MessageReceived(context.Background(), transport.NewInboundMessage(env, "A")))

	subs := f.contract.submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, "node-b", subs[0].node)
	assert.Equal(t, "B", subs[0].service)
	body, err := subs[0].env.Body()
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1}`, string(body))

	var trail []string
	for _, rec := range f.contract.records() {
		trail = append(trail, rec.LastActivity+":"+rec.State)
	}
	assert.Equal(t, []string{"A:" + envelope.StateStarted, "A:" + envelope.StateCompleted}, trail)
}

func TestRoutingMissIsAcknowledged(t *testing.T) {
	var lines []string
	f := newNodeFixture(t, nil, NodeDependencies{Callbacks: Callbacks{OnLog: func(line string) { lines = append(lines, line) }}})
	f.signIn(t, "Active", integration("it-1", []itinerary.Activity{activity("A", testNode)}))

	env := envelope.New(envelope.Origin{ItineraryID: "it-1"}, envelope.ContentTypeJSON, []byte(`{}`))
	err := f.node.ReceiveMessage(context.Background(), transport.NewInboundMessage(env, "ghost"))
	require.NoError(t, err)

	recs := f.contract.records()
	require.Len(t, recs, 1)
	assert.Equal(t, errspkg.RoutingMissCode, recs[0].FaultCode)
	assert.True(t, recs[0].IsFault)
	assert.True(t, containsLine(lines, errspkg.RoutingMissCode))

	assert.NoError(t, f.node.ReceiveMessage(context.Background(), transport.InboundMessage{}))
}

func containsLine(lines []string, fragment string) bool {
	for _, l := range lines {
		if strings.Contains(l, fragment) {
			return true
		}
	}
	return false
}

func TestReceiveStateReachesStateAdapter(t *testing.T) {
	f := newNodeFixture(t, nil, NodeDependencies{})
	f.signIn(t, "Active", integration("it-1",
		[]itinerary.Activity{activity("S", testNode, baseType(itinerary.BaseTypeStateReceive)), activity("B", "node-b")},
		connect("S", "B"),
	))

	require.NoError(t, f.node.ReceiveState(context.Background(), "Maintenance"))

	subs := f.contract.submissions()
	require.Len(t, subs, 1)
	body, err := subs[0].env.Body()
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"Maintenance"}`, string(body))

	f.contract.currentHandlers().StateReceived(context.Background(), "Active")
	assert.Len(t, f.contract.submissions(), 2)
}

func TestUpdateItineraryReplacesOnlyThatItinerary(t *testing.T) {
	f := newNodeFixture(t, nil, NodeDependencies{})
	f.signIn(t, "Active",
		integration("it-1", []itinerary.Activity{activity("A", testNode)}),
		integration("it-2", []itinerary.Activity{activity("X", testNode)}),
	)
	oldA := f.instance(t, "it-1", "A")

	require.NoError(t, f.node.UpdateItinerary(context.Background(),
		integration("it-1", []itinerary.Activity{activity("A2", testNode)})))

	reg := f.node.Host().Registry()
	assert.Equal(t, 2, reg.Len())
	_, ok := reg.Lookup("it-1", "A")
	assert.False(t, ok)
	assert.True(t, f.instance(t, "it-1", "A2").Started())
	assert.True(t, f.instance(t, "it-2", "X").Started())
	assert.False(t, oldA.Started())
}

func TestRestorePersistedMessages(t *testing.T) {
	ctx := context.Background()
	store, err := retrystore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	for range 3 {
		_, err := store.PutTracking(ctx, envelope.TrackingRecord{InterchangeID: "ic-1", State: envelope.StateCompleted})
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "broken"), []byte("{not json"), 0o600))

	f := newNodeFixture(t, nil, NodeDependencies{Store: store})
	_, err = f.node.RestorePersistedMessages(ctx)
	assert.ErrorIs(t, err, errspkg.ErrTransportRequired)

	f.signIn(t, "Active")
	res, err := f.node.RestorePersistedMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Dispatched)
	assert.Equal(t, 1, res.Corrupt)
	assert.Len(t, f.contract.records(), 3)

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestConcurrentRestoresDispatchEachItemOnce(t *testing.T) {
	ctx := context.Background()
	store, err := retrystore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	const stored = 50
	for range stored {
		env := envelope.New(envelope.Origin{ItineraryID: "it-9"}, envelope.ContentTypeJSON, []byte(`{}`))
		_, err := store.PutMessage(ctx, env, "node-z", "svc")
		require.NoError(t, err)
	}

	f := newNodeFixture(t, nil, NodeDependencies{Store: store})
	f.signIn(t, "Active")

	var wg sync.WaitGroup
	results := make([]retrystore.ReplayResult, 2)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.node.RestorePersistedMessages(ctx)
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	assert.Len(t, f.contract.submissions(), stored)
	assert.Equal(t, stored, results[0].Dispatched+results[1].Dispatched)
	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestReloadSchedulesReplay(t *testing.T) {
	ctx := context.Background()
	store, err := retrystore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	env := envelope.New(envelope.Origin{ItineraryID: "it-9"}, envelope.ContentTypeJSON, []byte(`{}`))
	_, err = store.PutMessage(ctx, env, "node-z", "svc")
	require.NoError(t, err)

	f := newNodeFixture(t, func(c *configpkg.Config) { c.RestoreDelay = 10 * time.Millisecond }, NodeDependencies{Store: store})
	f.signIn(t, "Active")

	require.Eventually(t, func() bool { return len(f.contract.submissions()) == 1 }, 2*time.Second, 10*time.Millisecond)
	sub := f.contract.submissions()[0]
	assert.Equal(t, "node-z", sub.node)
	assert.Equal(t, "svc", sub.service)
}

func TestInboundRESTStartsSharedListener(t *testing.T) {
	listener := rest.New(rest.Options{Address: "127.0.0.1:0"})
	f := newNodeFixture(t, nil, NodeDependencies{Listener: listener})

	inbound := activity("R", testNode, func(a *itinerary.Activity) {
		a.UserData.IsInboundREST = true
		a.UserData.Config.StaticConfig = []itinerary.Setting{{ID: host.StaticRoute, Value: "/orders"}}
	})
	f.signIn(t, "Active", integration("it-1",
		[]itinerary.Activity{inbound, activity("B", "node-b")},
		connect("R", "B"),
	))
	require.True(t, listener.Running())

	resp, err := http.Post("http://"+listener.Addr()+"/orders", "application/json", strings.NewReader(`{"id":7}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool { return len(f.contract.submissions()) == 1 }, 2*time.Second, 10*time.Millisecond)
	body, err := f.contract.submissions()[0].env.Body()
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":7}`, string(body))

	require.NoError(t, f.node.StopAll(context.Background()))
	resp, err = http.Post("http://"+listener.Addr()+"/orders", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestParallelLoadBindsEveryInboundRoute(t *testing.T) {
	listener := rest.New(rest.Options{Address: "127.0.0.1:0"})
	f := newNodeFixture(t, func(c *configpkg.Config) { c.LoadConcurrency = 8 }, NodeDependencies{Listener: listener})

	const units = 16
	acts := make([]itinerary.Activity, 0, units)
	for i := range units {
		route := fmt.Sprintf("/intake/%d", i)
		acts = append(acts, activity(fmt.Sprintf("R%d", i), testNode, func(a *itinerary.Activity) {
			a.UserData.IsInboundREST = true
			a.UserData.Config.StaticConfig = []itinerary.Setting{{ID: host.StaticRoute, Value: route}}
		}))
	}
	f.signIn(t, "Active", integration("it-1", acts))
	require.True(t, listener.Running())
	assert.Equal(t, units, f.node.Host().Registry().Len())

	for i := range units {
		resp, err := http.Post(fmt.Sprintf("http://%s/intake/%d", listener.Addr(), i), "application/json", strings.NewReader(`{}`))
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusAccepted, resp.StatusCode, "route %d", i)
	}
}

func TestActionsAndDebugReachTheApplication(t *testing.T) {
	f := newNodeFixture(t, nil, NodeDependencies{})
	f.signIn(t, "Active")

	f.contract.currentHandlers().Action(context.Background(), transport.Action{Name: "restart"})
	require.Len(t, f.actions, 1)
	assert.Equal(t, "restart", f.actions[0].Name)

	require.NoError(t, f.node.ChangeDebug(context.Background(), true))
	assert.True(t, f.node.Host().Debug())
	assert.True(t, f.contract.settings.Debug)
	assert.True(t, f.node.Config().Debug)
}

func TestShutdownStopsServicesAndContract(t *testing.T) {
	f := newNodeFixture(t, nil, NodeDependencies{})
	f.signIn(t, "Active", integration("it-1", []itinerary.Activity{activity("A", testNode)}))
	a := f.instance(t, "it-1", "A")

	require.NoError(t, f.node.Shutdown(context.Background()))
	assert.False(t, a.Started())
	assert.Zero(t, f.node.Host().Registry().Len())
	_, stops, _ := f.contract.counts()
	assert.Equal(t, 1, stops)
}
