package retrystore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/edgeflow/internal/runtime/envelope"
)

type recordingDispatcher struct {
	mu        sync.Mutex
	submitted []string
	tracked   []string
	submitErr error
}

func (d *recordingDispatcher) Submit(_ context.Context, env *envelope.Envelope, node, service string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.submitted = append(d.submitted, node+"/"+service)
	return d.submitErr
}

func (d *recordingDispatcher) Track(_ context.Context, rec envelope.TrackingRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tracked = append(d.tracked, rec.State)
	return nil
}

type failingDelete struct {
	Store
}

func (failingDelete) Delete(context.Context, string) error {
	return errors.New("disk is read-only")
}

func TestReplayDispatchesAndDeletes(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	env := sampleEnvelope()
	_, err = s.PutMessage(ctx, env, "node-2", "b")
	require.NoError(t, err)
	_, err = s.PutTracking(ctx, envelope.Reporter{}.Track(env, "a", envelope.StateStarted))
	require.NoError(t, err)

	d := &recordingDispatcher{}
	res, err := Replay(ctx, s, d, ReplayOptions{})
	require.NoError(t, err)

	assert.Equal(t, ReplayResult{Dispatched: 2}, res)
	assert.Equal(t, []string{"node-2/b"}, d.submitted)
	assert.Equal(t, []string{envelope.StateStarted}, d.tracked)

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestReplayDeletesEvenWhenDispatchFails(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	_, err = s.PutMessage(ctx, sampleEnvelope(), "node-2", "b")
	require.NoError(t, err)

	res, err := Replay(ctx, s, &recordingDispatcher{submitErr: errors.New("offline")}, ReplayOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestReplayDiscardsCorruptItems(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "01CORRUPT"), []byte("garbage"), 0o600))

	d := &recordingDispatcher{}
	metrics := NewMetrics(prometheus.NewRegistry())
	res, err := Replay(ctx, s, d, ReplayOptions{Metrics: metrics})
	require.NoError(t, err)

	assert.Equal(t, ReplayResult{Corrupt: 1}, res)
	assert.Empty(t, d.submitted)
	assert.Equal(t, uint64(1), metrics.Snapshot().TotalCorrupt)

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestReplayRetainsItemsThatCannotBeDeleted(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	_, err = fs.PutMessage(ctx, sampleEnvelope(), "node-2", "b")
	require.NoError(t, err)

	d := &recordingDispatcher{}
	res, err := Replay(ctx, failingDelete{fs}, d, ReplayOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Dispatched)
	assert.Equal(t, 1, res.Retained)

	keys, err := fs.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	// the next pass dispatches the retained item once more and removes it
	res, err = Replay(ctx, fs, d, ReplayOptions{})
	require.NoError(t, err)
	assert.Equal(t, ReplayResult{Dispatched: 1}, res)
	assert.Equal(t, []string{"node-2/b", "node-2/b"}, d.submitted)

	keys, err = fs.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	res, err = Replay(ctx, fs, d, ReplayOptions{})
	require.NoError(t, err)
	assert.Equal(t, ReplayResult{}, res)
	assert.Len(t, d.submitted, 2)
}

func TestReplayStopsOnCancel(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	_, err = s.PutMessage(context.Background(), sampleEnvelope(), "n", "b")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Replay(ctx, s, &recordingDispatcher{}, ReplayOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMetricsCountPersistAndReplay(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	require.NoError(t, m.Register())
	require.NoError(t, m.Register())

	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	s := WithMetrics(fs, m)

	_, err = s.PutMessage(ctx, sampleEnvelope(), "n", "b")
	require.NoError(t, err)
	_, err = s.PutTracking(ctx, envelope.TrackingRecord{InterchangeID: "x"})
	require.NoError(t, err)

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.TotalPersisted)
	assert.Equal(t, uint64(1), snap.Kinds[KindMessage].Pending)

	_, err = Replay(ctx, s, &recordingDispatcher{}, ReplayOptions{Metrics: m})
	require.NoError(t, err)

	snap = m.Snapshot()
	assert.Equal(t, uint64(2), snap.TotalReplayed)
	assert.Zero(t, snap.Kinds[KindMessage].Pending)
	assert.Zero(t, snap.Kinds[KindTracking].Pending)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
