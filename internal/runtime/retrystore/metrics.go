package retrystore

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/edgeflow/internal/runtime/envelope"
)

// Metrics tracks retry store statistics.
type Metrics struct {
	mu sync.RWMutex

	counts       map[Kind]*KindMetrics
	corruptCount uint64

	persistedTotal *prometheus.CounterVec
	replayedTotal  *prometheus.CounterVec
	corruptTotal   prometheus.Counter
	pending        *prometheus.GaugeVec
	replayDuration prometheus.Histogram

	registerer prometheus.Registerer
	registered bool
}

// KindMetrics holds the counters for one item kind.
type KindMetrics struct {
	Persisted     uint64    `json:"persisted"`
	Replayed      uint64    `json:"replayed"`
	ReplayFailed  uint64    `json:"replay_failed"`
	Pending       uint64    `json:"pending"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// MetricsSnapshot is a point-in-time view of the store metrics.
type MetricsSnapshot struct {
	TotalPersisted uint64                `json:"total_persisted"`
	TotalReplayed  uint64                `json:"total_replayed"`
	TotalCorrupt   uint64                `json:"total_corrupt"`
	Kinds          map[Kind]*KindMetrics `json:"kinds"`
	CollectedAt    time.Time             `json:"collected_at"`
}

const (
	metricsNamespace = "edgeflow"
	metricsSubsystem = "retry_store"
)

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

// NewMetrics creates a collector. A nil registerer uses the default one.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Metrics{
		counts:         make(map[Kind]*KindMetrics),
		registerer:     registerer,
		persistedTotal: newCounterVec("persisted_total", "Items written to the retry store", []string{"kind"}),
		replayedTotal:  newCounterVec("replayed_total", "Items replayed from the retry store", []string{"kind", "result"}),
		corruptTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "corrupt_total",
			Help:      "Items discarded because they could not be decoded",
		}),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "pending",
			Help:      "Items waiting in the retry store",
		}, []string{"kind"}),
		replayDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "replay_duration_seconds",
			Help:      "Duration of a full replay pass",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}
	for _, c := range []prometheus.Collector{m.persistedTotal, m.replayedTotal, m.corruptTotal, m.pending, m.replayDuration} {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	m.registered = true
	return nil
}

// RecordPersisted records a new item.
func (m *Metrics) RecordPersisted(kind Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()

	km := m.kind(kind)
	km.Persisted++
	km.Pending++
	km.LastUpdatedAt = time.Now()

	m.persistedTotal.WithLabelValues(string(kind)).Inc()
	m.pending.WithLabelValues(string(kind)).Set(float64(km.Pending))
}

// RecordReplayed records an item taken out of the store. ok is false when the
// dispatch failed.
func (m *Metrics) RecordReplayed(kind Kind, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	km := m.kind(kind)
	result := "ok"
	if ok {
		km.Replayed++
	} else {
		km.ReplayFailed++
		result = "failed"
	}
	if km.Pending > 0 {
		km.Pending--
	}
	km.LastUpdatedAt = time.Now()

	m.replayedTotal.WithLabelValues(string(kind), result).Inc()
	m.pending.WithLabelValues(string(kind)).Set(float64(km.Pending))
}

// RecordCorrupt records a discarded item.
func (m *Metrics) RecordCorrupt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.corruptCount++
	m.corruptTotal.Inc()
}

// ObserveReplay records how long a replay pass took.
func (m *Metrics) ObserveReplay(d time.Duration) {
	m.replayDuration.Observe(d.Seconds())
}

// SetPending syncs the pending gauge with the store content.
func (m *Metrics) SetPending(kind Kind, count uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	km := m.kind(kind)
	km.Pending = count
	km.LastUpdatedAt = time.Now()
	m.pending.WithLabelValues(string(kind)).Set(float64(count))
}

// Snapshot returns copies of the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := MetricsSnapshot{
		Kinds:        make(map[Kind]*KindMetrics, len(m.counts)),
		TotalCorrupt: m.corruptCount,
		CollectedAt:  time.Now(),
	}
	for kind, km := range m.counts {
		cp := *km
		snap.Kinds[kind] = &cp
		snap.TotalPersisted += km.Persisted
		snap.TotalReplayed += km.Replayed
	}
	return snap
}

func (m *Metrics) kind(kind Kind) *KindMetrics {
	if km, ok := m.counts[kind]; ok {
		return km
	}
	km := &KindMetrics{}
	m.counts[kind] = km
	return km
}

// WithMetrics wraps a store so writes are counted.
func WithMetrics(s Store, m *Metrics) Store {
	if m == nil {
		return s
	}
	return &instrumentedStore{Store: s, metrics: m}
}

type instrumentedStore struct {
	Store
	metrics *Metrics
}

func (s *instrumentedStore) PutMessage(ctx context.Context, env *envelope.Envelope, node, service string) (string, error) {
	key, err := s.Store.PutMessage(ctx, env, node, service)
	if err == nil {
		s.metrics.RecordPersisted(KindMessage)
	}
	return key, err
}

func (s *instrumentedStore) PutTracking(ctx context.Context, rec envelope.TrackingRecord) (string, error) {
	key, err := s.Store.PutTracking(ctx, rec)
	if err == nil {
		s.metrics.RecordPersisted(KindTracking)
	}
	return key, err
}
