// Package network implements the process-wide network-quality monitor
// described in spec.md §4.4: it subscribes to the host's network events,
// classifies them into a coarse quality bucket, and derives the adaptive
// batch-size/retry-floor/can_sync parameters the rest of the kernel reads.
//
// The monitor is read-only to every other component; only its own
// subscription callback mutates state, keeping a single-writer discipline
// over the status and listener set.
package network

import (
	"log/slog"
	"sync"

	"github.com/fitloop/syncd/internal/adapter/observability"
	"github.com/fitloop/syncd/internal/domain"
)

// Monitor is a process-wide singleton. Construct one with New and Start it;
// Stop unsubscribes from the host source.
type Monitor struct {
	mu        sync.RWMutex
	status    domain.NetworkStatus
	listeners []domain.NetworkListener
	source    domain.NetworkSource
	unsub     func()
}

// New builds a Monitor with an initial offline status; call Start to begin
// receiving host network events.
func New(source domain.NetworkSource) *Monitor {
	return &Monitor{
		source: source,
		status: classify(domain.NetworkEvent{Connected: false, Type: domain.ConnNone}),
	}
}

// Start subscribes to the host's network events. Safe to call once.
func (m *Monitor) Start(ctx domain.Context) error {
	unsub, err := m.source.Subscribe(ctx, m.onChange)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.unsub = unsub
	m.mu.Unlock()
	return nil
}

// Stop unsubscribes from the host source, if subscribed.
func (m *Monitor) Stop() {
	m.mu.Lock()
	unsub := m.unsub
	m.unsub = nil
	m.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// Status returns the current, derived network status.
func (m *Monitor) Status() domain.NetworkStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Subscribe registers a listener that is notified on transition of
// connected/quality/type, and immediately receives the current value.
func (m *Monitor) Subscribe(l domain.NetworkListener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	current := m.status
	m.mu.Unlock()
	l(current)
}

func (m *Monitor) onChange(evt domain.NetworkEvent) {
	next := classify(evt)

	m.mu.Lock()
	prev := m.status
	transitioned := prev.Connected != next.Connected ||
		prev.Quality != next.Quality ||
		prev.ConnectionType != next.ConnectionType
	m.status = next
	listeners := m.listeners
	m.mu.Unlock()

	slog.Info("network status updated",
		slog.Bool("connected", next.Connected),
		slog.String("quality", string(next.Quality)),
		slog.String("type", string(next.ConnectionType)),
		slog.Bool("can_sync", next.CanSync),
	)

	if !transitioned {
		return
	}
	observability.RecordNetworkQuality(string(next.Quality))
	for _, l := range listeners {
		l(next)
	}
}

// classify implements spec.md §4.4's classification and adaptive-parameter
// table. It is a pure function so it can be exercised without a live host
// subscription.
func classify(evt domain.NetworkEvent) domain.NetworkStatus {
	if !evt.Connected {
		return withParams(domain.NetworkStatus{
			Connected:      false,
			Quality:        domain.QualityOffline,
			ConnectionType: domain.ConnNone,
			Metered:        evt.Metered,
		})
	}

	var q domain.Quality
	switch evt.Type {
	case domain.ConnWifi, domain.ConnEthernet:
		q = domain.QualityExcellent
	case domain.ConnCellular:
		switch evt.CellularGen {
		case domain.Cell5G:
			q = domain.QualityExcellent
		case domain.Cell4G:
			q = domain.QualityGood
		case domain.Cell3G:
			q = domain.QualityFair
		default:
			q = domain.QualityPoor
		}
	default:
		q = domain.QualityGood
	}

	return withParams(domain.NetworkStatus{
		Connected:      true,
		Quality:        q,
		ConnectionType: evt.Type,
		Metered:        evt.Metered,
	})
}

// withParams fills in CanSync/RecommendedBatch/RetryFloorMS from the
// adaptive-parameter table in spec.md §4.4.
func withParams(s domain.NetworkStatus) domain.NetworkStatus {
	meteredCellular := s.Metered && s.ConnectionType == domain.ConnCellular

	switch {
	case s.Quality == domain.QualityOffline:
		s.CanSync = false
		s.RecommendedBatch = 0
		s.RetryFloorMS = 30000
	case s.Quality == domain.QualityPoor || meteredCellular:
		s.CanSync = false
		s.RecommendedBatch = 1
		s.RetryFloorMS = 60000
	case s.Quality == domain.QualityFair:
		s.CanSync = true
		s.RecommendedBatch = 5
		s.RetryFloorMS = 10000
	case s.Quality == domain.QualityGood:
		s.CanSync = true
		s.RecommendedBatch = 10
		s.RetryFloorMS = 5000
	default: // excellent
		s.CanSync = true
		s.RecommendedBatch = 20
		s.RetryFloorMS = 2000
	}
	return s
}
