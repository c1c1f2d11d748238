package network_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitloop/syncd/internal/domain"
	"github.com/fitloop/syncd/internal/network"
)

type fakeSource struct {
	onChange func(domain.NetworkEvent)
}

func (f *fakeSource) Subscribe(_ domain.Context, onChange func(domain.NetworkEvent)) (func(), error) {
	f.onChange = onChange
	return func() {}, nil
}

func TestMonitor_ClassificationTable(t *testing.T) {
	t.Parallel()
	src := &fakeSource{}
	m := network.New(src)
	require.NoError(t, m.Start(nil))

	cases := []struct {
		name    string
		evt     domain.NetworkEvent
		quality domain.Quality
		canSync bool
		batch   int
		floor   int64
	}{
		{"wifi", domain.NetworkEvent{Connected: true, Type: domain.ConnWifi}, domain.QualityExcellent, true, 20, 2000},
		{"ethernet", domain.NetworkEvent{Connected: true, Type: domain.ConnEthernet}, domain.QualityExcellent, true, 20, 2000},
		{"5g", domain.NetworkEvent{Connected: true, Type: domain.ConnCellular, CellularGen: domain.Cell5G}, domain.QualityExcellent, true, 20, 2000},
		{"4g", domain.NetworkEvent{Connected: true, Type: domain.ConnCellular, CellularGen: domain.Cell4G}, domain.QualityGood, true, 10, 5000},
		{"3g", domain.NetworkEvent{Connected: true, Type: domain.ConnCellular, CellularGen: domain.Cell3G}, domain.QualityFair, true, 5, 10000},
		{"2g", domain.NetworkEvent{Connected: true, Type: domain.ConnCellular, CellularGen: domain.CellUnknown}, domain.QualityPoor, false, 1, 60000},
		{"unknown-connected", domain.NetworkEvent{Connected: true, Type: domain.ConnUnknown}, domain.QualityGood, true, 10, 5000},
		{"offline", domain.NetworkEvent{Connected: false}, domain.QualityOffline, false, 0, 30000},
		{"metered-4g", domain.NetworkEvent{Connected: true, Type: domain.ConnCellular, CellularGen: domain.Cell4G, Metered: true}, domain.QualityGood, false, 1, 60000},
	}

	for _, c := range cases {
		src.onChange(c.evt)
		st := m.Status()
		assert.Equal(t, c.quality, st.Quality, c.name)
		assert.Equal(t, c.canSync, st.CanSync, c.name)
		assert.Equal(t, c.batch, st.RecommendedBatch, c.name)
		assert.Equal(t, c.floor, st.RetryFloorMS, c.name)
	}
}

func TestMonitor_SubscribeDeliversCurrentImmediately(t *testing.T) {
	t.Parallel()
	src := &fakeSource{}
	m := network.New(src)
	require.NoError(t, m.Start(nil))
	src.onChange(domain.NetworkEvent{Connected: true, Type: domain.ConnWifi})

	var got domain.NetworkStatus
	calls := 0
	m.Subscribe(func(s domain.NetworkStatus) {
		got = s
		calls++
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, domain.QualityExcellent, got.Quality)
}

func TestMonitor_NotifiesOnlyOnTransition(t *testing.T) {
	t.Parallel()
	src := &fakeSource{}
	m := network.New(src)
	require.NoError(t, m.Start(nil))

	calls := 0
	m.Subscribe(func(domain.NetworkStatus) { calls++ })
	assert.Equal(t, 1, calls) // immediate delivery

	src.onChange(domain.NetworkEvent{Connected: true, Type: domain.ConnWifi})
	assert.Equal(t, 2, calls)

	// Same quality/connected/type again: no new notification.
	src.onChange(domain.NetworkEvent{Connected: true, Type: domain.ConnWifi})
	assert.Equal(t, 2, calls)

	src.onChange(domain.NetworkEvent{Connected: true, Type: domain.ConnCellular, CellularGen: domain.Cell4G})
	assert.Equal(t, 3, calls)
}
