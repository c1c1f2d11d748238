package network_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitloop/syncd/internal/domain"
	"github.com/fitloop/syncd/internal/network"
)

func TestTCPProbe_ReachableThenUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	events := make(chan domain.NetworkEvent, 8)
	probe := network.NewTCPProbe(ln.Addr().String(), 20*time.Millisecond, 100*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	unsub, err := probe.Subscribe(ctx, func(evt domain.NetworkEvent) { events <- evt })
	require.NoError(t, err)
	defer unsub()

	select {
	case evt := <-events:
		assert.True(t, evt.Connected)
		assert.Equal(t, domain.ConnEthernet, evt.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for initial reachable reading")
	}

	require.NoError(t, ln.Close())

	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-events:
			if !evt.Connected {
				assert.Equal(t, domain.ConnNone, evt.Type)
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for unreachable reading after listener closed")
		}
	}
}
