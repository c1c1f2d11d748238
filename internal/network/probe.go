package network

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/fitloop/syncd/internal/domain"
)

// TCPProbe is a domain.NetworkSource that classifies connectivity by
// periodically dialing a TCP address on a ticker. It has no visibility into
// wifi/cellular/signal strength, those only exist behind a mobile OS's
// connectivity APIs, so every reachable dial reports domain.ConnEthernet
// (classified as QualityExcellent) and every unreachable one reports
// domain.ConnNone (Offline). A host process with a real radio stack should
// inject its own domain.NetworkSource instead; TCPProbe is the
// standalone-daemon default so cmd/syncd has a working network signal
// without one.
type TCPProbe struct {
	addr     string
	interval time.Duration
	timeout  time.Duration
}

// NewTCPProbe builds a prober that dials addr (host:port) every interval,
// giving up on a single dial after timeout.
func NewTCPProbe(addr string, interval, timeout time.Duration) *TCPProbe {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &TCPProbe{addr: addr, interval: interval, timeout: timeout}
}

// Subscribe starts the probe loop in its own goroutine and delivers every
// reading, including the first, to onEvent. The returned func stops the
// loop; Subscribe itself never blocks.
func (p *TCPProbe) Subscribe(ctx domain.Context, onEvent func(domain.NetworkEvent)) (func(), error) {
	loopCtx, cancel := context.WithCancel(ctx)
	go p.run(loopCtx, onEvent)
	return cancel, nil
}

func (p *TCPProbe) run(ctx context.Context, onEvent func(domain.NetworkEvent)) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.probeOnce(ctx, onEvent)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeOnce(ctx, onEvent)
		}
	}
}

func (p *TCPProbe) probeOnce(ctx context.Context, onEvent func(domain.NetworkEvent)) {
	dialer := net.Dialer{Timeout: p.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		slog.Debug("network probe unreachable", slog.String("addr", p.addr), slog.Any("err", err))
		onEvent(domain.NetworkEvent{Connected: false, Type: domain.ConnNone})
		return
	}
	_ = conn.Close()
	onEvent(domain.NetworkEvent{Connected: true, Type: domain.ConnEthernet})
}
