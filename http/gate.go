package http

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"
)

// gate accepts connections on one listening port and hands them to the
// worker pool.
type gate struct {
	engine   *Engine
	port     ListeningPort
	listener net.Listener
	shut     atomic.Bool
}

func listen(ctx context.Context, port ListeningPort) (net.Listener, error) {
	lc := net.ListenConfig{}
	if port.Family == FamilyIPv6 {
		lc.Control = controlV6Only
	}
	return lc.Listen(ctx, port.network(), port.address())
}

func (g *gate) isShut() bool {
	return g.shut.Load()
}

func (g *gate) close() {
	if g.shut.CompareAndSwap(false, true) {
		g.listener.Close()
	}
}

func (g *gate) serve() {
	defer g.engine.gatesWG.Done()

	var backoff time.Duration
	for {
		conn, err := g.listener.Accept()
		if err != nil {
			if g.isShut() || errors.Is(err, net.ErrClosed) {
				return
			}

			// Resource exhaustion such as EMFILE: wait and retry.
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff < time.Second {
				backoff *= 2
			}
			g.engine.logger.Warn("accept failed", "port", g.port.String(), "error", err)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		g.engine.telemetry.connectionAccepted(g.port)
		if !g.engine.pool.Submit(job{conn: conn, port: g.port}) {
			conn.Close()
			return
		}
	}
}
