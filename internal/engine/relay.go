package engine

import (
	"io"
	"net"

	"github.com/dustin/go-humanize"

	"github.com/dispatch-proxy/dispatch/internal/logging"
	"github.com/dispatch-proxy/dispatch/internal/metrics"
)

// halfCloser is implemented by connections that support half-close.
// Shutting down the peer's write side when one direction drains lets the
// other direction keep flowing until it reaches its own EOF.
type halfCloser interface {
	CloseWrite() error
}

// relay copies bytes between client and remote in both directions until both
// drain or either fails. I/O errors are swallowed: any peer disconnect ends
// the session cleanly. Backpressure is the OS socket buffer's; there is no
// application-level buffering.
func (s *Server) relay(client, remote net.Conn) {
	type result struct {
		n        int64
		toRemote bool
	}
	results := make(chan result, 2)

	go func() {
		n, _ := io.Copy(remote, client)
		closeWrite(remote)
		results <- result{n, true}
	}()

	go func() {
		n, _ := io.Copy(client, remote)
		closeWrite(client)
		results <- result{n, false}
	}()

	var sent, received int64
	for i := 0; i < 2; i++ {
		r := <-results
		if r.toRemote {
			sent = r.n
		} else {
			received = r.n
		}
	}

	s.mtr.BytesRelayed.WithLabelValues(metrics.DirClientToRemote).Add(float64(sent))
	s.mtr.BytesRelayed.WithLabelValues(metrics.DirRemoteToClient).Add(float64(received))

	s.logger.Debug("relay finished",
		logging.KeyRemoteAddr, client.RemoteAddr().String(),
		logging.KeyBytesOut, humanize.Bytes(uint64(sent)),
		logging.KeyBytesIn, humanize.Bytes(uint64(received)))
}

func closeWrite(c net.Conn) {
	if hc, ok := c.(halfCloser); ok {
		hc.CloseWrite()
	}
}
