package bridge

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/grantwilk/busnode/internal/hub"
	"github.com/grantwilk/busnode/internal/metrics"
)

func (s *Server) startReader(ctxDone <-chan struct{}, conn net.Conn, cl *hub.Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { _ = conn.Close() }()
		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.readDeadline))
			fr, err := s.Codec.Decode(conn)
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					return
				}
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					continue
				}
				wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
				metrics.IncError(mapErrToMetric(wrap))
				s.setError(wrap)
				return
			}
			if s.frameFilter != nil && !s.frameFilter(&fr) {
				continue
			}
			metrics.IncTCPRx()
			// SendFrame only rejects a frame when the async fan-in buffer is
			// full or already shut down -- a real backend send error surfaces
			// later, asynchronously, through the AsyncTx error hook instead.
			if err := s.tx.SendFrame(fr); err != nil {
				s.totalBackendOverflow.Add(1)
				logger.Debug("backend_overflow_drop", "src", fmt.Sprintf("0x%02X", fr.Source), "dst", fmt.Sprintf("0x%02X", fr.Destination))
			}
			metrics.SetBridgeTXBacklog(s.tx.Depth())
			select {
			case <-ctxDone:
				return
			default:
			}
		}
	}()
}
