package bridge

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/grantwilk/busnode/internal/hub"
	"github.com/grantwilk/busnode/internal/metrics"
)

// startWriter launches the goroutine pushing hub broadcasts to one client
// connection.
func (s *Server) startWriter(ctxDone <-chan struct{}, conn net.Conn, cl *hub.Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			_ = conn.Close()
			if s.Hub != nil {
				s.Hub.Remove(cl)
			}
			s.totalDisconnected.Add(1)
			logger.Info("client_disconnected")
		}()
		for {
			select {
			case fr := <-cl.Out:
				if _, err := s.Codec.EncodeTo(conn, fr); err != nil {
					wrap := fmt.Errorf("%w: %v", ErrConnWrite, err)
					metrics.IncError(mapErrToMetric(wrap))
					s.setError(wrap)
					return
				}
				metrics.AddTCPTx(1)
			case <-cl.Closed:
				return
			case <-ctxDone:
				return
			}
		}
	}()
}
