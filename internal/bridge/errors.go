package bridge

import (
	"errors"

	"github.com/grantwilk/busnode/internal/metrics"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
// Backend send failures never reach here: they surface asynchronously
// through the internal/transport.AsyncTx error hook wired in server.go,
// which reports metrics.ErrTxQueue directly.
var (
	ErrListen    = errors.New("listen")
	ErrAccept    = errors.New("accept")
	ErrHandshake = errors.New("handshake")
	ErrConnRead  = errors.New("conn_read")
	ErrConnWrite = errors.New("conn_write")
	ErrContext   = errors.New("context_cancelled")
)

// mapErrToMetric maps wrapped sentinel errors to metrics labels. Listen and
// accept failures get their own label rather than being folded into
// tcp_read: they happen on the shared listener, not a per-connection
// socket, and a dashboard alerting on tcp_read shouldn't fire just because
// the bridge couldn't bind its port.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrConnRead):
		return metrics.ErrTCPRead
	case errors.Is(err, ErrConnWrite):
		return metrics.ErrTCPWrite
	case errors.Is(err, ErrHandshake):
		return metrics.ErrHandshake
	case errors.Is(err, ErrAccept), errors.Is(err, ErrListen):
		return metrics.ErrListen
	case errors.Is(err, ErrContext):
		return "context"
	default:
		return "other"
	}
}
