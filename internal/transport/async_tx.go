package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/grantwilk/busnode/internal/frame"
)

// AsyncTx decouples a bridge client's reader goroutine from the single
// shared backend Link.Send call: every connected client injects frames
// concurrently, but the link itself is one mutex-guarded aggregate (see
// internal/link.Link), so all injected frames are funneled through one
// worker goroutine and a bounded buffer rather than each reader calling
// Send directly and blocking on the link's lock. SendFrame is non-blocking:
// if the buffer is full, it invokes the configured OnDrop hook and returns
// its error (the bridge counts and logs such overflows) instead of stalling
// that client's TCP read loop.
//
// Life-cycle:
//
//	a := NewAsyncTx(ctx, buf, sendFn, hooks)
//	a.SendFrame(frame)
//	a.Close()
//
// After Close returns no more frames are processed: the channel is closed
// and any later SendFrame call returns ErrAsyncTxClosed.
//
// Hooks let the caller keep distinct metrics/logging without duplicating
// the goroutine + buffer plumbing.
type AsyncTx struct {
	mu     sync.Mutex
	ch     chan frame.Frame
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	send   func(frame.Frame) error
	hooks  Hooks
	closed atomic.Bool // set when Close is called; prevents enqueue after shutdown
}

// Hooks customize AsyncTx behavior.
type Hooks struct {
	// OnError is called when send returns a non-nil error (frame not sent).
	OnError func(error)
	// OnDrop is called when the buffer is full; its returned error is returned
	// from SendFrame. If nil, the overflow is silent (best-effort fire-and-forget).
	OnDrop func() error
}

// NewAsyncTx constructs an AsyncTx with a buffered channel of size buf.
func NewAsyncTx(parent context.Context, buf int, send func(frame.Frame) error, hooks Hooks) *AsyncTx {
	ctx, cancel := context.WithCancel(parent)
	a := &AsyncTx{
		ch:     make(chan frame.Frame, buf),
		ctx:    ctx,
		cancel: cancel,
		send:   send,
		hooks:  hooks,
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

func (a *AsyncTx) loop() {
	defer a.wg.Done()
	for {
		select {
		case fr, ok := <-a.ch:
			if !ok { // channel closed
				return
			}
			if err := a.send(fr); err != nil {
				if a.hooks.OnError != nil {
					a.hooks.OnError(err)
				}
			}
		case <-a.ctx.Done():
			return
		}
	}
}

// Depth reports the number of frames currently queued but not yet handed to
// send, for backlog reporting (see internal/bridge, which samples this into
// internal/metrics.SetBridgeTXBacklog).
func (a *AsyncTx) Depth() int { return len(a.ch) }

// ErrAsyncTxClosed is returned by SendFrame after Close.
var ErrAsyncTxClosed = errors.New("async tx closed")

// SendFrame queues a frame for asynchronous transmission. If the buffer is
// full it returns the OnDrop hook's error (nil without a hook); after Close
// it returns ErrAsyncTxClosed.
func (a *AsyncTx) SendFrame(fr frame.Frame) error {
	// Fast-path check so steady-state sends avoid taking the lock when already shut down.
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return ErrAsyncTxClosed
	}
	select {
	case a.ch <- fr:
		return nil
	default:
		if a.hooks.OnDrop != nil {
			return a.hooks.OnDrop()
		}
		return nil
	}
}

// Close stops the worker and waits for all pending operations to finish.
func (a *AsyncTx) Close() {
	if a.closed.Swap(true) { // already closed
		return
	}
	// Cancel context to stop loop, then close channel under the send lock to avoid races.
	a.cancel()
	a.mu.Lock()
	close(a.ch)
	a.mu.Unlock()
	a.wg.Wait()
}
