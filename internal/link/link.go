// Package link ties the Manchester codec, CRC-8, TX/RX queues, and line
// state machine into the single-wire bus node's public API: send and recv.
// A Link owns one line, one half-bit timer, one backoff/idle timer, and the
// two frame queues as a single critical-section-guarded aggregate, mirroring
// the original firmware's module-scoped interrupt-shared state — except
// here the "interrupt disable" discipline is an ordinary mutex, and the
// three event sources (half-bit tick, line edge, timeout) are goroutines
// instead of NVIC vectors.
package link

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/grantwilk/busnode/internal/buserr"
	"github.com/grantwilk/busnode/internal/crc8"
	"github.com/grantwilk/busnode/internal/frame"
	"github.com/grantwilk/busnode/internal/led"
	"github.com/grantwilk/busnode/internal/lineio"
	"github.com/grantwilk/busnode/internal/linestate"
	"github.com/grantwilk/busnode/internal/logging"
	"github.com/grantwilk/busnode/internal/manchester"
	"github.com/grantwilk/busnode/internal/metrics"
	"github.com/grantwilk/busnode/internal/rxqueue"
	"github.com/grantwilk/busnode/internal/timer"
	"github.com/grantwilk/busnode/internal/txqueue"
)

const (
	// DefaultHalfBitPeriod is the time between successive Manchester symbol
	// halves.
	DefaultHalfBitPeriod = 500 * time.Microsecond
	// DefaultIdleTimeout mirrors CE4981_NETWORK_TIMEOUT_PERIOD_US from the
	// original firmware: one full bit time plus a small guard.
	DefaultIdleTimeout = 1100 * time.Microsecond
	// DefaultQueueCapacity is the minimum allowed by the specification.
	DefaultQueueCapacity = 10
)

// backoffSteps is the number of discrete, uniformly distributed backoff
// durations offered after a collision; the specification requires at least
// ten.
const backoffSteps = 10

// Option configures a Link at construction time.
type Option func(*Link)

// WithHalfBitPeriod overrides the half-bit tick period.
func WithHalfBitPeriod(d time.Duration) Option {
	return func(l *Link) { l.halfBitPeriod = d }
}

// WithIdleTimeout overrides the idle/activity timeout period.
func WithIdleTimeout(d time.Duration) Option {
	return func(l *Link) { l.idleTimeout = d }
}

// WithQueueCapacity overrides the TX/RX queue capacity (clamped to the
// packages' own minimums).
func WithQueueCapacity(n int) Option {
	return func(l *Link) { l.queueCapacity = n }
}

// WithLocalAddress sets the boot-default local address; the specification
// prefers the runtime setter, with this value used only as that default.
func WithLocalAddress(addr byte) Option {
	return func(l *Link) { l.localAddr = addr }
}

// WithLEDs overrides the status indicator driver (default: a logging
// driver, see internal/led).
func WithLEDs(d led.Driver) Option {
	return func(l *Link) { l.leds = d }
}

// WithRand overrides the backoff jitter source (default: a per-Link
// math/rand/v2 PCG generator seeded from the clock), used by tests to pin
// deterministic backoff choices.
func WithRand(r *rand.Rand) Option {
	return func(l *Link) { l.rng = r }
}

// Link is the bus node's link layer: one shared line, two timers, two
// queues, and the line state machine, all mutated under mu exactly as the
// specification's critical-section discipline requires.
type Link struct {
	mu sync.Mutex

	line    lineio.Line
	hbTimer *timer.HalfBit
	boTimer *timer.Backoff
	leds    led.Driver
	rng     *rand.Rand

	tx    *txqueue.Queue
	rx    *rxqueue.Queue
	state *linestate.Machine

	localAddr     byte
	halfBitPeriod time.Duration
	idleTimeout   time.Duration
	queueCapacity int

	// TX engine cursor into the head-of-queue buffer.
	txBuf     []byte
	txByteIdx int
	txBitIdx  int
}

// New constructs a Link over the given line and timers. Callers own line
// and timer lifetimes; New only wires callbacks and initial state. This is
// the entry point tests use to build a self-contained Link with mock I/O —
// nothing here touches global storage.
func New(line lineio.Line, hb *timer.HalfBit, bo *timer.Backoff, opts ...Option) (*Link, error) {
	l := &Link{
		line:          line,
		hbTimer:       hb,
		boTimer:       bo,
		leds:          led.LoggingDriver{},
		halfBitPeriod: DefaultHalfBitPeriod,
		idleTimeout:   DefaultIdleTimeout,
		queueCapacity: DefaultQueueCapacity,
	}
	for _, o := range opts {
		o(l)
	}
	if l.rng == nil {
		l.rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0xa5a5a5a5))
	}

	l.tx = txqueue.New(l.queueCapacity)
	l.rx = rxqueue.New(l.queueCapacity)
	l.state = linestate.New(l.leds)

	if err := l.hbTimer.Init(l.halfBitPeriod); err != nil {
		return nil, err
	}
	if err := l.boTimer.Init(l.idleTimeout); err != nil {
		return nil, err
	}

	l.hbTimer.InstallTick(l.onHalfBitTick)
	l.boTimer.InstallExpire(l.onTimeout)
	l.boTimer.InstallCaptureCompare(l.onMidSample)
	l.line.InstallEdge(l.onLineEdge)

	return l, nil
}

// LocalAddress returns the node's current address.
func (l *Link) LocalAddress() byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.localAddr
}

// SetLocalAddress changes the node's address at runtime.
func (l *Link) SetLocalAddress(addr byte) {
	l.mu.Lock()
	l.localAddr = addr
	l.mu.Unlock()
}

// Send fragments payload into frames of at most 255 bytes, Manchester
// encodes and enqueues each, then attempts to start transmission. It never
// blocks: a full TX queue aborts the remaining fragments with
// buserr.TXQueueFull.
func (l *Link) Send(dest byte, payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	remaining := payload
	for len(remaining) > 0 {
		n := len(remaining)
		if n > frame.MaxPayload {
			n = frame.MaxPayload
		}
		chunk := remaining[:n]
		remaining = remaining[n:]

		raw, err := frame.Marshal(l.localAddr, dest, chunk)
		if err != nil {
			return err
		}
		encoded := manchester.Encode(raw)
		if err := l.tx.Push(encoded); err != nil {
			return buserr.New(buserr.TXQueueFull, "")
		}
		metrics.IncFramesSent()
	}
	metrics.SetTXQueueDepth(l.tx.Count())
	l.tryStartTX()
	return nil
}

// Recv pops decoded, validated frames addressed to broadcast or the local
// address. It returns false once the RX queue holds nothing further worth
// returning.
func (l *Link) Recv() (source byte, destination byte, payload []byte, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for {
		enc, err := l.rx.Pop()
		if err != nil {
			return 0, 0, nil, false
		}
		fr, valid := l.decodeAndValidate(enc)
		if !valid {
			continue
		}
		if !frame.IsForLocal(fr.Destination, l.localAddr) {
			continue
		}
		metrics.IncFramesReceived()
		metrics.SetRXQueueDepth(l.rx.Count())
		return fr.Source, fr.Destination, fr.Payload, true
	}
}

func (l *Link) decodeAndValidate(manchesterBuf []byte) (frame.Frame, bool) {
	if len(manchesterBuf)%2 != 0 || len(manchesterBuf) < 2*frame.HeaderLen {
		metrics.IncManchesterReject()
		return frame.Frame{}, false
	}
	decoded, err := manchester.Decode(manchesterBuf, len(manchesterBuf)/2)
	if err != nil {
		metrics.IncManchesterReject()
		buserr.Warn(buserr.New(buserr.InvalidManchester, err.Error()))
		return frame.Frame{}, false
	}
	fr, err := frame.Unmarshal(decoded)
	if err != nil {
		switch {
		case err == frame.ErrWrongVersion:
			metrics.IncWrongVersion()
		case err == frame.ErrCRCMismatch:
			metrics.IncCRCReject()
		}
		buserr.Warn(buserr.New(buserr.MalformedMessage, err.Error()))
		return frame.Frame{}, false
	}
	_ = crc8.Seed // documents the shared seed constant is exercised via frame.Unmarshal
	return fr, true
}

// tryStartTX starts the half-bit tick if the TX queue is non-empty and the
// line is IDLE. Callers must hold mu.
func (l *Link) tryStartTX() {
	if l.tx.IsEmpty() || !l.state.CanStartTX() {
		return
	}
	if l.txBuf == nil {
		l.loadNextTXBuf()
	}
	l.hbTimer.ResetAndStart()
}

func (l *Link) loadNextTXBuf() {
	buf, err := l.tx.Peek()
	if err != nil {
		return
	}
	l.txBuf = buf
	l.txByteIdx = 0
	l.txBitIdx = 0
}
