package lineio

import "sync"

// SimLine is an in-memory Line, shared by every node attached to it in a
// test or simulation, used in place of real hardware. Writes from any
// attached node are visible to all; a write that changes the level fires
// every installed edge callback synchronously.
type SimLine struct {
	mu    sync.Mutex
	high  bool
	edges []func(bool)
}

// NewSimLine creates a simulated bus line, idle (high) at rest, matching
// the specification's idle-is-high convention.
func NewSimLine() *SimLine {
	return &SimLine{high: true}
}

func (l *SimLine) setLevel(high bool) {
	l.mu.Lock()
	changed := l.high != high
	l.high = high
	cbs := append([]func(bool){}, l.edges...)
	l.mu.Unlock()
	if changed {
		for _, cb := range cbs {
			cb(high)
		}
	}
}

func (l *SimLine) SetHigh() { l.setLevel(true) }
func (l *SimLine) SetLow()  { l.setLevel(false) }

func (l *SimLine) IsHigh() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.high
}

func (l *SimLine) InstallEdge(cb func(highAfterEdge bool)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.edges = append(l.edges, cb)
}
