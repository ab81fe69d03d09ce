package lineio

import "testing"

func TestSimLineIdleHigh(t *testing.T) {
	l := NewSimLine()
	if !l.IsHigh() {
		t.Fatalf("expected idle-high at rest")
	}
}

func TestSimLineEdgeFiresOnChange(t *testing.T) {
	l := NewSimLine()
	var got []bool
	l.InstallEdge(func(high bool) { got = append(got, high) })

	l.SetLow()
	l.SetLow() // no-op, no edge
	l.SetHigh()

	if len(got) != 2 {
		t.Fatalf("edge callback fired %d times, want 2", len(got))
	}
	if got[0] != false || got[1] != true {
		t.Fatalf("edge sequence = %v, want [false true]", got)
	}
}

func TestSimLineSharedBetweenNodes(t *testing.T) {
	bus := NewSimLine()
	var nodeASeen, nodeBSeen bool
	bus.InstallEdge(func(bool) { nodeASeen = true })
	bus.InstallEdge(func(bool) { nodeBSeen = true })

	bus.SetLow()

	if !nodeASeen || !nodeBSeen {
		t.Fatalf("expected both attached callbacks to observe the edge")
	}
}
