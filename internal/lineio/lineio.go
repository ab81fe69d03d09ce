// Package lineio abstracts the single shared signal line: set/read its
// level and be notified of edges. The link layer drives and samples the
// line through this narrow interface; it never talks to a transport
// directly.
package lineio

// Line is the bus wire. Implementations must call the edge callback
// installed via InstallEdge whenever the level changes, reporting the
// level *after* the edge.
type Line interface {
	SetHigh()
	SetLow()
	IsHigh() bool
	InstallEdge(cb func(highAfterEdge bool))
}
