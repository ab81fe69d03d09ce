// Package bridge exposes the bus node over a TCP line so a LAN monitor can
// watch decoded frames and inject frames for transmission without touching
// the line directly. It is a deliberate supplement to the core link layer,
// adapted from the teacher's TCP accept-loop/reader/writer pattern with the
// cannelloni handshake and framing replaced by this protocol's own.
package bridge

import (
	"fmt"
	"io"

	"github.com/grantwilk/busnode/internal/frame"
)

// Codec reads and writes frame.Frame values on the wire using the same
// on-wire byte layout internal/frame defines for the bus itself (preamble,
// version, source, destination, length, CRC reserved byte, payload, CRC-8
// trailer) — bridge clients see exactly the bytes that would have gone out
// on the line, just without Manchester encoding.
type Codec struct{}

// Decode reads one frame from r, blocking until a full frame (or an error)
// arrives. Callers that want buffered reads from a net.Conn should wrap it
// in a *bufio.Reader themselves and reuse that same reader across calls —
// Decode only ever asks for exactly the bytes one frame needs, so it never
// over-reads past the frame boundary.
func (Codec) Decode(r io.Reader) (frame.Frame, error) {
	header := make([]byte, frame.HeaderLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return frame.Frame{}, err
	}
	length := int(header[4])
	rest := make([]byte, length+frame.TrailerLen)
	if _, err := io.ReadFull(r, rest); err != nil {
		return frame.Frame{}, err
	}
	buf := append(header, rest...)
	return frame.Unmarshal(buf)
}

// EncodeTo marshals fr and writes it to w, returning the byte count written.
func (Codec) EncodeTo(w io.Writer, fr frame.Frame) (int, error) {
	buf, err := frame.Marshal(fr.Source, fr.Destination, fr.Payload)
	if err != nil {
		return 0, fmt.Errorf("bridge: encode: %w", err)
	}
	return w.Write(buf)
}
