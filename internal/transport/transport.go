package transport

import (
	"io"

	"github.com/grantwilk/busnode/internal/frame"
	
)

// FrameDecoder decodes a single bus frame from a stream.
type FrameDecoder interface {
	Decode(r io.Reader) (frame.Frame, error)
}

// FrameEncoder encodes a single bus frame to a writer.
type FrameEncoder interface {
	EncodeTo(w io.Writer, fr frame.Frame) (int, error)
}

// FrameSink is a generic bus frame transmission target.
type FrameSink interface {
	SendFrame(frame.Frame) error
}
