// Package console implements the bus node's thin interactive CLI: a
// line-oriented read/write loop recognizing a handful of commands for
// sending and addressing. It is not part of the link layer's core — just a
// foreground collaborator that drives the same Send/SetLocalAddress entry
// points a console user would reach for.
package console

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Sender is the narrow slice of link.Link the console drives.
type Sender interface {
	Send(dest byte, payload []byte) error
	SetLocalAddress(addr byte)
	LocalAddress() byte
}

// zerosBody and onesBody are message-body shorthands for eight all-zero or
// all-one bytes, useful for exercising the bus without typing raw bytes.
const (
	zerosBody = ".zeros"
	onesBody  = ".ones"
)

var zerosPayload = []byte{0, 0, 0, 0, 0, 0, 0, 0}
var onesPayload = []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// Console reads commands from r and writes responses/echoes to w, one line
// at a time, until r is exhausted.
type Console struct {
	link Sender
	in   *bufio.Scanner
	out  io.Writer
}

// New constructs a Console over link, reading from r and writing to w.
func New(link Sender, r io.Reader, w io.Writer) *Console {
	return &Console{link: link, in: bufio.NewScanner(r), out: w}
}

// Run processes lines until r returns EOF or an error, returning the first
// scan error encountered (nil on clean EOF).
func (c *Console) Run() error {
	for c.in.Scan() {
		c.dispatch(strings.TrimSpace(c.in.Text()))
	}
	return c.in.Err()
}

func (c *Console) dispatch(line string) {
	if line == "" {
		return
	}
	if strings.HasPrefix(line, "/setaddr ") {
		c.setAddr(strings.TrimSpace(strings.TrimPrefix(line, "/setaddr ")))
		return
	}

	tok, rest, _ := strings.Cut(line, " ")
	dest, err := parseByte(tok)
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
		return
	}
	c.send(dest, rest)
}

func (c *Console) setAddr(tok string) {
	addr, err := parseByte(tok)
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
		return
	}
	c.link.SetLocalAddress(addr)
	fmt.Fprintf(c.out, "local address set to 0x%02X\n", addr)
}

func (c *Console) send(dest byte, body string) {
	payload := messagePayload(body)
	if err := c.link.Send(dest, payload); err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "sent %d bytes to 0x%02X\n", len(payload), dest)
}

func messagePayload(body string) []byte {
	switch body {
	case zerosBody:
		return zerosPayload
	case onesBody:
		return onesPayload
	default:
		return []byte(body)
	}
}

func parseByte(tok string) (byte, error) {
	tok = strings.TrimPrefix(strings.TrimPrefix(tok, "0x"), "0X")
	v, err := strconv.ParseUint(tok, 16, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", tok)
	}
	return byte(v), nil
}
