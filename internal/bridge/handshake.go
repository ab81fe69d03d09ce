package bridge

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// hello is the line a client must send within the handshake timeout; ack is
// the line the bridge replies with. This replaces the cannelloni handshake
// the teacher's TCP path used — a trivial greeting specific to this
// protocol, still timeout-guarded the same way.
//
// A client may optionally subscribe to only the frames addressed to one bus
// node by appending its address: "BUSNODE/1 ADDR=0xAA". A plain "BUSNODE/1"
// greeting stays promiscuous, the historical behavior, seeing every frame.
const (
	hello      = "BUSNODE/1"
	ack        = "OK"
	addrPrefix = "ADDR="
)

// Handshake performs the TCP hello exchange, failing if it doesn't complete
// within timeout. It returns the subscribed node address, if the client
// requested one, for the caller to attach to the new hub.Client.
func Handshake(ctx context.Context, c net.Conn, timeout time.Duration) (*byte, error) {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.SetDeadline(deadline); err != nil {
		return nil, err
	}
	defer c.SetDeadline(time.Time{})

	line, err := bufio.NewReader(c).ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("bridge: handshake read: %w", err)
	}
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 || fields[0] != hello {
		return nil, fmt.Errorf("bridge: handshake: unexpected greeting %q", strings.TrimSpace(line))
	}
	var subscribed *byte
	if len(fields) > 1 && strings.HasPrefix(fields[1], addrPrefix) {
		n, err := strconv.ParseUint(strings.TrimPrefix(fields[1], addrPrefix), 0, 8)
		if err != nil {
			return nil, fmt.Errorf("bridge: handshake: bad address %q: %w", fields[1], err)
		}
		a := byte(n)
		subscribed = &a
	}
	if _, err := fmt.Fprintf(c, "%s\n", ack); err != nil {
		return nil, fmt.Errorf("bridge: handshake write: %w", err)
	}
	return subscribed, nil
}
