package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/grantwilk/busnode/internal/frame"
	"github.com/grantwilk/busnode/internal/hub"
	"github.com/grantwilk/busnode/internal/link"
)

// pollInterval is how often the recv loop checks the link's RX queue.
// Recv never blocks, so the loop supplies its own pacing.
const pollInterval = 200 * time.Microsecond

// startRecvLoop polls lnk.Recv and fans every decoded frame out to h,
// mirroring how the teacher's serial/socketcan RX goroutines hand frames
// straight to the hub as they arrive.
func startRecvLoop(ctx context.Context, lnk *link.Link, h *hub.Hub, l *slog.Logger, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(pollInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				for {
					src, dst, payload, ok := lnk.Recv()
					if !ok {
						break
					}
					l.Debug("frame_received", "src", src, "dst", dst, "len", len(payload))
					h.Broadcast(frame.Frame{Source: src, Destination: dst, Payload: payload})
				}
			}
		}
	}()
}
