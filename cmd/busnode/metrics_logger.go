package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/grantwilk/busnode/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"frames_sent", snap.FramesSent,
					"frames_received", snap.FramesReceived,
					"collisions", snap.Collisions,
					"backoffs", snap.Backoffs,
					"manchester_rejects", snap.ManchesterRejects,
					"crc_rejects", snap.CRCRejects,
					"wrong_version", snap.WrongVersion,
					"hub_drops", snap.HubDrops,
					"hub_kicks", snap.HubKicks,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
