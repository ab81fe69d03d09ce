package main

import (
	"fmt"
	"log/slog"

	"github.com/grantwilk/busnode/internal/lineio"
	"github.com/grantwilk/busnode/internal/link"
	"github.com/grantwilk/busnode/internal/metrics"
	"github.com/grantwilk/busnode/internal/timer"
)

// openLine opens the configured Line backend. The sim backend exists for
// demos/dry-runs where no hardware is attached; uart/term drive a real wire.
func openLine(cfg *appConfig, l *slog.Logger) (lineio.Line, func(), error) {
	switch cfg.lineBackend {
	case "sim":
		l.Warn("line_backend_sim", "note", "loopback only, no peer node can see this line")
		return lineio.NewSimLine(), func() {}, nil
	case "term":
		tl, err := lineio.OpenTerm(cfg.device, cfg.baud)
		if err != nil {
			metrics.IncError(metrics.ErrLineIO)
			return nil, func() {}, fmt.Errorf("open term line: %w", err)
		}
		return tl, func() { _ = tl.Close() }, nil
	case "uart":
		ul, err := lineio.OpenUART(cfg.device, cfg.baud)
		if err != nil {
			metrics.IncError(metrics.ErrLineIO)
			return nil, func() {}, fmt.Errorf("open uart line: %w", err)
		}
		return ul, func() { _ = ul.Close() }, nil
	default:
		return nil, func() {}, fmt.Errorf("unknown line backend %q", cfg.lineBackend)
	}
}

// initLink opens the line and constructs the Link wired to it.
func initLink(cfg *appConfig, l *slog.Logger) (*link.Link, func(), error) {
	line, closeLine, err := openLine(cfg, l)
	if err != nil {
		return nil, func() {}, err
	}

	lnk, err := link.New(line, timer.NewHalfBit(), timer.NewBackoff(),
		link.WithHalfBitPeriod(cfg.halfBitPeriod),
		link.WithIdleTimeout(cfg.idleTimeout),
		link.WithQueueCapacity(cfg.queueCap),
		link.WithLocalAddress(cfg.localAddr),
	)
	if err != nil {
		closeLine()
		return nil, func() {}, fmt.Errorf("new link: %w", err)
	}
	l.Info("link_ready", "local_addr", fmt.Sprintf("0x%02X", cfg.localAddr),
		"half_bit_period", cfg.halfBitPeriod, "idle_timeout", cfg.idleTimeout)
	return lnk, closeLine, nil
}
