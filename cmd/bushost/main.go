// Command bushost is the host-side counterpart to cmd/busnode: a CLI that
// drives a Link against either a real serial/terminal line or, for demos and
// local testing without hardware, an in-process simulated line that no other
// node is attached to. It exposes the same interactive console as the
// firmware entry point and can optionally discover busnode TCP bridges over
// mDNS and print the instances it finds.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grantwilk/busnode/internal/console"
	"github.com/grantwilk/busnode/internal/discovery"
	"github.com/grantwilk/busnode/internal/lineio"
	"github.com/grantwilk/busnode/internal/link"
	"github.com/grantwilk/busnode/internal/timer"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("bushost %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(1)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)

	if cfg.discover {
		runDiscover(cfg, l)
		return
	}

	line, closeLine, err := openLine(cfg, l)
	if err != nil {
		l.Error("line_open_error", "error", err)
		os.Exit(1)
	}
	defer closeLine()

	lnk, err := link.New(line, timer.NewHalfBit(), timer.NewBackoff(),
		link.WithHalfBitPeriod(cfg.halfBitPeriod),
		link.WithIdleTimeout(cfg.idleTimeout),
		link.WithLocalAddress(cfg.localAddr),
	)
	if err != nil {
		l.Error("link_init_error", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go printRecvLoop(ctx, lnk, l)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	c := console.New(lnk, os.Stdin, os.Stdout)
	if err := c.Run(); err != nil {
		l.Warn("console_exit", "error", err)
	}
	cancel()
}

func openLine(cfg *appConfig, l *slog.Logger) (lineio.Line, func(), error) {
	switch cfg.lineBackend {
	case "sim":
		return lineio.NewSimLine(), func() {}, nil
	case "term":
		tl, err := lineio.OpenTerm(cfg.device, cfg.baud)
		if err != nil {
			return nil, func() {}, err
		}
		return tl, func() { _ = tl.Close() }, nil
	case "uart":
		ul, err := lineio.OpenUART(cfg.device, cfg.baud)
		if err != nil {
			return nil, func() {}, err
		}
		return ul, func() { _ = ul.Close() }, nil
	default:
		return nil, func() {}, fmt.Errorf("unknown line backend %q", cfg.lineBackend)
	}
}

func printRecvLoop(ctx context.Context, lnk *link.Link, l *slog.Logger) {
	t := time.NewTicker(200 * time.Microsecond)
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
				fmt.Printf("recv src=0x%02X dst=0x%02X payload=%q\n", src, dst, payload)
			}
		}
	}
}

func runDiscover(cfg *appConfig, l *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.discoverTimeout)
	defer cancel()
	nodes, err := discovery.Browse(ctx, cfg.discoverTimeout)
	if err != nil {
		l.Error("discover_error", "error", err)
		os.Exit(1)
	}
	if len(nodes) == 0 {
		fmt.Println("no busnode bridges found")
		return
	}
	for _, n := range nodes {
		fmt.Printf("%s host=%s port=%d addrs=%v meta=%v\n", n.Instance, n.Host, n.Port, n.Addrs, n.Meta)
	}
}
