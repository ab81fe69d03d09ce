package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/grantwilk/busnode/internal/console"
	"github.com/grantwilk/busnode/internal/metrics"
)

// Helper implementations live in dedicated files: version.go, config.go,
// logger.go, hub_init.go, metrics_logger.go, link_init.go, bridge_init.go,
// recv_loop.go.

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("busnode %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(1)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	h := initHub(cfg, l)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	lnk, closeLine, err := initLink(cfg, l)
	if err != nil {
		l.Error("link_init_error", "error", err)
		return
	}
	defer closeLine()

	startRecvLoop(ctx, lnk, h, l, &wg)

	_, stopBridge := startBridge(ctx, cfg, h, lnk, l)
	defer stopBridge()

	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil })
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	if cfg.console {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := console.New(lnk, os.Stdin, os.Stdout)
			if err := c.Run(); err != nil {
				l.Warn("console_exit", "error", err)
			}
			cancel()
		}()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sigCh:
		l.Info("shutdown_signal", "signal", s.String())
	case <-ctx.Done():
	}
	cancel()
	wg.Wait()
}
