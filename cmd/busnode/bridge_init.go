package main

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/grantwilk/busnode/internal/bridge"
	"github.com/grantwilk/busnode/internal/discovery"
	"github.com/grantwilk/busnode/internal/frame"
	"github.com/grantwilk/busnode/internal/hub"
	"github.com/grantwilk/busnode/internal/link"
)

// startBridge wires the optional TCP bridge to h and lnk. It returns a
// nil server and a no-op cleanup if cfg.listenAddr is empty (the bridge is
// disabled by default).
func startBridge(ctx context.Context, cfg *appConfig, h *hub.Hub, lnk *link.Link, l *slog.Logger) (*bridge.Server, func()) {
	if cfg.listenAddr == "" {
		return nil, func() {}
	}
	srv := bridge.NewServer(
		bridge.WithListenAddr(cfg.listenAddr),
		bridge.WithHub(h),
		bridge.WithSend(func(fr frame.Frame) error { return lnk.Send(fr.Destination, fr.Payload) }),
		bridge.WithLogger(l),
		bridge.WithMaxClients(cfg.maxClients),
		bridge.WithHandshakeTimeout(cfg.handshakeTO),
		bridge.WithReadDeadline(cfg.clientReadTO),
	)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			l.Error("bridge_server_error", "error", err)
		}
	}()

	go func() {
		if !cfg.mdnsEnable {
			return
		}
		select {
		case <-srv.Ready():
		case <-ctx.Done():
			return
		}
		port := bridgePort(srv.Addr())
		meta := []string{"version=" + version, "commit=" + commit}
		cleanup, err := discovery.Register(ctx, cfg.mdnsName, port, meta)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", discovery.ServiceType, "name", cfg.mdnsName, "port", port)
		go func() { <-ctx.Done(); cleanup() }()
	}()

	return srv, func() { _ = srv.Shutdown(context.Background()) }
}

func bridgePort(addr string) int {
	if _, p, err := net.SplitHostPort(addr); err == nil {
		if pn, err := strconv.Atoi(p); err == nil {
			return pn
		}
	}
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		if pn, err := strconv.Atoi(addr[i+1:]); err == nil {
			return pn
		}
	}
	return 0
}
