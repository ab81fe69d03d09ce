// Package discovery advertises a node's optional TCP bridge via mDNS so a
// LAN monitor can find it without a configured address, grounded on the
// teacher's cmd/can-server mDNS helper and moved in-process since more than
// one command (busnode, bushost) wants to register or browse for a bridge.
package discovery

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the fixed mDNS service type a bus node's bridge advertises
// itself under.
const ServiceType = "_busnode._tcp"

// Register advertises instance (or a hostname-derived default) at port,
// attaching meta as TXT records, and returns a cleanup func. name may be
// empty to fall back to "busnode-<hostname>".
func Register(ctx context.Context, name string, port int, meta []string) (func(), error) {
	instance := name
	if instance == "" {
		host, _ := os.Hostname()
		instance = fmt.Sprintf("busnode-%s", host)
	}
	svc, err := zeroconf.Register(instance, ServiceType, "local.", port, meta, nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() { close(done); svc.Shutdown(); time.Sleep(50 * time.Millisecond) }, nil
}

// Node describes one discovered bridge instance.
type Node struct {
	Instance string
	Host     string
	Addrs    []string
	Port     int
	Meta     []string
}

// Browse looks for busnode bridges on the local network for up to timeout,
// returning whatever it finds. Used by cmd/bushost's -discover flag.
func Browse(ctx context.Context, timeout time.Duration) ([]Node, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: resolver: %w", err)
	}
	entries := make(chan *zeroconf.ServiceEntry, 16)
	var nodes []Node
	done := make(chan struct{})
	go func() {
		for e := range entries {
			addrs := make([]string, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
			for _, a := range e.AddrIPv4 {
				addrs = append(addrs, a.String())
			}
			for _, a := range e.AddrIPv6 {
				addrs = append(addrs, a.String())
			}
			nodes = append(nodes, Node{
				Instance: e.Instance,
				Host:     e.HostName,
				Addrs:    addrs,
				Port:     e.Port,
				Meta:     e.Text,
			})
		}
		close(done)
	}()
	browseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := resolver.Browse(browseCtx, ServiceType, "local.", entries); err != nil {
		return nil, fmt.Errorf("discovery: browse: %w", err)
	}
	<-browseCtx.Done()
	<-done
	return nodes, nil
}
