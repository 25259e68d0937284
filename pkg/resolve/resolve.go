// Package resolve implements the DNS resolver sub-machine: given a
// hostname, asynchronously resolve it to a single address, emitting DONE
// then STOPPED.
//
// ".local" names are browsed via mDNS (github.com/enbility/zeroconf/v3);
// everything else goes through stdlib net.Resolver directly, in the same
// command/callback shape as the zeroconf lookup path below.
package resolve

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/conduitmesh/conduit/pkg/addr"
	"github.com/enbility/zeroconf/v3"
)

// Result is the outcome of a resolution attempt (Err, IP, Zone), kept as
// the connected endpoint's dns_result attribute.
type Result struct {
	Err  error
	IP   net.IP
	Zone string
}

// Resolver is the DNS sub-machine. It resolves at most one hostname per
// Start/Stop cycle and is safe to reuse across cycles.
type Resolver struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	idle   bool

	onDone    func(Result)
	onStopped func()
}

// New creates an idle Resolver.
func New() *Resolver {
	return &Resolver{idle: true}
}

// OnDone sets the callback invoked once resolution completes (success or
// failure). Must be set before Start.
func (r *Resolver) OnDone(fn func(Result)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDone = fn
}

// OnStopped sets the callback invoked once Stop has fully quiesced the
// resolver. Must be set before Stop.
func (r *Resolver) OnStopped(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onStopped = fn
}

// Start resolves host asynchronously. A literal IPv4/IPv6 address is
// still routed through this asynchronous path rather than answered
// synchronously, so the connected endpoint's RESOLVING state is always
// observed uniformly.
func (r *Resolver) Start(host string, ipv4Only bool) {
	ctx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	r.cancel = cancel
	r.idle = false
	r.mu.Unlock()

	go func() {
		result := resolveOne(ctx, host, ipv4Only)

		r.mu.Lock()
		done := r.onDone
		r.mu.Unlock()
		if done != nil {
			done(result)
		}
	}()
}

// Stop cancels any in-flight resolution. OnStopped fires asynchronously,
// exactly once, even if resolution already completed.
func (r *Resolver) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	go func() {
		r.mu.Lock()
		r.idle = true
		hook := r.onStopped
		r.mu.Unlock()
		if hook != nil {
			hook()
		}
	}()
}

// IsIdle reports whether the resolver has no outstanding Start/Stop.
func (r *Resolver) IsIdle() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.idle
}

func resolveOne(ctx context.Context, host string, ipv4Only bool) Result {
	if ip, err := addr.ParseLiteral(host, false); err == nil {
		return Result{IP: ip}
	}

	if addr.IsLocalMDNSName(host) {
		return resolveMDNS(ctx, host, ipv4Only)
	}

	// Family is not filtered here regardless of ipv4Only: the answer is
	// accepted as-is and left for bind to fail on if the families are
	// incompatible, same as the literal and mDNS paths above.
	resolver := net.DefaultResolver
	ips, err := resolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return Result{Err: err}
	}
	if len(ips) == 0 {
		return Result{Err: errNoAddress}
	}
	return Result{IP: ips[0]}
}

// ServiceType is the mDNS service type browsed to resolve a plain ".local"
// hostname to an address: instance-name-to-address aggregation, without any
// commissioning-specific TXT record decoding. pkg/discovery registers
// service records under the same type so a bound endpoint's advertisement
// is reachable through this lookup.
const ServiceType = "_conduit._tcp"

// Domain is the mDNS domain browsed and registered against.
const Domain = "local."

// resolveMDNS resolves a ".local" hostname via multicast DNS, browsing for
// a service instance whose name matches the host label.
func resolveMDNS(ctx context.Context, host string, ipv4Only bool) Result {
	instance := strings.TrimSuffix(host, ".local")
	instance = strings.TrimSuffix(instance, ".")

	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 8)
	removed := make(chan *zeroconf.ServiceEntry, 8)
	go func() {
		for range removed {
		}
	}()
	go func() {
		_ = zeroconf.Browse(lookupCtx, ServiceType, Domain, entries, removed)
	}()

	for {
		select {
		case <-lookupCtx.Done():
			return Result{Err: errMDNSTimeout}
		case entry, ok := <-entries:
			if !ok {
				return Result{Err: errMDNSTimeout}
			}
			if entry == nil || entry.Instance != instance {
				continue
			}
			if !ipv4Only && len(entry.AddrIPv6) > 0 {
				return Result{IP: entry.AddrIPv6[0]}
			}
			if len(entry.AddrIPv4) > 0 {
				return Result{IP: entry.AddrIPv4[0]}
			}
			if len(entry.AddrIPv6) > 0 {
				return Result{IP: entry.AddrIPv6[0]}
			}
		}
	}
}
