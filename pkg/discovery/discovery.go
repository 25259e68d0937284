// Package discovery advertises a bound endpoint's listening port over
// multicast DNS so connected endpoints can find it by ".local" name via
// pkg/resolve, without needing a separate TXT-record data model.
package discovery

import (
	"fmt"
	"sync"

	"github.com/conduitmesh/conduit/pkg/resolve"
	"github.com/enbility/zeroconf/v3"
)

// Advertiser registers and withdraws a single mDNS service record. It is
// safe to call Advertise/Withdraw repeatedly; each Advertise replaces any
// record already registered.
type Advertiser struct {
	mu     sync.Mutex
	server *zeroconf.Server
}

// New creates an Advertiser with no active record.
func New() *Advertiser {
	return &Advertiser{}
}

// Advertise registers instance as an mDNS service reachable at port,
// replacing any record this Advertiser previously registered.
func (a *Advertiser) Advertise(instance string, port int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	server, err := zeroconf.Register(instance, resolve.ServiceType, resolve.Domain, port, nil, nil)
	if err != nil {
		return fmt.Errorf("discovery: registering %q: %w", instance, err)
	}
	a.server = server
	return nil
}

// Withdraw removes the active service record, if any. A no-op when nothing
// is currently advertised.
func (a *Advertiser) Withdraw() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// Active reports whether a service record is currently registered.
func (a *Advertiser) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}
