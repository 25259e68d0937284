package resolve

import "errors"

var (
	errNoAddress   = errors.New("resolve: no address returned")
	errMDNSTimeout = errors.New("resolve: mdns lookup timed out")
)
