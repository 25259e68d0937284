package epbase

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Options holds the socket-level options an endpoint base exposes:
// IPV4ONLY, RECONNECT_IVL, RECONNECT_IVL_MAX, SNDBUF, RCVBUF.
//
// YAML tags let cmd/conduit-listen and cmd/conduit-dial load these from a
// config file, with DefaultOptions supplying anything the file omits.
type Options struct {
	IPv4Only        bool          `yaml:"ipv4_only"`
	ReconnectIvl    time.Duration `yaml:"reconnect_ivl"`
	ReconnectIvlMax time.Duration `yaml:"reconnect_ivl_max"`
	SndBuf          int           `yaml:"sndbuf"`
	RcvBuf          int           `yaml:"rcvbuf"`
}

// Default reconnect/buffer sizing: a constant 100ms backoff (the maximum
// defaults to the initial interval), 128KiB socket buffers.
const (
	DefaultReconnectIvl    = 100 * time.Millisecond
	DefaultReconnectIvlMax = 0 // 0 => equals DefaultReconnectIvl
	DefaultSndBuf          = 128 * 1024
	DefaultRcvBuf          = 128 * 1024
)

// DefaultOptions returns the option set a newly created endpoint uses
// unless overridden.
func DefaultOptions() Options {
	return Options{
		IPv4Only:        false,
		ReconnectIvl:    DefaultReconnectIvl,
		ReconnectIvlMax: DefaultReconnectIvlMax,
		SndBuf:          DefaultSndBuf,
		RcvBuf:          DefaultRcvBuf,
	}
}

// EffectiveMaxInterval returns ReconnectIvlMax, or ReconnectIvl when
// ReconnectIvlMax is zero ("0 means equal to RECONNECT_IVL").
func (o Options) EffectiveMaxInterval() time.Duration {
	if o.ReconnectIvlMax <= 0 {
		return o.ReconnectIvl
	}
	return o.ReconnectIvlMax
}

// LoadOptionsFile reads Options from a YAML file, starting from
// DefaultOptions so a config file only needs to override what it cares
// about.
func LoadOptionsFile(path string) (Options, error) {
	opts := DefaultOptions()
	data, err := os.ReadFile(path)
	if err != nil {
		return opts, err
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, err
	}
	return opts, nil
}
