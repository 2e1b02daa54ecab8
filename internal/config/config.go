// Package config holds the small configuration surfaces for both sides of
// the tunnel: the Tunnel Endpoint takes a relay channel URL, the Relay Host
// takes a listen port. Everything else is a constant.
package config

import (
	"os"
	"strconv"
)

// DefaultRelayPort is the Relay Host's default listen port.
const DefaultRelayPort = 3000

// TunnelConfig is the Tunnel Endpoint's sole configuration input.
type TunnelConfig struct {
	RelayURL string // e.g. "ws://relay.example.com:3000/relay"
}

// HostConfig is the Relay Host's sole configuration input.
type HostConfig struct {
	ListenPort int
}

// LoadHostConfig reads the host's listen port from the PORT environment
// variable, falling back to DefaultRelayPort when unset or unparseable.
func LoadHostConfig() HostConfig {
	port := DefaultRelayPort
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n < 65536 {
			port = n
		}
	}
	return HostConfig{ListenPort: port}
}
