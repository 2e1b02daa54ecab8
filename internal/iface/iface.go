// Package iface defines the virtual network interface contract: an
// opaque, already-open byte stream that delivers one complete IPv4
// datagram per blocking Read and accepts one complete IPv4 datagram per
// blocking Write. Opening the real OS-level interface — address
// 10.0.0.2/24, default route, per-app packet filter — is an external
// collaborator's job; this package only describes the shape the Tunnel
// Endpoint depends on.
package iface

import "io"

// Interface is the virtual network interface handle the Tunnel Endpoint
// reads inbound packets from and writes outbound packets to.
type Interface = io.ReadWriteCloser

// MaxDatagramSize bounds the per-Read buffer.
const MaxDatagramSize = 32768
