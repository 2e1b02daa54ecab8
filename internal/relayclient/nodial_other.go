//go:build !linux

package relayclient

import "net"

// MarkNonTunneled is a no-op on platforms where the "exempt this socket
// from tunnel routing" primitive is not SO_MARK-based; on those platforms
// the equivalent is provided by an external routing collaborator rather
// than a socket option here.
func MarkNonTunneled(dialer *net.Dialer) {}
