//go:build linux

package relayclient

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// tunnelMark is the fwmark that exempts the relay channel's own socket
// from the tunnel's routing. A non-zero mark here causes the platform's
// policy routing to send this socket's packets out the default physical
// interface instead of back into the tunnel.
const tunnelMark = 0xCAFE

// MarkNonTunneled wires a Control callback into dialer so the relay
// channel's outbound TCP socket bypasses the tunnel's own routing.
func MarkNonTunneled(dialer *net.Dialer) {
	dialer.Control = func(_, _ string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_MARK, tunnelMark)
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}
