package iface

import (
	"fmt"
	"os"
)

// FromFD wraps an already-open file descriptor, established elsewhere, as
// an Interface. The descriptor must already be configured with the
// tunnel's address, default route, and per-app packet filter; this call
// performs no configuration of its own.
func FromFD(fd uintptr, name string) (Interface, error) {
	f := os.NewFile(fd, name)
	if f == nil {
		return nil, fmt.Errorf("iface: invalid descriptor %d", fd)
	}
	return f, nil
}
