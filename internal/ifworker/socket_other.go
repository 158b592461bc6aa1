//go:build !linux

package ifworker

import (
	"fmt"
	"net"
)

// openRawSocket is unavailable outside Linux: AF_PACKET is a Linux-only
// address family. This mirrors the graceful-degradation shape the
// teacher's ARP prober uses when CAP_NET_RAW is unavailable, except here
// the platform itself cannot support it, so every worker on a non-Linux
// host fails to bind rather than silently running in a reduced-safety
// mode — an ARP daemon with no working socket has no useful degraded
// behaviour to fall back to.
func openRawSocket(iface *net.Interface) (rawSocket, error) {
	return nil, fmt.Errorf("ifworker: raw link-layer sockets require linux (interface %s)", iface.Name)
}
