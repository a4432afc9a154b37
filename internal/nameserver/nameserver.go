// Package nameserver tracks the health of the configured recursive
// resolvers: round-robin selection with a health skip, marking a server
// DOWN on server-attributable failure, and probe-based recovery with an
// exponential back-off table.
package nameserver

import (
	"net"

	"github.com/dnsscience/evreq/internal/reactor"
)

// State is a nameserver's health as observed by the pool.
type State int

const (
	Up State = iota
	Down
)

func (s State) String() string {
	if s == Up {
		return "UP"
	}
	return "DOWN"
}

// Nameserver is one configured recursive resolver. It is only ever
// mutated from the single cooperative thread driving the pool; there is
// no internal locking, matching the core's documented single-threaded
// model.
type Nameserver struct {
	Addr [4]byte
	Conn *net.UDPConn

	State       State
	FailedTimes int // consecutive failed probes, DOWN only
	TimedOut    int // consecutive request timeouts, UP only

	Choked       bool // last send returned EAGAIN
	WriteWaiting bool // subscribed to write-ready

	probeCancel reactor.Cancel
	writeCancel reactor.Cancel

	// prev/next form the pool's circular doubly-linked list; a
	// single-element list points to itself.
	prev, next *Nameserver

	pool *Pool
}

// IP returns the nameserver's address as a net.IP.
func (n *Nameserver) IP() net.IP {
	return net.IPv4(n.Addr[0], n.Addr[1], n.Addr[2], n.Addr[3])
}

func addrFromIP(ip net.IP) ([4]byte, bool) {
	v4 := ip.To4()
	if v4 == nil {
		return [4]byte{}, false
	}
	var a [4]byte
	copy(a[:], v4)
	return a, true
}
