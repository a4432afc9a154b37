package resolver

import (
	"net"

	"github.com/dnsscience/evreq/internal/nameserver"
	"github.com/dnsscience/evreq/internal/netutil"
	"github.com/dnsscience/evreq/internal/wire"
)

// AddNameserver adds ipv4 to the pool and, if a Reactor is configured,
// subscribes its socket to read-readiness so inbound replies reach the
// dispatcher.
func (r *Resolver) AddNameserver(ipv4 net.IP) error {
	if err := r.pool.Add(ipv4); err != nil {
		return err
	}
	r.watchNameserver(r.pool.Last())
	r.sampleMetrics()
	return nil
}

// AddNameserverString parses a dotted-quad address and adds it.
func (r *Resolver) AddNameserverString(s string) error {
	if err := r.pool.AddString(s); err != nil {
		return err
	}
	r.watchNameserver(r.pool.Last())
	r.sampleMetrics()
	return nil
}

// CountNameservers returns the size of the pool (UP + DOWN).
func (r *Resolver) CountNameservers() int { return r.pool.Count() }

// GoodNameserverCount returns the number of nameservers currently marked UP.
func (r *Resolver) GoodNameserverCount() int { return r.pool.GoodCount() }

// Stats is a point-in-time snapshot of the resolver's internal queues and
// pool health, for a caller's own periodic reporting.
type Stats struct {
	NameserversUp   int
	NameserversDown int
	Inflight        int
	Waiting         int
}

// Stats returns a snapshot of the resolver's current pool and queue
// sizes.
func (r *Resolver) Stats() Stats {
	up := r.pool.GoodCount()
	return Stats{
		NameserversUp:   up,
		NameserversDown: r.pool.Count() - up,
		Inflight:        r.queue.InflightCount(),
		Waiting:         r.queue.WaitingCount(),
	}
}

// reassignFailed is nameserver.Pool's Reassign callback: it hands off to
// the queue, which owns the request lists the pool has no notion of.
func (r *Resolver) reassignFailed(ns *nameserver.Nameserver) {
	r.queue.ReassignFailed(ns)
	r.sampleMetrics()
}

func (r *Resolver) watchNameserver(ns *nameserver.Nameserver) {
	if r.reactor == nil || ns == nil {
		return
	}
	r.reactor.WatchReadable(ns.Conn, func() {
		r.disp.Drain(ns, func() ([]byte, bool) { return r.recvFrom(ns) })
	})
}

// recvFrom performs one non-blocking read on ns's socket. A read error
// other than EAGAIN is treated as a server-attributable failure, same as
// a failed send (spec §4.3's "socket send error other than EAGAIN"
// trigger, extended to the symmetric read side).
func (r *Resolver) recvFrom(ns *nameserver.Nameserver) ([]byte, bool) {
	buf := make([]byte, wire.MaxMessageSize)
	n, err := ns.Conn.Read(buf)
	if err != nil {
		if !netutil.IsEAGAIN(err) {
			r.pool.Failed(ns, err.Error())
		}
		return nil, false
	}
	return buf[:n], true
}

// ClearAndSuspend tears down every configured nameserver socket and
// moves all inflight requests back to waiting, per spec §4.4's
// clear_and_suspend. The pool is left empty; AddNameserver(String) must
// be called again before Resume can transmit anything.
func (r *Resolver) ClearAndSuspend() {
	r.queue.ClearAndSuspend()
	r.pool.Teardown()
	r.sampleMetrics()
}

// Resume runs a pump cycle, typically after ClearAndSuspend and fresh
// nameservers being added back.
func (r *Resolver) Resume() {
	r.queue.Resume()
	r.sampleMetrics()
}

// Shutdown releases all pending requests, delivering rescode.Shutdown to
// each if failRequests is set, then tears down the nameserver pool.
func (r *Resolver) Shutdown(failRequests bool) {
	r.queue.Shutdown(failRequests)
	r.pool.Teardown()
}
