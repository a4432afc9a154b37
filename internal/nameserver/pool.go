package nameserver

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/dnsscience/evreq/internal/netutil"
	"github.com/dnsscience/evreq/internal/reactor"
)

var (
	ErrDuplicate = errors.New("nameserver: already in pool")
	ErrNotIPv4   = errors.New("nameserver: address is not IPv4")
)

// defaultTimeouts is the probe back-off table: index = min(failedTimes, len-1).
var defaultTimeouts = []time.Duration{
	10 * time.Second,
	60 * time.Second,
	5 * time.Minute,
	15 * time.Minute,
	time.Hour,
}

// defaultProbeName resolves Open Question #1: the recovery-probe query
// name is configurable, with this as the out-of-the-box value.
const defaultProbeName = "www.google.com."

// Config configures a Pool.
type Config struct {
	Reactor   reactor.Reactor
	ProbeName string          // default: defaultProbeName
	Timeouts  []time.Duration // default: defaultTimeouts
	LogFn     func(warn bool, msg string)

	// Prober issues the recovery probe query against ns and calls done
	// with the result once a reply (or final timeout) is known. The pool
	// itself has no notion of requests/queues; submitting the probe into
	// the request pipeline is the façade's job, wired in here.
	Prober func(ns *Nameserver, done func(code int))

	// Reassign is called after ns is marked DOWN so the caller can move
	// any requests still bound to ns (tx_count == 0, i.e. never actually
	// transmitted — typically stuck behind a choked write) onto a freshly
	// picked server. The pool has no notion of requests/queues; this
	// mirrors the Prober closure's role in crossing that boundary.
	Reassign func(ns *Nameserver)
}

// Pool tracks the configured nameservers and hands out the next one to
// try via round-robin-with-health-skip.
type Pool struct {
	head   *Nameserver
	cursor *Nameserver
	count  int
	good   int

	reactor   reactor.Reactor
	probeName string
	timeouts  []time.Duration
	logf      func(warn bool, msg string)
	prober    func(ns *Nameserver, done func(code int))
	reassign  func(ns *Nameserver)
}

// New returns an empty pool.
func New(cfg Config) *Pool {
	if cfg.ProbeName == "" {
		cfg.ProbeName = defaultProbeName
	}
	if len(cfg.Timeouts) == 0 {
		cfg.Timeouts = defaultTimeouts
	}
	if cfg.LogFn == nil {
		cfg.LogFn = func(bool, string) {}
	}
	return &Pool{
		reactor:   cfg.Reactor,
		probeName: cfg.ProbeName,
		timeouts:  cfg.Timeouts,
		logf:      cfg.LogFn,
		prober:    cfg.Prober,
		reassign:  cfg.Reassign,
	}
}

// ProbeName returns the configured probe query name.
func (p *Pool) ProbeName() string { return p.probeName }

// Count returns the number of nameservers in the pool (UP + DOWN).
func (p *Pool) Count() int { return p.count }

// GoodCount returns the number of UP nameservers.
func (p *Pool) GoodCount() int { return p.good }

// Last returns the most recently added nameserver (the pool's circular
// list is append-at-tail), or nil if the pool is empty. Callers that need
// to subscribe a newly added nameserver's socket to reactor readiness use
// this right after a successful Add/AddString.
func (p *Pool) Last() *Nameserver {
	if p.head == nil {
		return nil
	}
	return p.head.prev
}

// AddString parses a dotted-quad address and adds it.
func (p *Pool) AddString(s string) error {
	ip := net.ParseIP(s)
	if ip == nil {
		return fmt.Errorf("nameserver: invalid address %q", s)
	}
	return p.Add(ip)
}

// Add dials a connected UDP socket to ip:53, sets it non-blocking, and
// inserts a new UP nameserver at the tail of the pool's circular list.
func (p *Pool) Add(ip net.IP) error {
	addr, ok := addrFromIP(ip)
	if !ok {
		return ErrNotIPv4
	}

	for n := p.head; n != nil; {
		if n.Addr == addr {
			return ErrDuplicate
		}
		n = n.next
		if n == p.head {
			break
		}
	}

	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: ip, Port: 53})
	if err != nil {
		return fmt.Errorf("nameserver: dial %s: %w", ip, err)
	}
	if err := netutil.SetNonblocking(conn); err != nil {
		conn.Close()
		return fmt.Errorf("nameserver: set non-blocking %s: %w", ip, err)
	}

	ns := &Nameserver{Addr: addr, Conn: conn, State: Up, pool: p}
	p.insertTail(ns)
	p.good++
	return nil
}

func (p *Pool) insertTail(ns *Nameserver) {
	if p.head == nil {
		ns.prev, ns.next = ns, ns
		p.head = ns
		p.cursor = ns
	} else {
		tail := p.head.prev
		tail.next = ns
		ns.prev = tail
		ns.next = p.head
		p.head.prev = ns
	}
	p.count++
}

func (p *Pool) unlink(ns *Nameserver) {
	if ns.next == ns {
		p.head = nil
		p.cursor = nil
	} else {
		ns.prev.next = ns.next
		ns.next.prev = ns.prev
		if p.head == ns {
			p.head = ns.next
		}
		if p.cursor == ns {
			p.cursor = ns.next
		}
	}
	ns.prev, ns.next = nil, nil
	p.count--
}

// Pick performs round-robin selection with a health skip: if no UP server
// exists, it returns the cursor unchanged (advanced by one) so callers
// still have something to attempt; otherwise it advances until it finds
// an UP server, returns it, and leaves the cursor one past it.
func (p *Pool) Pick() *Nameserver {
	if p.head == nil {
		return nil
	}
	if p.good == 0 {
		ns := p.cursor
		p.cursor = p.cursor.next
		return ns
	}

	start := p.cursor
	for {
		candidate := p.cursor
		p.cursor = p.cursor.next
		if candidate.State == Up {
			return candidate
		}
		if p.cursor == start {
			// Shouldn't happen given good > 0, but guards against a
			// stale good counter from ever looping forever.
			return candidate
		}
	}
}

// All returns every nameserver currently in the pool, head first.
func (p *Pool) All() []*Nameserver {
	if p.head == nil {
		return nil
	}
	var out []*Nameserver
	n := p.head
	for {
		out = append(out, n)
		n = n.next
		if n == p.head {
			break
		}
	}
	return out
}

// Failed marks ns DOWN (no-op if already DOWN): decrements the good
// count, sets failedTimes to 1, arms the probe timer at timeouts[0], and
// gives the caller a chance to reassign any requests still bound to ns
// (spec: "reassign any waiting-to-be-sent requests bound to this server
// to a freshly picked server").
func (p *Pool) Failed(ns *Nameserver, reason string) {
	if ns.State == Down {
		return
	}
	ns.State = Down
	ns.FailedTimes = 1
	p.good--
	p.logf(true, fmt.Sprintf("nameserver %s marked DOWN: %s", ns.IP(), reason))
	p.armProbe(ns)
	if ns.writeCancel != nil {
		ns.writeCancel()
		ns.writeCancel = nil
	}
	ns.Choked = false
	ns.WriteWaiting = false
	if p.reassign != nil {
		p.reassign(ns)
	}
}

// Succeeded marks ns UP following a successful reply, per spec §4.5
// ("Success: mark server UP; deliver").
func (p *Pool) Succeeded(ns *Nameserver) {
	p.markUp(ns)
}

func (p *Pool) markUp(ns *Nameserver) {
	if ns.State == Up {
		return
	}
	ns.State = Up
	ns.FailedTimes = 0
	p.good++
	p.logf(false, fmt.Sprintf("nameserver %s recovered, marked UP", ns.IP()))
}

func (p *Pool) backoffFor(ns *Nameserver) time.Duration {
	idx := ns.FailedTimes
	if idx >= len(p.timeouts) {
		idx = len(p.timeouts) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return p.timeouts[idx]
}

func (p *Pool) armProbe(ns *Nameserver) {
	if ns.probeCancel != nil {
		ns.probeCancel()
	}
	if p.reactor == nil {
		return
	}
	delay := p.backoffFor(ns)
	ns.probeCancel = p.reactor.AfterFunc(delay, func() {
		p.fireProbe(ns)
	})
}

func (p *Pool) fireProbe(ns *Nameserver) {
	if p.prober == nil {
		return
	}
	p.prober(ns, func(code int) {
		p.handleProbeResult(ns, code)
	})
}

// handleProbeResult implements §4.3's probe callback: success (NONE) or
// NOTEXIST marks the server UP; anything else increments failedTimes and
// re-arms the probe at the next back-off tier.
func (p *Pool) handleProbeResult(ns *Nameserver, code int) {
	const (
		codeNone     = 0
		codeNotExist = 3
	)
	if code == codeNone || code == codeNotExist {
		p.markUp(ns)
		return
	}
	ns.FailedTimes++
	p.armProbe(ns)
}

// Teardown closes every nameserver's socket and cancels outstanding
// timers, used by clear_and_suspend. The pool is left empty; a fresh
// Add must be called to use it again (matching the source's "tear down
// all sockets and servers").
func (p *Pool) Teardown() {
	for _, ns := range p.All() {
		if ns.probeCancel != nil {
			ns.probeCancel()
		}
		if ns.writeCancel != nil {
			ns.writeCancel()
		}
		if ns.Conn != nil {
			ns.Conn.Close()
		}
	}
	p.head = nil
	p.cursor = nil
	p.count = 0
	p.good = 0
}

// MarkChoked records that ns's last send returned EAGAIN and subscribes
// to write-readiness; onWritable is invoked once the socket is ready to
// accept more data, after which the subscription is automatically
// cancelled (write-ready watches in this module are always one-shot).
func (p *Pool) MarkChoked(ns *Nameserver, onWritable func()) {
	ns.Choked = true
	if ns.WriteWaiting || p.reactor == nil {
		return
	}
	ns.WriteWaiting = true
	ns.writeCancel = p.reactor.WatchWritable(ns.Conn, func() {
		ns.Choked = false
		ns.WriteWaiting = false
		onWritable()
	})
}
