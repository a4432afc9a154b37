package reqqueue

import (
	"encoding/binary"
	"time"

	"github.com/dnsscience/evreq/internal/metrics"
	"github.com/dnsscience/evreq/internal/nameserver"
	"github.com/dnsscience/evreq/internal/netutil"
	"github.com/dnsscience/evreq/internal/reactor"
	"github.com/dnsscience/evreq/internal/rescode"
	"github.com/dnsscience/evreq/internal/txid"
	"github.com/dnsscience/evreq/internal/wire"
)

// Config configures a Queue. Defaults match spec §3's tunables.
type Config struct {
	Reactor reactor.Reactor
	Pool    *nameserver.Pool
	TxIDs   *txid.Allocator

	MaxInflight          int           // default 64
	RequestTimeout       time.Duration // default 5s
	MaxReissues          int           // default 1
	MaxRetransmits       int           // default 3
	MaxNameserverTimeout int           // default 3

	// Metrics is optional; when set, completions/retransmits/reissues are
	// reported to it.
	Metrics *metrics.Collector

	LogFn func(warn bool, msg string)
}

// Queue holds the waiting and inflight request lists and drives their
// lifecycle. It is single-threaded: every method must be called from the
// same goroutine the Reactor delivers callbacks on.
type Queue struct {
	waitingHead  *Request
	waitingCount int

	inflightHead  *Request
	inflightCount int

	cfg Config
}

// New returns an empty Queue with spec defaults applied for any zero
// fields.
func New(cfg Config) *Queue {
	if cfg.MaxInflight == 0 {
		cfg.MaxInflight = 64
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.MaxReissues == 0 {
		cfg.MaxReissues = 1
	}
	if cfg.MaxRetransmits == 0 {
		cfg.MaxRetransmits = 3
	}
	if cfg.MaxNameserverTimeout == 0 {
		cfg.MaxNameserverTimeout = 3
	}
	if cfg.LogFn == nil {
		cfg.LogFn = func(bool, string) {}
	}
	return &Queue{cfg: cfg}
}

// WaitingCount returns the size of the waiting list.
func (q *Queue) WaitingCount() int { return q.waitingCount }

// InflightCount returns the size of the inflight list.
func (q *Queue) InflightCount() int { return q.inflightCount }

// PeekInflight returns the inflight list's head without removing it, or
// nil if the list is empty. Callers outside this package have no other
// way to learn a submitted request's assigned TransID/NS; this exists so
// a caller one layer up (a test simulating a nameserver's reply, or a
// façade wanting to log the head of the line) can inspect it without
// reaching into unexported list fields.
func (q *Queue) PeekInflight() *Request { return q.inflightHead }

// --- intrusive circular list helpers -------------------------------------

func insertTail(head **Request, count *int, r *Request) {
	if *head == nil {
		r.prev, r.next = r, r
		*head = r
	} else {
		tail := (*head).prev
		tail.next = r
		r.prev = tail
		r.next = *head
		(*head).prev = r
	}
	*count++
}

func unlink(head **Request, count *int, r *Request) {
	if r.next == r {
		*head = nil
	} else {
		r.prev.next = r.next
		r.next.prev = r.prev
		if *head == r {
			*head = r.next
		}
	}
	r.prev, r.next = nil, nil
	*count--
}

func detachHead(head **Request, count *int) *Request {
	r := *head
	if r == nil {
		return nil
	}
	unlink(head, count, r)
	return r
}

// --- submission / promotion -----------------------------------------------

// Submit enqueues a new request. If inflight capacity permits (or the
// request is Force, i.e. a nameserver probe), it is assigned a server and
// transaction id and transmitted immediately; otherwise it joins the
// waiting list with TransID == Unassigned and NS == nil.
func (q *Queue) Submit(r *Request) {
	r.SubmittedAt = time.Now()
	if r.Force || q.inflightCount < q.cfg.MaxInflight {
		q.admitToInflight(r)
		q.transmit(r)
		return
	}
	r.TransID = Unassigned
	r.NS = nil
	r.waiting = true
	insertTail(&q.waitingHead, &q.waitingCount, r)
}

func (q *Queue) admitToInflight(r *Request) {
	if r.PinnedNS != nil {
		r.NS = r.PinnedNS
	} else {
		r.NS = q.cfg.Pool.Pick()
	}
	r.TransID = q.allocateID()
	r.waiting = false
	if len(r.Raw) >= 2 {
		binary.BigEndian.PutUint16(r.Raw[0:2], r.TransID)
	}
	insertTail(&q.inflightHead, &q.inflightCount, r)
}

func (q *Queue) allocateID() uint16 {
	id, err := q.cfg.TxIDs.Next(func(candidate uint16) bool {
		for n := q.inflightHead; n != nil; {
			if n.TransID == candidate {
				return true
			}
			n = n.next
			if n == q.inflightHead {
				break
			}
		}
		return false
	})
	if err != nil {
		// txid.Allocator.Next only fails if 2^20 attempts all collide,
		// which cannot happen against an inflight list bounded by
		// MaxInflight (default 64); treat it as an unrecoverable bug.
		panic("reqqueue: transaction id allocation failed: " + err.Error())
	}
	return id
}

// Pump promotes waiting requests into inflight while capacity exists,
// called after any completion, reissue, or explicit Resume.
func (q *Queue) Pump() {
	for q.inflightCount < q.cfg.MaxInflight && q.waitingHead != nil {
		r := detachHead(&q.waitingHead, &q.waitingCount)
		q.admitToInflight(r)
		q.transmit(r)
	}
}

// --- transmission -----------------------------------------------------

// transmit sends r's packet via its assigned nameserver. EAGAIN marks the
// server choked and retries once write-readiness fires; any other send
// error marks the server DOWN, and if the pool's Reassign callback did not
// move r to another server, the per-request timeout is still armed so the
// ordinary timeout-driven retransmit path retries it.
func (q *Queue) transmit(r *Request) {
	if r.NS == nil || r.NS.Conn == nil {
		q.armTimeout(r)
		return
	}

	_, err := r.NS.Conn.Write(r.Raw)
	if err != nil {
		if netutil.IsEAGAIN(err) {
			q.cfg.Pool.MarkChoked(r.NS, func() { q.transmit(r) })
			return
		}
		// Pool.Failed synchronously invokes ReassignFailed below, which
		// picks r up (its TxCount is still 0) and retransmits it on a
		// different server; a request it moved is not touched again here.
		// If r is still bound to the failed server (no other server, or
		// the server was already DOWN), its timeout is armed instead.
		failed := r.NS
		q.cfg.Pool.Failed(failed, err.Error())
		if r.NS == failed {
			q.armTimeout(r)
		}
		return
	}

	r.TxCount++
	q.armTimeout(r)
}

// ReassignFailed moves every inflight request bound to ns that was never
// actually transmitted (TxCount == 0 — stuck behind a choked write, or
// the request whose send just failed) onto a freshly picked server, per
// spec's nameserver_failed effect ("reassign any waiting-to-be-sent
// requests bound to this server to a freshly picked server"). It is
// wired as nameserver.Pool's Reassign callback, called right after ns is
// marked DOWN.
func (q *Queue) ReassignFailed(ns *nameserver.Nameserver) {
	var affected []*Request
	for n := q.inflightHead; n != nil; {
		if n.NS == ns && n.TxCount == 0 {
			affected = append(affected, n)
		}
		n = n.next
		if n == q.inflightHead {
			break
		}
	}

	for _, r := range affected {
		next := q.cfg.Pool.Pick()
		if next == nil || next.Addr == ns.Addr {
			continue
		}
		r.NS = next
		q.transmit(r)
	}
}

func (q *Queue) armTimeout(r *Request) {
	if r.timeoutCancel != nil {
		r.timeoutCancel()
	}
	if q.cfg.Reactor == nil {
		return
	}
	r.timeoutCancel = q.cfg.Reactor.AfterFunc(q.cfg.RequestTimeout, func() {
		q.Timeout(r)
	})
}

// --- timeout / reissue --------------------------------------------------

// Timeout handles a per-request timer firing: the assigned server's
// consecutive-timeout counter is incremented (and the server failed if it
// crosses the configured threshold); if the retransmit budget is
// exhausted the request is delivered a TIMEOUT, otherwise it is
// retransmitted.
func (q *Queue) Timeout(r *Request) {
	if r.NS != nil {
		r.NS.TimedOut++
		if r.NS.TimedOut > q.cfg.MaxNameserverTimeout {
			q.cfg.Pool.Failed(r.NS, "consecutive request timeouts")
		}
	}

	if r.TxCount >= q.cfg.MaxRetransmits {
		q.deliver(r, rescode.Timeout, nil)
		return
	}
	if q.cfg.Metrics != nil {
		q.cfg.Metrics.RecordRetransmit()
	}
	q.transmit(r)
}

// Reissue re-sends r on a different nameserver after a server-attributable
// failure, per spec §4.4. It returns false if the reissue budget is
// exhausted or no alternate server is available, in which case the
// caller (the reply dispatcher) must deliver a terminal error itself.
func (q *Queue) Reissue(r *Request, reason string) bool {
	if r.ReissueCount >= q.cfg.MaxReissues {
		return false
	}
	if r.NS != nil {
		q.cfg.Pool.Failed(r.NS, reason)
	}

	next := q.cfg.Pool.Pick()
	if next == nil || (r.NS != nil && next.Addr == r.NS.Addr) {
		return false
	}

	r.NS = next
	r.TxCount = 0
	r.ReissueCount++
	q.transmit(r)
	if q.cfg.Metrics != nil {
		q.cfg.Metrics.RecordReissue()
	}
	return true
}

// FindInflight linear-scans the inflight list for a request with the given
// transaction id, per spec §4.5 ("match incoming packet to request by
// transaction id; ... linear scan of inflight"). It returns nil if no
// request matches (an unmatched datagram is dropped by the caller).
func (q *Queue) FindInflight(transID uint16) *Request {
	for n := q.inflightHead; n != nil; {
		if n.TransID == transID {
			return n
		}
		n = n.next
		if n == q.inflightHead {
			break
		}
	}
	return nil
}

// Retire removes r from whichever list it occupies and cancels its
// timeout, without invoking its callback or releasing its search
// reference. It is used when a request is being replaced by the next
// search candidate rather than truly completing.
func (q *Queue) Retire(r *Request) {
	if r.timeoutCancel != nil {
		r.timeoutCancel()
		r.timeoutCancel = nil
	}
	if r.waiting {
		unlink(&q.waitingHead, &q.waitingCount, r)
	} else if q.inflightHead != nil {
		unlink(&q.inflightHead, &q.inflightCount, r)
	}
}

// --- completion ----------------------------------------------------------

// Deliver removes r from whichever list it occupies and invokes its
// callback exactly once. It is exported so the reply dispatcher can
// complete a request on a successful or terminal reply.
func (q *Queue) Deliver(r *Request, code rescode.Code, reply *wire.Reply) {
	q.deliver(r, code, reply)
}

func (q *Queue) deliver(r *Request, code rescode.Code, reply *wire.Reply) {
	if r.timeoutCancel != nil {
		r.timeoutCancel()
		r.timeoutCancel = nil
	}
	if r.waiting {
		unlink(&q.waitingHead, &q.waitingCount, r)
	} else if q.inflightHead != nil {
		unlink(&q.inflightHead, &q.inflightCount, r)
	}
	if r.Search != nil {
		r.Search.State.Release()
	}
	if q.cfg.Metrics != nil {
		q.cfg.Metrics.RecordRequest(r.Type, code, time.Since(r.SubmittedAt))
	}
	if r.Callback != nil {
		r.Callback(code, reply, r.Arg)
	}
	q.Pump()
}

// --- suspend / resume -----------------------------------------------------

// ClearAndSuspend moves every inflight request back to the waiting list,
// prepended ahead of any pre-existing waiters so their relative FIFO
// order is preserved, and resets their transmission counters. Callers are
// responsible for tearing down the nameserver pool separately (this
// package has no notion of sockets).
func (q *Queue) ClearAndSuspend() {
	var moved []*Request
	for q.inflightHead != nil {
		r := detachHead(&q.inflightHead, &q.inflightCount)
		if r.timeoutCancel != nil {
			r.timeoutCancel()
			r.timeoutCancel = nil
		}
		r.TransID = Unassigned
		r.NS = nil
		r.TxCount = 0
		r.ReissueCount = 0
		r.waiting = true
		moved = append(moved, r)
	}

	oldWaitingHead := q.waitingHead
	q.waitingHead = nil
	q.waitingCount = 0

	for _, r := range moved {
		insertTail(&q.waitingHead, &q.waitingCount, r)
	}
	for n := oldWaitingHead; n != nil; {
		next := n.next
		insertTail(&q.waitingHead, &q.waitingCount, n)
		n = next
		if n == oldWaitingHead {
			break
		}
	}
}

// Resume runs a pump cycle, typically after ClearAndSuspend and a fresh
// nameserver pool being configured.
func (q *Queue) Resume() {
	q.Pump()
}

// Shutdown delivers rescode.Shutdown to every pending request (waiting
// and inflight) if failRequests is set; otherwise it silently discards
// them.
func (q *Queue) Shutdown(failRequests bool) {
	for q.inflightHead != nil {
		r := detachHead(&q.inflightHead, &q.inflightCount)
		if r.timeoutCancel != nil {
			r.timeoutCancel()
		}
		if failRequests && r.Callback != nil {
			r.Callback(rescode.Shutdown, nil, r.Arg)
		}
		if q.cfg.Metrics != nil {
			q.cfg.Metrics.RecordRequest(r.Type, rescode.Shutdown, time.Since(r.SubmittedAt))
		}
		if r.Search != nil {
			r.Search.State.Release()
		}
	}
	for q.waitingHead != nil {
		r := detachHead(&q.waitingHead, &q.waitingCount)
		if failRequests && r.Callback != nil {
			r.Callback(rescode.Shutdown, nil, r.Arg)
		}
		if q.cfg.Metrics != nil {
			q.cfg.Metrics.RecordRequest(r.Type, rescode.Shutdown, time.Since(r.SubmittedAt))
		}
		if r.Search != nil {
			r.Search.State.Release()
		}
	}
}
