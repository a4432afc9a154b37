// Package dispatch implements the reply dispatcher (spec component 5):
// matching an inbound datagram to its request by transaction id and
// applying the RCODE/truncation policy that decides whether to deliver,
// reissue, or continue a search.
package dispatch

import (
	"github.com/dnsscience/evreq/internal/nameserver"
	"github.com/dnsscience/evreq/internal/reqqueue"
	"github.com/dnsscience/evreq/internal/rescode"
	"github.com/dnsscience/evreq/internal/wire"
)

// Dispatcher owns no state of its own beyond references to the queue and
// pool it coordinates; it exists to keep that coordination logic out of
// both of those packages (avoiding a dependency cycle between them).
type Dispatcher struct {
	Queue *reqqueue.Queue
	Pool  *nameserver.Pool

	// Resubmit constructs and submits the next search candidate's
	// request. It is supplied by the façade (internal/resolver), which is
	// the only layer that knows how to build a wire query for a given
	// candidate name and request type.
	Resubmit func(candidate string, qtype uint16, prev *reqqueue.Request, nextIndex int)

	LogFn func(warn bool, msg string)
}

// Drain reads datagrams from ns's socket until EAGAIN, dispatching each
// to HandleDatagram. recv performs one non-blocking read and reports
// io.EOF-shaped "would block" via ok=false.
func (d *Dispatcher) Drain(ns *nameserver.Nameserver, recv func() (data []byte, ok bool)) {
	for {
		data, ok := recv()
		if !ok {
			return
		}
		d.HandleDatagram(ns, data)
	}
}

// HandleDatagram processes a single datagram received on ns's socket.
func (d *Dispatcher) HandleDatagram(ns *nameserver.Nameserver, data []byte) {
	hdr, err := wire.DecodeHeader(data)
	if err != nil {
		return // malformed, drop
	}

	req := d.Queue.FindInflight(hdr.ID)
	if req == nil {
		return // unmatched, drop
	}

	if ns.TimedOut > 0 {
		ns.TimedOut = 0 // any valid datagram is evidence of liveness
	}

	_, reply, err := wire.ParseReply(data, req.Type)
	if err != nil {
		return // malformed, drop (request remains inflight, will time out)
	}

	code := rescode.Code(hdr.Rcode)

	switch {
	case hdr.Rcode == wire.RCodeFormErr:
		// User-input error; does not affect server health.
		d.Queue.Deliver(req, rescode.Format, nil)

	case rescode.ServerAttributable(code):
		if d.Queue.Reissue(req, code.String()) {
			return
		}
		d.Queue.Deliver(req, code, nil)

	case hdr.Rcode == wire.RCodeNXDomain:
		if req.Search != nil && req.Type != wire.TypePTR {
			d.continueSearch(req)
			return
		}
		d.Queue.Deliver(req, rescode.NotExist, nil)

	case hdr.TC:
		d.Queue.Deliver(req, rescode.Truncated, nil)

	default:
		d.Pool.Succeeded(ns)
		d.Queue.Deliver(req, rescode.None, reply)
	}
}

// continueSearch retires req (without firing its callback) and resubmits
// the next postfix candidate; if the plan is exhausted, it delivers
// NOTEXIST instead.
func (d *Dispatcher) continueSearch(req *reqqueue.Request) {
	si := req.Search
	nextIndex := si.Index + 1

	if nextIndex >= len(si.Plan) {
		d.Queue.Deliver(req, rescode.NotExist, nil)
		return
	}

	d.Queue.Retire(req)
	d.Resubmit(si.Plan[nextIndex], req.Type, req, nextIndex)
}
