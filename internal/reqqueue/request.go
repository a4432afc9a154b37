// Package reqqueue implements the two circular doubly-linked request
// lists (waiting, inflight) and their promotion/retransmit/timeout/reissue
// lifecycle, per spec component 4.
package reqqueue

import (
	"time"

	"github.com/dnsscience/evreq/internal/nameserver"
	"github.com/dnsscience/evreq/internal/reactor"
	"github.com/dnsscience/evreq/internal/rescode"
	"github.com/dnsscience/evreq/internal/search"
	"github.com/dnsscience/evreq/internal/wire"
)

// Unassigned is the reserved transaction id meaning "waiting, no
// nameserver assigned yet".
const Unassigned uint16 = 0xFFFF

// Callback is invoked at most once per top-level resolve call: on
// success, on an unrecoverable error, or after the search plan is
// exhausted.
type Callback func(code rescode.Code, reply *wire.Reply, arg any)

// SearchInfo is carried by requests produced through search-list
// expansion so the dispatcher can try the next candidate on NOTEXIST.
type SearchInfo struct {
	State *search.State
	Plan  []string
	Index int // index into Plan of the candidate this request represents
}

// Request is one in-flight (or waiting) question.
type Request struct {
	Raw   []byte
	Type  uint16 // wire.TypeA, wire.TypePTR, wire.TypeAAAA
	Force bool   // bypasses capacity check (nameserver probes)

	TransID      uint16
	TxCount      int
	ReissueCount int

	// SubmittedAt is set by Queue.Submit, the earliest point a request is
	// known to the queue (before admission or waiting). deliver uses it to
	// report total submit-to-delivery duration, including wait time.
	SubmittedAt time.Time

	Callback Callback
	Arg      any

	NS     *nameserver.Nameserver
	Search *SearchInfo

	// PinnedNS forces admitToInflight to target this specific nameserver
	// instead of asking Pool.Pick, which skips DOWN servers. Set on
	// recovery-probe requests, which must exercise the DOWN server under
	// test rather than whichever server Pick would otherwise choose.
	PinnedNS *nameserver.Nameserver

	timeoutCancel reactor.Cancel

	waiting    bool
	prev, next *Request
}

// IsWaiting reports whether the request currently sits in the waiting
// list (equivalently, TransID == Unassigned).
func (r *Request) IsWaiting() bool { return r.waiting }
