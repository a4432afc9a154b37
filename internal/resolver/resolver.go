// Package resolver is the public façade: it wires the wire codec,
// transaction-id allocator, nameserver pool, request queues, reply
// dispatcher and search engine into one value whose lifecycle is
// explicit, per spec §9's Design Note ("encapsulate globals into a
// single resolver value"). Every operation in spec §6 becomes a method
// on *Resolver instead of a call into process-wide state.
package resolver

import (
	"time"

	"github.com/dnsscience/evreq/internal/dispatch"
	"github.com/dnsscience/evreq/internal/metrics"
	"github.com/dnsscience/evreq/internal/nameserver"
	"github.com/dnsscience/evreq/internal/reactor"
	"github.com/dnsscience/evreq/internal/reqqueue"
	"github.com/dnsscience/evreq/internal/resolvconf"
	"github.com/dnsscience/evreq/internal/respond"
	"github.com/dnsscience/evreq/internal/search"
	"github.com/dnsscience/evreq/internal/txid"
)

// Flags control a single resolve call; NoSearch disables search-list
// expansion for that call.
type Flags = search.Flags

// NoSearch is the bit 0 flag from spec §6.
const NoSearch = search.NoSearch

// ParseFlags gate which resolv.conf "options" directives ResolvConfParse
// applies (spec §4.8).
type ParseFlags = resolvconf.ParseFlags

// Option flag aliases for ResolvConfParse callers that don't want to
// import internal/resolvconf directly.
const (
	ParseOptionSearch   = resolvconf.OptionSearch
	ParseOptionMisc     = resolvconf.OptionMisc
	ParseOptionDefaults = resolvconf.OptionDefaults
)

// ResolveCallback receives the outcome of a top-level resolve call
// exactly once: on success, on an unrecoverable error, or after the
// search plan is exhausted.
type ResolveCallback = reqqueue.Callback

// ServerCallback is invoked synchronously for each accepted server-side
// query; see internal/respond.Callback.
type ServerCallback = respond.Callback

// Config configures a Resolver. Zero-valued tunables fall back to the
// same defaults reqqueue.Queue and nameserver.Pool apply on their own.
type Config struct {
	Reactor reactor.Reactor

	MaxInflight          int
	RequestTimeout       time.Duration
	MaxReissues          int
	MaxRetransmits       int
	MaxNameserverTimeout int

	ProbeName     string
	ProbeTimeouts []time.Duration

	LogFn   func(warn bool, msg string)
	Metrics *metrics.Collector
}

// Resolver is the complete resolver/responder value: nameserver pool,
// request queues, reply dispatcher, and search state, plus whatever
// server ports the caller has attached. It is single-threaded
// (spec §5): every method (and every Reactor callback it arms) must run
// on one logical thread of execution.
type Resolver struct {
	reactor reactor.Reactor

	pool   *nameserver.Pool
	queue  *reqqueue.Queue
	search *search.State
	txids  *txid.Allocator
	disp   *dispatch.Dispatcher

	logf    func(warn bool, msg string)
	metrics *metrics.Collector
}

// New constructs a Resolver. The Pool's Prober and the Queue's reference
// to the Pool are wired through closures over r itself, resolving the
// circular construction order (the Pool needs a way to submit probes
// into the Queue; the Queue needs the already-built Pool) without either
// package importing the other.
func New(cfg Config) (*Resolver, error) {
	if cfg.LogFn == nil {
		cfg.LogFn = func(bool, string) {}
	}

	r := &Resolver{
		reactor: cfg.Reactor,
		search:  search.NewState(),
		txids:   txid.New(),
		logf:    cfg.LogFn,
		metrics: cfg.Metrics,
	}
	// Components log through r.logf so SetLogFn reaches them too.
	logf := func(warn bool, msg string) { r.logf(warn, msg) }

	r.pool = nameserver.New(nameserver.Config{
		Reactor:   cfg.Reactor,
		ProbeName: cfg.ProbeName,
		Timeouts:  cfg.ProbeTimeouts,
		LogFn:     logf,
		Prober:    r.submitProbe,
		Reassign:  r.reassignFailed,
	})

	r.queue = reqqueue.New(reqqueue.Config{
		Reactor:              cfg.Reactor,
		Pool:                 r.pool,
		TxIDs:                r.txids,
		MaxInflight:          cfg.MaxInflight,
		RequestTimeout:       cfg.RequestTimeout,
		MaxReissues:          cfg.MaxReissues,
		MaxRetransmits:       cfg.MaxRetransmits,
		MaxNameserverTimeout: cfg.MaxNameserverTimeout,
		Metrics:              cfg.Metrics,
		LogFn:                logf,
	})

	r.disp = &dispatch.Dispatcher{
		Queue:    r.queue,
		Pool:     r.pool,
		Resubmit: r.resubmitSearch,
		LogFn:    logf,
	}

	return r, nil
}

// SetLogFn replaces the resolver's log sink.
func (r *Resolver) SetLogFn(f func(warn bool, msg string)) {
	if f == nil {
		f = func(bool, string) {}
	}
	r.logf = f
}

// sampleMetrics pushes the current pool/queue sizes into the configured
// Collector, if any. Called after every operation that can change them.
func (r *Resolver) sampleMetrics() {
	if r.metrics == nil {
		return
	}
	r.metrics.SamplePoolHealth(r.pool.GoodCount(), r.pool.Count()-r.pool.GoodCount())
	r.metrics.SampleQueueDepth(r.queue.InflightCount(), r.queue.WaitingCount())
}
