package resolver

import (
	"github.com/dnsscience/evreq/internal/nameserver"
	"github.com/dnsscience/evreq/internal/reqqueue"
	"github.com/dnsscience/evreq/internal/rescode"
	"github.com/dnsscience/evreq/internal/wire"
)

// submitProbe is the nameserver.Pool's Prober: it builds the configured
// probe query, pins it to ns (bypassing Pool.Pick, which would otherwise
// skip the very DOWN server the probe exists to test), and force-submits
// it into the inflight queue regardless of capacity, per spec §4.3.
func (r *Resolver) submitProbe(ns *nameserver.Nameserver, done func(code int)) {
	raw, err := wire.BuildQuery(0, r.pool.ProbeName(), wire.TypeA)
	if err != nil {
		done(int(rescode.Unknown))
		return
	}

	req := &reqqueue.Request{
		Raw:      raw,
		Type:     wire.TypeA,
		Force:    true,
		PinnedNS: ns,
		Callback: func(code rescode.Code, _ *wire.Reply, _ any) {
			done(int(code))
		},
	}
	r.queue.Submit(req)
	r.sampleMetrics()
}
