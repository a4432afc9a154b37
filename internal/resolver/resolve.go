package resolver

import (
	"fmt"
	"net"

	"github.com/dnsscience/evreq/internal/reqqueue"
	"github.com/dnsscience/evreq/internal/rescode"
	"github.com/dnsscience/evreq/internal/wire"
)

// ResolveIPv4 submits an A lookup for name, expanding it against the
// configured search list unless flags carries NoSearch (spec §4.6).
func (r *Resolver) ResolveIPv4(name string, flags Flags, cb ResolveCallback, arg any) error {
	return r.resolve(name, wire.TypeA, flags, cb, arg)
}

// ResolveReverse synthesises the in-addr.arpa query name for addr and
// submits a PTR lookup. Search-list expansion never applies to reverse
// lookups (spec §4.6 only concerns itself with forward names), so flags
// is accepted for call-signature parity with ResolveIPv4 but otherwise
// ignored.
func (r *Resolver) ResolveReverse(addr net.IP, _ Flags, cb ResolveCallback, arg any) error {
	v4 := addr.To4()
	if v4 == nil {
		return fmt.Errorf("resolver: %s is not an IPv4 address", addr)
	}
	name := fmt.Sprintf("%d.%d.%d.%d.in-addr.arpa", v4[3], v4[2], v4[1], v4[0])
	return r.submitPlain(name, wire.TypePTR, cb, arg)
}

func (r *Resolver) resolve(name string, qtype uint16, flags Flags, cb ResolveCallback, arg any) error {
	if flags&NoSearch != 0 {
		return r.submitPlain(name, qtype, cb, arg)
	}

	plan := r.search.Plan(name)
	raw, err := wire.BuildQuery(0, plan[0], qtype)
	if err != nil {
		return err
	}

	r.search.AddRef()
	req := &reqqueue.Request{
		Raw:      raw,
		Type:     qtype,
		Callback: cb,
		Arg:      arg,
		Search: &reqqueue.SearchInfo{
			State: r.search,
			Plan:  plan,
			Index: 0,
		},
	}
	r.queue.Submit(req)
	r.sampleMetrics()
	return nil
}

func (r *Resolver) submitPlain(name string, qtype uint16, cb ResolveCallback, arg any) error {
	raw, err := wire.BuildQuery(0, name, qtype)
	if err != nil {
		return err
	}
	r.queue.Submit(&reqqueue.Request{Raw: raw, Type: qtype, Callback: cb, Arg: arg})
	r.sampleMetrics()
	return nil
}

// resubmitSearch is the Dispatcher's Resubmit hook: it builds the next
// search candidate's query and submits it as a fresh request inheriting
// prev's callback, argument, and search state reference. prev has
// already been retired from the queue by the dispatcher; this request
// takes over the one reference prev's SearchInfo held on r.search.
func (r *Resolver) resubmitSearch(candidate string, qtype uint16, prev *reqqueue.Request, nextIndex int) {
	raw, err := wire.BuildQuery(0, candidate, qtype)
	if err != nil {
		prev.Search.State.Release()
		if prev.Callback != nil {
			prev.Callback(rescode.Unknown, nil, prev.Arg)
		}
		return
	}

	req := &reqqueue.Request{
		Raw:      raw,
		Type:     qtype,
		Callback: prev.Callback,
		Arg:      prev.Arg,
		Search: &reqqueue.SearchInfo{
			State: prev.Search.State,
			Plan:  prev.Search.Plan,
			Index: nextIndex,
		},
	}
	r.queue.Submit(req)
	r.sampleMetrics()
}

// SearchClear empties the configured search list (ndots unchanged).
func (r *Resolver) SearchClear() { r.search.Clear() }

// SearchAdd appends a postfix domain to the search list.
func (r *Resolver) SearchAdd(domain string) { r.search.Add(domain) }

// SearchNdotsSet sets the ndots threshold used by search-list expansion.
func (r *Resolver) SearchNdotsSet(n int) { r.search.SetNdots(n) }
