// Package search implements the ndots-based postfix expansion described
// in spec component 6: given a query name and a configured search list,
// compute the ordered sequence of full candidate names to attempt.
package search

import "strings"

// Flags mirror the bit used by the resolver's public ResolveIPv4/ResolveReverse API.
type Flags int

// NoSearch disables search-list expansion entirely for a single call.
const NoSearch Flags = 1 << 0

// State is the resolver's search configuration: an ndots threshold and an
// ordered list of postfix domains. SearchClear/SearchAdd change it in
// place; a plan already computed by Plan is its own slice and is not
// affected. The reference count records how many holders remain: the
// resolver's own binding plus every live request that snapshotted a plan
// against it.
type State struct {
	Ndots     int
	Postfixes []string
	refcount  int
}

// NewState returns a State with the spec default ndots (1) and an empty
// search list. The returned State carries the +1 reference for the
// resolver's own global binding.
func NewState() *State {
	return &State{Ndots: 1, refcount: 1}
}

// AddRef increments the reference count; called once per live request
// that holds a plan computed against this State.
func (s *State) AddRef() { s.refcount++ }

// Release decrements the reference count. Go's GC reclaims the value
// once nothing references it; this bookkeeping exists so callers (and
// tests) can observe how many live requests still hold a plan computed
// against this State, matching spec §3's refcount invariant.
func (s *State) Release() { s.refcount-- }

// RefCount reports the current reference count.
func (s *State) RefCount() int { return s.refcount }

// SetNdots sets the ndots threshold.
func (s *State) SetNdots(n int) { s.Ndots = n }

// Add appends a postfix domain to the end of the search list.
func (s *State) Add(domain string) {
	s.Postfixes = append(s.Postfixes, domain)
}

// Clear empties the search list (ndots is left unchanged).
func (s *State) Clear() {
	s.Postfixes = nil
}

// Plan computes the ordered list of full candidate names to attempt for
// name, per spec §4.6:
//
//   - count(.) >= ndots: try name verbatim first, then each postfix in
//     list order.
//   - count(.) < ndots: try each postfix in list order first, then
//     (since ndots > count(.) always holds on this branch) name verbatim
//     last.
//   - an empty search list always degenerates to a single verbatim
//     attempt.
//
// Either branch yields exactly len(Postfixes)+1 candidates (the "search
// exhaustion" law).
func (s *State) Plan(name string) []string {
	if len(s.Postfixes) == 0 {
		return []string{name}
	}

	dots := strings.Count(name, ".")
	out := make([]string, 0, len(s.Postfixes)+1)

	if dots >= s.Ndots {
		out = append(out, name)
		for _, pf := range s.Postfixes {
			out = append(out, name+"."+pf)
		}
		return out
	}

	for _, pf := range s.Postfixes {
		out = append(out, name+"."+pf)
	}
	out = append(out, name)
	return out
}
