// Package txid allocates DNS transaction ids. Exactly one generation
// policy is compiled into a build: crypto/rand by default, or one of the
// clock-derived policies behind a build tag. Mixing policies at runtime is
// deliberately not supported.
package txid

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// Unassigned is the sentinel value a request uses to mean "no transaction
// id allocated yet" (it is never handed out by Next).
const Unassigned uint16 = 0xFFFF

// Generator produces a single candidate transaction id. Implementations
// must seed any internal state explicitly before the first call — reading
// uninitialized memory for a security-relevant value is not acceptable.
type Generator interface {
	next() uint16
}

// Allocator hands out transaction ids that are neither the Unassigned
// sentinel nor already in use by an in-flight request.
type Allocator struct {
	gen Generator
}

// New returns an Allocator using the build's compiled-in policy.
func New() *Allocator {
	return &Allocator{gen: newDefaultGenerator()}
}

// InUse reports whether a candidate id collides with something already
// outstanding. The resolver passes a closure over its inflight list's
// linear scan (spec's request queue is itself a linear-scan structure, so
// this composes with it rather than introducing a second index).
type InUse func(id uint16) bool

// maxAttempts bounds the retry loop so a pathological InUse (e.g. a caller
// that always returns true) can't spin forever; at 65534 eligible ids this
// is many multiples of what a real inflight list could ever fill.
const maxAttempts = 1 << 20

// Next returns a transaction id that is not Unassigned and for which inUse
// returns false, retrying generation until one is found.
func (a *Allocator) Next(inUse InUse) (uint16, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		id := a.gen.next()
		if id == Unassigned {
			continue
		}
		if inUse != nil && inUse(id) {
			continue
		}
		return id, nil
	}
	return 0, fmt.Errorf("txid: exhausted %d attempts without finding a free id", maxAttempts)
}

// cryptoGenerator is the default policy: every id is drawn from
// crypto/rand, matching the teacher's TransactionID() choice that
// anti-spoofing requires cryptographically unpredictable ids, not merely
// well-distributed ones.
type cryptoGenerator struct{}

func newDefaultGenerator() Generator {
	return cryptoGenerator{}
}

func (cryptoGenerator) next() uint16 {
	var buf [2]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// Proceeding with a predictable or zero id defeats the entire
		// purpose of this package; the teacher panics here too.
		panic(fmt.Sprintf("txid: crypto/rand failed: %v", err))
	}
	return binary.BigEndian.Uint16(buf[:])
}
