package reactor

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Poller is the default Reactor implementation: built on syscall.RawConn's
// readiness-driven Read/Write, used by cmd/dnsresolved and by tests that
// don't supply their own event loop integration.
//
// Each watched socket gets its own blocking wait goroutine (inherent to
// the one-goroutine-per-fd shape of syscall.RawConn.Read/Write), but every
// onReadable/onWritable/AfterFunc callback is funneled through a single
// internal worker goroutine before it runs. That serialization is what
// satisfies Reactor's "one logical thread of execution" contract: two
// sockets becoming readable at once, or a timer firing mid-read, queue up
// on the worker instead of calling into the resolver's unlocked state from
// different goroutines simultaneously.
type Poller struct {
	work chan func()
	stop chan struct{}
}

// NewPoller returns a ready-to-use default Reactor and starts its
// dispatch worker. Close stops the worker once the Poller is no longer
// needed.
func NewPoller() *Poller {
	p := &Poller{
		work: make(chan func()),
		stop: make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *Poller) run() {
	for {
		select {
		case fn := <-p.work:
			fn()
		case <-p.stop:
			return
		}
	}
}

// dispatch runs fn on the worker goroutine and blocks until it returns.
// Callers on watch goroutines need fn's side effects (in particular,
// whatever it does to the cancelled flag) visible before deciding whether
// to keep waiting on the next readiness event.
func (p *Poller) dispatch(fn func()) {
	done := make(chan struct{})
	select {
	case p.work <- func() { fn(); close(done) }:
	case <-p.stop:
		return
	}
	select {
	case <-done:
	case <-p.stop:
	}
}

// Close stops the dispatch worker. Watches already armed whose underlying
// socket goroutines are blocked in raw.Read/raw.Write exit the next time
// their readiness fires and dispatch observes p.stop; it does not
// interrupt a blocked Read/Write directly.
func (p *Poller) Close() {
	close(p.stop)
}

func (p *Poller) WatchReadable(conn *net.UDPConn, onReadable func()) Cancel {
	raw, err := conn.SyscallConn()
	if err != nil {
		return func() {}
	}

	var cancelled atomic.Bool
	done := make(chan struct{})

	go func() {
		defer close(done)
		_ = raw.Read(func(uintptr) bool {
			if cancelled.Load() {
				return true
			}
			var stop bool
			p.dispatch(func() {
				onReadable()
				stop = cancelled.Load()
			})
			return stop
		})
	}()

	var once sync.Once
	return func() {
		once.Do(func() { cancelled.Store(true) })
	}
}

func (p *Poller) WatchWritable(conn *net.UDPConn, onWritable func()) Cancel {
	raw, err := conn.SyscallConn()
	if err != nil {
		return func() {}
	}

	var cancelled atomic.Bool
	done := make(chan struct{})

	go func() {
		defer close(done)
		_ = raw.Write(func(uintptr) bool {
			if cancelled.Load() {
				return true
			}
			p.dispatch(onWritable)
			// write-readiness watches are one-shot: a caller that is still
			// choked after this firing subscribes again.
			return true
		})
	}()

	var once sync.Once
	return func() {
		once.Do(func() { cancelled.Store(true) })
	}
}

func (p *Poller) AfterFunc(d time.Duration, f func()) Cancel {
	t := time.AfterFunc(d, func() {
		p.dispatch(f)
	})
	return func() { t.Stop() }
}
