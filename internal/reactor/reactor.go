// Package reactor defines the I/O multiplexing capability the resolver
// depends on but does not implement: readability/writability notification
// on connected UDP sockets, and one-shot timers. The resolver holds opaque
// cancel handles and cancels them on release, mirroring the
// subscribe/cancel shape of an event bus rather than embedding event
// structs inline in requests and servers.
package reactor

import (
	"net"
	"time"
)

// Cancel stops a previously registered watch or timer. It is safe to call
// more than once and safe to call after the watch has already fired.
type Cancel func()

// Reactor is the external collaborator providing level-triggered readiness
// events and timers. A single-goroutine implementation is assumed: the
// resolver's core state is documented as unsafe for concurrent mutation,
// so every callback registered here must be delivered from one logical
// thread of execution.
type Reactor interface {
	// WatchReadable invokes onReadable whenever conn has data queued to
	// read. The watch stays armed until cancelled.
	WatchReadable(conn *net.UDPConn, onReadable func()) Cancel

	// WatchWritable invokes onWritable once conn's send buffer has room.
	// The watch is one-shot: onWritable runs at most once, and a caller
	// that still needs to write afterwards subscribes again.
	WatchWritable(conn *net.UDPConn, onWritable func()) Cancel

	// AfterFunc invokes f once after d has elapsed. Cancelling before it
	// fires prevents the call.
	AfterFunc(d time.Duration, f func()) Cancel
}
