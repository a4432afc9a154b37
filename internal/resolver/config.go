package resolver

import (
	"fmt"
	"net"

	"github.com/dnsscience/evreq/internal/resolvconf"
	"github.com/dnsscience/evreq/internal/respond"
)

// ParseError wraps one of resolvconf's published integer return codes
// (spec §6: 0 ok, 1 open failed, 2 stat failed, 3 too large, 4 OOM, 5
// short read) as an error, so ResolvConfParse fits Go's usual
// error-or-nil idiom while keeping the exact codes inspectable via Code.
type ParseError struct {
	Code int
}

func (e *ParseError) Error() string {
	switch e.Code {
	case resolvconf.ErrOpenFailed:
		return "resolvconf: open failed"
	case resolvconf.ErrStatFailed:
		return "resolvconf: stat failed"
	case resolvconf.ErrTooLarge:
		return "resolvconf: file too large"
	case resolvconf.ErrOOM:
		return "resolvconf: out of memory"
	case resolvconf.ErrShortRead:
		return "resolvconf: short read"
	default:
		return fmt.Sprintf("resolvconf: unknown error code %d", e.Code)
	}
}

// ResolvConfParse applies a resolv.conf-style file's directives to the
// resolver's nameserver pool and search state (spec §4.8). It returns
// nil on success or a *ParseError carrying the published integer code.
func (r *Resolver) ResolvConfParse(flags ParseFlags, path string) error {
	code := resolvconf.Parse(path, flags, r.pool, r.search, nil)
	if code != resolvconf.Ok {
		return &ParseError{Code: code}
	}
	r.sampleMetrics()
	return nil
}

// AddServerPort binds a server-side query handler to conn, per spec
// §4.7. conn must already be bound to the desired local UDP address;
// ownership (including Close) remains with the caller.
func (r *Resolver) AddServerPort(conn *net.UDPConn, cb ServerCallback, data any) (*respond.ServerPort, error) {
	return respond.AddServerPort(conn, respond.Config{
		Reactor:  r.reactor,
		Callback: cb,
		Data:     data,
		Metrics:  r.metrics,
		LogFn:    r.logf,
	})
}
