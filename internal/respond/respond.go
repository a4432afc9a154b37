// Package respond implements the server port (spec component 7): a bound
// UDP socket that accepts incoming queries, hands them to a user callback
// for answer-record assembly, and serializes the reply with backpressure
// handled by a per-port pending-reply circular list.
package respond

import (
	"net"

	"golang.org/x/time/rate"

	"github.com/dnsscience/evreq/internal/metrics"
	"github.com/dnsscience/evreq/internal/netutil"
	"github.com/dnsscience/evreq/internal/reactor"
	"github.com/dnsscience/evreq/internal/wire"
)

// Flags control Respond's behavior. Currently only the authoritative-answer
// bit is meaningful; reserved for parity with the programmatic API's other
// flag words.
type Flags int

// AA sets the Authoritative Answer bit on the built response.
const AA Flags = 1 << 0

// Callback is invoked synchronously once per accepted query. It must
// attach answer/authority/additional records to req and then call
// req.Respond (or req.Drop to discard without replying).
type Callback func(req *ServerRequest)

// RateLimitConfig configures the per-client query limiter layered in as
// ambient hardening; it does not change the respond/backpressure contract.
type RateLimitConfig struct {
	QueriesPerSecond float64
	BurstSize        int
}

// DefaultRateLimitConfig mirrors the teacher's defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{QueriesPerSecond: 100, BurstSize: 200}
}

// Config configures an AddServerPort call.
type Config struct {
	Reactor   reactor.Reactor
	Callback  Callback
	Data      any
	RateLimit RateLimitConfig
	Metrics   *metrics.Collector
	LogFn     func(warn bool, msg string)
}

// ServerPort owns a bound UDP socket and the in-flight ServerRequests it
// has handed to the callback but not yet flushed. It is reference
// counted: every live ServerRequest holds one reference; freeing the last
// one does not close the socket, since the caller owns the port.
type ServerPort struct {
	Conn *net.UDPConn
	Data any

	reactor  reactor.Reactor
	callback Callback
	metrics  *metrics.Collector
	logf     func(warn bool, msg string)

	readCancel   reactor.Cancel
	writeCancel  reactor.Cancel
	writeWaiting bool

	pendingHead  *ServerRequest
	pendingCount int

	refs int

	limiters map[string]*rate.Limiter
	rlQPS    rate.Limit
	rlBurst  int
}

// ServerRequest is one incoming query being assembled into a reply.
type ServerRequest struct {
	ID   uint16
	Addr *net.UDPAddr

	Questions []wire.Question

	Answer     []any
	Authority  []any
	Additional []any

	port *ServerPort

	built   bool
	builtMsg []byte

	pending    bool
	prev, next *ServerRequest
}

// AddServerPort binds conn to cfg's callback and subscribes to
// read-readiness. conn must already be a UDP socket bound to the desired
// local address; ownership (including Close) remains with the caller.
func AddServerPort(conn *net.UDPConn, cfg Config) (*ServerPort, error) {
	if err := netutil.SetNonblocking(conn); err != nil {
		return nil, err
	}
	if cfg.LogFn == nil {
		cfg.LogFn = func(bool, string) {}
	}
	if cfg.RateLimit.QueriesPerSecond == 0 {
		cfg.RateLimit = DefaultRateLimitConfig()
	}

	p := &ServerPort{
		Conn:     conn,
		Data:     cfg.Data,
		reactor:  cfg.Reactor,
		callback: cfg.Callback,
		metrics:  cfg.Metrics,
		logf:     cfg.LogFn,
		limiters: make(map[string]*rate.Limiter),
		rlQPS:    rate.Limit(cfg.RateLimit.QueriesPerSecond),
		rlBurst:  cfg.RateLimit.BurstSize,
	}

	if p.reactor != nil {
		p.readCancel = p.reactor.WatchReadable(conn, func() { p.drain() })
	}

	return p, nil
}

// Close cancels the port's reactor subscriptions. The underlying socket is
// not closed; the caller owns it.
func (p *ServerPort) Close() {
	if p.readCancel != nil {
		p.readCancel()
		p.readCancel = nil
	}
	if p.writeCancel != nil {
		p.writeCancel()
		p.writeCancel = nil
	}
}

func (p *ServerPort) allow(addr *net.UDPAddr) bool {
	if addr == nil {
		return true
	}
	key := addr.IP.String()
	lim, ok := p.limiters[key]
	if !ok {
		lim = rate.NewLimiter(p.rlQPS, p.rlBurst)
		p.limiters[key] = lim
	}
	return lim.Allow()
}

// drain reads datagrams off the socket until EAGAIN, parsing and
// dispatching each one to the callback.
func (p *ServerPort) drain() {
	buf := make([]byte, wire.MaxMessageSize)
	for {
		n, addr, err := p.Conn.ReadFromUDP(buf)
		if err != nil {
			if netutil.IsEAGAIN(err) {
				return
			}
			p.logf(true, "server port read error: "+err.Error())
			return
		}
		p.handlePacket(append([]byte(nil), buf[:n]...), addr)
	}
}

func (p *ServerPort) handlePacket(data []byte, addr *net.UDPAddr) {
	hdr, err := wire.DecodeHeader(data)
	if err != nil {
		return // too short to even carry an id; nothing to reply to
	}
	if hdr.QR {
		return // not a query
	}

	if !p.allow(addr) {
		p.sendRefused(hdr.ID, addr)
		if p.metrics != nil {
			p.metrics.RecordServerQuery("refused")
		}
		return
	}

	if hdr.QDCount == 0 {
		p.sendFormatError(hdr.ID, addr)
		if p.metrics != nil {
			p.metrics.RecordServerQuery("format_error")
		}
		return
	}

	msg, err := wire.ParseMessage(data)
	if err != nil {
		p.sendFormatError(hdr.ID, addr)
		if p.metrics != nil {
			p.metrics.RecordServerQuery("format_error")
		}
		return
	}

	req := &ServerRequest{
		ID:        hdr.ID,
		Addr:      addr,
		Questions: msg.Question,
		port:      p,
	}
	p.refs++

	if p.callback != nil {
		p.callback(req)
	}
}

func (p *ServerPort) sendRefused(id uint16, addr *net.UDPAddr)    { p.sendBareRcode(id, addr, wire.RCodeRefused) }
func (p *ServerPort) sendFormatError(id uint16, addr *net.UDPAddr) { p.sendBareRcode(id, addr, wire.RCodeFormErr) }

func (p *ServerPort) sendBareRcode(id uint16, addr *net.UDPAddr, rcode uint8) {
	msg, err := wire.BuildResponse(id, wire.FlagRA, rcode, nil, nil, nil, nil)
	if err != nil {
		return
	}
	p.Conn.WriteToUDP(msg, addr)
}

// AddA attaches an A answer record.
func (r *ServerRequest) AddA(name string, ttl uint32, addr [4]byte) {
	r.Answer = append(r.Answer, wire.AddrRR{Name: name, Type: wire.TypeA, Class: wire.ClassIN, TTL: ttl, Addr: addr[:]})
}

// AddAAAA attaches an AAAA answer record. This is response authoring
// only — assembling an answer the server port hands back to a client —
// and distinct from the resolver's Non-goal of decoding AAAA records out
// of an upstream recursive reply (internal/wire.ParseReply never
// produces one).
func (r *ServerRequest) AddAAAA(name string, ttl uint32, addr [16]byte) {
	r.Answer = append(r.Answer, wire.AddrRR{Name: name, Type: wire.TypeAAAA, Class: wire.ClassIN, TTL: ttl, Addr: addr[:]})
}

// AddPTR attaches a PTR answer record.
func (r *ServerRequest) AddPTR(name string, ttl uint32, target string) {
	r.Answer = append(r.Answer, wire.NameRR{Name: name, Type: wire.TypePTR, Class: wire.ClassIN, TTL: ttl, Target: target})
}

// AddCNAME attaches a CNAME answer record.
func (r *ServerRequest) AddCNAME(name string, ttl uint32, target string) {
	r.Answer = append(r.Answer, wire.NameRR{Name: name, Type: wire.TypeCNAME, Class: wire.ClassIN, TTL: ttl, Target: target})
}

// Drop discards the request without sending a reply and releases the
// port's reference on it.
func (r *ServerRequest) Drop() {
	r.port.refs--
}

// Respond builds the serialized reply (once; idempotent across a
// backpressure retry) and attempts a single sendto. On EAGAIN it enqueues
// the request on the port's pending list and subscribes to write-ready;
// delivery is completed later by the port's write-ready flush.
func (r *ServerRequest) Respond(flags Flags) error {
	p := r.port

	if !r.built {
		rcode := wire.RCodeNoError
		var hflags uint16 = wire.FlagQR | wire.FlagRA
		if flags&AA != 0 {
			hflags |= wire.FlagAA
		}

		questions := make([]wire.Question, len(r.Questions))
		copy(questions, r.Questions)

		msg, err := wire.BuildResponse(r.ID, hflags, rcode, questions, r.Answer, r.Authority, r.Additional)
		if err != nil {
			return err
		}
		r.builtMsg = msg
		r.built = true
	}

	_, err := p.Conn.WriteToUDP(r.builtMsg, r.Addr)
	if err != nil {
		if netutil.IsEAGAIN(err) {
			p.enqueuePending(r)
			return nil
		}
		p.refs--
		return err
	}

	p.refs--
	if p.metrics != nil {
		p.metrics.RecordServerQuery("answered")
	}
	return nil
}

func (p *ServerPort) enqueuePending(r *ServerRequest) {
	r.pending = true
	if p.pendingHead == nil {
		r.prev, r.next = r, r
		p.pendingHead = r
	} else {
		tail := p.pendingHead.prev
		tail.next = r
		r.prev = tail
		r.next = p.pendingHead
		p.pendingHead.prev = r
	}
	p.pendingCount++

	if p.writeWaiting || p.reactor == nil {
		return
	}
	p.writeWaiting = true
	p.writeCancel = p.reactor.WatchWritable(p.Conn, func() { p.flushPending() })
}

// flushPending sends every queued reply in FIFO order, then unsubscribes
// from write-ready. A send that still EAGAINs stops the flush where it is
// and subscribes to write-ready again (the watch is one-shot), so the
// flush resumes on the next notification.
func (p *ServerPort) flushPending() {
	for p.pendingHead != nil {
		r := p.pendingHead
		_, err := p.Conn.WriteToUDP(r.builtMsg, r.Addr)
		if err != nil {
			if netutil.IsEAGAIN(err) {
				// still choked; subscribe again for the next write-ready
				if p.reactor != nil {
					p.writeCancel = p.reactor.WatchWritable(p.Conn, func() { p.flushPending() })
				}
				return
			}
			p.logf(true, "server port flush error: "+err.Error())
		}
		p.unlinkPending(r)
		r.pending = false
		p.refs--
		if err == nil && p.metrics != nil {
			p.metrics.RecordServerQuery("answered")
		}
	}

	p.writeWaiting = false
	if p.writeCancel != nil {
		p.writeCancel()
		p.writeCancel = nil
	}
}

func (p *ServerPort) unlinkPending(r *ServerRequest) {
	if r.next == r {
		p.pendingHead = nil
	} else {
		r.prev.next = r.next
		r.next.prev = r.prev
		if p.pendingHead == r {
			p.pendingHead = r.next
		}
	}
	r.prev, r.next = nil, nil
	p.pendingCount--
}

// PendingCount reports how many replies are queued behind write-readiness.
func (p *ServerPort) PendingCount() int { return p.pendingCount }

// RefCount reports the number of ServerRequests currently alive against
// this port (accepted but not yet Responded or Dropped, plus any queued
// in the pending-reply list).
func (p *ServerPort) RefCount() int { return p.refs }
