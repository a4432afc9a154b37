package resolver

import (
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dnsscience/evreq/internal/nameserver"
	"github.com/dnsscience/evreq/internal/reactor"
	"github.com/dnsscience/evreq/internal/rescode"
	"github.com/dnsscience/evreq/internal/resolvconf"
	"github.com/dnsscience/evreq/internal/wire"
)

// fakeReactor never actually drives I/O; timers are captured so a test
// can fire them deterministically, matching the style of
// internal/nameserver's and internal/dispatch's own fakes.
type fakeReactor struct {
	watchReadableCalls int
	afterFns           []func()
}

func (f *fakeReactor) WatchReadable(conn *net.UDPConn, onReadable func()) reactor.Cancel {
	f.watchReadableCalls++
	return func() {}
}
func (f *fakeReactor) WatchWritable(conn *net.UDPConn, onWritable func()) reactor.Cancel {
	return func() {}
}
func (f *fakeReactor) AfterFunc(d time.Duration, fn func()) reactor.Cancel {
	f.afterFns = append(f.afterFns, fn)
	return func() {}
}

func (f *fakeReactor) fireLast() {
	f.afterFns[len(f.afterFns)-1]()
}

func newTestResolver(t *testing.T) (*Resolver, *fakeReactor) {
	t.Helper()
	fr := &fakeReactor{}
	r, err := New(Config{Reactor: fr})
	require.NoError(t, err)
	return r, fr
}

func questionName(t *testing.T, raw []byte) string {
	t.Helper()
	msg, err := wire.ParseMessage(raw)
	require.NoError(t, err)
	require.Len(t, msg.Question, 1)
	return msg.Question[0].Name
}

func buildAReply(t *testing.T, transID uint16, name string, rcode uint8, tc bool, addrs [][4]byte) []byte {
	t.Helper()
	questions := []wire.Question{{Name: name, Type: wire.TypeA, Class: wire.ClassIN}}
	var answers []any
	for _, a := range addrs {
		answers = append(answers, wire.AddrRR{Name: name, Type: wire.TypeA, Class: wire.ClassIN, TTL: 300, Addr: a[:]})
	}
	flags := uint16(wire.FlagRA)
	if tc {
		flags |= wire.FlagTC
	}
	msg, err := wire.BuildResponse(transID, flags, rcode, questions, answers, nil, nil)
	require.NoError(t, err)
	return msg
}

// Scenario 1 (spec §8): basic A lookup.
func TestResolveIPv4BasicLookup(t *testing.T) {
	r, _ := newTestResolver(t)
	require.NoError(t, r.AddNameserverString("127.0.0.1"))

	var gotCode rescode.Code
	var gotReply *wire.Reply
	require.NoError(t, r.ResolveIPv4("example.com", NoSearch, func(code rescode.Code, reply *wire.Reply, arg any) {
		gotCode = code
		gotReply = reply
	}, nil))

	req := r.queue.PeekInflight()
	require.NotNil(t, req)
	ns := req.NS

	msg := buildAReply(t, req.TransID, "example.com", wire.RCodeNoError, false, [][4]byte{{0x5D, 0xB8, 0xD8, 0x22}})
	r.disp.HandleDatagram(ns, msg)

	require.Equal(t, rescode.None, gotCode)
	require.NotNil(t, gotReply)
	require.Equal(t, [][4]byte{{0x5D, 0xB8, 0xD8, 0x22}}, gotReply.Addrs)
	require.Equal(t, uint32(300), gotReply.TTL)
}

// Scenario 2: truncation delivers TRUNCATED without retry; server stays UP.
func TestResolveIPv4TruncatedDeliversWithoutRetry(t *testing.T) {
	r, _ := newTestResolver(t)
	require.NoError(t, r.AddNameserverString("127.0.0.1"))

	var gotCode rescode.Code
	require.NoError(t, r.ResolveIPv4("example.com", NoSearch, func(code rescode.Code, _ *wire.Reply, _ any) {
		gotCode = code
	}, nil))

	req := r.queue.PeekInflight()
	ns := req.NS
	msg := buildAReply(t, req.TransID, "example.com", wire.RCodeNoError, true, nil)
	r.disp.HandleDatagram(ns, msg)

	require.Equal(t, rescode.Truncated, gotCode)
	require.Equal(t, 1, r.pool.GoodCount())
}

// Scenario 3: failover. S1 SERVFAILs, gets marked DOWN, request reissues
// to S2 without the callback firing yet.
func TestResolveIPv4FailoverReissuesAndMarksServerDown(t *testing.T) {
	r, _ := newTestResolver(t)
	require.NoError(t, r.AddNameserverString("127.0.0.1"))
	require.NoError(t, r.AddNameserverString("127.0.0.2"))

	var fired bool
	require.NoError(t, r.ResolveIPv4("example.com", NoSearch, func(rescode.Code, *wire.Reply, any) {
		fired = true
	}, nil))

	req := r.queue.PeekInflight()
	firstNS := req.NS
	msg := buildAReply(t, req.TransID, "example.com", wire.RCodeServFail, false, nil)
	r.disp.HandleDatagram(firstNS, msg)

	require.False(t, fired)
	require.Equal(t, 1, r.pool.GoodCount())

	req2 := r.queue.PeekInflight()
	require.NotEqual(t, firstNS.Addr, req2.NS.Addr)

	msg2 := buildAReply(t, req2.TransID, "example.com", wire.RCodeNoError, false, [][4]byte{{1, 2, 3, 4}})
	r.disp.HandleDatagram(req2.NS, msg2)
	require.True(t, fired)
}

// Scenario 5: reverse lookup synthesizes the in-addr.arpa name and
// decodes the PTR answer.
func TestResolveReverseSynthesizesNameAndDeliversHost(t *testing.T) {
	r, _ := newTestResolver(t)
	require.NoError(t, r.AddNameserverString("127.0.0.1"))

	var gotReply *wire.Reply
	require.NoError(t, r.ResolveReverse(net.IPv4(10, 0, 0, 1), NoSearch, func(_ rescode.Code, reply *wire.Reply, _ any) {
		gotReply = reply
	}, nil))

	req := r.queue.PeekInflight()
	require.Equal(t, "1.0.0.10.in-addr.arpa", questionName(t, req.Raw))

	questions := []wire.Question{{Name: "1.0.0.10.in-addr.arpa", Type: wire.TypePTR, Class: wire.ClassIN}}
	answers := []any{wire.NameRR{Name: "1.0.0.10.in-addr.arpa", Type: wire.TypePTR, Class: wire.ClassIN, TTL: 3600, Target: "host.example"}}
	msg, err := wire.BuildResponse(req.TransID, wire.FlagRA, wire.RCodeNoError, questions, answers, nil, nil)
	require.NoError(t, err)

	r.disp.HandleDatagram(req.NS, msg)
	require.NotNil(t, gotReply)
	require.Equal(t, "host.example", gotReply.Host)
}

// Scenario 6: search expansion walks postfixes in order, then falls back
// to the verbatim name, before delivering the final result.
func TestResolveIPv4SearchExpansionWalksPostfixesThenVerbatim(t *testing.T) {
	r, _ := newTestResolver(t)
	require.NoError(t, r.AddNameserverString("127.0.0.1"))
	r.SearchNdotsSet(1)
	r.SearchAdd("a.com")
	r.SearchAdd("b.com")

	var gotCode rescode.Code
	require.NoError(t, r.ResolveIPv4("x", 0, func(code rescode.Code, _ *wire.Reply, _ any) {
		gotCode = code
	}, nil))

	req := r.queue.PeekInflight()
	require.Equal(t, "x.a.com", questionName(t, req.Raw))
	r.disp.HandleDatagram(req.NS, buildAReply(t, req.TransID, "x.a.com", wire.RCodeNXDomain, false, nil))

	req = r.queue.PeekInflight()
	require.Equal(t, "x.b.com", questionName(t, req.Raw))
	r.disp.HandleDatagram(req.NS, buildAReply(t, req.TransID, "x.b.com", wire.RCodeNXDomain, false, nil))

	req = r.queue.PeekInflight()
	require.Equal(t, "x", questionName(t, req.Raw))
	r.disp.HandleDatagram(req.NS, buildAReply(t, req.TransID, "x", wire.RCodeNoError, false, [][4]byte{{9, 9, 9, 9}}))

	require.Equal(t, rescode.None, gotCode)
	require.Equal(t, 0, r.queue.InflightCount())
}

// NoSearch must bypass search-list expansion even when one is configured.
func TestResolveIPv4NoSearchFlagSkipsExpansion(t *testing.T) {
	r, _ := newTestResolver(t)
	require.NoError(t, r.AddNameserverString("127.0.0.1"))
	r.SearchAdd("a.com")

	require.NoError(t, r.ResolveIPv4("x", NoSearch, func(rescode.Code, *wire.Reply, any) {}, nil))
	req := r.queue.PeekInflight()
	require.Equal(t, "x", questionName(t, req.Raw))
	require.Nil(t, req.Search)
}

// A recovery probe must target the specific DOWN server under test, not
// wherever Pool.Pick would otherwise route it (the PinnedNS fix).
func TestProbeRecoveryPinsTheDownServerUnderTest(t *testing.T) {
	r, fr := newTestResolver(t)
	require.NoError(t, r.AddNameserverString("127.0.0.1"))
	require.NoError(t, r.AddNameserverString("127.0.0.2"))

	all := r.pool.All()
	down := all[0]
	up := all[1]

	r.pool.Failed(down, "simulated failure")
	require.Equal(t, 1, r.pool.GoodCount())
	fr.fireLast() // fires the probe timer armed by Failed

	probeReq := r.queue.PeekInflight()
	require.NotNil(t, probeReq)
	require.Equal(t, down.Addr, probeReq.NS.Addr)
	require.NotEqual(t, up.Addr, probeReq.NS.Addr)

	msg := buildAReply(t, probeReq.TransID, r.pool.ProbeName(), wire.RCodeNoError, false, [][4]byte{{1, 1, 1, 1}})
	r.disp.HandleDatagram(probeReq.NS, msg)

	require.Equal(t, nameserver.Up, down.State)
}

// AddNameserver(String) subscribes the new socket to read-readiness.
func TestAddNameserverWiresReadWatch(t *testing.T) {
	r, fr := newTestResolver(t)
	require.NoError(t, r.AddNameserverString("127.0.0.1"))
	require.Equal(t, 1, fr.watchReadableCalls)
	require.NoError(t, r.AddNameserverString("127.0.0.2"))
	require.Equal(t, 2, fr.watchReadableCalls)
	require.Equal(t, 2, r.CountNameservers())
}

func TestResolvConfParseMissingFileReturnsOpenFailedError(t *testing.T) {
	r, _ := newTestResolver(t)
	err := r.ResolvConfParse(0, "/nonexistent/path/evreq-test-resolv.conf")
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, resolvconf.ErrOpenFailed, perr.Code)
}

func TestResolvConfParseAppliesNameserverDirective(t *testing.T) {
	r, _ := newTestResolver(t)
	path := writeResolvConf(t, "nameserver 192.0.2.1\nsearch corp.example\n")
	require.NoError(t, r.ResolvConfParse(resolvconf.OptionSearch, path))
	require.Equal(t, 1, r.CountNameservers())
}

func writeResolvConf(t *testing.T, contents string) string {
	t.Helper()
	path := t.TempDir() + "/resolv.conf"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

// FIFO preservation across suspend (spec §8 Laws): requests still
// waiting when suspended keep their relative order once resumed.
func TestClearAndSuspendThenResumePreservesFIFOOrder(t *testing.T) {
	r, _ := newTestResolver(t)
	require.NoError(t, r.AddNameserverString("127.0.0.1"))

	var order []string
	cbFor := func(name string) ResolveCallback {
		return func(rescode.Code, *wire.Reply, any) { order = append(order, name) }
	}

	require.NoError(t, r.ResolveIPv4("one.com", NoSearch, cbFor("one.com"), nil))
	req1 := r.queue.PeekInflight()
	require.Equal(t, "one.com", questionName(t, req1.Raw))

	r.ClearAndSuspend()
	require.Equal(t, 0, r.CountNameservers())
	require.Equal(t, 1, r.queue.WaitingCount())

	require.NoError(t, r.AddNameserverString("127.0.0.1"))
	r.Resume()

	req := r.queue.PeekInflight()
	require.NotNil(t, req)
	require.Equal(t, "one.com", questionName(t, req.Raw))
	r.disp.HandleDatagram(req.NS, buildAReply(t, req.TransID, "one.com", wire.RCodeNoError, false, [][4]byte{{1, 1, 1, 1}}))

	require.Equal(t, []string{"one.com"}, order)
}

func TestShutdownDeliversShutdownToPendingRequests(t *testing.T) {
	r, _ := newTestResolver(t)
	require.NoError(t, r.AddNameserverString("127.0.0.1"))

	var gotCode rescode.Code
	require.NoError(t, r.ResolveIPv4("example.com", NoSearch, func(code rescode.Code, _ *wire.Reply, _ any) {
		gotCode = code
	}, nil))

	r.Shutdown(true)
	require.Equal(t, rescode.Shutdown, gotCode)
}
