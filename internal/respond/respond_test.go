package respond

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/dnsscience/evreq/internal/metrics"
	"github.com/dnsscience/evreq/internal/wire"
)

func newLoopbackPair(t *testing.T) (server *net.UDPConn, client *net.UDPConn) {
	t.Helper()
	srv, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	cli, err := net.DialUDP("udp4", nil, srv.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close(); cli.Close() })
	return srv, cli
}

func TestAddServerPortAcceptsQueryAndResponds(t *testing.T) {
	srv, cli := newLoopbackPair(t)

	var seen *ServerRequest
	port, err := AddServerPort(srv, Config{
		Callback: func(req *ServerRequest) {
			seen = req
			req.AddA(req.Questions[0].Name, 300, [4]byte{93, 184, 216, 34})
			require.NoError(t, req.Respond(0))
		},
	})
	require.NoError(t, err)

	query, err := wire.BuildQuery(0x1234, "example.com", wire.TypeA)
	require.NoError(t, err)
	_, err = cli.Write(query)
	require.NoError(t, err)

	require.NoError(t, cli.SetReadDeadline(time.Now().Add(time.Second)))
	buf := make([]byte, 512)

	// No reactor wired: exercise the read path directly, same as a reactor
	// callback would. Bound the server socket's read so drain's internal
	// "keep reading until the queue is empty" loop terminates once the one
	// pending datagram has been consumed.
	require.NoError(t, srv.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	port.drain()
	require.NotNil(t, seen)

	n, err := cli.Read(buf)
	require.NoError(t, err)

	hdr, reply, err := wire.ParseReply(buf[:n], wire.TypeA)
	require.NoError(t, err)
	require.Equal(t, uint16(0x1234), hdr.ID)
	require.Equal(t, wire.ReplyA, reply.Kind)
	require.Equal(t, [4]byte{93, 184, 216, 34}, reply.Addrs[0])
	require.Equal(t, 0, port.RefCount())
}

func TestAddAAAAEncodesSixteenByteAddress(t *testing.T) {
	srv, cli := newLoopbackPair(t)

	addr := [16]byte{0x20, 0x01, 0x0d, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}
	port, err := AddServerPort(srv, Config{
		Callback: func(req *ServerRequest) {
			req.AddAAAA(req.Questions[0].Name, 300, addr)
			require.NoError(t, req.Respond(0))
		},
	})
	require.NoError(t, err)

	query, err := wire.BuildQuery(0x4321, "example.com", wire.TypeAAAA)
	require.NoError(t, err)
	_, err = cli.Write(query)
	require.NoError(t, err)

	require.NoError(t, srv.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	port.drain()

	require.NoError(t, cli.SetReadDeadline(time.Now().Add(time.Second)))
	buf := make([]byte, 512)
	n, err := cli.Read(buf)
	require.NoError(t, err)

	hdr, err := wire.DecodeHeader(buf[:n])
	require.NoError(t, err)
	require.Equal(t, uint16(1), hdr.ANCount)
	// AddrRR's RDATA is the last field encodeRecord writes, so the
	// message ends with the raw address bytes (ParseReply never decodes
	// AAAA, so this checks the wire bytes directly).
	require.Equal(t, addr[:], buf[n-16:n])
}

func TestServerQueryMetricsRecordOutcomes(t *testing.T) {
	srv, cli := newLoopbackPair(t)
	mc := metrics.New()

	port, err := AddServerPort(srv, Config{
		Callback: func(req *ServerRequest) {
			req.AddA(req.Questions[0].Name, 300, [4]byte{1, 2, 3, 4})
			require.NoError(t, req.Respond(0))
		},
		RateLimit: RateLimitConfig{QueriesPerSecond: 1, BurstSize: 1},
		Metrics:   mc,
	})
	require.NoError(t, err)

	query, err := wire.BuildQuery(1, "example.com", wire.TypeA)
	require.NoError(t, err)
	addr := cli.LocalAddr().(*net.UDPAddr)

	port.handlePacket(append([]byte(nil), query...), addr) // answered
	port.handlePacket(append([]byte(nil), query...), addr) // refused: rate limit exhausted

	raw := make([]byte, wire.HeaderSize)
	binary.BigEndian.PutUint16(raw[0:2], 9)
	other := &net.UDPAddr{IP: net.ParseIP("127.0.0.2"), Port: addr.Port}
	port.handlePacket(raw, other) // format error: zero questions (fresh client, so not rate-limited)

	require.Equal(t, float64(1), testutil.ToFloat64(mc.ServerQueriesTotal.WithLabelValues("answered")))
	require.Equal(t, float64(1), testutil.ToFloat64(mc.ServerQueriesTotal.WithLabelValues("refused")))
	require.Equal(t, float64(1), testutil.ToFloat64(mc.ServerQueriesTotal.WithLabelValues("format_error")))
}

func TestHandlePacketRejectsResponsePackets(t *testing.T) {
	srv, _ := newLoopbackPair(t)
	var fired bool
	port, err := AddServerPort(srv, Config{Callback: func(*ServerRequest) { fired = true }})
	require.NoError(t, err)

	msg, err := wire.BuildResponse(1, wire.FlagQR|wire.FlagRA, wire.RCodeNoError, []wire.Question{{Name: "x.com", Type: wire.TypeA, Class: wire.ClassIN}}, nil, nil, nil)
	require.NoError(t, err)

	port.handlePacket(msg, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9999})
	require.False(t, fired)
}

func TestHandlePacketSendsFormatErrorOnZeroQuestions(t *testing.T) {
	srv, cli := newLoopbackPair(t)
	port, err := AddServerPort(srv, Config{Callback: func(*ServerRequest) {}})
	require.NoError(t, err)

	raw := make([]byte, wire.HeaderSize)
	binary.BigEndian.PutUint16(raw[0:2], 0xABCD)
	// QR=0, QDCount=0

	port.handlePacket(raw, cli.LocalAddr().(*net.UDPAddr))

	require.NoError(t, cli.SetReadDeadline(time.Now().Add(time.Second)))
	buf := make([]byte, 512)
	n, err := cli.Read(buf)
	require.NoError(t, err)

	hdr, err := wire.DecodeHeader(buf[:n])
	require.NoError(t, err)
	require.Equal(t, uint16(0xABCD), hdr.ID)
	require.Equal(t, wire.RCodeFormErr, hdr.Rcode)
}

func TestHandlePacketSendsRefusedWhenRateLimited(t *testing.T) {
	srv, cli := newLoopbackPair(t)
	port, err := AddServerPort(srv, Config{
		Callback:  func(*ServerRequest) {},
		RateLimit: RateLimitConfig{QueriesPerSecond: 1, BurstSize: 1},
	})
	require.NoError(t, err)

	query, err := wire.BuildQuery(7, "example.com", wire.TypeA)
	require.NoError(t, err)

	addr := cli.LocalAddr().(*net.UDPAddr)
	port.handlePacket(append([]byte(nil), query...), addr) // consumes the single token
	port.handlePacket(append([]byte(nil), query...), addr) // should be refused

	require.NoError(t, cli.SetReadDeadline(time.Now().Add(time.Second)))
	buf := make([]byte, 512)

	// The callback never calls Respond, so the only datagram the client
	// receives is the REFUSED sent directly by the rate limiter.
	n, err := cli.Read(buf)
	require.NoError(t, err)
	last, err := wire.DecodeHeader(buf[:n])
	require.NoError(t, err)
	require.Equal(t, wire.RCodeRefused, last.Rcode)
}

func TestDropReleasesPortReference(t *testing.T) {
	srv, _ := newLoopbackPair(t)
	var seen *ServerRequest
	port, err := AddServerPort(srv, Config{
		Callback: func(req *ServerRequest) {
			seen = req
			req.Drop()
		},
	})
	require.NoError(t, err)

	query, err := wire.BuildQuery(1, "example.com", wire.TypeA)
	require.NoError(t, err)

	port.handlePacket(query, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1})
	require.NotNil(t, seen)
	require.Equal(t, 0, port.RefCount())
}
