package wire

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildQueryShape(t *testing.T) {
	msg, err := BuildQuery(0x1234, "example.com", TypeA)
	require.NoError(t, err)

	h, err := DecodeHeader(msg)
	require.NoError(t, err)
	require.Equal(t, uint16(0x1234), h.ID)
	require.True(t, h.RD)
	require.False(t, h.QR)
	require.Equal(t, uint16(1), h.QDCount)
	require.Equal(t, uint16(0), h.ANCount)

	name, next, err := DecodeName(msg, HeaderSize)
	require.NoError(t, err)
	require.Equal(t, "example.com", name)
	require.Equal(t, TypeA, binary.BigEndian.Uint16(msg[next:next+2]))
	require.Equal(t, ClassIN, binary.BigEndian.Uint16(msg[next+2:next+4]))
	require.Equal(t, len(msg), next+4)
}

func buildAReply(t *testing.T, id uint16, addrs [][4]byte, ttl uint32, rcode uint8, tc bool) []byte {
	t.Helper()
	questions := []Question{{Name: "example.com", Type: TypeA, Class: ClassIN}}
	var answers []any
	for _, a := range addrs {
		answers = append(answers, AddrRR{Name: "example.com", Type: TypeA, Class: ClassIN, TTL: ttl, Addr: a[:]})
	}
	flags := uint16(FlagRA)
	if tc {
		flags |= FlagTC
	}
	msg, err := BuildResponse(id, flags, rcode, questions, answers, nil, nil)
	require.NoError(t, err)
	return msg
}

func TestParseReplyA(t *testing.T) {
	addrs := [][4]byte{{1, 2, 3, 4}, {5, 6, 7, 8}}
	msg := buildAReply(t, 42, addrs, 300, RCodeNoError, false)

	h, reply, err := ParseReply(msg, TypeA)
	require.NoError(t, err)
	require.Equal(t, uint16(42), h.ID)
	require.NotNil(t, reply)
	require.Equal(t, ReplyA, reply.Kind)
	require.Len(t, reply.Addrs, 2)
	require.Equal(t, addrs[0], reply.Addrs[0])
	require.Equal(t, uint32(300), reply.TTL)
}

func TestParseReplyATruncatedAddrCap(t *testing.T) {
	addrs := [][4]byte{{1, 1, 1, 1}, {2, 2, 2, 2}, {3, 3, 3, 3}, {4, 4, 4, 4}, {5, 5, 5, 5}}
	msg := buildAReply(t, 1, addrs, 60, RCodeNoError, false)

	_, reply, err := ParseReply(msg, TypeA)
	require.NoError(t, err)
	require.Len(t, reply.Addrs, MaxAddrs)
}

func TestParseReplyMinTTL(t *testing.T) {
	questions := []Question{{Name: "example.com", Type: TypeA, Class: ClassIN}}
	answers := []any{
		AddrRR{Name: "example.com", Type: TypeA, Class: ClassIN, TTL: 500, Addr: []byte{1, 1, 1, 1}},
		AddrRR{Name: "example.com", Type: TypeA, Class: ClassIN, TTL: 50, Addr: []byte{2, 2, 2, 2}},
	}
	msg, err := BuildResponse(7, FlagRA, RCodeNoError, questions, answers, nil, nil)
	require.NoError(t, err)

	_, reply, err := ParseReply(msg, TypeA)
	require.NoError(t, err)
	require.Equal(t, uint32(50), reply.TTL)
}

func TestParseReplyPTR(t *testing.T) {
	questions := []Question{{Name: "4.3.2.1.in-addr.arpa", Type: TypePTR, Class: ClassIN}}
	answers := []any{
		NameRR{Name: "4.3.2.1.in-addr.arpa", Type: TypePTR, Class: ClassIN, TTL: 3600, Target: "host.example.com"},
	}
	msg, err := BuildResponse(9, FlagRA, RCodeNoError, questions, answers, nil, nil)
	require.NoError(t, err)

	_, reply, err := ParseReply(msg, TypePTR)
	require.NoError(t, err)
	require.Equal(t, ReplyPTR, reply.Kind)
	require.Equal(t, "host.example.com", reply.Host)
}

func TestParseReplyServFailShortCircuits(t *testing.T) {
	questions := []Question{{Name: "example.com", Type: TypeA, Class: ClassIN}}
	msg, err := BuildResponse(3, FlagRA, RCodeServFail, questions, nil, nil, nil)
	require.NoError(t, err)

	h, reply, err := ParseReply(msg, TypeA)
	require.NoError(t, err)
	require.Equal(t, RCodeServFail, h.Rcode)
	require.Nil(t, reply)
}

func TestParseReplyTruncatedShortCircuits(t *testing.T) {
	addrs := [][4]byte{{1, 2, 3, 4}}
	msg := buildAReply(t, 5, addrs, 60, RCodeNoError, true)

	h, reply, err := ParseReply(msg, TypeA)
	require.NoError(t, err)
	require.True(t, h.TC)
	require.Nil(t, reply)
}

func TestParseReplyRejectsQueryPacket(t *testing.T) {
	msg, err := BuildQuery(1, "example.com", TypeA)
	require.NoError(t, err)

	_, _, err = ParseReply(msg, TypeA)
	require.Error(t, err)
}

func TestParseMessageRoundTrip(t *testing.T) {
	questions := []Question{{Name: "example.com", Type: TypeA, Class: ClassIN}}
	answers := []any{
		AddrRR{Name: "example.com", Type: TypeA, Class: ClassIN, TTL: 100, Addr: []byte{9, 9, 9, 9}},
	}
	msg, err := BuildResponse(11, FlagRA|FlagAA, RCodeNoError, questions, answers, nil, nil)
	require.NoError(t, err)

	pm, err := ParseMessage(msg)
	require.NoError(t, err)
	require.True(t, pm.Header.AA)
	require.Len(t, pm.Question, 1)
	require.Equal(t, "example.com", pm.Question[0].Name)
	require.Len(t, pm.Answer, 1)
	require.Equal(t, TypeA, pm.Answer[0].Type)
	require.Equal(t, []byte{9, 9, 9, 9}, pm.Answer[0].RData)
}
