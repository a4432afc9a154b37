package wire

import (
	"encoding/binary"
)

// EncodeHeader writes the 12-byte DNS header into buf[0:12].
func EncodeHeader(buf []byte, h Header) error {
	if len(buf) < HeaderSize {
		return ErrBufferExhausted
	}
	binary.BigEndian.PutUint16(buf[0:2], h.ID)
	binary.BigEndian.PutUint16(buf[2:4], h.Flags())
	binary.BigEndian.PutUint16(buf[4:6], h.QDCount)
	binary.BigEndian.PutUint16(buf[6:8], h.ANCount)
	binary.BigEndian.PutUint16(buf[8:10], h.NSCount)
	binary.BigEndian.PutUint16(buf[10:12], h.ARCount)
	return nil
}

// DecodeHeader reads the 12-byte DNS header from msg.
func DecodeHeader(msg []byte) (Header, error) {
	var h Header
	if len(msg) < HeaderSize {
		return h, ErrTruncatedHeader
	}

	h.ID = binary.BigEndian.Uint16(msg[0:2])
	flags := binary.BigEndian.Uint16(msg[2:4])
	h.QR = flags&FlagQR != 0
	h.Opcode = uint8((flags >> 11) & 0x0F)
	h.AA = flags&FlagAA != 0
	h.TC = flags&FlagTC != 0
	h.RD = flags&FlagRD != 0
	h.RA = flags&FlagRA != 0
	h.Z = uint8((flags >> 4) & 0x07)
	h.Rcode = uint8(flags & 0x0F)
	h.QDCount = binary.BigEndian.Uint16(msg[4:6])
	h.ANCount = binary.BigEndian.Uint16(msg[6:8])
	h.NSCount = binary.BigEndian.Uint16(msg[8:10])
	h.ARCount = binary.BigEndian.Uint16(msg[10:12])
	return h, nil
}

// BuildQuery constructs a single-question outbound query: 12-byte header
// (flags = recursion-desired, QDCOUNT=1, all other counts zero), followed
// by the encoded name, QTYPE and QCLASS=IN. No compression table is used —
// there is only ever one name in an outbound stub query.
func BuildQuery(id uint16, name string, qtype uint16) ([]byte, error) {
	buf := make([]byte, HeaderSize+MaxDomainLength+4)

	h := Header{ID: id, RD: true, QDCount: 1}
	if err := EncodeHeader(buf, h); err != nil {
		return nil, err
	}

	off, err := EncodeName(buf, HeaderSize, name, nil)
	if err != nil {
		return nil, err
	}

	if off+4 > len(buf) {
		return nil, ErrBufferExhausted
	}
	binary.BigEndian.PutUint16(buf[off:off+2], qtype)
	binary.BigEndian.PutUint16(buf[off+2:off+4], ClassIN)
	off += 4

	return buf[:off], nil
}

// ParsedMessage is the decoded form of a complete DNS message, used by the
// server port to inspect incoming queries.
type ParsedMessage struct {
	Header     Header
	Question   []Question
	Answer     []RR
	Authority  []RR
	Additional []RR
}

// ParseMessage decodes a complete DNS message: header, question section,
// and the three RR sections. RDATA is copied out as raw bytes; callers
// decode name-shaped RDATA (PTR/CNAME) separately via DecodeName against
// the owning message and RDATA offset.
func ParseMessage(msg []byte) (*ParsedMessage, error) {
	h, err := DecodeHeader(msg)
	if err != nil {
		return nil, err
	}

	m := &ParsedMessage{Header: h}
	off := HeaderSize

	for i := 0; i < int(h.QDCount); i++ {
		var q Question
		name, next, err := DecodeName(msg, off)
		if err != nil {
			return nil, err
		}
		q.Name = name
		off = next
		if off+4 > len(msg) {
			return nil, ErrTruncatedQuestion
		}
		q.Type = binary.BigEndian.Uint16(msg[off : off+2])
		q.Class = binary.BigEndian.Uint16(msg[off+2 : off+4])
		off += 4
		m.Question = append(m.Question, q)
	}

	sections := []struct {
		count int
		dst   *[]RR
	}{
		{int(h.ANCount), &m.Answer},
		{int(h.NSCount), &m.Authority},
		{int(h.ARCount), &m.Additional},
	}

	for _, sec := range sections {
		for i := 0; i < sec.count; i++ {
			rr, next, err := parseRR(msg, off)
			if err != nil {
				return nil, err
			}
			off = next
			*sec.dst = append(*sec.dst, rr)
		}
	}

	return m, nil
}

func parseRR(msg []byte, off int) (RR, int, error) {
	var rr RR

	name, next, err := DecodeName(msg, off)
	if err != nil {
		return rr, 0, err
	}
	rr.Name = name
	off = next

	if off+10 > len(msg) {
		return rr, 0, ErrTruncatedRecord
	}
	rr.Type = binary.BigEndian.Uint16(msg[off : off+2])
	rr.Class = binary.BigEndian.Uint16(msg[off+2 : off+4])
	rr.TTL = binary.BigEndian.Uint32(msg[off+4 : off+8])
	rdlen := int(binary.BigEndian.Uint16(msg[off+8 : off+10]))
	off += 10

	if off+rdlen > len(msg) {
		return rr, 0, ErrTruncatedRecord
	}
	rr.RData = append([]byte(nil), msg[off:off+rdlen]...)
	off += rdlen

	return rr, off, nil
}

// ReplyKind distinguishes the two answer shapes the resolver understands.
type ReplyKind int

const (
	ReplyNone ReplyKind = iota
	ReplyA
	ReplyPTR
)

// Reply is the decoded, resolver-facing form of a successful answer.
type Reply struct {
	Kind  ReplyKind
	Addrs [][4]byte // up to MaxAddrs entries, for ReplyA
	TTL   uint32
	Host  string // for ReplyPTR
}

// ParseReply decodes an inbound reply packet per spec §4.1: the header must
// have QR set; RCODE != 0 or the truncation bit short-circuits straight to
// the caller (no answer scan). Otherwise it walks ANCOUNT answers,
// selecting A records (up to MaxAddrs, minimum TTL across selected
// records) when reqType is TypeA, or the first PTR record's name when
// reqType is TypePTR. AAAA records are recognized but never decoded
// (spec Non-goal).
func ParseReply(msg []byte, reqType uint16) (Header, *Reply, error) {
	h, err := DecodeHeader(msg)
	if err != nil {
		return h, nil, err
	}
	if !h.QR {
		return h, nil, ErrTruncatedHeader
	}
	if h.Rcode != RCodeNoError || h.TC {
		return h, nil, nil
	}

	off := HeaderSize
	for i := 0; i < int(h.QDCount); i++ {
		_, next, err := DecodeName(msg, off)
		if err != nil {
			return h, nil, err
		}
		off = next
		if off+4 > len(msg) {
			return h, nil, ErrTruncatedQuestion
		}
		off += 4
	}

	reply := &Reply{}
	haveTTL := false

	for i := 0; i < int(h.ANCount); i++ {
		rr, next, err := parseRR(msg, off)
		if err != nil {
			return h, nil, err
		}
		off = next

		switch {
		case reqType == TypeA && rr.Type == TypeA && rr.Class == ClassIN:
			if len(reply.Addrs) >= MaxAddrs {
				continue
			}
			if len(rr.RData) != 4 {
				continue
			}
			var addr [4]byte
			copy(addr[:], rr.RData)
			reply.Addrs = append(reply.Addrs, addr)
			reply.Kind = ReplyA
			if !haveTTL || rr.TTL < reply.TTL {
				reply.TTL = rr.TTL
				haveTTL = true
			}

		case reqType == TypePTR && rr.Type == TypePTR && rr.Class == ClassIN:
			if reply.Kind == ReplyPTR {
				continue
			}
			host, _, err := DecodeName(rr.RData, 0)
			if err != nil {
				// PTR RDATA can itself carry a pointer into the outer
				// message; retry against the full message at the RR's
				// RDATA offset (next - len(rr.RData)).
				host, _, err = DecodeName(msg, next-len(rr.RData))
				if err != nil {
					continue
				}
			}
			reply.Kind = ReplyPTR
			reply.Host = host
			reply.TTL = rr.TTL

		default:
			// TYPE_AAAA recognized but never decoded; mismatched/unknown
			// records are skipped by RDLENGTH (already advanced above).
		}
	}

	return h, reply, nil
}

// BuildResponse assembles a complete response message: header, echoed
// question section, and the three answer sections, sharing one
// compression table across every name in the message (spec §4.1). RDLENGTH
// for name-shaped RDATA (PTR/CNAME) is patched in after the compressed name
// is written; raw payloads (A/AAAA) use their literal byte count.
func BuildResponse(id uint16, flags uint16, rcode uint8, questions []Question, answer, authority, additional []any) ([]byte, error) {
	buf := make([]byte, MaxMessageSize)
	table := NewCompressionTable()

	h := Header{
		ID:      id,
		QR:      true,
		RD:      flags&FlagRD != 0,
		RA:      flags&FlagRA != 0,
		AA:      flags&FlagAA != 0,
		TC:      flags&FlagTC != 0,
		Rcode:   rcode,
		QDCount: uint16(len(questions)),
		ANCount: uint16(len(answer)),
		NSCount: uint16(len(authority)),
		ARCount: uint16(len(additional)),
	}
	if err := EncodeHeader(buf, h); err != nil {
		return nil, err
	}

	off := HeaderSize
	for _, q := range questions {
		var err error
		off, err = EncodeName(buf, off, q.Name, table)
		if err != nil {
			return nil, err
		}
		if off+4 > len(buf) {
			return nil, ErrBufferExhausted
		}
		binary.BigEndian.PutUint16(buf[off:off+2], q.Type)
		binary.BigEndian.PutUint16(buf[off+2:off+4], q.Class)
		off += 4
	}

	for _, section := range [][]any{answer, authority, additional} {
		for _, rec := range section {
			var err error
			off, err = encodeRecord(buf, off, rec, table)
			if err != nil {
				return nil, err
			}
		}
	}

	return buf[:off], nil
}

func encodeRecord(buf []byte, off int, rec any, table *CompressionTable) (int, error) {
	switch r := rec.(type) {
	case NameRR:
		var err error
		off, err = EncodeName(buf, off, r.Name, table)
		if err != nil {
			return 0, err
		}
		if off+10 > len(buf) {
			return 0, ErrBufferExhausted
		}
		binary.BigEndian.PutUint16(buf[off:off+2], r.Type)
		binary.BigEndian.PutUint16(buf[off+2:off+4], r.Class)
		binary.BigEndian.PutUint32(buf[off+4:off+8], r.TTL)
		rdlenOff := off + 8
		off += 10

		rdataStart := off
		off, err = EncodeName(buf, off, r.Target, table)
		if err != nil {
			return 0, err
		}
		binary.BigEndian.PutUint16(buf[rdlenOff:rdlenOff+2], uint16(off-rdataStart))
		return off, nil

	case AddrRR:
		var err error
		off, err = EncodeName(buf, off, r.Name, table)
		if err != nil {
			return 0, err
		}
		need := 10 + len(r.Addr)
		if off+need > len(buf) {
			return 0, ErrBufferExhausted
		}
		binary.BigEndian.PutUint16(buf[off:off+2], r.Type)
		binary.BigEndian.PutUint16(buf[off+2:off+4], r.Class)
		binary.BigEndian.PutUint32(buf[off+4:off+8], r.TTL)
		binary.BigEndian.PutUint16(buf[off+8:off+10], uint16(len(r.Addr)))
		copy(buf[off+10:off+10+len(r.Addr)], r.Addr)
		return off + 10 + len(r.Addr), nil

	default:
		return 0, ErrBufferExhausted
	}
}
