package wire

import (
	"crypto/rand"
	"encoding/binary"
	"strings"

	"github.com/dchest/siphash"
)

// maxPointerHops bounds how many compression pointers DecodeName will
// follow while unwinding a single name. The output-buffer/domain-length
// bound alone does not stop a packet whose pointer chain revisits offsets
// without ever emitting enough labels to hit that bound (spec Open
// Question #2); we additionally track visited offsets so a short cycle is
// rejected immediately rather than after maxPointerHops iterations.
const maxPointerHops = MaxMessageSize / 2

// DecodeName decodes a domain name starting at offset within msg, following
// compression pointers as needed, and returns the dotted-label
// representation (no trailing dot) along with the offset immediately past
// the name as it appears at the call site (i.e. past the first pointer, or
// past the terminating zero label if there was no pointer).
func DecodeName(msg []byte, offset int) (string, int, error) {
	if offset < 0 || offset >= len(msg) {
		return "", 0, ErrInvalidPointer
	}

	var labels []string
	visited := make(map[int]bool)
	cur := offset
	hops := 0
	jumped := false
	nextOffset := -1
	nameLen := 0

	for {
		if cur >= len(msg) {
			return "", 0, ErrMessageTooShort
		}

		b := msg[cur]

		if b&0xC0 == 0xC0 {
			if cur+1 >= len(msg) {
				return "", 0, ErrMessageTooShort
			}
			if !jumped {
				nextOffset = cur + 2
				jumped = true
			}
			ptr := int(binary.BigEndian.Uint16(msg[cur:cur+2]) & 0x3FFF)
			if visited[ptr] {
				return "", 0, ErrCompressionLoop
			}
			visited[ptr] = true
			if ptr >= len(msg) {
				return "", 0, ErrInvalidPointer
			}
			hops++
			if hops > maxPointerHops {
				return "", 0, ErrCompressionLoop
			}
			cur = ptr
			continue
		}

		if b == 0 {
			if !jumped {
				nextOffset = cur + 1
			}
			break
		}

		length := int(b)
		if length > MaxLabelLength {
			return "", 0, ErrLabelTooLong
		}

		cur++
		if cur+length > len(msg) {
			return "", 0, ErrMessageTooShort
		}

		label := string(msg[cur : cur+length])
		labels = append(labels, label)
		nameLen += length + 1
		if nameLen > MaxDomainLength {
			return "", 0, ErrNameTooLong
		}

		cur += length
	}

	return strings.Join(labels, "."), nextOffset, nil
}

// CompressionTable records, for a single outbound message, the wire offset
// at which each previously-emitted name suffix was written, so later names
// sharing that suffix can be replaced with a 2-byte pointer. Suffixes are
// keyed by a SipHash-2-4 digest (keyed with a per-table random secret)
// rather than the raw string: a remote party choosing label text that
// collides under a fixed, guessable hash should not be able to force
// repeated linear rebuilds of the table or starve out legitimate entries.
type CompressionTable struct {
	key     [16]byte
	offsets map[uint64]int
	cap     int
}

// NewCompressionTable returns an empty table with the spec's 128-entry
// capacity; entries beyond that capacity are silently not recorded (the
// encoder keeps working, it just stops compressing further repeats).
func NewCompressionTable() *CompressionTable {
	t := &CompressionTable{
		offsets: make(map[uint64]int, 128),
		cap:     128,
	}
	_, _ = rand.Read(t.key[:])
	return t
}

func (t *CompressionTable) hash(suffix string) uint64 {
	h := siphash.New(t.key[:])
	_, _ = h.Write([]byte(suffix))
	return h.Sum64()
}

func (t *CompressionTable) lookup(suffix string) (int, bool) {
	off, ok := t.offsets[t.hash(suffix)]
	return off, ok
}

func (t *CompressionTable) record(suffix string, offset int) {
	if len(t.offsets) >= t.cap {
		return
	}
	if offset > 0x3FFF {
		// Can't be pointed to (14-bit pointer field); not worth recording.
		return
	}
	t.offsets[t.hash(suffix)] = offset
}

// EncodeName writes name (dotted labels, optionally trailing-dot) into buf
// starting at offset, using table for compression if non-nil, and returns
// the offset immediately after the encoded name.
func EncodeName(buf []byte, offset int, name string, table *CompressionTable) (int, error) {
	name = strings.TrimSuffix(name, ".")

	var labels []string
	if name != "" {
		labels = strings.Split(name, ".")
	}

	total := 0
	for _, l := range labels {
		if len(l) > MaxLabelLength {
			return 0, ErrLabelTooLong
		}
		total += len(l) + 1
	}
	if total+1 > MaxDomainLength {
		return 0, ErrNameTooLong
	}

	pos := offset
	for i, l := range labels {
		suffix := strings.Join(labels[i:], ".")

		if table != nil {
			if ptrOffset, ok := table.lookup(suffix); ok {
				if pos+2 > len(buf) {
					return 0, ErrBufferExhausted
				}
				binary.BigEndian.PutUint16(buf[pos:pos+2], uint16(0xC000|ptrOffset))
				return pos + 2, nil
			}
			table.record(suffix, pos)
		}

		if pos+1+len(l) > len(buf) {
			return 0, ErrBufferExhausted
		}
		buf[pos] = byte(len(l))
		copy(buf[pos+1:], l)
		pos += 1 + len(l)
	}

	if pos+1 > len(buf) {
		return 0, ErrBufferExhausted
	}
	buf[pos] = 0
	pos++

	return pos, nil
}
