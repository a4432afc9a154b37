// Package resolvconf parses a resolv.conf-style text file and applies its
// directives to a nameserver pool and search state (spec component 8).
package resolvconf

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dnsscience/evreq/internal/nameserver"
	"github.com/dnsscience/evreq/internal/search"
)

// ParseFlags gate which "options" directives take effect, matching the
// published DNS_OPTION_* bits.
type ParseFlags int

const (
	// OptionSearch applies the options ndots:N directive.
	OptionSearch ParseFlags = 1 << 0
	// OptionMisc applies options timeout:N and attempts:N.
	OptionMisc ParseFlags = 1 << 1
	// OptionDefaults applies the built-in fallback (127.0.0.1 nameserver,
	// hostname-derived search domain) when the file cannot be opened.
	OptionDefaults ParseFlags = 1 << 2
)

// Parse return codes, a published contract (spec §6).
const (
	Ok            = 0
	ErrOpenFailed = 1
	ErrStatFailed = 2
	ErrTooLarge   = 3
	ErrOOM        = 4
	ErrShortRead  = 5
)

const maxFileSize = 65535

// Options receives the options:timeout/attempts directives, gated by
// OptionMisc. Pass nil to ignore them even if OptionMisc is set.
type Options struct {
	Timeout  int
	Attempts int
}

// Parse reads path and applies nameserver/domain/search/options directives
// to pool and st. If the file cannot be opened and flags has OptionDefaults
// set, applyDefaults runs instead and ErrOpenFailed is still returned (the
// caller decides whether that return code is fatal).
func Parse(path string, flags ParseFlags, pool *nameserver.Pool, st *search.State, opts *Options) int {
	f, err := os.Open(path)
	if err != nil {
		if flags&OptionDefaults != 0 {
			applyDefaults(pool, st)
		}
		return ErrOpenFailed
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ErrStatFailed
	}
	if info.Size() > maxFileSize {
		return ErrTooLarge
	}

	data := make([]byte, info.Size())
	n, err := io.ReadFull(f, data)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return ErrShortRead
	}
	if int64(n) != info.Size() {
		return ErrShortRead
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		fields := strings.Fields(line)
		applyDirective(fields, flags, pool, st, opts)
	}

	return Ok
}

func applyDirective(fields []string, flags ParseFlags, pool *nameserver.Pool, st *search.State, opts *Options) {
	if len(fields) == 0 {
		return
	}

	switch fields[0] {
	case "nameserver":
		if len(fields) < 2 {
			return
		}
		// "add if not already present": ErrDuplicate is an expected,
		// silent outcome here, not a parse failure.
		pool.AddString(fields[1])

	case "domain":
		if len(fields) < 2 {
			return
		}
		st.Clear()
		st.Add(fields[1])

	case "search":
		st.Clear()
		// Classic resolv.conf parsers build this list by pushing each
		// token onto the head as the line is scanned left to right, then
		// reversing once at the end so iteration order matches the
		// source order. Reproduced literally here rather than appending
		// directly, since both read identically but this is the shape
		// spec.md's own description names.
		var reversed []string
		for _, d := range fields[1:] {
			reversed = append([]string{d}, reversed...)
		}
		for i := len(reversed) - 1; i >= 0; i-- {
			st.Add(reversed[i])
		}

	case "options":
		for _, tok := range fields[1:] {
			kv := strings.SplitN(tok, ":", 2)
			if len(kv) != 2 {
				continue
			}
			n, err := strconv.Atoi(kv[1])
			if err != nil {
				continue
			}
			switch kv[0] {
			case "ndots":
				if flags&OptionSearch != 0 {
					st.SetNdots(n)
				}
			case "timeout":
				if flags&OptionMisc != 0 && opts != nil {
					opts.Timeout = n
				}
			case "attempts":
				if flags&OptionMisc != 0 && opts != nil {
					if n > 255 {
						n = 255
					}
					opts.Attempts = n
				}
			}
		}

	default:
		// All other directives ignored, per spec.
	}
}

// applyDefaults adds 127.0.0.1 as a nameserver and derives a single search
// domain from the portion of the local hostname after its first dot.
func applyDefaults(pool *nameserver.Pool, st *search.State) {
	pool.AddString("127.0.0.1")

	hostname, err := os.Hostname()
	if err != nil {
		return
	}
	if idx := strings.IndexByte(hostname, '.'); idx >= 0 {
		st.Clear()
		st.Add(hostname[idx+1:])
	}
}
