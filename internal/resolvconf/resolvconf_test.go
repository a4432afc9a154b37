package resolvconf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dnsscience/evreq/internal/nameserver"
	"github.com/dnsscience/evreq/internal/search"
)

func writeConf(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "resolv.conf")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestParseNameserverAndSearchDirectives(t *testing.T) {
	path := writeConf(t, "nameserver 192.0.2.1\nnameserver 192.0.2.2\nsearch a.example. b.example.\noptions ndots:2\n")

	pool := nameserver.New(nameserver.Config{})
	st := search.NewState()
	opts := &Options{}

	code := Parse(path, OptionSearch|OptionMisc, pool, st, opts)
	require.Equal(t, Ok, code)
	require.Equal(t, 2, pool.Count())
	require.Equal(t, []string{"a.example.", "b.example."}, st.Postfixes)
	require.Equal(t, 2, st.Ndots)
}

func TestParseDomainDirectiveReplacesSearchList(t *testing.T) {
	path := writeConf(t, "search a.example. b.example.\ndomain only.example.\n")

	pool := nameserver.New(nameserver.Config{})
	st := search.NewState()

	code := Parse(path, OptionSearch, pool, st, nil)
	require.Equal(t, Ok, code)
	require.Equal(t, []string{"only.example."}, st.Postfixes)
}

func TestParseOptionsGatedByFlags(t *testing.T) {
	path := writeConf(t, "options ndots:5 timeout:10 attempts:300\n")

	pool := nameserver.New(nameserver.Config{})
	st := search.NewState()
	opts := &Options{}

	code := Parse(path, 0, pool, st, opts) // no flags: nothing applied
	require.Equal(t, Ok, code)
	require.Equal(t, 1, st.Ndots) // default, unchanged
	require.Equal(t, 0, opts.Timeout)
	require.Equal(t, 0, opts.Attempts)

	code = Parse(path, OptionSearch|OptionMisc, pool, st, opts)
	require.Equal(t, Ok, code)
	require.Equal(t, 5, st.Ndots)
	require.Equal(t, 10, opts.Timeout)
	require.Equal(t, 255, opts.Attempts) // capped
}

func TestParseIgnoresCommentsAndUnknownDirectives(t *testing.T) {
	path := writeConf(t, "# a comment\n; another comment\nsortlist 10.0.0.0/8\nnameserver 192.0.2.1\n")

	pool := nameserver.New(nameserver.Config{})
	st := search.NewState()

	code := Parse(path, 0, pool, st, nil)
	require.Equal(t, Ok, code)
	require.Equal(t, 1, pool.Count())
}

func TestParseDuplicateNameserverIsSilentlyIgnored(t *testing.T) {
	path := writeConf(t, "nameserver 192.0.2.1\nnameserver 192.0.2.1\n")

	pool := nameserver.New(nameserver.Config{})
	st := search.NewState()

	code := Parse(path, 0, pool, st, nil)
	require.Equal(t, Ok, code)
	require.Equal(t, 1, pool.Count())
}

func TestParseMissingFileAppliesDefaultsWhenRequested(t *testing.T) {
	pool := nameserver.New(nameserver.Config{})
	st := search.NewState()

	code := Parse(filepath.Join(t.TempDir(), "does-not-exist"), OptionDefaults, pool, st, nil)
	require.Equal(t, ErrOpenFailed, code)
	require.Equal(t, 1, pool.Count())
}

func TestParseMissingFileWithoutDefaultsLeavesStateEmpty(t *testing.T) {
	pool := nameserver.New(nameserver.Config{})
	st := search.NewState()

	code := Parse(filepath.Join(t.TempDir(), "does-not-exist"), 0, pool, st, nil)
	require.Equal(t, ErrOpenFailed, code)
	require.Equal(t, 0, pool.Count())
}

func TestParseFileTooLargeIsRejected(t *testing.T) {
	big := make([]byte, maxFileSize+1)
	for i := range big {
		big[i] = '\n'
	}
	path := writeConf(t, string(big))

	pool := nameserver.New(nameserver.Config{})
	st := search.NewState()

	code := Parse(path, 0, pool, st, nil)
	require.Equal(t, ErrTooLarge, code)
}
