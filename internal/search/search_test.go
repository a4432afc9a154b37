package search

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPlanBelowNdotsTriesPostfixesThenVerbatim(t *testing.T) {
	s := NewState()
	s.SetNdots(1)
	s.Add("a.com")
	s.Add("b.com")

	plan := s.Plan("x")
	require.Equal(t, []string{"x.a.com", "x.b.com", "x"}, plan)
}

func TestPlanAtOrAboveNdotsTriesVerbatimFirst(t *testing.T) {
	s := NewState()
	s.SetNdots(1)
	s.Add("a.com")
	s.Add("b.com")

	plan := s.Plan("host.example.com")
	require.Equal(t, []string{"host.example.com", "host.example.com.a.com", "host.example.com.b.com"}, plan)
}

func TestPlanEmptySearchListIsVerbatimOnly(t *testing.T) {
	s := NewState()
	plan := s.Plan("x")
	require.Equal(t, []string{"x"}, plan)
}

func TestPlanExhaustionCountIsKPlusOne(t *testing.T) {
	s := NewState()
	s.SetNdots(2)
	s.Add("a.com")
	s.Add("b.com")
	s.Add("c.com")

	require.Len(t, s.Plan("x"), 4)       // 0 dots < ndots=2
	require.Len(t, s.Plan("x.y"), 4)     // 1 dot < ndots=2
	require.Len(t, s.Plan("x.y.z"), 4)   // 2 dots >= ndots=2
}

func TestRefCounting(t *testing.T) {
	s := NewState()
	require.Equal(t, 1, s.RefCount())
	s.AddRef()
	require.Equal(t, 2, s.RefCount())
	s.Release()
	require.Equal(t, 1, s.RefCount())
}
