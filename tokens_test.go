package engram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeuristicTokenCounter(t *testing.T) {
	counter := NewHeuristicTokenCounter()

	require.Equal(t, 0, counter.Count(""))
	require.Equal(t, 1, counter.Count("hi"), "short text rounds up to one token")
	require.Equal(t, 1, counter.Count("abcd"))
	require.Equal(t, 25, counter.Count(strings.Repeat("x", 100)))
}

func TestHeuristicTokenCounterCustomRatio(t *testing.T) {
	counter := &HeuristicTokenCounter{CharsPerToken: 2}
	require.Equal(t, 50, counter.Count(strings.Repeat("x", 100)))
}
