package daemonctl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPatterns(t *testing.T) {
	table := DefaultPatterns()

	tests := []struct {
		line string
		want []string
	}{
		{
			line: "[2025-01-01] [error] [dnsmasq] dnsmasq: failed to create listening socket for 10.0.0.1: Address already in use",
			want: []string{"Could not bind dnsmasq to port 53, is there another process running?"},
		},
		{
			line: `qemu-system-x86_64: Failed to get shared "write" lock`,
			want: []string{"Cannot open an image file for writing, is another process holding a write lock?"},
		},
		{
			line: "gRPC: Only one usage of each socket address (protocol/network address/port) is normally permitted.",
			want: []string{"Could not bind gRPC port -- is there another daemon process running?"},
		},
		{
			line: "[info] daemon starting",
			want: nil,
		},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, table.Match(tt.line), tt.line)
	}
}

func TestCompilePatterns(t *testing.T) {
	table, err := CompilePatterns([]PatternSpec{
		{Pattern: `disk full`, Reason: "out of space"},
		{Pattern: `(?i)panic`, Reason: "daemon panicked"},
	})
	require.NoError(t, err)
	require.Len(t, table, 2)
	assert.Equal(t, []string{"out of space", "daemon panicked"}, table.Match("PANIC: disk full"))

	_, err = CompilePatterns([]PatternSpec{{Pattern: `(`, Reason: "broken"}})
	require.Error(t, err)
}

func TestReasonSetDeduplicates(t *testing.T) {
	var s reasonSet
	s.add("a", "b")
	s.add("a")
	s.add("c", "b")
	assert.Equal(t, []string{"a", "b", "c"}, s.list())
}
