package logbuf

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendAndSnapshotPreservesOrder(t *testing.T) {
	b := New()
	b.Append(Stdout, "one")
	b.Append(Stdout, "two")
	b.Append(Stderr, "err-one")

	stdout, stderr := b.Snapshot()
	require.Equal(t, []string{"one", "two"}, stdout)
	require.Equal(t, []string{"err-one"}, stderr)
}

// a stream never holds more than Capacity lines.
func TestAppendBeyondCapacityDropsOldest(t *testing.T) {
	b := New()
	for i := 0; i < Capacity+10; i++ {
		b.Append(Stdout, fmt.Sprintf("line-%d", i))
	}

	stdout, _ := b.Snapshot()
	require.Len(t, stdout, Capacity)
	require.Equal(t, "line-10", stdout[0])
	require.Equal(t, fmt.Sprintf("line-%d", Capacity+9), stdout[len(stdout)-1])
}

func TestStdoutAndStderrAreIndependent(t *testing.T) {
	b := New()
	for i := 0; i < Capacity+5; i++ {
		b.Append(Stdout, fmt.Sprintf("out-%d", i))
	}
	b.Append(Stderr, "single-err")

	stdout, stderr := b.Snapshot()
	require.Len(t, stdout, Capacity)
	require.Equal(t, []string{"single-err"}, stderr)
}

// Clear is idempotent and safe to call on an empty buffer.
func TestClearIsIdempotent(t *testing.T) {
	b := New()
	b.Append(Stdout, "one")
	b.Append(Stderr, "two")

	b.Clear()
	stdout, stderr := b.Snapshot()
	require.Empty(t, stdout)
	require.Empty(t, stderr)

	b.Clear()
	stdout, stderr = b.Snapshot()
	require.Empty(t, stdout)
	require.Empty(t, stderr)
}

func TestRegistryCreatesLazilyAndReusesInstance(t *testing.T) {
	r := NewRegistry()
	first := r.For("proj_a")
	first.Append(Stdout, "hello")

	second := r.For("proj_a")
	stdout, _ := second.Snapshot()
	require.Equal(t, []string{"hello"}, stdout)
}

func TestRegistryDropRemovesBuffers(t *testing.T) {
	r := NewRegistry()
	b := r.For("proj_a")
	b.Append(Stdout, "hello")

	r.Drop("proj_a")
	fresh := r.For("proj_a")
	stdout, _ := fresh.Snapshot()
	require.Empty(t, stdout)
}
