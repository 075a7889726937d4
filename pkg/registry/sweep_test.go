package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweep_MarksSilentNodesDown(t *testing.T) {
	clk := newFakeClock()
	r := New(WithClock(clk.Now))
	timeout := 3 * time.Second

	_, err := r.Refresh("svc-a", nil)
	require.NoError(t, err)
	_, err = r.Refresh("svc-b", nil)
	require.NoError(t, err)

	clk.Advance(2 * time.Second)
	r.MarkUp("svc-b")
	assert.Empty(t, r.Sweep(timeout))

	clk.Advance(2 * time.Second)
	trs := r.Sweep(timeout)
	require.Len(t, trs, 1)
	assert.Equal(t, "svc-a", trs[0].Node.Name)
	assert.Equal(t, StatusUp, trs[0].From)
	assert.Equal(t, StatusDown, trs[0].To)
	assert.True(t, r.byName["svc-b"].expired(clk.Now(), time.Second))
	assert.False(t, r.byName["svc-a"].expired(clk.Now(), time.Second), "DOWN nodes are not expired")

	assert.Empty(t, r.Sweep(timeout), "already DOWN")

	clk.Advance(2 * time.Second)
	trs = r.Sweep(timeout)
	require.Len(t, trs, 1)
	assert.Equal(t, "svc-b", trs[0].Node.Name)
}

func TestSweep_ExactTimeoutIsStillUp(t *testing.T) {
	clk := newFakeClock()
	r := New(WithClock(clk.Now))
	_, err := r.Refresh("svc-a", nil)
	require.NoError(t, err)

	clk.Advance(3 * time.Second)
	assert.Empty(t, r.Sweep(3*time.Second))
	clk.Advance(time.Nanosecond)
	assert.Len(t, r.Sweep(3*time.Second), 1)
}

func TestSweep_RecoveryLogsBothTransitions(t *testing.T) {
	clk := newFakeClock()
	r := New(WithClock(clk.Now))
	_, err := r.Refresh("svc-a", nil)
	require.NoError(t, err)
	clk.Advance(10 * time.Second)
	r.Sweep(3 * time.Second)
	tr, ok := r.MarkUp("svc-a")
	require.True(t, ok)
	require.NotNil(t, tr)

	var lines []string
	for _, e := range r.Log().Snapshot() {
		lines = append(lines, e.String())
	}
	assert.Equal(t, []string{"svc-a: UP", "svc-a: DOWN", "svc-a: UP"}, lines)
}
