package transport

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	groupA = Endpoint{Group: "238.1.1.1", Port: 8080}
	groupB = Endpoint{Group: "239.1.1.1", Port: 5000}
)

func openPair(t *testing.T, h *Hub) (disc, ann Transport) {
	t.Helper()
	disc, err := h.Open(Channel{Listen: groupA, Send: groupB})
	require.NoError(t, err)
	ann, err = h.Open(Channel{Listen: groupB, Send: groupA})
	require.NoError(t, err)
	require.NoError(t, disc.EnableReceive())
	require.NoError(t, ann.EnableReceive())
	t.Cleanup(func() {
		disc.Close()
		ann.Close()
	})
	return disc, ann
}

func TestHub_DeliversAcrossChannels(t *testing.T) {
	h := NewHub()
	disc, ann := openPair(t, h)

	n, err := disc.Send([]byte("2#"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ok, err := ann.HasData(time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = ann.HasData(0)
	require.NoError(t, err)
	assert.True(t, ok, "pending datagram is still reported")

	buf := make([]byte, MaxDatagram)
	n, err = ann.Receive(buf)
	require.NoError(t, err)
	assert.Equal(t, "2#", string(buf[:n]))

	ok, err = disc.HasData(10 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok, "sender does not hear its own send group")
}

func TestHub_FanOut(t *testing.T) {
	h := NewHub()
	var anns []Transport
	disc, err := h.Open(Channel{Listen: groupA, Send: groupB})
	require.NoError(t, err)
	defer disc.Close()
	for i := 0; i < 3; i++ {
		a, err := h.Open(Channel{Listen: groupB, Send: groupA})
		require.NoError(t, err)
		require.NoError(t, a.EnableReceive())
		defer a.Close()
		anns = append(anns, a)
	}
	_, err = disc.Send([]byte("2#"))
	require.NoError(t, err)
	for _, a := range anns {
		ok, err := a.HasData(time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestHub_ReceiveRequiresEnable(t *testing.T) {
	h := NewHub()
	c, err := h.Open(Channel{Listen: groupA, Send: groupB})
	require.NoError(t, err)
	_, err = c.HasData(0)
	assert.ErrorIs(t, err, ErrNotReceiving)
	_, err = c.Receive(make([]byte, 8))
	assert.ErrorIs(t, err, ErrNotReceiving)
}

func TestHub_CloseUnblocksReceive(t *testing.T) {
	h := NewHub()
	c, err := h.Open(Channel{Listen: groupA, Send: groupB})
	require.NoError(t, err)
	require.NoError(t, c.EnableReceive())

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Receive(make([]byte, 8))
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Receive did not return after Close")
	}
	_, err = c.Send([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 0, h.Inject(groupA, []byte("x")), "closed transports leave the hub")
}

func TestHub_FullQueueDrops(t *testing.T) {
	h := NewHub()
	h.depth = 2
	c, err := h.Open(Channel{Listen: groupA, Send: groupB})
	require.NoError(t, err)
	require.NoError(t, c.EnableReceive())
	defer c.Close()

	for i := 0; i < 5; i++ {
		h.Inject(groupA, []byte("x"))
	}
	assert.Equal(t, int64(3), h.Dropped())
}

func TestHub_ConcurrentSend(t *testing.T) {
	h := NewHub()
	disc, ann := openPair(t, h)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = disc.Send([]byte("3#svc#"))
		}()
	}
	wg.Wait()

	buf := make([]byte, MaxDatagram)
	got := 0
	for {
		ok, err := ann.HasData(10 * time.Millisecond)
		require.NoError(t, err)
		if !ok {
			break
		}
		_, err = ann.Receive(buf)
		require.NoError(t, err)
		got++
	}
	assert.Equal(t, 50, got)
}

func TestEndpointString(t *testing.T) {
	assert.Equal(t, "238.1.1.1:8080", groupA.String())
}

func TestHub_EmptyDatagram(t *testing.T) {
	h := NewHub()
	disc, ann := openPair(t, h)

	_, err := disc.Send([]byte{})
	require.NoError(t, err)
	_, err = disc.Send([]byte("2#"))
	require.NoError(t, err)

	ok, err := ann.HasData(time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	buf := make([]byte, MaxDatagram)
	n, err := ann.Receive(buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	ok, err = ann.HasData(time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	n, err = ann.Receive(buf)
	require.NoError(t, err)
	assert.Equal(t, "2#", string(buf[:n]), "the empty datagram does not swallow the next one")

	ok, err = ann.HasData(10 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}
