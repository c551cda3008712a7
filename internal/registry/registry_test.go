package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeConn struct {
	mu      sync.Mutex
	open    bool
	failing bool
	sent    []interface{}
	closes  int
}

func newFakeConn() *fakeConn {
	return &fakeConn{open: true}
}

func (c *fakeConn) Send(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return errors.New("write failed")
	}
	c.sent = append(c.sent, v)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	c.closes++
}

func (c *fakeConn) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func TestAddReplacesExistingConnection(t *testing.T) {
	r := New[*fakeConn](zap.NewNop())

	first := newFakeConn()
	second := newFakeConn()

	r.Add("u1", first)
	r.Add("u1", second)

	assert.Equal(t, 1, first.closes, "old socket must be closed on replace")
	got, ok := r.Get("u1")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, 1, r.Count())
}

func TestRemoveThenSendIsNoOp(t *testing.T) {
	r := New[*fakeConn](zap.NewNop())

	c := newFakeConn()
	r.Add("u1", c)
	r.Remove("u1", c)

	_, ok := r.Get("u1")
	assert.False(t, ok)
	assert.Equal(t, 1, c.closes)

	r.Send("u1", "hello")
	assert.Zero(t, c.sentCount())

	// Removing again or removing an unknown user does nothing.
	r.Remove("u1", c)
	r.Remove("ghost", c)
	assert.Equal(t, 1, c.closes)
}

func TestRemoveStaleConnectionKeepsReplacement(t *testing.T) {
	r := New[*fakeConn](zap.NewNop())

	stale := newFakeConn()
	fresh := newFakeConn()
	r.Add("u1", stale)
	r.Add("u1", fresh)

	// The stale read loop exiting must not evict the replacement.
	r.Remove("u1", stale)

	got, ok := r.Get("u1")
	require.True(t, ok)
	assert.Same(t, fresh, got)
	assert.Zero(t, fresh.closes)
}

func TestSendSkipsClosedConnection(t *testing.T) {
	r := New[*fakeConn](zap.NewNop())

	c := newFakeConn()
	r.Add("u1", c)
	c.Close()

	r.Send("u1", "hello")
	assert.Zero(t, c.sentCount())
}

func TestBroadcastFailureIsolation(t *testing.T) {
	r := New[*fakeConn](zap.NewNop())

	good := newFakeConn()
	bad := newFakeConn()
	bad.failing = true
	late := newFakeConn()

	r.Add("a", good)
	r.Add("b", bad)
	r.Add("c", late)

	r.Broadcast([]string{"a", "b", "missing", "c"}, "payload")

	assert.Equal(t, 1, good.sentCount())
	assert.Equal(t, 1, late.sentCount(), "delivery after a failed recipient must continue")
	assert.Zero(t, bad.sentCount())
}

func TestCloseAll(t *testing.T) {
	r := New[*fakeConn](zap.NewNop())

	conns := make([]*fakeConn, 3)
	for i := range conns {
		conns[i] = newFakeConn()
		r.Add(fmt.Sprintf("u%d", i), conns[i])
	}

	r.CloseAll()

	assert.Zero(t, r.Count())
	for _, c := range conns {
		assert.Equal(t, 1, c.closes)
	}
}

func TestConcurrentAccess(t *testing.T) {
	r := New[*fakeConn](zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("u%d", n%4)
			for j := 0; j < 100; j++ {
				c := newFakeConn()
				r.Add(id, c)
				r.Send(id, j)
				r.Broadcast([]string{id}, j)
				r.Remove(id, c)
			}
		}(i)
	}
	wg.Wait()

	assert.Zero(t, r.Count())
}
