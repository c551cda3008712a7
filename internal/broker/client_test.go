package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"beacon-server/internal/apperr"
)

func TestCallWithoutConnection(t *testing.T) {
	c := NewClient("amqp://localhost:5672/", time.Second, zap.NewNop())

	err := c.Call(context.Background(), QueueGetMessages, map[string]string{}, nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeRemoteUnavailable))
}

func TestPublishWithoutConnection(t *testing.T) {
	c := NewClient("amqp://localhost:5672/", time.Second, zap.NewNop())

	err := c.Publish(map[string]string{"k": "v"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeRemoteUnavailable))
}

func TestRunHandlerSuccess(t *testing.T) {
	c := NewClient("amqp://localhost:5672/", time.Second, zap.NewNop())

	env := c.runHandler(func(body []byte) (interface{}, error) {
		var req map[string]int
		require.NoError(t, json.Unmarshal(body, &req))
		return map[string]int{"sum": req["a"] + req["b"]}, nil
	}, []byte(`{"a":2,"b":3}`))

	require.Nil(t, env.Error)
	assert.JSONEq(t, `{"sum":5}`, string(env.Data))
}

func TestRunHandlerErrorTravelsTyped(t *testing.T) {
	c := NewClient("amqp://localhost:5672/", time.Second, zap.NewNop())

	env := c.runHandler(func([]byte) (interface{}, error) {
		return nil, apperr.Forbidden("channel", "no visibility")
	}, nil)

	require.NotNil(t, env.Error)
	assert.Equal(t, apperr.CodeForbidden, env.Error.Code)

	// The envelope survives the wire with the code intact and the internal
	// detail stripped.
	body, err := json.Marshal(env)
	require.NoError(t, err)
	var decoded rpcEnvelope
	require.NoError(t, json.Unmarshal(body, &decoded))
	require.NotNil(t, decoded.Error)
	assert.Equal(t, apperr.CodeForbidden, decoded.Error.Code)
	assert.Empty(t, decoded.Error.Internal)
}

func TestRunHandlerWrapsUntypedError(t *testing.T) {
	c := NewClient("amqp://localhost:5672/", time.Second, zap.NewNop())

	env := c.runHandler(func([]byte) (interface{}, error) {
		return nil, context.DeadlineExceeded
	}, nil)

	require.NotNil(t, env.Error)
	assert.Equal(t, apperr.CodeUnexpected, env.Error.Code)
}

func TestFailPendingUnblocksCallers(t *testing.T) {
	c := NewClient("amqp://localhost:5672/", time.Second, zap.NewNop())

	replyCh := make(chan rpcEnvelope, 1)
	c.pendingMu.Lock()
	c.pending["corr-1"] = replyCh
	c.pendingMu.Unlock()

	c.failPending(apperr.RemoteUnavailable("broker", nil))

	select {
	case env := <-replyCh:
		require.NotNil(t, env.Error)
		assert.Equal(t, apperr.CodeRemoteUnavailable, env.Error.Code)
	default:
		t.Fatal("pending caller was not unblocked")
	}

	c.pendingMu.Lock()
	assert.Empty(t, c.pending)
	c.pendingMu.Unlock()
}

func TestRedialLoopExitsWithoutConnection(t *testing.T) {
	c := NewClient("amqp://localhost:5672/", time.Second, zap.NewNop())
	c.Close()

	// A Close landing between redials leaves conn nil; the loop must exit
	// instead of dereferencing it.
	done := make(chan struct{})
	go func() {
		c.redialLoop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("redial loop did not exit")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	c := NewClient("amqp://localhost:5672/", time.Second, zap.NewNop())
	c.Close()
	c.Close()
}
