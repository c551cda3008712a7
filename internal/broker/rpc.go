package broker

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/streadway/amqp"

	"beacon-server/internal/apperr"
)

// rpcEnvelope is the reply shape for every request/reply queue. A remote
// failure decodes into the same *apperr.Error a local check produces, so
// callers treat both uniformly.
type rpcEnvelope struct {
	Error *apperr.Error   `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func marshalBody(v interface{}) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, apperr.Validation("payload", err.Error())
	}
	return body, nil
}

// Call publishes req to the named queue and blocks on the typed reply. The
// deadline is the shorter of ctx and the configured RPC timeout; hitting it, or
// losing the broker mid-flight, yields RemoteUnavailable.
func (c *Client) Call(ctx context.Context, queue string, req, resp interface{}) error {
	body, err := marshalBody(req)
	if err != nil {
		return err
	}

	corrID := uuid.NewString()
	replyCh := make(chan rpcEnvelope, 1)

	c.pendingMu.Lock()
	c.pending[corrID] = replyCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, corrID)
		c.pendingMu.Unlock()
	}()

	c.mu.Lock()
	ch := c.ch
	replyQueue := c.replyQueue
	c.mu.Unlock()
	if ch == nil {
		return apperr.RemoteUnavailable(queue, nil)
	}

	err = ch.Publish("", queue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: corrID,
		ReplyTo:       replyQueue,
		Body:          body,
	})
	if err != nil {
		return apperr.RemoteUnavailable(queue, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	select {
	case <-ctx.Done():
		return apperr.RemoteUnavailable(queue, ctx.Err())
	case env := <-replyCh:
		if env.Error != nil {
			return env.Error
		}
		if resp != nil && len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, resp); err != nil {
				return apperr.Unexpected(err)
			}
		}
		return nil
	}
}

// startReplyConsumer owns the exclusive reply queue RPC responses come back on.
func (c *Client) startReplyConsumer(ch *amqp.Channel) error {
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return apperr.RemoteUnavailable("broker", err)
	}

	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return apperr.RemoteUnavailable("broker", err)
	}

	c.mu.Lock()
	c.replyQueue = q.Name
	c.mu.Unlock()

	go func() {
		for d := range deliveries {
			c.pendingMu.Lock()
			waiter, ok := c.pending[d.CorrelationId]
			if ok {
				delete(c.pending, d.CorrelationId)
			}
			c.pendingMu.Unlock()
			if !ok {
				continue // late reply for a caller that gave up
			}

			var env rpcEnvelope
			if err := json.Unmarshal(d.Body, &env); err != nil {
				env = rpcEnvelope{Error: apperr.Unexpected(err)}
			}
			waiter <- env
		}
	}()
	return nil
}

// Serve registers a handler for one request/reply queue. Must be called before
// Connect; consumers are re-established on every redial.
func (c *Client) Serve(queue string, h Handler) {
	c.handlers[queue] = h
}

func (c *Client) startServer(ch *amqp.Channel, queue string) error {
	// QueueDeclare: name, durable, autoDelete, exclusive, noWait, args
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return apperr.RemoteUnavailable("broker", err)
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return apperr.RemoteUnavailable("broker", err)
	}

	h := c.handlers[queue]
	go func() {
		for d := range deliveries {
			env := c.runHandler(h, d.Body)
			body, err := json.Marshal(env)
			if err != nil {
				body, _ = json.Marshal(rpcEnvelope{Error: apperr.Unexpected(err)})
			}

			c.mu.Lock()
			if c.ch != nil {
				c.ch.Publish("", d.ReplyTo, false, false, amqp.Publishing{
					ContentType:   "application/json",
					CorrelationId: d.CorrelationId,
					Body:          body,
				})
			}
			c.mu.Unlock()

			d.Ack(false)
		}
	}()
	return nil
}

func (c *Client) runHandler(h Handler, body []byte) rpcEnvelope {
	result, err := h(body)
	if err != nil {
		return rpcEnvelope{Error: apperr.From(err)}
	}

	data, err := json.Marshal(result)
	if err != nil {
		return rpcEnvelope{Error: apperr.Unexpected(err)}
	}
	return rpcEnvelope{Data: data}
}
