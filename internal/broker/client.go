// Package broker wraps the message broker used for cross-process coordination:
// a fanout topic every registry-holding process subscribes to, and named
// request/reply queues for capabilities owned by other services.
package broker

import (
	"sync"
	"time"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"beacon-server/internal/apperr"
)

// Logical names, stable across deployments.
const (
	TopicSendNotification = "SendNotification"

	QueueCreateNestedChannel = "CreateNestedChannel"
	QueueDeleteNestedChannel = "DeleteNestedChannel"
	QueueGetMessages         = "Get messages"
	QueueGetChatMessages     = "Get messages from chat"
)

const redialDelay = 2 * time.Second

// Handler serves one request/reply queue. A returned error travels back to the
// caller as a typed error payload.
type Handler func(body []byte) (interface{}, error)

// Client owns one broker connection for the whole process. Constructed at
// startup, injected where needed, closed on shutdown.
type Client struct {
	url     string
	log     *zap.Logger
	timeout time.Duration

	mu         sync.Mutex
	conn       *amqp.Connection
	ch         *amqp.Channel
	replyQueue string

	pending    map[string]chan rpcEnvelope
	pendingMu  sync.Mutex
	handlers   map[string]Handler
	subscriber func([]byte)

	closed   chan struct{}
	closeOne sync.Once
}

func NewClient(url string, timeout time.Duration, log *zap.Logger) *Client {
	return &Client{
		url:      url,
		log:      log,
		timeout:  timeout,
		pending:  make(map[string]chan rpcEnvelope),
		handlers: make(map[string]Handler),
		closed:   make(chan struct{}),
	}
}

// Connect dials the broker and starts the redial loop. Served queues and the
// topic subscription must be registered before Connect so they survive
// reconnects.
func (c *Client) Connect() error {
	if err := c.dial(); err != nil {
		return err
	}
	go c.redialLoop()
	return nil
}

func (c *Client) dial() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return apperr.RemoteUnavailable("broker", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return apperr.RemoteUnavailable("broker", err)
	}

	// ExchangeDeclare: name, type, durable, autoDelete, internal, noWait, args
	if err := ch.ExchangeDeclare(TopicSendNotification, "fanout", false, false, false, false, nil); err != nil {
		conn.Close()
		return apperr.RemoteUnavailable("broker", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.ch = ch
	c.mu.Unlock()

	if err := c.startReplyConsumer(ch); err != nil {
		conn.Close()
		return err
	}
	if c.subscriber != nil {
		if err := c.startSubscriber(ch); err != nil {
			conn.Close()
			return err
		}
	}
	for queue := range c.handlers {
		if err := c.startServer(ch, queue); err != nil {
			conn.Close()
			return err
		}
	}

	c.log.Info("broker connected", zap.String("url", c.url))
	return nil
}

// redialLoop reconnects transparently after a broker disconnect. In-flight
// RPCs fail immediately with a retryable error instead of hanging.
func (c *Client) redialLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			// Close landed between redials.
			return
		}

		errCh := make(chan *amqp.Error, 1)
		conn.NotifyClose(errCh)

		select {
		case <-c.closed:
			return
		case amqpErr := <-errCh:
			var cause error
			if amqpErr != nil {
				c.log.Warn("broker connection lost", zap.String("reason", amqpErr.Reason))
				cause = amqpErr
			}
			c.failPending(apperr.RemoteUnavailable("broker", cause))
		}

		for {
			select {
			case <-c.closed:
				return
			case <-time.After(redialDelay):
			}

			if err := c.dial(); err == nil {
				break
			} else {
				c.log.Warn("broker redial failed", zap.Error(err))
			}
		}
	}
}

func (c *Client) failPending(err *apperr.Error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	for id, ch := range c.pending {
		ch <- rpcEnvelope{Error: err}
		delete(c.pending, id)
	}
}

// Publish fans the payload out to every subscribed process, fire and forget.
func (c *Client) Publish(v interface{}) error {
	body, err := marshalBody(v)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ch == nil {
		return apperr.RemoteUnavailable("broker", nil)
	}

	err = c.ch.Publish(TopicSendNotification, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		return apperr.RemoteUnavailable("broker", err)
	}
	return nil
}

// Subscribe registers the fan-out consumer. Must be called before Connect.
func (c *Client) Subscribe(fn func(body []byte)) {
	c.subscriber = fn
}

func (c *Client) startSubscriber(ch *amqp.Channel) error {
	// Exclusive server-named queue per process, bound to the fanout exchange.
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return apperr.RemoteUnavailable("broker", err)
	}
	if err := ch.QueueBind(q.Name, "", TopicSendNotification, false, nil); err != nil {
		return apperr.RemoteUnavailable("broker", err)
	}

	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return apperr.RemoteUnavailable("broker", err)
	}

	go func() {
		for d := range deliveries {
			c.subscriber(d.Body)
		}
	}()
	return nil
}

// Close shuts the client down; the redial loop exits and the connection is
// released.
func (c *Client) Close() {
	c.closeOne.Do(func() {
		close(c.closed)
	})

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.ch = nil
	c.mu.Unlock()

	c.failPending(apperr.RemoteUnavailable("broker", nil))
	if conn != nil {
		conn.Close()
	}
}
