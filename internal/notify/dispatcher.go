package notify

import (
	"encoding/json"

	"go.uber.org/zap"

	"beacon-server/internal/metrics"
)

// Sender is the slice of the connection registry the dispatcher needs.
type Sender interface {
	Broadcast(recipientIDs []string, v interface{})
}

// Dispatcher forwards broker fan-out events to the local connection registry.
// It never blocks on persistence; delivery to users without a live connection
// here is a no-op.
type Dispatcher struct {
	reg Sender
	log *zap.Logger
}

func NewDispatcher(reg Sender, log *zap.Logger) *Dispatcher {
	return &Dispatcher{reg: reg, log: log}
}

// Handle consumes one fan-out event. Malformed events are logged and dropped;
// one bad publisher must not wedge the subscription.
func (d *Dispatcher) Handle(body []byte) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		d.log.Warn("dropping malformed notification", zap.Error(err))
		return
	}

	metrics.AddNotificationsReceived(1)
	d.reg.Broadcast(env.RecipientIDs, Frame{
		MessageType: env.MessageType,
		Payload:     env.Payload,
	})
}
