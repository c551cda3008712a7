// Package ws is the socket entry point: authenticated upgrade, one read loop
// per connection, JSON frames routed to the mutation service, targeted error
// frames back to the requesting connection only.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"beacon-server/internal/apperr"
	"beacon-server/internal/auth"
	"beacon-server/internal/notify"
	"beacon-server/internal/registry"
	"beacon-server/internal/service"
)

// Inbound frame discriminators.
const (
	inNewMessage        = "New message"
	inUpdateMessage     = "Update message"
	inDeleteMessage     = "Delete message"
	inNewChatMessage    = "New message chat"
	inUpdateChatMessage = "Update message chat"
	inDeleteChatMessage = "Delete message chat"
	inVote              = "Vote"
	inUnvote            = "Unvote"
	inGetVote           = "Get vote"
	inSeeMessage        = "See message"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// frame is one inbound client message.
type frame struct {
	Type    string          `json:"Type"`
	Content json.RawMessage `json:"Content"`
}

// tokenContent extracts the bearer credential every content shape carries.
type tokenContent struct {
	Token string `json:"token"`
}

type messageRef struct {
	MessageID uint `json:"message_id"`
}

type variantRef struct {
	VariantID uint `json:"variant_id"`
}

type Gateway struct {
	reg  *registry.Registry[*Client]
	auth *auth.Verifier
	svc  *service.Service
	log  *zap.Logger
}

func NewGateway(reg *registry.Registry[*Client], verifier *auth.Verifier, svc *service.Service, log *zap.Logger) *Gateway {
	return &Gateway{reg: reg, auth: verifier, svc: svc, log: log}
}

// HandleWebSocket authenticates the upgrade request and registers the new
// connection, displacing any previous one the user held here.
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		header := r.Header.Get("Authorization")
		if len(header) > 7 && header[:7] == "Bearer " {
			token = header[7:]
		}
	}

	userID, err := g.auth.CheckAuth(token)
	if err != nil {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(conn, userID)
	g.reg.Add(userID, client)

	go client.writePump()
	go g.readPump(client)
}

// readPump is the per-connection read loop. Closing the socket ends only this
// loop; mutations already handed to the service keep running.
func (g *Gateway) readPump(c *Client) {
	defer func() {
		g.reg.Remove(c.userID, c)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				g.log.Debug("websocket read error", zap.String("user_id", c.userID), zap.Error(err))
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			g.sendError(c, apperr.Validation("frame", "malformed frame"))
			continue
		}

		g.dispatch(c, f)
	}
}

// dispatch routes one inbound frame. Unknown types are silently ignored.
// Failures travel back as an ErrorWithMessage frame to this connection only,
// never broadcast.
func (g *Gateway) dispatch(c *Client, f frame) {
	// A content shape that does not decode leaves the token empty, which the
	// auth check below rejects.
	var tc tokenContent
	_ = json.Unmarshal(f.Content, &tc)

	userID, err := g.auth.CheckAuth(tc.Token)
	if err != nil {
		g.sendError(c, err)
		return
	}

	ctx := context.Background()

	switch f.Type {
	case inNewMessage, inNewChatMessage:
		var req service.CreateMessageRequest
		if err := json.Unmarshal(f.Content, &req); err != nil {
			g.sendError(c, apperr.Validation("content", "malformed request"))
			return
		}
		if _, err := g.svc.CreateMessage(ctx, userID, req); err != nil {
			g.sendError(c, err)
		}

	case inUpdateMessage, inUpdateChatMessage:
		var req service.UpdateMessageRequest
		if err := json.Unmarshal(f.Content, &req); err != nil {
			g.sendError(c, apperr.Validation("content", "malformed request"))
			return
		}
		if _, err := g.svc.UpdateMessage(ctx, userID, req); err != nil {
			g.sendError(c, err)
		}

	case inDeleteMessage, inDeleteChatMessage:
		var ref messageRef
		if err := json.Unmarshal(f.Content, &ref); err != nil {
			g.sendError(c, apperr.Validation("content", "malformed request"))
			return
		}
		if _, err := g.svc.DeleteMessage(ctx, userID, ref.MessageID); err != nil {
			g.sendError(c, err)
		}

	case inVote:
		var ref variantRef
		if err := json.Unmarshal(f.Content, &ref); err != nil {
			g.sendError(c, apperr.Validation("content", "malformed request"))
			return
		}
		if _, err := g.svc.CastVote(userID, ref.VariantID); err != nil {
			g.sendError(c, err)
		}

	case inUnvote:
		var ref variantRef
		if err := json.Unmarshal(f.Content, &ref); err != nil {
			g.sendError(c, apperr.Validation("content", "malformed request"))
			return
		}
		if _, err := g.svc.RetractVote(userID, ref.VariantID); err != nil {
			g.sendError(c, err)
		}

	case inGetVote:
		var ref messageRef
		if err := json.Unmarshal(f.Content, &ref); err != nil {
			g.sendError(c, apperr.Validation("content", "malformed request"))
			return
		}
		payload, err := g.svc.VoteState(userID, ref.MessageID)
		if err != nil {
			g.sendError(c, err)
			return
		}
		c.Send(notify.Frame{MessageType: notify.TypeVoteState, Payload: payload})

	case inSeeMessage:
		var ref messageRef
		if err := json.Unmarshal(f.Content, &ref); err != nil {
			g.sendError(c, apperr.Validation("content", "malformed request"))
			return
		}
		if err := g.svc.MarkSeen(userID, ref.MessageID); err != nil {
			g.sendError(c, err)
		}

	default:
		// Unknown inbound types are ignored without an error frame.
	}
}

func (g *Gateway) sendError(c *Client, err error) {
	c.Send(notify.Frame{
		MessageType: notify.TypeError,
		Payload:     notify.ErrorPayload{Error: apperr.From(err)},
	})
}
