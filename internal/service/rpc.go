package service

import (
	"encoding/json"

	"beacon-server/internal/apperr"
)

// GetMessagesRequest is the payload of the message-history RPC queues. The
// caller has already authenticated the user; authorization against the graph
// happens here, where the history lives.
type GetMessagesRequest struct {
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
	Limit     int    `json:"limit,omitempty"`
	BeforeID  uint   `json:"before_id,omitempty"`
}

// HandleGetMessages serves the "Get messages" queue.
func (s *Service) HandleGetMessages(body []byte) (interface{}, error) {
	var req GetMessagesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, apperr.Validation("payload", err.Error())
	}

	return s.History(req.UserID, req.ChannelID, req.Limit, req.BeforeID)
}

// HandleGetChatMessages serves the "Get messages from chat" queue. Pair chats
// flow through the same history path; the queue name stays distinct because
// other services address it by its stable logical name.
func (s *Service) HandleGetChatMessages(body []byte) (interface{}, error) {
	return s.HandleGetMessages(body)
}
