package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"beacon-server/internal/apperr"
	"beacon-server/internal/broker"
	"beacon-server/internal/graph"
	"beacon-server/internal/message"
	"beacon-server/internal/notify"
)

type AttachmentInput struct {
	Type     string `json:"type"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
	FilePath string `json:"file_path"`
	MimeType string `json:"mime_type"`
}

type VoteInput struct {
	Title       string     `json:"title"`
	Content     string     `json:"content,omitempty"`
	IsAnonymous bool       `json:"is_anonymous"`
	Multiple    bool       `json:"multiple"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Variants    []string   `json:"variants"`
}

type CreateMessageRequest struct {
	ChannelID     string            `json:"channel_id"`
	Content       string            `json:"content"`
	ReplyToID     *uint             `json:"reply_to_id,omitempty"`
	NestedChannel bool              `json:"nested_channel,omitempty"`
	Attachments   []AttachmentInput `json:"attachments,omitempty"`
	Vote          *VoteInput        `json:"vote,omitempty"`
}

type UpdateMessageRequest struct {
	MessageID uint   `json:"message_id"`
	Content   string `json:"content"`
}

// nestedChannelRequest is the RPC payload asking the core service to create or
// delete a thread sub-channel.
type nestedChannelRequest struct {
	SubChannelID    string `json:"sub_channel_id"`
	ParentChannelID string `json:"parent_channel_id"`
	AuthorID        string `json:"author_id"`
}

// CreateMessage runs the full pipeline for a new message. Nothing is persisted
// until authorization and every remote dependency have succeeded.
func (s *Service) CreateMessage(ctx context.Context, userID string, req CreateMessageRequest) (*notify.MessagePayload, error) {
	kind, ok := s.graph.ChannelKind(req.ChannelID)
	if !ok {
		return nil, apperr.NotFound("channel")
	}

	switch kind {
	case graph.ChannelSub:
		if !s.graph.CanUse(userID, req.ChannelID) {
			return nil, apperr.Forbidden("channel", "no can-use edge to sub channel "+req.ChannelID)
		}
	case graph.ChannelText, graph.ChannelNotification:
		if !s.graph.CanWrite(userID, req.ChannelID) {
			return nil, apperr.Forbidden("channel", "no can-write edge to channel "+req.ChannelID)
		}
	default:
		return nil, apperr.Validation("channel", "channel kind does not accept messages")
	}

	if err := validateCreate(req, kind); err != nil {
		return nil, err
	}

	m := &message.Message{
		ChannelID: req.ChannelID,
		AuthorID:  userID,
		Kind:      message.KindClassic,
		Content:   strings.TrimSpace(req.Content),
	}

	if req.ReplyToID != nil {
		target, err := s.msgs.ReplyTarget(*req.ReplyToID, req.ChannelID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperr.NotFound("reply target")
			}
			return nil, apperr.Unexpected(err)
		}
		m.ReplyToMessageID = &target.ID
		m.ReplyToMessage = target
	}

	for _, a := range req.Attachments {
		m.Attachments = append(m.Attachments, message.Attachment{
			Type:     message.AttachmentType(a.Type),
			FileName: a.FileName,
			FileSize: a.FileSize,
			FilePath: a.FilePath,
			MimeType: a.MimeType,
		})
	}

	if req.Vote != nil {
		m.Kind = message.KindVote
		m.Vote = buildVote(req.Vote)
	}

	// The sub-channel belongs to the core service: it has to exist before the
	// message referencing it may be stored. An RPC failure aborts the whole
	// mutation.
	if req.NestedChannel {
		if !s.graph.CanWriteSub(userID, req.ChannelID) {
			return nil, apperr.Forbidden("nested_channel", "no can-write-sub edge to channel "+req.ChannelID)
		}

		subID := uuid.NewString()
		rpcReq := nestedChannelRequest{
			SubChannelID:    subID,
			ParentChannelID: req.ChannelID,
			AuthorID:        userID,
		}
		if err := s.rpc.Call(ctx, broker.QueueCreateNestedChannel, rpcReq, nil); err != nil {
			return nil, err
		}

		// Mirror the remote creation into the local graph cache. The remote
		// channel already exists, so a failed mirror write is logged rather
		// than aborting; it means a stale cache until the next rebuild.
		if err := s.graph.AddChannel(subID, graph.ChannelSub); err != nil {
			s.log.Error("mirroring sub channel", zap.String("sub_channel_id", subID), zap.Error(err))
		}
		if server := s.graph.ChannelServer(req.ChannelID); server != "" {
			if err := s.graph.AddEdge(graph.EdgeContainsChannel, server, subID); err != nil {
				s.log.Error("linking sub channel", zap.String("sub_channel_id", subID), zap.Error(err))
			}
		}
		m.NestedChannelID = &subID
	}

	if err := s.msgs.Create(m); err != nil {
		return nil, apperr.Unexpected(err)
	}

	payload := s.buildMessagePayload(m)
	s.publish(notify.TypeNewMessage, s.audience(m.ChannelID, m.Content), payload)
	return payload, nil
}

// UpdateMessage edits a message. Only the author may edit, and only while they
// still hold write access, so losing it revokes retroactive edits too.
func (s *Service) UpdateMessage(ctx context.Context, userID string, req UpdateMessageRequest) (*notify.MessagePayload, error) {
	m, err := s.msgs.ByID(req.MessageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("message")
		}
		return nil, apperr.Unexpected(err)
	}

	if m.AuthorID != userID {
		return nil, apperr.Forbidden("message", "not the author")
	}
	if !s.canWriteAny(userID, m.ChannelID) {
		return nil, apperr.Forbidden("channel", "write access revoked for channel "+m.ChannelID)
	}

	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, apperr.Validation("content", "message content cannot be empty")
	}

	m.Content = content
	if err := s.msgs.Update(m); err != nil {
		return nil, apperr.Unexpected(err)
	}

	payload := s.buildMessagePayload(m)
	s.publish(notify.TypeUpdatedMessage, s.audience(m.ChannelID, m.Content), payload)
	return payload, nil
}

// DeleteMessage removes a message. A nested sub-channel is torn down remotely
// before the deletion notification goes out.
func (s *Service) DeleteMessage(ctx context.Context, userID string, messageID uint) (*notify.DeletedMessagePayload, error) {
	m, err := s.msgs.ByID(messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("message")
		}
		return nil, apperr.Unexpected(err)
	}

	if m.AuthorID != userID {
		return nil, apperr.Forbidden("message", "not the author")
	}
	if !s.graph.CanSee(userID, m.ChannelID) {
		return nil, apperr.Forbidden("channel", "no visibility on channel "+m.ChannelID)
	}

	if m.NestedChannelID != nil {
		rpcReq := nestedChannelRequest{
			SubChannelID:    *m.NestedChannelID,
			ParentChannelID: m.ChannelID,
			AuthorID:        userID,
		}
		if err := s.rpc.Call(ctx, broker.QueueDeleteNestedChannel, rpcReq, nil); err != nil {
			return nil, err
		}
		if err := s.graph.RemoveVertex(*m.NestedChannelID); err != nil {
			s.log.Error("removing sub channel mirror", zap.String("sub_channel_id", *m.NestedChannelID), zap.Error(err))
		}
	}

	if err := s.msgs.Delete(m.ID); err != nil {
		return nil, apperr.Unexpected(err)
	}

	payload := &notify.DeletedMessagePayload{
		MessageID: m.ID,
		ChannelID: m.ChannelID,
		DeletedBy: userID,
	}
	s.publish(notify.TypeDeletedMessage, s.audience(m.ChannelID, ""), payload)
	return payload, nil
}

// MarkSeen records the requesting user has read the message. No fan-out.
func (s *Service) MarkSeen(userID string, messageID uint) error {
	m, err := s.msgs.ByID(messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("message")
		}
		return apperr.Unexpected(err)
	}

	if !s.graph.CanSee(userID, m.ChannelID) {
		return apperr.Forbidden("channel", "no visibility on channel "+m.ChannelID)
	}

	if err := s.msgs.MarkSeen(messageID, userID, time.Now()); err != nil {
		return apperr.Unexpected(err)
	}
	return nil
}

// History returns a channel's recent messages for users who can see it.
func (s *Service) History(userID, channelID string, limit int, beforeID uint) ([]*notify.MessagePayload, error) {
	if _, ok := s.graph.ChannelKind(channelID); !ok {
		return nil, apperr.NotFound("channel")
	}
	if !s.graph.CanSee(userID, channelID) {
		return nil, apperr.Forbidden("channel", "no visibility on channel "+channelID)
	}

	if limit <= 0 || limit > 100 {
		limit = 50
	}

	msgs, err := s.msgs.ListChannel(channelID, limit, beforeID)
	if err != nil {
		return nil, apperr.Unexpected(err)
	}

	payloads := make([]*notify.MessagePayload, 0, len(msgs))
	for i := range msgs {
		payloads = append(payloads, s.buildMessagePayload(&msgs[i]))
	}
	return payloads, nil
}

// canWriteAny accepts either the text-channel or the sub-channel write right,
// whichever the channel kind calls for.
func (s *Service) canWriteAny(userID, channelID string) bool {
	if kind, _ := s.graph.ChannelKind(channelID); kind == graph.ChannelSub {
		return s.graph.CanUse(userID, channelID)
	}
	return s.graph.CanWrite(userID, channelID)
}

func validateCreate(req CreateMessageRequest, kind graph.ChannelKind) error {
	if strings.TrimSpace(req.Content) == "" && len(req.Attachments) == 0 && req.Vote == nil {
		return apperr.Validation("content", "message content, attachments or a vote are required")
	}

	if req.NestedChannel && kind != graph.ChannelText {
		return apperr.Validation("nested_channel", "only text channels can spawn sub channels")
	}

	if req.Vote != nil {
		if strings.TrimSpace(req.Vote.Title) == "" {
			return apperr.Validation("vote.title", "vote title is required")
		}
		if len(req.Vote.Variants) < 2 {
			return apperr.Validation("vote.variants", "a vote needs at least two variants")
		}
	}

	return nil
}

func buildVote(in *VoteInput) *message.Vote {
	v := &message.Vote{
		Title:       in.Title,
		Content:     in.Content,
		IsAnonymous: in.IsAnonymous,
		Multiple:    in.Multiple,
		Deadline:    in.Deadline,
	}
	for i, content := range in.Variants {
		v.Variants = append(v.Variants, message.VoteVariant{Number: i + 1, Content: content})
	}
	return v
}
