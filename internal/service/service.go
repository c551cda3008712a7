// Package service implements the mutation pipeline: authorize against the
// permission graph, resolve remote dependencies, persist, compute the
// audience, publish the fan-out event.
package service

import (
	"context"

	"go.uber.org/zap"

	"beacon-server/internal/graph"
	"beacon-server/internal/message"
	"beacon-server/internal/metrics"
	"beacon-server/internal/notify"
	"beacon-server/internal/user"
)

// Publisher is the fire-and-forget side of the broker client.
type Publisher interface {
	Publish(v interface{}) error
}

// Caller is the request/reply side of the broker client.
type Caller interface {
	Call(ctx context.Context, queue string, req, resp interface{}) error
}

type Service struct {
	msgs  *message.Store
	users *user.Store
	graph *graph.Graph
	pub   Publisher
	rpc   Caller
	log   *zap.Logger
}

func New(msgs *message.Store, users *user.Store, g *graph.Graph, pub Publisher, rpc Caller, log *zap.Logger) *Service {
	return &Service{msgs: msgs, users: users, graph: g, pub: pub, rpc: rpc, log: log}
}

// publish fans one notification kind out to the deduplicated recipient set.
// The write already succeeded by the time this runs, so broker failures are
// logged and swallowed; the state is independently readable on next fetch.
func (s *Service) publish(messageType string, recipientIDs []string, payload interface{}) {
	if len(recipientIDs) == 0 {
		return
	}

	env, err := notify.NewEnvelope(messageType, recipientIDs, payload)
	if err != nil {
		s.log.Error("building notification envelope", zap.Error(err))
		return
	}

	if err := s.pub.Publish(env); err != nil {
		s.log.Error("publishing notification", zap.String("type", messageType), zap.Error(err))
		return
	}
	metrics.AddNotificationsPublished(1)
}

// audience computes the union of the channel's recipients and the mention
// targets entitled to a notification, deduplicated before publish.
func (s *Service) audience(channelID, text string) []string {
	recipients := s.graph.Recipients(channelID)

	userTags, roleTags := ExtractMentions(text)
	userIDs := s.resolveUserTags(userTags)
	roleIDs := s.resolveRoleTags(roleTags)

	set := make(map[string]struct{}, len(recipients))
	for _, id := range recipients {
		set[id] = struct{}{}
	}
	for _, id := range s.graph.NotifiableRecipients(channelID, userIDs, roleIDs) {
		set[id] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// resolveUserTags maps mention tags to user ids, dropping unknown tags and
// users who turned notifications off.
func (s *Service) resolveUserTags(tags []string) []string {
	ids := make([]string, 0, len(tags))
	for _, tag := range tags {
		u, err := s.users.ByTag(tag)
		if err != nil {
			s.log.Error("resolving user tag", zap.String("tag", tag), zap.Error(err))
			continue
		}
		if u == nil || !u.NotificationsEnabled {
			continue
		}
		ids = append(ids, u.ID)
	}
	return ids
}

func (s *Service) resolveRoleTags(tags []string) []string {
	ids := make([]string, 0, len(tags))
	for _, tag := range tags {
		r, err := s.users.RoleByTag(tag)
		if err != nil {
			s.log.Error("resolving role tag", zap.String("tag", tag), zap.Error(err))
			continue
		}
		if r == nil {
			continue
		}
		ids = append(ids, r.ID)
	}
	return ids
}

func (s *Service) buildMessagePayload(m *message.Message) *notify.MessagePayload {
	p := &notify.MessagePayload{
		ID:              m.ID,
		ChannelID:       m.ChannelID,
		ServerID:        s.graph.ChannelServer(m.ChannelID),
		AuthorID:        m.AuthorID,
		Content:         m.Content,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
		NestedChannelID: m.NestedChannelID,
	}

	if author, err := s.users.ByID(m.AuthorID); err == nil && author != nil {
		p.AuthorName = author.Username
		p.AuthorTag = author.Tag
	}

	if m.ReplyToMessage != nil {
		p.ReplyTo = &notify.ReplyPreview{
			ID:       m.ReplyToMessage.ID,
			AuthorID: m.ReplyToMessage.AuthorID,
			Content:  m.ReplyToMessage.Content,
		}
	}

	for _, a := range m.Attachments {
		p.Attachments = append(p.Attachments, notify.AttachmentPayload{
			ID:       a.ID,
			Type:     string(a.Type),
			FileName: a.FileName,
			FileSize: a.FileSize,
			FilePath: a.FilePath,
			MimeType: a.MimeType,
		})
	}

	if m.Vote != nil {
		p.Vote = buildVotePayload(m.ID, m.Vote)
	}

	return p
}

// buildVotePayload renders the current tally. Voter ids stay server-side for
// anonymous votes.
func buildVotePayload(messageID uint, v *message.Vote) *notify.VotePayload {
	p := &notify.VotePayload{
		MessageID:   messageID,
		Title:       v.Title,
		Content:     v.Content,
		IsAnonymous: v.IsAnonymous,
		Multiple:    v.Multiple,
		Deadline:    v.Deadline,
	}

	for _, variant := range v.Variants {
		vp := notify.VoteVariantPayload{
			ID:      variant.ID,
			Number:  variant.Number,
			Content: variant.Content,
			Count:   len(variant.Users),
		}
		if !v.IsAnonymous {
			for _, vu := range variant.Users {
				vp.UserIDs = append(vp.UserIDs, vu.UserID)
			}
		}
		p.Variants = append(p.Variants, vp)
	}

	return p
}
