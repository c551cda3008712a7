package service

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"beacon-server/internal/apperr"
	"beacon-server/internal/message"
	"beacon-server/internal/notify"
)

// CastVote records the user's pick and republishes the tally to the vote's
// audience. Single-choice votes reject a second pick until the first is
// retracted; casts after the deadline or against a deleted message fail.
func (s *Service) CastVote(userID string, variantID uint) (*notify.VotePayload, error) {
	m, err := s.authorizeVote(userID, variantID)
	if err != nil {
		return nil, err
	}

	vote, err := s.msgs.CastVote(userID, variantID, time.Now())
	if err != nil {
		switch {
		case errors.Is(err, message.ErrDeadlinePassed):
			return nil, apperr.Validation("vote", "the vote deadline has passed")
		case errors.Is(err, message.ErrAlreadyVoted):
			return nil, apperr.Validation("vote", "retract your current choice first")
		case errors.Is(err, gorm.ErrRecordNotFound):
			return nil, apperr.NotFound("vote variant")
		default:
			return nil, apperr.Unexpected(err)
		}
	}

	payload := buildVotePayload(m.ID, vote)
	s.publish(notify.TypeVoteState, s.audience(m.ChannelID, ""), payload)
	return payload, nil
}

// RetractVote removes the user's pick for the variant and republishes the
// tally.
func (s *Service) RetractVote(userID string, variantID uint) (*notify.VotePayload, error) {
	m, err := s.authorizeVote(userID, variantID)
	if err != nil {
		return nil, err
	}

	vote, err := s.msgs.RetractVote(userID, variantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("vote variant")
		}
		return nil, apperr.Unexpected(err)
	}

	payload := buildVotePayload(m.ID, vote)
	s.publish(notify.TypeVoteState, s.audience(m.ChannelID, ""), payload)
	return payload, nil
}

// VoteState returns the current tally to a user who can see the channel.
func (s *Service) VoteState(userID string, messageID uint) (*notify.VotePayload, error) {
	m, err := s.msgs.ByID(messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("message")
		}
		return nil, apperr.Unexpected(err)
	}

	if !s.graph.CanSee(userID, m.ChannelID) {
		return nil, apperr.Forbidden("channel", "no visibility on channel "+m.ChannelID)
	}
	if m.Vote == nil {
		return nil, apperr.NotFound("vote")
	}

	return buildVotePayload(m.ID, m.Vote), nil
}

// authorizeVote resolves the variant to its message and checks the caller can
// see the channel, before any vote state changes.
func (s *Service) authorizeVote(userID string, variantID uint) (*message.Message, error) {
	m, err := s.msgs.MessageByVariant(variantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("vote variant")
		}
		return nil, apperr.Unexpected(err)
	}

	if !s.graph.CanSee(userID, m.ChannelID) {
		return nil, apperr.Forbidden("channel", "no visibility on channel "+m.ChannelID)
	}
	return m, nil
}
