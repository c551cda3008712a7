package message

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

var (
	ErrDeadlinePassed = errors.New("vote deadline has passed")
	ErrAlreadyVoted   = errors.New("already voted for another variant")
)

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) (*Store, error) {
	err := db.AutoMigrate(&Message{}, &Attachment{}, &Vote{}, &VoteVariant{}, &VariantUser{}, &SeenRecord{})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Create(m *Message) error {
	return s.db.Create(m).Error
}

// ByID loads a message with its attachments, vote state and reply target.
// Soft-deleted messages are not found.
func (s *Store) ByID(id uint) (*Message, error) {
	var m Message
	err := s.db.
		Preload("Attachments").
		Preload("Vote.Variants.Users").
		Preload("ReplyToMessage").
		First(&m, id).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ReplyTarget resolves a reply reference within the same channel. Returns
// gorm.ErrRecordNotFound when the target is absent or lives elsewhere.
func (s *Store) ReplyTarget(id uint, channelID string) (*Message, error) {
	var m Message
	err := s.db.First(&m, "id = ? AND channel_id = ?", id, channelID).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) Update(m *Message) error {
	return s.db.Save(m).Error
}

// Delete soft-deletes the message; history fetches and vote casts treat it as
// gone from that point.
func (s *Store) Delete(id uint) error {
	return s.db.Delete(&Message{}, id).Error
}

// ListChannel returns the most recent messages of a channel, newest first.
func (s *Store) ListChannel(channelID string, limit int, beforeID uint) ([]Message, error) {
	q := s.db.
		Preload("Attachments").
		Preload("Vote.Variants.Users").
		Preload("ReplyToMessage").
		Where("channel_id = ?", channelID).
		Order("id DESC").
		Limit(limit)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}

	var msgs []Message
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// CastVote appends a VariantUser for the variant. The deadline check, the
// parent-message liveness check and the single-choice invariant all run inside
// one transaction. Casting the same variant twice is a no-op.
func (s *Store) CastVote(userID string, variantID uint, now time.Time) (*Vote, error) {
	var vote *Vote
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var variant VoteVariant
		if err := tx.First(&variant, variantID).Error; err != nil {
			return err
		}

		var v Vote
		if err := tx.First(&v, variant.VoteID).Error; err != nil {
			return err
		}
		if v.Deadline != nil && now.After(*v.Deadline) {
			return ErrDeadlinePassed
		}

		// Parent message must still exist (soft delete filters apply).
		var parent Message
		if err := tx.First(&parent, v.MessageID).Error; err != nil {
			return err
		}

		var existing []VariantUser
		err := tx.
			Joins("JOIN vote_variants ON vote_variants.id = variant_users.variant_id").
			Where("vote_variants.vote_id = ? AND variant_users.user_id = ?", v.ID, userID).
			Find(&existing).Error
		if err != nil {
			return err
		}

		for _, e := range existing {
			if e.VariantID == variantID {
				return nil // already counted
			}
		}
		if len(existing) > 0 && !v.Multiple {
			return ErrAlreadyVoted
		}

		if err := tx.Create(&VariantUser{VariantID: variantID, UserID: userID}).Error; err != nil {
			return err
		}

		var full Vote
		if err := tx.Preload("Variants.Users").First(&full, v.ID).Error; err != nil {
			return err
		}
		vote = &full
		return nil
	})
	if err != nil {
		return nil, err
	}

	if vote == nil {
		// Same-variant repeat cast: return the unchanged tally.
		var variant VoteVariant
		if err := s.db.First(&variant, variantID).Error; err != nil {
			return nil, err
		}
		var v Vote
		if err := s.db.Preload("Variants.Users").First(&v, variant.VoteID).Error; err != nil {
			return nil, err
		}
		vote = &v
	}
	return vote, nil
}

// RetractVote removes the user's record for the variant; absent records are a
// no-op.
func (s *Store) RetractVote(userID string, variantID uint) (*Vote, error) {
	var variant VoteVariant
	if err := s.db.First(&variant, variantID).Error; err != nil {
		return nil, err
	}

	err := s.db.Unscoped().
		Delete(&VariantUser{}, "variant_id = ? AND user_id = ?", variantID, userID).Error
	if err != nil {
		return nil, err
	}

	var v Vote
	if err := s.db.Preload("Variants.Users").First(&v, variant.VoteID).Error; err != nil {
		return nil, err
	}
	return &v, nil
}

// MessageByVariant resolves a variant id up to its owning message, used to
// authorize a vote cast before anything is written.
func (s *Store) MessageByVariant(variantID uint) (*Message, error) {
	var variant VoteVariant
	if err := s.db.First(&variant, variantID).Error; err != nil {
		return nil, err
	}

	var v Vote
	if err := s.db.First(&v, variant.VoteID).Error; err != nil {
		return nil, err
	}

	return s.ByID(v.MessageID)
}

// MarkSeen records that the user has read the message. Marking twice is a
// no-op.
func (s *Store) MarkSeen(messageID uint, userID string, at time.Time) error {
	var existing SeenRecord
	err := s.db.First(&existing, "message_id = ? AND user_id = ?", messageID, userID).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	return s.db.Create(&SeenRecord{MessageID: messageID, UserID: userID, ReadAt: at}).Error
}

// VoteByMessage loads the vote owned by a message with its full tally.
func (s *Store) VoteByMessage(messageID uint) (*Vote, error) {
	var v Vote
	err := s.db.Preload("Variants.Users").First(&v, "message_id = ?", messageID).Error
	if err != nil {
		return nil, err
	}
	return &v, nil
}
