package message

import (
	"time"

	"gorm.io/gorm"
)

type MessageKind string

const (
	KindClassic MessageKind = "classic"
	KindVote    MessageKind = "vote"
)

// Message is one entry in a channel's history. Classic messages carry text and
// attachments and may own a nested sub-channel; vote messages own a Vote.
type Message struct {
	gorm.Model
	ChannelID string `gorm:"index"`
	AuthorID  string `gorm:"index"`
	Kind      MessageKind
	Content   string

	ReplyToMessageID *uint
	ReplyToMessage   *Message `gorm:"foreignKey:ReplyToMessageID"`

	// NestedChannelID links the sub-channel spawned from this message. The
	// channel itself lives in the core service; only the reference is ours.
	NestedChannelID *string

	Attachments []Attachment `gorm:"constraint:OnDelete:CASCADE;"`
	Vote        *Vote        `gorm:"constraint:OnDelete:CASCADE;"`
}

type AttachmentType string

const (
	AttachmentTypeFile  AttachmentType = "file"
	AttachmentTypeImage AttachmentType = "image"
	AttachmentTypeVideo AttachmentType = "video"
	AttachmentTypeAudio AttachmentType = "audio"
)

// Attachment records file metadata; the bytes live in external object storage.
type Attachment struct {
	gorm.Model
	MessageID uint `gorm:"index"`
	Type      AttachmentType
	FileName  string
	FileSize  int64
	FilePath  string
	MimeType  string
}

type Vote struct {
	gorm.Model
	MessageID   uint `gorm:"index"`
	Title       string
	Content     string
	IsAnonymous bool
	Multiple    bool
	Deadline    *time.Time
	Variants    []VoteVariant `gorm:"constraint:OnDelete:CASCADE;"`
}

type VoteVariant struct {
	gorm.Model
	VoteID  uint `gorm:"index"`
	Number  int
	Content string
	Users   []VariantUser `gorm:"foreignKey:VariantID;constraint:OnDelete:CASCADE;"`
}

// VariantUser records one user's pick of one variant. For single-choice votes
// a user appears under at most one variant of the vote.
type VariantUser struct {
	gorm.Model
	VariantID uint   `gorm:"index"`
	UserID    string `gorm:"index"`
}

// SeenRecord marks a message read by a user.
type SeenRecord struct {
	gorm.Model
	MessageID uint   `gorm:"uniqueIndex:idx_seen"`
	UserID    string `gorm:"uniqueIndex:idx_seen"`
	ReadAt    time.Time
}
