// Package notify defines the transient notification envelope published over
// the broker and the frame shapes delivered to sockets. Nothing here is
// persisted.
package notify

import (
	"encoding/json"
	"time"

	"beacon-server/internal/apperr"
)

// Outbound frame discriminators.
const (
	TypeNewMessage     = "New message"
	TypeUpdatedMessage = "Updated message"
	TypeDeletedMessage = "Deleted message"
	TypeVoteState      = "Vote state"
	TypeError          = "ErrorWithMessage"
	TypePairMissed     = "Pair missed"
)

// Envelope is one broker fan-out event: which frame, for whom, with what
// payload. Every process's dispatcher receives it and delivers to whichever
// recipients hold a live connection there.
type Envelope struct {
	MessageType  string          `json:"MessageType"`
	RecipientIDs []string        `json:"RecipientIds"`
	Payload      json.RawMessage `json:"Payload"`
}

func NewEnvelope(messageType string, recipientIDs []string, payload interface{}) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, apperr.Unexpected(err)
	}
	return &Envelope{MessageType: messageType, RecipientIDs: recipientIDs, Payload: raw}, nil
}

// Frame is the outbound socket shape: the envelope minus its addressing.
type Frame struct {
	MessageType string      `json:"MessageType"`
	Payload     interface{} `json:"Payload"`
}

// AttachmentPayload mirrors one attachment's metadata.
type AttachmentPayload struct {
	ID       uint   `json:"id"`
	Type     string `json:"type"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
	FilePath string `json:"file_path"`
	MimeType string `json:"mime_type"`
}

// ReplyPreview carries enough of the reply target to render the quote without
// a further query.
type ReplyPreview struct {
	ID       uint   `json:"id"`
	AuthorID string `json:"author_id"`
	Content  string `json:"content"`
}

// MessagePayload is the denormalized new/updated message shape: receivers need
// no follow-up query to render it.
type MessagePayload struct {
	ID              uint                `json:"id"`
	ChannelID       string              `json:"channel_id"`
	ServerID        string              `json:"server_id"`
	AuthorID        string              `json:"author_id"`
	AuthorName      string              `json:"author_name,omitempty"`
	AuthorTag       string              `json:"author_tag,omitempty"`
	Content         string              `json:"content"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
	ReplyTo         *ReplyPreview       `json:"reply_to,omitempty"`
	NestedChannelID *string             `json:"nested_channel_id,omitempty"`
	Attachments     []AttachmentPayload `json:"attachments,omitempty"`
	Vote            *VotePayload        `json:"vote,omitempty"`
}

// DeletedMessagePayload announces a removal.
type DeletedMessagePayload struct {
	MessageID uint   `json:"message_id"`
	ChannelID string `json:"channel_id"`
	DeletedBy string `json:"deleted_by"`
}

// VotePayload is the current tally of a vote message. Voter ids are omitted
// for anonymous votes.
type VotePayload struct {
	MessageID   uint                 `json:"message_id"`
	Title       string               `json:"title"`
	Content     string               `json:"content,omitempty"`
	IsAnonymous bool                 `json:"is_anonymous"`
	Multiple    bool                 `json:"multiple"`
	Deadline    *time.Time           `json:"deadline,omitempty"`
	Variants    []VoteVariantPayload `json:"variants"`
}

type VoteVariantPayload struct {
	ID      uint     `json:"id"`
	Number  int      `json:"number"`
	Content string   `json:"content"`
	Count   int      `json:"count"`
	UserIDs []string `json:"user_ids,omitempty"`
}

// ErrorPayload is the targeted error frame, sent only to the requesting
// connection.
type ErrorPayload struct {
	Error *apperr.Error `json:"error"`
}

// PairMissedPayload tells a user their pair-voice call went unanswered. The
// voice service publishes it; this process only delivers it like any other
// fan-out event.
type PairMissedPayload struct {
	ChannelID string `json:"channel_id"`
	FromID    string `json:"from_id"`
	FromName  string `json:"from_name,omitempty"`
}
