package message

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beacon-server/internal/db"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	conn, err := db.OpenMemory(strings.ReplaceAll(t.Name(), "/", "_"))
	require.NoError(t, err)
	s, err := NewStore(conn)
	require.NoError(t, err)
	return s
}

func TestListChannelSkipsDeleted(t *testing.T) {
	s := newStore(t)

	keep := &Message{ChannelID: "ch", AuthorID: "a", Kind: KindClassic, Content: "keep"}
	drop := &Message{ChannelID: "ch", AuthorID: "a", Kind: KindClassic, Content: "drop"}
	require.NoError(t, s.Create(keep))
	require.NoError(t, s.Create(drop))
	require.NoError(t, s.Delete(drop.ID))

	msgs, err := s.ListChannel("ch", 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "keep", msgs[0].Content)

	_, err = s.ByID(drop.ID)
	assert.Error(t, err)
}

func TestReplyTargetScopedToChannel(t *testing.T) {
	s := newStore(t)

	m := &Message{ChannelID: "ch-a", AuthorID: "a", Kind: KindClassic, Content: "root"}
	require.NoError(t, s.Create(m))

	got, err := s.ReplyTarget(m.ID, "ch-a")
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)

	_, err = s.ReplyTarget(m.ID, "ch-b")
	assert.Error(t, err, "reply targets do not cross channels")
}

func TestCastVoteSameVariantTwice(t *testing.T) {
	s := newStore(t)

	m := &Message{
		ChannelID: "ch",
		AuthorID:  "a",
		Kind:      KindVote,
		Vote: &Vote{
			Title: "t",
			Variants: []VoteVariant{
				{Number: 1, Content: "x"},
				{Number: 2, Content: "y"},
			},
		},
	}
	require.NoError(t, s.Create(m))
	variantID := m.Vote.Variants[0].ID

	now := time.Now()
	first, err := s.CastVote("u1", variantID, now)
	require.NoError(t, err)
	require.Len(t, first.Variants[0].Users, 1)

	// Repeat cast of the same variant leaves the tally unchanged.
	second, err := s.CastVote("u1", variantID, now)
	require.NoError(t, err)
	assert.Len(t, second.Variants[0].Users, 1)
}

func TestRetractAbsentVoteIsNoOp(t *testing.T) {
	s := newStore(t)

	m := &Message{
		ChannelID: "ch",
		AuthorID:  "a",
		Kind:      KindVote,
		Vote: &Vote{
			Title: "t",
			Variants: []VoteVariant{
				{Number: 1, Content: "x"},
				{Number: 2, Content: "y"},
			},
		},
	}
	require.NoError(t, s.Create(m))

	vote, err := s.RetractVote("u1", m.Vote.Variants[0].ID)
	require.NoError(t, err)
	assert.Empty(t, vote.Variants[0].Users)
}

func TestVoteByMessage(t *testing.T) {
	s := newStore(t)

	m := &Message{
		ChannelID: "ch",
		AuthorID:  "a",
		Kind:      KindVote,
		Vote: &Vote{
			Title: "t",
			Variants: []VoteVariant{
				{Number: 1, Content: "x"},
				{Number: 2, Content: "y"},
			},
		},
	}
	require.NoError(t, s.Create(m))
	require.NoError(t, s.Delete(m.ID))

	// The tally survives the soft delete for audit reads.
	v, err := s.VoteByMessage(m.ID)
	require.NoError(t, err)
	assert.Equal(t, "t", v.Title)

	// But resolving through the variant respects the deletion.
	_, err = s.MessageByVariant(m.Vote.Variants[0].ID)
	assert.Error(t, err)
}
