package conversation

import (
	"testing"

	"github.com/matheus3301/meshphone/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	events []string
}

func (r *recorder) ConversationChanged(part, key string) {
	r.events = append(r.events, part+"@"+key)
}

func msg(id, from, to string, ts int64) domain.Message {
	return domain.Message{ID: id, SenderID: from, ReceiverID: to, Text: "t-" + id, Timestamp: ts}
}

func TestAppendNotifiesObservers(t *testing.T) {
	rec := &recorder{}
	s := New(rec)
	key := domain.ConversationKey("a", "b")

	s.Append("a", key, msg("m1", "a", "b", 1))
	assert.Equal(t, []string{"a@" + key}, rec.events)
	assert.Len(t, s.Messages("a", key), 1)
	assert.Empty(t, s.Messages("b", key), "append only touches its own partition")
}

func TestMergeIdempotent(t *testing.T) {
	s := New()
	key := domain.ConversationKey("a", "b")
	m := msg("m1", "a", "b", 10)

	assert.True(t, s.Merge("a", key, m))
	once := s.Messages("a", key)

	assert.False(t, s.Merge("a", key, m))
	assert.Equal(t, once, s.Messages("a", key))
}

func TestMergeDedupIgnoresContent(t *testing.T) {
	s := New()
	key := domain.ConversationKey("a", "b")
	s.Append("a", key, msg("m1", "a", "b", 10))

	changed := msg("m1", "a", "b", 99)
	changed.Text = "edited elsewhere"
	assert.False(t, s.Merge("a", key, changed))
	assert.Equal(t, "t-m1", s.Messages("a", key)[0].Text)
}

func TestMergeKeepsTimestampOrder(t *testing.T) {
	s := New()
	key := domain.ConversationKey("a", "b")
	s.Merge("a", key, msg("m3", "a", "b", 30))
	s.Merge("a", key, msg("m1", "a", "b", 10))
	s.Merge("a", key, msg("m2", "b", "a", 20))

	var ids []string
	for _, m := range s.Messages("a", key) {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids)
}

func TestDelete(t *testing.T) {
	rec := &recorder{}
	s := New(rec)
	key := domain.ConversationKey("a", "b")
	s.Append("a", key, msg("m1", "a", "b", 1))
	s.Append("a", key, msg("m2", "a", "b", 2))
	s.Append("a", key, msg("m3", "a", "b", 3))
	rec.events = nil

	assert.Equal(t, 2, s.Delete("a", key, []string{"m1", "m3", "missing"}))
	require.Len(t, s.Messages("a", key), 1)
	assert.Equal(t, "m2", s.Messages("a", key)[0].ID)
	assert.Len(t, rec.events, 1)

	assert.Equal(t, 0, s.Delete("a", key, []string{"m1"}))
	assert.Equal(t, 0, s.Delete("nobody", key, []string{"m2"}))
	assert.Len(t, rec.events, 1, "no-op deletes must not notify")
}

func TestClearIsOneSided(t *testing.T) {
	s := New()
	key := domain.ConversationKey("a", "b")
	m := msg("m1", "a", "b", 1)
	s.Append("a", key, m)
	s.Append("b", key, m)

	assert.Equal(t, 1, s.Clear("b", key))
	assert.Empty(t, s.Messages("b", key))
	assert.Len(t, s.Messages("a", key), 1)
}

func TestMarkRead(t *testing.T) {
	s := New()
	key := domain.ConversationKey("a", "b")
	s.Append("b", key, msg("m1", "a", "b", 1))
	s.Append("b", key, msg("m2", "b", "a", 2))
	s.Append("b", key, msg("m3", "a", "b", 3))

	assert.Equal(t, 2, s.MarkRead("b", key, "b"))
	assert.Equal(t, 0, s.MarkRead("b", key, "b"))
	for _, m := range s.Messages("b", key) {
		if m.ReceiverID == "b" {
			assert.True(t, m.Read)
		} else {
			assert.False(t, m.Read)
		}
	}
}

func TestSinceGroupsByKey(t *testing.T) {
	s := New()
	k1 := domain.ConversationKey("a", "b")
	k2 := domain.ConversationKey("a", "c")
	s.Append("a", k1, msg("old", "a", "b", 5))
	s.Append("a", k1, msg("new", "a", "b", 50))
	s.Append("a", k2, msg("c1", "c", "a", 60))

	got := s.Since("a", 10)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[k1][0].ID)
	assert.Equal(t, "c1", got[k2][0].ID)
	assert.Equal(t, []string{k1, k2}, s.Conversations("a"))
}

type memPersister struct {
	data map[string]map[string][]domain.Message
}

func (p *memPersister) SavePartition(id string, convs map[string][]domain.Message) error {
	p.data[id] = convs
	return nil
}

func (p *memPersister) LoadPartition(id string) (map[string][]domain.Message, error) {
	return p.data[id], nil
}

func TestSaveLoadPartition(t *testing.T) {
	p := &memPersister{data: map[string]map[string][]domain.Message{}}
	key := domain.ConversationKey("a", "b")

	src := New()
	src.Append("a", key, msg("m2", "a", "b", 2))
	src.Append("a", key, msg("m1", "a", "b", 1))
	require.NoError(t, src.Save("a", p))

	rec := &recorder{}
	dst := New(rec)
	require.NoError(t, dst.Load("a", p))
	assert.True(t, dst.HasPartition("a"))
	msgs := dst.Messages("a", key)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID, "loaded partitions are timestamp ordered")
	assert.Equal(t, []string{"a@" + key}, rec.events)
}
