package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat-client/internal/constant"
	"docchat-client/internal/entity"
	"docchat-client/internal/pkg/logger"
	"docchat-client/pkg/widget/chaterr"
	"docchat-client/pkg/widget/storage"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestStore(t *testing.T, backend storage.Backend) *Store {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	s := New(backend, logger.NewNopLogger(), WithClock(clock.now))
	require.NoError(t, s.Open(context.Background()))
	return s
}

func userMessage(content string) entity.ChatMessage {
	return entity.NewUserMessage(content, time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
}

func TestSaveMessageKeepsAppendOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, storage.NewMemoryBackend(0))

	session, err := s.CreateSession(ctx)
	require.NoError(t, err)

	first := userMessage("What is a goroutine?")
	reply := entity.NewAssistantMessage("A lightweight thread.", []entity.Citation{{Excerpt: "goroutines are cheap", Source: "Chapter 3"}}, time.Now())
	second := userMessage("And a channel?")
	for _, m := range []entity.ChatMessage{first, reply, second} {
		require.NoError(t, s.SaveMessage(ctx, session.Id, m))
	}

	current, ok := s.CurrentSession()
	require.True(t, ok)
	require.Len(t, current.Messages, 3)
	assert.Equal(t, first.Id, current.Messages[0].Id)
	assert.Equal(t, reply.Id, current.Messages[1].Id)
	assert.Equal(t, second.Id, current.Messages[2].Id)
	assert.True(t, current.UpdatedAt.After(current.CreatedAt))

	// copies handed out must not alias the store
	current.Messages[1].Citations[0].Excerpt = "mutated"
	again, _ := s.CurrentSession()
	assert.Equal(t, "goroutines are cheap", again.Messages[1].Citations[0].Excerpt)
}

func TestSaveMessageRejectsDuplicateAndInvalid(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, storage.NewMemoryBackend(0))
	session, err := s.CreateSession(ctx)
	require.NoError(t, err)

	m := userMessage("hello")
	require.NoError(t, s.SaveMessage(ctx, session.Id, m))
	assert.Error(t, s.SaveMessage(ctx, session.Id, m))

	bad := m
	bad.Id = uuid.New()
	bad.Role = 0
	assert.ErrorIs(t, s.SaveMessage(ctx, session.Id, bad), entity.ErrInvalidRole)
}

func TestSaveMessageRecreatesOnlyCurrentSession(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend(0)
	s := newTestStore(t, backend)

	session, err := s.CreateSession(ctx)
	require.NoError(t, err)

	// another widget instance wiped the sessions but left the pointer
	require.NoError(t, backend.Remove(ctx, constant.StorageKeySessions))

	require.NoError(t, s.SaveMessage(ctx, session.Id, userMessage("still here?")))
	current, ok := s.CurrentSession()
	require.True(t, ok)
	assert.Equal(t, session.Id, current.Id)
	assert.Len(t, current.Messages, 1)

	err = s.SaveMessage(ctx, uuid.New(), userMessage("orphan"))
	assert.ErrorIs(t, err, chaterr.ErrSessionNotFound)
	var sessionErr *chaterr.SessionError
	require.ErrorAs(t, err, &sessionErr)
	assert.Equal(t, "save", sessionErr.Op)
}

func TestLoadAndDeleteSession(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, storage.NewMemoryBackend(0))

	a, err := s.CreateSession(ctx)
	require.NoError(t, err)
	b, err := s.CreateSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, b.Id, s.CurrentSessionId())

	require.NoError(t, s.LoadSession(ctx, a.Id))
	assert.Equal(t, a.Id, s.CurrentSessionId())
	assert.ErrorIs(t, s.LoadSession(ctx, uuid.New()), chaterr.ErrSessionNotFound)

	// deleting a non-current session leaves the pointer alone
	require.NoError(t, s.DeleteSession(ctx, b.Id))
	assert.Equal(t, a.Id, s.CurrentSessionId())

	require.NoError(t, s.DeleteSession(ctx, a.Id))
	_, ok := s.CurrentSession()
	assert.False(t, ok)
	assert.Equal(t, uuid.Nil, s.CurrentSessionId())
	assert.Empty(t, s.Sessions())

	assert.ErrorIs(t, s.DeleteSession(ctx, a.Id), chaterr.ErrSessionNotFound)
}

func TestSessionsAreOrderedByCreation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, storage.NewMemoryBackend(0))

	var ids []uuid.UUID
	for i := 0; i < 4; i++ {
		session, err := s.CreateSession(ctx)
		require.NoError(t, err)
		ids = append(ids, session.Id)
	}

	sessions := s.Sessions()
	require.Len(t, sessions, 4)
	for i, session := range sessions {
		assert.Equal(t, ids[i], session.Id)
	}
}

func TestOpenRestoresPersistedState(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend(0)
	s := newTestStore(t, backend)

	session, err := s.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, s.SaveMessage(ctx, session.Id, userMessage("remember me")))

	reopened := newTestStore(t, backend)
	current, ok := reopened.CurrentSession()
	require.True(t, ok)
	assert.Equal(t, session.Id, current.Id)
	require.Len(t, current.Messages, 1)
	assert.Equal(t, "remember me", current.Messages[0].Content)
	assert.Equal(t, entity.RoleUser, current.Messages[0].Role)
}

func TestOpenWithCorruptDataStartsEmpty(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend(0)
	require.NoError(t, backend.Set(ctx, constant.StorageKeySessions, []byte("{not json")))

	s := New(backend, logger.NewNopLogger())
	require.Error(t, s.Open(ctx))
	assert.Empty(t, s.Sessions())

	// the store keeps working from memory
	_, err := s.CreateSession(ctx)
	require.NoError(t, err)
	assert.Len(t, s.Sessions(), 1)
}

func TestCreateSessionEvictsOldestWhenStorageIsFull(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend(0)
	s := newTestStore(t, backend)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		session, err := s.CreateSession(ctx)
		require.NoError(t, err)
		for j := 0; j < 3; j++ {
			require.NoError(t, s.SaveMessage(ctx, session.Id, userMessage("a question long enough to take up some room")))
		}
		ids = append(ids, session.Id)
	}
	backend.SetQuota(backend.Usage())

	created, err := s.CreateSession(ctx)
	require.NoError(t, err)

	sessions := s.Sessions()
	require.Len(t, sessions, 3)
	assert.Equal(t, ids[1], sessions[0].Id)
	assert.Equal(t, ids[2], sessions[1].Id)
	assert.Equal(t, created.Id, sessions[2].Id)
	assert.Equal(t, created.Id, s.CurrentSessionId())
	assert.True(t, s.Synced())

	raw, err := backend.Get(ctx, constant.StorageKeySessions)
	require.NoError(t, err)
	var persisted map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &persisted))
	assert.NotContains(t, persisted, ids[0].String())
	assert.Contains(t, persisted, created.Id.String())
}

func TestCreateSessionFailsWhenEvictionCannotFreeRoom(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend(0)
	s := newTestStore(t, backend)

	for i := 0; i < 3; i++ {
		_, err := s.CreateSession(ctx)
		require.NoError(t, err)
	}
	before, err := backend.Get(ctx, constant.StorageKeySessions)
	require.NoError(t, err)
	backend.SetQuota(8)

	created, err := s.CreateSession(ctx)
	require.ErrorIs(t, err, chaterr.ErrStorageQuotaExceeded)
	assert.False(t, s.Synced())

	// nothing reached storage, memory still has everything
	after, err := backend.Get(ctx, constant.StorageKeySessions)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.NotContains(t, string(after), created.Id.String())
	assert.Len(t, s.Sessions(), 4)
	assert.Equal(t, created.Id, s.CurrentSessionId())
}

func TestClearAllSessions(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend(0)
	s := newTestStore(t, backend)

	session, err := s.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, s.SaveMessage(ctx, session.Id, userMessage("bye")))

	require.NoError(t, s.ClearAllSessions(ctx))
	assert.Empty(t, s.Sessions())
	_, ok := s.CurrentSession()
	assert.False(t, ok)

	_, err = backend.Get(ctx, constant.StorageKeySessions)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = backend.Get(ctx, constant.StorageKeyCurrentSession)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
