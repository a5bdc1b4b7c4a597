// Package store keeps the visitor's chat sessions and the current-session pointer,
// persisted through a storage.Backend so a page reload recovers the conversation.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"docchat-client/internal/constant"
	"docchat-client/internal/entity"
	"docchat-client/internal/pkg/logger"
	"docchat-client/pkg/widget/chaterr"
	"docchat-client/pkg/widget/storage"
)

const logModule = "SessionStore"

type Option func(*Store)

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store owns every ChatSession and ChatMessage; callers only ever receive copies.
// Writes are read-modify-write against the persisted copy, so the last writer wins
// when several widget instances share one backend.
type Store struct {
	mu      sync.Mutex
	backend storage.Backend
	logger  logger.ILogger
	now     func() time.Time

	state *snapshot
	// unsynced is set after a failed write: memory then holds the only complete copy
	// and later writes start from it instead of the stale persisted one.
	unsynced bool
}

func New(backend storage.Backend, log logger.ILogger, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		logger:  log,
		now:     time.Now,
		state:   newSnapshot(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open loads the persisted state. A store that fails to open starts empty and keeps
// working in memory.
func (s *Store) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load(ctx)
	if err != nil {
		s.logger.Warn(logModule, "Failed to load persisted sessions, starting empty", map[string]interface{}{"error": err.Error()})
		s.state = newSnapshot()
		s.unsynced = true
		return fmt.Errorf("load sessions: %w", err)
	}
	s.state = st
	s.unsynced = false
	s.logger.Info(logModule, "Sessions loaded", map[string]interface{}{
		"sessions": len(st.sessions),
		"current":  st.current.String(),
	})
	return nil
}

// CreateSession allocates an empty session and makes it current. On
// ErrStorageQuotaExceeded the session still exists in memory but was not persisted.
func (s *Store) CreateSession(ctx context.Context) (entity.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := entity.NewChatSession(s.now())
	err := s.commit(ctx, session.Id, func(st *snapshot) error {
		created := session.Clone()
		st.sessions[session.Id] = &created
		st.current = session.Id
		return nil
	})
	if err != nil {
		s.logger.Warn(logModule, "Session created but not persisted", map[string]interface{}{
			"session_id": session.Id.String(),
			"error":      err.Error(),
		})
		return session, err
	}
	s.logger.Info(logModule, "Session created", map[string]interface{}{"session_id": session.Id.String()})
	return session, nil
}

// SaveMessage appends message to the session. A missing session is recreated only when
// sessionId is the current pointer; otherwise ErrSessionNotFound is returned.
func (s *Store) SaveMessage(ctx context.Context, sessionId uuid.UUID, message entity.ChatMessage) error {
	if err := message.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	return s.commit(ctx, sessionId, func(st *snapshot) error {
		session, ok := st.sessions[sessionId]
		if !ok {
			if sessionId == uuid.Nil || sessionId != st.current {
				return &chaterr.SessionError{SessionId: sessionId.String(), Op: "save", Err: chaterr.ErrSessionNotFound}
			}
			session = &entity.ChatSession{Id: sessionId, CreatedAt: now, UpdatedAt: now, Messages: []entity.ChatMessage{}}
			st.sessions[sessionId] = session
			s.logger.Info(logModule, "Current session recreated on demand", map[string]interface{}{"session_id": sessionId.String()})
		}
		for _, existing := range session.Messages {
			if existing.Id == message.Id {
				return fmt.Errorf("message %s already exists in session %s", message.Id, sessionId)
			}
		}
		session.Messages = append(session.Messages, message.Clone())
		session.UpdatedAt = now
		return nil
	})
}

func (s *Store) DeleteSession(ctx context.Context, sessionId uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.commit(ctx, uuid.Nil, func(st *snapshot) error {
		if _, ok := st.sessions[sessionId]; !ok {
			return &chaterr.SessionError{SessionId: sessionId.String(), Op: "delete", Err: chaterr.ErrSessionNotFound}
		}
		delete(st.sessions, sessionId)
		if st.current == sessionId {
			st.current = uuid.Nil
		}
		return nil
	})
	if err == nil {
		s.logger.Info(logModule, "Session deleted", map[string]interface{}{"session_id": sessionId.String()})
	}
	return err
}

// LoadSession makes an existing session current.
func (s *Store) LoadSession(ctx context.Context, sessionId uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.commit(ctx, sessionId, func(st *snapshot) error {
		if _, ok := st.sessions[sessionId]; !ok {
			return &chaterr.SessionError{SessionId: sessionId.String(), Op: "load", Err: chaterr.ErrSessionNotFound}
		}
		st.current = sessionId
		return nil
	})
}

// ClearAllSessions removes every session and the current pointer, in memory and persisted.
func (s *Store) ClearAllSessions(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = newSnapshot()
	s.unsynced = false

	var errs []error
	for _, key := range []string{constant.StorageKeySessions, constant.StorageKeyCurrentSession} {
		if err := s.backend.Remove(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		s.unsynced = true
		s.logger.Error(logModule, "Failed to clear persisted sessions", map[string]interface{}{"error": err})
		return err
	}
	s.logger.Info(logModule, "All sessions cleared", nil)
	return nil
}

// Sessions returns copies of all sessions in creation order.
func (s *Store) Sessions() []entity.ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	ordered := s.state.ordered()
	out := make([]entity.ChatSession, len(ordered))
	for i, session := range ordered {
		out[i] = session.Clone()
	}
	return out
}

// CurrentSession returns a copy of the current session, if there is one.
func (s *Store) CurrentSession() (entity.ChatSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.state.sessions[s.state.current]
	if !ok {
		return entity.ChatSession{}, false
	}
	return session.Clone(), true
}

// CurrentSessionId returns the current pointer even if its session is gone.
func (s *Store) CurrentSessionId() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.current
}

func (s *Store) Session(sessionId uuid.UUID) (entity.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.state.sessions[sessionId]
	if !ok {
		return entity.ChatSession{}, &chaterr.SessionError{SessionId: sessionId.String(), Op: "read", Err: chaterr.ErrSessionNotFound}
	}
	return session.Clone(), nil
}

// Synced reports whether the persisted copy matches memory.
func (s *Store) Synced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.unsynced
}

// commit applies mutate to the freshest state and persists it. target is the session
// the write is about; it is never evicted to make room.
func (s *Store) commit(ctx context.Context, target uuid.UUID, mutate func(*snapshot) error) error {
	st := s.readState(ctx)
	if err := mutate(st); err != nil {
		return err
	}

	persisted, evicted, err := s.persist(ctx, st, target)
	if err != nil {
		s.state = st
		s.unsynced = true
		s.logger.Error(logModule, "Failed to persist sessions, keeping them in memory", map[string]interface{}{"error": err})
		return err
	}
	for _, id := range evicted {
		s.logger.Warn(logModule, "Session evicted to free storage", map[string]interface{}{"session_id": id.String()})
	}
	s.state = persisted
	s.unsynced = false
	return nil
}

func (s *Store) readState(ctx context.Context) *snapshot {
	if s.unsynced {
		return s.state.clone()
	}
	st, err := s.load(ctx)
	if err != nil {
		s.logger.Warn(logModule, "Persisted sessions unreadable, using memory copy", map[string]interface{}{"error": err.Error()})
		return s.state.clone()
	}
	return st
}

func (s *Store) persist(ctx context.Context, st *snapshot, target uuid.UUID) (*snapshot, []uuid.UUID, error) {
	work := st.clone()
	var evicted []uuid.UUID

	for {
		data, err := work.encode()
		if err != nil {
			return nil, nil, err
		}
		err = s.backend.Set(ctx, constant.StorageKeySessions, data)
		if err == nil {
			break
		}
		if !errors.Is(err, storage.ErrQuotaExceeded) {
			return nil, nil, err
		}
		victim, ok := work.oldestExcept(target)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %v", chaterr.ErrStorageQuotaExceeded, err)
		}
		delete(work.sessions, victim)
		if work.current == victim {
			work.current = uuid.Nil
		}
		evicted = append(evicted, victim)
	}

	var err error
	if work.current == uuid.Nil {
		err = s.backend.Remove(ctx, constant.StorageKeyCurrentSession)
	} else {
		var data []byte
		data, err = json.Marshal(work.current.String())
		if err == nil {
			err = s.backend.Set(ctx, constant.StorageKeyCurrentSession, data)
		}
	}
	if errors.Is(err, storage.ErrQuotaExceeded) {
		err = fmt.Errorf("%w: %v", chaterr.ErrStorageQuotaExceeded, err)
	}
	if err != nil {
		return nil, nil, err
	}
	return work, evicted, nil
}

func (s *Store) load(ctx context.Context) (*snapshot, error) {
	st := newSnapshot()

	data, err := s.backend.Get(ctx, constant.StorageKeySessions)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		if err := st.decode(data); err != nil {
			return nil, err
		}
	}

	data, err = s.backend.Get(ctx, constant.StorageKeyCurrentSession)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode current session pointer: %w", err)
		}
		if raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				return nil, fmt.Errorf("decode current session pointer: %w", err)
			}
			st.current = id
		}
	}
	return st, nil
}

type snapshot struct {
	sessions map[uuid.UUID]*entity.ChatSession
	current  uuid.UUID
}

// persistedSession is the stored value; the session id is the map key.
type persistedSession struct {
	CreatedAt time.Time            `json:"createdAt"`
	UpdatedAt time.Time            `json:"updatedAt"`
	Messages  []entity.ChatMessage `json:"messages"`
}

func newSnapshot() *snapshot {
	return &snapshot{sessions: map[uuid.UUID]*entity.ChatSession{}}
}

func (st *snapshot) clone() *snapshot {
	out := &snapshot{sessions: make(map[uuid.UUID]*entity.ChatSession, len(st.sessions)), current: st.current}
	for id, session := range st.sessions {
		c := session.Clone()
		out.sessions[id] = &c
	}
	return out
}

func (st *snapshot) ordered() []*entity.ChatSession {
	out := make([]*entity.ChatSession, 0, len(st.sessions))
	for _, session := range st.sessions {
		out = append(out, session)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Id.String() < out[j].Id.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (st *snapshot) oldestExcept(keep uuid.UUID) (uuid.UUID, bool) {
	for _, session := range st.ordered() {
		if session.Id != keep {
			return session.Id, true
		}
	}
	return uuid.Nil, false
}

func (st *snapshot) encode() ([]byte, error) {
	payload := make(map[string]persistedSession, len(st.sessions))
	for id, session := range st.sessions {
		payload[id.String()] = persistedSession{
			CreatedAt: session.CreatedAt,
			UpdatedAt: session.UpdatedAt,
			Messages:  session.Messages,
		}
	}
	return json.Marshal(payload)
}

func (st *snapshot) decode(data []byte) error {
	var payload map[string]persistedSession
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("decode sessions: %w", err)
	}
	for rawId, record := range payload {
		id, err := uuid.Parse(rawId)
		if err != nil {
			return fmt.Errorf("decode sessions: bad session id %q: %w", rawId, err)
		}
		messages := record.Messages
		if messages == nil {
			messages = []entity.ChatMessage{}
		}
		st.sessions[id] = &entity.ChatSession{
			Id:        id,
			CreatedAt: record.CreatedAt,
			UpdatedAt: record.UpdatedAt,
			Messages:  messages,
		}
	}
	return nil
}
