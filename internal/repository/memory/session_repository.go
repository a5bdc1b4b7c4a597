package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// Conversation is the dev backend's view of one widget chat session.
type Conversation struct {
	SessionId uuid.UUID
	DeviceId  string
	Turns     int
	LastAsked time.Time
}

type SessionRepository struct {
	cache *cache.Cache
	mu    sync.Mutex
}

func NewSessionRepository() *SessionRepository {
	// Create a cache with a default expiration time of 1 hour, and which
	// purges expired items every 10 minutes
	c := cache.New(1*time.Hour, 10*time.Minute)
	return &SessionRepository{
		cache: c,
	}
}

// Touch records a turn for the session and binds it to deviceId on first use.
// It returns false when the session already belongs to another device.
func (r *SessionRepository) Touch(sessionId uuid.UUID, deviceId string, at time.Time) (Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv := Conversation{SessionId: sessionId, DeviceId: deviceId}
	if x, found := r.cache.Get(sessionId.String()); found {
		conv = x.(Conversation)
		if conv.DeviceId != deviceId {
			return conv, false
		}
	}
	conv.Turns++
	conv.LastAsked = at
	r.cache.Set(sessionId.String(), conv, cache.DefaultExpiration)
	return conv, true
}

func (r *SessionRepository) Get(sessionId uuid.UUID) (Conversation, bool) {
	if x, found := r.cache.Get(sessionId.String()); found {
		return x.(Conversation), true
	}
	return Conversation{}, false
}

func (r *SessionRepository) Delete(sessionId uuid.UUID) {
	r.cache.Delete(sessionId.String())
}
