package memory

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// MigratedSession is a session export received from a widget after sign-in.
type MigratedSession struct {
	SessionId    string                 `json:"session_id"`
	MessageCount int                    `json:"message_count"`
	ReceivedAt   time.Time              `json:"received_at"`
	Session      map[string]interface{} `json:"session"`
}

// MigrationRepository keeps received exports per device for a day.
type MigrationRepository struct {
	cache *cache.Cache
	mu    sync.Mutex
}

func NewMigrationRepository() *MigrationRepository {
	return &MigrationRepository{cache: cache.New(24*time.Hour, time.Hour)}
}

// Add stores an export, replacing an earlier export of the same session.
func (r *MigrationRepository) Add(deviceId string, m MigratedSession) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.listLocked(deviceId)
	out := make([]MigratedSession, 0, len(list)+1)
	for _, existing := range list {
		if existing.SessionId != m.SessionId {
			out = append(out, existing)
		}
	}
	out = append(out, m)
	r.cache.Set(deviceId, out, cache.DefaultExpiration)
}

func (r *MigrationRepository) List(deviceId string) []MigratedSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.listLocked(deviceId)
	return append([]MigratedSession(nil), list...)
}

func (r *MigrationRepository) listLocked(deviceId string) []MigratedSession {
	if x, found := r.cache.Get(deviceId); found {
		return x.([]MigratedSession)
	}
	return nil
}
