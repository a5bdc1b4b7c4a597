package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"docchat-client/internal/constant"
	"docchat-client/pkg/widget/limit"
	"docchat-client/pkg/widget/storage"
)

// keep the migrated list bounded, oldest ids drop first
const maxMigratedSessions = 100

// PersistedState is what the controller needs to pick up where the last process stopped.
type PersistedState struct {
	Limit         limit.State `json:"limit"`
	SessionId     uuid.UUID   `json:"session_id"`
	Authenticated bool        `json:"authenticated"`
	Migrated      []uuid.UUID `json:"migrated,omitempty"`
}

type StateStore interface {
	LoadState(ctx context.Context) (PersistedState, bool, error)
	SaveState(ctx context.Context, st PersistedState) error
}

// BackendState keeps PersistedState under its own key next to the sessions.
type BackendState struct {
	backend storage.Backend
}

var _ StateStore = &BackendState{}

func NewBackendState(backend storage.Backend) *BackendState {
	return &BackendState{backend: backend}
}

func (s *BackendState) LoadState(ctx context.Context) (PersistedState, bool, error) {
	data, err := s.backend.Get(ctx, constant.StorageKeyWidgetState)
	if errors.Is(err, storage.ErrNotFound) {
		return PersistedState{}, false, nil
	}
	if err != nil {
		return PersistedState{}, false, err
	}
	var st PersistedState
	if err := json.Unmarshal(data, &st); err != nil {
		return PersistedState{}, false, fmt.Errorf("decode widget state: %w", err)
	}
	return st, true, nil
}

func (s *BackendState) SaveState(ctx context.Context, st PersistedState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.backend.Set(ctx, constant.StorageKeyWidgetState, data)
}
