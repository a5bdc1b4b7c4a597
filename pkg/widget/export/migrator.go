package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"docchat-client/internal/entity"
	"docchat-client/internal/pkg/logger"
	"docchat-client/pkg/events"
)

// SessionExportEvent wraps a session for hand-over to the visitor's account.
func SessionExportEvent(session entity.ChatSession, deviceId string) (events.BaseEvent, error) {
	raw, err := json.Marshal(session)
	if err != nil {
		return events.BaseEvent{}, fmt.Errorf("marshal session: %w", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		return events.BaseEvent{}, fmt.Errorf("marshal session: %w", err)
	}
	return events.BaseEvent{
		Type: events.TypeSessionExport,
		Data: map[string]interface{}{
			"device_id":     deviceId,
			"session_id":    session.Id.String(),
			"message_count": len(session.Messages),
			"session":       body,
		},
		OccurredAt: time.Now(),
	}, nil
}

// Migrator publishes the anonymous session when the visitor signs in.
type Migrator struct {
	publisher events.Publisher
	deviceId  string
	logger    logger.ILogger
}

func NewMigrator(publisher events.Publisher, deviceId string, log logger.ILogger) *Migrator {
	return &Migrator{publisher: publisher, deviceId: deviceId, logger: log}
}

func (m *Migrator) Migrate(ctx context.Context, session entity.ChatSession) error {
	event, err := SessionExportEvent(session, m.deviceId)
	if err != nil {
		return err
	}
	if err := m.publisher.Publish(ctx, event); err != nil {
		return err
	}
	m.logger.Info("SessionMigrator", "Session handed over", map[string]interface{}{
		"session_id": session.Id.String(),
		"messages":   len(session.Messages),
	})
	return nil
}
