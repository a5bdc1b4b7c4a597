package service

import (
	"context"
	"fmt"

	"docchat-client/internal/pkg/logger"
	"docchat-client/internal/repository/memory"
	"docchat-client/pkg/events"
	pktNats "docchat-client/pkg/nats" // Renamed to avoid collision
)

// EventSubscriber is the part of the NATS subscriber the migration service needs.
type EventSubscriber interface {
	Subscribe(ctx context.Context, subject string, durableName string, handler pktNats.EventHandler) error
}

// MigrationService receives session exports published by widgets after sign-in.
type MigrationService struct {
	repo       *memory.MigrationRepository
	subscriber EventSubscriber
	logger     logger.ILogger
}

func NewMigrationService(repo *memory.MigrationRepository, sub EventSubscriber, log logger.ILogger) *MigrationService {
	return &MigrationService{
		repo:       repo,
		subscriber: sub,
		logger:     log,
	}
}

// Start begins listening to the event bus.
func (s *MigrationService) Start(ctx context.Context) error {
	if s.subscriber == nil {
		s.logger.Warn("MigrationService", "No subscriber configured, session migration disabled", nil)
		return nil
	}
	subject := pktNats.Subject(events.TypeSessionExport)
	if err := s.subscriber.Subscribe(ctx, subject, "session-migration-worker", s.HandleEvent); err != nil {
		s.logger.Error("MigrationService", "Failed to start migration subscriber", map[string]interface{}{"error": err})
		return err
	}
	s.logger.Info("MigrationService", "Migration service started", map[string]interface{}{"subject": subject})
	return nil
}

// HandleEvent stores one session export. Malformed exports are acknowledged and dropped.
func (s *MigrationService) HandleEvent(ctx context.Context, event events.Event) error {
	if event.EventType() != events.TypeSessionExport {
		return nil
	}

	payload := event.Payload()
	deviceId, _ := payload["device_id"].(string)
	sessionId, _ := payload["session_id"].(string)
	session, _ := payload["session"].(map[string]interface{})
	if deviceId == "" || sessionId == "" || session == nil {
		s.logger.Warn("MigrationService", "Dropping incomplete session export", map[string]interface{}{"payload_keys": len(payload)})
		return nil
	}

	count := 0
	switch n := payload["message_count"].(type) {
	case float64:
		count = int(n)
	case int:
		count = n
	}

	s.repo.Add(deviceId, memory.MigratedSession{
		SessionId:    sessionId,
		MessageCount: count,
		ReceivedAt:   event.Timestamp(),
		Session:      session,
	})

	s.logger.Info("MigrationService", fmt.Sprintf("Session %s migrated", sessionId), map[string]interface{}{
		"device_id": deviceId,
		"messages":  count,
	})
	return nil
}

func (s *MigrationService) Migrations(deviceId string) []memory.MigratedSession {
	return s.repo.List(deviceId)
}
