package bootstrap

import (
	"docchat-client/internal/config"
	"docchat-client/internal/controller"
	"docchat-client/internal/pkg/logger"
	"docchat-client/internal/repository/memory"
	"docchat-client/internal/service"

	pktNats "docchat-client/pkg/nats"
)

// ServerContainer wires the development chat backend.
type ServerContainer struct {
	// Controllers
	ChatController       controller.IChatController
	CredentialController controller.ICredentialController

	// Background Services (Exposed for main.go to run)
	MigrationService *service.MigrationService

	subscriber *pktNats.Subscriber
}

// NewServerContainer builds the dev backend. withNats subscribes to session exports on NATS;
// a failed connection only disables migration intake.
func NewServerContainer(cfg *config.Config, log logger.ILogger, withNats bool) (*ServerContainer, error) {
	index, err := service.LoadPageIndex(cfg.Server.IndexPath)
	if err != nil {
		return nil, err
	}
	log.Info("Bootstrap", "Page index loaded", map[string]interface{}{"passages": index.Len(), "path": cfg.Server.IndexPath})

	c := &ServerContainer{}

	var sub service.EventSubscriber
	if withNats {
		natsSub, err := pktNats.NewSubscriber(cfg.App.NatsURL, log)
		if err != nil {
			log.Warn("Bootstrap", "Failed to connect to NATS Subscriber", map[string]interface{}{"error": err.Error()})
		} else {
			c.subscriber = natsSub
			sub = natsSub
		}
	}

	sessionRepo := memory.NewSessionRepository()
	migrationRepo := memory.NewMigrationRepository()

	credentialService := service.NewCredentialService(cfg.Server.JwtSecret, cfg.Server.CredentialTTL, log)
	chatService := service.NewChatService(index, sessionRepo, cfg.Server.StreamChunkDelay, log)
	c.MigrationService = service.NewMigrationService(migrationRepo, sub, log)

	c.ChatController = controller.NewChatController(chatService, cfg.Server.JwtSecret, log)
	c.CredentialController = controller.NewCredentialController(credentialService, c.MigrationService, cfg.Server.JwtSecret)

	return c, nil
}

func (c *ServerContainer) Close() {
	if c.subscriber != nil {
		c.subscriber.Close()
	}
}
