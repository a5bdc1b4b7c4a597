package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"docchat-client/internal/config"
	"docchat-client/internal/constant"
	"docchat-client/internal/pkg/logger"
	"docchat-client/pkg/events"
	"docchat-client/pkg/widget/controller"
	"docchat-client/pkg/widget/credential"
	"docchat-client/pkg/widget/export"
	"docchat-client/pkg/widget/limit"
	"docchat-client/pkg/widget/notify"
	"docchat-client/pkg/widget/selection"
	"docchat-client/pkg/widget/storage"
	"docchat-client/pkg/widget/store"
	"docchat-client/pkg/widget/transport"

	pktNats "docchat-client/pkg/nats"

	"github.com/google/uuid"
)

const redisKeyPrefix = "docchat"

// WidgetContainer holds one fully wired chat widget.
type WidgetContainer struct {
	DeviceId    string
	Storage     storage.Backend
	Store       *store.Store
	Credentials *credential.Client
	Backend     *transport.HTTPBackend
	Selection   *selection.Tracker
	Counter     *limit.Counter
	Notifier    *notify.Notifier
	Controller  *controller.Controller

	// NatsPublisher is nil unless session migration goes over NATS.
	NatsPublisher *pktNats.Publisher

	closers []func()
}

// WidgetOptions are the host-page inputs that are not configuration.
type WidgetOptions struct {
	Auth controller.AuthSignal
	// PublishMigrations sends session hand-over events to NATS instead of the local bus.
	PublishMigrations bool
}

func NewWidgetContainer(ctx context.Context, cfg *config.Config, log logger.ILogger, opts WidgetOptions) (*WidgetContainer, error) {
	c := &WidgetContainer{}

	// 1. Persistence
	backend, closeBackend, err := NewStorageBackend(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	c.Storage = backend
	c.closers = append(c.closers, closeBackend)

	deviceId, err := ResolveDeviceId(ctx, backend, cfg.App.DeviceId)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.DeviceId = deviceId

	c.Store = store.New(backend, log)
	if err := c.Store.Open(ctx); err != nil {
		log.Warn("Bootstrap", "Session store opened degraded", map[string]interface{}{"error": err.Error()})
	}

	// 2. Remote services
	c.Credentials = credential.NewClient(cfg.Widget.SessionEndpoint, deviceId, log)
	c.Backend = transport.NewHTTPBackend(cfg.Widget.ApiURL, cfg.Widget.RequestTimeout, log)

	// 3. Local state
	c.Selection = selection.NewTracker(selection.Config{
		MaxTextSelectionLength: cfg.Widget.MaxTextSelectionLength,
		FallbackTextLength:     cfg.Widget.FallbackTextLength,
		Debounce:               cfg.Widget.SelectionDebounce,
	}, log)

	resetPolicy, err := limit.ParseResetPolicy(cfg.Limits.ResetPolicy)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Counter = limit.NewCounter(limit.Policy{
		Limit:            cfg.Limits.MessageLimit,
		WarningThreshold: cfg.Limits.WarningThreshold,
		Reset:            resetPolicy,
		Window:           cfg.Limits.ResetWindow,
	})

	// 4. Event Bus
	c.Notifier = notify.NewNotifier(log)
	c.closers = append(c.closers, func() { _ = c.Notifier.Close() })

	var migrationSink events.Publisher = c.Notifier
	if opts.PublishMigrations {
		natsPub, err := pktNats.NewPublisher(cfg.App.NatsURL, log)
		if err != nil {
			log.Warn("Bootstrap", "Failed to connect to NATS Publisher, migrations stay local", map[string]interface{}{"error": err.Error()})
		} else {
			c.NatsPublisher = natsPub
			c.closers = append(c.closers, natsPub.Close)
			migrationSink = natsPub
		}
	}

	c.Controller = controller.New(controller.Deps{
		Store:       c.Store,
		Credentials: c.Credentials,
		Backend:     c.Backend,
		Selection:   c.Selection,
		Counter:     c.Counter,
		Events:      c.Notifier,
		Auth:        opts.Auth,
		Migrator:    export.NewMigrator(migrationSink, deviceId, log),
		State:       controller.NewBackendState(backend),
		Logger:      log,
	})

	log.Info("Bootstrap", "Widget ready", map[string]interface{}{
		"device_id": deviceId,
		"api_url":   cfg.Widget.ApiURL,
		"storage":   cfg.Storage.Driver,
	})
	return c, nil
}

// Close releases resources in reverse acquisition order.
func (c *WidgetContainer) Close() {
	if c.Controller != nil {
		c.Controller.Close()
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// NewStorageBackend builds the configured backend and its release function.
func NewStorageBackend(ctx context.Context, cfg config.StorageConfig) (storage.Backend, func(), error) {
	switch strings.ToLower(cfg.Driver) {
	case "memory":
		return storage.NewMemoryBackend(cfg.MaxBytes), func() {}, nil
	case "file", "":
		b, err := storage.NewFileBackend(cfg.Path, cfg.MaxBytes)
		if err != nil {
			return nil, nil, fmt.Errorf("open file storage: %w", err)
		}
		return b, func() {}, nil
	case "redis":
		b, err := storage.NewRedisBackend(ctx, cfg.RedisURL, redisKeyPrefix, cfg.MaxBytes)
		if err != nil {
			return nil, nil, fmt.Errorf("open redis storage: %w", err)
		}
		return b, func() { _ = b.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

// ResolveDeviceId returns configured when set, otherwise the id persisted in backend,
// generating and storing one on first run.
func ResolveDeviceId(ctx context.Context, backend storage.Backend, configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}

	raw, err := backend.Get(ctx, constant.StorageKeyDeviceId)
	if err == nil {
		if id, parseErr := uuid.ParseBytes(raw); parseErr == nil {
			return id.String(), nil
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("read device id: %w", err)
	}

	id := uuid.NewString()
	if err := backend.Set(ctx, constant.StorageKeyDeviceId, []byte(id)); err != nil {
		return "", fmt.Errorf("store device id: %w", err)
	}
	return id, nil
}
