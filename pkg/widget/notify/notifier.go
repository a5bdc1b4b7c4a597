// Package notify carries non-fatal widget status (limit warnings, storage trouble,
// exchange progress) to presentation code over an in-process watermill bus.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"docchat-client/internal/pkg/logger"
	"docchat-client/pkg/events"
)

const (
	logModule = "Notifier"
	Topic     = "widget.status"
)

type envelope struct {
	Type       string                 `json:"type"`
	Data       map[string]interface{} `json:"data"`
	OccurredAt time.Time              `json:"occurred_at"`
}

type Notifier struct {
	pubSub *gochannel.GoChannel
	logger logger.ILogger
}

var _ events.Publisher = &Notifier{}

func NewNotifier(log logger.ILogger) *Notifier {
	return &Notifier{
		pubSub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 64},
			logger.NewWatermillAdapter(log, "Watermill"),
		),
		logger: log,
	}
}

// Publish delivers event to current subscribers. Without subscribers it is dropped.
func (n *Notifier) Publish(ctx context.Context, event events.Event) error {
	payload, err := json.Marshal(envelope{
		Type:       event.EventType(),
		Data:       event.Payload(),
		OccurredAt: event.Timestamp(),
	})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event.EventType(), err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	if err := n.pubSub.Publish(Topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", event.EventType(), err)
	}
	n.logger.Debug(logModule, "Status published", map[string]interface{}{"type": event.EventType()})
	return nil
}

// Subscribe streams events until ctx is done or the notifier is closed.
func (n *Notifier) Subscribe(ctx context.Context) (<-chan events.Event, error) {
	messages, err := n.pubSub.Subscribe(ctx, Topic)
	if err != nil {
		return nil, err
	}

	out := make(chan events.Event, 16)
	go func() {
		defer close(out)
		for msg := range messages {
			var env envelope
			if err := json.Unmarshal(msg.Payload, &env); err != nil {
				n.logger.Warn(logModule, "Dropping undecodable status message", map[string]interface{}{"error": err.Error()})
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- events.BaseEvent{Type: env.Type, Data: env.Data, OccurredAt: env.OccurredAt}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (n *Notifier) Close() error {
	return n.pubSub.Close()
}
