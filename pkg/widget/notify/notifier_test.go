package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"docchat-client/internal/pkg/logger"
	"docchat-client/pkg/events"
)

func TestNotifierDeliversToSubscribers(t *testing.T) {
	defer goleak.VerifyNone(t)

	n := NewNotifier(logger.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := n.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, n.Publish(ctx, events.New(events.TypeLimitApproaching, map[string]interface{}{"remaining": 2})))

	select {
	case evt := <-ch:
		assert.Equal(t, events.TypeLimitApproaching, evt.EventType())
		assert.EqualValues(t, 2, evt.Payload()["remaining"])
		assert.False(t, evt.Timestamp().IsZero())
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	cancel()
	require.NoError(t, n.Close())
	for range ch {
	}
}

func TestPublishWithoutSubscribersIsDropped(t *testing.T) {
	defer goleak.VerifyNone(t)

	n := NewNotifier(logger.NewNopLogger())
	assert.NoError(t, n.Publish(context.Background(), events.New(events.TypeStorageDegraded, nil)))
	require.NoError(t, n.Close())
}
