package export

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat-client/internal/pkg/logger"
	"docchat-client/pkg/events"
)

type capturePublisher struct {
	got []events.Event
}

func (c *capturePublisher) Publish(ctx context.Context, event events.Event) error {
	c.got = append(c.got, event)
	return nil
}

func TestMigratorPublishesSessionExport(t *testing.T) {
	pub := &capturePublisher{}
	session := testSession()

	m := NewMigrator(pub, "device-7", logger.NewNopLogger())
	require.NoError(t, m.Migrate(context.Background(), session))

	require.Len(t, pub.got, 1)
	evt := pub.got[0]
	assert.Equal(t, events.TypeSessionExport, evt.EventType())
	assert.Equal(t, "device-7", evt.Payload()["device_id"])
	assert.Equal(t, session.Id.String(), evt.Payload()["session_id"])
	assert.Equal(t, 2, evt.Payload()["message_count"])

	body := evt.Payload()["session"].(map[string]interface{})
	messages := body["messages"].([]interface{})
	assert.Equal(t, "assistant", messages[1].(map[string]interface{})["role"])
}
