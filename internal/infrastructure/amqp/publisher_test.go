package amqp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"IssueAssembler/internal/ports"
)

type fakeChannel struct {
	key string
	msg amqp.Publishing
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	f.key = key
	f.msg = msg
	return nil
}

func (f *fakeChannel) Close() error { return nil }

func TestNotifyPublishesPersistentJSON(t *testing.T) {
	t.Parallel()
	ch := &fakeChannel{}
	p := &Publisher{ch: ch, queue: "operator-alerts"}

	at := time.Date(2025, 3, 14, 6, 0, 0, 0, time.UTC)
	require.NoError(t, p.Notify(context.Background(), ports.Alert{IssueID: "i1", State: "finalizing", At: at}))

	assert.Equal(t, "operator-alerts", ch.key)
	assert.Equal(t, amqp.Persistent, ch.msg.DeliveryMode)
	assert.Equal(t, "i1", ch.msg.MessageId)
	var got ports.Alert
	require.NoError(t, json.Unmarshal(ch.msg.Body, &got))
	assert.Equal(t, "finalizing", got.State)
	assert.True(t, at.Equal(got.At))
	require.NoError(t, p.Close())
}
