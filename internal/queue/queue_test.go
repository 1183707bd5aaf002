package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemory_PublishConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	require.NoError(t, q.Publish(ctx, Message{Type: "scan", Body: []byte(`{"status":"CheckedIn"}`)}))

	msgs, err := q.Consume(ctx)
	require.NoError(t, err)

	select {
	case msg := <-msgs:
		assert.Equal(t, "scan", msg.Type)
		assert.JSONEq(t, `{"status":"CheckedIn"}`, string(msg.Body))
	case <-time.After(time.Second):
		t.Fatal("message never arrived")
	}
}

func TestInMemory_PublishHonorsContext(t *testing.T) {
	q := NewInMemory(1)
	ctx := context.Background()
	require.NoError(t, q.Publish(ctx, Message{Type: "scan"}))

	// Queue is full and nobody consumes; a cancelled context must unblock.
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err := q.Publish(cancelled, Message{Type: "scan"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSerializeRoundTrip(t *testing.T) {
	msg := Message{Type: "scan", Body: []byte(`{"message":"Lina | checked in"}`)}
	got := deserialize(serialize(msg))
	assert.Equal(t, msg.Type, got.Type)
	assert.Equal(t, string(msg.Body), string(got.Body))
}
