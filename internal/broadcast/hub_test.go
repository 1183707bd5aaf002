package broadcast

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rfidattend/internal/attendance"
)

func outcome(msg string) attendance.Outcome {
	return attendance.Outcome{
		Type:      "scan",
		Success:   true,
		Status:    attendance.StatusCheckedIn,
		Message:   msg,
		Timestamp: time.Now(),
	}
}

func TestHub_DeliversToAllSubscribers(t *testing.T) {
	h := NewHub(4, nil)
	a := h.Subscribe()
	b := h.Subscribe()
	defer a.Close()
	defer b.Close()

	h.Publish(outcome("tap"))

	got := <-a.Events()
	assert.Equal(t, "tap", got.Message)
	got = <-b.Events()
	assert.Equal(t, "tap", got.Message)
}

func TestHub_NoReplayForLateSubscribers(t *testing.T) {
	h := NewHub(4, nil)
	h.Publish(outcome("before"))

	sub := h.Subscribe()
	defer sub.Close()

	select {
	case out := <-sub.Events():
		t.Fatalf("late subscriber received %q", out.Message)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_PreservesPublishOrder(t *testing.T) {
	h := NewHub(16, nil)
	sub := h.Subscribe()
	defer sub.Close()

	for i := 0; i < 10; i++ {
		h.Publish(outcome(fmt.Sprintf("scan-%d", i)))
	}
	for i := 0; i < 10; i++ {
		got := <-sub.Events()
		assert.Equal(t, fmt.Sprintf("scan-%d", i), got.Message)
	}
}

func TestHub_DropsStalledSubscriber(t *testing.T) {
	dropped := 0
	h := NewHub(2, func() { dropped++ })

	stalled := h.Subscribe()
	healthy := h.Subscribe()
	defer healthy.Close()

	// Nobody reads stalled; its buffer absorbs 2 outcomes, the third drops
	// it. The healthy subscriber keeps draining and misses nothing, and no
	// publish ever blocks.
	for i := 0; i < 3; i++ {
		h.Publish(outcome(fmt.Sprintf("scan-%d", i)))
		select {
		case got := <-healthy.Events():
			assert.Equal(t, fmt.Sprintf("scan-%d", i), got.Message)
		case <-time.After(time.Second):
			t.Fatal("outcome never reached the healthy subscriber")
		}
	}

	assert.Equal(t, 1, dropped)
	assert.Equal(t, 1, h.Len())

	// The dropped subscriber's channel drains its buffer, then closes.
	count := 0
	for range stalled.Events() {
		count++
	}
	assert.Equal(t, 2, count)

	// Closing after the hub already dropped it is a no-op.
	stalled.Close()
}

func TestSubscription_CloseIsIdempotent(t *testing.T) {
	h := NewHub(4, nil)
	sub := h.Subscribe()
	sub.Close()
	sub.Close()

	require.Equal(t, 0, h.Len())
	h.Publish(outcome("after close"))

	_, open := <-sub.Events()
	assert.False(t, open)
}
