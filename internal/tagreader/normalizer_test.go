package tagreader

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock hands out a controllable time to the normalizer.
type fakeClock struct {
	mu  sync.Mutex
	cur time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{cur: time.Date(2024, 9, 2, 8, 0, 0, 0, time.Local)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(d)
}

func newTestNormalizer(prefix, suffix string, hex bool) (*Normalizer, *fakeClock) {
	clock := newFakeClock()
	n := New(prefix, suffix, hex, 2*time.Second)
	n.now = clock.Now
	return n, clock
}

func TestNormalize_PrefixAndWhitespace(t *testing.T) {
	n, _ := newTestNormalizer("Card UID:", "", false)

	tag, res := n.Normalize("Card UID: AB CD")
	require.Equal(t, Accepted, res)
	assert.Equal(t, "ABCD", tag)
}

func TestNormalize_MissingPrefixIsMalformed(t *testing.T) {
	n, _ := newTestNormalizer("Card UID:", "", false)

	_, res := n.Normalize("reader boot ok")
	assert.Equal(t, Malformed, res)

	// Non-tag telemetry must not disturb debounce state.
	tag, res := n.Normalize("Card UID: 10 00 01")
	require.Equal(t, Accepted, res)
	assert.Equal(t, "100001", tag)
}

func TestNormalize_SuffixStripped(t *testing.T) {
	n, _ := newTestNormalizer("TAG=", ";", false)

	tag, res := n.Normalize("TAG=42 17;")
	require.Equal(t, Accepted, res)
	assert.Equal(t, "4217", tag)
}

func TestNormalize_HexMode(t *testing.T) {
	n, _ := newTestNormalizer("Card UID:", "", true)

	tag, res := n.Normalize("Card UID: 00 FF")
	require.Equal(t, Accepted, res)
	assert.Equal(t, "255", tag)

	_, res = n.Normalize("Card UID: ZZ")
	assert.Equal(t, Malformed, res)
}

func TestNormalize_EmptyValueIsMalformed(t *testing.T) {
	n, _ := newTestNormalizer("Card UID:", "", false)

	_, res := n.Normalize("Card UID:   ")
	assert.Equal(t, Malformed, res)
}

func TestDebounce_SuppressesRepeatWithinWindow(t *testing.T) {
	n, clock := newTestNormalizer("Card UID:", "", false)

	_, res := n.Normalize("Card UID: AA")
	require.Equal(t, Accepted, res)

	clock.Advance(500 * time.Millisecond)
	_, res = n.Normalize("Card UID: AA")
	assert.Equal(t, Suppressed, res)
}

func TestDebounce_RepeatAfterWindowIsAccepted(t *testing.T) {
	n, clock := newTestNormalizer("Card UID:", "", false)

	_, res := n.Normalize("Card UID: AA")
	require.Equal(t, Accepted, res)

	clock.Advance(2100 * time.Millisecond)
	tag, res := n.Normalize("Card UID: AA")
	require.Equal(t, Accepted, res)
	assert.Equal(t, "AA", tag)
}

func TestDebounce_DifferentTagInsideWindowIsAccepted(t *testing.T) {
	n, clock := newTestNormalizer("Card UID:", "", false)

	_, res := n.Normalize("Card UID: AA")
	require.Equal(t, Accepted, res)

	clock.Advance(100 * time.Millisecond)
	tag, res := n.Normalize("Card UID: BB")
	require.Equal(t, Accepted, res)
	assert.Equal(t, "BB", tag)

	// BB is now the last accepted tag, so AA comes straight back in.
	clock.Advance(100 * time.Millisecond)
	tag, res = n.Normalize("Card UID: AA")
	require.Equal(t, Accepted, res)
	assert.Equal(t, "AA", tag)
}

func TestDebounce_SuppressedReadDoesNotRefreshWindow(t *testing.T) {
	n, clock := newTestNormalizer("Card UID:", "", false)

	_, res := n.Normalize("Card UID: AA")
	require.Equal(t, Accepted, res)

	clock.Advance(1500 * time.Millisecond)
	_, res = n.Normalize("Card UID: AA")
	require.Equal(t, Suppressed, res)

	// 2.1s after the original acceptance; had the suppressed read refreshed
	// the window this would still be inside it.
	clock.Advance(600 * time.Millisecond)
	_, res = n.Normalize("Card UID: AA")
	assert.Equal(t, Accepted, res)
}

func TestNormalize_ConcurrentReadsAcceptExactlyOne(t *testing.T) {
	n, _ := newTestNormalizer("Card UID:", "", false)

	const readers = 16
	var wg sync.WaitGroup
	results := make([]Result, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = n.Normalize("Card UID: AA")
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, res := range results {
		if res == Accepted {
			accepted++
		}
	}
	assert.Equal(t, 1, accepted, "same-tag burst must be debounced to a single acceptance")
}
