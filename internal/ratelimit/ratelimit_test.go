package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestSlidingWindow_Allow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	l := NewSlidingWindow(3, time.Minute, WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		ok, _ := l.Allow("k")
		assert.True(t, ok, "request %d", i)
		clock.Advance(10 * time.Second)
	}
	ok, retry := l.Allow("k")
	assert.False(t, ok)
	assert.Equal(t, 30*time.Second, retry, "oldest hit leaves the window 60s after it was made")

	ok, _ = l.Allow("other")
	assert.True(t, ok, "keys are independent")

	clock.Advance(30 * time.Second)
	ok, _ = l.Allow("k")
	assert.True(t, ok, "oldest hit expired")
}

func TestSlidingWindow_RejectedRequestsDoNotCount(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	l := NewSlidingWindow(1, time.Second, WithClock(clock.Now))

	ok, _ := l.Allow("k")
	assert.True(t, ok)
	for i := 0; i < 5; i++ {
		ok, _ = l.Allow("k")
		assert.False(t, ok)
	}
	clock.Advance(time.Second + time.Nanosecond)
	ok, _ = l.Allow("k")
	assert.True(t, ok)
}

func TestSlidingWindow_Prune(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	l := NewSlidingWindow(5, time.Second, WithClock(clock.Now))
	l.Allow("a")
	l.Allow("b")
	assert.Equal(t, 2, l.Keys())

	clock.Advance(2 * time.Second)
	l.Allow("b")
	l.Prune()
	assert.Equal(t, 1, l.Keys())
}

func TestSlidingWindow_AllowSweepsIdleKeys(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	l := NewSlidingWindow(100, time.Second, WithClock(clock.Now), WithPruneEvery(10))

	for i := 0; i < 50; i++ {
		l.Allow(fmt.Sprintf("client-%d", i))
	}
	assert.Equal(t, 50, l.Keys(), "keys inside the window survive a sweep")

	clock.Advance(2 * time.Second)
	for i := 0; i < 10; i++ {
		l.Allow("fresh")
	}
	assert.Equal(t, 1, l.Keys())
}

func TestSlidingWindow_Concurrent(t *testing.T) {
	l := NewSlidingWindow(50, time.Hour)
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.Allow("shared"); ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, allowed)
}

func TestUnlimited(t *testing.T) {
	ok, retry := Unlimited{}.Allow("anything")
	assert.True(t, ok)
	assert.Zero(t, retry)
}
