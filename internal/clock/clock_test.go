package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeAdvanceFiresInDeadlineOrder(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFake(start)

	var fired []string
	c.AfterFunc(2*time.Hour, func() { fired = append(fired, "b") })
	c.AfterFunc(time.Hour, func() { fired = append(fired, "a") })
	c.AfterFunc(5*time.Hour, func() { fired = append(fired, "c") })

	c.Advance(3 * time.Hour)

	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Equal(t, start.Add(3*time.Hour), c.Now())
	assert.Equal(t, 1, c.Pending())
}

func TestFakeCallbackArmsTimerInsideWindow(t *testing.T) {
	c := NewFake(time.Unix(0, 0))

	var at []time.Time
	c.AfterFunc(time.Hour, func() {
		at = append(at, c.Now())
		c.AfterFunc(time.Hour, func() { at = append(at, c.Now()) })
	})

	c.Advance(3 * time.Hour)

	if assert.Len(t, at, 2) {
		assert.Equal(t, time.Unix(0, 0).Add(time.Hour), at[0])
		assert.Equal(t, time.Unix(0, 0).Add(2*time.Hour), at[1])
	}
}

func TestFakeStop(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	called := false
	timer := c.AfterFunc(time.Minute, func() { called = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	c.Advance(time.Hour)
	assert.False(t, called)
}
