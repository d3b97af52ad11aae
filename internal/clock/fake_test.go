package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestFakeAfterFuncFiresInDeadlineOrder(t *testing.T) {
	c := Fake(epoch)
	var order []string
	c.AfterFunc(3*time.Second, func() { order = append(order, "late") })
	c.AfterFunc(time.Second, func() { order = append(order, "early") })

	c.Advance(500 * time.Millisecond)
	assert.Empty(t, order)

	c.Advance(5 * time.Second)
	assert.Equal(t, []string{"early", "late"}, order)
	assert.Equal(t, 0, c.PendingCount())
}

func TestFakeTimerStopAndReset(t *testing.T) {
	c := Fake(epoch)
	fired := 0
	timer := c.AfterFunc(time.Second, func() { fired++ })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	c.Advance(2 * time.Second)
	assert.Equal(t, 0, fired)

	assert.False(t, timer.Reset(time.Second))
	c.Advance(time.Second)
	assert.Equal(t, 1, fired)
}

func TestFakeCallbackCanScheduleFollowUp(t *testing.T) {
	c := Fake(epoch)
	var at []time.Time
	c.AfterFunc(time.Second, func() {
		at = append(at, c.Now())
		c.AfterFunc(time.Second, func() { at = append(at, c.Now()) })
	})

	c.Advance(time.Second)
	require.Len(t, at, 1)
	c.Advance(time.Second)
	require.Len(t, at, 2)
	assert.Equal(t, epoch.Add(2*time.Second), at[1])
}

func TestFakeTickerAndAfter(t *testing.T) {
	c := Fake(epoch)
	ticker := c.NewTicker(time.Minute)
	after := c.After(90 * time.Second)

	c.Advance(time.Minute)
	select {
	case <-ticker.C:
	default:
		t.Fatal("ticker did not fire")
	}

	c.Advance(30 * time.Second)
	select {
	case got := <-after:
		assert.Equal(t, epoch.Add(90*time.Second), got)
	default:
		t.Fatal("after did not fire")
	}

	ticker.Stop()
	assert.Equal(t, 0, c.PendingCount())
}

func TestFakeWaitForTimers(t *testing.T) {
	c := Fake(epoch)
	done := make(chan struct{})
	go func() {
		c.WaitForTimers(1)
		close(done)
	}()
	c.AfterFunc(time.Second, func() {})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitForTimers did not return")
	}
}
