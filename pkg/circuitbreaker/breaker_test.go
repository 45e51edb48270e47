package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNew_Defaults(t *testing.T) {
	b := New(5, 30*time.Second)
	assert.Equal(t, 5, b.threshold)
	assert.Equal(t, 30*time.Second, b.cooldown)

	b = New(0, 0)
	assert.Equal(t, 5, b.threshold)
	assert.Equal(t, 30*time.Second, b.cooldown)

	b = New(-1, -time.Second)
	assert.Equal(t, 5, b.threshold)
	assert.Equal(t, 30*time.Second, b.cooldown)
}

func TestBreaker_TripsAtThresholdAndRecovers(t *testing.T) {
	b := New(3, 50*time.Millisecond)

	assert.False(t, b.IsOpen())

	b.RecordFailure()
	b.RecordFailure()
	assert.False(t, b.IsOpen())

	b.RecordFailure()
	assert.True(t, b.IsOpen())

	time.Sleep(75 * time.Millisecond)
	assert.False(t, b.IsOpen(), "cooldown elapsed, breaker should self-close")

	isOpen, failures := b.State()
	assert.False(t, isOpen)
	assert.Equal(t, 0, failures)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := New(3, time.Second)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()

	_, failures := b.State()
	assert.Equal(t, 0, failures)
	assert.False(t, b.IsOpen())
}

func TestBreaker_Reset(t *testing.T) {
	b := New(1, time.Minute)
	b.RecordFailure()
	assert.True(t, b.IsOpen())

	b.Reset()
	assert.False(t, b.IsOpen())
}

func TestManager_KeysBreakersIndependently(t *testing.T) {
	m := NewManager(2, time.Minute)

	m.RecordFailure("openai")
	m.RecordFailure("openai")
	assert.True(t, m.IsOpen("openai"))
	assert.False(t, m.IsOpen("anthropic"))

	m.RecordSuccess("openai")
	assert.False(t, m.IsOpen("openai"))
}

func TestManager_States(t *testing.T) {
	m := NewManager(1, time.Minute)
	m.RecordFailure("openai")

	states := m.States()
	entry, ok := states["openai"]
	assert.True(t, ok)
	assert.Equal(t, true, entry["is_open"])
	assert.Equal(t, 1, entry["failures"])

	m.Reset("openai")
	states = m.States()
	assert.Equal(t, false, states["openai"]["is_open"])
}
