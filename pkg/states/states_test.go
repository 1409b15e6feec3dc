package states

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreStateAndSet(t *testing.T) {
	s := NewStore()

	_, ok := s.State("binary_sensor.hdo")
	assert.False(t, ok, "unknown identifier should not be found")

	s.Set("binary_sensor.hdo", "on")
	v, ok := s.State("binary_sensor.hdo")
	require.True(t, ok)
	assert.Equal(t, "on", v)

	// latest value wins, no history
	s.Set("binary_sensor.hdo", "off")
	v, _ = s.State("binary_sensor.hdo")
	assert.Equal(t, "off", v)
}

func TestStoreSubscribe(t *testing.T) {
	s := NewStore()

	var got []string
	unsub := s.Subscribe("sensor.tariff", func(state string) {
		got = append(got, state)
	})

	s.Set("sensor.tariff", "low")
	s.Set("sensor.tariff", "high")
	assert.Equal(t, []string{"low", "high"}, got)

	// other identifiers don't notify
	s.Set("sensor.other", "x")
	assert.Len(t, got, 2)

	unsub()
	s.Set("sensor.tariff", "low")
	assert.Len(t, got, 2, "unsubscribed callback should not fire")

	// double-unsubscribe is a no-op
	unsub()
}

func TestStoreMultipleSubscribers(t *testing.T) {
	s := NewStore()

	var a, b int
	unsubA := s.Subscribe("x", func(string) { a++ })
	s.Subscribe("x", func(string) { b++ })

	s.Set("x", "1")
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)

	unsubA()
	s.Set("x", "2")
	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
}
