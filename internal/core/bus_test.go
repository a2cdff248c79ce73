package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBusOrderAndUnsubscribe(t *testing.T) {
	b := NewBus[int]()
	var got []string
	unsubA := b.Subscribe(func(v int) { got = append(got, "a") })
	b.Subscribe(func(v int) { got = append(got, "b") })
	assert.Equal(t, 2, b.Len())

	b.Emit(1)
	assert.Equal(t, []string{"a", "b"}, got)

	unsubA()
	unsubA()
	assert.Equal(t, 1, b.Len())
	got = nil
	b.Emit(2)
	assert.Equal(t, []string{"b"}, got)
}

func TestBusSubscriberMayUnsubscribeDuringEmit(t *testing.T) {
	b := NewBus[int]()
	calls := 0
	var unsub func()
	unsub = b.Subscribe(func(int) {
		calls++
		unsub()
	})
	b.Subscribe(func(int) { calls++ })

	b.Emit(1)
	b.Emit(2)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 1, b.Len())
}
