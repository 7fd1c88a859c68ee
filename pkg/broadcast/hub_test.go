package broadcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_DeliversInOrderToEverySubscriber(t *testing.T) {
	h := New[int]("test", 8)
	a := h.Subscribe()
	b := h.Subscribe()

	for i := 1; i <= 3; i++ {
		assert.Equal(t, 2, h.Publish(i))
	}

	for _, ch := range []<-chan int{a, b} {
		assert.Equal(t, 1, <-ch)
		assert.Equal(t, 2, <-ch)
		assert.Equal(t, 3, <-ch)
	}
}

func TestHub_SlowSubscriberDoesNotBlockOthers(t *testing.T) {
	h := New[int]("test", 1)
	slow := h.Subscribe()
	fast := h.Subscribe()

	h.Publish(1)
	require.Equal(t, 1, <-fast)

	// slow still holds 1, so 2 is dropped for it but reaches fast.
	assert.Equal(t, 1, h.Publish(2))
	assert.Equal(t, 2, <-fast)
	assert.Equal(t, 1, <-slow)
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	h := New[string]("test", 0)
	ch := h.Subscribe()
	require.Equal(t, 1, h.Len())

	h.Unsubscribe(ch)
	h.Unsubscribe(ch)

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, h.Len())
	assert.Equal(t, 0, h.Publish("x"))
}

func TestHub_Close(t *testing.T) {
	h := New[int]("test", 4)
	ch := h.Subscribe()
	h.Close()

	_, ok := <-ch
	assert.False(t, ok)

	late := h.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
	assert.Equal(t, 0, h.Publish(1))
}
