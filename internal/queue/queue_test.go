package queue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextBackoffDelayAdvancesThroughSchedule(t *testing.T) {
	schedule := []int32{100, 200, 400}

	delay, ok := nextBackoffDelay(schedule, 0)
	require.True(t, ok)
	require.Equal(t, int32(100), delay)

	delay, ok = nextBackoffDelay(schedule, 2)
	require.True(t, ok)
	require.Equal(t, int32(400), delay)
}

func TestNextBackoffDelayExhausted(t *testing.T) {
	schedule := []int32{100, 200}

	_, ok := nextBackoffDelay(schedule, 2)
	require.False(t, ok, "retry count equal to schedule length must be exhausted")

	_, ok = nextBackoffDelay(schedule, 5)
	require.False(t, ok)
}

func TestNextBackoffDelayEmptySchedule(t *testing.T) {
	_, ok := nextBackoffDelay(nil, 0)
	require.False(t, ok, "an empty schedule dead-letters on first failure")

	_, ok = nextBackoffDelay([]int32{}, 0)
	require.False(t, ok)
}

func TestInt64SliceToInt32(t *testing.T) {
	require.Nil(t, int64SliceToInt32(nil))
	require.Equal(t, []int32{1, 2, 3}, int64SliceToInt32([]int64{1, 2, 3}))
}

func TestTakePayloadIsOneShot(t *testing.T) {
	h := &MessageHandle{}
	h.msg.Payload = []byte("hello")

	got, err := h.TakePayload()
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)

	_, err = h.TakePayload()
	require.Error(t, err, "a second TakePayload call must fail")
}
