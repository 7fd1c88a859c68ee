package protocol

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urmzd/plugd/pkg/device"
)

func outputFeature(t device.OutputType, end int32) device.DeviceFeature {
	return device.DeviceFeature{
		ID:          uuid.New(),
		FeatureType: device.FeatureType(t),
		Output: map[device.OutputType]device.OutputProperties{
			t: {StepRange: device.Range(0, end)},
		},
	}
}

func batteryFeature() device.DeviceFeature {
	return device.DeviceFeature{
		ID:          uuid.New(),
		FeatureType: device.FeatureBattery,
		Input: map[device.InputType]device.InputProperties{
			device.InputBattery: {ValueRange: []device.RangeInclusive{device.Range(0, 100)}, Commands: []device.InputCommand{device.InputRead}},
		},
	}
}

func vibrate(idx uint32, v int32) device.OutputRequest {
	return device.OutputRequest{FeatureIndex: idx, Type: device.OutputVibrate, Value: v}
}

func TestCommandManager_UpdateIsIdempotent(t *testing.T) {
	m := NewCommandManager([]device.DeviceFeature{
		outputFeature(device.OutputVibrate, 20),
		outputFeature(device.OutputVibrate, 20),
		batteryFeature(),
	})

	sequences := [][]device.OutputRequest{
		{vibrate(0, 5)},
		{vibrate(0, 5), vibrate(1, 7)},
		{vibrate(1, 0)},
		{vibrate(0, 20), vibrate(1, 20)},
	}
	for _, reqs := range sequences {
		first, err := m.Update(reqs)
		require.NoError(t, err)
		require.Len(t, first, 3)
		assert.NotEmpty(t, Changed(first))

		second, err := m.Update(reqs)
		require.NoError(t, err)
		assert.Empty(t, Changed(second), "repeat of %v", reqs)
	}
}

func TestCommandManager_UpdateSparseResult(t *testing.T) {
	m := NewCommandManager([]device.DeviceFeature{
		outputFeature(device.OutputVibrate, 20),
		outputFeature(device.OutputVibrate, 20),
	})

	out, err := m.Update([]device.OutputRequest{vibrate(1, 10)})
	require.NoError(t, err)
	assert.Nil(t, out[0])
	require.NotNil(t, out[1])
	assert.Equal(t, int32(10), out[1].Value)

	// Only the changed entry of a mixed batch is reported.
	out, err = m.Update([]device.OutputRequest{vibrate(0, 3), vibrate(1, 10)})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, Changed(out))
}

func TestCommandManager_StopBypassesCache(t *testing.T) {
	m := NewCommandManager([]device.DeviceFeature{
		outputFeature(device.OutputVibrate, 20),
		outputFeature(device.OutputRotate, 10),
		outputFeature(device.OutputPosition, 99),
		batteryFeature(),
	})

	for i := 0; i < 3; i++ {
		out := m.Stop()
		require.Len(t, out, 4)
		require.NotNil(t, out[0])
		require.NotNil(t, out[1])
		assert.Equal(t, int32(0), out[0].Value)
		assert.Equal(t, device.OutputVibrate, out[0].Type)
		assert.Equal(t, int32(0), out[1].Value)
		assert.Nil(t, out[2], "positional outputs hold position")
		assert.Nil(t, out[3])
	}

	// After a stop, a request for zero is a no-op.
	out, err := m.Update([]device.OutputRequest{vibrate(0, 0)})
	require.NoError(t, err)
	assert.Empty(t, Changed(out))
}

func TestCommandManager_RangeValidation(t *testing.T) {
	limit := device.Range(0, 10)
	limited := outputFeature(device.OutputVibrate, 20)
	limited.Output[device.OutputVibrate] = device.OutputProperties{StepRange: device.Range(0, 20), StepLimit: &limit}

	m := NewCommandManager([]device.DeviceFeature{outputFeature(device.OutputVibrate, 20), limited})

	tests := []struct {
		name string
		reqs []device.OutputRequest
		want error
	}{
		{"above range", []device.OutputRequest{vibrate(0, 21)}, device.ErrStepRange},
		{"negative", []device.OutputRequest{vibrate(0, -1)}, device.ErrStepRange},
		{"above user limit", []device.OutputRequest{vibrate(1, 11)}, device.ErrStepRange},
		{"bad index", []device.OutputRequest{vibrate(2, 1)}, device.ErrInvalidFeature},
		{"wrong type", []device.OutputRequest{{FeatureIndex: 0, Type: device.OutputRotate, Value: 1}}, device.ErrInvalidFeature},
		{"duplicate index", []device.OutputRequest{vibrate(0, 1), vibrate(0, 2)}, device.ErrInvalidFeature},
		{"one bad entry fails batch", []device.OutputRequest{vibrate(0, 1), vibrate(1, 15)}, device.ErrStepRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Update(tt.reqs)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	// Nothing from the rejected batches was recorded.
	out, err := m.Update([]device.OutputRequest{vibrate(0, 1)})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, Changed(out))
}

func TestCommandManager_DirectionChangeCounts(t *testing.T) {
	m := NewCommandManager([]device.DeviceFeature{outputFeature(device.OutputRotateWithDirection, 100)})
	rotate := func(v int32, cw bool) []device.OutputRequest {
		return []device.OutputRequest{{FeatureIndex: 0, Type: device.OutputRotateWithDirection, Value: v, Clockwise: cw}}
	}

	out, err := m.Update(rotate(50, true))
	require.NoError(t, err)
	assert.Len(t, Changed(out), 1)

	out, err = m.Update(rotate(50, false))
	require.NoError(t, err)
	require.NotNil(t, out[0])
	assert.False(t, out[0].Clockwise)

	out, err = m.Update(rotate(50, false))
	require.NoError(t, err)
	assert.Empty(t, Changed(out))

	stop := m.Stop()
	require.NotNil(t, stop[0])
	assert.Equal(t, device.OutputRotateWithDirection, stop[0].Type)
	assert.False(t, stop[0].Clockwise)
}

func TestCommandManager_CurrentAndInvalidate(t *testing.T) {
	m := NewCommandManager([]device.DeviceFeature{
		outputFeature(device.OutputVibrate, 20),
		outputFeature(device.OutputVibrate, 20),
		batteryFeature(),
	})

	_, err := m.Update([]device.OutputRequest{vibrate(1, 9)})
	require.NoError(t, err)

	cur := m.Current()
	require.NotNil(t, cur[0])
	assert.Equal(t, int32(0), cur[0].Value)
	assert.Equal(t, int32(9), cur[1].Value)
	assert.Nil(t, cur[2])

	m.Invalidate(1)
	out, err := m.Update([]device.OutputRequest{vibrate(1, 9)})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, Changed(out))
}
