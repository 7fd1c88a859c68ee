package device

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vibrateFeature(end int32) DeviceFeature {
	return DeviceFeature{
		ID:          uuid.New(),
		FeatureType: FeatureVibrate,
		Output: map[OutputType]OutputProperties{
			OutputVibrate: {StepRange: Range(0, end)},
		},
	}
}

func TestRangeInclusive_JSON(t *testing.T) {
	data, err := json.Marshal(Range(0, 20))
	require.NoError(t, err)
	assert.Equal(t, "[0,20]", string(data))

	var r RangeInclusive
	require.NoError(t, json.Unmarshal([]byte("[5, 10]"), &r))
	assert.Equal(t, Range(5, 10), r)

	assert.Error(t, json.Unmarshal([]byte(`{"start":1}`), &r))
}

func TestDeviceFeature_Validate(t *testing.T) {
	f := vibrateFeature(20)
	require.NoError(t, f.Validate())

	bad := vibrateFeature(20)
	bad.Output[OutputVibrate] = OutputProperties{StepRange: Range(10, 0)}
	assert.ErrorIs(t, bad.Validate(), ErrInvalidFeature)

	limit := Range(0, 30)
	over := vibrateFeature(20)
	over.Output[OutputVibrate] = OutputProperties{StepRange: Range(0, 20), StepLimit: &limit}
	assert.ErrorIs(t, over.Validate(), ErrStepRange)
}

func TestDeviceFeature_CloneIsDeep(t *testing.T) {
	limit := Range(0, 10)
	f := vibrateFeature(20)
	f.Output[OutputVibrate] = OutputProperties{StepRange: Range(0, 20), StepLimit: &limit}

	c := f.Clone()
	c.Output[OutputVibrate].StepLimit.End = 5
	c.Output[OutputRotate] = OutputProperties{StepRange: Range(0, 1)}

	assert.Equal(t, int32(10), f.Output[OutputVibrate].StepLimit.End)
	assert.False(t, f.HasOutput(OutputRotate))
}

func TestOutputProperties_StepCountUsesLimit(t *testing.T) {
	limit := Range(0, 10)
	p := OutputProperties{StepRange: Range(0, 20), StepLimit: &limit}
	assert.Equal(t, uint32(10), p.StepCount())
	assert.Equal(t, uint32(20), OutputProperties{StepRange: Range(0, 20)}.StepCount())
}

func TestScalarToSteps(t *testing.T) {
	r := Range(0, 20)
	tests := []struct {
		scalar float64
		want   int32
	}{
		{0, 0},
		{1, 20},
		{0.5, 10},
		{0.51, 11},
		{0.01, 1},
		{0.15, 3},
	}
	for _, tt := range tests {
		got, err := ScalarToSteps(tt.scalar, r)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "scalar %v", tt.scalar)
	}

	_, err := ScalarToSteps(1.5, r)
	assert.ErrorIs(t, err, ErrStepRange)
	_, err = ScalarToSteps(-0.1, r)
	assert.ErrorIs(t, err, ErrStepRange)
}

func TestScalarStepsRoundTrip(t *testing.T) {
	r := Range(0, 7)
	for steps := int32(0); steps <= 7; steps++ {
		got, err := ScalarToSteps(StepsToScalar(steps, r), r)
		require.NoError(t, err)
		assert.Equal(t, steps, got)
	}
}

func TestSessionState_Transitions(t *testing.T) {
	assert.True(t, StateDiscovered.CanTransition(StateIdentifying))
	assert.True(t, StateIdentifying.CanTransition(StateInitializing))
	assert.True(t, StateInitializing.CanTransition(StateLive))
	assert.True(t, StateLive.CanTransition(StateDisconnected))
	assert.True(t, StateIdentifying.CanTransition(StateDisconnected))
	assert.False(t, StateDiscovered.CanTransition(StateLive))
	assert.False(t, StateDenied.CanTransition(StateIdentifying))
	assert.True(t, StateInitFailed.Terminal())
	assert.Equal(t, "identify_failed", StateIdentifyFailed.String())
}

func TestDeviceDefinition_Feature(t *testing.T) {
	def := &DeviceDefinition{Features: []DeviceFeature{vibrateFeature(20)}}
	f, err := def.Feature(0)
	require.NoError(t, err)
	assert.Equal(t, FeatureVibrate, f.FeatureType)

	_, err = def.Feature(1)
	assert.ErrorIs(t, err, ErrInvalidFeature)

	idx, _, ok := def.FeatureByID(def.Features[0].ID)
	assert.True(t, ok)
	assert.Equal(t, uint32(0), idx)
}
