package convert

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urmzd/plugd/pkg/device"
	"github.com/urmzd/plugd/pkg/message"
	v0 "github.com/urmzd/plugd/pkg/message/v0"
	v1 "github.com/urmzd/plugd/pkg/message/v1"
	v2 "github.com/urmzd/plugd/pkg/message/v2"
	v3 "github.com/urmzd/plugd/pkg/message/v3"
	v4 "github.com/urmzd/plugd/pkg/message/v4"
)

type devices map[uint32]*device.DeviceDefinition

func (d devices) Device(index uint32) (*device.DeviceDefinition, error) {
	def, ok := d[index]
	if !ok {
		return nil, fmt.Errorf("%w: %d", device.ErrNotFound, index)
	}
	return def, nil
}

func output(t device.FeatureType, o device.OutputType, end int32) device.DeviceFeature {
	return device.DeviceFeature{
		ID:          uuid.New(),
		FeatureType: t,
		Output:      map[device.OutputType]device.OutputProperties{o: {StepRange: device.Range(0, end)}},
	}
}

func sensor(t device.InputType, cmds ...device.InputCommand) device.DeviceFeature {
	return device.DeviceFeature{
		ID:          uuid.New(),
		FeatureType: device.FeatureType(t),
		Input:       map[device.InputType]device.InputProperties{t: {ValueRange: []device.RangeInclusive{device.Range(0, 100)}, Commands: cmds}},
	}
}

func fixture() devices {
	limit := device.Range(0, 10)
	edge := output(device.FeatureVibrate, device.OutputVibrate, 20)
	edge.Output[device.OutputVibrate] = device.OutputProperties{StepRange: device.Range(0, 20), StepLimit: &limit}
	return devices{
		0: {
			Index:       0,
			Name:        "Lovense Edge",
			DisplayName: "Bedside",
			Protocol:    "lovense",
			Address:     "aa",
			MessageGap:  20 * time.Millisecond,
			Features: []device.DeviceFeature{
				output(device.FeatureVibrate, device.OutputVibrate, 20),
				edge,
				sensor(device.InputBattery, device.InputRead),
			},
		},
		1: {
			Index:    1,
			Name:     "Nora",
			Protocol: "lovense",
			Address:  "bb",
			Features: []device.DeviceFeature{
				output(device.FeatureVibrate, device.OutputVibrate, 20),
				output(device.FeatureRotateWithDirection, device.OutputRotateWithDirection, 20),
				output(device.FeatureOscillate, device.OutputOscillate, 10),
				output(device.FeaturePositionWithDuration, device.OutputPositionWithDuration, 99),
				sensor(device.InputBattery, device.InputRead, device.InputSubscribe),
				sensor(device.InputPressure, device.InputSubscribe),
			},
		},
	}
}

func ctx() message.ConversionContext {
	return message.ConversionContext{Devices: fixture()}
}

func TestUpgrade_PassesSharedMessages(t *testing.T) {
	for v := message.V0; v <= message.Current; v++ {
		msg := &message.StopDeviceCmd{Header: message.Header{ID: 4}, DeviceIndex: 1}
		out, err := Upgrade(v, msg, ctx())
		require.NoError(t, err, v.String())
		assert.Equal(t, msg, out)
	}
}

func TestRoundTrip_AdjacentVersions(t *testing.T) {
	d := fixture()
	tests := []struct {
		from message.SpecVersion
		msg  message.Message
	}{
		{message.V0, &message.RequestServerInfo{Header: message.Header{ID: 1}, ClientName: "c"}},
		{message.V0, &message.Test{Header: message.Header{ID: 2}, TestString: "hi"}},
		{message.V0, &v0.DeviceAdded{DeviceMessageInfo: v0.DeviceInfo(d[1])}},
		{message.V0, &v0.DeviceList{Header: message.Header{ID: 3}, Devices: []v0.DeviceMessageInfo{v0.DeviceInfo(d[0]), v0.DeviceInfo(d[1])}}},
		{message.V0, &v0.SingleMotorVibrateCmd{Header: message.Header{ID: 4}, DeviceIndex: 0, Speed: 0.5}},
		{message.V1, &v1.DeviceAdded{DeviceMessageInfo: v1.DeviceInfo(d[1])}},
		{message.V1, &v1.VibrateCmd{Header: message.Header{ID: 5}, Speeds: []v1.VibrateSubcommand{{Index: 1, Speed: 0.2}}}},
		{message.V1, &message.Ping{Header: message.Header{ID: 6}}},
		{message.V2, &v2.DeviceAdded{DeviceMessageInfo: v2.DeviceInfo(d[0])}},
		{message.V2, &v2.DeviceList{Header: message.Header{ID: 7}, Devices: []v2.DeviceMessageInfo{v2.DeviceInfo(d[1])}}},
		{message.V2, &v1.LinearCmd{Header: message.Header{ID: 8}, DeviceIndex: 1, Vectors: []v1.VectorSubcommand{{Duration: 300, Position: 0.4}}}},
		{message.V2, &message.RawReading{DeviceIndex: 1, Data: message.Bytes{1, 2}}},
		{message.V3, &v3.DeviceAdded{DeviceMessageInfo: v3.DeviceInfo(d[0])}},
		{message.V3, &v3.DeviceList{Header: message.Header{ID: 9}, Devices: []v3.DeviceMessageInfo{v3.DeviceInfo(d[0]), v3.DeviceInfo(d[1])}}},
		{message.V3, &message.StopAllDevices{Header: message.Header{ID: 10}}},
		{message.V3, &message.ServerInfo{ServerName: "plugd", MessageVersion: message.V3, MaxPingTime: 100}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.from, tt.msg.MessageName()), func(t *testing.T) {
			up, err := Step(tt.from, tt.from+1, tt.msg, ctx())
			require.NoError(t, err)
			down, err := Step(tt.from+1, tt.from, up, ctx())
			require.NoError(t, err)
			assert.Equal(t, tt.msg, down)
		})
	}
}

func TestDeviceInfo_ConsistentAcrossVersions(t *testing.T) {
	for _, def := range fixture() {
		got3, err := v4.ToV3(&v4.DeviceAdded{DeviceMessageInfo: v4.DeviceInfo(def)}, ctx())
		require.NoError(t, err)
		assert.Equal(t, &v3.DeviceAdded{DeviceMessageInfo: v3.DeviceInfo(def)}, got3)

		got2, err := v3.ToV2(got3, ctx())
		require.NoError(t, err)
		assert.Equal(t, &v2.DeviceAdded{DeviceMessageInfo: v2.DeviceInfo(def)}, got2)

		got1, err := v2.ToV1(got2, ctx())
		require.NoError(t, err)
		assert.Equal(t, &v1.DeviceAdded{DeviceMessageInfo: v1.DeviceInfo(def)}, got1)

		got0, err := v1.ToV0(got1, ctx())
		require.NoError(t, err)
		assert.Equal(t, &v0.DeviceAdded{DeviceMessageInfo: v0.DeviceInfo(def)}, got0)
	}
}

func TestDowngrade_OmitsUnrepresentableFeatures(t *testing.T) {
	def := &device.DeviceDefinition{Index: 3, Name: "Pump", Features: []device.DeviceFeature{
		output(device.FeatureOscillate, device.OutputOscillate, 10),
		sensor(device.InputPressure, device.InputRead),
	}}
	added := &v4.DeviceAdded{DeviceMessageInfo: v4.DeviceInfo(def)}

	out, err := Downgrade(message.V2, added, message.ConversionContext{})
	require.NoError(t, err)
	info := out.(*v2.DeviceAdded).DeviceMessages
	assert.Equal(t, map[string]v2.MessageAttributes{"StopDeviceCmd": {}}, info)

	out, err = Downgrade(message.V3, added, message.ConversionContext{})
	require.NoError(t, err)
	attrs := out.(*v3.DeviceAdded).DeviceMessages
	require.Len(t, attrs.ScalarCmd, 1)
	assert.Equal(t, device.OutputOscillate, attrs.ScalarCmd[0].ActuatorType)
	assert.Equal(t, uint32(10), attrs.ScalarCmd[0].StepCount)
	require.Len(t, attrs.SensorReadCmd, 1)
}

func TestDowngrade_StepLimitReported(t *testing.T) {
	out, err := Downgrade(message.V2, &v4.DeviceAdded{DeviceMessageInfo: v4.DeviceInfo(fixture()[0])}, ctx())
	require.NoError(t, err)

	assert.Equal(t, []uint32{20, 10}, out.(*v2.DeviceAdded).DeviceMessages["VibrateCmd"].StepCount)
	assert.Equal(t, "Bedside", out.(*v2.DeviceAdded).DeviceName)
}

func TestVendorCommandsAlwaysRejected(t *testing.T) {
	for v := message.V0; v <= message.V2; v++ {
		for _, msg := range []message.Message{
			&v0.LovenseCmd{Header: message.Header{ID: 1}, Command: "Vibrate:20;"},
			&v0.KiirooCmd{Header: message.Header{ID: 1}, Command: "4,"},
		} {
			_, err := Upgrade(v, msg, ctx())
			require.ErrorIs(t, err, message.ErrConversion, "%s %s", v, msg.MessageName())
			var ce *message.ConversionError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, message.ReasonVendorCommand, ce.Reason)
		}
	}
}

func TestDecode_NewerMessageIsConversionError(t *testing.T) {
	raws, err := message.Split([]byte(`[
		{"InputCmd": {"Id": 2, "DeviceIndex": 1, "FeatureIndex": 4, "InputType": "Battery", "InputCommand": "Subscribe"}},
		{"SensorSubscribeCmd": {"Id": 3, "DeviceIndex": 1, "SensorIndex": 0, "SensorType": "Battery"}},
		{"Bogus": {"Id": 4}}
	]`))
	require.NoError(t, err)

	_, err = Decode(message.V2, raws[0])
	assert.ErrorIs(t, err, message.ErrConversion)
	_, err = Decode(message.V2, raws[1])
	assert.ErrorIs(t, err, message.ErrConversion)
	_, err = Decode(message.V2, raws[2])
	assert.ErrorIs(t, err, message.ErrUnknownMessage)

	msg, err := Decode(message.V4, raws[0])
	require.NoError(t, err)
	assert.Equal(t, device.InputSubscribe, msg.(*v4.InputCmd).InputCommand)
}

func TestDecode_RemovedMessage(t *testing.T) {
	raws, err := message.Split([]byte(`[{"Test": {"Id": 2, "TestString": "x"}}]`))
	require.NoError(t, err)

	_, err = Decode(message.V1, raws[0])
	require.NoError(t, err)
	_, err = Decode(message.V3, raws[0])
	assert.ErrorIs(t, err, message.ErrUnknownMessage)
}

func TestUpgrade_ScalarToSteps(t *testing.T) {
	msg := &v3.ScalarCmd{Header: message.Header{ID: 5}, DeviceIndex: 1, Scalars: []v3.ScalarSubcommand{
		{Index: 0, Scalar: 0.5, ActuatorType: device.OutputVibrate},
		{Index: 1, Scalar: 0.51, ActuatorType: device.OutputOscillate},
	}}

	out, err := Upgrade(message.V3, msg, ctx())
	require.NoError(t, err)
	batch := out.(*v4.OutputBatch)
	assert.Equal(t, uint32(5), batch.MessageID())
	assert.Equal(t, []device.OutputRequest{
		{FeatureIndex: 0, Type: device.OutputVibrate, Value: 10},
		{FeatureIndex: 2, Type: device.OutputOscillate, Value: 6},
	}, batch.Commands)
}

func TestUpgrade_ScalarTypeMismatch(t *testing.T) {
	msg := &v3.ScalarCmd{DeviceIndex: 1, Scalars: []v3.ScalarSubcommand{{Index: 0, Scalar: 0.5, ActuatorType: device.OutputRotate}}}
	_, err := Upgrade(message.V3, msg, ctx())
	assert.ErrorIs(t, err, device.ErrInvalidFeature)
}

func TestUpgrade_VibrateUsesStepLimit(t *testing.T) {
	msg := &v1.VibrateCmd{DeviceIndex: 0, Speeds: []v1.VibrateSubcommand{{Index: 0, Speed: 1}, {Index: 1, Speed: 1}}}
	out, err := Upgrade(message.V1, msg, ctx())
	require.NoError(t, err)

	cmds := out.(*v4.OutputBatch).Commands
	assert.Equal(t, int32(20), cmds[0].Value)
	assert.Equal(t, int32(10), cmds[1].Value)
}

func TestUpgrade_BadIndex(t *testing.T) {
	msg := &v1.VibrateCmd{DeviceIndex: 0, Speeds: []v1.VibrateSubcommand{{Index: 5, Speed: 1}}}
	_, err := Upgrade(message.V1, msg, ctx())
	assert.ErrorIs(t, err, device.ErrInvalidFeature)

	_, err = Upgrade(message.V1, &v1.VibrateCmd{DeviceIndex: 9}, ctx())
	assert.ErrorIs(t, err, device.ErrNotFound)
}

func TestUpgrade_LegacyDeviceCommands(t *testing.T) {
	out, err := Upgrade(message.V0, &v0.SingleMotorVibrateCmd{Header: message.Header{ID: 1}, DeviceIndex: 0, Speed: 0.5}, ctx())
	require.NoError(t, err)
	assert.Equal(t, []device.OutputRequest{
		{FeatureIndex: 0, Type: device.OutputVibrate, Value: 10},
		{FeatureIndex: 1, Type: device.OutputVibrate, Value: 5},
	}, out.(*v4.OutputBatch).Commands)

	out, err = Upgrade(message.V0, &v0.VorzeA10CycloneCmd{DeviceIndex: 1, Speed: 99, Clockwise: true}, ctx())
	require.NoError(t, err)
	assert.Equal(t, []device.OutputRequest{
		{FeatureIndex: 1, Type: device.OutputRotateWithDirection, Value: 20, Clockwise: true},
	}, out.(*v4.OutputBatch).Commands)

	out, err = Upgrade(message.V2, &v0.FleshlightLaunchFW12Cmd{DeviceIndex: 1, Position: 99, Speed: 50}, ctx())
	require.NoError(t, err)
	cmd := out.(*v4.OutputBatch).Commands[0]
	assert.Equal(t, int32(99), cmd.Value)
	assert.Equal(t, v3.FleshlightDuration(50), cmd.Duration)

	_, err = Upgrade(message.V0, &v0.VorzeA10CycloneCmd{DeviceIndex: 1, Speed: 100}, ctx())
	assert.ErrorIs(t, err, device.ErrStepRange)
}

func TestFleshlightDuration_FasterIsShorter(t *testing.T) {
	assert.Less(t, v3.FleshlightDuration(99), v3.FleshlightDuration(50))
	assert.Less(t, v3.FleshlightDuration(50), v3.FleshlightDuration(1))
	assert.Equal(t, v3.FleshlightDuration(0), v3.FleshlightDuration(1))
}

func TestBatteryReadingForV2(t *testing.T) {
	req := &v2.BatteryLevelCmd{Header: message.Header{ID: 11}, DeviceIndex: 1}
	up, err := Upgrade(message.V2, req, ctx())
	require.NoError(t, err)
	in := up.(*v4.InputCmd)
	assert.Equal(t, uint32(4), in.FeatureIndex)
	assert.Equal(t, device.InputRead, in.InputCommand)

	reading := v4.NewInputReading(11, device.InputReading{DeviceIndex: 1, FeatureIndex: 4, Type: device.InputBattery, Value: 64})
	out, err := Downgrade(message.V2, reading, message.ConversionContext{Devices: fixture(), Request: req})
	require.NoError(t, err)
	assert.Equal(t, &v2.BatteryLevelReading{Header: message.Header{ID: 11}, DeviceIndex: 1, BatteryLevel: 0.64}, out)

	_, err = Downgrade(message.V2, reading, ctx())
	assert.ErrorIs(t, err, message.ErrConversion)
}

func TestSubscribedReadingForV3(t *testing.T) {
	reading := v4.NewInputReading(message.SystemID, device.InputReading{DeviceIndex: 1, FeatureIndex: 5, Type: device.InputPressure, Value: 7})
	out, err := Downgrade(message.V3, reading, ctx())
	require.NoError(t, err)

	got := out.(*v3.SensorReading)
	assert.Equal(t, uint32(1), got.SensorIndex)
	assert.Equal(t, []int32{7}, got.Data)
}

func TestSensorSubscribeUpgrade(t *testing.T) {
	out, err := Upgrade(message.V3, &v3.SensorSubscribeCmd{DeviceIndex: 1, SensorIndex: 1, SensorType: device.InputPressure}, ctx())
	require.NoError(t, err)
	assert.Equal(t, &v4.InputCmd{DeviceIndex: 1, FeatureIndex: 5, InputType: device.InputPressure, InputCommand: device.InputSubscribe}, out)

	_, err = Upgrade(message.V3, &v3.SensorReadCmd{DeviceIndex: 1, SensorIndex: 0, SensorType: device.InputPressure}, ctx())
	assert.ErrorIs(t, err, device.ErrInvalidFeature)
}

func TestDowngrade_NewMessagesFail(t *testing.T) {
	_, err := Downgrade(message.V3, &v4.OutputCmd{DeviceIndex: 0}, ctx())
	assert.ErrorIs(t, err, message.ErrConversion)

	_, err = Downgrade(message.V1, &message.RawReading{}, ctx())
	assert.ErrorIs(t, err, message.ErrConversion)
}

func TestOutputCmd_WireShape(t *testing.T) {
	raws, err := message.Split([]byte(`[{"OutputCmd": {"Id": 1, "DeviceIndex": 0, "FeatureIndex": 1, "Command": {"RotateWithDirection": {"Value": 5, "Clockwise": true}}}}]`))
	require.NoError(t, err)
	msg, err := Decode(message.V4, raws[0])
	require.NoError(t, err)

	cmd := msg.(*v4.OutputCmd)
	assert.Equal(t, device.OutputRequest{FeatureIndex: 1, Type: device.OutputRotateWithDirection, Value: 5, Clockwise: true}, cmd.Request())

	data, err := message.Encode(cmd)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"OutputCmd": {"Id": 1, "DeviceIndex": 0, "FeatureIndex": 1, "Command": {"RotateWithDirection": {"Value": 5, "Clockwise": true}}}}]`, string(data))

	raws, err = message.Split([]byte(`[{"OutputCmd": {"Id": 1, "DeviceIndex": 0, "FeatureIndex": 1, "Command": {"Spin": {"Value": 5}}}}]`))
	require.NoError(t, err)
	_, err = Decode(message.V4, raws[0])
	assert.ErrorIs(t, err, message.ErrMalformed)
}

func TestVersionBounds(t *testing.T) {
	_, err := Table(message.SpecVersion(9))
	assert.ErrorIs(t, err, ErrVersion)
	_, err = Step(message.V0, message.V2, &message.Ping{}, ctx())
	assert.ErrorIs(t, err, ErrVersion)
}
