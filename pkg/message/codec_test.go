package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urmzd/plugd/pkg/device/hardware"
)

func TestEncode_Envelope(t *testing.T) {
	data, err := Encode(NewOk(3), &DeviceRemoved{Header: Header{ID: SystemID}, DeviceIndex: 2})
	require.NoError(t, err)

	assert.JSONEq(t, `[{"Ok": {"Id": 3}}, {"DeviceRemoved": {"Id": 0, "DeviceIndex": 2}}]`, string(data))
}

func TestSplitAndDecode(t *testing.T) {
	raws, err := Split([]byte(`[{"StopDeviceCmd": {"Id": 7, "DeviceIndex": 1}}, {"Ping": {"Id": 8}}]`))
	require.NoError(t, err)
	require.Len(t, raws, 2)
	assert.Equal(t, "StopDeviceCmd", raws[0].Name)
	assert.Equal(t, uint32(7), raws[0].ID)

	msg, err := Common().Decode(raws[0])
	require.NoError(t, err)
	stop, ok := msg.(*StopDeviceCmd)
	require.True(t, ok)
	assert.Equal(t, uint32(1), stop.TargetDevice())
	assert.Equal(t, uint32(7), stop.MessageID())
}

func TestSplit_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{`},
		{"not an array", `{"Ping": {"Id": 1}}`},
		{"two keys", `[{"Ping": {"Id": 1}, "Ok": {"Id": 1}}]`},
		{"bad id", `[{"Ping": {"Id": "x"}}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Split([]byte(tt.data))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDecode_RejectsUnknownFields(t *testing.T) {
	_, err := Common().Decode(Raw{Name: "Ping", ID: 1, Body: []byte(`{"Id": 1, "Extra": true}`)})
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Common().Decode(Raw{Name: "Nope", ID: 1, Body: []byte(`{"Id": 1}`)})
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

func TestBytes_NumberArray(t *testing.T) {
	data, err := Encode(&RawWriteCmd{Header: Header{ID: 1}, Endpoint: hardware.EndpointTx, Data: Bytes{0x01, 0xff}})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"RawWriteCmd": {"Id": 1, "DeviceIndex": 0, "Endpoint": "tx", "Data": [1, 255], "WriteWithResponse": false}}]`, string(data))

	var b Bytes
	assert.Error(t, b.UnmarshalJSON([]byte(`[256]`)))
	require.NoError(t, b.UnmarshalJSON([]byte(`[0, 16]`)))
	assert.Equal(t, Bytes{0x00, 0x10}, b)
}

func TestTable_Has(t *testing.T) {
	table := Common()
	assert.True(t, table.Has(&Ping{}))
	assert.False(t, table.Has(&Test{}))
	assert.Contains(t, table.Without("Ping").Names(), "Ok")
	assert.NotContains(t, table.Without("Ping").Names(), "Ping")
}

func TestConversionError_Matches(t *testing.T) {
	err := error(Unconvertible(&Test{}, V1, V2, "gone"))
	assert.ErrorIs(t, err, ErrConversion)
	assert.Contains(t, err.Error(), "Test")
}
