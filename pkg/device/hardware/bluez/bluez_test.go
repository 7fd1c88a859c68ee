package bluez

import (
	"testing"

	dbus "github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urmzd/plugd/pkg/device/hardware"
)

const devPath = dbus.ObjectPath("/org/bluez/hci0/dev_C4_4F_33_0A_1B_2C")

func TestParseDevice(t *testing.T) {
	adv, ok := parseDevice(devPath, map[string]dbus.Variant{
		"Alias": dbus.MakeVariant("LVS-Edge"),
		"ManufacturerData": dbus.MakeVariant(map[uint16]dbus.Variant{
			0x0f00: dbus.MakeVariant([]byte{0x01}),
			0x0001: dbus.MakeVariant([]byte{0xaa, 0xbb}),
		}),
	})
	require.True(t, ok)
	assert.Equal(t, "C4:4F:33:0A:1B:2C", adv.Address, "address falls back to the object path")
	assert.Equal(t, "LVS-Edge", adv.Name)
	assert.Equal(t, []hardware.ManufacturerData{
		{Company: 0x0001, Data: []byte{0xaa, 0xbb}},
		{Company: 0x0f00, Data: []byte{0x01}},
	}, adv.Specifier.ManufacturerData)

	assert.True(t, matchesAny([]*hardware.BTLESpecifier{{Names: []string{"LVS-*"}}}, adv.Specifier))
	assert.False(t, matchesAny([]*hardware.BTLESpecifier{{Names: []string{"WeVibe"}}}, adv.Specifier))

	_, ok = parseDevice("/org/bluez/hci0/other", map[string]dbus.Variant{})
	assert.False(t, ok, "no name and no address")
}

func TestResolveEndpoints(t *testing.T) {
	svc := devPath + "/service000c"
	objs := managedObjects{
		svc: {serviceIface: {"UUID": dbus.MakeVariant("5A300001-0023-4BD4-BBD5-A6920E4C5653")}},
		svc + "/char000d": {charIface: {
			"UUID":    dbus.MakeVariant("5a300002-0023-4bd4-bbd5-a6920e4c5653"),
			"Service": dbus.MakeVariant(svc),
		}},
		svc + "/char000f": {charIface: {
			"UUID":    dbus.MakeVariant("5a300003-0023-4bd4-bbd5-a6920e4c5653"),
			"Service": dbus.MakeVariant(svc),
		}},
		"/org/bluez/hci0/dev_00_00_00_00_00_01/service0001/char0002": {charIface: {
			"UUID": dbus.MakeVariant("5a300002-0023-4bd4-bbd5-a6920e4c5653"),
		}},
	}

	chars := gattChars(objs, devPath)
	require.Len(t, chars, 2, "characteristics of other devices are ignored")

	declared := &hardware.BTLESpecifier{
		Names: []string{"LVS-*"},
		Services: map[string]map[hardware.Endpoint]string{
			"5a300001-0023-4bd4-bbd5-a6920e4c5653": {
				hardware.EndpointTx:      "5A300002-0023-4BD4-BBD5-A6920E4C5653",
				hardware.EndpointRx:      "5a300003-0023-4bd4-bbd5-a6920e4c5653",
				hardware.EndpointCommand: "5a300009-0023-4bd4-bbd5-a6920e4c5653",
			},
		},
	}
	got := resolveEndpoints(declared, chars)
	assert.Equal(t, map[hardware.Endpoint]dbus.ObjectPath{
		hardware.EndpointTx: svc + "/char000d",
		hardware.EndpointRx: svc + "/char000f",
	}, got)
}

func TestMacFromPath(t *testing.T) {
	assert.Equal(t, "C4:4F:33:0A:1B:2C", macFromPath(devPath))
	assert.Empty(t, macFromPath("/org/bluez/hci0"))
}
