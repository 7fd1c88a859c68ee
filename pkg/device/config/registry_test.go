package config

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urmzd/plugd/pkg/device"
	"github.com/urmzd/plugd/pkg/device/hardware"
)

func featureID(protocol, set string, i int) uuid.UUID {
	return uuid.NewSHA1(featureNamespace, []byte(fmt.Sprintf("%s/%s/%d", protocol, set, i)))
}

func userDoc(devices string) []byte {
	return []byte(`{"version": {"major": 4, "minor": 0}, "user_configs": {"devices": [` + devices + `]}}`)
}

func TestLoad_EmbeddedDefault(t *testing.T) {
	r, err := Load(nil, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"galaku", "kiiroo-v2", "lelo-f1sv2", "lovense", "mysteryvibe", "satisfyer", "vorze-sa", "wevibe"}, r.ProtocolNames())
}

func TestLoad_RejectsVersion(t *testing.T) {
	_, err := Load([]byte(`{"version": {"major": 5, "minor": 0}, "protocols": {}}`), nil)
	require.ErrorIs(t, err, ErrVersion)
	assert.ErrorIs(t, err, ErrConfig)

	_, err = Load(nil, []byte(`{"version": {"major": 3, "minor": 9}}`))
	assert.ErrorIs(t, err, ErrVersion)
}

func TestLoad_RejectsSchemaViolation(t *testing.T) {
	_, err := Load([]byte(`{"protocols": {}}`), nil)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestLoad_RejectsAllowAndDeny(t *testing.T) {
	user := userDoc(`{"identifier": {"address": "aa", "protocol": "lovense"}, "config": {"allow": true, "deny": true}}`)
	_, err := Load(nil, user)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestLoad_RejectsUnknownProtocol(t *testing.T) {
	user := userDoc(`{"identifier": {"address": "aa", "protocol": "nope"}, "config": {"deny": true}}`)
	_, err := Load(nil, user)
	assert.ErrorIs(t, err, ErrUnknownProtocol)
}

func TestLoad_RejectsLimitOutsideRange(t *testing.T) {
	id := featureID("lovense", "defaults", 0)
	user := userDoc(fmt.Sprintf(`{"identifier": {"address": "aa", "protocol": "lovense"},
		"config": {"features": [{"id": %q, "output": {"Vibrate": {"step_limit": [0, 21]}}}]}}`, id))

	_, err := Load(nil, user)
	require.ErrorIs(t, err, device.ErrStepRange)
}

func TestLoad_RejectsUnknownFeature(t *testing.T) {
	user := userDoc(fmt.Sprintf(`{"identifier": {"address": "aa", "protocol": "lovense"},
		"config": {"features": [{"id": %q}]}}`, uuid.New()))

	_, err := Load(nil, user)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestProtocolsFor(t *testing.T) {
	r, err := Load(nil, nil)
	require.NoError(t, err)

	matches := r.ProtocolsFor(&hardware.BTLESpecifier{Names: []string{"LVS-Edge"}})
	require.Len(t, matches, 1)
	assert.Equal(t, "lovense", matches[0].Protocol)

	matches = r.ProtocolsFor(&hardware.SerialSpecifier{Port: "/dev/ttyACM0"})
	require.Len(t, matches, 1)
	assert.Equal(t, "vorze-sa", matches[0].Protocol)

	matches = r.ProtocolsFor(&hardware.BTLESpecifier{ManufacturerData: []hardware.ManufacturerData{{Company: 1265}}})
	require.Len(t, matches, 1)
	assert.Equal(t, "satisfyer", matches[0].Protocol)

	assert.Empty(t, r.ProtocolsFor(&hardware.BTLESpecifier{Names: []string{"Unknown"}}))
}

func TestSpecifiers(t *testing.T) {
	r, err := Load(nil, nil)
	require.NoError(t, err)

	ws := r.Specifiers(hardware.TransportWebsocket)
	require.Len(t, ws, 1)
	assert.Equal(t, "lovense", ws[0].Protocol)
}

func TestDefinition_Resolution(t *testing.T) {
	r, err := Load(nil, nil)
	require.NoError(t, err)

	tests := []struct {
		name         string
		id           device.UserDeviceIdentifier
		hardwareName string
		wantName     string
		wantFeatures int
	}{
		{"exact identifier", device.UserDeviceIdentifier{Address: "a1", Protocol: "lovense", Identifier: "C"}, "LVS-Nora", "Lovense Nora", 3},
		{"unknown identifier uses defaults", device.UserDeviceIdentifier{Address: "a2", Protocol: "lovense", Identifier: "Z"}, "LVS-Z", "Lovense Device", 2},
		{"name pattern", device.UserDeviceIdentifier{Address: "a3", Protocol: "vorze-sa"}, "UFOSA", "Vorze UFO SA", 1},
		{"no match uses defaults", device.UserDeviceIdentifier{Address: "a4", Protocol: "vorze-sa"}, "CycSA", "Vorze A10 Cyclone SA", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, err := r.Definition(tt.id, tt.hardwareName)
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, def.Name)
			assert.Len(t, def.Features, tt.wantFeatures)
			assert.Equal(t, tt.id.Address, def.Address)
		})
	}
}

func TestDefinition_StableIDs(t *testing.T) {
	r, err := Load(nil, nil)
	require.NoError(t, err)
	id := device.UserDeviceIdentifier{Address: "a1", Protocol: "wevibe"}

	first, err := r.Definition(id, "Sync")
	require.NoError(t, err)
	second, err := r.Definition(id, "Sync")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Features[0].ID, second.Features[0].ID)
	assert.Equal(t, featureID("wevibe", "defaults", 0), first.Features[0].ID)
	assert.Equal(t, 20*time.Millisecond, first.MessageGap)
}

func TestDefinition_UnknownProtocol(t *testing.T) {
	r, err := Load(nil, nil)
	require.NoError(t, err)

	_, err = r.Definition(device.UserDeviceIdentifier{Address: "a", Protocol: "nope"}, "x")
	assert.ErrorIs(t, err, ErrUnknownProtocol)
}

func TestDefinition_AppliesUserConfig(t *testing.T) {
	id := featureID("lovense", "0", 1)
	user := userDoc(fmt.Sprintf(`{"identifier": {"address": "aa", "protocol": "lovense", "identifier": "P"},
		"config": {"display_name": "Bedside", "message_gap_ms": 50,
		"features": [{"id": %q, "output": {"Vibrate": {"step_limit": [0, 10]}}}]}}`, id))
	r, err := Load(nil, user)
	require.NoError(t, err)

	def, err := r.Definition(device.UserDeviceIdentifier{Address: "aa", Protocol: "lovense", Identifier: "P"}, "LVS-Edge")
	require.NoError(t, err)

	assert.Equal(t, "Bedside", def.Label())
	assert.Equal(t, 50*time.Millisecond, def.MessageGap)
	require.NotNil(t, def.Features[1].Output[device.OutputVibrate].StepLimit)
	assert.Equal(t, device.Range(0, 10), *def.Features[1].Output[device.OutputVibrate].StepLimit)
	assert.Nil(t, def.Features[0].Output[device.OutputVibrate].StepLimit)

	// A second device of the same variant must see the untouched base.
	other, err := r.Definition(device.UserDeviceIdentifier{Address: "bb", Protocol: "lovense", Identifier: "P"}, "LVS-Edge")
	require.NoError(t, err)
	assert.Nil(t, other.Features[1].Output[device.OutputVibrate].StepLimit)
}

func TestDefinition_AddressWideConfig(t *testing.T) {
	user := userDoc(`{"identifier": {"address": "aa", "protocol": "lovense"}, "config": {"display_name": "Any"}}`)
	r, err := Load(nil, user)
	require.NoError(t, err)

	def, err := r.Definition(device.UserDeviceIdentifier{Address: "aa", Protocol: "lovense", Identifier: "B"}, "LVS-Max")
	require.NoError(t, err)
	assert.Equal(t, "Any", def.DisplayName)
}

func TestDeniedAndAllowed(t *testing.T) {
	r, err := Load(nil, userDoc(`{"identifier": {"address": "bad", "protocol": "lovense"}, "config": {"deny": true}}`))
	require.NoError(t, err)

	assert.True(t, r.Denied("bad"))
	assert.False(t, r.Denied("good"))
	assert.True(t, r.Allowed("good"), "no allow entries admits everything")

	require.NoError(t, r.SetUserConfig(device.UserDeviceIdentifier{Address: "pet", Protocol: "wevibe"}, UserDeviceConfig{Allow: true}))
	assert.True(t, r.Allowed("pet"))
	assert.False(t, r.Allowed("good"))

	r.RemoveUserConfig(device.UserDeviceIdentifier{Address: "pet", Protocol: "wevibe"})
	assert.True(t, r.Allowed("good"))
}

func TestReservedIndex(t *testing.T) {
	r, err := Load(nil, userDoc(`{"identifier": {"address": "aa", "protocol": "lovense"}, "config": {"index": 7}}`))
	require.NoError(t, err)

	idx, ok := r.ReservedIndex("aa")
	require.True(t, ok)
	assert.Equal(t, uint32(7), idx)

	_, ok = r.ReservedIndex("bb")
	assert.False(t, ok)
}

func TestSetUserConfig_Validates(t *testing.T) {
	r, err := Load(nil, nil)
	require.NoError(t, err)

	err = r.SetUserConfig(device.UserDeviceIdentifier{Address: "aa", Protocol: "lovense"}, UserDeviceConfig{Allow: true, Deny: true})
	assert.ErrorIs(t, err, ErrConfig)

	limit := device.Range(5, 30)
	err = r.SetUserConfig(device.UserDeviceIdentifier{Address: "aa", Protocol: "lovense"}, UserDeviceConfig{
		Features: []FeatureOverride{{ID: featureID("lovense", "defaults", 0), Output: map[device.OutputType]OutputOverride{
			device.OutputVibrate: {StepLimit: &limit},
		}}},
	})
	assert.ErrorIs(t, err, device.ErrStepRange)
	assert.Empty(t, r.UserConfigs())
}
