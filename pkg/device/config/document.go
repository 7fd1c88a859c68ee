package config

import (
	"github.com/google/uuid"
	"github.com/urmzd/plugd/pkg/device"
	"github.com/urmzd/plugd/pkg/device/hardware"
)

// Version is the document version. Only SupportedMajor loads.
type Version struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
}

// Communication declares one transport specifier. Exactly one field is set.
type Communication struct {
	BTLE      *hardware.BTLESpecifier      `json:"btle,omitempty"`
	Serial    *hardware.SerialSpecifier    `json:"serial,omitempty"`
	USB       *hardware.USBSpecifier       `json:"usb,omitempty"`
	HID       *hardware.HIDSpecifier       `json:"hid,omitempty"`
	Websocket *hardware.WebsocketSpecifier `json:"websocket,omitempty"`
}

// Specifier returns whichever specifier is set.
func (c Communication) Specifier() hardware.Specifier {
	switch {
	case c.BTLE != nil:
		return c.BTLE
	case c.Serial != nil:
		return c.Serial
	case c.USB != nil:
		return c.USB
	case c.HID != nil:
		return c.HID
	case c.Websocket != nil:
		return c.Websocket
	}
	return nil
}

// Attributes is a named feature set.
type Attributes struct {
	Name         string                 `json:"name,omitempty"`
	MessageGapMS *uint32                `json:"message_gap_ms,omitempty"`
	Features     []device.DeviceFeature `json:"features,omitempty"`
}

// Configuration is a feature set selected by identifier. Identifiers match
// the protocol-reported variant exactly, or the hardware name as a pattern.
type Configuration struct {
	Identifier []string `json:"identifier"`
	Attributes
}

// Protocol is one protocol's entry in the base document.
type Protocol struct {
	Communication  []Communication `json:"communication"`
	Defaults       *Attributes     `json:"defaults,omitempty"`
	Configurations []Configuration `json:"configurations,omitempty"`
}

// BaseDocument is the protocol declaration document.
type BaseDocument struct {
	Version   Version             `json:"version"`
	Protocols map[string]Protocol `json:"protocols"`
}

// OutputOverride narrows one output's range.
type OutputOverride struct {
	StepLimit *device.RangeInclusive `json:"step_limit,omitempty"`
}

// FeatureOverride targets a base feature by id.
type FeatureOverride struct {
	ID     uuid.UUID                            `json:"id"`
	Output map[device.OutputType]OutputOverride `json:"output,omitempty"`
}

// UserDeviceConfig is one device's user customization.
type UserDeviceConfig struct {
	DisplayName  string            `json:"display_name,omitempty"`
	Allow        bool              `json:"allow,omitempty"`
	Deny         bool              `json:"deny,omitempty"`
	Index        *uint32           `json:"index,omitempty"`
	MessageGapMS *uint32           `json:"message_gap_ms,omitempty"`
	Features     []FeatureOverride `json:"features,omitempty"`
}

// UserDevice pairs an identifier with its customization.
type UserDevice struct {
	Identifier device.UserDeviceIdentifier `json:"identifier"`
	Config     UserDeviceConfig            `json:"config"`
}

// UserDocument is the user override document.
type UserDocument struct {
	Version     Version `json:"version"`
	UserConfigs struct {
		Devices []UserDevice `json:"devices"`
	} `json:"user_configs"`
}
