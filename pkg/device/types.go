package device

import (
	"encoding/json"
	"fmt"

	"github.com/urmzd/plugd/pkg/device/hardware"
)

// FeatureType is the primary kind of a feature as shown to clients.
type FeatureType string

const (
	FeatureVibrate              FeatureType = "Vibrate"
	FeatureRotate               FeatureType = "Rotate"
	FeatureRotateWithDirection  FeatureType = "RotateWithDirection"
	FeatureOscillate            FeatureType = "Oscillate"
	FeatureConstrict            FeatureType = "Constrict"
	FeatureInflate              FeatureType = "Inflate"
	FeaturePosition             FeatureType = "Position"
	FeaturePositionWithDuration FeatureType = "PositionWithDuration"
	FeatureLed                  FeatureType = "Led"
	FeatureBattery              FeatureType = "Battery"
	FeatureRSSI                 FeatureType = "RSSI"
	FeaturePressure             FeatureType = "Pressure"
	FeatureButton               FeatureType = "Button"
	FeatureRaw                  FeatureType = "Raw"
	FeatureUnknown              FeatureType = "Unknown"
)

// OutputType is an actuator command kind.
type OutputType string

const (
	OutputVibrate              OutputType = "Vibrate"
	OutputRotate               OutputType = "Rotate"
	OutputRotateWithDirection  OutputType = "RotateWithDirection"
	OutputOscillate            OutputType = "Oscillate"
	OutputConstrict            OutputType = "Constrict"
	OutputInflate              OutputType = "Inflate"
	OutputLed                  OutputType = "Led"
	OutputPosition             OutputType = "Position"
	OutputPositionWithDuration OutputType = "PositionWithDuration"
)

// OutputTypes lists every output type in a stable order.
var OutputTypes = []OutputType{
	OutputVibrate,
	OutputRotate,
	OutputRotateWithDirection,
	OutputOscillate,
	OutputConstrict,
	OutputInflate,
	OutputLed,
	OutputPosition,
	OutputPositionWithDuration,
}

// Valid reports whether t is a known output type.
func (t OutputType) Valid() bool {
	for _, o := range OutputTypes {
		if o == t {
			return true
		}
	}
	return false
}

// Stoppable reports whether a stop request drives this output to zero.
// Positional outputs hold their position instead.
func (t OutputType) Stoppable() bool {
	return t != OutputPosition && t != OutputPositionWithDuration
}

// InputType is a sensor kind.
type InputType string

const (
	InputBattery  InputType = "Battery"
	InputRSSI     InputType = "RSSI"
	InputPressure InputType = "Pressure"
	InputButton   InputType = "Button"
)

// Valid reports whether t is a known input type.
func (t InputType) Valid() bool {
	switch t {
	case InputBattery, InputRSSI, InputPressure, InputButton:
		return true
	}
	return false
}

// InputCommand is an operation on a sensor.
type InputCommand string

const (
	InputRead        InputCommand = "Read"
	InputSubscribe   InputCommand = "Subscribe"
	InputUnsubscribe InputCommand = "Unsubscribe"
)

// RangeInclusive is an integer interval [Start, End]. It is encoded as a
// two-element JSON array.
type RangeInclusive struct {
	Start int32
	End   int32
}

// Range builds a RangeInclusive.
func Range(start, end int32) RangeInclusive {
	return RangeInclusive{Start: start, End: end}
}

// Valid reports whether Start <= End.
func (r RangeInclusive) Valid() bool { return r.Start <= r.End }

// Contains reports whether v lies within the range.
func (r RangeInclusive) Contains(v int32) bool { return v >= r.Start && v <= r.End }

// SubsetOf reports whether r lies entirely within outer.
func (r RangeInclusive) SubsetOf(outer RangeInclusive) bool {
	return r.Start >= outer.Start && r.End <= outer.End
}

// Span returns End - Start.
func (r RangeInclusive) Span() uint32 {
	if r.End < r.Start {
		return 0
	}
	return uint32(r.End - r.Start)
}

func (r RangeInclusive) String() string {
	return fmt.Sprintf("[%d, %d]", r.Start, r.End)
}

func (r RangeInclusive) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int32{r.Start, r.End})
}

func (r *RangeInclusive) UnmarshalJSON(data []byte) error {
	var pair [2]int32
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("range must be [start, end]: %w", err)
	}
	r.Start, r.End = pair[0], pair[1]
	return nil
}

// InputReading is a decoded sensor value.
type InputReading struct {
	DeviceIndex  uint32    `json:"device_index"`
	FeatureIndex uint32    `json:"feature_index"`
	Type         InputType `json:"type"`
	Value        int32     `json:"value"`
}

// RawReading is data from a raw endpoint subscription.
type RawReading struct {
	DeviceIndex uint32            `json:"device_index"`
	Endpoint    hardware.Endpoint `json:"endpoint"`
	Data        []byte            `json:"data"`
}

// Event is published by a controller when the device set or a sensor changes.
type Event struct {
	Type    string            `json:"type"`
	Device  *DeviceDefinition `json:"device,omitempty"`
	Index   uint32            `json:"index"`
	Reading *InputReading     `json:"reading,omitempty"`
	Raw     *RawReading       `json:"raw,omitempty"`
	Detail  string            `json:"detail,omitempty"`
}

// Event type constants
const (
	EventDeviceAdded      = "device_added"
	EventDeviceRemoved    = "device_removed"
	EventScanningFinished = "scanning_finished"
	EventInputReading     = "input_reading"
	EventRawReading       = "raw_reading"
	EventPipelineOutcome  = "pipeline_outcome"
)
