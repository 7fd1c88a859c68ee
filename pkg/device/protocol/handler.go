// Package protocol defines the contract between the device manager and
// vendor protocol handlers, along with the shared pieces every handler
// builds on: the command diff cache, sensor subscription refcounting and
// identify/initialize plumbing.
package protocol

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/urmzd/plugd/pkg/broadcast"
	"github.com/urmzd/plugd/pkg/device"
	"github.com/urmzd/plugd/pkg/device/hardware"
)

// Handler translates abstract output and input requests into hardware
// commands for one connected device. Output methods are pure: they only
// build commands. Input methods talk to the hardware directly.
type Handler interface {
	KeepaliveStrategy() KeepaliveStrategy

	// NeedsFullCommandSet reports whether every write must carry the value
	// of every output. Such handlers receive OutputVector calls.
	NeedsFullCommandSet() bool

	OutputVibrate(featureIndex uint32, featureID uuid.UUID, value int32) ([]hardware.Command, error)
	OutputRotate(featureIndex uint32, featureID uuid.UUID, value int32) ([]hardware.Command, error)
	OutputRotateWithDirection(featureIndex uint32, featureID uuid.UUID, value int32, clockwise bool) ([]hardware.Command, error)
	OutputOscillate(featureIndex uint32, featureID uuid.UUID, value int32) ([]hardware.Command, error)
	OutputConstrict(featureIndex uint32, featureID uuid.UUID, value int32) ([]hardware.Command, error)
	OutputInflate(featureIndex uint32, featureID uuid.UUID, value int32) ([]hardware.Command, error)
	OutputLed(featureIndex uint32, featureID uuid.UUID, value int32) ([]hardware.Command, error)
	OutputPosition(featureIndex uint32, featureID uuid.UUID, value int32) ([]hardware.Command, error)
	OutputPositionWithDuration(featureIndex uint32, featureID uuid.UUID, position int32, duration uint32) ([]hardware.Command, error)

	// OutputVector builds one write from the full value set, indexed by
	// feature. Nil entries are features without outputs.
	OutputVector(values []*OutputValue) ([]hardware.Command, error)

	InputRead(ctx context.Context, hw *hardware.Hardware, featureIndex uint32, featureID uuid.UUID, t device.InputType) (device.InputReading, error)
	InputSubscribe(ctx context.Context, hw *hardware.Hardware, featureIndex uint32, featureID uuid.UUID, t device.InputType) error
	InputUnsubscribe(ctx context.Context, hw *hardware.Hardware, featureIndex uint32, featureID uuid.UUID, t device.InputType) error

	// Readings carries values produced by active subscriptions. DeviceIndex
	// is left zero for the caller to fill in.
	Readings() *broadcast.Hub[device.InputReading]
}

// Staged is implemented by handlers whose output methods stage device
// state that only holds once the planned write lands. Whoever writes the
// output of Plan reports the outcome through Settle.
type Staged interface {
	Commit()
	Rollback()
}

// Settle commits h's staged state after a successful write and rolls it
// back after a failed plan or write. Handlers that stage nothing are left
// alone.
func Settle(h Handler, err error) {
	st, ok := h.(Staged)
	if !ok {
		return
	}
	if err != nil {
		st.Rollback()
		return
	}
	st.Commit()
}

// Dispatch routes one diffed value to the matching handler method.
func Dispatch(h Handler, featureIndex uint32, featureID uuid.UUID, v OutputValue) ([]hardware.Command, error) {
	switch v.Type {
	case device.OutputVibrate:
		return h.OutputVibrate(featureIndex, featureID, v.Value)
	case device.OutputRotate:
		return h.OutputRotate(featureIndex, featureID, v.Value)
	case device.OutputRotateWithDirection:
		return h.OutputRotateWithDirection(featureIndex, featureID, v.Value, v.Clockwise)
	case device.OutputOscillate:
		return h.OutputOscillate(featureIndex, featureID, v.Value)
	case device.OutputConstrict:
		return h.OutputConstrict(featureIndex, featureID, v.Value)
	case device.OutputInflate:
		return h.OutputInflate(featureIndex, featureID, v.Value)
	case device.OutputLed:
		return h.OutputLed(featureIndex, featureID, v.Value)
	case device.OutputPosition:
		return h.OutputPosition(featureIndex, featureID, v.Value)
	case device.OutputPositionWithDuration:
		return h.OutputPositionWithDuration(featureIndex, featureID, v.Value, v.Duration)
	default:
		return nil, fmt.Errorf("%w: output %q", device.ErrUnsupported, v.Type)
	}
}

// Plan turns a diffed value slice into the command list for one write.
// Full-command-set handlers get a single OutputVector call with current
// holding every channel; others get one Dispatch per changed feature.
func Plan(h Handler, features []device.DeviceFeature, changed, current []*OutputValue) ([]hardware.Command, error) {
	if len(Changed(changed)) == 0 {
		return nil, nil
	}
	if h.NeedsFullCommandSet() {
		return h.OutputVector(current)
	}

	var cmds []hardware.Command
	for i, v := range changed {
		if v == nil {
			continue
		}
		out, err := Dispatch(h, uint32(i), features[i].ID, *v)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, out...)
	}
	return cmds, nil
}
