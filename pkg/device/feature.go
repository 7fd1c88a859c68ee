package device

import (
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/urmzd/plugd/pkg/device/hardware"
)

// OutputProperties describes one output a feature accepts. StepLimit narrows
// StepRange for a particular user and always lies within it.
type OutputProperties struct {
	StepRange RangeInclusive  `json:"step_range"`
	StepLimit *RangeInclusive `json:"step_limit,omitempty"`
}

// Effective returns the range values are validated against.
func (p OutputProperties) Effective() RangeInclusive {
	if p.StepLimit != nil {
		return *p.StepLimit
	}
	return p.StepRange
}

// StepCount is the number of steps above the range start.
func (p OutputProperties) StepCount() uint32 {
	return p.Effective().Span()
}

// InputProperties describes one sensor reading a feature provides.
type InputProperties struct {
	ValueRange []RangeInclusive `json:"value_range"`
	Commands   []InputCommand   `json:"input_commands"`
}

// Supports reports whether cmd is allowed on this input.
func (p InputProperties) Supports(cmd InputCommand) bool {
	for _, c := range p.Commands {
		if c == cmd {
			return true
		}
	}
	return false
}

// RawProperties lists endpoints clients may access directly.
type RawProperties struct {
	Endpoints []hardware.Endpoint `json:"endpoints"`
}

// DeviceFeature is one addressable actuator or sensor.
type DeviceFeature struct {
	ID          uuid.UUID                       `json:"id"`
	Description string                          `json:"description,omitempty"`
	FeatureType FeatureType                     `json:"feature_type"`
	Output      map[OutputType]OutputProperties `json:"output,omitempty"`
	Input       map[InputType]InputProperties   `json:"input,omitempty"`
	Raw         *RawProperties                  `json:"raw,omitempty"`
}

// Validate checks the range invariants of every output and input.
func (f *DeviceFeature) Validate() error {
	for t, o := range f.Output {
		if !t.Valid() {
			return fmt.Errorf("%w: unknown output type %q", ErrInvalidFeature, t)
		}
		if !o.StepRange.Valid() {
			return fmt.Errorf("%w: %s step range %s", ErrInvalidFeature, t, o.StepRange)
		}
		if o.StepLimit != nil {
			if !o.StepLimit.Valid() {
				return fmt.Errorf("%w: %s step limit %s", ErrInvalidFeature, t, *o.StepLimit)
			}
			if !o.StepLimit.SubsetOf(o.StepRange) {
				return fmt.Errorf("%w: %s step limit %s outside %s", ErrStepRange, t, *o.StepLimit, o.StepRange)
			}
		}
	}
	for t, in := range f.Input {
		if !t.Valid() {
			return fmt.Errorf("%w: unknown input type %q", ErrInvalidFeature, t)
		}
		for _, r := range in.ValueRange {
			if !r.Valid() {
				return fmt.Errorf("%w: %s value range %s", ErrInvalidFeature, t, r)
			}
		}
	}
	return nil
}

// HasOutput reports whether the feature accepts t.
func (f *DeviceFeature) HasOutput(t OutputType) bool {
	_, ok := f.Output[t]
	return ok
}

// HasInput reports whether the feature provides t.
func (f *DeviceFeature) HasInput(t InputType) bool {
	_, ok := f.Input[t]
	return ok
}

// OutputTypes returns the feature's outputs in canonical order.
func (f *DeviceFeature) OutputTypes() []OutputType {
	var out []OutputType
	for _, t := range OutputTypes {
		if f.HasOutput(t) {
			out = append(out, t)
		}
	}
	return out
}

// InputTypes returns the feature's inputs sorted by name.
func (f *DeviceFeature) InputTypes() []InputType {
	out := make([]InputType, 0, len(f.Input))
	for t := range f.Input {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// StepCount returns the step count for output t, or 0 when absent.
func (f *DeviceFeature) StepCount(t OutputType) uint32 {
	if o, ok := f.Output[t]; ok {
		return o.StepCount()
	}
	return 0
}

// Clone returns a deep copy so overrides never touch shared declarations.
func (f DeviceFeature) Clone() DeviceFeature {
	out := f
	if f.Output != nil {
		out.Output = make(map[OutputType]OutputProperties, len(f.Output))
		for k, v := range f.Output {
			if v.StepLimit != nil {
				l := *v.StepLimit
				v.StepLimit = &l
			}
			out.Output[k] = v
		}
	}
	if f.Input != nil {
		out.Input = make(map[InputType]InputProperties, len(f.Input))
		for k, v := range f.Input {
			v.ValueRange = append([]RangeInclusive(nil), v.ValueRange...)
			v.Commands = append([]InputCommand(nil), v.Commands...)
			out.Input[k] = v
		}
	}
	if f.Raw != nil {
		out.Raw = &RawProperties{Endpoints: append([]hardware.Endpoint(nil), f.Raw.Endpoints...)}
	}
	return out
}

// CloneFeatures deep copies a feature list.
func CloneFeatures(in []DeviceFeature) []DeviceFeature {
	if in == nil {
		return nil
	}
	out := make([]DeviceFeature, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}

const scalarEpsilon = 1e-9

// ScalarToSteps converts a client fraction in [0, 1] into a step value
// within r. Zero always maps to zero; other values round up.
func ScalarToSteps(scalar float64, r RangeInclusive) (int32, error) {
	if math.IsNaN(scalar) || scalar < 0 || scalar > 1 {
		return 0, fmt.Errorf("%w: scalar %v outside [0, 1]", ErrStepRange, scalar)
	}
	if scalar == 0 {
		return 0, nil
	}
	steps := int32(math.Ceil(scalar*float64(r.Span()) - scalarEpsilon))
	if steps <= 0 {
		return 0, nil
	}
	return r.Start + steps, nil
}

// StepsToScalar is the inverse of ScalarToSteps for on-grid values.
func StepsToScalar(steps int32, r RangeInclusive) float64 {
	if steps == 0 || r.Span() == 0 {
		return 0
	}
	return float64(steps-r.Start) / float64(r.Span())
}
