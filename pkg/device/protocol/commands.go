package protocol

import (
	"fmt"
	"sync"

	"github.com/urmzd/plugd/pkg/device"
)

// OutputValue is one diffed actuator value handed to a handler.
type OutputValue struct {
	Type      device.OutputType
	Value     int32
	Clockwise bool
	Duration  uint32
}

type cacheEntry struct {
	sent  bool
	value OutputValue
}

// CommandManager tracks the last value written to each feature of one
// device and decides which requested values actually need a write.
//
// Update records values before the write is attempted. Callers must call
// Invalidate for the affected features when the write fails so a retry of
// the same value is not elided.
type CommandManager struct {
	features []device.DeviceFeature

	mu    sync.Mutex
	cache []cacheEntry
}

// NewCommandManager creates a manager for the given feature list.
func NewCommandManager(features []device.DeviceFeature) *CommandManager {
	return &CommandManager{
		features: features,
		cache:    make([]cacheEntry, len(features)),
	}
}

// Validate checks a batch without touching the cache.
func (m *CommandManager) Validate(requests []device.OutputRequest) error {
	seen := make(map[uint32]struct{}, len(requests))
	for _, r := range requests {
		if int(r.FeatureIndex) >= len(m.features) {
			return fmt.Errorf("%w: index %d, device has %d features", device.ErrInvalidFeature, r.FeatureIndex, len(m.features))
		}
		if _, dup := seen[r.FeatureIndex]; dup {
			return fmt.Errorf("%w: feature %d addressed twice in one command", device.ErrInvalidFeature, r.FeatureIndex)
		}
		seen[r.FeatureIndex] = struct{}{}

		props, ok := m.features[r.FeatureIndex].Output[r.Type]
		if !ok {
			return fmt.Errorf("%w: feature %d does not accept %s", device.ErrInvalidFeature, r.FeatureIndex, r.Type)
		}
		limit := props.Effective()
		if r.Value != 0 && !limit.Contains(r.Value) {
			return fmt.Errorf("%w: %d not in %s for feature %d", device.ErrStepRange, r.Value, limit, r.FeatureIndex)
		}
	}
	return nil
}

// Update validates the whole batch, then returns a slice as long as the
// feature list holding a value at every index that changed. An invalid
// batch leaves the cache untouched.
func (m *CommandManager) Update(requests []device.OutputRequest) ([]*OutputValue, error) {
	if err := m.Validate(requests); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]*OutputValue, len(m.features))
	for _, r := range requests {
		v := OutputValue{Type: r.Type, Value: r.Value, Clockwise: r.Clockwise, Duration: r.Duration}
		e := &m.cache[r.FeatureIndex]
		if e.sent && e.value == v {
			continue
		}
		e.sent = true
		e.value = v
		changed := v
		result[r.FeatureIndex] = &changed
	}
	return result, nil
}

// Stop returns a zero value for every feature with a stoppable output,
// ignoring the cache, and records the zeros.
func (m *CommandManager) Stop() []*OutputValue {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]*OutputValue, len(m.features))
	for i := range m.features {
		t, ok := m.stopType(i)
		if !ok {
			continue
		}
		e := &m.cache[i]
		v := OutputValue{Type: t}
		if e.sent && e.value.Type == t {
			v.Clockwise = e.value.Clockwise
		}
		e.sent = true
		e.value = v
		stopped := v
		result[i] = &stopped
	}
	return result
}

// stopType picks the output a stop targets: the last one used if it is
// stoppable, otherwise the first stoppable output declared.
func (m *CommandManager) stopType(i int) (device.OutputType, bool) {
	e := m.cache[i]
	if e.sent && e.value.Type.Stoppable() {
		return e.value.Type, true
	}
	for _, t := range m.features[i].OutputTypes() {
		if t.Stoppable() {
			return t, true
		}
	}
	return "", false
}

// Current returns the merged cache for handlers that need every channel on
// each write. Outputs never written report zero on their first output type.
// Features without outputs are nil.
func (m *CommandManager) Current() []*OutputValue {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]*OutputValue, len(m.features))
	for i := range m.features {
		if m.cache[i].sent {
			v := m.cache[i].value
			result[i] = &v
			continue
		}
		if types := m.features[i].OutputTypes(); len(types) > 0 {
			result[i] = &OutputValue{Type: types[0]}
		}
	}
	return result
}

// Invalidate forgets the recorded value of the given features so the next
// request for them is always written.
func (m *CommandManager) Invalidate(indices ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range indices {
		if i >= 0 && i < len(m.cache) {
			m.cache[i] = cacheEntry{}
		}
	}
}

// Changed returns the indices holding a value.
func Changed(values []*OutputValue) []int {
	var out []int
	for i, v := range values {
		if v != nil {
			out = append(out, i)
		}
	}
	return out
}
