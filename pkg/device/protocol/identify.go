package protocol

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/urmzd/plugd/pkg/device"
	"github.com/urmzd/plugd/pkg/device/hardware"
)

// Bring-up budgets. Vendors that need longer handshakes pass their own.
const (
	HandshakeTimeout  = 500 * time.Millisecond
	HandshakeAttempts = 3
)

// Identifier determines the exact variant of a freshly connected device.
// The returned identifier carries the device address and protocol; an empty
// Identifier field means name-pattern resolution applies.
type Identifier interface {
	Identify(ctx context.Context, hw *hardware.Hardware) (device.UserDeviceIdentifier, Initializer, error)
}

// Initializer performs any handshake and produces the live handler.
type Initializer interface {
	Initialize(ctx context.Context, hw *hardware.Hardware, def *device.DeviceDefinition) (Handler, error)
}

// InitializerFunc adapts a function to Initializer.
type InitializerFunc func(ctx context.Context, hw *hardware.Hardware, def *device.DeviceDefinition) (Handler, error)

func (f InitializerFunc) Initialize(ctx context.Context, hw *hardware.Hardware, def *device.DeviceDefinition) (Handler, error) {
	return f(ctx, hw, def)
}

// GenericIdentifier identifies without touching the hardware.
type GenericIdentifier struct {
	Protocol    string
	Initializer Initializer
}

func (g *GenericIdentifier) Identify(_ context.Context, hw *hardware.Hardware) (device.UserDeviceIdentifier, Initializer, error) {
	id := device.UserDeviceIdentifier{Address: hw.Address(), Protocol: g.Protocol}
	return id, g.Initializer, nil
}

// Factory creates identifiers for one protocol. Each connection gets its own.
type Factory interface {
	Name() string
	NewIdentifier() Identifier
}

type factory struct {
	name string
	fn   func() Identifier
}

func (f *factory) Name() string              { return f.name }
func (f *factory) NewIdentifier() Identifier { return f.fn() }

// NewFactory builds a Factory from a constructor.
func NewFactory(name string, newIdentifier func() Identifier) Factory {
	return &factory{name: name, fn: newIdentifier}
}

// Simple builds a factory for protocols that need no identify traffic.
// init runs once per connection.
func Simple(name string, init InitializerFunc) Factory {
	return NewFactory(name, func() Identifier {
		return &GenericIdentifier{Protocol: name, Initializer: init}
	})
}

// Registry maps protocol names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory. Names must be unique.
func (r *Registry) Register(f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[f.Name()]; ok {
		return fmt.Errorf("protocol %q already registered", f.Name())
	}
	r.factories[f.Name()] = f
	return nil
}

func (r *Registry) Get(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// Names returns registered protocol names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
