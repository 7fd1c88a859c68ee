package hardware

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/urmzd/plugd/pkg/broadcast"
)

// EventKind distinguishes notifications from link loss.
type EventKind int

const (
	EventNotification EventKind = iota
	EventDisconnected
)

func (k EventKind) String() string {
	if k == EventDisconnected {
		return "disconnected"
	}
	return "notification"
}

// Event is pushed by a transport whenever the device sends data or drops.
type Event struct {
	Kind     EventKind
	Address  string
	Endpoint Endpoint
	Data     []byte
}

// Internal is implemented by each transport. Hardware validates endpoints and
// connection state before delegating.
type Internal interface {
	WriteValue(ctx context.Context, cmd WriteCmd) error
	ReadValue(ctx context.Context, cmd ReadCmd) ([]byte, error)
	Subscribe(ctx context.Context, ep Endpoint) error
	Unsubscribe(ctx context.Context, ep Endpoint) error
	Disconnect() error
}

// Hardware is a connected device as seen by protocol handlers.
type Hardware struct {
	name      string
	address   string
	endpoints map[Endpoint]struct{}
	internal  Internal
	events    *broadcast.Hub[Event]

	mu   sync.Mutex
	done chan struct{}
	gone bool
}

// New wraps a transport connection. The transport must call Emit for every
// notification and once with EventDisconnected when the link drops.
func New(name, address string, endpoints []Endpoint, internal Internal) *Hardware {
	eps := make(map[Endpoint]struct{}, len(endpoints))
	for _, ep := range endpoints {
		eps[ep] = struct{}{}
	}
	return &Hardware{
		name:      name,
		address:   address,
		endpoints: eps,
		internal:  internal,
		events:    broadcast.New[Event]("hardware:"+address, 256),
		done:      make(chan struct{}),
	}
}

func (h *Hardware) Name() string    { return h.name }
func (h *Hardware) Address() string { return h.address }

// Endpoints lists the endpoints the transport exposes.
func (h *Hardware) Endpoints() []Endpoint {
	out := make([]Endpoint, 0, len(h.endpoints))
	for ep := range h.endpoints {
		out = append(out, ep)
	}
	return out
}

// HasEndpoint reports whether ep is exposed by the device.
func (h *Hardware) HasEndpoint(ep Endpoint) bool {
	_, ok := h.endpoints[ep]
	return ok
}

// EventStream subscribes to device events. Release the stream with
// ReleaseEventStream when done.
func (h *Hardware) EventStream() <-chan Event {
	return h.events.Subscribe()
}

// ReleaseEventStream drops a subscription obtained from EventStream.
func (h *Hardware) ReleaseEventStream(ch <-chan Event) {
	h.events.Unsubscribe(ch)
}

// Done is closed once the device has disconnected.
func (h *Hardware) Done() <-chan struct{} {
	return h.done
}

// Connected reports whether the link is still up.
func (h *Hardware) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.gone
}

// Emit publishes a transport event. A Disconnected event closes Done and
// every event stream after it has been delivered.
func (h *Hardware) Emit(ev Event) {
	if ev.Address == "" {
		ev.Address = h.address
	}

	if ev.Kind != EventDisconnected {
		h.events.Publish(ev)
		return
	}

	h.mu.Lock()
	if h.gone {
		h.mu.Unlock()
		return
	}
	h.gone = true
	close(h.done)
	h.mu.Unlock()

	log.Info().Str("address", h.address).Str("name", h.name).Msg("Device disconnected")
	h.events.Publish(ev)
	h.events.Close()
}

// Exec runs a single command. Reads return the bytes read; other commands
// return nil data.
func (h *Hardware) Exec(ctx context.Context, cmd Command) ([]byte, error) {
	switch c := cmd.(type) {
	case WriteCmd:
		return nil, h.Write(ctx, c)
	case ReadCmd:
		return h.Read(ctx, c)
	case SubscribeCmd:
		return nil, h.Subscribe(ctx, c.Endpoint)
	case UnsubscribeCmd:
		return nil, h.Unsubscribe(ctx, c.Endpoint)
	default:
		return nil, fmt.Errorf("hardware: unknown command %T", cmd)
	}
}

func (h *Hardware) Write(ctx context.Context, cmd WriteCmd) error {
	if err := h.check(cmd.Endpoint); err != nil {
		return err
	}
	log.Debug().
		Str("address", h.address).
		Stringer("endpoint", cmd.Endpoint).
		Hex("data", cmd.Data).
		Msg("hardware write")
	return h.internal.WriteValue(ctx, cmd)
}

func (h *Hardware) Read(ctx context.Context, cmd ReadCmd) ([]byte, error) {
	if err := h.check(cmd.Endpoint); err != nil {
		return nil, err
	}
	return h.internal.ReadValue(ctx, cmd)
}

func (h *Hardware) Subscribe(ctx context.Context, ep Endpoint) error {
	if err := h.check(ep); err != nil {
		return err
	}
	return h.internal.Subscribe(ctx, ep)
}

func (h *Hardware) Unsubscribe(ctx context.Context, ep Endpoint) error {
	if err := h.check(ep); err != nil {
		return err
	}
	return h.internal.Unsubscribe(ctx, ep)
}

// Disconnect closes the transport link. The transport reports the drop via
// Emit; if it does not, Disconnect emits it.
func (h *Hardware) Disconnect() error {
	err := h.internal.Disconnect()
	h.Emit(Event{Kind: EventDisconnected})
	return err
}

func (h *Hardware) check(ep Endpoint) error {
	if !h.Connected() {
		return ErrDisconnected
	}
	if !h.HasEndpoint(ep) {
		return fmt.Errorf("%w: %s on %s", ErrEndpoint, ep, h.address)
	}
	return nil
}
