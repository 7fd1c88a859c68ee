// Package wsbridge accepts remote devices over websocket. A bridge or
// simulator connects, announces itself with a hello frame and then
// exchanges JSON operation frames with the server.
//
//	-> {"name":"LVS-Edge","address":"sim-1","endpoints":["tx","rx"]}
//	<- {"op":"write","endpoint":"tx","data":"<base64>"}
//	<- {"op":"read","id":1,"endpoint":"rx","length":0}
//	-> {"op":"read_reply","id":1,"data":"<base64>"}
//	-> {"op":"notify","endpoint":"rx","data":"<base64>"}
package wsbridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/urmzd/plugd/pkg/device/hardware"
)

// Name is the communication manager name.
const Name = "websocket"

const (
	helloTimeout   = 5 * time.Second
	writeWait      = 5 * time.Second
	readTimeout    = time.Second
	maxMessageSize = 64 << 10
)

// Operation names carried in Frame.Op.
const (
	OpWrite       = "write"
	OpRead        = "read"
	OpReadReply   = "read_reply"
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpNotify      = "notify"
)

var (
	ErrHello     = errors.New("invalid bridge hello")
	ErrDuplicate = errors.New("bridge address already connected")
)

// Hello is the first frame a bridge sends.
type Hello struct {
	Name      string              `json:"name"`
	Address   string              `json:"address"`
	Endpoints []hardware.Endpoint `json:"endpoints"`
}

// Frame is every frame after the hello.
type Frame struct {
	Op           string            `json:"op"`
	ID           uint32            `json:"id,omitempty"`
	Endpoint     hardware.Endpoint `json:"endpoint"`
	Data         []byte            `json:"data,omitempty"`
	Length       int               `json:"length,omitempty"`
	WithResponse bool              `json:"with_response,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// Bridge is both the http.Handler for bridge connections and the
// communication manager reporting them to the device manager.
type Bridge struct {
	mu       sync.Mutex
	events   chan<- hardware.CommunicationEvent
	scanning bool
	conns    map[string]*conn
}

// New creates a bridge with no connections.
func New() *Bridge {
	return &Bridge{conns: make(map[string]*conn)}
}

// Builder binds the bridge to the device manager's event channel.
func (b *Bridge) Builder() hardware.CommunicationManagerBuilder {
	return func(events chan<- hardware.CommunicationEvent) (hardware.CommunicationManager, error) {
		b.mu.Lock()
		b.events = events
		b.mu.Unlock()
		return b, nil
	}
}

func (b *Bridge) Name() string { return Name }

func (b *Bridge) Scanning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scanning
}

// StartScanning reports every connected bridge not yet claimed. Bridges
// that connect while scanning are reported as they arrive.
func (b *Bridge) StartScanning(context.Context) error {
	b.mu.Lock()
	b.scanning = true
	waiting := lo.Filter(lo.Values(b.conns), func(c *conn, _ int) bool { return !c.claimed.Load() })
	b.mu.Unlock()

	for _, c := range waiting {
		b.announce(c)
	}
	return nil
}

// StopScanning ends the scan and reports ScanningFinished.
func (b *Bridge) StopScanning(context.Context) error {
	b.mu.Lock()
	was := b.scanning
	b.scanning = false
	events := b.events
	b.mu.Unlock()

	if was && events != nil {
		go func() { events <- hardware.CommunicationEvent{Kind: hardware.ScanningFinished, Manager: Name} }()
	}
	return nil
}

// Connected returns the number of open bridge connections.
func (b *Bridge) Connected() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

func (b *Bridge) announce(c *conn) {
	b.mu.Lock()
	events := b.events
	b.mu.Unlock()
	if events == nil {
		return
	}
	ev := hardware.CommunicationEvent{
		Kind:      hardware.DeviceFound,
		Manager:   Name,
		Name:      c.hello.Name,
		Address:   c.hello.Address,
		Connector: c,
	}
	select {
	case events <- ev:
	case <-c.done:
	}
}

// ServeHTTP upgrades a bridge connection and runs its read pump.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("bridge websocket upgrade failed")
		return
	}
	ws.SetReadLimit(maxMessageSize)

	hello, err := readHello(ws)
	if err != nil {
		reject(ws, err)
		return
	}

	c := &conn{
		ws:      ws,
		hello:   hello,
		replies: make(map[uint32]chan []byte),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if _, dup := b.conns[hello.Address]; dup {
		b.mu.Unlock()
		reject(ws, fmt.Errorf("%w: %s", ErrDuplicate, hello.Address))
		return
	}
	b.conns[hello.Address] = c
	scanning := b.scanning
	b.mu.Unlock()

	log.Info().Str("address", hello.Address).Str("name", hello.Name).Msg("Device bridge connected")
	if scanning {
		go b.announce(c)
	}

	c.readPump()

	b.mu.Lock()
	delete(b.conns, hello.Address)
	b.mu.Unlock()
	log.Info().Str("address", hello.Address).Msg("Device bridge disconnected")
}

func readHello(ws *websocket.Conn) (Hello, error) {
	var hello Hello
	//nolint:errcheck // deadline errors surface on read
	ws.SetReadDeadline(time.Now().Add(helloTimeout))
	if err := ws.ReadJSON(&hello); err != nil {
		return hello, fmt.Errorf("%w: %w", ErrHello, err)
	}
	//nolint:errcheck // cleared deadline
	ws.SetReadDeadline(time.Time{})
	if hello.Name == "" || hello.Address == "" {
		return hello, fmt.Errorf("%w: name and address are required", ErrHello)
	}
	if len(hello.Endpoints) == 0 {
		return hello, fmt.Errorf("%w: no endpoints", ErrHello)
	}
	return hello, nil
}

func reject(ws *websocket.Conn, err error) {
	log.Warn().Err(err).Msg("Rejecting device bridge")
	//nolint:errcheck // best-effort close
	ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
		time.Now().Add(writeWait))
	_ = ws.Close()
}

// conn is one bridged device. It is the Connector until claimed and the
// hardware transport afterwards.
type conn struct {
	ws    *websocket.Conn
	hello Hello

	writeMu sync.Mutex

	mu      sync.Mutex
	hw      *hardware.Hardware
	nextID  uint32
	replies map[uint32]chan []byte

	claimed atomic.Bool
	done    chan struct{}
}

func (c *conn) Specifier() hardware.Specifier {
	return &hardware.WebsocketSpecifier{Name: c.hello.Name}
}

func (c *conn) Connect(ctx context.Context, declared hardware.Specifier) (*hardware.Hardware, error) {
	if _, ok := declared.(*hardware.WebsocketSpecifier); !ok {
		return nil, fmt.Errorf("%w: bridge %s given %T", hardware.ErrConnect, c.hello.Address, declared)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case <-c.done:
		return nil, fmt.Errorf("%w: bridge %s closed", hardware.ErrConnect, c.hello.Address)
	default:
	}
	if !c.claimed.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("%w: bridge %s already connected", hardware.ErrConnect, c.hello.Address)
	}

	hw := hardware.New(c.hello.Name, c.hello.Address, c.hello.Endpoints, c)
	c.mu.Lock()
	c.hw = hw
	c.mu.Unlock()

	select {
	case <-c.done:
		hw.Emit(hardware.Event{Kind: hardware.EventDisconnected})
	default:
	}
	return hw, nil
}

func (c *conn) readPump() {
	defer func() {
		close(c.done)
		_ = c.ws.Close()
		c.mu.Lock()
		hw := c.hw
		c.mu.Unlock()
		if hw != nil {
			hw.Emit(hardware.Event{Kind: hardware.EventDisconnected})
		}
	}()

	for {
		var f Frame
		if err := c.ws.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("address", c.hello.Address).Msg("bridge read error")
			}
			return
		}
		switch f.Op {
		case OpNotify:
			c.mu.Lock()
			hw := c.hw
			c.mu.Unlock()
			if hw != nil {
				hw.Emit(hardware.Event{Kind: hardware.EventNotification, Endpoint: f.Endpoint, Data: f.Data})
			}
		case OpReadReply:
			c.mu.Lock()
			ch, ok := c.replies[f.ID]
			delete(c.replies, f.ID)
			c.mu.Unlock()
			if ok {
				ch <- f.Data
			}
		default:
			log.Debug().Str("address", c.hello.Address).Str("op", f.Op).Msg("Ignoring bridge frame")
		}
	}
}

func (c *conn) send(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	//nolint:errcheck // write error caught below
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(f); err != nil {
		return fmt.Errorf("%w: %w", hardware.ErrDisconnected, err)
	}
	return nil
}

func (c *conn) WriteValue(_ context.Context, cmd hardware.WriteCmd) error {
	return c.send(Frame{Op: OpWrite, Endpoint: cmd.Endpoint, Data: cmd.Data, WithResponse: cmd.WriteWithResponse})
}

func (c *conn) ReadValue(ctx context.Context, cmd hardware.ReadCmd) ([]byte, error) {
	reply := make(chan []byte, 1)
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.replies[id] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.replies, id)
		c.mu.Unlock()
	}()

	if err := c.send(Frame{Op: OpRead, ID: id, Endpoint: cmd.Endpoint, Length: cmd.ExpectedLength}); err != nil {
		return nil, err
	}

	timer := time.NewTimer(lo.Ternary(cmd.Timeout > 0, cmd.Timeout, readTimeout))
	defer timer.Stop()
	select {
	case data := <-reply:
		return data, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: bridge read on %s", hardware.ErrTimeout, c.hello.Address)
	case <-c.done:
		return nil, hardware.ErrDisconnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *conn) Subscribe(_ context.Context, ep hardware.Endpoint) error {
	return c.send(Frame{Op: OpSubscribe, Endpoint: ep})
}

func (c *conn) Unsubscribe(_ context.Context, ep hardware.Endpoint) error {
	return c.send(Frame{Op: OpUnsubscribe, Endpoint: ep})
}

func (c *conn) Disconnect() error {
	c.writeMu.Lock()
	//nolint:errcheck // best-effort close
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()
	return c.ws.Close()
}
