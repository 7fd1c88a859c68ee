package hardware

import "context"

// Connector opens a connection to one discovered device.
type Connector interface {
	// Specifier describes the device as discovered.
	Specifier() Specifier
	// Connect opens the link using the declared specifier that matched.
	Connect(ctx context.Context, declared Specifier) (*Hardware, error)
}

// CommunicationEventKind enumerates scanning events.
type CommunicationEventKind int

const (
	DeviceFound CommunicationEventKind = iota
	ScanningFinished
)

// CommunicationEvent is sent by a CommunicationManager to the device manager.
type CommunicationEvent struct {
	Kind      CommunicationEventKind
	Manager   string
	Name      string
	Address   string
	Connector Connector
}

// CommunicationManager discovers devices on one transport.
type CommunicationManager interface {
	Name() string
	StartScanning(ctx context.Context) error
	StopScanning(ctx context.Context) error
	Scanning() bool
}

// CommunicationManagerBuilder constructs a manager that reports to events.
type CommunicationManagerBuilder func(events chan<- CommunicationEvent) (CommunicationManager, error)
