package device

import "context"

// NullController is a no-op controller used when no transport could be
// started. It allows the API to run in limited mode.
type NullController struct{}

// NewNullController creates a new NullController.
func NewNullController() *NullController {
	return &NullController{}
}

func (c *NullController) ListDevices(ctx context.Context) ([]DeviceDefinition, error) {
	return []DeviceDefinition{}, nil
}

func (c *NullController) GetDevice(ctx context.Context, index uint32) (*DeviceDefinition, error) {
	return nil, ErrNotFound
}

func (c *NullController) StartScanning(ctx context.Context) error {
	return ErrNotConnected
}

func (c *NullController) StopScanning(ctx context.Context) error {
	return ErrNotConnected
}

func (c *NullController) Output(ctx context.Context, index uint32, requests []OutputRequest) error {
	return ErrNotFound
}

func (c *NullController) StopDevice(ctx context.Context, index uint32) error {
	return ErrNotFound
}

func (c *NullController) StopAllDevices(ctx context.Context) error {
	return nil
}

func (c *NullController) ReadInput(ctx context.Context, index, featureIndex uint32, inputType InputType) (InputReading, error) {
	return InputReading{}, ErrNotFound
}

func (c *NullController) IsScanning() bool {
	return false
}

func (c *NullController) IsConnected() bool {
	return false
}

func (c *NullController) Close() {}

// NullEventSubscriber is a no-op event subscriber paired with NullController.
type NullEventSubscriber struct{}

// NewNullEventSubscriber creates a new NullEventSubscriber.
func NewNullEventSubscriber() *NullEventSubscriber {
	return &NullEventSubscriber{}
}

func (s *NullEventSubscriber) Subscribe() <-chan Event {
	// Never sent to; callers should check IsConnected() on the controller
	return make(chan Event)
}

func (s *NullEventSubscriber) Unsubscribe(ch <-chan Event) {}
