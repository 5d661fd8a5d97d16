package mqtt

import "sync"

// FakePublisher records published events for test assertions.
type FakePublisher struct {
	mu sync.Mutex

	events         []Event
	payloads       [][]byte
	systemEvents   []SystemEvent
	systemPayloads [][]byte

	publishErr error
	closed     bool
	connected  bool
}

// NewFakePublisher creates a connected FakePublisher.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{connected: true}
}

func (f *FakePublisher) Publish(event Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	payload, err := FormatPayload(event)
	if err != nil {
		return err
	}
	f.events = append(f.events, event)
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.systemEvents = append(f.systemEvents, event)
	f.systemPayloads = append(f.systemPayloads, payload)
	return nil
}

// Fail makes every publish return err until cleared with nil.
func (f *FakePublisher) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishErr = err
}

// SetConnected controls IsConnected.
func (f *FakePublisher) SetConnected(c bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = c
}

func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Events returns the published activity events.
func (f *FakePublisher) Events() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Event(nil), f.events...)
}

// Payloads returns the JSON of the published activity events.
func (f *FakePublisher) Payloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.payloads...)
}

// SystemEvents returns the published system events.
func (f *FakePublisher) SystemEvents() []SystemEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SystemEvent(nil), f.systemEvents...)
}

// SystemPayloads returns the JSON of the published system events.
func (f *FakePublisher) SystemPayloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.systemPayloads...)
}

func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *FakePublisher) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
