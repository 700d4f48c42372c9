package transport

import (
	"sync"
	"time"

	"github.com/LzzJustBeYou/rinLink/internal/device"
)

// EventKind discriminates the events a backend can emit.
type EventKind string

const (
	// EventConnectionChanged fires when the transport link goes up or down.
	EventConnectionChanged EventKind = "connection_changed"

	// EventPropertyUpdated fires when a device reports a new property value.
	EventPropertyUpdated EventKind = "property_updated"

	// EventDeviceStatusChanged fires when a device's online flag flips.
	EventDeviceStatusChanged EventKind = "device_status_changed"

	// EventDeviceDiscovered fires when a scan finds a new device.
	EventDeviceDiscovered EventKind = "device_discovered"

	// EventDeviceLost fires when a known device stops responding.
	EventDeviceLost EventKind = "device_lost"

	// EventCommandResult fires when an asynchronous command completes.
	EventCommandResult EventKind = "command_result"

	// EventError fires when the backend hits a non-command error.
	EventError EventKind = "error"

	// EventHealthChanged fires when the backend's health grade changes.
	EventHealthChanged EventKind = "health_changed"
)

// Event is a single notification from a backend. Only the fields
// relevant to Kind are populated.
type Event struct {
	Kind      EventKind
	Transport device.TransportKind
	Timestamp time.Time

	// EventConnectionChanged, EventDeviceStatusChanged
	Connected bool
	Online    bool

	// Device-scoped events. DeviceID is set for every device-scoped
	// event; Device is a snapshot for discovery and status events.
	DeviceID string
	Device   *device.Device

	// EventPropertyUpdated
	Property string
	Value    device.Value

	// EventCommandResult
	Result *Result

	// EventError
	Err error

	// EventHealthChanged
	Health *Health
}

// Subscription is one consumer's view of a backend's event stream.
// Read from C until it is closed; call Cancel when done.
type Subscription struct {
	C <-chan Event

	ch     chan Event
	cancel func()
	once   sync.Once
}

// Cancel detaches the subscription and closes its channel.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// Emitter fans events out to subscribers. Each subscriber owns a
// bounded buffer; when it is full the oldest undelivered event is
// dropped so emission never blocks the backend. Backends embed an
// Emitter to satisfy Transport.Subscribe.
type Emitter struct {
	mu      sync.Mutex
	subs    map[int]*Subscription
	nextID  int
	dropped uint64
	closed  bool
}

// Subscribe registers a new consumer. A non-positive buffer falls back
// to a single slot.
func (e *Emitter) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 1
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.subs == nil {
		e.subs = make(map[int]*Subscription)
	}
	id := e.nextID
	e.nextID++

	ch := make(chan Event, buffer)
	sub := &Subscription{C: ch, ch: ch}
	sub.cancel = func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if _, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(ch)
		}
	}
	if e.closed {
		close(ch)
		return sub
	}
	e.subs[id] = sub
	return sub
}

// Emit delivers ev to every live subscriber. Full buffers drop their
// oldest event to make room.
func (e *Emitter) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, sub := range e.subs {
		select {
		case sub.ch <- ev:
		default:
			select {
			case <-sub.ch:
				e.dropped++
			default:
			}
			select {
			case sub.ch <- ev:
			default:
			}
		}
	}
}

// Dropped returns how many events were discarded across all subscribers.
func (e *Emitter) Dropped() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Close detaches every subscriber and closes their channels. Further
// Emit calls are no-ops; further Subscribe calls return closed
// subscriptions.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for id, sub := range e.subs {
		delete(e.subs, id)
		close(sub.ch)
	}
}
