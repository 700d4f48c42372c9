package cache

import (
	"sync"
	"time"

	"github.com/LzzJustBeYou/rinLink/internal/device"
)

// ChangeKind discriminates entries on the change stream.
type ChangeKind string

const (
	// ChangeDeviceAdded fires when a device enters the cache.
	ChangeDeviceAdded ChangeKind = "device_added"

	// ChangeDeviceUpdated fires when an upsert replaces an existing device.
	ChangeDeviceUpdated ChangeKind = "device_updated"

	// ChangeDeviceRemoved fires when a device leaves the cache.
	ChangeDeviceRemoved ChangeKind = "device_removed"

	// ChangePropertyChanged fires when a property takes a new value.
	ChangePropertyChanged ChangeKind = "property_changed"

	// ChangeOnlineChanged fires when a device's online flag flips.
	ChangeOnlineChanged ChangeKind = "online_changed"
)

// Change is one entry on the cache's change stream. Old and New are
// set for property changes; Online is set for online transitions.
type Change struct {
	Kind      ChangeKind   `json:"kind"`
	DeviceID  string       `json:"device_id"`
	Property  string       `json:"property,omitempty"`
	Old       device.Value `json:"old,omitempty"`
	New       device.Value `json:"new,omitempty"`
	Online    bool         `json:"online,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// Subscription is one consumer's view of the change stream. Read from
// C until it is closed; call Cancel when done.
type Subscription struct {
	C <-chan Change

	ch     chan Change
	cancel func()
	once   sync.Once
}

// Cancel detaches the subscription and closes its channel.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// Subscribe registers a change stream consumer. A non-positive buffer
// falls back to the configured default. Slow consumers lose their
// oldest undelivered change instead of blocking cache writers.
func (c *StateCache) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = c.cfg.SubscriberBuffer
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++

	ch := make(chan Change, buffer)
	sub := &Subscription{C: ch, ch: ch}
	sub.cancel = func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(ch)
		}
	}
	if c.closed {
		close(ch)
		return sub
	}
	c.subs[id] = sub
	return sub
}

// emit must be called with c.mu held for writing.
func (c *StateCache) emit(ch Change) {
	ch.Timestamp = time.Now().UTC()
	c.activity.push(ch)
	for _, sub := range c.subs {
		select {
		case sub.ch <- ch:
		default:
			select {
			case <-sub.ch:
				c.dropped++
			default:
			}
			select {
			case sub.ch <- ch:
			default:
			}
		}
	}
}
