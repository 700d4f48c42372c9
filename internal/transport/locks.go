package transport

import "sync"

// DeviceLocks serializes operations per device. Backends use it so two
// in-flight commands for the same device never interleave on the wire,
// while commands for different devices proceed in parallel.
type DeviceLocks struct {
	mu    sync.Mutex
	locks map[string]*deviceLock
}

type deviceLock struct {
	mu   sync.Mutex
	refs int
}

// Lock acquires the lock for deviceID, creating it on first use.
func (d *DeviceLocks) Lock(deviceID string) {
	d.mu.Lock()
	if d.locks == nil {
		d.locks = make(map[string]*deviceLock)
	}
	l, ok := d.locks[deviceID]
	if !ok {
		l = &deviceLock{}
		d.locks[deviceID] = l
	}
	l.refs++
	d.mu.Unlock()

	l.mu.Lock()
}

// Unlock releases the lock for deviceID. Entries with no waiters are
// removed so the map does not grow with every device ever seen.
func (d *DeviceLocks) Unlock(deviceID string) {
	d.mu.Lock()
	l, ok := d.locks[deviceID]
	if ok {
		l.refs--
		if l.refs == 0 {
			delete(d.locks, deviceID)
		}
	}
	d.mu.Unlock()

	if ok {
		l.mu.Unlock()
	}
}

// With runs fn while holding the lock for deviceID.
func (d *DeviceLocks) With(deviceID string, fn func()) {
	d.Lock(deviceID)
	defer d.Unlock(deviceID)
	fn()
}
