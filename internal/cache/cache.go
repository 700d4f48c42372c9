package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/LzzJustBeYou/rinLink/internal/device"
)

// Logger defines the logging interface used by the StateCache.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config bounds the cache's memory use.
type Config struct {
	// PropertyHistoryDepth caps recorded values per device property.
	PropertyHistoryDepth int

	// ActivityLogDepth caps the global recent-change log.
	ActivityLogDepth int

	// SubscriberBuffer is the default change stream buffer size.
	SubscriberBuffer int
}

// DefaultConfig returns the standard cache bounds.
func DefaultConfig() Config {
	return Config{
		PropertyHistoryDepth: 1000,
		ActivityLogDepth:     50,
		SubscriberBuffer:     256,
	}
}

func (c *Config) normalize() {
	if c.PropertyHistoryDepth < 1 {
		c.PropertyHistoryDepth = 1000
	}
	if c.ActivityLogDepth < 1 {
		c.ActivityLogDepth = 50
	}
	if c.SubscriberBuffer < 1 {
		c.SubscriberBuffer = 256
	}
}

// StateCache is the authoritative in-memory device state store.
// All public methods are thread-safe; all returned devices are deep
// copies.
type StateCache struct {
	mu       sync.RWMutex
	devices  map[string]*device.Device
	history  map[string]map[string]*ring[HistoryEntry]
	activity *ring[Change]
	subs     map[int]*Subscription
	nextSub  int
	dropped  uint64
	closed   bool
	cfg      Config
	logger   Logger
}

// New creates a state cache with the given bounds.
func New(cfg Config) *StateCache {
	cfg.normalize()
	return &StateCache{
		devices:  make(map[string]*device.Device),
		history:  make(map[string]map[string]*ring[HistoryEntry]),
		activity: newRing[Change](cfg.ActivityLogDepth),
		subs:     make(map[int]*Subscription),
		cfg:      cfg,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the cache.
func (c *StateCache) SetLogger(logger Logger) {
	c.logger = logger
}

// UpsertDevice inserts or replaces a device. The device is validated
// and stored as a deep copy. Property values that differ from the
// previous snapshot are recorded in history.
func (c *StateCache) UpsertDevice(dev device.Device) error {
	if err := device.ValidateDevice(&dev); err != nil {
		return fmt.Errorf("upserting device %s: %w", dev.DID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	prev, existed := c.devices[dev.DID]
	stored := dev.DeepCopy()
	if stored.LastSeenAt.IsZero() {
		stored.LastSeenAt = time.Now().UTC()
	}
	c.devices[dev.DID] = stored

	for name, prop := range stored.Properties {
		if prop.Value.IsZero() {
			continue
		}
		if existed {
			if old, ok := prev.Properties[name]; ok && old.Value.Equal(prop.Value) {
				continue
			}
		}
		c.record(stored.DID, name, prop.Value)
	}

	kind := ChangeDeviceAdded
	if existed {
		kind = ChangeDeviceUpdated
	}
	c.emit(Change{Kind: kind, DeviceID: stored.DID})
	c.logger.Debug("device upserted", "device_id", stored.DID, "existed", existed)
	return nil
}

// UpdateProperty applies a reported property value. Updates for unknown
// devices or properties are ignored; the transports own discovery, the
// cache only mirrors what it already knows about. Returns true when the
// stored value actually changed.
func (c *StateCache) UpdateProperty(deviceID, property string, value device.Value) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}

	dev, ok := c.devices[deviceID]
	if !ok {
		c.logger.Debug("property update for unknown device ignored", "device_id", deviceID)
		return false
	}
	prop, ok := dev.Properties[property]
	if !ok {
		c.logger.Debug("update for unknown property ignored", "device_id", deviceID, "property", property)
		return false
	}

	now := time.Now().UTC()
	dev.LastSeenAt = now
	if prop.Value.Equal(value) {
		return false
	}

	old := prop.Value
	prop.Value = value
	prop.LastUpdatedAt = now
	dev.Properties[property] = prop

	c.record(deviceID, property, value)
	c.emit(Change{Kind: ChangePropertyChanged, DeviceID: deviceID, Property: property, Old: old, New: value})
	return true
}

// SetOnline flips a device's online flag. Returns true when the flag
// actually changed. Unknown devices are ignored.
func (c *StateCache) SetOnline(deviceID string, online bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}

	dev, ok := c.devices[deviceID]
	if !ok {
		return false
	}
	dev.LastSeenAt = time.Now().UTC()
	if dev.Online == online {
		return false
	}
	dev.Online = online

	c.emit(Change{Kind: ChangeOnlineChanged, DeviceID: deviceID, Online: online})
	c.logger.Debug("device online changed", "device_id", deviceID, "online", online)
	return true
}

// RemoveDevice drops a device and its history. Returns true when it
// was present.
func (c *StateCache) RemoveDevice(deviceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}

	if _, ok := c.devices[deviceID]; !ok {
		return false
	}
	delete(c.devices, deviceID)
	delete(c.history, deviceID)

	c.emit(Change{Kind: ChangeDeviceRemoved, DeviceID: deviceID})
	return true
}

// Get retrieves a device by ID. The result is a deep copy.
func (c *StateCache) Get(deviceID string) (*device.Device, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dev, ok := c.devices[deviceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	return dev.DeepCopy(), nil
}

// ListAll returns deep copies of every cached device.
func (c *StateCache) ListAll() []device.Device {
	return c.list(func(*device.Device) bool { return true })
}

// ListByRoom returns the devices assigned to a room.
func (c *StateCache) ListByRoom(roomID string) []device.Device {
	return c.list(func(d *device.Device) bool { return d.RoomID == roomID })
}

// ListByType returns the devices of one type.
func (c *StateCache) ListByType(t device.DeviceType) []device.Device {
	return c.list(func(d *device.Device) bool { return d.Type == t })
}

// ListOnline returns the devices currently marked online.
func (c *StateCache) ListOnline() []device.Device {
	return c.list(func(d *device.Device) bool { return d.Online })
}

func (c *StateCache) list(keep func(*device.Device) bool) []device.Device {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]device.Device, 0, len(c.devices))
	for _, d := range c.devices {
		if keep(d) {
			out = append(out, *d.DeepCopy())
		}
	}
	return out
}

// HistoryFor returns the recorded values of one property, oldest first.
// A limit <= 0 returns everything retained.
func (c *StateCache) HistoryFor(deviceID, property string, limit int) ([]HistoryEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, ok := c.devices[deviceID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	props, ok := c.history[deviceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrPropertyNotFound, deviceID, property)
	}
	r, ok := props[property]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrPropertyNotFound, deviceID, property)
	}

	entries := r.snapshot()
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

// Activity returns the most recent changes across all devices, oldest
// first.
func (c *StateCache) Activity(limit int) []Change {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries := c.activity.snapshot()
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries
}

// Len returns the number of cached devices.
func (c *StateCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.devices)
}

// Dropped returns how many stream changes were discarded due to slow
// subscribers.
func (c *StateCache) Dropped() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dropped
}

// Close detaches every subscriber and rejects further mutation.
func (c *StateCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, sub := range c.subs {
		delete(c.subs, id)
		close(sub.ch)
	}
}

// record must be called with c.mu held for writing.
func (c *StateCache) record(deviceID, property string, value device.Value) {
	props, ok := c.history[deviceID]
	if !ok {
		props = make(map[string]*ring[HistoryEntry])
		c.history[deviceID] = props
	}
	r, ok := props[property]
	if !ok {
		r = newRing[HistoryEntry](c.cfg.PropertyHistoryDepth)
		props[property] = r
	}
	r.push(HistoryEntry{Value: value, Timestamp: time.Now().UTC()})
}
