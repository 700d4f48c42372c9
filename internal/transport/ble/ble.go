package ble

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/LzzJustBeYou/rinLink/internal/device"
	"github.com/LzzJustBeYou/rinLink/internal/transport"
)

// Config holds the simulated adapter settings.
type Config struct {
	// Latency is the simulated connect plus exchange time, default 30ms.
	Latency time.Duration

	// Devices pre-registers advertising peripherals on Init.
	Devices []device.Device
}

func (c *Config) normalize() {
	if c.Latency <= 0 {
		c.Latency = 30 * time.Millisecond
	}
}

type peripheral struct {
	dev     *device.Device
	inRange bool
}

// Backend is the simulated BLE adapter.
type Backend struct {
	transport.Emitter

	cfg    Config
	logger transport.Logger
	locks  transport.DeviceLocks

	mu          sync.Mutex
	peripherals map[string]*peripheral
	inited      bool
	connected   bool

	statsMu    sync.Mutex
	errorCount int
	sends      int
	totalRTT   time.Duration
	lastBeat   time.Time
}

// New creates a simulated BLE backend.
func New(cfg Config) *Backend {
	cfg.normalize()
	return &Backend{
		cfg:         cfg,
		logger:      transport.NopLogger(),
		peripherals: make(map[string]*peripheral),
	}
}

// SetLogger sets the logger for the backend.
func (b *Backend) SetLogger(logger transport.Logger) {
	b.logger = logger
}

// Kind identifies this backend.
func (b *Backend) Kind() device.TransportKind { return device.TransportBLE }

// Init registers the configured peripherals.
func (b *Backend) Init(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inited {
		return transport.ErrAlreadyInitialized
	}
	for i := range b.cfg.Devices {
		dev := b.cfg.Devices[i].DeepCopy()
		dev.Transport = device.TransportBLE
		b.peripherals[dev.DID] = &peripheral{dev: dev, inRange: true}
	}
	b.inited = true
	return nil
}

// Connect powers the adapter on.
func (b *Backend) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.inited {
		return transport.ErrNotInitialized
	}
	if b.connected {
		return nil
	}
	b.connected = true
	b.statsMu.Lock()
	b.lastBeat = time.Now().UTC()
	b.statsMu.Unlock()

	b.Emit(transport.Event{Kind: transport.EventConnectionChanged, Transport: b.Kind(), Connected: true})
	return nil
}

// Disconnect powers the adapter off.
func (b *Backend) Disconnect() {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return
	}
	b.connected = false
	b.mu.Unlock()

	b.Emit(transport.Event{Kind: transport.EventConnectionChanged, Transport: b.Kind(), Connected: false})
}

// Connected reports whether the adapter is powered on.
func (b *Backend) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// SetInRange toggles whether a peripheral is within radio range.
func (b *Backend) SetInRange(did string, inRange bool) {
	b.mu.Lock()
	p, ok := b.peripherals[did]
	if ok {
		p.inRange = inRange
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	b.Emit(transport.Event{
		Kind:      transport.EventDeviceStatusChanged,
		Transport: b.Kind(),
		DeviceID:  did,
		Online:    inRange,
	})
}

// Advertise simulates a sensor advertisement frame carrying one value.
func (b *Backend) Advertise(did, property string, value device.Value) {
	b.mu.Lock()
	p, ok := b.peripherals[did]
	if ok {
		if prop, exists := p.dev.Properties[property]; exists {
			prop.Value = value.DeepCopy()
			prop.LastUpdatedAt = time.Now().UTC()
			p.dev.Properties[property] = prop
		}
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	b.Emit(transport.Event{
		Kind:      transport.EventPropertyUpdated,
		Transport: b.Kind(),
		DeviceID:  did,
		Property:  property,
		Value:     value,
	})
}

// SendCommand performs one connect-write exchange with the peripheral.
func (b *Backend) SendCommand(ctx context.Context, dev *device.Device, cmd transport.Command) transport.Result {
	res := transport.Result{
		CommandID: cmd.ID,
		DeviceID:  cmd.DeviceID,
		Property:  cmd.Property,
		Timestamp: time.Now().UTC(),
	}

	if !b.Connected() {
		res.Err = transport.ErrNotConnected
		return res
	}

	b.locks.Lock(cmd.DeviceID)
	defer b.locks.Unlock(cmd.DeviceID)

	start := time.Now()
	if err := b.exchange(ctx); err != nil {
		res.Err = err
		res.Duration = time.Since(start)
		return res
	}

	b.mu.Lock()
	p, ok := b.peripherals[cmd.DeviceID]
	if !ok || !p.inRange {
		b.mu.Unlock()
		b.recordError()
		res.Duration = time.Since(start)
		res.Err = fmt.Errorf("%w: %s", transport.ErrDeviceUnreachable, cmd.DeviceID)
		return res
	}
	prop, exists := p.dev.Properties[cmd.Property]
	if !exists || !prop.Writable {
		b.mu.Unlock()
		b.recordError()
		res.Duration = time.Since(start)
		res.Err = fmt.Errorf("%w: property %q on %s", transport.ErrUnsupported, cmd.Property, cmd.DeviceID)
		return res
	}
	prop.Value = cmd.Value.DeepCopy()
	prop.LastUpdatedAt = time.Now().UTC()
	p.dev.Properties[cmd.Property] = prop
	p.dev.LastSeenAt = prop.LastUpdatedAt
	b.mu.Unlock()

	res.Duration = time.Since(start)
	res.Success = true
	b.recordRTT(res.Duration)
	return res
}

// SendBatch runs commands sequentially; BLE has one connection at a time.
func (b *Backend) SendBatch(ctx context.Context, devs []*device.Device, cmds []transport.Command) []transport.Result {
	return transport.SequentialBatch(ctx, b, devs, cmds)
}

// QueryStatus reads the peripheral's full state.
func (b *Backend) QueryStatus(ctx context.Context, dev *device.Device) transport.StatusResult {
	res := transport.StatusResult{Timestamp: time.Now().UTC()}

	if !b.Connected() {
		res.Err = transport.ErrNotConnected
		return res
	}
	if err := b.exchange(ctx); err != nil {
		res.Err = err
		return res
	}

	b.mu.Lock()
	p, ok := b.peripherals[dev.DID]
	if !ok || !p.inRange {
		b.mu.Unlock()
		b.recordError()
		res.Err = fmt.Errorf("%w: %s", transport.ErrDeviceUnreachable, dev.DID)
		return res
	}
	snapshot := p.dev.DeepCopy()
	b.mu.Unlock()

	snapshot.Online = true
	res.Success = true
	res.Device = snapshot
	return res
}

// Discover scans for advertising peripherals.
func (b *Backend) Discover(ctx context.Context) ([]device.Device, error) {
	if !b.Connected() {
		return nil, transport.ErrNotConnected
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	found := make([]device.Device, 0, len(b.peripherals))
	for _, p := range b.peripherals {
		if !p.inRange {
			continue
		}
		cpy := p.dev.DeepCopy()
		cpy.Online = true
		found = append(found, *cpy)
	}
	return found, nil
}

// Health reports adapter state and rolling exchange stats.
func (b *Backend) Health() transport.Health {
	connected := b.Connected()

	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	var avg time.Duration
	if b.sends > 0 {
		avg = b.totalRTT / time.Duration(b.sends)
	}
	return transport.Health{
		Healthy:         connected,
		Connected:       connected,
		LastHeartbeat:   b.lastBeat,
		ErrorCount:      b.errorCount,
		AvgResponseTime: avg,
		Quality:         transport.GradeQuality(connected, b.errorCount, avg),
	}
}

// Shutdown powers off and releases the event stream.
func (b *Backend) Shutdown() {
	b.Disconnect()
	b.Close()
}

func (b *Backend) exchange(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return transport.ErrTimeout
	case <-time.After(b.cfg.Latency):
		return nil
	}
}

func (b *Backend) recordRTT(rtt time.Duration) {
	b.statsMu.Lock()
	b.sends++
	b.totalRTT += rtt
	b.lastBeat = time.Now().UTC()
	b.statsMu.Unlock()
}

func (b *Backend) recordError() {
	b.statsMu.Lock()
	b.errorCount++
	b.statsMu.Unlock()
}
