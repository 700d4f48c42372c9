package zigbee

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/LzzJustBeYou/rinLink/internal/device"
	"github.com/LzzJustBeYou/rinLink/internal/transport"
)

// Config holds the simulated coordinator settings.
type Config struct {
	// Latency is the simulated per-command round trip, default 15ms.
	Latency time.Duration

	// Jitter adds up to this much random extra latency, default 10ms.
	Jitter time.Duration

	// Devices pre-joins the mesh on Init.
	Devices []device.Device
}

func (c *Config) normalize() {
	if c.Latency <= 0 {
		c.Latency = 15 * time.Millisecond
	}
	if c.Jitter < 0 {
		c.Jitter = 10 * time.Millisecond
	}
}

// node is one joined device plus its mesh-side state.
type node struct {
	dev       *device.Device
	reachable bool
}

// Backend is the simulated Zigbee coordinator.
type Backend struct {
	transport.Emitter

	cfg    Config
	logger transport.Logger
	locks  transport.DeviceLocks

	mu        sync.Mutex
	nodes     map[string]*node
	inited    bool
	connected bool

	statsMu    sync.Mutex
	errorCount int
	sends      int
	totalRTT   time.Duration
	lastBeat   time.Time
}

// New creates a simulated Zigbee backend.
func New(cfg Config) *Backend {
	cfg.normalize()
	return &Backend{
		cfg:    cfg,
		logger: transport.NopLogger(),
		nodes:  make(map[string]*node),
	}
}

// SetLogger sets the logger for the backend.
func (b *Backend) SetLogger(logger transport.Logger) {
	b.logger = logger
}

// Kind identifies this backend.
func (b *Backend) Kind() device.TransportKind { return device.TransportZigbee }

// Init joins the configured devices to the mesh.
func (b *Backend) Init(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inited {
		return transport.ErrAlreadyInitialized
	}
	for i := range b.cfg.Devices {
		dev := b.cfg.Devices[i].DeepCopy()
		dev.Transport = device.TransportZigbee
		b.nodes[dev.DID] = &node{dev: dev, reachable: true}
	}
	b.inited = true
	return nil
}

// Connect brings the coordinator online.
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
	b.logger.Info("zigbee coordinator online", "devices", len(b.nodes))
	return nil
}

// Disconnect takes the coordinator offline. Joined devices persist.
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

// Connected reports whether the coordinator is online.
func (b *Backend) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// Join adds a device to the mesh and announces it.
func (b *Backend) Join(dev device.Device) {
	cpy := dev.DeepCopy()
	cpy.Transport = device.TransportZigbee

	b.mu.Lock()
	b.nodes[cpy.DID] = &node{dev: cpy, reachable: true}
	b.mu.Unlock()

	b.Emit(transport.Event{
		Kind:      transport.EventDeviceDiscovered,
		Transport: b.Kind(),
		DeviceID:  cpy.DID,
		Device:    cpy.DeepCopy(),
	})
}

// Leave removes a device from the mesh and announces the loss.
func (b *Backend) Leave(did string) {
	b.mu.Lock()
	_, ok := b.nodes[did]
	delete(b.nodes, did)
	b.mu.Unlock()
	if !ok {
		return
	}

	b.Emit(transport.Event{
		Kind:      transport.EventDeviceLost,
		Transport: b.Kind(),
		DeviceID:  did,
	})
}

// SetReachable toggles a device's simulated radio reachability.
func (b *Backend) SetReachable(did string, reachable bool) {
	b.mu.Lock()
	n, ok := b.nodes[did]
	if ok {
		n.reachable = reachable
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	b.Emit(transport.Event{
		Kind:      transport.EventDeviceStatusChanged,
		Transport: b.Kind(),
		DeviceID:  did,
		Online:    reachable,
	})
}

// Report simulates a device-initiated property report, updating the
// mesh-side state and emitting a property event.
func (b *Backend) Report(did, property string, value device.Value) {
	b.mu.Lock()
	n, ok := b.nodes[did]
	if ok {
		if p, exists := n.dev.Properties[property]; exists {
			p.Value = value.DeepCopy()
			p.LastUpdatedAt = time.Now().UTC()
			n.dev.Properties[property] = p
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

// SendCommand applies one property write to the simulated device.
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
	if err := b.sleep(ctx); err != nil {
		res.Err = err
		res.Duration = time.Since(start)
		return res
	}

	b.mu.Lock()
	n, ok := b.nodes[cmd.DeviceID]
	if !ok || !n.reachable {
		b.mu.Unlock()
		b.recordError()
		res.Duration = time.Since(start)
		res.Err = fmt.Errorf("%w: %s", transport.ErrDeviceUnreachable, cmd.DeviceID)
		return res
	}
	p, exists := n.dev.Properties[cmd.Property]
	if !exists {
		b.mu.Unlock()
		b.recordError()
		res.Duration = time.Since(start)
		res.Err = fmt.Errorf("%w: property %q on %s", transport.ErrUnsupported, cmd.Property, cmd.DeviceID)
		return res
	}
	p.Value = cmd.Value.DeepCopy()
	p.LastUpdatedAt = time.Now().UTC()
	n.dev.Properties[cmd.Property] = p
	n.dev.LastSeenAt = p.LastUpdatedAt
	b.mu.Unlock()

	res.Duration = time.Since(start)
	res.Success = true
	b.recordRTT(res.Duration)
	return res
}

// SendBatch applies commands sequentially, one radio exchange each.
func (b *Backend) SendBatch(ctx context.Context, devs []*device.Device, cmds []transport.Command) []transport.Result {
	return transport.SequentialBatch(ctx, b, devs, cmds)
}

// QueryStatus returns the mesh-side snapshot of the device.
func (b *Backend) QueryStatus(ctx context.Context, dev *device.Device) transport.StatusResult {
	res := transport.StatusResult{Timestamp: time.Now().UTC()}

	if !b.Connected() {
		res.Err = transport.ErrNotConnected
		return res
	}
	if err := b.sleep(ctx); err != nil {
		res.Err = err
		return res
	}

	b.mu.Lock()
	n, ok := b.nodes[dev.DID]
	if !ok || !n.reachable {
		b.mu.Unlock()
		b.recordError()
		res.Err = fmt.Errorf("%w: %s", transport.ErrDeviceUnreachable, dev.DID)
		return res
	}
	snapshot := n.dev.DeepCopy()
	b.mu.Unlock()

	snapshot.Online = true
	res.Success = true
	res.Device = snapshot
	return res
}

// Discover lists every reachable device joined to the mesh.
func (b *Backend) Discover(ctx context.Context) ([]device.Device, error) {
	if !b.Connected() {
		return nil, transport.ErrNotConnected
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	found := make([]device.Device, 0, len(b.nodes))
	for _, n := range b.nodes {
		if !n.reachable {
			continue
		}
		cpy := n.dev.DeepCopy()
		cpy.Online = true
		found = append(found, *cpy)
	}
	return found, nil
}

// Health reports coordinator state and rolling command stats.
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

// Shutdown disconnects and releases the event stream.
func (b *Backend) Shutdown() {
	b.Disconnect()
	b.Close()
}

// sleep simulates the radio round trip, bounded by ctx.
func (b *Backend) sleep(ctx context.Context) error {
	d := b.cfg.Latency
	if b.cfg.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(b.cfg.Jitter)))
	}
	select {
	case <-ctx.Done():
		return transport.ErrTimeout
	case <-time.After(d):
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
