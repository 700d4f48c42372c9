package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/LzzJustBeYou/rinLink/internal/cache"
	"github.com/LzzJustBeYou/rinLink/internal/device"
	"github.com/LzzJustBeYou/rinLink/internal/queue"
	"github.com/LzzJustBeYou/rinLink/internal/transport"
)

// Logger defines the logging interface used by the Dispatcher.
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

// selectionOrder is the static transport preference, most preferred
// first.
var selectionOrder = []device.TransportKind{
	device.TransportLAN,
	device.TransportZigbee,
	device.TransportWebSocket,
	device.TransportBLE,
	device.TransportMQTT,
}

// Config tunes the dispatcher.
type Config struct {
	// DefaultRetries is applied to commands submitted without an
	// explicit retry count.
	DefaultRetries int

	// DefaultTimeout is applied to commands submitted without an
	// explicit timeout.
	DefaultTimeout time.Duration

	// EventBuffer sizes the per-backend event subscriptions and the
	// dispatcher's own event stream.
	EventBuffer int
}

func (c *Config) normalize() {
	if c.DefaultRetries < 0 {
		c.DefaultRetries = 0
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 5 * time.Second
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 256
	}
}

// Dispatcher routes queued commands to transport backends and pumps
// backend events into the state cache.
type Dispatcher struct {
	mu         sync.RWMutex
	transports map[device.TransportKind]*registration
	stopped    bool

	cache  *cache.StateCache
	queue  *queue.Queue
	events transport.Emitter
	cfg    Config
	logger Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

type registration struct {
	t    transport.Transport
	sub  *transport.Subscription
	stop context.CancelFunc
}

// New creates a dispatcher over the given cache and queue.
func New(sc *cache.StateCache, q *queue.Queue, cfg Config) *Dispatcher {
	cfg.normalize()
	return &Dispatcher{
		transports: make(map[device.TransportKind]*registration),
		cache:      sc,
		queue:      q,
		cfg:        cfg,
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// Register adds a backend. A second backend for the same kind is
// rejected.
func (d *Dispatcher) Register(t transport.Transport) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return ErrStopped
	}
	kind := t.Kind()
	if _, ok := d.transports[kind]; ok {
		return fmt.Errorf("%w: %s", ErrTransportExists, kind)
	}
	d.transports[kind] = &registration{t: t}
	d.logger.Info("transport registered", "kind", kind)
	return nil
}

// Unregister disconnects and removes a backend.
func (d *Dispatcher) Unregister(kind device.TransportKind) error {
	d.mu.Lock()
	reg, ok := d.transports[kind]
	if ok {
		delete(d.transports, kind)
	}
	d.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrTransportNotFound, kind)
	}
	if reg.stop != nil {
		reg.stop()
	}
	if reg.sub != nil {
		reg.sub.Cancel()
	}
	reg.t.Disconnect()
	reg.t.Shutdown()
	d.logger.Info("transport unregistered", "kind", kind)
	return nil
}

// InitializeAll initializes and connects every registered backend and
// starts its event pump. Individual backend failures are logged and do
// not stop the others; the first error is returned.
func (d *Dispatcher) InitializeAll(ctx context.Context) error {
	d.mu.Lock()
	regs := make([]*registration, 0, len(d.transports))
	for _, reg := range d.transports {
		regs = append(regs, reg)
	}
	d.mu.Unlock()

	var firstErr error
	for _, reg := range regs {
		kind := reg.t.Kind()
		if err := reg.t.Init(ctx); err != nil {
			d.logger.Error("transport init failed", "kind", kind, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("initializing %s: %w", kind, err)
			}
			continue
		}
		d.startEventPump(ctx, reg)
		if err := reg.t.Connect(ctx); err != nil {
			d.logger.Warn("transport connect failed, will retry on demand", "kind", kind, "error", err)
			continue
		}
		d.logger.Info("transport connected", "kind", kind)
	}
	return firstErr
}

// Run starts the drain worker. It returns immediately; call Stop to
// halt.
func (d *Dispatcher) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.drain(ctx)
	}()
}

// Stop halts the drain worker and shuts every backend down.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	cancel := d.cancel
	regs := make([]*registration, 0, len(d.transports))
	for kind, reg := range d.transports {
		regs = append(regs, reg)
		delete(d.transports, kind)
	}
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, reg := range regs {
		if reg.stop != nil {
			reg.stop()
		}
		if reg.sub != nil {
			reg.sub.Cancel()
		}
	}
	d.wg.Wait()

	for _, reg := range regs {
		reg.t.Disconnect()
		reg.t.Shutdown()
	}
	d.events.Close()
	d.logger.Info("dispatcher stopped")
}

// Subscribe registers a consumer for post-cache events: command
// results, connection changes, errors, everything the backends emit.
func (d *Dispatcher) Subscribe(buffer int) *transport.Subscription {
	if buffer <= 0 {
		buffer = d.cfg.EventBuffer
	}
	return d.events.Subscribe(buffer)
}

// Submit queues one command. Zero Retries and Timeout pick up the
// configured defaults; transport.NoRetry requests a single attempt.
// Writes to a property the cache knows to be read-only are rejected
// here, before the command ever reaches the queue. When no backend is
// connected the command goes to the offline buffer instead.
func (d *Dispatcher) Submit(cmd transport.Command) error {
	d.applyDefaults(&cmd)
	if err := cmd.Validate(); err != nil {
		return err
	}
	if err := d.checkWritable(cmd); err != nil {
		return err
	}
	if _, ok := d.pickTransport(""); !ok {
		d.logger.Debug("no transport connected, buffering command",
			"command_id", cmd.ID, "device_id", cmd.DeviceID)
		return d.queue.BufferOffline(cmd)
	}
	return d.queue.Enqueue(cmd)
}

// SubmitBatch queues a batch all-or-nothing. With no backend connected
// the whole batch is buffered offline in order.
func (d *Dispatcher) SubmitBatch(cmds []transport.Command) error {
	for i := range cmds {
		d.applyDefaults(&cmds[i])
		if err := cmds[i].Validate(); err != nil {
			return fmt.Errorf("batch member %d: %w", i, err)
		}
		if err := d.checkWritable(cmds[i]); err != nil {
			return fmt.Errorf("batch member %d: %w", i, err)
		}
	}
	if _, ok := d.pickTransport(""); !ok {
		for _, cmd := range cmds {
			if err := d.queue.BufferOffline(cmd); err != nil {
				return err
			}
		}
		return nil
	}
	return d.queue.EnqueueBatch(cmds)
}

// QueryStatus asks the owning backend for a device's authoritative
// state and applies the answer to the cache.
func (d *Dispatcher) QueryStatus(ctx context.Context, deviceID string) (transport.StatusResult, error) {
	dev, err := d.cache.Get(deviceID)
	if err != nil {
		return transport.StatusResult{}, err
	}
	t, ok := d.pickTransport(dev.Transport)
	if !ok {
		return transport.StatusResult{}, ErrNoTransport
	}

	res := t.QueryStatus(ctx, dev)
	if res.Success && res.Device != nil {
		if err := d.cache.UpsertDevice(*res.Device); err != nil {
			d.logger.Warn("status result rejected by cache", "device_id", deviceID, "error", err)
		}
	}
	return res, nil
}

// DiscoverAll runs discovery on every connected backend and upserts the
// findings. Backends without discovery or with failures are skipped;
// the scan is as complete as the healthy backends allow.
func (d *Dispatcher) DiscoverAll(ctx context.Context) []device.Device {
	d.mu.RLock()
	regs := make([]*registration, 0, len(d.transports))
	for _, reg := range d.transports {
		regs = append(regs, reg)
	}
	d.mu.RUnlock()

	var found []device.Device
	for _, reg := range regs {
		if !reg.t.Connected() {
			continue
		}
		devices, err := reg.t.Discover(ctx)
		if err != nil {
			d.logger.Warn("discovery failed", "kind", reg.t.Kind(), "error", err)
			continue
		}
		for _, dev := range devices {
			if err := d.cache.UpsertDevice(dev); err != nil {
				d.logger.Warn("discovered device rejected", "device_id", dev.DID, "error", err)
				continue
			}
			found = append(found, dev)
		}
	}
	return found
}

// Health reports every registered backend's condition.
func (d *Dispatcher) Health() map[device.TransportKind]transport.Health {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[device.TransportKind]transport.Health, len(d.transports))
	for kind, reg := range d.transports {
		out[kind] = reg.t.Health()
	}
	return out
}

// Transports returns the registered kinds in selection order.
func (d *Dispatcher) Transports() []device.TransportKind {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]device.TransportKind, 0, len(d.transports))
	for _, kind := range selectionOrder {
		if _, ok := d.transports[kind]; ok {
			out = append(out, kind)
		}
	}
	return out
}

func (d *Dispatcher) applyDefaults(cmd *transport.Command) {
	switch {
	case cmd.Retries == transport.NoRetry:
		cmd.Retries = 0
	case cmd.Retries == 0:
		cmd.Retries = d.cfg.DefaultRetries
	}
	if cmd.Timeout == 0 {
		cmd.Timeout = d.cfg.DefaultTimeout
	}
}

// checkWritable rejects writes to properties the cache knows to be
// read-only. Unknown devices pass through; they are resolved again at
// dispatch time.
func (d *Dispatcher) checkWritable(cmd transport.Command) error {
	dev, err := d.cache.Get(cmd.DeviceID)
	if err != nil {
		return nil
	}
	if prop, ok := dev.Properties[cmd.Property]; ok && !prop.Writable {
		return fmt.Errorf("%w: %s/%s", device.ErrPropertyNotWritable, cmd.DeviceID, cmd.Property)
	}
	return nil
}

// pickTransport returns the preferred connected backend. A non-empty
// preferred kind wins when its backend is connected; otherwise the
// static selection order decides.
func (d *Dispatcher) pickTransport(preferred device.TransportKind) (transport.Transport, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if preferred != "" {
		if reg, ok := d.transports[preferred]; ok && reg.t.Connected() {
			return reg.t, true
		}
	}
	for _, kind := range selectionOrder {
		if reg, ok := d.transports[kind]; ok && reg.t.Connected() {
			return reg.t, true
		}
	}
	return nil, false
}
