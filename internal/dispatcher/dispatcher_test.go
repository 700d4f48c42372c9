package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/LzzJustBeYou/rinLink/internal/cache"
	"github.com/LzzJustBeYou/rinLink/internal/device"
	"github.com/LzzJustBeYou/rinLink/internal/queue"
	"github.com/LzzJustBeYou/rinLink/internal/transport"
)

// fakeTransport is a scriptable in-memory backend.
type fakeTransport struct {
	transport.Emitter

	kind      device.TransportKind
	mu        sync.Mutex
	connected bool
	failures  int // SendCommand fails this many times before succeeding
	sent      []transport.Command
	inited    bool
	shutdown  bool
}

func newFakeTransport(kind device.TransportKind) *fakeTransport {
	return &fakeTransport{kind: kind}
}

func (f *fakeTransport) Kind() device.TransportKind { return f.kind }

func (f *fakeTransport) Init(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inited = true
	return nil
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	f.Emit(transport.Event{Kind: transport.EventConnectionChanged, Transport: f.kind, Connected: true})
	return nil
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) SendCommand(ctx context.Context, dev *device.Device, cmd transport.Command) transport.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, cmd)
	res := transport.Result{
		CommandID: cmd.ID,
		DeviceID:  cmd.DeviceID,
		Property:  cmd.Property,
		Timestamp: time.Now().UTC(),
	}
	if f.failures > 0 {
		f.failures--
		res.Err = transport.ErrDeviceUnreachable
		return res
	}
	res.Success = true
	return res
}

func (f *fakeTransport) SendBatch(ctx context.Context, devs []*device.Device, cmds []transport.Command) []transport.Result {
	return transport.SequentialBatch(ctx, f, devs, cmds)
}

func (f *fakeTransport) QueryStatus(ctx context.Context, dev *device.Device) transport.StatusResult {
	return transport.StatusResult{Success: true, Device: dev.DeepCopy(), Timestamp: time.Now().UTC()}
}

func (f *fakeTransport) Discover(ctx context.Context) ([]device.Device, error) {
	return nil, transport.ErrUnsupported
}

func (f *fakeTransport) Health() transport.Health {
	return transport.Health{Healthy: f.Connected(), Connected: f.Connected()}
}

func (f *fakeTransport) Shutdown() {
	f.mu.Lock()
	f.shutdown = true
	f.mu.Unlock()
	f.Close()
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testDevice(id string, kind device.TransportKind) device.Device {
	return device.Device{
		DID:       id,
		Name:      "Test Device",
		Type:      device.TypeLight,
		Transport: kind,
		Online:    true,
		Properties: map[string]device.Property{
			device.PropPower: {
				Name:     device.PropPower,
				Type:     device.PropertyBool,
				Value:    device.BoolValue(false),
				Readable: true,
				Writable: true,
			},
		},
	}
}

// thermostat is a sensor whose only property is read-only.
func thermostat(id string, kind device.TransportKind) device.Device {
	return device.Device{
		DID:       id,
		Name:      "Thermostat",
		Type:      device.TypeSensor,
		Transport: kind,
		Online:    true,
		Properties: map[string]device.Property{
			device.PropTemperature: {
				Name:     device.PropTemperature,
				Type:     device.PropertyFloat,
				Value:    device.FloatValue(21),
				Readable: true,
			},
		},
	}
}

type fixture struct {
	cache *cache.StateCache
	queue *queue.Queue
	disp  *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sc := cache.New(cache.Config{})
	q := queue.New(queue.Config{OfflineLimit: 10})
	d := New(sc, q, Config{DefaultRetries: 3, DefaultTimeout: time.Second})
	t.Cleanup(func() {
		d.Stop()
		q.Close()
		sc.Close()
	})
	return &fixture{cache: sc, queue: q, disp: d}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestRegisterDuplicateKind(t *testing.T) {
	fx := newFixture(t)
	if err := fx.disp.Register(newFakeTransport(device.TransportLAN)); err != nil {
		t.Fatal(err)
	}
	err := fx.disp.Register(newFakeTransport(device.TransportLAN))
	if !errors.Is(err, ErrTransportExists) {
		t.Fatalf("error = %v, want ErrTransportExists", err)
	}
}

func TestUnregisterUnknown(t *testing.T) {
	fx := newFixture(t)
	if err := fx.disp.Unregister(device.TransportBLE); !errors.Is(err, ErrTransportNotFound) {
		t.Fatalf("error = %v, want ErrTransportNotFound", err)
	}
}

func TestSubmitDispatchesToPreferredTransport(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	lan := newFakeTransport(device.TransportLAN)
	zb := newFakeTransport(device.TransportZigbee)
	for _, tr := range []transport.Transport{lan, zb} {
		if err := fx.disp.Register(tr); err != nil {
			t.Fatal(err)
		}
	}
	if err := fx.disp.InitializeAll(ctx); err != nil {
		t.Fatal(err)
	}
	fx.disp.Run(ctx)

	if err := fx.cache.UpsertDevice(testDevice("dev-1", device.TransportZigbee)); err != nil {
		t.Fatal(err)
	}

	cmd := transport.NewCommand("dev-1", device.PropPower, device.BoolValue(true), transport.PriorityNormal, 0, 0)
	if err := fx.disp.Submit(cmd); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return zb.sentCount() == 1 }, "command not sent on zigbee")
	if lan.sentCount() != 0 {
		t.Error("command leaked to the lan backend")
	}

	// Successful send is reflected in the cache.
	waitFor(t, func() bool {
		dev, err := fx.cache.Get("dev-1")
		if err != nil {
			return false
		}
		on, _ := dev.Properties[device.PropPower].Value.Bool()
		return on
	}, "cache not updated after send")
}

func TestFailoverToNextTransport(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	lan := newFakeTransport(device.TransportLAN)
	mq := newFakeTransport(device.TransportMQTT)
	fx.disp.Register(lan)
	fx.disp.Register(mq)
	fx.disp.InitializeAll(ctx)
	fx.disp.Run(ctx)

	// Device prefers lan, but lan is down.
	lan.Disconnect()
	fx.cache.UpsertDevice(testDevice("dev-1", device.TransportLAN))

	cmd := transport.NewCommand("dev-1", device.PropPower, device.BoolValue(true), transport.PriorityHigh, 0, 0)
	if err := fx.disp.Submit(cmd); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return mq.sentCount() == 1 }, "command did not fail over to mqtt")
}

func TestRetryThenPermanentFailure(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	lan := newFakeTransport(device.TransportLAN)
	lan.failures = 100 // never succeeds
	fx.disp.Register(lan)
	fx.disp.InitializeAll(ctx)
	fx.disp.Run(ctx)

	fx.cache.UpsertDevice(testDevice("dev-1", device.TransportLAN))

	sub := fx.disp.Subscribe(16)
	defer sub.Cancel()

	cmd := transport.NewCommand("dev-1", device.PropPower, device.BoolValue(true), transport.PriorityNormal, 2, time.Second)
	if err := fx.disp.Submit(cmd); err != nil {
		t.Fatal(err)
	}

	// 1 initial attempt + 2 retries.
	waitFor(t, func() bool { return lan.sentCount() == 3 }, "expected 3 attempts")

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sub.C:
			if ev.Kind == transport.EventCommandResult && !ev.Result.Success {
				if !errors.Is(ev.Result.Err, transport.ErrDeviceUnreachable) {
					t.Fatalf("result error = %v", ev.Result.Err)
				}
				return
			}
		case <-deadline:
			t.Fatal("no failure result emitted")
		}
	}
}

func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	lan := newFakeTransport(device.TransportLAN)
	lan.failures = 2
	fx.disp.Register(lan)
	fx.disp.InitializeAll(ctx)
	fx.disp.Run(ctx)

	fx.cache.UpsertDevice(testDevice("dev-1", device.TransportLAN))

	cmd := transport.NewCommand("dev-1", device.PropPower, device.BoolValue(true), transport.PriorityNormal, 3, time.Second)
	if err := fx.disp.Submit(cmd); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return lan.sentCount() == 3 }, "expected 2 failures then success")
}

func TestOfflineBufferAndFlushOnReconnect(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	lan := newFakeTransport(device.TransportLAN)
	fx.disp.Register(lan)
	fx.disp.InitializeAll(ctx)
	fx.disp.Run(ctx)

	fx.cache.UpsertDevice(testDevice("dev-1", device.TransportLAN))
	lan.Disconnect()

	cmd := transport.NewCommand("dev-1", device.PropPower, device.BoolValue(true), transport.PriorityNormal, 0, 0)
	if err := fx.disp.Submit(cmd); err != nil {
		t.Fatal(err)
	}
	if fx.queue.OfflineSize() != 1 {
		t.Fatalf("offline size = %d, want 1", fx.queue.OfflineSize())
	}
	if lan.sentCount() != 0 {
		t.Fatal("command sent while disconnected")
	}

	// Reconnect flushes the buffer through the event pump.
	if err := lan.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return lan.sentCount() == 1 }, "buffered command not sent after reconnect")
	if fx.queue.OfflineSize() != 0 {
		t.Error("offline buffer not drained")
	}
}

func TestEventsReachCacheBeforeSubscribers(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	lan := newFakeTransport(device.TransportLAN)
	fx.disp.Register(lan)
	fx.disp.InitializeAll(ctx)
	fx.disp.Run(ctx)

	fx.cache.UpsertDevice(testDevice("dev-1", device.TransportLAN))

	sub := fx.disp.Subscribe(16)
	defer sub.Cancel()

	lan.Emit(transport.Event{
		Kind:     transport.EventPropertyUpdated,
		DeviceID: "dev-1",
		Property: device.PropPower,
		Value:    device.BoolValue(true),
	})

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sub.C:
			if ev.Kind != transport.EventPropertyUpdated {
				continue
			}
			// By the time the event is visible the cache must be too.
			dev, err := fx.cache.Get("dev-1")
			if err != nil {
				t.Fatal(err)
			}
			if on, _ := dev.Properties[device.PropPower].Value.Bool(); !on {
				t.Fatal("event visible before cache update")
			}
			return
		case <-deadline:
			t.Fatal("event not forwarded")
		}
	}
}

func TestQueryStatusRefreshesCache(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	lan := newFakeTransport(device.TransportLAN)
	fx.disp.Register(lan)
	fx.disp.InitializeAll(ctx)

	fx.cache.UpsertDevice(testDevice("dev-1", device.TransportLAN))

	res, err := fx.disp.QueryStatus(ctx, "dev-1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatal("query failed")
	}
	if _, err := fx.disp.QueryStatus(ctx, "ghost"); err == nil {
		t.Error("expected error for unknown device")
	}
}

func TestSubmitRejectsReadOnlyProperty(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	lan := newFakeTransport(device.TransportLAN)
	fx.disp.Register(lan)
	fx.disp.InitializeAll(ctx)
	fx.disp.Run(ctx)

	fx.cache.UpsertDevice(thermostat("thermo-1", device.TransportLAN))

	cmd := transport.NewCommand("thermo-1", device.PropTemperature, device.FloatValue(30), transport.PriorityNormal, 0, 0)
	if err := fx.disp.Submit(cmd); !errors.Is(err, device.ErrPropertyNotWritable) {
		t.Fatalf("error = %v, want ErrPropertyNotWritable", err)
	}
	if fx.queue.Size() != 0 {
		t.Error("rejected command entered the queue")
	}

	time.Sleep(50 * time.Millisecond)
	if lan.sentCount() != 0 {
		t.Error("rejected command reached the transport")
	}

	// The cached reading is untouched.
	dev, err := fx.cache.Get("thermo-1")
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := dev.Properties[device.PropTemperature].Value.Float(); v != 21 {
		t.Errorf("cached temperature = %v, want 21", v)
	}
}

func TestSubmitBatchRejectsReadOnlyMember(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	lan := newFakeTransport(device.TransportLAN)
	fx.disp.Register(lan)
	fx.disp.InitializeAll(ctx)

	fx.cache.UpsertDevice(testDevice("dev-1", device.TransportLAN))
	fx.cache.UpsertDevice(thermostat("thermo-1", device.TransportLAN))

	batch := []transport.Command{
		transport.NewCommand("dev-1", device.PropPower, device.BoolValue(true), transport.PriorityNormal, 0, 0),
		transport.NewCommand("thermo-1", device.PropTemperature, device.FloatValue(30), transport.PriorityNormal, 0, 0),
	}
	if err := fx.disp.SubmitBatch(batch); !errors.Is(err, device.ErrPropertyNotWritable) {
		t.Fatalf("error = %v, want ErrPropertyNotWritable", err)
	}
	// All-or-nothing: the valid member must not be queued either.
	if fx.queue.Size() != 0 {
		t.Errorf("queue size = %d, want 0", fx.queue.Size())
	}
}

func TestQueuedReadOnlyWriteDroppedAtDispatch(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	lan := newFakeTransport(device.TransportLAN)
	fx.disp.Register(lan)
	fx.disp.InitializeAll(ctx)

	fx.cache.UpsertDevice(thermostat("thermo-1", device.TransportLAN))

	sub := fx.disp.Subscribe(16)
	defer sub.Cancel()

	// Enqueue behind the dispatcher's back, as a stale offline flush
	// would after the property turned read-only.
	cmd := transport.NewCommand("thermo-1", device.PropTemperature, device.FloatValue(30), transport.PriorityNormal, 0, time.Second)
	if err := fx.queue.Enqueue(cmd); err != nil {
		t.Fatal(err)
	}
	fx.disp.Run(ctx)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sub.C:
			if ev.Kind != transport.EventCommandResult {
				continue
			}
			if !errors.Is(ev.Result.Err, device.ErrPropertyNotWritable) {
				t.Fatalf("result error = %v, want ErrPropertyNotWritable", ev.Result.Err)
			}
			if lan.sentCount() != 0 {
				t.Fatal("read-only write reached the transport")
			}
			return
		case <-deadline:
			t.Fatal("no result emitted for dropped command")
		}
	}
}

func TestNoRetrySentinelMeansSingleAttempt(t *testing.T) {
	fx := newFixture(t) // DefaultRetries is 3
	ctx := context.Background()

	lan := newFakeTransport(device.TransportLAN)
	lan.failures = 100
	fx.disp.Register(lan)
	fx.disp.InitializeAll(ctx)
	fx.disp.Run(ctx)

	fx.cache.UpsertDevice(testDevice("dev-1", device.TransportLAN))

	cmd := transport.NewCommand("dev-1", device.PropPower, device.BoolValue(true), transport.PriorityNormal, transport.NoRetry, 0)
	if err := fx.disp.Submit(cmd); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return lan.sentCount() == 1 }, "command not attempted")
	time.Sleep(100 * time.Millisecond)
	if n := lan.sentCount(); n != 1 {
		t.Fatalf("attempts = %d, want exactly 1", n)
	}
}

func TestSubmitBatchBuffersWhenAllDown(t *testing.T) {
	fx := newFixture(t)

	lan := newFakeTransport(device.TransportLAN)
	fx.disp.Register(lan) // never connected

	batch := []transport.Command{
		transport.NewCommand("dev-1", device.PropPower, device.BoolValue(true), transport.PriorityNormal, 0, 0),
		transport.NewCommand("dev-2", device.PropPower, device.BoolValue(true), transport.PriorityNormal, 0, 0),
	}
	if err := fx.disp.SubmitBatch(batch); err != nil {
		t.Fatal(err)
	}
	if fx.queue.OfflineSize() != 2 {
		t.Fatalf("offline size = %d, want 2", fx.queue.OfflineSize())
	}
}
