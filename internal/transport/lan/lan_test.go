package lan

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/LzzJustBeYou/rinLink/internal/device"
	"github.com/LzzJustBeYou/rinLink/internal/transport"
)

// fakeDevice is a UDP endpoint speaking the datagram protocol.
type fakeDevice struct {
	t    *testing.T
	conn *net.UDPConn
	dev  device.Device
	fail bool
}

func newFakeDevice(t *testing.T, dev device.Device) *fakeDevice {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("resolving addr: %v", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	f := &fakeDevice{t: t, conn: conn, dev: dev}
	go f.serve()
	t.Cleanup(func() { conn.Close() })
	return f
}

func (f *fakeDevice) addr() string { return f.conn.LocalAddr().String() }

func (f *fakeDevice) serve() {
	buf := make([]byte, 64*1024)
	for {
		n, remote, err := f.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		var msg message
		if err := json.Unmarshal(buf[:n], &msg); err != nil {
			continue
		}

		var reply message
		switch msg.Method {
		case "set":
			reply = message{ID: msg.ID, DID: f.dev.DID, OK: !f.fail}
			if f.fail {
				reply.Error = "actuator stuck"
			}
		case "get":
			dev := f.dev.DeepCopy()
			reply = message{ID: msg.ID, DID: f.dev.DID, OK: true, Device: dev}
		case "hello":
			dev := f.dev.DeepCopy()
			reply = message{Method: "hello", DID: f.dev.DID, Device: dev}
		default:
			continue
		}
		payload, _ := json.Marshal(reply)
		f.conn.WriteToUDP(payload, remote)
	}
}

func (f *fakeDevice) report(t *testing.T, target string, prop string, val device.Value) {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", target)
	if err != nil {
		t.Fatalf("resolving backend addr: %v", err)
	}
	payload, _ := json.Marshal(message{Method: "report", DID: f.dev.DID, Property: prop, Value: &val})
	if _, err := f.conn.WriteToUDP(payload, addr); err != nil {
		t.Fatalf("sending report: %v", err)
	}
}

func testLamp() device.Device {
	return device.Device{
		DID:       "lamp-1",
		Name:      "Desk Lamp",
		Type:      device.TypeLight,
		Transport: device.TransportLAN,
		Online:    true,
		Properties: map[string]device.Property{
			device.PropPower: {
				SIID: 2, PIID: 1, Name: device.PropPower,
				Type: device.PropertyBool, Value: device.BoolValue(true),
				Readable: true, Writable: true,
			},
		},
	}
}

func connectedBackend(t *testing.T, fake *fakeDevice) *Backend {
	t.Helper()
	b := New(Config{
		ListenAddr:       "127.0.0.1:0",
		BroadcastAddr:    fake.addr(),
		DiscoveryTimeout: 200 * time.Millisecond,
		Devices:          map[string]string{fake.dev.DID: fake.addr()},
	})
	ctx := context.Background()
	if err := b.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := b.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(b.Shutdown)
	return b
}

func TestSendCommandRoundTrip(t *testing.T) {
	fake := newFakeDevice(t, testLamp())
	b := connectedBackend(t, fake)

	dev := testLamp()
	cmd := transport.NewCommand(dev.DID, device.PropPower, device.BoolValue(true), transport.PriorityNormal, 0, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res := b.SendCommand(ctx, &dev, cmd)
	if !res.Success {
		t.Fatalf("SendCommand failed: %v", res.Err)
	}
	if res.CommandID != cmd.ID {
		t.Errorf("CommandID = %q, want %q", res.CommandID, cmd.ID)
	}
}

func TestSendCommandDeviceError(t *testing.T) {
	fake := newFakeDevice(t, testLamp())
	fake.fail = true
	b := connectedBackend(t, fake)

	dev := testLamp()
	cmd := transport.NewCommand(dev.DID, device.PropPower, device.BoolValue(true), transport.PriorityNormal, 0, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res := b.SendCommand(ctx, &dev, cmd)
	if res.Success {
		t.Fatal("expected failure from device error")
	}
	if res.Err == nil {
		t.Fatal("expected a non-nil error")
	}
}

func TestSendCommandUnknownAddress(t *testing.T) {
	fake := newFakeDevice(t, testLamp())
	b := connectedBackend(t, fake)

	dev := testLamp()
	dev.DID = "stranger"
	cmd := transport.NewCommand(dev.DID, device.PropPower, device.BoolValue(true), transport.PriorityNormal, 0, time.Second)

	res := b.SendCommand(context.Background(), &dev, cmd)
	if res.Success {
		t.Fatal("expected failure for unknown device address")
	}
}

func TestQueryStatus(t *testing.T) {
	fake := newFakeDevice(t, testLamp())
	b := connectedBackend(t, fake)

	dev := testLamp()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res := b.QueryStatus(ctx, &dev)
	if !res.Success {
		t.Fatalf("QueryStatus failed: %v", res.Err)
	}
	if res.Device == nil || res.Device.DID != dev.DID {
		t.Fatalf("QueryStatus returned wrong device: %+v", res.Device)
	}
}

func TestDiscover(t *testing.T) {
	fake := newFakeDevice(t, testLamp())
	b := connectedBackend(t, fake)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	found, err := b.Discover(ctx)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(found) != 1 || found[0].DID != "lamp-1" {
		t.Fatalf("Discover returned %+v, want lamp-1", found)
	}
}

func TestUnsolicitedReportEmitsEvent(t *testing.T) {
	fake := newFakeDevice(t, testLamp())
	b := connectedBackend(t, fake)

	sub := b.Subscribe(8)
	defer sub.Cancel()

	fake.report(t, b.conn.LocalAddr().String(), device.PropPower, device.BoolValue(false))

	select {
	case ev := <-sub.C:
		if ev.Kind != transport.EventPropertyUpdated {
			t.Fatalf("event kind = %q, want %q", ev.Kind, transport.EventPropertyUpdated)
		}
		if ev.DeviceID != "lamp-1" || ev.Property != device.PropPower {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for report event")
	}
}

func TestConnectLifecycle(t *testing.T) {
	b := New(Config{ListenAddr: "127.0.0.1:0"})
	ctx := context.Background()

	if err := b.Connect(ctx); err != transport.ErrNotInitialized {
		t.Fatalf("Connect before Init = %v, want ErrNotInitialized", err)
	}
	if err := b.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := b.Init(ctx); err != transport.ErrAlreadyInitialized {
		t.Fatalf("second Init = %v, want ErrAlreadyInitialized", err)
	}
	if err := b.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !b.Connected() {
		t.Fatal("Connected() = false after Connect")
	}
	b.Disconnect()
	if b.Connected() {
		t.Fatal("Connected() = true after Disconnect")
	}
	b.Shutdown()
}
