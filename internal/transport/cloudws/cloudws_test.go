package cloudws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/LzzJustBeYou/rinLink/internal/device"
	"github.com/LzzJustBeYou/rinLink/internal/transport"
)

// fakeGateway is an in-process relay endpoint.
type fakeGateway struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conn     *websocket.Conn
	token    string
	failSets bool
	devices  []device.Device
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	g := &fakeGateway{t: t}
	g.srv = httptest.NewServer(http.HandlerFunc(g.handle))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGateway) url() string {
	return "ws" + strings.TrimPrefix(g.srv.URL, "http")
}

func (g *fakeGateway) handle(w http.ResponseWriter, r *http.Request) {
	if g.token != "" && r.Header.Get("Authorization") != "Bearer "+g.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	g.mu.Lock()
	g.conn = conn
	g.mu.Unlock()
	go g.serve(conn)
}

func (g *fakeGateway) serve(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}

		var reply frame
		switch f.Type {
		case "set":
			reply = frame{ID: f.ID, Type: "result", DID: f.DID, OK: !g.failSets}
			if g.failSets {
				reply.Error = "device offline"
			}
		case "get":
			for i := range g.devices {
				if g.devices[i].DID == f.DID {
					dev := g.devices[i].DeepCopy()
					reply = frame{ID: f.ID, Type: "result", DID: f.DID, OK: true, Device: dev}
				}
			}
			if reply.ID == 0 {
				reply = frame{ID: f.ID, Type: "result", DID: f.DID, Error: "unknown device"}
			}
		case "discover":
			reply = frame{ID: f.ID, Type: "result", OK: true, Devices: g.devices}
		default:
			continue
		}
		payload, _ := json.Marshal(reply)
		g.mu.Lock()
		conn.WriteMessage(websocket.TextMessage, payload)
		g.mu.Unlock()
	}
}

// push sends an unsolicited frame to the connected client.
func (g *fakeGateway) push(f frame) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn == nil {
		g.t.Fatal("no client connected")
	}
	payload, _ := json.Marshal(f)
	g.conn.WriteMessage(websocket.TextMessage, payload)
}

func cloudPlug() device.Device {
	return device.Device{
		DID:       "cloud-plug-1",
		Name:      "Heater Plug",
		Type:      device.TypeSwitch,
		Transport: device.TransportWebSocket,
		Online:    true,
		Properties: map[string]device.Property{
			device.PropPower: {
				SIID: 2, PIID: 1, Name: device.PropPower,
				Type: device.PropertyBool, Value: device.BoolValue(false),
				Readable: true, Writable: true,
			},
		},
	}
}

func connectedBackend(t *testing.T, g *fakeGateway) *Backend {
	t.Helper()
	b := New(Config{
		URL:            g.url(),
		Token:          g.token,
		ReconnectMin:   10 * time.Millisecond,
		RequestTimeout: 2 * time.Second,
	})
	ctx := context.Background()
	if err := b.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := b.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(b.Shutdown)
	waitFor(t, b.Connected)
	return b
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestSendCommandRoundTrip(t *testing.T) {
	g := newFakeGateway(t)
	b := connectedBackend(t, g)

	dev := cloudPlug()
	cmd := transport.NewCommand(dev.DID, device.PropPower, device.BoolValue(true), transport.PriorityNormal, 0, time.Second)
	res := b.SendCommand(context.Background(), &dev, cmd)
	if !res.Success {
		t.Fatalf("SendCommand failed: %v", res.Err)
	}
}

func TestSendCommandGatewayError(t *testing.T) {
	g := newFakeGateway(t)
	g.failSets = true
	b := connectedBackend(t, g)

	dev := cloudPlug()
	cmd := transport.NewCommand(dev.DID, device.PropPower, device.BoolValue(true), transport.PriorityNormal, 0, time.Second)
	res := b.SendCommand(context.Background(), &dev, cmd)
	if res.Success {
		t.Fatal("expected failure from gateway error")
	}
}

func TestQueryStatusAndDiscover(t *testing.T) {
	g := newFakeGateway(t)
	g.devices = []device.Device{cloudPlug()}
	b := connectedBackend(t, g)

	dev := cloudPlug()
	status := b.QueryStatus(context.Background(), &dev)
	if !status.Success || status.Device.DID != dev.DID {
		t.Fatalf("QueryStatus = %+v, err=%v", status.Device, status.Err)
	}

	found, err := b.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(found) != 1 || found[0].DID != "cloud-plug-1" {
		t.Fatalf("Discover = %+v, want cloud-plug-1", found)
	}
}

func TestUnsolicitedStateFrame(t *testing.T) {
	g := newFakeGateway(t)
	b := connectedBackend(t, g)

	sub := b.Subscribe(8)
	defer sub.Cancel()

	val := device.BoolValue(true)
	g.push(frame{Type: "state", DID: "cloud-plug-1", Property: device.PropPower, Value: &val})

	select {
	case ev := <-sub.C:
		if ev.Kind != transport.EventPropertyUpdated || ev.DeviceID != "cloud-plug-1" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for state event")
	}
}

func TestPresenceFrame(t *testing.T) {
	g := newFakeGateway(t)
	b := connectedBackend(t, g)

	sub := b.Subscribe(8)
	defer sub.Cancel()

	offline := false
	g.push(frame{Type: "presence", DID: "cloud-plug-1", Online: &offline})

	select {
	case ev := <-sub.C:
		if ev.Kind != transport.EventDeviceStatusChanged || ev.Online {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for presence event")
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	g := newFakeGateway(t)
	b := connectedBackend(t, g)

	sub := b.Subscribe(8)
	defer sub.Cancel()

	g.mu.Lock()
	g.conn.Close()
	g.conn = nil
	g.mu.Unlock()

	// Disconnect then reconnect flow through the event stream.
	sawDown := false
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-sub.C:
			if ev.Kind != transport.EventConnectionChanged {
				continue
			}
			if !ev.Connected {
				sawDown = true
				continue
			}
			if sawDown && ev.Connected {
				waitFor(t, b.Connected)
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for reconnect")
		}
	}
}

func TestCommandWhileDisconnected(t *testing.T) {
	b := New(Config{URL: "ws://127.0.0.1:1/ws", ReconnectMin: time.Hour})
	if err := b.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(b.Shutdown)

	dev := cloudPlug()
	cmd := transport.NewCommand(dev.DID, device.PropPower, device.BoolValue(true), transport.PriorityNormal, 0, time.Second)
	res := b.SendCommand(context.Background(), &dev, cmd)
	if res.Err != transport.ErrNotConnected {
		t.Fatalf("err = %v, want ErrNotConnected", res.Err)
	}
}
