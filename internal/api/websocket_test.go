package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// dialWS connects a test client to the server's WebSocket endpoint.
func dialWS(t *testing.T, srv *Server) (*websocket.Conn, func()) {
	t.Helper()

	ts := httptest.NewServer(srv.buildRouter())
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		ts.Close()
		t.Fatalf("dial %s: %v", url, err)
	}
	if resp != nil {
		resp.Body.Close()
	}

	return conn, func() {
		conn.Close()
		ts.Close()
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return msg
}

func TestWebSocket_SubscribeAndReceive(t *testing.T) {
	srv, _ := testServer(t)
	conn, cleanup := dialWS(t, srv)
	defer cleanup()

	sub := WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{"device.property_changed"}},
	}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	resp := readMessage(t, conn)
	if resp.Type != WSTypeResponse {
		t.Fatalf("response type = %q, want %q", resp.Type, WSTypeResponse)
	}
	if resp.ID != "sub-1" {
		t.Errorf("response id = %q, want sub-1", resp.ID)
	}

	srv.hub.Broadcast("device.property_changed", map[string]string{"device_id": "lamp-1"})

	ev := readMessage(t, conn)
	if ev.Type != WSTypeEvent {
		t.Fatalf("event type = %q, want %q", ev.Type, WSTypeEvent)
	}
	if ev.EventType != "device.property_changed" {
		t.Errorf("event_type = %q, want device.property_changed", ev.EventType)
	}

	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if !strings.Contains(string(payload), "lamp-1") {
		t.Errorf("payload %s does not mention lamp-1", payload)
	}
}

func TestWebSocket_FiltersUnsubscribedChannels(t *testing.T) {
	srv, _ := testServer(t)
	conn, cleanup := dialWS(t, srv)
	defer cleanup()

	sub := WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{"scene.completed"}},
	}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	readMessage(t, conn) // subscribe ack

	// The first broadcast goes to a channel the client did not ask for;
	// only the second should arrive.
	srv.hub.Broadcast("queue.status", map[string]int{"depth": 3})
	srv.hub.Broadcast("scene.completed", map[string]string{"scene_id": "s-1"})

	ev := readMessage(t, conn)
	if ev.EventType != "scene.completed" {
		t.Errorf("event_type = %q, want scene.completed", ev.EventType)
	}
}

func TestWebSocket_WildcardSubscription(t *testing.T) {
	srv, _ := testServer(t)
	conn, cleanup := dialWS(t, srv)
	defer cleanup()

	sub := WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{"*"}},
	}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	readMessage(t, conn) // subscribe ack

	srv.hub.Broadcast("queue.status", map[string]int{"depth": 1})

	ev := readMessage(t, conn)
	if ev.EventType != "queue.status" {
		t.Errorf("event_type = %q, want queue.status", ev.EventType)
	}
}

func TestWebSocket_Ping(t *testing.T) {
	srv, _ := testServer(t)
	conn, cleanup := dialWS(t, srv)
	defer cleanup()

	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p-1"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	resp := readMessage(t, conn)
	if resp.Type != WSTypePong {
		t.Errorf("response type = %q, want %q", resp.Type, WSTypePong)
	}
	if resp.ID != "p-1" {
		t.Errorf("response id = %q, want p-1", resp.ID)
	}
}

func TestWebSocket_UnknownType(t *testing.T) {
	srv, _ := testServer(t)
	conn, cleanup := dialWS(t, srv)
	defer cleanup()

	if err := conn.WriteJSON(WSMessage{Type: "bogus", ID: "x"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	resp := readMessage(t, conn)
	if resp.Type != WSTypeError {
		t.Errorf("response type = %q, want %q", resp.Type, WSTypeError)
	}
}

func TestHub_ClientCount(t *testing.T) {
	srv, _ := testServer(t)

	if got := srv.hub.ClientCount(); got != 0 {
		t.Fatalf("initial ClientCount = %d, want 0", got)
	}

	conn, cleanup := dialWS(t, srv)
	defer cleanup()

	deadline := time.Now().Add(2 * time.Second)
	for srv.hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	conn.Close()
	for srv.hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never unregistered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
