package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/device-ledger/internal/infrastructure/config"
	"github.com/nerrad567/device-ledger/internal/infrastructure/logging"
	"github.com/nerrad567/device-ledger/internal/ledger"
)

func testHub(t *testing.T) *Hub {
	t.Helper()
	log := logging.NewWithWriter(config.LoggingConfig{Level: "error"}, "test", io.Discard)
	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, log)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func newTestClient(hub *Hub, subscriptions map[string]deviceFilter) *WSClient {
	client := newWSClient(hub, nil, "observer")
	for ch, filter := range subscriptions {
		client.subscriptions[ch] = filter
	}
	return client
}

// nextFrame reads one queued frame from a client without a connection.
func nextFrame(t *testing.T, client *WSClient) map[string]any {
	t.Helper()
	select {
	case data := <-client.send:
		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		return frame
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func expectNoFrame(t *testing.T, client *WSClient) {
	t.Helper()
	select {
	case data := <-client.send:
		t.Errorf("unexpected frame %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_PublishStateChange(t *testing.T) {
	hub := testHub(t)

	subscribed := newTestClient(hub, map[string]deviceFilter{ChannelStateChanged: nil})
	idle := newTestClient(hub, nil)
	hub.Register(subscribed)
	hub.Register(idle)

	ev := ledger.StateChange{Seq: 7, Device: "lamp", NewState: true, Caller: "alice", RecordedAt: time.Now().UTC()}
	if err := hub.PublishStateChange(context.Background(), ev); err != nil {
		t.Fatalf("PublishStateChange() error = %v", err)
	}

	select {
	case msg := <-subscribed.send:
		var wsMsg struct {
			Type      string             `json:"type"`
			ID        string             `json:"id"`
			EventType string             `json:"event_type"`
			Payload   ledger.StateChange `json:"payload"`
		}
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.Type != WSTypeEvent || wsMsg.EventType != ChannelStateChanged || wsMsg.ID != "7" {
			t.Errorf("message = %+v", wsMsg)
		}
		if wsMsg.Payload.Seq != 7 || wsMsg.Payload.Device != "lamp" || !wsMsg.Payload.NewState {
			t.Errorf("payload = %+v", wsMsg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast message")
	}

	expectNoFrame(t, idle)

	if hub.Name() != "websocket" {
		t.Errorf("Name() = %q", hub.Name())
	}
}

func TestHub_Channels(t *testing.T) {
	hub := testHub(t)

	got := hub.Channels()
	if len(got) != 1 || got[0] != ChannelStateChanged {
		t.Errorf("Channels() = %v, want [%s]", got, ChannelStateChanged)
	}
	if unknown := hub.unknownChannels([]string{ChannelStateChanged, "scene.activated"}); len(unknown) != 1 || unknown[0] != "scene.activated" {
		t.Errorf("unknownChannels() = %v", unknown)
	}
}

func TestWSClient_SubscriptionRequests(t *testing.T) {
	tests := []struct {
		name      string
		frame     string
		wantType  string
		wantInMsg string
	}{
		{
			name:     "subscribe to state changes",
			frame:    `{"type":"subscribe","id":"r1","payload":{"channels":["device.state_changed"]}}`,
			wantType: WSTypeResponse,
		},
		{
			name:      "unknown channels are rejected",
			frame:     `{"type":"subscribe","id":"r1","payload":{"channels":["scene.activated","no.such.channel"]}}`,
			wantType:  WSTypeError,
			wantInMsg: "unknown channels: scene.activated, no.such.channel",
		},
		{
			name:      "one unknown channel rejects the whole request",
			frame:     `{"type":"subscribe","id":"r1","payload":{"channels":["device.state_changed","device.state"]}}`,
			wantType:  WSTypeError,
			wantInMsg: "device.state",
		},
		{
			name:      "unsubscribe from unknown channel",
			frame:     `{"type":"unsubscribe","id":"r1","payload":{"channels":["no.such.channel"]}}`,
			wantType:  WSTypeError,
			wantInMsg: "available: device.state_changed",
		},
		{
			name:      "missing channels",
			frame:     `{"type":"subscribe","id":"r1","payload":{"channels":[]}}`,
			wantType:  WSTypeError,
			wantInMsg: "channels is required",
		},
		{
			name:      "missing payload",
			frame:     `{"type":"subscribe","id":"r1"}`,
			wantType:  WSTypeError,
			wantInMsg: "invalid subscribe payload",
		},
		{
			name:      "invalid device in filter",
			frame:     `{"type":"subscribe","id":"r1","payload":{"channels":["device.state_changed"],"devices":["has space"]}}`,
			wantType:  WSTypeError,
			wantInMsg: "has space",
		},
		{
			name:      "unknown message type",
			frame:     `{"type":"publish","id":"r1"}`,
			wantType:  WSTypeError,
			wantInMsg: "unknown message type: publish",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := testHub(t)
			client := newTestClient(hub, nil)
			hub.Register(client)

			client.handleMessage([]byte(tt.frame))

			reply := nextFrame(t, client)
			if reply["type"] != tt.wantType || reply["id"] != "r1" {
				t.Fatalf("reply = %v, want type %s", reply, tt.wantType)
			}
			if tt.wantType == WSTypeError {
				payload, _ := reply["payload"].(map[string]any)
				msg, _ := payload["message"].(string)
				if !strings.Contains(msg, tt.wantInMsg) {
					t.Errorf("error message = %q, want it to contain %q", msg, tt.wantInMsg)
				}
				if len(client.subscriptions) != 0 {
					t.Errorf("subscriptions = %v after rejected request, want none", client.subscriptions)
				}
			}
		})
	}
}

func TestWSClient_DeviceFilter(t *testing.T) {
	hub := testHub(t)
	client := newTestClient(hub, nil)
	hub.Register(client)

	client.handleMessage([]byte(`{"type":"subscribe","id":"s1","payload":{"channels":["device.state_changed"],"devices":["lamp"]}}`))
	if ack := nextFrame(t, client); ack["type"] != WSTypeResponse {
		t.Fatalf("subscribe ack = %v", ack)
	}

	ctx := context.Background()
	now := time.Now().UTC()
	hub.PublishStateChange(ctx, ledger.StateChange{Seq: 1, Device: "fan", NewState: true, Caller: "alice", RecordedAt: now})  //nolint:errcheck // always nil
	hub.PublishStateChange(ctx, ledger.StateChange{Seq: 2, Device: "lamp", NewState: true, Caller: "alice", RecordedAt: now}) //nolint:errcheck // always nil

	if ev := nextFrame(t, client); ev["id"] != "2" {
		t.Errorf("first delivered event = %v, want seq 2 for lamp", ev)
	}
	expectNoFrame(t, client)

	// Subscribing again without devices widens the filter.
	client.handleMessage([]byte(`{"type":"subscribe","id":"s2","payload":{"channels":["device.state_changed"]}}`))
	nextFrame(t, client)
	hub.PublishStateChange(ctx, ledger.StateChange{Seq: 3, Device: "fan", Caller: "alice", RecordedAt: now}) //nolint:errcheck // always nil
	if ev := nextFrame(t, client); ev["id"] != "3" {
		t.Errorf("event after widening = %v, want seq 3", ev)
	}

	client.handleMessage([]byte(`{"type":"unsubscribe","id":"u1","payload":{"channels":["device.state_changed"]}}`))
	if ack := nextFrame(t, client); ack["type"] != WSTypeResponse {
		t.Fatalf("unsubscribe ack = %v", ack)
	}
	hub.PublishStateChange(ctx, ledger.StateChange{Seq: 4, Device: "lamp", Caller: "alice", RecordedAt: now}) //nolint:errcheck // always nil
	expectNoFrame(t, client)
}

func TestWSClient_DeliverAfterClose(t *testing.T) {
	hub := testHub(t)
	client := newTestClient(hub, map[string]deviceFilter{ChannelStateChanged: nil})
	hub.Register(client)
	hub.Unregister(client)

	if client.deliver([]byte("{}")) {
		t.Error("deliver() to closed client = true, want false")
	}
	if err := hub.PublishStateChange(context.Background(), ledger.StateChange{Seq: 1, Device: "lamp"}); err != nil {
		t.Errorf("PublishStateChange() error = %v", err)
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := testHub(t)

	if hub.ClientCount() != 0 {
		t.Errorf("initial client count = %d, want 0", hub.ClientCount())
	}

	client := newTestClient(hub, nil)
	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)
	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}
}

func TestWebSocket_RequiresToken(t *testing.T) {
	env := testServer(t)
	ts := httptest.NewServer(env.router)
	t.Cleanup(ts.Close)

	base := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	for _, url := range []string{base, base + "?token=not-a-jwt"} {
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			t.Fatalf("Dial(%s) succeeded, want rejection", url)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("Dial(%s) response = %v, want 401", url, resp)
		}
		if resp != nil {
			resp.Body.Close()
		}
	}
}

func TestWebSocket_StreamsStateChanges(t *testing.T) {
	env := testServer(t)
	ts := httptest.NewServer(env.router)
	t.Cleanup(ts.Close)

	ctx := context.Background()
	if err := env.registry.RegisterDevice(ctx, "lamp", "alice"); err != nil {
		t.Fatalf("RegisterDevice() error = %v", err)
	}

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?token=" + tokenFor(t, "observer")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })

	readMessage := func() WSMessage {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		return msg
	}

	welcome := readMessage()
	if welcome.Type != WSTypeWelcome {
		t.Fatalf("first frame = %+v, want welcome", welcome)
	}
	if info, _ := welcome.Payload.(map[string]any); info["caller"] != "observer" {
		t.Errorf("welcome payload = %v", welcome.Payload)
	}

	err = conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-0",
		Payload: WSSubscribePayload{Channels: []string{"no.such.channel"}},
	})
	if err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if reply := readMessage(); reply.Type != WSTypeError || reply.ID != "sub-0" {
		t.Fatalf("unknown channel reply = %+v, want error", reply)
	}

	err = conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{ChannelStateChanged}},
	})
	if err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if ack := readMessage(); ack.Type != WSTypeResponse || ack.ID != "sub-1" {
		t.Fatalf("subscribe ack = %+v", ack)
	}

	if err := env.registry.ChangeState(ctx, "alice", "lamp", true); err != nil {
		t.Fatalf("ChangeState() error = %v", err)
	}

	msg := readMessage()
	if msg.Type != WSTypeEvent || msg.EventType != ChannelStateChanged {
		t.Fatalf("event message = %+v", msg)
	}
	payload, ok := msg.Payload.(map[string]any)
	if !ok {
		t.Fatalf("payload type = %T", msg.Payload)
	}
	if payload["device"] != "lamp" || payload["new_state"] != true || payload["caller"] != "alice" {
		t.Errorf("payload = %v", payload)
	}

	// A rejected change emits nothing; ping round-trips instead.
	if err := env.registry.ChangeState(ctx, "mallory", "lamp", false); err == nil {
		t.Fatal("ChangeState() by stranger succeeded")
	}
	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p-1"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if pong := readMessage(); pong.Type != WSTypePong || pong.ID != "p-1" {
		t.Errorf("message after rejected change = %+v, want pong", pong)
	}
}
