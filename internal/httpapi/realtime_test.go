package httpapi

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestWebSocketAuthenticateAndPing(t *testing.T) {
	d := newTestDeps(t)
	srv := httptest.NewServer(NewRouter(d))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/realtime/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{
		"type":    "authenticate",
		"payload": map[string]string{"userId": "drv-1", "role": "driver"},
	}); err != nil {
		t.Fatalf("write authenticate: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var authAck map[string]any
	if err := conn.ReadJSON(&authAck); err != nil {
		t.Fatalf("read authenticated ack: %v", err)
	}
	if authAck["type"] != "authenticated" {
		t.Fatalf("expected authenticated ack, got %v", authAck)
	}

	if err := conn.WriteJSON(map[string]any{"type": "ping"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var pong map[string]any
	if err := conn.ReadJSON(&pong); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if pong["type"] != "pong" {
		t.Fatalf("expected pong, got %v", pong)
	}
}

func TestBroadcastToRoleReachesSubscribedConnection(t *testing.T) {
	d := newTestDeps(t)
	srv := httptest.NewServer(NewRouter(d))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/realtime/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{
		"type":    "authenticate",
		"payload": map[string]string{"userId": "sec-1", "role": "security_officer"},
	}); err != nil {
		t.Fatalf("write authenticate: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var authAck map[string]any
	if err := conn.ReadJSON(&authAck); err != nil {
		t.Fatalf("read authenticated ack: %v", err)
	}

	d.Realtime.BroadcastToRoles("alert:security", []string{"security_officer"}, map[string]string{"hello": "world"})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var evt map[string]any
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read broadcast event: %v", err)
	}
	if evt["type"] != "event" {
		t.Fatalf("expected an event frame, got %v", evt)
	}
}
