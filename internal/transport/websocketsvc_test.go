package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func freePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find a free port: %v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()
	return addr
}

func TestWebSocketService_BroadcastToConnectedClient(t *testing.T) {
	addr := freePort(t)
	svc := NewWebSocketService(addr, "/ws")

	if err := drainGenerator(t, svc.Start(context.Background())); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		if err := drainGenerator(t, svc.Stop(context.Background())); err != nil {
			t.Errorf("stop: %v", err)
		}
	}()

	var conn *websocket.Conn
	var err error
	for i := 0; i < 20; i++ {
		conn, _, err = websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("failed to dial websocket service: %v", err)
	}
	defer conn.Close()

	for i := 0; i < 20; i++ {
		if svc.ClientCount() == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if svc.ClientCount() != 1 {
		t.Fatalf("expected 1 connected client, got %d", svc.ClientCount())
	}

	svc.Broadcast("greeting", map[string]string{"hello": "world"})

	if err := conn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read broadcast message: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected non-empty broadcast payload")
	}
}
