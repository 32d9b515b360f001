package wsclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestDialer_ConnectSendReceive(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("server upgrade: %v", err)
			return
		}
		defer conn.Close()
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, append([]byte("echo:"), msg...))
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	d := New()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := d.Connect(ctx, wsURL, nil, nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close(websocket.CloseNormalClosure, "")

	if conn.State() != StateOpen {
		t.Fatalf("got state %v, want Open", conn.State())
	}

	if err := conn.Send(MessageText, []byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	msg, err := conn.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(msg.Data) != "echo:hello" {
		t.Errorf("got %q, want echo:hello", msg.Data)
	}
	if msg.Kind != MessageText {
		t.Errorf("got kind %v, want Text", msg.Kind)
	}
}

func TestConn_CloseTransitionsState(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.ReadMessage()
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	d := New()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := d.Connect(ctx, wsURL, nil, nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := conn.Close(websocket.CloseNormalClosure, "bye"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if conn.State() != StateClosed {
		t.Errorf("got state %v, want Closed", conn.State())
	}
}
