package transport_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/voxbench/callpipeline/internal/transport"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

func TestServer_DispatchesAcceptedConnection(t *testing.T) {
	handled := make(chan struct{}, 1)
	srv := httptest.NewServer(transport.NewServer(func(ctx context.Context, conn *transport.Conn) {
		handled <- struct{}{}
	}, transport.WithInsecureSkipVerify()))
	defer srv.Close()

	dial(t, srv)

	select {
	case <-handled:
	case <-time.After(3 * time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestServer_ReadsStartMessage(t *testing.T) {
	received := make(chan transport.InboundMessage, 1)
	srv := httptest.NewServer(transport.NewServer(func(ctx context.Context, conn *transport.Conn) {
		msg, err := conn.ReadMessage(ctx)
		if err != nil {
			return
		}
		received <- msg
	}, transport.WithInsecureSkipVerify()))
	defer srv.Close()

	conn := dial(t, srv)
	payload, _ := json.Marshal(map[string]any{
		"event": "start",
		"start": map[string]string{"streamSid": "MZ123"},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case msg := <-received:
		if msg.Event != "start" {
			t.Errorf("event = %q, want start", msg.Event)
		}
		if msg.Start == nil || msg.Start.StreamSID != "MZ123" {
			t.Errorf("start payload = %+v", msg.Start)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("message not received")
	}
}

func TestConn_SendMediaWritesEnvelope(t *testing.T) {
	srv := httptest.NewServer(transport.NewServer(func(ctx context.Context, conn *transport.Conn) {
		if err := conn.SendMedia("MZ123", "YWJj"); err != nil {
			t.Errorf("SendMedia: %v", err)
		}
	}, transport.WithInsecureSkipVerify()))
	defer srv.Close()

	conn := dial(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["event"] != "media" {
		t.Errorf("event = %v, want media", got["event"])
	}
	if got["streamSid"] != "MZ123" {
		t.Errorf("streamSid = %v, want MZ123", got["streamSid"])
	}
}

func TestConn_SendClearWritesEnvelope(t *testing.T) {
	srv := httptest.NewServer(transport.NewServer(func(ctx context.Context, conn *transport.Conn) {
		if err := conn.SendClear("MZ123"); err != nil {
			t.Errorf("SendClear: %v", err)
		}
	}, transport.WithInsecureSkipVerify()))
	defer srv.Close()

	conn := dial(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["event"] != "clear" {
		t.Errorf("event = %v, want clear", got["event"])
	}
}
