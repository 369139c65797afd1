package renderer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

// fakeEndpoint serves a scripted DevTools endpoint over websocket
func fakeEndpoint(t *testing.T, handle func(ctx context.Context, conn *websocket.Conn)) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			t.Logf("accept error: %v", err)
			return
		}
		defer conn.CloseNow()
		handle(r.Context(), conn)
	}))
}

// wsURL converts an httptest server URL to a ws:// URL
func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// echoCommands replies to every request with {"echoed": "<method>"}
func echoCommands(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var req struct {
			ID     int    `json:"id"`
			Method string `json:"method"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}

		reply, _ := json.Marshal(map[string]interface{}{
			"id":     req.ID,
			"result": map[string]string{"echoed": req.Method},
		})
		if err := conn.Write(ctx, websocket.MessageText, reply); err != nil {
			return
		}
	}
}

func TestDevtoolsCall(t *testing.T) {
	server := fakeEndpoint(t, echoCommands)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := dialDevTools(ctx, wsURL(server), nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer conn.close()

	raw, err := conn.call(ctx, "Browser.getVersion", nil)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	var result struct {
		Echoed string `json:"echoed"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("Failed to decode result: %v", err)
	}
	if result.Echoed != "Browser.getVersion" {
		t.Errorf("Expected echoed method, got %q", result.Echoed)
	}
}

func TestDevtoolsCallError(t *testing.T) {
	server := fakeEndpoint(t, func(ctx context.Context, conn *websocket.Conn) {
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var req struct {
				ID int `json:"id"`
			}
			_ = json.Unmarshal(data, &req)

			reply, _ := json.Marshal(map[string]interface{}{
				"id": req.ID,
				"error": map[string]interface{}{
					"code":    -32601,
					"message": "method not found",
				},
			})
			if err := conn.Write(ctx, websocket.MessageText, reply); err != nil {
				return
			}
		}
	})
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := dialDevTools(ctx, wsURL(server), nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer conn.close()

	_, err = conn.call(ctx, "No.such", nil)
	if err == nil {
		t.Fatal("Expected error result")
	}
	if !strings.Contains(err.Error(), "method not found") {
		t.Errorf("Expected protocol error message, got: %v", err)
	}
}

func TestDevtoolsEvents(t *testing.T) {
	server := fakeEndpoint(t, func(ctx context.Context, conn *websocket.Conn) {
		event, _ := json.Marshal(map[string]interface{}{
			"method": "Target.targetCrashed",
			"params": map[string]interface{}{"targetId": "page-1", "status": "crashed"},
		})
		if err := conn.Write(ctx, websocket.MessageText, event); err != nil {
			return
		}
		// Hold the connection open until the client leaves
		_, _, _ = conn.Read(ctx)
	})
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan string, 1)
	conn, err := dialDevTools(ctx, wsURL(server), func(method string, params json.RawMessage) {
		received <- method
	})
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer conn.close()

	select {
	case method := <-received:
		if method != "Target.targetCrashed" {
			t.Errorf("Expected crash event, got %q", method)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for event")
	}
}

func TestDevtoolsPendingFailOnDisconnect(t *testing.T) {
	var accepted atomic.Bool
	server := fakeEndpoint(t, func(ctx context.Context, conn *websocket.Conn) {
		accepted.Store(true)
		// Read one request, then drop the connection without replying
		_, _, _ = conn.Read(ctx)
		conn.CloseNow()
	})
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := dialDevTools(ctx, wsURL(server), nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}

	_, err = conn.call(ctx, "Browser.close", nil)
	if err == nil {
		t.Fatal("Expected error when the endpoint drops mid-call")
	}
	if !errors.Is(err, ErrNotConnected) && !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected disconnect error, got: %v", err)
	}
	if !accepted.Load() {
		t.Error("Server never accepted the connection")
	}

	if conn.alive() {
		t.Error("Expected connection to be marked dead")
	}
}
