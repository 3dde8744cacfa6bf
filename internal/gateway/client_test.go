package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeGateway is a minimal JSON-RPC-over-websocket server used to exercise
// Client without a real gateway runtime. It echoes ensure_session calls
// back as a SessionEntry matching the requested key.
func fakeGateway(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req rpcRequest
			if err := json.Unmarshal(data, &req); err != nil {
				continue
			}

			var resp rpcResponse
			resp.ID = req.ID
			switch req.Method {
			case "ensure_session":
				var params struct {
					Key   string `json:"key"`
					Label string `json:"label"`
				}
				json.Unmarshal(req.Params, &params)
				result, _ := json.Marshal(SessionEntry{Key: params.Key, Label: params.Label})
				resp.Result = result
			case "boom":
				resp.Error = &rpcErrorEnvelope{Code: -32000, Message: "simulated failure"}
			default:
				resp.Result = json.RawMessage("null")
			}
			conn.WriteJSON(resp)
		}
	})
	return httptest.NewServer(handler)
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestClientEnsureSessionRoundTrip(t *testing.T) {
	server := fakeGateway(t)
	defer server.Close()

	client := NewClient(wsURL(server.URL), "")
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entry, err := client.EnsureSession(ctx, "agent:scout:main", "Scout")
	if err != nil {
		t.Fatalf("EnsureSession() error = %v", err)
	}
	if entry.Key != "agent:scout:main" || entry.Label != "Scout" {
		t.Errorf("EnsureSession() = %+v, want key=agent:scout:main label=Scout", entry)
	}
}

func TestClientMethodErrorIsNotRetried(t *testing.T) {
	server := fakeGateway(t)
	defer server.Close()

	client := NewClient(wsURL(server.URL), "")
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.CallWithRetry(ctx, "boom", nil, time.Second)
	if err == nil {
		t.Fatal("expected error from boom method")
	}
	var methodErr *MethodError
	if !asMethodError(err, &methodErr) {
		t.Fatalf("expected MethodError, got %T: %v", err, err)
	}
}

func asMethodError(err error, target **MethodError) bool {
	for err != nil {
		if me, ok := err.(*MethodError); ok {
			*target = me
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
