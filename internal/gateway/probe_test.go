package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// probeFakeGateway serves the config.schema/connect-metadata/status/health
// methods Probe tries in order, each returning whatever raw result the
// matching entry in responses carries (nil skips the method, which the
// real gateway never does, but lets a test isolate a single tier).
func probeFakeGateway(t *testing.T, responses map[string]json.RawMessage) *httptest.Server {
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
			resp := rpcResponse{ID: req.ID}
			if raw, ok := responses[req.Method]; ok {
				resp.Result = raw
			} else {
				resp.Result = json.RawMessage(`{}`)
			}
			conn.WriteJSON(resp)
		}
	})
	return httptest.NewServer(handler)
}

func TestProbePrefersConfigSchemaWhenItCarriesAVersion(t *testing.T) {
	server := probeFakeGateway(t, map[string]json.RawMessage{
		"config.schema": json.RawMessage(`{"version":"2026.2.0"}`),
	})
	defer server.Close()

	client := NewClient(wsURL(server.URL), "")
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result := Probe(ctx, client, "gw-1", "2026.1.30")
	if result.Method != "config.schema" {
		t.Errorf("Method = %q, want config.schema", result.Method)
	}
	if result.Current != "2026.2.0" {
		t.Errorf("Current = %q, want 2026.2.0", result.Current)
	}
	if !result.Compatible {
		t.Errorf("Compatible = false, want true (%s)", result.Message)
	}
}

func TestProbeFallsThroughToConnectMetadataWhenConfigSchemaHasNoVersion(t *testing.T) {
	server := probeFakeGateway(t, map[string]json.RawMessage{
		"config.schema":    json.RawMessage(`{}`),
		"connect-metadata": json.RawMessage(`{"server":{"version":"2026.1.0"}}`),
	})
	defer server.Close()

	client := NewClient(wsURL(server.URL), "")
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result := Probe(ctx, client, "gw-1", "2026.1.30")
	if result.Method != "connect-metadata" {
		t.Errorf("Method = %q, want connect-metadata", result.Method)
	}
	if result.Compatible {
		t.Error("Compatible = true, want false for 2026.1.0 below minimum 2026.1.30")
	}
	if result.Current != "2026.1.0" || result.Minimum != "2026.1.30" {
		t.Errorf("Current/Minimum = %q/%q, want 2026.1.0/2026.1.30", result.Current, result.Minimum)
	}
	wantMessage := "Gateway version 2026.1.0 is not supported. Minimum supported version is 2026.1.30."
	if result.Message != wantMessage {
		t.Errorf("Message = %q, want %q", result.Message, wantMessage)
	}
}

func TestProbeUnreachableGatewayReportsTransportError(t *testing.T) {
	client := NewClient("ws://127.0.0.1:1/unreachable", "")
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result := Probe(ctx, client, "gw-1", "2026.1.30")
	if result.Compatible {
		t.Error("Compatible = true, want false for an unreachable gateway")
	}
	if result.Error == "" {
		t.Error("Error = \"\", want a transport error message")
	}
}

func TestCompareVersionsRejectsUnparseableCurrent(t *testing.T) {
	result := compareVersions(ProbeResult{Current: "not-a-version"}, "2026.1.30")
	if result.Compatible {
		t.Error("Compatible = true, want false for an unparseable current version")
	}
	if result.Message == "" {
		t.Error("expected a Message explaining the unparseable version")
	}
}

func TestExtractVersionChecksKnownPaths(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
		ok   bool
	}{
		{"top-level version", `{"version":"2026.1.30"}`, "2026.1.30", true},
		{"nested gateway.version", `{"gateway":{"version":"2026.2.0"}}`, "2026.2.0", true},
		{"nested server.version", `{"server":{"version":"2026.3.0"}}`, "2026.3.0", true},
		{"nested meta.version", `{"meta":{"version":"2026.4.0"}}`, "2026.4.0", true},
		{"no version anywhere", `{"status":"ok"}`, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := extractVersion(json.RawMessage(tc.raw))
			if ok != tc.ok || got != tc.want {
				t.Errorf("extractVersion(%s) = (%q, %v), want (%q, %v)", tc.raw, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestFormatProbeErrorAddsScopeGuidance(t *testing.T) {
	err := &MethodError{Method: "status", Code: -32001, Message: "missing scope: operator.read"}
	got := formatProbeError(err)
	want := "missing required scope `operator.read`"
	if got != want {
		t.Errorf("formatProbeError() = %q, want %q", got, want)
	}
}

func TestFormatProbeErrorPassesThroughOtherFailures(t *testing.T) {
	err := &TransportError{Op: "dial", Cause: context.DeadlineExceeded}
	got := formatProbeError(err)
	if got != err.Error() {
		t.Errorf("formatProbeError() = %q, want unchanged %q", got, err.Error())
	}
}
