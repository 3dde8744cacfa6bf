package models

import (
	"testing"
	"time"
)

func TestGatewayUsable(t *testing.T) {
	cases := []struct {
		name string
		gw   *Gateway
		want bool
	}{
		{"nil", nil, false},
		{"empty", &Gateway{}, false},
		{"missing workspace root", &Gateway{URL: "https://g", MainSessionKey: "main"}, false},
		{"complete", &Gateway{URL: "https://g", MainSessionKey: "main", WorkspaceRoot: "/ws"}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.gw.Usable(); got != c.want {
				t.Errorf("Usable() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestAgentDerivedStatus(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-5 * time.Minute)
	stale := now.Add(-11 * time.Minute)

	cases := []struct {
		name string
		a    Agent
		want AgentStatus
	}{
		{"online recent heartbeat stays online", Agent{Status: AgentStatusOnline, LastSeenAt: &recent}, AgentStatusOnline},
		{"online stale heartbeat derives offline", Agent{Status: AgentStatusOnline, LastSeenAt: &stale}, AgentStatusOffline},
		{"online with no heartbeat at all derives offline", Agent{Status: AgentStatusOnline}, AgentStatusOffline},
		{"provisioning is reported verbatim", Agent{Status: AgentStatusProvisioning}, AgentStatusProvisioning},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.a.DerivedStatus(now); got != c.want {
				t.Errorf("DerivedStatus() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestActivityEventIsComment(t *testing.T) {
	cases := []struct {
		name string
		e    ActivityEvent
		want bool
	}{
		{"comment with content", ActivityEvent{EventType: "task.comment", Message: "looks good"}, true},
		{"comment with only whitespace", ActivityEvent{EventType: "task.comment", Message: "   "}, false},
		{"non comment event", ActivityEvent{EventType: "task.status_changed", Message: "moved"}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.e.IsComment(); got != c.want {
				t.Errorf("IsComment() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestParseJSONValueRoundTrip(t *testing.T) {
	raw := []byte(`{"x":1,"nested":{"y":[1,2,"three"]},"ok":true}`)
	v, err := ParseJSONValue(raw)
	if err != nil {
		t.Fatalf("ParseJSONValue() error = %v", err)
	}
	if v.Kind != JSONObject {
		t.Fatalf("expected JSONObject, got %v", v.Kind)
	}
	x, ok := v.Object["x"]
	if !ok || x.Kind != JSONNumber || x.Number != 1 {
		t.Errorf("expected x=1, got %+v", x)
	}
	nested := v.Object["nested"].Object["y"]
	if nested.Kind != JSONArray || len(nested.Array) != 3 {
		t.Errorf("expected 3-element array, got %+v", nested)
	}

	out, err := v.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}
	if _, err := ParseJSONValue(out); err != nil {
		t.Errorf("re-parsing marshaled output failed: %v", err)
	}
}

func TestLooksLikeJSON(t *testing.T) {
	cases := map[string]bool{
		`{"a":1}`:     true,
		`[1,2,3]`:     true,
		`"a string"`:  true,
		"true":        true,
		"false":       true,
		"plain text":  false,
		"":             false,
		"   ":          false,
	}
	for body, want := range cases {
		if got := LooksLikeJSON([]byte(body)); got != want {
			t.Errorf("LooksLikeJSON(%q) = %v, want %v", body, got, want)
		}
	}
}
