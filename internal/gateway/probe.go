package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/redis/go-redis/v9"
)

// ProbeResult is the outcome of a compatibility probe against a gateway:
// the semver extracted from the first answering method, how it compares
// against the minimum this control plane supports, and the method tier
// that produced it.
type ProbeResult struct {
	GatewayID  string    `json:"gateway_id"`
	Compatible bool      `json:"compatible"`
	Method     string    `json:"method,omitempty"` // which probe step produced Current: config.schema/connect-metadata/status/health
	Current    string    `json:"current,omitempty"`
	Minimum    string    `json:"minimum,omitempty"`
	Message    string    `json:"message,omitempty"`
	Error      string    `json:"error,omitempty"`
	ProbedAt   time.Time `json:"probed_at"`
}

// ProbeCacheTTL is how long a ProbeResult is trusted before a fresh probe
// is required.
const ProbeCacheTTL = 2 * time.Minute

func probeCacheKey(gatewayID string) string { return "gateway:probe:" + gatewayID }

// probeStep is one method tier tried during compatibility probing.
type probeStep struct {
	name string
	call func(context.Context) (json.RawMessage, error)
}

// Probe checks gateway compatibility by trying, in order, config.schema,
// connect-metadata, status, then health, using the first response that
// contains a semver string to compare against minimumVersion. A step that
// answers without a usable version is not an error — probing continues to
// the next tier, the way a gateway whose config.schema omits a version but
// whose health reports one is still fully identifiable.
func Probe(ctx context.Context, client *Client, gatewayID, minimumVersion string) ProbeResult {
	result := ProbeResult{GatewayID: gatewayID, Minimum: minimumVersion, ProbedAt: time.Now()}

	steps := []probeStep{
		{"config.schema", client.ConfigSchema},
		{"connect-metadata", client.ConnectMetadata},
		{"status", client.Status},
		{"health", client.Health},
	}

	var lastErr error
	reached := false
	for _, step := range steps {
		raw, err := step.call(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		reached = true
		version, ok := extractVersion(raw)
		if !ok {
			continue
		}
		result.Method = step.name
		result.Current = version
		return compareVersions(result, minimumVersion)
	}

	if reached {
		// The gateway answered at least one tier but none reported a
		// parseable version — treat it as compatible since there is
		// nothing concrete to reject it on.
		result.Compatible = true
		result.Message = "gateway did not report a version"
		return result
	}

	result.Compatible = false
	if lastErr != nil {
		result.Error = formatProbeError(lastErr)
	}
	return result
}

// compareVersions fills in Compatible/Message by parsing result.Current and
// minimumVersion as semver and comparing them. A version that fails to
// parse is treated as incompatible rather than silently accepted.
func compareVersions(result ProbeResult, minimumVersion string) ProbeResult {
	current, err := semver.NewVersion(result.Current)
	if err != nil {
		result.Compatible = false
		result.Message = fmt.Sprintf("gateway reported an unparseable version %q", result.Current)
		return result
	}
	minimum, err := semver.NewVersion(minimumVersion)
	if err != nil {
		// No usable floor to compare against; don't reject on our own
		// misconfiguration.
		result.Compatible = true
		return result
	}
	if current.LessThan(minimum) {
		result.Compatible = false
		result.Message = fmt.Sprintf("Gateway version %s is not supported. Minimum supported version is %s.", result.Current, minimumVersion)
		return result
	}
	result.Compatible = true
	return result
}

// extractVersion looks for a semver string at the handful of JSON shapes
// the gateway's config.schema/connect-metadata/status/health responses use,
// preferring the most specific path first.
func extractVersion(raw json.RawMessage) (string, bool) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", false
	}

	paths := [][]string{
		{"gateway", "version"},
		{"server", "version"},
		{"version"},
		{"meta", "version"},
	}
	for _, path := range paths {
		if v, ok := lookupString(doc, path); ok {
			return v, true
		}
	}
	return "", false
}

func lookupString(doc map[string]json.RawMessage, path []string) (string, bool) {
	raw, ok := doc[path[0]]
	if !ok {
		return "", false
	}
	if len(path) == 1 {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true
	}
	var nested map[string]json.RawMessage
	if err := json.Unmarshal(raw, &nested); err != nil {
		return "", false
	}
	return lookupString(nested, path[1:])
}

// missingScopePrefix is the verbatim marker the gateway emits when a call
// is rejected for lacking a required RPC scope.
const missingScopePrefix = "missing scope:"

// formatProbeError surfaces a missing-scope failure verbatim plus the
// guidance an operator needs to resolve it, and passes every other failure
// through unchanged.
func formatProbeError(err error) string {
	msg := err.Error()
	idx := strings.Index(msg, missingScopePrefix)
	if idx == -1 {
		return msg
	}
	scope := strings.TrimSpace(msg[idx+len(missingScopePrefix):])
	return fmt.Sprintf("missing required scope `%s`", scope)
}

// CachedProbe wraps Probe with a Redis-backed cache keyed by gateway ID, so
// repeated provisioning operations against the same gateway within
// ProbeCacheTTL don't each pay a fresh round trip (and, if the gateway is
// actually down, don't each pay the full retry/backoff cost).
func CachedProbe(ctx context.Context, rdb *redis.Client, client *Client, gatewayID, minimumVersion string) ProbeResult {
	key := probeCacheKey(gatewayID)

	if rdb != nil {
		if cached, err := rdb.Get(ctx, key).Result(); err == nil {
			var result ProbeResult
			if jsonErr := json.Unmarshal([]byte(cached), &result); jsonErr == nil {
				return result
			}
		}
	}

	result := Probe(ctx, client, gatewayID, minimumVersion)

	if rdb != nil {
		if encoded, err := json.Marshal(result); err == nil {
			// Cache write is best-effort: a Redis outage should not turn a
			// successful probe into a failed one.
			rdb.Set(ctx, key, encoded, ProbeCacheTTL)
		}
	}

	return result
}
