package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandler_ExposesRegisteredCollectors(t *testing.T) {
	RPCRetries.WithLabelValues("status").Inc()
	WebhookQueueDepth.Set(3)
	WebhookDispatchAttempts.WithLabelValues("success").Inc()
	SSEStreamsActive.WithLabelValues("agents").Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "controlplane_gateway_rpc_retries_total")
	require.Contains(t, body, "controlplane_webhook_queue_depth")
	require.Contains(t, body, "controlplane_webhook_dispatch_attempts_total")
	require.Contains(t, body, "controlplane_sse_streams_active")
	require.True(t, strings.Contains(body, `method="status"`))
}
