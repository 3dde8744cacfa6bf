package gateway

import (
	"context"
	"encoding/json"
	"fmt"
)

// SessionEntry is the gateway's record of a session, returned by
// ensure_session and sessions.get/list.
type SessionEntry struct {
	Key   string `json:"key"`
	Label string `json:"label,omitempty"`
}

// EnsureSession idempotently creates a session on the gateway and returns
// its entry. Calling it n times for the same key yields the same entry and
// no duplicate sessions.
func (c *Client) EnsureSession(ctx context.Context, key, label string) (SessionEntry, error) {
	raw, err := c.CallWithRetry(ctx, "ensure_session", map[string]any{"key": key, "label": label}, 0)
	if err != nil {
		return SessionEntry{}, err
	}
	var entry SessionEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return SessionEntry{}, fmt.Errorf("failed to decode ensure_session result: %w", err)
	}
	return entry, nil
}

// SendMessage posts a message to a session. deliver controls whether the
// gateway should push it to the agent immediately versus leaving it in the
// inbox for the agent's next poll.
func (c *Client) SendMessage(ctx context.Context, sessionKey, text string, deliver bool) error {
	_, err := c.CallWithRetry(ctx, "send_message", map[string]any{
		"session_key": sessionKey,
		"text":        text,
		"deliver":     deliver,
	}, 0)
	return err
}

// HistoryMessage is one entry in a session's chat transcript.
type HistoryMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// GetHistory returns the chat transcript for a session.
func (c *Client) GetHistory(ctx context.Context, sessionKey string) ([]HistoryMessage, error) {
	raw, err := c.CallWithRetry(ctx, "get_history", map[string]any{"session_key": sessionKey}, 0)
	if err != nil {
		return nil, err
	}
	var history []HistoryMessage
	if err := json.Unmarshal(raw, &history); err != nil {
		return nil, fmt.Errorf("failed to decode get_history result: %w", err)
	}
	return history, nil
}

// ConfigGet returns the gateway's central configuration document.
func (c *Client) ConfigGet(ctx context.Context) (json.RawMessage, error) {
	return c.CallWithRetry(ctx, "config.get", nil, 0)
}

// ConfigPatch applies a patch to the gateway's configuration document,
// using baseHash for optimistic concurrency: the gateway rejects the patch
// if its current document hash no longer matches baseHash.
func (c *Client) ConfigPatch(ctx context.Context, baseHash string, patch json.RawMessage) error {
	_, err := c.CallWithRetry(ctx, "config.patch", map[string]any{
		"base_hash": baseHash,
		"patch":     patch,
	}, 0)
	return err
}

// ConfigSchema returns the gateway's configuration JSON schema, used as the
// first step of the compatibility probe.
func (c *Client) ConfigSchema(ctx context.Context) (json.RawMessage, error) {
	return c.CallWithRetry(ctx, "config.schema", nil, 0)
}

// Status returns the gateway's status document, used by the compatibility
// probe and the /gateways/status endpoint.
func (c *Client) Status(ctx context.Context) (json.RawMessage, error) {
	return c.CallWithRetry(ctx, "status", nil, 0)
}

// Health returns the gateway's health document.
func (c *Client) Health(ctx context.Context) (json.RawMessage, error) {
	return c.CallWithRetry(ctx, "health", nil, 0)
}

// ConnectMetadata returns the metadata the gateway advertises at connect
// time (including its server version), used as the second tier of the
// compatibility probe for gateways that don't expose config.schema.
func (c *Client) ConnectMetadata(ctx context.Context) (json.RawMessage, error) {
	return c.CallWithRetry(ctx, "connect-metadata", nil, 0)
}

// AgentsList pings the gateway's agent registry, used as the template
// sync engine's liveness check ahead of reconciling any agent.
func (c *Client) AgentsList(ctx context.Context) (json.RawMessage, error) {
	return c.CallWithRetry(ctx, "agents.list", nil, 0)
}

// ListSessions returns every session on the gateway.
func (c *Client) ListSessions(ctx context.Context) ([]SessionEntry, error) {
	raw, err := c.CallWithRetry(ctx, "sessions.list", nil, 0)
	if err != nil {
		return nil, err
	}
	var sessions []SessionEntry
	if err := json.Unmarshal(raw, &sessions); err != nil {
		return nil, fmt.Errorf("failed to decode sessions.list result: %w", err)
	}
	return sessions, nil
}

// ResetSession resets a session's history/state without deleting it.
func (c *Client) ResetSession(ctx context.Context, key string) error {
	_, err := c.CallWithRetry(ctx, "sessions.reset", map[string]any{"key": key}, 0)
	return err
}

// DeleteSession removes a session from the gateway.
func (c *Client) DeleteSession(ctx context.Context, key string) error {
	_, err := c.CallWithRetry(ctx, "sessions.delete", map[string]any{"key": key}, 0)
	return err
}

// SetFile writes a named file into an agent's workspace.
func (c *Client) SetFile(ctx context.Context, agentID, path, content string) error {
	_, err := c.CallWithRetry(ctx, "agents.files.set", map[string]any{
		"agent_id": agentID,
		"path":     path,
		"content":  content,
	}, 0)
	return err
}

// GetFile reads a named file from an agent's workspace. An empty result
// with no error means the file does not exist.
func (c *Client) GetFile(ctx context.Context, agentID, path string) (string, error) {
	raw, err := c.CallWithRetry(ctx, "agents.files.get", map[string]any{
		"agent_id": agentID,
		"path":     path,
	}, 0)
	if err != nil {
		return "", err
	}
	var out struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("failed to decode agents.files.get result: %w", err)
	}
	return out.Content, nil
}

// ListFiles lists the files in an agent's workspace.
func (c *Client) ListFiles(ctx context.Context, agentID string) ([]string, error) {
	raw, err := c.CallWithRetry(ctx, "agents.files.list", map[string]any{"agent_id": agentID}, 0)
	if err != nil {
		return nil, err
	}
	var files []string
	if err := json.Unmarshal(raw, &files); err != nil {
		return nil, fmt.Errorf("failed to decode agents.files.list result: %w", err)
	}
	return files, nil
}
