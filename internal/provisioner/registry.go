package provisioner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentboard/controlplane/internal/models"
)

// AgentRegistryEntry is one row of the gateway's config.agents.list — the
// slice the control plane reconciles on every provision/cleanup call.
type AgentRegistryEntry struct {
	ID        string                 `json:"id"`
	Workspace string                 `json:"workspace"`
	Heartbeat models.HeartbeatConfig `json:"heartbeat"`
}

type configDoc struct {
	Hash   string         `json:"hash"`
	Config map[string]any `json:"config"`
}

// maxPatchRetries bounds the single-writer optimistic-concurrency retry
// loop — a gateway under heavy concurrent provisioning from several
// control-plane replicas should still converge quickly since baseHash
// conflicts only happen on genuine overlap.
const maxPatchRetries = 5

// UpsertAgentRegistry fetches the gateway's config document, merges each of
// entries into config.agents.list keyed by id (preserving every other
// field already on the document and every other entry already in the
// list), and writes it back with config.patch(baseHash=...). A hash
// mismatch reported by the gateway is treated as a signal to refetch and
// retry, per the single-writer optimistic-concurrency protocol.
func UpsertAgentRegistry(ctx context.Context, client GatewayClient, entries ...AgentRegistryEntry) error {
	for attempt := 0; attempt < maxPatchRetries; attempt++ {
		raw, err := client.ConfigGet(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch gateway config: %w", err)
		}
		var doc configDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("failed to decode gateway config: %w", err)
		}
		if doc.Config == nil {
			doc.Config = map[string]any{}
		}

		list := agentsList(doc.Config)
		for _, entry := range entries {
			list = upsertEntry(list, entry)
		}
		setAgentsList(doc.Config, list)

		patch, err := json.Marshal(doc.Config)
		if err != nil {
			return fmt.Errorf("failed to marshal config patch: %w", err)
		}

		err = client.ConfigPatch(ctx, doc.Hash, patch)
		if err == nil {
			return nil
		}
		if !isHashMismatch(err) {
			return fmt.Errorf("failed to patch gateway config: %w", err)
		}
		// Lost the race against another writer; refetch and retry.
	}
	return fmt.Errorf("failed to patch gateway config after %d attempts: base hash kept changing underneath us", maxPatchRetries)
}

// RemoveAgentRegistry deletes the entries identified by ids from
// config.agents.list, the cleanup-path counterpart to UpsertAgentRegistry.
func RemoveAgentRegistry(ctx context.Context, client GatewayClient, ids ...string) error {
	remove := make(map[string]bool, len(ids))
	for _, id := range ids {
		remove[id] = true
	}

	for attempt := 0; attempt < maxPatchRetries; attempt++ {
		raw, err := client.ConfigGet(ctx)
		if err != nil {
			return fmt.Errorf("failed to fetch gateway config: %w", err)
		}
		var doc configDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("failed to decode gateway config: %w", err)
		}
		if doc.Config == nil {
			return nil
		}

		list := agentsList(doc.Config)
		kept := list[:0]
		for _, e := range list {
			if id, _ := e["id"].(string); !remove[id] {
				kept = append(kept, e)
			}
		}
		setAgentsList(doc.Config, kept)

		patch, err := json.Marshal(doc.Config)
		if err != nil {
			return fmt.Errorf("failed to marshal config patch: %w", err)
		}

		err = client.ConfigPatch(ctx, doc.Hash, patch)
		if err == nil {
			return nil
		}
		if !isHashMismatch(err) {
			return fmt.Errorf("failed to patch gateway config: %w", err)
		}
	}
	return fmt.Errorf("failed to patch gateway config after %d attempts: base hash kept changing underneath us", maxPatchRetries)
}

func agentsList(cfg map[string]any) []map[string]any {
	agentsRaw, ok := cfg["agents"].(map[string]any)
	if !ok {
		return nil
	}
	listRaw, ok := agentsRaw["list"].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(listRaw))
	for _, item := range listRaw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func setAgentsList(cfg map[string]any, list []map[string]any) {
	agentsRaw, ok := cfg["agents"].(map[string]any)
	if !ok {
		agentsRaw = map[string]any{}
	}
	anyList := make([]any, len(list))
	for i, m := range list {
		anyList[i] = m
	}
	agentsRaw["list"] = anyList
	cfg["agents"] = agentsRaw
}

func upsertEntry(list []map[string]any, entry AgentRegistryEntry) []map[string]any {
	encoded := map[string]any{
		"id":        entry.ID,
		"workspace": entry.Workspace,
		"heartbeat": map[string]any{"every": entry.Heartbeat.Every, "target": entry.Heartbeat.Target},
	}
	for i, existing := range list {
		if id, _ := existing["id"].(string); id == entry.ID {
			list[i] = encoded
			return list
		}
	}
	return append(list, encoded)
}

func isHashMismatch(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "hash") && (strings.Contains(msg, "mismatch") || strings.Contains(msg, "conflict") || strings.Contains(msg, "stale"))
}
