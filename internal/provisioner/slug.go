package provisioner

import "strings"

// Slug lowercases name and collapses every run of non [a-z0-9] characters
// into a single hyphen, trimming leading/trailing hyphens. Used both for
// agent session keys and, independently, for workspace directory names
// (applied to the session key itself). Two agents with the same display
// name and no explicit session id get the same session key, and so the
// same workspace, even when they sit on different boards.
func Slug(name string) string {
	var b strings.Builder
	lastHyphen := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen && b.Len() > 0 {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// SessionKey returns the agent's existing session key if it already has
// one, or derives a fresh "agent:<slug>:main" key from its name.
func SessionKey(existing, name string) string {
	if existing != "" {
		return existing
	}
	return "agent:" + Slug(name) + ":main"
}

// WorkspacePath derives the per-agent workspace directory from a gateway's
// workspace root and a session key. Board-agent keys ("agent:<slug>:main")
// contribute only their slug segment, so the directory reads
// "workspace-scout" rather than "workspace-agent-scout-main"; any other key
// shape (e.g. a gateway's main_session_key) is slugged whole. Nothing
// rejects two agents that land on the same slug within one gateway
// workspace: the only name-uniqueness check is per board, and this function
// does not resolve such a collision either, so both agents get the same
// directory.
func WorkspacePath(workspaceRoot, sessionKey string) string {
	return workspaceRoot + "/workspace-" + SlugFromSessionKey(sessionKey)
}

// SlugFromSessionKey derives the gateway-facing agent slug from a session
// key, used by both workspace path derivation and any caller (e.g.
// internal/templatesync) that needs to address the same agent by slug for
// a raw file RPC.
func SlugFromSessionKey(key string) string {
	const prefix = "agent:"
	const suffix = ":main"
	if strings.HasPrefix(key, prefix) && strings.HasSuffix(key, suffix) {
		mid := key[len(prefix) : len(key)-len(suffix)]
		if mid != "" {
			return mid
		}
	}
	return Slug(key)
}
