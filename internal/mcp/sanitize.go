package mcp

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

const maxToolNameLen = 64

// SafeToolName builds the registry name for a server tool:
// <server>_<tool> with both parts sanitized to [A-Za-z0-9_]. The used
// set carries names already taken across all servers; collisions get a
// short hash suffix so the result is unique process-wide.
func SafeToolName(server, tool string, used map[string]struct{}) string {
	base := sanitizePart(server) + "_" + sanitizePart(tool)
	name := base
	if len(name) > maxToolNameLen {
		name = truncateWithHash(base, server, tool)
	}

	if _, taken := used[name]; taken {
		name = dedupeWithHash(name, server, tool)
	}

	used[name] = struct{}{}
	return name
}

// GroupPrefix returns the registry prefix that identifies a server's
// tool group, used when a discovery pass replaces the group atomically.
func GroupPrefix(server string) string {
	return sanitizePart(server) + "_"
}

// sanitizePart replaces every byte outside [A-Za-z0-9_] with an
// underscore, collapses runs, and strips leading and trailing
// underscores. An input with nothing to keep becomes "tool".
func sanitizePart(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	underscore := false
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
			underscore = false
		default:
			if !underscore {
				b.WriteByte('_')
				underscore = true
			}
		}
	}
	clean := strings.Trim(b.String(), "_")
	if clean == "" {
		return "tool"
	}
	return clean
}

func toolNameHash(server, tool string) string {
	sum := sha1.Sum([]byte(server + ":" + tool))
	return hex.EncodeToString(sum[:])[:8]
}

func truncateWithHash(base, server, tool string) string {
	suffix := "_" + toolNameHash(server, tool)
	trimLen := maxToolNameLen - len(suffix)
	if trimLen > len(base) {
		trimLen = len(base)
	}
	return base[:trimLen] + suffix
}

func dedupeWithHash(base, server, tool string) string {
	name := base + "_" + toolNameHash(server, tool)
	if len(name) <= maxToolNameLen {
		return name
	}
	return truncateWithHash(base, server, tool)
}
