package config

import (
	"os"
	"regexp"
	"strings"
)

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv replaces every ${NAME} reference in s with the value of
// the NAME environment variable; unset variables expand to the empty
// string. Expansion runs to a fixed point so that
// ExpandEnv(ExpandEnv(s)) == ExpandEnv(s) even when an environment
// value itself contains a reference.
func ExpandEnv(s string) string {
	for i := 0; i < 8; i++ {
		out := envRefPattern.ReplaceAllStringFunc(s, func(ref string) string {
			name := ref[2 : len(ref)-1]
			return os.Getenv(name)
		})
		if out == s {
			return out
		}
		s = out
	}
	return s
}

// ResolveAPIKey resolves the model entry's key: a ${NAME} reference is
// expanded, an empty key falls back to the entry's APIKeyEnv variable,
// and a literal key is returned unchanged.
func (m ModelConfig) ResolveAPIKey() string {
	key := strings.TrimSpace(m.APIKey)
	if key == "" {
		return os.Getenv(m.APIKeyEnv)
	}
	if envRefPattern.MatchString(key) {
		return strings.TrimSpace(ExpandEnv(key))
	}
	return key
}

// ExpandEnvMap returns a copy of env with every value expanded. The
// input map is left untouched so unexpanded configuration can be
// written back to disk.
func ExpandEnvMap(env map[string]string) map[string]string {
	if env == nil {
		return nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = ExpandEnv(v)
	}
	return out
}
