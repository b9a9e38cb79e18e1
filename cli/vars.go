package cli

import (
	"fmt"
	"maps"
	"os"
	"strings"

	"github.com/spf13/afero"

	"github.com/compozy/relay/engine/webhook"
	"github.com/compozy/relay/pkg/config"
)

const (
	envGitHubEventName = "GITHUB_EVENT_NAME"
	envGitHubEventPath = "GITHUB_EVENT_PATH"
)

// parseVarFlags parses repeated KEY=VALUE flags. Later flags win.
func parseVarFlags(pairs []string) (map[string]string, error) {
	vars := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --var %q: expected KEY=VALUE", pair)
		}
		vars[key] = value
	}
	return vars, nil
}

// prefixedEnvVars returns variables whose name starts with prefix, with the
// prefix stripped. Empty names after stripping are ignored.
func prefixedEnvVars(environ []string, prefix string) map[string]string {
	vars := make(map[string]string)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		if name := strings.TrimPrefix(key, prefix); name != "" {
			vars[name] = value
		}
	}
	return vars
}

// ciEventVars adapts the event that triggered a GitHub Actions job, when the
// runner exposes one. Unreadable event files yield only the event name.
func ciEventVars(fs afero.Fs, getenv func(string) string) map[string]string {
	name := getenv(envGitHubEventName)
	if name == "" {
		return nil
	}
	var payload []byte
	if path := getenv(envGitHubEventPath); path != "" {
		if data, err := afero.ReadFile(fs, path); err == nil {
			payload = data
		}
	}
	return webhook.AdaptEvent(name, payload)
}

// collectVars merges CI event, RELAY_VAR_* and --var variables in increasing
// precedence.
func collectVars(fs afero.Fs, pairs []string) (map[string]string, error) {
	explicit, err := parseVarFlags(pairs)
	if err != nil {
		return nil, err
	}
	vars := make(map[string]string)
	maps.Copy(vars, ciEventVars(fs, os.Getenv))
	maps.Copy(vars, prefixedEnvVars(os.Environ(), config.VarPrefix))
	maps.Copy(vars, explicit)
	return vars, nil
}
