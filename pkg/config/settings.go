package config

import "strings"

// LoadSettings turns an environ slice (os.Environ() form, "KEY=value")
// into the settings map the runtime consumes. Values containing '=' are
// split on the first occurrence only.
func LoadSettings(environ []string) map[string]string {
	settings := make(map[string]string, len(environ))
	for _, kv := range environ {
		if key, value, ok := strings.Cut(kv, "="); ok && key != "" {
			settings[key] = value
		}
	}
	return settings
}
