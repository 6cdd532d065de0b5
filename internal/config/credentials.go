package config

import (
	"os"
	"strings"
)

// ResolveAPIKeys normalizes the configured classifier keys. Entries may carry
// several comma-separated keys (as CLASSIFIER_API_KEYS does); blanks and
// duplicates are dropped while order is kept. When nothing is configured the
// single OPENAI_API_KEY is used.
func ResolveAPIKeys(keys []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, entry := range keys {
		for _, k := range strings.Split(entry, ",") {
			k = strings.TrimSpace(k)
			if k == "" {
				continue
			}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	if len(out) == 0 {
		if k := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); k != "" {
			out = append(out, k)
		}
	}
	return out
}
