package session

import (
	"fmt"
	"regexp"
	"strings"
)

var relayPattern = regexp.MustCompile(`^wss?://[^/]+(/[^/]+)*$`)

// NormalizeRelays dedups and normalizes a relay list to
// wss://host[/path] form with no trailing slash, preserving first-seen
// order. Idempotent: NormalizeRelays(NormalizeRelays(x)) == NormalizeRelays(x).
func NormalizeRelays(relays []string) ([]string, error) {
	seen := make(map[string]bool, len(relays))
	out := make([]string, 0, len(relays))

	for _, r := range relays {
		n := strings.TrimSpace(r)
		n = strings.TrimRight(n, "/")
		if n == "" {
			continue
		}
		if !relayPattern.MatchString(n) {
			return nil, fmt.Errorf("session: invalid relay url %q", r)
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out, nil
}
