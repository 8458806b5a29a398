package gate

import (
	"fmt"
	"strings"
)

// FilterMode selects how FilterPolicy.Users is interpreted.
type FilterMode string

const (
	// FilterBlocklist denies the listed users.
	FilterBlocklist FilterMode = "blocklist"
	// FilterAllowlist permits only the listed users.
	FilterAllowlist FilterMode = "allowlist"
)

// ParseFilterMode accepts blocklist/allowlist and the blacklist/whitelist aliases.
// An empty value defaults to blocklist.
func ParseFilterMode(s string) (FilterMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "blocklist", "blacklist":
		return FilterBlocklist, nil
	case "allowlist", "whitelist":
		return FilterAllowlist, nil
	default:
		return "", fmt.Errorf("unknown filter mode %q", s)
	}
}

// FilterPolicy decides whether a user is eligible for proactive triggering at all.
type FilterPolicy struct {
	Mode  FilterMode
	Users map[string]struct{}
}

// NewFilterPolicy builds a policy, dropping blank identifiers.
func NewFilterPolicy(mode FilterMode, users []string) FilterPolicy {
	set := make(map[string]struct{}, len(users))
	for _, u := range users {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		set[u] = struct{}{}
	}
	return FilterPolicy{Mode: mode, Users: set}
}

// Permits reports whether userID passes the policy. An empty user set permits everyone.
func (p FilterPolicy) Permits(userID string) bool {
	if len(p.Users) == 0 {
		return true
	}
	_, listed := p.Users[userID]
	switch p.Mode {
	case FilterAllowlist:
		return listed
	default:
		return !listed
	}
}
