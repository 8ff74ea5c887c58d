package gate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// AnyChannel as the first entry of a channel list admits every channel.
const AnyChannel = "*"

// RestrictionMode selects how a (command, action) user list is read.
type RestrictionMode string

const (
	// ListedOnly admits only the users named for the pair.
	ListedOnly RestrictionMode = "listed-only"
	// DenyListed rejects the users named for the pair.
	DenyListed RestrictionMode = "deny-listed"
)

// Policy is the static authorization table set. Build it once at startup and
// treat it as read-only; New copies it so later mutation by the caller has no
// effect on a running Gate.
type Policy struct {
	Channels        map[string][]string            `yaml:"channels"`
	Actions         map[string][]string            `yaml:"actions"`
	Restricted      map[string]map[string][]string `yaml:"restricted"`
	RestrictionMode RestrictionMode                `yaml:"restriction_mode"`
}

// DefaultPolicy returns the tables the bot ships with.
func DefaultPolicy() Policy {
	return Policy{
		Channels: map[string][]string{
			"/sre":     {AnyChannel},
			"/ops-bot": {"C05RSEC6QCA"},
			"/qchain":  {AnyChannel},
		},
		Actions: map[string][]string{
			"/sre":     {"alert"},
			"/ops-bot": {"alert", "ack", "close", "mute", "maintenance", "help"},
			"/command": {"test"},
			"/qchain":  {"killswitch"},
		},
		Restricted: map[string]map[string][]string{
			"/qchain": {
				"killswitch": {"urban.jurca", "iris.garcia", "chris", "alexander", "david", "tangui", "khalifa", "lazar"},
			},
		},
		RestrictionMode: ListedOnly,
	}
}

// LoadPolicyFile reads a YAML policy. An empty path yields DefaultPolicy.
func LoadPolicyFile(path string) (Policy, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultPolicy(), nil
	}
	raw, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicy(raw)
}

// ParsePolicy decodes a YAML policy, defaults the restriction mode to
// listed-only and validates the result.
func ParsePolicy(raw []byte) (Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Policy{}, fmt.Errorf("parse policy: %w", err)
	}
	if p.RestrictionMode == "" {
		p.RestrictionMode = ListedOnly
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate rejects tables that cannot be evaluated meaningfully.
func (p Policy) Validate() error {
	var errs []error
	switch p.RestrictionMode {
	case ListedOnly, DenyListed:
	default:
		errs = append(errs, fmt.Errorf("unknown restriction_mode %q", p.RestrictionMode))
	}
	for _, cmd := range sortedKeys(p.Channels) {
		if !strings.HasPrefix(cmd, "/") {
			errs = append(errs, fmt.Errorf("channels: command %q must start with /", cmd))
		}
		if len(p.Channels[cmd]) == 0 {
			errs = append(errs, fmt.Errorf("channels: command %q has no channels", cmd))
		}
	}
	for _, cmd := range sortedKeys(p.Actions) {
		if !strings.HasPrefix(cmd, "/") {
			errs = append(errs, fmt.Errorf("actions: command %q must start with /", cmd))
		}
		for _, a := range p.Actions[cmd] {
			if strings.TrimSpace(a) == "" || strings.ContainsAny(a, " \t\n") {
				errs = append(errs, fmt.Errorf("actions: command %q has invalid action %q", cmd, a))
			}
		}
	}
	for _, cmd := range sortedKeys(p.Restricted) {
		for action := range p.Restricted[cmd] {
			if !contains(p.Actions[cmd], action) {
				errs = append(errs, fmt.Errorf("restricted: %s %s is not an allowed action", cmd, action))
			}
		}
	}
	return errors.Join(errs...)
}

// AllowedActions returns the command's actions in table order.
func (p Policy) AllowedActions(command string) []string {
	actions, ok := p.Actions[command]
	if !ok {
		return nil
	}
	return append([]string(nil), actions...)
}

// Commands lists every command named by any table, sorted.
func (p Policy) Commands() []string {
	seen := map[string]struct{}{}
	for k := range p.Channels {
		seen[k] = struct{}{}
	}
	for k := range p.Actions {
		seen[k] = struct{}{}
	}
	for k := range p.Restricted {
		seen[k] = struct{}{}
	}
	return sortedKeys(seen)
}

func (p Policy) clone() Policy {
	out := Policy{
		Channels:        make(map[string][]string, len(p.Channels)),
		Actions:         make(map[string][]string, len(p.Actions)),
		Restricted:      make(map[string]map[string][]string, len(p.Restricted)),
		RestrictionMode: p.RestrictionMode,
	}
	for k, v := range p.Channels {
		out.Channels[k] = append([]string(nil), v...)
	}
	for k, v := range p.Actions {
		out.Actions[k] = append([]string(nil), v...)
	}
	for cmd, actions := range p.Restricted {
		m := make(map[string][]string, len(actions))
		for a, users := range actions {
			m[a] = append([]string(nil), users...)
		}
		out.Restricted[cmd] = m
	}
	if out.RestrictionMode == "" {
		out.RestrictionMode = ListedOnly
	}
	return out
}

func contains(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
