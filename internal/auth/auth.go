package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sort"
	"strings"
)

const (
	RoleChatUser = "chat_user"
	RoleKBAdmin  = "kb_admin"
)

// Identity is the caller behind an API key. Principal names the key holder in
// logs; it is not a tenant boundary.
type Identity struct {
	Principal string
	Roles     []string
}

func (i Identity) HasRole(role string) bool {
	for _, candidate := range i.Roles {
		if candidate == role {
			return true
		}
	}
	return false
}

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Identity, bool)
}

type staticKey struct {
	key      []byte
	identity Identity
}

type StaticAPIKeyValidator struct {
	keys []staticKey
}

// NewStaticAPIKeyValidator parses "key:principal:role|role" entries separated by
// commas.
func NewStaticAPIKeyValidator(entries string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{}
	entries = strings.TrimSpace(entries)
	if entries == "" {
		return validator, nil
	}

	seen := map[string]struct{}{}
	for _, entry := range strings.Split(entries, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid static key entry %q: expected key:principal:role|role", entry)
		}
		key := strings.TrimSpace(parts[0])
		principal := strings.TrimSpace(parts[1])
		if key == "" || principal == "" {
			return nil, fmt.Errorf("invalid static key entry %q: empty key/principal", entry)
		}
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("duplicate static key for principal %q", principal)
		}
		seen[key] = struct{}{}

		var roles []string
		for _, role := range strings.Split(parts[2], "|") {
			role = strings.TrimSpace(role)
			switch role {
			case "":
				continue
			case RoleChatUser, RoleKBAdmin:
				roles = append(roles, role)
			default:
				return nil, fmt.Errorf("invalid static key entry %q: unknown role %q", entry, role)
			}
		}
		if len(roles) == 0 {
			return nil, fmt.Errorf("invalid static key entry %q: at least one role is required", entry)
		}
		sort.Strings(roles)
		validator.keys = append(validator.keys, staticKey{key: []byte(key), identity: Identity{Principal: principal, Roles: roles}})
	}
	return validator, nil
}

func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (Identity, bool) {
	candidate := []byte(apiKey)
	for _, entry := range v.keys {
		if subtle.ConstantTimeCompare(entry.key, candidate) == 1 {
			return entry.identity, true
		}
	}
	return Identity{}, false
}
