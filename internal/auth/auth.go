// Package auth maps API keys to the user and company a request acts for.
package auth

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ledgerlens/ledgerlens/internal/intent"
)

const (
	RoleQueryReader   = "query_reader"
	RoleQueryWriter   = "query_writer"
	RoleFeedbackAdmin = "feedback_admin"
)

type Identity struct {
	UserID      string
	CompanyName string
	Roles       []string
}

func (i Identity) HasRole(role string) bool {
	for _, candidate := range i.Roles {
		if candidate == role {
			return true
		}
	}
	return false
}

// Tenant is the row scope statements built for this identity are bound to.
func (i Identity) Tenant() *intent.Tenant {
	return &intent.Tenant{UserID: i.UserID, CompanyName: i.CompanyName}
}

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Identity, bool)
}

type StaticAPIKeyValidator struct {
	keys map[string]Identity
}

// NewStaticAPIKeyValidator parses comma separated key:user:company:role|role
// entries.
func NewStaticAPIKeyValidator(raw string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{keys: map[string]Identity{}}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return validator, nil
	}

	entries := strings.Split(raw, ",")
	for _, entry := range entries {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 4 {
			return nil, fmt.Errorf("invalid static key entry %q: expected key:user:company:role|role", entry)
		}
		key := strings.TrimSpace(parts[0])
		user := strings.TrimSpace(parts[1])
		company := strings.TrimSpace(parts[2])
		if key == "" || user == "" || company == "" {
			return nil, fmt.Errorf("invalid static key entry %q: empty key/user/company", entry)
		}
		if _, exists := validator.keys[key]; exists {
			return nil, fmt.Errorf("invalid static key entry %q: duplicate key", entry)
		}
		roleParts := strings.Split(strings.TrimSpace(parts[3]), "|")
		roles := make([]string, 0, len(roleParts))
		for _, role := range roleParts {
			role = strings.TrimSpace(role)
			if role == "" {
				continue
			}
			roles = append(roles, role)
		}
		if len(roles) == 0 {
			return nil, fmt.Errorf("invalid static key entry %q: at least one role is required", entry)
		}
		sort.Strings(roles)
		validator.keys[key] = Identity{UserID: user, CompanyName: company, Roles: roles}
	}

	return validator, nil
}

func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (Identity, bool) {
	identity, ok := v.keys[apiKey]
	return identity, ok
}
