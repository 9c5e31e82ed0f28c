package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ledgerlens/ledgerlens/internal/auth"
	"github.com/ledgerlens/ledgerlens/internal/intent"
)

const maxRequestBytes = 1 << 20

// tenantFromRequest prefers the authenticated identity. Without auth the
// X-User-ID and X-Company-Name headers apply, and nil selects the configured
// default identity.
func tenantFromRequest(r *http.Request) (*intent.Tenant, error) {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		return identity.Tenant(), nil
	}
	user := strings.TrimSpace(r.Header.Get(auth.HeaderUserID))
	company := strings.TrimSpace(r.Header.Get(auth.HeaderCompanyName))
	switch {
	case user == "" && company == "":
		return nil, nil
	case user == "" || company == "":
		return nil, fmt.Errorf("%s and %s must be provided together", auth.HeaderUserID, auth.HeaderCompanyName)
	}
	return &intent.Tenant{UserID: user, CompanyName: company}, nil
}

func requireRole(r *http.Request, role string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if identity.HasRole(role) {
		return nil
	}
	return fmt.Errorf("missing required role %q", role)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

// authorize writes the error response itself and reports whether the
// handler may continue.
func authorize(w http.ResponseWriter, r *http.Request, role string) bool {
	if err := requireRole(r, role); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return false
	}
	return true
}
