package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ledgerlens/ledgerlens/internal/observability"
)

// Tenant headers let unauthenticated deployments name the row scope. With a
// key they may only repeat the key's own tenant.
const (
	HeaderUserID      = "X-User-ID"
	HeaderCompanyName = "X-Company-Name"
)

type identityKey struct{}

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(Identity)
	return identity, ok
}

// Middleware resolves the API key to an identity and rejects requests whose
// tenant headers name a different user or company than the key is bound to.
func Middleware(logger *slog.Logger, validator APIKeyValidator) func(http.Handler) http.Handler {
	logger = observability.Component(logger, "auth")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			apiKey := apiKeyFrom(r.Header)
			if apiKey == "" {
				deny(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing API key")
				return
			}

			identity, ok := validator.Validate(ctx, apiKey)
			if !ok {
				logger.WarnContext(ctx, "api key rejected",
					slog.String("trace_id", observability.TraceIDFromContext(ctx)),
					slog.String("route", r.Method+" "+r.URL.Path),
				)
				deny(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid API key")
				return
			}
			if field, claimed := conflictingTenant(r.Header, identity); field != "" {
				logger.WarnContext(ctx, "tenant header does not match api key",
					slog.String("trace_id", observability.TraceIDFromContext(ctx)),
					slog.String("user_id", identity.UserID),
					slog.String("company_name", identity.CompanyName),
					slog.String("header", field),
					slog.String("claimed", claimed),
				)
				deny(w, r, http.StatusForbidden, "TENANT_MISMATCH", field+" does not match the API key")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
		})
	}
}

func apiKeyFrom(header http.Header) string {
	if key := strings.TrimSpace(header.Get("X-API-Key")); key != "" {
		return key
	}
	scheme, token, found := strings.Cut(strings.TrimSpace(header.Get("Authorization")), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// conflictingTenant returns the first tenant header whose value differs from
// the identity, and the value it claimed.
func conflictingTenant(header http.Header, identity Identity) (string, string) {
	checks := []struct {
		name string
		want string
	}{
		{HeaderUserID, identity.UserID},
		{HeaderCompanyName, identity.CompanyName},
	}
	for _, check := range checks {
		claimed := strings.TrimSpace(header.Get(check.name))
		if claimed != "" && claimed != check.want {
			return check.name, claimed
		}
	}
	return "", ""
}

func deny(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  false,
		"trace_id":   observability.TraceIDFromContext(r.Context()),
	})
}
