package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

// TenantIDKey is the context key for the tenant ID.
const TenantIDKey contextKey = "tenant_id"

// TenantExtractor extracts the tenant from the request. It checks the
// X-Tenant-Id header, then the tenant query parameter, and falls back to
// "default". Every query the server runs is scoped to this value.
func TenantExtractor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := ""

		if h := r.Header.Get("X-Tenant-Id"); h != "" {
			tenant = strings.TrimSpace(h)
		}
		if tenant == "" {
			if q := r.URL.Query().Get("tenant"); q != "" {
				tenant = strings.TrimSpace(q)
			}
		}
		if tenant == "" {
			tenant = "default"
		}

		ctx := context.WithValue(r.Context(), TenantIDKey, tenant)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetTenantID retrieves the tenant ID from the request context.
func GetTenantID(ctx context.Context) string {
	if v, ok := ctx.Value(TenantIDKey).(string); ok {
		return v
	}
	return "default"
}
