package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func extractTenant(t *testing.T, build func(*http.Request)) string {
	t.Helper()
	var got string
	h := TenantExtractor(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetTenantID(r.Context())
	}))

	req := httptest.NewRequest("GET", "/api/v1/resilience", nil)
	build(req)
	h.ServeHTTP(httptest.NewRecorder(), req)
	return got
}

func TestTenantExtractor_Header(t *testing.T) {
	got := extractTenant(t, func(r *http.Request) {
		r.Header.Set("X-Tenant-Id", " tenant-42 ")
	})
	if got != "tenant-42" {
		t.Errorf("tenant = %q, want tenant-42", got)
	}
}

func TestTenantExtractor_QueryParamFallback(t *testing.T) {
	got := extractTenant(t, func(r *http.Request) {
		r.URL.RawQuery = "tenant=tenant-7"
	})
	if got != "tenant-7" {
		t.Errorf("tenant = %q, want tenant-7", got)
	}
}

func TestTenantExtractor_Default(t *testing.T) {
	if got := extractTenant(t, func(r *http.Request) {}); got != "default" {
		t.Errorf("tenant = %q, want default", got)
	}
}

func TestTenantExtractor_HeaderWinsOverQuery(t *testing.T) {
	got := extractTenant(t, func(r *http.Request) {
		r.Header.Set("X-Tenant-Id", "from-header")
		r.URL.RawQuery = "tenant=from-query"
	})
	if got != "from-header" {
		t.Errorf("tenant = %q, want from-header", got)
	}
}
