package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"hub-service/pkg/config"
	"hub-service/pkg/jwtutil"

	"github.com/labstack/echo/v4"
)

func initJWT(t *testing.T) {
	t.Helper()
	jwtutil.Initialize(&config.JWTConfig{
		SigningKey:     "test-signing-key",
		ExpirationTime: time.Hour,
	})
}

func invoke(t *testing.T, authHeader string) (*httptest.ResponseRecorder, echo.Context) {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/readings", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := AuthMiddleware(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	if err := handler(c); err != nil {
		t.Fatalf("middleware returned error: %v", err)
	}
	return rec, c
}

func TestAuthMiddlewareRejectsMissingOrBadTokens(t *testing.T) {
	initJWT(t)

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc123", http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := invoke(t, tt.authHeader)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestAuthMiddlewareRequiresTenant(t *testing.T) {
	initJWT(t)

	token, err := jwtutil.GenerateToken("gw@example.com", 7, nil, "", "device")
	if err != nil {
		t.Fatalf("GenerateToken() = %v", err)
	}

	rec, _ := invoke(t, "Bearer "+token)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d for token without tenant", rec.Code, http.StatusBadRequest)
	}
}

func TestAuthMiddlewarePopulatesTenantContext(t *testing.T) {
	initJWT(t)

	tenantID := uint(42)
	token, err := jwtutil.GenerateToken("gw@example.com", 7, &tenantID, "acme", "device")
	if err != nil {
		t.Fatalf("GenerateToken() = %v", err)
	}

	rec, c := invoke(t, "Bearer "+token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	got, ok := GetTenantIDFromContext(c)
	if !ok || got != tenantID {
		t.Errorf("GetTenantIDFromContext() = %d, %v, want %d, true", got, ok, tenantID)
	}
	if name, _ := c.Get("tenant_name").(string); name != "acme" {
		t.Errorf("tenant_name = %q, want %q", name, "acme")
	}
}
