package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGatewayIdentityMiddleware(t *testing.T) {
	var captured *Identity
	handler := GatewayIdentityMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set(HeaderUserID, "user_1")
	req.Header.Set(HeaderUserEmail, "buyer@example.com")
	req.Header.Set(HeaderUserRoles, "Seller, admin")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if captured == nil {
		t.Fatal("identity not stored on context")
	}
	if captured.UID != "user_1" || captured.Email != "buyer@example.com" {
		t.Fatalf("identity = %+v", captured)
	}
	if !captured.HasRole(RoleSeller) || !captured.IsAdmin() {
		t.Fatalf("roles = %v", captured.Roles)
	}
}

func TestGatewayIdentityMiddlewareDefaultsToBuyer(t *testing.T) {
	var captured *Identity
	handler := GatewayIdentityMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = IdentityFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set(HeaderUserID, "user_2")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if captured == nil || !captured.HasRole(RoleBuyer) {
		t.Fatalf("identity = %+v, want default buyer role", captured)
	}
}

func TestRequireIdentity(t *testing.T) {
	handler := RequireIdentity()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req = req.WithContext(WithIdentity(req.Context(), &Identity{UID: "user_1", Roles: []string{RoleBuyer}}))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
}

func TestRequireRoles(t *testing.T) {
	handler := RequireRoles(RoleSeller, RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_1/status", nil)
	req = req.WithContext(WithIdentity(req.Context(), &Identity{UID: "user_1", Roles: []string{RoleBuyer}}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/orders/ord_1/status", nil)
	req = req.WithContext(WithIdentity(req.Context(), &Identity{UID: "seller_1", Roles: []string{RoleSeller}}))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
}
