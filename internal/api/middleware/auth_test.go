package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/99minutos/tracking-sync/internal/core/domain"
)

func sign(t *testing.T, method jwt.SigningMethod, key any, claims Claims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func runAuth(t *testing.T, header string) (*httptest.ResponseRecorder, echo.Context, bool) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	called := false
	handler := Auth("secret")(func(c echo.Context) error {
		called = true
		return c.NoContent(http.StatusOK)
	})
	if err := handler(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec, c, called
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	token := sign(t, jwt.SigningMethodHS256, []byte("secret"), Claims{
		Role:     domain.RoleClient,
		ClientID: "client_1",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	rec, c, called := runAuth(t, "Bearer "+token)
	if !called {
		t.Fatalf("next not called")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if c.Get("subject") != "alice" || c.Get("role") != domain.RoleClient || c.Get("client_id") != "client_1" {
		t.Fatalf("claims not injected: subject=%v role=%v client_id=%v", c.Get("subject"), c.Get("role"), c.Get("client_id"))
	}
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	expired := sign(t, jwt.SigningMethodHS256, []byte("secret"), Claims{
		Role: domain.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	wrongKey := sign(t, jwt.SigningMethodHS256, []byte("other"), Claims{Role: domain.RoleAdmin})
	wrongAlg := sign(t, jwt.SigningMethodHS512, []byte("secret"), Claims{Role: domain.RoleAdmin})

	tests := map[string]string{
		"missing header":  "",
		"wrong scheme":    "Token abc",
		"empty token":     "Bearer ",
		"garbage":         "Bearer not-a-token",
		"expired":         "Bearer " + expired,
		"wrong key":       "Bearer " + wrongKey,
		"wrong algorithm": "Bearer " + wrongAlg,
	}
	for name, header := range tests {
		t.Run(name, func(t *testing.T) {
			rec, _, called := runAuth(t, header)
			if called {
				t.Fatalf("should not reach next")
			}
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
}
