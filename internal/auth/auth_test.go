package auth_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"warehouse-backend/internal/auth"
	"warehouse-backend/internal/database/dbtest"
	"warehouse-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const secret = "0123456789abcdef0123456789abcdef"

func newApp() *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})
	app.Post("/api/auth/register-admin", auth.RegisterAdminHandler())
	app.Post("/api/auth/login", auth.LoginHandler(secret))

	protected := app.Group("/api", auth.JWTMiddleware(secret))
	protected.Get("/auth/me", auth.MeHandler())
	protected.Get("/admin-only", auth.RequireRole(models.RoleAdmin), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	return app
}

func postJSON(t *testing.T, app *fiber.App, path string, body any) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request %s: %v", path, err)
	}
	return resp
}

func TestRegisterLoginAndMe(t *testing.T) {
	dbtest.New(t)
	app := newApp()

	resp := postJSON(t, app, "/api/auth/register-admin", map[string]string{
		"name": "Admin", "email": "Admin@Example.com ", "password": "supersecret",
	})
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	resp = postJSON(t, app, "/api/auth/register-admin", map[string]string{
		"name": "Second", "email": "second@example.com", "password": "supersecret",
	})
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("expected 403 for second admin, got %d", resp.StatusCode)
	}

	resp = postJSON(t, app, "/api/auth/login", map[string]string{"email": "admin@example.com", "password": "wrong"})
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", resp.StatusCode)
	}

	resp = postJSON(t, app, "/api/auth/login", map[string]string{"email": "admin@example.com", "password": "supersecret"})
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var login struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil || login.Token == "" {
		t.Fatalf("expected token, err=%v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 from /me, got %d", resp.StatusCode)
	}
}

func TestJWTMiddleware_Rejects(t *testing.T) {
	dbtest.New(t)
	app := newApp()

	user := &models.User{ID: 1, Email: "a@example.com", Role: models.RoleAdmin}
	foreign, err := auth.GenerateToken("ffffffffffffffffffffffffffffffff", user)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, &auth.JWTCustomClaims{
		UserID:           1,
		Role:             models.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.JWTCustomClaims{
		UserID: 1,
		Role:   models.RoleAdmin,
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	testCases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic abc"},
		{"garbage token", "Bearer not-a-jwt"},
		{"other secret", "Bearer " + foreign},
		{"other algorithm", "Bearer " + hs512},
		{"no expiry", "Bearer " + noExpiry},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			if resp.StatusCode != fiber.StatusUnauthorized {
				t.Errorf("expected 401, got %d", resp.StatusCode)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	dbtest.New(t)
	app := newApp()

	token, err := auth.GenerateToken(secret, &models.User{ID: 5, Email: "u@example.com", Role: models.RoleUser})
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/admin-only", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusForbidden {
		t.Errorf("expected 403 for user role, got %d", resp.StatusCode)
	}

	token, _ = auth.GenerateToken(secret, &models.User{ID: 6, Email: "a@example.com", Role: models.RoleAdmin})
	req = httptest.NewRequest(http.MethodGet, "/api/admin-only", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, _ = app.Test(req)
	if resp.StatusCode != fiber.StatusNoContent {
		t.Errorf("expected 204 for admin, got %d", resp.StatusCode)
	}
}
