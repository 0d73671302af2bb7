// Package apitest drives fiber handlers in tests.
package apitest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"warehouse-backend/internal/apiutil"
	"warehouse-backend/internal/auth"
	"warehouse-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// NewApp returns an app with the production error handler. Requests choose
// their user through the X-Test-User header, see As.
func NewApp(db *gorm.DB) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: apiutil.ErrorHandler})
	app.Use(func(c *fiber.Ctx) error {
		id := c.Get("X-Test-User")
		if id == "" {
			return c.Next()
		}
		var u models.User
		if err := db.First(&u, "id = ?", id).Error; err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "unknown test user")
		}
		c.Locals(auth.CtxUserIDKey, u.ID)
		c.Locals(auth.CtxUserRoleKey, u.Role)
		c.Locals(auth.CtxDepartmentIDKey, u.DepartmentID)
		return c.Next()
	})
	return app
}

// CreateUser inserts a user with the given role.
func CreateUser(t *testing.T, db *gorm.DB, name string, role models.UserRole, deptID *uint) models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := models.User{
		Name:         name,
		Email:        fmt.Sprintf("%s@example.com", name),
		PasswordHash: string(hash),
		Role:         role,
		DepartmentID: deptID,
	}
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

// Response is a decoded test response.
type Response struct {
	Status int
	Body   []byte
}

// Decode unmarshals the body into v.
func (r Response) Decode(t *testing.T, v any) {
	t.Helper()
	if err := json.Unmarshal(r.Body, v); err != nil {
		t.Fatalf("decode %q: %v", r.Body, err)
	}
}

// Error returns the {"error"} message of the body.
func (r Response) Error() string {
	var e struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(r.Body, &e)
	return e.Error
}

// Do sends a JSON request (body may be nil) as user.
func Do(t *testing.T, app *fiber.App, user models.User, method, path string, body any) Response {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return send(t, app, user, req)
}

// DoRaw sends a prepared request as user.
func DoRaw(t *testing.T, app *fiber.App, user models.User, req *http.Request) Response {
	t.Helper()
	return send(t, app, user, req)
}

func send(t *testing.T, app *fiber.App, user models.User, req *http.Request) Response {
	t.Helper()
	if user.ID != 0 {
		req.Header.Set("X-Test-User", fmt.Sprint(user.ID))
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return Response{Status: resp.StatusCode, Body: b}
}

// Expect fails the test when the status differs.
func (r Response) Expect(t *testing.T, status int) Response {
	t.Helper()
	if r.Status != status {
		t.Fatalf("expected status %d, got %d: %s", status, r.Status, r.Body)
	}
	return r
}
