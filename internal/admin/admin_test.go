package admin_test

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"warehouse-backend/internal/admin"
	"warehouse-backend/internal/apitest"
	"warehouse-backend/internal/audit"
	"warehouse-backend/internal/database/dbtest"
	"warehouse-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

func newApp(db *gorm.DB) *fiber.App {
	app := apitest.NewApp(db)
	app.Get("/api/departments", admin.ListDepartmentsHandler())
	app.Post("/api/departments", admin.CreateDepartmentHandler())
	app.Put("/api/departments/:id", admin.UpdateDepartmentHandler())
	app.Delete("/api/departments/:id", admin.DeleteDepartmentHandler())
	app.Get("/api/users", admin.ListUsersHandler())
	app.Post("/api/users", admin.CreateUserHandler())
	app.Put("/api/users/:id", admin.UpdateUserHandler())
	app.Delete("/api/users/:id", admin.DeleteUserHandler())
	app.Post("/api/audit-logs/:id/undo", audit.UndoAuditLogHandler())
	return app
}

func TestDepartmentLifecycle(t *testing.T) {
	db := dbtest.New(t)
	app := newApp(db)
	root := apitest.CreateUser(t, db, "root", models.RoleAdmin, nil)

	var dep admin.DepartmentResponse
	apitest.Do(t, app, root, http.MethodPost, "/api/departments", map[string]string{"name": "Logistics", "code": "log"}).
		Expect(t, fiber.StatusCreated).Decode(t, &dep)
	if dep.Code != "LOG" {
		t.Errorf("expected upper-cased code, got %q", dep.Code)
	}

	apitest.Do(t, app, root, http.MethodPost, "/api/departments", map[string]string{"name": "logistics"}).
		Expect(t, fiber.StatusConflict)

	apitest.Do(t, app, root, http.MethodPut, fmt.Sprintf("/api/departments/%d", dep.ID), map[string]string{"name": "Ops"}).
		Expect(t, fiber.StatusOK)

	member := apitest.CreateUser(t, db, "member", models.RoleUser, &dep.ID)
	resp := apitest.Do(t, app, root, http.MethodDelete, fmt.Sprintf("/api/departments/%d", dep.ID), nil).
		Expect(t, fiber.StatusConflict)
	if resp.Error() == "" {
		t.Error("expected an error message")
	}

	db.Delete(&member)
	apitest.Do(t, app, root, http.MethodDelete, fmt.Sprintf("/api/departments/%d", dep.ID), nil).
		Expect(t, fiber.StatusNoContent)

	var n int64
	db.Model(&models.AuditLog{}).Where("entity_type = ?", audit.EntityDepartment).Count(&n)
	if n != 3 {
		t.Errorf("expected 3 audit entries, got %d", n)
	}
}

func TestUndoDepartmentDeleteAndUpdate(t *testing.T) {
	db := dbtest.New(t)
	app := newApp(db)
	root := apitest.CreateUser(t, db, "root", models.RoleAdmin, nil)

	var dep admin.DepartmentResponse
	apitest.Do(t, app, root, http.MethodPost, "/api/departments", map[string]string{"name": "Finance"}).
		Expect(t, fiber.StatusCreated).Decode(t, &dep)
	apitest.Do(t, app, root, http.MethodPut, fmt.Sprintf("/api/departments/%d", dep.ID), map[string]string{"name": "Accounting"}).
		Expect(t, fiber.StatusOK)

	var update models.AuditLog
	db.Where("entity_type = ? AND action = ?", audit.EntityDepartment, models.AuditActionUpdate).First(&update)
	apitest.Do(t, app, root, http.MethodPost, fmt.Sprintf("/api/audit-logs/%d/undo", update.ID), nil).
		Expect(t, fiber.StatusOK)

	var got models.Department
	db.First(&got, dep.ID)
	if got.Name != "Finance" {
		t.Fatalf("expected name restored to Finance, got %q", got.Name)
	}

	apitest.Do(t, app, root, http.MethodPost, fmt.Sprintf("/api/audit-logs/%d/undo", update.ID), nil).
		Expect(t, fiber.StatusConflict)

	apitest.Do(t, app, root, http.MethodDelete, fmt.Sprintf("/api/departments/%d", dep.ID), nil).
		Expect(t, fiber.StatusNoContent)
	var del models.AuditLog
	db.Where("entity_type = ? AND action = ?", audit.EntityDepartment, models.AuditActionDelete).First(&del)
	apitest.Do(t, app, root, http.MethodPost, fmt.Sprintf("/api/audit-logs/%d/undo", del.ID), nil).
		Expect(t, fiber.StatusOK)

	if err := db.First(&got, dep.ID).Error; err != nil {
		t.Fatalf("expected department recreated with the same id: %v", err)
	}
}

func TestUserLogsAreNotUndoable(t *testing.T) {
	db := dbtest.New(t)
	app := newApp(db)
	root := apitest.CreateUser(t, db, "root", models.RoleAdmin, nil)

	apitest.Do(t, app, root, http.MethodPost, "/api/users", map[string]any{
		"name": "Sam", "email": "sam@example.com", "password": "password123", "role": "storage",
	}).Expect(t, fiber.StatusCreated)

	var log models.AuditLog
	db.Where("entity_type = ?", audit.EntityUser).First(&log)
	apitest.Do(t, app, root, http.MethodPost, fmt.Sprintf("/api/audit-logs/%d/undo", log.ID), nil).
		Expect(t, fiber.StatusBadRequest)
}

func TestUserValidation(t *testing.T) {
	db := dbtest.New(t)
	app := newApp(db)
	root := apitest.CreateUser(t, db, "root", models.RoleAdmin, nil)
	missing := uint(999)

	testCases := []struct {
		name   string
		body   map[string]any
		status int
	}{
		{"ok", map[string]any{"name": "Ann", "email": "ANN@example.com", "password": "password123", "role": "manager"}, fiber.StatusCreated},
		{"duplicate email", map[string]any{"name": "Ann2", "email": "ann@example.com", "password": "password123"}, fiber.StatusConflict},
		{"short password", map[string]any{"name": "Bob", "email": "bob@example.com", "password": "short"}, fiber.StatusBadRequest},
		{"bad role", map[string]any{"name": "Bob", "email": "bob@example.com", "password": "password123", "role": "owner"}, fiber.StatusBadRequest},
		{"unknown department", map[string]any{"name": "Bob", "email": "bob@example.com", "password": "password123", "department_id": missing}, fiber.StatusBadRequest},
		{"missing name", map[string]any{"email": "bob@example.com", "password": "password123"}, fiber.StatusBadRequest},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			apitest.Do(t, app, root, http.MethodPost, "/api/users", tc.body).Expect(t, tc.status)
		})
	}

	var users []admin.UserResponse
	apitest.Do(t, app, root, http.MethodGet, "/api/users?role=manager", nil).Expect(t, fiber.StatusOK).Decode(t, &users)
	if len(users) != 1 || users[0].Email != "ann@example.com" {
		t.Fatalf("expected only ann as manager, got %+v", users)
	}
}

func TestUserCannotDeleteOrDemoteSelf(t *testing.T) {
	db := dbtest.New(t)
	app := newApp(db)
	root := apitest.CreateUser(t, db, "root", models.RoleAdmin, nil)

	apitest.Do(t, app, root, http.MethodDelete, fmt.Sprintf("/api/users/%d", root.ID), nil).
		Expect(t, fiber.StatusBadRequest)
	apitest.Do(t, app, root, http.MethodPut, fmt.Sprintf("/api/users/%d", root.ID), map[string]string{"role": "user"}).
		Expect(t, fiber.StatusBadRequest)

	other := apitest.CreateUser(t, db, "other", models.RoleUser, nil)
	apitest.Do(t, app, root, http.MethodDelete, fmt.Sprintf("/api/users/%d", other.ID), nil).
		Expect(t, fiber.StatusNoContent)

	borrower := apitest.CreateUser(t, db, "borrower", models.RoleUser, nil)
	br := models.BorrowRequest{
		Code: "BR-20240101-AAAAAA", RequesterID: borrower.ID, Purpose: "shoot", Status: models.BorrowComplete,
		StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), DueDate: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	if err := db.Create(&br).Error; err != nil {
		t.Fatalf("create borrow request: %v", err)
	}
	apitest.Do(t, app, root, http.MethodDelete, fmt.Sprintf("/api/users/%d", borrower.ID), nil).
		Expect(t, fiber.StatusConflict)
}
