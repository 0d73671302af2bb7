package admin

import (
	"fmt"
	"strings"

	"warehouse-backend/internal/apiutil"
	"warehouse-backend/internal/audit"
	"warehouse-backend/internal/auth"
	"warehouse-backend/internal/database"
	"warehouse-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type DepartmentResponse struct {
	ID        uint   `json:"id"`
	Name      string `json:"name"`
	Code      string `json:"code"`
	UserCount int64  `json:"user_count"`
	CreatedAt string `json:"created_at"`
}

type DepartmentRequest struct {
	Name *string `json:"name"`
	Code *string `json:"code"`
}

func toDepartmentResponse(d models.Department, users int64) DepartmentResponse {
	return DepartmentResponse{
		ID:        d.ID,
		Name:      d.Name,
		Code:      d.Code,
		UserCount: users,
		CreatedAt: d.CreatedAt.Format(apiutil.DateTimeLayout),
	}
}

// GET /api/departments
func ListDepartmentsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var deps []models.Department
		if err := database.DB.Order("name ASC").Find(&deps).Error; err != nil {
			return apiutil.DomainError(err, "Failed to list departments")
		}

		type countRow struct {
			DepartmentID uint
			N            int64
		}
		var rows []countRow
		if err := database.DB.Model(&models.User{}).
			Select("department_id, COUNT(*) AS n").
			Where("department_id IS NOT NULL").
			Group("department_id").
			Scan(&rows).Error; err != nil {
			return apiutil.DomainError(err, "Failed to list departments")
		}
		counts := make(map[uint]int64, len(rows))
		for _, r := range rows {
			counts[r.DepartmentID] = r.N
		}

		res := make([]DepartmentResponse, 0, len(deps))
		for _, d := range deps {
			res = append(res, toDepartmentResponse(d, counts[d.ID]))
		}
		return c.JSON(res)
	}
}

// POST /api/departments
func CreateDepartmentHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}

		var body DepartmentRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if body.Name == nil || strings.TrimSpace(*body.Name) == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Department name is required")
		}

		dep := models.Department{Name: strings.TrimSpace(*body.Name)}
		if body.Code != nil {
			dep.Code = strings.ToUpper(strings.TrimSpace(*body.Code))
		}

		var dup int64
		database.DB.Model(&models.Department{}).Where("LOWER(name) = LOWER(?)", dep.Name).Count(&dup)
		if dup > 0 {
			return fiber.NewError(fiber.StatusConflict, "A department with this name already exists")
		}

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&dep).Error; err != nil {
				return err
			}
			return audit.WriteLog(audit.LogOptions{
				Tx:          tx,
				UserID:      actor.ID,
				UserName:    actor.Name,
				EntityType:  audit.EntityDepartment,
				EntityID:    dep.ID,
				Action:      models.AuditActionCreate,
				Description: fmt.Sprintf("Department created: %s", dep.Name),
				After:       dep,
			})
		})
		if err != nil {
			return apiutil.DomainError(err, "Failed to create department")
		}

		return c.Status(fiber.StatusCreated).JSON(toDepartmentResponse(dep, 0))
	}
}

// PUT /api/departments/:id
func UpdateDepartmentHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := apiutil.ParamID(c, "id")
		if err != nil {
			return err
		}
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}

		var dep models.Department
		if err := database.DB.First(&dep, "id = ?", id).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Department not found")
		}
		before := dep

		var body DepartmentRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if body.Name != nil {
			name := strings.TrimSpace(*body.Name)
			if name == "" {
				return fiber.NewError(fiber.StatusBadRequest, "Department name cannot be empty")
			}
			var dup int64
			database.DB.Model(&models.Department{}).Where("LOWER(name) = LOWER(?) AND id <> ?", name, id).Count(&dup)
			if dup > 0 {
				return fiber.NewError(fiber.StatusConflict, "A department with this name already exists")
			}
			dep.Name = name
		}
		if body.Code != nil {
			dep.Code = strings.ToUpper(strings.TrimSpace(*body.Code))
		}

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&dep).Select("name", "code").Updates(&dep).Error; err != nil {
				return err
			}
			return audit.WriteLog(audit.LogOptions{
				Tx:          tx,
				UserID:      actor.ID,
				UserName:    actor.Name,
				EntityType:  audit.EntityDepartment,
				EntityID:    dep.ID,
				Action:      models.AuditActionUpdate,
				Description: fmt.Sprintf("Department updated: %s", dep.Name),
				Before:      before,
				After:       dep,
			})
		})
		if err != nil {
			return apiutil.DomainError(err, "Failed to update department")
		}

		var users int64
		database.DB.Model(&models.User{}).Where("department_id = ?", dep.ID).Count(&users)
		return c.JSON(toDepartmentResponse(dep, users))
	}
}

// DELETE /api/departments/:id
func DeleteDepartmentHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := apiutil.ParamID(c, "id")
		if err != nil {
			return err
		}
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}

		var dep models.Department
		if err := database.DB.First(&dep, "id = ?", id).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Department not found")
		}

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			var users, loans int64
			if err := tx.Model(&models.User{}).Where("department_id = ?", dep.ID).Count(&users).Error; err != nil {
				return err
			}
			if users > 0 {
				return fiber.NewError(fiber.StatusConflict, "Department still has users")
			}
			if err := tx.Model(&models.BorrowRequest{}).Where("department_id = ?", dep.ID).Count(&loans).Error; err != nil {
				return err
			}
			if loans > 0 {
				return fiber.NewError(fiber.StatusConflict, "Department has borrow requests")
			}
			if err := tx.Delete(&dep).Error; err != nil {
				return err
			}
			return audit.WriteLog(audit.LogOptions{
				Tx:          tx,
				UserID:      actor.ID,
				UserName:    actor.Name,
				EntityType:  audit.EntityDepartment,
				EntityID:    dep.ID,
				Action:      models.AuditActionDelete,
				Description: fmt.Sprintf("Department deleted: %s", dep.Name),
				Before:      dep,
			})
		})
		if err != nil {
			return apiutil.DomainError(err, "Failed to delete department")
		}

		return c.SendStatus(fiber.StatusNoContent)
	}
}
