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
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type UserResponse struct {
	ID             uint            `json:"id"`
	Name           string          `json:"name"`
	Email          string          `json:"email"`
	Role           models.UserRole `json:"role"`
	DepartmentID   *uint           `json:"department_id"`
	DepartmentName string          `json:"department_name,omitempty"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at"`
}

type CreateUserRequest struct {
	Name         string          `json:"name"`
	Email        string          `json:"email"`
	Password     string          `json:"password"`
	Role         models.UserRole `json:"role"`
	DepartmentID *uint           `json:"department_id"`
}

type UpdateUserRequest struct {
	Name         *string          `json:"name"`
	Email        *string          `json:"email"`
	Password     *string          `json:"password"`
	Role         *models.UserRole `json:"role"`
	DepartmentID *uint            `json:"department_id"`
	// ClearDepartment detaches the user from any department.
	ClearDepartment bool `json:"clear_department"`
}

func toUserResponse(u models.User) UserResponse {
	r := UserResponse{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		Role:         u.Role,
		DepartmentID: u.DepartmentID,
		CreatedAt:    u.CreatedAt.Format(apiutil.DateTimeLayout),
		UpdatedAt:    u.UpdatedAt.Format(apiutil.DateTimeLayout),
	}
	if u.Department != nil {
		r.DepartmentName = u.Department.Name
	}
	return r
}

func departmentExists(id uint) bool {
	var n int64
	database.DB.Model(&models.Department{}).Where("id = ?", id).Count(&n)
	return n > 0
}

func emailTaken(email string, exceptID uint) bool {
	var n int64
	database.DB.Model(&models.User{}).Where("email = ? AND id <> ?", email, exceptID).Count(&n)
	return n > 0
}

// GET /api/users?role=storage&department_id=1
func ListUsersHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		dbq := database.DB.Preload("Department").Order("name ASC")

		if role := models.UserRole(c.Query("role")); role != "" {
			if !role.Valid() {
				return fiber.NewError(fiber.StatusBadRequest, "Invalid role")
			}
			dbq = dbq.Where("role = ?", role)
		}
		deptID, err := apiutil.QueryID(c, "department_id")
		if err != nil {
			return err
		}
		if deptID > 0 {
			dbq = dbq.Where("department_id = ?", deptID)
		}

		var users []models.User
		if err := dbq.Find(&users).Error; err != nil {
			return apiutil.DomainError(err, "Failed to list users")
		}

		res := make([]UserResponse, 0, len(users))
		for _, u := range users {
			res = append(res, toUserResponse(u))
		}
		return c.JSON(res)
	}
}

// GET /api/users/:id
func GetUserHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := apiutil.ParamID(c, "id")
		if err != nil {
			return err
		}
		var u models.User
		if err := database.DB.Preload("Department").First(&u, "id = ?", id).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "User not found")
		}
		return c.JSON(toUserResponse(u))
	}
}

// POST /api/users
func CreateUserHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}

		var body CreateUserRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		body.Name = strings.TrimSpace(body.Name)
		body.Email = strings.TrimSpace(strings.ToLower(body.Email))

		if body.Name == "" || body.Email == "" || body.Password == "" {
			return fiber.NewError(fiber.StatusBadRequest, "name, email and password are required")
		}
		if len(body.Password) < 8 {
			return fiber.NewError(fiber.StatusBadRequest, "password must be at least 8 characters")
		}
		if body.Role == "" {
			body.Role = models.RoleUser
		}
		if !body.Role.Valid() {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid role")
		}
		if body.DepartmentID != nil && !departmentExists(*body.DepartmentID) {
			return fiber.NewError(fiber.StatusBadRequest, "Department not found")
		}
		if emailTaken(body.Email, 0) {
			return fiber.NewError(fiber.StatusConflict, "This email is already in use")
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(body.Password), bcrypt.DefaultCost)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Password could not be hashed")
		}

		user := models.User{
			Name:         body.Name,
			Email:        body.Email,
			PasswordHash: string(hash),
			Role:         body.Role,
			DepartmentID: body.DepartmentID,
		}

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&user).Error; err != nil {
				return err
			}
			return audit.WriteLog(audit.LogOptions{
				Tx:          tx,
				UserID:      actor.ID,
				UserName:    actor.Name,
				EntityType:  audit.EntityUser,
				EntityID:    user.ID,
				Action:      models.AuditActionCreate,
				Description: fmt.Sprintf("User created: %s (%s)", user.Email, user.Role),
				After:       user,
			})
		})
		if err != nil {
			return apiutil.DomainError(err, "Failed to create user")
		}

		database.DB.Preload("Department").First(&user, user.ID)
		return c.Status(fiber.StatusCreated).JSON(toUserResponse(user))
	}
}

// PUT /api/users/:id
func UpdateUserHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := apiutil.ParamID(c, "id")
		if err != nil {
			return err
		}
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}

		var user models.User
		if err := database.DB.First(&user, "id = ?", id).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "User not found")
		}
		before := user

		var body UpdateUserRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}

		if body.Name != nil {
			name := strings.TrimSpace(*body.Name)
			if name == "" {
				return fiber.NewError(fiber.StatusBadRequest, "Name cannot be empty")
			}
			user.Name = name
		}
		if body.Email != nil {
			email := strings.TrimSpace(strings.ToLower(*body.Email))
			if email == "" {
				return fiber.NewError(fiber.StatusBadRequest, "Email cannot be empty")
			}
			if emailTaken(email, user.ID) {
				return fiber.NewError(fiber.StatusConflict, "This email is already in use")
			}
			user.Email = email
		}
		if body.Role != nil {
			if !body.Role.Valid() {
				return fiber.NewError(fiber.StatusBadRequest, "Invalid role")
			}
			if user.ID == actor.ID && *body.Role != user.Role {
				return fiber.NewError(fiber.StatusBadRequest, "You cannot change your own role")
			}
			user.Role = *body.Role
		}
		if body.ClearDepartment {
			user.DepartmentID = nil
		} else if body.DepartmentID != nil {
			if !departmentExists(*body.DepartmentID) {
				return fiber.NewError(fiber.StatusBadRequest, "Department not found")
			}
			user.DepartmentID = body.DepartmentID
		}
		if body.Password != nil {
			if len(*body.Password) < 8 {
				return fiber.NewError(fiber.StatusBadRequest, "password must be at least 8 characters")
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(*body.Password), bcrypt.DefaultCost)
			if err != nil {
				return fiber.NewError(fiber.StatusInternalServerError, "Password could not be hashed")
			}
			user.PasswordHash = string(hash)
		}

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&user).
				Select("name", "email", "role", "department_id", "password_hash").
				Updates(&user).Error; err != nil {
				return err
			}
			return audit.WriteLog(audit.LogOptions{
				Tx:          tx,
				UserID:      actor.ID,
				UserName:    actor.Name,
				EntityType:  audit.EntityUser,
				EntityID:    user.ID,
				Action:      models.AuditActionUpdate,
				Description: fmt.Sprintf("User updated: %s", user.Email),
				Before:      before,
				After:       user,
			})
		})
		if err != nil {
			return apiutil.DomainError(err, "Failed to update user")
		}
		auth.ForgetName(user.ID)

		database.DB.Preload("Department").First(&user, user.ID)
		return c.JSON(toUserResponse(user))
	}
}

// DELETE /api/users/:id
func DeleteUserHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := apiutil.ParamID(c, "id")
		if err != nil {
			return err
		}
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}
		if id == actor.ID {
			return fiber.NewError(fiber.StatusBadRequest, "You cannot delete your own account")
		}

		var user models.User
		if err := database.DB.First(&user, "id = ?", id).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "User not found")
		}

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			var loans int64
			if err := tx.Model(&models.BorrowRequest{}).Where("requester_id = ?", user.ID).Count(&loans).Error; err != nil {
				return err
			}
			if loans > 0 {
				return fiber.NewError(fiber.StatusConflict, "User has borrow requests and cannot be deleted")
			}
			if err := tx.Delete(&user).Error; err != nil {
				return err
			}
			return audit.WriteLog(audit.LogOptions{
				Tx:          tx,
				UserID:      actor.ID,
				UserName:    actor.Name,
				EntityType:  audit.EntityUser,
				EntityID:    user.ID,
				Action:      models.AuditActionDelete,
				Description: fmt.Sprintf("User deleted: %s", user.Email),
				Before:      user,
			})
		})
		if err != nil {
			return apiutil.DomainError(err, "Failed to delete user")
		}
		auth.ForgetName(user.ID)

		return c.SendStatus(fiber.StatusNoContent)
	}
}
