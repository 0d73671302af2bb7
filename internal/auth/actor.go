package auth

import (
	"fmt"
	"time"

	"warehouse-backend/internal/database"
	"warehouse-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/patrickmn/go-cache"
)

// Actor is the authenticated user of the current request.
type Actor struct {
	ID           uint
	Name         string
	Role         models.UserRole
	DepartmentID *uint
}

func (a Actor) Is(roles ...models.UserRole) bool {
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}

// Display names change rarely; audit entries only need a recent value.
var names = cache.New(5*time.Minute, 10*time.Minute)

// ForgetName drops a cached display name after the user was renamed or deleted.
func ForgetName(userID uint) {
	names.Delete(cacheKey(userID))
}

func cacheKey(id uint) string { return fmt.Sprintf("user:%d", id) }

// CurrentActor reads the JWT locals and resolves the display name.
func CurrentActor(c *fiber.Ctx) (Actor, error) {
	userID, ok := c.Locals(CtxUserIDKey).(uint)
	if !ok || userID == 0 {
		return Actor{}, fiber.NewError(fiber.StatusForbidden, "User information missing")
	}
	role, ok := c.Locals(CtxUserRoleKey).(models.UserRole)
	if !ok {
		return Actor{}, fiber.NewError(fiber.StatusForbidden, "Role information missing")
	}
	var deptID *uint
	if d, ok := c.Locals(CtxDepartmentIDKey).(*uint); ok && d != nil {
		deptID = d
	}

	a := Actor{ID: userID, Role: role, DepartmentID: deptID}
	if v, found := names.Get(cacheKey(userID)); found {
		a.Name = v.(string)
		return a, nil
	}

	var user models.User
	if err := database.DB.Select("id", "name").First(&user, "id = ?", userID).Error; err != nil {
		return Actor{}, fiber.NewError(fiber.StatusUnauthorized, "User no longer exists")
	}
	names.Set(cacheKey(userID), user.Name, cache.DefaultExpiration)
	a.Name = user.Name
	return a, nil
}
