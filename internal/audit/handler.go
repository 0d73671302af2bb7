package audit

import (
	"errors"

	"warehouse-backend/internal/apiutil"
	"warehouse-backend/internal/auth"
	"warehouse-backend/internal/database"
	"warehouse-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type AuditLogResponse struct {
	ID          uint               `json:"id"`
	CreatedAt   string             `json:"created_at"`
	UserID      uint               `json:"user_id"`
	UserName    string             `json:"user_name"`
	EntityType  string             `json:"entity_type"`
	EntityID    uint               `json:"entity_id"`
	Action      models.AuditAction `json:"action"`
	Description string             `json:"description"`
	Undoable    bool               `json:"undoable"`
	IsUndone    bool               `json:"is_undone"`
	UndoneBy    *uint              `json:"undone_by"`
	UndoneAt    *string            `json:"undone_at"`
}

// GET /api/audit-logs?entity_type=box&entity_id=1&user_id=2&action=update&limit=100
func ListAuditLogsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		dbq := database.DB.Model(&models.AuditLog{})

		if uid, err := apiutil.QueryID(c, "user_id"); err != nil {
			return err
		} else if uid > 0 {
			dbq = dbq.Where("user_id = ?", uid)
		}
		if et := c.Query("entity_type"); et != "" {
			dbq = dbq.Where("entity_type = ?", et)
		}
		if eid, err := apiutil.QueryID(c, "entity_id"); err != nil {
			return err
		} else if eid > 0 {
			dbq = dbq.Where("entity_id = ?", eid)
		}
		if action := c.Query("action"); action != "" {
			dbq = dbq.Where("action = ?", action)
		}

		limit := c.QueryInt("limit", 200)
		if limit <= 0 || limit > 1000 {
			limit = 200
		}

		var logs []models.AuditLog
		if err := dbq.Order("created_at DESC, id DESC").Limit(limit).Find(&logs).Error; err != nil {
			return apiutil.DomainError(err, "Failed to list audit logs")
		}

		resp := make([]AuditLogResponse, 0, len(logs))
		for _, l := range logs {
			undoable := Undoable(l.EntityType) && !l.IsUndone &&
				(l.Action == models.AuditActionCreate || l.Action == models.AuditActionUpdate || l.Action == models.AuditActionDelete)
			resp = append(resp, AuditLogResponse{
				ID:          l.ID,
				CreatedAt:   l.CreatedAt.Format(apiutil.DateTimeLayout),
				UserID:      l.UserID,
				UserName:    l.UserName,
				EntityType:  l.EntityType,
				EntityID:    l.EntityID,
				Action:      l.Action,
				Description: l.Description,
				Undoable:    undoable,
				IsUndone:    l.IsUndone,
				UndoneBy:    l.UndoneBy,
				UndoneAt:    apiutil.FormatTime(l.UndoneAt),
			})
		}
		return c.JSON(resp)
	}
}

// POST /api/audit-logs/:id/undo
func UndoAuditLogHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		logID, err := apiutil.ParamID(c, "id")
		if err != nil {
			return err
		}
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}

		err = UndoLog(logID, actor.ID, actor.Name)
		switch {
		case err == nil:
		case errors.Is(err, gorm.ErrRecordNotFound):
			return fiber.NewError(fiber.StatusNotFound, "Audit log not found")
		case errors.Is(err, ErrAlreadyUndone), errors.Is(err, ErrInUse):
			return fiber.NewError(fiber.StatusConflict, err.Error())
		case errors.Is(err, ErrNotUndoable):
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		default:
			return apiutil.DomainError(err, "Failed to undo change")
		}

		return c.JSON(fiber.Map{"message": "Change undone"})
	}
}
