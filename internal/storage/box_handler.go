package storage

import (
	"fmt"
	"strings"

	"warehouse-backend/internal/apiutil"
	"warehouse-backend/internal/audit"
	"warehouse-backend/internal/auth"
	"warehouse-backend/internal/database"
	"warehouse-backend/internal/models"
	"warehouse-backend/internal/stock"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type BoxResponse struct {
	ID           uint         `json:"id"`
	Code         string       `json:"code"`
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	LocationID   uint         `json:"location_id"`
	LocationName string       `json:"location_name"`
	Totals       stock.Totals `json:"totals"`
	CreatedAt    string       `json:"created_at"`
}

type BoxRequest struct {
	Code        *string `json:"code"`
	Name        *string `json:"name"`
	LocationID  *uint   `json:"location_id"`
	Description *string `json:"description"`
}

func toBoxResponse(b models.Box, totals stock.Totals) BoxResponse {
	return BoxResponse{
		ID:           b.ID,
		Code:         b.Code,
		Name:         b.Name,
		Description:  b.Description,
		LocationID:   b.LocationID,
		LocationName: b.Location.Name,
		Totals:       totals,
		CreatedAt:    b.CreatedAt.Format(apiutil.DateTimeLayout),
	}
}

// boxTotals sums the stock counters of each box.
func boxTotals(db *gorm.DB, boxIDs []uint) (map[uint]stock.Totals, error) {
	out := make(map[uint]stock.Totals, len(boxIDs))
	if len(boxIDs) == 0 {
		return out, nil
	}
	var stocks []models.ItemStock
	if err := db.Where("box_id IN ?", boxIDs).Find(&stocks).Error; err != nil {
		return nil, err
	}
	for _, s := range stocks {
		out[*s.BoxID] = out[*s.BoxID].Add(stock.TotalsOf(stock.FromModel(&s)))
	}
	return out, nil
}

func boxCodeTaken(code string, exceptID uint) bool {
	var n int64
	database.DB.Model(&models.Box{}).Where("UPPER(code) = ? AND id <> ?", code, exceptID).Count(&n)
	return n > 0
}

// GET /api/boxes?location_id=1&q=A-01
func ListBoxesHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		dbq := database.DB.Preload("Location").Order("code ASC")

		locID, err := apiutil.QueryID(c, "location_id")
		if err != nil {
			return err
		}
		if locID > 0 {
			dbq = dbq.Where("location_id = ?", locID)
		}
		if q := strings.TrimSpace(c.Query("q")); q != "" {
			like := "%" + strings.ToLower(q) + "%"
			dbq = dbq.Where("LOWER(code) LIKE ? OR LOWER(name) LIKE ?", like, like)
		}

		var boxes []models.Box
		if err := dbq.Find(&boxes).Error; err != nil {
			return apiutil.DomainError(err, "Failed to list boxes")
		}

		ids := make([]uint, 0, len(boxes))
		for _, b := range boxes {
			ids = append(ids, b.ID)
		}
		totals, err := boxTotals(database.DB, ids)
		if err != nil {
			return apiutil.DomainError(err, "Failed to list boxes")
		}

		res := make([]BoxResponse, 0, len(boxes))
		for _, b := range boxes {
			res = append(res, toBoxResponse(b, totals[b.ID]))
		}
		return c.JSON(res)
	}
}

// GET /api/boxes/:id
func GetBoxHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := apiutil.ParamID(c, "id")
		if err != nil {
			return err
		}
		var box models.Box
		if err := database.DB.Preload("Location").First(&box, "id = ?", id).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Box not found")
		}
		totals, err := boxTotals(database.DB, []uint{box.ID})
		if err != nil {
			return apiutil.DomainError(err, "Failed to load box")
		}
		return c.JSON(toBoxResponse(box, totals[box.ID]))
	}
}

// POST /api/boxes
func CreateBoxHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}

		var body BoxRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if body.Code == nil || strings.TrimSpace(*body.Code) == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Box code is required")
		}
		if body.LocationID == nil || *body.LocationID == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "location_id is required")
		}

		var loc models.Location
		if err := database.DB.First(&loc, "id = ?", *body.LocationID).Error; err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Location not found")
		}

		box := models.Box{
			Code:       strings.ToUpper(strings.TrimSpace(*body.Code)),
			LocationID: loc.ID,
		}
		if body.Name != nil {
			box.Name = strings.TrimSpace(*body.Name)
		}
		if body.Description != nil {
			box.Description = strings.TrimSpace(*body.Description)
		}
		if boxCodeTaken(box.Code, 0) {
			return fiber.NewError(fiber.StatusConflict, "A box with this code already exists")
		}

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Omit("Location").Create(&box).Error; err != nil {
				return err
			}
			return audit.WriteLog(audit.LogOptions{
				Tx:          tx,
				UserID:      actor.ID,
				UserName:    actor.Name,
				EntityType:  audit.EntityBox,
				EntityID:    box.ID,
				Action:      models.AuditActionCreate,
				Description: fmt.Sprintf("Box created: %s in %s", box.Code, loc.Name),
				After:       box,
			})
		})
		if err != nil {
			return apiutil.DomainError(err, "Failed to create box")
		}

		box.Location = loc
		return c.Status(fiber.StatusCreated).JSON(toBoxResponse(box, stock.Totals{}))
	}
}

// PUT /api/boxes/:id
// Moving a box to another location moves everything inside it.
func UpdateBoxHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := apiutil.ParamID(c, "id")
		if err != nil {
			return err
		}
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}

		var box models.Box
		if err := database.DB.First(&box, "id = ?", id).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Box not found")
		}
		before := box

		var body BoxRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if body.Code != nil {
			code := strings.ToUpper(strings.TrimSpace(*body.Code))
			if code == "" {
				return fiber.NewError(fiber.StatusBadRequest, "Box code cannot be empty")
			}
			if boxCodeTaken(code, box.ID) {
				return fiber.NewError(fiber.StatusConflict, "A box with this code already exists")
			}
			box.Code = code
		}
		if body.LocationID != nil {
			var n int64
			database.DB.Model(&models.Location{}).Where("id = ?", *body.LocationID).Count(&n)
			if n == 0 {
				return fiber.NewError(fiber.StatusBadRequest, "Location not found")
			}
			box.LocationID = *body.LocationID
		}
		if body.Name != nil {
			box.Name = strings.TrimSpace(*body.Name)
		}
		if body.Description != nil {
			box.Description = strings.TrimSpace(*body.Description)
		}

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&box).Select("code", "name", "location_id", "description").Updates(&box).Error; err != nil {
				return err
			}
			return audit.WriteLog(audit.LogOptions{
				Tx:          tx,
				UserID:      actor.ID,
				UserName:    actor.Name,
				EntityType:  audit.EntityBox,
				EntityID:    box.ID,
				Action:      models.AuditActionUpdate,
				Description: fmt.Sprintf("Box updated: %s", box.Code),
				Before:      before,
				After:       box,
			})
		})
		if err != nil {
			return apiutil.DomainError(err, "Failed to update box")
		}

		database.DB.Preload("Location").First(&box, box.ID)
		totals, _ := boxTotals(database.DB, []uint{box.ID})
		return c.JSON(toBoxResponse(box, totals[box.ID]))
	}
}

// DELETE /api/boxes/:id
// Refused while any stock in the box still holds units. Empty stock rows go with the box.
func DeleteBoxHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := apiutil.ParamID(c, "id")
		if err != nil {
			return err
		}
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}

		var box models.Box
		if err := database.DB.First(&box, "id = ?", id).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Box not found")
		}

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			var held int64
			if err := tx.Model(&models.ItemStock{}).
				Where("box_id = ? AND received > removed", box.ID).
				Count(&held).Error; err != nil {
				return err
			}
			if held > 0 {
				return fiber.NewError(fiber.StatusConflict, "Box still contains items")
			}
			// Emptied stock rows keep their request and movement history.
			if err := stock.DetachBox(tx, box.ID); err != nil {
				return err
			}
			if err := tx.Delete(&box).Error; err != nil {
				return err
			}
			return audit.WriteLog(audit.LogOptions{
				Tx:          tx,
				UserID:      actor.ID,
				UserName:    actor.Name,
				EntityType:  audit.EntityBox,
				EntityID:    box.ID,
				Action:      models.AuditActionDelete,
				Description: fmt.Sprintf("Box deleted: %s", box.Code),
				Before:      box,
			})
		})
		if err != nil {
			return apiutil.DomainError(err, "Failed to delete box")
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

type BoxContentsResponse struct {
	Box    BoxResponse `json:"box"`
	Stocks []TreeStock `json:"stocks"`
}

// GET /api/boxes/:id/contents
func BoxContentsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := apiutil.ParamID(c, "id")
		if err != nil {
			return err
		}
		var box models.Box
		if err := database.DB.Preload("Location").First(&box, "id = ?", id).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Box not found")
		}

		var stocks []models.ItemStock
		if err := database.DB.Preload("Item").
			Where("box_id = ? AND received > removed", box.ID).
			Order("item_id ASC, condition ASC").
			Find(&stocks).Error; err != nil {
			return apiutil.DomainError(err, "Failed to load box contents")
		}

		res := BoxContentsResponse{Stocks: make([]TreeStock, 0, len(stocks))}
		var totals stock.Totals
		for _, s := range stocks {
			ts := toTreeStock(s)
			totals = totals.Add(ts.Totals)
			res.Stocks = append(res.Stocks, ts)
		}
		res.Box = toBoxResponse(box, totals)
		return c.JSON(res)
	}
}
