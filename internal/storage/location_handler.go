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

type LocationResponse struct {
	ID          uint   `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	BoxCount    int64  `json:"box_count"`
	CreatedAt   string `json:"created_at"`
}

type LocationRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

func toLocationResponse(l models.Location, boxes int64) LocationResponse {
	return LocationResponse{
		ID:          l.ID,
		Name:        l.Name,
		Description: l.Description,
		BoxCount:    boxes,
		CreatedAt:   l.CreatedAt.Format(apiutil.DateTimeLayout),
	}
}

func countBoxes(locationID uint) int64 {
	var n int64
	database.DB.Model(&models.Box{}).Where("location_id = ?", locationID).Count(&n)
	return n
}

func locationNameTaken(name string, exceptID uint) bool {
	var n int64
	database.DB.Model(&models.Location{}).Where("LOWER(name) = LOWER(?) AND id <> ?", name, exceptID).Count(&n)
	return n > 0
}

// GET /api/locations
func ListLocationsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var locs []models.Location
		dbq := database.DB.Order("name ASC")
		if q := strings.TrimSpace(c.Query("q")); q != "" {
			dbq = dbq.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(q)+"%")
		}
		if err := dbq.Find(&locs).Error; err != nil {
			return apiutil.DomainError(err, "Failed to list locations")
		}

		type countRow struct {
			LocationID uint
			N          int64
		}
		var rows []countRow
		database.DB.Model(&models.Box{}).Select("location_id, COUNT(*) AS n").Group("location_id").Scan(&rows)
		counts := make(map[uint]int64, len(rows))
		for _, r := range rows {
			counts[r.LocationID] = r.N
		}

		res := make([]LocationResponse, 0, len(locs))
		for _, l := range locs {
			res = append(res, toLocationResponse(l, counts[l.ID]))
		}
		return c.JSON(res)
	}
}

// GET /api/locations/:id
func GetLocationHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := apiutil.ParamID(c, "id")
		if err != nil {
			return err
		}
		var loc models.Location
		if err := database.DB.First(&loc, "id = ?", id).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Location not found")
		}
		return c.JSON(toLocationResponse(loc, countBoxes(loc.ID)))
	}
}

// POST /api/locations
func CreateLocationHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}

		var body LocationRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if body.Name == nil || strings.TrimSpace(*body.Name) == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Location name is required")
		}

		loc := models.Location{Name: strings.TrimSpace(*body.Name)}
		if body.Description != nil {
			loc.Description = strings.TrimSpace(*body.Description)
		}
		if locationNameTaken(loc.Name, 0) {
			return fiber.NewError(fiber.StatusConflict, "A location with this name already exists")
		}

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&loc).Error; err != nil {
				return err
			}
			return audit.WriteLog(audit.LogOptions{
				Tx:          tx,
				UserID:      actor.ID,
				UserName:    actor.Name,
				EntityType:  audit.EntityLocation,
				EntityID:    loc.ID,
				Action:      models.AuditActionCreate,
				Description: fmt.Sprintf("Location created: %s", loc.Name),
				After:       loc,
			})
		})
		if err != nil {
			return apiutil.DomainError(err, "Failed to create location")
		}

		return c.Status(fiber.StatusCreated).JSON(toLocationResponse(loc, 0))
	}
}

// PUT /api/locations/:id
func UpdateLocationHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := apiutil.ParamID(c, "id")
		if err != nil {
			return err
		}
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}

		var loc models.Location
		if err := database.DB.First(&loc, "id = ?", id).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Location not found")
		}
		before := loc

		var body LocationRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if body.Name != nil {
			name := strings.TrimSpace(*body.Name)
			if name == "" {
				return fiber.NewError(fiber.StatusBadRequest, "Location name cannot be empty")
			}
			if locationNameTaken(name, loc.ID) {
				return fiber.NewError(fiber.StatusConflict, "A location with this name already exists")
			}
			loc.Name = name
		}
		if body.Description != nil {
			loc.Description = strings.TrimSpace(*body.Description)
		}

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&loc).Select("name", "description").Updates(&loc).Error; err != nil {
				return err
			}
			return audit.WriteLog(audit.LogOptions{
				Tx:          tx,
				UserID:      actor.ID,
				UserName:    actor.Name,
				EntityType:  audit.EntityLocation,
				EntityID:    loc.ID,
				Action:      models.AuditActionUpdate,
				Description: fmt.Sprintf("Location updated: %s", loc.Name),
				Before:      before,
				After:       loc,
			})
		})
		if err != nil {
			return apiutil.DomainError(err, "Failed to update location")
		}

		return c.JSON(toLocationResponse(loc, countBoxes(loc.ID)))
	}
}

// DELETE /api/locations/:id
func DeleteLocationHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := apiutil.ParamID(c, "id")
		if err != nil {
			return err
		}
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}

		var loc models.Location
		if err := database.DB.First(&loc, "id = ?", id).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Location not found")
		}
		if countBoxes(loc.ID) > 0 {
			return fiber.NewError(fiber.StatusConflict, "Location still contains boxes")
		}

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Delete(&loc).Error; err != nil {
				return err
			}
			return audit.WriteLog(audit.LogOptions{
				Tx:          tx,
				UserID:      actor.ID,
				UserName:    actor.Name,
				EntityType:  audit.EntityLocation,
				EntityID:    loc.ID,
				Action:      models.AuditActionDelete,
				Description: fmt.Sprintf("Location deleted: %s", loc.Name),
				Before:      loc,
			})
		})
		if err != nil {
			return apiutil.DomainError(err, "Failed to delete location")
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

type TreeStock struct {
	ItemStockID uint                 `json:"item_stock_id"`
	ItemID      uint                 `json:"item_id"`
	ProductCode string               `json:"product_code"`
	ItemName    string               `json:"item_name"`
	Condition   models.ItemCondition `json:"condition"`
	stock.Totals
}

type TreeBox struct {
	ID     uint         `json:"id"`
	Code   string       `json:"code"`
	Name   string       `json:"name"`
	Stocks []TreeStock  `json:"stocks"`
	Totals stock.Totals `json:"totals"`
}

type TreeLocation struct {
	ID     uint         `json:"id"`
	Name   string       `json:"name"`
	Boxes  []TreeBox    `json:"boxes"`
	Totals stock.Totals `json:"totals"`
}

func toTreeStock(s models.ItemStock) TreeStock {
	return TreeStock{
		ItemStockID: s.ID,
		ItemID:      s.ItemID,
		ProductCode: s.Item.ProductCode,
		ItemName:    s.Item.Name,
		Condition:   s.Condition,
		Totals:      stock.TotalsOf(stock.FromModel(&s)),
	}
}

// GET /api/locations/tree
// Location -> boxes -> stocks that still hold units.
func LocationTreeHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var locs []models.Location
		if err := database.DB.Preload("Boxes", func(db *gorm.DB) *gorm.DB {
			return db.Order("code ASC")
		}).Order("name ASC").Find(&locs).Error; err != nil {
			return apiutil.DomainError(err, "Failed to load location tree")
		}

		var stocks []models.ItemStock
		if err := database.DB.Preload("Item").
			Where("box_id IS NOT NULL AND received > removed").
			Order("item_id ASC, condition ASC").
			Find(&stocks).Error; err != nil {
			return apiutil.DomainError(err, "Failed to load location tree")
		}
		byBox := make(map[uint][]models.ItemStock)
		for _, s := range stocks {
			byBox[*s.BoxID] = append(byBox[*s.BoxID], s)
		}

		res := make([]TreeLocation, 0, len(locs))
		for _, l := range locs {
			tl := TreeLocation{ID: l.ID, Name: l.Name, Boxes: make([]TreeBox, 0, len(l.Boxes))}
			for _, b := range l.Boxes {
				tb := TreeBox{ID: b.ID, Code: b.Code, Name: b.Name, Stocks: make([]TreeStock, 0)}
				for _, s := range byBox[b.ID] {
					ts := toTreeStock(s)
					tb.Stocks = append(tb.Stocks, ts)
					tb.Totals = tb.Totals.Add(ts.Totals)
				}
				tl.Totals = tl.Totals.Add(tb.Totals)
				tl.Boxes = append(tl.Boxes, tb)
			}
			res = append(res, tl)
		}
		return c.JSON(res)
	}
}
