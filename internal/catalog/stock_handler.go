package catalog

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

type StockItemResponse struct {
	ID           uint                 `json:"id"`
	ItemID       uint                 `json:"item_id"`
	ProductCode  string               `json:"product_code"`
	ItemName     string               `json:"item_name"`
	Category     string               `json:"category"`
	Unit         string               `json:"unit"`
	BoxID        *uint                `json:"box_id"`
	BoxCode      string               `json:"box_code"`
	LocationID   *uint                `json:"location_id"`
	LocationName string               `json:"location_name"`
	Condition    models.ItemCondition `json:"condition"`
	Totals       stock.Totals         `json:"totals"`
	UpdatedAt    string               `json:"updated_at"`
}

func ToStockItemResponse(s models.ItemStock) StockItemResponse {
	r := StockItemResponse{
		ID:          s.ID,
		ItemID:      s.ItemID,
		ProductCode: s.Item.ProductCode,
		ItemName:    s.Item.Name,
		Category:    s.Item.Category,
		Unit:        s.Item.Unit,
		BoxID:       s.BoxID,
		Condition:   s.Condition,
		Totals:      stock.TotalsOf(stock.FromModel(&s)),
		UpdatedAt:   s.UpdatedAt.Format(apiutil.DateTimeLayout),
	}
	if s.Box != nil {
		r.BoxCode = s.Box.Code
		locID := s.Box.LocationID
		r.LocationID = &locID
		r.LocationName = s.Box.Location.Name
	}
	return r
}

// StockQuery builds the filtered stock-item query shared by the list and the export.
func StockQuery(c *fiber.Ctx) (*gorm.DB, error) {
	dbq := database.DB.Model(&models.ItemStock{}).
		Preload("Item").Preload("Box.Location").
		Joins("JOIN items ON items.id = item_stocks.item_id").
		Where("item_stocks.received > item_stocks.removed")

	for _, f := range []struct{ param, column string }{
		{"item_id", "item_stocks.item_id"},
		{"box_id", "item_stocks.box_id"},
	} {
		id, err := apiutil.QueryID(c, f.param)
		if err != nil {
			return nil, err
		}
		if id > 0 {
			dbq = dbq.Where(f.column+" = ?", id)
		}
	}

	locID, err := apiutil.QueryID(c, "location_id")
	if err != nil {
		return nil, err
	}
	if locID > 0 {
		dbq = dbq.Where("item_stocks.box_id IN (?)",
			database.DB.Model(&models.Box{}).Select("id").Where("location_id = ?", locID))
	}

	if s := c.Query("state"); s != "" {
		st, ok := stock.ParseState(s)
		if !ok {
			return nil, fiber.NewError(fiber.StatusBadRequest, "Unknown state "+s)
		}
		dbq = dbq.Where("item_stocks." + string(st) + " > 0")
	}
	if cond := models.ItemCondition(c.Query("condition")); cond != "" {
		if !cond.Valid() {
			return nil, fiber.NewError(fiber.StatusBadRequest, "Unknown condition")
		}
		dbq = dbq.Where("item_stocks.condition = ?", cond)
	}
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		dbq = dbq.Where("LOWER(items.product_code) LIKE ? OR LOWER(items.name) LIKE ?", like, like)
	}
	if !c.QueryBool("include_archived", false) {
		dbq = dbq.Where("items.archived_at IS NULL")
	}
	return dbq.Order("items.name ASC, item_stocks.id ASC"), nil
}

// GET /api/stock-items?item_id=&box_id=&location_id=&state=in_storage&q=
func ListStockItemsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		dbq, err := StockQuery(c)
		if err != nil {
			return err
		}
		var stocks []models.ItemStock
		if err := dbq.Find(&stocks).Error; err != nil {
			return apiutil.DomainError(err, "Failed to list stock items")
		}

		res := make([]StockItemResponse, 0, len(stocks))
		for _, s := range stocks {
			res = append(res, ToStockItemResponse(s))
		}
		return c.JSON(res)
	}
}

// GET /api/stock-items/:id
func GetStockItemHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := apiutil.ParamID(c, "id")
		if err != nil {
			return err
		}
		var s models.ItemStock
		if err := database.DB.Preload("Item").Preload("Box.Location").First(&s, "id = ?", id).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Stock item not found")
		}
		return c.JSON(ToStockItemResponse(s))
	}
}

type SummaryResponse struct {
	Items  []stock.ItemTotals `json:"items"`
	Totals stock.Totals       `json:"totals"`
}

// GET /api/stock-items/summary?include_archived=false
func StockSummaryHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		items, totals, err := stock.Summary(database.DB, stock.SummaryFilter{
			IncludeArchived: c.QueryBool("include_archived", false),
		})
		if err != nil {
			return apiutil.DomainError(err, "Failed to build stock summary")
		}
		return c.JSON(SummaryResponse{Items: items, Totals: totals})
	}
}

type TransferRequest struct {
	TargetBoxID uint   `json:"target_box_id"`
	Quantity    int    `json:"quantity"`
	Note        string `json:"note"`
}

type TransferResponse struct {
	Source StockItemResponse `json:"source"`
	Target StockItemResponse `json:"target"`
}

// POST /api/stock-items/:id/transfer
// Moves in-storage units into another box.
func TransferStockHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := apiutil.ParamID(c, "id")
		if err != nil {
			return err
		}
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}

		var body TransferRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if body.TargetBoxID == 0 || body.Quantity <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "target_box_id and a positive quantity are required")
		}

		var target models.Box
		if err := database.DB.First(&target, "id = ?", body.TargetBoxID).Error; err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Target box not found")
		}

		var srcID, dstID uint
		err = stock.Transaction(database.DB, func(tx *gorm.DB) error {
			src, dst, err := stock.Transfer(tx, id, target.ID, body.Quantity, actor.ID, strings.TrimSpace(body.Note))
			if err != nil {
				return err
			}
			srcID, dstID = src.ID, dst.ID
			return audit.WriteLog(audit.LogOptions{
				Tx:          tx,
				UserID:      actor.ID,
				UserName:    actor.Name,
				EntityType:  audit.EntityItemStock,
				EntityID:    src.ID,
				Action:      models.AuditActionTransition,
				Description: fmt.Sprintf("Transferred %d units to box %s", body.Quantity, target.Code),
				Before:      map[string]any{"box_id": src.BoxID},
				After:       map[string]any{"box_id": target.ID, "item_stock_id": dst.ID, "quantity": body.Quantity},
			})
		})
		if err != nil {
			return apiutil.DomainError(err, "Failed to transfer stock")
		}

		var src, dst models.ItemStock
		database.DB.Preload("Item").Preload("Box.Location").First(&src, srcID)
		database.DB.Preload("Item").Preload("Box.Location").First(&dst, dstID)
		return c.JSON(TransferResponse{Source: ToStockItemResponse(src), Target: ToStockItemResponse(dst)})
	}
}
