package catalog

import (
	"fmt"
	"strings"
	"time"

	"warehouse-backend/internal/apiutil"
	"warehouse-backend/internal/audit"
	"warehouse-backend/internal/auth"
	"warehouse-backend/internal/database"
	"warehouse-backend/internal/models"
	"warehouse-backend/internal/stock"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type ItemResponse struct {
	ID          uint         `json:"id"`
	ProductCode string       `json:"product_code"`
	Name        string       `json:"name"`
	Category    string       `json:"category"`
	Unit        string       `json:"unit"`
	Description string       `json:"description"`
	Archived    bool         `json:"archived"`
	ArchivedAt  *string      `json:"archived_at"`
	Totals      stock.Totals `json:"totals"`
	CreatedAt   string       `json:"created_at"`
	UpdatedAt   string       `json:"updated_at"`
}

type ItemDetailResponse struct {
	ItemResponse
	Stocks []StockItemResponse `json:"stocks"`
	Images []ImageResponse     `json:"images"`
}

type CreateItemRequest struct {
	ProductCode string `json:"product_code"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	Unit        string `json:"unit"`
	Description string `json:"description"`
}

type UpdateItemRequest struct {
	ProductCode *string `json:"product_code"`
	Name        *string `json:"name"`
	Category    *string `json:"category"`
	Unit        *string `json:"unit"`
	Description *string `json:"description"`
}

func toItemResponse(it models.Item, totals stock.Totals) ItemResponse {
	return ItemResponse{
		ID:          it.ID,
		ProductCode: it.ProductCode,
		Name:        it.Name,
		Category:    it.Category,
		Unit:        it.Unit,
		Description: it.Description,
		Archived:    it.ArchivedAt != nil,
		ArchivedAt:  apiutil.FormatTime(it.ArchivedAt),
		Totals:      totals,
		CreatedAt:   it.CreatedAt.Format(apiutil.DateTimeLayout),
		UpdatedAt:   it.UpdatedAt.Format(apiutil.DateTimeLayout),
	}
}

// NormalizeCode is the canonical form of a product code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// totalsByItem returns the summed counters of the given items.
func totalsByItem(db *gorm.DB, ids []uint) (map[uint]stock.Totals, error) {
	out := make(map[uint]stock.Totals, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, _, err := stock.Summary(db, stock.SummaryFilter{ItemIDs: ids, IncludeArchived: true})
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.ItemID] = r.Totals
	}
	return out, nil
}

var itemSorts = map[string]string{
	"name":       "name",
	"code":       "product_code",
	"category":   "category",
	"created_at": "created_at",
}

func listItems(c *fiber.Ctx, archived bool) error {
	dbq := database.DB.Model(&models.Item{})
	if archived {
		dbq = dbq.Where("archived_at IS NOT NULL")
	} else {
		dbq = dbq.Where("archived_at IS NULL")
	}

	if q := strings.TrimSpace(c.Query("q")); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		dbq = dbq.Where("LOWER(product_code) LIKE ? OR LOWER(name) LIKE ? OR LOWER(category) LIKE ?", like, like, like)
	}
	if cat := strings.TrimSpace(c.Query("category")); cat != "" {
		dbq = dbq.Where("category = ?", cat)
	}

	col, ok := itemSorts[c.Query("sort", "name")]
	if !ok {
		return fiber.NewError(fiber.StatusBadRequest, "sort must be one of name, code, category, created_at")
	}
	dir := "ASC"
	switch strings.ToLower(c.Query("order", "asc")) {
	case "asc":
	case "desc":
		dir = "DESC"
	default:
		return fiber.NewError(fiber.StatusBadRequest, "order must be asc or desc")
	}

	var items []models.Item
	if err := dbq.Order(col + " " + dir).Order("id ASC").Find(&items).Error; err != nil {
		return apiutil.DomainError(err, "Failed to list items")
	}

	ids := make([]uint, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	totals, err := totalsByItem(database.DB, ids)
	if err != nil {
		return apiutil.DomainError(err, "Failed to list items")
	}

	res := make([]ItemResponse, 0, len(items))
	for _, it := range items {
		res = append(res, toItemResponse(it, totals[it.ID]))
	}
	return c.JSON(res)
}

// GET /api/items?q=drill&category=tools&archived=false&sort=name&order=asc
func ListItemsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return listItems(c, c.QueryBool("archived", false))
	}
}

// GET /api/archived-items
func ListArchivedItemsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return listItems(c, true)
	}
}

// GET /api/items/categories
func ListCategoriesHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		cats := make([]string, 0)
		if err := database.DB.Model(&models.Item{}).
			Where("category <> ''").
			Distinct().
			Order("category ASC").
			Pluck("category", &cats).Error; err != nil {
			return apiutil.DomainError(err, "Failed to list categories")
		}
		return c.JSON(cats)
	}
}

// GET /api/items/:id
func GetItemHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := apiutil.ParamID(c, "id")
		if err != nil {
			return err
		}

		var it models.Item
		if err := database.DB.Preload("Images").First(&it, "id = ?", id).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Item not found")
		}

		var stocks []models.ItemStock
		if err := database.DB.Preload("Item").Preload("Box.Location").
			Where("item_id = ?", it.ID).
			Order("box_id ASC, condition ASC").
			Find(&stocks).Error; err != nil {
			return apiutil.DomainError(err, "Failed to load item")
		}

		res := ItemDetailResponse{
			Stocks: make([]StockItemResponse, 0, len(stocks)),
			Images: make([]ImageResponse, 0, len(it.Images)),
		}
		var totals stock.Totals
		for _, s := range stocks {
			sr := ToStockItemResponse(s)
			totals = totals.Add(sr.Totals)
			res.Stocks = append(res.Stocks, sr)
		}
		for _, img := range it.Images {
			res.Images = append(res.Images, toImageResponse(img))
		}
		res.ItemResponse = toItemResponse(it, totals)
		return c.JSON(res)
	}
}

// POST /api/items
func CreateItemHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}

		var body CreateItemRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		it := models.Item{
			ProductCode: NormalizeCode(body.ProductCode),
			Name:        strings.TrimSpace(body.Name),
			Category:    strings.TrimSpace(body.Category),
			Unit:        strings.TrimSpace(body.Unit),
			Description: strings.TrimSpace(body.Description),
		}
		if it.ProductCode == "" || it.Name == "" {
			return fiber.NewError(fiber.StatusBadRequest, "product_code and name are required")
		}
		if it.Unit == "" {
			it.Unit = "pcs"
		}

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := CreateItem(tx, &it); err != nil {
				return err
			}
			return audit.WriteLog(audit.LogOptions{
				Tx:          tx,
				UserID:      actor.ID,
				UserName:    actor.Name,
				EntityType:  audit.EntityItem,
				EntityID:    it.ID,
				Action:      models.AuditActionCreate,
				Description: fmt.Sprintf("Item created: %s %s", it.ProductCode, it.Name),
				After:       it,
			})
		})
		if err != nil {
			return apiutil.DomainError(err, "Failed to create item")
		}
		return c.Status(fiber.StatusCreated).JSON(toItemResponse(it, stock.Totals{}))
	}
}

// CreateItem inserts it after checking the product code is free.
func CreateItem(tx *gorm.DB, it *models.Item) error {
	var n int64
	if err := tx.Model(&models.Item{}).Where("product_code = ?", it.ProductCode).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return fiber.NewError(fiber.StatusConflict, "An item with this product code already exists")
	}
	return tx.Create(it).Error
}

// PUT /api/items/:id
func UpdateItemHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := apiutil.ParamID(c, "id")
		if err != nil {
			return err
		}
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}

		var it models.Item
		if err := database.DB.First(&it, "id = ?", id).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Item not found")
		}
		before := it

		var body UpdateItemRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if body.ProductCode != nil {
			code := NormalizeCode(*body.ProductCode)
			if code == "" {
				return fiber.NewError(fiber.StatusBadRequest, "product_code cannot be empty")
			}
			var n int64
			database.DB.Model(&models.Item{}).Where("product_code = ? AND id <> ?", code, it.ID).Count(&n)
			if n > 0 {
				return fiber.NewError(fiber.StatusConflict, "An item with this product code already exists")
			}
			it.ProductCode = code
		}
		if body.Name != nil {
			name := strings.TrimSpace(*body.Name)
			if name == "" {
				return fiber.NewError(fiber.StatusBadRequest, "name cannot be empty")
			}
			it.Name = name
		}
		if body.Category != nil {
			it.Category = strings.TrimSpace(*body.Category)
		}
		if body.Unit != nil {
			if u := strings.TrimSpace(*body.Unit); u != "" {
				it.Unit = u
			}
		}
		if body.Description != nil {
			it.Description = strings.TrimSpace(*body.Description)
		}

		err = database.DB.Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&it).
				Select("product_code", "name", "category", "unit", "description").
				Updates(&it).Error; err != nil {
				return err
			}
			return audit.WriteLog(audit.LogOptions{
				Tx:          tx,
				UserID:      actor.ID,
				UserName:    actor.Name,
				EntityType:  audit.EntityItem,
				EntityID:    it.ID,
				Action:      models.AuditActionUpdate,
				Description: fmt.Sprintf("Item updated: %s", it.ProductCode),
				Before:      before,
				After:       it,
			})
		})
		if err != nil {
			return apiutil.DomainError(err, "Failed to update item")
		}

		totals, _ := totalsByItem(database.DB, []uint{it.ID})
		return c.JSON(toItemResponse(it, totals[it.ID]))
	}
}

// DELETE /api/items/:id
// Only items without any stock history can be deleted; archive the rest.
func DeleteItemHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := apiutil.ParamID(c, "id")
		if err != nil {
			return err
		}
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}

		var it models.Item
		if err := database.DB.First(&it, "id = ?", id).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Item not found")
		}

		var images []models.ItemImage
		err = database.DB.Transaction(func(tx *gorm.DB) error {
			var n int64
			if err := tx.Model(&models.ItemStock{}).Where("item_id = ?", it.ID).Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return fiber.NewError(fiber.StatusConflict, "Item has stock records, archive it instead")
			}
			if err := tx.Where("item_id = ?", it.ID).Find(&images).Error; err != nil {
				return err
			}
			if err := tx.Where("item_id = ?", it.ID).Delete(&models.ItemImage{}).Error; err != nil {
				return err
			}
			if err := tx.Delete(&it).Error; err != nil {
				return err
			}
			return audit.WriteLog(audit.LogOptions{
				Tx:          tx,
				UserID:      actor.ID,
				UserName:    actor.Name,
				EntityType:  audit.EntityItem,
				EntityID:    it.ID,
				Action:      models.AuditActionDelete,
				Description: fmt.Sprintf("Item deleted: %s", it.ProductCode),
				Before:      it,
			})
		})
		if err != nil {
			return apiutil.DomainError(err, "Failed to delete item")
		}

		removeImageFiles(images)
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// POST /api/items/:id/archive
// Refused while units are pending, borrowed or waiting for clearance.
func ArchiveItemHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return setArchived(c, true)
	}
}

// POST /api/items/:id/unarchive
func UnarchiveItemHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return setArchived(c, false)
	}
}

func setArchived(c *fiber.Ctx, archive bool) error {
	id, err := apiutil.ParamID(c, "id")
	if err != nil {
		return err
	}
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}

	var it models.Item
	if err := database.DB.First(&it, "id = ?", id).Error; err != nil {
		return fiber.NewError(fiber.StatusNotFound, "Item not found")
	}
	if archive == (it.ArchivedAt != nil) {
		if archive {
			return fiber.NewError(fiber.StatusConflict, "Item is already archived")
		}
		return fiber.NewError(fiber.StatusConflict, "Item is not archived")
	}
	before := it

	err = database.DB.Transaction(func(tx *gorm.DB) error {
		if archive {
			var busy struct{ Pending, OnBorrow, InClearance int }
			if err := tx.Model(&models.ItemStock{}).
				Select("COALESCE(SUM(pending),0) AS pending, COALESCE(SUM(on_borrow),0) AS on_borrow, COALESCE(SUM(in_clearance),0) AS in_clearance").
				Where("item_id = ?", it.ID).
				Scan(&busy).Error; err != nil {
				return err
			}
			if busy.Pending+busy.OnBorrow+busy.InClearance > 0 {
				return fiber.NewError(fiber.StatusConflict, fmt.Sprintf(
					"Item has units in progress (pending %d, on borrow %d, in clearance %d)",
					busy.Pending, busy.OnBorrow, busy.InClearance))
			}
			now := time.Now()
			it.ArchivedAt = &now
		} else {
			it.ArchivedAt = nil
		}

		if err := tx.Model(&it).Select("archived_at").Updates(&it).Error; err != nil {
			return err
		}
		action := "archived"
		if !archive {
			action = "unarchived"
		}
		return audit.WriteLog(audit.LogOptions{
			Tx:          tx,
			UserID:      actor.ID,
			UserName:    actor.Name,
			EntityType:  audit.EntityItem,
			EntityID:    it.ID,
			Action:      models.AuditActionUpdate,
			Description: fmt.Sprintf("Item %s: %s", action, it.ProductCode),
			Before:      before,
			After:       it,
		})
	})
	if err != nil {
		return apiutil.DomainError(err, "Failed to archive item")
	}

	totals, _ := totalsByItem(database.DB, []uint{it.ID})
	return c.JSON(toItemResponse(it, totals[it.ID]))
}
