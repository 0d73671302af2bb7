// Package seeded manages units that came back lost or damaged from a loan.
package seeded

import (
	"fmt"
	"strings"
	"time"

	"warehouse-backend/internal/apiutil"
	"warehouse-backend/internal/audit"
	"warehouse-backend/internal/auth"
	"warehouse-backend/internal/catalog"
	"warehouse-backend/internal/clearance"
	"warehouse-backend/internal/database"
	"warehouse-backend/internal/models"
	"warehouse-backend/internal/stock"
	"warehouse-backend/internal/workflow"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type SeededItemResponse struct {
	catalog.StockItemResponse
	LastBorrowID   *uint  `json:"last_borrow_id"`
	LastBorrowCode string `json:"last_borrow_code"`
	LastBorrower   string `json:"last_borrower"`
	SeededAt       string `json:"seeded_at"`
}

type RecoverRequest struct {
	Quantity int    `json:"quantity"`
	Note     string `json:"note"`
}

type ClearanceRequest struct {
	Quantity int    `json:"quantity"`
	Reason   string `json:"reason"`
}

// GET /api/seeded-items
func ListSeededItemsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var stocks []models.ItemStock
		dbq := database.DB.Preload("Item").Preload("Box.Location").
			Joins("JOIN items ON items.id = item_stocks.item_id").
			Where("item_stocks.seeded > 0").
			Order("items.name ASC, item_stocks.id ASC")
		if q := strings.TrimSpace(c.Query("q")); q != "" {
			like := "%" + strings.ToLower(q) + "%"
			dbq = dbq.Where("LOWER(items.name) LIKE ? OR LOWER(items.product_code) LIKE ?", like, like)
		}
		if err := dbq.Find(&stocks).Error; err != nil {
			return apiutil.DomainError(err, "Failed to list seeded items")
		}

		ids := make([]uint, 0, len(stocks))
		for _, s := range stocks {
			ids = append(ids, s.ID)
		}
		last, err := lastSeeding(database.DB, ids)
		if err != nil {
			return apiutil.DomainError(err, "Failed to list seeded items")
		}

		res := make([]SeededItemResponse, 0, len(stocks))
		for _, s := range stocks {
			r := SeededItemResponse{StockItemResponse: catalog.ToStockItemResponse(s)}
			if l, ok := last[s.ID]; ok {
				id := l.BorrowID
				r.LastBorrowID = &id
				r.LastBorrowCode = l.Code
				r.LastBorrower = l.Requester
				r.SeededAt = l.At.Format(apiutil.DateTimeLayout)
			}
			res = append(res, r)
		}
		return c.JSON(res)
	}
}

type seeding struct {
	BorrowID  uint
	Code      string
	Requester string
	At        time.Time
}

// lastSeeding finds, per stock, the most recent borrow request that moved
// units into seeded.
func lastSeeding(db *gorm.DB, stockIDs []uint) (map[uint]seeding, error) {
	out := make(map[uint]seeding, len(stockIDs))
	if len(stockIDs) == 0 {
		return out, nil
	}

	var mvs []models.StockMovement
	if err := db.Where("item_stock_id IN ? AND to_state = ? AND ref_type = ?", stockIDs, stock.Seeded, "borrow_request").
		Order("id DESC").Find(&mvs).Error; err != nil {
		return nil, err
	}

	brIDs := make([]uint, 0, len(mvs))
	for _, mv := range mvs {
		if _, seen := out[mv.ItemStockID]; seen {
			continue
		}
		out[mv.ItemStockID] = seeding{BorrowID: mv.RefID, At: mv.CreatedAt}
		brIDs = append(brIDs, mv.RefID)
	}

	var brs []models.BorrowRequest
	if err := db.Preload("Requester").Where("id IN ?", brIDs).Find(&brs).Error; err != nil {
		return nil, err
	}
	byID := make(map[uint]models.BorrowRequest, len(brs))
	for _, br := range brs {
		byID[br.ID] = br
	}
	for sid, s := range out {
		if br, ok := byID[s.BorrowID]; ok {
			s.Code = br.Code
			s.Requester = br.Requester.Name
			out[sid] = s
		}
	}
	return out, nil
}

func loadStock(id uint) (catalog.StockItemResponse, error) {
	var s models.ItemStock
	if err := database.DB.Preload("Item").Preload("Box.Location").First(&s, "id = ?", id).Error; err != nil {
		return catalog.StockItemResponse{}, err
	}
	return catalog.ToStockItemResponse(s), nil
}

// POST /api/seeded-items/:stock_id/recover
// Found or repaired units go back into storage.
func RecoverHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := apiutil.ParamID(c, "stock_id")
		if err != nil {
			return err
		}
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}
		var body RecoverRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if body.Quantity <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "quantity must be positive")
		}
		note := strings.TrimSpace(body.Note)

		err = stock.Transaction(database.DB, func(tx *gorm.DB) error {
			s, err := stock.Move(tx, stock.MoveInput{
				ItemStockID: id, From: stock.Seeded, To: stock.InStorage, Qty: body.Quantity,
				RefType: "seeded_recovery", RefID: id, UserID: actor.ID, Note: note,
			})
			if err != nil {
				return err
			}
			return audit.WriteLog(audit.LogOptions{
				Tx:          tx,
				UserID:      actor.ID,
				UserName:    actor.Name,
				EntityType:  audit.EntityItemStock,
				EntityID:    s.ID,
				Action:      models.AuditActionTransition,
				Description: fmt.Sprintf("Recovered %d seeded units of stock %d", body.Quantity, s.ID),
				After:       map[string]any{"in_storage": s.InStorage, "seeded": s.Seeded, "note": note},
			})
		})
		if err != nil {
			return apiutil.DomainError(err, "Failed to recover seeded units")
		}

		res, err := loadStock(id)
		if err != nil {
			return apiutil.DomainError(err, "Failed to load stock")
		}
		return c.JSON(res)
	}
}

// POST /api/seeded-items/:stock_id/clearance
// Seeded units that are beyond recovery are cleared without a second review.
func ClearanceHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := apiutil.ParamID(c, "stock_id")
		if err != nil {
			return err
		}
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}
		var body ClearanceRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if body.Quantity <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "quantity must be positive")
		}
		reason := strings.TrimSpace(body.Reason)
		if reason == "" {
			return fiber.NewError(fiber.StatusBadRequest, "reason is required")
		}

		var ic models.ItemClearance
		err = stock.Transaction(database.DB, func(tx *gorm.DB) error {
			s, err := stock.Lock(tx, id)
			if err != nil {
				return err
			}
			t := time.Now()
			ic = models.ItemClearance{
				ItemStockID: s.ID,
				ItemID:      s.ItemID,
				Quantity:    body.Quantity,
				Source:      string(stock.Seeded),
				Reason:      reason,
				Status:      models.RequestApproved,
				RequestedBy: actor.ID,
				ReviewedBy:  &actor.ID,
				ReviewedAt:  &t,
			}
			if err := tx.Omit("ItemStock", "Item").Create(&ic).Error; err != nil {
				return err
			}
			if _, err := stock.Move(tx, stock.MoveInput{
				ItemStockID: s.ID, From: stock.Seeded, To: stock.InClearance, Qty: body.Quantity,
				RefType: "item_clearance", RefID: ic.ID, UserID: actor.ID, Note: reason,
			}); err != nil {
				return err
			}
			return audit.WriteLog(audit.LogOptions{
				Tx:          tx,
				UserID:      actor.ID,
				UserName:    actor.Name,
				EntityType:  audit.EntityItemClearance,
				EntityID:    ic.ID,
				Action:      models.AuditActionCreate,
				Description: fmt.Sprintf("Seeded units of stock %d sent to clearance: %d", s.ID, body.Quantity),
				After:       ic,
			})
		})
		if err != nil {
			return apiutil.DomainError(err, "Failed to clear seeded units")
		}
		workflow.Clearance.Record(models.RequestPending, models.RequestApproved)

		res, err := clearance.LoadItemClearance(ic.ID)
		if err != nil {
			return apiutil.DomainError(err, "Failed to load item clearance")
		}
		return c.Status(fiber.StatusCreated).JSON(res)
	}
}
