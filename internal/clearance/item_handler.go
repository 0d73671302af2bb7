// Package clearance writes units off the books: single-stock clearance
// requests move units into the clearance bucket, clearance forms take them out.
package clearance

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
	"warehouse-backend/internal/workflow"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const itemRefType = "item_clearance"

type CreateItemClearanceRequest struct {
	ItemStockID uint   `json:"item_stock_id"`
	Quantity    int    `json:"quantity"`
	Source      string `json:"source"`
	Reason      string `json:"reason"`
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

type ItemClearanceResponse struct {
	ID          uint                 `json:"id"`
	ItemStockID uint                 `json:"item_stock_id"`
	ItemID      uint                 `json:"item_id"`
	ProductCode string               `json:"product_code"`
	ItemName    string               `json:"item_name"`
	BoxCode     string               `json:"box_code"`
	Condition   models.ItemCondition `json:"condition"`
	Quantity    int                  `json:"quantity"`
	Source      string               `json:"source"`
	Reason      string               `json:"reason"`
	Status      models.RequestStatus `json:"status"`
	RequestedBy uint                 `json:"requested_by"`
	ReviewedBy  *uint                `json:"reviewed_by"`
	ReviewedAt  *string              `json:"reviewed_at"`
	CreatedAt   string               `json:"created_at"`
}

func toItemClearanceResponse(ic models.ItemClearance) ItemClearanceResponse {
	r := ItemClearanceResponse{
		ID:          ic.ID,
		ItemStockID: ic.ItemStockID,
		ItemID:      ic.ItemID,
		ProductCode: ic.Item.ProductCode,
		ItemName:    ic.Item.Name,
		Condition:   ic.ItemStock.Condition,
		Quantity:    ic.Quantity,
		Source:      ic.Source,
		Reason:      ic.Reason,
		Status:      ic.Status,
		RequestedBy: ic.RequestedBy,
		ReviewedBy:  ic.ReviewedBy,
		ReviewedAt:  apiutil.FormatTime(ic.ReviewedAt),
		CreatedAt:   ic.CreatedAt.Format(apiutil.DateTimeLayout),
	}
	if ic.ItemStock.Box != nil {
		r.BoxCode = ic.ItemStock.Box.Code
	}
	return r
}

func loadItemClearance(id uint) (models.ItemClearance, error) {
	var ic models.ItemClearance
	err := database.DB.Preload("Item").Preload("ItemStock.Box").First(&ic, "id = ?", id).Error
	return ic, err
}

// LoadItemClearance returns the API view of one item clearance.
func LoadItemClearance(id uint) (ItemClearanceResponse, error) {
	ic, err := loadItemClearance(id)
	if err != nil {
		return ItemClearanceResponse{}, err
	}
	return toItemClearanceResponse(ic), nil
}

// sourceState accepts the two states units may be cleared from.
func sourceState(s string) (stock.State, bool) {
	switch stock.State(s) {
	case stock.InStorage, stock.Seeded:
		return stock.State(s), true
	}
	return "", false
}

// POST /api/clearance/items
func CreateItemClearanceHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}
		var body CreateItemClearanceRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if body.ItemStockID == 0 || body.Quantity <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "item_stock_id and a positive quantity are required")
		}
		if body.Source == "" {
			body.Source = string(stock.InStorage)
		}
		src, ok := sourceState(body.Source)
		if !ok {
			return fiber.NewError(fiber.StatusBadRequest, "source must be in_storage or seeded")
		}
		reason := strings.TrimSpace(body.Reason)
		if reason == "" {
			return fiber.NewError(fiber.StatusBadRequest, "reason is required")
		}

		var ic models.ItemClearance
		err = stock.Transaction(database.DB, func(tx *gorm.DB) error {
			var s models.ItemStock
			if err := tx.First(&s, "id = ?", body.ItemStockID).Error; err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "Stock item not found")
			}
			if have, _ := stock.FromModel(&s).Get(src); have < body.Quantity {
				return fiber.NewError(fiber.StatusConflict, fmt.Sprintf("only %d units %s", have, src))
			}

			ic = models.ItemClearance{
				ItemStockID: s.ID,
				ItemID:      s.ItemID,
				Quantity:    body.Quantity,
				Source:      string(src),
				Reason:      reason,
				Status:      models.RequestPending,
				RequestedBy: actor.ID,
			}
			if err := tx.Omit("ItemStock", "Item").Create(&ic).Error; err != nil {
				return err
			}
			return audit.WriteLog(audit.LogOptions{
				Tx:          tx,
				UserID:      actor.ID,
				UserName:    actor.Name,
				EntityType:  audit.EntityItemClearance,
				EntityID:    ic.ID,
				Action:      models.AuditActionCreate,
				Description: fmt.Sprintf("Clearance requested: %d units of stock %d from %s", ic.Quantity, s.ID, src),
				After:       ic,
			})
		})
		if err != nil {
			return apiutil.DomainError(err, "Failed to create clearance request")
		}

		full, err := loadItemClearance(ic.ID)
		if err != nil {
			return apiutil.DomainError(err, "Failed to load clearance request")
		}
		return c.Status(fiber.StatusCreated).JSON(toItemClearanceResponse(full))
	}
}

// GET /api/clearance/items?status=pending&item_stock_id=
func ListItemClearancesHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		dbq := database.DB.Preload("Item").Preload("ItemStock.Box").Order("created_at DESC, id DESC")
		if s := c.Query("status"); s != "" {
			dbq = dbq.Where("status = ?", s)
		}
		sid, err := apiutil.QueryID(c, "item_stock_id")
		if err != nil {
			return err
		}
		if sid > 0 {
			dbq = dbq.Where("item_stock_id = ?", sid)
		}

		var ics []models.ItemClearance
		if err := dbq.Find(&ics).Error; err != nil {
			return apiutil.DomainError(err, "Failed to list clearance requests")
		}
		res := make([]ItemClearanceResponse, 0, len(ics))
		for _, ic := range ics {
			res = append(res, toItemClearanceResponse(ic))
		}
		return c.JSON(res)
	}
}

// GET /api/clearance/items/:id
func GetItemClearanceHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := apiutil.ParamID(c, "id")
		if err != nil {
			return err
		}
		ic, err := loadItemClearance(id)
		if err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Clearance request not found")
		}
		return c.JSON(toItemClearanceResponse(ic))
	}
}

func decideItemClearance(c *fiber.Ctx, status models.RequestStatus, note string) error {
	id, err := apiutil.ParamID(c, "id")
	if err != nil {
		return err
	}
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}

	err = stock.Transaction(database.DB, func(tx *gorm.DB) error {
		var ic models.ItemClearance
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&ic, "id = ?", id).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Clearance request not found")
		}
		if err := workflow.Clearance.Check(ic.Status, status); err != nil {
			return err
		}

		if status == models.RequestApproved {
			src, ok := sourceState(ic.Source)
			if !ok {
				return fmt.Errorf("%w: clearance %d has source %q", stock.ErrInvalidMove, ic.ID, ic.Source)
			}
			if _, err := stock.Move(tx, stock.MoveInput{
				ItemStockID: ic.ItemStockID, From: src, To: stock.InClearance, Qty: ic.Quantity,
				RefType: itemRefType, RefID: ic.ID, UserID: actor.ID, Note: ic.Reason,
			}); err != nil {
				return err
			}
		}

		t := time.Now()
		before := ic.Status
		ic.Status = status
		ic.ReviewedBy = &actor.ID
		ic.ReviewedAt = &t
		if err := tx.Model(&ic).Select("status", "reviewed_by", "reviewed_at").Updates(&ic).Error; err != nil {
			return err
		}
		return audit.WriteLog(audit.LogOptions{
			Tx:          tx,
			UserID:      actor.ID,
			UserName:    actor.Name,
			EntityType:  audit.EntityItemClearance,
			EntityID:    ic.ID,
			Action:      models.AuditActionTransition,
			Description: fmt.Sprintf("Clearance request %d %s", ic.ID, status),
			Before:      map[string]any{"status": before},
			After:       map[string]any{"status": status, "note": note},
		})
	})
	if err != nil {
		return apiutil.DomainError(err, "Failed to update clearance request")
	}
	workflow.Clearance.Record(models.RequestPending, status)

	ic, err := loadItemClearance(id)
	if err != nil {
		return apiutil.DomainError(err, "Failed to load clearance request")
	}
	return c.JSON(toItemClearanceResponse(ic))
}

// POST /api/clearance/items/:id/approve
func ApproveItemClearanceHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return decideItemClearance(c, models.RequestApproved, "")
	}
}

// POST /api/clearance/items/:id/reject
func RejectItemClearanceHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body RejectRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		reason := strings.TrimSpace(body.Reason)
		if reason == "" {
			return fiber.NewError(fiber.StatusBadRequest, "reason is required")
		}
		return decideItemClearance(c, models.RequestRejected, reason)
	}
}
