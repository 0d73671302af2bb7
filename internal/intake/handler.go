// Package intake handles item requests: new units wait in the pending
// counter until storage staff approve or reject them.
package intake

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"warehouse-backend/internal/apiutil"
	"warehouse-backend/internal/audit"
	"warehouse-backend/internal/auth"
	"warehouse-backend/internal/catalog"
	"warehouse-backend/internal/database"
	"warehouse-backend/internal/models"
	"warehouse-backend/internal/stock"
	"warehouse-backend/internal/workflow"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const refType = stock.RefItemRequest

type CreateRequest struct {
	ProductCode string               `json:"product_code"`
	Name        string               `json:"name"`
	Category    string               `json:"category"`
	Unit        string               `json:"unit"`
	BoxID       uint                 `json:"box_id"`
	Condition   models.ItemCondition `json:"condition"`
	Quantity    int                  `json:"quantity"`
	Note        string               `json:"note"`
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

type ItemRequestResponse struct {
	ID            uint                 `json:"id"`
	ItemID        uint                 `json:"item_id"`
	ProductCode   string               `json:"product_code"`
	ItemName      string               `json:"item_name"`
	ItemStockID   uint                 `json:"item_stock_id"`
	BoxCode       string               `json:"box_code"`
	Condition     models.ItemCondition `json:"condition"`
	Quantity      int                  `json:"quantity"`
	Status        models.RequestStatus `json:"status"`
	RequestedBy   uint                 `json:"requested_by"`
	RequesterName string               `json:"requester_name"`
	ReviewedBy    *uint                `json:"reviewed_by"`
	ReviewedAt    *string              `json:"reviewed_at"`
	Note          string               `json:"note"`
	RejectReason  string               `json:"reject_reason"`
	CreatedAt     string               `json:"created_at"`
}

func load(db *gorm.DB) *gorm.DB {
	return db.Preload("Item").Preload("ItemStock.Box")
}

func toResponse(r models.ItemRequest, names map[uint]string) ItemRequestResponse {
	res := ItemRequestResponse{
		ID:            r.ID,
		ItemID:        r.ItemID,
		ProductCode:   r.Item.ProductCode,
		ItemName:      r.Item.Name,
		ItemStockID:   r.ItemStockID,
		Condition:     r.ItemStock.Condition,
		Quantity:      r.Quantity,
		Status:        r.Status,
		RequestedBy:   r.RequestedBy,
		RequesterName: names[r.RequestedBy],
		ReviewedBy:    r.ReviewedBy,
		ReviewedAt:    apiutil.FormatTime(r.ReviewedAt),
		Note:          r.Note,
		RejectReason:  r.RejectReason,
		CreatedAt:     r.CreatedAt.Format(apiutil.DateTimeLayout),
	}
	if r.ItemStock.Box != nil {
		res.BoxCode = r.ItemStock.Box.Code
	}
	return res
}

func userNames(ids []uint) (map[uint]string, error) {
	out := make(map[uint]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []models.User
	if err := database.DB.Select("id", "name").Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	for _, u := range users {
		out[u.ID] = u.Name
	}
	return out, nil
}

// respond reloads a request with its item, stock and requester name.
func respond(c *fiber.Ctx, status int, id uint) error {
	var req models.ItemRequest
	if err := load(database.DB).First(&req, "id = ?", id).Error; err != nil {
		return apiutil.DomainError(err, "Failed to load item request")
	}
	return send(c, status, req)
}

func send(c *fiber.Ctx, status int, req models.ItemRequest) error {
	names, err := userNames([]uint{req.RequestedBy})
	if err != nil {
		return apiutil.DomainError(err, "Failed to load item request")
	}
	return c.Status(status).JSON(toResponse(req, names))
}

// POST /api/item-requests
// Unknown product codes create the item on the fly.
func CreateItemRequestHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}

		var body CreateRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		code := catalog.NormalizeCode(body.ProductCode)
		if code == "" {
			return fiber.NewError(fiber.StatusBadRequest, "product_code is required")
		}
		if body.Quantity <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "quantity must be positive")
		}
		if body.BoxID == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "box_id is required")
		}
		if body.Condition == "" {
			body.Condition = models.ConditionGood
		}
		if !body.Condition.Valid() {
			return fiber.NewError(fiber.StatusBadRequest, "condition must be good, fair or damaged")
		}

		var box models.Box
		if err := database.DB.First(&box, "id = ?", body.BoxID).Error; err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Box not found")
		}

		var req models.ItemRequest
		err = stock.Transaction(database.DB, func(tx *gorm.DB) error {
			var item models.Item
			err := tx.Where("product_code = ?", code).First(&item).Error
			switch {
			case err == nil:
				if item.ArchivedAt != nil {
					return fiber.NewError(fiber.StatusConflict, "Item is archived, unarchive it first")
				}
			case errors.Is(err, gorm.ErrRecordNotFound):
				item = models.Item{
					ProductCode: code,
					Name:        strings.TrimSpace(body.Name),
					Category:    strings.TrimSpace(body.Category),
					Unit:        strings.TrimSpace(body.Unit),
				}
				if item.Name == "" {
					return fiber.NewError(fiber.StatusBadRequest, "name is required for a new product code")
				}
				if item.Unit == "" {
					item.Unit = "pcs"
				}
				if err := catalog.CreateItem(tx, &item); err != nil {
					return err
				}
				if err := audit.WriteLog(audit.LogOptions{
					Tx:          tx,
					UserID:      actor.ID,
					UserName:    actor.Name,
					EntityType:  audit.EntityItem,
					EntityID:    item.ID,
					Action:      models.AuditActionCreate,
					Description: fmt.Sprintf("Item created from intake: %s %s", item.ProductCode, item.Name),
					After:       item,
				}); err != nil {
					return err
				}
			default:
				return err
			}

			s, err := stock.FindOrCreate(tx, item.ID, &box.ID, body.Condition)
			if err != nil {
				return err
			}

			req = models.ItemRequest{
				ItemID:      item.ID,
				ItemStockID: s.ID,
				Quantity:    body.Quantity,
				Status:      models.RequestPending,
				RequestedBy: actor.ID,
				Note:        strings.TrimSpace(body.Note),
			}
			if err := tx.Create(&req).Error; err != nil {
				return err
			}

			if _, err := stock.Move(tx, stock.MoveInput{
				ItemStockID: s.ID, From: stock.Intake, To: stock.Pending, Qty: body.Quantity,
				RefType: refType, RefID: req.ID, UserID: actor.ID, Note: req.Note,
			}); err != nil {
				return err
			}

			return audit.WriteLog(audit.LogOptions{
				Tx:          tx,
				UserID:      actor.ID,
				UserName:    actor.Name,
				EntityType:  audit.EntityItemRequest,
				EntityID:    req.ID,
				Action:      models.AuditActionCreate,
				Description: fmt.Sprintf("Intake requested: %d x %s into %s", body.Quantity, item.ProductCode, box.Code),
				After:       req,
			})
		})
		if err != nil {
			return apiutil.DomainError(err, "Failed to create item request")
		}

		return respond(c, fiber.StatusCreated, req.ID)
	}
}

// GET /api/item-requests?status=pending
// Plain users only see their own requests.
func ListItemRequestsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}

		dbq := load(database.DB).Order("created_at DESC, id DESC")
		if s := c.Query("status"); s != "" {
			dbq = dbq.Where("status = ?", s)
		}
		if actor.Is(models.RoleUser) {
			dbq = dbq.Where("requested_by = ?", actor.ID)
		}
		itemID, err := apiutil.QueryID(c, "item_id")
		if err != nil {
			return err
		}
		if itemID > 0 {
			dbq = dbq.Where("item_id = ?", itemID)
		}

		var reqs []models.ItemRequest
		if err := dbq.Find(&reqs).Error; err != nil {
			return apiutil.DomainError(err, "Failed to list item requests")
		}

		ids := make([]uint, 0, len(reqs))
		for _, r := range reqs {
			ids = append(ids, r.RequestedBy)
		}
		names, err := userNames(ids)
		if err != nil {
			return apiutil.DomainError(err, "Failed to list item requests")
		}

		res := make([]ItemRequestResponse, 0, len(reqs))
		for _, r := range reqs {
			res = append(res, toResponse(r, names))
		}
		return c.JSON(res)
	}
}

// GET /api/item-requests/:id
func GetItemRequestHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := apiutil.ParamID(c, "id")
		if err != nil {
			return err
		}
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}

		var req models.ItemRequest
		if err := load(database.DB).First(&req, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "Item request not found")
			}
			return apiutil.DomainError(err, "Failed to load item request")
		}
		if actor.Is(models.RoleUser) && req.RequestedBy != actor.ID {
			return fiber.NewError(fiber.StatusForbidden, "You can only view your own requests")
		}
		return send(c, fiber.StatusOK, req)
	}
}

// decide locks the request and moves its pending units to "to".
func decide(c *fiber.Ctx, status models.RequestStatus, to stock.State, reason string) error {
	id, err := apiutil.ParamID(c, "id")
	if err != nil {
		return err
	}
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}

	var req models.ItemRequest
	err = stock.Transaction(database.DB, func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&req, "id = ?", id).Error; err != nil {
			return err
		}
		if err := workflow.Request.Check(req.Status, status); err != nil {
			return err
		}
		before := req

		if _, err := stock.Move(tx, stock.MoveInput{
			ItemStockID: req.ItemStockID, From: stock.Pending, To: to, Qty: req.Quantity,
			RefType: refType, RefID: req.ID, UserID: actor.ID, Note: reason,
		}); err != nil {
			return err
		}

		now := time.Now()
		req.Status = status
		req.ReviewedBy = &actor.ID
		req.ReviewedAt = &now
		req.RejectReason = reason
		if err := tx.Model(&req).
			Select("status", "reviewed_by", "reviewed_at", "reject_reason").
			Updates(&req).Error; err != nil {
			return err
		}

		return audit.WriteLog(audit.LogOptions{
			Tx:          tx,
			UserID:      actor.ID,
			UserName:    actor.Name,
			EntityType:  audit.EntityItemRequest,
			EntityID:    req.ID,
			Action:      models.AuditActionTransition,
			Description: fmt.Sprintf("Item request %d %s", req.ID, status),
			Before:      before,
			After:       req,
		})
	})
	if err != nil {
		return apiutil.DomainError(err, "Failed to update item request")
	}
	workflow.Request.Record(models.RequestPending, status)

	return respond(c, fiber.StatusOK, req.ID)
}

// POST /api/item-requests/:id/approve
func ApproveItemRequestHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return decide(c, models.RequestApproved, stock.InStorage, "")
	}
}

// POST /api/item-requests/:id/reject
func RejectItemRequestHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body RejectRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		reason := strings.TrimSpace(body.Reason)
		if reason == "" {
			return fiber.NewError(fiber.StatusBadRequest, "reason is required")
		}
		return decide(c, models.RequestRejected, stock.Removed, reason)
	}
}
