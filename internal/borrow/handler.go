package borrow

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

type CreateBorrowRequest struct {
	Purpose   string `json:"purpose"`
	StartDate string `json:"start_date"`
	DueDate   string `json:"due_date"`
	Items     []struct {
		ItemStockID uint   `json:"item_stock_id"`
		Quantity    int    `json:"quantity"`
		Note        string `json:"note"`
	} `json:"items"`
}

type ReasonRequest struct {
	Reason string `json:"reason"`
}

type ReturnRequest struct {
	Items []struct {
		ItemID      uint                 `json:"item_id"` // borrow request item id
		ReturnedQty int                  `json:"returned_qty"`
		SeededQty   int                  `json:"seeded_qty"`
		Condition   models.ItemCondition `json:"condition"`
		Note        string               `json:"note"`
	} `json:"items"`
}

// now is swapped in tests.
var now = time.Now

// POST /api/borrow-requests
func CreateBorrowRequestHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}

		var body CreateBorrowRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		body.Purpose = strings.TrimSpace(body.Purpose)
		if body.Purpose == "" {
			return fiber.NewError(fiber.StatusBadRequest, "purpose is required")
		}
		start, err := time.Parse(apiutil.DateLayout, body.StartDate)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "start_date must be YYYY-MM-DD")
		}
		due, err := time.Parse(apiutil.DateLayout, body.DueDate)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "due_date must be YYYY-MM-DD")
		}
		if due.Before(start) {
			return fiber.NewError(fiber.StatusBadRequest, "due_date must not be before start_date")
		}
		if len(body.Items) == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "at least one item is required")
		}

		// Merge repeated stocks so availability is checked on the total.
		qty := make(map[uint]int, len(body.Items))
		notes := make(map[uint]string, len(body.Items))
		order := make([]uint, 0, len(body.Items))
		for _, it := range body.Items {
			if it.ItemStockID == 0 || it.Quantity <= 0 {
				return fiber.NewError(fiber.StatusBadRequest, "each item needs item_stock_id and a positive quantity")
			}
			if _, seen := qty[it.ItemStockID]; !seen {
				order = append(order, it.ItemStockID)
			}
			qty[it.ItemStockID] += it.Quantity
			if n := strings.TrimSpace(it.Note); n != "" {
				notes[it.ItemStockID] = n
			}
		}

		t := now()
		br := models.BorrowRequest{
			Code:         workflow.NewCode("BR", t),
			RequesterID:  actor.ID,
			DepartmentID: actor.DepartmentID,
			Purpose:      body.Purpose,
			StartDate:    start,
			DueDate:      due,
			Status:       models.BorrowPendingManager,
		}
		// Managers and admins approve their own requests at the first stage.
		if actor.Is(models.RoleManager, models.RoleAdmin) {
			br.Status = models.BorrowPendingStorage
			br.ManagerID = &actor.ID
			br.ManagerApprovedAt = &t
		}

		err = stock.Transaction(database.DB, func(tx *gorm.DB) error {
			for _, sid := range order {
				var s models.ItemStock
				if err := tx.Preload("Item").First(&s, "id = ?", sid).Error; err != nil {
					return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("Stock item %d not found", sid))
				}
				if s.Item.ArchivedAt != nil {
					return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("%s is archived", s.Item.ProductCode))
				}
				if s.InStorage < qty[sid] {
					return fiber.NewError(fiber.StatusConflict, fmt.Sprintf(
						"%s: only %d available, %d requested", s.Item.ProductCode, s.InStorage, qty[sid]))
				}
				br.Items = append(br.Items, models.BorrowRequestItem{
					ItemStockID: s.ID,
					ItemID:      s.ItemID,
					Quantity:    qty[sid],
					Note:        notes[sid],
				})
			}
			if err := tx.Omit("Requester", "Department").Create(&br).Error; err != nil {
				return err
			}
			return audit.WriteLog(audit.LogOptions{
				Tx:          tx,
				UserID:      actor.ID,
				UserName:    actor.Name,
				EntityType:  audit.EntityBorrowRequest,
				EntityID:    br.ID,
				Action:      models.AuditActionCreate,
				Description: fmt.Sprintf("Borrow request %s created", br.Code),
				After:       map[string]any{"code": br.Code, "status": br.Status, "lines": len(br.Items)},
			})
		})
		if err != nil {
			return apiutil.DomainError(err, "Failed to create borrow request")
		}

		full, err := loadDetailed(br.ID)
		if err != nil {
			return apiutil.DomainError(err, "Failed to load borrow request")
		}
		return c.Status(fiber.StatusCreated).JSON(toResponse(full, now()))
	}
}

// scope limits what the actor may see: users their own requests, managers
// their department's, storage and admins everything.
func scope(dbq *gorm.DB, a auth.Actor) *gorm.DB {
	switch {
	case a.Is(models.RoleUser):
		return dbq.Where("requester_id = ?", a.ID)
	case a.Is(models.RoleManager):
		if a.DepartmentID == nil {
			return dbq.Where("requester_id = ?", a.ID)
		}
		return dbq.Where("requester_id = ? OR department_id = ?", a.ID, *a.DepartmentID)
	}
	return dbq
}

func canView(a auth.Actor, br models.BorrowRequest) bool {
	switch {
	case a.Is(models.RoleAdmin, models.RoleStorage):
		return true
	case br.RequesterID == a.ID:
		return true
	case a.Is(models.RoleManager):
		return a.DepartmentID != nil && br.DepartmentID != nil && *a.DepartmentID == *br.DepartmentID
	}
	return false
}

func list(c *fiber.Ctx, statuses []string) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}

	dbq := scope(withDetails(database.DB), actor).Order("created_at DESC, id DESC")
	if len(statuses) > 0 {
		dbq = dbq.Where("status IN ?", statuses)
	}
	if c.QueryBool("mine", false) {
		dbq = dbq.Where("requester_id = ?", actor.ID)
	}
	if c.QueryBool("overdue", false) {
		dbq = dbq.Where("status = ? AND (is_overdue = ? OR due_date < ?)", models.BorrowActive, true, today(now()))
	}
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		dbq = dbq.Where("LOWER(code) LIKE ? OR LOWER(purpose) LIKE ?", like, like)
	}

	var brs []models.BorrowRequest
	if err := dbq.Find(&brs).Error; err != nil {
		return apiutil.DomainError(err, "Failed to list borrow requests")
	}

	t := now()
	res := make([]BorrowResponse, 0, len(brs))
	for _, br := range brs {
		res = append(res, toResponse(br, t))
	}
	return c.JSON(res)
}

// GET /api/borrow-requests?status=pending_manager,pending_storage&mine=true&q=
func ListBorrowRequestsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var statuses []string
		for _, s := range strings.Split(c.Query("status"), ",") {
			if s = strings.TrimSpace(s); s != "" {
				statuses = append(statuses, s)
			}
		}
		return list(c, statuses)
	}
}

// GET /api/borrow-requests/active?overdue=true
func ListActiveLoansHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return list(c, []string{string(models.BorrowActive)})
	}
}

// GET /api/borrow-requests/:id
func GetBorrowRequestHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := apiutil.ParamID(c, "id")
		if err != nil {
			return err
		}
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}
		br, err := loadDetailed(id)
		if err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Borrow request not found")
		}
		if !canView(actor, br) {
			return fiber.NewError(fiber.StatusForbidden, "You cannot view this borrow request")
		}
		return c.JSON(toResponse(br, now()))
	}
}

// transition is one step of the borrow workflow.
type transition struct {
	to models.BorrowStatus
	// from narrows the sources allowed by workflow.Borrow for this endpoint.
	from  []models.BorrowStatus
	allow func(a auth.Actor, br *models.BorrowRequest) error
	apply func(tx *gorm.DB, a auth.Actor, br *models.BorrowRequest) error
}

var statusColumns = []string{
	"status", "manager_id", "manager_approved_at", "storage_id", "storage_approved_at",
	"activated_at", "returned_at", "reject_reason", "is_overdue",
}

func (tr transition) run(c *fiber.Ctx) error {
	id, err := apiutil.ParamID(c, "id")
	if err != nil {
		return err
	}
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}

	var from models.BorrowStatus
	err = stock.Transaction(database.DB, func(tx *gorm.DB) error {
		var br models.BorrowRequest
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&br, "id = ?", id).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Borrow request not found")
		}
		if err := tx.Where("borrow_request_id = ?", br.ID).Order("id ASC").Find(&br.Items).Error; err != nil {
			return err
		}
		from = br.Status

		if len(tr.from) > 0 && !containsStatus(tr.from, br.Status) {
			return fmt.Errorf("%w: borrow_request cannot go from %s to %s here", workflow.ErrInvalidTransition, br.Status, tr.to)
		}
		if err := workflow.Borrow.Check(br.Status, tr.to); err != nil {
			return err
		}
		if tr.allow != nil {
			if err := tr.allow(actor, &br); err != nil {
				return err
			}
		}
		if tr.apply != nil {
			if err := tr.apply(tx, actor, &br); err != nil {
				return err
			}
		}
		if br.Status == from {
			br.Status = tr.to
		}

		if err := tx.Model(&br).Select(statusColumns).Updates(&br).Error; err != nil {
			return err
		}
		return audit.WriteLog(audit.LogOptions{
			Tx:          tx,
			UserID:      actor.ID,
			UserName:    actor.Name,
			EntityType:  audit.EntityBorrowRequest,
			EntityID:    br.ID,
			Action:      models.AuditActionTransition,
			Description: fmt.Sprintf("Borrow request %s: %s -> %s", br.Code, from, br.Status),
			Before:      map[string]any{"status": from},
			After:       map[string]any{"status": br.Status, "reject_reason": br.RejectReason},
		})
	})
	if err != nil {
		return apiutil.DomainError(err, "Failed to update borrow request")
	}

	full, err := loadDetailed(id)
	if err != nil {
		return apiutil.DomainError(err, "Failed to load borrow request")
	}
	workflow.Borrow.Record(from, full.Status)
	return c.JSON(toResponse(full, now()))
}

func containsStatus(list []models.BorrowStatus, s models.BorrowStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// departmentManager allows admins and managers of the requester's department.
func departmentManager(a auth.Actor, br *models.BorrowRequest) error {
	if a.Is(models.RoleAdmin) {
		return nil
	}
	if a.Is(models.RoleManager) && a.DepartmentID != nil && br.DepartmentID != nil && *a.DepartmentID == *br.DepartmentID {
		return nil
	}
	return fiber.NewError(fiber.StatusForbidden, "Only the department manager can decide this request")
}

func parseReason(c *fiber.Ctx) (string, error) {
	var body ReasonRequest
	if err := c.BodyParser(&body); err != nil {
		return "", fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	reason := strings.TrimSpace(body.Reason)
	if reason == "" {
		return "", fiber.NewError(fiber.StatusBadRequest, "reason is required")
	}
	return reason, nil
}

// POST /api/borrow-requests/:id/manager-approve
func ManagerApproveHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return transition{
			to:    models.BorrowPendingStorage,
			allow: departmentManager,
			apply: func(_ *gorm.DB, a auth.Actor, br *models.BorrowRequest) error {
				t := now()
				br.ManagerID = &a.ID
				br.ManagerApprovedAt = &t
				return nil
			},
		}.run(c)
	}
}

// POST /api/borrow-requests/:id/manager-reject
func ManagerRejectHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reason, err := parseReason(c)
		if err != nil {
			return err
		}
		return transition{
			to:    models.BorrowRejected,
			from:  []models.BorrowStatus{models.BorrowPendingManager},
			allow: departmentManager,
			apply: func(_ *gorm.DB, a auth.Actor, br *models.BorrowRequest) error {
				br.ManagerID = &a.ID
				br.RejectReason = reason
				return nil
			},
		}.run(c)
	}
}

// POST /api/borrow-requests/:id/storage-approve
// Reserves the units: every line moves in_storage -> on_borrow, all or nothing.
func StorageApproveHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return transition{
			to: models.BorrowApproved,
			apply: func(tx *gorm.DB, a auth.Actor, br *models.BorrowRequest) error {
				if err := moveLines(tx, br, stock.InStorage, stock.OnBorrow, a.ID, "reserved for "+br.Code); err != nil {
					return err
				}
				t := now()
				br.StorageID = &a.ID
				br.StorageApprovedAt = &t
				return nil
			},
		}.run(c)
	}
}

// POST /api/borrow-requests/:id/storage-reject
func StorageRejectHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reason, err := parseReason(c)
		if err != nil {
			return err
		}
		return transition{
			to:   models.BorrowRejected,
			from: []models.BorrowStatus{models.BorrowPendingStorage},
			apply: func(_ *gorm.DB, a auth.Actor, br *models.BorrowRequest) error {
				br.StorageID = &a.ID
				br.RejectReason = reason
				return nil
			},
		}.run(c)
	}
}

// POST /api/borrow-requests/:id/activate
func ActivateHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return transition{
			to: models.BorrowActive,
			apply: func(_ *gorm.DB, _ auth.Actor, br *models.BorrowRequest) error {
				t := now()
				br.ActivatedAt = &t
				return nil
			},
		}.run(c)
	}
}

// POST /api/borrow-requests/:id/return
func ReturnHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body ReturnRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		if len(body.Items) == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "items are required")
		}
		lines := make([]ReturnLine, 0, len(body.Items))
		for _, it := range body.Items {
			if it.Condition != "" && !it.Condition.Valid() {
				return fiber.NewError(fiber.StatusBadRequest, "condition must be good, fair or damaged")
			}
			lines = append(lines, ReturnLine{
				BorrowItemID: it.ItemID,
				ReturnedQty:  it.ReturnedQty,
				SeededQty:    it.SeededQty,
				Condition:    it.Condition,
				Note:         strings.TrimSpace(it.Note),
			})
		}

		return transition{
			to:   models.BorrowComplete,
			from: []models.BorrowStatus{models.BorrowActive},
			apply: func(tx *gorm.DB, a auth.Actor, br *models.BorrowRequest) error {
				seeded, err := applyReturn(tx, br, lines, a.ID)
				if err != nil {
					return err
				}
				t := now()
				br.ReturnedAt = &t
				if seeded {
					br.Status = models.BorrowSeeded
				} else {
					br.Status = models.BorrowComplete
				}
				return nil
			},
		}.run(c)
	}
}

// POST /api/borrow-requests/:id/revert
// Undoes a reservation or a loan: borrowed units go back to storage.
func RevertHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return transition{
			to: models.BorrowReverted,
			apply: func(tx *gorm.DB, a auth.Actor, br *models.BorrowRequest) error {
				return moveLines(tx, br, stock.OnBorrow, stock.InStorage, a.ID, "reverted "+br.Code)
			},
		}.run(c)
	}
}

// POST /api/borrow-requests/:id/cancel
func CancelHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return transition{
			to: models.BorrowCancelled,
			allow: func(a auth.Actor, br *models.BorrowRequest) error {
				if br.RequesterID != a.ID && !a.Is(models.RoleAdmin) {
					return fiber.NewError(fiber.StatusForbidden, "Only the requester can cancel this request")
				}
				return nil
			},
		}.run(c)
	}
}
