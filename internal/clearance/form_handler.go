package clearance

import (
	"fmt"
	"sort"
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

const formRefType = "clearance_form"

type FormLine struct {
	ItemStockID uint   `json:"item_stock_id"`
	Quantity    int    `json:"quantity"`
	Note        string `json:"note"`
}

type FormRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Items       []FormLine `json:"items"`
}

type FormItemResponse struct {
	ID           uint                 `json:"id"`
	ItemStockID  uint                 `json:"item_stock_id"`
	ItemID       uint                 `json:"item_id"`
	ProductCode  string               `json:"product_code"`
	ItemName     string               `json:"item_name"`
	BoxCode      string               `json:"box_code"`
	LocationName string               `json:"location_name"`
	Condition    models.ItemCondition `json:"condition"`
	Quantity     int                  `json:"quantity"`
	InClearance  int                  `json:"in_clearance"`
	Note         string               `json:"note"`
}

type FormResponse struct {
	ID            uint                       `json:"id"`
	FormNumber    string                     `json:"form_number"`
	Title         string                     `json:"title"`
	Description   string                     `json:"description"`
	Status        models.ClearanceFormStatus `json:"status"`
	CreatedBy     uint                       `json:"created_by"`
	ApprovedBy    *uint                      `json:"approved_by"`
	ApprovedAt    *string                    `json:"approved_at"`
	ProcessedBy   *uint                      `json:"processed_by"`
	ProcessedAt   *string                    `json:"processed_at"`
	RejectReason  string                     `json:"reject_reason"`
	TotalQuantity int                        `json:"total_quantity"`
	Items         []FormItemResponse         `json:"items"`
	CreatedAt     string                     `json:"created_at"`
	UpdatedAt     string                     `json:"updated_at"`
}

func withFormDetails(db *gorm.DB) *gorm.DB {
	return db.Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Preload("Items.Item").Preload("Items.ItemStock.Box.Location")
}

func loadForm(id uint) (models.ClearanceForm, error) {
	var f models.ClearanceForm
	err := withFormDetails(database.DB).First(&f, "id = ?", id).Error
	return f, err
}

func toFormResponse(f models.ClearanceForm) FormResponse {
	res := FormResponse{
		ID:           f.ID,
		FormNumber:   f.FormNumber,
		Title:        f.Title,
		Description:  f.Description,
		Status:       f.Status,
		CreatedBy:    f.CreatedBy,
		ApprovedBy:   f.ApprovedBy,
		ApprovedAt:   apiutil.FormatTime(f.ApprovedAt),
		ProcessedBy:  f.ProcessedBy,
		ProcessedAt:  apiutil.FormatTime(f.ProcessedAt),
		RejectReason: f.RejectReason,
		Items:        make([]FormItemResponse, 0, len(f.Items)),
		CreatedAt:    f.CreatedAt.Format(apiutil.DateTimeLayout),
		UpdatedAt:    f.UpdatedAt.Format(apiutil.DateTimeLayout),
	}
	for _, it := range f.Items {
		ir := FormItemResponse{
			ID:          it.ID,
			ItemStockID: it.ItemStockID,
			ItemID:      it.ItemID,
			ProductCode: it.Item.ProductCode,
			ItemName:    it.Item.Name,
			Condition:   it.ItemStock.Condition,
			Quantity:    it.Quantity,
			InClearance: it.ItemStock.InClearance,
			Note:        it.Note,
		}
		if it.ItemStock.Box != nil {
			ir.BoxCode = it.ItemStock.Box.Code
			ir.LocationName = it.ItemStock.Box.Location.Name
		}
		res.TotalQuantity += it.Quantity
		res.Items = append(res.Items, ir)
	}
	return res
}

// buildLines resolves request lines to form items. Stocks must exist.
func buildLines(tx *gorm.DB, lines []FormLine) ([]models.ClearanceFormItem, error) {
	out := make([]models.ClearanceFormItem, 0, len(lines))
	for i, l := range lines {
		if l.ItemStockID == 0 || l.Quantity <= 0 {
			return nil, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("line %d needs item_stock_id and a positive quantity", i+1))
		}
		var s models.ItemStock
		if err := tx.Select("id", "item_id").First(&s, "id = ?", l.ItemStockID).Error; err != nil {
			return nil, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("line %d: stock item %d not found", i+1, l.ItemStockID))
		}
		out = append(out, models.ClearanceFormItem{
			ItemStockID: s.ID,
			ItemID:      s.ItemID,
			Quantity:    l.Quantity,
			Note:        strings.TrimSpace(l.Note),
		})
	}
	return out, nil
}

// replaceItems swaps the lines of a draft form.
func replaceItems(tx *gorm.DB, formID uint, items []models.ClearanceFormItem) error {
	if err := tx.Where("clearance_form_id = ?", formID).Delete(&models.ClearanceFormItem{}).Error; err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		items[i].ID = 0
		items[i].ClearanceFormID = formID
	}
	return tx.Omit("ItemStock", "Item").Create(&items).Error
}

// checkAvailable verifies that every stock holds at least the form's total
// quantity in clearance. Stocks are locked in id order.
func checkAvailable(tx *gorm.DB, items []models.ClearanceFormItem) error {
	need := make(map[uint]int, len(items))
	for _, it := range items {
		need[it.ItemStockID] += it.Quantity
	}
	ids := make([]uint, 0, len(need))
	for id := range need {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		s, err := stock.Lock(tx, id)
		if err != nil {
			return err
		}
		if s.InClearance < need[id] {
			return fmt.Errorf("%w: stock %d has %d in clearance, form needs %d", stock.ErrInsufficient, id, s.InClearance, need[id])
		}
	}
	return nil
}

func parseForm(c *fiber.Ctx) (FormRequest, error) {
	var body FormRequest
	if err := c.BodyParser(&body); err != nil {
		return body, fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	body.Title = strings.TrimSpace(body.Title)
	body.Description = strings.TrimSpace(body.Description)
	if body.Title == "" {
		return body, fiber.NewError(fiber.StatusBadRequest, "title is required")
	}
	return body, nil
}

// POST /api/clearance/forms
func CreateFormHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}
		body, err := parseForm(c)
		if err != nil {
			return err
		}

		f := models.ClearanceForm{
			FormNumber:  workflow.NewCode("CLR", time.Now()),
			Title:       body.Title,
			Description: body.Description,
			Status:      models.FormDraft,
			CreatedBy:   actor.ID,
		}
		err = stock.Transaction(database.DB, func(tx *gorm.DB) error {
			items, err := buildLines(tx, body.Items)
			if err != nil {
				return err
			}
			if err := tx.Omit("Items").Create(&f).Error; err != nil {
				return err
			}
			if err := replaceItems(tx, f.ID, items); err != nil {
				return err
			}
			return audit.WriteLog(audit.LogOptions{
				Tx:          tx,
				UserID:      actor.ID,
				UserName:    actor.Name,
				EntityType:  audit.EntityClearanceForm,
				EntityID:    f.ID,
				Action:      models.AuditActionCreate,
				Description: fmt.Sprintf("Clearance form %s created", f.FormNumber),
				After:       map[string]any{"form_number": f.FormNumber, "title": f.Title, "lines": len(items)},
			})
		})
		if err != nil {
			return apiutil.DomainError(err, "Failed to create clearance form")
		}

		full, err := loadForm(f.ID)
		if err != nil {
			return apiutil.DomainError(err, "Failed to load clearance form")
		}
		return c.Status(fiber.StatusCreated).JSON(toFormResponse(full))
	}
}

// GET /api/clearance/forms?status=&q=
func ListFormsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		dbq := withFormDetails(database.DB).Order("created_at DESC, id DESC")
		if s := c.Query("status"); s != "" {
			dbq = dbq.Where("status = ?", s)
		}
		if q := strings.TrimSpace(c.Query("q")); q != "" {
			like := "%" + strings.ToLower(q) + "%"
			dbq = dbq.Where("LOWER(form_number) LIKE ? OR LOWER(title) LIKE ?", like, like)
		}

		var forms []models.ClearanceForm
		if err := dbq.Find(&forms).Error; err != nil {
			return apiutil.DomainError(err, "Failed to list clearance forms")
		}
		res := make([]FormResponse, 0, len(forms))
		for _, f := range forms {
			res = append(res, toFormResponse(f))
		}
		return c.JSON(res)
	}
}

// GET /api/clearance/forms/:id
func GetFormHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := apiutil.ParamID(c, "id")
		if err != nil {
			return err
		}
		f, err := loadForm(id)
		if err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Clearance form not found")
		}
		return c.JSON(toFormResponse(f))
	}
}

// lockDraft loads a form for editing. Only drafts can be changed.
func lockDraft(tx *gorm.DB, id uint) (models.ClearanceForm, error) {
	var f models.ClearanceForm
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&f, "id = ?", id).Error; err != nil {
		return f, fiber.NewError(fiber.StatusNotFound, "Clearance form not found")
	}
	if f.Status != models.FormDraft {
		return f, fiber.NewError(fiber.StatusConflict, fmt.Sprintf("Clearance form is %s, only drafts can be changed", f.Status))
	}
	return f, nil
}

// PUT /api/clearance/forms/:id
// Replaces title, description and lines of a draft.
func UpdateFormHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := apiutil.ParamID(c, "id")
		if err != nil {
			return err
		}
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}
		body, err := parseForm(c)
		if err != nil {
			return err
		}

		err = stock.Transaction(database.DB, func(tx *gorm.DB) error {
			f, err := lockDraft(tx, id)
			if err != nil {
				return err
			}
			items, err := buildLines(tx, body.Items)
			if err != nil {
				return err
			}
			before := map[string]any{"title": f.Title, "description": f.Description}
			f.Title = body.Title
			f.Description = body.Description
			if err := tx.Model(&f).Select("title", "description").Updates(&f).Error; err != nil {
				return err
			}
			if err := replaceItems(tx, f.ID, items); err != nil {
				return err
			}
			return audit.WriteLog(audit.LogOptions{
				Tx:          tx,
				UserID:      actor.ID,
				UserName:    actor.Name,
				EntityType:  audit.EntityClearanceForm,
				EntityID:    f.ID,
				Action:      models.AuditActionUpdate,
				Description: fmt.Sprintf("Clearance form %s updated", f.FormNumber),
				Before:      before,
				After:       map[string]any{"title": f.Title, "description": f.Description, "lines": len(items)},
			})
		})
		if err != nil {
			return apiutil.DomainError(err, "Failed to update clearance form")
		}

		full, err := loadForm(id)
		if err != nil {
			return apiutil.DomainError(err, "Failed to load clearance form")
		}
		return c.JSON(toFormResponse(full))
	}
}

// DELETE /api/clearance/forms/:id
func DeleteFormHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := apiutil.ParamID(c, "id")
		if err != nil {
			return err
		}
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}

		err = stock.Transaction(database.DB, func(tx *gorm.DB) error {
			f, err := lockDraft(tx, id)
			if err != nil {
				return err
			}
			if err := tx.Where("clearance_form_id = ?", f.ID).Delete(&models.ClearanceFormItem{}).Error; err != nil {
				return err
			}
			if err := tx.Delete(&f).Error; err != nil {
				return err
			}
			return audit.WriteLog(audit.LogOptions{
				Tx:          tx,
				UserID:      actor.ID,
				UserName:    actor.Name,
				EntityType:  audit.EntityClearanceForm,
				EntityID:    f.ID,
				Action:      models.AuditActionDelete,
				Description: fmt.Sprintf("Clearance form %s deleted", f.FormNumber),
				Before:      map[string]any{"form_number": f.FormNumber, "title": f.Title},
			})
		})
		if err != nil {
			return apiutil.DomainError(err, "Failed to delete clearance form")
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// advance moves a form to "to" inside one transaction. apply may change the
// form and touch stock; it runs after the status check.
func advance(c *fiber.Ctx, to models.ClearanceFormStatus, apply func(tx *gorm.DB, a auth.Actor, f *models.ClearanceForm) error) error {
	id, err := apiutil.ParamID(c, "id")
	if err != nil {
		return err
	}
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}

	var from models.ClearanceFormStatus
	err = stock.Transaction(database.DB, func(tx *gorm.DB) error {
		var f models.ClearanceForm
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&f, "id = ?", id).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Clearance form not found")
		}
		if err := tx.Preload("Item").Preload("ItemStock.Box.Location").
			Where("clearance_form_id = ?", f.ID).Order("id ASC").Find(&f.Items).Error; err != nil {
			return err
		}
		from = f.Status
		if err := workflow.ClearanceForm.Check(f.Status, to); err != nil {
			return err
		}
		if apply != nil {
			if err := apply(tx, actor, &f); err != nil {
				return err
			}
		}
		f.Status = to
		if err := tx.Model(&f).
			Select("status", "approved_by", "approved_at", "processed_by", "processed_at", "reject_reason").
			Updates(&f).Error; err != nil {
			return err
		}
		return audit.WriteLog(audit.LogOptions{
			Tx:          tx,
			UserID:      actor.ID,
			UserName:    actor.Name,
			EntityType:  audit.EntityClearanceForm,
			EntityID:    f.ID,
			Action:      models.AuditActionTransition,
			Description: fmt.Sprintf("Clearance form %s: %s -> %s", f.FormNumber, from, to),
			Before:      map[string]any{"status": from},
			After:       map[string]any{"status": to, "reject_reason": f.RejectReason},
		})
	})
	if err != nil {
		return apiutil.DomainError(err, "Failed to update clearance form")
	}
	workflow.ClearanceForm.Record(from, to)

	full, err := loadForm(id)
	if err != nil {
		return apiutil.DomainError(err, "Failed to load clearance form")
	}
	return c.JSON(toFormResponse(full))
}

// POST /api/clearance/forms/:id/submit
func SubmitFormHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return advance(c, models.FormPending, func(tx *gorm.DB, _ auth.Actor, f *models.ClearanceForm) error {
			if len(f.Items) == 0 {
				return fiber.NewError(fiber.StatusBadRequest, "Clearance form has no items")
			}
			f.RejectReason = ""
			return checkAvailable(tx, f.Items)
		})
	}
}

// POST /api/clearance/forms/:id/approve
func ApproveFormHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return advance(c, models.FormApproved, func(tx *gorm.DB, a auth.Actor, f *models.ClearanceForm) error {
			if err := checkAvailable(tx, f.Items); err != nil {
				return err
			}
			t := time.Now()
			f.ApprovedBy = &a.ID
			f.ApprovedAt = &t
			return nil
		})
	}
}

// POST /api/clearance/forms/:id/reject
func RejectFormHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body RejectRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
		}
		reason := strings.TrimSpace(body.Reason)
		if reason == "" {
			return fiber.NewError(fiber.StatusBadRequest, "reason is required")
		}
		return advance(c, models.FormRejected, func(_ *gorm.DB, _ auth.Actor, f *models.ClearanceForm) error {
			f.RejectReason = reason
			return nil
		})
	}
}

// POST /api/clearance/forms/:id/reopen
// A rejected form goes back to draft so it can be corrected and resubmitted.
func ReopenFormHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return advance(c, models.FormDraft, nil)
	}
}

// POST /api/clearance/forms/:id/process
// Every line leaves the books (in_clearance -> removed) and is archived as a
// ClearedItem, all or nothing.
func ProcessFormHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return advance(c, models.FormProcessed, func(tx *gorm.DB, a auth.Actor, f *models.ClearanceForm) error {
			if err := checkAvailable(tx, f.Items); err != nil {
				return err
			}
			t := time.Now()
			cleared := make([]models.ClearedItem, 0, len(f.Items))
			for _, it := range f.Items {
				if _, err := stock.Move(tx, stock.MoveInput{
					ItemStockID: it.ItemStockID, From: stock.InClearance, To: stock.Removed, Qty: it.Quantity,
					RefType: formRefType, RefID: f.ID, UserID: a.ID, Note: f.FormNumber,
				}); err != nil {
					return err
				}
				ci := models.ClearedItem{
					ClearanceFormID: f.ID,
					FormNumber:      f.FormNumber,
					ItemID:          it.ItemID,
					ProductCode:     it.Item.ProductCode,
					ItemName:        it.Item.Name,
					Category:        it.Item.Category,
					Condition:       it.ItemStock.Condition,
					Quantity:        it.Quantity,
					ClearedBy:       a.ID,
					ClearedAt:       t,
				}
				if it.ItemStock.Box != nil {
					ci.BoxCode = it.ItemStock.Box.Code
					ci.LocationName = it.ItemStock.Box.Location.Name
				}
				cleared = append(cleared, ci)
			}
			if len(cleared) > 0 {
				if err := tx.Create(&cleared).Error; err != nil {
					return err
				}
			}
			f.ProcessedBy = &a.ID
			f.ProcessedAt = &t
			return nil
		})
	}
}
