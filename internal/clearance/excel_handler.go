package clearance

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"warehouse-backend/internal/apiutil"
	"warehouse-backend/internal/audit"
	"warehouse-backend/internal/auth"
	"warehouse-backend/internal/catalog"
	"warehouse-backend/internal/database"
	"warehouse-backend/internal/models"
	"warehouse-backend/internal/spreadsheet"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

var templateHeader = []any{"product_code", "box_code", "condition", "quantity", "note"}

// GET /api/clearance/template
func TemplateHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		wb, err := spreadsheet.Build(spreadsheet.Sheet{
			Name:   "Clearance",
			Header: templateHeader,
			Rows:   [][]any{{"CAM-001", "A-01", "damaged", 1, "broken lens"}},
			Widths: map[string]float64{"A": 18, "B": 14, "C": 12, "E": 32},
		})
		if err != nil {
			return apiutil.DomainError(err, "Failed to build template")
		}
		return spreadsheet.Send(c, wb, "clearance_template.xlsx")
	}
}

// RowError reports one unusable spreadsheet row (1-based, as shown in Excel).
type RowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

type ImportErrorResponse struct {
	Error string     `json:"error"`
	Rows  []RowError `json:"rows"`
}

type ImportResponse struct {
	Imported int          `json:"imported"`
	Form     FormResponse `json:"form"`
}

// resolveRow maps one template row to a form line.
func resolveRow(tx *gorm.DB, row []string) (FormLine, error) {
	code := catalog.NormalizeCode(spreadsheet.Cell(row, 0))
	boxCode := strings.ToUpper(spreadsheet.Cell(row, 1))
	cond := models.ItemCondition(strings.ToLower(spreadsheet.Cell(row, 2)))
	if cond == "" {
		cond = models.ConditionGood
	}
	if code == "" || boxCode == "" {
		return FormLine{}, errors.New("product_code and box_code are required")
	}
	if !cond.Valid() {
		return FormLine{}, fmt.Errorf("unknown condition %q", cond)
	}
	qty, err := strconv.Atoi(spreadsheet.Cell(row, 3))
	if err != nil || qty <= 0 {
		return FormLine{}, fmt.Errorf("quantity %q is not a positive number", spreadsheet.Cell(row, 3))
	}

	var s models.ItemStock
	err = tx.Model(&models.ItemStock{}).
		Joins("JOIN items ON items.id = item_stocks.item_id").
		Joins("JOIN boxes ON boxes.id = item_stocks.box_id").
		Where("items.product_code = ? AND boxes.code = ? AND item_stocks.condition = ?", code, boxCode, cond).
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return FormLine{}, fmt.Errorf("no %s stock of %s in box %s", cond, code, boxCode)
	}
	if err != nil {
		return FormLine{}, err
	}
	return FormLine{ItemStockID: s.ID, Quantity: qty, Note: spreadsheet.Cell(row, 4)}, nil
}

// POST /api/clearance/forms/:id/import (multipart "file")
// Replaces the lines of a draft. Nothing is changed when any row fails.
func ImportFormHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := apiutil.ParamID(c, "id")
		if err != nil {
			return err
		}
		actor, err := auth.CurrentActor(c)
		if err != nil {
			return err
		}
		rows, err := spreadsheet.ReadUpload(c, "file")
		if err != nil {
			return err
		}
		start := 0
		if len(rows) > 0 && spreadsheet.IsHeader(rows[0], "product_code", "product code", "sku") {
			start = 1
		}

		var rowErrs []RowError
		var imported int
		err = database.DB.Transaction(func(tx *gorm.DB) error {
			f, err := lockDraft(tx, id)
			if err != nil {
				return err
			}

			lines := make([]FormLine, 0, len(rows))
			for i := start; i < len(rows); i++ {
				if strings.Join(rows[i], "") == "" {
					continue
				}
				l, err := resolveRow(tx, rows[i])
				if err != nil {
					rowErrs = append(rowErrs, RowError{Row: i + 1, Error: err.Error()})
					continue
				}
				lines = append(lines, l)
			}
			if len(rowErrs) > 0 {
				return errRowsRejected
			}
			if len(lines) == 0 {
				return fiber.NewError(fiber.StatusBadRequest, "No rows found in the file")
			}

			items, err := buildLines(tx, lines)
			if err != nil {
				return err
			}
			if err := replaceItems(tx, f.ID, items); err != nil {
				return err
			}
			imported = len(items)
			return audit.WriteLog(audit.LogOptions{
				Tx:          tx,
				UserID:      actor.ID,
				UserName:    actor.Name,
				EntityType:  audit.EntityClearanceForm,
				EntityID:    f.ID,
				Action:      models.AuditActionUpdate,
				Description: fmt.Sprintf("Clearance form %s: %d lines imported from Excel", f.FormNumber, imported),
				After:       map[string]any{"lines": imported},
			})
		})
		if errors.Is(err, errRowsRejected) {
			return c.Status(fiber.StatusBadRequest).JSON(ImportErrorResponse{
				Error: fmt.Sprintf("%d rows could not be imported", len(rowErrs)),
				Rows:  rowErrs,
			})
		}
		if err != nil {
			return apiutil.DomainError(err, "Failed to import clearance form")
		}

		full, err := loadForm(id)
		if err != nil {
			return apiutil.DomainError(err, "Failed to load clearance form")
		}
		return c.JSON(ImportResponse{Imported: imported, Form: toFormResponse(full)})
	}
}

var errRowsRejected = errors.New("rows rejected")
