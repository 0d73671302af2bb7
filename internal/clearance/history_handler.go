package clearance

import (
	"fmt"
	"strings"
	"time"

	"warehouse-backend/internal/apiutil"
	"warehouse-backend/internal/database"
	"warehouse-backend/internal/models"
	"warehouse-backend/internal/spreadsheet"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

const maxHistoryRows = 1000

type HistoryResponse struct {
	Items         []models.ClearedItem `json:"items"`
	TotalQuantity int                  `json:"total_quantity"`
}

func historyQuery(c *fiber.Ctx) (*gorm.DB, error) {
	dbq := database.DB.Model(&models.ClearedItem{}).Order("cleared_at DESC, id DESC")
	if fn := strings.TrimSpace(c.Query("form_number")); fn != "" {
		dbq = dbq.Where("form_number = ?", strings.ToUpper(fn))
	}
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		dbq = dbq.Where("LOWER(product_code) LIKE ? OR LOWER(item_name) LIKE ? OR LOWER(box_code) LIKE ?", like, like, like)
	}
	from, err := apiutil.QueryDate(c, "from")
	if err != nil {
		return nil, err
	}
	if from != nil {
		dbq = dbq.Where("cleared_at >= ?", *from)
	}
	to, err := apiutil.QueryDate(c, "to")
	if err != nil {
		return nil, err
	}
	if to != nil {
		if from != nil && to.Before(*from) {
			return nil, fiber.NewError(fiber.StatusBadRequest, "to must not be before from")
		}
		dbq = dbq.Where("cleared_at <= ?", apiutil.EndOfDay(*to))
	}
	return dbq, nil
}

// GET /api/clearance/history?form_number=&q=&from=&to=
func HistoryHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		dbq, err := historyQuery(c)
		if err != nil {
			return err
		}
		var rows []models.ClearedItem
		if err := dbq.Limit(maxHistoryRows).Find(&rows).Error; err != nil {
			return apiutil.DomainError(err, "Failed to load clearance history")
		}
		res := HistoryResponse{Items: rows}
		for _, r := range rows {
			res.TotalQuantity += r.Quantity
		}
		return c.JSON(res)
	}
}

// GET /api/clearance/history/export (same filters as the history)
func ExportHistoryHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		dbq, err := historyQuery(c)
		if err != nil {
			return err
		}
		var rows []models.ClearedItem
		if err := dbq.Find(&rows).Error; err != nil {
			return apiutil.DomainError(err, "Failed to export clearance history")
		}

		data := make([][]any, 0, len(rows))
		for _, r := range rows {
			data = append(data, []any{
				r.FormNumber, r.ClearedAt.Format(apiutil.DateTimeLayout), r.ProductCode, r.ItemName,
				r.Category, r.LocationName, r.BoxCode, string(r.Condition), r.Quantity,
			})
		}
		wb, err := spreadsheet.Build(spreadsheet.Sheet{
			Name: "Cleared",
			Header: []any{
				"Form Number", "Cleared At", "Product Code", "Name",
				"Category", "Location", "Box", "Condition", "Quantity",
			},
			Rows:   data,
			Widths: map[string]float64{"A": 24, "B": 20, "C": 18, "D": 32},
		})
		if err != nil {
			return apiutil.DomainError(err, "Failed to export clearance history")
		}
		return spreadsheet.Send(c, wb, fmt.Sprintf("clearance_history_%s.xlsx", time.Now().Format("20060102_150405")))
	}
}
