package catalog

import (
	"fmt"
	"time"

	"warehouse-backend/internal/apiutil"
	"warehouse-backend/internal/database"
	"warehouse-backend/internal/models"
	"warehouse-backend/internal/spreadsheet"
	"warehouse-backend/internal/stock"

	"github.com/gofiber/fiber/v2"
)

type SKULookupResponse struct {
	Matched   []stock.ItemTotals `json:"matched"`
	Unmatched []string           `json:"unmatched"`
	Totals    stock.Totals       `json:"totals"`
}

// POST /api/items/sku-lookup (multipart "file")
// First column holds product codes; an optional header row is skipped.
func SKULookupHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		rows, err := spreadsheet.ReadUpload(c, "file")
		if err != nil {
			return err
		}
		if len(rows) > 0 && spreadsheet.IsHeader(rows[0], "product_code", "product code", "sku", "code") {
			rows = rows[1:]
		}

		codes := make([]string, 0, len(rows))
		seen := make(map[string]bool, len(rows))
		for _, row := range rows {
			code := NormalizeCode(spreadsheet.Cell(row, 0))
			if code == "" || seen[code] {
				continue
			}
			seen[code] = true
			codes = append(codes, code)
		}
		if len(codes) == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "No product codes found in the file")
		}

		var items []models.Item
		if err := database.DB.Where("product_code IN ?", codes).Find(&items).Error; err != nil {
			return apiutil.DomainError(err, "Failed to look up items")
		}
		byCode := make(map[string]models.Item, len(items))
		ids := make([]uint, 0, len(items))
		for _, it := range items {
			byCode[it.ProductCode] = it
			ids = append(ids, it.ID)
		}
		totals, err := totalsByItem(database.DB, ids)
		if err != nil {
			return apiutil.DomainError(err, "Failed to look up items")
		}

		res := SKULookupResponse{Matched: make([]stock.ItemTotals, 0, len(items)), Unmatched: make([]string, 0)}
		for _, code := range codes {
			it, ok := byCode[code]
			if !ok {
				res.Unmatched = append(res.Unmatched, code)
				continue
			}
			t := totals[it.ID]
			res.Totals = res.Totals.Add(t)
			res.Matched = append(res.Matched, stock.ItemTotals{
				ItemID:      it.ID,
				ProductCode: it.ProductCode,
				Name:        it.Name,
				Category:    it.Category,
				Unit:        it.Unit,
				Totals:      t,
			})
		}
		return c.JSON(res)
	}
}

var stockHeader = []any{
	"Product Code", "Name", "Category", "Unit", "Location", "Box", "Condition",
	"Pending", "In Storage", "On Borrow", "In Clearance", "Seeded", "Total",
}

// GET /api/stock-items/export (same filters as the list)
func ExportStockHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		dbq, err := StockQuery(c)
		if err != nil {
			return err
		}
		var stocks []models.ItemStock
		if err := dbq.Find(&stocks).Error; err != nil {
			return apiutil.DomainError(err, "Failed to export stock")
		}

		detail := make([][]any, 0, len(stocks))
		for _, s := range stocks {
			r := ToStockItemResponse(s)
			detail = append(detail, []any{
				r.ProductCode, r.ItemName, r.Category, r.Unit, r.LocationName, r.BoxCode, string(r.Condition),
				r.Totals.Pending, r.Totals.InStorage, r.Totals.OnBorrow, r.Totals.InClearance, r.Totals.Seeded, r.Totals.Total,
			})
		}

		items, grand, err := stock.Summary(database.DB, stock.SummaryFilter{
			IncludeArchived: c.QueryBool("include_archived", false),
		})
		if err != nil {
			return apiutil.DomainError(err, "Failed to export stock")
		}
		summary := make([][]any, 0, len(items)+1)
		for _, it := range items {
			summary = append(summary, []any{
				it.ProductCode, it.Name, it.Category, it.Unit,
				it.Pending, it.InStorage, it.OnBorrow, it.InClearance, it.Seeded, it.Total,
			})
		}
		summary = append(summary, []any{
			"TOTAL", "", "", "",
			grand.Pending, grand.InStorage, grand.OnBorrow, grand.InClearance, grand.Seeded, grand.Total,
		})

		wb, err := spreadsheet.Build(
			spreadsheet.Sheet{
				Name:   "Stock",
				Header: stockHeader,
				Rows:   detail,
				Widths: map[string]float64{"A": 18, "B": 32, "C": 18, "E": 20},
			},
			spreadsheet.Sheet{
				Name: "Summary",
				Header: []any{
					"Product Code", "Name", "Category", "Unit",
					"Pending", "In Storage", "On Borrow", "In Clearance", "Seeded", "Total",
				},
				Rows:   summary,
				Widths: map[string]float64{"A": 18, "B": 32, "C": 18},
			},
		)
		if err != nil {
			return apiutil.DomainError(err, "Failed to export stock")
		}
		return spreadsheet.Send(c, wb, fmt.Sprintf("stock_%s.xlsx", time.Now().Format("20060102_150405")))
	}
}
