package dashboard

import (
	"time"

	"warehouse-backend/internal/apiutil"
	"warehouse-backend/internal/database"
	"warehouse-backend/internal/models"
	"warehouse-backend/internal/stock"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type DashboardResponse struct {
	Totals               stock.Totals                `json:"totals"`
	ItemCount            int                         `json:"item_count"`
	PendingItemRequests  int64                       `json:"pending_item_requests"`
	PendingClearances    int64                       `json:"pending_clearances"`
	BorrowByStatus       map[models.BorrowStatus]int `json:"borrow_by_status"`
	OverdueLoans         int64                       `json:"overdue_loans"`
	FormsAwaitApproval   int64                       `json:"forms_awaiting_approval"`
	FormsAwaitProcessing int64                       `json:"forms_awaiting_processing"`
}

func count(db *gorm.DB, model any, where string, args ...any) (int64, error) {
	var n int64
	err := db.Model(model).Where(where, args...).Count(&n).Error
	return n, err
}

// GET /api/dashboard
func DashboardHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		db := database.DB
		items, totals, err := stock.Summary(db, stock.SummaryFilter{})
		if err != nil {
			return apiutil.DomainError(err, "Failed to load dashboard")
		}
		res := DashboardResponse{
			Totals:         totals,
			ItemCount:      len(items),
			BorrowByStatus: make(map[models.BorrowStatus]int),
		}

		var byStatus []struct {
			Status models.BorrowStatus
			N      int
		}
		if err := db.Model(&models.BorrowRequest{}).
			Select("status, COUNT(*) AS n").Group("status").Scan(&byStatus).Error; err != nil {
			return apiutil.DomainError(err, "Failed to load dashboard")
		}
		for _, r := range byStatus {
			res.BorrowByStatus[r.Status] = r.N
		}

		y, m, d := time.Now().UTC().Date()
		today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

		for _, q := range []struct {
			dst   *int64
			model any
			where string
			args  []any
		}{
			{&res.PendingItemRequests, &models.ItemRequest{}, "status = ?", []any{models.RequestPending}},
			{&res.PendingClearances, &models.ItemClearance{}, "status = ?", []any{models.RequestPending}},
			{&res.OverdueLoans, &models.BorrowRequest{}, "status = ? AND (is_overdue = ? OR due_date < ?)", []any{models.BorrowActive, true, today}},
			{&res.FormsAwaitApproval, &models.ClearanceForm{}, "status = ?", []any{models.FormPending}},
			{&res.FormsAwaitProcessing, &models.ClearanceForm{}, "status = ?", []any{models.FormApproved}},
		} {
			n, err := count(db, q.model, q.where, q.args...)
			if err != nil {
				return apiutil.DomainError(err, "Failed to load dashboard")
			}
			*q.dst = n
		}

		return c.JSON(res)
	}
}
