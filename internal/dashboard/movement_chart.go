package dashboard

import (
	"sort"
	"time"

	"warehouse-backend/internal/apiutil"
	"warehouse-backend/internal/database"
	"warehouse-backend/internal/models"
	"warehouse-backend/internal/stock"

	"github.com/gofiber/fiber/v2"
)

type ChartPoint struct {
	Label    string `json:"label"` // day, week start or month start
	Received int    `json:"received"`
	Borrowed int    `json:"borrowed"`
	Returned int    `json:"returned"`
	Seeded   int    `json:"seeded"`
	Cleared  int    `json:"cleared"`
}

type ChartResponse struct {
	Period string       `json:"period"` // daily | weekly | monthly
	From   string       `json:"from"`
	To     string       `json:"to"`
	Points []ChartPoint `json:"points"`
	Totals ChartPoint   `json:"totals"`
}

// bucketOf truncates t to the start of its day, ISO week or month.
func bucketOf(period string, t time.Time) time.Time {
	y, m, d := t.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	switch period {
	case "weekly":
		offset := (int(day.Weekday()) + 6) % 7 // Monday first
		return day.AddDate(0, 0, -offset)
	case "monthly":
		return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
	}
	return day
}

// add counts one movement into the point by what it means for the warehouse.
// Intake booked by transfers and condition changes moves existing units and
// is not counted as received.
func (p *ChartPoint) add(mv models.StockMovement) {
	from, to := stock.State(mv.FromState), stock.State(mv.ToState)
	switch {
	case from == stock.Intake:
		if mv.RefType == stock.RefItemRequest {
			p.Received += mv.Quantity
		}
	case to == stock.OnBorrow:
		p.Borrowed += mv.Quantity
	case from == stock.OnBorrow && to == stock.InStorage:
		p.Returned += mv.Quantity
	case to == stock.Seeded:
		p.Seeded += mv.Quantity
	case from == stock.InClearance && to == stock.Removed:
		p.Cleared += mv.Quantity
	}
}

// GET /api/dashboard/movement-chart?period=daily&count=7
func MovementChartHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		period := c.Query("period", "daily")
		count := c.QueryInt("count", 0)
		if count < 0 || count > 366 {
			return fiber.NewError(fiber.StatusBadRequest, "count must be between 1 and 366")
		}
		if count == 0 {
			switch period {
			case "weekly":
				count = 8
			case "monthly":
				count = 12
			default:
				period = "daily"
				count = 7
			}
		}

		now := time.Now().UTC()
		end := bucketOf(period, now)
		var start time.Time
		switch period {
		case "weekly":
			start = end.AddDate(0, 0, -7*(count-1))
		case "monthly":
			start = end.AddDate(0, -(count - 1), 0)
		default:
			period = "daily"
			end = bucketOf(period, now)
			start = end.AddDate(0, 0, -(count - 1))
		}

		var mvs []models.StockMovement
		if err := database.DB.Where("created_at >= ?", start).Order("created_at ASC").Find(&mvs).Error; err != nil {
			return apiutil.DomainError(err, "Failed to load movement chart")
		}

		buckets := make(map[time.Time]*ChartPoint)
		for _, mv := range mvs {
			b := bucketOf(period, mv.CreatedAt.UTC())
			p, ok := buckets[b]
			if !ok {
				p = &ChartPoint{Label: b.Format(apiutil.DateLayout)}
				buckets[b] = p
			}
			p.add(mv)
		}

		keys := make([]time.Time, 0, len(buckets))
		for k := range buckets {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })

		res := ChartResponse{
			Period: period,
			From:   start.Format(apiutil.DateLayout),
			To:     now.Format(apiutil.DateLayout),
			Points: make([]ChartPoint, 0, len(keys)),
		}
		for _, k := range keys {
			p := *buckets[k]
			res.Points = append(res.Points, p)
			res.Totals.Received += p.Received
			res.Totals.Borrowed += p.Borrowed
			res.Totals.Returned += p.Returned
			res.Totals.Seeded += p.Seeded
			res.Totals.Cleared += p.Cleared
		}
		res.Totals.Label = "total"
		return c.JSON(res)
	}
}
