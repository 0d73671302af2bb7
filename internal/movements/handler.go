// Package movements exposes the stock movement log.
package movements

import (
	"strings"

	"warehouse-backend/internal/apiutil"
	"warehouse-backend/internal/database"
	"warehouse-backend/internal/models"

	"github.com/gofiber/fiber/v2"
)

const (
	defaultLimit = 200
	maxLimit     = 1000
)

type MovementResponse struct {
	ID          uint   `json:"id"`
	ItemStockID uint   `json:"item_stock_id"`
	ItemID      uint   `json:"item_id"`
	ProductCode string `json:"product_code"`
	ItemName    string `json:"item_name"`
	FromState   string `json:"from_state"`
	ToState     string `json:"to_state"`
	Quantity    int    `json:"quantity"`
	RefType     string `json:"ref_type"`
	RefID       uint   `json:"ref_id"`
	UserID      uint   `json:"user_id"`
	UserName    string `json:"user_name"`
	Note        string `json:"note"`
	CreatedAt   string `json:"created_at"`
}

type movementRow struct {
	models.StockMovement
	ProductCode string
	ItemName    string
	UserName    string
}

// GET /api/stock-movements?item_id=&item_stock_id=&ref_type=&ref_id=&from=&to=&limit=
func ListMovementsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		dbq := database.DB.Table("stock_movements").
			Select("stock_movements.*, items.product_code AS product_code, items.name AS item_name, users.name AS user_name").
			Joins("LEFT JOIN items ON items.id = stock_movements.item_id").
			Joins("LEFT JOIN users ON users.id = stock_movements.user_id").
			Order("stock_movements.created_at DESC, stock_movements.id DESC")

		for _, f := range []struct{ param, column string }{
			{"item_id", "stock_movements.item_id"},
			{"item_stock_id", "stock_movements.item_stock_id"},
			{"ref_id", "stock_movements.ref_id"},
			{"user_id", "stock_movements.user_id"},
		} {
			id, err := apiutil.QueryID(c, f.param)
			if err != nil {
				return err
			}
			if id > 0 {
				dbq = dbq.Where(f.column+" = ?", id)
			}
		}
		if rt := strings.TrimSpace(c.Query("ref_type")); rt != "" {
			dbq = dbq.Where("stock_movements.ref_type = ?", rt)
		}

		from, err := apiutil.QueryDate(c, "from")
		if err != nil {
			return err
		}
		if from != nil {
			dbq = dbq.Where("stock_movements.created_at >= ?", *from)
		}
		to, err := apiutil.QueryDate(c, "to")
		if err != nil {
			return err
		}
		if to != nil {
			dbq = dbq.Where("stock_movements.created_at <= ?", apiutil.EndOfDay(*to))
		}

		limit := c.QueryInt("limit", defaultLimit)
		if limit <= 0 || limit > maxLimit {
			limit = defaultLimit
		}

		var rows []movementRow
		if err := dbq.Limit(limit).Scan(&rows).Error; err != nil {
			return apiutil.DomainError(err, "Failed to list stock movements")
		}

		res := make([]MovementResponse, 0, len(rows))
		for _, r := range rows {
			res = append(res, MovementResponse{
				ID:          r.ID,
				ItemStockID: r.ItemStockID,
				ItemID:      r.ItemID,
				ProductCode: r.ProductCode,
				ItemName:    r.ItemName,
				FromState:   r.FromState,
				ToState:     r.ToState,
				Quantity:    r.Quantity,
				RefType:     r.RefType,
				RefID:       r.RefID,
				UserID:      r.UserID,
				UserName:    r.UserName,
				Note:        r.Note,
				CreatedAt:   r.CreatedAt.Format(apiutil.DateTimeLayout),
			})
		}
		return c.JSON(res)
	}
}
