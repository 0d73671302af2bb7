package jubelio

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"warehouse-backend/internal/stock"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type StockLine struct {
	ProductCode string `json:"product_code"`
	Name        string `json:"name"`
	Quantity    int    `json:"quantity"`
}

type StockPayload struct {
	GeneratedAt string      `json:"generated_at"`
	Items       []StockLine `json:"items"`
}

// BuildStockPayload lists the available (in storage) quantity per product
// code of every active item.
func BuildStockPayload(db *gorm.DB, now time.Time) (StockPayload, error) {
	items, _, err := stock.Summary(db, stock.SummaryFilter{})
	if err != nil {
		return StockPayload{}, fmt.Errorf("stock summary: %w", err)
	}
	p := StockPayload{
		GeneratedAt: now.UTC().Format(time.RFC3339),
		Items:       make([]StockLine, 0, len(items)),
	}
	for _, it := range items {
		p.Items = append(p.Items, StockLine{ProductCode: it.ProductCode, Name: it.Name, Quantity: it.InStorage})
	}
	return p, nil
}

// Sync pushes the current stock payload. The number of lines sent is
// returned along with the ERP's answer.
func Sync(ctx context.Context, db *gorm.DB, c *Client) (int, *Result, error) {
	if c == nil {
		return 0, nil, ErrNotConfigured
	}
	p, err := BuildStockPayload(db, time.Now())
	if err != nil {
		return 0, nil, err
	}
	body, err := json.Marshal(p)
	if err != nil {
		return 0, nil, fmt.Errorf("encode stock payload: %w", err)
	}
	res, err := c.Push(ctx, body)
	if err != nil {
		return len(p.Items), nil, err
	}
	if !res.OK() {
		zap.L().Warn("jubelio rejected stock sync", zap.Int("lines", len(p.Items)), zap.String("answer", describe(res)))
	}
	return len(p.Items), res, nil
}
