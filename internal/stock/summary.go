package stock

import (
	"gorm.io/gorm"
)

type Totals struct {
	Pending     int `json:"pending"`
	InStorage   int `json:"in_storage"`
	OnBorrow    int `json:"on_borrow"`
	InClearance int `json:"in_clearance"`
	Seeded      int `json:"seeded"`
	Total       int `json:"total"`
}

// Add returns the field-wise sum of t and o.
func (t Totals) Add(o Totals) Totals {
	t.Pending += o.Pending
	t.InStorage += o.InStorage
	t.OnBorrow += o.OnBorrow
	t.InClearance += o.InClearance
	t.Seeded += o.Seeded
	t.Total += o.Total
	return t
}

// TotalsOf converts counters to display totals.
func TotalsOf(c Counters) Totals {
	return Totals{
		Pending:     c.Pending,
		InStorage:   c.InStorage,
		OnBorrow:    c.OnBorrow,
		InClearance: c.InClearance,
		Seeded:      c.Seeded,
		Total:       c.Total(),
	}
}

type ItemTotals struct {
	ItemID      uint   `json:"item_id"`
	ProductCode string `json:"product_code"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	Unit        string `json:"unit"`
	Totals
}

type summaryRow struct {
	ItemID      uint
	ProductCode string
	Name        string
	Category    string
	Unit        string
	Pending     int
	InStorage   int
	OnBorrow    int
	InClearance int
	Seeded      int
}

// SummaryFilter narrows Summary. Zero value means all non-archived items.
type SummaryFilter struct {
	ItemIDs         []uint
	IncludeArchived bool
}

// Summary aggregates stock counters per item and overall.
func Summary(db *gorm.DB, f SummaryFilter) ([]ItemTotals, Totals, error) {
	q := db.Table("item_stocks").
		Select(`item_stocks.item_id AS item_id, items.product_code AS product_code, items.name AS name,
			items.category AS category, items.unit AS unit,
			COALESCE(SUM(item_stocks.pending), 0) AS pending,
			COALESCE(SUM(item_stocks.in_storage), 0) AS in_storage,
			COALESCE(SUM(item_stocks.on_borrow), 0) AS on_borrow,
			COALESCE(SUM(item_stocks.in_clearance), 0) AS in_clearance,
			COALESCE(SUM(item_stocks.seeded), 0) AS seeded`).
		Joins("JOIN items ON items.id = item_stocks.item_id").
		Group("item_stocks.item_id, items.product_code, items.name, items.category, items.unit").
		Order("items.name ASC")

	if len(f.ItemIDs) > 0 {
		q = q.Where("item_stocks.item_id IN ?", f.ItemIDs)
	}
	if !f.IncludeArchived {
		q = q.Where("items.archived_at IS NULL")
	}

	var rows []summaryRow
	if err := q.Scan(&rows).Error; err != nil {
		return nil, Totals{}, err
	}

	var grand Totals
	out := make([]ItemTotals, 0, len(rows))
	for _, r := range rows {
		t := TotalsOf(Counters{
			Pending:     r.Pending,
			InStorage:   r.InStorage,
			OnBorrow:    r.OnBorrow,
			InClearance: r.InClearance,
			Seeded:      r.Seeded,
		})
		grand = grand.Add(t)
		out = append(out, ItemTotals{
			ItemID:      r.ItemID,
			ProductCode: r.ProductCode,
			Name:        r.Name,
			Category:    r.Category,
			Unit:        r.Unit,
			Totals:      t,
		})
	}
	return out, grand, nil
}
