package models

import "time"

// ItemClearance: request to move units of a stock into the clearance bucket.
type ItemClearance struct {
	ID          uint          `gorm:"primaryKey" json:"id"`
	ItemStockID uint          `gorm:"index;not null" json:"item_stock_id"`
	ItemStock   ItemStock     `json:"-"`
	ItemID      uint          `gorm:"index;not null" json:"item_id"`
	Item        Item          `json:"-"`
	Quantity    int           `gorm:"not null" json:"quantity"`
	Source      string        `gorm:"size:20;not null" json:"source"` // in_storage | seeded
	Reason      string        `gorm:"size:255;not null" json:"reason"`
	Status      RequestStatus `gorm:"size:20;not null;index" json:"status"`
	RequestedBy uint          `gorm:"index;not null" json:"requested_by"`
	ReviewedBy  *uint         `json:"reviewed_by"`
	ReviewedAt  *time.Time    `json:"reviewed_at"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}
