package models

import "time"

// StockMovement: append-only log of quantity transitions between stock states.
type StockMovement struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ItemStockID uint      `gorm:"index;not null" json:"item_stock_id"`
	ItemID      uint      `gorm:"index;not null" json:"item_id"`
	FromState   string    `gorm:"size:20;not null" json:"from_state"`
	ToState     string    `gorm:"size:20;not null" json:"to_state"`
	Quantity    int       `gorm:"not null" json:"quantity"`
	RefType     string    `gorm:"size:30;index:idx_movement_ref" json:"ref_type"`
	RefID       uint      `gorm:"index:idx_movement_ref" json:"ref_id"`
	UserID      uint      `gorm:"index" json:"user_id"`
	Note        string    `gorm:"size:255" json:"note"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}
