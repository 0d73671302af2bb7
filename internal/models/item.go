package models

import "time"

// Item: catalog product, keyed by product code.
type Item struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	ProductCode string     `gorm:"size:64;not null;uniqueIndex" json:"product_code"`
	Name        string     `gorm:"size:200;not null" json:"name"`
	Category    string     `gorm:"size:100;index" json:"category"`
	Unit        string     `gorm:"size:20;not null;default:'pcs'" json:"unit"`
	Description string     `gorm:"size:500" json:"description"`
	ArchivedAt  *time.Time `gorm:"index" json:"archived_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	Stocks []ItemStock `gorm:"foreignKey:ItemID" json:"-"`
	Images []ItemImage `gorm:"foreignKey:ItemID;constraint:OnDelete:CASCADE" json:"-"`
}

type ItemImage struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	ItemID       uint      `gorm:"index;not null" json:"item_id"`
	FileName     string    `gorm:"size:100;not null" json:"file_name"`
	OriginalName string    `gorm:"size:255" json:"original_name"`
	ContentType  string    `gorm:"size:50" json:"content_type"`
	Size         int64     `json:"size"`
	CreatedAt    time.Time `json:"created_at"`
}
