package models

import "time"

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// ItemRequest: intake approval. Units wait in the pending counter until reviewed.
type ItemRequest struct {
	ID           uint          `gorm:"primaryKey" json:"id"`
	ItemID       uint          `gorm:"index;not null" json:"item_id"`
	Item         Item          `json:"-"`
	ItemStockID  uint          `gorm:"index;not null" json:"item_stock_id"`
	ItemStock    ItemStock     `json:"-"`
	Quantity     int           `gorm:"not null" json:"quantity"`
	Status       RequestStatus `gorm:"size:20;not null;index" json:"status"`
	RequestedBy  uint          `gorm:"index;not null" json:"requested_by"`
	ReviewedBy   *uint         `json:"reviewed_by"`
	ReviewedAt   *time.Time    `json:"reviewed_at"`
	Note         string        `gorm:"size:255" json:"note"`
	RejectReason string        `gorm:"size:255" json:"reject_reason"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}
