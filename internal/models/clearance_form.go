package models

import "time"

type ClearanceFormStatus string

const (
	FormDraft     ClearanceFormStatus = "draft"
	FormPending   ClearanceFormStatus = "pending"
	FormApproved  ClearanceFormStatus = "approved"
	FormRejected  ClearanceFormStatus = "rejected"
	FormProcessed ClearanceFormStatus = "processed"
)

type ClearanceForm struct {
	ID           uint                `gorm:"primaryKey" json:"id"`
	FormNumber   string              `gorm:"size:32;uniqueIndex;not null" json:"form_number"`
	Title        string              `gorm:"size:150;not null" json:"title"`
	Description  string              `gorm:"size:500" json:"description"`
	Status       ClearanceFormStatus `gorm:"size:20;not null;index" json:"status"`
	CreatedBy    uint                `gorm:"index;not null" json:"created_by"`
	ApprovedBy   *uint               `json:"approved_by"`
	ApprovedAt   *time.Time          `json:"approved_at"`
	ProcessedBy  *uint               `json:"processed_by"`
	ProcessedAt  *time.Time          `json:"processed_at"`
	RejectReason string              `gorm:"size:255" json:"reject_reason"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`

	Items []ClearanceFormItem `gorm:"foreignKey:ClearanceFormID;constraint:OnDelete:CASCADE" json:"items"`
}

type ClearanceFormItem struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	ClearanceFormID uint      `gorm:"index;not null" json:"clearance_form_id"`
	ItemStockID     uint      `gorm:"index;not null" json:"item_stock_id"`
	ItemStock       ItemStock `json:"-"`
	ItemID          uint      `gorm:"index;not null" json:"item_id"`
	Item            Item      `json:"-"`
	Quantity        int       `gorm:"not null" json:"quantity"`
	Note            string    `gorm:"size:255" json:"note"`
	CreatedAt       time.Time `json:"created_at"`
}

// ClearedItem: historical snapshot written when a clearance form is processed.
// Denormalized so it survives later changes to items, boxes and locations.
type ClearedItem struct {
	ID              uint          `gorm:"primaryKey" json:"id"`
	ClearanceFormID uint          `gorm:"index;not null" json:"clearance_form_id"`
	FormNumber      string        `gorm:"size:32;index;not null" json:"form_number"`
	ItemID          uint          `gorm:"index" json:"item_id"`
	ProductCode     string        `gorm:"size:64;index" json:"product_code"`
	ItemName        string        `gorm:"size:200" json:"item_name"`
	Category        string        `gorm:"size:100" json:"category"`
	BoxCode         string        `gorm:"size:50" json:"box_code"`
	LocationName    string        `gorm:"size:100" json:"location_name"`
	Condition       ItemCondition `gorm:"size:20" json:"condition"`
	Quantity        int           `gorm:"not null" json:"quantity"`
	ClearedBy       uint          `json:"cleared_by"`
	ClearedAt       time.Time     `gorm:"index" json:"cleared_at"`
}
