package models

import "time"

type BorrowStatus string

const (
	BorrowPendingManager BorrowStatus = "pending_manager"
	BorrowPendingStorage BorrowStatus = "pending_storage"
	BorrowApproved       BorrowStatus = "approved"
	BorrowActive         BorrowStatus = "active"
	BorrowComplete       BorrowStatus = "complete"
	BorrowSeeded         BorrowStatus = "seeded"
	BorrowReverted       BorrowStatus = "reverted"
	BorrowRejected       BorrowStatus = "rejected"
	BorrowCancelled      BorrowStatus = "cancelled"
)

type BorrowRequest struct {
	ID                uint         `gorm:"primaryKey" json:"id"`
	Code              string       `gorm:"size:32;uniqueIndex;not null" json:"code"`
	RequesterID       uint         `gorm:"index;not null" json:"requester_id"`
	Requester         User         `json:"-"`
	DepartmentID      *uint        `gorm:"index" json:"department_id"`
	Department        *Department  `json:"-"`
	Purpose           string       `gorm:"size:255;not null" json:"purpose"`
	StartDate         time.Time    `gorm:"not null" json:"start_date"`
	DueDate           time.Time    `gorm:"index;not null" json:"due_date"`
	Status            BorrowStatus `gorm:"size:20;not null;index" json:"status"`
	ManagerID         *uint        `json:"manager_id"`
	ManagerApprovedAt *time.Time   `json:"manager_approved_at"`
	StorageID         *uint        `json:"storage_id"`
	StorageApprovedAt *time.Time   `json:"storage_approved_at"`
	ActivatedAt       *time.Time   `json:"activated_at"`
	ReturnedAt        *time.Time   `json:"returned_at"`
	RejectReason      string       `gorm:"size:255" json:"reject_reason"`
	IsOverdue         bool         `gorm:"not null;default:false" json:"is_overdue"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`

	Items []BorrowRequestItem `gorm:"foreignKey:BorrowRequestID;constraint:OnDelete:CASCADE" json:"items"`
}

type BorrowRequestItem struct {
	ID              uint          `gorm:"primaryKey" json:"id"`
	BorrowRequestID uint          `gorm:"index;not null" json:"borrow_request_id"`
	ItemStockID     uint          `gorm:"index;not null" json:"item_stock_id"`
	ItemStock       ItemStock     `json:"-"`
	ItemID          uint          `gorm:"index;not null" json:"item_id"`
	Item            Item          `json:"-"`
	Quantity        int           `gorm:"not null" json:"quantity"`
	ReturnedQty     int           `gorm:"not null;default:0" json:"returned_qty"`
	SeededQty       int           `gorm:"not null;default:0" json:"seeded_qty"`
	ReturnCondition ItemCondition `gorm:"size:20" json:"return_condition"`
	Note            string        `gorm:"size:255" json:"note"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}
