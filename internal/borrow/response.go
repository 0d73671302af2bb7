package borrow

import (
	"time"

	"warehouse-backend/internal/apiutil"
	"warehouse-backend/internal/database"
	"warehouse-backend/internal/models"

	"gorm.io/gorm"
)

type BorrowItemResponse struct {
	ID              uint                 `json:"id"`
	ItemStockID     uint                 `json:"item_stock_id"`
	ItemID          uint                 `json:"item_id"`
	ProductCode     string               `json:"product_code"`
	ItemName        string               `json:"item_name"`
	BoxCode         string               `json:"box_code"`
	Condition       models.ItemCondition `json:"condition"`
	Quantity        int                  `json:"quantity"`
	ReturnedQty     int                  `json:"returned_qty"`
	SeededQty       int                  `json:"seeded_qty"`
	ReturnCondition models.ItemCondition `json:"return_condition"`
	Note            string               `json:"note"`
}

type BorrowResponse struct {
	ID                uint                 `json:"id"`
	Code              string               `json:"code"`
	RequesterID       uint                 `json:"requester_id"`
	RequesterName     string               `json:"requester_name"`
	DepartmentID      *uint                `json:"department_id"`
	DepartmentName    string               `json:"department_name"`
	Purpose           string               `json:"purpose"`
	StartDate         string               `json:"start_date"`
	DueDate           string               `json:"due_date"`
	Status            models.BorrowStatus  `json:"status"`
	ManagerID         *uint                `json:"manager_id"`
	ManagerApprovedAt *string              `json:"manager_approved_at"`
	StorageID         *uint                `json:"storage_id"`
	StorageApprovedAt *string              `json:"storage_approved_at"`
	ActivatedAt       *string              `json:"activated_at"`
	ReturnedAt        *string              `json:"returned_at"`
	RejectReason      string               `json:"reject_reason"`
	IsOverdue         bool                 `json:"is_overdue"`
	TotalQuantity     int                  `json:"total_quantity"`
	Items             []BorrowItemResponse `json:"items"`
	CreatedAt         string               `json:"created_at"`
}

// withDetails preloads everything a BorrowResponse needs.
func withDetails(db *gorm.DB) *gorm.DB {
	return db.Preload("Requester").Preload("Department").
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Preload("Items.Item").Preload("Items.ItemStock.Box")
}

func loadDetailed(id uint) (models.BorrowRequest, error) {
	var br models.BorrowRequest
	err := withDetails(database.DB).First(&br, "id = ?", id).Error
	return br, err
}

// Overdue reports whether an active loan is past its due date at now.
// Dates are stored as UTC midnights.
func Overdue(br models.BorrowRequest, now time.Time) bool {
	if br.Status != models.BorrowActive {
		return br.IsOverdue
	}
	return br.IsOverdue || today(now).After(br.DueDate)
}

func today(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func toResponse(br models.BorrowRequest, now time.Time) BorrowResponse {
	res := BorrowResponse{
		ID:                br.ID,
		Code:              br.Code,
		RequesterID:       br.RequesterID,
		RequesterName:     br.Requester.Name,
		DepartmentID:      br.DepartmentID,
		Purpose:           br.Purpose,
		StartDate:         br.StartDate.Format(apiutil.DateLayout),
		DueDate:           br.DueDate.Format(apiutil.DateLayout),
		Status:            br.Status,
		ManagerID:         br.ManagerID,
		ManagerApprovedAt: apiutil.FormatTime(br.ManagerApprovedAt),
		StorageID:         br.StorageID,
		StorageApprovedAt: apiutil.FormatTime(br.StorageApprovedAt),
		ActivatedAt:       apiutil.FormatTime(br.ActivatedAt),
		ReturnedAt:        apiutil.FormatTime(br.ReturnedAt),
		RejectReason:      br.RejectReason,
		IsOverdue:         Overdue(br, now),
		Items:             make([]BorrowItemResponse, 0, len(br.Items)),
		CreatedAt:         br.CreatedAt.Format(apiutil.DateTimeLayout),
	}
	if br.Department != nil {
		res.DepartmentName = br.Department.Name
	}
	for _, it := range br.Items {
		ir := BorrowItemResponse{
			ID:              it.ID,
			ItemStockID:     it.ItemStockID,
			ItemID:          it.ItemID,
			ProductCode:     it.Item.ProductCode,
			ItemName:        it.Item.Name,
			Condition:       it.ItemStock.Condition,
			Quantity:        it.Quantity,
			ReturnedQty:     it.ReturnedQty,
			SeededQty:       it.SeededQty,
			ReturnCondition: it.ReturnCondition,
			Note:            it.Note,
		}
		if it.ItemStock.Box != nil {
			ir.BoxCode = it.ItemStock.Box.Code
		}
		res.TotalQuantity += it.Quantity
		res.Items = append(res.Items, ir)
	}
	return res
}
