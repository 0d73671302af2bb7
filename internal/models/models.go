package models

// All lists every model in migration order.
func All() []any {
	return []any{
		&Department{},
		&User{},
		&Location{},
		&Box{},
		&Item{},
		&ItemImage{},
		&ItemStock{},
		&ItemRequest{},
		&BorrowRequest{},
		&BorrowRequestItem{},
		&ItemClearance{},
		&StockMovement{},
		&ClearanceForm{},
		&ClearanceFormItem{},
		&ClearedItem{},
		&AuditLog{},
	}
}
