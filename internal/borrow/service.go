package borrow

import (
	"fmt"
	"time"

	"warehouse-backend/internal/models"
	"warehouse-backend/internal/stock"

	"gorm.io/gorm"
)

const refType = "borrow_request"

// moveLines moves the full quantity of every line between two stock states.
func moveLines(tx *gorm.DB, br *models.BorrowRequest, from, to stock.State, userID uint, note string) error {
	ids := make([]uint, len(br.Items))
	for i, it := range br.Items {
		ids[i] = it.ItemStockID
	}
	if _, err := stock.LockAll(tx, ids...); err != nil {
		return err
	}
	for _, it := range br.Items {
		if _, err := stock.Move(tx, stock.MoveInput{
			ItemStockID: it.ItemStockID, From: from, To: to, Qty: it.Quantity,
			RefType: refType, RefID: br.ID, UserID: userID, Note: note,
		}); err != nil {
			return fmt.Errorf("line %d (%d units): %w", it.ID, it.Quantity, err)
		}
	}
	return nil
}

// ReturnLine is the outcome of one borrowed line.
type ReturnLine struct {
	BorrowItemID uint
	ReturnedQty  int
	SeededQty    int
	Condition    models.ItemCondition
	Note         string
}

// applyReturn books returned units back into storage (under their returned
// condition) and lost or damaged ones into seeded. It reports whether anything
// was seeded.
func applyReturn(tx *gorm.DB, br *models.BorrowRequest, lines []ReturnLine, userID uint) (bool, error) {
	byID := make(map[uint]ReturnLine, len(lines))
	for _, l := range lines {
		if _, dup := byID[l.BorrowItemID]; dup {
			return false, fmt.Errorf("%w: line %d listed twice", stock.ErrInvalidMove, l.BorrowItemID)
		}
		byID[l.BorrowItemID] = l
	}
	if len(byID) != len(br.Items) {
		return false, fmt.Errorf("%w: every borrowed line must be returned", stock.ErrInvalidMove)
	}

	if err := lockReturn(tx, br, byID); err != nil {
		return false, err
	}

	seeded := false
	for i := range br.Items {
		it := &br.Items[i]
		l, ok := byID[it.ID]
		if !ok {
			return false, fmt.Errorf("%w: line %d missing from the return", stock.ErrInvalidMove, it.ID)
		}
		if l.ReturnedQty < 0 || l.SeededQty < 0 || l.ReturnedQty+l.SeededQty != it.Quantity {
			return false, fmt.Errorf("%w: line %d returns %d and seeds %d of %d units",
				stock.ErrInvalidMove, it.ID, l.ReturnedQty, l.SeededQty, it.Quantity)
		}

		if l.ReturnedQty > 0 {
			s, err := stock.Move(tx, stock.MoveInput{
				ItemStockID: it.ItemStockID, From: stock.OnBorrow, To: stock.InStorage, Qty: l.ReturnedQty,
				RefType: refType, RefID: br.ID, UserID: userID, Note: l.Note,
			})
			if err != nil {
				return false, err
			}
			if l.Condition != "" && l.Condition != s.Condition {
				if _, _, err := stock.Reclassify(tx, s.ID, l.Condition, l.ReturnedQty, refType, br.ID, userID, "returned as "+string(l.Condition)); err != nil {
					return false, err
				}
			}
		}
		if l.SeededQty > 0 {
			seeded = true
			if _, err := stock.Move(tx, stock.MoveInput{
				ItemStockID: it.ItemStockID, From: stock.OnBorrow, To: stock.Seeded, Qty: l.SeededQty,
				RefType: refType, RefID: br.ID, UserID: userID, Note: l.Note,
			}); err != nil {
				return false, err
			}
		}

		it.ReturnedQty = l.ReturnedQty
		it.SeededQty = l.SeededQty
		it.ReturnCondition = l.Condition
		it.Note = l.Note
		if err := tx.Model(it).
			Select("returned_qty", "seeded_qty", "return_condition", "note").
			Updates(it).Error; err != nil {
			return false, err
		}
	}
	return seeded, nil
}

// lockReturn locks every stock row a return touches, including the rows of
// another condition that returned units are reclassified into.
func lockReturn(tx *gorm.DB, br *models.BorrowRequest, byID map[uint]ReturnLine) error {
	ids := make([]uint, 0, len(br.Items))
	for _, it := range br.Items {
		ids = append(ids, it.ItemStockID)
		l := byID[it.ID]
		if l.ReturnedQty <= 0 || !l.Condition.Valid() {
			continue
		}
		var s models.ItemStock
		if err := tx.First(&s, "id = ?", it.ItemStockID).Error; err != nil {
			return err
		}
		if s.Condition == l.Condition {
			continue
		}
		dst, err := stock.FindOrCreate(tx, s.ItemID, s.BoxID, l.Condition)
		if err != nil {
			return err
		}
		ids = append(ids, dst.ID)
	}
	_, err := stock.LockAll(tx, ids...)
	return err
}

// FlagOverdue marks active loans whose due date has passed. It returns the
// number of newly flagged requests.
func FlagOverdue(db *gorm.DB, now time.Time) (int64, error) {
	res := db.Model(&models.BorrowRequest{}).
		Where("status = ? AND is_overdue = ? AND due_date < ?", models.BorrowActive, false, today(now)).
		Update("is_overdue", true)
	return res.RowsAffected, res.Error
}
