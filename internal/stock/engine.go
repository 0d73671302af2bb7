package stock

import (
	"errors"
	"fmt"
	"sort"

	"warehouse-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Reference types recorded on movements.
const (
	RefItemRequest = "item_request"
	RefTransfer    = "transfer"
)

type MoveInput struct {
	ItemStockID uint
	From        State
	To          State
	Qty         int
	RefType     string // "item_request", "borrow_request", "clearance", ...
	RefID       uint
	UserID      uint
	Note        string
}

var counterColumns = []string{"pending", "in_storage", "on_borrow", "in_clearance", "seeded", "received", "removed"}

// Lock loads a stock row with a row lock. Must be called inside a transaction.
func Lock(tx *gorm.DB, id uint) (*models.ItemStock, error) {
	var s models.ItemStock
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&s, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
		}
		return nil, err
	}
	return &s, nil
}

// Move applies one transition to a locked stock row and appends a StockMovement.
func Move(tx *gorm.DB, in MoveInput) (*models.ItemStock, error) {
	s, err := Lock(tx, in.ItemStockID)
	if err != nil {
		return nil, err
	}

	c := FromModel(s)
	if err := Apply(&c, in.From, in.To, in.Qty); err != nil {
		return nil, fmt.Errorf("stock %d: %w", s.ID, err)
	}
	c.ApplyTo(s)

	if err := tx.Model(s).Select(counterColumns).Updates(s).Error; err != nil {
		return nil, fmt.Errorf("update stock %d: %w", s.ID, err)
	}

	mv := models.StockMovement{
		ItemStockID: s.ID,
		ItemID:      s.ItemID,
		FromState:   string(in.From),
		ToState:     string(in.To),
		Quantity:    in.Qty,
		RefType:     in.RefType,
		RefID:       in.RefID,
		UserID:      in.UserID,
		Note:        in.Note,
	}
	if err := tx.Create(&mv).Error; err != nil {
		return nil, fmt.Errorf("record movement: %w", err)
	}

	noteMove(tx, in.From, in.To, in.Qty)
	return s, nil
}

// FindOrCreate returns the stock row for (item, box, condition), creating an empty one.
func FindOrCreate(tx *gorm.DB, itemID uint, boxID *uint, cond models.ItemCondition) (*models.ItemStock, error) {
	q := tx.Where("item_id = ? AND condition = ?", itemID, cond)
	if boxID == nil {
		q = q.Where("box_id IS NULL")
	} else {
		q = q.Where("box_id = ?", *boxID)
	}

	var s models.ItemStock
	err := q.First(&s).Error
	if err == nil {
		return &s, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	s = models.ItemStock{ItemID: itemID, BoxID: boxID, Condition: cond}
	if err := tx.Create(&s).Error; err != nil {
		return nil, fmt.Errorf("create stock: %w", err)
	}
	return &s, nil
}

// LockAll locks the given stock rows in ascending id order, so transactions
// touching the same rows cannot wait on each other in a cycle. Duplicate ids
// are locked once.
func LockAll(tx *gorm.DB, ids ...uint) (map[uint]*models.ItemStock, error) {
	sorted := append([]uint(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	out := make(map[uint]*models.ItemStock, len(sorted))
	for _, id := range sorted {
		if _, done := out[id]; done {
			continue
		}
		s, err := Lock(tx, id)
		if err != nil {
			return nil, err
		}
		out[id] = s
	}
	return out, nil
}

func load(tx *gorm.DB, id uint) (*models.ItemStock, error) {
	var s models.ItemStock
	if err := tx.First(&s, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
		}
		return nil, err
	}
	return &s, nil
}

// movePair books qty units out of src (from -> removed) and into dst
// (intake -> in_storage) after locking both rows in id order.
func movePair(tx *gorm.DB, srcID, dstID uint, from State, qty int, refType string, srcRef, dstRef, userID uint, note string) (src, dst *models.ItemStock, err error) {
	if _, err := LockAll(tx, srcID, dstID); err != nil {
		return nil, nil, err
	}
	src, err = Move(tx, MoveInput{
		ItemStockID: srcID, From: from, To: Removed, Qty: qty,
		RefType: refType, RefID: srcRef, UserID: userID, Note: note,
	})
	if err != nil {
		return nil, nil, err
	}
	dst, err = Move(tx, MoveInput{
		ItemStockID: dstID, From: Intake, To: InStorage, Qty: qty,
		RefType: refType, RefID: dstRef, UserID: userID, Note: note,
	})
	if err != nil {
		return nil, nil, err
	}
	return src, dst, nil
}

// Transfer moves in-storage units of a stock into another box. The target row
// (same item and condition) is created when missing.
func Transfer(tx *gorm.DB, stockID, targetBoxID uint, qty int, userID uint, note string) (src, dst *models.ItemStock, err error) {
	src, err = load(tx, stockID)
	if err != nil {
		return nil, nil, err
	}
	if src.BoxID != nil && *src.BoxID == targetBoxID {
		return nil, nil, fmt.Errorf("%w: stock %d is already in box %d", ErrInvalidMove, stockID, targetBoxID)
	}

	target := targetBoxID
	dst, err = FindOrCreate(tx, src.ItemID, &target, src.Condition)
	if err != nil {
		return nil, nil, err
	}
	return movePair(tx, src.ID, dst.ID, InStorage, qty, RefTransfer, dst.ID, src.ID, userID, note)
}

// Reclassify moves in-storage units of a stock to the row with the same item and
// box but another condition, e.g. a loan that came back damaged.
func Reclassify(tx *gorm.DB, stockID uint, cond models.ItemCondition, qty int, refType string, refID, userID uint, note string) (src, dst *models.ItemStock, err error) {
	src, err = load(tx, stockID)
	if err != nil {
		return nil, nil, err
	}
	if src.Condition == cond {
		return src, src, nil
	}
	if !cond.Valid() {
		return nil, nil, fmt.Errorf("%w: unknown condition %q", ErrInvalidMove, cond)
	}

	dst, err = FindOrCreate(tx, src.ItemID, src.BoxID, cond)
	if err != nil {
		return nil, nil, err
	}
	return movePair(tx, src.ID, dst.ID, InStorage, qty, refType, refID, refID, userID, note)
}

// DetachBox clears box_id on the stock rows of a box that is about to be
// deleted. It fails with ErrInsufficient if any row still holds units.
func DetachBox(tx *gorm.DB, boxID uint) error {
	var held int64
	if err := tx.Model(&models.ItemStock{}).
		Where("box_id = ? AND received > removed", boxID).
		Count(&held).Error; err != nil {
		return err
	}
	if held > 0 {
		return fmt.Errorf("%w: box %d still holds units", ErrInsufficient, boxID)
	}
	return tx.Model(&models.ItemStock{}).Where("box_id = ?", boxID).Update("box_id", nil).Error
}
