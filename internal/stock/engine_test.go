package stock_test

import (
	"errors"
	"testing"

	"warehouse-backend/internal/database/dbtest"
	"warehouse-backend/internal/metrics"
	"warehouse-backend/internal/models"
	"warehouse-backend/internal/stock"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func seedItemAndBoxes(t *testing.T, db *gorm.DB) (models.Item, models.Box, models.Box) {
	t.Helper()
	loc := models.Location{Name: "Gudang A"}
	if err := db.Create(&loc).Error; err != nil {
		t.Fatalf("create location: %v", err)
	}
	b1 := models.Box{Code: "BX-01", LocationID: loc.ID}
	b2 := models.Box{Code: "BX-02", LocationID: loc.ID}
	if err := db.Create(&b1).Error; err != nil {
		t.Fatalf("create box: %v", err)
	}
	if err := db.Create(&b2).Error; err != nil {
		t.Fatalf("create box: %v", err)
	}
	item := models.Item{ProductCode: "SKU-001", Name: "Tripod", Unit: "pcs"}
	if err := db.Create(&item).Error; err != nil {
		t.Fatalf("create item: %v", err)
	}
	return item, b1, b2
}

func TestMove_UpdatesCountersAndLogsMovement(t *testing.T) {
	db := dbtest.New(t)
	item, box, _ := seedItemAndBoxes(t, db)

	err := db.Transaction(func(tx *gorm.DB) error {
		s, err := stock.FindOrCreate(tx, item.ID, &box.ID, models.ConditionGood)
		if err != nil {
			return err
		}
		if _, err := stock.Move(tx, stock.MoveInput{ItemStockID: s.ID, From: stock.Intake, To: stock.Pending, Qty: 8, RefType: "item_request", RefID: 1, UserID: 7}); err != nil {
			return err
		}
		_, err = stock.Move(tx, stock.MoveInput{ItemStockID: s.ID, From: stock.Pending, To: stock.InStorage, Qty: 8, RefType: "item_request", RefID: 1, UserID: 7})
		return err
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	var s models.ItemStock
	if err := db.First(&s, "item_id = ?", item.ID).Error; err != nil {
		t.Fatalf("load stock: %v", err)
	}
	if s.InStorage != 8 || s.Pending != 0 || s.Received != 8 {
		t.Errorf("unexpected counters: %+v", s)
	}

	var count int64
	db.Model(&models.StockMovement{}).Where("item_stock_id = ?", s.ID).Count(&count)
	if count != 2 {
		t.Errorf("expected 2 movements, got %d", count)
	}
}

func TestMove_InsufficientRollsBack(t *testing.T) {
	db := dbtest.New(t)
	item, box, _ := seedItemAndBoxes(t, db)

	var stockID uint
	err := db.Transaction(func(tx *gorm.DB) error {
		s, err := stock.FindOrCreate(tx, item.ID, &box.ID, models.ConditionGood)
		if err != nil {
			return err
		}
		stockID = s.ID
		_, err = stock.Move(tx, stock.MoveInput{ItemStockID: s.ID, From: stock.Intake, To: stock.InStorage, Qty: 3})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if _, err := stock.Move(tx, stock.MoveInput{ItemStockID: stockID, From: stock.InStorage, To: stock.OnBorrow, Qty: 2}); err != nil {
			return err
		}
		_, err := stock.Move(tx, stock.MoveInput{ItemStockID: stockID, From: stock.InStorage, To: stock.OnBorrow, Qty: 2})
		return err
	})
	if !errors.Is(err, stock.ErrInsufficient) {
		t.Fatalf("expected ErrInsufficient, got %v", err)
	}

	var s models.ItemStock
	db.First(&s, stockID)
	if s.InStorage != 3 || s.OnBorrow != 0 {
		t.Errorf("expected rollback to keep 3 in storage, got %+v", s)
	}
}

func TestMove_UnknownStock(t *testing.T) {
	db := dbtest.New(t)
	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := stock.Move(tx, stock.MoveInput{ItemStockID: 999, From: stock.InStorage, To: stock.OnBorrow, Qty: 1})
		return err
	})
	if !errors.Is(err, stock.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTransfer(t *testing.T) {
	db := dbtest.New(t)
	item, b1, b2 := seedItemAndBoxes(t, db)

	var srcID uint
	if err := db.Transaction(func(tx *gorm.DB) error {
		s, err := stock.FindOrCreate(tx, item.ID, &b1.ID, models.ConditionGood)
		if err != nil {
			return err
		}
		srcID = s.ID
		_, err = stock.Move(tx, stock.MoveInput{ItemStockID: s.ID, From: stock.Intake, To: stock.InStorage, Qty: 10})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var src, dst *models.ItemStock
	if err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		src, dst, err = stock.Transfer(tx, srcID, b2.ID, 4, 1, "reorganize")
		return err
	}); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	if src.InStorage != 6 || src.Removed != 4 {
		t.Errorf("unexpected source counters: %+v", src)
	}
	if dst.InStorage != 4 || dst.Received != 4 || dst.BoxID == nil || *dst.BoxID != b2.ID {
		t.Errorf("unexpected target counters: %+v", dst)
	}
	if err := stock.FromModel(src).Check(); err != nil {
		t.Errorf("source out of balance: %v", err)
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		_, _, err := stock.Transfer(tx, srcID, b1.ID, 1, 1, "")
		return err
	})
	if !errors.Is(err, stock.ErrInvalidMove) {
		t.Errorf("expected ErrInvalidMove for same box, got %v", err)
	}
}

func TestSummary(t *testing.T) {
	db := dbtest.New(t)
	item, b1, b2 := seedItemAndBoxes(t, db)

	if err := db.Transaction(func(tx *gorm.DB) error {
		for _, b := range []models.Box{b1, b2} {
			s, err := stock.FindOrCreate(tx, item.ID, &b.ID, models.ConditionGood)
			if err != nil {
				return err
			}
			if _, err := stock.Move(tx, stock.MoveInput{ItemStockID: s.ID, From: stock.Intake, To: stock.InStorage, Qty: 5}); err != nil {
				return err
			}
			if _, err := stock.Move(tx, stock.MoveInput{ItemStockID: s.ID, From: stock.InStorage, To: stock.OnBorrow, Qty: 2}); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rows, grand, err := stock.Summary(db, stock.SummaryFilter{})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 item row, got %d", len(rows))
	}
	if rows[0].InStorage != 6 || rows[0].OnBorrow != 4 || rows[0].Total != 10 {
		t.Errorf("unexpected item totals: %+v", rows[0])
	}
	if grand.Total != 10 {
		t.Errorf("expected grand total 10, got %d", grand.Total)
	}
}

func TestReclassify(t *testing.T) {
	db := dbtest.New(t)
	item, box, _ := seedItemAndBoxes(t, db)

	var src, dst *models.ItemStock
	err := db.Transaction(func(tx *gorm.DB) error {
		s, err := stock.FindOrCreate(tx, item.ID, &box.ID, models.ConditionGood)
		if err != nil {
			return err
		}
		if _, err := stock.Move(tx, stock.MoveInput{ItemStockID: s.ID, From: stock.Intake, To: stock.InStorage, Qty: 5}); err != nil {
			return err
		}
		src, dst, err = stock.Reclassify(tx, s.ID, models.ConditionDamaged, 2, "borrow_request", 1, 1, "")
		return err
	})
	if err != nil {
		t.Fatalf("reclassify: %v", err)
	}
	if src.InStorage != 3 || src.Removed != 2 {
		t.Errorf("unexpected source %+v", src)
	}
	if dst.Condition != models.ConditionDamaged || dst.InStorage != 2 || *dst.BoxID != box.ID {
		t.Errorf("unexpected target %+v", dst)
	}
	for _, s := range []*models.ItemStock{src, dst} {
		if err := stock.FromModel(s).Check(); err != nil {
			t.Errorf("stock %d out of balance: %v", s.ID, err)
		}
	}
}

// recordLocks collects the ids of item_stocks rows read with a row lock.
func recordLocks(t *testing.T, db *gorm.DB) *[]uint {
	t.Helper()
	var ids []uint
	err := db.Callback().Query().After("gorm:query").Register("test:record_locks", func(d *gorm.DB) {
		if d.Statement.Table != "item_stocks" {
			return
		}
		if _, locked := d.Statement.Clauses["FOR"]; !locked || len(d.Statement.Vars) == 0 {
			return
		}
		if id, ok := d.Statement.Vars[0].(uint); ok {
			ids = append(ids, id)
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}
	return &ids
}

func TestTransfer_LocksRowsInIDOrder(t *testing.T) {
	db := dbtest.New(t)
	item, b1, b2 := seedItemAndBoxes(t, db)

	// The target row is older than the source, so it has the lower id.
	var srcID, dstID uint
	if err := db.Transaction(func(tx *gorm.DB) error {
		dst, err := stock.FindOrCreate(tx, item.ID, &b2.ID, models.ConditionGood)
		if err != nil {
			return err
		}
		src, err := stock.FindOrCreate(tx, item.ID, &b1.ID, models.ConditionGood)
		if err != nil {
			return err
		}
		srcID, dstID = src.ID, dst.ID
		_, err = stock.Move(tx, stock.MoveInput{ItemStockID: src.ID, From: stock.Intake, To: stock.InStorage, Qty: 5})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if dstID >= srcID {
		t.Fatalf("fixture expects target id %d below source id %d", dstID, srcID)
	}

	locks := recordLocks(t, db)
	if err := db.Transaction(func(tx *gorm.DB) error {
		_, _, err := stock.Transfer(tx, srcID, b2.ID, 5, 1, "")
		return err
	}); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	if len(*locks) < 2 || (*locks)[0] != dstID || (*locks)[1] != srcID {
		t.Errorf("expected rows locked as [%d %d ...], got %v", dstID, srcID, *locks)
	}
}

func TestTransaction_ReportsMovesAfterCommit(t *testing.T) {
	db := dbtest.New(t)
	item, box, _ := seedItemAndBoxes(t, db)

	var stockID uint
	if err := db.Transaction(func(tx *gorm.DB) error {
		s, err := stock.FindOrCreate(tx, item.ID, &box.ID, models.ConditionGood)
		if err != nil {
			return err
		}
		stockID = s.ID
		_, err = stock.Move(tx, stock.MoveInput{ItemStockID: s.ID, From: stock.Intake, To: stock.InStorage, Qty: 5})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	counter := metrics.StockMovedUnits.WithLabelValues(string(stock.InStorage), string(stock.OnBorrow))
	before := testutil.ToFloat64(counter)

	errAbort := errors.New("abort")
	err := stock.Transaction(db, func(tx *gorm.DB) error {
		if _, err := stock.Move(tx, stock.MoveInput{ItemStockID: stockID, From: stock.InStorage, To: stock.OnBorrow, Qty: 3}); err != nil {
			return err
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("expected the abort error, got %v", err)
	}
	if got := testutil.ToFloat64(counter) - before; got != 0 {
		t.Errorf("rolled back move was reported: delta %v", got)
	}

	if err := stock.Transaction(db, func(tx *gorm.DB) error {
		_, err := stock.Move(tx, stock.MoveInput{ItemStockID: stockID, From: stock.InStorage, To: stock.OnBorrow, Qty: 2})
		return err
	}); err != nil {
		t.Fatalf("move: %v", err)
	}
	if got := testutil.ToFloat64(counter) - before; got != 2 {
		t.Errorf("expected delta 2 after commit, got %v", got)
	}
}

func TestLockAll_SortsAndSkipsDuplicates(t *testing.T) {
	db := dbtest.New(t)
	item, b1, b2 := seedItemAndBoxes(t, db)

	var ids []uint
	if err := db.Transaction(func(tx *gorm.DB) error {
		for _, b := range []models.Box{b1, b2} {
			s, err := stock.FindOrCreate(tx, item.ID, &b.ID, models.ConditionGood)
			if err != nil {
				return err
			}
			ids = append(ids, s.ID)
		}
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	locks := recordLocks(t, db)
	var got map[uint]*models.ItemStock
	if err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		got, err = stock.LockAll(tx, ids[1], ids[0], ids[1])
		return err
	}); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 locked rows, got %d", len(got))
	}
	if len(*locks) != 2 || (*locks)[0] != ids[0] || (*locks)[1] != ids[1] {
		t.Errorf("expected lock order %v, got %v", ids, *locks)
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := stock.LockAll(tx, ids[0], 999)
		return err
	})
	if !errors.Is(err, stock.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
