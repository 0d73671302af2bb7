package stock

import (
	"context"

	"warehouse-backend/internal/metrics"

	"gorm.io/gorm"
)

type movedKey struct{}

type moved struct {
	from, to State
	qty      int
}

// Transaction runs fn in a database transaction. Units moved inside it are
// reported to metrics only once the transaction has committed.
func Transaction(db *gorm.DB, fn func(tx *gorm.DB) error) error {
	ctx := db.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}
	var log []moved
	if err := db.WithContext(context.WithValue(ctx, movedKey{}, &log)).Transaction(fn); err != nil {
		return err
	}
	for _, m := range log {
		metrics.StockMovedUnits.WithLabelValues(string(m.from), string(m.to)).Add(float64(m.qty))
	}
	return nil
}

// noteMove queues a move for reporting. Moves made outside Transaction are not
// reported.
func noteMove(tx *gorm.DB, from, to State, qty int) {
	ctx := tx.Statement.Context
	if ctx == nil {
		return
	}
	if log, ok := ctx.Value(movedKey{}).(*[]moved); ok {
		*log = append(*log, moved{from: from, to: to, qty: qty})
	}
}
