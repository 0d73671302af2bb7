package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"warehouse-backend/internal/database"
	"warehouse-backend/internal/models"
	"warehouse-backend/internal/stock"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Entity types written to the audit log.
const (
	EntityLocation      = "location"
	EntityBox           = "box"
	EntityDepartment    = "department"
	EntityItem          = "item"
	EntityUser          = "user"
	EntityItemImage     = "item_image"
	EntityItemStock     = "item_stock"
	EntityItemRequest   = "item_request"
	EntityBorrowRequest = "borrow_request"
	EntityItemClearance = "item_clearance"
	EntityClearanceForm = "clearance_form"
)

var (
	ErrAlreadyUndone = errors.New("this change was already undone")
	ErrNotUndoable   = errors.New("this change cannot be undone")
	ErrInUse         = errors.New("the record is referenced by other data")
)

type LogOptions struct {
	// Tx is used when the log must commit with the change it describes.
	Tx          *gorm.DB
	UserID      uint
	UserName    string
	EntityType  string
	EntityID    uint
	Action      models.AuditAction
	Description string
	Before      any
	After       any
}

func snapshot(v any) string {
	if v == nil {
		return "null"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func WriteLog(opts LogOptions) error {
	db := opts.Tx
	if db == nil {
		db = database.DB
	}

	log := models.AuditLog{
		UserID:      opts.UserID,
		UserName:    opts.UserName,
		EntityType:  opts.EntityType,
		EntityID:    opts.EntityID,
		Action:      opts.Action,
		Description: opts.Description,
		BeforeData:  snapshot(opts.Before),
		AfterData:   snapshot(opts.After),
	}
	if err := db.Create(&log).Error; err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// undoable describes master data that can be restored from a snapshot.
type undoable struct {
	model   func() any
	columns []string
	inUse   func(tx *gorm.DB, id uint) (bool, error)
	// release runs before an undone create is deleted.
	release func(tx *gorm.DB, id uint) error
}

func exists(tx *gorm.DB, model any, query string, args ...any) (bool, error) {
	var n int64
	if err := tx.Model(model).Where(query, args...).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

var undoables = map[string]undoable{
	EntityLocation: {
		model:   func() any { return &models.Location{} },
		columns: []string{"name", "description"},
		inUse: func(tx *gorm.DB, id uint) (bool, error) {
			return exists(tx, &models.Box{}, "location_id = ?", id)
		},
	},
	EntityBox: {
		model:   func() any { return &models.Box{} },
		columns: []string{"code", "name", "location_id", "description"},
		inUse: func(tx *gorm.DB, id uint) (bool, error) {
			return exists(tx, &models.ItemStock{}, "box_id = ? AND received > removed", id)
		},
		release: stock.DetachBox,
	},
	EntityDepartment: {
		model:   func() any { return &models.Department{} },
		columns: []string{"name", "code"},
		inUse: func(tx *gorm.DB, id uint) (bool, error) {
			if used, err := exists(tx, &models.User{}, "department_id = ?", id); err != nil || used {
				return used, err
			}
			return exists(tx, &models.BorrowRequest{}, "department_id = ?", id)
		},
	},
	EntityItem: {
		model:   func() any { return &models.Item{} },
		columns: []string{"product_code", "name", "category", "unit", "description", "archived_at"},
		inUse: func(tx *gorm.DB, id uint) (bool, error) {
			return exists(tx, &models.ItemStock{}, "item_id = ?", id)
		},
	},
}

// Undoable reports whether logs of entityType support undo.
func Undoable(entityType string) bool {
	_, ok := undoables[entityType]
	return ok
}

// UndoLog reverts a create, update or delete of master data and records an
// "undo" entry. The log row is locked so the same change cannot be undone twice.
func UndoLog(logID, userID uint, userName string) error {
	return database.DB.Transaction(func(tx *gorm.DB) error {
		var log models.AuditLog
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&log, "id = ?", logID).Error; err != nil {
			return err
		}
		if log.IsUndone {
			return ErrAlreadyUndone
		}
		u, ok := undoables[log.EntityType]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotUndoable, log.EntityType)
		}

		switch log.Action {
		case models.AuditActionCreate:
			used, err := u.inUse(tx, log.EntityID)
			if err != nil {
				return err
			}
			if used {
				return ErrInUse
			}
			if u.release != nil {
				if err := u.release(tx, log.EntityID); err != nil {
					return err
				}
			}
			if err := tx.Delete(u.model(), "id = ?", log.EntityID).Error; err != nil {
				return fmt.Errorf("delete %s %d: %w", log.EntityType, log.EntityID, err)
			}

		case models.AuditActionUpdate:
			m, err := decode(u, log.BeforeData)
			if err != nil {
				return err
			}
			res := tx.Model(u.model()).Where("id = ?", log.EntityID).Select(u.columns).Updates(m)
			if res.Error != nil {
				return fmt.Errorf("restore %s %d: %w", log.EntityType, log.EntityID, res.Error)
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("%w: %s %d no longer exists", ErrNotUndoable, log.EntityType, log.EntityID)
			}

		case models.AuditActionDelete:
			m, err := decode(u, log.BeforeData)
			if err != nil {
				return err
			}
			taken, err := exists(tx, u.model(), "id = ?", log.EntityID)
			if err != nil {
				return err
			}
			if taken {
				return fmt.Errorf("%w: %s %d exists again", ErrNotUndoable, log.EntityType, log.EntityID)
			}
			if err := tx.Create(m).Error; err != nil {
				return fmt.Errorf("recreate %s: %w", log.EntityType, err)
			}

		default:
			return fmt.Errorf("%w: action %s", ErrNotUndoable, log.Action)
		}

		now := time.Now()
		if err := tx.Model(&log).Updates(map[string]any{
			"is_undone": true,
			"undone_by": userID,
			"undone_at": now,
		}).Error; err != nil {
			return fmt.Errorf("mark log undone: %w", err)
		}

		return tx.Create(&models.AuditLog{
			UserID:      userID,
			UserName:    userName,
			EntityType:  log.EntityType,
			EntityID:    log.EntityID,
			Action:      models.AuditActionUndo,
			Description: "Undone: " + log.Description,
			BeforeData:  log.AfterData,
			AfterData:   log.BeforeData,
		}).Error
	})
}

func decode(u undoable, data string) (any, error) {
	if data == "" || data == "null" {
		return nil, fmt.Errorf("%w: no snapshot stored", ErrNotUndoable)
	}
	m := u.model()
	if err := json.Unmarshal([]byte(data), m); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return m, nil
}
