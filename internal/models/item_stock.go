package models

import "time"

type ItemCondition string

const (
	ConditionGood    ItemCondition = "good"
	ConditionFair    ItemCondition = "fair"
	ConditionDamaged ItemCondition = "damaged"
)

func (c ItemCondition) Valid() bool {
	switch c {
	case ConditionGood, ConditionFair, ConditionDamaged:
		return true
	}
	return false
}

// ItemStock: per (item, box, condition) quantity counters split by state.
// Counters are only changed through the stock package.
type ItemStock struct {
	ID        uint          `gorm:"primaryKey" json:"id"`
	ItemID    uint          `gorm:"not null;uniqueIndex:idx_item_box_condition" json:"item_id"`
	Item      Item          `json:"-"`
	BoxID     *uint         `gorm:"uniqueIndex:idx_item_box_condition" json:"box_id"`
	Box       *Box          `json:"-"`
	Condition ItemCondition `gorm:"size:20;not null;default:'good';uniqueIndex:idx_item_box_condition" json:"condition"`

	Pending     int `gorm:"not null;default:0" json:"pending"`
	InStorage   int `gorm:"not null;default:0" json:"in_storage"`
	OnBorrow    int `gorm:"not null;default:0" json:"on_borrow"`
	InClearance int `gorm:"not null;default:0" json:"in_clearance"`
	Seeded      int `gorm:"not null;default:0" json:"seeded"`

	// Received - Removed equals the sum of the state counters.
	Received int `gorm:"not null;default:0" json:"received"`
	Removed  int `gorm:"not null;default:0" json:"removed"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
