package models

import "time"

// Location: physical storage area (room, rack, warehouse). Contains boxes.
type Location struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"size:100;not null;unique" json:"name"`
	Description string    `gorm:"size:255" json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Boxes []Box `gorm:"foreignKey:LocationID" json:"-"`
}

// Box: container inside a location. Item stock references a box.
type Box struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Code        string    `gorm:"size:50;not null;uniqueIndex" json:"code"`
	Name        string    `gorm:"size:100" json:"name"`
	LocationID  uint      `gorm:"index;not null" json:"location_id"`
	Location    Location  `json:"-"`
	Description string    `gorm:"size:255" json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
