package models

import "time"

type UserRole string

const (
	RoleAdmin   UserRole = "admin"
	RoleManager UserRole = "manager"
	RoleStorage UserRole = "storage"
	RoleUser    UserRole = "user"
)

// Valid reports whether r is one of the known roles.
func (r UserRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleStorage, RoleUser:
		return true
	}
	return false
}

type User struct {
	ID           uint        `gorm:"primaryKey" json:"id"`
	DepartmentID *uint       `gorm:"index" json:"department_id"`
	Department   *Department `json:"-"`
	Name         string      `gorm:"size:100;not null" json:"name"`
	Email        string      `gorm:"size:100;uniqueIndex;not null" json:"email"`
	PasswordHash string      `gorm:"size:255;not null" json:"-"`
	Role         UserRole    `gorm:"size:20;not null" json:"role"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}
