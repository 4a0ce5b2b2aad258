package models

import (
	"time"

	"github.com/uptrace/bun"
)

type User struct {
	bun.BaseModel `bun:"table:users"`

	ID              string    `bun:"id,pk" json:"id"`
	Email           string    `bun:"email,nullzero" json:"email"`
	FullName        string    `bun:"full_name,notnull,default:''" json:"full_name"`
	IsEmailVerified bool      `bun:"is_email_verified,notnull,default:false" json:"is_email_verified"`
	CreatedAt       time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

type PushDevice struct {
	bun.BaseModel `bun:"table:push_devices"`

	ID          int64     `bun:"id,pk,autoincrement" json:"id"`
	UserID      string    `bun:"user_id,notnull" json:"user_id"`
	DeviceToken string    `bun:"device_token,notnull" json:"device_token"`
	DeviceType  string    `bun:"device_type,notnull" json:"device_type"` // web, android, ios
	IsActive    bool      `bun:"is_active,notnull,default:true" json:"is_active"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}
