package models

import "time"

// User is an identity record. UserName is unique and compared case-sensitively.
type User struct {
	ID           string    `yaml:"id"`
	UserName     string    `yaml:"username"`
	PasswordHash string    `yaml:"password_hash"`
	CreatedAt    time.Time `yaml:"created_at"`
}
