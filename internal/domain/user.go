package domain

import "time"

// RoleUser is granted to every registered account.
const RoleUser = "USER"

// User is an operator account allowed to read telemetry and resolve incidents.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash []byte
	Roles        []string
	CreatedAt    time.Time
}
