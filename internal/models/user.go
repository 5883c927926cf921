package models

import "time"

// User is a staff member of an institution (admin side of the API).
type User struct {
	ID            int64     `json:"id"`
	InstitutionID int64     `json:"institution_id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"-"`
	Role          string    `json:"role"`
	CreatedAt     time.Time `json:"created_at"`
}
