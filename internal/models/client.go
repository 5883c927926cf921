package models

import "time"

// RiskProfile classifies a borrower.
type RiskProfile string

const (
	RiskLow    RiskProfile = "low"
	RiskMedium RiskProfile = "medium"
	RiskHigh   RiskProfile = "high"
)

// Client is a borrower belonging to one institution. The credit score
// is maintained externally and treated as opaque here.
type Client struct {
	ID            int64       `json:"id"`
	InstitutionID int64       `json:"institution_id"`
	Name          string      `json:"name"`
	Email         string      `json:"email"`
	Phone         string      `json:"phone"`
	IsVerified    bool        `json:"is_verified"`
	CreditScore   int         `json:"credit_score"` // 0-1000
	RiskProfile   RiskProfile `json:"risk_profile"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}
