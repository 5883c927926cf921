package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Institution represents a lending organization (tenant). All clients,
// credits, installments, payments and notifications belong to exactly
// one institution.
type Institution struct {
	ID                  int64           `json:"id"`
	Name                string          `json:"name"`
	Email               string          `json:"email"`
	Phone               string          `json:"phone"`
	Currency            string          `json:"currency"`
	MinLoanAmount       decimal.Decimal `json:"min_loan_amount"`
	MaxLoanAmount       decimal.Decimal `json:"max_loan_amount"`
	DefaultInterestRate decimal.Decimal `json:"default_interest_rate"` // annual, percent
	LateFeePercentage   decimal.Decimal `json:"late_fee_percentage"`
	IsActive            bool            `json:"is_active"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}
