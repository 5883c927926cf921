package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreditStatus is the lifecycle state of a credit.
type CreditStatus string

const (
	CreditPending      CreditStatus = "pending"
	CreditApproved     CreditStatus = "approved"
	CreditRejected     CreditStatus = "rejected"
	CreditActive       CreditStatus = "active"
	CreditPaid         CreditStatus = "paid"
	CreditDefaulted    CreditStatus = "defaulted"
	CreditRestructured CreditStatus = "restructured"
)

// DisbursementMethod is the channel used to release approved funds.
type DisbursementMethod string

const (
	DisburseMpesa        DisbursementMethod = "mpesa"
	DisburseEmola        DisbursementMethod = "emola"
	DisburseBankTransfer DisbursementMethod = "bank_transfer"
)

// Credit represents a loan contract between an institution and a client.
// MonthlyPayment and TotalPayable are derived once at approval and frozen
// for that approval.
type Credit struct {
	ID                 int64              `json:"id"`
	ClientID           int64              `json:"client_id"`
	InstitutionID      int64              `json:"institution_id"`
	Amount             decimal.Decimal    `json:"amount"`
	ApprovedAmount     decimal.Decimal    `json:"approved_amount"`
	InterestRate       decimal.Decimal    `json:"interest_rate"` // annual, percent
	Term               int                `json:"term"`          // months
	MonthlyPayment     decimal.Decimal    `json:"monthly_payment"`
	TotalPayable       decimal.Decimal    `json:"total_payable"`
	TotalPaid          decimal.Decimal    `json:"total_paid"`
	Status             CreditStatus       `json:"status"`
	Purpose            string             `json:"purpose"`
	Notes              string             `json:"notes,omitempty"`
	RequestedAt        time.Time          `json:"requested_at"`
	ApprovedAt         *time.Time         `json:"approved_at,omitempty"`
	ApprovedBy         int64              `json:"approved_by,omitempty"`
	RejectedAt         *time.Time         `json:"rejected_at,omitempty"`
	RejectedBy         int64              `json:"rejected_by,omitempty"`
	RejectionReason    string             `json:"rejection_reason,omitempty"`
	DisbursedAt        *time.Time         `json:"disbursed_at,omitempty"`
	DisbursementMethod DisbursementMethod `json:"disbursement_method,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// IsTerminalForRequest reports whether holding a credit in this status
// blocks the client from requesting another one.
func (s CreditStatus) IsTerminalForRequest() bool {
	return s == CreditActive || s == CreditDefaulted
}

// Money rounds a monetary value to 2 decimal places. Derived amounts
// are kept at full precision during calculation and rounded only when
// they are about to be persisted.
func Money(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
