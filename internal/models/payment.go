package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod is the channel funds arrived through.
type PaymentMethod string

const (
	PayMpesa        PaymentMethod = "mpesa"
	PayEmola        PaymentMethod = "emola"
	PayBankTransfer PaymentMethod = "bank_transfer"
	PayCash         PaymentMethod = "cash"
)

// PaymentStatus is the settlement state of a payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
)

// Payment is an immutable record of funds received against a credit.
// TransactionRef is unique within an institution; once completed, the
// payment's contribution to installment and credit aggregates is
// permanent.
type Payment struct {
	ID             int64           `json:"id"`
	CreditID       int64           `json:"credit_id"`
	InstallmentID  int64           `json:"installment_id,omitempty"`
	ClientID       int64           `json:"client_id"`
	InstitutionID  int64           `json:"institution_id"`
	Amount         decimal.Decimal `json:"amount"`
	Method         PaymentMethod   `json:"payment_method"`
	TransactionRef string          `json:"transaction_ref"`
	Status         PaymentStatus   `json:"status"`
	FailureReason  string          `json:"failure_reason,omitempty"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}
