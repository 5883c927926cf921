package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// InstallmentStatus is the repayment state of a single installment.
type InstallmentStatus string

const (
	InstallmentPending       InstallmentStatus = "pending"
	InstallmentPartiallyPaid InstallmentStatus = "partially_paid"
	InstallmentPaid          InstallmentStatus = "paid"
	InstallmentOverdue       InstallmentStatus = "overdue"
)

// Installment is one scheduled periodic payment obligation within a
// credit. Version supports optimistic concurrency on updates.
type Installment struct {
	ID             int64             `json:"id"`
	CreditID       int64             `json:"credit_id"`
	InstitutionID  int64             `json:"institution_id"`
	Number         int               `json:"installment_number"` // 1-based
	DueDate        time.Time         `json:"due_date"`
	Amount         decimal.Decimal   `json:"amount"` // base amount, excludes late fee
	Principal      decimal.Decimal   `json:"principal"`
	Interest       decimal.Decimal   `json:"interest"`
	LateFee        decimal.Decimal   `json:"late_fee"`
	TotalAmount    decimal.Decimal   `json:"total_amount"` // amount + late fee
	PaidAmount     decimal.Decimal   `json:"paid_amount"`
	Status         InstallmentStatus `json:"status"`
	DaysPastDue    int               `json:"days_past_due"`
	PaidAt         *time.Time        `json:"paid_at,omitempty"`
	ReminderSentAt *time.Time        `json:"reminder_sent_at,omitempty"`
	PaymentIDs     []int64           `json:"payment_ids,omitempty"`
	Version        int64             `json:"version"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// RecomputeTotal rederives TotalAmount from the base amount and the
// current late fee. Must be called whenever LateFee changes.
func (i *Installment) RecomputeTotal() {
	i.TotalAmount = Money(i.Amount.Add(i.LateFee))
}

// CalculateDaysPastDue returns whole days elapsed since the due date,
// rounded up, or 0 when the installment is paid or not yet due.
func (i *Installment) CalculateDaysPastDue(now time.Time) int {
	if i.Status == InstallmentPaid || !now.After(i.DueDate) {
		return 0
	}
	elapsed := now.Sub(i.DueDate)
	days := int(elapsed / (24 * time.Hour))
	if elapsed%(24*time.Hour) != 0 {
		days++
	}
	return days
}

// IsOutstanding reports whether the installment still carries an
// unpaid obligation.
func (i *Installment) IsOutstanding() bool {
	return i.Status == InstallmentPending || i.Status == InstallmentPartiallyPaid
}
