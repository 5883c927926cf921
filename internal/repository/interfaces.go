package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mozlend/microcredit/internal/models"
)

var (
	ErrNotFound  = errors.New("entity not found")
	ErrDuplicate = errors.New("duplicate entity")
	// ErrConflict is returned by versioned updates when the stored
	// record changed since it was read, and by conditional status
	// updates whose precondition no longer holds.
	ErrConflict = errors.New("concurrent modification conflict")
)

// Page bounds a filtered query.
type Page struct {
	Number int
	Size   int
}

// Offset converts the page to a slice offset. Page numbers are 1-based.
func (p Page) Offset() int {
	if p.Number < 1 {
		return 0
	}
	return (p.Number - 1) * p.Size
}

// CreditFilter selects credits. Zero values mean "any".
type CreditFilter struct {
	InstitutionID int64
	ClientID      int64
	Statuses      []models.CreditStatus
}

// InstallmentFilter selects installments. DueBefore is exclusive;
// DueOn matches a single calendar day.
type InstallmentFilter struct {
	InstitutionID int64
	CreditID      int64
	Statuses      []models.InstallmentStatus
	DueBefore     *time.Time
	DueOn         *time.Time
}

type InstitutionRepository interface {
	Create(ctx context.Context, inst *models.Institution) error
	GetByID(ctx context.Context, id int64) (*models.Institution, error)
	Update(ctx context.Context, inst *models.Institution) error
	ListActive(ctx context.Context) ([]*models.Institution, error)
}

type ClientRepository interface {
	Create(ctx context.Context, client *models.Client) error
	GetByID(ctx context.Context, id int64) (*models.Client, error)
	Update(ctx context.Context, client *models.Client) error
}

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

type CreditRepository interface {
	Create(ctx context.Context, credit *models.Credit) error
	GetByID(ctx context.Context, id int64) (*models.Credit, error)
	Update(ctx context.Context, credit *models.Credit) error
	Find(ctx context.Context, filter CreditFilter, page Page) ([]*models.Credit, error)

	// UpdateStatusIf transitions the stored status from "from" to "to"
	// only when the stored value still equals "from". Returns
	// ErrConflict when the precondition fails.
	UpdateStatusIf(ctx context.Context, id int64, from, to models.CreditStatus) error

	// UpdateIf applies the full record only when the stored status
	// still equals expect, so a status transition and its stamps land
	// in one conditional write. Returns ErrConflict when the
	// precondition fails.
	UpdateIf(ctx context.Context, credit *models.Credit, expect models.CreditStatus) error

	// AddToTotalPaid atomically increments the credit's running total
	// paid and returns the new aggregate.
	AddToTotalPaid(ctx context.Context, id int64, amount decimal.Decimal) (decimal.Decimal, error)
}

type InstallmentRepository interface {
	// CreateBatch persists a full installment set atomically; partial
	// sets must never be observable.
	CreateBatch(ctx context.Context, installments []*models.Installment) error
	GetByID(ctx context.Context, id int64) (*models.Installment, error)
	Find(ctx context.Context, filter InstallmentFilter, page Page) ([]*models.Installment, error)

	// Update applies the record only when its Version matches the
	// stored one, then bumps the version. Returns ErrConflict on a
	// stale write.
	Update(ctx context.Context, inst *models.Installment) error
}

type PaymentRepository interface {
	// Create persists a payment, enforcing transaction reference
	// uniqueness within the institution. Returns ErrDuplicate on a
	// reference collision.
	Create(ctx context.Context, payment *models.Payment) error
	GetByID(ctx context.Context, id int64) (*models.Payment, error)
	GetByTransactionRef(ctx context.Context, ref string) (*models.Payment, error)
	Update(ctx context.Context, payment *models.Payment) error

	// UpdateIf applies the record only when the stored status still
	// equals expect. Returns ErrConflict when the precondition fails,
	// which lets concurrent gateway callbacks resolve to one winner.
	UpdateIf(ctx context.Context, payment *models.Payment, expect models.PaymentStatus) error

	ListByCredit(ctx context.Context, creditID int64, page Page) ([]*models.Payment, error)
}

type NotificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	ListByClient(ctx context.Context, clientID int64, page Page) ([]*models.Notification, error)
	MarkRead(ctx context.Context, id int64, at time.Time) error
}
