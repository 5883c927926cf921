package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/mozlend/microcredit/internal/clock"
	"github.com/mozlend/microcredit/internal/metrics"
	"github.com/mozlend/microcredit/internal/models"
	"github.com/mozlend/microcredit/internal/notify"
	"github.com/mozlend/microcredit/internal/repository"
)

// allocRetries bounds the optimistic-concurrency retry loop on
// installment updates.
const allocRetries = 3

// PaymentService records payments and allocates them against
// installments and the credit aggregate.
type PaymentService struct {
	payments     repository.PaymentRepository
	installments repository.InstallmentRepository
	credits      repository.CreditRepository
	lifecycle    *CreditService
	notifier     *notify.Notifier
	metrics      *metrics.Collector
	clock        clock.Clock
	log          *logrus.Logger
}

func NewPaymentService(
	payments repository.PaymentRepository,
	installments repository.InstallmentRepository,
	credits repository.CreditRepository,
	lifecycle *CreditService,
	notifier *notify.Notifier,
	collector *metrics.Collector,
	clk clock.Clock,
	log *logrus.Logger,
) *PaymentService {
	return &PaymentService{
		payments:     payments,
		installments: installments,
		credits:      credits,
		lifecycle:    lifecycle,
		notifier:     notifier,
		metrics:      collector,
		clock:        clk,
		log:          log,
	}
}

// ApplyPaymentInput carries an incoming payment. ActorClientID is the
// paying client when the caller is a client (0 for staff).
// InstallmentID 0 targets the oldest outstanding installment.
// An empty TransactionRef gets a generated reference.
type ApplyPaymentInput struct {
	InstitutionID  int64
	ActorClientID  int64
	CreditID       int64
	InstallmentID  int64
	Amount         decimal.Decimal
	Method         models.PaymentMethod
	TransactionRef string
}

// ApplyPayment creates a completed payment and allocates it. The
// settlement is synchronous; gateway-confirmed flows go through
// InitiatePending and ReconcilePayment instead.
func (s *PaymentService) ApplyPayment(ctx context.Context, in ApplyPaymentInput) (*models.Payment, error) {
	payment, installment, err := s.preparePayment(ctx, in, models.PaymentCompleted)
	if err != nil {
		s.metrics.PaymentRejected()
		return nil, err
	}

	if err := s.settle(ctx, payment, installment); err != nil {
		return nil, err
	}
	return payment, nil
}

// InitiatePending records a pending payment awaiting gateway
// confirmation. No aggregates move until ReconcilePayment completes it.
func (s *PaymentService) InitiatePending(ctx context.Context, in ApplyPaymentInput) (*models.Payment, error) {
	payment, _, err := s.preparePayment(ctx, in, models.PaymentPending)
	if err != nil {
		s.metrics.PaymentRejected()
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"payment_id":      payment.ID,
		"transaction_ref": payment.TransactionRef,
	}).Info("Gateway payment initiated")
	return payment, nil
}

// ReconcileOutcome is the gateway's verdict on a pending payment.
type ReconcileOutcome string

const (
	OutcomeCompleted ReconcileOutcome = "completed"
	OutcomeFailed    ReconcileOutcome = "failed"
)

// ReconcilePayment flips a pending payment according to the gateway
// callback. Completing an already-completed payment is a no-op, so
// webhook retries cannot double-count.
func (s *PaymentService) ReconcilePayment(ctx context.Context, transactionRef string, outcome ReconcileOutcome, failureReason string) (*models.Payment, error) {
	payment, err := s.payments.GetByTransactionRef(ctx, transactionRef)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, transactionRef)
		}
		return nil, err
	}

	if payment.Status == models.PaymentCompleted {
		return payment, nil
	}
	if payment.Status != models.PaymentPending {
		return nil, fmt.Errorf("%w: payment %d is %s", ErrInvalidState, payment.ID, payment.Status)
	}

	switch outcome {
	case OutcomeFailed:
		payment.Status = models.PaymentFailed
		payment.FailureReason = failureReason
		if err := s.payments.UpdateIf(ctx, payment, models.PaymentPending); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return s.reconcileLoser(ctx, transactionRef)
			}
			return nil, err
		}
		s.log.WithField("transaction_ref", transactionRef).Warn("Gateway payment failed")
		return payment, nil
	case OutcomeCompleted:
		var installment *models.Installment
		if payment.InstallmentID != 0 {
			installment, err = s.installments.GetByID(ctx, payment.InstallmentID)
			if err != nil {
				return nil, err
			}
		}
		now := s.clock.Now()
		payment.Status = models.PaymentCompleted
		payment.ProcessedAt = &now
		// The conditional flip picks one winner among concurrent
		// callbacks; only the winner settles, so the amount is counted
		// into the aggregates exactly once.
		if err := s.payments.UpdateIf(ctx, payment, models.PaymentPending); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return s.reconcileLoser(ctx, transactionRef)
			}
			return nil, err
		}
		if err := s.settle(ctx, payment, installment); err != nil {
			return nil, err
		}
		return payment, nil
	default:
		return nil, validationErr("outcome", "must be completed or failed")
	}
}

// reconcileLoser reloads a payment whose conditional status flip lost
// to a concurrent callback. A payment that already reached a terminal
// status is returned as-is without settling again.
func (s *PaymentService) reconcileLoser(ctx context.Context, transactionRef string) (*models.Payment, error) {
	payment, err := s.payments.GetByTransactionRef(ctx, transactionRef)
	if err != nil {
		return nil, err
	}
	if payment.Status == models.PaymentPending {
		return nil, fmt.Errorf("%w: payment %d lost a concurrent reconciliation", ErrInvalidState, payment.ID)
	}
	s.log.WithFields(logrus.Fields{
		"payment_id":      payment.ID,
		"transaction_ref": transactionRef,
		"status":          payment.Status,
	}).Info("Gateway callback lost the reconciliation race")
	return payment, nil
}

// Get returns a payment scoped to the caller's institution.
func (s *PaymentService) Get(ctx context.Context, institutionID, paymentID int64) (*models.Payment, error) {
	payment, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: payment %d", ErrNotFound, paymentID)
		}
		return nil, err
	}
	if institutionID != 0 && payment.InstitutionID != institutionID {
		return nil, ErrTenantMismatch
	}
	return payment, nil
}

// ListByCredit returns the payments recorded against a credit.
func (s *PaymentService) ListByCredit(ctx context.Context, institutionID, creditID int64, page repository.Page) ([]*models.Payment, error) {
	if _, err := s.lifecycle.Get(ctx, institutionID, creditID); err != nil {
		return nil, err
	}
	return s.payments.ListByCredit(ctx, creditID, page)
}

// preparePayment validates the input, resolves the target installment
// and persists the payment record. Duplicate transaction references
// are rejected before any aggregate moves.
func (s *PaymentService) preparePayment(ctx context.Context, in ApplyPaymentInput, status models.PaymentStatus) (*models.Payment, *models.Installment, error) {
	if in.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, nil, validationErr("amount", "must be greater than zero")
	}
	switch in.Method {
	case models.PayMpesa, models.PayEmola, models.PayBankTransfer, models.PayCash:
	default:
		return nil, nil, validationErr("payment_method", "unknown method")
	}

	credit, err := s.credits.GetByID(ctx, in.CreditID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: credit %d", ErrNotFound, in.CreditID)
		}
		return nil, nil, err
	}
	if in.InstitutionID != 0 && credit.InstitutionID != in.InstitutionID {
		return nil, nil, ErrTenantMismatch
	}
	if in.ActorClientID != 0 && credit.ClientID != in.ActorClientID {
		return nil, nil, ErrForbidden
	}

	var installment *models.Installment
	if in.InstallmentID != 0 {
		installment, err = s.installments.GetByID(ctx, in.InstallmentID)
		if err != nil || installment.CreditID != credit.ID {
			return nil, nil, fmt.Errorf("%w: installment %d", ErrNotFound, in.InstallmentID)
		}
	} else {
		installment, err = s.oldestOutstanding(ctx, credit.ID)
		if err != nil {
			return nil, nil, err
		}
	}

	ref := in.TransactionRef
	if ref == "" {
		ref = "PAY-" + uuid.NewString()
	}

	now := s.clock.Now()
	payment := &models.Payment{
		CreditID:       credit.ID,
		ClientID:       credit.ClientID,
		InstitutionID:  credit.InstitutionID,
		Amount:         models.Money(in.Amount),
		Method:         in.Method,
		TransactionRef: ref,
		Status:         status,
	}
	if installment != nil {
		payment.InstallmentID = installment.ID
	}
	if status == models.PaymentCompleted {
		payment.ProcessedAt = &now
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, nil, fmt.Errorf("%w: %s", ErrDuplicateTransaction, ref)
		}
		return nil, nil, err
	}
	return payment, installment, nil
}

// settle moves the installment and credit aggregates for a completed
// payment and emits the confirmation notification.
func (s *PaymentService) settle(ctx context.Context, payment *models.Payment, installment *models.Installment) error {
	if installment != nil {
		if err := s.allocateToInstallment(ctx, installment, payment); err != nil {
			return err
		}
	}

	totalPaid, err := s.credits.AddToTotalPaid(ctx, payment.CreditID, payment.Amount)
	if err != nil {
		return err
	}

	credit, err := s.credits.GetByID(ctx, payment.CreditID)
	if err != nil {
		return err
	}
	if totalPaid.GreaterThanOrEqual(credit.TotalPayable) && credit.TotalPayable.GreaterThan(decimal.Zero) {
		if err := s.lifecycle.MarkPaid(ctx, credit.ID); err != nil && !errors.Is(err, repository.ErrConflict) {
			return err
		}
	}

	n := &models.Notification{
		ClientID:      payment.ClientID,
		InstitutionID: payment.InstitutionID,
		Type:          models.NotifyPaymentConfirmed,
		Title:         "Payment Confirmed",
		Message:       fmt.Sprintf("Your payment of %s was processed successfully.", payment.Amount.StringFixed(2)),
		Metadata: map[string]interface{}{
			"payment_id": payment.ID,
			"credit_id":  payment.CreditID,
		},
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.log.Warnf("Failed to record payment confirmation for payment %d: %v", payment.ID, err)
	}

	s.metrics.PaymentProcessed()
	s.log.WithFields(logrus.Fields{
		"payment_id":      payment.ID,
		"credit_id":       payment.CreditID,
		"amount":          payment.Amount,
		"transaction_ref": payment.TransactionRef,
	}).Info("Payment settled")
	return nil
}

// allocateToInstallment adds the payment to the installment under
// optimistic concurrency. The paid amount is capped at the total due;
// the excess stays recorded on the payment and the credit aggregate.
func (s *PaymentService) allocateToInstallment(ctx context.Context, installment *models.Installment, payment *models.Payment) error {
	for attempt := 0; ; attempt++ {
		paid := installment.PaidAmount.Add(payment.Amount)
		if paid.GreaterThan(installment.TotalAmount) {
			paid = installment.TotalAmount
		}
		installment.PaidAmount = models.Money(paid)
		installment.PaymentIDs = append(installment.PaymentIDs, payment.ID)

		if installment.PaidAmount.GreaterThanOrEqual(installment.TotalAmount) {
			installment.Status = models.InstallmentPaid
			paidAt := s.clock.Now()
			installment.PaidAt = &paidAt
			installment.DaysPastDue = 0
		} else if installment.Status != models.InstallmentOverdue {
			installment.Status = models.InstallmentPartiallyPaid
		}

		err := s.installments.Update(ctx, installment)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrConflict) || attempt >= allocRetries {
			return fmt.Errorf("failed to allocate payment %d to installment %d: %w", payment.ID, installment.ID, err)
		}

		fresh, rerr := s.installments.GetByID(ctx, installment.ID)
		if rerr != nil {
			return rerr
		}
		installment = fresh
	}
}

// oldestOutstanding picks the lowest-numbered installment still owing.
func (s *PaymentService) oldestOutstanding(ctx context.Context, creditID int64) (*models.Installment, error) {
	outstanding, err := s.installments.Find(ctx, repository.InstallmentFilter{
		CreditID: creditID,
		Statuses: []models.InstallmentStatus{
			models.InstallmentPending,
			models.InstallmentPartiallyPaid,
			models.InstallmentOverdue,
		},
	}, repository.Page{})
	if err != nil {
		return nil, err
	}
	if len(outstanding) == 0 {
		return nil, nil
	}
	oldest := outstanding[0]
	for _, inst := range outstanding[1:] {
		if inst.Number < oldest.Number {
			oldest = inst
		}
	}
	return oldest, nil
}
