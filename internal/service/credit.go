package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/mozlend/microcredit/internal/clock"
	"github.com/mozlend/microcredit/internal/models"
	"github.com/mozlend/microcredit/internal/notify"
	"github.com/mozlend/microcredit/internal/repository"
)

// CreditService implements the credit lifecycle state machine:
// pending -> approved -> active -> {paid, defaulted, restructured},
// with pending -> rejected as the terminal rejection branch. Every
// transition is guarded against the stored status via a conditional
// update, so concurrent callers resolve to exactly one winner.
type CreditService struct {
	credits      repository.CreditRepository
	installments repository.InstallmentRepository
	clients      repository.ClientRepository
	institutions repository.InstitutionRepository
	notifier     *notify.Notifier
	clock        clock.Clock
	log          *logrus.Logger

	// rateMu guards defaultInterestRate, which the rate refresh job
	// replaces while request handlers read it.
	rateMu              sync.RWMutex
	defaultInterestRate decimal.Decimal
}

func NewCreditService(
	credits repository.CreditRepository,
	installments repository.InstallmentRepository,
	clients repository.ClientRepository,
	institutions repository.InstitutionRepository,
	notifier *notify.Notifier,
	clk clock.Clock,
	log *logrus.Logger,
	defaultInterestRate decimal.Decimal,
) *CreditService {
	return &CreditService{
		credits:             credits,
		installments:        installments,
		clients:             clients,
		institutions:        institutions,
		notifier:            notifier,
		clock:               clk,
		log:                 log,
		defaultInterestRate: defaultInterestRate,
	}
}

// RequestInput carries a client's credit application.
type RequestInput struct {
	InstitutionID int64
	ClientID      int64
	Amount        decimal.Decimal
	Term          int
	Purpose       string
}

var minRequestAmount = decimal.NewFromInt(1000)

// Request creates a pending credit for a verified client without an
// outstanding loan. The interest rate is fixed at request time from
// the institution's settings.
func (s *CreditService) Request(ctx context.Context, in RequestInput) (*models.Credit, error) {
	if in.Term < MinTermMonths || in.Term > MaxTermMonths {
		return nil, validationErr("term", "must be between 1 and 36 months")
	}
	if in.Purpose == "" {
		return nil, validationErr("purpose", "is required")
	}

	inst, err := s.institutions.GetByID(ctx, in.InstitutionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: institution %d", ErrNotFound, in.InstitutionID)
		}
		return nil, err
	}

	minAmount := minRequestAmount
	if inst.MinLoanAmount.GreaterThan(decimal.Zero) {
		minAmount = inst.MinLoanAmount
	}
	if in.Amount.LessThan(minAmount) {
		return nil, validationErr("amount", fmt.Sprintf("minimum credit amount is %s %s", minAmount.StringFixed(2), inst.Currency))
	}
	if inst.MaxLoanAmount.GreaterThan(decimal.Zero) && in.Amount.GreaterThan(inst.MaxLoanAmount) {
		return nil, validationErr("amount", fmt.Sprintf("maximum credit amount is %s %s", inst.MaxLoanAmount.StringFixed(2), inst.Currency))
	}

	client, err := s.clients.GetByID(ctx, in.ClientID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: client %d", ErrNotFound, in.ClientID)
		}
		return nil, err
	}
	if client.InstitutionID != in.InstitutionID {
		return nil, ErrTenantMismatch
	}
	if !client.IsVerified {
		return nil, ErrUnverified
	}

	outstanding, err := s.credits.Find(ctx, repository.CreditFilter{
		InstitutionID: in.InstitutionID,
		ClientID:      in.ClientID,
		Statuses:      []models.CreditStatus{models.CreditActive, models.CreditDefaulted},
	}, repository.Page{})
	if err != nil {
		return nil, err
	}
	if len(outstanding) > 0 {
		return nil, ErrActiveLoanExists
	}

	rate := inst.DefaultInterestRate
	if rate.LessThanOrEqual(decimal.Zero) {
		rate = s.DefaultInterestRate()
	}

	credit := &models.Credit{
		ClientID:      in.ClientID,
		InstitutionID: in.InstitutionID,
		Amount:        models.Money(in.Amount),
		InterestRate:  rate,
		Term:          in.Term,
		Status:        models.CreditPending,
		Purpose:       in.Purpose,
		RequestedAt:   s.clock.Now(),
	}
	if err := s.credits.Create(ctx, credit); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"credit_id":      credit.ID,
		"client_id":      client.ID,
		"institution_id": inst.ID,
		"amount":         credit.Amount,
	}).Info("Credit requested")
	return credit, nil
}

// Approve transitions a pending credit to approved, fixes the derived
// payment figures and creates the full installment set. A zero
// approvedAmount defaults to the requested amount.
func (s *CreditService) Approve(ctx context.Context, institutionID, creditID int64, approvedAmount decimal.Decimal, approverID int64) (*models.Credit, error) {
	credit, err := s.getScoped(ctx, institutionID, creditID)
	if err != nil {
		return nil, err
	}

	amount := approvedAmount
	if amount.LessThanOrEqual(decimal.Zero) {
		amount = credit.Amount
	}

	amort, err := Amortize(amount, credit.InterestRate, credit.Term)
	if err != nil {
		return nil, err
	}

	// The conditional update is the approval guard: of any number of
	// concurrent approvals, exactly one observes pending. Status and
	// stamps land in the same write, so an interleaved transition can
	// never be clobbered by a stale write-back.
	now := s.clock.Now()
	credit.Status = models.CreditApproved
	credit.ApprovedAmount = models.Money(amount)
	credit.MonthlyPayment = models.Money(amort.MonthlyPayment)
	credit.TotalPayable = models.Money(amort.TotalPayable)
	credit.ApprovedAt = &now
	credit.ApprovedBy = approverID
	if err := s.credits.UpdateIf(ctx, credit, models.CreditPending); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: only pending credits can be approved", ErrInvalidState)
		}
		return nil, err
	}

	if err := s.installments.CreateBatch(ctx, BuildSchedule(credit, amort, now)); err != nil {
		return nil, fmt.Errorf("failed to create installment schedule: %w", err)
	}

	s.notifyClient(ctx, credit, models.NotifyCreditApproved, "Credit Approved",
		fmt.Sprintf("Your credit of %s was approved. Monthly payment: %s over %d months.",
			credit.ApprovedAmount.StringFixed(2), credit.MonthlyPayment.StringFixed(2), credit.Term),
		map[string]interface{}{"credit_id": credit.ID})

	s.log.WithFields(logrus.Fields{
		"credit_id":       credit.ID,
		"approved_amount": credit.ApprovedAmount,
		"monthly_payment": credit.MonthlyPayment,
	}).Info("Credit approved")
	return credit, nil
}

// Reject transitions a pending credit to rejected.
func (s *CreditService) Reject(ctx context.Context, institutionID, creditID int64, reason string, rejecterID int64) (*models.Credit, error) {
	credit, err := s.getScoped(ctx, institutionID, creditID)
	if err != nil {
		return nil, err
	}

	if reason == "" {
		reason = "Not specified"
	}
	now := s.clock.Now()
	credit.Status = models.CreditRejected
	credit.RejectedAt = &now
	credit.RejectedBy = rejecterID
	credit.RejectionReason = reason
	if err := s.credits.UpdateIf(ctx, credit, models.CreditPending); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: only pending credits can be rejected", ErrInvalidState)
		}
		return nil, err
	}

	s.notifyClient(ctx, credit, models.NotifyCreditRejected, "Credit Rejected",
		fmt.Sprintf("Your credit request was rejected: %s", reason),
		map[string]interface{}{"credit_id": credit.ID})

	s.log.WithField("credit_id", credit.ID).Info("Credit rejected")
	return credit, nil
}

// Disburse releases approved funds and activates the loan.
func (s *CreditService) Disburse(ctx context.Context, institutionID, creditID int64, method models.DisbursementMethod) (*models.Credit, error) {
	switch method {
	case "":
		method = models.DisburseMpesa
	case models.DisburseMpesa, models.DisburseEmola, models.DisburseBankTransfer:
	default:
		return nil, validationErr("disbursement_method", "unknown method")
	}

	credit, err := s.getScoped(ctx, institutionID, creditID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	credit.Status = models.CreditActive
	credit.DisbursedAt = &now
	credit.DisbursementMethod = method
	if err := s.credits.UpdateIf(ctx, credit, models.CreditApproved); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: only approved credits can be disbursed", ErrInvalidState)
		}
		return nil, err
	}

	s.notifyClient(ctx, credit, models.NotifyCreditDisbursed, "Credit Disbursed",
		fmt.Sprintf("Your credit of %s has been disbursed via %s. First installment is due %s.",
			credit.ApprovedAmount.StringFixed(2), method, now.AddDate(0, 1, 0).Format("2006-01-02")),
		map[string]interface{}{"credit_id": credit.ID})

	s.log.WithFields(logrus.Fields{"credit_id": credit.ID, "method": method}).Info("Credit disbursed")
	return credit, nil
}

// MarkPaid closes an active credit whose total paid reached the total
// payable. Invoked by the payment allocator.
func (s *CreditService) MarkPaid(ctx context.Context, creditID int64) error {
	if err := s.credits.UpdateStatusIf(ctx, creditID, models.CreditActive, models.CreditPaid); err != nil {
		return err
	}
	credit, err := s.credits.GetByID(ctx, creditID)
	if err != nil {
		return err
	}
	s.notifyClient(ctx, credit, models.NotifyCreditPaid, "Credit Fully Paid",
		"Congratulations! Your credit has been fully repaid.",
		map[string]interface{}{"credit_id": credit.ID})
	s.log.WithField("credit_id", creditID).Info("Credit fully paid")
	return nil
}

// MarkDefaulted escalates an active credit to defaulted. Invoked by
// the delinquency scanner, which emits the overdue notice itself.
func (s *CreditService) MarkDefaulted(ctx context.Context, creditID int64) error {
	if err := s.credits.UpdateStatusIf(ctx, creditID, models.CreditActive, models.CreditDefaulted); err != nil {
		return err
	}
	s.log.WithField("credit_id", creditID).Warn("Credit marked as defaulted")
	return nil
}

// Get returns a credit scoped to the caller's institution.
func (s *CreditService) Get(ctx context.Context, institutionID, creditID int64) (*models.Credit, error) {
	return s.getScoped(ctx, institutionID, creditID)
}

// List returns the institution's credits, optionally filtered by
// client and status.
func (s *CreditService) List(ctx context.Context, institutionID, clientID int64, status models.CreditStatus, page repository.Page) ([]*models.Credit, error) {
	filter := repository.CreditFilter{InstitutionID: institutionID, ClientID: clientID}
	if status != "" {
		filter.Statuses = []models.CreditStatus{status}
	}
	return s.credits.Find(ctx, filter, page)
}

// Installments returns the credit's schedule ordered by sequence.
func (s *CreditService) Installments(ctx context.Context, institutionID, creditID int64) ([]*models.Installment, error) {
	if _, err := s.getScoped(ctx, institutionID, creditID); err != nil {
		return nil, err
	}
	return s.installments.Find(ctx, repository.InstallmentFilter{CreditID: creditID}, repository.Page{})
}

// Simulation is a prospective amortization quote.
type Simulation struct {
	Amount         decimal.Decimal `json:"amount"`
	Term           int             `json:"term"`
	InterestRate   decimal.Decimal `json:"interest_rate"`
	MonthlyPayment decimal.Decimal `json:"monthly_payment"`
	TotalPayable   decimal.Decimal `json:"total_payable"`
	TotalInterest  decimal.Decimal `json:"total_interest"`
}

// Simulate quotes a credit without creating anything. A zero rate
// falls back to the platform default.
func (s *CreditService) Simulate(ctx context.Context, amount decimal.Decimal, term int, rate decimal.Decimal) (*Simulation, error) {
	if rate.LessThanOrEqual(decimal.Zero) {
		rate = s.DefaultInterestRate()
	}
	amort, err := Amortize(amount, rate, term)
	if err != nil {
		return nil, err
	}
	return &Simulation{
		Amount:         models.Money(amount),
		Term:           term,
		InterestRate:   rate,
		MonthlyPayment: models.Money(amort.MonthlyPayment),
		TotalPayable:   models.Money(amort.TotalPayable),
		TotalInterest:  models.Money(amort.TotalInterest),
	}, nil
}

// DefaultInterestRate returns the platform fallback rate used when an
// institution carries no rate of its own.
func (s *CreditService) DefaultInterestRate() decimal.Decimal {
	s.rateMu.RLock()
	defer s.rateMu.RUnlock()
	return s.defaultInterestRate
}

// SetDefaultInterestRate replaces the platform fallback rate. Invoked
// by the reference rate refresh job.
func (s *CreditService) SetDefaultInterestRate(rate decimal.Decimal) {
	s.rateMu.Lock()
	s.defaultInterestRate = rate
	s.rateMu.Unlock()
}

func (s *CreditService) getScoped(ctx context.Context, institutionID, creditID int64) (*models.Credit, error) {
	credit, err := s.credits.GetByID(ctx, creditID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: credit %d", ErrNotFound, creditID)
		}
		return nil, err
	}
	if institutionID != 0 && credit.InstitutionID != institutionID {
		return nil, ErrTenantMismatch
	}
	return credit, nil
}

func (s *CreditService) notifyClient(ctx context.Context, credit *models.Credit, typ models.NotificationType, title, message string, metadata map[string]interface{}) {
	n := &models.Notification{
		ClientID:      credit.ClientID,
		InstitutionID: credit.InstitutionID,
		Type:          typ,
		Title:         title,
		Message:       message,
		Metadata:      metadata,
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.log.Warnf("Failed to record %s notification for credit %d: %v", typ, credit.ID, err)
	}
}
