package jobs

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/mozlend/microcredit/internal/clock"
	"github.com/mozlend/microcredit/internal/metrics"
	"github.com/mozlend/microcredit/internal/models"
	"github.com/mozlend/microcredit/internal/notify"
	"github.com/mozlend/microcredit/internal/repository"
	"github.com/mozlend/microcredit/internal/repository/memory"
	"github.com/mozlend/microcredit/internal/service"
)

type jobFixture struct {
	credits       *memory.CreditRepository
	installments  *memory.InstallmentRepository
	clients       *memory.ClientRepository
	institutions  *memory.InstitutionRepository
	notifications *memory.NotificationRepository
	clock         *clock.Fixed
	notifier      *notify.Notifier
	collector     *metrics.Collector
	lifecycle     *service.CreditService
	log           *logrus.Logger

	institution *models.Institution
	client      *models.Client
}

func newJobFixture(t *testing.T, now time.Time) *jobFixture {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	f := &jobFixture{
		credits:       memory.NewCreditRepository(),
		installments:  memory.NewInstallmentRepository(),
		clients:       memory.NewClientRepository(),
		institutions:  memory.NewInstitutionRepository(),
		notifications: memory.NewNotificationRepository(),
		clock:         &clock.Fixed{T: now},
		collector:     metrics.NewCollector(),
		log:           log,
	}
	f.notifier = notify.NewNotifier(f.notifications, f.clients, notify.NoopDispatcher{}, log)
	f.lifecycle = service.NewCreditService(f.credits, f.installments, f.clients, f.institutions,
		f.notifier, f.clock, log, decimal.NewFromInt(15))

	f.institution = &models.Institution{
		Name:              "MozLend",
		Currency:          "MZN",
		LateFeePercentage: decimal.NewFromInt(5),
		IsActive:          true,
	}
	if err := f.institutions.Create(context.Background(), f.institution); err != nil {
		t.Fatalf("seed institution: %v", err)
	}
	f.client = &models.Client{
		InstitutionID: f.institution.ID,
		Name:          "Amina Santos",
		Email:         "amina@example.com",
		IsVerified:    true,
	}
	if err := f.clients.Create(context.Background(), f.client); err != nil {
		t.Fatalf("seed client: %v", err)
	}
	return f
}

// seedActiveCredit stores an active credit with a single pending
// installment of the given amount due at dueDate.
func (f *jobFixture) seedActiveCredit(t *testing.T, amount string, dueDate time.Time) (*models.Credit, *models.Installment) {
	t.Helper()

	a := decimal.RequireFromString(amount)
	credit := &models.Credit{
		ClientID:       f.client.ID,
		InstitutionID:  f.institution.ID,
		Amount:         a,
		ApprovedAmount: a,
		InterestRate:   decimal.NewFromInt(15),
		Term:           1,
		MonthlyPayment: a,
		TotalPayable:   a,
		Status:         models.CreditActive,
		Purpose:        "working capital",
	}
	if err := f.credits.Create(context.Background(), credit); err != nil {
		t.Fatalf("seed credit: %v", err)
	}

	inst := &models.Installment{
		CreditID:      credit.ID,
		InstitutionID: f.institution.ID,
		Number:        1,
		DueDate:       dueDate,
		Amount:        a,
		Principal:     a,
		Interest:      decimal.Zero,
		LateFee:       decimal.Zero,
		TotalAmount:   a,
		PaidAmount:    decimal.Zero,
		Status:        models.InstallmentPending,
	}
	if err := f.installments.CreateBatch(context.Background(), []*models.Installment{inst}); err != nil {
		t.Fatalf("seed installment: %v", err)
	}
	return credit, inst
}

func (f *jobFixture) scanner() *DelinquencyScanner {
	return NewDelinquencyScanner(f.installments, f.credits, f.institutions,
		f.lifecycle, f.notifier, f.collector, f.clock, f.log, decimal.NewFromInt(5))
}

func (f *jobFixture) clientNotifications(t *testing.T) []*models.Notification {
	t.Helper()
	list, err := f.notifications.ListByClient(context.Background(), f.client.ID, repository.Page{})
	if err != nil {
		t.Fatalf("ListByClient: %v", err)
	}
	return list
}

func TestDelinquencyScanDefaultsLongOverdueCredit(t *testing.T) {
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	f := newJobFixture(t, now)
	credit, inst := f.seedActiveCredit(t, "200", time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC))

	if err := f.scanner().Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	scanned, err := f.installments.GetByID(context.Background(), inst.ID)
	if err != nil {
		t.Fatalf("reload installment: %v", err)
	}
	if scanned.Status != models.InstallmentOverdue {
		t.Errorf("installment status = %s, want overdue", scanned.Status)
	}
	if scanned.DaysPastDue != 35 {
		t.Errorf("days past due = %d, want 35", scanned.DaysPastDue)
	}
	if got := scanned.LateFee.StringFixed(2); got != "10.00" {
		t.Errorf("late fee = %s, want 10.00 (5%% of 200)", got)
	}
	if got := scanned.TotalAmount.StringFixed(2); got != "210.00" {
		t.Errorf("total amount = %s, want 210.00", got)
	}

	defaulted, err := f.credits.GetByID(context.Background(), credit.ID)
	if err != nil {
		t.Fatalf("reload credit: %v", err)
	}
	if defaulted.Status != models.CreditDefaulted {
		t.Errorf("credit status = %s, want defaulted", defaulted.Status)
	}

	list := f.clientNotifications(t)
	if len(list) != 2 {
		t.Fatalf("notifications = %d, want late fee and default notice", len(list))
	}
	types := map[models.NotificationType]bool{}
	for _, n := range list {
		types[n.Type] = true
	}
	if !types[models.NotifyLateFeeApplied] || !types[models.NotifyOverdueNotice] {
		t.Errorf("notification types = %v", types)
	}
}

func TestDelinquencyScanIsIdempotent(t *testing.T) {
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	f := newJobFixture(t, now)
	_, inst := f.seedActiveCredit(t, "200", time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC))

	scanner := f.scanner()
	if err := scanner.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if err := scanner.Run(context.Background()); err != nil {
		t.Fatalf("second Run: %v", err)
	}

	scanned, err := f.installments.GetByID(context.Background(), inst.ID)
	if err != nil {
		t.Fatalf("reload installment: %v", err)
	}
	if got := scanned.LateFee.StringFixed(2); got != "10.00" {
		t.Errorf("late fee after rerun = %s, want unchanged 10.00", got)
	}
	if got := len(f.clientNotifications(t)); got != 2 {
		t.Errorf("notifications after rerun = %d, want still 2", got)
	}
}

func TestDelinquencyScanKeepsRecentOverdueActive(t *testing.T) {
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	f := newJobFixture(t, now)
	credit, inst := f.seedActiveCredit(t, "500", time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC))

	if err := f.scanner().Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	scanned, err := f.installments.GetByID(context.Background(), inst.ID)
	if err != nil {
		t.Fatalf("reload installment: %v", err)
	}
	if scanned.Status != models.InstallmentOverdue {
		t.Errorf("installment status = %s, want overdue", scanned.Status)
	}
	if scanned.DaysPastDue != 10 {
		t.Errorf("days past due = %d, want 10", scanned.DaysPastDue)
	}
	if got := scanned.LateFee.StringFixed(2); got != "25.00" {
		t.Errorf("late fee = %s, want 25.00", got)
	}

	still, err := f.credits.GetByID(context.Background(), credit.ID)
	if err != nil {
		t.Fatalf("reload credit: %v", err)
	}
	if still.Status != models.CreditActive {
		t.Errorf("credit status = %s, want still active below the default threshold", still.Status)
	}

	list := f.clientNotifications(t)
	if len(list) != 1 || list[0].Type != models.NotifyLateFeeApplied {
		t.Errorf("notifications = %+v, want one late_fee_applied", list)
	}
}

func TestDelinquencyScanIgnoresFutureInstallments(t *testing.T) {
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	f := newJobFixture(t, now)
	_, inst := f.seedActiveCredit(t, "200", time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC))

	if err := f.scanner().Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	scanned, err := f.installments.GetByID(context.Background(), inst.ID)
	if err != nil {
		t.Fatalf("reload installment: %v", err)
	}
	if scanned.Status != models.InstallmentPending || !scanned.LateFee.IsZero() {
		t.Errorf("future installment touched: %s fee %s", scanned.Status, scanned.LateFee)
	}
	if got := len(f.clientNotifications(t)); got != 0 {
		t.Errorf("notifications = %d, want 0", got)
	}
}

// blockedWrites rejects installment updates while blocked is set.
type blockedWrites struct {
	*memory.InstallmentRepository
	blocked bool
}

func (r *blockedWrites) Update(ctx context.Context, inst *models.Installment) error {
	if r.blocked {
		return errors.New("write rejected")
	}
	return r.InstallmentRepository.Update(ctx, inst)
}

func TestDelinquencyScanNotifiesOnlyAfterPersist(t *testing.T) {
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	f := newJobFixture(t, now)
	_, inst := f.seedActiveCredit(t, "200", time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC))

	flaky := &blockedWrites{InstallmentRepository: f.installments, blocked: true}
	scanner := NewDelinquencyScanner(flaky, f.credits, f.institutions,
		f.lifecycle, f.notifier, f.collector, f.clock, f.log, decimal.NewFromInt(5))

	// A failed write must not announce a fee that was never stored.
	if err := scanner.Run(context.Background()); err != nil {
		t.Fatalf("Run with blocked writes: %v", err)
	}
	if got := len(f.clientNotifications(t)); got != 0 {
		t.Fatalf("notifications after failed persist = %d, want 0", got)
	}
	scanned, err := f.installments.GetByID(context.Background(), inst.ID)
	if err != nil {
		t.Fatalf("reload installment: %v", err)
	}
	if !scanned.LateFee.IsZero() || scanned.Status != models.InstallmentPending {
		t.Fatalf("installment moved despite failed write: %s fee %s", scanned.Status, scanned.LateFee)
	}

	// Once the write goes through, the fee is announced exactly once.
	flaky.blocked = false
	if err := scanner.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := scanner.Run(context.Background()); err != nil {
		t.Fatalf("rerun: %v", err)
	}
	list := f.clientNotifications(t)
	if len(list) != 1 || list[0].Type != models.NotifyLateFeeApplied {
		t.Errorf("notifications = %+v, want exactly one late_fee_applied", list)
	}
}

func TestDelinquencyScanScopedToActiveInstitutions(t *testing.T) {
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	f := newJobFixture(t, now)
	_, inst := f.seedActiveCredit(t, "200", time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC))

	f.institution.IsActive = false
	if err := f.institutions.Update(context.Background(), f.institution); err != nil {
		t.Fatalf("deactivate institution: %v", err)
	}

	if err := f.scanner().Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	scanned, err := f.installments.GetByID(context.Background(), inst.ID)
	if err != nil {
		t.Fatalf("reload installment: %v", err)
	}
	if scanned.Status != models.InstallmentPending {
		t.Errorf("installment of inactive institution scanned: %s", scanned.Status)
	}
}
