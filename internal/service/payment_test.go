package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/mozlend/microcredit/internal/metrics"
	"github.com/mozlend/microcredit/internal/models"
	"github.com/mozlend/microcredit/internal/notify"
	"github.com/mozlend/microcredit/internal/repository"
	"github.com/mozlend/microcredit/internal/repository/memory"
)

type paymentFixture struct {
	*creditFixture
	payments *memory.PaymentRepository
	svc      *PaymentService
	credit   *models.Credit
}

// newPaymentFixture builds an active 12-month credit of 10000 at 15%
// (monthly payment 902.58, total payable 10830.96).
func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()

	cf := newCreditFixture(t)
	log := logrus.New()
	log.SetOutput(io.Discard)

	f := &paymentFixture{
		creditFixture: cf,
		payments:      memory.NewPaymentRepository(),
	}
	notifier := notify.NewNotifier(cf.notifications, cf.clients, notify.NoopDispatcher{}, log)
	f.svc = NewPaymentService(f.payments, cf.installments, cf.credits, cf.svc,
		notifier, metrics.NewCollector(), cf.clock, log)

	credit := cf.request(t, 10000, 12)
	if _, err := cf.svc.Approve(context.Background(), cf.institution.ID, credit.ID, decimal.Zero, 1); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if _, err := cf.svc.Disburse(context.Background(), cf.institution.ID, credit.ID, models.DisburseMpesa); err != nil {
		t.Fatalf("Disburse: %v", err)
	}
	active, err := cf.credits.GetByID(context.Background(), credit.ID)
	if err != nil {
		t.Fatalf("reload credit: %v", err)
	}
	f.credit = active
	return f
}

func (f *paymentFixture) pay(t *testing.T, amount string, ref string) *models.Payment {
	t.Helper()
	payment, err := f.svc.ApplyPayment(context.Background(), ApplyPaymentInput{
		InstitutionID:  f.institution.ID,
		CreditID:       f.credit.ID,
		Amount:         decimal.RequireFromString(amount),
		Method:         models.PayMpesa,
		TransactionRef: ref,
	})
	if err != nil {
		t.Fatalf("ApplyPayment(%s): %v", amount, err)
	}
	return payment
}

func (f *paymentFixture) firstInstallment(t *testing.T) *models.Installment {
	t.Helper()
	schedule, err := f.installments.Find(context.Background(),
		repository.InstallmentFilter{CreditID: f.credit.ID}, repository.Page{})
	if err != nil || len(schedule) == 0 {
		t.Fatalf("load schedule: %v (%d installments)", err, len(schedule))
	}
	return schedule[0]
}

func TestApplyPaymentAllocatesToOldestInstallment(t *testing.T) {
	f := newPaymentFixture(t)

	payment := f.pay(t, "400", "TX-1")
	if payment.Status != models.PaymentCompleted {
		t.Errorf("payment status = %s, want completed", payment.Status)
	}
	if payment.InstallmentID != f.firstInstallment(t).ID {
		t.Errorf("payment targeted installment %d, want the first", payment.InstallmentID)
	}

	inst := f.firstInstallment(t)
	if inst.Status != models.InstallmentPartiallyPaid {
		t.Errorf("installment status = %s, want partially_paid", inst.Status)
	}
	if got := inst.PaidAmount.StringFixed(2); got != "400.00" {
		t.Errorf("paid amount = %s, want 400.00", got)
	}
	if len(inst.PaymentIDs) != 1 || inst.PaymentIDs[0] != payment.ID {
		t.Errorf("payment ids = %v, want [%d]", inst.PaymentIDs, payment.ID)
	}

	credit, err := f.credits.GetByID(context.Background(), f.credit.ID)
	if err != nil {
		t.Fatalf("reload credit: %v", err)
	}
	if got := credit.TotalPaid.StringFixed(2); got != "400.00" {
		t.Errorf("credit total paid = %s, want 400.00", got)
	}
}

func TestApplyPaymentCompletesInstallment(t *testing.T) {
	f := newPaymentFixture(t)

	f.pay(t, "902.58", "TX-1")

	inst := f.firstInstallment(t)
	if inst.Status != models.InstallmentPaid {
		t.Errorf("installment status = %s, want paid", inst.Status)
	}
	if inst.PaidAt == nil {
		t.Error("paid at not stamped")
	}

	// The next payment rolls to installment 2.
	second := f.pay(t, "100", "TX-2")
	target, err := f.installments.GetByID(context.Background(), second.InstallmentID)
	if err != nil {
		t.Fatalf("load target installment: %v", err)
	}
	if target.Number != 2 {
		t.Errorf("second payment targeted installment %d, want 2", target.Number)
	}
}

func TestFullPayoffClosesCredit(t *testing.T) {
	f := newPaymentFixture(t)

	f.pay(t, "10830.96", "TX-PAYOFF")

	credit, err := f.credits.GetByID(context.Background(), f.credit.ID)
	if err != nil {
		t.Fatalf("reload credit: %v", err)
	}
	if credit.Status != models.CreditPaid {
		t.Errorf("credit status = %s, want paid", credit.Status)
	}
	if got := credit.TotalPaid.StringFixed(2); got != "10830.96" {
		t.Errorf("total paid = %s, want 10830.96", got)
	}

	// Allocation to the first installment is capped at its own total.
	inst := f.firstInstallment(t)
	if inst.Status != models.InstallmentPaid {
		t.Errorf("installment status = %s, want paid", inst.Status)
	}
	if got := inst.PaidAmount.StringFixed(2); got != "902.58" {
		t.Errorf("installment paid amount = %s, want capped at 902.58", got)
	}

	types := notificationTypes(t, f.creditFixture)
	if !types[models.NotifyPaymentConfirmed] || !types[models.NotifyCreditPaid] {
		t.Errorf("notification types = %v, want payment_confirmed and credit_paid", types)
	}
}

func TestPayingFullScheduleClosesCredit(t *testing.T) {
	f := newPaymentFixture(t)

	schedule, err := f.installments.Find(context.Background(),
		repository.InstallmentFilter{CreditID: f.credit.ID}, repository.Page{})
	if err != nil {
		t.Fatalf("load schedule: %v", err)
	}
	for _, inst := range schedule {
		f.pay(t, inst.TotalAmount.StringFixed(2), fmt.Sprintf("TX-SCHED-%d", inst.Number))
	}

	for _, inst := range schedule {
		reloaded, err := f.installments.GetByID(context.Background(), inst.ID)
		if err != nil {
			t.Fatalf("reload installment %d: %v", inst.Number, err)
		}
		if reloaded.Status != models.InstallmentPaid {
			t.Errorf("installment %d status = %s, want paid", inst.Number, reloaded.Status)
		}
	}

	credit, err := f.credits.GetByID(context.Background(), f.credit.ID)
	if err != nil {
		t.Fatalf("reload credit: %v", err)
	}
	if credit.Status != models.CreditPaid {
		t.Errorf("credit status = %s after paying every installment, want paid", credit.Status)
	}
	if !credit.TotalPaid.Equal(credit.TotalPayable) {
		t.Errorf("total paid %s does not match total payable %s", credit.TotalPaid, credit.TotalPayable)
	}
}

func TestDuplicateTransactionRef(t *testing.T) {
	f := newPaymentFixture(t)
	f.pay(t, "400", "TX-1")

	_, err := f.svc.ApplyPayment(context.Background(), ApplyPaymentInput{
		InstitutionID:  f.institution.ID,
		CreditID:       f.credit.ID,
		Amount:         decimal.NewFromInt(400),
		Method:         models.PayMpesa,
		TransactionRef: "TX-1",
	})
	if !errors.Is(err, ErrDuplicateTransaction) {
		t.Fatalf("replayed ApplyPayment = %v, want ErrDuplicateTransaction", err)
	}

	credit, err := f.credits.GetByID(context.Background(), f.credit.ID)
	if err != nil {
		t.Fatalf("reload credit: %v", err)
	}
	if got := credit.TotalPaid.StringFixed(2); got != "400.00" {
		t.Errorf("total paid moved to %s on duplicate", got)
	}
	if got := f.firstInstallment(t).PaidAmount.StringFixed(2); got != "400.00" {
		t.Errorf("installment paid amount moved to %s on duplicate", got)
	}
	records, err := f.payments.ListByCredit(context.Background(), f.credit.ID, repository.Page{})
	if err != nil {
		t.Fatalf("ListByCredit: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("payments recorded = %d, want 1", len(records))
	}
}

func TestApplyPaymentValidation(t *testing.T) {
	f := newPaymentFixture(t)

	_, err := f.svc.ApplyPayment(context.Background(), ApplyPaymentInput{
		InstitutionID: f.institution.ID,
		CreditID:      f.credit.ID,
		Amount:        decimal.Zero,
		Method:        models.PayMpesa,
	})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("zero amount = %v, want ValidationError", err)
	}

	_, err = f.svc.ApplyPayment(context.Background(), ApplyPaymentInput{
		InstitutionID: f.institution.ID,
		CreditID:      f.credit.ID,
		Amount:        decimal.NewFromInt(100),
		Method:        "barter",
	})
	if !errors.As(err, &ve) {
		t.Errorf("unknown method = %v, want ValidationError", err)
	}
}

func TestApplyPaymentTenantAndActorChecks(t *testing.T) {
	f := newPaymentFixture(t)

	_, err := f.svc.ApplyPayment(context.Background(), ApplyPaymentInput{
		InstitutionID: f.institution.ID + 100,
		CreditID:      f.credit.ID,
		Amount:        decimal.NewFromInt(100),
		Method:        models.PayMpesa,
	})
	if !errors.Is(err, ErrTenantMismatch) {
		t.Errorf("foreign institution = %v, want ErrTenantMismatch", err)
	}

	_, err = f.svc.ApplyPayment(context.Background(), ApplyPaymentInput{
		InstitutionID: f.institution.ID,
		ActorClientID: f.client.ID + 100,
		CreditID:      f.credit.ID,
		Amount:        decimal.NewFromInt(100),
		Method:        models.PayMpesa,
	})
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("foreign client actor = %v, want ErrForbidden", err)
	}
}

func TestGeneratedTransactionRef(t *testing.T) {
	f := newPaymentFixture(t)

	payment := f.pay(t, "100", "")
	if payment.TransactionRef == "" {
		t.Fatal("empty transaction ref not generated")
	}
	if payment.TransactionRef[:4] != "PAY-" {
		t.Errorf("generated ref = %s, want PAY- prefix", payment.TransactionRef)
	}
}

func TestReconcilePendingPayment(t *testing.T) {
	f := newPaymentFixture(t)

	pending, err := f.svc.InitiatePending(context.Background(), ApplyPaymentInput{
		InstitutionID:  f.institution.ID,
		CreditID:       f.credit.ID,
		Amount:         decimal.NewFromInt(400),
		Method:         models.PayEmola,
		TransactionRef: "GW-1",
	})
	if err != nil {
		t.Fatalf("InitiatePending: %v", err)
	}
	if pending.Status != models.PaymentPending {
		t.Errorf("status = %s, want pending", pending.Status)
	}

	// Nothing moves until the gateway confirms.
	credit, _ := f.credits.GetByID(context.Background(), f.credit.ID)
	if !credit.TotalPaid.IsZero() {
		t.Errorf("total paid = %s before confirmation", credit.TotalPaid)
	}

	completed, err := f.svc.ReconcilePayment(context.Background(), "GW-1", OutcomeCompleted, "")
	if err != nil {
		t.Fatalf("ReconcilePayment: %v", err)
	}
	if completed.Status != models.PaymentCompleted {
		t.Errorf("status = %s, want completed", completed.Status)
	}
	if completed.ProcessedAt == nil {
		t.Error("processed at not stamped on completion")
	}
	credit, _ = f.credits.GetByID(context.Background(), f.credit.ID)
	if got := credit.TotalPaid.StringFixed(2); got != "400.00" {
		t.Errorf("total paid = %s, want 400.00", got)
	}

	// Webhook retry is a no-op.
	if _, err := f.svc.ReconcilePayment(context.Background(), "GW-1", OutcomeCompleted, ""); err != nil {
		t.Fatalf("retry ReconcilePayment: %v", err)
	}
	credit, _ = f.credits.GetByID(context.Background(), f.credit.ID)
	if got := credit.TotalPaid.StringFixed(2); got != "400.00" {
		t.Errorf("total paid = %s after retry, want 400.00", got)
	}
}

// staleReadPayments serves one stale snapshot before delegating, the
// view a gateway callback gets when a concurrent callback's write
// lands between its read and its conditional update.
type staleReadPayments struct {
	*memory.PaymentRepository
	stale *models.Payment
	used  bool
}

func (r *staleReadPayments) GetByTransactionRef(ctx context.Context, ref string) (*models.Payment, error) {
	if !r.used {
		r.used = true
		out := *r.stale
		return &out, nil
	}
	return r.PaymentRepository.GetByTransactionRef(ctx, ref)
}

func TestReconcileConcurrentCompletionSettlesOnce(t *testing.T) {
	f := newPaymentFixture(t)

	pending, err := f.svc.InitiatePending(context.Background(), ApplyPaymentInput{
		InstitutionID:  f.institution.ID,
		CreditID:       f.credit.ID,
		Amount:         decimal.NewFromInt(400),
		Method:         models.PayEmola,
		TransactionRef: "GW-RACE",
	})
	if err != nil {
		t.Fatalf("InitiatePending: %v", err)
	}

	// The other callback's completion lands first.
	winner, err := f.payments.GetByTransactionRef(context.Background(), "GW-RACE")
	if err != nil {
		t.Fatalf("GetByTransactionRef: %v", err)
	}
	now := f.clock.T
	winner.Status = models.PaymentCompleted
	winner.ProcessedAt = &now
	if err := f.payments.UpdateIf(context.Background(), winner, models.PaymentPending); err != nil {
		t.Fatalf("UpdateIf: %v", err)
	}

	log := logrus.New()
	log.SetOutput(io.Discard)
	notifier := notify.NewNotifier(f.notifications, f.clients, notify.NoopDispatcher{}, log)
	racing := NewPaymentService(
		&staleReadPayments{PaymentRepository: f.payments, stale: pending},
		f.installments, f.credits, f.creditFixture.svc,
		notifier, metrics.NewCollector(), f.clock, log)

	got, err := racing.ReconcilePayment(context.Background(), "GW-RACE", OutcomeCompleted, "")
	if err != nil {
		t.Fatalf("losing ReconcilePayment: %v", err)
	}
	if got.Status != models.PaymentCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}

	// The loser must not settle the amount a second time. Here the
	// winner's write carried no settlement at all, so the aggregates
	// stay untouched.
	credit, err := f.credits.GetByID(context.Background(), f.credit.ID)
	if err != nil {
		t.Fatalf("reload credit: %v", err)
	}
	if !credit.TotalPaid.IsZero() {
		t.Errorf("total paid = %s, want untouched zero", credit.TotalPaid)
	}
	if inst := f.firstInstallment(t); !inst.PaidAmount.IsZero() {
		t.Errorf("installment paid amount = %s, want untouched zero", inst.PaidAmount)
	}
}

func TestReconcileFailedPayment(t *testing.T) {
	f := newPaymentFixture(t)

	if _, err := f.svc.InitiatePending(context.Background(), ApplyPaymentInput{
		InstitutionID:  f.institution.ID,
		CreditID:       f.credit.ID,
		Amount:         decimal.NewFromInt(400),
		Method:         models.PayEmola,
		TransactionRef: "GW-2",
	}); err != nil {
		t.Fatalf("InitiatePending: %v", err)
	}

	failed, err := f.svc.ReconcilePayment(context.Background(), "GW-2", OutcomeFailed, "insufficient funds")
	if err != nil {
		t.Fatalf("ReconcilePayment: %v", err)
	}
	if failed.Status != models.PaymentFailed || failed.FailureReason != "insufficient funds" {
		t.Errorf("failed payment = %s/%q", failed.Status, failed.FailureReason)
	}

	credit, _ := f.credits.GetByID(context.Background(), f.credit.ID)
	if !credit.TotalPaid.IsZero() {
		t.Errorf("total paid = %s after failed gateway payment", credit.TotalPaid)
	}
	inst := f.firstInstallment(t)
	if inst.Status != models.InstallmentPending || !inst.PaidAmount.IsZero() {
		t.Errorf("installment moved on failed payment: %s/%s", inst.Status, inst.PaidAmount)
	}

	// A failed payment cannot be completed afterwards.
	if _, err := f.svc.ReconcilePayment(context.Background(), "GW-2", OutcomeCompleted, ""); !errors.Is(err, ErrInvalidState) {
		t.Errorf("complete after failure = %v, want ErrInvalidState", err)
	}
}

func TestOverpaymentCapsInstallment(t *testing.T) {
	f := newPaymentFixture(t)

	f.pay(t, "1000", "TX-OVER")

	inst := f.firstInstallment(t)
	if inst.Status != models.InstallmentPaid {
		t.Errorf("installment status = %s, want paid", inst.Status)
	}
	if got := inst.PaidAmount.StringFixed(2); got != "902.58" {
		t.Errorf("installment paid amount = %s, want capped at 902.58", got)
	}

	credit, _ := f.credits.GetByID(context.Background(), f.credit.ID)
	if got := credit.TotalPaid.StringFixed(2); got != "1000.00" {
		t.Errorf("credit total paid = %s, want full 1000.00", got)
	}
}

func TestUnknownCreditPayment(t *testing.T) {
	f := newPaymentFixture(t)

	_, err := f.svc.ApplyPayment(context.Background(), ApplyPaymentInput{
		InstitutionID: f.institution.ID,
		CreditID:      f.credit.ID + 100,
		Amount:        decimal.NewFromInt(100),
		Method:        models.PayMpesa,
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown credit = %v, want ErrNotFound", err)
	}
}

func notificationTypes(t *testing.T, f *creditFixture) map[models.NotificationType]bool {
	t.Helper()
	list, err := f.notifications.ListByClient(context.Background(), f.client.ID, repository.Page{})
	if err != nil {
		t.Fatalf("ListByClient: %v", err)
	}
	types := make(map[models.NotificationType]bool, len(list))
	for _, n := range list {
		types[n.Type] = true
	}
	return types
}
