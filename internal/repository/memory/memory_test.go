package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mozlend/microcredit/internal/models"
	"github.com/mozlend/microcredit/internal/repository"
)

func TestInstallmentUpdateVersionConflict(t *testing.T) {
	repo := NewInstallmentRepository()
	inst := &models.Installment{
		CreditID:      1,
		InstitutionID: 1,
		Number:        1,
		DueDate:       time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		Amount:        decimal.NewFromInt(200),
		TotalAmount:   decimal.NewFromInt(200),
		Status:        models.InstallmentPending,
	}
	if err := repo.CreateBatch(context.Background(), []*models.Installment{inst}); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if inst.Version != 1 {
		t.Fatalf("fresh version = %d, want 1", inst.Version)
	}

	stale, err := repo.GetByID(context.Background(), inst.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}

	inst.PaidAmount = decimal.NewFromInt(100)
	if err := repo.Update(context.Background(), inst); err != nil {
		t.Fatalf("first Update: %v", err)
	}
	if inst.Version != 2 {
		t.Errorf("version after update = %d, want 2", inst.Version)
	}

	stale.PaidAmount = decimal.NewFromInt(50)
	if err := repo.Update(context.Background(), stale); !errors.Is(err, repository.ErrConflict) {
		t.Errorf("stale Update = %v, want ErrConflict", err)
	}

	current, err := repo.GetByID(context.Background(), inst.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got := current.PaidAmount.StringFixed(2); got != "100.00" {
		t.Errorf("paid amount = %s, want the first writer's 100.00", got)
	}
}

func TestInstallmentFindDueFilters(t *testing.T) {
	repo := NewInstallmentRepository()
	due := func(day int) time.Time { return time.Date(2025, 4, day, 15, 0, 0, 0, time.UTC) }
	batch := []*models.Installment{
		{CreditID: 1, InstitutionID: 1, Number: 1, DueDate: due(1), Status: models.InstallmentPending},
		{CreditID: 1, InstitutionID: 1, Number: 2, DueDate: due(10), Status: models.InstallmentPending},
		{CreditID: 2, InstitutionID: 1, Number: 1, DueDate: due(10), Status: models.InstallmentPaid},
	}
	if err := repo.CreateBatch(context.Background(), batch); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	cutoff := time.Date(2025, 4, 5, 0, 0, 0, 0, time.UTC)
	before, err := repo.Find(context.Background(), repository.InstallmentFilter{DueBefore: &cutoff}, repository.Page{})
	if err != nil {
		t.Fatalf("Find DueBefore: %v", err)
	}
	if len(before) != 1 || before[0].Number != 1 {
		t.Errorf("DueBefore matched %d installments", len(before))
	}

	day := time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC)
	on, err := repo.Find(context.Background(), repository.InstallmentFilter{
		DueOn:    &day,
		Statuses: []models.InstallmentStatus{models.InstallmentPending},
	}, repository.Page{})
	if err != nil {
		t.Fatalf("Find DueOn: %v", err)
	}
	if len(on) != 1 || on[0].CreditID != 1 || on[0].Number != 2 {
		t.Errorf("DueOn matched %d installments", len(on))
	}
}

func TestPaymentRefUniquePerInstitution(t *testing.T) {
	repo := NewPaymentRepository()
	base := models.Payment{
		CreditID:       1,
		ClientID:       1,
		InstitutionID:  1,
		Amount:         decimal.NewFromInt(100),
		Method:         models.PayMpesa,
		TransactionRef: "TX-1",
		Status:         models.PaymentCompleted,
	}

	first := base
	if err := repo.Create(context.Background(), &first); err != nil {
		t.Fatalf("Create: %v", err)
	}

	dup := base
	if err := repo.Create(context.Background(), &dup); !errors.Is(err, repository.ErrDuplicate) {
		t.Errorf("duplicate Create = %v, want ErrDuplicate", err)
	}

	// The same reference under another institution is a distinct payment.
	foreign := base
	foreign.InstitutionID = 2
	if err := repo.Create(context.Background(), &foreign); err != nil {
		t.Errorf("Create under another institution = %v", err)
	}
}

func TestCreditUpdateStatusIf(t *testing.T) {
	repo := NewCreditRepository()
	credit := &models.Credit{ClientID: 1, InstitutionID: 1, Status: models.CreditPending}
	if err := repo.Create(context.Background(), credit); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := repo.UpdateStatusIf(context.Background(), credit.ID, models.CreditPending, models.CreditApproved); err != nil {
		t.Fatalf("UpdateStatusIf: %v", err)
	}
	err := repo.UpdateStatusIf(context.Background(), credit.ID, models.CreditPending, models.CreditRejected)
	if !errors.Is(err, repository.ErrConflict) {
		t.Errorf("second transition = %v, want ErrConflict", err)
	}

	got, err := repo.GetByID(context.Background(), credit.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != models.CreditApproved {
		t.Errorf("status = %s, want approved", got.Status)
	}
}

func TestCreditUpdateIfGuardsStatus(t *testing.T) {
	repo := NewCreditRepository()
	credit := &models.Credit{ClientID: 1, InstitutionID: 1, Status: models.CreditPending}
	if err := repo.Create(context.Background(), credit); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Another writer moves the credit on while this copy is stale.
	if err := repo.UpdateStatusIf(context.Background(), credit.ID, models.CreditPending, models.CreditApproved); err != nil {
		t.Fatalf("UpdateStatusIf: %v", err)
	}

	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	credit.Status = models.CreditRejected
	credit.RejectedAt = &now
	if err := repo.UpdateIf(context.Background(), credit, models.CreditPending); !errors.Is(err, repository.ErrConflict) {
		t.Errorf("stale UpdateIf = %v, want ErrConflict", err)
	}

	got, err := repo.GetByID(context.Background(), credit.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != models.CreditApproved || got.RejectedAt != nil {
		t.Errorf("stored credit clobbered: status %s, rejected at %v", got.Status, got.RejectedAt)
	}

	// The matching precondition writes status and stamps together.
	disbursedAt := now.Add(time.Hour)
	got.Status = models.CreditActive
	got.DisbursedAt = &disbursedAt
	if err := repo.UpdateIf(context.Background(), got, models.CreditApproved); err != nil {
		t.Fatalf("UpdateIf: %v", err)
	}
	final, err := repo.GetByID(context.Background(), credit.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if final.Status != models.CreditActive || final.DisbursedAt == nil {
		t.Errorf("conditional write incomplete: status %s, disbursed at %v", final.Status, final.DisbursedAt)
	}
}

func TestPaymentUpdateIfStatusGuard(t *testing.T) {
	repo := NewPaymentRepository()
	payment := &models.Payment{
		CreditID:       1,
		ClientID:       1,
		InstitutionID:  1,
		Amount:         decimal.NewFromInt(100),
		Method:         models.PayEmola,
		TransactionRef: "GW-1",
		Status:         models.PaymentPending,
	}
	if err := repo.Create(context.Background(), payment); err != nil {
		t.Fatalf("Create: %v", err)
	}

	winner, err := repo.GetByID(context.Background(), payment.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	winner.Status = models.PaymentCompleted
	if err := repo.UpdateIf(context.Background(), winner, models.PaymentPending); err != nil {
		t.Fatalf("UpdateIf: %v", err)
	}

	// The losing callback read pending before the winner's write landed.
	loser := *payment
	loser.Status = models.PaymentCompleted
	if err := repo.UpdateIf(context.Background(), &loser, models.PaymentPending); !errors.Is(err, repository.ErrConflict) {
		t.Errorf("losing UpdateIf = %v, want ErrConflict", err)
	}

	got, err := repo.GetByID(context.Background(), payment.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != models.PaymentCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
}

func TestCreditAddToTotalPaid(t *testing.T) {
	repo := NewCreditRepository()
	credit := &models.Credit{ClientID: 1, InstitutionID: 1, Status: models.CreditActive}
	if err := repo.Create(context.Background(), credit); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := repo.AddToTotalPaid(context.Background(), credit.ID, decimal.RequireFromString("400.50")); err != nil {
		t.Fatalf("AddToTotalPaid: %v", err)
	}
	total, err := repo.AddToTotalPaid(context.Background(), credit.ID, decimal.RequireFromString("99.50"))
	if err != nil {
		t.Fatalf("AddToTotalPaid: %v", err)
	}
	if got := total.StringFixed(2); got != "500.00" {
		t.Errorf("total paid = %s, want 500.00", got)
	}
}
