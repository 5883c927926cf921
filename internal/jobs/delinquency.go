package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/mozlend/microcredit/internal/clock"
	"github.com/mozlend/microcredit/internal/metrics"
	"github.com/mozlend/microcredit/internal/models"
	"github.com/mozlend/microcredit/internal/notify"
	"github.com/mozlend/microcredit/internal/repository"
	"github.com/mozlend/microcredit/internal/service"
)

const defaultThresholdDays = 30

var percentDivisor = decimal.NewFromInt(100)

// DelinquencyScanner walks every institution's outstanding
// installments once per day, marking overdue ones, assessing the
// one-time late fee and escalating credits more than 30 days past due
// to default. Re-running the scan on the same day is a no-op: the fee
// is guarded by LateFee being zero and the status moves are
// idempotent.
type DelinquencyScanner struct {
	installments repository.InstallmentRepository
	credits      repository.CreditRepository
	institutions repository.InstitutionRepository
	lifecycle    *service.CreditService
	notifier     *notify.Notifier
	metrics      *metrics.Collector
	clock        clock.Clock
	log          *logrus.Logger

	defaultLateFeePct decimal.Decimal
}

func NewDelinquencyScanner(
	installments repository.InstallmentRepository,
	credits repository.CreditRepository,
	institutions repository.InstitutionRepository,
	lifecycle *service.CreditService,
	notifier *notify.Notifier,
	collector *metrics.Collector,
	clk clock.Clock,
	log *logrus.Logger,
	defaultLateFeePct decimal.Decimal,
) *DelinquencyScanner {
	return &DelinquencyScanner{
		installments:      installments,
		credits:           credits,
		institutions:      institutions,
		lifecycle:         lifecycle,
		notifier:          notifier,
		metrics:           collector,
		clock:             clk,
		log:               log,
		defaultLateFeePct: defaultLateFeePct,
	}
}

func (j *DelinquencyScanner) Name() string { return "delinquency_scan" }

// Run executes one scan. Individual installments fail independently;
// only a failure to list the working set aborts the run.
func (j *DelinquencyScanner) Run(ctx context.Context) error {
	start := time.Now()
	defer func() { j.metrics.ObserveJobRun(j.Name(), time.Since(start)) }()

	institutions, err := j.institutions.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("delinquency scan aborted: %w", err)
	}

	today := clock.Midnight(j.clock.Now())
	processed := 0
	for _, inst := range institutions {
		overdue, err := j.installments.Find(ctx, repository.InstallmentFilter{
			InstitutionID: inst.ID,
			Statuses: []models.InstallmentStatus{
				models.InstallmentPending,
				models.InstallmentPartiallyPaid,
				models.InstallmentOverdue,
			},
			DueBefore: &today,
		}, repository.Page{})
		if err != nil {
			return fmt.Errorf("delinquency scan aborted for institution %d: %w", inst.ID, err)
		}

		for _, installment := range overdue {
			if err := j.process(ctx, inst, installment, today); err != nil {
				j.metrics.JobItemError(j.Name())
				j.log.WithFields(logrus.Fields{
					"installment_id": installment.ID,
					"credit_id":      installment.CreditID,
				}).Warnf("Skipping overdue installment: %v", err)
				continue
			}
			processed++
		}
	}

	j.log.WithField("processed", processed).Info("Delinquency scan finished")
	return nil
}

func (j *DelinquencyScanner) process(ctx context.Context, inst *models.Institution, installment *models.Installment, today time.Time) error {
	daysPastDue := installment.CalculateDaysPastDue(today)
	changed := false

	if installment.DaysPastDue != daysPastDue {
		installment.DaysPastDue = daysPastDue
		changed = true
	}
	if installment.Status != models.InstallmentOverdue {
		installment.Status = models.InstallmentOverdue
		changed = true
	}

	// The late fee is assessed exactly once per installment lifetime.
	feeAssessed := false
	if installment.LateFee.IsZero() {
		pct := inst.LateFeePercentage
		if pct.LessThanOrEqual(decimal.Zero) {
			pct = j.defaultLateFeePct
		}
		installment.LateFee = models.Money(installment.Amount.Mul(pct).Div(percentDivisor))
		installment.RecomputeTotal()
		changed = true
		feeAssessed = true
	}

	// Persist before notifying. A fee announced on a write that then
	// failed would be assessed and announced again on the next run.
	if changed {
		if err := j.installments.Update(ctx, installment); err != nil {
			return err
		}
	}

	if feeAssessed {
		j.notify(ctx, installment, models.NotifyLateFeeApplied, "Late Fee Applied",
			fmt.Sprintf("A late fee of %s was applied to installment %d, overdue by %d days.",
				installment.LateFee.StringFixed(2), installment.Number, daysPastDue),
			map[string]interface{}{
				"installment_id": installment.ID,
				"credit_id":      installment.CreditID,
				"late_fee":       installment.LateFee,
				"days_past_due":  daysPastDue,
			})
		j.metrics.LateFeeApplied()
	}

	if daysPastDue > defaultThresholdDays {
		if err := j.escalate(ctx, installment, daysPastDue); err != nil {
			return err
		}
	}
	return nil
}

// escalate defaults the parent credit when it is still active. The
// conditional transition makes a second run a no-op.
func (j *DelinquencyScanner) escalate(ctx context.Context, installment *models.Installment, daysPastDue int) error {
	credit, err := j.credits.GetByID(ctx, installment.CreditID)
	if err != nil {
		return err
	}
	if credit.Status != models.CreditActive {
		return nil
	}

	if err := j.lifecycle.MarkDefaulted(ctx, credit.ID); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil
		}
		return err
	}

	j.notify(ctx, installment, models.NotifyOverdueNotice, "Credit in Default",
		"Your credit was marked as defaulted after more than 30 days of missed payments. Please contact your institution urgently.",
		map[string]interface{}{
			"credit_id":     credit.ID,
			"days_past_due": daysPastDue,
		})
	j.metrics.CreditDefaulted()
	return nil
}

func (j *DelinquencyScanner) notify(ctx context.Context, installment *models.Installment, typ models.NotificationType, title, message string, metadata map[string]interface{}) {
	credit, err := j.credits.GetByID(ctx, installment.CreditID)
	if err != nil {
		j.log.Warnf("Cannot resolve credit %d for notification: %v", installment.CreditID, err)
		return
	}
	n := &models.Notification{
		ClientID:      credit.ClientID,
		InstitutionID: installment.InstitutionID,
		Type:          typ,
		Title:         title,
		Message:       message,
		Metadata:      metadata,
	}
	if err := j.notifier.Notify(ctx, n); err != nil {
		j.log.Warnf("Failed to record %s notification for installment %d: %v", typ, installment.ID, err)
	}
}
