package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mozlend/microcredit/internal/clock"
	"github.com/mozlend/microcredit/internal/metrics"
	"github.com/mozlend/microcredit/internal/models"
	"github.com/mozlend/microcredit/internal/notify"
	"github.com/mozlend/microcredit/internal/repository"
)

// reminderWindows are the day offsets ahead of the due date at which
// a reminder goes out.
var reminderWindows = []int{3, 1}

// ReminderScheduler finds pending installments due in exactly 3 days
// and exactly 1 day (by calendar date) and emits one payment reminder
// per match per day. The installment's reminder marker dedupes
// re-runs within the same calendar day.
type ReminderScheduler struct {
	installments repository.InstallmentRepository
	credits      repository.CreditRepository
	institutions repository.InstitutionRepository
	notifier     *notify.Notifier
	metrics      *metrics.Collector
	clock        clock.Clock
	log          *logrus.Logger
}

func NewReminderScheduler(
	installments repository.InstallmentRepository,
	credits repository.CreditRepository,
	institutions repository.InstitutionRepository,
	notifier *notify.Notifier,
	collector *metrics.Collector,
	clk clock.Clock,
	log *logrus.Logger,
) *ReminderScheduler {
	return &ReminderScheduler{
		installments: installments,
		credits:      credits,
		institutions: institutions,
		notifier:     notifier,
		metrics:      collector,
		clock:        clk,
		log:          log,
	}
}

func (j *ReminderScheduler) Name() string { return "payment_reminders" }

func (j *ReminderScheduler) Run(ctx context.Context) error {
	start := time.Now()
	defer func() { j.metrics.ObserveJobRun(j.Name(), time.Since(start)) }()

	institutions, err := j.institutions.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("reminder run aborted: %w", err)
	}

	now := j.clock.Now()
	today := clock.Midnight(now)
	sent := 0
	for _, inst := range institutions {
		for _, window := range reminderWindows {
			target := today.AddDate(0, 0, window)
			due, err := j.installments.Find(ctx, repository.InstallmentFilter{
				InstitutionID: inst.ID,
				Statuses:      []models.InstallmentStatus{models.InstallmentPending},
				DueOn:         &target,
			}, repository.Page{})
			if err != nil {
				return fmt.Errorf("reminder run aborted for institution %d: %w", inst.ID, err)
			}

			for _, installment := range due {
				if installment.ReminderSentAt != nil && clock.Midnight(*installment.ReminderSentAt).Equal(today) {
					continue
				}
				if err := j.remind(ctx, installment, window, now); err != nil {
					j.metrics.JobItemError(j.Name())
					j.log.WithField("installment_id", installment.ID).Warnf("Skipping reminder: %v", err)
					continue
				}
				sent++
			}
		}
	}

	j.log.WithField("sent", sent).Info("Payment reminder run finished")
	return nil
}

func (j *ReminderScheduler) remind(ctx context.Context, installment *models.Installment, window int, now time.Time) error {
	credit, err := j.credits.GetByID(ctx, installment.CreditID)
	if err != nil {
		return err
	}

	title := "Payment Reminder"
	message := fmt.Sprintf("Your installment %d of %s is due in %d days (%s).",
		installment.Number, installment.TotalAmount.StringFixed(2), window, installment.DueDate.Format("2006-01-02"))
	if window == 1 {
		title = "Payment Due Tomorrow!"
		message = fmt.Sprintf("Remember: your installment %d of %s is due tomorrow!",
			installment.Number, installment.TotalAmount.StringFixed(2))
	}

	n := &models.Notification{
		ClientID:      credit.ClientID,
		InstitutionID: installment.InstitutionID,
		Type:          models.NotifyPaymentReminder,
		Title:         title,
		Message:       message,
		Metadata: map[string]interface{}{
			"installment_id": installment.ID,
			"credit_id":      installment.CreditID,
			"days_until_due": window,
		},
	}
	if err := j.notifier.Notify(ctx, n); err != nil {
		return err
	}

	installment.ReminderSentAt = &now
	if err := j.installments.Update(ctx, installment); err != nil {
		return err
	}
	j.metrics.ReminderSent()
	return nil
}
