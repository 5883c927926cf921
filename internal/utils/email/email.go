package email

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"

	"github.com/mozlend/microcredit/internal/config"
	"github.com/mozlend/microcredit/internal/models"
)

// Sender delivers notification events over SMTP. It implements the
// notify.Dispatcher interface.
type Sender struct {
	cfg    *config.Config
	logger *logrus.Logger
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	return &Sender{
		cfg:    cfg,
		logger: logger,
	}
}

// Dispatch sends the notification to the client's email address.
// Clients without an email address are skipped silently; the stored
// notification record remains the source of truth.
func (s *Sender) Dispatch(ctx context.Context, client *models.Client, n *models.Notification) error {
	if client.Email == "" {
		return nil
	}

	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{client.Email}
	e.Subject = n.Title

	body := fmt.Sprintf("Dear %s,\n\n%s\n", client.Name, n.Message)
	switch n.Type {
	case models.NotifyPaymentReminder, models.NotifyOverdueNotice:
		body += "\nPlease ensure sufficient funds are available for your payment.\n"
	case models.NotifyLateFeeApplied:
		body += "\nPlease make the payment as soon as possible to avoid further penalties.\n"
	}
	body += "\nBest regards,\nYour lending institution"
	e.Text = []byte(body)

	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	auth := smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	if err := e.Send(addr, auth); err != nil {
		s.logger.Errorf("Failed to send email to %s: %v", client.Email, err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Infof("Email sent to %s: %s", client.Email, e.Subject)
	return nil
}
