package models

import "time"

// NotificationType tags the event a notification describes.
type NotificationType string

const (
	NotifyPaymentReminder  NotificationType = "payment_reminder"
	NotifyPaymentConfirmed NotificationType = "payment_confirmed"
	NotifyCreditApproved   NotificationType = "credit_approved"
	NotifyCreditRejected   NotificationType = "credit_rejected"
	NotifyCreditDisbursed  NotificationType = "credit_disbursed"
	NotifyCreditPaid       NotificationType = "credit_paid"
	NotifyOverdueNotice    NotificationType = "overdue_notice"
	NotifyLateFeeApplied   NotificationType = "late_fee_applied"
	NotifyGeneral          NotificationType = "general"
)

// NotificationChannel selects the delivery channel. Actual delivery is
// handled outside the core; the channel is recorded with the event.
type NotificationChannel string

const (
	ChannelPush  NotificationChannel = "push"
	ChannelSMS   NotificationChannel = "sms"
	ChannelEmail NotificationChannel = "email"
	ChannelInApp NotificationChannel = "in_app"
)

// Notification is an event record for a client. Only the read flag is
// ever mutated after creation.
type Notification struct {
	ID            int64                  `json:"id"`
	ClientID      int64                  `json:"client_id"`
	InstitutionID int64                  `json:"institution_id"`
	Type          NotificationType       `json:"type"`
	Title         string                 `json:"title"`
	Message       string                 `json:"message"`
	Channel       NotificationChannel    `json:"channel"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	IsRead        bool                   `json:"is_read"`
	ReadAt        *time.Time             `json:"read_at,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}
