package model

import "time"

// QueueStatus is the delivery state of a queued message.
type QueueStatus string

const (
	QueuePending QueueStatus = "pending"
	QueueSending QueueStatus = "sending"
	QueueSent    QueueStatus = "sent"
	QueueFailed  QueueStatus = "failed"
)

// QueueItem is a rendered message waiting to be sent.
type QueueItem struct {
	ID           string      `json:"id"`
	LeadID       string      `json:"lead_id"`
	EmailID      string      `json:"email_id"`
	CampaignID   string      `json:"campaign_id"`
	TemplateID   string      `json:"template_id"`
	ToAddress    string      `json:"to_address"`
	Subject      string      `json:"subject"`
	Body         string      `json:"body"`
	Status       QueueStatus `json:"status"`
	Category     string      `json:"category"`
	Sequence     int         `json:"sequence"`
	ParentLogID  string      `json:"parent_log_id,omitempty"`
	ScheduledFor time.Time   `json:"scheduled_for"`
	Attempts     int         `json:"attempts"`
	Error        string      `json:"error,omitempty"`
	MessageID    string      `json:"message_id,omitempty"`
	SentAt       *time.Time  `json:"sent_at,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// OutreachLog is the immutable record of a delivered message.
type OutreachLog struct {
	ID          string    `json:"id"`
	QueueItemID string    `json:"queue_item_id"`
	LeadID      string    `json:"lead_id"`
	EmailID     string    `json:"email_id"`
	Category    string    `json:"category"`
	Sequence    int       `json:"sequence"`
	ParentLogID string    `json:"parent_log_id,omitempty"`
	MessageID   string    `json:"message_id"`
	SentAt      time.Time `json:"sent_at"`
}

// QueueStats summarizes the queue for status displays.
type QueueStats struct {
	Pending   int `json:"pending"`
	Sending   int `json:"sending"`
	SentToday int `json:"sent_today"`
	Failed    int `json:"failed"`
}
