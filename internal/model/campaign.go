package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SMTPConfig holds the outbound mail server settings of a brand.
type SMTPConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username,omitempty" yaml:"username"`
	Password string `json:"-" yaml:"password"`
	UseTLS   bool   `json:"use_tls" yaml:"use_tls"`
}

// Brand is the sender identity that owns campaigns and templates.
type Brand struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	FromName  string     `json:"from_name"`
	FromEmail string     `json:"from_email"`
	SMTP      SMTPConfig `json:"smtp"`
	CreatedAt time.Time  `json:"created_at"`
}

// CampaignLimits caps quota-consuming actions per campaign per day.
type CampaignLimits struct {
	DailySendLimit     int `json:"daily_send_limit"`
	DailyProspectLimit int `json:"daily_prospect_limit"`
	DailyEmailLimit    int `json:"daily_email_limit"`
}

// For returns the limit that applies to the given counter.
func (l CampaignLimits) For(kind CounterKind) int {
	switch kind {
	case CounterProspectsAdded:
		return l.DailyProspectLimit
	case CounterEmailsFound:
		return l.DailyEmailLimit
	case CounterOutreachSent:
		return l.DailySendLimit
	default:
		return 0
	}
}

// Campaign groups leads for one brand around a target offering.
type Campaign struct {
	ID        string         `json:"id"`
	BrandID   string         `json:"brand_id"`
	Name      string         `json:"name"`
	TargetURL string         `json:"target_url,omitempty"`
	Keywords  []string       `json:"keywords,omitempty"`
	Limits    CampaignLimits `json:"limits"`
	CreatedAt time.Time      `json:"created_at"`
}

// Template categories. Follow-ups use FollowUpCategory(n).
const (
	CategoryMain           = "main"
	categoryFollowUpPrefix = "followup_"
)

// FollowUpCategory returns the category name of the n-th follow-up.
func FollowUpCategory(n int) string {
	return fmt.Sprintf("%s%d", categoryFollowUpPrefix, n)
}

// IsFollowUpCategory reports whether category names a follow-up message.
func IsFollowUpCategory(category string) bool {
	return strings.HasPrefix(category, categoryFollowUpPrefix)
}

// FollowUpNumber returns n for a "followup_<n>" category with n > 0.
func FollowUpNumber(category string) (int, bool) {
	num, ok := strings.CutPrefix(category, categoryFollowUpPrefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(num)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// Template is a message body with {{variable}} placeholders.
type Template struct {
	ID        string    `json:"id"`
	BrandID   string    `json:"brand_id"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	Sequence  int       `json:"sequence"`
	DelayDays int       `json:"delay_days"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
