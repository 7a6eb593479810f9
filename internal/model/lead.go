package model

import "time"

// LeadStatus is the lifecycle state of a lead.
type LeadStatus string

const (
	LeadNew          LeadStatus = "NEW"
	LeadVerified     LeadStatus = "VERIFIED"
	LeadEmailFound   LeadStatus = "EMAIL_FOUND"
	LeadReady        LeadStatus = "READY"
	LeadOutreachSent LeadStatus = "OUTREACH_SENT"
	LeadReplied      LeadStatus = "REPLIED"
	LeadBounced      LeadStatus = "BOUNCED"
	LeadRejected     LeadStatus = "REJECTED"
	LeadSkipped      LeadStatus = "SKIPPED"
)

// AllLeadStatuses lists every lead status in lifecycle order.
var AllLeadStatuses = []LeadStatus{
	LeadNew, LeadVerified, LeadEmailFound, LeadReady, LeadOutreachSent,
	LeadReplied, LeadBounced, LeadRejected, LeadSkipped,
}

// Terminal reports whether no further transitions are allowed from s.
func (s LeadStatus) Terminal() bool {
	switch s {
	case LeadReplied, LeadBounced, LeadRejected, LeadSkipped:
		return true
	default:
		return false
	}
}

// Lead is one (campaign, prospect) pairing moving through the pipeline.
type Lead struct {
	ID          string     `json:"id"`
	CampaignID  string     `json:"campaign_id"`
	ProspectID  string     `json:"prospect_id"`
	Status      LeadStatus `json:"status"`
	SourceType  string     `json:"source_type,omitempty"`
	SourceQuery string     `json:"source_query,omitempty"`
	FoundAt     time.Time  `json:"found_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
