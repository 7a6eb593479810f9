package model

import "time"

// Prospect is a deduplicated company record keyed by its domain.
type Prospect struct {
	ID           string    `json:"id"`
	Domain       string    `json:"domain"`
	Name         string    `json:"name"`
	URL          string    `json:"url"`
	City         string    `json:"city,omitempty"`
	Country      string    `json:"country,omitempty"`
	Verified     *bool     `json:"verified,omitempty"` // nil until verification runs
	VerifyReason string    `json:"verify_reason,omitempty"`
	SourceType   string    `json:"source_type,omitempty"`
	SourceQuery  string    `json:"source_query,omitempty"`
	Processed    bool      `json:"processed"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Email is a contact address found for a prospect.
type Email struct {
	ID            string    `json:"id"`
	ProspectID    string    `json:"prospect_id"`
	Address       string    `json:"address"`
	SourcePage    string    `json:"source_page,omitempty"`
	IsDomainMatch bool      `json:"is_domain_match"`
	IsGeneric     bool      `json:"is_generic"`
	Confidence    int       `json:"confidence"`
	CreatedAt     time.Time `json:"created_at"`
}

// ExclusionType identifies what an exclusion entry blocks.
type ExclusionType string

const (
	ExclusionDomain ExclusionType = "domain"
	ExclusionEmail  ExclusionType = "email"
)

// Valid reports whether t is a known exclusion type.
func (t ExclusionType) Valid() bool {
	return t == ExclusionDomain || t == ExclusionEmail
}

// Exclusion is a permanent do-not-contact entry.
type Exclusion struct {
	ID      string        `json:"id"`
	Type    ExclusionType `json:"type"`
	Value   string        `json:"value"`
	Reason  string        `json:"reason,omitempty"`
	AddedAt time.Time     `json:"added_at"`
}
