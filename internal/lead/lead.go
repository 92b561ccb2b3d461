// Package lead defines the canonical lead record and its identity-resolution
// and touch-merge rules.
package lead

import (
	"time"
)

// Source identifies the channel an inbound signal arrived through.
type Source string

// Known signal sources.
const (
	SourceChat      Source = "chat"
	SourceSite      Source = "site"
	SourceCampaign  Source = "campaign"
	SourceAgentDemo Source = "agent_demo"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceChat, SourceSite, SourceCampaign, SourceAgentDemo:
		return true
	}
	return false
}

// Status is the sales workflow state of a lead.
type Status string

// Lead statuses.
const (
	StatusNew        Status = "new"
	StatusContacted  Status = "contacted"
	StatusInterested Status = "interested"
	StatusQualified  Status = "qualified"
	StatusClosed     Status = "closed"
)

// Lead is the canonical record of a prospective contact within a tenant.
// For a given tenant at most one lead carries a given non-empty
// EmailNormalized, and at most one a given non-empty PhoneNormalized.
type Lead struct {
	ID              string    `json:"id" db:"id"`
	TenantID        string    `json:"tenant_id" db:"tenant_id"`
	Name            string    `json:"name,omitempty" db:"name"`
	Email           string    `json:"email,omitempty" db:"email"`
	EmailNormalized string    `json:"email_normalized,omitempty" db:"email_normalized"`
	Phone           string    `json:"phone,omitempty" db:"phone"`
	PhoneNormalized string    `json:"phone_normalized,omitempty" db:"phone_normalized"`
	Message         string    `json:"message,omitempty" db:"message"`
	Source          Source    `json:"source" db:"source"`
	Status          Status    `json:"status" db:"status"`
	Priority        int       `json:"priority" db:"priority"`
	Touches         int       `json:"touches" db:"touches"`
	Context         []byte    `json:"context,omitempty" db:"context"` // JSONB, per-source payload
	IntentScore     int       `json:"intent_score" db:"intent_score"`
	IntentFocus     string    `json:"intent_focus,omitempty" db:"intent_focus"`
	IntentReasoning string    `json:"intent_reasoning,omitempty" db:"intent_reasoning"`
	IntentProjects  []string  `json:"intent_project_ids,omitempty" db:"intent_project_ids"`
	IntentAction    string    `json:"intent_next_action,omitempty" db:"intent_next_action"`
	LastSeenAt      time.Time `json:"last_seen_at" db:"last_seen_at"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// IdentityKey returns the normalized identifier that keys this lead for
// deduplication: email when present, otherwise phone, otherwise empty
// (anonymous lead, matchable only by id).
func (l *Lead) IdentityKey() string {
	if l.EmailNormalized != "" {
		return l.EmailNormalized
	}
	return l.PhoneNormalized
}
