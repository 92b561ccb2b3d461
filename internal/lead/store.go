package lead

import (
	"context"
)

// ListFilter specifies criteria for listing leads within a tenant.
type ListFilter struct {
	Status   Status `json:"status,omitempty"`
	Source   Source `json:"source,omitempty"`
	MinScore int    `json:"min_score,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

// Store defines persistence operations for leads.
//
// CreateIfAbsent is the concurrency-critical operation: the insert must be
// conditional on the lead's normalized identity so two simultaneous signals
// for the same identity can never both create a record. Implementations back
// it with partial unique indexes on (tenant_id, email_normalized) and
// (tenant_id, phone_normalized).
type Store interface {
	// CreateIfAbsent inserts l and reports whether a row was written.
	// created=false means another lead already owns l's identity; the caller
	// re-resolves and touches the winner instead.
	CreateIfAbsent(ctx context.Context, l *Lead) (created bool, err error)

	// Touch applies a merge patch to an existing lead.
	Touch(ctx context.Context, tenantID, id string, u TouchUpdate) error

	Get(ctx context.Context, tenantID, id string) (*Lead, error)
	FindByEmail(ctx context.Context, tenantID, emailNormalized string) (*Lead, error)
	FindByPhone(ctx context.Context, tenantID, phoneNormalized string) (*Lead, error)
	List(ctx context.Context, tenantID string, f ListFilter) ([]Lead, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
