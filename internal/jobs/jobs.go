// Package jobs is the persisted work queue behind campaign dispatch. Jobs
// survive process restarts and are claimed atomically, so any number of
// worker processes can drain the same queue.
package jobs

import (
	"context"
	"time"
)

// Status is a job's lifecycle state. Only a worker moves a job past queued.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Job kinds.
const (
	KindCampaignDispatch = "campaign_dispatch"
)

// Job is one unit of queued work.
type Job struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenantId"`
	Kind       string    `json:"kind"`
	Payload    []byte    `json:"payload"`
	Status     Status    `json:"status"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"lastError,omitempty"`
	RunAt      time.Time `json:"runAt"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	FinishedAt time.Time `json:"finishedAt,omitzero"`
}

// CampaignPayload is the payload for KindCampaignDispatch: send message to
// every lead of the tenant at or above MinScore through the given channel.
type CampaignPayload struct {
	CampaignID string `json:"campaignId"`
	Channel    string `json:"channel"` // "email" or "sms"
	Message    string `json:"message"`
	MinScore   int    `json:"minScore,omitempty"`
}

// Store persists jobs.
//
// Claim is the concurrency-critical operation: it must atomically select up
// to limit due queued jobs and flip them to running, such that two workers
// polling at once never claim the same job.
type Store interface {
	Enqueue(ctx context.Context, j *Job) error
	Claim(ctx context.Context, limit int) ([]Job, error)
	MarkDone(ctx context.Context, id string) error
	MarkError(ctx context.Context, id, msg string) error

	// Cancel moves a queued job to cancelled. Running jobs finish; done,
	// error, and cancelled jobs are immutable.
	Cancel(ctx context.Context, id string) error

	Get(ctx context.Context, id string) (*Job, error)

	Migrate(ctx context.Context) error
}
