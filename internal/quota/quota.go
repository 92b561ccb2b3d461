// Package quota meters per-tenant usage against billing plan limits.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/counter"
	"github.com/sells-group/lead-intake/internal/plan"
)

// PlanLimitError reports that an operation would exceed the tenant's plan
// ceiling for a metric. It is an expected, frequent outcome, not an
// exceptional one: callers check for it with errors.As and turn it into a
// 402 with an upgrade suggestion.
type PlanLimitError struct {
	Metric           string `json:"metric"`
	Limit            int64  `json:"limit"`
	CurrentUsage     int64  `json:"current_usage"`
	Plan             string `json:"plan"`
	Status           string `json:"status"`
	SuggestedUpgrade string `json:"suggested_upgrade,omitempty"`
}

func (e *PlanLimitError) Error() string {
	return fmt.Sprintf("quota: %s limit reached (%d/%d on plan %s)",
		e.Metric, e.CurrentUsage, e.Limit, e.Plan)
}

// Enforcer reads and increments per-tenant usage counters and rejects work
// that would exceed the plan.
type Enforcer struct {
	store   counter.Store
	plans   plan.Registry
	now     func() time.Time
	periodT time.Duration // counter TTL; generously past the period rollover
}

// NewEnforcer creates a quota enforcer over the shared counter store.
func NewEnforcer(store counter.Store, plans plan.Registry) *Enforcer {
	return &Enforcer{
		store: store,
		plans: plans,
		now:   time.Now,
		// Keys name their period, so expiry only reclaims space. Two cycles
		// keeps the previous period readable for billing reconciliation.
		periodT: 62 * 24 * time.Hour,
	}
}

// SetClock overrides the time source. Test hook.
func (e *Enforcer) SetClock(now func() time.Time) { e.now = now }

// Period returns the current UTC metering period, e.g. "2026-08".
func (e *Enforcer) Period() string {
	return e.now().UTC().Format("2006-01")
}

func usageKey(tenantID, metric, period string) string {
	return fmt.Sprintf("usage:%s:%s:%s", tenantID, metric, period)
}

// Usage returns the tenant's consumption of metric in the current period.
func (e *Enforcer) Usage(ctx context.Context, tenantID, metric string) (int64, error) {
	n, err := e.store.Get(ctx, usageKey(tenantID, metric, e.Period()))
	if err != nil {
		return 0, eris.Wrapf(err, "quota: read usage %s/%s", tenantID, metric)
	}
	return n, nil
}

// Check verifies that one more unit of metric fits under the tenant's plan
// without consuming anything.
func (e *Enforcer) Check(ctx context.Context, tenantID, metric string) error {
	return e.check(ctx, tenantID, metric, 1)
}

// Enforce consumes n units of metric, or returns *PlanLimitError without
// consuming when the plan ceiling would be crossed.
//
// Check and increment travel as one atomic counter-store operation
// (IncrIfBelow), so two concurrent requests can never both pass on the same
// remaining headroom and jointly exceed the limit. Usage is charged for
// attempted work; failures later in the pipeline do not refund it.
func (e *Enforcer) Enforce(ctx context.Context, tenantID, metric string, n int64) error {
	res, err := e.plans.Resolve(ctx, tenantID)
	if err != nil {
		return eris.Wrapf(err, "quota: resolve plan for %s", tenantID)
	}

	key := usageKey(tenantID, metric, e.Period())
	lim := res.Plan.Limit(metric)
	if lim == nil {
		// Unmetered: no ceiling, but still count consumption so dashboards
		// and plan downgrades have real numbers.
		if _, err := e.store.IncrBy(ctx, key, n, e.periodT); err != nil {
			return eris.Wrapf(err, "quota: increment %s/%s", tenantID, metric)
		}
		return nil
	}

	current, ok, err := e.store.IncrIfBelow(ctx, key, n, *lim, e.periodT)
	if err != nil {
		return eris.Wrapf(err, "quota: increment %s/%s", tenantID, metric)
	}
	if !ok {
		zap.L().Info("quota: plan limit reached",
			zap.String("tenant_id", tenantID),
			zap.String("metric", metric),
			zap.Int64("limit", *lim),
			zap.Int64("current", current),
		)
		return &PlanLimitError{
			Metric:           metric,
			Limit:            *lim,
			CurrentUsage:     current,
			Plan:             res.Plan.Name,
			Status:           res.Status,
			SuggestedUpgrade: res.Plan.SuggestedUpgrade,
		}
	}
	return nil
}

// check is the advisory read-only variant backing Check.
func (e *Enforcer) check(ctx context.Context, tenantID, metric string, n int64) error {
	res, err := e.plans.Resolve(ctx, tenantID)
	if err != nil {
		return eris.Wrapf(err, "quota: resolve plan for %s", tenantID)
	}

	lim := res.Plan.Limit(metric)
	if lim == nil {
		return nil
	}

	current, err := e.store.Get(ctx, usageKey(tenantID, metric, e.Period()))
	if err != nil {
		return eris.Wrapf(err, "quota: read usage %s/%s", tenantID, metric)
	}
	if current+n > *lim {
		return &PlanLimitError{
			Metric:           metric,
			Limit:            *lim,
			CurrentUsage:     current,
			Plan:             res.Plan.Name,
			Status:           res.Status,
			SuggestedUpgrade: res.Plan.SuggestedUpgrade,
		}
	}
	return nil
}
