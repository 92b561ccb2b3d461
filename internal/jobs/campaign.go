package jobs

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/lead"
	"github.com/sells-group/lead-intake/internal/plan"
	"github.com/sells-group/lead-intake/internal/quota"
)

// dispatchPageSize is how many leads a campaign run pulls from the store per
// List call while walking the full target set.
const dispatchPageSize = 200

// Dispatcher hands one campaign message to an outbound channel provider.
type Dispatcher interface {
	Dispatch(ctx context.Context, channel string, l lead.Lead, message string) error
}

// LogDispatcher records sends without delivering anything. Stands in until a
// real provider integration is configured, and in tests.
type LogDispatcher struct{}

func (LogDispatcher) Dispatch(_ context.Context, channel string, l lead.Lead, _ string) error {
	zap.L().Info("dispatch: send",
		zap.String("channel", channel),
		zap.String("tenant_id", l.TenantID),
		zap.String("lead_id", l.ID),
	)
	return nil
}

// CampaignHandler executes campaign_dispatch jobs: it selects the tenant's
// leads above the score floor and sends the campaign message to each,
// metering every send against the tenant's plan.
type CampaignHandler struct {
	leads      lead.Store
	quotas     *quota.Enforcer
	dispatcher Dispatcher
}

// NewCampaignHandler wires the campaign dispatch handler.
func NewCampaignHandler(leads lead.Store, quotas *quota.Enforcer, dispatcher Dispatcher) *CampaignHandler {
	return &CampaignHandler{leads: leads, quotas: quotas, dispatcher: dispatcher}
}

// Handle runs one campaign dispatch job.
//
// Each send is charged individually, so a campaign that outgrows the plan
// mid-run stops at the ceiling with the earlier sends already delivered. The
// job then lands in the error state naming the exhausted metric; re-running
// it next period re-sends from the top, which is acceptable for the
// marketing channels this feeds.
func (h *CampaignHandler) Handle(ctx context.Context, j Job) error {
	var p CampaignPayload
	if err := decodePayload(j, &p); err != nil {
		return eris.Wrap(err, "campaign: decode payload")
	}

	metric, err := channelMetric(p.Channel)
	if err != nil {
		return err
	}

	log := zap.L().With(
		zap.String("campaign_id", p.CampaignID),
		zap.String("tenant_id", j.TenantID),
		zap.String("channel", p.Channel),
	)

	// Page through the store explicitly; relying on List's default page
	// would silently cap the campaign at the 50 most recently seen leads.
	sent := 0
	targets := 0
	for offset := 0; ; offset += dispatchPageSize {
		page, err := h.leads.List(ctx, j.TenantID, lead.ListFilter{
			MinScore: p.MinScore,
			Limit:    dispatchPageSize,
			Offset:   offset,
		})
		if err != nil {
			return eris.Wrapf(err, "campaign: list leads for %s", p.CampaignID)
		}
		targets += len(page)

		for _, target := range page {
			if !hasChannelAddress(p.Channel, target) {
				continue
			}

			if err := h.quotas.Enforce(ctx, j.TenantID, metric, 1); err != nil {
				var planLimit *quota.PlanLimitError
				if errors.As(err, &planLimit) {
					log.Warn("campaign: plan limit reached mid-run", zap.Int("sent", sent))
					return err
				}
				return eris.Wrap(err, "campaign: meter send")
			}

			if err := h.dispatcher.Dispatch(ctx, p.Channel, target, p.Message); err != nil {
				return eris.Wrapf(err, "campaign: dispatch to %s", target.ID)
			}
			sent++
		}

		if len(page) < dispatchPageSize {
			break
		}
	}

	log.Info("campaign: dispatched", zap.Int("sent", sent), zap.Int("targets", targets))
	return nil
}

func channelMetric(channel string) (string, error) {
	switch channel {
	case "email":
		return plan.MetricEmailSends, nil
	case "sms":
		return plan.MetricSMSSends, nil
	default:
		return "", eris.Errorf("campaign: unknown channel %q", channel)
	}
}

func hasChannelAddress(channel string, l lead.Lead) bool {
	if channel == "email" {
		return l.EmailNormalized != ""
	}
	return l.PhoneNormalized != ""
}
