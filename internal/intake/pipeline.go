package intake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/envelope"
	"github.com/sells-group/lead-intake/internal/intent"
	"github.com/sells-group/lead-intake/internal/lead"
	"github.com/sells-group/lead-intake/internal/plan"
	"github.com/sells-group/lead-intake/internal/quota"
	"github.com/sells-group/lead-intake/internal/ratelimit"
	"github.com/sells-group/lead-intake/internal/reply"
)

// Result is the pipeline's answer for one accepted signal.
type Result struct {
	Lead    *lead.Lead `json:"lead"`
	Created bool       `json:"created"`
	Reply   string     `json:"reply,omitempty"`
}

// Options tunes per-pipeline behavior.
type Options struct {
	RateMax       int           // signals per key per window
	RateWindow    time.Duration // fixed rate-limit window
	ReplyFallback string        // canned reply when generation fails
}

// Pipeline wires the intake stages together. Cheap checks run first: a signal
// pays for rate limiting and quota before any scoring or store work happens.
type Pipeline struct {
	limiter  *ratelimit.Limiter
	quotas   *quota.Enforcer
	resolver *lead.Resolver
	replier  reply.Generator
	opts     Options
	now      func() time.Time
}

// NewPipeline assembles the intake pipeline. replier may be nil when reply
// generation is disabled; the fallback text is used instead.
func NewPipeline(limiter *ratelimit.Limiter, quotas *quota.Enforcer, resolver *lead.Resolver, replier reply.Generator, opts Options) *Pipeline {
	return &Pipeline{
		limiter:  limiter,
		quotas:   quotas,
		resolver: resolver,
		replier:  replier,
		opts:     opts,
		now:      time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (p *Pipeline) SetClock(now func() time.Time) { p.now = now }

// Process runs one signal through the full pipeline.
//
// Order matters: rate limit, then plan quota, then the pure stages, then the
// store write. Lead persistence is must-succeed; reply generation is
// best-effort and can only ever downgrade to the canned fallback.
func (p *Pipeline) Process(ctx context.Context, sig Signal) (*Result, error) {
	contextJSON, err := sig.Validate()
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("signals:%s:%s", sig.TenantID, sig.Source)
	if !p.limiter.Allow(ctx, key, p.opts.RateMax, p.opts.RateWindow) {
		return nil, &envelope.RateLimitError{Key: key}
	}

	if err := p.quotas.Enforce(ctx, sig.TenantID, plan.MetricLeadCaptures, 1); err != nil {
		return nil, err
	}

	emailNorm := lead.NormalizeEmail(sig.Email)
	phoneNorm := lead.NormalizePhone(sig.Phone)

	assessment := intent.Score(intent.Input{
		Text:       sig.Message,
		HasEmail:   emailNorm != "",
		HasPhone:   phoneNorm != "",
		ProjectIDs: sig.ProjectIDs,
	})

	now := p.now().UTC()
	incoming := &lead.Lead{
		ID:              uuid.NewString(),
		TenantID:        sig.TenantID,
		Name:            sig.Name,
		Email:           sig.Email,
		EmailNormalized: emailNorm,
		Phone:           sig.Phone,
		PhoneNormalized: phoneNorm,
		Message:         sig.Message,
		Source:          sig.Source,
		Status:          lead.StatusNew,
		Context:         contextJSON,
		IntentScore:     assessment.Score,
		IntentFocus:     assessment.Focus,
		IntentReasoning: assessment.Reasoning,
		IntentProjects:  assessment.ProjectIDs,
		IntentAction:    assessment.NextAction,
		Touches:         1,
		LastSeenAt:      now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	recorded, created, err := p.resolver.Record(ctx, incoming, now)
	if err != nil {
		return nil, err
	}

	res := &Result{Lead: recorded, Created: created}
	if wantsReply(sig.Source) {
		res.Reply = p.generateReply(ctx, recorded)
	}
	return res, nil
}

// wantsReply reports whether the channel is conversational: chat and demo
// sessions get an immediate acknowledgement, form submits and campaign
// replies are handled by their own outbound flows.
func wantsReply(s lead.Source) bool {
	return s == lead.SourceChat || s == lead.SourceAgentDemo
}

// generateReply produces the acknowledgement text. The AI conversation is
// metered separately from lead capture; a tenant over its AI quota still
// keeps the lead and gets the canned text. Any failure degrades the same way.
func (p *Pipeline) generateReply(ctx context.Context, l *lead.Lead) string {
	if err := p.quotas.Enforce(ctx, l.TenantID, plan.MetricAIConversations, 1); err != nil {
		var planLimit *quota.PlanLimitError
		if !errors.As(err, &planLimit) {
			zap.L().Warn("intake: ai quota check failed",
				zap.String("tenant_id", l.TenantID),
				zap.Error(err),
			)
		}
		return p.opts.ReplyFallback
	}

	if p.replier == nil {
		return p.opts.ReplyFallback
	}

	text, err := p.replier.Generate(ctx, l)
	if err != nil {
		zap.L().Info("intake: reply fallback",
			zap.String("tenant_id", l.TenantID),
			zap.String("lead_id", l.ID),
			zap.Error(err),
		)
		return p.opts.ReplyFallback
	}
	return text
}
