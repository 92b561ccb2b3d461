package lead

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Resolver handles lead deduplication and identity resolution within a tenant.
type Resolver struct {
	store Store
}

// NewResolver creates a lead resolver.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// FindExisting looks up a lead by normalized identity.
//
// Email and phone are queried independently; when both match and disagree on
// the lead id, the email match wins. That is a deterministic tie-break, not a
// merge — reconciling conflicting identities is an administrative action.
// With neither identifier present no lookup happens and the result is nil.
func (r *Resolver) FindExisting(ctx context.Context, tenantID, emailNormalized, phoneNormalized string) (*Lead, error) {
	if emailNormalized == "" && phoneNormalized == "" {
		return nil, nil
	}

	if emailNormalized != "" {
		byEmail, err := r.store.FindByEmail(ctx, tenantID, emailNormalized)
		if err != nil {
			return nil, eris.Wrap(err, "lead: resolve by email")
		}
		if byEmail != nil {
			zap.L().Debug("resolve: matched by email",
				zap.String("tenant_id", tenantID),
				zap.String("lead_id", byEmail.ID),
			)
			return byEmail, nil
		}
	}

	if phoneNormalized != "" {
		byPhone, err := r.store.FindByPhone(ctx, tenantID, phoneNormalized)
		if err != nil {
			return nil, eris.Wrap(err, "lead: resolve by phone")
		}
		if byPhone != nil {
			zap.L().Debug("resolve: matched by phone",
				zap.String("tenant_id", tenantID),
				zap.String("lead_id", byPhone.ID),
			)
			return byPhone, nil
		}
	}

	return nil, nil
}

// Record merges the incoming signal into the matching lead, or creates a new
// one when no identity match exists. Returns the resulting lead and whether
// it was newly created.
//
// Creation goes through Store.CreateIfAbsent; when the conditional insert
// loses a race with a concurrent signal bearing the same identity, Record
// re-resolves and touches the winner, so the duplicate-identity invariant
// holds without an up-front lock.
func (r *Resolver) Record(ctx context.Context, incoming *Lead, now time.Time) (*Lead, bool, error) {
	existing, err := r.FindExisting(ctx, incoming.TenantID, incoming.EmailNormalized, incoming.PhoneNormalized)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		merged, err := r.touch(ctx, existing, incoming, now)
		return merged, false, err
	}

	created, err := r.store.CreateIfAbsent(ctx, incoming)
	if err != nil {
		return nil, false, eris.Wrap(err, "lead: create")
	}
	if created {
		zap.L().Info("resolve: created new lead",
			zap.String("tenant_id", incoming.TenantID),
			zap.String("lead_id", incoming.ID),
			zap.String("source", string(incoming.Source)),
		)
		return incoming, true, nil
	}

	// Lost the insert race: the identity now exists, touch it.
	existing, err = r.FindExisting(ctx, incoming.TenantID, incoming.EmailNormalized, incoming.PhoneNormalized)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, eris.New("lead: conditional create lost race but identity not found")
	}
	merged, err := r.touch(ctx, existing, incoming, now)
	return merged, false, err
}

func (r *Resolver) touch(ctx context.Context, existing, incoming *Lead, now time.Time) (*Lead, error) {
	u := BuildTouchUpdate(existing, incoming, now)
	if err := r.dropForeignIdentity(ctx, existing, &u); err != nil {
		return nil, err
	}
	if err := r.store.Touch(ctx, existing.TenantID, existing.ID, u); err != nil {
		return nil, eris.Wrapf(err, "lead: touch %s", existing.ID)
	}

	merged := *existing
	merged.Name = u.Name
	merged.Email = u.Email
	merged.EmailNormalized = u.EmailNormalized
	merged.Phone = u.Phone
	merged.PhoneNormalized = u.PhoneNormalized
	merged.Message = u.Message
	merged.Context = u.Context
	merged.IntentScore = u.IntentScore
	merged.IntentFocus = u.IntentFocus
	merged.IntentReasoning = u.IntentReasoning
	merged.IntentProjects = u.IntentProjects
	merged.IntentAction = u.IntentAction
	merged.Touches = u.Touches
	merged.LastSeenAt = u.LastSeenAt
	merged.UpdatedAt = u.UpdatedAt
	return &merged, nil
}

// dropForeignIdentity strips an enrichment that would take another lead's
// identifier. A signal can legitimately carry one lead's email and a
// different lead's phone; the email tie-break picks the first, and writing
// the second's phone onto it would trip the phone uniqueness index and fail
// the whole capture. The conflicting field keeps its stored value instead;
// reconciling the two leads is an administrative action.
func (r *Resolver) dropForeignIdentity(ctx context.Context, existing *Lead, u *TouchUpdate) error {
	if u.EmailNormalized != "" && u.EmailNormalized != existing.EmailNormalized {
		owner, err := r.store.FindByEmail(ctx, existing.TenantID, u.EmailNormalized)
		if err != nil {
			return eris.Wrap(err, "lead: check email owner")
		}
		if owner != nil && owner.ID != existing.ID {
			zap.L().Info("resolve: email owned by another lead, enrichment skipped",
				zap.String("tenant_id", existing.TenantID),
				zap.String("lead_id", existing.ID),
				zap.String("owner_id", owner.ID),
			)
			u.Email = existing.Email
			u.EmailNormalized = existing.EmailNormalized
		}
	}
	if u.PhoneNormalized != "" && u.PhoneNormalized != existing.PhoneNormalized {
		owner, err := r.store.FindByPhone(ctx, existing.TenantID, u.PhoneNormalized)
		if err != nil {
			return eris.Wrap(err, "lead: check phone owner")
		}
		if owner != nil && owner.ID != existing.ID {
			zap.L().Info("resolve: phone owned by another lead, enrichment skipped",
				zap.String("tenant_id", existing.TenantID),
				zap.String("lead_id", existing.ID),
				zap.String("owner_id", owner.ID),
			)
			u.Phone = existing.Phone
			u.PhoneNormalized = existing.PhoneNormalized
		}
	}
	return nil
}
