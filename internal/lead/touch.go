package lead

import "time"

// TouchUpdate is the field patch applied to an existing lead when a new
// signal from the same identity arrives.
type TouchUpdate struct {
	Name            string
	Email           string
	EmailNormalized string
	Phone           string
	PhoneNormalized string
	Message         string
	Context         []byte
	IntentScore     int
	IntentFocus     string
	IntentReasoning string
	IntentProjects  []string
	IntentAction    string
	Touches         int
	LastSeenAt      time.Time
	UpdatedAt       time.Time
}

// BuildTouchUpdate merges an incoming signal into an existing lead.
//
// Contact fields never downgrade: a stored non-empty value survives an empty
// incoming one, but a non-empty incoming value wins (enrichment or
// correction). Email and phone move together with their normalized forms.
// Message and the intent fields always reflect the latest signal; intent is
// recomputed, not accumulated. Touches increments by exactly one.
func BuildTouchUpdate(existing *Lead, incoming *Lead, now time.Time) TouchUpdate {
	u := TouchUpdate{
		Name:            preferNonEmpty(incoming.Name, existing.Name),
		Email:           existing.Email,
		EmailNormalized: existing.EmailNormalized,
		Phone:           existing.Phone,
		PhoneNormalized: existing.PhoneNormalized,
		Message:         incoming.Message,
		Context:         existing.Context,
		IntentScore:     incoming.IntentScore,
		IntentFocus:     incoming.IntentFocus,
		IntentReasoning: incoming.IntentReasoning,
		IntentProjects:  incoming.IntentProjects,
		IntentAction:    incoming.IntentAction,
		Touches:         existing.Touches + 1,
		LastSeenAt:      now,
		UpdatedAt:       now,
	}

	if incoming.EmailNormalized != "" {
		u.Email = incoming.Email
		u.EmailNormalized = incoming.EmailNormalized
	}
	if incoming.PhoneNormalized != "" {
		u.Phone = incoming.Phone
		u.PhoneNormalized = incoming.PhoneNormalized
	}
	if len(incoming.Context) > 0 {
		u.Context = incoming.Context
	}

	return u
}

func preferNonEmpty(incoming, existing string) string {
	if incoming != "" {
		return incoming
	}
	return existing
}
