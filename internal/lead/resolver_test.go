package lead

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// fakeStore is an in-memory Store honoring CreateIfAbsent's conditional
// semantics under a single lock, so resolver race behavior can be exercised
// with real goroutines.
type fakeStore struct {
	mu    sync.Mutex
	leads map[string]*Lead
}

func newFakeStore() *fakeStore {
	return &fakeStore{leads: make(map[string]*Lead)}
}

func (s *fakeStore) CreateIfAbsent(_ context.Context, l *Lead) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.leads {
		if existing.TenantID != l.TenantID {
			continue
		}
		if l.EmailNormalized != "" && existing.EmailNormalized == l.EmailNormalized {
			return false, nil
		}
		if l.PhoneNormalized != "" && existing.PhoneNormalized == l.PhoneNormalized {
			return false, nil
		}
	}
	cp := *l
	s.leads[l.ID] = &cp
	return true, nil
}

func (s *fakeStore) Touch(_ context.Context, tenantID, id string, u TouchUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.leads[id]
	l.Name = u.Name
	l.Email = u.Email
	l.EmailNormalized = u.EmailNormalized
	l.Phone = u.Phone
	l.PhoneNormalized = u.PhoneNormalized
	l.Message = u.Message
	l.Context = u.Context
	l.IntentScore = u.IntentScore
	l.IntentFocus = u.IntentFocus
	l.IntentReasoning = u.IntentReasoning
	l.IntentProjects = u.IntentProjects
	l.IntentAction = u.IntentAction
	// Increment in place, mirroring the SQL stores' touches = touches + 1.
	l.Touches++
	l.LastSeenAt = u.LastSeenAt
	l.UpdatedAt = u.UpdatedAt
	return nil
}

func (s *fakeStore) Get(_ context.Context, tenantID, id string) (*Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok || l.TenantID != tenantID {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (s *fakeStore) FindByEmail(_ context.Context, tenantID, emailNormalized string) (*Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.leads {
		if l.TenantID == tenantID && l.EmailNormalized == emailNormalized {
			cp := *l
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) FindByPhone(_ context.Context, tenantID, phoneNormalized string) (*Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.leads {
		if l.TenantID == tenantID && l.PhoneNormalized == phoneNormalized {
			cp := *l
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) List(_ context.Context, tenantID string, _ ListFilter) ([]Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Lead
	for _, l := range s.leads {
		if l.TenantID == tenantID {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (s *fakeStore) Migrate(context.Context) error { return nil }
func (s *fakeStore) Close() error                  { return nil }

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.leads)
}

var resolverNow = time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)

func newIncoming(id, email, phone string) *Lead {
	return &Lead{
		ID:              id,
		TenantID:        "t1",
		Email:           email,
		EmailNormalized: NormalizeEmail(email),
		Phone:           phone,
		PhoneNormalized: NormalizePhone(phone),
		Message:         "hello",
		Source:          SourceChat,
		Status:          StatusNew,
		Touches:         1,
		LastSeenAt:      resolverNow,
		CreatedAt:       resolverNow,
		UpdatedAt:       resolverNow,
	}
}

func TestFindExisting_NoIdentityNoLookup(t *testing.T) {
	r := NewResolver(newFakeStore())
	got, err := r.FindExisting(context.Background(), "t1", "", "")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFindExisting_EmailWinsDisagreement(t *testing.T) {
	store := newFakeStore()
	emailLead := newIncoming("by-email", "a@b.com", "")
	phoneLead := newIncoming("by-phone", "", "+971501234567")
	_, err := store.CreateIfAbsent(context.Background(), emailLead)
	require.NoError(t, err)
	_, err = store.CreateIfAbsent(context.Background(), phoneLead)
	require.NoError(t, err)

	r := NewResolver(store)
	got, err := r.FindExisting(context.Background(), "t1", "a@b.com", "+971501234567")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "by-email", got.ID)
}

func TestRecord_CreatesWhenNoMatch(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store)

	got, created, err := r.Record(context.Background(), newIncoming("l1", "a@b.com", ""), resolverNow)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 1, got.Touches)
	assert.Equal(t, 1, store.count())
}

func TestRecord_TouchesExistingMatch(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store)

	_, _, err := r.Record(context.Background(), newIncoming("l1", "a@b.com", ""), resolverNow)
	require.NoError(t, err)

	second := newIncoming("l2", "a@b.com", "+971501234567")
	second.Message = "second"
	got, created, err := r.Record(context.Background(), second, resolverNow.Add(time.Minute))
	require.NoError(t, err)

	assert.False(t, created)
	assert.Equal(t, "l1", got.ID)
	assert.Equal(t, 2, got.Touches)
	assert.Equal(t, "second", got.Message)
	assert.Equal(t, "+971501234567", got.PhoneNormalized, "phone enriched")
	assert.Equal(t, 1, store.count(), "no duplicate lead")
}

func TestRecord_ConflictingIdentitiesKeepTheirOwners(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store)

	_, _, err := r.Record(context.Background(), newIncoming("a", "a@b.com", ""), resolverNow)
	require.NoError(t, err)
	_, _, err = r.Record(context.Background(), newIncoming("b", "", "+971501234567"), resolverNow)
	require.NoError(t, err)

	// One signal carrying a's email and b's phone: the email tie-break picks
	// a, and b's phone must stay with b rather than failing the capture on
	// the phone uniqueness index.
	got, created, err := r.Record(context.Background(), newIncoming("c", "a@b.com", "+971501234567"), resolverNow.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "a", got.ID)
	assert.Equal(t, 2, got.Touches)
	assert.Empty(t, got.PhoneNormalized, "another lead's phone is not absorbed")

	other, err := store.Get(context.Background(), "t1", "b")
	require.NoError(t, err)
	require.NotNil(t, other)
	assert.Equal(t, "+971501234567", other.PhoneNormalized)
	assert.Equal(t, 1, other.Touches)
	assert.Equal(t, 2, store.count(), "no third lead")
}

func TestRecord_AnonymousAlwaysCreates(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store)

	_, created, err := r.Record(context.Background(), newIncoming("l1", "", ""), resolverNow)
	require.NoError(t, err)
	assert.True(t, created)

	_, created, err = r.Record(context.Background(), newIncoming("l2", "", ""), resolverNow)
	require.NoError(t, err)
	assert.True(t, created, "anonymous signals never match each other")
	assert.Equal(t, 2, store.count())
}

func TestRecord_ConcurrentSameIdentity(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store)

	const writers = 8
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(i int) {
			defer wg.Done()
			incoming := newIncoming(uuidLike(i), "race@b.com", "")
			_, _, err := r.Record(context.Background(), incoming, resolverNow)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, store.count(), "exactly one lead for the identity")
	got, err := r.FindExisting(context.Background(), "t1", "race@b.com", "")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, writers, got.Touches)
}

func uuidLike(i int) string {
	return string(rune('a'+i)) + "-lead"
}
