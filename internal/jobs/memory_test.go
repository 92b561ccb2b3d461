package jobs

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

func queuedJob(id string) *Job {
	return &Job{
		ID:       id,
		TenantID: "t1",
		Kind:     KindCampaignDispatch,
		Payload:  []byte(`{}`),
	}
}

func TestMemory_EnqueueDefaults(t *testing.T) {
	s := NewMemory()
	j := queuedJob("j1")
	require.NoError(t, s.Enqueue(context.Background(), j))

	got, err := s.Get(context.Background(), "j1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusQueued, got.Status)
	assert.False(t, got.RunAt.IsZero())
	assert.Zero(t, got.Attempts)

	assert.Error(t, s.Enqueue(context.Background(), queuedJob("j1")), "duplicate id rejected")
}

func TestMemory_ClaimMarksRunning(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.Enqueue(context.Background(), queuedJob("j1")))
	require.NoError(t, s.Enqueue(context.Background(), queuedJob("j2")))

	claimed, err := s.Claim(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, claimed, 2)
	for _, j := range claimed {
		assert.Equal(t, StatusRunning, j.Status)
		assert.Equal(t, 1, j.Attempts)
	}

	again, err := s.Claim(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, again, "running jobs are not reclaimed")
}

func TestMemory_ClaimHonorsRunAt(t *testing.T) {
	s := NewMemory()
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	future := queuedJob("later")
	future.RunAt = now.Add(time.Hour)
	require.NoError(t, s.Enqueue(context.Background(), future))

	claimed, err := s.Claim(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, claimed, "not due yet")

	now = now.Add(2 * time.Hour)
	claimed, err = s.Claim(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, claimed, 1)
}

func TestMemory_ClaimConcurrent(t *testing.T) {
	s := NewMemory()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, s.Enqueue(context.Background(), queuedJob(id)))
	}

	const claimers = 4
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	wg.Add(claimers)
	for i := 0; i < claimers; i++ {
		go func() {
			defer wg.Done()
			claimed, err := s.Claim(context.Background(), 10)
			assert.NoError(t, err)
			mu.Lock()
			total += len(claimed)
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, total, "each job claimed exactly once")
}

func TestMemory_Lifecycle(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.Enqueue(context.Background(), queuedJob("j1")))
	_, err := s.Claim(context.Background(), 1)
	require.NoError(t, err)

	require.NoError(t, s.MarkDone(context.Background(), "j1"))
	got, err := s.Get(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusDone, got.Status)
	assert.False(t, got.FinishedAt.IsZero())

	assert.Error(t, s.MarkDone(context.Background(), "j1"), "done jobs are immutable")
}

func TestMemory_MarkError(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.Enqueue(context.Background(), queuedJob("j1")))
	_, err := s.Claim(context.Background(), 1)
	require.NoError(t, err)

	require.NoError(t, s.MarkError(context.Background(), "j1", "limit reached"))
	got, err := s.Get(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusError, got.Status)
	assert.Equal(t, "limit reached", got.LastError)
}

func TestMemory_CancelOnlyQueued(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.Enqueue(context.Background(), queuedJob("j1")))
	require.NoError(t, s.Cancel(context.Background(), "j1"))

	got, err := s.Get(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	claimed, err := s.Claim(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, claimed, "cancelled jobs never run")

	require.NoError(t, s.Enqueue(context.Background(), queuedJob("j2")))
	_, err = s.Claim(context.Background(), 1)
	require.NoError(t, err)
	assert.Error(t, s.Cancel(context.Background(), "j2"), "running jobs finish")
}
