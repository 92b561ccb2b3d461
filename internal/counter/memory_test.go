package counter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_IncrBy(t *testing.T) {
	s := NewMemory()
	n, err := s.IncrBy(context.Background(), "k", 1, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.IncrBy(context.Background(), "k", 4, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	got, err := s.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, int64(5), got)
}

func TestMemory_TTLExpiry(t *testing.T) {
	s := NewMemory()
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	_, err := s.IncrBy(context.Background(), "k", 3, time.Minute)
	require.NoError(t, err)

	now = now.Add(30 * time.Second)
	got, err := s.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got)

	now = now.Add(31 * time.Second)
	got, err = s.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got, "expired key reads as zero")

	// A fresh increment starts a new entry with a new TTL.
	n, err := s.IncrBy(context.Background(), "k", 1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemory_IncrIfBelow(t *testing.T) {
	s := NewMemory()

	n, ok, err := s.IncrIfBelow(context.Background(), "k", 1, 2, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), n)

	n, ok, err = s.IncrIfBelow(context.Background(), "k", 1, 2, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(2), n)

	n, ok, err = s.IncrIfBelow(context.Background(), "k", 1, 2, 0)
	require.NoError(t, err)
	assert.False(t, ok, "past max refused")
	assert.Equal(t, int64(2), n, "count untouched on refusal")
}

func TestMemory_IncrIfBelow_Concurrent(t *testing.T) {
	s := NewMemory()

	const attempts = 100
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			if _, applied, err := s.IncrIfBelow(context.Background(), "k", 1, 10, 0); err == nil && applied {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	got, err := s.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, int64(10), got)
}
