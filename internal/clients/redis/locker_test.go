package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/codeframe-backend/internal/data/repos/testutil"
)

// testClient connects to TEST_REDIS_ADDR or skips.
func testClient(t *testing.T) *Locker {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	log := testutil.Logger(t)
	rdb, err := NewClient(Config{Addr: addr}, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return NewLocker(rdb, "codeframe_test_"+uuid.NewString()[:8], 300*time.Millisecond, log)
}

func TestLockOutlivesTTLWhileHeld(t *testing.T) {
	l := testClient(t)
	unlock, err := l.Lock(context.Background(), "gen")
	require.NoError(t, err)

	// Held for several TTLs; a second caller must still be shut out.
	time.Sleep(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "gen")
	assert.True(t, errors.Is(err, ErrLockTimeout))

	unlock()
	unlock()

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	unlock2, err := l.Lock(ctx2, "gen")
	require.NoError(t, err)
	unlock2()
}

func TestReleasedLockStopsRenewing(t *testing.T) {
	l := testClient(t)
	unlock, err := l.Lock(context.Background(), "gen")
	require.NoError(t, err)
	unlock()

	ttl, err := l.rdb.PTTL(context.Background(), key(l.prefix, "lock", "gen")).Result()
	require.NoError(t, err)
	assert.Negative(t, ttl, "key is gone after release")
}
