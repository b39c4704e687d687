package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T, opts ...Option) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := NewRedisLocker(client, append([]Option{WithRetryInterval(5 * time.Millisecond)}, opts...)...)
	t.Cleanup(func() { l.Close() })
	return l, mr
}

func TestLock_AcquireAndRelease(t *testing.T) {
	l, mr := newTestLocker(t)
	ctx := context.Background()

	release, err := l.Lock(ctx, "order-case/abc")
	require.NoError(t, err)
	assert.True(t, mr.Exists(DefaultPrefix+"order-case/abc"))
	assert.Equal(t, DefaultTTL, mr.TTL(DefaultPrefix+"order-case/abc"))

	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists(DefaultPrefix+"order-case/abc"))
}

func TestLock_BlocksUntilReleased(t *testing.T) {
	l, _ := newTestLocker(t)
	ctx := context.Background()

	release, err := l.Lock(ctx, "k")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		second, err := l.Lock(ctx, "k")
		if err == nil {
			close(acquired)
			_ = second(ctx)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held lock")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, release(ctx))

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second holder never acquired the released lock")
	}
}

func TestLock_ContextCancelled(t *testing.T) {
	l, _ := newTestLocker(t)

	_, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLock_ReleaseAfterExpiryReportsLost(t *testing.T) {
	l, mr := newTestLocker(t, WithTTL(time.Second))
	ctx := context.Background()

	release, err := l.Lock(ctx, "k")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	other, err := l.Lock(ctx, "k")
	require.NoError(t, err)

	assert.ErrorIs(t, release(ctx), ErrLockLost)
	assert.True(t, mr.Exists(DefaultPrefix+"k"), "release must not delete another holder's lock")
	require.NoError(t, other(ctx))
}

func TestLock_Prefix(t *testing.T) {
	l, mr := newTestLocker(t, WithPrefix("p:"))

	_, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, mr.Exists("p:k"))
}

func TestLock_RedisDown(t *testing.T) {
	l, mr := newTestLocker(t)
	mr.Close()

	_, err := l.Lock(context.Background(), "k")
	assert.Error(t, err)
}

func TestDial_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := Dial(context.Background(), addr, "", 0)
	assert.Error(t, err)
}
