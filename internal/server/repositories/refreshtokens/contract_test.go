package refreshtokens

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

const testValidity = time.Hour

// repoFactory builds an empty repository using the given clock and testValidity.
type repoFactory func(t *testing.T, clock *fakeClock) Repository

// runContract exercises the behaviour every backend must share.
func runContract(t *testing.T, newRepo repoFactory) {
	ctx := context.Background()

	t.Run("create returns live record", func(t *testing.T) {
		clock := newFakeClock()
		repo := newRepo(t, clock)

		rec, err := repo.Create(ctx, "u1", "jti-1")
		require.NoError(t, err)

		raw, err := base64.StdEncoding.DecodeString(rec.Token)
		require.NoError(t, err)
		assert.Len(t, raw, common.RefreshTokenSize)
		assert.Equal(t, "u1", rec.UserID)
		assert.Equal(t, "jti-1", rec.TokenID)
		assert.Equal(t, clock.Now().Add(testValidity), rec.ExpiresAt)
		assert.True(t, rec.IsLive(clock.Now()))

		found, err := repo.FindByToken(ctx, rec.Token)
		require.NoError(t, err)
		assert.Equal(t, rec.Token, found.Token)
		assert.Equal(t, "u1", found.UserID)
		assert.Equal(t, "jti-1", found.TokenID)
		assert.True(t, found.ExpiresAt.Equal(rec.ExpiresAt))
		assert.False(t, found.Used)
		assert.False(t, found.Invalidated)
	})

	t.Run("tokens are unique", func(t *testing.T) {
		repo := newRepo(t, newFakeClock())
		a, err := repo.Create(ctx, "u1", "jti-1")
		require.NoError(t, err)
		b, err := repo.Create(ctx, "u1", "jti-1")
		require.NoError(t, err)
		assert.NotEqual(t, a.Token, b.Token)
	})

	t.Run("find missing", func(t *testing.T) {
		repo := newRepo(t, newFakeClock())
		_, err := repo.FindByToken(ctx, "missing")
		assert.ErrorIs(t, err, common.ErrorNotFound)
	})

	t.Run("index-shaped tokens are unknown", func(t *testing.T) {
		clock := newFakeClock()
		repo := newRepo(t, clock)
		rec, err := repo.Create(ctx, "u1", "jti")
		require.NoError(t, err)

		for _, tok := range []string{"user:u1", "uid:u1", "rt:uid:u1", "tok:" + rec.Token} {
			_, err := repo.FindByToken(ctx, tok)
			assert.ErrorIs(t, err, common.ErrorNotFound, tok)

			ok, err := repo.Invalidate(ctx, tok)
			require.NoError(t, err, tok)
			assert.False(t, ok, tok)

			ok, err = repo.MarkUsed(ctx, tok)
			require.NoError(t, err, tok)
			assert.False(t, ok, tok)

			_, err = repo.Rotate(ctx, tok, "u1", "jti-2")
			assert.ErrorIs(t, err, common.ErrRefreshTokenNotLive, tok)
		}

		found, err := repo.FindByToken(ctx, rec.Token)
		require.NoError(t, err)
		assert.True(t, found.IsLive(clock.Now()), "real token untouched")
	})

	t.Run("mark used", func(t *testing.T) {
		repo := newRepo(t, newFakeClock())
		rec, err := repo.Create(ctx, "u1", "jti-1")
		require.NoError(t, err)

		ok, err := repo.MarkUsed(ctx, rec.Token)
		require.NoError(t, err)
		assert.True(t, ok)

		found, err := repo.FindByToken(ctx, rec.Token)
		require.NoError(t, err)
		assert.True(t, found.Used)
		assert.False(t, found.Invalidated)

		ok, err = repo.MarkUsed(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("invalidate is idempotent", func(t *testing.T) {
		repo := newRepo(t, newFakeClock())
		rec, err := repo.Create(ctx, "u1", "jti-1")
		require.NoError(t, err)
		_, err = repo.MarkUsed(ctx, rec.Token)
		require.NoError(t, err)

		for i := 0; i < 2; i++ {
			ok, err := repo.Invalidate(ctx, rec.Token)
			require.NoError(t, err)
			assert.True(t, ok)
		}

		found, err := repo.FindByToken(ctx, rec.Token)
		require.NoError(t, err)
		assert.True(t, found.Invalidated)
		assert.True(t, found.Used, "invalidation keeps the used flag")

		ok, err := repo.Invalidate(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("invalidate all for identity", func(t *testing.T) {
		repo := newRepo(t, newFakeClock())
		var mine []string
		for i := 0; i < 3; i++ {
			rec, err := repo.Create(ctx, "u1", "jti")
			require.NoError(t, err)
			mine = append(mine, rec.Token)
		}
		other, err := repo.Create(ctx, "u2", "jti")
		require.NoError(t, err)
		_, err = repo.MarkUsed(ctx, mine[0])
		require.NoError(t, err)

		require.NoError(t, repo.InvalidateAllForIdentity(ctx, "u1"))

		for _, tok := range mine {
			found, err := repo.FindByToken(ctx, tok)
			require.NoError(t, err)
			assert.True(t, found.Invalidated)
		}
		found, err := repo.FindByToken(ctx, other.Token)
		require.NoError(t, err)
		assert.False(t, found.Invalidated)

		assert.NoError(t, repo.InvalidateAllForIdentity(ctx, "nobody"))
	})

	t.Run("rotate consumes once", func(t *testing.T) {
		clock := newFakeClock()
		repo := newRepo(t, clock)
		old, err := repo.Create(ctx, "u1", "jti-1")
		require.NoError(t, err)

		clock.Advance(time.Minute)
		next, err := repo.Rotate(ctx, old.Token, "u1", "jti-2")
		require.NoError(t, err)
		assert.NotEqual(t, old.Token, next.Token)
		assert.Equal(t, "jti-2", next.TokenID)
		assert.Equal(t, clock.Now().Add(testValidity), next.ExpiresAt)

		found, err := repo.FindByToken(ctx, old.Token)
		require.NoError(t, err)
		assert.True(t, found.Used)

		fresh, err := repo.FindByToken(ctx, next.Token)
		require.NoError(t, err)
		assert.True(t, fresh.IsLive(clock.Now()))

		_, err = repo.Rotate(ctx, old.Token, "u1", "jti-3")
		assert.ErrorIs(t, err, common.ErrRefreshTokenNotLive)
	})

	t.Run("rotate rejects non-live tokens", func(t *testing.T) {
		clock := newFakeClock()
		repo := newRepo(t, clock)

		_, err := repo.Rotate(ctx, "missing", "u1", "jti")
		assert.ErrorIs(t, err, common.ErrRefreshTokenNotLive)

		owned, err := repo.Create(ctx, "u1", "jti")
		require.NoError(t, err)
		_, err = repo.Rotate(ctx, owned.Token, "u2", "jti")
		assert.ErrorIs(t, err, common.ErrRefreshTokenNotLive, "wrong owner")

		revoked, err := repo.Create(ctx, "u1", "jti")
		require.NoError(t, err)
		_, err = repo.Invalidate(ctx, revoked.Token)
		require.NoError(t, err)
		_, err = repo.Rotate(ctx, revoked.Token, "u1", "jti")
		assert.ErrorIs(t, err, common.ErrRefreshTokenNotLive, "invalidated")

		expiring, err := repo.Create(ctx, "u1", "jti")
		require.NoError(t, err)
		clock.Advance(testValidity + time.Second)
		_, err = repo.Rotate(ctx, expiring.Token, "u1", "jti")
		assert.ErrorIs(t, err, common.ErrRefreshTokenNotLive, "expired")

		found, err := repo.FindByToken(ctx, expiring.Token)
		require.NoError(t, err)
		assert.False(t, found.Used, "failed rotation leaves the record untouched")
	})

	t.Run("concurrent rotate has one winner", func(t *testing.T) {
		repo := newRepo(t, newFakeClock())
		old, err := repo.Create(ctx, "u1", "jti-1")
		require.NoError(t, err)

		const n = 16
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			notLive   int
		)
		start := make(chan struct{})
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := repo.Rotate(ctx, old.Token, "u1", "jti-2")
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case assert.ErrorIs(t, err, common.ErrRefreshTokenNotLive):
					notLive++
				}
			}()
		}
		close(start)
		wg.Wait()

		assert.Equal(t, 1, successes)
		assert.Equal(t, n-1, notLive)
	})
}
