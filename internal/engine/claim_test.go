package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"promotion_engine/internal/config"
	"promotion_engine/internal/domain"
	"promotion_engine/internal/testutil"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

func TestNextStreak(t *testing.T) {
	last := t0
	grace := 48 * time.Hour
	require.Equal(t, 1, NextStreak(nil, 0, t0, grace))
	require.Equal(t, 4, NextStreak(&last, 3, t0.Add(24*time.Hour), grace))
	require.Equal(t, 4, NextStreak(&last, 3, t0.Add(48*time.Hour), grace))
	require.Equal(t, 1, NextStreak(&last, 3, t0.Add(48*time.Hour+time.Second), grace))
}

func TestClaimStreakBoundaries(t *testing.T) {
	cases := []struct {
		name       string
		gap        time.Duration
		tooEarly   bool
		wantStreak int
	}{
		{"23h is too early", 23 * time.Hour, true, 1},
		{"exactly 24h continues", 24 * time.Hour, false, 2},
		{"25h continues", 25 * time.Hour, false, 2},
		{"exactly 48h continues", 48 * time.Hour, false, 2},
		{"50h resets to one", 50 * time.Hour, false, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db := testutil.NewDB(t)
			clock := testutil.NewClock(t0)
			claims := NewClaims(db, config.DefaultEngineConfig(), clock.Now, nil)
			user := testutil.CreateUser(t, db, "alice", domain.TierPro, 0)

			first, err := claims.ClaimDailyPoints(context.Background(), user.ID)
			require.NoError(t, err)
			require.Equal(t, 1, first.Wallet.StreakDays)
			require.Equal(t, int64(200), first.Credited)

			clock.Advance(tc.gap)
			second, err := claims.ClaimDailyPoints(context.Background(), user.ID)
			wallet := testutil.Wallet(t, db, user.ID)
			if tc.tooEarly {
				require.ErrorIs(t, err, domain.ErrClaimTooEarly)
				require.Nil(t, second)
				require.Equal(t, int64(200), wallet.Balance)
				require.Equal(t, 1, wallet.StreakDays)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantStreak, second.Wallet.StreakDays)
			require.Equal(t, tc.wantStreak, wallet.StreakDays)
			require.Equal(t, int64(400), wallet.Balance)
			require.Equal(t, clock.Now(), wallet.LastClaimedAt.UTC())
		})
	}
}

func TestClaimTooEarlyReportsNextWindow(t *testing.T) {
	db := testutil.NewDB(t)
	clock := testutil.NewClock(t0)
	claims := NewClaims(db, config.DefaultEngineConfig(), clock.Now, nil)
	user := testutil.CreateUser(t, db, "bob", domain.TierFree, 0)

	_, err := claims.ClaimDailyPoints(context.Background(), user.ID)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		clock.Advance(time.Hour)
		_, err = claims.ClaimDailyPoints(context.Background(), user.ID)
		var tooEarly *TooEarlyError
		require.True(t, errors.As(err, &tooEarly))
		require.Equal(t, t0.Add(24*time.Hour), tooEarly.NextClaimAt)
	}
	require.Equal(t, int64(50), testutil.Wallet(t, db, user.ID).Balance)

	var claimsLogged int64
	require.NoError(t, db.Model(&domain.DailyClaim{}).Where("user_id = ?", user.ID).Count(&claimsLogged).Error)
	require.Equal(t, int64(1), claimsLogged)
}

func TestConcurrentClaimsCreditOnce(t *testing.T) {
	db := testutil.NewDB(t)
	clock := testutil.NewClock(t0)
	claims := NewClaims(db, config.DefaultEngineConfig(), clock.Now, nil)
	user := testutil.CreateUser(t, db, "carol", domain.TierEnterprise, 0)

	const attempts = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		tooEarly int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := claims.ClaimDailyPoints(context.Background(), user.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrClaimTooEarly):
				tooEarly++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, ok)
	require.Equal(t, attempts-1, tooEarly)
	require.Equal(t, int64(1000), testutil.Wallet(t, db, user.ID).Balance)
}

func TestClaimUnknownUser(t *testing.T) {
	db := testutil.NewDB(t)
	claims := NewClaims(db, config.DefaultEngineConfig(), nil, nil)
	_, err := claims.ClaimDailyPoints(context.Background(), 42)
	require.ErrorIs(t, err, domain.ErrUnknownUser)
	require.True(t, domain.IsValidation(err))
}

func TestClaimUsesCurrentTier(t *testing.T) {
	db := testutil.NewDB(t)
	clock := testutil.NewClock(t0)
	claims := NewClaims(db, config.DefaultEngineConfig(), clock.Now, nil)
	accounts := NewAccounts(db)
	user := testutil.CreateUser(t, db, "dave", domain.TierFree, 0)

	_, err := claims.ClaimDailyPoints(context.Background(), user.ID)
	require.NoError(t, err)
	_, err = accounts.ChangeTier(context.Background(), user.ID, domain.TierProPlus)
	require.NoError(t, err)

	clock.Advance(24 * time.Hour)
	res, err := claims.ClaimDailyPoints(context.Background(), user.ID)
	require.NoError(t, err)
	require.Equal(t, int64(500), res.Credited)
	require.Equal(t, int64(550), res.Wallet.Balance)
}
