package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"promotion_engine/internal/catalog"
	"promotion_engine/internal/config"
	"promotion_engine/internal/domain"
	"promotion_engine/internal/scoring"
	"promotion_engine/internal/testutil"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type boostEnv struct {
	db    *gorm.DB
	clock *testutil.Clock
	agg   *scoring.Aggregator
	proc  *Processor
}

func newBoostEnv(t *testing.T) *boostEnv {
	t.Helper()
	db := testutil.NewDB(t)
	clock := testutil.NewClock(t0)
	agg := scoring.New(scoring.Config{DB: db, Shards: 4, Now: clock.Now})
	proc := NewProcessor(db, catalog.NewStore(db, nil), agg, config.DefaultEngineConfig(), clock.Now, nil)
	return &boostEnv{db: db, clock: clock, agg: agg, proc: proc}
}

func (e *boostEnv) drain(t *testing.T) {
	t.Helper()
	_, err := e.agg.Drain(context.Background())
	require.NoError(t, err)
}

func (e *boostEnv) ledgerCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&domain.PromotionLedgerEntry{}).Count(&n).Error)
	return n
}

func TestApplyBoostProScenario(t *testing.T) {
	env := newBoostEnv(t)
	user := testutil.CreateUser(t, env.db, "alice", domain.TierPro, 150)
	testutil.CreateEntity(t, env.db, domain.EntityTour, "tour-1", "lisbon")
	ctx := context.Background()

	_, err := env.proc.ApplyBoost(ctx, BoostRequest{UserID: user.ID, EntityType: domain.EntityTour, EntityID: "tour-1", Points: 160, Source: domain.SourceSubscription})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	require.Equal(t, int64(150), testutil.Wallet(t, env.db, user.ID).Balance)
	require.Zero(t, env.ledgerCount(t))

	res, err := env.proc.ApplyBoost(ctx, BoostRequest{UserID: user.ID, EntityType: domain.EntityTour, EntityID: "tour-1", Points: 150, Source: domain.SourceSubscription})
	require.NoError(t, err)
	require.NotNil(t, res.Balance)
	require.Equal(t, int64(0), *res.Balance)
	require.Equal(t, int64(0), testutil.Wallet(t, env.db, user.ID).Balance)
	require.Equal(t, domain.TierPro, res.Entry.Tier)
	require.Equal(t, "lisbon", res.Entry.Region)

	env.drain(t)
	score := testutil.Score(t, env.db, domain.EntityTour, "tour-1")
	require.Equal(t, int64(150), score.TotalScore)
	require.Equal(t, int64(150), score.MonthlyScore)
	require.Equal(t, int64(150), score.WeeklyScore)
	require.Equal(t, int64(150), score.Past28DaysScore)
	require.Equal(t, "Entity tour-1", score.Name)
}

func TestApplyBoostValidation(t *testing.T) {
	env := newBoostEnv(t)
	user := testutil.CreateUser(t, env.db, "bob", domain.TierPro, 1000)
	testutil.CreateEntity(t, env.db, domain.EntityRestaurant, "r-1", "porto")
	ctx := context.Background()

	cases := []struct {
		name string
		req  BoostRequest
		want error
	}{
		{"below minimum", BoostRequest{EntityType: domain.EntityRestaurant, EntityID: "r-1", Points: 9, Source: domain.SourceSubscription}, domain.ErrBelowMinimumSpend},
		{"unknown entity", BoostRequest{EntityType: domain.EntityRestaurant, EntityID: "nope", Points: 10, Source: domain.SourceSubscription}, domain.ErrUnknownEntity},
		{"entity type mismatch", BoostRequest{EntityType: domain.EntityTour, EntityID: "r-1", Points: 10, Source: domain.SourceSubscription}, domain.ErrUnknownEntity},
		{"bad entity type", BoostRequest{EntityType: "hotel", EntityID: "r-1", Points: 10, Source: domain.SourceSubscription}, domain.ErrInvalidEntityType},
		{"unknown bundle", BoostRequest{EntityType: domain.EntityRestaurant, EntityID: "r-1", Source: domain.SourceInstantPurchase, BundleID: "boost_7"}, domain.ErrInvalidBundle},
		{"bundle points mismatch", BoostRequest{EntityType: domain.EntityRestaurant, EntityID: "r-1", Points: 400, Source: domain.SourceInstantPurchase, BundleID: "boost_500"}, domain.ErrInvalidBundle},
		{"subscription with bundle", BoostRequest{EntityType: domain.EntityRestaurant, EntityID: "r-1", Points: 100, Source: domain.SourceSubscription, BundleID: "boost_100"}, domain.ErrInvalidBundle},
		{"unset source", BoostRequest{EntityType: domain.EntityRestaurant, EntityID: "r-1", Points: 100}, domain.ErrInvalidSource},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.req.UserID = user.ID
			_, err := env.proc.ApplyBoost(ctx, tc.req)
			require.ErrorIs(t, err, tc.want)
			require.True(t, domain.IsValidation(err))
		})
	}
	require.Zero(t, env.ledgerCount(t))
	require.Equal(t, int64(1000), testutil.Wallet(t, env.db, user.ID).Balance)
}

func TestApplyBoostUnknownUser(t *testing.T) {
	env := newBoostEnv(t)
	testutil.CreateEntity(t, env.db, domain.EntityPlan, "p-1", "")
	_, err := env.proc.ApplyBoost(context.Background(), BoostRequest{UserID: 99, EntityType: domain.EntityPlan, EntityID: "p-1", Source: domain.SourceInstantPurchase, BundleID: "boost_100"})
	require.ErrorIs(t, err, domain.ErrUnknownUser)
	require.Zero(t, env.ledgerCount(t))
}

func TestSourceAsymmetry(t *testing.T) {
	env := newBoostEnv(t)
	user := testutil.CreateUser(t, env.db, "carol", domain.TierEnterprise, 1000)
	testutil.CreateEntity(t, env.db, domain.EntityTour, "tour-9", "rome")
	ctx := context.Background()

	res, err := env.proc.ApplyBoost(ctx, BoostRequest{UserID: user.ID, EntityType: domain.EntityTour, EntityID: "tour-9", Source: domain.SourceInstantPurchase, BundleID: "boost_500"})
	require.NoError(t, err)
	require.Nil(t, res.Balance)
	require.Equal(t, int64(500), res.Entry.PointsSpent)
	env.drain(t)

	require.Equal(t, int64(500), testutil.Score(t, env.db, domain.EntityTour, "tour-9").TotalScore)
	require.Equal(t, int64(0), testutil.Promoter(t, env.db, user.ID).TotalPointsSpent)
	require.Equal(t, int64(1000), testutil.Wallet(t, env.db, user.ID).Balance)

	_, err = env.proc.ApplyBoost(ctx, BoostRequest{UserID: user.ID, EntityType: domain.EntityTour, EntityID: "tour-9", Points: 500, Source: domain.SourceSubscription})
	require.NoError(t, err)
	env.drain(t)

	require.Equal(t, int64(1000), testutil.Score(t, env.db, domain.EntityTour, "tour-9").TotalScore)
	promoter := testutil.Promoter(t, env.db, user.ID)
	require.Equal(t, int64(500), promoter.TotalPointsSpent)
	require.Equal(t, domain.TierEnterprise, promoter.Tier)
	require.Equal(t, int64(500), testutil.Wallet(t, env.db, user.ID).Balance)
}

func TestApplyBoostIdempotencyKey(t *testing.T) {
	env := newBoostEnv(t)
	user := testutil.CreateUser(t, env.db, "dave", domain.TierPro, 200)
	testutil.CreateEntity(t, env.db, domain.EntityTour, "tour-2", "")
	ctx := context.Background()
	req := BoostRequest{UserID: user.ID, EntityType: domain.EntityTour, EntityID: "tour-2", Points: 50, Source: domain.SourceSubscription, IdempotencyKey: "req-1"}

	first, err := env.proc.ApplyBoost(ctx, req)
	require.NoError(t, err)
	require.False(t, first.Replayed)

	second, err := env.proc.ApplyBoost(ctx, req)
	require.NoError(t, err)
	require.True(t, second.Replayed)
	require.Equal(t, first.Entry.ID, second.Entry.ID)

	require.Equal(t, int64(1), env.ledgerCount(t))
	require.Equal(t, int64(150), testutil.Wallet(t, env.db, user.ID).Balance)

	req.IdempotencyKey = "req-2"
	_, err = env.proc.ApplyBoost(ctx, req)
	require.NoError(t, err)
	require.Equal(t, int64(2), env.ledgerCount(t))
}

func TestReplayAfterEntityDeactivated(t *testing.T) {
	env := newBoostEnv(t)
	user := testutil.CreateUser(t, env.db, "erin", domain.TierFree, 0)
	testutil.CreateEntity(t, env.db, domain.EntityRestaurant, "r-5", "")
	ctx := context.Background()
	req := BoostRequest{UserID: user.ID, EntityType: domain.EntityRestaurant, EntityID: "r-5", Source: domain.SourceInstantPurchase, BundleID: "boost_100", IdempotencyKey: "payment:pay-9"}

	first, err := env.proc.ApplyBoost(ctx, req)
	require.NoError(t, err)
	require.Equal(t, int64(100), first.Entry.PointsSpent)

	require.NoError(t, env.db.Model(&domain.CatalogEntity{}).Where("entity_id = ?", "r-5").Update("active", false).Error)
	_, err = env.proc.ApplyBoost(ctx, BoostRequest{UserID: user.ID, EntityType: domain.EntityRestaurant, EntityID: "r-5", Source: domain.SourceInstantPurchase, BundleID: "boost_100"})
	require.ErrorIs(t, err, domain.ErrUnknownEntity)

	again, err := env.proc.ApplyBoost(ctx, req)
	require.NoError(t, err)
	require.True(t, again.Replayed)
	require.Equal(t, first.Entry.ID, again.Entry.ID)
	require.Equal(t, int64(1), env.ledgerCount(t))
}

func TestReusedKeyForDifferentBoostRejected(t *testing.T) {
	env := newBoostEnv(t)
	user := testutil.CreateUser(t, env.db, "frank", domain.TierPro, 500)
	testutil.CreateEntity(t, env.db, domain.EntityTour, "tour-7", "")
	testutil.CreateEntity(t, env.db, domain.EntityTour, "tour-8", "")
	ctx := context.Background()
	req := BoostRequest{UserID: user.ID, EntityType: domain.EntityTour, EntityID: "tour-7", Points: 50, Source: domain.SourceSubscription, IdempotencyKey: "k-1"}
	_, err := env.proc.ApplyBoost(ctx, req)
	require.NoError(t, err)

	other := req
	other.EntityID = "tour-8"
	_, err = env.proc.ApplyBoost(ctx, other)
	require.ErrorIs(t, err, domain.ErrKeyReused)
	require.True(t, domain.IsValidation(err))

	other = req
	other.Points = 60
	_, err = env.proc.ApplyBoost(ctx, other)
	require.ErrorIs(t, err, domain.ErrKeyReused)

	require.Equal(t, int64(1), env.ledgerCount(t))
	require.Equal(t, int64(450), testutil.Wallet(t, env.db, user.ID).Balance)
}

func TestConcurrentBoostsNeverOverdraw(t *testing.T) {
	env := newBoostEnv(t)
	user := testutil.CreateUser(t, env.db, "erin", domain.TierPro, 100)
	testutil.CreateEntity(t, env.db, domain.EntityTour, "tour-a", "")
	testutil.CreateEntity(t, env.db, domain.EntityRestaurant, "rest-b", "")

	const attempts = 25
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		applied      int
		insufficient int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := BoostRequest{UserID: user.ID, EntityType: domain.EntityTour, EntityID: "tour-a", Points: 10, Source: domain.SourceSubscription}
			if i%2 == 1 {
				req.EntityType, req.EntityID = domain.EntityRestaurant, "rest-b"
			}
			_, err := env.proc.ApplyBoost(context.Background(), req)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				applied++
			case errors.Is(err, domain.ErrInsufficientBalance):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 10, applied)
	require.Equal(t, attempts-10, insufficient)
	require.Equal(t, int64(0), testutil.Wallet(t, env.db, user.ID).Balance)

	env.drain(t)
	total := testutil.Score(t, env.db, domain.EntityTour, "tour-a").TotalScore +
		testutil.Score(t, env.db, domain.EntityRestaurant, "rest-b").TotalScore
	require.Equal(t, int64(100), total)
	require.Equal(t, int64(100), testutil.Promoter(t, env.db, user.ID).TotalPointsSpent)
}

func TestScoresDeriveFromLedger(t *testing.T) {
	env := newBoostEnv(t)
	alice := testutil.CreateUser(t, env.db, "alice", domain.TierPro, 1000)
	bob := testutil.CreateUser(t, env.db, "bob", domain.TierFree, 1000)
	testutil.CreateEntity(t, env.db, domain.EntityTour, "t1", "")
	testutil.CreateEntity(t, env.db, domain.EntityPlan, "p1", "")
	ctx := context.Background()

	boosts := []BoostRequest{
		{UserID: alice.ID, EntityType: domain.EntityTour, EntityID: "t1", Points: 40, Source: domain.SourceSubscription},
		{UserID: bob.ID, EntityType: domain.EntityTour, EntityID: "t1", Source: domain.SourceInstantPurchase, BundleID: "boost_1000"},
		{UserID: bob.ID, EntityType: domain.EntityPlan, EntityID: "p1", Points: 75, Source: domain.SourceSubscription},
		{UserID: alice.ID, EntityType: domain.EntityPlan, EntityID: "p1", Points: 10, Source: domain.SourceSubscription},
	}
	for _, b := range boosts {
		_, err := env.proc.ApplyBoost(ctx, b)
		require.NoError(t, err)
	}
	env.drain(t)

	for _, e := range []struct {
		typ domain.EntityType
		id  string
	}{{domain.EntityTour, "t1"}, {domain.EntityPlan, "p1"}} {
		var sum int64
		require.NoError(t, env.db.Model(&domain.PromotionLedgerEntry{}).
			Where("entity_type = ? AND entity_id = ?", e.typ, e.id).
			Select("COALESCE(SUM(points_spent), 0)").Scan(&sum).Error)
		require.Equal(t, sum, testutil.Score(t, env.db, e.typ, e.id).TotalScore)
	}

	report, err := env.agg.Rebuild(ctx, scoring.RebuildOptions{DryRun: true})
	require.NoError(t, err)
	require.Empty(t, report.Mismatches)
	require.Equal(t, 4, report.Entries)
	require.Equal(t, 2, report.Promoters)
}
