package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cowors/booking-engine/pkg/cache"
	"github.com/cowors/booking-engine/pkg/events"
	"github.com/cowors/booking-engine/pkg/models"
)

type historyFixture struct {
	store   ConfigStore
	history VersionHistory
}

func newHistoryFixture(t *testing.T) *historyFixture {
	t.Helper()

	versionRepo := &fakeVersionRepo{}
	rateRepo := &fakeRateRepo{versions: versionRepo}
	settingsRepo := &fakeSettingsRepo{versions: versionRepo}
	memCache := cache.NewMemoryCache(time.Minute)
	t.Cleanup(memCache.Stop)

	bus := events.NewBus(zap.NewNop())
	return &historyFixture{
		store:   NewConfigStore(rateRepo, settingsRepo, versionRepo, memCache, bus, zap.NewNop()),
		history: NewVersionHistory(versionRepo, rateRepo, settingsRepo, zap.NewNop()),
	}
}

func TestVersionHistory_History(t *testing.T) {
	f := newHistoryFixture(t)
	ctx := context.Background()
	actor := uuid.New()

	created, err := f.store.CreateRateConfig(ctx, validRatePayload(), actor)
	require.NoError(t, err)

	rate := 12.0
	_, err = f.store.UpdateRateConfig(ctx, created.ID, models.RateConfigChanges{BaseRate: &rate}, actor, "raise")
	require.NoError(t, err)

	records, err := f.history.History(ctx, created.ID, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Newest first, and only the newest is flagged active.
	assert.Equal(t, 2, records[0].Version)
	assert.True(t, records[0].IsActive)
	assert.Equal(t, "raise", records[0].Reason)
	require.Contains(t, records[0].Changes, "base_rate")

	assert.Equal(t, 1, records[1].Version)
	assert.False(t, records[1].IsActive)
}

func TestVersionHistory_HistoryLimit(t *testing.T) {
	f := newHistoryFixture(t)
	ctx := context.Background()
	actor := uuid.New()

	created, err := f.store.CreateRateConfig(ctx, validRatePayload(), actor)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		rate := 11.0 + float64(i)
		_, err = f.store.UpdateRateConfig(ctx, created.ID, models.RateConfigChanges{BaseRate: &rate}, actor, "step")
		require.NoError(t, err)
	}

	records, err := f.history.History(ctx, created.ID, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 5, records[0].Version)
	assert.Equal(t, 4, records[1].Version)
	assert.True(t, records[0].IsActive)
	assert.False(t, records[1].IsActive)
}

func TestVersionHistory_HistoryUnknownChain(t *testing.T) {
	f := newHistoryFixture(t)

	records, err := f.history.History(context.Background(), uuid.New(), 0)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestVersionHistory_RollbackAvailable(t *testing.T) {
	f := newHistoryFixture(t)
	ctx := context.Background()
	actor := uuid.New()

	created, err := f.store.CreateRateConfig(ctx, validRatePayload(), actor)
	require.NoError(t, err)

	// A chain at its first version has nothing to roll back to.
	ok, err := f.history.RollbackAvailable(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	rate := 12.0
	_, err = f.store.UpdateRateConfig(ctx, created.ID, models.RateConfigChanges{BaseRate: &rate}, actor, "raise")
	require.NoError(t, err)

	ok, err = f.history.RollbackAvailable(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVersionHistory_Diff(t *testing.T) {
	f := newHistoryFixture(t)
	ctx := context.Background()
	actor := uuid.New()

	created, err := f.store.CreateRateConfig(ctx, validRatePayload(), actor)
	require.NoError(t, err)

	rate := 15.0
	name := "Premium commission"
	_, err = f.store.UpdateRateConfig(ctx, created.ID, models.RateConfigChanges{BaseRate: &rate, Name: &name}, actor, "rename")
	require.NoError(t, err)

	diff, err := f.history.Diff(ctx, models.ConfigTypeCommissionRate, created.ID, 1, 2)
	require.NoError(t, err)

	require.Len(t, diff, 2)
	assert.Equal(t, 10.0, diff["base_rate"].From)
	assert.Equal(t, 15.0, diff["base_rate"].To)
	assert.Equal(t, "Standard commission", diff["name"].From)
	assert.Equal(t, "Premium commission", diff["name"].To)

	// Reversing the endpoints reverses the transition.
	reverse, err := f.history.Diff(ctx, models.ConfigTypeCommissionRate, created.ID, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 15.0, reverse["base_rate"].From)
	assert.Equal(t, 10.0, reverse["base_rate"].To)
}

func TestVersionHistory_DiffUnknownVersion(t *testing.T) {
	f := newHistoryFixture(t)
	ctx := context.Background()

	created, err := f.store.CreateRateConfig(ctx, validRatePayload(), uuid.New())
	require.NoError(t, err)

	_, err = f.history.Diff(ctx, models.ConfigTypeCommissionRate, created.ID, 1, 9)
	require.Error(t, err)

	_, err = f.history.Diff(ctx, "bogus", created.ID, 1, 2)
	require.Error(t, err)
}
