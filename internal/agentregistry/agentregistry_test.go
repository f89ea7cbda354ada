package agentregistry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lprior-repo/zjj/internal/clock"
	"github.com/lprior-repo/zjj/internal/models"
	"github.com/lprior-repo/zjj/internal/store"
)

func newTestRegistry(t *testing.T) (*Registry, *clock.FakeClock) {
	t.Helper()
	db, err := store.InitDBWithPath(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	fc := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(db, fc), fc
}

func TestRegister_GeneratesIDWhenEmpty(t *testing.T) {
	reg, _ := newTestRegistry(t)
	agent, err := reg.Register(context.Background(), "")
	require.NoError(t, err)
	require.NotEmpty(t, agent.ID)
}

func TestRegister_RejectsDuplicateID(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	_, err := reg.Register(ctx, "a1")
	require.NoError(t, err)

	_, err = reg.Register(ctx, "a1")
	require.Error(t, err)
	var dup *models.AgentAlreadyRegisteredError
	require.ErrorAs(t, err, &dup)
}

func TestHeartbeat_AdvancesAndIncrements(t *testing.T) {
	reg, fc := newTestRegistry(t)
	ctx := context.Background()
	_, err := reg.Register(ctx, "a1")
	require.NoError(t, err)

	fc.Advance(30 * time.Second)
	require.NoError(t, reg.Heartbeat(ctx, "a1", "zjj session start"))

	agent, err := reg.Get(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, int64(1), agent.ActionsCount)
	require.Equal(t, "zjj session start", agent.CurrentCommand)
}

func TestHeartbeat_UnknownIDIsNotFound(t *testing.T) {
	reg, _ := newTestRegistry(t)
	err := reg.Heartbeat(context.Background(), "ghost", "")
	require.Error(t, err)
	var notFound *models.AgentNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestStatus_ActiveThenStaleAfterTTL(t *testing.T) {
	reg, fc := newTestRegistry(t)
	ctx := context.Background()
	_, err := reg.Register(ctx, "a1")
	require.NoError(t, err)

	ttl := 60 * time.Second
	status, err := reg.Status(ctx, "a1", ttl)
	require.NoError(t, err)
	require.Equal(t, models.AgentStatusActive, status)

	fc.Advance(61 * time.Second)
	status, err = reg.Status(ctx, "a1", ttl)
	require.NoError(t, err)
	require.Equal(t, models.AgentStatusStale, status)
}

func TestList_ExcludesStaleByDefault(t *testing.T) {
	reg, fc := newTestRegistry(t)
	ctx := context.Background()
	_, err := reg.Register(ctx, "fresh")
	require.NoError(t, err)
	_, err = reg.Register(ctx, "old")
	require.NoError(t, err)

	fc.Advance(2 * time.Minute)
	require.NoError(t, reg.Heartbeat(ctx, "fresh", ""))

	ttl := 60 * time.Second
	active, err := reg.List(ctx, false, ttl, "")
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "fresh", active[0].ID)

	all, err := reg.List(ctx, true, ttl, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestUnregister_ReportsWhetherAgentExisted(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Register(ctx, "a1")
	require.NoError(t, err)

	existed, err := reg.Unregister(ctx, "a1")
	require.NoError(t, err)
	require.True(t, existed)

	existed, err = reg.Unregister(ctx, "a1")
	require.NoError(t, err)
	require.False(t, existed)
}

func TestReclaimStale_RemovesAgentsPastThreshold(t *testing.T) {
	reg, fc := newTestRegistry(t)
	ctx := context.Background()
	_, err := reg.Register(ctx, "a1")
	require.NoError(t, err)

	fc.Advance(20 * time.Minute)
	n, err := reg.ReclaimStale(ctx, 10*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = reg.Get(ctx, "a1")
	require.Error(t, err)
}
