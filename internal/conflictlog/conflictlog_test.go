package conflictlog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lprior-repo/zjj/internal/clock"
	"github.com/lprior-repo/zjj/internal/models"
	"github.com/lprior-repo/zjj/internal/sessionrepo"
	"github.com/lprior-repo/zjj/internal/store"
)

func newTestLog(t *testing.T) (*Log, *clock.FakeClock) {
	t.Helper()
	db, err := store.InitDBWithPath(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	fc := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	repo := sessionrepo.New(db, fc)
	_, err = repo.Create(context.Background(), "s1", "/ws/s1")
	require.NoError(t, err)

	return New(db, fc), fc
}

func TestRecord_AndListBySession(t *testing.T) {
	log, _ := newTestLog(t)
	ctx := context.Background()

	conf := 0.92
	rec, err := log.Record(ctx, "s1", "main.go", "take-ours", "matches intent of change", &conf, models.ConflictDeciderAI)
	require.NoError(t, err)
	require.Equal(t, "s1", rec.Session)
	require.Equal(t, models.ConflictDeciderAI, rec.Decider)
	require.NotZero(t, rec.ID)

	list, err := log.ListBySession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "main.go", list[0].File)
	require.InDelta(t, 0.92, *list[0].Confidence, 0.0001)
}

func TestRecord_RejectsUnknownDecider(t *testing.T) {
	log, _ := newTestLog(t)
	_, err := log.Record(context.Background(), "s1", "main.go", "take-ours", "", nil, models.ConflictDecider("robot"))
	require.Error(t, err)
}

func TestListRecent_OrdersNewestFirst(t *testing.T) {
	log, _ := newTestLog(t)
	ctx := context.Background()

	_, err := log.Record(ctx, "s1", "a.go", "take-ours", "", nil, models.ConflictDeciderHuman)
	require.NoError(t, err)
	_, err = log.Record(ctx, "s1", "b.go", "take-theirs", "", nil, models.ConflictDeciderHuman)
	require.NoError(t, err)

	list, err := log.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "b.go", list[0].File)
	require.Equal(t, "a.go", list[1].File)
}
