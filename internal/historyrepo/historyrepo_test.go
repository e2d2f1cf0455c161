package historyrepo_test

import (
	"context"
	"crypto/sha256"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dddepg/subtrans/internal/db"
	"github.com/dddepg/subtrans/internal/historyrepo"
	"github.com/dddepg/subtrans/internal/model"
	"github.com/dddepg/subtrans/internal/snowflake"
)

func TestMain(m *testing.M) {
	_ = snowflake.Init(1)
	m.Run()
}

func newRepo(t *testing.T) *historyrepo.Repository {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return historyrepo.New(database)
}

func fingerprintFor(seed string) model.Fingerprint {
	return sha256.Sum256([]byte(seed))
}

func TestWriteAndGet(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	fp := fingerprintFor("a")

	rec := model.HistoryRecord{
		RequestID:  "req-1",
		Fingerprint: fp,
		Provider:   "openai",
		Model:      "gpt-test",
		Workflow:   model.WorkflowStructured,
		EntryCount: 3,
		DurationMs: 120,
		Cached:     false,
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, repo.Write(ctx, rec))

	got, err := repo.Get(ctx, fp)
	require.NoError(t, err)
	require.Equal(t, "req-1", got.RequestID)
	require.Equal(t, "openai", got.Provider)
	require.Equal(t, 3, got.EntryCount)
	require.False(t, got.Cached)
}

func TestWrite_UpsertOnDuplicateRequestID(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	fp := fingerprintFor("b")

	rec := model.HistoryRecord{RequestID: "req-dup", Fingerprint: fp, Provider: "openai", Model: "m", Workflow: model.WorkflowStructured, CreatedAt: time.Now().UTC()}
	require.NoError(t, repo.Write(ctx, rec))

	rec.Cached = true
	rec.DurationMs = 999
	require.NoError(t, repo.Write(ctx, rec))

	got, err := repo.Get(ctx, fp)
	require.NoError(t, err)
	require.True(t, got.Cached)
	require.EqualValues(t, 999, got.DurationMs)
}

func TestList_OrderedMostRecentFirst(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		rec := model.HistoryRecord{
			RequestID:   fmtReqID(i),
			Fingerprint: fingerprintFor(fmtReqID(i)),
			Provider:    "openai",
			Model:       "m",
			Workflow:    model.WorkflowStructured,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, repo.Write(ctx, rec))
	}

	records, err := repo.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, fmtReqID(2), records[0].RequestID)
	require.Equal(t, fmtReqID(0), records[2].RequestID)
}

func TestDeleteOlderThan(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	recent := time.Now().UTC()

	require.NoError(t, repo.Write(ctx, model.HistoryRecord{RequestID: "old", Fingerprint: fingerprintFor("old"), Provider: "p", Model: "m", Workflow: model.WorkflowStructured, CreatedAt: old}))
	require.NoError(t, repo.Write(ctx, model.HistoryRecord{RequestID: "recent", Fingerprint: fingerprintFor("recent"), Provider: "p", Model: "m", Workflow: model.WorkflowStructured, CreatedAt: recent}))

	n, err := repo.DeleteOlderThan(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	records, err := repo.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "recent", records[0].RequestID)
}

func fmtReqID(i int) string {
	return "req-" + string(rune('a'+i))
}
