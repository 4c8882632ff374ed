package stash

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"daftie-backend/lib/testutil"
	"daftie-backend/lib/timezone"
	"daftie-backend/services/stash/db"

	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Store, *db.Queries, func()) {
	res, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "services/stash",
		DbSchema: db.Schema,
	})
	return NewStore(res.DB), db.New(res.DB), cleanup
}

func TestUntouchedRecordIsNotPersisted(t *testing.T) {
	store, qry, cleanup := setup(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	meta := store.Get(Key("12345"))
	require.True(t, meta.IsEmpty())

	err := store.Flush(ctx)
	require.NoError(t, err)

	_, err = qry.GetValue(ctx, Key("12345"))
	require.ErrorIs(t, err, sql.ErrNoRows)

	// the controls singleton always persists
	_, err = qry.GetValue(ctx, ControlsKey)
	require.NoError(t, err)
}

func TestClearedNotesDropRecord(t *testing.T) {
	store, qry, cleanup := setup(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	meta := store.Get(Key("777"))
	meta.Notes = "viewing on saturday"
	require.NoError(t, store.Flush(ctx))

	_, err := qry.GetValue(ctx, Key("777"))
	require.NoError(t, err)

	meta.Notes = ""
	require.NoError(t, store.Flush(ctx))

	_, err = qry.GetValue(ctx, Key("777"))
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestRecordCostDedupsByValue(t *testing.T) {
	meta := &CardMetadata{}
	now := timezone.Now()

	require.True(t, meta.RecordCost(now, "€350,000"))
	require.False(t, meta.RecordCost(now.Add(time.Hour), "€350,000"))
	require.False(t, meta.RecordCost(now.Add(2*time.Hour), "€350,000"))
	require.Len(t, meta.Costs, 1)

	require.True(t, meta.RecordCost(now.Add(3*time.Hour), "€360,000"))
	require.Len(t, meta.Costs, 2)
	require.Equal(t, "€350,000", meta.Costs[0].Value)
	require.Equal(t, "€360,000", meta.Costs[1].Value)

	require.False(t, meta.RecordCost(now.Add(4*time.Hour), ""))
}

func TestLoadPrefersExternalState(t *testing.T) {
	store, qry, cleanup := setup(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	err := qry.SetValue(ctx, db.KV{
		Key:   Key("42"),
		Value: `{"hidden":true,"notes":"old gaff"}`,
	})
	require.NoError(t, err)
	err = qry.SetValue(ctx, db.KV{
		Key:   ControlsKey,
		Value: `{"hiddenEnabled":false,"hideList":["lucan"]}`,
	})
	require.NoError(t, err)

	err = store.Load(ctx, []string{Key("42"), Key("99")})
	require.NoError(t, err)

	meta := store.Get(Key("42"))
	require.True(t, meta.Hidden)
	require.Equal(t, "old gaff", meta.Notes)

	// a key absent from the initial read is new for the session
	require.True(t, store.Get(Key("99")).IsEmpty())

	controls := store.Controls()
	require.False(t, controls.HiddenEnabled)
	require.Equal(t, []string{"lucan"}, controls.HideList)
}

func TestReloadKeepsUnflushedMutations(t *testing.T) {
	store, qry, cleanup := setup(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	err := qry.SetValue(ctx, db.KV{
		Key:   Key("42"),
		Value: `{"notes":"old gaff"}`,
	})
	require.NoError(t, err)
	require.NoError(t, store.Load(ctx, []string{Key("42")}))

	// mutate in memory, then navigate to another page before the
	// fire-and-forget save has committed: the next bulk read returns
	// the stale persisted row
	store.Get(Key("42")).Hidden = true
	store.SetControls(GlobalControls{HiddenEnabled: true, HideList: []string{"lucan"}})

	require.NoError(t, store.Load(ctx, []string{Key("42"), Key("7")}))

	meta := store.Get(Key("42"))
	require.True(t, meta.Hidden)
	require.Equal(t, "old gaff", meta.Notes)
	require.Equal(t, []string{"lucan"}, store.Controls().HideList)
}

func TestSaveCoalesces(t *testing.T) {
	store, qry, cleanup := setup(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	meta := store.Get(Key("1"))
	for i := 0; i < 20; i++ {
		meta.Hidden = i%2 == 0
		store.Save(ctx)
	}
	meta.Notes = "final"
	store.Save(ctx)

	require.NoError(t, store.Flush(ctx))

	value, err := qry.GetValue(ctx, Key("1"))
	require.NoError(t, err)
	require.Contains(t, value, "final")
}

func TestLoadAll(t *testing.T) {
	store, qry, cleanup := setup(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	require.NoError(t, qry.SetValue(ctx, db.KV{Key: Key("1"), Value: `{"notes":"a"}`}))
	require.NoError(t, qry.SetValue(ctx, db.KV{Key: Key("2"), Value: `{"hidden":true}`}))

	require.NoError(t, store.LoadAll(ctx))
	require.Equal(t, "a", store.Get(Key("1")).Notes)
	require.True(t, store.Get(Key("2")).Hidden)
}
