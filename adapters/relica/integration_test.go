package relica_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/coregx/messagehub"
	"github.com/coregx/messagehub/adapters/relica"
	"github.com/coregx/messagehub/model"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const recipient model.GlobalLocationNumber = "5790000000005"

var key = model.CabinetKey{Recipient: recipient, Origin: model.OriginTimeSeries, ContentType: "TimeSeries"}

// openDB returns a migrated SQLite database. The tests need cgo, so they only
// run with MESSAGEHUB_SQLITE_TEST=1.
func openDB(t *testing.T) *sql.DB {
	t.Helper()
	if os.Getenv("MESSAGEHUB_SQLITE_TEST") != "1" {
		t.Skip("set MESSAGEHUB_SQLITE_TEST=1 to run SQLite integration tests")
	}

	path := filepath.Join(t.TempDir(), "hub.db")
	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_journal_mode=WAL")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, relica.Migrate(context.Background(), db, "test_"))
	return db
}

func TestSequenceAllocator(t *testing.T) {
	ctx := context.Background()
	alloc := relica.NewSequenceAllocatorWithPrefix(openDB(t), "sqlite3", "test_")

	for want := int64(1); want <= 3; want++ {
		got, err := alloc.NextSequenceNumber(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	got, err := alloc.NextSequenceNumber(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}

func TestSequenceAllocator_Concurrent(t *testing.T) {
	alloc := relica.NewSequenceAllocatorWithPrefix(openDB(t), "sqlite3", "test_")
	const workers, perWorker = 4, 10

	var mu sync.Mutex
	seen := make(map[int64]struct{})
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				n, err := alloc.NextSequenceNumber(context.Background(), "p")
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				seen[n] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers*perWorker)
}

func TestCabinetStorage_AppendReadCommit(t *testing.T) {
	ctx := context.Background()
	storage := relica.NewCabinetStorageWithPrefix(openDB(t), "sqlite3", "test_")
	storage.SetMaxItemsPerDrawer(2)

	var stored []model.DataAvailableNotification
	for i := 0; i < 3; i++ {
		n, err := storage.AppendNotification(ctx,
			model.NewDataAvailableNotification(recipient, model.OriginTimeSeries, "TimeSeries", true, 2, "Doc"))
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), n.SequenceNumber)
		stored = append(stored, n)
	}

	entry, err := storage.LoadCatalogEntry(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.NextSequenceNumber)

	reader, err := messagehub.OpenCabinetReader(ctx, storage, key)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		item, err := reader.Take(ctx)
		require.NoError(t, err)
		assert.Equal(t, stored[i].ID, item.ID)
		assert.Equal(t, int64(2), item.Weight)
		assert.Equal(t, "Doc", item.DocumentType)
	}

	changes, err := reader.GetChanges(ctx)
	require.NoError(t, err)
	require.NoError(t, storage.CommitChanges(ctx, changes))
	assert.True(t, messagehub.IsConflict(storage.CommitChanges(ctx, changes)), "replayed changes conflict")

	entry, err = storage.LoadCatalogEntry(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, stored[2].SequenceNumber, entry.NextSequenceNumber)

	active, err := storage.LoadActiveCatalogEntry(ctx, recipient, model.OriginTimeSeries, nil)
	require.NoError(t, err)
	assert.Equal(t, "TimeSeries", active.ContentType)

	reader, err = messagehub.OpenCabinetReader(ctx, storage, key)
	require.NoError(t, err)
	item, err := reader.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, stored[2].ID, item.ID)

	purged, err := storage.PurgeNotifications(ctx, []uuid.UUID{stored[0].ID, stored[1].ID, stored[2].ID})
	require.NoError(t, err)
	assert.Equal(t, 2, purged, "unread items stay")
}

func TestCabinetStorage_ConcurrentAppendSurvivesCommit(t *testing.T) {
	ctx := context.Background()
	storage := relica.NewCabinetStorageWithPrefix(openDB(t), "sqlite3", "test_")
	_, err := storage.AppendNotification(ctx, model.NewDataAvailableNotification(recipient, model.OriginTimeSeries, "TimeSeries", true, 1, ""))
	require.NoError(t, err)

	reader, err := messagehub.OpenCabinetReader(ctx, storage, key)
	require.NoError(t, err)
	_, err = reader.Take(ctx)
	require.NoError(t, err)
	changes, err := reader.GetChanges(ctx)
	require.NoError(t, err)
	require.True(t, changes.Catalog[0].Remove)

	late, err := storage.AppendNotification(ctx, model.NewDataAvailableNotification(recipient, model.OriginTimeSeries, "TimeSeries", true, 1, ""))
	require.NoError(t, err)

	require.NoError(t, storage.CommitChanges(ctx, changes))
	assert.True(t, messagehub.IsConflict(storage.CommitChanges(ctx, changes)), "replayed changes conflict")

	entry, err := storage.LoadCatalogEntry(ctx, key)
	require.NoError(t, err, "the late item keeps the cabinet in the catalog")
	assert.Equal(t, late.SequenceNumber, entry.NextSequenceNumber)
}

func TestCabinetStorage_AppendIsIdempotentOnID(t *testing.T) {
	ctx := context.Background()
	storage := relica.NewCabinetStorageWithPrefix(openDB(t), "sqlite3", "test_")
	n := model.NewDataAvailableNotification(recipient, model.OriginTimeSeries, "TimeSeries", true, 1, "")

	first, err := storage.AppendNotification(ctx, n)
	require.NoError(t, err)
	again, err := storage.AppendNotification(ctx, n)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, first.SequenceNumber, again.SequenceNumber)

	reader, err := messagehub.OpenCabinetReader(ctx, storage, key)
	require.NoError(t, err)
	_, err = reader.Take(ctx)
	require.NoError(t, err)
	more, err := reader.CanPeek(ctx)
	require.NoError(t, err)
	assert.False(t, more, "the duplicate was not stored")
}

func TestBundleRepository(t *testing.T) {
	ctx := context.Background()
	repo := relica.NewBundleRepositoryWithPrefix(openDB(t), "sqlite3", "test_")

	_, err := repo.GetNextUnacknowledged(ctx, recipient)
	assert.True(t, messagehub.IsNoData(err))

	bundle := model.NewBundle(uuid.Nil, key, []uuid.UUID{uuid.New(), uuid.New()}, 4)
	require.NoError(t, bundle.AssignContent("https://blob.local/1"))
	require.NoError(t, repo.Save(ctx, &bundle))

	second := model.NewBundle(uuid.Nil, key, []uuid.UUID{uuid.New()}, 1)
	assert.True(t, messagehub.HasCode(repo.Save(ctx, &second), messagehub.ErrCodeDuplicateBundle))

	got, err := repo.GetNextUnacknowledged(ctx, recipient)
	require.NoError(t, err)
	assert.Equal(t, bundle.ID, got.ID)
	assert.Equal(t, bundle.NotificationIDs, got.NotificationIDs)
	require.NotNil(t, got.Content)
	assert.Equal(t, "https://blob.local/1", *got.Content)

	ok, err := repo.Acknowledge(ctx, "5790000000012", bundle.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = repo.Acknowledge(ctx, recipient, bundle.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.Acknowledge(ctx, recipient, bundle.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.Save(ctx, &second), "recipient is free again")
	require.NoError(t, repo.Discard(ctx, second.ID))
	_, err = repo.GetNextUnacknowledged(ctx, recipient)
	assert.True(t, messagehub.IsNoData(err))

	found, err := repo.FindDequeuedBefore(ctx, time.Now().UTC().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, bundle.ID, found[0].ID)
	assert.Equal(t, bundle.NotificationIDs, found[0].NotificationIDs)

	require.NoError(t, repo.Delete(ctx, bundle.ID))
	_, err = repo.FindDequeuedBefore(ctx, time.Now().UTC().Add(time.Hour), 10)
	assert.True(t, messagehub.IsNoData(err))
}
