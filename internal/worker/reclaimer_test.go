package worker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/objectstore"
	"github.com/MarcoPoloResearchLab/drive-lifecycle/internal/reclamation"
	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type workerEnv struct {
	db     *gorm.DB
	outbox *reclamation.Outbox
	store  *objectstore.MemoryStore
}

func newWorkerEnv(t *testing.T) workerEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "worker.db")), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, reclamation.Migrate(db))
	outbox, err := reclamation.NewOutbox(reclamation.OutboxConfig{Database: db})
	require.NoError(t, err)
	return workerEnv{db: db, outbox: outbox, store: objectstore.NewMemoryStore()}
}

func (env workerEnv) enqueue(t *testing.T, kind reclamation.Kind, entityID, networkFileID string) {
	t.Helper()
	intent := reclamation.Intent{EntityID: entityID}
	if networkFileID != "" {
		intent.NetworkFileID = &networkFileID
		env.store.Put(networkFileID)
	}
	_, err := env.outbox.Enqueue(env.db, kind, intent)
	require.NoError(t, err)
}

func TestProcessOnceReclaimsBlobs(t *testing.T) {
	env := newWorkerEnv(t)
	env.enqueue(t, reclamation.KindFile, "file-1", "net-1")
	env.enqueue(t, reclamation.KindFile, "file-2", "net-2")
	env.enqueue(t, reclamation.KindFolder, "folder-1", "")

	reclaimer, err := NewReclaimer(Config{Queue: env.outbox, Deleter: env.store, BatchSize: 10})
	require.NoError(t, err)

	result, err := reclaimer.ProcessOnce(context.Background(), reclamation.KindFile)
	require.NoError(t, err)
	assert.Equal(t, Result{Drained: 2, Reclaimed: 2}, result)
	assert.False(t, env.store.Has("net-1"))
	assert.False(t, env.store.Has("net-2"))

	result, err = reclaimer.ProcessOnce(context.Background(), reclamation.KindFolder)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Reclaimed)

	counts, err := env.outbox.Counts(context.Background(), reclamation.KindFile)
	require.NoError(t, err)
	assert.Equal(t, reclamation.Counts{Processed: 2}, counts)

	result, err = reclaimer.ProcessOnce(context.Background(), reclamation.KindFile)
	require.NoError(t, err)
	assert.Zero(t, result.Drained)
	assert.Equal(t, 1, env.store.DeleteCount("net-1"))
}

func TestProcessOnceLeavesFailedRecordsClaimed(t *testing.T) {
	env := newWorkerEnv(t)
	env.enqueue(t, reclamation.KindFileVersion, "version-1", "net-v1")
	env.store.FailDeletes("net-v1", errors.New("throttled"))

	reclaimer, err := NewReclaimer(Config{Queue: env.outbox, Deleter: env.store})
	require.NoError(t, err)

	result, err := reclaimer.ProcessOnce(context.Background(), reclamation.KindFileVersion)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.True(t, env.store.Has("net-v1"))

	record, err := env.outbox.Get(context.Background(), reclamation.KindFileVersion, "version-1")
	require.NoError(t, err)
	assert.True(t, record.Enqueued)
	assert.False(t, record.Processed)

	env.store.FailDeletes("net-v1", nil)
	later, err := reclamation.NewOutbox(reclamation.OutboxConfig{
		Database: env.db,
		Clock:    func() time.Time { return time.Now().Add(time.Hour) },
	})
	require.NoError(t, err)
	retry, err := NewReclaimer(Config{Queue: later, Deleter: env.store, StaleAfter: time.Minute})
	require.NoError(t, err)
	result, err = retry.ProcessOnce(context.Background(), reclamation.KindFileVersion)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Reset)
	assert.Equal(t, 1, result.Reclaimed)
	assert.False(t, env.store.Has("net-v1"))
}

func TestRunDrainsEveryQueueUntilCancelled(t *testing.T) {
	env := newWorkerEnv(t)
	env.enqueue(t, reclamation.KindFile, "file-1", "net-1")
	env.enqueue(t, reclamation.KindFileVersion, "version-1", "net-v1")
	env.enqueue(t, reclamation.KindFolder, "folder-1", "")

	reclaimer, err := NewReclaimer(Config{
		Queue:        env.outbox,
		Deleter:      env.store,
		PollInterval: 10 * time.Millisecond,
		BatchSize:    1,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reclaimer.Run(ctx) }()

	require.Eventually(t, func() bool {
		for _, kind := range reclamation.Kinds() {
			counts, err := env.outbox.Counts(context.Background(), kind)
			if err != nil || counts.Processed != 1 {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
	assert.False(t, env.store.Has("net-1"))
	assert.False(t, env.store.Has("net-v1"))
}

func TestNewReclaimerValidates(t *testing.T) {
	_, err := NewReclaimer(Config{})
	assert.Error(t, err)
	_, err = NewReclaimer(Config{Queue: &reclamation.Outbox{}})
	assert.Error(t, err)
}
