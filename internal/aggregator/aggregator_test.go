package aggregator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/nats-alerts/internal/model"
	"github.com/t77yq/nats-alerts/internal/storage"
	"github.com/t77yq/nats-alerts/internal/testutil"
)

type failingStore struct {
	storage.AlertStore
}

func (failingStore) Query(context.Context, storage.Predicate) ([]*model.Alert, error) {
	return nil, &storage.StoreError{Op: "query", Err: errors.New("unavailable")}
}

func seed(t *testing.T, store storage.AlertStore, id, source string, updated time.Time, dismissed bool) {
	t.Helper()
	n := model.NewNotice(source, model.NoticePriorityNormal, "title", nil)
	n.HostName = "h1"
	n.Timestamp = updated
	alert := model.NewAlertFromNotice(n)
	alert.ID = id
	if dismissed {
		require.NoError(t, alert.Dismiss("bob", updated))
	}
	require.NoError(t, store.Upsert(context.Background(), alert))
}

func newTestAggregator(t *testing.T, store storage.AlertStore, interval time.Duration) (*Aggregator, *testutil.DigestRecorder) {
	t.Helper()
	recorder := testutil.NewDigestRecorder()
	agg, err := NewAggregator(store, recorder, interval, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(agg.Stop)
	return agg, recorder
}

func TestNewAggregator_InvalidInterval(t *testing.T) {
	for _, d := range []time.Duration{0, -time.Minute} {
		_, err := NewAggregator(storage.NewMemoryAlertStore(), testutil.NewDigestRecorder(), d, zap.NewNop())
		assert.ErrorIs(t, err, ErrInvalidInterval)
	}
}

func TestAggregator_ArmedAtConstruction(t *testing.T) {
	agg, recorder := newTestAggregator(t, storage.NewMemoryAlertStore(), DefaultInterval)

	assert.Equal(t, 1, agg.armed())
	assert.Equal(t, DefaultInterval, agg.Interval())
	assert.Zero(t, recorder.Len())
}

func TestAggregator_RunOnceWithoutActiveAlerts(t *testing.T) {
	store := storage.NewMemoryAlertStore()
	seed(t, store, "old", "s1", time.Now(), true)
	agg, recorder := newTestAggregator(t, store, time.Hour)

	agg.RunOnce(context.Background())

	assert.Zero(t, recorder.Len(), "empty digests are never published")
}

func TestAggregator_RunOncePublishesActiveAlerts(t *testing.T) {
	store := storage.NewMemoryAlertStore()
	base := time.Now()
	seed(t, store, "a", "s1", base, false)
	seed(t, store, "b", "s2", base.Add(time.Minute), false)
	seed(t, store, "c", "s3", base.Add(2*time.Minute), true)

	agg, recorder := newTestAggregator(t, store, time.Hour)
	agg.RunOnce(context.Background())

	digests := recorder.Digests()
	require.Len(t, digests, 1)
	require.Len(t, digests[0].Alerts, 2)
	assert.Equal(t, "b", digests[0].Alerts[0].ID)
	assert.Equal(t, "a", digests[0].Alerts[1].ID)
	assert.False(t, digests[0].Timestamp.IsZero())
}

func TestAggregator_DigestIsSnapshot(t *testing.T) {
	store := storage.NewMemoryAlertStore()
	seed(t, store, "a", "s1", time.Now(), false)
	agg, recorder := newTestAggregator(t, store, time.Hour)

	agg.RunOnce(context.Background())
	require.Equal(t, 1, recorder.Len())

	alerts, err := store.Query(context.Background(), storage.ByID("a"))
	require.NoError(t, err)
	alerts[0].Squash(model.Notice{Details: []string{"later"}, Timestamp: time.Now()})
	require.NoError(t, store.Upsert(context.Background(), alerts[0]))

	snap := recorder.Digests()[0].Alerts[0]
	assert.Equal(t, int64(1), snap.Count)
	assert.Empty(t, snap.Details)
}

func TestAggregator_RunOnceStoreFailure(t *testing.T) {
	agg, recorder := newTestAggregator(t, failingStore{}, time.Hour)

	agg.RunOnce(context.Background())

	assert.Zero(t, recorder.Len())
}

func TestAggregator_TimerFires(t *testing.T) {
	store := storage.NewMemoryAlertStore()
	seed(t, store, "a", "s1", time.Now(), false)
	_, recorder := newTestAggregator(t, store, time.Second)

	require.True(t, recorder.WaitFor(1, 3*time.Second), "expected a periodic digest")
}

func TestAggregator_SetIntervalKeepsSingleTimer(t *testing.T) {
	agg, _ := newTestAggregator(t, storage.NewMemoryAlertStore(), time.Hour)

	for _, d := range []time.Duration{time.Minute, 2 * time.Minute, 30 * time.Minute} {
		require.NoError(t, agg.SetInterval(d))
		assert.Equal(t, 1, agg.armed())
		assert.Equal(t, d, agg.Interval())
	}

	require.NoError(t, agg.SetIntervalMinutes(5))
	assert.Equal(t, 5*time.Minute, agg.Interval())
	assert.Equal(t, 1, agg.armed())
}

func TestAggregator_SetIntervalInvalid(t *testing.T) {
	agg, _ := newTestAggregator(t, storage.NewMemoryAlertStore(), time.Hour)

	assert.ErrorIs(t, agg.SetInterval(0), ErrInvalidInterval)
	assert.ErrorIs(t, agg.SetIntervalMinutes(-1), ErrInvalidInterval)

	// would wrap around to a period of a few seconds
	assert.ErrorIs(t, agg.SetIntervalMinutes(307445735), ErrInvalidInterval)
	assert.ErrorIs(t, agg.SetIntervalMinutes(int(MaxIntervalMinutes)+1), ErrInvalidInterval)
	assert.Equal(t, time.Hour, agg.Interval())
	assert.Equal(t, 1, agg.armed())

	require.NoError(t, agg.SetIntervalMinutes(int(MaxIntervalMinutes)))
	assert.Equal(t, time.Duration(MaxIntervalMinutes)*time.Minute, agg.Interval())
	assert.Equal(t, 1, agg.armed())
}

func TestAggregator_ConcurrentReconfiguration(t *testing.T) {
	agg, _ := newTestAggregator(t, storage.NewMemoryAlertStore(), time.Hour)

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(minutes int) {
			defer wg.Done()
			assert.NoError(t, agg.SetIntervalMinutes(minutes))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, agg.armed())
}

func TestAggregator_ReconfigurationDoesNotDoubleFire(t *testing.T) {
	store := storage.NewMemoryAlertStore()
	seed(t, store, "a", "s1", time.Now(), false)
	agg, recorder := newTestAggregator(t, store, time.Hour)

	// rearming many times must leave exactly one timer, so a 1s period can
	// fire at most three times in a 2.5s window
	for i := 0; i < 20; i++ {
		require.NoError(t, agg.SetInterval(time.Second))
	}
	time.Sleep(2500 * time.Millisecond)

	assert.GreaterOrEqual(t, recorder.Len(), 1)
	assert.LessOrEqual(t, recorder.Len(), 3)
}

func TestAggregator_Stop(t *testing.T) {
	store := storage.NewMemoryAlertStore()
	seed(t, store, "a", "s1", time.Now(), false)
	recorder := testutil.NewDigestRecorder()
	agg, err := NewAggregator(store, recorder, time.Second, zap.NewNop())
	require.NoError(t, err)

	agg.Stop()
	agg.Stop()

	assert.ErrorIs(t, agg.SetInterval(time.Minute), ErrStopped)
	assert.Zero(t, agg.armed())

	time.Sleep(1500 * time.Millisecond)
	assert.Zero(t, recorder.Len(), "no tick after Stop")
}
