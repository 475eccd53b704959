package filter

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/natsift/natsift/internal/config"
)

type publishRecorder struct {
	mu   sync.Mutex
	pubs []publishedMsg
}

type publishedMsg struct {
	subject string
	payload []byte
}

func (r *publishRecorder) publish(subject string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pubs = append(r.pubs, publishedMsg{subject, append([]byte(nil), payload...)})
	return nil
}

func (r *publishRecorder) all() []publishedMsg {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]publishedMsg(nil), r.pubs...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newPool(t *testing.T, m *SubscriptionManager, rec *publishRecorder) *WorkerPool {
	t.Helper()
	cfg := config.Config{Format: config.FormatMsgPack, WorkerThreads: 2}
	pool := NewWorkerPool(cfg, sensorSchema(), m, rec.publish, discardLogger())
	pool.Start()
	t.Cleanup(pool.Stop)
	return pool
}

func TestWorkerPool_MatchAndPublish(t *testing.T) {
	m := newManager(t)
	_, err := m.Subscribe("temperature > 30.0", "c1")
	require.NoError(t, err)

	rec := &publishRecorder{}
	pool := newPool(t, m, rec)

	payload := mustMsgpack(t, map[string]any{"temperature": 42.5})
	pool.Enqueue(payload)

	waitFor(t, "publish", func() bool { return pool.GetStats().Published == 1 })

	pubs := rec.all()
	require.Len(t, pubs, 1)
	assert.Equal(t, "out.1", pubs[0].subject)
	assert.Equal(t, payload, pubs[0].payload)

	stats := pool.GetStats()
	assert.EqualValues(t, 1, stats.Processed)
	assert.EqualValues(t, 1, stats.Matched)
	assert.EqualValues(t, 0, stats.MatchFailures)
}

func TestWorkerPool_DedupedSubscriptionPublishesOnce(t *testing.T) {
	m := newManager(t)
	_, err := m.Subscribe("temperature > 30.0", "c1")
	require.NoError(t, err)
	_, err = m.Subscribe("temperature > 30.0", "c2")
	require.NoError(t, err)

	rec := &publishRecorder{}
	pool := newPool(t, m, rec)

	pool.Enqueue(mustMsgpack(t, map[string]any{"temperature": 42.5}))
	waitFor(t, "publish", func() bool { return pool.GetStats().Published == 1 })

	pubs := rec.all()
	require.Len(t, pubs, 1)
	assert.Equal(t, "out.1", pubs[0].subject)
}

func TestWorkerPool_FanOutToAllMatches(t *testing.T) {
	m := newManager(t)
	id1, err := m.Subscribe("severity == 5", "c1")
	require.NoError(t, err)
	id2, err := m.Subscribe(`location == "warehouse"`, "c1")
	require.NoError(t, err)

	rec := &publishRecorder{}
	pool := newPool(t, m, rec)

	pool.Enqueue(mustMsgpack(t, map[string]any{"severity": 5, "location": "warehouse"}))
	waitFor(t, "both publishes", func() bool { return pool.GetStats().Published == 2 })

	pubs := rec.all()
	require.Len(t, pubs, 2)
	// Fan-out preserves search order: ascending ids.
	assert.Equal(t, "out.1", pubs[0].subject)
	assert.Equal(t, "out.2", pubs[1].subject)
	_, _ = id1, id2
}

func TestWorkerPool_NoMatchNoPublish(t *testing.T) {
	m := newManager(t)
	_, err := m.Subscribe("temperature > 30.0", "c1")
	require.NoError(t, err)

	rec := &publishRecorder{}
	pool := newPool(t, m, rec)

	pool.Enqueue(mustMsgpack(t, map[string]any{"temperature": 12.0}))
	waitFor(t, "processed", func() bool { return pool.GetStats().Processed == 1 })

	stats := pool.GetStats()
	assert.EqualValues(t, 0, stats.Matched)
	assert.EqualValues(t, 0, stats.Published)
	assert.Empty(t, rec.all())
}

func TestWorkerPool_RemovedSubscriptionStopsMatching(t *testing.T) {
	m := newManager(t)
	id, err := m.Subscribe("temperature > 30.0", "c1")
	require.NoError(t, err)
	_, err = m.Subscribe("temperature > 30.0", "c2")
	require.NoError(t, err)

	rec := &publishRecorder{}
	pool := newPool(t, m, rec)

	// One lease left: still publishes.
	m.RemoveLease(id, "c1")
	pool.Enqueue(mustMsgpack(t, map[string]any{"temperature": 42.5}))
	waitFor(t, "first publish", func() bool { return pool.GetStats().Published == 1 })

	// Last lease gone: the fresh snapshot is empty.
	m.RemoveLease(id, "c2")
	pool.Enqueue(mustMsgpack(t, map[string]any{"temperature": 42.5}))
	waitFor(t, "second message processed", func() bool { return pool.GetStats().Processed == 2 })

	stats := pool.GetStats()
	assert.EqualValues(t, 1, stats.Published)
	assert.Equal(t, 0, m.ActiveCount())
}

func TestWorkerPool_UndecodablePayloadCountsFailure(t *testing.T) {
	m := newManager(t)
	_, err := m.Subscribe("temperature > 30.0", "c1")
	require.NoError(t, err)

	rec := &publishRecorder{}
	pool := newPool(t, m, rec)

	pool.Enqueue([]byte{0xc1})
	waitFor(t, "failure counted", func() bool { return pool.GetStats().MatchFailures == 1 })

	stats := pool.GetStats()
	assert.EqualValues(t, 1, stats.Processed)
	assert.EqualValues(t, 0, stats.Published)
}

func TestWorkerPool_StopDrainsHandedOffPublishes(t *testing.T) {
	m := newManager(t)
	_, err := m.Subscribe("temperature > 30.0", "c1")
	require.NoError(t, err)

	rec := &publishRecorder{}
	cfg := config.Config{Format: config.FormatMsgPack, WorkerThreads: 1}
	pool := NewWorkerPool(cfg, sensorSchema(), m, rec.publish, discardLogger())
	pool.Start()

	pool.Enqueue(mustMsgpack(t, map[string]any{"temperature": 42.5}))
	waitFor(t, "match handed off", func() bool { return pool.GetStats().Matched == 1 })

	// Stop joins the workers and then lets the dispatcher finish.
	pool.Stop()
	assert.EqualValues(t, 1, pool.GetStats().Published)

	// Stop is idempotent.
	pool.Stop()
}

func TestWorkerPool_ManyMessages(t *testing.T) {
	m := newManager(t)
	_, err := m.Subscribe("severity >= 0", "c1")
	require.NoError(t, err)

	rec := &publishRecorder{}
	pool := newPool(t, m, rec)

	const n = 100
	payload := mustMsgpack(t, map[string]any{"severity": 1})
	for i := 0; i < n; i++ {
		pool.Enqueue(payload)
	}

	waitFor(t, "all published", func() bool { return pool.GetStats().Published == n })
	assert.EqualValues(t, n, pool.GetStats().Processed)
}
