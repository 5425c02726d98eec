package writer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/newthinker/tickflow/internal/core"
	"github.com/newthinker/tickflow/internal/storage/checkpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

// memStorage is an archive.Storage that can be told to fail writes.
type memStorage struct {
	mu    sync.Mutex
	files map[string][]byte
	order []string
	fail  bool
}

func newMemStorage() *memStorage {
	return &memStorage{files: make(map[string][]byte)}
}

func (m *memStorage) Write(ctx context.Context, path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("disk full")
	}
	m.files[path] = append([]byte(nil), data...)
	m.order = append(m.order, path)
	return nil
}

func (m *memStorage) Read(ctx context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[path]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func (m *memStorage) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, p := range m.order {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStorage) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, path)
	return nil
}

func (m *memStorage) Exists(ctx context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[path]
	return ok, nil
}

type fakeAcker struct {
	acked []string
	fail  bool
	calls int
}

func (a *fakeAcker) Ack(ctx context.Context, stream, group string, ids ...string) (int64, error) {
	a.calls++
	if a.fail {
		return 0, errors.New("redis down")
	}
	a.acked = append(a.acked, ids...)
	return int64(len(ids)), nil
}

func tick(symbol string, price float64, ts time.Time) core.CleanTick {
	return core.CleanTick{
		RawTick: core.RawTick{
			Source:    "test",
			Symbol:    symbol,
			Price:     price,
			Volume:    100,
			Turnover:  price * 100,
			Timestamp: ts,
		},
		CleanedAt:    ts,
		QualityFlags: []string{},
	}
}

func newTestWriter(t *testing.T, size int, format string) (*Writer, *memStorage, *fakeAcker, *checkpoint.MemoryStore) {
	t.Helper()
	enc, err := NewEncoder(format)
	require.NoError(t, err)
	storage := newMemStorage()
	acker := &fakeAcker{}
	cps := checkpoint.NewMemoryStore()
	w := New(Config{MaxBufferSize: size, Prefix: "ticks", Stream: "market.clean", Group: "writer"},
		enc, storage, acker, cps, nil, nil)
	w.now = func() time.Time { return t0 }
	return w, storage, acker, cps
}

func jsonlRecords(t *testing.T, data []byte) []core.CleanTick {
	t.Helper()
	var out []core.CleanTick
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var rec core.CleanTick
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		out = append(out, rec)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestWriter_ForceFlushWritesOneBatch(t *testing.T) {
	ctx := context.Background()
	w, storage, acker, _ := newTestWriter(t, 100, FormatJSONL)

	for i, id := range []string{"1-0", "2-0", "3-0"} {
		require.NoError(t, w.Add(ctx, tick("sh600000", float64(10+i), t0), id))
	}
	assert.Equal(t, 3, w.Buffered())
	assert.Empty(t, storage.order)

	require.NoError(t, w.Flush(ctx))

	require.Len(t, storage.order, 1)
	key := storage.order[0]
	assert.Equal(t, "ticks/date=2026-03-02/hour=09/batch-"+itoa(t0.UnixNano())+".jsonl", key)
	recs := jsonlRecords(t, storage.files[key])
	require.Len(t, recs, 3)
	assert.Equal(t, 12.0, recs[2].Price)

	assert.Equal(t, []string{"1-0", "2-0", "3-0"}, acker.acked)
	assert.Zero(t, w.Buffered())

	// Empty force flush is a no-op.
	require.NoError(t, w.Flush(ctx))
	assert.Len(t, storage.order, 1)
	assert.Equal(t, 1, acker.calls)
}

func TestWriter_FlushesAtThreshold(t *testing.T) {
	ctx := context.Background()
	w, storage, acker, _ := newTestWriter(t, 2, FormatJSONL)

	require.NoError(t, w.Add(ctx, tick("sh600000", 10, t0), "1-0"))
	assert.Empty(t, storage.order)
	require.NoError(t, w.Add(ctx, tick("sh600000", 11, t0), "2-0"))

	assert.Len(t, storage.order, 1)
	assert.Equal(t, []string{"1-0", "2-0"}, acker.acked)
	assert.Zero(t, w.Buffered())
}

func TestWriter_DedupesMessageIDs(t *testing.T) {
	ctx := context.Background()
	w, storage, _, _ := newTestWriter(t, 100, FormatJSONL)

	require.NoError(t, w.Add(ctx, tick("sh600000", 10, t0), "1-0"))
	require.NoError(t, w.Add(ctx, tick("sh600000", 10, t0), "1-0"))
	assert.Equal(t, 1, w.Buffered())

	require.NoError(t, w.Flush(ctx))
	assert.Len(t, jsonlRecords(t, storage.files[storage.order[0]]), 1)
}

func TestWriter_WriteFailureRetainsBatch(t *testing.T) {
	ctx := context.Background()
	w, storage, acker, cps := newTestWriter(t, 100, FormatJSONL)

	require.NoError(t, w.Add(ctx, tick("sh600000", 10, t0), "1-0"))
	require.NoError(t, w.Add(ctx, tick("sh600000", 11, t0), "2-0"))

	storage.fail = true
	err := w.Flush(ctx)
	assert.ErrorIs(t, err, core.ErrFlushFailed)
	assert.Equal(t, 2, w.Buffered())
	assert.Empty(t, acker.acked)

	cp, err := cps.Get(ctx, "sh600000", "2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusFailed, cp.Status)
	assert.Equal(t, "disk full", cp.ErrorMessage)

	storage.fail = false
	require.NoError(t, w.Flush(ctx))

	require.Len(t, storage.order, 1)
	assert.Len(t, jsonlRecords(t, storage.files[storage.order[0]]), 2)
	assert.Equal(t, []string{"1-0", "2-0"}, acker.acked)

	cp, err = cps.Get(ctx, "sh600000", "2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusCompleted, cp.Status)
}

func TestWriter_AckFailureDoesNotRewrite(t *testing.T) {
	ctx := context.Background()
	w, storage, acker, _ := newTestWriter(t, 100, FormatJSONL)

	require.NoError(t, w.Add(ctx, tick("sh600000", 10, t0), "1-0"))
	acker.fail = true

	err := w.Flush(ctx)
	assert.ErrorIs(t, err, core.ErrFlushFailed)
	assert.Len(t, storage.order, 1)
	assert.Zero(t, w.Buffered())
	assert.Equal(t, 1, w.Unacked())

	// A redelivery of the written entry is not buffered again.
	require.NoError(t, w.Add(ctx, tick("sh600000", 10, t0), "1-0"))
	assert.Zero(t, w.Buffered())

	acker.fail = false
	require.NoError(t, w.Flush(ctx))
	assert.Len(t, storage.order, 1, "retry only re-acks")
	assert.Equal(t, []string{"1-0"}, acker.acked)
	assert.Zero(t, w.Unacked())
}

func TestWriter_CheckpointsPerSymbolAndDay(t *testing.T) {
	ctx := context.Background()
	w, _, _, cps := newTestWriter(t, 100, FormatJSONL)

	require.NoError(t, w.Add(ctx, tick("sh600000", 10, t0), "1-0"))
	require.NoError(t, w.Add(ctx, tick("sh600000", 10, t0.Add(-24*time.Hour)), "2-0"))
	require.NoError(t, w.Add(ctx, tick("btcusdt", 10, t0), "3-0"))
	require.NoError(t, w.Flush(ctx))

	rows, err := cps.List(ctx, checkpoint.ListFilter{Status: checkpoint.StatusCompleted})
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestWriter_Parquet(t *testing.T) {
	ctx := context.Background()
	w, storage, _, _ := newTestWriter(t, 100, FormatParquet)

	rec := tick("sh600000", 10.5, t0)
	rec.QualityFlags = []string{core.FlagTurnoverReconstructed}
	require.NoError(t, w.Add(ctx, rec, "1-0"))
	require.NoError(t, w.Flush(ctx))

	require.Len(t, storage.order, 1)
	assert.True(t, strings.HasSuffix(storage.order[0], ".parquet"))
	rows := readParquet(t, storage.files[storage.order[0]])
	require.Len(t, rows, 1)
	assert.Equal(t, "sh600000", rows[0].Symbol)
	assert.Equal(t, 10.5, rows[0].Price)
	assert.Equal(t, t0.UnixNano(), rows[0].Timestamp)
	assert.Equal(t, []string{core.FlagTurnoverReconstructed}, rows[0].QualityFlags)
}

func TestShardKey(t *testing.T) {
	ts := time.Date(2026, 1, 5, 7, 0, 0, 42, time.UTC)
	assert.Equal(t, "raw/date=2026-01-05/hour=07/batch-"+itoa(ts.UnixNano())+".parquet", ShardKey("raw", ts, "parquet"))
}

func TestNewEncoder(t *testing.T) {
	enc, err := NewEncoder("")
	require.NoError(t, err)
	assert.Equal(t, "parquet", enc.Extension())

	_, err = NewEncoder("csv")
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}
