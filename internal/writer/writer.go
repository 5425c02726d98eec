// Package writer buffers cleaned ticks and persists them as one batch file per flush,
// acknowledging the source entries only after the file is stored.
package writer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/newthinker/tickflow/internal/core"
	"github.com/newthinker/tickflow/internal/eventlog"
	"github.com/newthinker/tickflow/internal/metrics"
	"github.com/newthinker/tickflow/internal/storage/archive"
	"github.com/newthinker/tickflow/internal/storage/checkpoint"
	"go.uber.org/zap"
)

// Config controls buffering and file layout. Stream and Group identify the entries
// the writer acknowledges.
type Config struct {
	MaxBufferSize int
	Prefix        string
	Stream        string
	Group         string
}

// Writer is safe for concurrent use.
type Writer struct {
	cfg         Config
	encoder     Encoder
	storage     archive.Storage
	acker       eventlog.Acker
	checkpoints checkpoint.Store
	metrics     *metrics.Registry
	logger      *zap.Logger

	mu      sync.Mutex
	buffer  []core.CleanTick
	ids     []string
	unacked []string
	seen    map[string]struct{}

	// For testing: allow clock control
	now func() time.Time
}

// New creates a writer. checkpoints may be nil.
func New(cfg Config, enc Encoder, storage archive.Storage, acker eventlog.Acker, checkpoints checkpoint.Store, reg *metrics.Registry, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxBufferSize <= 0 {
		cfg.MaxBufferSize = 1000
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "ticks"
	}
	return &Writer{
		cfg:         cfg,
		encoder:     enc,
		storage:     storage,
		acker:       acker,
		checkpoints: checkpoints,
		metrics:     reg,
		logger:      logger.With(zap.String("stage", "writer")),
		seen:        make(map[string]struct{}),
		now:         time.Now,
	}
}

// Add buffers rec under its source message ID and flushes once the buffer reaches
// MaxBufferSize. A message ID already buffered or awaiting acknowledgement is ignored.
func (w *Writer) Add(ctx context.Context, rec core.CleanTick, msgID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, dup := w.seen[msgID]; dup {
		return nil
	}
	w.seen[msgID] = struct{}{}
	w.buffer = append(w.buffer, rec)
	w.ids = append(w.ids, msgID)

	if len(w.buffer) < w.cfg.MaxBufferSize {
		return nil
	}
	return w.flushLocked(ctx)
}

// Flush forces a flush. Flushing an empty buffer writes nothing.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked(ctx)
}

// Buffered returns the number of records waiting for the next flush.
func (w *Writer) Buffered() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffer)
}

// Unacked returns the number of written entries whose acknowledgement failed.
func (w *Writer) Unacked() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.unacked)
}

func (w *Writer) flushLocked(ctx context.Context) error {
	// Entries from an earlier file whose ack failed are acked first and never rewritten.
	if err := w.ackLocked(ctx); err != nil {
		return err
	}
	if len(w.buffer) == 0 {
		return nil
	}

	now := w.now().UTC()
	key := ShardKey(w.cfg.Prefix, now, w.encoder.Extension())
	n := len(w.buffer)

	data, err := w.encoder.Encode(w.buffer)
	if err == nil {
		err = w.storage.Write(ctx, key, data)
	}
	if err != nil {
		w.metrics.RecordFlush("error", n)
		w.markCheckpoints(ctx, checkpoint.StatusFailed, err.Error())
		w.logger.Error("batch flush failed",
			zap.String("key", key),
			zap.Int("records", n),
			zap.Error(err),
		)
		return core.WrapError(core.ErrFlushFailed, fmt.Errorf("writing %s: %w", key, err))
	}

	w.metrics.RecordFlush("ok", n)
	w.markCheckpoints(ctx, checkpoint.StatusCompleted, "")
	w.logger.Info("batch flushed",
		zap.String("key", key),
		zap.Int("records", n),
		zap.Int("bytes", len(data)),
	)

	w.unacked = append(w.unacked, w.ids...)
	w.buffer = nil
	w.ids = nil

	return w.ackLocked(ctx)
}

func (w *Writer) ackLocked(ctx context.Context) error {
	if len(w.unacked) == 0 || w.acker == nil {
		return nil
	}
	if _, err := w.acker.Ack(ctx, w.cfg.Stream, w.cfg.Group, w.unacked...); err != nil {
		w.logger.Warn("acknowledging flushed entries failed",
			zap.Int("entries", len(w.unacked)),
			zap.Error(err),
		)
		return core.WrapError(core.ErrFlushFailed, fmt.Errorf("acknowledging %d entries: %w", len(w.unacked), err))
	}
	for _, id := range w.unacked {
		delete(w.seen, id)
	}
	w.unacked = nil
	return nil
}

// markCheckpoints records the outcome for every (symbol, trade date) in the buffer.
// Checkpoint errors are logged and do not affect the flush.
func (w *Writer) markCheckpoints(ctx context.Context, status checkpoint.Status, errMsg string) {
	if w.checkpoints == nil {
		return
	}
	type day struct{ symbol, date string }
	days := make(map[day]struct{})
	for _, rec := range w.buffer {
		days[day{rec.Symbol, checkpoint.TradeDate(rec.Timestamp.UTC())}] = struct{}{}
	}
	keys := make([]day, 0, len(days))
	for d := range days {
		keys = append(keys, d)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].symbol != keys[j].symbol {
			return keys[i].symbol < keys[j].symbol
		}
		return keys[i].date < keys[j].date
	})
	for _, d := range keys {
		if err := w.checkpoints.MarkStatus(ctx, d.symbol, d.date, status, errMsg); err != nil {
			w.logger.Warn("checkpoint update failed",
				zap.String("symbol", d.symbol),
				zap.String("trade_date", d.date),
				zap.Error(err),
			)
		}
	}
}

// ShardKey names a batch file: <prefix>/date=YYYY-MM-DD/hour=HH/batch-<unixnano>.<ext>.
func ShardKey(prefix string, t time.Time, ext string) string {
	return fmt.Sprintf("%s/date=%s/hour=%02d/batch-%d.%s",
		prefix, t.Format("2006-01-02"), t.Hour(), t.UnixNano(), ext)
}
