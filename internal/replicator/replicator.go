// Package replicator copies entries from a source stream to one or more target
// streams, each with its own length cap.
package replicator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/newthinker/tickflow/internal/core"
	"github.com/newthinker/tickflow/internal/eventlog"
	"github.com/newthinker/tickflow/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Target is one destination stream. MaxLen 0 leaves it uncapped.
type Target struct {
	Stream string
	MaxLen int64
}

// Pipeline replicates Source into every Target under consumer group Group.
type Pipeline struct {
	Name    string
	Source  string
	Group   string
	Targets []Target
}

// PipelineMetrics is the in-process view of one pipeline's progress. It lives for
// the lifetime of the Replicator and is not persisted.
type PipelineMetrics struct {
	Name               string    `json:"name"`
	LastMessageID      string    `json:"last_message_id"`
	ProcessedMessages  int64     `json:"processed_messages"`
	ReplicatedMessages int64     `json:"replicated_messages"`
	LastProcessedAt    time.Time `json:"last_processed_at"`
}

// Replicator runs one consumer loop per pipeline.
type Replicator struct {
	log       eventlog.Log
	pipelines []Pipeline
	consumers []*eventlog.Consumer
	reg       *metrics.Registry
	logger    *zap.Logger

	mu    sync.Mutex
	stats map[string]*PipelineMetrics

	// For testing: allow clock control
	now func() time.Time
}

// New validates the pipelines and builds their consumers. consumer supplies the
// shared read settings; Stream, Group and Stage are set per pipeline.
func New(log eventlog.Log, pipelines []Pipeline, consumer eventlog.ConsumerConfig, reg *metrics.Registry, logger *zap.Logger) (*Replicator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Replicator{
		log:    log,
		reg:    reg,
		logger: logger.With(zap.String("stage", "replicator")),
		stats:  make(map[string]*PipelineMetrics, len(pipelines)),
		now:    time.Now,
	}

	for _, p := range pipelines {
		if p.Name == "" || p.Source == "" {
			return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("replicator pipeline needs a name and a source"))
		}
		if len(p.Targets) == 0 {
			return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("replicator pipeline %s has no targets", p.Name))
		}
		if _, dup := r.stats[p.Name]; dup {
			return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("duplicate replicator pipeline %s", p.Name))
		}
		if p.Group == "" {
			p.Group = "replicator-" + p.Name
		}

		cfg := consumer
		cfg.Stage = "replicator." + p.Name
		cfg.Stream = p.Source
		cfg.Group = p.Group
		cfg.Consumer = ""

		pipeline := p
		c := eventlog.NewConsumer(log, cfg, eventlog.HandlerFunc(func(ctx context.Context, batch []eventlog.Message) ([]string, error) {
			return r.replicate(ctx, pipeline, batch)
		}), logger)
		c.SetObserver(reg)

		r.pipelines = append(r.pipelines, pipeline)
		r.consumers = append(r.consumers, c)
		r.stats[p.Name] = &PipelineMetrics{Name: p.Name}
	}
	return r, nil
}

// Run replicates every pipeline until ctx is cancelled.
func (r *Replicator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range r.consumers {
		c := c
		g.Go(func() error { return c.Run(ctx) })
	}
	return g.Wait()
}

// Consumers exposes the per-pipeline loops in configuration order.
func (r *Replicator) Consumers() []*eventlog.Consumer {
	return r.consumers
}

// Metrics returns a copy of every pipeline's counters, ordered by name.
func (r *Replicator) Metrics() []PipelineMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PipelineMetrics, 0, len(r.stats))
	for _, m := range r.stats {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// replicate writes each entry to every target in order. The first failed write stops
// the batch; that entry and the rest stay unacknowledged and are retried whole, so a
// target that already accepted the entry may receive it twice.
func (r *Replicator) replicate(ctx context.Context, p Pipeline, batch []eventlog.Message) ([]string, error) {
	acks := make([]string, 0, len(batch))
	for _, msg := range batch {
		for _, t := range p.Targets {
			_, err := r.log.Add(ctx, t.Stream, msg.Values, eventlog.AddOptions{
				MaxLen: t.MaxLen,
				Approx: t.MaxLen > 0,
			})
			if err != nil {
				return acks, fmt.Errorf("replicating %s to %s: %w", msg.ID, t.Stream, err)
			}
			r.recordReplicated(p.Name, t.Stream)
		}
		r.recordProcessed(p.Name, msg.ID)
		acks = append(acks, msg.ID)
	}
	return acks, nil
}

func (r *Replicator) recordProcessed(name, id string) {
	r.mu.Lock()
	m := r.stats[name]
	m.ProcessedMessages++
	m.LastMessageID = id
	m.LastProcessedAt = r.now()
	r.mu.Unlock()
	r.reg.RecordPipelineProcessed(name)
}

func (r *Replicator) recordReplicated(name, target string) {
	r.mu.Lock()
	r.stats[name].ReplicatedMessages++
	r.mu.Unlock()
	r.reg.RecordPipelineReplicated(name, target)
}
