package broadcast

import (
	"context"
	"encoding/json"
	"time"

	"github.com/newthinker/tickflow/internal/eventlog"
	"go.uber.org/zap"
)

// Relay forwards pub/sub channel messages to a Hub as normalized envelopes.
type Relay struct {
	log      eventlog.Log
	channels []string
	hub      *Hub
	backoff  time.Duration
	logger   *zap.Logger
}

// NewRelay creates a relay from channels to hub.
func NewRelay(log eventlog.Log, channels []string, hub *Hub, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		log:      log,
		channels: channels,
		hub:      hub,
		backoff:  time.Second,
		logger:   logger.With(zap.String("stage", "relay"), zap.Strings("channels", channels)),
	}
}

// Run relays until ctx is cancelled, resubscribing after the subscription ends.
func (r *Relay) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		sub, err := r.log.Subscribe(ctx, r.channels...)
		if err != nil {
			r.logger.Warn("subscribe failed", zap.Error(err))
			r.sleep(ctx)
			continue
		}
		r.logger.Info("relay subscribed")
		r.pump(ctx, sub)
		_ = sub.Close()
	}
	return nil
}

func (r *Relay) pump(ctx context.Context, sub eventlog.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				r.logger.Warn("subscription closed")
				r.sleep(ctx)
				return
			}
			r.Forward(msg.Payload)
		}
	}
}

// Forward normalizes one message and broadcasts it.
func (r *Relay) Forward(payload []byte) {
	data, err := json.Marshal(Normalize(payload))
	if err != nil {
		r.logger.Warn("encoding envelope failed", zap.Error(err))
		return
	}
	r.hub.Broadcast(data)
}

func (r *Relay) sleep(ctx context.Context) {
	timer := time.NewTimer(r.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
