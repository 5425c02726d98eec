package rapid_rise

import (
	"fmt"
	"math"

	"github.com/newthinker/tickflow/internal/core"
	"github.com/newthinker/tickflow/internal/strategy"
)

const Name = "rapid_rise"

// RapidRise fires when a window's price change and traded volume both clear their
// thresholds.
type RapidRise struct {
	thresholdPercent float64
	minVolume        float64
}

// New creates a RapidRise strategy
func New(thresholdPercent, minVolume float64) *RapidRise {
	return &RapidRise{
		thresholdPercent: thresholdPercent,
		minVolume:        minVolume,
	}
}

// Factory builds the strategy from threshold_percent (default 2) and min_volume
// (default 0).
func Factory(cfg strategy.Config) (strategy.Strategy, error) {
	threshold, err := strategy.FloatParam(cfg.Params, "threshold_percent", 2)
	if err != nil {
		return nil, err
	}
	minVolume, err := strategy.FloatParam(cfg.Params, "min_volume", 0)
	if err != nil {
		return nil, err
	}
	if threshold <= 0 {
		return nil, fmt.Errorf("threshold_percent must be positive, got %v", threshold)
	}
	if minVolume < 0 {
		return nil, fmt.Errorf("min_volume cannot be negative, got %v", minVolume)
	}
	return New(threshold, minVolume), nil
}

func (r *RapidRise) Name() string {
	return Name
}

func (r *RapidRise) Evaluate(snap core.FeatureSnapshot) (*core.Signal, error) {
	if snap.ChangePercent < r.thresholdPercent || snap.VolumeSum < r.minVolume {
		return nil, nil
	}

	// Confidence reaches 1 at twice the threshold; strength at four times.
	ratio := snap.ChangePercent / r.thresholdPercent
	confidence := math.Min(1, ratio/2)
	strength := math.Min(100, ratio*25)

	return &core.Signal{
		Symbol:        snap.Symbol,
		SignalType:    Name,
		Confidence:    confidence,
		StrengthScore: strength,
		Reasons: []string{
			fmt.Sprintf("price up %.2f%% over %s (threshold %.2f%%)", snap.ChangePercent, snap.Window, r.thresholdPercent),
			fmt.Sprintf("volume %.0f over %s (minimum %.0f)", snap.VolumeSum, snap.Window, r.minVolume),
		},
		TriggeredAt: snap.AsOf,
		Window:      snap.Window,
		Metadata:    strategy.SnapshotMetadata(snap),
	}, nil
}
