package volume_spike

import (
	"fmt"
	"math"
	"sync"

	"github.com/newthinker/tickflow/internal/core"
	"github.com/newthinker/tickflow/internal/strategy"
)

const Name = "volume_spike"

type baseline struct {
	ema     float64
	samples int
}

// VolumeSpike fires when a window's volume reaches multiplier times its running
// baseline. The baseline is an exponential moving average of volume_sum kept per
// symbol and window.
type VolumeSpike struct {
	multiplier float64
	minSamples int
	smoothing  float64

	mu        sync.Mutex
	baselines map[string]*baseline
}

// New creates a VolumeSpike strategy
func New(multiplier float64, minSamples int, smoothing float64) *VolumeSpike {
	return &VolumeSpike{
		multiplier: multiplier,
		minSamples: minSamples,
		smoothing:  smoothing,
		baselines:  make(map[string]*baseline),
	}
}

// Factory builds the strategy from multiplier (default 3), min_samples (default 5)
// and smoothing (default 0.2).
func Factory(cfg strategy.Config) (strategy.Strategy, error) {
	multiplier, err := strategy.FloatParam(cfg.Params, "multiplier", 3)
	if err != nil {
		return nil, err
	}
	minSamples, err := strategy.IntParam(cfg.Params, "min_samples", 5)
	if err != nil {
		return nil, err
	}
	smoothing, err := strategy.FloatParam(cfg.Params, "smoothing", 0.2)
	if err != nil {
		return nil, err
	}
	if multiplier <= 1 {
		return nil, fmt.Errorf("multiplier must be greater than 1, got %v", multiplier)
	}
	if minSamples < 1 {
		return nil, fmt.Errorf("min_samples must be at least 1, got %d", minSamples)
	}
	if smoothing <= 0 || smoothing > 1 {
		return nil, fmt.Errorf("smoothing must be in (0, 1], got %v", smoothing)
	}
	return New(multiplier, minSamples, smoothing), nil
}

func (v *VolumeSpike) Name() string {
	return Name
}

// Evaluate compares against the baseline as it stood before this snapshot, then folds
// the snapshot into it.
func (v *VolumeSpike) Evaluate(snap core.FeatureSnapshot) (*core.Signal, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	key := snap.Symbol + "|" + snap.Window
	b, ok := v.baselines[key]
	if !ok {
		b = &baseline{}
		v.baselines[key] = b
	}

	var sig *core.Signal
	if b.samples >= v.minSamples && b.ema > 0 && snap.VolumeSum >= v.multiplier*b.ema {
		ratio := snap.VolumeSum / b.ema
		meta := strategy.SnapshotMetadata(snap)
		meta["baseline_volume"] = b.ema
		meta["volume_ratio"] = ratio

		sig = &core.Signal{
			Symbol:        snap.Symbol,
			SignalType:    Name,
			Confidence:    math.Min(1, ratio/(2*v.multiplier)),
			StrengthScore: math.Min(100, ratio/v.multiplier*50),
			Reasons: []string{
				fmt.Sprintf("volume %.0f is %.1fx the %s baseline %.0f (threshold %.1fx)",
					snap.VolumeSum, ratio, snap.Window, b.ema, v.multiplier),
			},
			TriggeredAt: snap.AsOf,
			Window:      snap.Window,
			Metadata:    meta,
		}
	}

	if b.samples == 0 {
		b.ema = snap.VolumeSum
	} else {
		b.ema = v.smoothing*snap.VolumeSum + (1-v.smoothing)*b.ema
	}
	b.samples++

	return sig, nil
}
