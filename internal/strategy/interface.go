package strategy

import (
	"fmt"
	"strconv"

	"github.com/newthinker/tickflow/internal/core"
)

// Config holds strategy configuration
type Config struct {
	Enabled bool
	Params  map[string]any
}

// Strategy evaluates one feature snapshot. It returns nil when its condition does not
// trigger. Implementations must not mutate the snapshot; any state they keep is their
// own accumulator.
type Strategy interface {
	Name() string
	Evaluate(snap core.FeatureSnapshot) (*core.Signal, error)
}

// Factory builds a strategy from its configuration.
type Factory func(cfg Config) (Strategy, error)

// FloatParam reads a numeric parameter, accepting ints, floats and numeric strings.
func FloatParam(params map[string]any, key string, def float64) (float64, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("param %s: %w", key, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("param %s: unsupported type %T", key, v)
	}
}

// IntParam reads an integer parameter.
func IntParam(params map[string]any, key string, def int) (int, error) {
	f, err := FloatParam(params, key, float64(def))
	if err != nil {
		return 0, err
	}
	if f != float64(int(f)) {
		return 0, fmt.Errorf("param %s: %v is not an integer", key, f)
	}
	return int(f), nil
}

// SnapshotMetadata exposes the snapshot figures the risk rules read from a signal:
// change_percent, volatility_percent (price range over the window low) and
// drawdown_percent (distance of the last price below the window high).
func SnapshotMetadata(snap core.FeatureSnapshot) map[string]any {
	meta := map[string]any{
		"change_percent": snap.ChangePercent,
		"price":          snap.Price,
		"volume_sum":     snap.VolumeSum,
		"sample_size":    snap.SampleSize,
	}
	if snap.MinPrice > 0 {
		meta["volatility_percent"] = (snap.MaxPrice - snap.MinPrice) / snap.MinPrice * 100
	}
	if snap.MaxPrice > 0 {
		meta["drawdown_percent"] = (snap.MaxPrice - snap.Price) / snap.MaxPrice * 100
	}
	return meta
}
