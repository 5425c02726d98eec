// Package risk screens opportunity updates and raises alerts.
package risk

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/newthinker/tickflow/internal/core"
)

// Alert types.
const (
	TypeLowConfidence    = "low_confidence"
	TypeWeakMomentum     = "weak_momentum"
	TypeNegativeReversal = "negative_reversal"
	TypeHighVolatility   = "high_volatility"
	TypeDrawdown         = "drawdown"
)

// Rules holds the rule cutoffs. A zero VolatilityThreshold or DrawdownThreshold
// disables that rule.
type Rules struct {
	MinConfidence       float64 `mapstructure:"min_confidence"`
	MinStrength         float64 `mapstructure:"min_strength"`
	VolatilityThreshold float64 `mapstructure:"volatility_threshold"`
	DrawdownThreshold   float64 `mapstructure:"drawdown_threshold"`
}

// DefaultRules returns the default cutoffs.
func DefaultRules() Rules {
	return Rules{
		MinConfidence: 0.4,
		MinStrength:   40,
	}
}

// Evaluate applies every rule independently to opp. Expired opportunities produce
// no alerts.
func Evaluate(opp core.Opportunity, rules Rules) []core.RiskAlert {
	if opp.State == core.StateExpired {
		return nil
	}

	var alerts []core.RiskAlert
	raise := func(riskType string, severity core.Severity, msg string, meta map[string]any) {
		alerts = append(alerts, core.RiskAlert{
			Symbol:        opp.Symbol,
			RiskType:      riskType,
			Severity:      severity,
			Message:       msg,
			TriggeredAt:   opp.UpdatedAt,
			OpportunityID: opp.ID,
			Metadata:      meta,
		})
	}

	if opp.Confidence < rules.MinConfidence {
		raise(TypeLowConfidence, core.SeverityMedium,
			fmt.Sprintf("confidence %.2f below %.2f", opp.Confidence, rules.MinConfidence),
			map[string]any{"confidence": opp.Confidence, "threshold": rules.MinConfidence})
	}

	if opp.StrengthScore < rules.MinStrength {
		raise(TypeWeakMomentum, core.SeverityMedium,
			fmt.Sprintf("strength %.1f below %.1f", opp.StrengthScore, rules.MinStrength),
			map[string]any{"strength_score": opp.StrengthScore, "threshold": rules.MinStrength})
	}

	for _, sig := range opp.Signals {
		change, ok := metaFloat(sig.Metadata, "change_percent")
		if !ok || change >= 0 {
			continue
		}
		raise(TypeNegativeReversal, core.SeverityHigh,
			fmt.Sprintf("%s signal on %s window reports change %.2f%%", sig.Strategy, sig.Window, change),
			map[string]any{"change_percent": change, "strategy": sig.Strategy, "window": sig.Window})
		break
	}

	if len(opp.Signals) == 0 {
		return alerts
	}
	latest := opp.Signals[len(opp.Signals)-1]

	if rules.VolatilityThreshold > 0 {
		if v, ok := metaFloat(latest.Metadata, "volatility_percent"); ok && v >= rules.VolatilityThreshold {
			raise(TypeHighVolatility, core.SeverityMedium,
				fmt.Sprintf("volatility %.2f%% at or above %.2f%%", v, rules.VolatilityThreshold),
				map[string]any{"volatility_percent": v, "threshold": rules.VolatilityThreshold})
		}
	}

	if rules.DrawdownThreshold > 0 {
		if d, ok := metaFloat(latest.Metadata, "drawdown_percent"); ok && d >= rules.DrawdownThreshold {
			raise(TypeDrawdown, core.SeverityHigh,
				fmt.Sprintf("drawdown %.2f%% at or above %.2f%%", d, rules.DrawdownThreshold),
				map[string]any{"drawdown_percent": d, "threshold": rules.DrawdownThreshold})
		}
	}

	return alerts
}

// metaFloat reads a numeric metadata value. Decoded JSON yields float64; in-process
// callers may pass other numeric types or numeric strings.
func metaFloat(meta map[string]any, key string) (float64, bool) {
	switch v := meta[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
