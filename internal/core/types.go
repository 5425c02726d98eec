package core

import (
	"time"
)

// Quality flags attached to a cleaned tick, in the order the repair rules run.
const (
	FlagNegativePrice         = "negative_price"
	FlagNegativeVolume        = "negative_volume"
	FlagNegativeTurnover      = "negative_turnover"
	FlagTurnoverReconstructed = "turnover_reconstructed"
)

// RawTick is a normalized quote as published by a source adapter.
type RawTick struct {
	Source     string    `json:"source"`
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	Volume     float64   `json:"volume"`
	Turnover   float64   `json:"turnover"`
	Timestamp  time.Time `json:"timestamp"`
	IngestedAt time.Time `json:"ingested_at"`
}

// NewRawTick normalizes the symbol and rejects ticks whose symbol is empty.
func NewRawTick(source, symbol string, price, volume, turnover float64, ts, ingestedAt time.Time) (RawTick, error) {
	normalized := NormalizeSymbol(symbol)
	if normalized == "" {
		return RawTick{}, ErrInvalidSymbol
	}
	return RawTick{
		Source:     source,
		Symbol:     normalized,
		Price:      price,
		Volume:     volume,
		Turnover:   turnover,
		Timestamp:  ts,
		IngestedAt: ingestedAt,
	}, nil
}

// CleanTick is a RawTick after the repair rules ran.
type CleanTick struct {
	RawTick
	CleanedAt    time.Time `json:"cleaned_at"`
	QualityFlags []string  `json:"quality_flags"`
}

// HasFlag reports whether the given quality flag was applied.
func (c CleanTick) HasFlag(flag string) bool {
	for _, f := range c.QualityFlags {
		if f == flag {
			return true
		}
	}
	return false
}

// FeatureSnapshot summarizes a symbol's trailing window.
type FeatureSnapshot struct {
	Symbol        string    `json:"symbol"`
	Window        string    `json:"window"`
	AsOf          time.Time `json:"as_of"`
	Price         float64   `json:"price"`
	OpenPrice     float64   `json:"open_price"`
	VolumeSum     float64   `json:"volume_sum"`
	TurnoverSum   float64   `json:"turnover_sum"`
	AvgPrice      float64   `json:"avg_price"`
	MaxPrice      float64   `json:"max_price"`
	MinPrice      float64   `json:"min_price"`
	SampleSize    int       `json:"sample_size"`
	ChangePercent float64   `json:"change_percent"`
}

// Signal is emitted by a strategy when its condition triggers.
type Signal struct {
	Strategy      string         `json:"strategy"`
	Symbol        string         `json:"symbol"`
	SignalType    string         `json:"signal_type"`
	Confidence    float64        `json:"confidence"`
	StrengthScore float64        `json:"strength_score"`
	Reasons       []string       `json:"reasons"`
	TriggeredAt   time.Time      `json:"triggered_at"`
	Window        string         `json:"window"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// OpportunityState is the lifecycle state of an opportunity.
type OpportunityState string

const (
	StateNew      OpportunityState = "NEW"
	StateTracking OpportunityState = "TRACKING"
	StateExpired  OpportunityState = "EXPIRED"
)

// IsLive reports whether the state still accepts signals.
func (s OpportunityState) IsLive() bool {
	return s == StateNew || s == StateTracking
}

// Opportunity tracks every signal seen for one symbol while it stays live.
type Opportunity struct {
	ID            string           `json:"id"`
	Symbol        string           `json:"symbol"`
	State         OpportunityState `json:"state"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	Confidence    float64          `json:"confidence"`
	StrengthScore float64          `json:"strength_score"`
	Notes         []string         `json:"notes"`
	Signals       []Signal         `json:"signals"`
}

// Clone returns a copy that shares no slices with o.
func (o Opportunity) Clone() Opportunity {
	c := o
	c.Notes = append([]string(nil), o.Notes...)
	c.Signals = append([]Signal(nil), o.Signals...)
	return c
}

// Severity grades a risk alert.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// RiskAlert is produced by the risk evaluator and never mutated after publication.
type RiskAlert struct {
	Symbol        string         `json:"symbol"`
	RiskType      string         `json:"risk_type"`
	Severity      Severity       `json:"severity"`
	Message       string         `json:"message"`
	TriggeredAt   time.Time      `json:"triggered_at"`
	OpportunityID string         `json:"opportunity_id"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}
