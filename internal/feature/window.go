package feature

import (
	"fmt"
	"strings"
	"time"

	"github.com/newthinker/tickflow/internal/core"
)

// Window is a trailing duration over which samples are aggregated.
type Window struct {
	Label    string
	Duration time.Duration
}

// ParseWindows parses labels such as "5s", "60s" or "1m". The label is kept as written.
func ParseWindows(labels []string) ([]Window, error) {
	if len(labels) == 0 {
		return nil, core.WrapError(core.ErrConfigMissing, fmt.Errorf("no feature windows configured"))
	}

	seen := make(map[string]bool, len(labels))
	windows := make([]Window, 0, len(labels))
	for _, raw := range labels {
		label := strings.TrimSpace(raw)
		d, err := time.ParseDuration(label)
		if err != nil {
			return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("window %q: %w", raw, err))
		}
		if d <= 0 {
			return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("window %q must be positive", raw))
		}
		if seen[label] {
			return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("duplicate window %q", label))
		}
		seen[label] = true
		windows = append(windows, Window{Label: label, Duration: d})
	}
	return windows, nil
}
