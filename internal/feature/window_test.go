package feature

import (
	"errors"
	"testing"
	"time"

	"github.com/newthinker/tickflow/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWindows(t *testing.T) {
	windows, err := ParseWindows([]string{"5s", " 60s", "1m"})
	require.NoError(t, err)

	assert.Equal(t, []Window{
		{Label: "5s", Duration: 5 * time.Second},
		{Label: "60s", Duration: time.Minute},
		{Label: "1m", Duration: time.Minute},
	}, windows)
}

func TestParseWindows_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		labels  []string
		wantErr error
	}{
		{"empty", nil, core.ErrConfigMissing},
		{"garbage", []string{"five"}, core.ErrConfigInvalid},
		{"zero", []string{"0s"}, core.ErrConfigInvalid},
		{"negative", []string{"-5s"}, core.ErrConfigInvalid},
		{"duplicate", []string{"5s", "5s"}, core.ErrConfigInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseWindows(tt.labels)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}
