// Package builtin lists the strategies compiled into the binary.
package builtin

import (
	"github.com/newthinker/tickflow/internal/strategy"
	"github.com/newthinker/tickflow/internal/strategy/rapid_rise"
	"github.com/newthinker/tickflow/internal/strategy/volume_spike"
)

// Factories maps configured strategy identifiers to their factories.
func Factories() map[string]strategy.Factory {
	return map[string]strategy.Factory{
		rapid_rise.Name:   rapid_rise.Factory,
		volume_spike.Name: volume_spike.Factory,
	}
}
