package redstone

import (
	"log/slog"

	"github.com/wHoIsDReAmer/Pumpkin/server/block/cube"
)

// Config holds the tunable parameters for the redstone propagation system.
// The zero value is usable; sensible defaults are applied by withDefaults.
type Config struct {
	// Disabled turns the entire subsystem off. Queued changes are then
	// dropped and wires keep their power.
	Disabled bool
	// BudgetPerTick caps the amount of blocks visited in a single Step.
	// Changes that do not fit are deferred to the next tick.
	BudgetPerTick int
	// MaxComponent caps the amount of wires in a single connected network.
	// Wires past it are left untouched.
	MaxComponent int
}

func (c Config) withDefaults() Config {
	if c.BudgetPerTick <= 0 {
		c.BudgetPerTick = 8192
	}
	if c.MaxComponent <= 0 {
		c.MaxComponent = 4096
	}
	return c
}

// NewSystem builds a System using the configuration and the logger derived from the world.
func (c Config) NewSystem(log *slog.Logger) *System {
	if log == nil {
		log = slog.Default()
	}
	if c.Disabled {
		log.Debug("Redstone propagation disabled.")
	}
	return &System{
		conf:    c.withDefaults(),
		log:     log,
		metrics: NewMetrics(),
		queue:   make(map[cube.Pos]struct{}),
	}
}
