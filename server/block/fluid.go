package block

const (
	// FluidFalling is set on the level of a fluid State that is falling
	// straight down.
	FluidFalling = 8

	// WaterSpread is the furthest level water flows away from its source.
	WaterSpread = 7
	// LavaSpread is the furthest level lava flows away from its source.
	LavaSpread = 3
)

// WaterState returns a water State with the level passed. Level 0 is a
// source, 1-7 are flowing and levels with FluidFalling set are falling.
func WaterState(level uint8) State {
	return New(Water, level)
}

// LavaState returns a lava State with the level passed.
func LavaState(level uint8) State {
	return New(Lava, level)
}

// Fluid returns the fluid Kind and level of the State. If the State is not a
// fluid, ok is false.
func (s State) Fluid() (k Kind, level uint8, ok bool) {
	switch k = s.Kind(); k {
	case Water, Lava:
		return k, s.Data(), true
	}
	return 0, 0, false
}

// FluidSpread returns the maximum horizontal level the fluid Kind reaches.
func FluidSpread(k Kind) uint8 {
	if k == Lava {
		return LavaSpread
	}
	return WaterSpread
}
