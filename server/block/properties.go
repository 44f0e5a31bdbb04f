package block

// Solid checks if the State is a full, solid block that entities rest on and
// fluids cannot flow through.
func (s State) Solid() bool {
	switch s.Kind() {
	case Air, Water, Lava, RedstoneWire, Lever, Snow:
		return false
	}
	return s.Valid()
}

// Opaque checks if the State blocks sky light fully.
func (s State) Opaque() bool {
	switch s.Kind() {
	case Glass, Leaves:
		return false
	}
	return s.Solid()
}

// Replaceable checks if a fluid flowing into the State may replace it.
func (s State) Replaceable() bool {
	switch s.Kind() {
	case Air, Snow:
		return true
	}
	return false
}

// Gravity checks if the State falls when the block below is not solid.
func (s State) Gravity() bool {
	k := s.Kind()
	return k == Sand || k == Gravel
}

// LightEmission returns the block light level emitted by the State.
func (s State) LightEmission() uint8 {
	switch s.Kind() {
	case Lava:
		return 15
	case RedstoneLamp:
		if Lit(s) {
			return 15
		}
	}
	return 0
}

// LightDiffusion returns the amount of light lost when it travels through the
// State.
func (s State) LightDiffusion() uint8 {
	switch {
	case s.Opaque():
		return 15
	case s.Kind() == Water, s.Kind() == Leaves:
		return 1
	}
	return 0
}
