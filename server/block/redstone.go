package block

// RedstoneWireState returns redstone dust carrying the power level passed,
// 0-15.
func RedstoneWireState(power uint8) State {
	return New(RedstoneWire, min(power, 15))
}

// LeverState returns a lever that is either powered or not.
func LeverState(powered bool) State {
	return New(Lever, boolData(powered))
}

// RedstoneLampState returns a lamp that is either lit or not.
func RedstoneLampState(lit bool) State {
	return New(RedstoneLamp, boolData(lit))
}

// Power returns the redstone power level of the State. Wires carry their own
// level, powered levers and redstone blocks carry 15.
func Power(s State) uint8 {
	switch s.Kind() {
	case RedstoneWire:
		return s.Data()
	case RedstoneBlock:
		return 15
	case Lever:
		if s.Data() != 0 {
			return 15
		}
	}
	return 0
}

// Lit checks if a redstone lamp State is lit.
func Lit(s State) bool {
	return s.Kind() == RedstoneLamp && s.Data() != 0
}

// PowerSource checks if the State emits power of its own, as opposed to
// carrying it.
func PowerSource(s State) bool {
	k := s.Kind()
	return k == RedstoneBlock || k == Lever
}

func boolData(v bool) uint8 {
	if v {
		return 1
	}
	return 0
}
