package block

import "testing"

func TestStateEncodeDecode(t *testing.T) {
	for _, s := range []State{AirState, New(Stone, 0), WaterState(3), LavaState(FluidFalling), RedstoneWireState(14), LeverState(true), RedstoneLampState(true)} {
		name, props := s.Encode()
		got, ok := Decode(name, props)
		if !ok {
			t.Fatalf("expected %v to decode", name)
		}
		if got != s {
			t.Fatalf("expected %v, got %v", s, got)
		}
	}
}

func TestDecodeUnknownIsAir(t *testing.T) {
	if s, ok := Decode("minecraft:not_a_block", nil); ok || s != AirState {
		t.Fatalf("expected unknown block to decode to air, got %v (ok=%v)", s, ok)
	}
}

func TestPower(t *testing.T) {
	if p := Power(RedstoneWireState(20)); p != 15 {
		t.Fatalf("expected wire power to clamp to 15, got %d", p)
	}
	if p := Power(LeverState(false)); p != 0 {
		t.Fatalf("expected unpowered lever to carry 0, got %d", p)
	}
	if p := Power(New(RedstoneBlock, 0)); p != 15 {
		t.Fatalf("expected redstone block power 15, got %d", p)
	}
}
