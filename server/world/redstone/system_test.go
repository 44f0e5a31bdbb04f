package redstone

import (
	"log/slog"
	"testing"

	"github.com/wHoIsDReAmer/Pumpkin/server/block"
	"github.com/wHoIsDReAmer/Pumpkin/server/block/cube"
)

type mapAccess struct {
	blocks   map[cube.Pos]block.State
	missing  map[ChunkID]bool
	setCalls int
}

func newMapAccess() *mapAccess {
	return &mapAccess{blocks: make(map[cube.Pos]block.State), missing: make(map[ChunkID]bool)}
}

func (m *mapAccess) Block(pos cube.Pos) (block.State, bool) {
	if m.missing[ChunkOf(pos)] {
		return 0, false
	}
	s, ok := m.blocks[pos]
	if !ok {
		return block.AirState, true
	}
	return s, true
}

func (m *mapAccess) SetBlock(pos cube.Pos, s block.State) bool {
	if m.missing[ChunkOf(pos)] {
		return false
	}
	m.setCalls++
	m.blocks[pos] = s
	return true
}

func newTestSystem(conf Config) *System {
	return conf.NewSystem(slog.New(slog.DiscardHandler))
}

// line places a lever at x=0 and wires at x=1..n on y=64.
func line(a *mapAccess, n int, powered bool) {
	a.blocks[cube.Pos{0, 64, 0}] = block.LeverState(powered)
	for x := 1; x <= n; x++ {
		a.blocks[cube.Pos{x, 64, 0}] = block.RedstoneWireState(0)
	}
}

func TestWireDecaysWithDistance(t *testing.T) {
	a := newMapAccess()
	line(a, 20, true)
	sys := newTestSystem(Config{})
	sys.Queue(cube.Pos{0, 64, 0})
	res := sys.Step(a, 1)

	for x := 1; x <= 20; x++ {
		want := uint8(max(16-x, 0))
		if got := block.Power(a.blocks[cube.Pos{x, 64, 0}]); got != want {
			t.Fatalf("expected wire at x=%d to carry %d, got %d", x, want, got)
		}
	}
	if len(res.Events) != 15 {
		t.Fatalf("expected 15 power changes, got %d", len(res.Events))
	}
	for i := 1; i < len(res.Events); i++ {
		if comparePos(res.Events[i-1].Pos, res.Events[i].Pos) > 0 {
			t.Fatalf("expected events in deterministic order, got %v before %v", res.Events[i-1].Pos, res.Events[i].Pos)
		}
	}
}

func TestLeverOffClearsPower(t *testing.T) {
	a := newMapAccess()
	line(a, 5, true)
	sys := newTestSystem(Config{})
	sys.Queue(cube.Pos{0, 64, 0})
	sys.Step(a, 1)

	a.blocks[cube.Pos{0, 64, 0}] = block.LeverState(false)
	sys.Queue(cube.Pos{0, 64, 0})
	sys.Step(a, 2)
	for x := 1; x <= 5; x++ {
		if got := block.Power(a.blocks[cube.Pos{x, 64, 0}]); got != 0 {
			t.Fatalf("expected unpowered wire at x=%d, got %d", x, got)
		}
	}
}

func TestBrokenWireSplitsNetwork(t *testing.T) {
	a := newMapAccess()
	line(a, 6, true)
	sys := newTestSystem(Config{})
	sys.Queue(cube.Pos{0, 64, 0})
	sys.Step(a, 1)

	delete(a.blocks, cube.Pos{3, 64, 0})
	sys.Queue(cube.Pos{3, 64, 0})
	sys.Step(a, 2)
	if got := block.Power(a.blocks[cube.Pos{2, 64, 0}]); got != 14 {
		t.Fatalf("expected wire before the gap to keep 14, got %d", got)
	}
	for x := 4; x <= 6; x++ {
		if got := block.Power(a.blocks[cube.Pos{x, 64, 0}]); got != 0 {
			t.Fatalf("expected wire after the gap at x=%d to be unpowered, got %d", x, got)
		}
	}
}

func TestLampFollowsWire(t *testing.T) {
	a := newMapAccess()
	line(a, 3, true)
	lamp := cube.Pos{4, 64, 0}
	a.blocks[lamp] = block.RedstoneLampState(false)
	sys := newTestSystem(Config{})
	sys.Queue(cube.Pos{0, 64, 0})
	res := sys.Step(a, 1)
	if !block.Lit(a.blocks[lamp]) {
		t.Fatalf("expected lamp to be lit")
	}
	var outputs int
	for _, ev := range res.Events {
		if ev.Kind == EventOutput {
			outputs++
		}
	}
	if outputs != 1 {
		t.Fatalf("expected one output event, got %d", outputs)
	}

	a.blocks[cube.Pos{0, 64, 0}] = block.LeverState(false)
	sys.Queue(cube.Pos{0, 64, 0})
	sys.Step(a, 2)
	if block.Lit(a.blocks[lamp]) {
		t.Fatalf("expected lamp to go out")
	}
}

func TestLampNextToLever(t *testing.T) {
	a := newMapAccess()
	a.blocks[cube.Pos{0, 64, 0}] = block.LeverState(true)
	a.blocks[cube.Pos{1, 64, 0}] = block.RedstoneLampState(false)
	sys := newTestSystem(Config{})
	sys.Queue(cube.Pos{0, 64, 0})
	sys.Step(a, 1)
	if !block.Lit(a.blocks[cube.Pos{1, 64, 0}]) {
		t.Fatalf("expected lamp adjacent to a powered lever to be lit")
	}
}

func TestNonResidentChunkStopsPropagation(t *testing.T) {
	a := newMapAccess()
	line(a, 20, true)
	a.missing[ChunkID{X: 1, Z: 0}] = true
	sys := newTestSystem(Config{})
	sys.Queue(cube.Pos{0, 64, 0})
	sys.Step(a, 1)
	if got := block.Power(a.blocks[cube.Pos{15, 64, 0}]); got != 1 {
		t.Fatalf("expected last resident wire to carry 1, got %d", got)
	}
	if got := block.Power(a.blocks[cube.Pos{16, 64, 0}]); got != 0 {
		t.Fatalf("expected wire in missing chunk to be untouched, got %d", got)
	}
}

func TestBudgetDefersSeeds(t *testing.T) {
	a := newMapAccess()
	a.blocks[cube.Pos{0, 64, 0}] = block.LeverState(true)
	a.blocks[cube.Pos{1, 64, 0}] = block.RedstoneWireState(0)
	a.blocks[cube.Pos{100, 64, 0}] = block.LeverState(true)
	a.blocks[cube.Pos{101, 64, 0}] = block.RedstoneWireState(0)

	sys := newTestSystem(Config{BudgetPerTick: 1})
	sys.Queue(cube.Pos{0, 64, 0})
	sys.Queue(cube.Pos{100, 64, 0})
	res := sys.Step(a, 1)
	if res.Deferred != 1 {
		t.Fatalf("expected one deferred seed, got %d", res.Deferred)
	}
	if sys.Pending() != 1 {
		t.Fatalf("expected one pending seed, got %d", sys.Pending())
	}
	if got := sys.Metrics().Deferred(ChunkOf(cube.Pos{100, 64, 0})); got != 1 {
		t.Fatalf("expected deferred counter of 1, got %d", got)
	}
	sys.Step(a, 2)
	if got := block.Power(a.blocks[cube.Pos{101, 64, 0}]); got != 15 {
		t.Fatalf("expected deferred network to be powered on the next step, got %d", got)
	}
}

func TestDisabledSystemIgnoresQueue(t *testing.T) {
	a := newMapAccess()
	line(a, 2, true)
	sys := newTestSystem(Config{Disabled: true})
	sys.Queue(cube.Pos{0, 64, 0})
	sys.Step(a, 1)
	if a.setCalls != 0 {
		t.Fatalf("expected no writes from a disabled system, got %d", a.setCalls)
	}
}

func TestMortonOrder(t *testing.T) {
	positions := []cube.Pos{{16, 0, 16}, {0, 5, 0}, {0, 1, 0}, {-1, 0, 0}}
	SortPositions(positions)
	if positions[0] != (cube.Pos{-1, 0, 0}) {
		t.Fatalf("expected negative chunk first, got %v", positions[0])
	}
	if positions[1] != (cube.Pos{0, 1, 0}) || positions[2] != (cube.Pos{0, 5, 0}) {
		t.Fatalf("expected positions in the same chunk ordered by y, got %v", positions)
	}
}
