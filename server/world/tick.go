package world

import (
	"math"
	"time"

	"github.com/wHoIsDReAmer/Pumpkin/server/world/chunk"
)

// ticker implements World ticking methods.
type ticker struct {
	interval time.Duration
}

const (
	tpsSampleSize       = 20
	tpsWarningThreshold = 19.0
)

// tickLoop starts ticking the World every interval, updating scheduled
// blocks, fluids, redstone and entities of all resident chunks. A tick that
// started always completes: closing the World only stops new ticks from
// starting.
func (t ticker) tickLoop(w *World) {
	defer w.running.Done()
	tc := time.NewTicker(t.interval)
	defer tc.Stop()
	// The threshold is scaled for intervals other than 50ms.
	threshold := tpsWarningThreshold * (time.Second / 20).Seconds() / t.interval.Seconds()
	lastTick := time.Now()
	var (
		durationSum time.Duration
		ticksCount  int
		warned      bool
	)
	for {
		select {
		case <-tc.C:
			tickStart := time.Now()
			duration := tickStart.Sub(lastTick)
			lastTick = tickStart
			if duration > 0 {
				durationSum += duration
				ticksCount++
				if ticksCount >= tpsSampleSize {
					avg := durationSum / time.Duration(ticksCount)
					tps := 1.0 / avg.Seconds()
					w.tps.Store(math.Float64bits(tps))
					if tps < threshold {
						if !warned {
							w.conf.Log.Warn("TPS dropped below threshold.", "tps", tps)
							warned = true
						}
					} else if warned {
						warned = false
					}
					durationSum = 0
					ticksCount = 0
				}
			}
			w.step()
		case <-w.closing:
			return
		}
	}
}

// step performs a single tick on all chunks that are resident when it
// starts. Ticks never overlap.
func (w *World) step() {
	w.tickMu.Lock()
	defer w.tickMu.Unlock()

	tick := w.tick.Add(1)
	pinned := w.cache.pinAll()
	defer w.cache.unpin(pinned)

	tx := newTx(w, tick, pinned)
	w.populate(tx)
	w.tickScheduled(tx)
	w.tickFluids(tx)
	w.tickRedstone(tx)
	w.tickEntities(tx)
	w.Handler().HandleTick(tx, tick)
	tx.markTouched()
}

// populate runs the Populator for every generated chunk whose eight
// neighbours are resident and generated as well.
func (w *World) populate(tx *Tx) {
	if w.conf.Populator == nil {
		return
	}
	status := func(pos chunk.Pos) chunk.Status {
		e, ok := tx.entries[pos]
		if !ok {
			return chunk.StatusEmpty
		}
		e.mu.RLock()
		defer e.mu.RUnlock()
		return e.c.Status()
	}
	for _, e := range tx.ordered {
		if status(e.pos) != chunk.StatusGenerated {
			continue
		}
		ready := true
		for dx := int32(-1); dx <= 1 && ready; dx++ {
			for dz := int32(-1); dz <= 1; dz++ {
				if status(chunk.Pos{e.pos[0] + dx, e.pos[1] + dz}) < chunk.StatusGenerated {
					ready = false
					break
				}
			}
		}
		if !ready {
			continue
		}
		w.conf.Populator.Populate(tx, e.pos)
		tx.ModifyChunk(e.pos, func(c *chunk.Chunk) { c.SetStatus(chunk.StatusPopulated) })
	}
}
