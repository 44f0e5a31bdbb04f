package world

import (
	"cmp"
	"container/heap"
	"slices"
	"sync"

	"github.com/wHoIsDReAmer/Pumpkin/server/block"
	"github.com/wHoIsDReAmer/Pumpkin/server/block/cube"
	"github.com/wHoIsDReAmer/Pumpkin/server/world/chunk"
)

// scheduledQueue implements a queue for scheduled block updates. Updates are
// ordered by the tick they run in and, within a tick, by the order they were
// scheduled in. Scheduled updates are both position and block type
// specific.
type scheduledQueue struct {
	mu            sync.Mutex
	h             scheduledHeap
	seq           uint64
	furthestTicks map[scheduledIndex]int64
}

type scheduledUpdate struct {
	pos  cube.Pos
	name string
	t    int64
	seq  uint64
}

type scheduledIndex struct {
	pos  cube.Pos
	name string
}

func newScheduledQueue() *scheduledQueue {
	return &scheduledQueue{furthestTicks: make(map[scheduledIndex]int64)}
}

// schedule schedules an update of the block named at pos for tick t. An
// update is only scheduled if no update with the same position and block
// type is already scheduled at the same or a later tick.
func (q *scheduledQueue) schedule(pos cube.Pos, name string, t int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	index := scheduledIndex{pos: pos, name: name}
	if existing, ok := q.furthestTicks[index]; ok && existing >= t {
		return
	}
	q.furthestTicks[index] = t
	q.seq++
	heap.Push(&q.h, scheduledUpdate{pos: pos, name: name, t: t, seq: q.seq})
}

// due removes and returns all updates scheduled at or before tick whose
// chunk passes the resident check, in order. Updates of other chunks stay
// in the queue.
func (q *scheduledQueue) due(tick int64, resident func(chunk.Pos) bool) []scheduledUpdate {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out, kept []scheduledUpdate
	for len(q.h) > 0 && q.h[0].t <= tick {
		u := heap.Pop(&q.h).(scheduledUpdate)
		if !resident(chunk.PosFromBlock(u.pos)) {
			kept = append(kept, u)
			continue
		}
		index := scheduledIndex{pos: u.pos, name: u.name}
		if q.furthestTicks[index] <= u.t {
			delete(q.furthestTicks, index)
		}
		out = append(out, u)
	}
	for _, u := range kept {
		heap.Push(&q.h, u)
	}
	return out
}

// fromChunk returns the updates positioned within a chunk in the order they
// run in, with their delay relative to the current tick.
func (q *scheduledQueue) fromChunk(pos chunk.Pos, current int64) []chunk.ScheduledUpdate {
	q.mu.Lock()
	matches := make([]scheduledUpdate, 0, 8)
	for _, u := range q.h {
		if chunk.PosFromBlock(u.pos) == pos {
			matches = append(matches, u)
		}
	}
	q.mu.Unlock()

	slices.SortFunc(matches, compareScheduled)
	out := make([]chunk.ScheduledUpdate, len(matches))
	for i, u := range matches {
		out[i] = chunk.ScheduledUpdate{Pos: u.pos, Block: u.name, Delay: u.t - current}
	}
	return out
}

// add adds updates loaded with a chunk. Their order is kept for updates
// that end up in the same tick.
func (q *scheduledQueue) add(updates []chunk.ScheduledUpdate, current int64) {
	for _, u := range updates {
		q.schedule(u.Pos, u.Block, current+max(u.Delay, 0))
	}
}

// removeChunk removes all updates positioned within a chunk.
func (q *scheduledQueue) removeChunk(pos chunk.Pos) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.h = slices.DeleteFunc(q.h, func(u scheduledUpdate) bool {
		return chunk.PosFromBlock(u.pos) == pos
	})
	heap.Init(&q.h)
	for index := range q.furthestTicks {
		if chunk.PosFromBlock(index.pos) == pos {
			delete(q.furthestTicks, index)
		}
	}
}

func (q *scheduledQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}

func compareScheduled(a, b scheduledUpdate) int {
	if c := cmp.Compare(a.t, b.t); c != 0 {
		return c
	}
	return cmp.Compare(a.seq, b.seq)
}

// scheduledHeap is a min-heap of updates on (tick, sequence).
type scheduledHeap []scheduledUpdate

func (h scheduledHeap) Len() int           { return len(h) }
func (h scheduledHeap) Less(i, j int) bool { return compareScheduled(h[i], h[j]) < 0 }
func (h scheduledHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *scheduledHeap) Push(x any)        { *h = append(*h, x.(scheduledUpdate)) }
func (h *scheduledHeap) Pop() any {
	old := *h
	n := len(old)
	u := old[n-1]
	*h = old[:n-1]
	return u
}

// tickScheduled applies the scheduled updates due in the tick of the Tx.
func (w *World) tickScheduled(tx *Tx) {
	for _, u := range w.sched.due(tx.tick, tx.Loaded) {
		s, ok := tx.Block(u.pos)
		if !ok {
			continue
		}
		if name, _ := s.Encode(); name != u.name {
			continue
		}
		tx.touch(chunk.PosFromBlock(u.pos))
		w.updateBlock(tx, u.pos, s)
		w.Handler().HandleScheduledUpdate(tx, u.pos, s, tx.tick)
	}
}

// updateBlock runs the behaviour of a block that received a scheduled
// update.
func (w *World) updateBlock(tx *Tx, pos cube.Pos, s block.State) {
	switch {
	case s.Gravity():
		below := pos.Side(cube.FaceDown)
		bs, ok := tx.Block(below)
		if !ok {
			return
		}
		if _, _, fluid := bs.Fluid(); bs.Replaceable() || fluid {
			tx.SetBlock(pos, block.AirState)
			tx.SetBlock(below, s)
		}
	case isFluid(s):
		w.fluids.activate(pos)
	case isRedstone(s):
		w.redstone.Queue(pos)
	}
}
