package entity

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/wHoIsDReAmer/Pumpkin/server/block/cube"
	"github.com/wHoIsDReAmer/Pumpkin/server/world"
)

// MovementComputer is used to compute movement of an entity. When constructed, the Gravity of the entity
// the movement is computed for must be passed.
type MovementComputer struct {
	Gravity, Drag     float64
	DragBeforeGravity bool

	onGround bool
}

// Movement represents the movement of an entity as a result of a call to MovementComputer.TickMovement.
type Movement struct {
	pos, vel, dpos mgl64.Vec3
	onGround       bool
}

// Position returns the position as a result of the Movement as an mgl64.Vec3.
func (m Movement) Position() mgl64.Vec3 {
	return m.pos
}

// Velocity returns the velocity after the Movement as an mgl64.Vec3.
func (m Movement) Velocity() mgl64.Vec3 {
	return m.vel
}

// Moved checks if the Movement changed the position by more than a negligible amount.
func (m Movement) Moved() bool {
	return !m.dpos.ApproxEqualThreshold(zeroVec3, epsilon)
}

// TickMovement performs a movement tick on an entity with the BBox passed, relative to its position.
// Velocity is applied and changed according to the values of its Drag and Gravity.
func (c *MovementComputer) TickMovement(box BBox, pos, vel mgl64.Vec3, tx *world.Tx) Movement {
	vel = c.applyHorizontalForces(c.applyVerticalForces(vel))
	dPos, vel := c.checkCollision(tx, box.Translate(pos), vel)
	return Movement{pos: pos.Add(dPos), vel: vel, dpos: dPos, onGround: c.onGround}
}

// OnGround checks if the entity that this computer calculates is currently on the ground.
func (c *MovementComputer) OnGround() bool {
	return c.onGround
}

// zeroVec3 is a mgl64.Vec3 with zero values.
var zeroVec3 mgl64.Vec3

// epsilon is the epsilon used for thresholds for change used for change in position and velocity.
const epsilon = 0.001

// applyVerticalForces applies gravity and drag on the Y axis, based on the Gravity and Drag values set.
func (c *MovementComputer) applyVerticalForces(vel mgl64.Vec3) mgl64.Vec3 {
	if c.DragBeforeGravity {
		vel[1] *= 1 - c.Drag
	}
	vel[1] -= c.Gravity
	if !c.DragBeforeGravity {
		vel[1] *= 1 - c.Drag
	}
	return vel
}

// applyHorizontalForces applies friction to the velocity based on the Drag value, reducing it on the X and Z axes.
func (c *MovementComputer) applyHorizontalForces(vel mgl64.Vec3) mgl64.Vec3 {
	friction := 1 - c.Drag
	if c.onGround {
		friction *= 0.6
	}
	vel[0] *= friction
	vel[2] *= friction
	return vel
}

// checkCollision handles the collision of the entity with blocks, adapting the velocity of the entity if it
// happens to collide with a block.
// The final velocity and the Vec3 that the entity should move is returned.
func (c *MovementComputer) checkCollision(tx *world.Tx, entityBBox BBox, vel mgl64.Vec3) (mgl64.Vec3, mgl64.Vec3) {
	deltaX, deltaY, deltaZ := vel[0], vel[1], vel[2]
	blocks := blockBBoxsAround(tx, entityBBox.Extend(vel))

	if !mgl64.FloatEqualThreshold(deltaY, 0, epsilon) {
		// First we move the entity BBox on the Y axis.
		for _, blockBBox := range blocks {
			deltaY = entityBBox.YOffset(blockBBox, deltaY)
		}
		entityBBox = entityBBox.Translate(mgl64.Vec3{0, deltaY})
	}
	if !mgl64.FloatEqualThreshold(deltaX, 0, epsilon) {
		// Then on the X axis.
		for _, blockBBox := range blocks {
			deltaX = entityBBox.XOffset(blockBBox, deltaX)
		}
		entityBBox = entityBBox.Translate(mgl64.Vec3{deltaX})
	}
	if !mgl64.FloatEqualThreshold(deltaZ, 0, epsilon) {
		// And finally on the Z axis.
		for _, blockBBox := range blocks {
			deltaZ = entityBBox.ZOffset(blockBBox, deltaZ)
		}
	}
	if !mgl64.FloatEqual(vel[1], 0) {
		c.onGround = false
	}
	if !mgl64.FloatEqual(deltaX, vel[0]) {
		vel[0] = 0
	}
	if !mgl64.FloatEqual(deltaY, vel[1]) {
		// The entity either hit the ground or hit the ceiling.
		if vel[1] < 0 {
			c.onGround = true
		}
		vel[1] = 0
	}
	if !mgl64.FloatEqual(deltaZ, vel[2]) {
		vel[2] = 0
	}
	return mgl64.Vec3{deltaX, deltaY, deltaZ}, vel
}

// blockBBoxsAround returns the boxes of all solid blocks around the BBox passed. Blocks in chunks that are
// not resident count as solid, so that entities never move into them.
func blockBBoxsAround(tx *world.Tx, box BBox) []BBox {
	lo, hi := box.Min(), box.Max()
	minX, minY, minZ := int(math.Floor(lo[0]-0.25)), int(math.Floor(lo[1]-0.25)), int(math.Floor(lo[2]-0.25))
	maxX, maxY, maxZ := int(math.Ceil(hi[0]+0.25)), int(math.Ceil(hi[1]+0.25)), int(math.Ceil(hi[2]+0.25))

	var boxes []BBox
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			for z := minZ; z <= maxZ; z++ {
				s, ok := tx.Block(cube.Pos{x, y, z})
				if ok && !s.Solid() {
					continue
				}
				if !ok && (y < tx.Range().Min() || y > tx.Range().Max()) {
					continue
				}
				boxes = append(boxes, Box(float64(x), float64(y), float64(z), float64(x+1), float64(y+1), float64(z+1)))
			}
		}
	}
	return boxes
}
