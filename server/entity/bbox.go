package entity

import "github.com/go-gl/mathgl/mgl64"

// BBox is an axis aligned bounding box.
type BBox struct {
	min, max mgl64.Vec3
}

// Box creates a BBox from the corners passed.
func Box(x0, y0, z0, x1, y1, z1 float64) BBox {
	return BBox{min: mgl64.Vec3{min(x0, x1), min(y0, y1), min(z0, z1)}, max: mgl64.Vec3{max(x0, x1), max(y0, y1), max(z0, z1)}}
}

// Min returns the lowest corner of the BBox.
func (b BBox) Min() mgl64.Vec3 { return b.min }

// Max returns the highest corner of the BBox.
func (b BBox) Max() mgl64.Vec3 { return b.max }

// Translate moves the BBox by the vector passed.
func (b BBox) Translate(v mgl64.Vec3) BBox {
	return BBox{min: b.min.Add(v), max: b.max.Add(v)}
}

// Extend grows the BBox in the direction of the vector passed.
func (b BBox) Extend(v mgl64.Vec3) BBox {
	out := b
	for i := range 3 {
		if v[i] < 0 {
			out.min[i] += v[i]
		} else {
			out.max[i] += v[i]
		}
	}
	return out
}

// XOffset limits a movement of deltaX on the X axis so that the BBox does not
// move into nearby, provided it overlaps it on the Y and Z axes.
func (b BBox) XOffset(nearby BBox, deltaX float64) float64 {
	if b.max[1] <= nearby.min[1]+touch || b.min[1] >= nearby.max[1]-touch || b.max[2] <= nearby.min[2]+touch || b.min[2] >= nearby.max[2]-touch {
		return deltaX
	}
	return offset(b.min[0], b.max[0], nearby.min[0], nearby.max[0], deltaX)
}

// YOffset limits a movement of deltaY on the Y axis.
func (b BBox) YOffset(nearby BBox, deltaY float64) float64 {
	if b.max[0] <= nearby.min[0]+touch || b.min[0] >= nearby.max[0]-touch || b.max[2] <= nearby.min[2]+touch || b.min[2] >= nearby.max[2]-touch {
		return deltaY
	}
	return offset(b.min[1], b.max[1], nearby.min[1], nearby.max[1], deltaY)
}

// ZOffset limits a movement of deltaZ on the Z axis.
func (b BBox) ZOffset(nearby BBox, deltaZ float64) float64 {
	if b.max[0] <= nearby.min[0]+touch || b.min[0] >= nearby.max[0]-touch || b.max[1] <= nearby.min[1]+touch || b.min[1] >= nearby.max[1]-touch {
		return deltaZ
	}
	return offset(b.min[2], b.max[2], nearby.min[2], nearby.max[2], deltaZ)
}

// touch is the distance below which two faces count as touching.
const touch = 1e-7

func offset(lo, hi, nearLo, nearHi, delta float64) float64 {
	if delta > 0 && hi <= nearLo+touch {
		if d := nearLo - hi; d < delta {
			return d
		}
	} else if delta < 0 && lo >= nearHi-touch {
		if d := nearHi - lo; d > delta {
			return d
		}
	}
	return delta
}
