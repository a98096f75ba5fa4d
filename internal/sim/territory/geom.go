package territory

import (
	"fmt"
	"math"
)

// Location is a block position. It is comparable and used as a map key.
type Location struct {
	World string `json:"world"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Z     int    `json:"z"`
}

func (l Location) String() string {
	return fmt.Sprintf("%s(%d,%d,%d)", l.World, l.X, l.Y, l.Z)
}

func (l Location) Point() Point {
	return Point{World: l.World, X: float64(l.X), Y: float64(l.Y), Z: float64(l.Z)}
}

func (l Location) Below() Location { return Location{World: l.World, X: l.X, Y: l.Y - 1, Z: l.Z} }
func (l Location) Above() Location { return Location{World: l.World, X: l.X, Y: l.Y + 1, Z: l.Z} }

// Point is an entity position.
type Point struct {
	World string  `json:"world"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
}

// Block returns the block position the point lies in.
func (p Point) Block() Location {
	return Location{
		World: p.World,
		X:     int(math.Floor(p.X)),
		Y:     int(math.Floor(p.Y)),
		Z:     int(math.Floor(p.Z)),
	}
}

// DistanceSq is the squared 3D distance. Points in different worlds are
// infinitely far apart.
func (p Point) DistanceSq(o Point) float64 {
	if p.World != o.World {
		return math.Inf(1)
	}
	dx := p.X - o.X
	dy := p.Y - o.Y
	dz := p.Z - o.Z
	return dx*dx + dy*dy + dz*dz
}

func (p Point) Distance(o Point) float64 {
	return math.Sqrt(p.DistanceSq(o))
}

// PlanarDistance ignores Y.
func (p Point) PlanarDistance(o Point) float64 {
	if p.World != o.World {
		return math.Inf(1)
	}
	return math.Hypot(p.X-o.X, p.Z-o.Z)
}
