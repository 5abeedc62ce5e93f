package assign

import (
	"math"
)

// Topology measures travel distance between named locations.
// ok is false when the destination cannot be reached from the origin.
type Topology interface {
	Distance(from, to string) (d float64, ok bool)
}

// Point is a planar coordinate.
type Point struct {
	X, Y float64
}

// Euclidean measures straight-line distance between known positions.
type Euclidean map[string]Point

// Distance implements Topology.
func (e Euclidean) Distance(from, to string) (float64, bool) {
	if from == to {
		return 0, true
	}
	a, ok := e[from]
	if !ok {
		return 0, false
	}
	b, ok := e[to]
	if !ok {
		return 0, false
	}
	return math.Hypot(a.X-b.X, a.Y-b.Y), true
}

// Table is an explicit distance table. Entries are symmetric.
type Table struct {
	dist map[[2]string]float64
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{dist: make(map[[2]string]float64)}
}

// Set records the distance between a and b in both directions.
func (t *Table) Set(a, b string, d float64) *Table {
	t.dist[[2]string{a, b}] = d
	t.dist[[2]string{b, a}] = d
	return t
}

// Distance implements Topology.
func (t *Table) Distance(from, to string) (float64, bool) {
	if from == to {
		return 0, true
	}
	d, ok := t.dist[[2]string{from, to}]
	return d, ok
}

// Layered consults each topology in turn and returns the first answer.
type Layered []Topology

// Distance implements Topology.
func (l Layered) Distance(from, to string) (float64, bool) {
	for _, t := range l {
		if d, ok := t.Distance(from, to); ok {
			return d, true
		}
	}
	return 0, false
}
