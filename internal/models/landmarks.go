// Package models holds the plain data types shared by the surface builder,
// the volume clipper and the surrounding tooling.
package models

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// LandmarkSet is an ordered list of user-placed 3D points in reference space.
// Order does not affect triangulation; indices are used for edits.
type LandmarkSet struct {
	Name   string
	points []r3.Vec
}

// NewLandmarkSet creates a set holding a copy of points.
func NewLandmarkSet(name string, points ...r3.Vec) *LandmarkSet {
	return &LandmarkSet{Name: name, points: append([]r3.Vec(nil), points...)}
}

// Len returns the number of landmarks.
func (l *LandmarkSet) Len() int {
	return len(l.points)
}

// Points returns a copy of the landmark positions.
func (l *LandmarkSet) Points() []r3.Vec {
	return append([]r3.Vec(nil), l.points...)
}

// At returns landmark i.
func (l *LandmarkSet) At(i int) r3.Vec {
	return l.points[i]
}

// Add appends a landmark and returns its index.
func (l *LandmarkSet) Add(p r3.Vec) int {
	l.points = append(l.points, p)
	return len(l.points) - 1
}

// Move replaces landmark i.
func (l *LandmarkSet) Move(i int, p r3.Vec) error {
	if i < 0 || i >= len(l.points) {
		return fmt.Errorf("landmark index %d out of range [0,%d)", i, len(l.points))
	}
	l.points[i] = p
	return nil
}

// Remove deletes landmark i, shifting later indices down.
func (l *LandmarkSet) Remove(i int) error {
	if i < 0 || i >= len(l.points) {
		return fmt.Errorf("landmark index %d out of range [0,%d)", i, len(l.points))
	}
	l.points = append(l.points[:i], l.points[i+1:]...)
	return nil
}

// Clear removes every landmark.
func (l *LandmarkSet) Clear() {
	l.points = l.points[:0]
}

// Clone returns an independent copy of the set.
func (l *LandmarkSet) Clone() *LandmarkSet {
	return NewLandmarkSet(l.Name, l.points...)
}
