// Package meshtype defines the closed set of mesh-domain tags the broker
// routes work by.
package meshtype

import "fmt"

// Tag names a single mesh-domain kind, either as an input or an output of a
// MeshIOType pair.
type Tag string

const (
	Edges      Tag = "Edges"
	Mesh2D     Tag = "Mesh2D"
	Mesh3D     Tag = "Mesh3D"
	SceneFile  Tag = "SceneFile"
	PointCloud Tag = "PointCloud"
	Volume     Tag = "Volume"
)

var registry = map[Tag]bool{
	Edges:      true,
	Mesh2D:     true,
	Mesh3D:     true,
	SceneFile:  true,
	PointCloud: true,
	Volume:     true,
}

// Valid reports whether t is a recognized tag.
func Valid(t Tag) bool {
	return registry[t]
}

// MeshIOType is an ordered (input, output) pair naming a class of
// mesh-generation task. Equality and hashing are structural on the pair,
// which a plain comparable struct gives us for free as a Go map key.
type MeshIOType struct {
	Input  Tag
	Output Tag
}

func (m MeshIOType) String() string {
	return fmt.Sprintf("%s->%s", m.Input, m.Output)
}

// Valid reports whether both halves of the pair are recognized tags.
func (m MeshIOType) Valid() bool {
	return Valid(m.Input) && Valid(m.Output)
}

// Parse looks up a MeshIOType from two wire tag strings, reporting false if
// either tag is unrecognized. Unrecognized tags must never panic or error:
// callers fold the false case into INVALID_MSG.
func Parse(input, output string) (MeshIOType, bool) {
	m := MeshIOType{Input: Tag(input), Output: Tag(output)}
	return m, m.Valid()
}
