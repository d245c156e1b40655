package demobackend

import (
	"fmt"
	"math"

	"github.com/vanderheijden86/cadview/pkg/mesh"
	"github.com/vanderheijden86/cadview/pkg/metrics"

	"github.com/deadsy/sdfx/render"
	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"
)

// faceSpec selects the facets of one face by their normal.
type faceSpec struct {
	name  string
	match func(n mesh.Vec3) bool
}

// partSpec is one solid of the demo assembly, in millimetres.
type partSpec struct {
	name  string
	group string
	build func() (sdf.SDF3, error)
	faces []faceSpec
}

// part is a partSpec with the edits applied by voice commands.
type part struct {
	spec   partSpec
	scale  float64
	offset v3.Vec
	mesh   *mesh.Mesh
}

func (p *part) solid() (sdf.SDF3, error) {
	s, err := p.spec.build()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.spec.name, err)
	}
	if p.scale != 1 {
		s = sdf.ScaleUniform3D(s, p.scale)
	}
	if p.offset != (v3.Vec{}) {
		s = sdf.Transform3D(s, sdf.Translate3d(p.offset))
	}
	return s, nil
}

// tessellated returns the cached mesh, rebuilding it after an edit.
func (p *part) tessellated(cells int) (*mesh.Mesh, error) {
	if p.mesh != nil {
		return p.mesh, nil
	}
	s, err := p.solid()
	if err != nil {
		return nil, err
	}
	p.mesh = tessellate(p.spec.name, s, cells)
	return p.mesh, nil
}

func (p *part) invalidate() { p.mesh = nil }

// tessellate runs marching cubes over s.
func tessellate(name string, s sdf.SDF3, cells int) *mesh.Mesh {
	defer metrics.Timer(metrics.Tessellate)()
	triangles := render.ToTriangles(s, render.NewMarchingCubesUniform(cells))
	m := &mesh.Mesh{Name: name, Triangles: make([]mesh.Triangle, 0, len(triangles))}
	for _, tri := range triangles {
		n := tri.Normal()
		t := mesh.Triangle{Normal: mesh.Vec3{X: n.X, Y: n.Y, Z: n.Z}}
		for j := 0; j < 3; j++ {
			v := tri[j]
			t.V[j] = mesh.Vec3{X: v.X, Y: v.Y, Z: v.Z}
		}
		m.Triangles = append(m.Triangles, t)
	}
	return m
}

// faceMesh keeps the facets of m matching f.
func faceMesh(m *mesh.Mesh, f faceSpec) *mesh.Mesh {
	out := &mesh.Mesh{Name: m.Name + " " + f.name}
	for _, t := range m.Triangles {
		if f.match(t.FacetNormal()) {
			out.Triangles = append(out.Triangles, t)
		}
	}
	return out
}

// merge concatenates meshes into one named mesh.
func merge(name string, meshes ...*mesh.Mesh) *mesh.Mesh {
	out := &mesh.Mesh{Name: name}
	for _, m := range meshes {
		if m != nil {
			out.Triangles = append(out.Triangles, m.Triangles...)
		}
	}
	return out
}

const axisTolerance = 0.9

func along(axis int, sign float64) func(mesh.Vec3) bool {
	return func(n mesh.Vec3) bool {
		c := [3]float64{n.X, n.Y, n.Z}[axis]
		return c*sign > axisTolerance
	}
}

func boxFaces() []faceSpec {
	return []faceSpec{
		{"Face 1", along(0, 1)},
		{"Face 2", along(0, -1)},
		{"Face 3", along(1, 1)},
		{"Face 4", along(1, -1)},
		{"Face 5", along(2, 1)},
		{"Face 6", along(2, -1)},
	}
}

func cylinderFaces() []faceSpec {
	side := func(n mesh.Vec3) bool {
		return math.Abs(n.Z) <= axisTolerance
	}
	return []faceSpec{
		{"Face 1", along(2, 1)},
		{"Face 2", along(2, -1)},
		{"Face 3", side},
	}
}

func box(x, y, z float64, at v3.Vec) func() (sdf.SDF3, error) {
	return func() (sdf.SDF3, error) {
		s, err := sdf.Box3D(v3.Vec{X: x, Y: y, Z: z}, 0)
		if err != nil {
			return nil, err
		}
		return sdf.Transform3D(s, sdf.Translate3d(at)), nil
	}
}

func cylinder(height, radius float64, at v3.Vec) func() (sdf.SDF3, error) {
	return func() (sdf.SDF3, error) {
		s, err := sdf.Cylinder3D(height, radius, 0)
		if err != nil {
			return nil, err
		}
		return sdf.Transform3D(s, sdf.Translate3d(at)), nil
	}
}

// robotArm is the demo model: a turntable base and a two-link arm.
func robotArm() []partSpec {
	return []partSpec{
		{name: "Base-plate", group: "Base-Assembly", build: box(120, 120, 10, v3.Vec{Z: 5}), faces: boxFaces()},
		{name: "Turntable", group: "Base-Assembly", build: cylinder(20, 40, v3.Vec{Z: 20}), faces: cylinderFaces()},
		{name: "Upper-arm", group: "Arm-Assembly", build: box(20, 20, 90, v3.Vec{Z: 75}), faces: boxFaces()},
		{name: "Elbow-joint", group: "Arm-Assembly", build: cylinder(24, 14, v3.Vec{Z: 125}), faces: cylinderFaces()},
		{name: "Lower-arm", group: "Arm-Assembly", build: box(16, 16, 70, v3.Vec{Z: 170}), faces: boxFaces()},
	}
}
