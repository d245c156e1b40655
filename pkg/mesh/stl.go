// Package mesh decodes and encodes STL triangle meshes, the format the
// backend serves for the full assembly and for single components. Parsing
// and vector math come from gostl; the encoders are local because gostl
// only reads.
package mesh

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/philipparndt/gostl/pkg/geometry"
	"github.com/philipparndt/gostl/pkg/stl"
)

const (
	headerSize   = 80
	triangleSize = 50 // 12 float32 + uint16 attribute count
)

// Errors returned by Decode.
var (
	ErrEmpty     = errors.New("stl: empty input")
	ErrTruncated = errors.New("stl: truncated binary mesh")
)

// Vec3 is a point or direction.
type Vec3 = geometry.Vector3

// Triangle is one facet. Normal may be zero in meshes built by hand; use
// FacetNormal for a computed one.
type Triangle struct {
	Normal Vec3
	V      [3]Vec3
}

// FacetNormal returns Normal, or the right-handed normal of the vertices
// when Normal is zero.
func (t Triangle) FacetNormal() Vec3 {
	if t.Normal != (Vec3{}) {
		return t.Normal
	}
	st := stl.Triangle{V1: t.V[0], V2: t.V[1], V3: t.V[2]}
	return st.CalculateNormal()
}

// Mesh is a named triangle soup.
type Mesh struct {
	Name      string
	Triangles []Triangle
}

// Box is an axis-aligned bounding box.
type Box struct {
	Min, Max Vec3
}

// Size returns the box extents.
func (b Box) Size() Vec3 { return b.Max.Sub(b.Min) }

// Center returns the middle of the box.
func (b Box) Center() Vec3 {
	return geometry.NewVector3((b.Min.X+b.Max.X)/2, (b.Min.Y+b.Max.Y)/2, (b.Min.Z+b.Max.Z)/2)
}

// Union returns the smallest box containing a and b.
func (b Box) Union(o Box) Box {
	return Box{
		Min: geometry.NewVector3(min(b.Min.X, o.Min.X), min(b.Min.Y, o.Min.Y), min(b.Min.Z, o.Min.Z)),
		Max: geometry.NewVector3(max(b.Max.X, o.Max.X), max(b.Max.Y, o.Max.Y), max(b.Max.Z, o.Max.Z)),
	}
}

// Bounds returns the bounding box of all vertices. ok is false for an empty
// mesh.
func (m *Mesh) Bounds() (box Box, ok bool) {
	if m == nil || len(m.Triangles) == 0 {
		return Box{}, false
	}
	box = Box{Min: m.Triangles[0].V[0], Max: m.Triangles[0].V[0]}
	for _, t := range m.Triangles {
		for _, v := range t.V {
			box = box.Union(Box{Min: v, Max: v})
		}
	}
	return box, true
}

// Decode parses binary or ASCII STL with the gostl parser. A payload that
// starts with "solid" but whose size matches the binary layout exactly is
// treated as binary, since some exporters write "solid" into the binary
// header.
func Decode(data []byte) (*Mesh, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmpty
	}

	var name string
	switch {
	case isBinary(data):
		name = headerName(data)
		if bytes.HasPrefix(data, []byte("solid")) {
			data = bytes.Clone(data)
			copy(data, "mesh ")
		}
	case bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), []byte("solid")):
		name = asciiName(data)
	default:
		if len(data) < headerSize+4 {
			return nil, ErrTruncated
		}
		n := binary.LittleEndian.Uint32(data[headerSize:])
		want := headerSize + 4 + uint64(n)*triangleSize
		if uint64(len(data)) < want {
			return nil, fmt.Errorf("%w: header says %d triangles, have %d bytes", ErrTruncated, n, len(data))
		}
		name = headerName(data)
		data = data[:want]
	}

	model, err := parse(data)
	if err != nil {
		return nil, err
	}
	m := &Mesh{Name: name, Triangles: make([]Triangle, 0, len(model.Triangles))}
	for i := range model.Triangles {
		t := model.Triangles[i]
		m.Triangles = append(m.Triangles, Triangle{
			Normal: t.CalculateNormal(),
			V:      [3]Vec3{t.V1, t.V2, t.V3},
		})
	}
	return m, nil
}

// parse hands data to stl.Parse, which reads from a path.
func parse(data []byte) (*stl.Model, error) {
	f, err := os.CreateTemp("", "cadview-*.stl")
	if err != nil {
		return nil, fmt.Errorf("stl: staging mesh: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(data); err != nil {
		f.Close()
		return nil, fmt.Errorf("stl: staging mesh: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("stl: staging mesh: %w", err)
	}
	model, err := stl.Parse(f.Name())
	if err != nil {
		return nil, fmt.Errorf("stl: %w", err)
	}
	return model, nil
}

// DecodeReader reads all of r and decodes it.
func DecodeReader(r io.Reader) (*Mesh, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("stl: reading: %w", err)
	}
	return Decode(data)
}

func isBinary(data []byte) bool {
	if len(data) < headerSize+4 {
		return false
	}
	n := binary.LittleEndian.Uint32(data[headerSize:])
	return uint64(len(data)) == headerSize+4+uint64(n)*triangleSize
}

func headerName(data []byte) string {
	return strings.TrimRight(strings.TrimPrefix(string(data[:headerSize]), "solid "), "\x00 ")
}

func asciiName(data []byte) string {
	line, _, _ := bytes.Cut(bytes.TrimLeft(data, " \t\r\n"), []byte("\n"))
	fields := strings.Fields(string(line))
	if len(fields) < 2 {
		return ""
	}
	return strings.Join(fields[1:], " ")
}

// EncodeBinary writes m as binary STL.
func (m *Mesh) EncodeBinary(w io.Writer) error {
	bw := bufio.NewWriter(w)
	var header [headerSize]byte
	copy(header[:], m.Name)
	if _, err := bw.Write(header[:]); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(m.Triangles))); err != nil {
		return err
	}
	var buf [triangleSize]byte
	for _, t := range m.Triangles {
		vals := [12]float64{
			t.Normal.X, t.Normal.Y, t.Normal.Z,
			t.V[0].X, t.V[0].Y, t.V[0].Z,
			t.V[1].X, t.V[1].Y, t.V[1].Z,
			t.V[2].X, t.V[2].Y, t.V[2].Z,
		}
		for i, v := range vals {
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(float32(v)))
		}
		buf[48], buf[49] = 0, 0
		if _, err := bw.Write(buf[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// EncodeASCII writes m as ASCII STL.
func (m *Mesh) EncodeASCII(w io.Writer) error {
	bw := bufio.NewWriter(w)
	name := m.Name
	if name == "" {
		name = "mesh"
	}
	fmt.Fprintf(bw, "solid %s\n", name)
	for _, t := range m.Triangles {
		n := t.Normal
		fmt.Fprintf(bw, "  facet normal %g %g %g\n    outer loop\n", n.X, n.Y, n.Z)
		for _, v := range t.V {
			fmt.Fprintf(bw, "      vertex %g %g %g\n", v.X, v.Y, v.Z)
		}
		fmt.Fprint(bw, "    endloop\n  endfacet\n")
	}
	fmt.Fprintf(bw, "endsolid %s\n", name)
	return bw.Flush()
}

// Bytes returns the binary encoding of m.
func (m *Mesh) Bytes() []byte {
	var buf bytes.Buffer
	_ = m.EncodeBinary(&buf)
	return buf.Bytes()
}
