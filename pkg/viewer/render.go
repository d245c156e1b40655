package viewer

import (
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/vanderheijden86/cadview/pkg/mesh"
	"github.com/vanderheijden86/cadview/pkg/metrics"

	"git.sr.ht/~sbinet/gg"
	"golang.org/x/image/font/basicfont"
)

var (
	colorBackdrop = color.RGBA{0x1a, 0x1a, 0x1a, 0xff}
	colorBase     = color.RGBA{0xcc, 0xcc, 0xcc, 0xff}
	colorEmphasis = color.RGBA{0xff, 0x6b, 0x35, 0xff}
	colorWire     = color.RGBA{0x80, 0x80, 0x80, 0xff}
	colorCaption  = color.RGBA{0xe0, 0x6c, 0x75, 0xff}
)

// vec is a float64 working vector in view space.
type vec struct{ x, y, z float64 }

func (a vec) dot(b vec) float64 { return a.x*b.x + a.y*b.y + a.z*b.z }

func (a vec) sub(b vec) vec { return vec{a.x - b.x, a.y - b.y, a.z - b.z} }

func (a vec) norm() vec {
	l := math.Sqrt(a.dot(a))
	if l == 0 {
		return a
	}
	return vec{a.x / l, a.y / l, a.z / l}
}

// CAD files are Z-up; the view is Y-up, so rotate -90° about X.
func toView(v mesh.Vec3) vec {
	return vec{v.X, v.Z, -v.Y}
}

// The camera looks at the origin from (1,1,1), like an isometric preview.
var (
	camRight   = vec{1, 0, -1}.norm()
	camUp      = vec{-1, 2, -1}.norm()
	camForward = vec{1, 1, 1}.norm()
	lightDir   = vec{0.5, 1, 0.8}.norm()
)

type facet struct {
	pts   [3][2]float64
	depth float64
	shade float64
	col   color.RGBA
	alpha float64
}

// projection maps view-space points to pixels.
type projection struct {
	center vec
	scale  float64
	w, h   float64
}

func (p projection) point(v vec) (x, y, depth float64) {
	d := v.sub(p.center)
	return p.w/2 + d.dot(camRight)*p.scale, p.h/2 - d.dot(camUp)*p.scale, d.dot(camForward)
}

func fit(box mesh.Box, w, h int) projection {
	lo, hi := toView(box.Min), toView(box.Max)
	center := vec{(lo.x + hi.x) / 2, (lo.y + hi.y) / 2, (lo.z + hi.z) / 2}
	extent := 0.0
	for _, cx := range []float64{lo.x, hi.x} {
		for _, cy := range []float64{lo.y, hi.y} {
			for _, cz := range []float64{lo.z, hi.z} {
				d := vec{cx, cy, cz}.sub(center)
				extent = math.Max(extent, math.Abs(d.dot(camRight)))
				extent = math.Max(extent, math.Abs(d.dot(camUp)))
			}
		}
	}
	scale := 1.0
	if extent > 0 {
		scale = 0.45 * math.Min(float64(w), float64(h)) / extent
	}
	return projection{center: center, scale: scale, w: float64(w), h: float64(h)}
}

func collect(out []facet, m *mesh.Mesh, p projection, col color.RGBA, alpha float64) []facet {
	if m == nil {
		return out
	}
	for _, t := range m.Triangles {
		var f facet
		for i, v := range t.V {
			x, y, d := p.point(toView(v))
			f.pts[i] = [2]float64{x, y}
			f.depth += d / 3
		}
		n := toView(t.FacetNormal()).norm()
		f.shade = 0.35 + 0.65*math.Abs(n.dot(lightDir))
		f.col = col
		f.alpha = alpha
		out = append(out, f)
	}
	return out
}

// Render draws the scene at w×h pixels. Both meshes share one projection
// fitted to the base mesh so the emphasized component stays in place.
func Render(s *Scene, w, h int) image.Image {
	defer metrics.Timer(metrics.Render)()
	dc := gg.NewContext(w, h)
	dc.SetColor(colorBackdrop)
	dc.Clear()

	if s.Placeholder() {
		drawPlaceholder(dc, w, h)
		return dc.Image()
	}

	box, ok := s.Base.Bounds()
	if !ok {
		drawPlaceholder(dc, w, h)
		return dc.Image()
	}
	p := fit(box, w, h)

	var facets []facet
	facets = collect(facets, s.Base, p, colorBase, s.BaseOpacity)
	facets = collect(facets, s.Emphasis, p, colorEmphasis, 1)
	// Painter's algorithm: farthest first.
	sort.SliceStable(facets, func(i, j int) bool { return facets[i].depth < facets[j].depth })

	for _, f := range facets {
		dc.SetRGBA(
			float64(f.col.R)/255*f.shade,
			float64(f.col.G)/255*f.shade,
			float64(f.col.B)/255*f.shade,
			f.alpha,
		)
		dc.NewSubPath()
		dc.MoveTo(f.pts[0][0], f.pts[0][1])
		dc.LineTo(f.pts[1][0], f.pts[1][1])
		dc.LineTo(f.pts[2][0], f.pts[2][1])
		dc.ClosePath()
		dc.Fill()
	}

	if s.EmphasisErr != nil {
		dc.SetFontFace(basicfont.Face7x13)
		dc.SetColor(colorCaption)
		dc.DrawStringAnchored("component unavailable", 8, float64(h)-10, 0, 0.5)
	}
	return dc.Image()
}

// drawPlaceholder draws a wireframe cube where the model would be.
func drawPlaceholder(dc *gg.Context, w, h int) {
	const half = 5.0
	p := fit(mesh.Box{Min: mesh.Vec3{X: -half, Y: -half, Z: -half}, Max: mesh.Vec3{X: half, Y: half, Z: half}}, w, h)
	p.scale *= 0.6
	var corners [8][2]float64
	for i := 0; i < 8; i++ {
		v := vec{half, half, half}
		if i&1 == 0 {
			v.x = -half
		}
		if i&2 == 0 {
			v.y = -half
		}
		if i&4 == 0 {
			v.z = -half
		}
		x, y, _ := p.point(v)
		corners[i] = [2]float64{x, y}
	}
	dc.SetColor(colorWire)
	dc.SetLineWidth(1)
	for i := 0; i < 8; i++ {
		for _, bit := range []int{1, 2, 4} {
			if j := i | bit; j != i {
				dc.DrawLine(corners[i][0], corners[i][1], corners[j][0], corners[j][1])
				dc.Stroke()
			}
		}
	}
}

// EncodePNG renders the scene and writes it as PNG.
func EncodePNG(w io.Writer, s *Scene, width, height int) error {
	return png.Encode(w, Render(s, width, height))
}

// SavePNG renders the scene to a PNG file.
func SavePNG(path string, s *Scene, width, height int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := EncodePNG(f, s, width, height); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Cell is one character of a terminal preview.
type Cell struct {
	Ch       rune
	Emphasis bool
}

// Preview is a character-cell rendering of a scene.
type Preview struct {
	Cols, Rows int
	Cells      []Cell
}

// Line returns row r as plain text.
func (p *Preview) Line(r int) string {
	var b strings.Builder
	for c := 0; c < p.Cols; c++ {
		b.WriteRune(p.Cells[r*p.Cols+c].Ch)
	}
	return b.String()
}

// String returns all rows joined by newlines.
func (p *Preview) String() string {
	lines := make([]string, p.Rows)
	for r := range lines {
		lines[r] = p.Line(r)
	}
	return strings.Join(lines, "\n")
}

const ramp = " .:-=+*#%@"

// RenderPreview renders the scene into cols×rows character cells. Terminal
// cells are about twice as tall as wide, so each cell samples two pixels.
func RenderPreview(s *Scene, cols, rows int) *Preview {
	if cols <= 0 || rows <= 0 {
		return &Preview{}
	}
	img := Render(s, cols, rows*2)
	bg := luminance(colorBackdrop)
	p := &Preview{Cols: cols, Rows: rows, Cells: make([]Cell, cols*rows)}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			var lum float64
			emph := false
			for dy := 0; dy < 2; dy++ {
				px := color.RGBAModel.Convert(img.At(c, r*2+dy)).(color.RGBA)
				lum += luminance(px) / 2
				if isEmphasis(px) {
					emph = true
				}
			}
			ch := ' '
			if lum > bg+0.02 {
				idx := int((lum - bg) / (1 - bg) * float64(len(ramp)-1))
				idx = max(1, min(idx, len(ramp)-1))
				ch = rune(ramp[idx])
			}
			p.Cells[r*cols+c] = Cell{Ch: ch, Emphasis: emph}
		}
	}
	return p
}

func luminance(c color.RGBA) float64 {
	return (0.2126*float64(c.R) + 0.7152*float64(c.G) + 0.0722*float64(c.B)) / 255
}

// isEmphasis detects the orange emphasis colour after shading.
func isEmphasis(c color.RGBA) bool {
	return int(c.R)-int(c.B) > 60 && c.R > c.G
}
