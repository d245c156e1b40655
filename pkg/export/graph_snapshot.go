package export

import (
	"errors"
	"fmt"
	"html"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/vanderheijden86/cadview/pkg/hasse"
	"github.com/vanderheijden86/cadview/pkg/layout"
	"github.com/vanderheijden86/cadview/pkg/model"

	"git.sr.ht/~sbinet/gg"
	svg "github.com/ajstarks/svgo"
	"golang.org/x/image/font/basicfont"
)

// ErrEmptyDiagram is returned when there is nothing to draw.
var ErrEmptyDiagram = errors.New("diagram has no nodes")

// SnapshotOptions controls diagram snapshot export.
type SnapshotOptions struct {
	Path   string // Output path; format inferred from extension when Format empty
	Format string // "svg" or "png" (case-insensitive). If empty, inferred from Path.
	Title  string // Rendered in the header block
	// Diagram is the laid-out containment graph.
	Diagram *hasse.Diagram
	// SelectedID is drawn in the emphasis colour when non-empty.
	SelectedID string
	// Kinds colours nodes by assembly kind; ids missing from it use the
	// neutral fill.
	Kinds map[string]model.Kind
}

const (
	margin       = 24.0
	headerHeight = 72.0
	minWidth     = 360.0
)

var (
	colorBackdrop  = color.RGBA{0xf9, 0xfa, 0xfb, 0xff}
	colorHeaderBG  = color.RGBA{0xe5, 0xe7, 0xeb, 0xff}
	colorStroke    = color.RGBA{0x37, 0x41, 0x51, 0xff}
	colorText      = color.RGBA{0x11, 0x18, 0x27, 0xff}
	colorSubtle    = color.RGBA{0x4b, 0x55, 0x63, 0xff}
	colorEdge      = color.RGBA{0x9c, 0xa3, 0xaf, 0xff}
	colorEdgeArrow = color.RGBA{0x6b, 0x72, 0x80, 0xff}
	colorNode      = color.RGBA{0xff, 0xff, 0xff, 0xff}
	colorAssembly  = color.RGBA{0xe9, 0xe3, 0xff, 0xff}
	colorPart      = color.RGBA{0xde, 0xeb, 0xff, 0xff}
	colorShell     = color.RGBA{0xd9, 0xf5, 0xfa, 0xff}
	colorFace      = color.RGBA{0xe3, 0xfc, 0xef, 0xff}
	// Same orange as the viewer's emphasis mesh.
	colorSelected = color.RGBA{0xff, 0x6b, 0x35, 0xff}
)

// SaveHasseSnapshot renders the diagram to an SVG or PNG file.
func SaveHasseSnapshot(opts SnapshotOptions) error {
	if opts.Diagram.Empty() {
		return ErrEmptyDiagram
	}

	format := strings.ToLower(strings.TrimPrefix(opts.Format, "."))
	if format == "" {
		switch strings.ToLower(filepath.Ext(opts.Path)) {
		case ".svg":
			format = "svg"
		case ".png":
			format = "png"
		default:
			format = "svg" // safe default
			if opts.Path != "" && filepath.Ext(opts.Path) == "" {
				opts.Path = opts.Path + ".svg"
			}
		}
	}
	if format != "svg" && format != "png" {
		return fmt.Errorf("unsupported format %q (want svg or png)", format)
	}
	if opts.Path == "" {
		return fmt.Errorf("output path is required")
	}

	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}

	switch format {
	case "png":
		return renderPNG(opts)
	default:
		f, err := os.Create(opts.Path)
		if err != nil {
			return err
		}
		if err := WriteHasseSVG(f, opts); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
}

// canvasSize returns the image size and the offset of layout space.
func canvasSize(d *hasse.Diagram) (w, h int, ox, oy float64) {
	width := math.Max(d.Width+2*margin, minWidth)
	height := d.Height + headerHeight + 2*margin
	ox = (width - d.Width) / 2
	oy = headerHeight + margin
	return int(math.Ceil(width)), int(math.Ceil(height)), ox, oy
}

func nodeFill(opts SnapshotOptions, id string) color.RGBA {
	if opts.SelectedID != "" && id == opts.SelectedID {
		return colorSelected
	}
	switch opts.Kinds[id] {
	case model.KindAssembly:
		return colorAssembly
	case model.KindPart:
		return colorPart
	case model.KindShell:
		return colorShell
	case model.KindFace:
		return colorFace
	default:
		return colorNode
	}
}

func summary(opts SnapshotOptions) (title, stats string) {
	title = opts.Title
	if title == "" {
		title = "Containment diagram"
	}
	d := opts.Diagram
	stats = fmt.Sprintf("nodes: %d  edges: %d  ranks: %d", len(d.Nodes), len(d.Edges), d.Ranks)
	if len(d.Dropped) > 0 {
		stats += fmt.Sprintf("  dropped: %d", len(d.Dropped))
	}
	if !d.Acyclic {
		stats += "  (cycle)"
	}
	return title, stats
}

func label(n model.GraphNode) string {
	if n.Label != "" {
		return n.Label
	}
	return n.ID
}

// arrowHead returns the triangle at the end of p, pointing along its last
// segment.
func arrowHead(p layout.Path, ox, oy float64) (xs, ys [3]float64, ok bool) {
	if len(p.Points) < 2 {
		return xs, ys, false
	}
	a, b := p.Points[len(p.Points)-2], p.Points[len(p.Points)-1]
	dx, dy := b.X-a.X, b.Y-a.Y
	l := math.Hypot(dx, dy)
	if l == 0 {
		return xs, ys, false
	}
	dx, dy = dx/l, dy/l
	const size, half = 9.0, 4.5
	tx, ty := b.X+ox, b.Y+oy
	bx, by := tx-dx*size, ty-dy*size
	xs = [3]float64{tx, bx - dy*half, bx + dy*half}
	ys = [3]float64{ty, by + dx*half, by - dx*half}
	return xs, ys, true
}

func renderPNG(opts SnapshotOptions) error {
	d := opts.Diagram
	w, h, ox, oy := canvasSize(d)
	dc := gg.NewContext(w, h)
	dc.SetColor(colorBackdrop)
	dc.Clear()

	dc.SetColor(colorHeaderBG)
	dc.DrawRoundedRectangle(12, 12, float64(w)-24, headerHeight-12, 10)
	dc.Fill()

	dc.SetFontFace(basicfont.Face7x13)
	title, stats := summary(opts)
	dc.SetColor(colorText)
	dc.DrawStringAnchored(title, 28, 34, 0, 0.5)
	dc.SetColor(colorSubtle)
	dc.DrawStringAnchored(stats, 28, 54, 0, 0.5)

	dc.SetLineWidth(1.5)
	for _, e := range d.Edges {
		dc.SetColor(colorEdge)
		for i, pt := range e.Points {
			if i == 0 {
				dc.MoveTo(pt.X+ox, pt.Y+oy)
			} else {
				dc.LineTo(pt.X+ox, pt.Y+oy)
			}
		}
		dc.Stroke()
		if xs, ys, ok := arrowHead(e, ox, oy); ok {
			dc.SetColor(colorEdgeArrow)
			dc.NewSubPath()
			dc.MoveTo(xs[0], ys[0])
			dc.LineTo(xs[1], ys[1])
			dc.LineTo(xs[2], ys[2])
			dc.ClosePath()
			dc.Fill()
		}
	}

	for _, n := range d.Nodes {
		x, y := n.X+ox, n.Y+oy
		dc.SetColor(nodeFill(opts, n.ID))
		dc.DrawRoundedRectangle(x, y, n.Width, n.Height, 6)
		dc.Fill()
		dc.SetColor(colorStroke)
		dc.SetLineWidth(1.2)
		dc.DrawRoundedRectangle(x, y, n.Width, n.Height, 6)
		dc.Stroke()
		dc.SetColor(colorText)
		dc.DrawStringAnchored(truncate(label(n), int(n.Width/7)-1), x+n.Width/2, y+n.Height/2, 0.5, 0.35)
	}

	return dc.SavePNG(opts.Path)
}

// WriteHasseSVG writes the diagram as SVG. Every node is a group carrying
// class="node" and its id in data-id, so a page can wire clicks to it.
func WriteHasseSVG(w io.Writer, opts SnapshotOptions) error {
	d := opts.Diagram
	if d.Empty() {
		return ErrEmptyDiagram
	}
	width, height, ox, oy := canvasSize(d)

	canvas := svg.New(w)
	canvas.Start(width, height)
	canvas.Rect(0, 0, width, height, fmt.Sprintf("fill:%s", css(colorBackdrop)))
	canvas.Roundrect(12, 12, width-24, int(headerHeight-12), 10, 10, fmt.Sprintf("fill:%s", css(colorHeaderBG)))

	title, stats := summary(opts)
	canvas.Text(28, 38, title, fmt.Sprintf("fill:%s;font-size:15px;font-family:monospace;font-weight:bold", css(colorText)))
	canvas.Text(28, 58, stats, fmt.Sprintf("fill:%s;font-size:12px;font-family:monospace", css(colorSubtle)))

	for _, e := range d.Edges {
		if len(e.Points) < 2 {
			continue
		}
		xs := make([]int, len(e.Points))
		ys := make([]int, len(e.Points))
		for i, pt := range e.Points {
			xs[i] = int(math.Round(pt.X + ox))
			ys[i] = int(math.Round(pt.Y + oy))
		}
		canvas.Polyline(xs, ys, fmt.Sprintf("fill:none;stroke:%s;stroke-width:1.5", css(colorEdge)))
		if hx, hy, ok := arrowHead(e, ox, oy); ok {
			canvas.Polygon(
				[]int{int(hx[0]), int(hx[1]), int(hx[2])},
				[]int{int(hy[0]), int(hy[1]), int(hy[2])},
				fmt.Sprintf("fill:%s", css(colorEdgeArrow)),
			)
		}
	}

	for _, n := range d.Nodes {
		x := int(math.Round(n.X + ox))
		y := int(math.Round(n.Y + oy))
		nw, nh := int(n.Width), int(n.Height)
		canvas.Group(`class="node" data-id="`+html.EscapeString(n.ID)+`"`, `style="cursor:pointer"`)
		canvas.Title(n.ID)
		canvas.Roundrect(x, y, nw, nh, 6, 6,
			fmt.Sprintf("fill:%s;stroke:%s;stroke-width:1.2", css(nodeFill(opts, n.ID)), css(colorStroke)))
		canvas.Text(x+nw/2, y+nh/2+4, truncate(label(n), nw/7-1),
			fmt.Sprintf("fill:%s;font-size:12px;font-family:monospace;text-anchor:middle", css(colorText)))
		canvas.Gend()
	}

	canvas.End()
	return nil
}

// KindsOf indexes the kinds of every node of tree.
func KindsOf(tree *model.AssemblyNode) map[string]model.Kind {
	kinds := make(map[string]model.Kind)
	tree.Walk(func(n *model.AssemblyNode, _ int) bool {
		if _, ok := kinds[n.ID]; !ok {
			kinds[n.ID] = n.Kind
		}
		return true
	})
	return kinds
}

// --- helpers ---------------------------------------------------------------

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

func css(c color.RGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}
