package ui

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/vanderheijden86/cadview/pkg/hasse"
	"github.com/vanderheijden86/cadview/pkg/layout"
)

// cellClass tags what a grid cell shows so rows can be styled in runs.
type cellClass uint8

const (
	cellEmpty cellClass = iota
	cellEdge
	cellArrow
	cellNode
	cellCursor
	cellSelected
)

// diagramGrid is a character rasterization of a laid-out diagram.
type diagramGrid struct {
	cols, rows int
	ch         []rune
	class      []cellClass
}

func newDiagramGrid(cols, rows int) *diagramGrid {
	g := &diagramGrid{
		cols:  cols,
		rows:  rows,
		ch:    make([]rune, cols*rows),
		class: make([]cellClass, cols*rows),
	}
	for i := range g.ch {
		g.ch[i] = ' '
	}
	return g
}

func (g *diagramGrid) set(x, y int, r rune, c cellClass) {
	if x < 0 || y < 0 || x >= g.cols || y >= g.rows {
		return
	}
	i := y*g.cols + x
	// Nodes sit on top of edges; edges never overwrite nodes.
	if g.class[i] >= cellNode && c < cellNode {
		return
	}
	g.ch[i] = r
	g.class[i] = c
}

// Line returns row y as plain text.
func (g *diagramGrid) Line(y int) string {
	return string(g.ch[y*g.cols : (y+1)*g.cols])
}

// String returns the plain grid, rows joined by newlines.
func (g *diagramGrid) String() string {
	lines := make([]string, g.rows)
	for y := range lines {
		lines[y] = strings.TrimRight(g.Line(y), " ")
	}
	return strings.Join(lines, "\n")
}

// scaler maps layout coordinates onto the grid.
type scaler struct {
	sx, sy float64
}

func newScaler(d *hasse.Diagram, cols, rows int) scaler {
	w := math.Max(d.Width, 1)
	h := math.Max(d.Height, 1)
	return scaler{sx: float64(cols-1) / w, sy: float64(rows-1) / h}
}

func (s scaler) x(v float64) int { return int(math.Round(v * s.sx)) }
func (s scaler) y(v float64) int { return int(math.Round(v * s.sy)) }

// rasterizeDiagram draws edges first and node labels over them. cursorID and
// selectedID decide the class of the matching node cells.
func rasterizeDiagram(d *hasse.Diagram, cols, rows int, cursorID, selectedID string) *diagramGrid {
	g := newDiagramGrid(max(cols, 1), max(rows, 1))
	if d.Empty() {
		return g
	}
	s := newScaler(d, g.cols, g.rows)

	for _, e := range d.Edges {
		drawPath(g, s, e)
	}
	for _, n := range d.Nodes {
		class := cellNode
		switch n.ID {
		case selectedID:
			class = cellSelected
		case cursorID:
			class = cellCursor
		}
		label := n.Label
		if label == "" {
			label = n.ID
		}
		x0 := s.x(n.X)
		x1 := s.x(n.X + n.Width)
		cy := s.y(n.Y + n.Height/2)
		width := max(x1-x0+1, 3)
		text := "[" + runewidth.Truncate(label, width-2, "…") + "]"
		cx := (x0 + x1) / 2
		start := cx - runewidth.StringWidth(text)/2
		start = max(0, min(start, g.cols-runewidth.StringWidth(text)))
		col := start
		for _, r := range text {
			g.set(col, cy, r, class)
			col += max(runewidth.RuneWidth(r), 1)
		}
	}
	return g
}

func drawPath(g *diagramGrid, s scaler, p layout.Path) {
	if len(p.Points) < 2 {
		return
	}
	for i := 1; i < len(p.Points); i++ {
		a, b := p.Points[i-1], p.Points[i]
		drawSegment(g, s.x(a.X), s.y(a.Y), s.x(b.X), s.y(b.Y))
	}
	last, prev := p.Points[len(p.Points)-1], p.Points[len(p.Points)-2]
	head := '▼'
	if last.Y < prev.Y {
		head = '▲'
	}
	g.set(s.x(last.X), s.y(last.Y), head, cellArrow)
}

// drawSegment is Bresenham over grid cells.
func drawSegment(g *diagramGrid, x0, y0, x1, y1 int) {
	r := '·'
	switch {
	case x0 == x1:
		r = '│'
	case y0 == y1:
		r = '─'
	}
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		g.set(x0, y0, r, cellEdge)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// DiagramPane is the Hasse diagram modal: a rasterized diagram and a node
// cursor in reading order. Enter on the cursor node selects it.
type DiagramPane struct {
	theme   Theme
	diagram *hasse.Diagram
	order   []string
	cursor  int
	width   int
	height  int
}

// NewDiagramPane creates an empty pane.
func NewDiagramPane(theme Theme) DiagramPane {
	return DiagramPane{theme: theme}
}

// SetDiagram swaps the diagram. The cursor stays on the same id when the
// new diagram still has it.
func (p *DiagramPane) SetDiagram(d *hasse.Diagram) {
	prev := p.CursorID()
	p.diagram = d
	p.order = p.order[:0]
	if d == nil {
		p.cursor = 0
		return
	}
	nodes := append(d.Nodes[:0:0], d.Nodes...)
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Y != nodes[j].Y {
			return nodes[i].Y < nodes[j].Y
		}
		return nodes[i].X < nodes[j].X
	})
	for _, n := range nodes {
		p.order = append(p.order, n.ID)
	}
	p.cursor = 0
	for i, id := range p.order {
		if id == prev {
			p.cursor = i
			break
		}
	}
}

// Diagram returns the diagram being shown.
func (p *DiagramPane) Diagram() *hasse.Diagram {
	return p.diagram
}

// SetSize sets the inner dimensions.
func (p *DiagramPane) SetSize(width, height int) {
	p.width = width
	p.height = height
}

// CursorID returns the id under the node cursor, or "".
func (p *DiagramPane) CursorID() string {
	if p.cursor >= 0 && p.cursor < len(p.order) {
		return p.order[p.cursor]
	}
	return ""
}

// Focus moves the cursor to id.
func (p *DiagramPane) Focus(id string) bool {
	for i, o := range p.order {
		if o == id {
			p.cursor = i
			return true
		}
	}
	return false
}

func (p *DiagramPane) Next() {
	if len(p.order) > 0 {
		p.cursor = (p.cursor + 1) % len(p.order)
	}
}

func (p *DiagramPane) Prev() {
	if len(p.order) > 0 {
		p.cursor = (p.cursor - 1 + len(p.order)) % len(p.order)
	}
}

// View renders the modal body.
func (p *DiagramPane) View(state hasse.State, loadErr error, selectedID string, hasSelection bool) string {
	r := p.theme.Renderer
	width := max(p.width, 20)
	height := max(p.height, 6)

	title := p.theme.PrimaryBold.Render("Containment diagram")
	var status string
	switch state {
	case hasse.StateLoading:
		status = p.theme.MutedText.Render("loading…")
	case hasse.StateError:
		status = p.theme.ErrorText.Render(fmt.Sprintf("fetch failed: %v", loadErr))
	case hasse.StateReady:
		if p.diagram != nil {
			status = p.theme.MutedText.Render(fmt.Sprintf("%d nodes · %d edges · %d ranks", len(p.diagram.Nodes), len(p.diagram.Edges), p.diagram.Ranks))
		}
	}
	header := title + "  " + status

	// header, blank line, footer
	bodyRows := height - 3
	if p.diagram.Empty() {
		msg := "No diagram data."
		if state == hasse.StateLoading || state == hasse.StateIdle {
			msg = "Fetching diagram…"
		}
		body := r.NewStyle().Width(width).Height(bodyRows).Align(lipgloss.Center, lipgloss.Center).
			Render(p.theme.MutedText.Render(msg))
		return lipgloss.JoinVertical(lipgloss.Left, header, "", body, p.footer())
	}

	sel := ""
	if hasSelection {
		sel = selectedID
	}
	g := rasterizeDiagram(p.diagram, width, bodyRows, p.CursorID(), sel)
	return lipgloss.JoinVertical(lipgloss.Left, header, "", p.styleGrid(g), p.footer())
}

func (p *DiagramPane) footer() string {
	cur := p.CursorID()
	if cur == "" {
		return p.theme.MutedText.Render("esc close")
	}
	return p.theme.MutedText.Render(fmt.Sprintf("tab/j/k move · enter select %s · r reload · esc close", cur))
}

func (p *DiagramPane) styleGrid(g *diagramGrid) string {
	r := p.theme.Renderer
	styles := map[cellClass]lipgloss.Style{
		cellEmpty:    r.NewStyle(),
		cellEdge:     p.theme.MutedText,
		cellArrow:    p.theme.SecondaryText,
		cellNode:     p.theme.Base,
		cellCursor:   p.theme.Selected,
		cellSelected: p.theme.EmphasisText,
	}
	var sb strings.Builder
	for y := 0; y < g.rows; y++ {
		row := g.ch[y*g.cols : (y+1)*g.cols]
		cls := g.class[y*g.cols : (y+1)*g.cols]
		start := 0
		for x := 1; x <= len(row); x++ {
			if x == len(row) || cls[x] != cls[start] {
				sb.WriteString(styles[cls[start]].Render(string(row[start:x])))
				start = x
			}
		}
		if y < g.rows-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
