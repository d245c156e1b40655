package layout

import (
	"sort"

	"github.com/vanderheijden86/cadview/pkg/metrics"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Defaults match the dagre settings the diagram was originally tuned with.
const (
	DefaultNodeWidth  = 172.0
	DefaultNodeHeight = 36.0
	DefaultNodeSep    = 50.0
	DefaultRankSep    = 50.0
	DefaultEdgeSep    = 10.0
	DefaultSweeps     = 24

	refinePasses = 8
)

// Options configures a Layered layouter.
type Options struct {
	NodeSep    float64 // gap between adjacent boxes in a rank
	RankSep    float64 // gap between ranks
	EdgeSep    float64 // gap next to edge bend points
	NodeWidth  float64 // default box width
	NodeHeight float64 // default box height
	Direction  Direction
	Sweeps     int // crossing-reduction iterations
}

// DefaultOptions returns the options used by NewLayered with no arguments.
func DefaultOptions() Options {
	return Options{
		NodeSep:    DefaultNodeSep,
		RankSep:    DefaultRankSep,
		EdgeSep:    DefaultEdgeSep,
		NodeWidth:  DefaultNodeWidth,
		NodeHeight: DefaultNodeHeight,
		Direction:  BottomToTop,
		Sweeps:     DefaultSweeps,
	}
}

// Option configures a Layered layouter.
type Option func(*Options)

// WithNodeSep sets the horizontal gap between boxes in a rank.
func WithNodeSep(v float64) Option {
	return func(o *Options) { o.NodeSep = v }
}

// WithRankSep sets the gap between ranks.
func WithRankSep(v float64) Option {
	return func(o *Options) { o.RankSep = v }
}

// WithNodeSize sets the size used for nodes that do not carry one.
func WithNodeSize(w, h float64) Option {
	return func(o *Options) {
		o.NodeWidth = w
		o.NodeHeight = h
	}
}

// WithDirection sets the rank direction.
func WithDirection(d Direction) Option {
	return func(o *Options) { o.Direction = d }
}

// WithSweeps sets the number of crossing-reduction iterations.
func WithSweeps(n int) Option {
	return func(o *Options) { o.Sweeps = n }
}

func (o *Options) sanitize() {
	d := DefaultOptions()
	if o.NodeSep < 0 {
		o.NodeSep = d.NodeSep
	}
	if o.RankSep < 0 {
		o.RankSep = d.RankSep
	}
	if o.EdgeSep < 0 {
		o.EdgeSep = d.EdgeSep
	}
	if o.NodeWidth <= 0 {
		o.NodeWidth = d.NodeWidth
	}
	if o.NodeHeight <= 0 {
		o.NodeHeight = d.NodeHeight
	}
	if o.Direction != TopToBottom {
		o.Direction = BottomToTop
	}
	if o.Sweeps < 0 {
		o.Sweeps = 0
	}
}

// Layered is a Sugiyama-style layered layouter: cycle breaking, longest-path
// ranking, virtual nodes for long edges, barycenter crossing reduction, and
// separation-preserving coordinate refinement. It is deterministic and safe
// for concurrent use.
type Layered struct {
	opts Options
}

// NewLayered returns a layered layouter with defaults overridden by opts.
func NewLayered(opts ...Option) *Layered {
	o := DefaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	o.sanitize()
	return &Layered{opts: o}
}

// Options returns the effective options.
func (l *Layered) Options() Options {
	return l.opts
}

// lnode is a node of the working graph. Real nodes share their index with
// Result.Nodes; virtual nodes (bend points of long edges) follow them.
type lnode struct {
	real  bool
	w, h  float64
	rank  int
	order int
	x, y  float64
	up    []int // neighbours in rank+1
	down  []int // neighbours in rank-1
}

type keptEdge struct {
	edge     Edge
	src, dst int
}

// Layout implements Layouter.
func (l *Layered) Layout(nodes []Node, edges []Edge) *Result {
	defer metrics.Timer(metrics.Layout)()
	res := &Result{Acyclic: true, index: make(map[string]int, len(nodes))}

	var ln []lnode
	for _, n := range nodes {
		if n.ID == "" {
			continue
		}
		if _, dup := res.index[n.ID]; dup {
			continue
		}
		w, h := n.Width, n.Height
		if w <= 0 {
			w = l.opts.NodeWidth
		}
		if h <= 0 {
			h = l.opts.NodeHeight
		}
		res.index[n.ID] = len(res.Nodes)
		res.Nodes = append(res.Nodes, Position{ID: n.ID, Width: w, Height: h})
		ln = append(ln, lnode{real: true, w: w, h: h})
	}
	realCount := len(ln)
	if realCount == 0 {
		for _, e := range edges {
			res.Dropped = append(res.Dropped, DroppedEdge{Edge: e, Reason: ReasonMissingSource})
		}
		return res
	}

	kept := l.filterEdges(res, edges)
	res.Acyclic = isAcyclic(realCount, kept)
	reversed := breakCycles(realCount, kept)
	assignRanks(ln, kept, reversed)

	chains := make([][]int, len(kept))
	for i, k := range kept {
		s, t := k.src, k.dst
		if reversed[i] {
			s, t = t, s
		}
		chain := []int{s}
		for r := ln[s].rank + 1; r < ln[t].rank; r++ {
			ln = append(ln, lnode{rank: r})
			chain = append(chain, len(ln)-1)
		}
		chain = append(chain, t)
		for j := 0; j+1 < len(chain); j++ {
			a, b := chain[j], chain[j+1]
			ln[a].up = append(ln[a].up, b)
			ln[b].down = append(ln[b].down, a)
		}
		chains[i] = chain
	}

	maxRank := 0
	for i := range ln {
		if ln[i].rank > maxRank {
			maxRank = ln[i].rank
		}
	}
	layers := make([][]int, maxRank+1)
	for i := range ln {
		layers[ln[i].rank] = append(layers[ln[i].rank], i)
	}
	setOrders(ln, layers)

	l.order(ln, layers)
	l.placeX(ln, layers)
	height := l.placeY(ln, layers)

	width := 0.0
	for i := range ln {
		if right := ln[i].x + ln[i].w/2; right > width {
			width = right
		}
	}

	for i := 0; i < realCount; i++ {
		n := ln[i]
		p := &res.Nodes[i]
		p.X = n.x - n.w/2
		p.Y = n.y - n.h/2
		p.Rank = n.rank
		p.Order = n.order
	}
	for i, k := range kept {
		pts := routeChain(ln, chains[i])
		if reversed[i] {
			for a, b := 0, len(pts)-1; a < b; a, b = a+1, b-1 {
				pts[a], pts[b] = pts[b], pts[a]
			}
		}
		res.Edges = append(res.Edges, Path{Source: k.edge.Source, Target: k.edge.Target, Points: pts})
	}

	res.Ranks = len(layers)
	res.Width = width
	res.Height = height
	return res
}

func (l *Layered) filterEdges(res *Result, edges []Edge) []keptEdge {
	seen := make(map[[2]int]bool, len(edges))
	kept := make([]keptEdge, 0, len(edges))
	for _, e := range edges {
		s, okS := res.index[e.Source]
		t, okT := res.index[e.Target]
		switch {
		case !okS:
			res.Dropped = append(res.Dropped, DroppedEdge{Edge: e, Reason: ReasonMissingSource})
		case !okT:
			res.Dropped = append(res.Dropped, DroppedEdge{Edge: e, Reason: ReasonMissingTarget})
		case s == t:
			res.Dropped = append(res.Dropped, DroppedEdge{Edge: e, Reason: ReasonSelfLoop})
		case seen[[2]int{s, t}]:
			res.Dropped = append(res.Dropped, DroppedEdge{Edge: e, Reason: ReasonDuplicate})
		default:
			seen[[2]int{s, t}] = true
			kept = append(kept, keptEdge{edge: e, src: s, dst: t})
		}
	}
	return kept
}

// isAcyclic reports whether the kept edges form a DAG.
func isAcyclic(n int, kept []keptEdge) bool {
	g := simple.NewDirectedGraph()
	for i := 0; i < n; i++ {
		g.AddNode(simple.Node(int64(i)))
	}
	for _, k := range kept {
		g.SetEdge(g.NewEdge(simple.Node(int64(k.src)), simple.Node(int64(k.dst))))
	}
	for _, scc := range topo.TarjanSCC(g) {
		if len(scc) > 1 {
			return false
		}
	}
	return true
}

// breakCycles runs a DFS in node insertion order, following edges in input
// order, and marks every back edge for reversal.
func breakCycles(n int, kept []keptEdge) []bool {
	out := make([][]int, n)
	for i, k := range kept {
		out[k.src] = append(out[k.src], i)
	}
	reversed := make([]bool, len(kept))
	state := make([]uint8, n) // 0 new, 1 on stack, 2 done

	var visit func(v int)
	visit = func(v int) {
		state[v] = 1
		for _, ei := range out[v] {
			w := kept[ei].dst
			switch state[w] {
			case 0:
				visit(w)
			case 1:
				reversed[ei] = true
			}
		}
		state[v] = 2
	}
	for v := 0; v < n; v++ {
		if state[v] == 0 {
			visit(v)
		}
	}
	return reversed
}

// assignRanks performs longest-path ranking from the sources, then pulls
// each source up to sit directly below its lowest successor so leaves hang
// next to their container instead of all collecting on rank 0.
func assignRanks(ln []lnode, kept []keptEdge, reversed []bool) {
	g := simple.NewDirectedGraph()
	for i := range ln {
		g.AddNode(simple.Node(int64(i)))
	}
	for i, k := range kept {
		s, t := k.src, k.dst
		if reversed[i] {
			s, t = t, s
		}
		g.SetEdge(g.NewEdge(simple.Node(int64(s)), simple.Node(int64(t))))
	}

	sorted, err := topo.Sort(g)
	if err != nil {
		// breakCycles guarantees a DAG; leave everything on rank 0 if not.
		return
	}
	for _, n := range sorted {
		r := ln[n.ID()].rank
		for it := g.From(n.ID()); it.Next(); {
			w := it.Node().ID()
			if ln[w].rank < r+1 {
				ln[w].rank = r + 1
			}
		}
	}

	for i := range ln {
		id := int64(i)
		if g.To(id).Len() != 0 {
			continue
		}
		succ := g.From(id)
		if succ.Len() == 0 {
			continue
		}
		lowest := -1
		for succ.Next() {
			r := ln[succ.Node().ID()].rank
			if lowest < 0 || r < lowest {
				lowest = r
			}
		}
		ln[i].rank = lowest - 1
	}

	minRank := ln[0].rank
	for i := range ln {
		if ln[i].rank < minRank {
			minRank = ln[i].rank
		}
	}
	for i := range ln {
		ln[i].rank -= minRank
	}
}

func setOrders(ln []lnode, layers [][]int) {
	for _, layer := range layers {
		for i, n := range layer {
			ln[n].order = i
		}
	}
}

func copyLayers(layers [][]int) [][]int {
	out := make([][]int, len(layers))
	for i, layer := range layers {
		out[i] = append([]int(nil), layer...)
	}
	return out
}

// order reduces crossings with alternating barycenter sweeps and keeps the
// best ordering seen.
func (l *Layered) order(ln []lnode, layers [][]int) {
	best := copyLayers(layers)
	bestCross := crossings(ln, layers)

	for iter := 0; iter < l.opts.Sweeps && bestCross > 0; iter++ {
		if iter%2 == 0 {
			for r := 1; r < len(layers); r++ {
				reorder(ln, layers[r], func(n int) []int { return ln[n].down })
			}
		} else {
			for r := len(layers) - 2; r >= 0; r-- {
				reorder(ln, layers[r], func(n int) []int { return ln[n].up })
			}
		}
		if c := crossings(ln, layers); c < bestCross {
			bestCross = c
			best = copyLayers(layers)
		}
	}

	copy(layers, best)
	setOrders(ln, layers)
}

func reorder(ln []lnode, layer []int, neighbours func(int) []int) {
	bary := make(map[int]float64, len(layer))
	for _, n := range layer {
		adj := neighbours(n)
		if len(adj) == 0 {
			bary[n] = float64(ln[n].order)
			continue
		}
		sum := 0.0
		for _, a := range adj {
			sum += float64(ln[a].order)
		}
		bary[n] = sum / float64(len(adj))
	}
	sort.SliceStable(layer, func(i, j int) bool {
		return bary[layer[i]] < bary[layer[j]]
	})
	for i, n := range layer {
		ln[n].order = i
	}
}

// crossings counts segment crossings between adjacent ranks. Two segments
// cross when their end orders are inverted, so each rank pair is an
// inversion count over a Fenwick tree: O(E log V) instead of O(E²).
func crossings(ln []lnode, layers [][]int) int {
	total := 0
	for r := 0; r+1 < len(layers); r++ {
		type seg struct{ a, b int }
		var segs []seg
		width := 0
		for _, n := range layers[r] {
			for _, u := range ln[n].up {
				segs = append(segs, seg{ln[n].order, ln[u].order})
				width = max(width, ln[u].order+1)
			}
		}
		sort.Slice(segs, func(i, j int) bool {
			if segs[i].a != segs[j].a {
				return segs[i].a < segs[j].a
			}
			return segs[i].b < segs[j].b
		})
		tree := make([]int, width+1)
		for seen, s := range segs {
			// Earlier segments with a strictly greater far end cross this one.
			total += seen - fenwickSum(tree, s.b+1)
			for i := s.b + 1; i <= width; i += i & -i {
				tree[i]++
			}
		}
	}
	return total
}

// fenwickSum returns how many inserted values are below n.
func fenwickSum(tree []int, n int) int {
	sum := 0
	for i := n; i > 0; i -= i & -i {
		sum += tree[i]
	}
	return sum
}

func (l *Layered) sep(a, b lnode) float64 {
	if a.real && b.real {
		return l.opts.NodeSep
	}
	return l.opts.EdgeSep
}

// minGap is the required distance between the centers of two neighbours.
func (l *Layered) minGap(a, b lnode) float64 {
	return a.w/2 + l.sep(a, b) + b.w/2
}

// placeX packs each rank left to right, centers it on the widest rank, then
// nudges nodes toward the mean x of their neighbours without reordering or
// breaking the minimum separation.
func (l *Layered) placeX(ln []lnode, layers [][]int) {
	widths := make([]float64, len(layers))
	maxWidth := 0.0
	for r, layer := range layers {
		x := 0.0
		for i, n := range layer {
			if i == 0 {
				x = ln[n].w / 2
			} else {
				x += l.minGap(ln[layer[i-1]], ln[n])
			}
			ln[n].x = x
		}
		if len(layer) > 0 {
			last := ln[layer[len(layer)-1]]
			widths[r] = last.x + last.w/2
		}
		if widths[r] > maxWidth {
			maxWidth = widths[r]
		}
	}
	for r, layer := range layers {
		shift := (maxWidth - widths[r]) / 2
		for _, n := range layer {
			ln[n].x += shift
		}
	}

	for pass := 0; pass < refinePasses; pass++ {
		if pass%2 == 0 {
			for r := range layers {
				l.refineLayer(ln, layers[r])
			}
		} else {
			for r := len(layers) - 1; r >= 0; r-- {
				l.refineLayer(ln, layers[r])
			}
		}
	}

	minLeft := 0.0
	first := true
	for i := range ln {
		left := ln[i].x - ln[i].w/2
		if first || left < minLeft {
			minLeft = left
			first = false
		}
	}
	for i := range ln {
		ln[i].x -= minLeft
	}
}

func (l *Layered) refineLayer(ln []lnode, layer []int) {
	k := len(layer)
	if k == 0 {
		return
	}
	desired := make([]float64, k)
	for i, n := range layer {
		adj := append(append([]int(nil), ln[n].up...), ln[n].down...)
		if len(adj) == 0 {
			desired[i] = ln[n].x
			continue
		}
		sum := 0.0
		for _, a := range adj {
			sum += ln[a].x
		}
		desired[i] = sum / float64(len(adj))
	}

	// Two feasible placements, one pushed right and one pushed left; their
	// average is feasible too.
	left := make([]float64, k)
	for i := range layer {
		left[i] = desired[i]
		if i > 0 {
			if lo := left[i-1] + l.minGap(ln[layer[i-1]], ln[layer[i]]); left[i] < lo {
				left[i] = lo
			}
		}
	}
	right := make([]float64, k)
	for i := k - 1; i >= 0; i-- {
		right[i] = desired[i]
		if i < k-1 {
			if hi := right[i+1] - l.minGap(ln[layer[i]], ln[layer[i+1]]); right[i] > hi {
				right[i] = hi
			}
		}
	}
	for i, n := range layer {
		ln[n].x = (left[i] + right[i]) / 2
	}
}

// placeY stacks ranks and returns the total drawing height.
func (l *Layered) placeY(ln []lnode, layers [][]int) float64 {
	heights := make([]float64, len(layers))
	for r, layer := range layers {
		for _, n := range layer {
			if ln[n].h > heights[r] {
				heights[r] = ln[n].h
			}
		}
	}

	centers := make([]float64, len(layers))
	cursor := 0.0
	for r := range layers {
		centers[r] = cursor + heights[r]/2
		cursor += heights[r]
		if r < len(layers)-1 {
			cursor += l.opts.RankSep
		}
	}
	total := cursor

	for i := range ln {
		y := centers[ln[i].rank]
		if l.opts.Direction == BottomToTop {
			y = total - y
		}
		ln[i].y = y
	}
	return total
}

// routeChain turns a chain of working nodes into a polyline that starts and
// ends on the facing borders of the end boxes.
func routeChain(ln []lnode, chain []int) []Point {
	pts := make([]Point, len(chain))
	for i, n := range chain {
		pts[i] = Point{X: ln[n].x, Y: ln[n].y}
	}
	if len(chain) < 2 {
		return pts
	}
	first, last := ln[chain[0]], ln[chain[len(chain)-1]]
	if last.y < first.y {
		pts[0].Y -= first.h / 2
		pts[len(pts)-1].Y += last.h / 2
	} else {
		pts[0].Y += first.h / 2
		pts[len(pts)-1].Y -= last.h / 2
	}
	return pts
}
