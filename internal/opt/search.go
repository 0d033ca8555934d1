package opt

import (
	"math"
	"time"
)

type hood uint8

const (
	hoodRelocate hood = 1 << iota
	hoodSwap
	hoodTwoOpt
	hoodTwoOptStar

	allHoods = hoodRelocate | hoodSwap | hoodTwoOpt | hoodTwoOptStar
)

// transfer records a node leaving vehicle from for vehicle to.
type transfer struct{ node, from, to int }

type move struct {
	a, b   int
	ra, rb []int
	delta  int64
	moved  []transfer
}

func (m *move) intra() bool { return m.a == m.b }

func (e *Engine) apply(routes [][]int, m move) {
	routes[m.a] = m.ra
	if !m.intra() {
		routes[m.b] = m.rb
	}
}

// bestMove scans the neighbourhoods for the feasible move with the lowest
// cost change below limit that admit accepts. admit may be nil.
func (e *Engine) bestMove(routes [][]int, c arcCost, hoods hood, limit int64, admit func(*move) bool) (move, bool) {
	old := make([]int64, len(routes))
	for v, r := range routes {
		old[v] = e.routeCost(v, r, c)
	}
	var best move
	found := false
	bound := limit
	consider := func(m move) {
		if m.delta >= bound {
			return
		}
		if !e.feasible(m.a, m.ra) || (!m.intra() && !e.feasible(m.b, m.rb)) {
			return
		}
		if admit != nil && !admit(&m) {
			return
		}
		best, found, bound = m, true, m.delta
	}

	if hoods&hoodRelocate != 0 {
		e.relocateMoves(routes, old, c, consider)
	}
	if hoods&hoodSwap != 0 {
		e.swapMoves(routes, old, c, consider)
	}
	if hoods&hoodTwoOpt != 0 {
		e.twoOptMoves(routes, old, c, consider)
	}
	if hoods&hoodTwoOptStar != 0 {
		e.twoOptStarMoves(routes, old, c, consider)
	}
	return best, found
}

func (e *Engine) relocateMoves(routes [][]int, old []int64, c arcCost, consider func(move)) {
	for a, ra := range routes {
		for i, node := range ra {
			removed := removeAt(ra, i)
			costA := e.routeCost(a, removed, c)
			seenEmpty := map[int]bool{}
			for b, rb := range routes {
				if !e.inst.CanServe(b, node) {
					continue
				}
				if b != a && len(rb) == 0 {
					if seenEmpty[e.classOf[b]] {
						continue
					}
					seenEmpty[e.classOf[b]] = true
				}
				base := rb
				if b == a {
					base = removed
				}
				for j := 0; j <= len(base); j++ {
					if b == a && j == i {
						continue
					}
					nb := insertAt(base, node, j)
					m := move{a: a, b: b, moved: []transfer{{node, a, b}}}
					if b == a {
						m.ra = nb
						m.delta = e.routeCost(a, nb, c) - old[a]
					} else {
						m.ra, m.rb = removed, nb
						m.delta = costA + e.routeCost(b, nb, c) - old[a] - old[b]
					}
					consider(m)
				}
			}
		}
	}
}

func (e *Engine) swapMoves(routes [][]int, old []int64, c arcCost, consider func(move)) {
	for a, ra := range routes {
		for b := a; b < len(routes); b++ {
			rb := routes[b]
			for i := range ra {
				j0 := 0
				if a == b {
					j0 = i + 1
				}
				for j := j0; j < len(rb); j++ {
					if a == b {
						na := append([]int(nil), ra...)
						na[i], na[j] = na[j], na[i]
						consider(move{a: a, b: a, ra: na, delta: e.routeCost(a, na, c) - old[a]})
						continue
					}
					if !e.inst.CanServe(b, ra[i]) || !e.inst.CanServe(a, rb[j]) {
						continue
					}
					na := append([]int(nil), ra...)
					nb := append([]int(nil), rb...)
					na[i], nb[j] = rb[j], ra[i]
					consider(move{
						a: a, b: b, ra: na, rb: nb,
						delta: e.routeCost(a, na, c) + e.routeCost(b, nb, c) - old[a] - old[b],
						moved: []transfer{{ra[i], a, b}, {rb[j], b, a}},
					})
				}
			}
		}
	}
}

// twoOptMoves reverses a segment within one route.
func (e *Engine) twoOptMoves(routes [][]int, old []int64, c arcCost, consider func(move)) {
	for a, ra := range routes {
		for i := 0; i < len(ra)-1; i++ {
			for k := i + 1; k < len(ra); k++ {
				na := append([]int(nil), ra...)
				for x, y := i, k; x < y; x, y = x+1, y-1 {
					na[x], na[y] = na[y], na[x]
				}
				consider(move{a: a, b: a, ra: na, delta: e.routeCost(a, na, c) - old[a]})
			}
		}
	}
}

// twoOptStarMoves exchanges the tails of two routes.
func (e *Engine) twoOptStarMoves(routes [][]int, old []int64, c arcCost, consider func(move)) {
	for a, ra := range routes {
		if len(ra) == 0 {
			continue
		}
		seenEmpty := map[int]bool{}
		for b := range routes {
			if b == a {
				continue
			}
			rb := routes[b]
			if len(rb) == 0 {
				if seenEmpty[e.classOf[b]] {
					continue
				}
				seenEmpty[e.classOf[b]] = true
			} else if b < a {
				continue
			}
			for i := 0; i <= len(ra); i++ {
				for j := 0; j <= len(rb); j++ {
					if i == len(ra) && j == len(rb) {
						continue
					}
					if i == 0 && j == 0 && len(rb) > 0 {
						continue
					}
					na := append(append([]int(nil), ra[:i]...), rb[j:]...)
					nb := append(append([]int(nil), rb[:j]...), ra[i:]...)
					moved := make([]transfer, 0, len(ra)-i+len(rb)-j)
					for _, n := range ra[i:] {
						moved = append(moved, transfer{n, a, b})
					}
					for _, n := range rb[j:] {
						moved = append(moved, transfer{n, b, a})
					}
					consider(move{
						a: a, b: b, ra: na, rb: nb,
						delta: e.routeCost(a, na, c) + e.routeCost(b, nb, c) - old[a] - old[b],
						moved: moved,
					})
				}
			}
		}
	}
}

// limits bound a metaheuristic run.
type limits struct {
	deadline      time.Time
	solutionLimit int
	maxIterations int
	stall         int
}

func (e *Engine) limits(deadline time.Time) limits {
	return limits{
		deadline:      deadline,
		solutionLimit: e.params.SolutionLimit,
		maxIterations: e.params.MaxIterations,
		stall:         500 + 50*len(e.customers),
	}
}

// done reports why the run should stop, or "" to continue.
func (l limits) done(m *Metrics, sinceBest int) string {
	switch {
	case time.Now().After(l.deadline):
		return "time_limit"
	case l.solutionLimit > 0 && m.Improvements >= l.solutionLimit:
		return "solution_limit"
	case l.maxIterations > 0 && m.Iterations >= l.maxIterations:
		return "iteration_limit"
	case sinceBest >= l.stall:
		return "stalled"
	}
	return ""
}

// descend applies best-improvement moves under c until none improves.
func (e *Engine) descend(routes [][]int, c arcCost, hoods hood, lim limits, m *Metrics) {
	for !time.Now().After(lim.deadline) {
		mv, ok := e.bestMove(routes, c, hoods, 0, nil)
		if !ok {
			return
		}
		e.apply(routes, mv)
		if m != nil {
			m.Iterations++
			if lim.maxIterations > 0 && m.Iterations >= lim.maxIterations {
				return
			}
		}
	}
}

func (e *Engine) greedyDescent(sol solution, lim limits, m *Metrics) solution {
	cur := sol.clone()
	for {
		if why := lim.done(m, 0); why != "" {
			m.StoppedBy = why
			break
		}
		mv, ok := e.bestMove(cur.routes, e.dist, allHoods, 0, nil)
		if !ok {
			m.StoppedBy = "local_optimum"
			break
		}
		e.apply(cur.routes, mv)
		cur.cost += mv.delta
		m.Iterations++
		m.Improvements++
		m.BestCost = cur.cost
	}
	return cur
}

// guidedLocalSearch descends on arc costs augmented by penalties. At each
// local optimum the arcs of highest utility dist/(1+penalty) get penalized.
func (e *Engine) guidedLocalSearch(sol solution, lim limits, m *Metrics) solution {
	n := e.inst.Nodes()
	pen := make([][]int32, n)
	for i := range pen {
		pen[i] = make([]int32, n)
	}
	lambda := 0.1 * e.meanArc(sol.routes)
	aug := func(i, j int) int64 {
		return e.dist(i, j) + int64(lambda*float64(pen[i][j]))
	}

	best := sol.clone()
	cur := sol.clone()
	sinceBest := 0
	for {
		if why := lim.done(m, sinceBest); why != "" {
			m.StoppedBy = why
			break
		}
		m.Iterations++
		sinceBest++
		mv, ok := e.bestMove(cur.routes, aug, allHoods, 0, nil)
		if ok {
			e.apply(cur.routes, mv)
			cur.cost = e.totalCost(cur.routes, e.dist)
			if cur.cost < best.cost {
				best = cur.clone()
				m.Improvements++
				m.BestCost = best.cost
				sinceBest = 0
			}
			continue
		}
		if !e.penalize(cur.routes, pen) {
			m.StoppedBy = "local_optimum"
			break
		}
	}
	return best
}

// penalize bumps the maximum-utility arcs of routes and reports whether any
// arc was penalized.
func (e *Engine) penalize(routes [][]int, pen [][]int32) bool {
	type arc struct{ i, j int }
	var top []arc
	bestU := -1.0
	for v, r := range routes {
		if len(r) == 0 {
			continue
		}
		prev := e.inst.Start[v]
		for k := 0; k <= len(r); k++ {
			next := e.inst.End[v]
			if k < len(r) {
				next = r[k]
			}
			u := float64(e.dist(prev, next)) / float64(1+pen[prev][next])
			switch {
			case u > bestU:
				bestU, top = u, []arc{{prev, next}}
			case u == bestU:
				top = append(top, arc{prev, next})
			}
			prev = next
		}
	}
	for _, a := range top {
		pen[a.i][a.j]++
	}
	return len(top) > 0 && bestU > 0
}

func (e *Engine) meanArc(routes [][]int) float64 {
	var total int64
	arcs := 0
	for v, r := range routes {
		if len(r) == 0 {
			continue
		}
		prev := e.inst.Start[v]
		for _, n := range r {
			total += e.dist(prev, n)
			prev = n
			arcs++
		}
		total += e.dist(prev, e.inst.End[v])
		arcs++
	}
	if arcs == 0 {
		return 1
	}
	return math.Max(1, float64(total)/float64(arcs))
}

// tabuSearch takes the best admissible move each iteration, worsening or
// not. Moving a node back into a vehicle it left is tabu for a few
// iterations unless it yields a new best. Intra-route moves must improve.
func (e *Engine) tabuSearch(sol solution, lim limits, m *Metrics) solution {
	type attr struct{ node, vehicle int }
	tabu := map[attr]int{}
	tenure := 7 + len(e.customers)/10

	best := sol.clone()
	cur := sol.clone()
	sinceBest := 0
	for {
		if why := lim.done(m, sinceBest); why != "" {
			m.StoppedBy = why
			break
		}
		m.Iterations++
		sinceBest++
		admit := func(mv *move) bool {
			if cur.cost+mv.delta < best.cost {
				return true
			}
			if mv.intra() {
				return mv.delta < 0
			}
			for _, t := range mv.moved {
				if tabu[attr{t.node, t.to}] > m.Iterations {
					return false
				}
			}
			return true
		}
		mv, ok := e.bestMove(cur.routes, e.dist, allHoods, math.MaxInt64, admit)
		if !ok {
			m.StoppedBy = "no_admissible_move"
			break
		}
		e.apply(cur.routes, mv)
		cur.cost += mv.delta
		if mv.delta > 0 {
			m.AcceptedWorse++
		}
		for _, t := range mv.moved {
			tabu[attr{t.node, t.from}] = m.Iterations + tenure + e.rng.Intn(3)
		}
		if cur.cost < best.cost {
			best = cur.clone()
			m.Improvements++
			m.BestCost = best.cost
			sinceBest = 0
		}
	}
	return best
}
