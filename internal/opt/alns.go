package opt

import (
	"math"
	"math/rand"
	"sort"

	"fleetroute/internal/model"
)

// annealing is ruin-and-recreate under Metropolis acceptance. Removal
// (random, related) and insertion (greedy, regret-2) operators are picked by
// roulette over adaptive weights.
func (e *Engine) annealing(sol solution, lim limits, m *Metrics) solution {
	curr := sol.clone()
	best := sol.clone()
	remW := [2]float64{1, 1}
	insW := [2]float64{1, 1}
	temp := math.Max(1, 0.01*float64(sol.cost))
	const cool = 0.995
	const snapshotEvery = 50

	maxRemove := len(e.customers) / 4
	if maxRemove < 1 {
		maxRemove = 1
	}
	if maxRemove > 15 {
		maxRemove = 15
	}

	sinceBest := 0
	for {
		if why := lim.done(m, sinceBest); why != "" {
			m.StoppedBy = why
			break
		}
		m.Iterations++
		sinceBest++
		k := 1 + e.rng.Intn(maxRemove)
		op := selectOp(remW[:], e.rng)
		m.RemovalSelects[op]++
		ip := selectOp(insW[:], e.rng)
		m.InsertSelects[ip]++

		var removed []int
		switch op {
		case 0:
			removed = pickRandomNodes(curr.routes, k, e.rng)
		case 1:
			removed = e.relatedRemoval(curr.routes, k)
		}
		cand := curr.clone()
		cand.routes = withoutNodes(cand.routes, removed)
		var rest []int
		switch ip {
		case 0:
			rest = e.greedyInsert(cand.routes, removed, e.dist)
		case 1:
			rest = e.regretInsert(cand.routes, removed, e.dist)
		}

		accepted := false
		if len(rest) == 0 {
			e.descend(cand.routes, e.dist, hoodTwoOpt, lim, nil)
			cand.cost = e.totalCost(cand.routes, e.dist)
			delta := float64(cand.cost - curr.cost)
			if delta < 0 || e.rng.Float64() < math.Exp(-delta/(temp+1e-9)) {
				accepted = true
				if cand.cost >= curr.cost {
					m.AcceptedWorse++
				}
				curr = cand
				if curr.cost < best.cost {
					best = curr.clone()
					remW[op] += 0.1
					insW[ip] += 0.1
					m.Improvements++
					m.BestCost = best.cost
					sinceBest = 0
				} else {
					remW[op] += 0.01
					insW[ip] += 0.01
				}
			}
		}
		if !accepted {
			remW[op] = math.Max(0.01, remW[op]*0.999)
			insW[ip] = math.Max(0.01, insW[ip]*0.999)
		}
		temp *= cool
		if m.Iterations%snapshotEvery == 0 {
			m.Snapshots = append(m.Snapshots, WeightSnapshot{Iteration: m.Iterations, Removal: remW, Insertion: insW})
		}
	}
	m.FinalRemovalWeights = remW
	m.FinalInsertionWeights = insW
	return best
}

func pickRandomNodes(routes [][]int, k int, rng *rand.Rand) []int {
	var all []int
	for _, r := range routes {
		all = append(all, r...)
	}
	var removed []int
	for i := 0; i < k && len(all) > 0; i++ {
		j := rng.Intn(len(all))
		removed = append(removed, all[j])
		all = append(all[:j], all[j+1:]...)
	}
	return removed
}

// relatedRemoval picks a random seed node and the k-1 nodes most related to
// it: close by, and with overlapping time windows when those are on.
func (e *Engine) relatedRemoval(routes [][]int, k int) []int {
	var assigned []int
	for _, r := range routes {
		assigned = append(assigned, r...)
	}
	if len(assigned) == 0 {
		return nil
	}
	seed := assigned[e.rng.Intn(len(assigned))]
	type scored struct {
		node  int
		score float64
	}
	rel := make([]scored, 0, len(assigned))
	for _, n := range assigned {
		if n == seed {
			continue
		}
		s := float64(e.dist(seed, n) + e.dist(n, seed))
		if e.inst.TimeWindows {
			s -= 1000 * float64(e.windowOverlap(seed, n))
		}
		rel = append(rel, scored{n, s})
	}
	sort.SliceStable(rel, func(a, b int) bool { return rel[a].score < rel[b].score })
	removed := []int{seed}
	for i := 0; i < len(rel) && len(removed) < k; i++ {
		removed = append(removed, rel[i].node)
	}
	return removed
}

// windowOverlap is the overlap in minutes of two plain windows.
func (e *Engine) windowOverlap(a, b int) int {
	wa, wb := e.inst.Windows[a], e.inst.Windows[b]
	if wa.Kind != model.ConstraintWindow || wb.Kind != model.ConstraintWindow {
		return 0
	}
	start, end := max(wa.Start, wb.Start), min(wa.End, wb.End)
	if end < start {
		return 0
	}
	return end - start
}

func withoutNodes(routes [][]int, removed []int) [][]int {
	if len(removed) == 0 {
		return routes
	}
	rm := make(map[int]bool, len(removed))
	for _, n := range removed {
		rm[n] = true
	}
	out := make([][]int, len(routes))
	for v, r := range routes {
		out[v] = make([]int, 0, len(r))
		for _, n := range r {
			if !rm[n] {
				out[v] = append(out[v], n)
			}
		}
	}
	return out
}

func selectOp(weights []float64, rng *rand.Rand) int {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		return 0
	}
	r := rng.Float64() * sum
	acc := 0.0
	for i, w := range weights {
		acc += w
		if r <= acc {
			return i
		}
	}
	return len(weights) - 1
}
