package opt

import (
	"math"
	"sort"
	"time"

	"fleetroute/internal/model"
)

// firstSolution builds a complete assignment with the configured strategy,
// falling back to the other strategies when it leaves customers unplaced.
func (e *Engine) firstSolution(deadline time.Time) (solution, model.SearchStrategy, bool) {
	if e.params.Strategy == model.StrategyAutomatic {
		return e.automatic(deadline)
	}
	order := []model.SearchStrategy{e.params.Strategy}
	for _, s := range constructive() {
		if s != e.params.Strategy {
			order = append(order, s)
		}
	}
	for _, s := range order {
		if time.Now().After(deadline) {
			break
		}
		if sol, ok := e.construct(s); ok {
			return sol, s, true
		}
	}
	return solution{}, "", false
}

func constructive() []model.SearchStrategy {
	return []model.SearchStrategy{
		model.StrategySavings,
		model.StrategyPathCheapestArc,
		model.StrategyParallelCheapestInsertion,
		model.StrategyLocalCheapestInsertion,
	}
}

// automatic keeps the cheapest complete construction.
func (e *Engine) automatic(deadline time.Time) (solution, model.SearchStrategy, bool) {
	var best solution
	var used model.SearchStrategy
	found := false
	for _, s := range constructive() {
		if found && time.Now().After(deadline) {
			break
		}
		sol, ok := e.construct(s)
		if ok && (!found || sol.cost < best.cost) {
			best, used, found = sol, s, true
		}
	}
	return best, used, found
}

func (e *Engine) construct(s model.SearchStrategy) (solution, bool) {
	var routes [][]int
	var unplaced []int
	switch s {
	case model.StrategyPathCheapestArc:
		routes, unplaced = e.pathCheapestArc()
	case model.StrategyParallelCheapestInsertion:
		routes = e.emptyRoutes()
		unplaced = e.greedyInsert(routes, append([]int(nil), e.customers...), e.dist)
	case model.StrategyLocalCheapestInsertion:
		routes, unplaced = e.localCheapestInsertion()
	default:
		routes, unplaced = e.savings()
	}
	if len(unplaced) > 0 {
		return solution{}, false
	}
	return e.newSolution(routes), true
}

func (e *Engine) emptyRoutes() [][]int {
	routes := make([][]int, e.inst.Vehicles())
	for i := range routes {
		routes[i] = []int{}
	}
	return routes
}

// byCapacity lists vehicle indices largest first, stable on index.
func (e *Engine) byCapacity() []int {
	vs := make([]int, e.inst.Vehicles())
	for i := range vs {
		vs[i] = i
	}
	sort.SliceStable(vs, func(a, b int) bool { return e.inst.Capacity[vs[a]] > e.inst.Capacity[vs[b]] })
	return vs
}

// pathCheapestArc extends one route at a time with the nearest node that
// keeps it feasible.
func (e *Engine) pathCheapestArc() ([][]int, []int) {
	routes := e.emptyRoutes()
	used := map[int]bool{}
	for _, v := range e.byCapacity() {
		cur := e.inst.Start[v]
		for {
			next, bestD := -1, int64(math.MaxInt64)
			for _, n := range e.customers {
				if used[n] {
					continue
				}
				d := e.dist(cur, n)
				if d >= bestD {
					continue
				}
				if !e.feasible(v, append(routes[v][:len(routes[v]):len(routes[v])], n)) {
					continue
				}
				next, bestD = n, d
			}
			if next < 0 {
				break
			}
			routes[v] = append(routes[v], next)
			used[next] = true
			cur = next
		}
		if len(used) == len(e.customers) {
			break
		}
	}
	return routes, e.missing(routes)
}

// greedyInsert places nodes one at a time at the globally cheapest feasible
// position and returns the nodes that fit nowhere.
func (e *Engine) greedyInsert(routes [][]int, nodes []int, c arcCost) []int {
	for len(nodes) > 0 {
		bestNode, bestV, bestPos := -1, -1, -1
		bestCost := int64(math.MaxInt64)
		for ni, node := range nodes {
			for v, r := range routes {
				if !e.inst.CanServe(v, node) {
					continue
				}
				for pos := 0; pos <= len(r); pos++ {
					d := e.insertDelta(v, r, node, pos, c)
					if d >= bestCost {
						continue
					}
					if !e.feasible(v, insertAt(r, node, pos)) {
						continue
					}
					bestNode, bestV, bestPos, bestCost = ni, v, pos, d
				}
			}
		}
		if bestNode < 0 {
			return nodes
		}
		routes[bestV] = insertAt(routes[bestV], nodes[bestNode], bestPos)
		nodes = removeAt(nodes, bestNode)
	}
	return nil
}

// regretInsert places first the node whose best and second-best positions
// differ most.
func (e *Engine) regretInsert(routes [][]int, nodes []int, c arcCost) []int {
	for len(nodes) > 0 {
		bestNode, bestV, bestPos := -1, -1, -1
		bestRegret := int64(-1)
		for ni, node := range nodes {
			best1, best2 := int64(math.MaxInt64), int64(math.MaxInt64)
			bv, bpos := -1, -1
			for v, r := range routes {
				if !e.inst.CanServe(v, node) {
					continue
				}
				for pos := 0; pos <= len(r); pos++ {
					d := e.insertDelta(v, r, node, pos, c)
					if d >= best2 {
						continue
					}
					if !e.feasible(v, insertAt(r, node, pos)) {
						continue
					}
					if d < best1 {
						best2 = best1
						best1, bv, bpos = d, v, pos
					} else {
						best2 = d
					}
				}
			}
			if bv < 0 {
				continue
			}
			regret := int64(math.MaxInt64 / 2)
			if best2 < math.MaxInt64 {
				regret = best2 - best1
			}
			if regret > bestRegret {
				bestNode, bestV, bestPos, bestRegret = ni, bv, bpos, regret
			}
		}
		if bestNode < 0 {
			return nodes
		}
		routes[bestV] = insertAt(routes[bestV], nodes[bestNode], bestPos)
		nodes = removeAt(nodes, bestNode)
	}
	return nil
}

// localCheapestInsertion takes nodes farthest from their depot first and puts
// each at its cheapest feasible position.
func (e *Engine) localCheapestInsertion() ([][]int, []int) {
	routes := e.emptyRoutes()
	nodes := append([]int(nil), e.customers...)
	sort.SliceStable(nodes, func(a, b int) bool {
		da := e.dist(e.nearestStart(nodes[a]), nodes[a])
		db := e.dist(e.nearestStart(nodes[b]), nodes[b])
		return da > db
	})
	var unplaced []int
	for _, node := range nodes {
		if rest := e.greedyInsert(routes, []int{node}, e.dist); len(rest) > 0 {
			unplaced = append(unplaced, node)
		}
	}
	return routes, unplaced
}

type saving struct {
	i, j  int
	value int64
}

// savings is the parallel Clarke-Wright heuristic. Chains are merged end to
// start while some vehicle could still run the merged chain, then each chain
// is fitted to the smallest free vehicle that can run it. Customers left
// without a vehicle go through cheapest insertion.
func (e *Engine) savings() ([][]int, []int) {
	in := e.inst
	chains := make([][]int, 0, len(e.customers))
	owner := make(map[int]int, len(e.customers))
	for _, n := range e.customers {
		owner[n] = len(chains)
		chains = append(chains, []int{n})
	}

	list := make([]saving, 0, len(e.customers)*len(e.customers))
	for _, i := range e.customers {
		di := e.nearestStart(i)
		for _, j := range e.customers {
			if i == j {
				continue
			}
			dj := e.nearestStart(j)
			s := e.dist(i, di) + e.dist(dj, j) - e.dist(i, j)
			if s > 0 {
				list = append(list, saving{i: i, j: j, value: s})
			}
		}
	}
	sort.SliceStable(list, func(a, b int) bool { return list[a].value > list[b].value })

	reps := e.classReps()
	for _, s := range list {
		ci, cj := owner[s.i], owner[s.j]
		if ci == cj {
			continue
		}
		a, b := chains[ci], chains[cj]
		if a[len(a)-1] != s.i || b[0] != s.j {
			continue
		}
		merged := append(append(make([]int, 0, len(a)+len(b)), a...), b...)
		ok := false
		for _, v := range reps {
			if e.feasible(v, merged) {
				ok = true
				break
			}
		}
		if !ok {
			continue
		}
		chains[ci] = merged
		chains[cj] = nil
		for _, n := range b {
			owner[n] = ci
		}
	}

	live := make([][]int, 0, len(chains))
	for _, c := range chains {
		if len(c) > 0 {
			live = append(live, c)
		}
	}
	load := func(c []int) int {
		total := 0
		for _, n := range c {
			total += in.Demand[n]
		}
		return total
	}
	sort.SliceStable(live, func(a, b int) bool { return load(live[a]) > load(live[b]) })

	routes := e.emptyRoutes()
	taken := make([]bool, in.Vehicles())
	var leftovers []int
	for _, c := range live {
		v := e.fitVehicle(c, taken)
		if v < 0 {
			rev := make([]int, len(c))
			for k := range c {
				rev[k] = c[len(c)-1-k]
			}
			if v = e.fitVehicle(rev, taken); v >= 0 {
				c = rev
			}
		}
		if v < 0 {
			leftovers = append(leftovers, c...)
			continue
		}
		taken[v] = true
		routes[v] = c
	}
	unplaced := e.greedyInsert(routes, leftovers, e.dist)
	return routes, unplaced
}

// fitVehicle picks the smallest free vehicle able to run chain, breaking
// ties on route cost then index.
func (e *Engine) fitVehicle(chain []int, taken []bool) int {
	best := -1
	var bestCost int64
	for v := range taken {
		if taken[v] || !e.feasible(v, chain) {
			continue
		}
		c := e.routeCost(v, chain, e.dist)
		if best < 0 || e.inst.Capacity[v] < e.inst.Capacity[best] ||
			(e.inst.Capacity[v] == e.inst.Capacity[best] && c < bestCost) {
			best, bestCost = v, c
		}
	}
	return best
}

// classReps returns one vehicle per class, largest capacity first.
func (e *Engine) classReps() []int {
	seen := map[int]bool{}
	var out []int
	for _, v := range e.byCapacity() {
		if !seen[e.classOf[v]] {
			seen[e.classOf[v]] = true
			out = append(out, v)
		}
	}
	return out
}

func (e *Engine) missing(routes [][]int) []int {
	placed := map[int]bool{}
	for _, r := range routes {
		for _, n := range r {
			placed[n] = true
		}
	}
	var out []int
	for _, n := range e.customers {
		if !placed[n] {
			out = append(out, n)
		}
	}
	return out
}
