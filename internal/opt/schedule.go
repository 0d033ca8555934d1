package opt

// arcCost prices the arc i->j. Searches swap it for penalized variants.
type arcCost func(i, j int) int64

type solution struct {
	routes [][]int
	cost   int64
}

func (s solution) clone() solution {
	out := solution{routes: make([][]int, len(s.routes)), cost: s.cost}
	for i, r := range s.routes {
		out.routes[i] = append([]int(nil), r...)
	}
	return out
}

func (e *Engine) dist(i, j int) int64 { return int64(e.inst.Distance[i][j]) }

// routeCost is the arc total from the vehicle's start through route to its
// end, plus the fixed cost when the vehicle is used.
func (e *Engine) routeCost(v int, route []int, c arcCost) int64 {
	if len(route) == 0 {
		return 0
	}
	prev := e.inst.Start[v]
	total := int64(e.inst.FixedVehicleCost)
	for _, n := range route {
		total += c(prev, n)
		prev = n
	}
	return total + c(prev, e.inst.End[v])
}

func (e *Engine) totalCost(routes [][]int, c arcCost) int64 {
	var total int64
	for v, r := range routes {
		total += e.routeCost(v, r, c)
	}
	return total
}

func (e *Engine) newSolution(routes [][]int) solution {
	return solution{routes: routes, cost: e.totalCost(routes, e.dist)}
}

func (e *Engine) feasible(v int, route []int) bool {
	_, ok := e.schedule(v, route, nil)
	return ok
}

// schedule checks capacity, eligibility and, with the time dimension on, the
// time cumul of route for vehicle v. Transit into a node includes its service
// time; waiting before a node is bounded by MaxWait. When out is non-nil it
// receives the cumul at each stop. The returned int is the cumul back at the
// end depot.
func (e *Engine) schedule(v int, route []int, out []int) (int, bool) {
	in := e.inst
	load := 0
	for _, n := range route {
		if !in.CanServe(v, n) {
			return 0, false
		}
		load += in.Demand[n]
		if load > in.Capacity[v] {
			return 0, false
		}
	}
	if !in.TimeWindows {
		return 0, true
	}

	t, drive := 0, 0
	prev := in.Start[v]
	for k, n := range route {
		leg := in.Time[prev][n]
		if in.DriverBreaks && drive > 0 && drive+leg > in.BreakAfter {
			t += in.BreakMinutes
			drive = 0
		}
		drive += leg
		arrive := t + leg + in.Service[n]
		at, ok := in.Windows[n].Earliest(arrive)
		if !ok || at-arrive > in.MaxWait || at > in.MaxRoute {
			return 0, false
		}
		t = at
		if out != nil {
			out[k] = at
		}
		prev = n
	}
	leg := in.Time[prev][in.End[v]]
	if in.DriverBreaks && drive > 0 && drive+leg > in.BreakAfter {
		t += in.BreakMinutes
	}
	t += leg
	if t > in.MaxRoute {
		return 0, false
	}
	return t, true
}

func insertAt(route []int, node, pos int) []int {
	out := make([]int, 0, len(route)+1)
	out = append(out, route[:pos]...)
	out = append(out, node)
	return append(out, route[pos:]...)
}

func removeAt(route []int, pos int) []int {
	out := make([]int, 0, len(route)-1)
	out = append(out, route[:pos]...)
	return append(out, route[pos+1:]...)
}

// insertDelta is the cost change of placing node at pos in vehicle v's route.
func (e *Engine) insertDelta(v int, route []int, node, pos int, c arcCost) int64 {
	prev := e.inst.Start[v]
	if pos > 0 {
		prev = route[pos-1]
	}
	next := e.inst.End[v]
	if pos < len(route) {
		next = route[pos]
	}
	d := c(prev, node) + c(node, next)
	if len(route) == 0 {
		return d + int64(e.inst.FixedVehicleCost)
	}
	return d - c(prev, next)
}

// nearestStart is the depot node closest to node among the vehicle starts.
func (e *Engine) nearestStart(node int) int {
	best, bestD := e.inst.Start[0], int64(-1)
	for v := range e.inst.Start {
		s := e.inst.Start[v]
		if d := e.dist(s, node); bestD < 0 || d < bestD {
			best, bestD = s, d
		}
	}
	return best
}
