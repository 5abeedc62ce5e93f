package assign

import (
	"fmt"
	"log/slog"
	"strings"
)

// DefaultMaxExactPickups bounds the exhaustive search fallback.
// 7 pickups is 5040 orderings per entity.
const DefaultMaxExactPickups = 7

// Stop is one visit of a route.
// Wait is the estimated time spent at the stop (service time plus the
// expected wait for a pending gate).
type Stop struct {
	Step     string
	Location string
	Wait     float64
}

// Request describes a Transport order awaiting assignment.
// Pickups are in declaration order.
type Request struct {
	Order       string
	Pickups     []Stop
	Delivery    Stop
	Constraints *Constraints
	Now         float64

	// PendingGates is set when some stop's Wait includes an estimate
	// for a gate that has not latched yet.
	PendingGates bool
}

// Plan is a successful assignment.
type Plan struct {
	Entity   string   `json:"entity"`
	Sequence []string `json:"sequence"`
	Distance float64  `json:"distance"`
	Start    float64  `json:"start"`
	Finish   float64  `json:"finish"`
}

// Assigner selects entities and pickup orders.
type Assigner struct {
	fleet    *Fleet
	topology Topology
	maxExact int
}

// Option configures an Assigner.
type Option func(*Assigner)

// WithMaxExactPickups sets how many pickups the exhaustive fallback
// handles. 0 disables the fallback.
func WithMaxExactPickups(n int) Option {
	return func(a *Assigner) {
		if n >= 0 {
			a.maxExact = n
		}
	}
}

// New creates an assigner over a fleet and topology.
func New(fleet *Fleet, topology Topology, opts ...Option) *Assigner {
	a := &Assigner{fleet: fleet, topology: topology, maxExact: DefaultMaxExactPickups}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Fleet returns the fleet the assigner draws from.
func (a *Assigner) Fleet() *Fleet { return a.fleet }

// Assign picks an entity and pickup order for req. It does not commit the
// entity; callers commit through Fleet.Commit once they accept the plan.
func (a *Assigner) Assign(req Request) (Plan, error) {
	available := a.fleet.Available()
	if len(available) == 0 {
		busy := a.fleet.Len() > 0
		return Plan{}, &Error{
			Code:      ErrCodeNoEligibleEntity,
			Order:     req.Order,
			Message:   "no uncommitted entity",
			Retryable: busy,
		}
	}

	var (
		best      *Plan
		reachable int
	)
	for _, ent := range available {
		if !a.reachesAll(ent, req) {
			continue
		}
		reachable++

		plan, ok, err := a.planFor(ent, req)
		if err != nil {
			return Plan{}, err
		}
		if !ok {
			continue
		}
		if best == nil || plan.Distance < best.Distance ||
			(plan.Distance == best.Distance && plan.Entity < best.Entity) {
			p := plan
			best = &p
		}
	}

	if reachable == 0 {
		// Committed entities might be able to reach once they are free.
		return Plan{}, &Error{
			Code:      ErrCodeNoEligibleEntity,
			Order:     req.Order,
			Message:   "no uncommitted entity can reach every stop",
			Retryable: len(available) < a.fleet.Len(),
		}
	}
	if best == nil {
		retry := !req.Constraints.startExpired(req.Now) &&
			(req.PendingGates || (req.Constraints != nil && req.Constraints.usesNow))
		return Plan{}, &Error{
			Code:      ErrCodeInfeasible,
			Order:     req.Order,
			Message:   infeasibleMessage(req),
			Retryable: retry,
		}
	}

	slog.Debug("transport assigned",
		"order", req.Order,
		"entity", best.Entity,
		"sequence", strings.Join(best.Sequence, ","),
		"distance", best.Distance)
	return *best, nil
}

func infeasibleMessage(req Request) string {
	if src := req.Constraints.Source(); src != "" {
		return fmt.Sprintf("no pickup order of %d stops satisfies %q", len(req.Pickups), src)
	}
	return fmt.Sprintf("no pickup order of %d stops fits the transport window", len(req.Pickups))
}

// reachesAll reports whether every route the assigner may try exists:
// entity to each pickup (or to the delivery when there are none), pickup
// to pickup, and pickup to delivery.
func (a *Assigner) reachesAll(ent Entity, req Request) bool {
	stops := append(append([]Stop{}, req.Pickups...), req.Delivery)
	if ent.Location != "" {
		first := req.Pickups
		if len(first) == 0 {
			first = []Stop{req.Delivery}
		}
		for _, s := range first {
			if _, ok := a.topology.Distance(ent.Location, s.Location); !ok {
				return false
			}
		}
	}
	for i, s := range req.Pickups {
		for j, t := range stops {
			if i == j {
				continue
			}
			if _, ok := a.topology.Distance(s.Location, t.Location); !ok {
				return false
			}
		}
	}
	return true
}

// planFor tries the nearest-neighbor order, then the exhaustive fallback.
func (a *Assigner) planFor(ent Entity, req Request) (Plan, bool, error) {
	order := a.nearestNeighbor(ent, req.Pickups)
	plan, ok, err := a.evaluate(ent, req, order)
	if err != nil || ok {
		return plan, ok, err
	}
	if len(req.Pickups) > a.maxExact || len(req.Pickups) < 2 {
		return Plan{}, false, nil
	}

	var best *Plan
	perm := make([]int, len(req.Pickups))
	for i := range perm {
		perm[i] = i
	}
	for {
		p, ok, err := a.evaluate(ent, req, perm)
		if err != nil {
			return Plan{}, false, err
		}
		if ok && (best == nil || p.Distance < best.Distance) {
			cp := p
			best = &cp
		}
		if !nextPermutation(perm) {
			break
		}
	}
	if best == nil {
		return Plan{}, false, nil
	}
	return *best, true, nil
}

// nearestNeighbor orders pickups greedily by distance from the current
// position. Strict comparison keeps the earliest-declared pickup on ties.
func (a *Assigner) nearestNeighbor(ent Entity, pickups []Stop) []int {
	visited := make([]bool, len(pickups))
	order := make([]int, 0, len(pickups))
	cur := ent.Location
	for range pickups {
		next := -1
		var nextDist float64
		for i, s := range pickups {
			if visited[i] {
				continue
			}
			d := a.leg(cur, s.Location)
			if next < 0 || d < nextDist {
				next, nextDist = i, d
			}
		}
		visited[next] = true
		order = append(order, next)
		cur = pickups[next].Location
	}
	return order
}

func (a *Assigner) leg(from, to string) float64 {
	if from == "" {
		return 0
	}
	d, _ := a.topology.Distance(from, to)
	return d
}

// evaluate simulates the route and checks it against the constraints.
func (a *Assigner) evaluate(ent Entity, req Request, order []int) (Plan, bool, error) {
	start := req.Constraints.earliestStart(req.Now)
	t := start
	dist := 0.0
	cur := ent.Location
	seq := make([]string, 0, len(order))

	visit := func(s Stop) {
		d := a.leg(cur, s.Location)
		dist += d
		t += d/ent.Speed + s.Wait
		cur = s.Location
	}
	for _, i := range order {
		visit(req.Pickups[i])
		seq = append(seq, req.Pickups[i].Step)
	}
	visit(req.Delivery)

	env := &Env{
		TransportStart:    start,
		TransportFinished: t,
		Duration:          t - start,
		Distance:          dist,
		Now:               req.Now,
	}
	ok, err := req.Constraints.check(env)
	if err != nil || !ok {
		return Plan{}, false, err
	}
	return Plan{
		Entity:   ent.ID,
		Sequence: seq,
		Distance: dist,
		Start:    env.TransportStart,
		Finish:   env.TransportFinished,
	}, true, nil
}

// nextPermutation advances p to the next lexicographic permutation.
func nextPermutation(p []int) bool {
	i := len(p) - 2
	for i >= 0 && p[i] >= p[i+1] {
		i--
	}
	if i < 0 {
		return false
	}
	j := len(p) - 1
	for p[j] <= p[i] {
		j--
	}
	p[i], p[j] = p[j], p[i]
	for l, r := i+1, len(p)-1; l < r; l, r = l+1, r-1 {
		p[l], p[r] = p[r], p[l]
	}
	return true
}
