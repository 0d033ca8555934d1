package opt

import "sync"

type Metrics struct {
	Strategy              string           `json:"strategy"`
	Metaheuristic         string           `json:"metaheuristic,omitempty"`
	RemovalSelects        [2]int           `json:"removal_selects"` // random, related
	InsertSelects         [2]int           `json:"insert_selects"`  // greedy, regret2
	Iterations            int              `json:"iterations"`
	Improvements          int              `json:"improvements"`
	AcceptedWorse         int              `json:"accepted_worse"`
	InitialCost           int64            `json:"initial_cost"`
	BestCost              int64            `json:"best_cost"`
	FinalCost             int64            `json:"final_cost"`
	FinalRemovalWeights   [2]float64       `json:"final_removal_weights"`
	FinalInsertionWeights [2]float64       `json:"final_insertion_weights"`
	Snapshots             []WeightSnapshot `json:"snapshots,omitempty"`
	StoppedBy             string           `json:"stopped_by"`
	ElapsedSeconds        float64          `json:"elapsed_seconds"`
}

type WeightSnapshot struct {
	Iteration int        `json:"iteration"`
	Removal   [2]float64 `json:"removal"`
	Insertion [2]float64 `json:"insertion"`
}

// MetricsStore keeps the latest search metrics per strategy and
// metaheuristic pair.
type MetricsStore struct {
	mu sync.Mutex
	m  map[string]Metrics
}

func NewMetricsStore() *MetricsStore {
	return &MetricsStore{m: map[string]Metrics{}}
}

func storeKey(strategy, metaheuristic string) string {
	if metaheuristic == "" {
		return strategy
	}
	return strategy + "/" + metaheuristic
}

func (s *MetricsStore) Record(m Metrics) {
	s.mu.Lock()
	s.m[storeKey(m.Strategy, m.Metaheuristic)] = m
	s.mu.Unlock()
}

// Snapshot copies the stored metrics keyed "STRATEGY/METAHEURISTIC".
func (s *MetricsStore) Snapshot() map[string]Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Metrics, len(s.m))
	for k, v := range s.m {
		out[k] = v
	}
	return out
}
