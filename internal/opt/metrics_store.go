package opt

import "sync"

type metricsKey struct {
	PlanID   string
	Strategy string
}

var (
	mu    sync.Mutex
	store = map[metricsKey]Metrics{}
)

// RecordMetrics keeps the solver metrics of a plan run in process memory so
// they can be read back before the plan is persisted.
func RecordMetrics(planID string, m Metrics) {
	mu.Lock()
	store[metricsKey{PlanID: planID, Strategy: m.Strategy}] = m
	mu.Unlock()
}

// GetMetrics returns the recorded metrics of planID keyed by strategy.
func GetMetrics(planID string) map[string]Metrics {
	mu.Lock()
	defer mu.Unlock()
	out := map[string]Metrics{}
	for k, v := range store {
		if k.PlanID == planID {
			out[k.Strategy] = v
		}
	}
	return out
}

// ForgetMetrics drops the recorded metrics of planID.
func ForgetMetrics(planID string) {
	mu.Lock()
	defer mu.Unlock()
	for k := range store {
		if k.PlanID == planID {
			delete(store, k)
		}
	}
}
