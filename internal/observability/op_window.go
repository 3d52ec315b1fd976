package observability

import (
	"sort"
	"sync"
	"time"
)

// messageOp is the window key for end-to-end message handling. Backend calls
// are keyed by their call kind (login, list_tasks, ...).
const messageOp = "message"

// OperationStats summarizes the recent samples of one operation. Latency
// percentiles cover samples that did not fail.
type OperationStats struct {
	Operation    string         `json:"operation"`
	Samples      int            `json:"samples"`
	Failures     int            `json:"failures"`
	FailureRatio float64        `json:"failure_ratio"`
	P50MS        int64          `json:"p50_ms"`
	P95MS        int64          `json:"p95_ms"`
	MaxMS        int64          `json:"max_ms"`
	TargetP95MS  int64          `json:"target_p95_ms"`
	OverTarget   bool           `json:"over_target"`
	Outcomes     map[string]int `json:"outcomes"`
}

type LatencySnapshot struct {
	GeneratedAt time.Time        `json:"generated_at"`
	WindowSize  int              `json:"window_size"`
	Operations  []OperationStats `json:"operations"`
}

type opSample struct {
	d       time.Duration
	outcome string
}

// opWindow keeps the last size samples of each operation.
type opWindow struct {
	mu   sync.Mutex
	size int
	ops  map[string][]opSample
}

func newOpWindow(size int) *opWindow {
	if size <= 0 {
		size = 256
	}
	return &opWindow{size: size, ops: make(map[string][]opSample)}
}

func (w *opWindow) observe(op, outcome string, d time.Duration) {
	if op == "" || d < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	samples := append(w.ops[op], opSample{d: d, outcome: outcome})
	if len(samples) > w.size {
		samples = samples[len(samples)-w.size:]
	}
	w.ops[op] = samples
}

func (w *opWindow) snapshot() LatencySnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := LatencySnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Operations:  make([]OperationStats, 0, len(w.ops)),
	}
	for op, samples := range w.ops {
		out.Operations = append(out.Operations, summarizeOp(op, samples))
	}
	sort.Slice(out.Operations, func(i, j int) bool {
		return out.Operations[i].Operation < out.Operations[j].Operation
	})
	return out
}

func summarizeOp(op string, samples []opSample) OperationStats {
	st := OperationStats{
		Operation:   op,
		Samples:     len(samples),
		TargetP95MS: targetP95(op).Milliseconds(),
		Outcomes:    make(map[string]int),
	}
	var ok []time.Duration
	for _, s := range samples {
		st.Outcomes[s.outcome]++
		if failedOutcome(s.outcome) {
			st.Failures++
			continue
		}
		ok = append(ok, s.d)
	}
	if st.Samples > 0 {
		st.FailureRatio = float64(st.Failures) / float64(st.Samples)
	}
	if len(ok) == 0 {
		return st
	}
	sort.Slice(ok, func(i, j int) bool { return ok[i] < ok[j] })
	p95 := nearestRank(ok, 95)
	st.P50MS = nearestRank(ok, 50).Milliseconds()
	st.P95MS = p95.Milliseconds()
	st.MaxMS = ok[len(ok)-1].Milliseconds()
	st.OverTarget = p95 > targetP95(op)
	return st
}

// failedOutcome reports outcomes caused by the system rather than the user.
func failedOutcome(outcome string) bool {
	switch outcome {
	case "transport_failure", "internal_error":
		return true
	}
	return false
}

// nearestRank returns the pct-th percentile of an ascending slice.
func nearestRank(sorted []time.Duration, pct int) time.Duration {
	rank := (pct*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

func targetP95(op string) time.Duration {
	switch op {
	case messageOp:
		return 1500 * time.Millisecond
	case "login":
		return 800 * time.Millisecond
	default:
		return 500 * time.Millisecond
	}
}
