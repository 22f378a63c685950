package gemini

import (
	"sync"
)

// Per-token cost approximations derived from published per-character
// pricing at four characters per token.
var (
	costIn = map[string]float64{
		"gemini-pro":       0.00025 / 1000 * 4,
		"gemini-1.5-pro":   0.00125 / 1000 * 4,
		"gemini-1.5-flash": 0.000075 / 1000 * 4,
	}
	costOut = map[string]float64{
		"gemini-pro":       0.0005 / 1000 * 4,
		"gemini-1.5-pro":   0.005 / 1000 * 4,
		"gemini-1.5-flash": 0.0003 / 1000 * 4,
	}
)

// Usage tracks estimated token consumption per model for one run. It is
// scoped to the client that owns it, never process-global: independent
// runs never see each other's counters.
type Usage struct {
	mu  sync.Mutex
	in  map[string]int
	out map[string]int
}

// NewUsage returns an empty usage tracker.
func NewUsage() *Usage {
	return &Usage{
		in:  make(map[string]int),
		out: make(map[string]int),
	}
}

// Add records estimated input and output tokens for a model.
func (u *Usage) Add(model string, inputTokens, outputTokens int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.in[model] += inputTokens
	u.out[model] += outputTokens
}

// Snapshot returns copies of the per-model token counters.
func (u *Usage) Snapshot() (input, output map[string]int) {
	u.mu.Lock()
	defer u.mu.Unlock()

	input = make(map[string]int, len(u.in))
	for k, v := range u.in {
		input[k] = v
	}
	output = make(map[string]int, len(u.out))
	for k, v := range u.out {
		output[k] = v
	}
	return input, output
}

// CostEstimate returns the approximate spend in USD for models with a
// known price; unknown models contribute nothing.
func (u *Usage) CostEstimate() float64 {
	u.mu.Lock()
	defer u.mu.Unlock()

	total := 0.0
	for model, tokens := range u.in {
		total += costIn[model] * float64(tokens)
	}
	for model, tokens := range u.out {
		total += costOut[model] * float64(tokens)
	}
	return total
}

// Reset clears all counters. Called at run start so consecutive runs in
// one process never share accounting.
func (u *Usage) Reset() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.in = make(map[string]int)
	u.out = make(map[string]int)
}
