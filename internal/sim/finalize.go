package sim

import (
	"fmt"

	"github.com/duetlab/duetlab/internal/events"
)

// finalize summarizes model usage into the event log and seals it. The
// usage event is best-effort: a log that refuses the write must still
// be finalized and the run logger closed, so the snapshot survives.
func (s *Simulation) finalize() error {
	if s.usage != nil {
		input, output := s.usage.Snapshot()
		if len(input) > 0 || len(output) > 0 {
			if err := s.log.Record(events.New(
				events.EventModelCall,
				"Model usage summary for the run",
				map[string]any{
					"input_tokens":  input,
					"output_tokens": output,
					"cost_estimate": s.usage.CostEstimate(),
				},
			)); err != nil {
				s.logger.LogWarning(fmt.Sprintf("failed to record usage summary: %v", err))
			}
		}
	}

	finErr := s.log.Finalize()
	if finErr != nil {
		finErr = fmt.Errorf("finalizing event log: %w", finErr)
	}
	s.logger.LogInfo(fmt.Sprintf("simulation finished after %d steps (completed=%v)", s.step, s.completed))
	if closeErr := s.logger.Close(); closeErr != nil && finErr == nil {
		finErr = closeErr
	}
	return finErr
}
