package events

import (
	"encoding/json"
	"time"
)

// Data payload keys the statistics aggregator understands.
const (
	KeyScientist    = "scientist"
	KeyReviewer     = "reviewer"
	KeyAuthor       = "pr_author"
	KeyReviewType   = "review_type"
	KeyRewardAmount = "reward_amount"
	KeyCitizenName  = "citizen_name"
	KeyStage        = "stage"
	KeyStageNumber  = "stage_number"
	KeyTheme        = "theme"
	KeyStep         = "step"
	KeySubmission   = "pr_number"
)

// Review verdict values carried in PR_REVIEW event payloads.
const (
	VerdictApprove        = "APPROVE"
	VerdictRequestChanges = "REQUEST_CHANGES"
	VerdictComment        = "COMMENT"
)

// AgentStats holds per-scientist counters derived from events.
type AgentStats struct {
	Theme        string `json:"theme,omitempty"`
	CurrentStage string `json:"current_stage,omitempty"`
	Created      int    `json:"prs_created"`
	Approved     int    `json:"prs_approved"`
	Rejected     int    `json:"prs_rejected"`
	Commented    int    `json:"prs_commented"`
	ReviewsGiven int    `json:"reviews_given"`
	Retries      int    `json:"retries"`
}

// RewardEntry is one citizen's reward in the crowd distribution.
type RewardEntry struct {
	Citizen   string `json:"citizen"`
	Scientist string `json:"scientist"`
	Amount    int    `json:"amount"`
}

// RewardStats aggregates the crowd evaluation rewards.
type RewardStats struct {
	Total        int           `json:"total_amount"`
	Average      float64       `json:"average_amount"`
	Distribution []RewardEntry `json:"distribution"`
}

// StageDuration records how long one stage attempt took. End stays nil
// when the run halted before the stage completed.
type StageDuration struct {
	Scientist string     `json:"scientist"`
	Stage     string     `json:"stage"`
	Start     time.Time  `json:"start_time"`
	End       *time.Time `json:"end_time,omitempty"`
	Seconds   float64    `json:"duration_seconds,omitempty"`
}

// Statistics is derived entirely from the event sequence. It is never
// authoritative: recomputing from the events must yield the same result
// as the incrementally maintained copy.
type Statistics struct {
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	TotalSteps           int `json:"total_steps"`
	TotalSubmissions     int `json:"total_prs"`
	ApprovedSubmissions  int `json:"approved_prs"`
	RejectedSubmissions  int `json:"rejected_prs"`
	CommentedSubmissions int `json:"commented_prs"`

	// Rates are only present when at least one submission exists.
	ApprovalRate  *float64 `json:"approval_rate,omitempty"`
	RejectionRate *float64 `json:"rejection_rate,omitempty"`

	Scientists     map[string]*AgentStats `json:"scientists"`
	CrowdRewards   RewardStats            `json:"citizen_rewards"`
	StageDurations []StageDuration        `json:"stage_durations,omitempty"`
}

// NewStatistics returns an empty statistics accumulator.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime:  time.Now(),
		Scientists: make(map[string]*AgentStats),
	}
}

// Recompute rebuilds statistics from scratch over an event sequence.
// The result matches what incremental Apply calls would have produced,
// which is the consistency property the tests pin down.
func Recompute(evs []Event) *Statistics {
	s := NewStatistics()
	if len(evs) > 0 {
		s.StartTime = evs[0].Timestamp
	}
	for _, e := range evs {
		s.Apply(e)
	}
	return s
}

// agent returns the per-scientist stats bucket, creating it on first use.
func (s *Statistics) agent(id string) *AgentStats {
	if id == "" {
		id = "unknown"
	}
	a, ok := s.Scientists[id]
	if !ok {
		a = &AgentStats{}
		s.Scientists[id] = a
	}
	return a
}

// Apply folds one event into the counters. The mapping from event type
// to counter updates is fixed; unknown event types are ignored.
func (s *Statistics) Apply(e Event) {
	switch e.Type {
	case EventSimulationStart:
		s.StartTime = e.Timestamp

	case EventThemeDecision:
		s.agent(stringField(e, KeyScientist)).Theme = stringField(e, KeyTheme)

	case EventCitizenEvaluation:
		s.CrowdRewards.Distribution = append(s.CrowdRewards.Distribution, RewardEntry{
			Citizen:   stringField(e, KeyCitizenName),
			Scientist: stringField(e, KeyScientist),
			Amount:    intField(e, KeyRewardAmount),
		})

	case EventStageStart:
		a := s.agent(stringField(e, KeyScientist))
		a.CurrentStage = stringField(e, KeyStage)
		s.StageDurations = append(s.StageDurations, StageDuration{
			Scientist: stringField(e, KeyScientist),
			Stage:     stringField(e, KeyStage),
			Start:     e.Timestamp,
		})

	case EventStageCompletion:
		s.closeStageDuration(stringField(e, KeyScientist), stringField(e, KeyStage), e.Timestamp)

	case EventSubmissionCreated:
		s.TotalSubmissions++
		s.agent(stringField(e, KeyScientist)).Created++

	case EventReview:
		s.agent(stringField(e, KeyReviewer)).ReviewsGiven++
		author := s.agent(stringField(e, KeyAuthor))
		switch stringField(e, KeyReviewType) {
		case VerdictApprove:
			s.ApprovedSubmissions++
			author.Approved++
		case VerdictRequestChanges:
			s.RejectedSubmissions++
			author.Rejected++
		case VerdictComment:
			s.CommentedSubmissions++
			author.Commented++
		}

	case EventStageRetry:
		s.agent(stringField(e, KeyScientist)).Retries++

	case EventStep:
		if n := intField(e, KeyStep); n > s.TotalSteps {
			s.TotalSteps = n
		}
	}
}

// closeStageDuration completes the most recent open duration entry for
// the given scientist and stage.
func (s *Statistics) closeStageDuration(scientist, stage string, end time.Time) {
	for i := len(s.StageDurations) - 1; i >= 0; i-- {
		d := &s.StageDurations[i]
		if d.Scientist == scientist && d.Stage == stage && d.End == nil {
			t := end
			d.End = &t
			d.Seconds = end.Sub(d.Start).Seconds()
			return
		}
	}
}

// Finish computes the derived aggregates at end of run. Rates are
// omitted entirely when no submissions exist.
func (s *Statistics) Finish() {
	now := time.Now()
	s.EndTime = &now

	if n := len(s.CrowdRewards.Distribution); n > 0 {
		total := 0
		for _, r := range s.CrowdRewards.Distribution {
			total += r.Amount
		}
		s.CrowdRewards.Total = total
		s.CrowdRewards.Average = float64(total) / float64(n)
	}

	if s.TotalSubmissions > 0 {
		approval := float64(s.ApprovedSubmissions) / float64(s.TotalSubmissions)
		rejection := float64(s.RejectedSubmissions) / float64(s.TotalSubmissions)
		s.ApprovalRate = &approval
		s.RejectionRate = &rejection
	}
}

// Clone returns a deep copy via JSON round-trip.
func (s *Statistics) Clone() *Statistics {
	data, err := json.Marshal(s)
	if err != nil {
		return NewStatistics()
	}
	out := NewStatistics()
	if err := json.Unmarshal(data, out); err != nil {
		return NewStatistics()
	}
	return out
}

func stringField(e Event, key string) string {
	if v, ok := e.Data[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// intField tolerates both int (in-memory events) and float64 (events
// re-read from a JSON snapshot).
func intField(e Event, key string) int {
	switch v := e.Data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0
		}
		return int(n)
	}
	return 0
}
