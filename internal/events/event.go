// Package events provides the append-only event record for a simulation
// run. Every observable action — theme decisions, citizen evaluations,
// submissions, reviews, merges, retries, errors — is recorded as an Event,
// and the event sequence is the sole source of truth for the derived
// statistics.
package events

import (
	"time"
)

// EventType identifies the category of a simulation event.
type EventType string

const (
	// EventSimulationStart marks the beginning of a run.
	EventSimulationStart EventType = "SIMULATION_START"
	// EventThemeDecision records a scientist settling on a research theme.
	EventThemeDecision EventType = "RESEARCH_THEME_DECISION"
	// EventCitizenEvaluation records one citizen's evaluation of a theme.
	EventCitizenEvaluation EventType = "CITIZEN_EVALUATION"
	// EventStageStart records a scientist beginning work on a stage.
	EventStageStart EventType = "STAGE_START"
	// EventStageCompletion records a scientist finishing stage output.
	EventStageCompletion EventType = "STAGE_COMPLETION"
	// EventSubmissionCreated records a new pull request for a stage.
	EventSubmissionCreated EventType = "PR_CREATED"
	// EventReview records the peer's review verdict on a submission.
	EventReview EventType = "PR_REVIEW"
	// EventMerge records an approved submission being merged.
	EventMerge EventType = "PR_MERGED"
	// EventStageRetry records a rejection forcing a stage redo.
	EventStageRetry EventType = "STAGE_RETRY"
	// EventStep records the start of one orchestrator tick.
	EventStep EventType = "SIMULATION_STEP"
	// EventHostOperation records a hosting API operation for audit.
	EventHostOperation EventType = "GITHUB_OPERATION"
	// EventModelCall records a generation API call.
	EventModelCall EventType = "LLM_CALL"
	// EventError records a recoverable failure.
	EventError EventType = "ERROR"
)

// Event is an immutable timestamped record of one simulation occurrence.
// Data carries the structured payload; Description is for humans.
type Event struct {
	Timestamp   time.Time      `json:"timestamp"`
	Type        EventType      `json:"event_type"`
	Description string         `json:"description"`
	Data        map[string]any `json:"data,omitempty"`
}

// New builds an Event stamped with the current time.
func New(t EventType, description string, data map[string]any) Event {
	return Event{
		Timestamp:   time.Now(),
		Type:        t,
		Description: description,
		Data:        data,
	}
}

// ValidEventTypes returns all valid event type values.
func ValidEventTypes() []EventType {
	return []EventType{
		EventSimulationStart,
		EventThemeDecision,
		EventCitizenEvaluation,
		EventStageStart,
		EventStageCompletion,
		EventSubmissionCreated,
		EventReview,
		EventMerge,
		EventStageRetry,
		EventStep,
		EventHostOperation,
		EventModelCall,
		EventError,
	}
}

// IsValidEventType checks if the given string is a valid event type.
func IsValidEventType(s string) bool {
	for _, t := range ValidEventTypes() {
		if string(t) == s {
			return true
		}
	}
	return false
}
