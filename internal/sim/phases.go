package sim

import (
	"context"
	"fmt"

	"github.com/duetlab/duetlab/internal/events"
	"github.com/duetlab/duetlab/internal/scientist"
)

// initialize creates the research repository and its directory layout.
// A directory structure that already exists is tolerated; a repository
// that cannot be created is fatal.
func (s *Simulation) initialize(ctx context.Context) error {
	if err := s.log.Record(events.New(
		events.EventSimulationStart,
		"Simulation started: "+s.topic,
		map[string]any{"run_id": s.runID, "topic": s.topic, "max_steps": s.maxSteps},
	)); err != nil {
		return err
	}
	s.logger.LogInfo("simulation started: " + s.topic)

	description := "AI Scientists Research Simulation: " + s.topic
	if err := s.a.host.CreateRepository(ctx, description, false); err != nil {
		s.recordError("GITHUB_ERROR", fmt.Errorf("failed to create repository: %w", err))
		return fmt.Errorf("creating repository: %w", err)
	}
	if err := s.recordHostOperation("create_repository", nil); err != nil {
		return err
	}

	if err := s.a.host.InitDirectoryStructure(ctx); err != nil {
		// Surviving directories from an earlier run are fine.
		s.recordError("GITHUB_ERROR", fmt.Errorf("failed to initialize directories: %w", err))
	} else if err := s.recordHostOperation("initialize_directory_structure", nil); err != nil {
		return err
	}

	return nil
}

// themePhase has both scientists derive a specific theme from the
// general topic, A first.
func (s *Simulation) themePhase(ctx context.Context) error {
	for _, p := range []*participant{s.a, s.b} {
		theme, err := p.sci.DecideTheme(ctx, s.topic)
		if err != nil {
			return err
		}
		if err := s.log.Record(events.New(
			events.EventThemeDecision,
			fmt.Sprintf("Scientist %s decided research theme", p.sci.ID()),
			map[string]any{
				events.KeyScientist: p.sci.ID(),
				events.KeyTheme:     theme,
			},
		)); err != nil {
			return err
		}
		s.logger.LogInfo(fmt.Sprintf("scientist %s decided theme", p.sci.ID()))
	}
	return nil
}

// citizenPhase runs the crowd over both themes and feeds every
// evaluation back into the owning scientist's context.
func (s *Simulation) citizenPhase(ctx context.Context) error {
	for _, p := range []*participant{s.a, s.b} {
		evaluations, err := s.crowd.EvaluateTheme(ctx, "研究者"+p.sci.ID(), p.sci.Theme())
		if err != nil {
			return fmt.Errorf("citizen evaluation for Scientist %s: %w", p.sci.ID(), err)
		}
		for _, ev := range evaluations {
			p.sci.AddCitizenFeedback(scientist.CitizenFeedback{
				CitizenName: ev.Citizen.Name,
				Comment:     ev.Comment,
				Reward:      ev.Reward,
				Reasoning:   ev.Reasoning,
			})
			if err := s.log.Record(events.New(
				events.EventCitizenEvaluation,
				fmt.Sprintf("%s evaluated Scientist %s's theme: %d円", ev.Citizen.Name, p.sci.ID(), ev.Reward),
				map[string]any{
					events.KeyCitizenName:  ev.Citizen.Name,
					events.KeyScientist:    p.sci.ID(),
					events.KeyRewardAmount: ev.Reward,
					"comment":              ev.Comment,
					"reasoning":            ev.Reasoning,
				},
			)); err != nil {
				return err
			}
		}
	}
	return nil
}
