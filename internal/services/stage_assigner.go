package services

import (
	"fmt"

	"crmsync/internal/models"
	"crmsync/internal/repository"
	"crmsync/internal/utils"
)

// StageAssigner maps a contact's lead score into a pipeline stage by score
// range. Manually edited ranges may overlap or leave gaps; the first
// matching stage in ascending order wins, and an unmatched score simply
// leaves the contact unassigned.
type StageAssigner struct {
	pipelines *repository.PipelineRepository
	logger    *utils.Logger
}

// NewStageAssigner creates a stage assigner.
func NewStageAssigner(pipelines *repository.PipelineRepository) *StageAssigner {
	return &StageAssigner{
		pipelines: pipelines,
		logger:    utils.NewLogger("StageAssigner"),
	}
}

// AssignStage returns the first stage (ascending order) whose inclusive
// score range contains the score, or nil when none matches.
func (s *StageAssigner) AssignStage(score int, stages []models.PipelineStage) *models.PipelineStage {
	for i := range stages {
		stage := &stages[i]
		if score >= stage.LeadScoreMin && score <= stage.LeadScoreMax {
			return stage
		}
	}
	return nil
}

// LoadStages fetches a pipeline's stages in ascending order.
func (s *StageAssigner) LoadStages(pipelineID uint) ([]models.PipelineStage, error) {
	return s.pipelines.GetStages(pipelineID)
}

// EnsureScoreRanges partitions [0,100] evenly across a pipeline's stages
// when they still hold placeholder ranges. Idempotent: once any stage has a
// non-placeholder range the pipeline is left alone.
func (s *StageAssigner) EnsureScoreRanges(pipelineID uint) ([]models.PipelineStage, error) {
	stages, err := s.pipelines.GetStages(pipelineID)
	if err != nil {
		return nil, fmt.Errorf("load stages for pipeline %d: %w", pipelineID, err)
	}
	if len(stages) == 0 {
		return stages, nil
	}

	for _, stage := range stages {
		if stage.LeadScoreMin != 0 || stage.LeadScoreMax != 0 {
			return stages, nil
		}
	}

	step := 100 / len(stages)
	for i := range stages {
		stages[i].LeadScoreMin = i * step
		if i == len(stages)-1 {
			stages[i].LeadScoreMax = 100
		} else {
			stages[i].LeadScoreMax = (i+1)*step - 1
		}
		if err := s.pipelines.SaveStage(&stages[i]); err != nil {
			return nil, fmt.Errorf("save score range for stage %d: %w", stages[i].ID, err)
		}
	}
	s.logger.Info("Generated score ranges for pipeline %d across %d stages", pipelineID, len(stages))
	return stages, nil
}
