package repository

import (
	"crmsync/internal/models"

	"gorm.io/gorm"
)

// PipelineRepository handles database operations for Pipeline and PipelineStage
type PipelineRepository struct {
	db *gorm.DB
}

// NewPipelineRepository creates a new PipelineRepository
func NewPipelineRepository(db *gorm.DB) *PipelineRepository {
	return &PipelineRepository{db: db}
}

// GetAll retrieves all pipelines.
func (r *PipelineRepository) GetAll() ([]models.Pipeline, error) {
	var pipelines []models.Pipeline
	err := r.db.Order("id").Find(&pipelines).Error
	return pipelines, err
}

// GetByID retrieves a pipeline by id.
func (r *PipelineRepository) GetByID(id uint) (*models.Pipeline, error) {
	var pipeline models.Pipeline
	err := r.db.First(&pipeline, id).Error
	if err != nil {
		return nil, err
	}
	return &pipeline, nil
}

// GetStages retrieves a pipeline's stages in ascending stage order.
func (r *PipelineRepository) GetStages(pipelineID uint) ([]models.PipelineStage, error) {
	var stages []models.PipelineStage
	err := r.db.Where("pipeline_id = ?", pipelineID).Order("stage_order ASC").Find(&stages).Error
	return stages, err
}

// SaveStage persists stage changes.
func (r *PipelineRepository) SaveStage(stage *models.PipelineStage) error {
	return r.db.Save(stage).Error
}

// SeedDefault creates a default pipeline with placeholder stages when no
// pipeline exists yet. Score ranges stay at zero until the stage assigner
// partitions them on first use.
func (r *PipelineRepository) SeedDefault() (*models.Pipeline, error) {
	var count int64
	if err := r.db.Model(&models.Pipeline{}).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		var first models.Pipeline
		if err := r.db.Order("id").First(&first).Error; err != nil {
			return nil, err
		}
		return &first, nil
	}

	pipeline := &models.Pipeline{Name: "Default Pipeline", IsDefault: true}
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(pipeline).Error; err != nil {
			return err
		}
		names := []string{"New Lead", "Engaged", "Qualified", "Negotiation", "Closed"}
		for i, name := range names {
			stage := models.PipelineStage{
				PipelineID: pipeline.ID,
				Name:       name,
				Order:      i + 1,
			}
			if err := tx.Create(&stage).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pipeline, nil
}
