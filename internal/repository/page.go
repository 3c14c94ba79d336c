package repository

import (
	"time"

	"crmsync/internal/models"

	"gorm.io/gorm"
)

// PageRepository handles database operations for Page
type PageRepository struct {
	db *gorm.DB
}

// NewPageRepository creates a new PageRepository
func NewPageRepository(db *gorm.DB) *PageRepository {
	return &PageRepository{db: db}
}

// Create persists a new page.
func (r *PageRepository) Create(page *models.Page) error {
	return r.db.Create(page).Error
}

// GetByID retrieves a page by primary key.
func (r *PageRepository) GetByID(id uint) (*models.Page, error) {
	var page models.Page
	err := r.db.First(&page, id).Error
	if err != nil {
		return nil, err
	}
	return &page, nil
}

// GetAll retrieves all pages.
func (r *PageRepository) GetAll() ([]models.Page, error) {
	var pages []models.Page
	err := r.db.Order("id").Find(&pages).Error
	return pages, err
}

// GetSyncEnabled retrieves pages with periodic sync turned on.
func (r *PageRepository) GetSyncEnabled() ([]models.Page, error) {
	var pages []models.Page
	err := r.db.Where("sync_enabled = ?", true).Find(&pages).Error
	return pages, err
}

// Update saves page changes.
func (r *PageRepository) Update(page *models.Page) error {
	return r.db.Save(page).Error
}

// TouchLastSync stamps the page's last successful sync time.
func (r *PageRepository) TouchLastSync(pageID uint, at time.Time) error {
	return r.db.Model(&models.Page{}).Where("id = ?", pageID).Update("last_sync_at", at).Error
}
