package repository

import (
	"fmt"

	"github.com/mgoffinet/linktrack/internal/models"
	"gorm.io/gorm"
)

// LinkRepository defines the data access methods for links.
type LinkRepository interface {
	CreateLink(link *models.Link) error
	GetLinkByCode(code string) (*models.Link, error)
	GetAllLinks() ([]models.Link, error)
	ListLinksByOwner(ownerID string, limit, offset int) ([]models.Link, int64, error)
	DeleteLinkCascade(linkID uint) error
}

// GormLinkRepository is the GORM implementation of LinkRepository.
type GormLinkRepository struct {
	db *gorm.DB
}

// NewLinkRepository creates and returns a new GormLinkRepository.
func NewLinkRepository(db *gorm.DB) *GormLinkRepository {
	return &GormLinkRepository{db: db}
}

// CreateLink inserts a new link. The unique index on code is the final
// arbiter of uniqueness; a violation surfaces as an error for the service's
// retry loop.
func (r *GormLinkRepository) CreateLink(link *models.Link) error {
	if err := r.db.Create(link).Error; err != nil {
		return fmt.Errorf("failed to create link: %w", err)
	}
	return nil
}

// GetLinkByCode fetches a link by its short code. Returns
// gorm.ErrRecordNotFound untouched so callers can distinguish "absent" from
// "store broken".
func (r *GormLinkRepository) GetLinkByCode(code string) (*models.Link, error) {
	var link models.Link
	if err := r.db.Where("code = ?", code).First(&link).Error; err != nil {
		return nil, err
	}
	return &link, nil
}

// GetAllLinks returns every link in the store. Used by the destination
// monitor, not by the request path.
func (r *GormLinkRepository) GetAllLinks() ([]models.Link, error) {
	var links []models.Link
	if err := r.db.Find(&links).Error; err != nil {
		return nil, fmt.Errorf("failed to retrieve all links: %w", err)
	}
	return links, nil
}

// ListLinksByOwner returns one page of an owner's links, newest first, along
// with the owner's total link count.
func (r *GormLinkRepository) ListLinksByOwner(ownerID string, limit, offset int) ([]models.Link, int64, error) {
	var total int64
	if err := r.db.Model(&models.Link{}).Where("owner_id = ?", ownerID).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count links for owner %s: %w", ownerID, err)
	}
	var links []models.Link
	err := r.db.Where("owner_id = ?", ownerID).
		Order("created_at desc").
		Limit(limit).Offset(offset).
		Find(&links).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list links for owner %s: %w", ownerID, err)
	}
	return links, total, nil
}

// DeleteLinkCascade removes a link and all of its visits in one transaction,
// so a half-deleted link can never be observed.
func (r *GormLinkRepository) DeleteLinkCascade(linkID uint) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("link_id = ?", linkID).Delete(&models.Visit{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Link{}, linkID).Error
	})
	if err != nil {
		return fmt.Errorf("failed to delete link %d: %w", linkID, err)
	}
	return nil
}
