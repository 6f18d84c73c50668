package repository

import (
	"fmt"
	"time"

	"github.com/mgoffinet/linktrack/internal/models"
	"gorm.io/gorm"
)

// VisitRepository defines the data access methods for visit records.
type VisitRepository interface {
	CreateVisit(visit *models.Visit, incrementClicks bool) error
	AttachGeo(visitID uint, city, region, country, postalCode, isp string) error
	ListVisitsByLinkID(linkID uint, limit, offset int) ([]models.Visit, error)
	CountVisitsByLinkID(linkID uint) (int64, error)
	GetVisitByID(visitID uint) (*models.Visit, error)
}

// GormVisitRepository is the GORM implementation of VisitRepository.
type GormVisitRepository struct {
	db *gorm.DB
}

// NewVisitRepository creates and returns a new GormVisitRepository.
func NewVisitRepository(db *gorm.DB) *GormVisitRepository {
	return &GormVisitRepository{db: db}
}

// CreateVisit inserts a visit record and, for redirect links, bumps the
// link's click counter in the same transaction. The increment is a SQL
// expression, not read-modify-write, so two simultaneous visits to the same
// code are both counted.
func (r *GormVisitRepository) CreateVisit(visit *models.Visit, incrementClicks bool) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(visit).Error; err != nil {
			return err
		}
		if incrementClicks {
			return tx.Model(&models.Link{}).
				Where("id = ?", visit.LinkID).
				UpdateColumn("click_count", gorm.Expr("click_count + ?", 1)).Error
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record visit for link %d: %w", visit.LinkID, err)
	}
	return nil
}

// AttachGeo fills in the geolocation columns of a visit. The WHERE guard on
// enriched_at makes the update write-once: a second call with the same data
// matches zero rows and is a no-op, not an error.
func (r *GormVisitRepository) AttachGeo(visitID uint, city, region, country, postalCode, isp string) error {
	err := r.db.Model(&models.Visit{}).
		Where("id = ? AND enriched_at IS NULL", visitID).
		Updates(map[string]interface{}{
			"city":        city,
			"region":      region,
			"country":     country,
			"postal_code": postalCode,
			"isp":         isp,
			"enriched_at": time.Now().UTC(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to attach geo to visit %d: %w", visitID, err)
	}
	return nil
}

// ListVisitsByLinkID returns one page of visits for a link, newest first.
func (r *GormVisitRepository) ListVisitsByLinkID(linkID uint, limit, offset int) ([]models.Visit, error) {
	var visits []models.Visit
	err := r.db.Where("link_id = ?", linkID).
		Order("timestamp desc").
		Limit(limit).Offset(offset).
		Find(&visits).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list visits for link %d: %w", linkID, err)
	}
	return visits, nil
}

// CountVisitsByLinkID counts all recorded visits for a link.
func (r *GormVisitRepository) CountVisitsByLinkID(linkID uint) (int64, error) {
	var count int64
	if err := r.db.Model(&models.Visit{}).Where("link_id = ?", linkID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count visits for link %d: %w", linkID, err)
	}
	return count, nil
}

// GetVisitByID fetches a single visit record.
func (r *GormVisitRepository) GetVisitByID(visitID uint) (*models.Visit, error) {
	var visit models.Visit
	if err := r.db.First(&visit, visitID).Error; err != nil {
		return nil, err
	}
	return &visit, nil
}
