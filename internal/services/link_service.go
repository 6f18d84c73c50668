// Package services contains the business logic of the link store: creation
// with collision retry, resolution, visit recording, enrichment attachment,
// deletion and the owner-facing analytics view.
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"

	"github.com/mgoffinet/linktrack/internal/cache"
	apperrors "github.com/mgoffinet/linktrack/internal/errors"
	"github.com/mgoffinet/linktrack/internal/geo"
	"github.com/mgoffinet/linktrack/internal/models"
	"github.com/mgoffinet/linktrack/internal/repository"
	"github.com/mgoffinet/linktrack/internal/shortcode"
	"gorm.io/gorm"
)

// maxCodeAttempts bounds the collision retry loop during creation.
const maxCodeAttempts = 5

// maxPageSize caps one page of the visitor listing. The log itself is
// unbounded; retrieval is not.
const maxPageSize = 100

// LinkService provides the business logic for links and their visitor logs.
// It is the single mutation path for link state.
type LinkService struct {
	linkRepo  repository.LinkRepository
	visitRepo repository.VisitRepository

	// resolveCache is optional; nil disables the Redis fast path.
	resolveCache *cache.Cache
}

// NewLinkService creates and returns a new LinkService. resolveCache may be
// nil.
func NewLinkService(linkRepo repository.LinkRepository, visitRepo repository.VisitRepository, resolveCache *cache.Cache) *LinkService {
	return &LinkService{
		linkRepo:     linkRepo,
		visitRepo:    visitRepo,
		resolveCache: resolveCache,
	}
}

// CreateRedirectLink creates a redirect-kind link for the given owner.
func (s *LinkService) CreateRedirectLink(ownerID, destinationURL string) (*models.Link, error) {
	if err := validateDestination(destinationURL); err != nil {
		return nil, err
	}
	link := &models.Link{
		Kind:           models.KindRedirect,
		DestinationURL: destinationURL,
		OwnerID:        ownerID,
	}
	return s.createWithUniqueCode(link)
}

// CreatePixelLink creates a pixel-kind link that serves the given hosted
// bytes with the given content type.
func (s *LinkService) CreatePixelLink(ownerID, contentType string, content []byte) (*models.Link, error) {
	if len(content) == 0 || contentType == "" {
		return nil, apperrors.ErrInvalidDestination
	}
	link := &models.Link{
		Kind:        models.KindPixel,
		ContentType: contentType,
		Content:     content,
		OwnerID:     ownerID,
	}
	return s.createWithUniqueCode(link)
}

// CreateProxyPixelLink creates a pixel-kind link that redirects to an
// external image URL instead of streaming stored bytes.
func (s *LinkService) CreateProxyPixelLink(ownerID, imageURL string) (*models.Link, error) {
	if err := validateDestination(imageURL); err != nil {
		return nil, err
	}
	link := &models.Link{
		Kind:           models.KindPixel,
		DestinationURL: imageURL,
		OwnerID:        ownerID,
	}
	return s.createWithUniqueCode(link)
}

// createWithUniqueCode assigns a fresh short code and inserts the link,
// retrying generation a bounded number of times on collision. The unique
// index on code re-validates at insert time what the pre-check saw.
func (s *LinkService) createWithUniqueCode(link *models.Link) (*models.Link, error) {
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code, err := shortcode.Generate()
		if err != nil {
			return nil, fmt.Errorf("failed to generate short code: %w", err)
		}

		_, err = s.linkRepo.GetLinkByCode(code)
		if err == nil {
			log.Printf("Short code '%s' already exists, retrying generation (%d/%d)...", code, attempt, maxCodeAttempts)
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storeError(err)
		}

		link.Code = code
		if err := s.linkRepo.CreateLink(link); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// The pre-check raced with a concurrent insert of the
				// same code; try a fresh one.
				log.Printf("Insert collision for short code '%s', retrying generation (%d/%d)...", code, attempt, maxCodeAttempts)
				continue
			}
			return nil, storeError(err)
		}
		return link, nil
	}
	return nil, apperrors.ErrCodeGenerationExhausted
}

// Resolve looks up a link by its short code without mutating anything.
// Redirect links go through the optional Redis cache first.
func (s *LinkService) Resolve(ctx context.Context, code string) (*models.Link, error) {
	if s.resolveCache != nil {
		entry, err := s.resolveCache.Get(ctx, code)
		if err == nil {
			return &models.Link{
				ID:             entry.LinkID,
				Code:           code,
				Kind:           entry.Kind,
				DestinationURL: entry.DestinationURL,
				OwnerID:        entry.OwnerID,
			}, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			log.Printf("Resolve cache error for %s: %v", code, err)
		}
	}

	link, err := s.linkRepo.GetLinkByCode(code)
	if err != nil {
		return nil, storeError(err)
	}

	if s.resolveCache != nil && link.Kind == models.KindRedirect {
		entry := &cache.Entry{
			LinkID:         link.ID,
			Kind:           link.Kind,
			DestinationURL: link.DestinationURL,
			OwnerID:        link.OwnerID,
		}
		if err := s.resolveCache.Set(ctx, code, entry); err != nil {
			log.Printf("Failed to warm resolve cache for %s: %v", code, err)
		}
	}

	return link, nil
}

// RecordVisit persists one visit with geo absent. For redirect links the
// click counter is incremented in the same transaction, so the counter and
// the visitor log cannot diverge.
func (s *LinkService) RecordVisit(event models.VisitEvent) (*models.Visit, error) {
	visit := &models.Visit{
		LinkID:    event.LinkID,
		Timestamp: event.Timestamp,
		IPAddress: event.IPAddress,
		UserAgent: event.UserAgent,
		Referrer:  event.Referrer,
	}
	if err := s.visitRepo.CreateVisit(visit, event.Kind == models.KindRedirect); err != nil {
		return nil, apperrors.ErrVisitRecordingFailed{Code: event.Code, Reason: err.Error()}
	}
	return visit, nil
}

// AttachGeo sets the geolocation of a visit. Idempotent: once a visit is
// enriched, further calls change nothing.
func (s *LinkService) AttachGeo(visitID uint, loc *geo.Location) error {
	if loc == nil {
		return nil
	}
	if err := s.visitRepo.AttachGeo(visitID, loc.City, loc.Region, loc.Country, loc.PostalCode, loc.ISP); err != nil {
		return storeError(err)
	}
	return nil
}

// Delete removes a link and all its visits. Only the owner may delete.
func (s *LinkService) Delete(ctx context.Context, code, ownerID string) error {
	link, err := s.linkRepo.GetLinkByCode(code)
	if err != nil {
		return storeError(err)
	}
	if link.OwnerID != ownerID {
		return apperrors.ErrForbidden
	}
	if err := s.linkRepo.DeleteLinkCascade(link.ID); err != nil {
		return storeError(err)
	}
	if s.resolveCache != nil {
		if err := s.resolveCache.Delete(ctx, code); err != nil {
			log.Printf("Failed to evict %s from resolve cache: %v", code, err)
		}
	}
	return nil
}

// GetVisitors returns one page of a link's visitor log, newest first, plus
// the total visit count. Only the owner may read it.
func (s *LinkService) GetVisitors(code, ownerID string, page, pageSize int) ([]models.Visit, int64, error) {
	link, err := s.linkRepo.GetLinkByCode(code)
	if err != nil {
		return nil, 0, storeError(err)
	}
	if link.OwnerID != ownerID {
		return nil, 0, apperrors.ErrForbidden
	}

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	total, err := s.visitRepo.CountVisitsByLinkID(link.ID)
	if err != nil {
		return nil, 0, storeError(err)
	}
	visits, err := s.visitRepo.ListVisitsByLinkID(link.ID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, storeError(err)
	}
	return visits, total, nil
}

// GetLinkStats returns a link with both of its counters: the click counter
// (redirect kind) and the visitor log length. For redirect links the two must
// match; the consistency tests assert it.
func (s *LinkService) GetLinkStats(code, ownerID string) (*models.Link, int64, error) {
	link, err := s.linkRepo.GetLinkByCode(code)
	if err != nil {
		return nil, 0, storeError(err)
	}
	if link.OwnerID != ownerID {
		return nil, 0, apperrors.ErrForbidden
	}
	visitors, err := s.visitRepo.CountVisitsByLinkID(link.ID)
	if err != nil {
		return nil, 0, storeError(err)
	}
	return link, visitors, nil
}

// ListLinks returns one page of an owner's links, newest first.
func (s *LinkService) ListLinks(ownerID string, page, pageSize int) ([]models.Link, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	links, total, err := s.linkRepo.ListLinksByOwner(ownerID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, storeError(err)
	}
	return links, total, nil
}

// validateDestination checks that raw is an absolute http(s) URL with a host.
func validateDestination(raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return apperrors.ErrInvalidDestination
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return apperrors.ErrInvalidDestination
	}
	return nil
}

// storeError maps repository errors onto the service taxonomy: "absent" stays
// distinguishable from "store broken".
func storeError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.ErrLinkNotFound
	}
	return fmt.Errorf("%w: %v", apperrors.ErrStoreUnavailable, err)
}
