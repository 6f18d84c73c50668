package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mgoffinet/linktrack/internal/auth"
	apperrors "github.com/mgoffinet/linktrack/internal/errors"
	"github.com/mgoffinet/linktrack/internal/metrics"
	"github.com/mgoffinet/linktrack/internal/models"
	"github.com/mgoffinet/linktrack/internal/services"
	"github.com/mgoffinet/linktrack/internal/shortcode"
	"github.com/mgoffinet/linktrack/internal/workers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxPixelUpload caps the size of hosted pixel content.
const maxPixelUpload = 5 << 20

// SetupRoutes configures all Gin routes and injects the dependencies.
// The public resolution endpoints live under /s and /img; everything
// owner-facing sits behind the token middleware under /api/v1.
func SetupRoutes(router *gin.Engine, linkService *services.LinkService, pool *workers.Pool, issuer *auth.TokenIssuer, baseURL string) {
	// The visitor IP must be the one on the socket. Without this, gin trusts
	// X-Forwarded-For from anyone and the visitor log becomes client-writable.
	router.SetTrustedProxies(nil)

	router.GET("/health", HealthCheckHandler)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public resolution endpoints. These must stay fast and must never leak
	// internal detail; visit recording is best-effort and off-path.
	router.GET("/s/:code", RedirectHandler(linkService, pool))
	router.GET("/img/:code", PixelHandler(linkService, pool))

	api := router.Group("/api/v1")
	api.Use(issuer.Middleware())
	{
		api.POST("/links", CreateLinkHandler(linkService, baseURL))
		api.POST("/links/pixel", CreatePixelLinkHandler(linkService, baseURL))
		api.GET("/links", ListLinksHandler(linkService))
		api.GET("/links/:code/stats", GetLinkStatsHandler(linkService))
		api.GET("/links/:code/visitors", GetVisitorsHandler(linkService))
		api.DELETE("/links/:code", DeleteLinkHandler(linkService))
	}
}

// HealthCheckHandler handles the /health route to verify service status.
func HealthCheckHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// visitEventFromRequest captures the request context needed for a visitor
// record. The IP is the one the server saw, never client-supplied.
func visitEventFromRequest(c *gin.Context, link *models.Link) models.VisitEvent {
	return models.VisitEvent{
		LinkID:    link.ID,
		Code:      link.Code,
		Kind:      link.Kind,
		Timestamp: time.Now(),
		IPAddress: c.ClientIP(),
		UserAgent: c.GetHeader("User-Agent"),
		Referrer:  c.GetHeader("Referer"),
	}
}

// RedirectHandler resolves a short code and answers with a 302 to the
// destination. The visit is enqueued before the redirect but never blocks it:
// availability of the redirect takes precedence over logging completeness.
func RedirectHandler(linkService *services.LinkService, pool *workers.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		code := c.Param("code")
		if !shortcode.IsValid(code) {
			metrics.Redirects.WithLabelValues(models.KindRedirect, "bad_request").Inc()
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid short code"})
			return
		}

		link, err := linkService.Resolve(c.Request.Context(), code)
		if err != nil {
			if errors.Is(err, apperrors.ErrLinkNotFound) {
				metrics.Redirects.WithLabelValues(models.KindRedirect, "not_found").Inc()
				c.JSON(http.StatusNotFound, gin.H{"error": "short URL not found"})
				return
			}
			metrics.Redirects.WithLabelValues(models.KindRedirect, "error").Inc()
			log.Printf("Error resolving %s: %v", code, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}

		// A pixel code requested through /s is treated as absent so the
		// response doesn't reveal the link's kind.
		if link.Kind != models.KindRedirect {
			metrics.Redirects.WithLabelValues(models.KindRedirect, "not_found").Inc()
			c.JSON(http.StatusNotFound, gin.H{"error": "short URL not found"})
			return
		}

		pool.Enqueue(visitEventFromRequest(c, link))

		metrics.Redirects.WithLabelValues(models.KindRedirect, "ok").Inc()
		c.Redirect(http.StatusFound, link.DestinationURL)
	}
}

// PixelHandler resolves a pixel code and serves the hosted bytes with their
// stored content type, or redirects to the external image in proxy mode. The
// response is byte-identical whether or not the visit was recorded.
func PixelHandler(linkService *services.LinkService, pool *workers.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		code := c.Param("code")
		if !shortcode.IsValid(code) {
			metrics.Redirects.WithLabelValues(models.KindPixel, "bad_request").Inc()
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid short code"})
			return
		}

		link, err := linkService.Resolve(c.Request.Context(), code)
		if err != nil {
			if errors.Is(err, apperrors.ErrLinkNotFound) {
				metrics.Redirects.WithLabelValues(models.KindPixel, "not_found").Inc()
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			metrics.Redirects.WithLabelValues(models.KindPixel, "error").Inc()
			log.Printf("Error resolving %s: %v", code, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}

		if link.Kind != models.KindPixel {
			metrics.Redirects.WithLabelValues(models.KindPixel, "not_found").Inc()
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}

		pool.Enqueue(visitEventFromRequest(c, link))
		metrics.Redirects.WithLabelValues(models.KindPixel, "ok").Inc()

		if link.HasContent() {
			c.Data(http.StatusOK, link.ContentType, link.Content)
			return
		}
		c.Redirect(http.StatusFound, link.DestinationURL)
	}
}

// CreateLinkRequest is the JSON body for creating a redirect link or a
// proxy-mode pixel link. Hosted pixel content goes through /links/pixel.
type CreateLinkRequest struct {
	Kind           string `json:"kind" binding:"required,oneof=redirect pixel"`
	DestinationURL string `json:"destination_url"`
	ImageURL       string `json:"image_url"`
}

// CreateLinkResponse is the JSON answer for any creation endpoint.
type CreateLinkResponse struct {
	Code         string    `json:"code"`
	Kind         string    `json:"kind"`
	FullShortURL string    `json:"full_short_url"`
	CreatedAt    time.Time `json:"created_at"`
}

func creationResponse(link *models.Link, baseURL, pathPrefix string) CreateLinkResponse {
	return CreateLinkResponse{
		Code:         link.Code,
		Kind:         link.Kind,
		FullShortURL: fmt.Sprintf("%s/%s/%s", baseURL, pathPrefix, link.Code),
		CreatedAt:    link.CreatedAt,
	}
}

// CreateLinkHandler creates a redirect link or a proxy-mode pixel link for
// the authenticated owner.
func CreateLinkHandler(linkService *services.LinkService, baseURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID, ok := auth.OwnerID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "owner not authenticated"})
			return
		}

		var req CreateLinkRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}

		var link *models.Link
		var err error
		var pathPrefix string
		switch req.Kind {
		case models.KindRedirect:
			link, err = linkService.CreateRedirectLink(ownerID, req.DestinationURL)
			pathPrefix = "s"
		case models.KindPixel:
			link, err = linkService.CreateProxyPixelLink(ownerID, req.ImageURL)
			pathPrefix = "img"
		}
		if err != nil {
			writeCreateError(c, err)
			return
		}

		c.JSON(http.StatusCreated, creationResponse(link, baseURL, pathPrefix))
	}
}

// CreatePixelLinkHandler creates a pixel link from raw uploaded bytes. The
// request body is the content; its Content-Type header is stored with it and
// echoed back on every /img hit.
func CreatePixelLinkHandler(linkService *services.LinkService, baseURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID, ok := auth.OwnerID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "owner not authenticated"})
			return
		}

		if c.Request.ContentLength > maxPixelUpload {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "pixel content too large"})
			return
		}

		content, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
			return
		}

		link, err := linkService.CreatePixelLink(ownerID, c.ContentType(), content)
		if err != nil {
			writeCreateError(c, err)
			return
		}

		c.JSON(http.StatusCreated, creationResponse(link, baseURL, "img"))
	}
}

func writeCreateError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperrors.ErrInvalidDestination):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid destination"})
	case errors.Is(err, apperrors.ErrCodeGenerationExhausted):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unable to generate unique short code, please try again later"})
	default:
		log.Printf("Error creating link: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create link"})
	}
}

// LinkSummary is one element of the owner's link listing.
type LinkSummary struct {
	Code           string    `json:"code"`
	Kind           string    `json:"kind"`
	DestinationURL string    `json:"destination_url,omitempty"`
	ContentType    string    `json:"content_type,omitempty"`
	ClickCount     int64     `json:"click_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// ListLinksHandler returns one page of the owner's links.
func ListLinksHandler(linkService *services.LinkService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID, ok := auth.OwnerID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "owner not authenticated"})
			return
		}

		page, size := pagination(c)
		links, total, err := linkService.ListLinks(ownerID, page, size)
		if err != nil {
			log.Printf("Error listing links for %s: %v", ownerID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}

		summaries := make([]LinkSummary, 0, len(links))
		for _, link := range links {
			summaries = append(summaries, LinkSummary{
				Code:           link.Code,
				Kind:           link.Kind,
				DestinationURL: link.DestinationURL,
				ContentType:    link.ContentType,
				ClickCount:     link.ClickCount,
				CreatedAt:      link.CreatedAt,
			})
		}

		c.JSON(http.StatusOK, gin.H{
			"links": summaries,
			"total": total,
			"page":  page,
			"size":  size,
		})
	}
}

// GetLinkStatsHandler returns a link's metadata and both of its counters.
func GetLinkStatsHandler(linkService *services.LinkService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID, ok := auth.OwnerID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "owner not authenticated"})
			return
		}

		code := c.Param("code")
		link, visitors, err := linkService.GetLinkStats(code, ownerID)
		if err != nil {
			writeOwnerError(c, code, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"code":          link.Code,
			"kind":          link.Kind,
			"click_count":   link.ClickCount,
			"visitor_count": visitors,
			"created_at":    link.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}
}

// GeoResponse is the enrichment block of a visitor entry; omitted entirely
// while enrichment hasn't completed.
type GeoResponse struct {
	City       string `json:"city,omitempty"`
	Region     string `json:"region,omitempty"`
	Country    string `json:"country,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	ISP        string `json:"isp,omitempty"`
}

// VisitorResponse is one entry of the visitor log.
type VisitorResponse struct {
	Timestamp time.Time    `json:"timestamp"`
	IPAddress string       `json:"ip_address"`
	UserAgent string       `json:"user_agent,omitempty"`
	Referrer  string       `json:"referrer,omitempty"`
	Geo       *GeoResponse `json:"geo,omitempty"`
}

// GetVisitorsHandler returns one page of a link's visitor log, newest first.
func GetVisitorsHandler(linkService *services.LinkService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID, ok := auth.OwnerID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "owner not authenticated"})
			return
		}

		code := c.Param("code")
		page, size := pagination(c)
		visits, total, err := linkService.GetVisitors(code, ownerID, page, size)
		if err != nil {
			writeOwnerError(c, code, err)
			return
		}

		entries := make([]VisitorResponse, 0, len(visits))
		for _, v := range visits {
			entry := VisitorResponse{
				Timestamp: v.Timestamp,
				IPAddress: v.IPAddress,
				UserAgent: v.UserAgent,
				Referrer:  v.Referrer,
			}
			if v.Enriched() {
				entry.Geo = &GeoResponse{
					City:       v.City,
					Region:     v.Region,
					Country:    v.Country,
					PostalCode: v.PostalCode,
					ISP:        v.ISP,
				}
			}
			entries = append(entries, entry)
		}

		c.JSON(http.StatusOK, gin.H{
			"visitors": entries,
			"total":    total,
			"page":     page,
			"size":     size,
		})
	}
}

// DeleteLinkHandler removes a link and its visitor log.
func DeleteLinkHandler(linkService *services.LinkService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID, ok := auth.OwnerID(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "owner not authenticated"})
			return
		}

		code := c.Param("code")
		if err := linkService.Delete(c.Request.Context(), code, ownerID); err != nil {
			writeOwnerError(c, code, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func writeOwnerError(c *gin.Context, code string, err error) {
	switch {
	case errors.Is(err, apperrors.ErrLinkNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "short URL not found"})
	case errors.Is(err, apperrors.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "you don't have permission to manage this link"})
	default:
		log.Printf("Error handling %s: %v", code, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func pagination(c *gin.Context) (int, int) {
	page := 1
	size := 20
	if v, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(c.DefaultQuery("size", "20")); err == nil && v > 0 {
		size = v
	}
	return page, size
}
