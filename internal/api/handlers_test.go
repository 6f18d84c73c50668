package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mgoffinet/linktrack/internal/auth"
	"github.com/mgoffinet/linktrack/internal/geo"
	"github.com/mgoffinet/linktrack/internal/models"
	"github.com/mgoffinet/linktrack/internal/repository"
	"github.com/mgoffinet/linktrack/internal/services"
	"github.com/mgoffinet/linktrack/internal/workers"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	m.Run()
}

type harness struct {
	server    *httptest.Server
	client    *http.Client
	issuer    *auth.TokenIssuer
	pool      *workers.Pool
	linkRepo  repository.LinkRepository
	visitRepo repository.VisitRepository
	flushOnce sync.Once
}

// newHarness wires the full stack (sqlite store, service, worker pool, gin
// router) behind an httptest server. provider may be nil.
func newHarness(t *testing.T, provider geo.Provider, geoTimeout time.Duration) *harness {
	t.Helper()

	db, err := repository.OpenDatabase(filepath.Join(t.TempDir(), "api_test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&models.Link{}, &models.Visit{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	linkRepo := repository.NewLinkRepository(db)
	visitRepo := repository.NewVisitRepository(db)
	linkService := services.NewLinkService(linkRepo, visitRepo, nil)

	pool := workers.NewPool(256, linkService, provider, geoTimeout)
	pool.Start(2)

	issuer, err := auth.NewTokenIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("failed to create token issuer: %v", err)
	}

	router := gin.New()
	SetupRoutes(router, linkService, pool, issuer, "http://localhost:8080")

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	client := server.Client()
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &harness{
		server:    server,
		client:    client,
		issuer:    issuer,
		pool:      pool,
		linkRepo:  linkRepo,
		visitRepo: visitRepo,
	}
}

// flush drains the visit pipeline. No public requests may follow it.
func (h *harness) flush() {
	h.flushOnce.Do(h.pool.Stop)
}

func (h *harness) token(t *testing.T, owner string) string {
	t.Helper()
	token, err := h.issuer.Issue(owner)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (h *harness) doJSON(t *testing.T, method, path, token string, payload interface{}) *http.Response {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, h.server.URL+path, body)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func (h *harness) createRedirect(t *testing.T, token, destination string) string {
	t.Helper()
	resp := h.doJSON(t, http.MethodPost, "/api/v1/links", token, map[string]string{
		"kind":            "redirect",
		"destination_url": destination,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create redirect: expected 201, got %d", resp.StatusCode)
	}
	var created CreateLinkResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode creation response: %v", err)
	}
	if created.Code == "" {
		t.Fatal("creation response has empty code")
	}
	return created.Code
}

func TestRedirectFlowConcurrent(t *testing.T) {
	h := newHarness(t, nil, time.Second)
	token := h.token(t, "alice")
	code := h.createRedirect(t, token, "https://example.com/page")

	const visitors = 50
	var wg sync.WaitGroup
	wg.Add(visitors)
	for i := 0; i < visitors; i++ {
		go func() {
			defer wg.Done()
			resp, err := h.client.Get(h.server.URL + "/s/" + code)
			if err != nil {
				t.Errorf("redirect request failed: %v", err)
				return
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusFound {
				t.Errorf("expected 302, got %d", resp.StatusCode)
			}
			if loc := resp.Header.Get("Location"); loc != "https://example.com/page" {
				t.Errorf("unexpected Location %q", loc)
			}
		}()
	}
	wg.Wait()
	h.flush()

	resp := h.doJSON(t, http.MethodGet, "/api/v1/links/"+code+"/stats", token, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d", resp.StatusCode)
	}
	var stats struct {
		ClickCount   int64 `json:"click_count"`
		VisitorCount int64 `json:"visitor_count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if stats.ClickCount != visitors {
		t.Errorf("click count = %d, want %d", stats.ClickCount, visitors)
	}
	if stats.VisitorCount != visitors {
		t.Errorf("visitor count = %d, want %d", stats.VisitorCount, visitors)
	}
}

func TestPixelFlowHostedContent(t *testing.T) {
	h := newHarness(t, nil, time.Second)
	token := h.token(t, "alice")

	// 10KB of pseudo-PNG content; the handler must return it byte-identical.
	payload := make([]byte, 10*1024)
	if _, err := rand.Read(payload); err != nil {
		t.Fatalf("failed to fill payload: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, h.server.URL+"/api/v1/links/pixel", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("failed to build upload request: %v", err)
	}
	req.Header.Set("Content-Type", "image/png")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := h.client.Do(req)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload: expected 201, got %d", resp.StatusCode)
	}
	var created CreateLinkResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode creation response: %v", err)
	}

	imgResp, err := h.client.Get(h.server.URL + "/img/" + created.Code)
	if err != nil {
		t.Fatalf("pixel request failed: %v", err)
	}
	defer imgResp.Body.Close()
	if imgResp.StatusCode != http.StatusOK {
		t.Fatalf("pixel: expected 200, got %d", imgResp.StatusCode)
	}
	if ct := imgResp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", ct)
	}
	served, err := io.ReadAll(imgResp.Body)
	if err != nil {
		t.Fatalf("failed to read pixel body: %v", err)
	}
	if !bytes.Equal(served, payload) {
		t.Errorf("served content differs from uploaded content (%d vs %d bytes)", len(served), len(payload))
	}

	h.flush()
	resp = h.doJSON(t, http.MethodGet, "/api/v1/links/"+created.Code+"/visitors", token, nil)
	defer resp.Body.Close()
	var listing struct {
		Total int64 `json:"total"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		t.Fatalf("failed to decode visitors: %v", err)
	}
	if listing.Total != 1 {
		t.Errorf("visitor total = %d, want exactly 1", listing.Total)
	}
}

func TestPixelProxyModeRedirects(t *testing.T) {
	h := newHarness(t, nil, time.Second)
	token := h.token(t, "alice")

	resp := h.doJSON(t, http.MethodPost, "/api/v1/links", token, map[string]string{
		"kind":      "pixel",
		"image_url": "https://cdn.example.com/logo.png",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create proxy pixel: expected 201, got %d", resp.StatusCode)
	}
	var created CreateLinkResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode creation response: %v", err)
	}

	imgResp, err := h.client.Get(h.server.URL + "/img/" + created.Code)
	if err != nil {
		t.Fatalf("pixel request failed: %v", err)
	}
	defer imgResp.Body.Close()
	if imgResp.StatusCode != http.StatusFound {
		t.Errorf("proxy pixel: expected 302, got %d", imgResp.StatusCode)
	}
	if loc := imgResp.Header.Get("Location"); loc != "https://cdn.example.com/logo.png" {
		t.Errorf("unexpected Location %q", loc)
	}
}

func TestUnknownCodeRecordsNoVisit(t *testing.T) {
	h := newHarness(t, nil, time.Second)

	resp, err := h.client.Get(h.server.URL + "/s/nosuch99")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}

	imgResp, err := h.client.Get(h.server.URL + "/img/nosuch99")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	imgResp.Body.Close()
	if imgResp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", imgResp.StatusCode)
	}

	h.flush()
	count, err := h.visitRepo.CountVisitsByLinkID(0)
	if err != nil {
		t.Fatalf("CountVisitsByLinkID returned error: %v", err)
	}
	if count != 0 {
		t.Errorf("expected no visit records for unknown codes, got %d", count)
	}
}

func TestMalformedCodeRejected(t *testing.T) {
	h := newHarness(t, nil, time.Second)

	for _, code := range []string{"ab", "UPPERCASE1", "bad!code"} {
		resp, err := h.client.Get(h.server.URL + "/s/" + code)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("code %q: expected 400, got %d", code, resp.StatusCode)
		}
	}
}

func TestKindMismatchLooksLikeNotFound(t *testing.T) {
	h := newHarness(t, nil, time.Second)
	token := h.token(t, "alice")
	redirectCode := h.createRedirect(t, token, "https://example.com")

	resp := h.doJSON(t, http.MethodPost, "/api/v1/links", token, map[string]string{
		"kind":      "pixel",
		"image_url": "https://cdn.example.com/logo.png",
	})
	var pixelCreated CreateLinkResponse
	if err := json.NewDecoder(resp.Body).Decode(&pixelCreated); err != nil {
		t.Fatalf("failed to decode creation response: %v", err)
	}
	resp.Body.Close()

	// A pixel code through /s and a redirect code through /img must both be
	// indistinguishable from an unknown code.
	wrong, err := h.client.Get(h.server.URL + "/s/" + pixelCreated.Code)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	wrong.Body.Close()
	if wrong.StatusCode != http.StatusNotFound {
		t.Errorf("pixel code via /s: expected 404, got %d", wrong.StatusCode)
	}

	wrong, err = h.client.Get(h.server.URL + "/img/" + redirectCode)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	wrong.Body.Close()
	if wrong.StatusCode != http.StatusNotFound {
		t.Errorf("redirect code via /img: expected 404, got %d", wrong.StatusCode)
	}
}

func TestCreateInvalidDestination(t *testing.T) {
	h := newHarness(t, nil, time.Second)
	token := h.token(t, "alice")

	resp := h.doJSON(t, http.MethodPost, "/api/v1/links", token, map[string]string{
		"kind":            "redirect",
		"destination_url": "not a url",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid destination, got %d", resp.StatusCode)
	}
}

func TestManagementRequiresToken(t *testing.T) {
	h := newHarness(t, nil, time.Second)

	resp := h.doJSON(t, http.MethodPost, "/api/v1/links", "", map[string]string{
		"kind":            "redirect",
		"destination_url": "https://example.com",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", resp.StatusCode)
	}

	resp = h.doJSON(t, http.MethodGet, "/api/v1/links", "invalid-token", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 with invalid token, got %d", resp.StatusCode)
	}
}

func TestDeleteOwnershipAndCascade(t *testing.T) {
	h := newHarness(t, nil, time.Second)
	aliceToken := h.token(t, "alice")
	malloryToken := h.token(t, "mallory")
	code := h.createRedirect(t, aliceToken, "https://example.com")

	resp := h.doJSON(t, http.MethodDelete, "/api/v1/links/"+code, malloryToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("foreign owner delete: expected 403, got %d", resp.StatusCode)
	}

	resp = h.doJSON(t, http.MethodDelete, "/api/v1/links/"+code, aliceToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("owner delete: expected 204, got %d", resp.StatusCode)
	}

	gone, err := h.client.Get(h.server.URL + "/s/" + code)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	gone.Body.Close()
	if gone.StatusCode != http.StatusNotFound {
		t.Errorf("deleted code: expected 404, got %d", gone.StatusCode)
	}
}

func TestForwardedForHeaderNotTrusted(t *testing.T) {
	h := newHarness(t, nil, time.Second)
	token := h.token(t, "alice")
	code := h.createRedirect(t, token, "https://example.com")

	req, err := http.NewRequest(http.MethodGet, h.server.URL+"/s/"+code, nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("X-Forwarded-For", "1.2.3.4")
	resp, err := h.client.Do(req)
	if err != nil {
		t.Fatalf("redirect request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected 302, got %d", resp.StatusCode)
	}
	h.flush()

	link, err := h.linkRepo.GetLinkByCode(code)
	if err != nil {
		t.Fatalf("GetLinkByCode returned error: %v", err)
	}
	visits, err := h.visitRepo.ListVisitsByLinkID(link.ID, 10, 0)
	if err != nil {
		t.Fatalf("ListVisitsByLinkID returned error: %v", err)
	}
	if len(visits) != 1 {
		t.Fatalf("expected 1 visit, got %d", len(visits))
	}
	if visits[0].IPAddress == "1.2.3.4" {
		t.Errorf("recorded IP %q came from a client header, not the connection", visits[0].IPAddress)
	}
	if visits[0].IPAddress != "127.0.0.1" {
		t.Errorf("recorded IP = %q, want the connection peer 127.0.0.1", visits[0].IPAddress)
	}
}

func TestVisitorsForbiddenForForeignOwner(t *testing.T) {
	h := newHarness(t, nil, time.Second)
	aliceToken := h.token(t, "alice")
	malloryToken := h.token(t, "mallory")
	code := h.createRedirect(t, aliceToken, "https://example.com")

	resp := h.doJSON(t, http.MethodGet, "/api/v1/links/"+code+"/visitors", malloryToken, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %d", resp.StatusCode)
	}
}

// stubProvider returns a fixed location, or blocks past the deadline when
// slow is set.
type stubProvider struct {
	loc  *geo.Location
	slow bool
}

func (p *stubProvider) Lookup(ctx context.Context, ip string) (*geo.Location, error) {
	if p.slow {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
	return p.loc, nil
}

func TestVisitEnrichedWhenProviderSucceeds(t *testing.T) {
	provider := &stubProvider{loc: &geo.Location{City: "Lyon", Country: "France", ISP: "Example Telecom"}}
	h := newHarness(t, provider, time.Second)
	token := h.token(t, "alice")
	code := h.createRedirect(t, token, "https://example.com")

	resp, err := h.client.Get(h.server.URL + "/s/" + code)
	if err != nil {
		t.Fatalf("redirect request failed: %v", err)
	}
	resp.Body.Close()
	h.flush()

	listing := h.doJSON(t, http.MethodGet, "/api/v1/links/"+code+"/visitors", token, nil)
	defer listing.Body.Close()
	var body struct {
		Visitors []VisitorResponse `json:"visitors"`
	}
	if err := json.NewDecoder(listing.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode visitors: %v", err)
	}
	if len(body.Visitors) != 1 {
		t.Fatalf("expected 1 visitor, got %d", len(body.Visitors))
	}
	if body.Visitors[0].Geo == nil || body.Visitors[0].Geo.City != "Lyon" {
		t.Errorf("visitor not enriched: %+v", body.Visitors[0])
	}
}

func TestVisitSurvivesProviderTimeout(t *testing.T) {
	h := newHarness(t, &stubProvider{slow: true}, 50*time.Millisecond)
	token := h.token(t, "alice")
	code := h.createRedirect(t, token, "https://example.com")

	resp, err := h.client.Get(h.server.URL + "/s/" + code)
	if err != nil {
		t.Fatalf("redirect request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Errorf("expected 302 despite slow provider, got %d", resp.StatusCode)
	}
	h.flush()

	listing := h.doJSON(t, http.MethodGet, "/api/v1/links/"+code+"/visitors", token, nil)
	defer listing.Body.Close()
	var body struct {
		Visitors []VisitorResponse `json:"visitors"`
	}
	if err := json.NewDecoder(listing.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode visitors: %v", err)
	}
	if len(body.Visitors) != 1 {
		t.Fatalf("expected 1 visitor, got %d", len(body.Visitors))
	}
	if body.Visitors[0].Geo != nil {
		t.Errorf("expected geo absent after provider timeout, got %+v", body.Visitors[0].Geo)
	}
}
