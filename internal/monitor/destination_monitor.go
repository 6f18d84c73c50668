package monitor

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/mgoffinet/linktrack/internal/models"
	"github.com/mgoffinet/linktrack/internal/repository"
)

// DestinationMonitor periodically checks whether redirect destinations are
// still reachable and logs state transitions. Pixel links are skipped: their
// content is either hosted locally or fetched by the visitor's browser.
type DestinationMonitor struct {
	linkRepo    repository.LinkRepository
	interval    time.Duration
	knownStates map[uint]bool
	mu          sync.Mutex
	httpClient  *http.Client
}

// NewDestinationMonitor creates a monitor checking every interval.
func NewDestinationMonitor(linkRepo repository.LinkRepository, interval time.Duration) *DestinationMonitor {
	return &DestinationMonitor{
		linkRepo:    linkRepo,
		interval:    interval,
		knownStates: make(map[uint]bool),
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Start runs the monitoring loop until ctx is cancelled.
func (m *DestinationMonitor) Start(ctx context.Context) {
	log.Printf("[MONITOR] Starting destination monitor with interval of %v...", m.interval)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.checkDestinations(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("[MONITOR] Destination monitor stopped.")
			return
		case <-ticker.C:
			m.checkDestinations(ctx)
		}
	}
}

// checkDestinations verifies every redirect destination and logs changes
// against the previously observed state.
func (m *DestinationMonitor) checkDestinations(ctx context.Context) {
	links, err := m.linkRepo.GetAllLinks()
	if err != nil {
		log.Printf("[MONITOR] ERROR retrieving links for monitoring: %v", err)
		return
	}

	for _, link := range links {
		if link.Kind != models.KindRedirect {
			continue
		}
		if ctx.Err() != nil {
			return
		}

		currentState := m.isReachable(ctx, link.DestinationURL)

		m.mu.Lock()
		previousState, seen := m.knownStates[link.ID]
		m.knownStates[link.ID] = currentState
		m.mu.Unlock()

		if !seen {
			log.Printf("[MONITOR] Initial state for link %s (%s): %s",
				link.Code, link.DestinationURL, formatState(currentState))
			continue
		}

		if currentState != previousState {
			log.Printf("[MONITOR] Link %s (%s) changed from %s to %s",
				link.Code, link.DestinationURL, formatState(previousState), formatState(currentState))
		}
	}
}

// isReachable issues a HEAD request with a bounded deadline. 2xx and 3xx
// count as reachable.
func (m *DestinationMonitor) isReachable(ctx context.Context, url string) bool {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, url, nil)
	if err != nil {
		log.Printf("[MONITOR] Error creating request for URL '%s': %v", url, err)
		return false
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 400
}

func formatState(reachable bool) string {
	if reachable {
		return "REACHABLE"
	}
	return "UNREACHABLE"
}
