// Package workers runs the asynchronous visit pipeline: persist the visit,
// then enrich it with geolocation data, both off the request path.
package workers

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/mgoffinet/linktrack/internal/geo"
	"github.com/mgoffinet/linktrack/internal/metrics"
	"github.com/mgoffinet/linktrack/internal/models"
	"github.com/mgoffinet/linktrack/internal/services"
)

// Pool is a fixed-size worker pool fed by a buffered channel. Handlers
// enqueue without blocking; when the buffer is full the event is dropped and
// counted, never the response delayed.
type Pool struct {
	events      chan models.VisitEvent
	wg          sync.WaitGroup
	linkService *services.LinkService

	// provider may be nil, in which case visits stay unenriched.
	provider   geo.Provider
	geoTimeout time.Duration
}

// NewPool creates a pool with the given buffer size. Call Start to launch the
// workers.
func NewPool(bufferSize int, linkService *services.LinkService, provider geo.Provider, geoTimeout time.Duration) *Pool {
	return &Pool{
		events:      make(chan models.VisitEvent, bufferSize),
		linkService: linkService,
		provider:    provider,
		geoTimeout:  geoTimeout,
	}
}

// Start launches workerCount goroutines draining the event channel.
func (p *Pool) Start(workerCount int) {
	log.Printf("Starting %d visit worker(s)...", workerCount)
	for i := 0; i < workerCount; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Enqueue hands a visit event to the pipeline without blocking. Returns false
// when the buffer is full; the event is dropped and the drop counted.
func (p *Pool) Enqueue(event models.VisitEvent) bool {
	select {
	case p.events <- event:
		return true
	default:
		metrics.VisitsDropped.Inc()
		log.Printf("WARNING: visit buffer full, dropping visit event for %s", event.Code)
		return false
	}
}

// Stop closes the channel and waits until every queued event has been
// processed. Each enrichment call is bounded by geoTimeout, so Stop returns
// in bounded time. Enqueue must not be called after Stop.
func (p *Pool) Stop() {
	close(p.events)
	p.wg.Wait()
}

// worker drains the channel until it is closed.
func (p *Pool) worker() {
	defer p.wg.Done()
	for event := range p.events {
		p.process(event)
	}
}

// process persists one visit and then attempts enrichment. A failed write is
// counted and logged; a failed enrichment leaves the visit unenriched. The
// requester never sees either.
func (p *Pool) process(event models.VisitEvent) {
	visit, err := p.linkService.RecordVisit(event)
	if err != nil {
		metrics.VisitStoreFailures.Inc()
		log.Printf("ERROR: failed to save visit for %s (IP: %s): %v", event.Code, event.IPAddress, err)
		return
	}
	metrics.VisitsRecorded.WithLabelValues(event.Kind).Inc()

	if p.provider == nil || event.IPAddress == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.geoTimeout)
	defer cancel()

	loc, err := p.provider.Lookup(ctx, event.IPAddress)
	if err != nil {
		outcome := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		metrics.EnrichmentOutcomes.WithLabelValues(outcome).Inc()
		log.Printf("Geo enrichment failed for visit %d (IP: %s): %v", visit.ID, event.IPAddress, err)
		return
	}

	if err := p.linkService.AttachGeo(visit.ID, loc); err != nil {
		metrics.EnrichmentOutcomes.WithLabelValues("error").Inc()
		log.Printf("Failed to attach geo to visit %d: %v", visit.ID, err)
		return
	}
	metrics.EnrichmentOutcomes.WithLabelValues("ok").Inc()
}
