// Package search turns a noisy stream of keystrokes into ordered,
// non-stale, paginated search results.
//
// Every issued request carries a monotonically increasing ID. A response is
// applied only when its ID still matches the newest issued request, so a
// slow response for an old query can never clobber a fresh one regardless of
// network arrival order.
package search

import (
	"context"
	"sync"
	"time"

	"github.com/multiapi/driveman/internal/events"
	"github.com/multiapi/driveman/internal/logging"
	"github.com/multiapi/driveman/internal/models"
)

// Searcher is the backend surface the executor consumes.
type Searcher interface {
	Search(ctx context.Context, query string, filters models.SearchFilters, page, pageSize int) (*models.SearchResult, error)
	DefaultView(ctx context.Context, page, pageSize int) (*models.SearchResult, error)
}

// Snapshot is the externally visible search state: the last applied result
// plus any error on the current request. A failed request keeps the previous
// result in place.
type Snapshot struct {
	RequestID uint64
	Query     string
	Page      int
	Result    *models.SearchResult
	Err       error
}

// Observer receives a snapshot whenever visible state changes.
type Observer func(Snapshot)

// Executor debounces search input and sequences requests.
type Executor struct {
	searcher Searcher
	debounce time.Duration
	timeout  time.Duration
	pageSize int
	bus      *events.Bus
	log      *logging.Logger

	mu        sync.Mutex
	requestID uint64 // highest issued; only a matching response is applied
	query     string
	filters   models.SearchFilters
	page      int
	hasPrev   bool
	hasNext   bool
	result    *models.SearchResult
	err       error
	timer     *time.Timer
	observers map[int]Observer
	nextObsID int
	closed    bool
}

// NewExecutor creates an executor. debounce is the input settle window,
// timeout bounds each issued request, pageSize sets the page length.
// bus may be nil.
func NewExecutor(searcher Searcher, debounce, timeout time.Duration, pageSize int, bus *events.Bus, logger *logging.Logger) *Executor {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Executor{
		searcher:  searcher,
		debounce:  debounce,
		timeout:   timeout,
		pageSize:  pageSize,
		bus:       bus,
		log:       logger.Component("search"),
		observers: make(map[int]Observer),
	}
}

// OnInputChanged records new input text and resets the debounce timer.
// Each call cancels any pending timer from a prior call. Empty input issues
// the default view immediately, with no debounce: clearing the box is a
// deliberate action, not typing noise.
func (e *Executor) OnInputChanged(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.query = text

	if text == "" {
		e.issueLocked(1)
		return
	}

	e.timer = time.AfterFunc(e.debounce, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.closed {
			return
		}
		e.timer = nil
		e.issueLocked(1)
	})
}

// SetFilters replaces the active filters and re-issues the current query
// through the debounce window, coalescing rapid filter edits the same way
// keystrokes are.
func (e *Executor) SetFilters(filters models.SearchFilters) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	e.filters = filters.Clone()
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(e.debounce, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.closed {
			return
		}
		e.timer = nil
		e.issueLocked(1)
	})
}

// NextPage issues a request for the page after the last applied response.
// No-op when the last response reported no next page.
func (e *Executor) NextPage() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || !e.hasNext {
		return
	}
	e.issueLocked(e.page + 1)
}

// PreviousPage issues a request for the page before the last applied
// response. No-op when the last response reported no previous page.
func (e *Executor) PreviousPage() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || !e.hasPrev {
		return
	}
	e.issueLocked(e.page - 1)
}

// OnResults registers an observer of visible-state changes. The returned
// function unsubscribes it.
func (e *Executor) OnResults(obs Observer) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextObsID
	e.nextObsID++
	e.observers[id] = obs
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.observers, id)
	}
}

// Snapshot returns the current visible search state.
func (e *Executor) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		RequestID: e.requestID,
		Query:     e.query,
		Page:      e.page,
		Result:    e.result,
		Err:       e.err,
	}
}

// Close stops any pending debounce timer. In-flight responses are discarded.
func (e *Executor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	// Bumping the ID supersedes everything in flight.
	e.requestID++
}

// issueLocked allocates the next request ID and dispatches the request.
// Caller holds e.mu. The request goroutine works from immutable snapshots of
// the query and filters taken at issue time.
func (e *Executor) issueLocked(page int) {
	e.requestID++
	id := e.requestID
	query := e.query
	filters := e.filters.Clone()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		defer cancel()

		var result *models.SearchResult
		var err error
		if query == "" && len(filters) == 0 {
			result, err = e.searcher.DefaultView(ctx, page, e.pageSize)
		} else {
			result, err = e.searcher.Search(ctx, query, filters, page, e.pageSize)
		}
		e.apply(id, query, result, err)
	}()
}

// apply installs a response if and only if it belongs to the newest issued
// request. Stale responses are dropped silently: no state change, no error.
func (e *Executor) apply(id uint64, query string, result *models.SearchResult, err error) {
	e.mu.Lock()
	if e.closed || id != e.requestID {
		e.mu.Unlock()
		return
	}

	if err != nil {
		// Keep the last good results visible; only flag the error.
		e.err = err
	} else {
		e.err = nil
		e.result = result
		e.page = result.Pagination.Page
		e.hasPrev = result.Pagination.HasPrev
		e.hasNext = result.Pagination.HasNext
	}

	snap := Snapshot{
		RequestID: id,
		Query:     query,
		Page:      e.page,
		Result:    e.result,
		Err:       e.err,
	}
	observers := make([]Observer, 0, len(e.observers))
	for _, obs := range e.observers {
		observers = append(observers, obs)
	}
	e.mu.Unlock()

	for _, obs := range observers {
		obs(snap)
	}

	if err != nil {
		e.log.Warn().Uint64("request_id", id).Str("query", query).Err(err).Msg("search failed")
		e.bus.Publish(&events.SearchEvent{
			BaseEvent: events.NewBase(events.EventSearchFailed),
			RequestID: id,
			Query:     query,
			Page:      snap.Page,
			Err:       err,
		})
		return
	}

	e.bus.Publish(&events.SearchEvent{
		BaseEvent: events.NewBase(events.EventSearchResults),
		RequestID: id,
		Query:     query,
		Page:      snap.Page,
		Items:     len(result.Items),
	})
}
