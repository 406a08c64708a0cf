// CLAUDE:SUMMARY Per-session working state: URL dedup sets, counters, bounded error ring, checkpoint projection.
package harvest

import (
	"sync"
	"time"

	"github.com/hazyhaar/moisson/checkpoint"
)

// maxRecentErrors bounds the per-session error ring.
const maxRecentErrors = 50

// SessionError is one recorded failure.
type SessionError struct {
	At      int64  `json:"at"`
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// Progress is a point-in-time view of one session.
type Progress struct {
	SessionID       string         `json:"session_id"`
	Query           string         `json:"query"`
	Status          Status         `json:"status"`
	CurrentPage     int            `json:"current_page"`
	TotalPages      int            `json:"total_pages,omitempty"`
	TotalResults    int            `json:"total_results,omitempty"`
	ResumesScraped  int            `json:"resumes_scraped"`
	ProfilesScraped int            `json:"profiles_scraped"`
	ProfilesFailed  int            `json:"profiles_failed"`
	ProfilesTotal   int            `json:"profiles_total"`
	FilteredCount   int            `json:"filtered_count"`
	CompletionRate  float64        `json:"completion_rate"`
	ErrorCount      int            `json:"error_count"`
	RecentErrors    []SessionError `json:"recent_errors,omitempty"`
	StartedAt       int64          `json:"started_at,omitempty"`
	EndedAt         int64          `json:"ended_at,omitempty"`
	DurationMS      int64          `json:"duration_ms"`
}

// Session is the mutable working state of one harvest. Discovery and
// scrape tallies are set cardinalities, not counters: marking the same
// URL twice cannot inflate them, which is what makes page re-extraction
// after a resume idempotent. All methods are safe for concurrent use by
// pool workers.
type Session struct {
	mu sync.Mutex

	id    string
	query string
	opts  Options

	status       Status
	currentPage  int
	totalResults int
	totalPages   int

	discovered map[string]struct{} // canonical profile URLs seen in listings
	scraped    map[string]struct{} // canonical profile URLs saved
	failed     int
	filtered   int

	errorCount int
	errors     []SessionError

	started time.Time
	ended   time.Time

	now func() time.Time
}

// NewSession builds an idle session for opts.
func NewSession(id, query string, opts Options) *Session {
	return &Session{
		id:         id,
		query:      query,
		opts:       opts,
		status:     StatusIdle,
		discovered: make(map[string]struct{}),
		scraped:    make(map[string]struct{}),
		now:        time.Now,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Query() string { return s.query }

func (s *Session) Options() Options { return s.opts }

// Begin marks the session running and stamps the start of this run.
func (s *Session) Begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusRunning
	s.started = s.now()
	s.ended = time.Time{}
}

// Finish records the terminal status and end time.
func (s *Session) Finish(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = st
	s.ended = s.now()
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) SetStatus(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = st
}

func (s *Session) Page() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentPage
}

func (s *Session) SetPage(p int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentPage = p
}

// Discover adds a canonical profile URL to the discovered set and
// reports whether it was new.
func (s *Session) Discover(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.discovered[url]; seen {
		return false
	}
	s.discovered[url] = struct{}{}
	return true
}

// MarkScraped records a successfully saved profile URL and reports
// whether it was new.
func (s *Session) MarkScraped(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.scraped[url]; seen {
		return false
	}
	s.scraped[url] = struct{}{}
	return true
}

// MarkFailed counts one settled profile failure.
func (s *Session) MarkFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed++
}

// AddFiltered counts listing rows dropped before they became candidates.
func (s *Session) AddFiltered(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filtered += n
}

// ObserveTotals records the site-reported result count and derives a
// page estimate from the rows seen on this page. Reports whether the
// total changed.
func (s *Session) ObserveTotals(total, rowsOnPage int) bool {
	if total <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := total != s.totalResults
	s.totalResults = total
	if rowsOnPage > 0 {
		s.totalPages = (total + rowsOnPage - 1) / rowsOnPage
	}
	return changed
}

// RecordError appends to the bounded error ring and bumps the counter.
func (s *Session) RecordError(stage, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorCount++
	s.errors = append(s.errors, SessionError{
		At:      s.now().UnixMilli(),
		Stage:   stage,
		Message: message,
	})
	if len(s.errors) > maxRecentErrors {
		s.errors = s.errors[len(s.errors)-maxRecentErrors:]
	}
}

// ProfilesScraped is the scraped-set cardinality.
func (s *Session) ProfilesScraped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scraped)
}

// Discovered is the discovered-set cardinality.
func (s *Session) Discovered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.discovered)
}

// Elapsed is the wall-clock time of the current run.
func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started.IsZero() {
		return 0
	}
	end := s.ended
	if end.IsZero() {
		end = s.now()
	}
	return end.Sub(s.started)
}

// SeedDiscovered preloads the discovered set, used when resuming so
// that re-extracted pages surface no already-known URLs.
func (s *Session) SeedDiscovered(urls []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range urls {
		s.discovered[u] = struct{}{}
	}
}

// SeedScraped preloads the scraped set from previously saved profiles.
func (s *Session) SeedScraped(urls []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range urls {
		s.scraped[u] = struct{}{}
	}
}

// Restore pulls the scalar counters out of a checkpoint. The dedup
// sets are seeded separately from what the store actually holds; the
// checkpoint copies of those counts are an audit trail, not the source
// of truth.
func (s *Session) Restore(cp *checkpoint.Checkpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentPage = cp.CurrentPage
	s.failed = cp.ProfilesFailed
	s.errorCount = cp.ErrorCount
}

// Progress snapshots the session. CompletionRate is scraped over
// discovered, in percent; zero until anything is discovered.
func (s *Session) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := Progress{
		SessionID:       s.id,
		Query:           s.query,
		Status:          s.status,
		CurrentPage:     s.currentPage,
		TotalPages:      s.totalPages,
		TotalResults:    s.totalResults,
		ResumesScraped:  len(s.discovered),
		ProfilesScraped: len(s.scraped),
		ProfilesFailed:  s.failed,
		ProfilesTotal:   len(s.discovered),
		FilteredCount:   s.filtered,
		ErrorCount:      s.errorCount,
	}
	if len(s.discovered) > 0 {
		p.CompletionRate = float64(len(s.scraped)) / float64(len(s.discovered)) * 100
	}
	if n := len(s.errors); n > 0 {
		p.RecentErrors = make([]SessionError, n)
		copy(p.RecentErrors, s.errors)
	}
	if !s.started.IsZero() {
		p.StartedAt = s.started.UnixMilli()
		end := s.ended
		if end.IsZero() {
			end = s.now()
		} else {
			p.EndedAt = end.UnixMilli()
		}
		p.DurationMS = end.Sub(s.started).Milliseconds()
	}
	return p
}

// Checkpoint projects the session into its durable snapshot.
func (s *Session) Checkpoint() *checkpoint.Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	optsJSON, err := EncodeOptions(s.opts)
	if err != nil {
		optsJSON = "{}"
	}
	return &checkpoint.Checkpoint{
		SessionID:       s.id,
		SearchQuery:     s.query,
		CurrentPage:     s.currentPage,
		ProfilesScraped: len(s.scraped),
		ProfilesFailed:  s.failed,
		ErrorCount:      s.errorCount,
		Status:          string(s.status),
		OptionsJSON:     optsJSON,
	}
}
