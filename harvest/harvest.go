// CLAUDE:SUMMARY Orchestrator front door: collaborator interfaces, session registry, start/resume/pause/stop surface.

// Package harvest runs scraping sessions end to end: paginate a search,
// record the candidates each page surfaces, queue their profile URLs,
// fetch the queued profiles in adaptive batches, and checkpoint after
// every page so a killed or paused session resumes where it left off.
//
// One Orchestrator serves many concurrent sessions. Each session gets
// its own rate limiter, adaptive controller, worker pool and control
// levers; sessions share the collaborators (browser fetcher, stores,
// task queue) injected through Deps. Progress is observable two ways:
// a typed event stream on the Bus, and point-in-time Progress
// snapshots.
//
// The orchestrator owns policy only. Rendering and extraction live
// behind Fetcher, persistence behind Recorder, durable work behind
// TaskQueue, and resumability behind Checkpoints, so tests drive the
// whole state machine with in-memory fakes.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hazyhaar/moisson/candidate"
	"github.com/hazyhaar/moisson/checkpoint"
	"github.com/hazyhaar/moisson/idgen"
	"github.com/hazyhaar/moisson/pace"
	"github.com/hazyhaar/moisson/pool"
	"github.com/hazyhaar/moisson/taskq"
)

// ListingResult is one fetched results page: the extracted rows plus
// the navigation outcome the pacing layer reacts to.
type ListingResult struct {
	URL        string
	Candidates []candidate.Candidate
	NextURL    string
	Total      int
	Skipped    int
	Outcome    *candidate.FetchOutcome
}

// Fetcher renders pages. FetchListing runs on the orchestrator's own
// goroutine; detail fetches run on pool slots built by NewSlot, one
// slot per worker. The query is passed per call because one Fetcher
// serves every concurrent session.
type Fetcher interface {
	FetchListing(ctx context.Context, query string, page int) (*ListingResult, error)
	NewSlot(ctx context.Context, id string) (pool.Slot, error)
	FetchDetail(ctx context.Context, slot pool.Slot, url string) *candidate.FetchOutcome
}

// Authenticator restores a lost login session.
type Authenticator interface {
	Reauthenticate(ctx context.Context) error
}

// Recorder persists what a session finds. The URL listings feed the
// dedup sets when a session resumes.
type Recorder interface {
	UpsertCandidates(ctx context.Context, sessionID string, cands []candidate.Candidate) (int, error)
	SaveProfile(ctx context.Context, sessionID string, p *candidate.Profile) error
	LogAttempt(ctx context.Context, sessionID string, out *candidate.FetchOutcome)
	CandidateURLs(ctx context.Context, sessionID string) ([]string, error)
	ProfileURLs(ctx context.Context, sessionID string) ([]string, error)
}

// TaskQueue is the durable per-session detail work queue.
type TaskQueue interface {
	Enqueue(ctx context.Context, sessionID string, urls []string) (int, error)
	Claim(ctx context.Context, sessionID string, n int) ([]*taskq.Task, error)
	Complete(ctx context.Context, sessionID, url string) error
	Fail(ctx context.Context, sessionID, url, cause string) error
	Release(ctx context.Context, sessionID, url string) error
	ResetFailed(ctx context.Context, sessionID string) (int, error)
	ReclaimStale(ctx context.Context, sessionID string) (int, error)
}

// Checkpoints persists resumable session snapshots.
type Checkpoints interface {
	Upsert(ctx context.Context, cp *checkpoint.Checkpoint) error
	Load(ctx context.Context, sessionID string) (*checkpoint.Checkpoint, error)
}

// Deps are the orchestrator's collaborators. Auth may be nil when the
// target site needs no login; everything else is required.
type Deps struct {
	Fetcher     Fetcher
	Auth        Authenticator
	Recorder    Recorder
	Tasks       TaskQueue
	Checkpoints Checkpoints
}

// Config tunes behaviour shared by every session. Zero values take
// defaults.
type Config struct {
	PageDelay       time.Duration // jittered wait between listing pages, default 2s
	ErrorThreshold  int           // breaker threshold per session, default 5
	CircuitReset    time.Duration // breaker open to half-open, default 30s
	MaxAuthRetries  int           // consecutive reauth failures before fatal, default 3
	ItemAuthRetries int           // login-wall retries per item, default 2
	StallPages      int           // consecutive no-new-URL pages before ending, default 2
	ClaimLimit      int           // max tasks claimed per detail pass, default 500
}

func (c *Config) defaults() {
	if c.PageDelay <= 0 {
		c.PageDelay = 2 * time.Second
	}
	if c.ErrorThreshold <= 0 {
		c.ErrorThreshold = 5
	}
	if c.CircuitReset <= 0 {
		c.CircuitReset = 30 * time.Second
	}
	if c.MaxAuthRetries <= 0 {
		c.MaxAuthRetries = 3
	}
	if c.ItemAuthRetries <= 0 {
		c.ItemAuthRetries = 2
	}
	if c.StallPages <= 0 {
		c.StallPages = 2
	}
	if c.ClaimLimit <= 0 {
		c.ClaimLimit = 500
	}
}

// Control-surface sentinels. The HTTP and MCP layers map these to
// response codes, so wrap rather than rephrase them.
var (
	// ErrNotRunning: the session has no live run.
	ErrNotRunning = errors.New("harvest: session not running")

	// ErrUnknownSession: no live run and no checkpoint under that id.
	ErrUnknownSession = errors.New("harvest: unknown session")

	// ErrNotResumable: the checkpoint exists but is terminal.
	ErrNotResumable = errors.New("harvest: session not resumable")

	// ErrNotPaused: resume was called on a session that is running.
	ErrNotPaused = errors.New("harvest: session not paused")

	// ErrAlreadyRunning: a live run already holds that session id.
	ErrAlreadyRunning = errors.New("harvest: session already running")
)

// Outcome is the terminal result of one session run.
type Outcome struct {
	SessionID string   `json:"session_id"`
	Status    Status   `json:"status"`
	Reason    Reason   `json:"reason,omitempty"`
	Progress  Progress `json:"progress"`
	Err       string   `json:"error,omitempty"`
}

// Metrics is the live pacing state of one session.
type Metrics struct {
	Limiter    pace.Stats  `json:"limiter"`
	Tuning     pace.Tuning `json:"tuning"`
	Throughput float64     `json:"throughput_per_min"`
	Target     int         `json:"target_per_min"`
}

// Orchestrator runs harvest sessions.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	bus    *Bus
	logger *slog.Logger
	newID  idgen.Generator

	mu   sync.Mutex
	runs map[string]*run
}

// run binds one live session to its pacing and control machinery.
type run struct {
	sess       *Session
	control    *Control
	limiter    *pace.Limiter
	controller *pace.Controller
	exec       *pool.Executor
	gate       *AuthGate
	cancel     context.CancelFunc
}

// New builds an Orchestrator. A nil bus gets a private one (reachable
// via Events); a nil logger falls back to slog.Default().
func New(cfg Config, deps Deps, bus *Bus, logger *slog.Logger) (*Orchestrator, error) {
	if deps.Fetcher == nil || deps.Recorder == nil || deps.Tasks == nil || deps.Checkpoints == nil {
		return nil, errors.New("harvest: fetcher, recorder, tasks and checkpoints are required")
	}
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	if bus == nil {
		bus = NewBus(logger)
	}
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		bus:    bus,
		logger: logger,
		newID:  idgen.New,
		runs:   make(map[string]*run),
	}, nil
}

// Events exposes the bus for subscribers.
func (o *Orchestrator) Events() *Bus { return o.bus }

// Run executes a new session synchronously and returns its outcome.
// The returned error is non-nil only for hard failures; stop, budget
// and target terminations are normal outcomes.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Outcome, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts.defaults()
	r, err := o.newRun(o.sessionID(opts.Query), opts)
	if err != nil {
		return nil, err
	}
	return o.drive(ctx, r, 1, false)
}

// Start launches a new session in the background and returns its id.
// ctx bounds the whole session: pass the application context, not a
// request context.
func (o *Orchestrator) Start(ctx context.Context, opts Options) (string, error) {
	if err := opts.Validate(); err != nil {
		return "", err
	}
	opts.defaults()
	r, err := o.newRun(o.sessionID(opts.Query), opts)
	if err != nil {
		return "", err
	}
	go o.drive(ctx, r, 1, false)
	return r.sess.ID(), nil
}

// RunResume resumes a checkpointed session synchronously: options come
// from the checkpoint, dedup sets are rebuilt from the store, stale
// claims are reclaimed, and pagination restarts at the recorded page.
func (o *Orchestrator) RunResume(ctx context.Context, sessionID string) (*Outcome, error) {
	r, start, err := o.rehydrate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return o.drive(ctx, r, start, true)
}

// Resume releases a paused live session, or relaunches a checkpointed
// one in the background.
func (o *Orchestrator) Resume(ctx context.Context, sessionID string) error {
	if r := o.lookup(sessionID); r != nil {
		if !r.control.Paused() {
			return fmt.Errorf("%w: %s", ErrNotPaused, sessionID)
		}
		r.control.Resume()
		return nil
	}
	r, start, err := o.rehydrate(ctx, sessionID)
	if err != nil {
		return err
	}
	go o.drive(ctx, r, start, true)
	return nil
}

// Pause parks a live session at its next page boundary.
func (o *Orchestrator) Pause(sessionID string) error {
	r := o.lookup(sessionID)
	if r == nil {
		return ErrNotRunning
	}
	r.control.Pause()
	return nil
}

// Stop ends a live session cooperatively: the page loop exits at its
// next boundary and in-flight workers wind down between items.
func (o *Orchestrator) Stop(sessionID string) error {
	r := o.lookup(sessionID)
	if r == nil {
		return ErrNotRunning
	}
	r.control.Stop()
	if r.cancel != nil {
		r.cancel()
	}
	return nil
}

// Progress reports a session's state: live state for running sessions,
// the checkpoint view for everything else.
func (o *Orchestrator) Progress(ctx context.Context, sessionID string) (*Progress, error) {
	if r := o.lookup(sessionID); r != nil {
		p := r.sess.Progress()
		return &p, nil
	}
	cp, err := o.deps.Checkpoints.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	return progressFromCheckpoint(cp), nil
}

// Sessions lists live sessions, most recently started first.
func (o *Orchestrator) Sessions() []Progress {
	o.mu.Lock()
	out := make([]Progress, 0, len(o.runs))
	for _, r := range o.runs {
		out = append(out, r.sess.Progress())
	}
	o.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt > out[j].StartedAt })
	return out
}

// Metrics reports the live pacing state of a running session.
func (o *Orchestrator) Metrics(sessionID string) (*Metrics, error) {
	r := o.lookup(sessionID)
	if r == nil {
		return nil, ErrNotRunning
	}
	return &Metrics{
		Limiter:    r.limiter.Snapshot(),
		Tuning:     r.controller.Current(),
		Throughput: r.controller.Throughput(),
		Target:     r.controller.Target(),
	}, nil
}

// sessionID derives a readable, sortable id: query slug, UTC stamp,
// and a uniqueness suffix.
func (o *Orchestrator) sessionID(query string) string {
	id := o.newID()
	suffix := id
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	return fmt.Sprintf("%s-%s-%s", idgen.Slug(query), time.Now().UTC().Format("20060102-150405"), suffix)
}

func (o *Orchestrator) lookup(sessionID string) *run {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runs[sessionID]
}

func (o *Orchestrator) unregister(sessionID string) {
	o.mu.Lock()
	delete(o.runs, sessionID)
	o.mu.Unlock()
}

// newRun wires the per-session machinery and registers it. The limiter
// starts with the breaker config; its RPM ceiling is pushed by the
// controller from the mode preset.
func (o *Orchestrator) newRun(id string, opts Options) (*run, error) {
	limiter := pace.NewLimiter(pace.Config{
		ErrorThreshold: o.cfg.ErrorThreshold,
		ResetTimeout:   o.cfg.CircuitReset,
	}, o.logger)

	controller := pace.NewController(pace.ControllerConfig{
		Mode:         opts.Mode,
		TargetPerMin: opts.TargetProfilesPerMin,
		Concurrency:  opts.RequestedConcurrency,
		ProfileDelay: opts.profileDelay(),
	}, limiter, o.logger)

	exec := pool.NewExecutor(pool.Config{
		MaxBatchSize: opts.MaxBatchSize,
		Logger:       o.logger,
	}, o.deps.Fetcher.NewSlot)

	gate := NewAuthGate(o.cfg.MaxAuthRetries, func(ctx context.Context) error {
		if o.deps.Auth == nil {
			return errors.New("harvest: no authenticator configured")
		}
		o.logger.Warn("harvest: re-authenticating", "session", id)
		if err := o.deps.Auth.Reauthenticate(ctx); err != nil {
			return err
		}
		// The failure cause is gone; stop punishing new requests for it.
		limiter.Reset()
		return nil
	})

	r := &run{
		sess:       NewSession(id, opts.Query, opts),
		control:    NewControl(),
		limiter:    limiter,
		controller: controller,
		exec:       exec,
		gate:       gate,
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, dup := o.runs[id]; dup {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, id)
	}
	o.runs[id] = r
	return r, nil
}

// rehydrate rebuilds a run from its checkpoint and the store.
func (o *Orchestrator) rehydrate(ctx context.Context, sessionID string) (*run, int, error) {
	cp, err := o.deps.Checkpoints.Load(ctx, sessionID)
	if err != nil {
		return nil, 0, err
	}
	if cp == nil {
		return nil, 0, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	if !checkpoint.CanResume(cp) {
		return nil, 0, fmt.Errorf("%w: %s is %s", ErrNotResumable, sessionID, cp.Status)
	}

	opts, err := DecodeOptions(cp.OptionsJSON)
	if err != nil {
		return nil, 0, fmt.Errorf("harvest: checkpoint options: %w", err)
	}
	opts.defaults()

	r, err := o.newRun(sessionID, opts)
	if err != nil {
		return nil, 0, err
	}
	r.sess.Restore(cp)

	// Dedup sets come from what earlier runs actually persisted, so a
	// re-extracted page surfaces nothing as new.
	if urls, err := o.deps.Recorder.CandidateURLs(ctx, sessionID); err == nil {
		r.sess.SeedDiscovered(urls)
	} else {
		o.logger.Warn("harvest: seed discovered", "session", sessionID, "error", err)
	}
	if urls, err := o.deps.Recorder.ProfileURLs(ctx, sessionID); err == nil {
		r.sess.SeedScraped(urls)
	} else {
		o.logger.Warn("harvest: seed scraped", "session", sessionID, "error", err)
	}

	if n, err := o.deps.Tasks.ReclaimStale(ctx, sessionID); err == nil && n > 0 {
		o.logger.Info("harvest: reclaimed stale tasks", "session", sessionID, "count", n)
	}

	start := cp.CurrentPage
	if start < 1 {
		start = 1
	}
	return r, start, nil
}

func progressFromCheckpoint(cp *checkpoint.Checkpoint) *Progress {
	return &Progress{
		SessionID:       cp.SessionID,
		Query:           cp.SearchQuery,
		Status:          Status(cp.Status),
		CurrentPage:     cp.CurrentPage,
		ProfilesScraped: cp.ProfilesScraped,
		ProfilesFailed:  cp.ProfilesFailed,
		ErrorCount:      cp.ErrorCount,
		StartedAt:       cp.CreatedAt,
		EndedAt:         cp.UpdatedAt,
	}
}
