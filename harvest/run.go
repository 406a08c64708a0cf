// CLAUDE:SUMMARY Session run loop: paginate, ingest, adaptive detail batches, checkpoint each page, terminal bookkeeping.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/hazyhaar/moisson/candidate"
	"github.com/hazyhaar/moisson/pace"
	"github.com/hazyhaar/moisson/pool"
	"github.com/hazyhaar/moisson/taskq"
)

// drive runs one session to a terminal status. Pages are processed in
// strictly increasing order; every page boundary re-checks the control
// levers and the session goals, checkpoints, and only then fetches.
func (o *Orchestrator) drive(ctx context.Context, r *run, startPage int, resumed bool) (*Outcome, error) {
	sess := r.sess
	id := sess.ID()
	opts := sess.Options()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.cancel = cancel
	defer o.unregister(id)

	sess.Begin()
	o.checkpoint(ctx, r)
	o.publish(EventSession, id, map[string]any{
		"status":  string(StatusRunning),
		"query":   sess.Query(),
		"mode":    string(opts.Mode),
		"page":    startPage,
		"resumed": resumed,
	})
	o.logger.Info("harvest: session started",
		"session", id,
		"query", sess.Query(),
		"mode", opts.Mode,
		"page", startPage,
		"resumed", resumed)

	var (
		reason Reason
		runErr error
		stall  int
	)

	for page := startPage; ; page++ {
		if reason, runErr = o.gatePage(ctx, r); reason != "" || runErr != nil {
			break
		}
		if page > opts.MaxPages {
			o.logger.Info("harvest: page cap reached", "session", id, "max_pages", opts.MaxPages)
			reason = ReasonCompleted
			break
		}

		// Checkpoint before fetching: a crash mid-page resumes here and
		// re-extracts this page, which the dedup sets make harmless.
		sess.SetPage(page)
		o.checkpoint(ctx, r)

		lr, err := o.fetchListing(ctx, r, page)
		if err != nil {
			if reason = stopReason(ctx, r); reason != "" {
				break
			}
			sess.RecordError("listing", err.Error())
			o.publish(EventError, id, map[string]any{"stage": "listing", "page": page, "error": err.Error()})
			o.logger.Error("harvest: listing failed", "session", id, "page", page, "error", err)
			runErr = err
			break
		}

		if sess.ObserveTotals(lr.Total, len(lr.Candidates)) {
			o.publish(EventCount, id, map[string]any{"total": lr.Total})
		}

		fresh := o.ingestListing(ctx, r, page, lr)
		o.publish(EventPage, id, map[string]any{
			"page": page,
			"rows": len(lr.Candidates),
			"new":  len(fresh),
		})

		if len(fresh) == 0 {
			stall++
		} else {
			stall = 0
		}
		if stall >= o.cfg.StallPages {
			o.logger.Info("harvest: pagination stalled, ending", "session", id, "pages_without_new", stall)
			reason = ReasonCompleted
			break
		}

		if !opts.SkipDetails {
			if reason, runErr = o.detailPass(ctx, r); reason != "" || runErr != nil {
				break
			}
		}

		o.checkpoint(ctx, r)
		o.publish(EventProgress, id, sess.Progress())

		if reason = o.goalReason(r); reason != "" {
			break
		}
		if lr.NextURL == "" {
			o.logger.Info("harvest: no next page", "session", id, "page", page)
			reason = ReasonCompleted
			break
		}

		// Think time between pages, stretched by live error pressure.
		if err := sleepCtx(ctx, jitter(r.limiter.AdaptiveDelay(o.cfg.PageDelay))); err != nil {
			reason = stopReason(ctx, r)
			break
		}
	}

	// One sweep over failed profiles before closing out a natural end.
	if runErr == nil && reason == ReasonCompleted && !opts.SkipDetails {
		o.retryFailed(ctx, r)
	}

	return o.finish(ctx, r, reason, runErr), runErr
}

// gatePage is the per-boundary check: stop, pause, cancellation, goals.
// Pausing checkpoints a durable paused snapshot first, so a process
// killed while parked still resumes.
func (o *Orchestrator) gatePage(ctx context.Context, r *run) (Reason, error) {
	if reason := stopReason(ctx, r); reason != "" {
		return reason, nil
	}
	if r.control.Paused() {
		id := r.sess.ID()
		r.sess.SetStatus(StatusPaused)
		o.checkpoint(ctx, r)
		o.publish(EventControl, id, map[string]any{"action": "paused", "page": r.sess.Page()})
		o.logger.Info("harvest: session paused", "session", id, "page", r.sess.Page())

		if err := r.control.AwaitResume(ctx); err != nil {
			return stopReason(ctx, r), nil
		}
		if reason := stopReason(ctx, r); reason != "" {
			return reason, nil
		}
		r.sess.SetStatus(StatusRunning)
		o.checkpoint(ctx, r)
		o.publish(EventControl, id, map[string]any{"action": "resumed", "page": r.sess.Page()})
		o.logger.Info("harvest: session resumed", "session", id, "page", r.sess.Page())
	}
	return o.goalReason(r), nil
}

// stopReason distinguishes an explicit stop from ambient cancellation.
func stopReason(ctx context.Context, r *run) Reason {
	if r.control.Stopped() {
		return ReasonStopRequested
	}
	if ctx.Err() != nil {
		return ReasonStopped
	}
	return ""
}

func (o *Orchestrator) goalReason(r *run) Reason {
	opts := r.sess.Options()
	if opts.TargetProfiles > 0 && r.sess.ProfilesScraped() >= opts.TargetProfiles {
		return ReasonTargetReached
	}
	if opts.TimeBudgetMinutes > 0 && r.sess.Elapsed() >= time.Duration(opts.TimeBudgetMinutes)*time.Minute {
		return ReasonTimeBudget
	}
	return ""
}

// fetchListing admits one listing fetch through the limiter and runs
// the login-wall retry loop around it. Hostile responses feed the
// breaker; anything still hostile after the retries fails the page.
func (o *Orchestrator) fetchListing(ctx context.Context, r *run, page int) (*ListingResult, error) {
	id := r.sess.ID()
	for attempt := 0; ; attempt++ {
		if err := r.limiter.WaitForSlot(ctx); err != nil {
			return nil, err
		}
		start := time.Now()
		lr, err := o.deps.Fetcher.FetchListing(ctx, r.sess.Query(), page)
		if err != nil {
			r.limiter.RecordError(pace.Signal{})
			return nil, err
		}

		out := lr.Outcome
		if out != nil && out.Hostile() {
			r.limiter.RecordError(pace.Signal{Status: out.Status, Blocked: out.Blocked, LoginRedirect: out.LoginRedirect})
			o.publish(EventNavigation, id, map[string]any{
				"page":    page,
				"url":     lr.URL,
				"status":  out.Status,
				"blocked": out.Blocked,
				"login":   out.LoginRedirect,
			})
			if out.LoginRedirect && attempt < o.cfg.ItemAuthRetries {
				o.logger.Warn("harvest: listing hit login wall", "session", id, "page", page)
				if err := r.gate.Ensure(ctx); err != nil {
					return nil, err
				}
				continue
			}
			return nil, fmt.Errorf("harvest: listing page %d refused (status %d)", page, out.Status)
		}

		r.limiter.RecordRequest()
		o.publish(EventNavigation, id, map[string]any{
			"page": page,
			"url":  lr.URL,
			"ms":   time.Since(start).Milliseconds(),
		})
		return lr, nil
	}
}

// ingestListing canonicalizes the page's rows, dedupes them against
// the session, persists the batch and queues the new URLs. Returns the
// URLs this page surfaced for the first time.
func (o *Orchestrator) ingestListing(ctx context.Context, r *run, page int, lr *ListingResult) []string {
	sess := r.sess
	id := sess.ID()

	sess.AddFiltered(lr.Skipped)

	var fresh []string
	for i := range lr.Candidates {
		c := &lr.Candidates[i]
		c.URL = candidate.CanonicalURL(c.URL)
		c.Page = page
		if sess.Discover(c.URL) {
			fresh = append(fresh, c.URL)
			o.publish(EventResume, id, map[string]any{"url": c.URL, "name": c.Name, "page": page})
		}
	}

	if len(lr.Candidates) > 0 {
		if _, err := o.deps.Recorder.UpsertCandidates(ctx, id, lr.Candidates); err != nil {
			sess.RecordError("record", err.Error())
			o.publish(EventError, id, map[string]any{"stage": "record", "page": page, "error": err.Error()})
			o.logger.Error("harvest: candidate upsert failed", "session", id, "page", page, "error", err)
		}
	}
	if len(fresh) > 0 {
		if _, err := o.deps.Tasks.Enqueue(ctx, id, fresh); err != nil {
			sess.RecordError("queue", err.Error())
			o.publish(EventError, id, map[string]any{"stage": "queue", "page": page, "error": err.Error()})
			o.logger.Error("harvest: enqueue failed", "session", id, "page", page, "error", err)
		}
	}
	return fresh
}

// detailPass claims queued profiles and runs them through the pool at
// the currently tuned concurrency and delay, then feeds the outcome
// back into the controller. Reaching a goal mid-batch cancels the rest
// of the batch; claims that were never tried are released straight back
// to pending so an immediate resume does not wait out the stale window.
func (o *Orchestrator) detailPass(ctx context.Context, r *run) (Reason, error) {
	id := r.sess.ID()

	if n, err := o.deps.Tasks.ReclaimStale(ctx, id); err == nil && n > 0 {
		o.logger.Info("harvest: reclaimed stale tasks", "session", id, "count", n)
	}
	claimed, err := o.deps.Tasks.Claim(ctx, id, o.cfg.ClaimLimit)
	if err != nil {
		return "", fmt.Errorf("harvest: claim: %w", err)
	}
	if len(claimed) == 0 {
		return "", nil
	}

	urls := make([]string, len(claimed))
	for i, t := range claimed {
		urls[i] = t.URL
	}

	batchCtx, cancelBatch := context.WithCancel(ctx)
	defer cancelBatch()
	h := o.hooks(r, func() {
		if o.goalReason(r) != "" {
			cancelBatch()
		}
	})

	tun := r.controller.Current()
	o.logger.Info("harvest: detail pass",
		"session", id,
		"claimed", len(urls),
		"concurrency", tun.Concurrency,
		"delay_ms", tun.ProfileDelay.Milliseconds())

	res, execErr := r.exec.Execute(batchCtx, urls, tun.Concurrency, tun.ProfileDelay, h)

	errRate := 0.0
	if res.Processed > 0 {
		errRate = float64(res.Failed) / float64(res.Processed)
	}
	r.controller.Observe(r.sess.ProfilesScraped())
	if next, changed := r.controller.Adjust(errRate); changed {
		o.publish(EventMetrics, id, map[string]any{
			"concurrency": next.Concurrency,
			"delay_ms":    next.ProfileDelay.Milliseconds(),
			"rpm":         next.RPM,
			"throughput":  r.controller.Throughput(),
			"error_rate":  errRate,
			"limiter":     r.limiter.Snapshot(),
		})
	}
	o.logger.Info("harvest: detail pass done",
		"session", id,
		"processed", res.Processed,
		"succeeded", res.Succeeded,
		"failed", res.Failed)

	if execErr != nil {
		o.releaseUntried(ctx, id, claimed)
		if reason := o.goalReason(r); reason != "" {
			return reason, nil
		}
		if reason := stopReason(ctx, r); reason != "" {
			return reason, nil
		}
		return "", execErr
	}
	return "", nil
}

// releaseUntried puts claimed tasks that never ran back to pending.
// Release is a no-op for tasks already completed or failed, so the
// whole claim list can be offered. Runs detached from ctx: the batch
// context is already cancelled when this matters.
func (o *Orchestrator) releaseUntried(ctx context.Context, id string, claimed []*taskq.Task) {
	dctx := context.WithoutCancel(ctx)
	released := 0
	for _, t := range claimed {
		if err := o.deps.Tasks.Release(dctx, id, t.URL); err != nil {
			o.logger.Warn("harvest: release task", "session", id, "url", t.URL, "error", err)
			continue
		}
		released++
	}
	if released > 0 {
		o.logger.Info("harvest: released untried tasks", "session", id, "offered", released)
	}
}

// hooks builds the pool callbacks for one session. afterSave runs on
// every success, after the tallies move; the detail pass uses it to
// short-circuit a batch once a goal is met.
func (o *Orchestrator) hooks(r *run, afterSave func()) pool.Hooks {
	id := r.sess.ID()
	return pool.Hooks{
		Scrape: func(ctx context.Context, slot pool.Slot, url string) *candidate.FetchOutcome {
			return o.scrapeOne(ctx, r, slot, url)
		},
		Save: func(ctx context.Context, out *candidate.FetchOutcome) error {
			if out.Profile == nil {
				return errors.New("no profile extracted")
			}
			if err := o.deps.Recorder.SaveProfile(ctx, id, out.Profile); err != nil {
				return err
			}
			if err := o.deps.Tasks.Complete(ctx, id, out.URL); err != nil {
				o.logger.Warn("harvest: mark complete", "session", id, "url", out.URL, "error", err)
			}
			return nil
		},
		OnSuccess: func(out *candidate.FetchOutcome) {
			r.sess.MarkScraped(out.URL)
			o.deps.Recorder.LogAttempt(context.Background(), id, out)
			o.publish(EventProfile, id, map[string]any{
				"url": out.URL,
				"ok":  true,
				"ms":  out.RequestMS + out.ExtractMS,
			})
			r.controller.Observe(r.sess.ProfilesScraped())
			if afterSave != nil {
				afterSave()
			}
		},
		OnFailure: func(out *candidate.FetchOutcome) {
			r.sess.MarkFailed()
			msg := out.Err
			if msg == "" {
				msg = fmt.Sprintf("status %d", out.Status)
			}
			r.sess.RecordError("profile", msg)
			o.deps.Recorder.LogAttempt(context.Background(), id, out)
			if err := o.deps.Tasks.Fail(context.Background(), id, out.URL, msg); err != nil {
				o.logger.Warn("harvest: mark failed", "session", id, "url", out.URL, "error", err)
			}
			o.publish(EventProfile, id, map[string]any{"url": out.URL, "ok": false, "error": msg})
		},
		Cooldown: func() time.Duration {
			return r.limiter.AdaptiveDelay(r.controller.Current().ProfileDelay)
		},
	}
}

// scrapeOne is the per-item fetch loop: limiter admission, the fetch
// itself, breaker feedback, a bounded reauth retry on login walls, and
// one extra try when extraction came back empty.
func (o *Orchestrator) scrapeOne(ctx context.Context, r *run, slot pool.Slot, url string) *candidate.FetchOutcome {
	authTries := 0
	retriedThin := false
	for {
		if err := r.limiter.WaitForSlot(ctx); err != nil {
			return &candidate.FetchOutcome{URL: url, Err: err.Error()}
		}
		out := o.deps.Fetcher.FetchDetail(ctx, slot, url)
		if out == nil {
			out = &candidate.FetchOutcome{URL: url, Err: "fetch returned no outcome"}
		}
		if out.Success {
			r.limiter.RecordRequest()
			return out
		}
		r.limiter.RecordError(pace.Signal{Status: out.Status, Blocked: out.Blocked, LoginRedirect: out.LoginRedirect})

		if out.LoginRedirect && authTries < o.cfg.ItemAuthRetries {
			authTries++
			if err := r.gate.Ensure(ctx); err != nil {
				out.Err = "reauth: " + err.Error()
				return out
			}
			continue
		}
		// Thin extraction on an otherwise fine page gets one more look.
		if !out.Hostile() && out.Status < 400 && out.Err != "" && !retriedThin {
			retriedThin = true
			continue
		}
		return out
	}
}

// retryFailed resets failed tasks that still have attempts left and
// runs one more detail pass over them.
func (o *Orchestrator) retryFailed(ctx context.Context, r *run) {
	id := r.sess.ID()
	n, err := o.deps.Tasks.ResetFailed(ctx, id)
	if err != nil {
		o.logger.Warn("harvest: reset failed tasks", "session", id, "error", err)
		return
	}
	if n == 0 {
		return
	}
	o.logger.Info("harvest: retrying failed profiles", "session", id, "count", n)
	if _, err := o.detailPass(ctx, r); err != nil {
		o.logger.Warn("harvest: retry pass", "session", id, "error", err)
	}
}

// finish records the terminal state, writes the last checkpoint and
// emits the done event.
func (o *Orchestrator) finish(ctx context.Context, r *run, reason Reason, runErr error) *Outcome {
	sess := r.sess
	id := sess.ID()

	st := statusFor(reason)
	if runErr != nil {
		st = StatusFailed
		reason = ""
	}
	sess.Finish(st)
	o.checkpoint(ctx, r)

	data := map[string]any{"status": string(st)}
	if reason != "" {
		data["reason"] = string(reason)
	}
	if runErr != nil {
		data["error"] = runErr.Error()
	}
	p := sess.Progress()
	data["profiles_scraped"] = p.ProfilesScraped
	data["profiles_failed"] = p.ProfilesFailed
	o.publish(EventDone, id, data)
	o.logger.Info("harvest: session finished",
		"session", id,
		"status", st,
		"reason", reason,
		"scraped", p.ProfilesScraped,
		"failed", p.ProfilesFailed,
		"duration_ms", p.DurationMS)

	out := &Outcome{SessionID: id, Status: st, Reason: reason, Progress: p}
	if runErr != nil {
		out.Err = runErr.Error()
	}
	return out
}

// checkpoint writes the session snapshot. It survives cancellation:
// the final write after a stop must still land.
func (o *Orchestrator) checkpoint(ctx context.Context, r *run) {
	cp := r.sess.Checkpoint()
	if err := o.deps.Checkpoints.Upsert(context.WithoutCancel(ctx), cp); err != nil {
		o.logger.Warn("harvest: checkpoint", "session", r.sess.ID(), "error", err)
	}
}

func (o *Orchestrator) publish(t EventType, sessionID string, data any) {
	o.bus.Publish(Event{Type: t, SessionID: sessionID, Data: data})
}

// jitter spreads d to d..1.5d so page fetches do not tick like a clock.
func jitter(d time.Duration) time.Duration {
	if d < 2 {
		return d
	}
	return d + rand.N(d/2)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
