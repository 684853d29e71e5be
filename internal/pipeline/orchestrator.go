package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-scripts/listcrawl/internal/config"
	"github.com/go-scripts/listcrawl/internal/extract"
	"github.com/go-scripts/listcrawl/internal/fetch"
)

// PageTracker receives page-level progress events. Implementations are
// optional; a nil tracker disables reporting.
type PageTracker interface {
	PageStarted(page int, url string)
	PageFinished(page int, accepted int)
}

// Orchestrator walks a target's pages, routing content through the
// extraction strategy and candidates through validation and dedup, and
// streams accepted records to the sink.
type Orchestrator struct {
	target   config.Target
	fetcher  fetch.Fetcher
	strategy extract.Strategy
	sink     Sink
	tracker  *DedupTracker
	progress PageTracker

	// retryBackoff is the base delay between transient fetch retries;
	// it doubles per attempt so retries do not hammer the host.
	retryBackoff time.Duration
}

// New builds an orchestrator for one target. tracker may be shared across
// orchestrators for cross-target dedup; progress may be nil.
func New(target config.Target, fetcher fetch.Fetcher, strategy extract.Strategy, sink Sink, tracker *DedupTracker, progress PageTracker) *Orchestrator {
	if tracker == nil {
		tracker = NewDedupTracker()
	}
	// Targets built in code rather than loaded from config may leave the
	// loop-control knobs zero; zero values would stall the loop.
	if target.MaxAttempts <= 0 {
		target.MaxAttempts = config.DefaultMaxAttempts
	}
	if target.EmptyPageThreshold <= 0 {
		target.EmptyPageThreshold = config.DefaultEmptyPageThreshold
	}
	if target.MaxConsecutiveFailures <= 0 {
		target.MaxConsecutiveFailures = config.DefaultMaxConsecutiveFailures
	}
	return &Orchestrator{
		target:       target,
		fetcher:      fetcher,
		strategy:     strategy,
		sink:         sink,
		tracker:      tracker,
		progress:     progress,
		retryBackoff: time.Second,
	}
}

// Run executes the crawl until the target is exhausted, the page cap is
// reached, the context is cancelled, or a fatal condition fires. The
// returned Outcome is valid even when err is non-nil: accepted records
// were already streamed to the sink.
func (o *Orchestrator) Run(ctx context.Context) (*Outcome, error) {
	outcome := &Outcome{Target: o.target.Name}
	required := o.target.RequiredFields()
	fieldNames := o.target.FieldNames()

	opts := fetch.Options{
		ContentSelector:  o.target.ContentSelector,
		ExcludeSelectors: o.target.ExcludeSelectors,
		ExhaustionMarker: o.target.ExhaustionMarker,
	}

	page := o.target.StartPage
	consecutiveEmpty := 0
	consecutiveFailures := 0

	for {
		// Cancellation is honored between iterations, never mid-fetch,
		// so partial results are always flushed.
		select {
		case <-ctx.Done():
			log.Info("Crawl cancelled", "target", o.target.Name, "page", page)
			return outcome, nil
		default:
		}

		if o.target.MaxPages > 0 && outcome.PagesVisited >= o.target.MaxPages {
			log.Info("Page cap reached", "target", o.target.Name, "max_pages", o.target.MaxPages)
			return outcome, nil
		}

		url := o.target.PageURL(page)
		if o.progress != nil {
			o.progress.PageStarted(page, url)
		}
		outcome.PagesVisited++

		acceptedHere, empty, err := o.processPage(ctx, url, opts, required, fieldNames, outcome)
		if err != nil {
			if sinkFailed(err) {
				outcome.Fatal = err
				return outcome, err
			}

			outcome.PagesFailed++
			consecutiveFailures++
			log.Error("Page failed", "target", o.target.Name, "page", page, "error", err)

			if isExtractionErr(err) {
				// Extraction breakage also counts toward exhaustion:
				// a run of such pages means no more extractable data.
				consecutiveEmpty++
			}

			if consecutiveFailures >= o.target.MaxConsecutiveFailures {
				fatal := fmt.Errorf("%d consecutive page failures, last: %w", consecutiveFailures, err)
				outcome.Fatal = fatal
				return outcome, fatal
			}
		} else {
			consecutiveFailures = 0
			if empty {
				consecutiveEmpty++
				log.Info("No new records on page", "target", o.target.Name, "page", page,
					"consecutive_empty", consecutiveEmpty)
			} else {
				consecutiveEmpty = 0
			}
		}

		if o.progress != nil {
			o.progress.PageFinished(page, acceptedHere)
		}

		if consecutiveEmpty >= o.target.EmptyPageThreshold {
			log.Info("Target exhausted", "target", o.target.Name, "page", page)
			return outcome, nil
		}

		page++

		if o.target.PageDelay > 0 {
			select {
			case <-ctx.Done():
				return outcome, nil
			case <-time.After(o.target.PageDelay.Std()):
			}
		}
	}
}

// processPage handles one page end to end. It returns the number of
// records accepted from the page and whether the page counts toward the
// exhaustion threshold.
func (o *Orchestrator) processPage(ctx context.Context, url string, opts fetch.Options, required, fieldNames []string, outcome *Outcome) (accepted int, empty bool, err error) {
	page, err := o.fetchWithRetry(ctx, url, opts)
	if err != nil {
		return 0, false, err
	}

	if page.Exhausted || len(page.Content) == 0 {
		return 0, true, nil
	}

	candidates, err := o.strategy.Extract(ctx, page.Content, o.target.Schema, o.target.Instruction)
	if err != nil {
		outcome.ExtractionFailures++
		return 0, false, err
	}

	complete := 0
	for _, c := range candidates {
		outcome.CandidatesSeen++

		if !IsComplete(c, required) {
			outcome.RejectedIncomplete++
			continue
		}
		complete++

		key := c.String(o.target.KeyField)
		if !o.tracker.CheckAndRegister(key) {
			outcome.RejectedDuplicate++
			log.Debug("Duplicate record skipped", "target", o.target.Name, "key", key)
			continue
		}

		record := promote(c, fieldNames)
		if err := o.sink.Append(record); err != nil {
			return accepted, false, &sinkError{record: record, err: err}
		}
		outcome.Accepted = append(outcome.Accepted, record)
		accepted++
	}

	// A page whose candidates all failed validation counts as empty:
	// the site shape no longer yields extractable records.
	return accepted, complete == 0, nil
}

// fetchWithRetry retries transient failures with the page held constant.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, url string, opts fetch.Options) (*fetch.Page, error) {
	var lastErr error
	for attempt := 1; attempt <= o.target.MaxAttempts; attempt++ {
		page, err := o.fetcher.Fetch(ctx, url, opts)
		if err == nil {
			return page, nil
		}
		lastErr = err

		if !fetch.IsTransient(err) {
			return nil, err
		}
		if attempt < o.target.MaxAttempts {
			delay := o.retryBackoff * time.Duration(1<<uint(attempt-1))
			log.Debug("Retrying fetch", "url", url, "attempt", attempt, "delay", delay, "error", err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return nil, fmt.Errorf("fetch failed after %d attempts: %w", o.target.MaxAttempts, lastErr)
}

// sinkError marks an accepted record that could not be persisted. Fatal
// to the run: these must be surfaced, never dropped.
type sinkError struct {
	record Record
	err    error
}

func (e *sinkError) Error() string {
	return fmt.Sprintf("failed to persist accepted record %v: %v", e.record, e.err)
}

func (e *sinkError) Unwrap() error { return e.err }

func sinkFailed(err error) bool {
	var se *sinkError
	return errors.As(err, &se)
}

func isExtractionErr(err error) bool {
	var ee *extract.Error
	return errors.As(err, &ee)
}

// RunAll crawls several targets concurrently, one orchestrator each. A
// failed target cancels the rest; every outcome gathered before the
// failure is returned.
func RunAll(ctx context.Context, orchestrators []*Orchestrator) ([]*Outcome, error) {
	outcomes := make([]*Outcome, len(orchestrators))

	g, gctx := errgroup.WithContext(ctx)
	for i, orch := range orchestrators {
		i, orch := i, orch
		g.Go(func() error {
			out, err := orch.Run(gctx)
			outcomes[i] = out
			return err
		})
	}

	err := g.Wait()
	return outcomes, err
}
