package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
)

// jobRun is the in-memory state of one active crawl. It owns the frontier
// queue, the rate limiter and the dedup cache, and is discarded once the
// finalizer has persisted the terminal job record.
type jobRun struct {
	job     *models.Job
	policy  *Policy
	queue   *taskQueue
	limiter *rate.Limiter
	dedup   *Dedup

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}

	cancelRequested chan struct{}
	cancelOnce      sync.Once
	maxPagesHit     chan struct{}
	maxPagesOnce    sync.Once

	// finalized flips exactly once; the winning finalizer tears the run down.
	finalized atomic.Bool

	mu       sync.Mutex
	counters models.CrawlCounters
	okPages  int
}

func (r *jobRun) requestCancel() {
	r.cancelOnce.Do(func() {
		close(r.cancelRequested)
	})
}

func (r *jobRun) signalMaxPages() {
	r.maxPagesOnce.Do(func() {
		close(r.maxPagesHit)
	})
}

func (r *jobRun) snapshot() models.CrawlCounters {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters
}

// workerLoop pulls tasks until the queue closes or the run context ends.
// The rate limiter gates task starts, so the configured gap holds across the
// whole pool, not per worker.
func (s *Service) workerLoop(run *jobRun) {
	defer run.wg.Done()

	for {
		task, err := run.queue.Pop(run.ctx)
		if err != nil || task == nil {
			return
		}
		if err := run.limiter.Wait(run.ctx); err != nil {
			run.queue.Done()
			return
		}
		s.processTask(run, task)
		run.queue.Done()
	}
}

// processTask runs one URL through the pipeline: fetch, parse, discover,
// extract, dedup, quality gate, store. Every outcome updates counters and
// the event stream together.
func (s *Service) processTask(run *jobRun, task *PageTask) {
	cfg := run.job.Config

	s.publish(run.job.UserID, run.job.ID, models.EventURLStarted, map[string]any{
		"url":     task.URL,
		"depth":   task.Depth,
		"attempt": task.Attempt,
	})

	taskCtx, cancelFetch := context.WithTimeout(run.ctx, cfg.RequestTimeout())
	fetched, err := s.fetcher.Fetch(taskCtx, task.URL)
	cancelFetch()
	if err != nil {
		s.handleFetchError(run, task, err)
		return
	}

	s.publish(run.job.UserID, run.job.ID, models.EventSentToProcessing, map[string]any{
		"url": task.URL,
	})

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(fetched.Body))
	if err != nil {
		s.recordFailure(run, task, "parse", fmt.Sprintf("failed to parse HTML: %v", err))
		return
	}

	var links []string
	if task.Depth < cfg.MaxDepth {
		links = collectLinks(run, task, doc, fetched.FinalURL)
	}

	extracted := s.extractor.Extract(doc)

	if run.dedup.SeenHash(run.ctx, extracted.Hash) {
		// Same content under a second URL: count it, emit it, store nothing,
		// and do not follow its links again.
		run.mu.Lock()
		run.counters.Processed++
		run.counters.Skipped++
		processed := run.counters.Processed
		run.mu.Unlock()

		s.publish(run.job.UserID, run.job.ID, models.EventURLCrawled, map[string]any{
			"url":    task.URL,
			"title":  extracted.Title,
			"status": string(models.PageStatusDuplicate),
		})
		s.publishProgress(run)
		s.checkPageBudget(run, processed)
		return
	}
	run.dedup.AddHash(run.ctx, extracted.Hash)

	if reason, ok := CheckQuality(extracted.Markdown, cfg.QualityThreshold); !ok {
		result := newPageResult(run, task, models.PageStatusSkipped)
		result.Title = extracted.Title
		result.Error = reason
		s.storeResult(run, result)

		run.mu.Lock()
		run.counters.Processed++
		run.counters.Skipped++
		processed := run.counters.Processed
		run.mu.Unlock()

		s.publish(run.job.UserID, run.job.ID, models.EventURLCrawled, map[string]any{
			"url":    task.URL,
			"title":  extracted.Title,
			"status": string(models.PageStatusSkipped),
			"reason": reason,
		})
		// Thin pages still link onward; index pages rarely pass the gate.
		s.admitLinks(run, task, links)
		s.publishProgress(run)
		s.checkPageBudget(run, processed)
		return
	}

	result := newPageResult(run, task, models.PageStatusOK)
	result.Title = extracted.Title
	result.Markdown = extracted.Markdown
	result.WordCount = extracted.WordCount
	result.ContentHash = extracted.Hash
	s.storeResult(run, result)

	run.mu.Lock()
	run.counters.Processed++
	run.okPages++
	processed := run.counters.Processed
	run.mu.Unlock()

	s.publish(run.job.UserID, run.job.ID, models.EventURLCrawled, map[string]any{
		"url":        task.URL,
		"title":      extracted.Title,
		"status":     string(models.PageStatusOK),
		"word_count": extracted.WordCount,
	})
	s.admitLinks(run, task, links)
	s.publishProgress(run)
	s.checkPageBudget(run, processed)
}

// handleFetchError sorts a failed fetch into retry, skip or terminal
// failure. A fetch aborted by run shutdown leaves no record at all.
func (s *Service) handleFetchError(run *jobRun, task *PageTask, err error) {
	if run.ctx.Err() != nil {
		s.logger.Debug().Str("url", task.URL).Msg("Fetch aborted by job shutdown")
		return
	}

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		fetchErr = &FetchError{Kind: FetchErrNetwork, Err: err}
	}

	if s.retry.ShouldRetry(task.Attempt, fetchErr) {
		s.scheduleRetry(run, task)
		return
	}

	if fetchErr.Kind == FetchErrContentType {
		s.recordSkip(run, task, fetchErr.Error())
		return
	}

	s.recordFailure(run, task, string(fetchErr.Kind), fetchErr.Error())
}

// recordSkip stores a skipped result for a page that was reachable but not
// usable, such as a non-HTML response.
func (s *Service) recordSkip(run *jobRun, task *PageTask, reason string) {
	result := newPageResult(run, task, models.PageStatusSkipped)
	result.Error = reason
	s.storeResult(run, result)

	run.mu.Lock()
	run.counters.Processed++
	run.counters.Skipped++
	processed := run.counters.Processed
	run.mu.Unlock()

	s.publish(run.job.UserID, run.job.ID, models.EventURLCrawled, map[string]any{
		"url":    task.URL,
		"status": string(models.PageStatusSkipped),
		"reason": reason,
	})
	s.publishProgress(run)
	s.checkPageBudget(run, processed)
}

// recordFailure stores a failed result after retries are exhausted or for
// errors that never retry.
func (s *Service) recordFailure(run *jobRun, task *PageTask, kind, message string) {
	result := newPageResult(run, task, models.PageStatusFailed)
	result.Error = message
	s.storeResult(run, result)

	run.mu.Lock()
	run.counters.Failed++
	run.mu.Unlock()

	s.publish(run.job.UserID, run.job.ID, models.EventURLFailed, map[string]any{
		"url":      task.URL,
		"error":    message,
		"kind":     kind,
		"attempts": task.Attempt,
	})
	s.publishProgress(run)
}

// scheduleRetry re-admits the task after its backoff. The reservation keeps
// the queue non-idle while the task waits, so the supervisor cannot finalize
// a job that still owes a retry.
func (s *Service) scheduleRetry(run *jobRun, task *PageTask) {
	run.queue.Reserve()
	next := task.NextAttempt()
	delay := s.retry.Backoff(task.Attempt)

	s.logger.Debug().
		Str("job_id", run.job.ID).
		Str("url", task.URL).
		Int("next_attempt", next.Attempt).
		Dur("backoff", delay).
		Msg("Retrying fetch")

	common.SafeGo(s.logger, "crawlRetry", func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-run.ctx.Done():
			run.queue.Release()
		case <-timer.C:
			run.queue.PushReserved(next)
		}
	})
}

// collectLinks resolves and canonicalizes the page's outbound links against
// its final URL, so links on a redirected page resolve where the content
// actually lives.
func collectLinks(run *jobRun, task *PageTask, doc *goquery.Document, finalURL string) []string {
	base, err := url.Parse(finalURL)
	if err != nil || finalURL == "" {
		if base, err = url.Parse(task.URL); err != nil {
			return nil
		}
	}
	return run.policy.ExtractLinks(doc, base)
}

// admitLinks applies scope policy and dedup to candidate links, then admits
// as many fresh ones as the page budget allows. Discovered counts every
// fresh in-scope link even when the budget stops its admission.
func (s *Service) admitLinks(run *jobRun, task *PageTask, candidates []string) {
	if len(candidates) == 0 {
		return
	}

	depth := task.Depth + 1
	var inScope []string
	for _, candidate := range candidates {
		if ok, _ := run.policy.ShouldCrawl(candidate, depth); ok {
			inScope = append(inScope, candidate)
		}
	}

	fresh := run.dedup.AddURLs(run.ctx, inScope)
	if len(fresh) == 0 {
		return
	}

	admitted := 0
	run.mu.Lock()
	run.counters.Discovered += len(fresh)
	for _, canonical := range fresh {
		if run.counters.Queued >= run.job.Config.MaxPages {
			break
		}
		if run.queue.Push(&PageTask{URL: canonical, Depth: depth, ParentURL: task.URL, Attempt: 1}) {
			run.counters.Queued++
			admitted++
		}
	}
	run.mu.Unlock()

	s.publish(run.job.UserID, run.job.ID, models.EventURLsDiscovered, map[string]any{
		"url":      task.URL,
		"count":    len(fresh),
		"admitted": admitted,
	})
}

// supervise watches for the run's end conditions and invokes the single
// finalizer. It is the only goroutine that calls finalizeJob for an active
// run, which keeps wg.Wait out of the workers.
func (s *Service) supervise(run *jobRun) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-run.queue.Idle():
			s.finalizeJob(run, models.JobStatusCompleted, "")
			return
		case <-run.maxPagesHit:
			s.finalizeJob(run, models.JobStatusCompleted, "")
			return
		case <-run.cancelRequested:
			s.finalizeJob(run, models.JobStatusCancelled, "cancelled by user")
			return
		case <-run.ctx.Done():
			if errors.Is(run.ctx.Err(), context.DeadlineExceeded) {
				s.finalizeJob(run, models.JobStatusTimeout, fmt.Sprintf("job exceeded %s deadline", s.config.Crawler.JobDeadline))
			} else {
				s.finalizeJob(run, models.JobStatusCancelled, "service shutting down")
			}
			return
		case <-ticker.C:
			s.publish(run.job.UserID, run.job.ID, models.EventTimeUpdate, map[string]any{
				"elapsed_ms": time.Since(run.job.StartedAt).Milliseconds(),
			})
		}
	}
}

// finalizeJob tears the run down and persists the terminal record: stop the
// workers, settle counters, write status and corpus, emit the terminal
// event, release waiters. A completed intent with zero stored pages becomes
// a failure, since there is no corpus to serve.
func (s *Service) finalizeJob(run *jobRun, target models.JobStatus, errMsg string) {
	if !run.finalized.CompareAndSwap(false, true) {
		return
	}

	run.cancel()
	run.queue.Clear()
	run.queue.Close()
	run.wg.Wait()

	counters := run.snapshot()
	run.mu.Lock()
	okPages := run.okPages
	run.mu.Unlock()

	if target == models.JobStatusCompleted && okPages == 0 {
		target = models.JobStatusFailed
		errMsg = "no pages produced content"
	}

	// The run context is cancelled by now; finalization still has to persist.
	ctx := context.Background()

	job, err := s.jobs.UpdateStatus(ctx, run.job.UserID, run.job.ID, []models.JobStatus{models.JobStatusRunning}, target, errMsg)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", run.job.ID).Msg("Failed to finalize job status")
		s.deregister(run)
		return
	}

	job.Counters = counters
	corpusBytes := 0
	if target == models.JobStatusCompleted {
		corpus := s.buildCorpus(ctx, run)
		job.FinalMarkdown = corpus
		corpusBytes = len(corpus)
	}
	if err := s.jobs.SaveJob(ctx, job); err != nil {
		s.logger.Error().Err(err).Str("job_id", run.job.ID).Msg("Failed to persist final job record")
	}

	switch target {
	case models.JobStatusCompleted:
		s.publish(job.UserID, job.ID, models.EventJobCompleted, map[string]any{
			"status":       string(target),
			"pages":        okPages,
			"duration_ms":  job.Duration().Milliseconds(),
			"corpus_bytes": corpusBytes,
		})
	case models.JobStatusTimeout:
		s.publish(job.UserID, job.ID, models.EventJobTimeout, map[string]any{
			"status": string(target),
			"error":  errMsg,
		})
	default:
		s.publish(job.UserID, job.ID, models.EventJobFailed, map[string]any{
			"status": string(target),
			"error":  errMsg,
		})
	}

	s.deregister(run)

	s.logger.Info().
		Str("job_id", job.ID).
		Str("status", string(target)).
		Int("pages", okPages).
		Int("processed", counters.Processed).
		Int("failed", counters.Failed).
		Dur("duration", job.Duration()).
		Msg("Crawl job finalized")
}

// deregister releases WaitForJob callers and removes the run from the
// registry. The terminal record is already persisted, so reads from here on
// serve storage.
func (s *Service) deregister(run *jobRun) {
	close(run.done)
	s.mu.Lock()
	delete(s.runs, run.job.Key)
	s.mu.Unlock()
}

// buildCorpus concatenates the job's ok pages, in canonical URL order, into
// one Markdown document separated by horizontal rules.
func (s *Service) buildCorpus(ctx context.Context, run *jobRun) string {
	results, err := s.results.ListResults(ctx, run.job.UserID, run.job.ID)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", run.job.ID).Msg("Failed to load results for corpus")
		return ""
	}

	sections := make([]string, 0, len(results))
	for _, result := range results {
		if result.Status != models.PageStatusOK {
			continue
		}
		sections = append(sections, buildSection(result.Title, result.Markdown))
	}
	return strings.Join(sections, "\n\n---\n\n")
}

// buildSection prefixes a page's Markdown with its title heading unless the
// Markdown already begins with exactly that heading.
func buildSection(title, markdown string) string {
	header := "# " + title
	trimmed := strings.TrimSpace(markdown)
	if trimmed == header || strings.HasPrefix(trimmed, header+"\n") {
		return trimmed
	}
	return header + "\n\n" + trimmed
}

// storeResult persists a page result unless finalization has begun. A
// finalized job's stored results are frozen.
func (s *Service) storeResult(run *jobRun, result *models.PageResult) {
	if run.finalized.Load() {
		return
	}
	if err := s.results.SaveResult(context.Background(), result); err != nil {
		s.logger.Error().Err(err).Str("url", result.URL).Msg("Failed to store page result")
	}
}

func (s *Service) publishProgress(run *jobRun) {
	c := run.snapshot()
	s.publish(run.job.UserID, run.job.ID, models.EventProgress, map[string]any{
		"discovered": c.Discovered,
		"queued":     c.Queued,
		"processed":  c.Processed,
		"skipped":    c.Skipped,
		"failed":     c.Failed,
	})
}

// checkPageBudget ends the job once processed pages reach max_pages.
func (s *Service) checkPageBudget(run *jobRun, processed int) {
	if processed >= run.job.Config.MaxPages {
		run.signalMaxPages()
	}
}

// newPageResult builds the common fields of a result record; callers fill
// the outcome-specific ones.
func newPageResult(run *jobRun, task *PageTask, status models.PageStatus) *models.PageResult {
	return &models.PageResult{
		Key:       models.ResultKey(run.job.UserID, run.job.ID, URLKey(task.URL)),
		JobKey:    run.job.Key,
		UserID:    run.job.UserID,
		JobID:     run.job.ID,
		URL:       task.URL,
		Status:    status,
		Depth:     task.Depth,
		ParentURL: task.ParentURL,
		FetchedAt: time.Now().UTC(),
	}
}
