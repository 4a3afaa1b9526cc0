// Package reconcile runs catalog lookups for tracks and records the
// verdicts. There is one Worker per catalog; its single consumer goroutine
// and the catalog's rate limiter serialize all requests to that catalog.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/sydlexius/crateline/internal/catalog"
	"github.com/sydlexius/crateline/internal/event"
	"github.com/sydlexius/crateline/internal/store"
)

// DefaultQueueSize is the job buffer used when none is configured.
const DefaultQueueSize = 32

// ErrWorkerStopped is returned by Enqueue once the worker has shut down.
var ErrWorkerStopped = errors.New("lookup worker stopped")

// Recorder persists lookup verdicts. *store.Store implements it.
type Recorder interface {
	RecordSuccess(ctx context.Context, name catalog.Name, trackID, query string, release json.RawMessage, confidence float64) error
	RecordAmbiguity(ctx context.Context, name catalog.Name, trackID, query string, candidates []store.CandidateRecord) error
	RecordFailure(ctx context.Context, name catalog.Name, trackID, query, reason string) error
}

// Job is one queued lookup.
type Job struct {
	ID    string
	Query catalog.TrackQuery
}

// Worker consumes lookup jobs for a single catalog.
type Worker struct {
	client   catalog.Client
	recorder Recorder
	events   event.Publisher
	logger   *slog.Logger

	jobs     chan Job
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a worker with a job buffer of queueSize. events may be
// nil when nobody listens for ambiguity notifications.
func NewWorker(client catalog.Client, recorder Recorder, events event.Publisher, logger *slog.Logger, queueSize int) *Worker {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Worker{
		client:   client,
		recorder: recorder,
		events:   events,
		logger: logger.With(
			slog.String("component", "reconcile"),
			slog.String("catalog", string(client.Name())),
		),
		jobs:    make(chan Job, queueSize),
		stopped: make(chan struct{}),
	}
}

// Catalog returns the catalog this worker serves.
func (w *Worker) Catalog() catalog.Name {
	return w.client.Name()
}

// Enqueue queues a lookup and returns its job id. When the buffer is full
// it waits for room; it gives up when ctx is cancelled or the worker stops.
// Jobs are never dropped silently.
func (w *Worker) Enqueue(ctx context.Context, q catalog.TrackQuery) (string, error) {
	select {
	case <-w.stopped:
		return "", ErrWorkerStopped
	default:
	}

	job := Job{ID: uuid.NewString(), Query: q}
	select {
	case w.jobs <- job:
		w.logger.Debug("lookup queued", slog.String("job_id", job.ID), slog.String("track_id", q.TrackID))
		return job.ID, nil
	case <-w.stopped:
		return "", ErrWorkerStopped
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Run processes jobs until ctx is cancelled. Jobs still buffered at that
// point are abandoned; Enqueue fails with ErrWorkerStopped afterwards.
func (w *Worker) Run(ctx context.Context) {
	defer w.stop()
	w.logger.Info("lookup worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("lookup worker stopped", slog.Int("abandoned", len(w.jobs)))
			return
		case job := <-w.jobs:
			w.Process(ctx, job)
		}
	}
}

func (w *Worker) stop() {
	w.stopOnce.Do(func() { close(w.stopped) })
}

// Process runs a single lookup and records its verdict. Persistence errors
// are logged, never returned, so one bad track cannot stall the queue.
func (w *Worker) Process(ctx context.Context, job Job) catalog.Verdict {
	logger := w.logger.With(slog.String("job_id", job.ID), slog.String("track_id", job.Query.TrackID))
	if job.Query.TrackID == "" {
		logger.Warn("skipping lookup without track id")
		return catalog.Failure("", "missing track id")
	}

	v := w.client.Lookup(ctx, job.Query)
	name := w.client.Name()

	var err error
	switch v.Outcome {
	case catalog.OutcomeSuccess:
		err = w.recorder.RecordSuccess(ctx, name, job.Query.TrackID, v.Query, v.Release, v.Confidence)
		logger.Info("lookup matched",
			slog.String("release_id", v.ReleaseID),
			slog.Float64("confidence", v.Confidence))
	case catalog.OutcomeAmbiguous:
		err = w.recorder.RecordAmbiguity(ctx, name, job.Query.TrackID, v.Query, store.CandidatesFromCatalog(v.Candidates))
		logger.Info("lookup ambiguous", slog.Int("candidates", len(v.Candidates)))
		if err == nil {
			w.publishAmbiguous(job.Query.TrackID, v)
		}
	default:
		err = w.recorder.RecordFailure(ctx, name, job.Query.TrackID, v.Query, v.Message)
		logger.Warn("lookup failed", slog.String("reason", v.Message))
	}
	if err != nil {
		logger.Error("recording lookup verdict", slog.String("error", err.Error()))
	}
	return v
}

func (w *Worker) publishAmbiguous(trackID string, v catalog.Verdict) {
	if w.events == nil {
		return
	}
	w.events.Publish(event.Event{
		Type: event.LookupAmbiguous(string(w.client.Name())),
		Data: map[string]any{
			"catalog":    string(w.client.Name()),
			"track_id":   trackID,
			"query":      v.Query,
			"candidates": v.Candidates,
		},
	})
}
