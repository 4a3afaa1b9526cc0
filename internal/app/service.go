// Package app is the command surface of crateline. It ties the store, the
// per-catalog lookup workers, the library importer and the watcher
// together behind the operations a presentation layer calls.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sydlexius/crateline/internal/catalog"
	"github.com/sydlexius/crateline/internal/reconcile"
	"github.com/sydlexius/crateline/internal/rekordbox"
	"github.com/sydlexius/crateline/internal/store"
)

// LibraryWatcher is the part of watcher.Manager the service drives.
type LibraryWatcher interface {
	Configure(path string)
	Disable()
}

// Service implements the crateline operations.
type Service struct {
	store   *store.Store
	workers map[catalog.Name]*reconcile.Worker
	order   []catalog.Name
	watcher LibraryWatcher
	media   MediaSink
	loadOpt []rekordbox.Option
	logger  *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithMediaSink sets where now-playing updates go.
func WithMediaSink(m MediaSink) Option {
	return func(s *Service) { s.media = m }
}

// WithLibraryOptions passes options to every library load.
func WithLibraryOptions(opts ...rekordbox.Option) Option {
	return func(s *Service) { s.loadOpt = append(s.loadOpt, opts...) }
}

// New creates a service over st with one worker per catalog.
func New(st *store.Store, workers []*reconcile.Worker, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:   st,
		workers: make(map[catalog.Name]*reconcile.Worker, len(workers)),
		media:   NopMediaSink{},
		logger:  logger.With(slog.String("component", "app")),
	}
	for _, w := range workers {
		s.workers[w.Catalog()] = w
		s.order = append(s.order, w.Catalog())
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AttachWatcher sets the watcher that ImportLibrary configures. The
// watcher usually calls back into RefreshLibrary, so it is attached after
// construction.
func (s *Service) AttachWatcher(w LibraryWatcher) {
	s.watcher = w
}

// UpsertTrack stores a track's descriptive fields.
func (s *Service) UpsertTrack(ctx context.Context, t store.TrackRecord) error {
	return s.store.UpsertTrack(ctx, t)
}

// LinkSource stores a track's streaming-library source.
func (s *Service) LinkSource(ctx context.Context, src store.SourceRecord) error {
	return s.store.LinkSource(ctx, src)
}

// RecordLocalAsset stores a track's local file.
func (s *Service) RecordLocalAsset(ctx context.Context, a store.LocalAssetRecord) error {
	return s.store.RecordLocalAsset(ctx, a)
}

// ListMissingAssets returns ids of tracks without an available local file.
func (s *Service) ListMissingAssets(ctx context.Context) ([]string, error) {
	return s.store.ListMissingAssets(ctx)
}

// ListStatus returns one page of the library status view.
func (s *Service) ListStatus(ctx context.Context, f store.StatusFilter) (*store.StatusPage, error) {
	return s.store.ListStatus(ctx, f)
}

// ListCandidates returns the stored candidates of a track for a catalog.
func (s *Service) ListCandidates(ctx context.Context, name, trackID string) ([]store.CandidateRecord, error) {
	cat, err := catalog.ParseName(name)
	if err != nil {
		return nil, err
	}
	return s.store.ListCandidates(ctx, cat, trackID)
}

// GetMatch returns the stored match of a track for a catalog.
func (s *Service) GetMatch(ctx context.Context, name, trackID string) (*store.MatchRecord, error) {
	cat, err := catalog.ParseName(name)
	if err != nil {
		return nil, err
	}
	return s.store.GetMatch(ctx, cat, trackID)
}

func (s *Service) worker(name string) (*reconcile.Worker, error) {
	cat, err := catalog.ParseName(name)
	if err != nil {
		return nil, err
	}
	w, ok := s.workers[cat]
	if !ok {
		return nil, fmt.Errorf("no %s worker configured", cat)
	}
	return w, nil
}

func (s *Service) lookupQuery(ctx context.Context, trackID string) (catalog.TrackQuery, error) {
	snap, err := s.store.LoadLookup(ctx, trackID)
	if errors.Is(err, store.ErrNotFound) {
		return catalog.TrackQuery{}, fmt.Errorf("track %q not found in library", trackID)
	}
	if err != nil {
		return catalog.TrackQuery{}, err
	}
	return queryFromSnapshot(snap), nil
}

// RetryLookup queues a fresh lookup of a stored track and returns the job id.
func (s *Service) RetryLookup(ctx context.Context, name, trackID string) (string, error) {
	w, err := s.worker(name)
	if err != nil {
		return "", err
	}
	q, err := s.lookupQuery(ctx, trackID)
	if err != nil {
		return "", err
	}
	return w.Enqueue(ctx, q)
}

// ResolveNow looks a stored track up immediately on the caller's
// goroutine, records the verdict and returns it.
func (s *Service) ResolveNow(ctx context.Context, name, trackID string) (catalog.Verdict, error) {
	w, err := s.worker(name)
	if err != nil {
		return catalog.Verdict{}, err
	}
	q, err := s.lookupQuery(ctx, trackID)
	if err != nil {
		return catalog.Verdict{}, err
	}
	return w.Process(ctx, reconcile.Job{ID: "manual", Query: q}), nil
}

// ConfirmMatch records a release the user picked. Confidence falls back
// to the release's own score, then to 100.
func (s *Service) ConfirmMatch(ctx context.Context, name, trackID string, release json.RawMessage, confidence *float64, query string) error {
	cat, err := catalog.ParseName(name)
	if err != nil {
		return err
	}
	conf := 100.0
	if confidence != nil {
		conf = *confidence
	} else if score, ok := releaseScore(release); ok {
		conf = score
	}
	if err := s.store.RecordSuccess(ctx, cat, trackID, query, release, conf); err != nil {
		return err
	}
	s.logger.Info("match confirmed",
		slog.String("catalog", string(cat)),
		slog.String("track_id", trackID),
		slog.Float64("confidence", conf))
	return nil
}

func releaseScore(release json.RawMessage) (float64, bool) {
	var doc struct {
		Score *float64 `json:"score"`
	}
	if json.Unmarshal(release, &doc) != nil || doc.Score == nil {
		return 0, false
	}
	return *doc.Score, true
}

// HandleLike stores a liked track and queues lookups in every catalog.
func (s *Service) HandleLike(ctx context.Context, p TrackPayload) error {
	if err := s.syncTrack(ctx, p); err != nil {
		return fmt.Errorf("persisting liked track: %w", err)
	}
	s.enqueueAll(ctx, p.query())
	return nil
}

// HandlePlaylist stores every track of a playlist and queues lookups for
// the ones that were stored. A track that fails is logged and skipped; the
// failures are returned joined after the whole batch ran.
func (s *Service) HandlePlaylist(ctx context.Context, p PlaylistPayload) (int, error) {
	var (
		synced int
		errs   []error
	)
	for _, t := range p.Tracks {
		if err := s.syncTrack(ctx, t); err != nil {
			s.logger.Warn("persisting playlist track",
				slog.String("playlist_id", p.PlaylistID),
				slog.String("track_id", t.TrackID),
				slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("track %q: %w", t.TrackID, err))
			continue
		}
		synced++
		s.enqueueAll(ctx, t.query())
	}
	s.logger.Info("playlist synced",
		slog.String("playlist_id", p.PlaylistID),
		slog.Int("tracks", len(p.Tracks)),
		slog.Int("synced", synced))
	return synced, errors.Join(errs...)
}

func (s *Service) syncTrack(ctx context.Context, p TrackPayload) error {
	if p.TrackID == "" {
		return errors.New("payload has no track id")
	}
	return s.store.SyncTrack(ctx, p.track(), p.source())
}

func (s *Service) enqueueAll(ctx context.Context, q catalog.TrackQuery) {
	for _, name := range s.order {
		if _, err := s.workers[name].Enqueue(ctx, q); err != nil {
			s.logger.Warn("queueing lookup",
				slog.String("catalog", string(name)),
				slog.String("track_id", q.TrackID),
				slog.String("error", err.Error()))
		}
	}
}

// UpdateNowPlaying forwards playback state to the media sink.
func (s *Service) UpdateNowPlaying(ctx context.Context, np NowPlaying) error {
	return s.media.Update(ctx, np)
}
