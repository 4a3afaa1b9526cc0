package app

import (
	"context"
	"fmt"

	"github.com/sydlexius/crateline/internal/rekordbox"
	"github.com/sydlexius/crateline/internal/store"
)

// RefreshLibrary loads the collection at path and syncs it into the store.
func (s *Service) RefreshLibrary(ctx context.Context, path string) (store.SyncSummary, error) {
	tracks, err := rekordbox.Load(ctx, path, s.loadOpt...)
	if err != nil {
		return store.SyncSummary{}, err
	}
	sum, err := s.store.SyncLibraryTracks(ctx, tracks)
	if err != nil {
		return store.SyncSummary{}, fmt.Errorf("syncing library: %w", err)
	}
	return sum, nil
}

// ImportLibrary runs a full import of path and then points the watcher at
// it. XML exports are not watched, so importing one disables the watcher.
func (s *Service) ImportLibrary(ctx context.Context, path string) (store.SyncSummary, error) {
	sum, err := s.RefreshLibrary(ctx, path)
	if err != nil {
		return sum, err
	}
	if s.watcher != nil {
		if rekordbox.SupportsAutoRefresh(path) {
			s.watcher.Configure(path)
		} else {
			s.watcher.Disable()
		}
	}
	return sum, nil
}
