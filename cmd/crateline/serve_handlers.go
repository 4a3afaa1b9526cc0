package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sydlexius/crateline/internal/app"
	"github.com/sydlexius/crateline/internal/store"
)

// handler runs one serve message. Answers go into r.
type handler func(ctx context.Context, svc *app.Service, payload json.RawMessage, r *reply) error

var handlers = map[string]handler{
	"like":         handleLike,
	"playlist":     handlePlaylist,
	"now_playing":  handleNowPlaying,
	"status":       handleStatus,
	"candidates":   handleCandidates,
	"missing":      handleMissing,
	"retry":        handleRetry,
	"confirm":      handleConfirm,
	"import":       handleImport,
	"upsert_track": handleUpsertTrack,
	"link_source":  handleLinkSource,
	"local_asset":  handleLocalAsset,
}

// trackRef names one track in one catalog.
type trackRef struct {
	Catalog string `json:"catalog"`
	TrackID string `json:"trackId"`
}

type confirmRequest struct {
	trackRef
	Release    json.RawMessage `json:"release"`
	Confidence *float64        `json:"confidence,omitempty"`
	Query      string          `json:"query,omitempty"`
}

type importRequest struct {
	Path string `json:"path"`
}

type retryResult struct {
	JobID string `json:"jobId"`
}

// decodePayload unmarshals a message payload. A missing payload decodes
// to the zero value.
func decodePayload[T any](payload json.RawMessage) (T, error) {
	var v T
	if len(payload) == 0 || string(payload) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, fmt.Errorf("decoding payload: %w", err)
	}
	return v, nil
}

func handleLike(ctx context.Context, svc *app.Service, payload json.RawMessage, _ *reply) error {
	p, err := decodePayload[app.TrackPayload](payload)
	if err != nil {
		return err
	}
	return svc.HandleLike(ctx, p)
}

func handlePlaylist(ctx context.Context, svc *app.Service, payload json.RawMessage, r *reply) error {
	p, err := decodePayload[app.PlaylistPayload](payload)
	if err != nil {
		return err
	}
	n, err := svc.HandlePlaylist(ctx, p)
	r.Synced = &n
	return err
}

func handleNowPlaying(ctx context.Context, svc *app.Service, payload json.RawMessage, _ *reply) error {
	np, err := decodePayload[app.NowPlaying](payload)
	if err != nil {
		return err
	}
	return svc.UpdateNowPlaying(ctx, np)
}

func handleStatus(ctx context.Context, svc *app.Service, payload json.RawMessage, r *reply) error {
	f, err := decodePayload[store.StatusFilter](payload)
	if err != nil {
		return err
	}
	page, err := svc.ListStatus(ctx, f)
	if err != nil {
		return err
	}
	r.Result = page
	return nil
}

func handleCandidates(ctx context.Context, svc *app.Service, payload json.RawMessage, r *reply) error {
	ref, err := decodePayload[trackRef](payload)
	if err != nil {
		return err
	}
	cands, err := svc.ListCandidates(ctx, ref.Catalog, ref.TrackID)
	if err != nil {
		return err
	}
	if cands == nil {
		cands = []store.CandidateRecord{}
	}
	r.Result = cands
	return nil
}

func handleMissing(ctx context.Context, svc *app.Service, _ json.RawMessage, r *reply) error {
	ids, err := svc.ListMissingAssets(ctx)
	if err != nil {
		return err
	}
	if ids == nil {
		ids = []string{}
	}
	r.Result = ids
	return nil
}

func handleRetry(ctx context.Context, svc *app.Service, payload json.RawMessage, r *reply) error {
	ref, err := decodePayload[trackRef](payload)
	if err != nil {
		return err
	}
	id, err := svc.RetryLookup(ctx, ref.Catalog, ref.TrackID)
	if err != nil {
		return err
	}
	r.Result = retryResult{JobID: id}
	return nil
}

func handleConfirm(ctx context.Context, svc *app.Service, payload json.RawMessage, r *reply) error {
	req, err := decodePayload[confirmRequest](payload)
	if err != nil {
		return err
	}
	if len(req.Release) == 0 || !json.Valid(req.Release) {
		return errors.New("confirm needs a release document")
	}
	if err := svc.ConfirmMatch(ctx, req.Catalog, req.TrackID, req.Release, req.Confidence, req.Query); err != nil {
		return err
	}
	m, err := svc.GetMatch(ctx, req.Catalog, req.TrackID)
	if err != nil {
		return err
	}
	r.Result = m
	return nil
}

func handleImport(ctx context.Context, svc *app.Service, payload json.RawMessage, r *reply) error {
	req, err := decodePayload[importRequest](payload)
	if err != nil {
		return err
	}
	if req.Path == "" {
		return errors.New("import needs a path")
	}
	sum, err := svc.ImportLibrary(ctx, req.Path)
	if err != nil {
		return err
	}
	r.Result = sum
	return nil
}

func handleUpsertTrack(ctx context.Context, svc *app.Service, payload json.RawMessage, _ *reply) error {
	t, err := decodePayload[store.TrackRecord](payload)
	if err != nil {
		return err
	}
	return svc.UpsertTrack(ctx, t)
}

func handleLinkSource(ctx context.Context, svc *app.Service, payload json.RawMessage, _ *reply) error {
	src, err := decodePayload[store.SourceRecord](payload)
	if err != nil {
		return err
	}
	return svc.LinkSource(ctx, src)
}

func handleLocalAsset(ctx context.Context, svc *app.Service, payload json.RawMessage, _ *reply) error {
	a, err := decodePayload[store.LocalAssetRecord](payload)
	if err != nil {
		return err
	}
	return svc.RecordLocalAsset(ctx, a)
}
