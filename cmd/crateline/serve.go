package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sydlexius/crateline/internal/app"
	"github.com/sydlexius/crateline/internal/event"
	"github.com/sydlexius/crateline/internal/logging"
	"github.com/sydlexius/crateline/internal/watcher"
	"github.com/sydlexius/crateline/internal/webhook"
)

// maxMessageSize bounds one line of stdin. Playlist payloads carry every
// track's raw document.
const maxMessageSize = 16 << 20

// message is one line of the serve protocol.
type message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// reply is written to stdout for every handled message. Queries carry
// their answer in Result.
type reply struct {
	Type   string `json:"type"`
	OK     bool   `json:"ok"`
	Synced *int   `json:"synced,omitempty"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func newServeCommand(flags *globalFlags) *cobra.Command {
	var exitOnEOF bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the lookup workers and library watcher, reading events from stdin",
		Long: `serve starts one lookup worker per catalog and, when library.path is
configured, imports and watches the DJ library. Newline-delimited JSON
messages are read from stdin:

  {"type":"like","payload":{"trackId":"...","title":"...","artist":"..."}}
  {"type":"playlist","payload":{"playlistId":"...","tracks":[...]}}
  {"type":"now_playing","payload":{"state":"playing","title":"..."}}
  {"type":"status","payload":{"liked_only":true,"limit":50}}
  {"type":"candidates","payload":{"catalog":"discogs","trackId":"..."}}
  {"type":"missing"}
  {"type":"retry","payload":{"catalog":"musicbrainz","trackId":"..."}}
  {"type":"confirm","payload":{"catalog":"discogs","trackId":"...","release":{...}}}
  {"type":"import","payload":{"path":"/path/to/master.db"}}
  {"type":"upsert_track","payload":{"id":"...","title":"...","artist":"..."}}
  {"type":"link_source","payload":{"track_id":"...","soundcloud_id":"..."}}
  {"type":"local_asset","payload":{"track_id":"...","location":"...","available":true}}

Replies and bus events are written to stdout as JSON lines.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), flags, func(rt *runtime) error {
				return serve(cmd.Context(), rt, cmd.InOrStdin(), cmd.OutOrStdout(), exitOnEOF)
			})
		},
	}
	cmd.Flags().BoolVar(&exitOnEOF, "exit-on-eof", false, "Stop once stdin is closed instead of waiting for a signal")
	return cmd
}

func serve(ctx context.Context, rt *runtime, in io.Reader, out io.Writer, exitOnEOF bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := logging.Component(rt.logger, "serve")
	w := &lineWriter{enc: json.NewEncoder(out)}

	rt.bus.SubscribeAll(func(e event.Event) {
		if err := w.write(e); err != nil {
			logger.Warn("writing event", slog.String("type", string(e.Type)), slog.String("error", err.Error()))
		}
	})
	if len(rt.cfg.Webhooks) > 0 {
		hooks := webhook.NewDispatcher(ctx, rt.cfg.Webhooks, nil, rt.userAgent, rt.logger)
		rt.bus.SubscribeAll(hooks.HandleEvent)
		defer hooks.Wait()
	}
	busDone := make(chan struct{})
	go func() {
		defer close(busDone)
		rt.bus.Start()
	}()
	defer func() {
		rt.bus.Stop()
		<-busDone
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, wk := range rt.workers {
		g.Go(func() error {
			wk.Run(gctx)
			return nil
		})
	}

	if every := rt.cfg.Backup.Interval; every > 0 {
		g.Go(func() error {
			rt.backups.Run(gctx, every)
			return nil
		})
	}

	lib := watcher.NewManager(gctx, rt.service.RefreshLibrary, rt.bus, rt.logger,
		watcher.WithInterval(rt.cfg.Library.PollInterval),
		watcher.WithProbeCache(watcher.NewProbeCache()),
	)
	defer lib.Disable()
	rt.service.AttachWatcher(lib)

	if path := rt.cfg.Library.Path; path != "" {
		if _, err := rt.service.ImportLibrary(gctx, path); err != nil {
			logger.Error("initial library import failed", slog.String("path", path), slog.String("error", err.Error()))
		}
	}

	// The stdin reader is not part of the group: a blocked Read cannot be
	// interrupted, so shutdown does not wait for it.
	eof := make(chan error, 1)
	go func() {
		eof <- readMessages(gctx, rt.service, in, w, logger)
	}()

	logger.Info("serving", slog.Int("workers", len(rt.workers)))
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-eof:
			if err != nil {
				return err
			}
			if exitOnEOF {
				cancel()
			}
			return nil
		}
	})

	err := g.Wait()
	logger.Info("stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func readMessages(ctx context.Context, svc *app.Service, in io.Reader, w *lineWriter, logger *slog.Logger) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), maxMessageSize)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		r := handleMessage(ctx, svc, line)
		if !r.OK {
			logger.Warn("message failed", slog.String("type", r.Type), slog.String("error", r.Error))
		}
		if err := w.write(r); err != nil {
			return fmt.Errorf("writing reply: %w", err)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}
	return nil
}

func handleMessage(ctx context.Context, svc *app.Service, line []byte) reply {
	var msg message
	if err := json.Unmarshal(line, &msg); err != nil {
		return reply{Error: fmt.Sprintf("decoding message: %v", err)}
	}
	r := reply{Type: msg.Type}

	h, ok := handlers[msg.Type]
	if !ok {
		r.Error = fmt.Sprintf("unknown message type %q", msg.Type)
		return r
	}
	if err := h(ctx, svc, msg.Payload, &r); err != nil {
		r.Error = err.Error()
		return r
	}
	r.OK = true
	return r
}

// lineWriter serialises JSON lines from the reader and the event bus.
type lineWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (w *lineWriter) write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(v)
}
