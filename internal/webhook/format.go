package webhook

import (
	"encoding/json"
	"fmt"

	"github.com/sydlexius/crateline/internal/catalog"
	"github.com/sydlexius/crateline/internal/event"
)

// formatPayload returns the request body and content type for a delivery.
func formatPayload(w *Webhook, e event.Event) ([]byte, string) {
	switch w.Type {
	case TypeDiscord:
		return marshal(map[string]any{
			"embeds": []map[string]any{{
				"title":       title(e),
				"description": describe(e),
				"color":       3447003,
				"timestamp":   e.Timestamp.UTC().Format("2006-01-02T15:04:05Z"),
			}},
		})
	case TypeSlack:
		return marshal(map[string]any{"text": fmt.Sprintf("*%s*\n%s", title(e), describe(e))})
	case TypeGotify:
		return marshal(map[string]any{"title": title(e), "message": describe(e)})
	default:
		return marshal(map[string]any{
			"id":        e.ID,
			"event":     string(e.Type),
			"timestamp": e.Timestamp,
			"data":      e.Data,
		})
	}
}

func marshal(v any) ([]byte, string) {
	body, _ := json.Marshal(v) //nolint:errchkjson // maps of JSON-safe values
	return body, "application/json"
}

func title(e event.Event) string {
	return "crateline: " + string(e.Type)
}

// describe renders a one-line human summary for chat webhooks.
func describe(e event.Event) string {
	switch e.Type {
	case event.MusicBrainzLookupAmbiguous, event.DiscogsLookupAmbiguous:
		var n int
		switch c := e.Data["candidates"].(type) {
		case []catalog.Candidate:
			n = len(c)
		case []any:
			n = len(c)
		}
		return fmt.Sprintf("%v on %v: %d candidates for %q",
			e.Data["track_id"], e.Data["catalog"], n, e.Data["query"])
	case event.LibraryRefreshed:
		return fmt.Sprintf("%v: %v imported, %v new, %v removed",
			e.Data["path"], e.Data["imported"], e.Data["created"], e.Data["removed"])
	}
	if e.Data == nil {
		return string(e.Type)
	}
	b, _ := json.Marshal(e.Data) //nolint:errchkjson
	return string(b)
}
