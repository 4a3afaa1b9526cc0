package webhook

import (
	"fmt"
	"net/url"
	"slices"
)

// Webhook is a configured notification endpoint.
type Webhook struct {
	Name   string   `yaml:"name"`
	URL    string   `yaml:"url"`
	Type   string   `yaml:"type"`
	Events []string `yaml:"events"`
}

// Webhook types.
const (
	TypeGeneric = "generic"
	TypeDiscord = "discord"
	TypeSlack   = "slack"
	TypeGotify  = "gotify"
)

// Wants reports whether the webhook subscribes to eventType. An empty
// event list subscribes to everything.
func (w Webhook) Wants(eventType string) bool {
	return len(w.Events) == 0 || slices.Contains(w.Events, eventType)
}

// Validate checks the URL and type.
func (w Webhook) Validate() error {
	u, err := url.Parse(w.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("webhook %q: invalid url %q", w.Name, w.URL)
	}
	switch w.Type {
	case "", TypeGeneric, TypeDiscord, TypeSlack, TypeGotify:
		return nil
	}
	return fmt.Errorf("webhook %q: unknown type %q", w.Name, w.Type)
}
