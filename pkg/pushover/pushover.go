// Package pushover sends push notifications to Pushover delivery groups.
package pushover

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gregdel/pushover"
	"go.opentelemetry.io/otel/attribute"

	"github.com/alternativc/chatbot/pkg/telemetry"
)

// DefaultURL is the API root; messages go to DefaultURL + "/messages.json".
const DefaultURL = "https://api.pushover.net/1"

// The library reads its endpoint from a package variable.
var endpointMu sync.Mutex

type Client struct {
	URL string
	app *pushover.Pushover
}

// NewClient returns a client for the application token. A blank endpoint
// selects DefaultURL.
func NewClient(endpoint, token string) *Client {
	endpoint = strings.TrimSuffix(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		endpoint = DefaultURL
	}
	return &Client{URL: endpoint, app: pushover.New(token)}
}

type result struct {
	resp *pushover.Response
	err  error
}

// Send pushes one message to the user or group key. The library call takes
// no context, so a cancelled ctx abandons the in-flight request.
func (c *Client) Send(ctx context.Context, groupKey, title, message string) (err error) {
	if strings.TrimSpace(groupKey) == "" {
		return fmt.Errorf("pushover: group key required")
	}
	ctx, span := telemetry.StartSpan(ctx, "pushover.send", attribute.String("pushover.title", title))
	defer func() { telemetry.EndSpan(span, err) }()

	msg := pushover.NewMessageWithTitle(message, title)
	recipient := pushover.NewRecipient(groupKey)
	done := make(chan result, 1)
	go func() {
		endpointMu.Lock()
		defer endpointMu.Unlock()
		pushover.APIEndpoint = c.URL
		resp, err := c.app.SendMessage(msg, recipient)
		done <- result{resp, err}
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("pushover: %w", ctx.Err())
	case r := <-done:
		if r.err != nil {
			return fmt.Errorf("pushover: %w", r.err)
		}
		span.SetAttributes(attribute.String("pushover.request", r.resp.ID))
		return nil
	}
}

// Routes maps responder team ids to delivery group keys.
type Routes map[string]string

// ParseRoutes reads "team=group,team2=group2". Blank entries are skipped.
func ParseRoutes(raw string) (Routes, error) {
	out := Routes{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		team, group, ok := strings.Cut(part, "=")
		team, group = strings.TrimSpace(team), strings.TrimSpace(group)
		if !ok || team == "" || group == "" {
			return nil, fmt.Errorf("invalid route %q: want team=group", part)
		}
		out[team] = group
	}
	return out, nil
}
