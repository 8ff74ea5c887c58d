// Package slack adapts the slack-go Web API client to the calls the bots
// make: opening modals and posting messages.
package slack

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	slackapi "github.com/slack-go/slack"
)

// DefaultBaseURL is the Web API root. Method names are appended to it.
const DefaultBaseURL = slackapi.APIURL

// ErrAPI is wrapped by every ok:false answer.
var ErrAPI = errors.New("slack api error")

type APIError struct {
	Method string
	Code   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("slack %s: %s", e.Method, e.Code)
}

func (e *APIError) Unwrap() error { return ErrAPI }

// Client holds the HTTP client separately so callers can instrument it
// after construction; slack-go keeps the same pointer.
type Client struct {
	HTTPClient *http.Client
	api        *slackapi.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	hc := &http.Client{Timeout: timeout}
	return &Client{
		HTTPClient: hc,
		api:        slackapi.New(token, slackapi.OptionAPIURL(baseURL), slackapi.OptionHTTPClient(hc)),
	}
}

// OpenView opens a modal for the interaction identified by triggerID.
func (c *Client) OpenView(ctx context.Context, triggerID string, view View) error {
	if strings.TrimSpace(triggerID) == "" {
		return fmt.Errorf("slack views.open: trigger_id required")
	}
	resp, err := c.api.OpenViewContext(ctx, triggerID, view)
	if err == nil && resp != nil && !resp.Ok {
		err = slackapi.SlackErrorResponse{}
	}
	return wrap("views.open", err)
}

// PostMessage posts text to a channel and returns the message timestamp.
func (c *Client) PostMessage(ctx context.Context, channel, text string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", fmt.Errorf("slack chat.postMessage: channel required")
	}
	_, ts, err := c.api.PostMessageContext(ctx, channel, slackapi.MsgOptionText(text, false))
	if err != nil {
		return "", wrap("chat.postMessage", err)
	}
	return ts, nil
}

func wrap(method string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr slackapi.SlackErrorResponse
	if errors.As(err, &apiErr) {
		code := strings.TrimSpace(apiErr.Err)
		if code == "" {
			code = "unknown_error"
		}
		return &APIError{Method: method, Code: code}
	}
	var status slackapi.StatusCodeError
	if errors.As(err, &status) {
		return fmt.Errorf("slack %s: status %d", method, status.Code)
	}
	return fmt.Errorf("slack %s: %w", method, err)
}
