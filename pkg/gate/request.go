package gate

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// ErrMalformedPayload marks an interactivity payload that cannot be routed.
var ErrMalformedPayload = errors.New("gate: malformed interaction payload")

// SignedRequest is the raw inbound request as received.
type SignedRequest struct {
	Body    []byte
	Headers http.Header
}

// CommandRequest holds the decoded form of a slash command or interaction.
type CommandRequest struct {
	Form      url.Values
	Command   string
	Text      string
	Action    string
	ChannelID string
	UserID    string
	UserName  string
	// Payload is the raw JSON of an interactivity callback, empty for slash commands.
	Payload string
}

// Route is the bus route for the request: the command for slash commands,
// or the command recorded in the modal metadata for interactions.
func (c CommandRequest) Route() string {
	return c.Command
}

// ParseCommand decodes an URL-encoded slash command or interactivity body.
// The action is the first whitespace-delimited token of text.
func ParseCommand(body []byte) (CommandRequest, error) {
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return CommandRequest{}, fmt.Errorf("parse form: %w", err)
	}
	req := CommandRequest{Form: form}
	if payload := form.Get("payload"); payload != "" {
		req.Payload = payload
		cmd, err := interactionCommand(payload)
		if err != nil {
			return req, err
		}
		req.Command = cmd
		return req, nil
	}
	req.Command = strings.TrimSpace(form.Get("command"))
	req.Text = form.Get("text")
	if fields := strings.Fields(req.Text); len(fields) > 0 {
		req.Action = fields[0]
	}
	req.ChannelID = form.Get("channel_id")
	req.UserID = form.Get("user_id")
	req.UserName = form.Get("user_name")
	return req, nil
}

func interactionCommand(payload string) (string, error) {
	var envelope struct {
		View struct {
			PrivateMetadata string `json:"private_metadata"`
		} `json:"view"`
	}
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if strings.TrimSpace(envelope.View.PrivateMetadata) == "" {
		return "", fmt.Errorf("%w: missing private_metadata", ErrMalformedPayload)
	}
	var meta struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal([]byte(envelope.View.PrivateMetadata), &meta); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if meta.Command == "" {
		return "", fmt.Errorf("%w: metadata has no command", ErrMalformedPayload)
	}
	return meta.Command, nil
}
