package slack

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	slackapi "github.com/slack-go/slack"
)

const InteractionViewSubmission = slackapi.InteractionTypeViewSubmission

var ErrNoMetadata = errors.New("slack: interaction has no private metadata")

// Metadata routes a modal submission back to the command that opened it.
type Metadata struct {
	Command   string `json:"command"`
	Text      string `json:"text"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id,omitempty"`
	UserName  string `json:"user_name,omitempty"`
}

func (m Metadata) Encode() (string, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(raw), nil
}

type Interaction struct {
	slackapi.InteractionCallback
}

func ParseInteraction(raw string) (Interaction, error) {
	var in Interaction
	if err := json.Unmarshal([]byte(raw), &in.InteractionCallback); err != nil {
		return Interaction{}, fmt.Errorf("parse interaction: %w", err)
	}
	return in, nil
}

func (in Interaction) Metadata() (Metadata, error) {
	if in.View.PrivateMetadata == "" {
		return Metadata{}, ErrNoMetadata
	}
	var m Metadata
	if err := json.Unmarshal([]byte(in.View.PrivateMetadata), &m); err != nil {
		return Metadata{}, fmt.Errorf("parse metadata: %w", err)
	}
	return m, nil
}

// Values returns the submitted view state.
func (in Interaction) Values() State {
	if in.View.State == nil {
		return nil
	}
	return State(in.View.State.Values)
}

// State holds submitted values keyed by block id, then action id.
type State map[string]map[string]slackapi.BlockAction

// SelectedValue returns the value of a select, empty when nothing was chosen.
func (s State) SelectedValue(blockID, actionID string) string {
	return s[blockID][actionID].SelectedOption.Value
}

// SelectedLabel returns the visible text of the chosen option.
func (s State) SelectedLabel(blockID, actionID string) string {
	if text := s[blockID][actionID].SelectedOption.Text; text != nil {
		return text.Text
	}
	return ""
}

func (s State) TextValue(blockID, actionID string) string {
	return s[blockID][actionID].Value
}

// Selections flattens every select in the state to action id -> value.
// Blocks without a chosen option map to an empty value.
func (s State) Selections() map[string]string {
	out := map[string]string{}
	blockIDs := make([]string, 0, len(s))
	for id := range s {
		blockIDs = append(blockIDs, id)
	}
	sort.Strings(blockIDs)
	for _, blockID := range blockIDs {
		for actionID, v := range s[blockID] {
			if v.SelectedOption.Value != "" {
				out[actionID] = v.SelectedOption.Value
			} else if _, seen := out[actionID]; !seen {
				out[actionID] = ""
			}
		}
	}
	return out
}
