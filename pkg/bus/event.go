// Package bus carries accepted chat commands from the gatekeeper to the
// action handlers over Kafka.
package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/google/uuid"
)

const (
	SourceGatekeeper  = "gatekeeper"
	DetailTypeCommand = "Slack Command Invoked"

	// SourceScheduler and DetailTypeKeepWarm mark the gatekeeper's keep-warm
	// pings; handlers drop them without side effects.
	SourceScheduler    = "scheduler"
	DetailTypeKeepWarm = "Scheduled Event"
)

var ErrInvalidEvent = errors.New("bus: invalid event")

// Event is the envelope published for every accepted request.
type Event struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	DetailType string    `json:"detail-type"`
	Time       time.Time `json:"time"`
	Detail     Detail    `json:"detail"`
}

// Detail is the decoded request form plus the route it was published under.
// On the wire it is a flat object: "route" is a string and every form field
// is a list of strings.
type Detail struct {
	Route  string
	Fields url.Values
}

func NewEvent(route string, fields url.Values) Event {
	return Event{
		ID:         uuid.NewString(),
		Source:     SourceGatekeeper,
		DetailType: DetailTypeCommand,
		Time:       time.Now().UTC(),
		Detail:     Detail{Route: route, Fields: cloneValues(fields)},
	}
}

func KeepWarmEvent() Event {
	return Event{
		ID:         uuid.NewString(),
		Source:     SourceScheduler,
		DetailType: DetailTypeKeepWarm,
		Time:       time.Now().UTC(),
	}
}

func (e Event) KeepWarm() bool {
	return e.DetailType == DetailTypeKeepWarm
}

// Get returns the first value of a form field.
func (d Detail) Get(key string) string {
	return d.Fields.Get(key)
}

// Payload returns the raw interactivity JSON, empty for slash commands.
func (d Detail) Payload() string {
	return d.Fields.Get("payload")
}

func (d Detail) Interactive() bool {
	return d.Payload() != ""
}

func (d Detail) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Fields)+1)
	for k, v := range d.Fields {
		if k == "route" {
			continue
		}
		out[k] = v
	}
	out["route"] = d.Route
	return json.Marshal(out)
}

func (d *Detail) UnmarshalJSON(raw []byte) error {
	var in map[string]json.RawMessage
	if err := json.Unmarshal(raw, &in); err != nil {
		return err
	}
	d.Fields = url.Values{}
	d.Route = ""
	for _, k := range sortedKeys(in) {
		if k == "route" {
			if err := json.Unmarshal(in[k], &d.Route); err != nil {
				return fmt.Errorf("route: %w", err)
			}
			continue
		}
		var vals []string
		if err := json.Unmarshal(in[k], &vals); err != nil {
			return fmt.Errorf("field %s: %w", k, err)
		}
		d.Fields[k] = vals
	}
	return nil
}

func Encode(e Event) ([]byte, error) {
	return json.Marshal(e)
}

func Decode(raw []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if e.DetailType == "" {
		return Event{}, fmt.Errorf("%w: detail-type required", ErrInvalidEvent)
	}
	return e, nil
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
