// Package opsgenie adapts the Opsgenie SDK to the incident and alert calls
// the bots use.
package opsgenie

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/opsgenie/opsgenie-go-sdk-v2/alert"
	"github.com/opsgenie/opsgenie-go-sdk-v2/client"
	"github.com/opsgenie/opsgenie-go-sdk-v2/incident"
	"github.com/opsgenie/opsgenie-go-sdk-v2/service"
	"github.com/sirupsen/logrus"
)

const (
	DefaultBaseURL = "https://api.opsgenie.com"
	// ResultAccepted is the "result" field of an accepted asynchronous request.
	ResultAccepted = "Request will be processed"
)

var (
	ErrNotFound = errors.New("opsgenie: not found")
	ErrRejected = errors.New("opsgenie: request rejected")
)

// Client holds one SDK client per Opsgenie API the bots touch. All of them
// share HTTPClient, so instrumenting it covers every call.
type Client struct {
	HTTPClient *http.Client

	services  *service.Client
	incidents *incident.Client
	alerts    *alert.Client
}

// NewClient builds the SDK clients for baseURL, which may be a bare host or
// an https URL. A nil hc gets a client with a five second timeout.
func NewClient(baseURL, apiKey string, hc *http.Client) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("opsgenie: api key required")
	}
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	cfg := &client.Config{
		ApiKey:         apiKey,
		OpsGenieAPIURL: apiHost(baseURL),
		HttpClient:     hc,
		RetryPolicy:    noRetry,
		Logger:         sdkLogger(),
		LogLevel:       logrus.WarnLevel,
	}
	services, err := service.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("opsgenie services client: %w", err)
	}
	incidents, err := incident.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("opsgenie incidents client: %w", err)
	}
	alerts, err := alert.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("opsgenie alerts client: %w", err)
	}
	return &Client{HTTPClient: hc, services: services, incidents: incidents, alerts: alerts}, nil
}

type Service struct {
	ID     string
	Name   string
	TeamID string
}

type StatusPageEntry struct {
	Title  string
	Detail string
}

type IncidentRequest struct {
	Message            string
	Description        string
	Tags               []string
	Priority           string
	ImpactedServices   []string
	StatusPageEntry    *StatusPageEntry
	NotifyStakeholders bool
}

// Validate checks the fields the incident API rejects asynchronously,
// where the failure would only surface long after the request returned.
func (r IncidentRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Message, validation.Required),
		validation.Field(&r.Priority, validation.Required, validation.In("P1", "P2", "P3", "P4", "P5")),
		validation.Field(&r.ImpactedServices, validation.Required, validation.Each(validation.Required)),
		validation.Field(&r.StatusPageEntry),
	)
}

// Validate requires a title when an entry is attached.
func (e StatusPageEntry) Validate() error {
	return validation.ValidateStruct(&e, validation.Field(&e.Title, validation.Required))
}

type AsyncResult struct {
	Result    string
	RequestID string
}

type Responder struct {
	Type string
	ID   string
}

type Alert struct {
	ID         string
	Message    string
	Priority   string
	Status     string
	Responders []Responder
}

// ListServices returns every service visible to the key, sorted by name.
func (c *Client) ListServices(ctx context.Context) ([]Service, error) {
	res, err := c.services.List(ctx, &service.ListRequest{})
	if err != nil {
		return nil, fmt.Errorf("list services: %w", classify(err))
	}
	out := make([]Service, 0, len(res.Services))
	for _, s := range res.Services {
		out = append(out, Service{ID: s.Id, Name: s.Name, TeamID: s.TeamId})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CreateIncident submits an incident against its first impacted service. A
// response whose result is not ResultAccepted is reported as ErrRejected
// with the request id.
func (c *Client) CreateIncident(ctx context.Context, req IncidentRequest) (AsyncResult, error) {
	if err := req.Validate(); err != nil {
		return AsyncResult{}, fmt.Errorf("create incident: %w", err)
	}
	notify := req.NotifyStakeholders
	sdkReq := &incident.CreateRequest{
		Message:            req.Message,
		Description:        req.Description,
		Tags:               req.Tags,
		Priority:           incident.Priority(req.Priority),
		ServiceId:          req.ImpactedServices[0],
		NotifyStakeholders: &notify,
	}
	if e := req.StatusPageEntry; e != nil {
		sdkReq.StatusPageEntity = &incident.StatusPageEntity{Title: e.Title, Description: e.Detail}
	}
	res, err := c.incidents.Create(ctx, sdkReq)
	if err != nil {
		return AsyncResult{}, fmt.Errorf("create incident: %w", classify(err))
	}
	out := AsyncResult{Result: res.Result, RequestID: res.RequestId}
	if out.Result != ResultAccepted {
		id := out.RequestID
		if id == "" {
			id = "Unknown ID"
		}
		return out, fmt.Errorf("create incident %s: %w", id, ErrRejected)
	}
	return out, nil
}

func (c *Client) GetAlert(ctx context.Context, id string) (Alert, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Alert{}, fmt.Errorf("get alert: id required")
	}
	res, err := c.alerts.Get(ctx, &alert.GetAlertRequest{IdentifierType: alert.ALERTID, IdentifierValue: id})
	if err != nil {
		return Alert{}, fmt.Errorf("get alert %s: %w", id, classify(err))
	}
	out := Alert{
		ID:       res.Id,
		Message:  res.Message,
		Priority: string(res.Priority),
		Status:   res.Status,
	}
	for _, r := range res.Responders {
		out.Responders = append(out.Responders, Responder{Type: string(r.Type), ID: r.Id})
	}
	return out, nil
}
