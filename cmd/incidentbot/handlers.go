package main

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/alternativc/chatbot/pkg/bus"
	"github.com/alternativc/chatbot/pkg/gate"
	"github.com/alternativc/chatbot/pkg/metrics"
	"github.com/alternativc/chatbot/pkg/opsgenie"
	"github.com/alternativc/chatbot/pkg/slack"
)

type slackAPI interface {
	OpenView(ctx context.Context, triggerID string, view slack.View) error
	PostMessage(ctx context.Context, channel, text string) (string, error)
}

type incidentAPI interface {
	ListServices(ctx context.Context) ([]opsgenie.Service, error)
	CreateIncident(ctx context.Context, req opsgenie.IncidentRequest) (opsgenie.AsyncResult, error)
}

type Server struct {
	Slack    slackAPI
	Opsgenie incidentAPI
	Policy   gate.Policy
	Metrics  *metrics.Registry
}

const (
	serviceBlock     = "service_select_block"
	serviceAction    = "service_select"
	priorityBlock    = "priority_select_block"
	priorityAction   = "priority_select"
	descriptionBlock = "issue_description_block"
	descriptionInput = "issue_description"
	linkBlock        = "issue_url_block"
	linkInput        = "issue_url"

	msgAlertCreated = "[SRE] Alert created successfully"
	msgAlertFailed  = "[SRE] Alert could not be created, please page the on-call engineer directly"
	msgUnknownModal = "Unknown modal submission"
)

var priorities = []string{"P1", "P2", "P3"}

// HandleEvent is the bus handler for /sre and /ops-bot.
func (s *Server) HandleEvent(ctx context.Context, evt bus.Event) error {
	if evt.Detail.Interactive() {
		return s.handleInteraction(ctx, evt.Detail.Payload())
	}
	return s.handleCommand(ctx, evt.Detail)
}

func (s *Server) handleCommand(ctx context.Context, d bus.Detail) error {
	text := d.Get("text")
	channel := d.Get("channel_id")
	switch action := firstToken(text); action {
	case "alert":
		meta := slack.Metadata{Command: d.Route, Text: text, ChannelID: channel}
		return s.openAlertModal(ctx, d.Get("trigger_id"), meta)
	case "help":
		return s.post(ctx, channel, helpText(d.Route, s.Policy.AllowedActions(d.Route)))
	default:
		return s.post(ctx, channel, fmt.Sprintf("[SRE] `%s %s` is not available yet", d.Route, action))
	}
}

func (s *Server) openAlertModal(ctx context.Context, triggerID string, meta slack.Metadata) error {
	if triggerID == "" {
		return fmt.Errorf("open alert modal: missing trigger_id")
	}
	services, err := s.Opsgenie.ListServices(ctx)
	s.upstream("opsgenie", err)
	if err != nil {
		return fmt.Errorf("list services: %w", err)
	}
	view, err := alertModal(meta, services)
	if err != nil {
		return err
	}
	err = s.Slack.OpenView(ctx, triggerID, view)
	s.upstream("slack", err)
	if err != nil {
		return fmt.Errorf("open alert modal: %w", err)
	}
	return nil
}

func (s *Server) handleInteraction(ctx context.Context, payload string) error {
	in, err := slack.ParseInteraction(payload)
	if err != nil {
		return err
	}
	if in.Type != slack.InteractionViewSubmission {
		return nil
	}
	meta, err := in.Metadata()
	if err != nil {
		return err
	}
	switch firstToken(meta.Text) {
	case "alert":
		return s.createIncident(ctx, meta, in.Values())
	case "ack", "close", "override", "maintenance":
		return nil
	default:
		if err := s.post(ctx, meta.ChannelID, msgUnknownModal); err != nil {
			return err
		}
		return fmt.Errorf("unknown modal submission %q", meta.Text)
	}
}

func (s *Server) createIncident(ctx context.Context, meta slack.Metadata, state slack.State) error {
	req := incidentRequest(state)
	res, err := s.Opsgenie.CreateIncident(ctx, req)
	s.upstream("opsgenie", err)
	if err != nil {
		_ = s.post(ctx, meta.ChannelID, msgAlertFailed)
		return fmt.Errorf("create incident: %w", err)
	}
	log.Printf("incidentbot incident %s requested for %q from %s", res.RequestID, req.ImpactedServices, meta.ChannelID)
	return s.post(ctx, meta.ChannelID, msgAlertCreated)
}

func (s *Server) post(ctx context.Context, channel, text string) error {
	_, err := s.Slack.PostMessage(ctx, channel, text)
	s.upstream("slack", err)
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	return nil
}

func (s *Server) upstream(target string, err error) {
	if s.Metrics == nil {
		return
	}
	if err != nil {
		s.Metrics.IncUpstream(target, "error")
		return
	}
	s.Metrics.IncUpstream(target, "ok")
}

func alertModal(meta slack.Metadata, services []opsgenie.Service) (slack.View, error) {
	options := make([]*slack.Option, 0, len(services))
	for _, svc := range services {
		options = append(options, slack.NewOption(svc.Name, svc.ID))
	}
	var initial *slack.Option
	if len(options) > 0 {
		initial = options[0]
	}
	priorityOptions := make([]*slack.Option, 0, len(priorities))
	for _, p := range priorities {
		priorityOptions = append(priorityOptions, slack.NewOption(p, p))
	}

	return slack.Modal("On Call Bot", "Create alert", meta,
		slack.Section("", slack.Markdown(":wave: Hi there! I'm the On Call Bot. I can help you create an alert in Opsgenie."), nil),
		slack.Divider(),
		slack.Section(serviceBlock,
			slack.Markdown(":gear: *Choose a service*\nSelect the service that is affected by the issue"),
			slack.StaticSelect(serviceAction, "Choose a service", options, initial)),
		slack.Section(priorityBlock,
			slack.Markdown(":1234: *Choose priority*\nP1 -> Critical, P2 -> High, P3 -> Medium"),
			slack.StaticSelect(priorityAction, "Choose priority", priorityOptions, priorityOptions[0])),
		slack.TextInput(descriptionBlock, ":spiral_note_pad: Describe the issue with as much detail as possible", descriptionInput, false),
		slack.URLInput(linkBlock, ":link: If there is a link to the issue, please provide it here", linkInput, true),
	)
}

func incidentRequest(state slack.State) opsgenie.IncidentRequest {
	serviceID := state.SelectedValue(serviceBlock, serviceAction)
	service := state.SelectedLabel(serviceBlock, serviceAction)
	priority := state.SelectedValue(priorityBlock, priorityAction)
	if priority == "" {
		priority = priorities[0]
	}
	desc := state.TextValue(descriptionBlock, descriptionInput)
	link := state.TextValue(linkBlock, linkInput)

	return opsgenie.IncidentRequest{
		Message:          service + ": " + desc,
		Description:      "Affected service:\n" + service + "\n\nIssue description:\n" + desc + "\n\nAdditional links:\n" + link,
		Tags:             []string{"slack", service},
		Priority:         priority,
		ImpactedServices: []string{serviceID},
		StatusPageEntry: &opsgenie.StatusPageEntry{
			Title:  service + " issues",
			Detail: "Service: " + service + " is experiencing the following issues: " + desc + " | The following additional link was added: " + link,
		},
		NotifyStakeholders: false,
	}
}

func helpText(command string, actions []string) string {
	if len(actions) == 0 {
		return fmt.Sprintf("[SRE] `%s` has no actions configured", command)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[SRE] Available actions for `%s`:", command)
	for _, a := range actions {
		fmt.Fprintf(&b, "\n• `%s %s`", command, a)
	}
	return b.String()
}

func firstToken(text string) string {
	if fields := strings.Fields(text); len(fields) > 0 {
		return fields[0]
	}
	return ""
}
