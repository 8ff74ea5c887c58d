package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/alternativc/chatbot/pkg/bus"
	"github.com/alternativc/chatbot/pkg/kube"
	"github.com/alternativc/chatbot/pkg/metrics"
	"github.com/alternativc/chatbot/pkg/slack"
)

const (
	stateRunning = "Running"
	stateStopped = "Stopped"

	killswitchAction = "killswitch"
	msgCompleted     = "*[Qchain]* Qredochain Killswitch procedure completed"
	msgUnavailable   = "*[Qchain]* Killswitch unavailable: deployment status could not be read"
	msgUnknownModal  = "Unknown modal submission"
)

type slackAPI interface {
	OpenView(ctx context.Context, triggerID string, view slack.View) error
	PostMessage(ctx context.Context, channel, text string) (string, error)
}

type scaler interface {
	GetScale(ctx context.Context, namespace, deployment string) (kube.Scale, error)
	SetReplicas(ctx context.Context, namespace, deployment string, replicas int32) (kube.Scale, error)
}

type Server struct {
	Slack       slackAPI
	Cluster     scaler
	Namespace   string
	Deployments []string
	Metrics     *metrics.Registry
}

// HandleEvent is the bus handler for /qchain.
func (s *Server) HandleEvent(ctx context.Context, evt bus.Event) error {
	if evt.Detail.Interactive() {
		return s.handleInteraction(ctx, evt.Detail.Payload())
	}
	return s.handleCommand(ctx, evt.Detail)
}

func (s *Server) handleCommand(ctx context.Context, d bus.Detail) error {
	text := d.Get("text")
	channel := d.Get("channel_id")
	if action := firstToken(text); action != killswitchAction {
		return fmt.Errorf("unsupported action %q", action)
	}
	status, err := s.status(ctx)
	if err != nil {
		_ = s.post(ctx, channel, msgUnavailable)
		return err
	}
	meta := slack.Metadata{
		Command:   d.Route,
		Text:      text,
		ChannelID: channel,
		UserID:    d.Get("user_id"),
		UserName:  d.Get("user_name"),
	}
	view, err := killswitchModal(meta, s.Deployments, status)
	if err != nil {
		return err
	}
	err = s.Slack.OpenView(ctx, d.Get("trigger_id"), view)
	s.upstream("slack", err)
	if err != nil {
		return fmt.Errorf("open killswitch modal: %w", err)
	}
	return s.post(ctx, channel, fmt.Sprintf("*[Qchain]* @%s started the Qredochain Killswitch procedure", meta.UserName))
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
	if firstToken(meta.Text) != killswitchAction {
		if err := s.post(ctx, meta.ChannelID, msgUnknownModal); err != nil {
			return err
		}
		return fmt.Errorf("unknown modal submission %q", meta.Text)
	}
	user := meta.UserName
	if user == "" {
		user = in.User.Name
	}
	report, scaleErr := s.apply(ctx, in.Values().Selections())
	log.Printf("killswitch submission by %s: %d changes", user, len(report))
	if len(report) > 0 {
		if err := s.post(ctx, meta.ChannelID, strings.Join(report, "\n")); err != nil {
			return err
		}
	}
	if err := s.post(ctx, meta.ChannelID, msgCompleted); err != nil {
		return err
	}
	return scaleErr
}

// apply scales every configured deployment whose selection differs from its
// current state. Selections for unknown deployments are ignored.
func (s *Server) apply(ctx context.Context, selections map[string]string) ([]string, error) {
	var report []string
	var errs []error
	for _, name := range s.Deployments {
		desired := selections[name]
		if desired != stateRunning && desired != stateStopped {
			continue
		}
		scale, err := s.Cluster.GetScale(ctx, s.Namespace, name)
		s.upstream("kube", err)
		if err != nil {
			errs = append(errs, err)
			report = append(report, fmt.Sprintf("Could not read service `%s`", name))
			continue
		}
		if stateOf(scale) == desired {
			continue
		}
		replicas := int32(0)
		if desired == stateRunning {
			replicas = 1
		}
		updated, err := s.Cluster.SetReplicas(ctx, s.Namespace, name, replicas)
		s.upstream("kube", err)
		if err != nil {
			errs = append(errs, err)
			report = append(report, fmt.Sprintf("Could not scale service `%s`", name))
			continue
		}
		report = append(report, fmt.Sprintf("Scaled service `%s` to `%d` replicas", name, updated.Spec.Replicas))
	}
	return report, errors.Join(errs...)
}

func (s *Server) status(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string, len(s.Deployments))
	for _, name := range s.Deployments {
		scale, err := s.Cluster.GetScale(ctx, s.Namespace, name)
		s.upstream("kube", err)
		if err != nil {
			return nil, err
		}
		out[name] = stateOf(scale)
	}
	return out, nil
}

func stateOf(scale kube.Scale) string {
	if scale.Status.Replicas >= 1 {
		return stateRunning
	}
	return stateStopped
}

func killswitchModal(meta slack.Metadata, deployments []string, status map[string]string) (slack.View, error) {
	blocks := []slack.Block{
		slack.Section("", slack.Markdown(":rotating_light: Qredochain Killswitch actions :rotating_light:"), nil),
		slack.Divider(),
	}
	options := []*slack.Option{
		slack.NewOption(stateRunning, stateRunning),
		slack.NewOption(stateStopped, stateStopped),
	}
	for _, name := range deployments {
		blocks = append(blocks, slack.Section("", slack.Markdown("*"+name+"*"),
			slack.StaticSelect(name, status[name], options, nil)))
	}
	return slack.Modal("Qredochain Killswitch", "Submit", meta, blocks...)
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

func firstToken(text string) string {
	if fields := strings.Fields(text); len(fields) > 0 {
		return fields[0]
	}
	return ""
}
