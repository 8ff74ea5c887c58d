package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/alternativc/chatbot/pkg/auth"
	"github.com/alternativc/chatbot/pkg/httpx"
	"github.com/alternativc/chatbot/pkg/metrics"
	"github.com/alternativc/chatbot/pkg/opsgenie"
	"github.com/alternativc/chatbot/pkg/pushover"
	"github.com/alternativc/chatbot/pkg/store"
	"github.com/alternativc/chatbot/pkg/telemetry"

	"github.com/go-chi/chi/v5"
)

const (
	authHeaderName = "auth"
	pushTitle      = "Incident detected"
	msgSent        = "Pushover alert sent successfully"
)

type alertAPI interface {
	GetAlert(ctx context.Context, id string) (opsgenie.Alert, error)
}

type pushAPI interface {
	Send(ctx context.Context, groupKey, title, message string) error
}

type Server struct {
	Alerts              alertAPI
	Push                pushAPI
	Groups              pushover.Routes
	AuthHeader          string
	Cache               store.Cache
	DedupeTTL           time.Duration
	Metrics             *metrics.Registry
	MaxRequestBodyBytes int64
}

type webhookPayload struct {
	Action string `json:"action"`
	Alert  struct {
		AlertID string `json:"alertId"`
	} `json:"alert"`
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(httpx.RecoverMiddleware("notifier"))
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(telemetry.HTTPMiddleware("notifier"))
	r.Use(s.Metrics.Middleware)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, 200, map[string]any{"status": "ok", "service": "notifier", "routes": len(s.Groups)})
	})
	r.Get("/metrics", s.Metrics.Handler())
	r.Get("/metrics/prometheus", s.Metrics.PrometheusHandler())
	r.With(auth.RequireHeader(authHeaderName, s.AuthHeader, "Invalid auth header")).Post("/v1/alerts", s.handleAlert)
	return r
}

// handleAlert fans one incident management webhook out to the push groups
// of every responder team.
func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	if s.MaxRequestBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.MaxRequestBodyBytes)
	}
	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || strings.TrimSpace(payload.Alert.AlertID) == "" {
		httpx.WriteText(w, http.StatusBadRequest, "Invalid alert payload")
		return
	}
	alertID := payload.Alert.AlertID
	if s.seen(r.Context(), alertID) {
		log.Printf("notifier: alert %s already delivered", alertID)
		httpx.WriteText(w, http.StatusOK, msgSent)
		return
	}

	alert, err := s.Alerts.GetAlert(r.Context(), alertID)
	if err != nil {
		s.Metrics.IncUpstream("opsgenie", "error")
		s.forget(alertID)
		log.Printf("notifier get alert %s: %v", alertID, err)
		status := http.StatusBadGateway
		if errors.Is(err, opsgenie.ErrNotFound) {
			status = http.StatusNotFound
		}
		httpx.WriteText(w, status, "Alert lookup failed")
		return
	}
	s.Metrics.IncUpstream("opsgenie", "ok")

	sent := 0
	for _, responder := range alert.Responders {
		group, ok := s.Groups[responder.ID]
		if !ok {
			continue
		}
		if err := s.Push.Send(r.Context(), group, pushTitle, alert.Message); err != nil {
			s.Metrics.IncUpstream("pushover", "error")
			log.Printf("notifier push alert %s to team %s: %v", alertID, responder.ID, err)
			continue
		}
		s.Metrics.IncUpstream("pushover", "ok")
		sent++
	}
	log.Printf("notifier alert %s pushed to %d of %d responders", alertID, sent, len(alert.Responders))
	httpx.WriteText(w, http.StatusOK, msgSent)
}

// seen marks the alert as delivered and reports whether it already was.
// Redelivered webhooks must not page a team twice.
func (s *Server) seen(ctx context.Context, alertID string) bool {
	if s.Cache == nil {
		return false
	}
	ttl := s.DedupeTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	ok, err := s.Cache.SetNX(ctx, "alert:"+alertID, "1", ttl)
	if err != nil {
		log.Printf("notifier dedupe unavailable: %v", err)
		return false
	}
	return !ok
}

// forget releases the mark so a retry of a failed lookup is processed.
func (s *Server) forget(alertID string) {
	if s.Cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Cache.Del(ctx, "alert:"+alertID); err != nil {
		log.Printf("notifier dedupe release %s: %v", alertID, err)
	}
}
