package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/alternativc/chatbot/pkg/bus"
	"github.com/alternativc/chatbot/pkg/gate"
	"github.com/alternativc/chatbot/pkg/httpx"
	"github.com/alternativc/chatbot/pkg/metrics"
	"github.com/alternativc/chatbot/pkg/telemetry"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
)

type Server struct {
	Gate                *gate.Gate
	Publisher           bus.Publisher
	Metrics             *metrics.Registry
	PublishTimeout      time.Duration
	MaxRequestBodyBytes int64

	inflight sync.WaitGroup
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(httpx.RecoverMiddleware("gatekeeper"))
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(telemetry.HTTPMiddleware("gatekeeper"))
	r.Use(s.Metrics.Middleware)
	r.Use(s.limitRequestBodyMiddleware)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, 200, map[string]any{
			"status":      "ok",
			"service":     "gatekeeper",
			"bus_enabled": s.Publisher != nil,
		})
	})
	r.Get("/metrics", s.Metrics.Handler())
	r.Get("/metrics/prometheus", s.Metrics.PrometheusHandler())
	r.Post("/slack/commands", s.handleSlack)
	r.Post("/slack/interactions", s.handleSlack)
	return r
}

// handleSlack answers every request with 200: Slack shows the body of a
// rejection to the invoking user and treats anything else as a failure.
func (s *Server) handleSlack(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("gatekeeper read body: %v", err)
		s.reject(w, gate.Decision{Outcome: gate.InvalidSignature})
		return
	}
	d := s.Gate.Evaluate(r.Context(), gate.SignedRequest{Body: body, Headers: r.Header})
	if !d.Allowed() {
		s.reject(w, d)
		return
	}
	s.Metrics.IncOutcome(d.Command, d.Outcome.String())
	s.publish(d)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) reject(w http.ResponseWriter, d gate.Decision) {
	s.Metrics.IncOutcome(d.Command, d.Outcome.String())
	if d.Outcome == gate.InvalidSignature {
		log.Printf("gatekeeper: invalid request signature")
	} else {
		log.Printf("gatekeeper reject %s %q: %s", d.Command, d.Action, d.Outcome)
	}
	httpx.WriteText(w, http.StatusOK, d.Message())
}

// publish forwards the accepted request without holding the response. The
// caller has already been answered when the broker is slow or down.
func (s *Server) publish(d gate.Decision) {
	if s.Publisher == nil {
		return
	}
	evt := bus.NewEvent(d.Request.Route(), d.Request.Form)
	timeout := s.PublishTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		ctx, span := telemetry.StartSpan(ctx, "bus.publish",
			attribute.String("chatbot.route", evt.Detail.Route),
			attribute.String("chatbot.event_id", evt.ID),
			attribute.Bool("chatbot.interactive", d.Interactive),
		)
		err := s.Publisher.Publish(ctx, evt)
		telemetry.EndSpan(span, err)
		if err != nil {
			s.Metrics.IncUpstream("bus", "error")
			log.Printf("gatekeeper publish %s (event %s): %v", evt.Detail.Route, evt.ID, err)
			return
		}
		s.Metrics.IncUpstream("bus", "ok")
	}()
}

// Wait blocks until in-flight publishes finish.
func (s *Server) Wait() {
	s.inflight.Wait()
}

func (s *Server) limitRequestBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.MaxRequestBodyBytes > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.MaxRequestBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}
