package main

import (
	"context"
	"log"
	"time"

	"github.com/alternativc/chatbot/pkg/bus"
)

// KeepWarm publishes a keep-warm event every interval until ctx is done.
// Consumers count and drop these, which keeps their partitions assigned and
// their broker connections open between real commands.
func (s *Server) KeepWarm(ctx context.Context, interval time.Duration) {
	if s.Publisher == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ping(ctx)
		}
	}
}

func (s *Server) ping(ctx context.Context) {
	timeout := s.PublishTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	evt := bus.KeepWarmEvent()
	if err := s.Publisher.Publish(ctx, evt); err != nil {
		s.Metrics.IncUpstream("bus", "error")
		log.Printf("gatekeeper keep-warm publish (event %s): %v", evt.ID, err)
		return
	}
	s.Metrics.IncUpstream("bus", "ok")
}
