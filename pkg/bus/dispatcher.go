package bus

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/alternativc/chatbot/pkg/metrics"
	"github.com/alternativc/chatbot/pkg/store"
)

// Handler processes one command event. A returned error is logged and the
// event is still considered consumed.
type Handler func(ctx context.Context, evt Event) error

// Dispatcher reads events for a fixed set of routes and hands them to a
// Handler. It never stops on a bad message.
type Dispatcher struct {
	Service   string
	Consumer  Consumer
	Routes    []string
	Handler   Handler
	Cache     store.Cache
	DedupeTTL time.Duration
	Timeout   time.Duration
	Metrics   *metrics.Registry
	// RetryDelay is the pause after a failed read.
	RetryDelay time.Duration
}

// Run consumes until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	delay := d.RetryDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	for {
		msg, err := d.Consumer.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("%s bus read error: %v", d.Service, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		d.Dispatch(ctx, msg)
	}
}

// Dispatch handles a single raw message and reports the result label it
// was counted under.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) string {
	evt, err := Decode(msg.Value)
	if err != nil {
		log.Printf("%s bus decode error: %v", d.Service, err)
		return d.count(string(msg.Key), "invalid")
	}
	route := evt.Detail.Route
	if evt.KeepWarm() {
		return d.count(route, "keep_warm")
	}
	if !d.accepts(route) {
		return d.count(route, "skipped")
	}
	if d.duplicate(ctx, evt) {
		log.Printf("%s bus duplicate event %s for %s", d.Service, evt.ID, route)
		return d.count(route, "duplicate")
	}

	hctx := ctx
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	start := time.Now()
	err = d.invoke(hctx, evt)
	if d.Metrics != nil {
		d.Metrics.Histograms.ObserveDuration("bus "+route, time.Since(start))
	}
	if err != nil {
		log.Printf("%s handler error for %s (event %s): %v", d.Service, route, evt.ID, err)
		return d.count(route, "failed")
	}
	return d.count(route, "handled")
}

func (d *Dispatcher) invoke(ctx context.Context, evt Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.New("handler panic")
			log.Printf("%s handler panic: %v", d.Service, rec)
		}
	}()
	return d.Handler(ctx, evt)
}

func (d *Dispatcher) accepts(route string) bool {
	if len(d.Routes) == 0 {
		return true
	}
	for _, r := range d.Routes {
		if r == route {
			return true
		}
	}
	return false
}

func (d *Dispatcher) duplicate(ctx context.Context, evt Event) bool {
	if d.Cache == nil || evt.ID == "" {
		return false
	}
	ttl := d.DedupeTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	ok, err := d.Cache.SetNX(ctx, "evt:"+d.Service+":"+evt.ID, "1", ttl)
	if err != nil {
		log.Printf("%s bus dedupe unavailable: %v", d.Service, err)
		return false
	}
	return !ok
}

func (d *Dispatcher) count(route, result string) string {
	if d.Metrics != nil {
		d.Metrics.IncBusEvent(route, result)
	}
	return result
}
