// Package gate verifies signed chat-platform requests and authorizes the
// invoked command, action, channel and user against a static Policy.
//
// Every failure is reported as a Decision value; nothing in this package
// returns an error or panics for malformed input.
package gate

import (
	"context"
	"time"
)

// Gate evaluates signed requests against one Policy and signing secret.
// It is safe for concurrent use once built.
type Gate struct {
	policy  Policy
	secret  string
	maxSkew time.Duration
	now     func() time.Time
	replay  *ReplayGuard
}

// Option configures a Gate built by New.
type Option func(*Gate)

// WithMaxSkew sets the accepted distance between the request timestamp and
// the local clock. Zero or negative disables the freshness check.
func WithMaxSkew(d time.Duration) Option {
	return func(g *Gate) {
		g.maxSkew = d
	}
}

// WithClock replaces the clock used for the freshness check.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// WithReplayGuard rejects a second delivery of an identical signed request.
func WithReplayGuard(r *ReplayGuard) Option {
	return func(g *Gate) {
		g.replay = r
	}
}

// New returns a Gate for policy and secret. The policy is copied, so later
// changes by the caller do not affect the gate.
func New(policy Policy, secret string, opts ...Option) *Gate {
	g := &Gate{
		policy:  policy.clone(),
		secret:  secret,
		maxSkew: DefaultMaxSkew,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Policy returns a copy of the tables the gate evaluates.
func (g *Gate) Policy() Policy {
	return g.policy.clone()
}

// Verify checks the request signature and, when enabled, its freshness.
func (g *Gate) Verify(req SignedRequest) bool {
	return VerifySignature(req.Body, req.Headers, g.secret, g.maxSkew, g.now())
}

// Evaluate runs the full pipeline for one request: signature, decoding,
// Authorize, then replay. Interactivity callbacks skip Authorize because
// they can only follow a command that already passed it. Only authorized
// requests are recorded by the replay guard, so a rejected request gets the
// same answer on every delivery.
func (g *Gate) Evaluate(ctx context.Context, req SignedRequest) Decision {
	if !g.Verify(req) {
		return Decision{Outcome: InvalidSignature}
	}
	cmd, err := ParseCommand(req.Body)
	var d Decision
	if err == nil && cmd.Payload != "" {
		d = Decision{Outcome: Authorized, Command: cmd.Command, Interactive: true}
	} else {
		d = g.Authorize(cmd.Command, cmd.Action, cmd.ChannelID, cmd.UserName)
	}
	d.Request = cmd
	if d.Outcome == Authorized && !g.replay.Accept(ctx, req.Headers.Get(SignatureHeader)) {
		return Decision{Outcome: InvalidSignature}
	}
	return d
}

// Authorize evaluates user, channel and action in that order and stops at
// the first failure.
func (g *Gate) Authorize(command, action, channelID, userName string) Decision {
	d := Decision{Command: command, Action: action}
	if !g.userAuthorized(command, action, userName) {
		d.Outcome = UnauthorizedUser
		return d
	}
	if !g.channelAllowed(command, channelID) {
		d.Outcome = InvalidChannel
		return d
	}
	if !g.actionAllowed(command, action) {
		d.Outcome = InvalidAction
		d.AllowedActions = g.policy.AllowedActions(command)
		return d
	}
	d.Outcome = Authorized
	return d
}

func (g *Gate) userAuthorized(command, action, userName string) bool {
	actions, ok := g.policy.Restricted[command]
	if !ok {
		return true
	}
	users, ok := actions[action]
	if !ok {
		return true
	}
	listed := contains(users, userName)
	if g.policy.RestrictionMode == DenyListed {
		return !listed
	}
	return listed
}

func (g *Gate) channelAllowed(command, channelID string) bool {
	channels := g.policy.Channels[command]
	if len(channels) == 0 {
		return false
	}
	if channels[0] == AnyChannel {
		return true
	}
	return contains(channels, channelID)
}

func (g *Gate) actionAllowed(command, action string) bool {
	actions, ok := g.policy.Actions[command]
	if !ok {
		return false
	}
	return contains(actions, action)
}
