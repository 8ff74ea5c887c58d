package gate

import (
	"context"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"
)

const testSecret = "8f742231b10e8888abcd99yyyzzz85a5"

var testNow = time.Unix(1_700_000_000, 0)

func signedRequest(t *testing.T, form url.Values, secret string, ts time.Time) SignedRequest {
	t.Helper()
	body := []byte(form.Encode())
	stamp := strconv.FormatInt(ts.Unix(), 10)
	h := http.Header{}
	h.Set(TimestampHeader, stamp)
	h.Set(SignatureHeader, Sign(body, stamp, secret))
	return SignedRequest{Body: body, Headers: h}
}

func commandForm(command, text, channel, user string) url.Values {
	return url.Values{
		"command":    {command},
		"text":       {text},
		"channel_id": {channel},
		"user_id":    {"U" + strings.ToUpper(user)},
		"user_name":  {user},
	}
}

func newTestGate(opts ...Option) *Gate {
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return New(DefaultPolicy(), testSecret, opts...)
}

func TestEvaluateWildcardChannelAuthorized(t *testing.T) {
	g := newTestGate()
	req := signedRequest(t, commandForm("/sre", "alert disk full", "C123", "alice"), testSecret, testNow)

	d := g.Evaluate(context.Background(), req)
	if d.Outcome != Authorized {
		t.Fatalf("expected authorized, got %s", d.Outcome)
	}
	if d.Command != "/sre" || d.Action != "alert" {
		t.Fatalf("unexpected decision fields: %+v", d)
	}
	if d.Request.Text != "alert disk full" || d.Request.ChannelID != "C123" {
		t.Fatalf("decoded request not carried: %+v", d.Request)
	}
	if d.Message() != "" {
		t.Fatalf("authorized decisions have no message, got %q", d.Message())
	}
}

func TestEvaluateChannelNotListed(t *testing.T) {
	g := newTestGate()
	req := signedRequest(t, commandForm("/ops-bot", "ack", "C_OTHER", "alice"), testSecret, testNow)

	d := g.Evaluate(context.Background(), req)
	if d.Outcome != InvalidChannel {
		t.Fatalf("expected invalid channel, got %s", d.Outcome)
	}
	if d.Message() != "Invalid channel usage. Contact application owner for more information." {
		t.Fatalf("unexpected message %q", d.Message())
	}
}

func TestEvaluateRestrictedListedUser(t *testing.T) {
	g := newTestGate()
	req := signedRequest(t, commandForm("/qchain", "killswitch", "C777", "chris"), testSecret, testNow)

	if d := g.Evaluate(context.Background(), req); d.Outcome != Authorized {
		t.Fatalf("expected listed user to pass, got %s", d.Outcome)
	}

	req = signedRequest(t, commandForm("/qchain", "killswitch", "C777", "mallory"), testSecret, testNow)
	d := g.Evaluate(context.Background(), req)
	if d.Outcome != UnauthorizedUser {
		t.Fatalf("expected unlisted user to be rejected, got %s", d.Outcome)
	}
	if d.Message() != "User not authorized" {
		t.Fatalf("unexpected message %q", d.Message())
	}
}

func TestEvaluateUnknownActionListsAllowed(t *testing.T) {
	g := newTestGate()
	req := signedRequest(t, commandForm("/ops-bot", "unknown_action", "C05RSEC6QCA", "alice"), testSecret, testNow)

	d := g.Evaluate(context.Background(), req)
	if d.Outcome != InvalidAction {
		t.Fatalf("expected invalid action, got %s", d.Outcome)
	}
	want := "Invalid command usage. Only the following actions are allowed for /ops-bot: alert, ack, close, mute, maintenance, help."
	if d.Message() != want {
		t.Fatalf("message mismatch:\n got %q\nwant %q", d.Message(), want)
	}
}

func TestEvaluateBadSignature(t *testing.T) {
	g := newTestGate()
	req := signedRequest(t, commandForm("/sre", "alert", "C1", "alice"), testSecret, testNow)
	req.Headers.Set(SignatureHeader, "v0=deadbeef")

	d := g.Evaluate(context.Background(), req)
	if d.Outcome != InvalidSignature {
		t.Fatalf("expected invalid signature, got %s", d.Outcome)
	}
	if d.Message() != "Invalid request signature" {
		t.Fatalf("unexpected message %q", d.Message())
	}
	if d.Command != "" {
		t.Fatalf("body must not be decoded before the signature passes: %+v", d)
	}
}

func TestEvaluateWrongSecret(t *testing.T) {
	g := newTestGate()
	req := signedRequest(t, commandForm("/sre", "alert", "C1", "alice"), "other-secret", testNow)
	if d := g.Evaluate(context.Background(), req); d.Outcome != InvalidSignature {
		t.Fatalf("expected invalid signature, got %s", d.Outcome)
	}
}

func TestEvaluateStaleTimestamp(t *testing.T) {
	g := newTestGate()
	req := signedRequest(t, commandForm("/sre", "alert", "C1", "alice"), testSecret, testNow.Add(-10*time.Minute))
	if d := g.Evaluate(context.Background(), req); d.Outcome != InvalidSignature {
		t.Fatalf("expected stale request to fail, got %s", d.Outcome)
	}

	g = newTestGate(WithMaxSkew(0))
	if d := g.Evaluate(context.Background(), req); d.Outcome != Authorized {
		t.Fatalf("expected freshness disabled to accept, got %s", d.Outcome)
	}
}

func TestEvaluateInteractionSkipsPolicy(t *testing.T) {
	g := newTestGate()
	payload := `{"type":"view_submission","view":{"private_metadata":"{\"command\":\"/qchain\",\"user_name\":\"mallory\"}"}}`
	req := signedRequest(t, url.Values{"payload": {payload}}, testSecret, testNow)

	d := g.Evaluate(context.Background(), req)
	if d.Outcome != Authorized || !d.Interactive {
		t.Fatalf("expected interactive pass-through, got %+v", d)
	}
	if d.Command != "/qchain" || d.Request.Route() != "/qchain" {
		t.Fatalf("expected route from metadata, got %q", d.Command)
	}
	if d.Request.Payload != payload {
		t.Fatal("expected raw payload to be preserved")
	}
}

func TestEvaluateMalformedInteractionRejected(t *testing.T) {
	g := newTestGate()
	req := signedRequest(t, url.Values{"payload": {"{not json"}}, testSecret, testNow)

	d := g.Evaluate(context.Background(), req)
	if d.Allowed() {
		t.Fatalf("malformed payload must not be authorized: %+v", d)
	}
	if d.Outcome != InvalidChannel {
		t.Fatalf("expected unknown route to fail the channel check, got %s", d.Outcome)
	}
}

func TestAuthorizeOrderUserBeforeChannel(t *testing.T) {
	p := DefaultPolicy()
	p.Channels["/qchain"] = []string{"C_OPS"}
	g := New(p, testSecret)

	d := g.Authorize("/qchain", "killswitch", "C_ELSEWHERE", "mallory")
	if d.Outcome != UnauthorizedUser {
		t.Fatalf("user check runs first, got %s", d.Outcome)
	}
	d = g.Authorize("/qchain", "killswitch", "C_ELSEWHERE", "chris")
	if d.Outcome != InvalidChannel {
		t.Fatalf("channel check runs second, got %s", d.Outcome)
	}
}

func TestAuthorizeAbsentCommand(t *testing.T) {
	g := New(DefaultPolicy(), testSecret)

	d := g.Authorize("/nope", "x", "C1", "alice")
	if d.Outcome != InvalidChannel {
		t.Fatalf("command missing from channel table fails channel check, got %s", d.Outcome)
	}

	p := DefaultPolicy()
	p.Channels["/audit"] = []string{AnyChannel}
	g = New(p, testSecret)
	d = g.Authorize("/audit", "run", "C1", "alice")
	if d.Outcome != InvalidAction {
		t.Fatalf("command missing from action table fails action check, got %s", d.Outcome)
	}
	if len(d.AllowedActions) != 0 {
		t.Fatalf("expected empty allowed list, got %v", d.AllowedActions)
	}
	if d.Message() != "Invalid command usage. Only the following actions are allowed for /audit: ." {
		t.Fatalf("unexpected message %q", d.Message())
	}
}

func TestAuthorizeUnrestrictedActionOnRestrictedCommand(t *testing.T) {
	p := DefaultPolicy()
	p.Actions["/qchain"] = append(p.Actions["/qchain"], "status")
	g := New(p, testSecret)

	if d := g.Authorize("/qchain", "status", "C1", "mallory"); d.Outcome != Authorized {
		t.Fatalf("action without a user list is open to everyone, got %s", d.Outcome)
	}
}

func TestAuthorizeDenyListedMode(t *testing.T) {
	p := DefaultPolicy()
	p.RestrictionMode = DenyListed
	g := New(p, testSecret)

	if d := g.Authorize("/qchain", "killswitch", "C1", "chris"); d.Outcome != UnauthorizedUser {
		t.Fatalf("listed user must be rejected in deny-listed mode, got %s", d.Outcome)
	}
	if d := g.Authorize("/qchain", "killswitch", "C1", "mallory"); d.Outcome != Authorized {
		t.Fatalf("unlisted user passes in deny-listed mode, got %s", d.Outcome)
	}
}

func TestAuthorizeIdempotent(t *testing.T) {
	g := New(DefaultPolicy(), testSecret)
	first := g.Authorize("/ops-bot", "bogus", "C05RSEC6QCA", "alice")
	for i := 0; i < 5; i++ {
		again := g.Authorize("/ops-bot", "bogus", "C05RSEC6QCA", "alice")
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("decision changed between calls: %+v vs %+v", first, again)
		}
	}
}

func TestNewCopiesPolicy(t *testing.T) {
	p := DefaultPolicy()
	g := New(p, testSecret)
	p.Channels["/ops-bot"] = []string{AnyChannel}
	p.Actions["/ops-bot"][0] = "mutated"

	if d := g.Authorize("/ops-bot", "alert", "C_OTHER", "alice"); d.Outcome != InvalidChannel {
		t.Fatalf("caller mutation leaked into gate: %s", d.Outcome)
	}
	if d := g.Authorize("/ops-bot", "alert", "C05RSEC6QCA", "alice"); d.Outcome != Authorized {
		t.Fatalf("caller mutation leaked into gate: %s", d.Outcome)
	}

	allowed := g.Authorize("/ops-bot", "nope", "C05RSEC6QCA", "alice").AllowedActions
	allowed[0] = "x"
	if g.Policy().Actions["/ops-bot"][0] != "alert" {
		t.Fatal("allowed actions must be a copy")
	}
}

func TestOutcomeString(t *testing.T) {
	cases := map[Outcome]string{
		Authorized:       "AUTHORIZED",
		InvalidSignature: "INVALID_SIGNATURE",
		UnauthorizedUser: "UNAUTHORIZED_USER",
		InvalidChannel:   "INVALID_CHANNEL",
		InvalidAction:    "INVALID_ACTION",
		Outcome(99):      "UNKNOWN",
	}
	for o, want := range cases {
		if o.String() != want {
			t.Fatalf("%d: got %q want %q", o, o.String(), want)
		}
	}
}
