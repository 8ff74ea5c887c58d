package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alternativc/chatbot/pkg/gate"
	"github.com/alternativc/chatbot/pkg/httpx"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Testable variables for main()
var (
	osExit = os.Exit
	nowFn  = time.Now
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Print(err)
		osExit(1)
	}
}

func run(args []string, out io.Writer) error {
	args, err := loadEnvFile(args)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		usage(out)
		return errors.New("command required")
	}
	switch args[0] {
	case "sign":
		return sign(args[1:], out)
	case "check":
		return check(args[1:], out)
	case "policy":
		return printPolicy(args[1:], out)
	case "send":
		return send(args[1:], out)
	default:
		usage(out)
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

// loadEnvFile consumes a leading --env-file option. Variables already set
// in the environment win over the file.
func loadEnvFile(args []string) ([]string, error) {
	if len(args) == 0 {
		return args, nil
	}
	var path string
	switch {
	case args[0] == "--env-file":
		if len(args) < 2 {
			return nil, errors.New("--env-file requires a path")
		}
		path, args = args[1], args[2:]
	case strings.HasPrefix(args[0], "--env-file="):
		path, args = strings.TrimPrefix(args[0], "--env-file="), args[1:]
	default:
		return args, nil
	}
	if err := godotenv.Load(path); err != nil {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	return args, nil
}

func usage(out io.Writer) {
	fmt.Fprintln(out, "gatectl [--env-file .env] <command>")
	fmt.Fprintln(out, "gatectl commands:")
	fmt.Fprintln(out, "  sign --secret <secret> [--timestamp <unix>] --body <raw body> [--headers]")
	fmt.Fprintln(out, "  check [--policy policy.yaml] [--mode listed-only|deny-listed] --command /sre --text \"alert\" --channel C123 --user alice")
	fmt.Fprintln(out, "  policy [--policy policy.yaml]")
	fmt.Fprintln(out, "  send --url http://localhost:8080/slack/commands --secret <secret> --command /sre --text alert --channel C123 --user alice")
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// secretFlag defaults to SLACK_SIGNING_SECRET so the secret stays out of
// shell history.
func secretFlag(fs *pflag.FlagSet) *string {
	return fs.String("secret", os.Getenv("SLACK_SIGNING_SECRET"), "signing secret (default $SLACK_SIGNING_SECRET)")
}

func sign(args []string, out io.Writer) error {
	fs := newFlagSet("sign")
	secret := secretFlag(fs)
	timestamp := fs.String("timestamp", "", "request timestamp in unix seconds (default now)")
	body := fs.String("body", "", "raw request body")
	bodyFile := fs.String("body-file", "", "read the raw body from a file")
	headers := fs.Bool("headers", false, "print both request headers")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *secret == "" {
		return errors.New("secret required")
	}
	raw := []byte(*body)
	if *bodyFile != "" {
		b, err := os.ReadFile(*bodyFile)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		raw = b
	}
	ts := *timestamp
	if ts == "" {
		ts = strconv.FormatInt(nowFn().Unix(), 10)
	}
	sig := gate.Sign(raw, ts, *secret)
	if *headers {
		fmt.Fprintf(out, "%s: %s\n%s: %s\n", gate.TimestampHeader, ts, gate.SignatureHeader, sig)
		return nil
	}
	fmt.Fprintln(out, sig)
	return nil
}

func loadPolicy(path, mode string) (gate.Policy, error) {
	policy := gate.DefaultPolicy()
	if path != "" {
		p, err := gate.LoadPolicyFile(path)
		if err != nil {
			return gate.Policy{}, err
		}
		policy = p
	}
	if mode != "" {
		policy.RestrictionMode = gate.RestrictionMode(mode)
		if err := policy.Validate(); err != nil {
			return gate.Policy{}, err
		}
	}
	return policy, nil
}

func check(args []string, out io.Writer) error {
	fs := newFlagSet("check")
	policyPath := fs.String("policy", "", "policy file (default built-in tables)")
	mode := fs.String("mode", "", "override restriction mode")
	command := fs.String("command", "", "slash command, e.g. /sre")
	text := fs.String("text", "", "command text; the first word is the action")
	channel := fs.String("channel", "", "channel id")
	user := fs.String("user", "", "user name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *command == "" {
		return errors.New("command required")
	}
	policy, err := loadPolicy(*policyPath, *mode)
	if err != nil {
		return err
	}
	action := ""
	if fields := strings.Fields(*text); len(fields) > 0 {
		action = fields[0]
	}
	d := gate.New(policy, "").Authorize(*command, action, *channel, *user)
	if d.Allowed() {
		fmt.Fprintln(out, d.Outcome)
		return nil
	}
	fmt.Fprintf(out, "%s\t%s\n", d.Outcome, d.Message())
	return nil
}

func printPolicy(args []string, out io.Writer) error {
	fs := newFlagSet("policy")
	policyPath := fs.String("policy", "", "policy file (default built-in tables)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	policy, err := loadPolicy(*policyPath, "")
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(policy); err != nil {
		return fmt.Errorf("encode policy: %w", err)
	}
	return enc.Close()
}

// send delivers a signed slash command to a running gatekeeper and prints
// the answer, an empty body meaning the command was accepted.
func send(args []string, out io.Writer) error {
	fs := newFlagSet("send")
	target := fs.String("url", "http://localhost:8080/slack/commands", "gatekeeper endpoint")
	secret := secretFlag(fs)
	command := fs.String("command", "", "slash command")
	text := fs.String("text", "", "command text")
	channel := fs.String("channel", "", "channel id")
	user := fs.String("user", "", "user name")
	userID := fs.String("user-id", "U0000000", "user id")
	timeout := fs.Duration("timeout", 5*time.Second, "request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *secret == "" || *command == "" {
		return errors.New("secret and command required")
	}
	form := url.Values{
		"command":    {*command},
		"text":       {*text},
		"channel_id": {*channel},
		"user_id":    {*userID},
		"user_name":  {*user},
		"trigger_id": {"gatectl." + strconv.FormatInt(nowFn().UnixNano(), 10)},
	}
	ts := strconv.FormatInt(nowFn().Unix(), 10)
	headers := map[string]string{
		gate.TimestampHeader: ts,
		gate.SignatureHeader: gate.Sign([]byte(form.Encode()), ts, *secret),
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	status, body, err := httpx.RequestForm(ctx, &http.Client{Timeout: *timeout}, *target, form, headers)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if len(body) == 0 {
		fmt.Fprintf(out, "%d accepted\n", status)
		return nil
	}
	fmt.Fprintf(out, "%d %s\n", status, body)
	return nil
}
