package gate

import "strings"

// Outcome is the terminal state of one gate evaluation.
type Outcome int

const (
	Authorized Outcome = iota
	InvalidSignature
	UnauthorizedUser
	InvalidChannel
	InvalidAction
)

func (o Outcome) String() string {
	switch o {
	case Authorized:
		return "AUTHORIZED"
	case InvalidSignature:
		return "INVALID_SIGNATURE"
	case UnauthorizedUser:
		return "UNAUTHORIZED_USER"
	case InvalidChannel:
		return "INVALID_CHANNEL"
	case InvalidAction:
		return "INVALID_ACTION"
	default:
		return "UNKNOWN"
	}
}

// Decision carries the outcome plus what a caller needs to explain it.
type Decision struct {
	Outcome        Outcome
	Command        string
	Action         string
	AllowedActions []string
	// Interactive marks a modal/interactivity payload, which is routed
	// without the command policy checks.
	Interactive bool
	Request     CommandRequest
}

func (d Decision) Allowed() bool {
	return d.Outcome == Authorized
}

// Message is the body returned to the chat platform. Authorized requests
// answer with an empty body.
func (d Decision) Message() string {
	switch d.Outcome {
	case InvalidSignature:
		return "Invalid request signature"
	case UnauthorizedUser:
		return "User not authorized"
	case InvalidChannel:
		return "Invalid channel usage. Contact application owner for more information."
	case InvalidAction:
		return "Invalid command usage. Only the following actions are allowed for " +
			d.Command + ": " + strings.Join(d.AllowedActions, ", ") + "."
	default:
		return ""
	}
}
