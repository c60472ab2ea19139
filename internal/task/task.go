package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/opentalon/metisctl/internal/args"
	"github.com/opentalon/metisctl/internal/metis"
)

var (
	// ErrMalformedInput covers invalid JSON in arguments or webhook headers.
	ErrMalformedInput = metis.ErrMalformedInput
	// ErrMissingRequiredField covers a blank webhook URL and a creation
	// response without the id needed to continue.
	ErrMissingRequiredField = metis.ErrMissingRequiredField
)

const (
	DefaultPollInterval = 5 * time.Second
	MinPollInterval     = time.Second
	DefaultTimeout      = 30 * time.Minute
	MinTimeout          = time.Minute
)

// Status values that end polling. Anything else is treated as in progress.
const (
	StatusCompleted = "COMPLETED"
	StatusError     = "ERROR"
	StatusCancelled = "CANCELLED"
)

// Payload is a task object exactly as the gateway returned it.
type Payload map[string]any

func (p Payload) ID() string {
	id, _ := p["id"].(string)
	return id
}

// Status returns the upper-cased status, or "" when there is none.
func (p Payload) Status() string {
	s, _ := p["status"].(string)
	return strings.ToUpper(s)
}

func (p Payload) Terminal() bool {
	switch p.Status() {
	case StatusCompleted, StatusError, StatusCancelled:
		return true
	}
	return false
}

// State is where a run ended.
type State string

const (
	// StateSubmitted: the creation response was returned without polling.
	StateSubmitted State = "submitted"
	StateTerminal  State = "terminal"
	// StateTimedOut: the deadline passed without a terminal status. The
	// result then carries the creation response, not the last poll.
	StateTimedOut State = "timed_out"
)

// Strategy selects how completion is observed.
type Strategy string

const (
	StrategyPolling Strategy = "polling"
	StrategyWebhook Strategy = "webhook"
)

func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case StrategyPolling, StrategyWebhook:
		return st, nil
	case "":
		return StrategyPolling, nil
	default:
		return "", fmt.Errorf("unknown completion strategy %q (supported: %s, %s)", s, StrategyPolling, StrategyWebhook)
	}
}

// Webhook is passed through to the gateway, which calls it on completion.
type Webhook = metis.Webhook

// Request is one generation submission.
type Request struct {
	Provider  string
	Model     string
	Operation string
	Args      args.Set
	// Webhook, when set, hands completion off to the gateway and disables polling.
	Webhook      *Webhook
	Wait         bool
	PollInterval time.Duration
	Timeout      time.Duration
}

// Result is the outcome of Controller.Run.
type Result struct {
	Payload Payload
	State   State
	Polls   int
}

func (r *Result) TimedOut() bool { return r.State == StateTimedOut }

// normalizedTimings applies defaults to zero values and clamps to minimums.
func normalizedTimings(interval, timeout time.Duration) (time.Duration, time.Duration) {
	switch {
	case interval == 0:
		interval = DefaultPollInterval
	case interval < MinPollInterval:
		interval = MinPollInterval
	}
	switch {
	case timeout == 0:
		timeout = DefaultTimeout
	case timeout < MinTimeout:
		timeout = MinTimeout
	}
	return interval, timeout
}
