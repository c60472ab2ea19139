package task

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/opentalon/metisctl/internal/metis"
	"github.com/opentalon/metisctl/internal/metrics"
)

// Gateway is the part of the Metis client the controller needs.
type Gateway interface {
	CreateGeneration(ctx context.Context, req *metis.GenerationRequest) (metis.Object, error)
	GetGeneration(ctx context.Context, id string) (metis.Object, error)
}

// Controller submits generation tasks and, when asked to wait without a
// webhook, polls them until they reach a terminal status or time out.
type Controller struct {
	gateway Gateway
	metrics *metrics.Metrics
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

type Option func(*Controller)

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithClock replaces time.Now for deadline checks.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithSleep replaces the wait between polls.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) { c.sleep = sleep }
}

func NewController(gw Gateway, opts ...Option) *Controller {
	c := &Controller{
		gateway: gw,
		now:     time.Now,
		sleep:   sleepContext,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run submits req and resolves its completion. Nothing is retried: the
// first error from the gateway is returned as is.
func (c *Controller) Run(ctx context.Context, req *Request) (*Result, error) {
	createReq := &metis.GenerationRequest{
		Model:     metis.ModelRef{Name: req.Provider, Model: req.Model},
		Operation: req.Operation,
		Args:      req.Args,
		Webhook:   req.Webhook,
	}
	if createReq.Args == nil {
		createReq.Args = map[string]any{}
	}

	obj, err := c.gateway.CreateGeneration(ctx, createReq)
	if err != nil {
		return nil, fmt.Errorf("create generation: %w", err)
	}
	c.metrics.Submission(req.Provider, req.Model, req.Operation)
	created := Payload(obj)

	if !req.Wait || req.Webhook != nil {
		c.metrics.Outcome(string(StateSubmitted))
		return &Result{Payload: created, State: StateSubmitted}, nil
	}

	taskID := created.ID()
	if taskID == "" {
		return nil, fmt.Errorf("%w: generation created but no task id returned", ErrMissingRequiredField)
	}

	return c.poll(ctx, taskID, created, req)
}

func (c *Controller) poll(ctx context.Context, taskID string, created Payload, req *Request) (*Result, error) {
	interval, timeout := normalizedTimings(req.PollInterval, req.Timeout)
	deadline := c.now().Add(timeout)
	polls := 0

	for c.now().Before(deadline) {
		obj, err := c.gateway.GetGeneration(ctx, taskID)
		if err != nil {
			return nil, fmt.Errorf("poll generation %s: %w", taskID, err)
		}
		polls++
		c.metrics.Poll()

		current := Payload(obj)
		if current.Terminal() {
			c.metrics.Outcome(string(StateTerminal))
			return &Result{Payload: current, State: StateTerminal, Polls: polls}, nil
		}

		if err := c.sleep(ctx, interval); err != nil {
			return nil, err
		}
	}

	log.Printf("task: generation %s not finished after %s (%d polls), returning creation response", taskID, timeout, polls)
	c.metrics.Outcome(string(StateTimedOut))
	return &Result{Payload: created, State: StateTimedOut, Polls: polls}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
