// Package batch runs a list of generation and chat items one after the
// other. The first failing item aborts the whole batch.
package batch

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/opentalon/metisctl/internal/args"
	"github.com/opentalon/metisctl/internal/chat"
	"github.com/opentalon/metisctl/internal/lua"
	"github.com/opentalon/metisctl/internal/metis"
	"github.com/opentalon/metisctl/internal/metrics"
	"github.com/opentalon/metisctl/internal/schema"
	"github.com/opentalon/metisctl/internal/task"
)

// Item is a GenerationItem or a ChatItem.
type Item interface {
	kind() string
}

const (
	KindGeneration = "generation"
	KindChat       = "chat"
)

type GenerationItem struct {
	Provider  string
	Model     string
	Operation string
	Input     args.Input
	Strategy  task.Strategy
	// Webhook fields are read only when Strategy is webhook.
	WebhookURL     string
	WebhookMethod  string
	WebhookHeaders map[string]string
	Wait           bool
	PollInterval   time.Duration
	Timeout        time.Duration
}

func (GenerationItem) kind() string { return KindGeneration }

type ChatItem struct {
	BotID     string
	SessionID string
	Type      chat.MessageType
	Content   string
}

func (ChatItem) kind() string { return KindChat }

// Output is the result of one item, shaped for the sinks.
type Output struct {
	RunID string `json:"run_id"`
	Index int    `json:"index"`
	Kind  string `json:"kind"`
	// State is the task state for generation items.
	State string `json:"state,omitempty"`
	// SessionID is set for chat items, and SessionCreated when the
	// session was allocated for this item.
	SessionID      string         `json:"session_id,omitempty"`
	SessionCreated bool           `json:"session_created,omitempty"`
	Payload        map[string]any `json:"payload"`
}

// Generator is satisfied by *task.Controller.
type Generator interface {
	Run(ctx context.Context, req *task.Request) (*task.Result, error)
}

// Sender is satisfied by *chat.Dispatcher.
type Sender interface {
	Send(ctx context.Context, msg chat.Message) (*chat.Reply, error)
}

// ArgsHook is satisfied by *lua.Hook.
type ArgsHook interface {
	Apply(ctx context.Context, args map[string]any, target lua.Target) (map[string]any, error)
}

// SchemaResolver is satisfied by *schema.Resolver.
type SchemaResolver interface {
	Resolve(ctx context.Context, name, model string) (schema.Schema, error)
}

type Runner struct {
	generator Generator
	sender    Sender
	hook      ArgsHook
	schemas   SchemaResolver
	metrics   *metrics.Metrics
	newRunID  func() string
}

type Option func(*Runner)

func WithHook(h ArgsHook) Option {
	return func(r *Runner) { r.hook = h }
}

// WithSchemas checks schema-mode input against the provider's argument
// schema before anything is submitted.
func WithSchemas(s SchemaResolver) Option {
	return func(r *Runner) { r.schemas = s }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithRunID replaces the uuid generator for run ids.
func WithRunID(fn func() string) Option {
	return func(r *Runner) { r.newRunID = fn }
}

func NewRunner(gen Generator, sender Sender, opts ...Option) *Runner {
	r := &Runner{
		generator: gen,
		sender:    sender,
		newRunID:  func() string { return uuid.New().String() },
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run processes items in order. On the first error it stops and returns
// nil outputs with an error naming the failing item; items after it are
// never started.
func (r *Runner) Run(ctx context.Context, items []Item) ([]Output, error) {
	runID := r.newRunID()
	log.Printf("batch: run %s started (%d items)", runID, len(items))

	outputs := make([]Output, 0, len(items))
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return r.fail(runID, i, item, err)
		}
		out, err := r.runItem(ctx, item)
		if err != nil {
			return r.fail(runID, i, item, err)
		}
		out.RunID = runID
		out.Index = i
		outputs = append(outputs, out)
	}

	r.metrics.BatchRun(nil)
	log.Printf("batch: run %s finished (%d items)", runID, len(outputs))
	return outputs, nil
}

func (r *Runner) fail(runID string, i int, item Item, cause error) ([]Output, error) {
	err := fmt.Errorf("item %d (%s): %w", i, kindOf(item), cause)
	r.metrics.BatchRun(err)
	log.Printf("batch: run %s aborted: %v", runID, err)
	return nil, err
}

func kindOf(item Item) string {
	if item == nil {
		return "nil"
	}
	return item.kind()
}

func (r *Runner) runItem(ctx context.Context, item Item) (Output, error) {
	switch it := item.(type) {
	case GenerationItem:
		return r.runGeneration(ctx, it)
	case *GenerationItem:
		return r.runGeneration(ctx, *it)
	case ChatItem:
		return r.runChat(ctx, it)
	case *ChatItem:
		return r.runChat(ctx, *it)
	default:
		return Output{}, fmt.Errorf("%w: unsupported batch item %T", metis.ErrMalformedInput, item)
	}
}

func (r *Runner) runGeneration(ctx context.Context, it GenerationItem) (Output, error) {
	if r.generator == nil {
		return Output{}, fmt.Errorf("no generation controller configured")
	}
	req, err := r.prepare(ctx, it)
	if err != nil {
		return Output{}, err
	}
	res, err := r.generator.Run(ctx, req)
	if err != nil {
		return Output{}, err
	}
	return Output{Kind: KindGeneration, State: string(res.State), Payload: res.Payload}, nil
}

// prepare builds the task request: arguments, hook, then webhook.
func (r *Runner) prepare(ctx context.Context, it GenerationItem) (*task.Request, error) {
	if err := r.checkSchema(ctx, it); err != nil {
		return nil, err
	}
	set, err := args.Build(it.Input)
	if err != nil {
		return nil, err
	}

	if r.hook != nil {
		target := lua.Target{Provider: it.Provider, Model: it.Model, Operation: it.Operation}
		out, err := r.hook.Apply(ctx, set, target)
		if err != nil {
			return nil, fmt.Errorf("%w: argument hook: %w", metis.ErrMalformedInput, err)
		}
		set = args.Set(out)
	}

	req := &task.Request{
		Provider:     it.Provider,
		Model:        it.Model,
		Operation:    it.Operation,
		Args:         set,
		Wait:         it.Wait,
		PollInterval: it.PollInterval,
		Timeout:      it.Timeout,
	}
	if it.Strategy == task.StrategyWebhook {
		wh, err := task.NewWebhook(it.WebhookURL, it.WebhookMethod, it.WebhookHeaders)
		if err != nil {
			return nil, err
		}
		req.Webhook = wh
	}
	return req, nil
}

func (r *Runner) checkSchema(ctx context.Context, it GenerationItem) error {
	if r.schemas == nil {
		return nil
	}
	var in args.Schema
	switch v := it.Input.(type) {
	case args.Schema:
		in = v
	case *args.Schema:
		if v == nil {
			return nil
		}
		in = *v
	default:
		return nil
	}
	if !in.Named() {
		return nil
	}
	defs, err := r.schemas.Resolve(ctx, it.Provider, it.Model)
	if err != nil {
		return fmt.Errorf("resolve argument schema: %w", err)
	}
	return in.Check(defs)
}

func (r *Runner) runChat(ctx context.Context, it ChatItem) (Output, error) {
	if r.sender == nil {
		return Output{}, fmt.Errorf("no chat dispatcher configured")
	}
	reply, err := r.sender.Send(ctx, chat.Message{
		BotID:     it.BotID,
		SessionID: it.SessionID,
		Type:      it.Type,
		Content:   it.Content,
	})
	if err != nil {
		return Output{}, err
	}
	return Output{
		Kind:           KindChat,
		SessionID:      reply.Session.ID,
		SessionCreated: reply.Created,
		Payload:        reply.Payload,
	}, nil
}
