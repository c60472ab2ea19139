package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/opentalon/metisctl/internal/args"
	"github.com/opentalon/metisctl/internal/batch"
	"github.com/opentalon/metisctl/internal/catalog"
	"github.com/opentalon/metisctl/internal/config"
	"github.com/opentalon/metisctl/internal/metis"
	"github.com/opentalon/metisctl/internal/scheduler"
	"github.com/opentalon/metisctl/internal/schema"
	"github.com/opentalon/metisctl/internal/task"
)

func (a *app) providersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List selectable provider/model pairs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := catalog.NewResolver(a.client).ListProviders(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return a.printJSON(opts)
			}
			for _, o := range opts {
				fmt.Fprintf(a.out, "%s\t%s\n", o.Value, o.Label)
			}
			return nil
		},
	}
}

func (a *app) operationsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "operations KEY",
		Short: "List the operations a provider/model supports",
		Long:  "KEY is a value printed by `metisctl providers`, e.g. openai:::dall-e-3.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			ops, err := catalog.NewResolver(a.client).ListOperations(cmd.Context(), argv[0])
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return a.printJSON(ops)
			}
			for _, op := range ops {
				fmt.Fprintln(a.out, op)
			}
			return nil
		},
	}
}

func (a *app) schemaCommand() *cobra.Command {
	var kind, links string
	cmd := &cobra.Command{
		Use:   "schema KEY",
		Short: "Show the generation argument schema of a provider/model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			s, err := schema.NewResolver(a.client).ResolveSelection(cmd.Context(), argv[0])
			if err != nil {
				return err
			}
			if kind == "" {
				return a.printJSON(s)
			}
			k, err := schema.ParseKind(strings.ToUpper(kind))
			if err != nil {
				return err
			}
			filter, err := parseLinkFilter(links)
			if err != nil {
				return err
			}
			opts := schema.NamesOfKind(s, k, filter)
			if a.jsonOutput {
				return a.printJSON(opts)
			}
			for _, o := range opts {
				fmt.Fprintf(a.out, "%s\t%s\n", o.Value, o.Label)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "only list argument names of this type (STRING, INTEGER, FLOAT, BOOLEAN, ARRAY, OBJECT, ENUM)")
	cmd.Flags().StringVar(&links, "links", "any", "for STRING: any, only or exclude link arguments")
	return cmd
}

func parseLinkFilter(s string) (schema.LinkFilter, error) {
	switch s {
	case "", "any":
		return schema.LinkAny, nil
	case "only":
		return schema.LinkOnly, nil
	case "exclude":
		return schema.LinkExclude, nil
	default:
		return 0, fmt.Errorf("unknown --links value %q (supported: any, only, exclude)", s)
	}
}

func (a *app) enumCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "enum KEY NAME",
		Short: "List the allowed values of an ENUM argument",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, argv []string) error {
			s, err := schema.NewResolver(a.client).ResolveSelection(cmd.Context(), argv[0])
			if err != nil {
				return err
			}
			return a.printJSON(schema.EnumValues(s, argv[1]))
		},
	}
}

func (a *app) generateCommand() *cobra.Command {
	var (
		argsFile       string
		mode           string
		rawJSON        string
		completion     string
		wait           bool
		pollInterval   time.Duration
		timeout        time.Duration
		webhookURL     string
		webhookMethod  string
		webhookHeaders string
	)
	cmd := &cobra.Command{
		Use:   "generate KEY OPERATION",
		Short: "Submit a generation task and wait for it",
		Long: `Submit a generation task for the provider/model KEY.

Arguments come from --args (a YAML file with a schema, guided or json
block, as in the items section of the config) or from --raw-json.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, argv []string) error {
			name, model := catalog.Decode(argv[0])
			item := config.ItemConfig{
				Kind:         config.ItemGeneration,
				Provider:     name,
				Model:        model,
				Operation:    argv[1],
				Completion:   completion,
				PollInterval: config.Duration(pollInterval),
				Timeout:      config.Duration(timeout),
			}
			if cmd.Flags().Changed("wait") {
				item.Wait = &wait
			}

			if argsFile != "" {
				data, err := os.ReadFile(argsFile)
				if err != nil {
					return fmt.Errorf("reading args %s: %w", argsFile, err)
				}
				if err := yaml.Unmarshal(data, &item.Args); err != nil {
					return fmt.Errorf("parsing args %s: %w", argsFile, err)
				}
			}
			if rawJSON != "" {
				item.Args.Mode = string(args.ModeJSON)
				item.Args.JSON = rawJSON
			}
			if mode != "" {
				item.Args.Mode = mode
			}

			if webhookURL != "" || webhookHeaders != "" {
				headers, err := task.ParseHeaders(webhookHeaders)
				if err != nil {
					return err
				}
				item.Webhook = &config.WebhookConfig{URL: webhookURL, Method: webhookMethod, Headers: headers}
			}

			bi, err := batchItem(item, a.cfg.Defaults)
			if err != nil {
				return err
			}
			return a.runOne(cmd, bi)
		},
	}
	f := cmd.Flags()
	f.StringVar(&argsFile, "args", "", "YAML file with the argument input")
	f.StringVar(&mode, "mode", "", "argument input mode: schema, guided or json")
	f.StringVar(&rawJSON, "raw-json", "", "arguments as a JSON object (json mode)")
	f.StringVar(&completion, "completion", "", "polling or webhook (default from config)")
	f.BoolVar(&wait, "wait", true, "poll until the task finishes (polling only)")
	f.DurationVar(&pollInterval, "poll-interval", 0, "time between status checks (default 5s, min 1s)")
	f.DurationVar(&timeout, "timeout", 0, "give up waiting after this long (default 30m, min 1m)")
	f.StringVar(&webhookURL, "webhook-url", "", "URL the gateway calls on completion (webhook only)")
	f.StringVar(&webhookMethod, "webhook-method", "POST", "webhook HTTP method: POST, GET, PUT or PATCH")
	f.StringVar(&webhookHeaders, "webhook-headers", "", `webhook headers as JSON, {"K":"V"} or [{"key":"K","value":"V"}]`)
	return cmd
}

func (a *app) chatCommand() *cobra.Command {
	var botID, sessionID, msgType string
	cmd := &cobra.Command{
		Use:   "chat MESSAGE",
		Short: "Send one message to a bot, starting a session when none is given",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			bi, err := batchItem(config.ItemConfig{
				Kind:      config.ItemChat,
				BotID:     botID,
				SessionID: sessionID,
				Type:      msgType,
				Content:   argv[0],
			}, a.cfg.Defaults)
			if err != nil {
				return err
			}
			err = a.runOne(cmd, bi)
			if sessionID != "" && metis.IsNotFound(err) {
				return fmt.Errorf("session %q not found, omit --session to start a new one: %w", sessionID, err)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&botID, "bot", "", "bot id (required without --session)")
	cmd.Flags().StringVar(&sessionID, "session", "", "existing session id")
	cmd.Flags().StringVar(&msgType, "type", "USER", "message type: USER or TOOL")
	return cmd
}

func (a *app) runOne(cmd *cobra.Command, item batch.Item) error {
	r, err := a.runner()
	if err != nil {
		return err
	}
	outputs, err := r.Run(cmd.Context(), []batch.Item{item})
	if err != nil {
		return err
	}
	return a.printJSON(outputs[0])
}

func (a *app) runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the items from the config file once and write the results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(a.cfg.Items) == 0 {
				return errors.New("no items configured")
			}
			items, err := batchItems(a.cfg.Items, a.cfg.Defaults)
			if err != nil {
				return err
			}
			r, err := a.runner()
			if err != nil {
				return err
			}
			s, err := a.openSink(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			outputs, err := r.Run(cmd.Context(), items)
			if err != nil {
				return err
			}
			return s.Write(cmd.Context(), outputs)
		},
	}
}

func (a *app) scheduleCommand() *cobra.Command {
	var only, pause, resume []string
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the configured schedules until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			jobs, err := a.scheduleJobs()
			if err != nil {
				return err
			}
			r, err := a.runner()
			if err != nil {
				return err
			}
			s, err := a.openSink(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			sched := scheduler.New(r, s)
			defer sched.Stop()
			for _, j := range jobs {
				if err := sched.AddJob(j); err != nil {
					return err
				}
			}
			if err := applyJobFilters(sched, only, pause, resume); err != nil {
				return err
			}
			if err := sched.Start(nil); err != nil {
				return err
			}
			<-cmd.Context().Done()
			log.Printf("metisctl: shutting down scheduler")
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&only, "only", nil, "run only these schedules")
	cmd.Flags().StringSliceVar(&pause, "pause", nil, "register these schedules paused")
	cmd.Flags().StringSliceVar(&resume, "resume", nil, "resume schedules paused in the config")
	cmd.AddCommand(a.scheduleListCommand(), a.scheduleRunCommand())
	return cmd
}

func (a *app) scheduleJobs() ([]scheduler.Job, error) {
	if len(a.cfg.Schedules) == 0 {
		return nil, errors.New("no schedules configured")
	}
	jobs := make([]scheduler.Job, 0, len(a.cfg.Schedules))
	for _, sc := range a.cfg.Schedules {
		items, err := batchItems(sc.Items, a.cfg.Defaults)
		if err != nil {
			return nil, fmt.Errorf("schedule %q: %w", sc.Name, err)
		}
		jobs = append(jobs, scheduler.Job{Name: sc.Name, Cron: sc.Cron, Items: items, Paused: sc.Paused})
	}
	return jobs, nil
}

// applyJobFilters narrows the registered jobs to only (when set), then
// pauses and resumes the named ones.
func applyJobFilters(sched *scheduler.Scheduler, only, pause, resume []string) error {
	if len(only) > 0 {
		keep := make(map[string]bool, len(only))
		for _, name := range only {
			if _, ok := sched.GetJob(name); !ok {
				return fmt.Errorf("schedule %q not found", name)
			}
			keep[name] = true
		}
		for _, j := range sched.ListJobs() {
			if keep[j.Name] {
				continue
			}
			if err := sched.RemoveJob(j.Name); err != nil {
				return err
			}
		}
	}
	for _, name := range pause {
		if err := sched.PauseJob(name); err != nil {
			return err
		}
	}
	for _, name := range resume {
		if err := sched.ResumeJob(name); err != nil {
			return err
		}
	}
	return nil
}

type jobInfo struct {
	Name   string `json:"name"`
	Cron   string `json:"cron"`
	Paused bool   `json:"paused"`
	Items  int    `json:"items"`
}

func (a *app) scheduleListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the configured schedules",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			jobs, err := a.scheduleJobs()
			if err != nil {
				return err
			}
			sched := scheduler.New(nil, nil)
			defer sched.Stop()
			for _, j := range jobs {
				if err := sched.AddJob(j); err != nil {
					return err
				}
			}

			infos := []jobInfo{}
			for _, j := range sched.ListJobs() {
				infos = append(infos, jobInfo{Name: j.Name, Cron: j.Cron, Paused: j.Paused, Items: len(j.Items)})
			}
			if a.jsonOutput {
				return a.printJSON(infos)
			}
			for _, info := range infos {
				state := "active"
				if info.Paused {
					state = "paused"
				}
				fmt.Fprintf(a.out, "%s\t%s\t%s\t%d items\n", info.Name, info.Cron, state, info.Items)
			}
			return nil
		},
	}
}

func (a *app) scheduleRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run NAME",
		Short: "Run one schedule now, even if it is paused, and write the results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			jobs, err := a.scheduleJobs()
			if err != nil {
				return err
			}
			r, err := a.runner()
			if err != nil {
				return err
			}
			s, err := a.openSink(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			sched := scheduler.New(r, s)
			defer sched.Stop()
			defer context.AfterFunc(cmd.Context(), sched.Stop)()
			for _, j := range jobs {
				if err := sched.AddJob(j); err != nil {
					return err
				}
			}
			job, ok := sched.GetJob(argv[0])
			if !ok {
				return fmt.Errorf("schedule %q not found", argv[0])
			}
			if job.Paused {
				if err := sched.ResumeJob(job.Name); err != nil {
					return err
				}
			}
			return sched.RunNow(job.Name)
		},
	}
}

func (a *app) whoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Check the API key against the gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			me, err := a.client.Me(cmd.Context())
			if err != nil {
				return err
			}
			return a.printJSON(map[string]any{
				"base_url": a.client.BaseURL(),
				"api_key":  a.cfg.API.MaskedKey(),
				"account":  me,
			})
		},
	}
}
