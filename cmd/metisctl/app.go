package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/opentalon/metisctl/internal/batch"
	"github.com/opentalon/metisctl/internal/chat"
	"github.com/opentalon/metisctl/internal/config"
	"github.com/opentalon/metisctl/internal/lua"
	"github.com/opentalon/metisctl/internal/metis"
	"github.com/opentalon/metisctl/internal/metrics"
	"github.com/opentalon/metisctl/internal/schema"
	"github.com/opentalon/metisctl/internal/sink"
	"github.com/opentalon/metisctl/internal/task"
	"github.com/opentalon/metisctl/internal/version"
)

const apiKeyEnv = "METIS_API_KEY"

// app carries the flags and the objects built from them for one invocation.
type app struct {
	out io.Writer

	configPath  string
	metricsFile string
	baseURL     string
	apiKey      string
	clientID    string
	jsonOutput  bool

	cfg      *config.Config
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	client   *metis.Client
}

func newApp(out io.Writer) *app {
	return &app{out: out}
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "metisctl",
		Short:         "Submit generation tasks and chat messages to the Metis gateway",
		Version:       version.Get().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.setup()
		},
	}
	root.SetVersionTemplate("{{.Version}}\n")

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "path to config file")
	flags.StringVar(&a.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile on exit")
	flags.StringVar(&a.baseURL, "base-url", "", "gateway base URL (overrides api.base_url)")
	flags.StringVar(&a.apiKey, "api-key", "", "API key (overrides api.api_key and $"+apiKeyEnv+")")
	flags.StringVar(&a.clientID, "client-id", "", "X-Metis-Client header value (overrides api.client_id)")
	flags.BoolVar(&a.jsonOutput, "json", false, "print listings as JSON")

	root.AddCommand(
		a.providersCommand(),
		a.operationsCommand(),
		a.schemaCommand(),
		a.enumCommand(),
		a.generateCommand(),
		a.chatCommand(),
		a.runCommand(),
		a.scheduleCommand(),
		a.whoamiCommand(),
	)
	return root
}

// setup loads config, applies flag overrides and builds the shared objects.
func (a *app) setup() error {
	var err error
	if a.configPath != "" {
		a.cfg, err = config.Load(a.configPath)
	} else {
		a.cfg, err = config.Parse(nil)
	}
	if err != nil {
		return err
	}

	if a.baseURL != "" {
		a.cfg.API.BaseURL = a.baseURL
	}
	if a.apiKey != "" {
		a.cfg.API.APIKey = a.apiKey
	}
	if a.cfg.API.APIKey == "" {
		a.cfg.API.APIKey = os.Getenv(apiKeyEnv)
	}
	if a.clientID != "" {
		a.cfg.API.ClientID = a.clientID
	}
	if a.metricsFile == "" {
		a.metricsFile = a.cfg.Metrics.Textfile
	}

	a.registry = prometheus.NewRegistry()
	a.metrics, err = metrics.New(a.registry)
	if err != nil {
		return err
	}
	a.client = metis.New(a.cfg.API.BaseURL, a.cfg.API.APIKey, metis.WithClientID(a.cfg.API.ClientID))
	return nil
}

func (a *app) writeMetrics() error {
	if a.metricsFile == "" || a.registry == nil {
		return nil
	}
	return metrics.WriteTextfile(a.metricsFile, a.registry)
}

// runner wires the controller, dispatcher, schema check and optional hook
// into a batch runner.
func (a *app) runner() (*batch.Runner, error) {
	opts := []batch.Option{
		batch.WithMetrics(a.metrics),
		batch.WithSchemas(schema.NewResolver(a.client)),
	}
	if a.cfg.Hook.Script != "" {
		hook, err := lua.LoadHook(a.cfg.Hook.Script)
		if err != nil {
			return nil, err
		}
		log.Printf("metisctl: argument hook %s loaded", hook.Path())
		opts = append(opts, batch.WithHook(hook))
	}
	controller := task.NewController(a.client, task.WithMetrics(a.metrics))
	dispatcher := chat.NewDispatcher(a.client, a.metrics)
	return batch.NewRunner(controller, dispatcher, opts...), nil
}

// openSink opens the configured result destination.
func (a *app) openSink(ctx context.Context) (sink.Sink, error) {
	out := a.cfg.Output
	switch out.Kind {
	case config.OutputFile:
		w, err := sink.OpenFile(out.Path)
		if err != nil {
			return nil, err
		}
		return w, nil
	case config.OutputRedis:
		s := sink.NewRedis(sink.RedisOptions{
			Addr:     out.Redis.Addr,
			Password: out.Redis.Password,
			DB:       out.Redis.DB,
			Key:      out.Redis.Key,
		})
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	default:
		return sink.NewWriter(a.out), nil
	}
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
