package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/correlate/internal/config"
	"github.com/roach88/correlate/internal/transport/amqp"
	"github.com/roach88/correlate/internal/transport/httpin"
	"github.com/roach88/correlate/internal/transport/kafka"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatcher and the enabled ingest bridges",
		Long: `Run the case runtime and every ingest bridge enabled in the config.

The HTTP bridge also serves /healthz and /metrics. RabbitMQ and Kafka
bindings map queues and topics to channel models.

Example:
  correlate serve --config correlate.yaml
  CORRELATE_INGEST_HTTP_ENABLED=true correlate serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(rootOpts, cmd)
		},
	}
}

func runServe(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	ing := cfg.Ingest
	if !ing.HTTP.Enabled && !ing.RabbitMQ.Enabled && !ing.Kafka.Enabled {
		return NewExitError(ExitCommandError, "no ingest bridge enabled (ingest.http, ingest.rabbitmq or ingest.kafka)")
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := checkBindings(a, cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errc := make(chan error, 4)
	goRun := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errc <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	goRun("case runtime", a.runtime.Run)

	if ing.HTTP.Enabled {
		srv := httpin.NewServer(a.registry,
			httpin.WithLogger(a.logger.Named("http")),
			httpin.WithMetrics(a.metrics, a.gatherer),
		)
		goRun("http bridge", func(ctx context.Context) error {
			return srv.ListenAndServe(ctx, ing.HTTP.Addr)
		})
	}

	if ing.RabbitMQ.Enabled {
		adapter, err := amqp.NewAdapter(amqpConfig(ing.RabbitMQ), a.registry,
			amqp.WithLogger(a.logger.Named("rabbitmq")),
			amqp.WithMetrics(a.metrics),
		)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid rabbitmq bridge", err)
		}
		if err := adapter.Start(ctx); err != nil {
			cancel()
			wg.Wait()
			return WrapExitError(ExitFailure, "failed to start rabbitmq bridge", err)
		}
		defer adapter.Close()
	}

	if ing.Kafka.Enabled {
		adapter, err := kafka.NewAdapter(kafkaConfig(ing.Kafka), a.registry, []kafka.Option{
			kafka.WithLogger(a.logger.Named("kafka")),
			kafka.WithMetrics(a.metrics),
		})
		if err != nil {
			cancel()
			wg.Wait()
			return WrapExitError(ExitCommandError, "invalid kafka bridge", err)
		}
		goRun("kafka bridge", adapter.Run)
	}

	a.logger.Info("correlate started",
		zap.Bool("http", ing.HTTP.Enabled),
		zap.Bool("rabbitmq", ing.RabbitMQ.Enabled),
		zap.Bool("kafka", ing.Kafka.Enabled),
	)

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case runErr = <-errc:
		a.logger.Error("component failed, shutting down", zap.Error(runErr))
	}
	cancel()
	wg.Wait()

	if runErr != nil {
		return WrapExitError(ExitFailure, "serve failed", runErr)
	}
	return nil
}

// checkBindings rejects bindings to channels no model declares.
func checkBindings(a *app, cfg config.Config) error {
	check := func(section string, bindings []config.ChannelBinding) error {
		for _, b := range bindings {
			if !a.registry.HasChannel(b.Channel) {
				return NewExitError(ExitCommandError, fmt.Sprintf("%s binds %q to unknown channel %q", section, b.Source, b.Channel))
			}
		}
		return nil
	}
	if cfg.Ingest.RabbitMQ.Enabled {
		if err := check("ingest.rabbitmq", cfg.Ingest.RabbitMQ.Bindings); err != nil {
			return err
		}
	}
	if cfg.Ingest.Kafka.Enabled {
		return check("ingest.kafka", cfg.Ingest.Kafka.Bindings)
	}
	return nil
}

func amqpConfig(c config.RabbitMQConfig) amqp.Config {
	bindings := make([]amqp.Binding, 0, len(c.Bindings))
	for _, b := range c.Bindings {
		bindings = append(bindings, amqp.Binding{Channel: b.Channel, Queue: b.Source})
	}
	return amqp.Config{
		URL:      c.URL,
		Prefetch: c.Prefetch,
		Workers:  c.Workers,
		Bindings: bindings,
	}
}

func kafkaConfig(c config.KafkaConfig) kafka.Config {
	bindings := make([]kafka.Binding, 0, len(c.Bindings))
	for _, b := range c.Bindings {
		bindings = append(bindings, kafka.Binding{Channel: b.Channel, Topic: b.Source})
	}
	return kafka.Config{
		Brokers:  c.Brokers,
		Group:    c.Group,
		Bindings: bindings,
	}
}
