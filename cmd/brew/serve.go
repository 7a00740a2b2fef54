package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/spf13/cobra"

	"github.com/oriys/brew/internal/config"
	"github.com/oriys/brew/internal/greeter"
	"github.com/oriys/brew/internal/logging"
	"github.com/oriys/brew/internal/observability"
	"github.com/oriys/brew/internal/shop"
)

func serveCmd() *cobra.Command {
	var (
		task          string
		host          string
		port          uint16
		multicastHost string
		multicastPort uint16
		baristas      int
		maxTickets    int
		dynamoTable   string
		dynamoPartKey string
		sqsQueue      string
		itemTTL       time.Duration
		strict        bool
		redisAddr     string
		auditDSN      string
		logLevel      string
		logFormat     string
		configFile    string
		tracing       bool
		tracingEP     string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the greeter Shop",
		Long:  "Run a full Shop (Waiter + Baristas + Announcer + Collection Point) for the reference greeter task.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.InitStructured(logFormat, logLevel)

			cfg := config.DefaultConfig()
			if configFile != "" {
				loaded, err := config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config file: %w", err)
				}
				cfg = loaded
			}
			config.LoadFromEnv(cfg)
			applyFlags(cmd, cfg, host, port, multicastHost, multicastPort, baristas, maxTickets,
				dynamoTable, dynamoPartKey, sqsQueue, itemTTL, strict, redisAddr, auditDSN, logLevel)
			if cmd.Flags().Changed("tracing") {
				cfg.TracingEnabled = tracing
			}
			if cmd.Flags().Changed("tracing-endpoint") {
				cfg.TracingEndpoint = tracingEP
			}
			cfg.ApplyName(task)

			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if err := observability.Init(ctx, observability.Config{
				Enabled:     cfg.TracingEnabled,
				Exporter:    "otlp-http",
				Endpoint:    cfg.TracingEndpoint,
				ServiceName: "brew-" + task,
				SampleRate:  1.0,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(context.Background())

			awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
			if err != nil {
				return fmt.Errorf("load AWS config: %w", err)
			}

			s, err := shop.New[greeter.Query, greeter.Input, greeter.Output](ctx, task, cfg, awsCfg, greeter.Machine{})
			if err != nil {
				return fmt.Errorf("construct shop: %w", err)
			}
			defer s.Close()

			if err := s.Init(); err != nil {
				return fmt.Errorf("init shop: %w", err)
			}

			runDone := make(chan error, 1)
			go func() {
				runDone <- s.Run(ctx, cfg.Baristas)
			}()

			mux := s.Waiter.Routes()
			mux.Handle("/metrics", s.Metrics.Handler())

			httpServer := &http.Server{
				Addr:    cfg.HostAddr(),
				Handler: observability.HTTPMiddleware(mux),
			}

			errCh := make(chan error, 1)
			go func() {
				logging.Op().Info("brew shop started", "task", task, "addr", cfg.HostAddr(), "multicast", cfg.MulticastAddr(), "baristas", cfg.Baristas)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case sig := <-sigCh:
				logging.Op().Info("shutdown signal received", "signal", sig.String())
			case err := <-errCh:
				cancel()
				return fmt.Errorf("waiter server error: %w", err)
			case err := <-runDone:
				cancel()
				return fmt.Errorf("shop run exited early: %w", err)
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown waiter: %w", err)
			}

			cancel()
			<-runDone
			return nil
		},
	}

	cmd.Flags().StringVar(&task, "task", "coffee", "Task name (derives default DynamoDB table / SQS queue names)")
	cmd.Flags().StringVar(&host, "host", config.DefaultHost, "Waiter bind host")
	cmd.Flags().Uint16Var(&port, "port", config.DefaultPort, "Waiter bind port")
	cmd.Flags().StringVar(&multicastHost, "multicast-host", config.DefaultMulticastHost, "Announcer multicast group address")
	cmd.Flags().Uint16Var(&multicastPort, "multicast-port", config.DefaultMulticastPort, "Announcer multicast group port")
	cmd.Flags().IntVar(&baristas, "baristas", config.DefaultBaristas, "Number of Barista workers")
	cmd.Flags().IntVar(&maxTickets, "max-tickets", config.DefaultMaxTickets, "Admission cap on concurrently tracked tickets")
	cmd.Flags().StringVar(&dynamoTable, "dynamodb-table", "", "DynamoDB table name (default: task-queue-<task>)")
	cmd.Flags().StringVar(&dynamoPartKey, "dynamodb-partition-key", config.DefaultDynamoDBPartition, "DynamoDB partition key attribute name")
	cmd.Flags().StringVar(&sqsQueue, "sqs-queue", "", "SQS queue name (default: task-queue-<task>)")
	cmd.Flags().DurationVar(&itemTTL, "item-ttl", 0, "Keyed store row TTL (default: 24h)")
	cmd.Flags().BoolVar(&strict, "strict-receipts", false, "Abort the process on an unsettled StagedReceipt finalizer")
	cmd.Flags().StringVar(&redisAddr, "redis-addr", "", "Optional Redis address for a read-through store cache")
	cmd.Flags().StringVar(&auditDSN, "audit-dsn", "", "Optional Postgres DSN for the ticket audit log")
	cmd.Flags().StringVar(&logLevel, "log-level", config.DefaultLogLevel, "Log level: debug, info, warn, error")
	cmd.Flags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")
	cmd.Flags().StringVar(&configFile, "config", "", "Optional YAML config file")
	cmd.Flags().BoolVar(&tracing, "tracing", false, "Enable OpenTelemetry span export")
	cmd.Flags().StringVar(&tracingEP, "tracing-endpoint", "localhost:4318", "OTLP/HTTP collector endpoint")

	return cmd
}

// applyFlags overlays flags the operator actually set onto cfg, so an
// unset flag does not clobber a YAML-file or environment value.
func applyFlags(cmd *cobra.Command, cfg *config.Config, host string, port uint16, multicastHost string, multicastPort uint16,
	baristas, maxTickets int, dynamoTable, dynamoPartKey, sqsQueue string, itemTTL time.Duration,
	strict bool, redisAddr, auditDSN, logLevel string) {

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Host = host
	}
	if flags.Changed("port") {
		cfg.Port = port
	}
	if flags.Changed("multicast-host") {
		cfg.MulticastHost = multicastHost
	}
	if flags.Changed("multicast-port") {
		cfg.MulticastPort = multicastPort
	}
	if flags.Changed("baristas") {
		cfg.Baristas = baristas
	}
	if flags.Changed("max-tickets") {
		cfg.MaxTickets = maxTickets
	}
	if flags.Changed("dynamodb-table") {
		cfg.DynamoDBTable = dynamoTable
	}
	if flags.Changed("dynamodb-partition-key") {
		cfg.DynamoDBPartitionKey = dynamoPartKey
	}
	if flags.Changed("sqs-queue") {
		cfg.SQSQueue = sqsQueue
	}
	if flags.Changed("item-ttl") {
		cfg.ItemTTL = itemTTL
	}
	if flags.Changed("strict-receipts") {
		cfg.StrictReceipts = strict
	}
	if flags.Changed("redis-addr") {
		cfg.RedisAddr = redisAddr
	}
	if flags.Changed("audit-dsn") {
		cfg.AuditDSN = auditDSN
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
}
