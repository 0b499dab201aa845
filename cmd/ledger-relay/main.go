// Package main contains the entrypoint of the outbox relay: it republishes
// the committed events of a Postgres ledger to Kafka or RabbitMQ, and serves
// the operator API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/get-eventually/eventledger/broker"
	"github.com/get-eventually/eventledger/broker/kafka"
	"github.com/get-eventually/eventledger/broker/rabbitmq"
	"github.com/get-eventually/eventledger/config"
	"github.com/get-eventually/eventledger/logger"
	"github.com/get-eventually/eventledger/logger/zaplogger"
	"github.com/get-eventually/eventledger/otelledger"
	"github.com/get-eventually/eventledger/postgres"
	"github.com/get-eventually/eventledger/relay"
	"github.com/get-eventually/eventledger/security"
	"github.com/get-eventually/eventledger/serde"
	"github.com/get-eventually/eventledger/tenant"
)

const relayName = "outbox-relay"

type closerFunc func() error

func (fn closerFunc) Close() error { return fn() }

func newPublisher(cfg *config.Config) (relay.Publisher, io.Closer, error) {
	switch strings.ToLower(cfg.Broker) {
	case config.BrokerRabbitMQ:
		p, err := rabbitmq.NewPublisher(rabbitmq.Config{URL: cfg.RabbitMQURL, Exchange: cfg.RabbitMQExchange})
		if err != nil {
			return nil, nil, err
		}

		return p, p, nil
	default:
		p := kafka.NewPublisher(kafka.PublisherConfig{
			Brokers:                cfg.KafkaBrokers,
			BatchTimeout:           10 * time.Millisecond,
			WriteTimeout:           5 * time.Second,
			AllowAutoTopicCreation: true,
		})

		return p, p, nil
	}
}

func newLimiter(cfg *config.Config) (security.Limiter, io.Closer) {
	if strings.ToLower(cfg.RateLimitBackend) == config.RateLimitRedis {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return security.NewRedisLimiter(client, cfg.RateLimit, cfg.RateWindow), client
	}

	return security.NewLocalLimiter(cfg.RateLimit, cfg.RateWindow), closerFunc(func() error { return nil })
}

//nolint:funlen // Wiring.
func run() error {
	cfg, err := config.Parse()
	if err != nil {
		return fmt.Errorf("ledger-relay.main: failed to parse config, %w", err)
	}

	zapLogger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("ledger-relay.main: failed to initialize logger, %w", err)
	}

	//nolint:errcheck // No need for this error to come up if it happens.
	defer zapLogger.Sync()

	log := (*zaplogger.Logger)(zapLogger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := postgres.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("ledger-relay.main: failed to run migrations, %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("ledger-relay.main: failed to connect to postgres, %w", err)
	}
	defer pool.Close()

	// The relay forwards payloads as stored, without decoding them.
	codec := serde.OpaqueCodec{}

	eventStore, err := otelledger.NewInstrumentedEventStore(postgres.NewEventStore(pool, codec))
	if err != nil {
		return fmt.Errorf("ledger-relay.main: failed to instrument event store, %w", err)
	}

	publisher, closer, err := newPublisher(cfg)
	if err != nil {
		return fmt.Errorf("ledger-relay.main: failed to create %s publisher, %w", cfg.Broker, err)
	}

	defer func() {
		if err := closer.Close(); err != nil {
			logger.Error(log, "Failed to close publisher", logger.Err(err))
		}
	}()

	instrumentedPublisher, err := otelledger.NewInstrumentedPublisher(publisher)
	if err != nil {
		return fmt.Errorf("ledger-relay.main: failed to instrument publisher, %w", err)
	}

	options, err := cfg.Relay(relayName)
	if err != nil {
		return fmt.Errorf("ledger-relay.main: %w", err)
	}

	deadLetters := &postgres.DeadLetterStore{Conn: pool}

	outbox, err := relay.New(
		eventStore,
		&postgres.CursorStore{Conn: pool},
		instrumentedPublisher,
		broker.Encoder{Codec: codec},
		options,
		relay.WithDeadLetterStore(deadLetters),
		relay.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("ledger-relay.main: failed to create relay, %w", err)
	}

	limiter, limiterCloser := newLimiter(cfg)

	defer func() {
		if err := limiterCloser.Close(); err != nil {
			logger.Error(log, "Failed to close rate limiter", logger.Err(err))
		}
	}()

	srv := &http.Server{
		Addr: cfg.HTTPAddress,
		Handler: api{
			relay:       outbox,
			deadLetters: deadLetters,
			tracker:     eventStore,
			ready:       pool,
			logger:      log,
			tenants: security.Middleware{
				Validator: security.NewValidator(cfg.Security(),
					security.WithLimiter(limiter),
					security.WithLogger(log),
				),
				Bridge:   tenant.Bridge{},
				Logger:   log,
				Required: true,
			},
		}.router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info(log, "Relay started",
			logger.With("broker", cfg.Broker),
			logger.With("consumer", options.ConsumerName()),
		)

		return outbox.Run(ctx)
	})

	group.Go(func() error {
		logger.Info(log, "Operator API listening", logger.With("address", srv.Addr))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ledger-relay.main: http server exited with error, %w", err)
		}

		return nil
	})

	group.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
