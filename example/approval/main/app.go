package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/rs/zerolog"
	"github.com/sicko7947/waitflow"
	"github.com/sicko7947/waitflow/engine"
	"github.com/sicko7947/waitflow/example/approval"
	"github.com/sicko7947/waitflow/realtime"
	"github.com/sicko7947/waitflow/store"
	"github.com/sicko7947/waitflow/sweep"
)

// App holds the wired components shared by the commands
type App struct {
	Config       *Config
	Logger       zerolog.Logger
	Store        waitflow.InstanceStore
	Hub          *realtime.Hub
	Engine       *engine.Engine
	Orchestrator *approval.Orchestrator
	Sweep        *sweep.Job
}

func newLogger(cfg LogConfig) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log.level %q: %w", cfg.Level, err)
	}

	var logger zerolog.Logger
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.With().Timestamp().Logger().Level(level), nil
}

func newStore(ctx context.Context, cfg StoreConfig, logger zerolog.Logger) (waitflow.InstanceStore, error) {
	if cfg.Driver != "dynamodb" {
		logger.Info().Msg("Using in-memory instance store")
		return store.NewMemoryStore(), nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	if cfg.CreateTable {
		if err := store.EnsureTable(ctx, client, cfg.Table, 2*time.Minute); err != nil {
			return nil, err
		}
	}

	logger.Info().
		Str("table", cfg.Table).
		Str("region", cfg.Region).
		Msg("Using DynamoDB instance store")

	return store.NewDynamoDBStore(client, cfg.Table), nil
}

// NewApp wires store, hub, engine, approval workflow and sweep job
func NewApp(ctx context.Context, cfg *Config) (*App, error) {
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	st, err := newStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}

	hub := realtime.NewHub(
		realtime.WithLogger(logger),
		realtime.WithBufferSize(cfg.Realtime.BufferSize),
		realtime.WithReconcileDelay(cfg.Realtime.ReconcileDelay),
		realtime.WithReconciler(engine.NewInstanceReconciler(st, logger)),
	)
	hub.CreateChannel(approval.ChannelPath)

	eng := engine.NewEngine(st,
		engine.WithLogger(logger),
		engine.WithConfig(engine.EngineConfig{
			SweepConcurrency: cfg.Engine.SweepConcurrency,
		}),
		engine.WithPublisher(hub, approval.ChannelPath),
	)

	var opts []approval.Option
	if cfg.Approval.Instant {
		opts = append(opts, approval.WithDelays(approval.Delay{}, approval.Delay{}))
	}

	orch, err := approval.NewOrchestrator(eng, logger, opts...)
	if err != nil {
		hub.Close()
		return nil, err
	}

	return &App{
		Config:       cfg,
		Logger:       logger,
		Store:        st,
		Hub:          hub,
		Engine:       eng,
		Orchestrator: orch,
		Sweep:        sweep.NewJob(eng, sweep.WithLogger(logger)),
	}, nil
}

// Close releases the realtime hub
func (a *App) Close() {
	a.Hub.Close()
}
