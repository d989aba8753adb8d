package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/yarrow/config"
	"github.com/Ramsey-B/yarrow/internal/handlers"
	"github.com/Ramsey-B/yarrow/pkg/agent"
	"github.com/Ramsey-B/yarrow/pkg/aggregator"
	"github.com/Ramsey-B/yarrow/pkg/changefeed"
	"github.com/Ramsey-B/yarrow/pkg/database"
	"github.com/Ramsey-B/yarrow/pkg/dispatcher"
	"github.com/Ramsey-B/yarrow/pkg/health"
	"github.com/Ramsey-B/yarrow/pkg/intake"
	"github.com/Ramsey-B/yarrow/pkg/kafka"
	"github.com/Ramsey-B/yarrow/pkg/middleware"
	"github.com/Ramsey-B/yarrow/pkg/models"
	"github.com/Ramsey-B/yarrow/pkg/notify"
	"github.com/Ramsey-B/yarrow/pkg/poller"
	"github.com/Ramsey-B/yarrow/pkg/redis"
	"github.com/Ramsey-B/yarrow/pkg/repositories"
	"github.com/Ramsey-B/yarrow/pkg/scheduler"
	"github.com/Ramsey-B/yarrow/pkg/startup"
)

// changeFeed is either the Kafka CDC source or the Redis outbox source
type changeFeed interface {
	Start(ctx context.Context) error
	Stop() error
}

type app struct {
	cfg       *config.Config
	logger    ectologger.Logger
	startup   *startup.Startup
	health    *health.Checker
	serverErr chan error

	db       database.DB
	redis    *redis.Client
	producer *kafka.Producer

	feed       changeFeed
	scheduler  *scheduler.Scheduler
	stopRelay  context.CancelFunc
	echo       *echo.Echo
	dlq        *redis.DeadLetterQueue
	hub        *notify.Hub
	intake     *intake.Service
	poller     *poller.Poller
	aggregator *aggregator.Aggregator
	workOrders *repositories.WorkOrderRepository
	locations  *repositories.LocationRepository
}

func newApp(cfg *config.Config, logger ectologger.Logger) *app {
	a := &app{
		cfg:       cfg,
		logger:    logger,
		startup:   startup.NewStartup(logger, cfg.StartupMaxAttempts),
		health:    health.NewChecker(cfg.Version),
		serverErr: make(chan error, 1),
	}

	a.startup.AddDependency(&startup.Func{Name: "postgres", OnStart: a.startPostgres, OnStop: a.stopPostgres})
	a.startup.AddDependency(&startup.Func{Name: "redis", OnStart: a.startRedis, OnStop: a.stopRedis})
	a.startup.AddDependency(&startup.Func{Name: "kafka-producer", OnStart: a.startProducer, OnStop: a.stopProducer})
	a.startup.AddDependency(&startup.Func{
		Name:    "pipeline",
		Parents: []string{"postgres", "redis", "kafka-producer"},
		OnStart: a.startPipeline,
		OnStop:  a.stopPipeline,
	})
	a.startup.AddDependency(&startup.Func{
		Name:    "http",
		Parents: []string{"pipeline"},
		OnStart: a.startHTTP,
		OnStop:  a.stopHTTP,
	})
	return a
}

func (a *app) startPostgres(ctx context.Context) error {
	db, err := database.Connect(ctx, database.Config{
		Driver:          a.cfg.DatabaseDriver,
		Host:            a.cfg.DatabaseHost,
		Port:            a.cfg.DatabasePort,
		User:            a.cfg.DatabaseUserName,
		Password:        a.cfg.DatabasePassword,
		Name:            a.cfg.DatabaseName,
		SSLMode:         a.cfg.DatabaseSSLMode,
		MaxOpenConns:    a.cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    a.cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: a.cfg.DatabaseConnMaxLifetime,
	}, a.logger)
	if err != nil {
		return err
	}

	migrations := database.NewMigrationService(a.logger, &database.MigrationConfig{
		MigrationFolderPath: a.cfg.DatabaseMigrationFolderPath,
		Version:             uint(a.cfg.DatabaseMigrationVersion),
		Force:               a.cfg.DatabaseMigrationForce,
		AutoRollback:        a.cfg.DatabaseMigrationAutoRollback,
	})
	if err := migrations.MigratePostgres(db, a.cfg.DatabaseName); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to migrate: %w", err)
	}

	a.db = db
	a.health.Register("postgres", health.PingFunc(db.PingContext), true)
	return nil
}

func (a *app) stopPostgres(context.Context) error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *app) startRedis(ctx context.Context) error {
	client, err := redis.NewClient(ctx, redis.Config{
		Host:     a.cfg.RedisHost,
		Port:     a.cfg.RedisPort,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	}, a.logger)
	if err != nil {
		return err
	}

	a.redis = client
	a.health.Register("redis", client, true)
	return nil
}

func (a *app) stopRedis(context.Context) error {
	if a.redis == nil {
		return nil
	}
	return a.redis.Close()
}

func (a *app) startProducer(context.Context) error {
	if a.cfg.KafkaCompletionTopic == "" {
		return nil
	}
	a.producer = kafka.NewProducer(kafka.ParseBrokers(a.cfg.KafkaBrokers), a.cfg.KafkaCompletionTopic, a.logger)
	return nil
}

func (a *app) stopProducer(context.Context) error {
	if a.producer == nil {
		return nil
	}
	return a.producer.Close()
}

func (a *app) newAgent(ctx context.Context) (agent.Agent, error) {
	var invoker agent.Agent
	switch a.cfg.AgentProvider {
	case "anthropic":
		anthropicAgent, err := agent.NewAnthropicAgent(agent.AnthropicConfig{
			APIKey:     a.cfg.AnthropicAPIKey,
			BaseURL:    a.cfg.AnthropicBaseURL,
			Model:      a.cfg.AnthropicModel,
			MaxTokens:  a.cfg.AnthropicMaxTokens,
			MaxRetries: a.cfg.AgentMaxAttempts,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		invoker = anthropicAgent
	default:
		bedrockCfg := agent.BedrockConfig{
			Region:         a.cfg.BedrockRegion,
			AgentID:        a.cfg.BedrockAgentID,
			AgentAliasID:   a.cfg.BedrockAgentAliasID,
			MaxAttempts:    a.cfg.AgentMaxAttempts,
			ConnectTimeout: a.cfg.AgentConnectTimeout,
			ReadTimeout:    a.cfg.AgentReadTimeout,
		}
		client, err := agent.NewBedrockClient(ctx, bedrockCfg)
		if err != nil {
			return nil, err
		}
		invoker = agent.NewBedrockAgent(client, bedrockCfg, a.logger)
	}

	if a.cfg.AgentRateLimit > 0 {
		limiter := redis.NewRateLimiter(a.redis, "yarrow:ratelimit")
		invoker = agent.NewRateLimitedAgent(invoker, limiter, a.cfg.AgentProvider, a.cfg.AgentRateLimit, a.cfg.AgentRateWindow)
	}
	return invoker, nil
}

func (a *app) startPipeline(ctx context.Context) error {
	requests := repositories.NewSafetyCheckRequestRepository(a.db, a.logger)
	a.workOrders = repositories.NewWorkOrderRepository(a.db, a.logger)
	a.locations = repositories.NewLocationRepository(a.db, a.logger)
	hazards := repositories.NewHazardRepository(a.db, a.logger)

	streams := redis.NewStreams(a.redis)
	pubsub := redis.NewPubSub(a.redis)
	locker := redis.NewLocker(a.redis, redis.DefaultLockPrefix)
	a.dlq = redis.NewDeadLetterQueue(a.redis, a.cfg.DLQStream, a.logger)

	invoker, err := a.newAgent(ctx)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	// Requests created here only reach the Redis change feed through the outbox.
	var store repositories.SafetyCheckRequestRepo = requests
	if a.cfg.ChangeFeedSource == changefeed.OriginRedis {
		store = changefeed.NewPublishingStore(requests, streams, a.cfg.RedisChangeFeedStream, a.logger)
	}

	a.intake, err = intake.NewService(store, intake.Config{
		WorkOrderIDExpression: a.cfg.WorkOrderIDExpression,
		RequestTTL:            a.cfg.RequestTTL,
	}, a.logger)
	if err != nil {
		return err
	}
	a.poller = poller.New(requests, a.logger)
	a.aggregator = aggregator.New(aggregator.Deps{
		WorkOrders: a.workOrders,
		Locations:  a.locations,
		Hazards:    hazards,
	}, a.logger)

	a.hub = notify.NewHub(a.submitFromSocket, a.cfg.WebSocketAllowedOrigins, a.logger)
	channels := []notify.Channel{{Name: "redis", Notifier: notify.NewBroadcaster(pubsub, a.cfg.NotifyChannel)}}
	if a.producer != nil {
		channels = append(channels, notify.Channel{Name: "kafka", Notifier: notify.NewKafkaNotifier(a.producer)})
	}

	relayCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.stopRelay = cancel
	go func() {
		if err := notify.Relay(relayCtx, pubsub, a.cfg.NotifyChannel, a.hub, a.logger); err != nil {
			a.logger.WithError(err).Error("Completion relay stopped")
		}
	}()

	handler := dispatcher.New(dispatcher.Deps{
		Requests:   requests,
		WorkOrders: a.workOrders,
		Agent:      invoker,
		Locker:     locker,
		DeadLetter: a.dlq,
		Notifier:   notify.NewFanout(a.logger, channels...),
	}, dispatcher.Config{
		Dedupe:          a.cfg.DispatchDedupe,
		MaxRetries:      a.cfg.DispatchMaxRetries,
		InitialInterval: a.cfg.DispatchRetryInitialInterval,
		HandlerTimeout:  a.cfg.DispatchHandlerTimeout,
	}, a.logger)

	switch a.cfg.ChangeFeedSource {
	case changefeed.OriginKafka:
		a.feed = changefeed.NewKafkaSource(kafka.ConsumerConfig{
			Brokers:       kafka.ParseBrokers(a.cfg.KafkaBrokers),
			Topic:         a.cfg.KafkaCDCTopic,
			ConsumerGroup: a.cfg.KafkaConsumerGroup,
		}, handler, a.logger)
	default:
		consumer := a.cfg.RedisChangeFeedConsumer
		if consumer == "" {
			consumer, _ = os.Hostname()
		}
		a.feed = changefeed.NewRedisSource(streams, changefeed.RedisSourceConfig{
			Stream:        a.cfg.RedisChangeFeedStream,
			Group:         a.cfg.RedisChangeFeedGroup,
			Consumer:      consumer,
			RetryInterval: a.cfg.RedisChangeFeedRetryInterval,
			ClaimMinIdle:  a.cfg.RedisChangeFeedClaimMinIdle,
		}, handler, a.logger)
	}
	if err := a.feed.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	if a.cfg.SchedulerEnabled {
		a.scheduler = scheduler.New(scheduler.Deps{
			WorkOrders: a.workOrders,
			Locations:  a.locations,
			Requests:   store,
			Locker:     locker,
		}, scheduler.Config{
			BatchCron:        a.cfg.SchedulerCron,
			PruneCron:        a.cfg.RequestPruneCron,
			ThrottleInterval: a.cfg.SchedulerThrottleInterval,
			SkipStatuses:     a.cfg.SchedulerSkipStatuses,
			RequestTTL:       a.cfg.RequestTTL,
		}, a.logger)
		if err := a.scheduler.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) stopPipeline(context.Context) error {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.stopRelay != nil {
		a.stopRelay()
	}
	if a.feed == nil {
		return nil
	}
	return a.feed.Stop()
}

func (a *app) submitFromSocket(ctx context.Context, query string, details json.RawMessage) (string, error) {
	id, err := a.intake.Submit(ctx, intake.SubmitInput{
		Query:            query,
		WorkOrderDetails: details,
		Source:           models.RequestSourceInteractive,
	})
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (a *app) startHTTP(context.Context) error {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(a.logger)

	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{AllowOrigins: a.cfg.AllowOrigins}))
	e.Use(otelecho.Middleware(a.cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(a.logger))

	if a.cfg.AuthEnabled {
		verifier, err := middleware.NewOIDCVerifier(context.Background(), a.cfg.AuthIssuerURL, a.cfg.AuthClientID)
		if err != nil {
			return err
		}
		e.Use(middleware.Authentication(a.logger, verifier, middleware.AuthOptions{
			Skip:            []string{"/health", "/health/live", "/health/ready", "/metrics", "/agent/actions"},
			QueryTokenPaths: []string{"/ws"},
		}))
	}

	a.health.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	handlers.RegisterWebSocket(e, a.hub)

	g := e.Group("")
	handlers.NewSafetyCheckHandler(a.intake, a.poller, a.logger).RegisterRoutes(g)
	handlers.NewWorkOrderHandler(a.workOrders, a.locations, a.aggregator, a.logger).RegisterRoutes(g)
	if a.cfg.AgentActionSecret != "" {
		handlers.NewAgentActionHandler(a.aggregator, a.logger).RegisterRoutes(g,
			middleware.SharedSecret(a.logger, handlers.AgentActionSecretHeader, a.cfg.AgentActionSecret))
	} else {
		a.logger.Warn("AGENT_ACTION_SECRET is not set, /agent/actions is disabled")
	}
	handlers.NewDLQHandler(a.dlq, a.logger).RegisterRoutes(g)
	if a.scheduler != nil {
		handlers.NewSchedulerHandler(a.scheduler).RegisterRoutes(g)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Port),
		ReadTimeout:       time.Duration(a.cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(a.cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(a.cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(a.cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}
	a.echo = e

	go func() {
		if err := e.StartServer(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.serverErr <- err
		}
	}()
	return nil
}

func (a *app) stopHTTP(ctx context.Context) error {
	if a.echo == nil {
		return nil
	}
	return a.echo.Shutdown(ctx)
}
