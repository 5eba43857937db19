package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/autolumiku/wabot/internal/ai"
	"github.com/autolumiku/wabot/internal/channel"
	"github.com/autolumiku/wabot/internal/channel/inbound"
	"github.com/autolumiku/wabot/internal/command"
	"github.com/autolumiku/wabot/internal/commandlog"
	"github.com/autolumiku/wabot/internal/config"
	"github.com/autolumiku/wabot/internal/conversation"
	"github.com/autolumiku/wabot/internal/db"
	"github.com/autolumiku/wabot/internal/digest"
	"github.com/autolumiku/wabot/internal/gateway"
	"github.com/autolumiku/wabot/internal/handlers"
	"github.com/autolumiku/wabot/internal/healthcheck"
	dependencychecker "github.com/autolumiku/wabot/internal/healthcheck/checkers/dependency"
	queuechecker "github.com/autolumiku/wabot/internal/healthcheck/checkers/queue"
	"github.com/autolumiku/wabot/internal/intent"
	"github.com/autolumiku/wabot/internal/inventory"
	"github.com/autolumiku/wabot/internal/keylock"
	"github.com/autolumiku/wabot/internal/logger"
	"github.com/autolumiku/wabot/internal/media"
	"github.com/autolumiku/wabot/internal/media/providers/localfs"
	"github.com/autolumiku/wabot/internal/message"
	"github.com/autolumiku/wabot/internal/notify"
	"github.com/autolumiku/wabot/internal/server"
	"github.com/autolumiku/wabot/internal/staff"
)

func runServe(configPath string) error {
	app := fx.New(
		fx.Provide(
			func() (config.Config, error) { return loadConfig(configPath) },
			provideLogger,
			provideLocation,
			provideDBConn,
			provideConversationService,
			provideMessageService,
			provideCommandLogService,
			provideInventoryService,
			provideStaffService,
			provideDirectory,
			provideRedisLock,
			provideLocker,
			provideNATS,
			provideGatewayClient,
			provideSender,
			provideBroadcaster,
			provideOutcomePublisher,
			provideMediaService,
			provideAI,
			provideCommandEngine,
			provideProcessor,
			provideChannelManager,
			provideDigestService,
			provideReadiness,
			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(provideWebhookHandler),
			provideServerHandler(provideConversationHandler),
			provideServerHandler(provideCommandLogHandler),
			provideServerHandler(handlers.NewMetricsHandler),
			provideServerHandler(provideMediaHandler),
			provideServer,
		),
		fx.Invoke(
			startChannelManager,
			startDigestService,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Registrar)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideLocation(cfg config.Config) (*time.Location, error) {
	loc, err := time.LoadLocation(cfg.Digest.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Digest.Timezone, err)
	}
	return loc, nil
}

func provideDBConn(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (*pgxpool.Pool, error) {
	if cfg.Postgres.AutoMigrate {
		if err := db.Migrate(log, cfg.Postgres.DSN()); err != nil {
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
	}
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideConversationService(log *slog.Logger, conn *pgxpool.Pool) *conversation.DBService {
	return conversation.NewService(log, conn)
}
func provideMessageService(log *slog.Logger, conn *pgxpool.Pool) *message.DBService {
	return message.NewService(log, conn)
}
func provideCommandLogService(log *slog.Logger, conn *pgxpool.Pool) *commandlog.DBService {
	return commandlog.NewService(log, conn)
}
func provideInventoryService(log *slog.Logger, conn *pgxpool.Pool) *inventory.DBService {
	return inventory.NewService(log, conn)
}
func provideStaffService(log *slog.Logger, conn *pgxpool.Pool) *staff.DBService {
	return staff.NewService(log, conn)
}

func provideDirectory(log *slog.Logger, cfg config.Config, svc *staff.DBService) (staff.Directory, error) {
	return staff.NewCachedDirectory(log, svc, cfg.Staff.CacheSize, cfg.Staff.CacheTTL.Duration)
}

// provideRedisLock returns nil when no redis is configured.
func provideRedisLock(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (*keylock.Redis, error) {
	if cfg.Redis.URL == "" {
		return nil, nil
	}
	client, err := keylock.NewRedisClient(context.Background(), cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	lock := keylock.NewRedis(log, client, cfg.Redis.LockTTL.Duration)
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return lock.Close() }})
	return lock, nil
}

func provideLocker(redisLock *keylock.Redis) keylock.Locker {
	if redisLock == nil {
		return keylock.NewLocal()
	}
	return keylock.Chain{keylock.NewLocal(), redisLock}
}

// provideNATS returns nil when no broker is configured.
func provideNATS(lc fx.Lifecycle, cfg config.Config) (*nats.Conn, error) {
	if cfg.NATS.URL == "" {
		return nil, nil
	}
	nc, err := notify.Connect(cfg.NATS.URL)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return nc.Drain() }})
	return nc, nil
}

func provideGatewayClient(cfg config.Config) *gateway.Client {
	return gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.Token, cfg.Gateway.Timeout.Duration)
}

func provideSender(log *slog.Logger, cfg config.Config, client *gateway.Client) channel.Sender {
	return channel.NewRetryingSender(log, client, channel.OutboundPolicy{
		RetryMax:     cfg.Gateway.Retry,
		RetryBackoff: cfg.Gateway.RetryDelay.Duration,
	})
}

func provideBroadcaster(log *slog.Logger, cfg config.Config, directory staff.Directory, sender channel.Sender) *notify.Broadcaster {
	return notify.NewBroadcaster(log, directory, sender, notify.BroadcasterConfig{
		CountryCode: cfg.Orchestrator.CountryCode,
		Delay:       cfg.Orchestrator.NotifyDelay.Duration,
	})
}

// provideOutcomePublisher fans outcomes out over NATS when a broker is
// configured, otherwise through the in-process queue.
func provideOutcomePublisher(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, nc *nats.Conn, broadcaster *notify.Broadcaster) notify.Publisher {
	if nc != nil {
		consumer := notify.NewNATSConsumer(log, nc, cfg.NATS.Subject, broadcaster)
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error { return consumer.Start(ctx) },
			OnStop:  func(ctx context.Context) error { return consumer.Stop() },
		})
		return notify.NewNATSPublisher(nc, cfg.NATS.Subject)
	}
	queue := notify.NewQueue(log, broadcaster, cfg.Orchestrator.QueueSize)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { queue.Start(ctx); return nil },
		OnStop:  func(ctx context.Context) error { return queue.Stop(ctx) },
	})
	return queue
}

func provideMediaService(log *slog.Logger, cfg config.Config) (*media.Service, error) {
	provider, err := localfs.New(cfg.Media.DataRoot)
	if err != nil {
		return nil, fmt.Errorf("media storage: %w", err)
	}
	downloader := media.NewHTTPDownloader(cfg.Gateway.BaseURL, cfg.Gateway.Token, cfg.Media.DownloadTimeout.Duration)
	return media.NewService(log, downloader, provider, media.Config{
		Attempts: cfg.Media.DownloadAttempts,
		Timeout:  cfg.Media.DownloadTimeout.Duration,
	}), nil
}

// aiComponents holds the model-backed collaborators, or the rule-based ones
// when no model is configured. Extractor stays nil in that case.
type aiComponents struct {
	Classifier intent.Classifier
	Extractor  command.Extractor
	Responder  inbound.Responder
}

func provideAI(log *slog.Logger, cfg config.Config) aiComponents {
	if !cfg.AI.Enabled() {
		log.Info("ai disabled, using keyword classification and template replies")
		return aiComponents{
			Classifier: intent.KeywordClassifier{},
			Responder:  inbound.TemplateResponder{},
		}
	}
	client := ai.NewClient(log, ai.NewOpenAI(cfg.AI.BaseURL, cfg.AI.APIKey, cfg.AI.Timeout.Duration), cfg.AI.Model)
	return aiComponents{
		Classifier: ai.NewClassifier(client, intent.KeywordClassifier{}),
		Extractor:  ai.NewExtractor(client),
		Responder:  ai.NewResponder(client),
	}
}

func provideCommandEngine(
	log *slog.Logger,
	cfg config.Config,
	loc *time.Location,
	inv *inventory.DBService,
	convs *conversation.DBService,
	directory staff.Directory,
	logs *commandlog.DBService,
	photos *media.Service,
	publisher notify.Publisher,
	models aiComponents,
) *command.Engine {
	return command.NewEngine(log, command.Deps{
		Inventory:     inv,
		Conversations: convs,
		Directory:     directory,
		Logs:          logs,
		Photos:        photos,
		Publisher:     publisher,
		Extractor:     models.Extractor,
	}, command.Config{
		CountryCode:     cfg.Orchestrator.CountryCode,
		DuplicateWindow: cfg.Orchestrator.DuplicateWindow.Duration,
		MaxPhotos:       cfg.Orchestrator.MaxUploadPhotos,
		Location:        loc,
	})
}

func provideProcessor(
	log *slog.Logger,
	cfg config.Config,
	convs *conversation.DBService,
	msgs *message.DBService,
	inv *inventory.DBService,
	directory staff.Directory,
	engine *command.Engine,
	sender channel.Sender,
	locker keylock.Locker,
	models aiComponents,
) *inbound.Processor {
	return inbound.NewProcessor(log, inbound.Deps{
		Conversations: convs,
		Messages:      msgs,
		Vehicles:      inv,
		Directory:     directory,
		Classifier:    models.Classifier,
		Responder:     models.Responder,
		Commands:      engine,
		Sender:        sender,
		Locker:        locker,
	}, inbound.Config{
		CountryCode:   cfg.Orchestrator.CountryCode,
		AliasRecency:  cfg.Orchestrator.AliasRecency.Duration,
		PublicBaseURL: cfg.Server.PublicURL,
	})
}

func provideChannelManager(log *slog.Logger, cfg config.Config, processor *inbound.Processor) *channel.Manager {
	return channel.NewManager(log, processor, channel.ManagerConfig{
		Workers:   cfg.Orchestrator.Workers,
		QueueSize: cfg.Orchestrator.QueueSize,
	})
}

func provideDigestService(log *slog.Logger, cfg config.Config, tenants *staff.DBService, inv *inventory.DBService, publisher notify.Publisher) (*digest.Service, error) {
	return digest.NewService(log, tenants, inv, publisher, digest.Config{
		Spec:       cfg.Digest.Spec,
		Timezone:   cfg.Digest.Timezone,
		AccountFor: cfg.Gateway.AccountFor,
	})
}

func provideReadiness(log *slog.Logger, cfg config.Config, conn *pgxpool.Pool, client *gateway.Client, redisLock *keylock.Redis, nc *nats.Conn, manager *channel.Manager) handlers.ReadinessRunner {
	checkers := []healthcheck.Checker{
		dependencychecker.NewChecker(log, "postgres", conn),
		dependencychecker.NewChecker(log, "gateway", client, dependencychecker.Optional()),
		queuechecker.NewChecker(manager, cfg.Orchestrator.QueueSize),
	}
	if redisLock != nil {
		checkers = append(checkers, dependencychecker.NewChecker(log, "redis", redisLock))
	}
	if nc != nil {
		checkers = append(checkers, dependencychecker.NewChecker(log, "nats", dependencychecker.PingFunc(nc.FlushWithContext)))
	}
	return healthcheck.NewAggregator(checkers...)
}

func provideWebhookHandler(log *slog.Logger, cfg config.Config, manager *channel.Manager) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, manager, handlers.WebhookConfig{
		Secret: cfg.Gateway.WebhookSecret,
		Tenant: cfg.Gateway.TenantFor,
	})
}

func provideConversationHandler(log *slog.Logger, convs *conversation.DBService, msgs *message.DBService) *handlers.ConversationHandler {
	return handlers.NewConversationHandler(log, convs, msgs)
}

func provideCommandLogHandler(log *slog.Logger, logs *commandlog.DBService) *handlers.CommandLogHandler {
	return handlers.NewCommandLogHandler(log, logs)
}

func provideMediaHandler(log *slog.Logger, svc *media.Service) *handlers.MediaHandler {
	return handlers.NewMediaHandler(log, svc)
}

type serverParams struct {
	fx.In

	Logger   *slog.Logger
	Config   config.Config
	Handlers []server.Registrar `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.Handlers...)
}

func startChannelManager(lc fx.Lifecycle, manager *channel.Manager) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error { manager.Start(ctx); return nil },
		OnStop:  func(stopCtx context.Context) error { cancel(); return manager.Shutdown(stopCtx) },
	})
}

func startDigestService(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, svc *digest.Service) {
	if !cfg.Digest.Enabled {
		log.Info("daily digest disabled")
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { svc.Start(); return nil },
		OnStop:  func(ctx context.Context) error { return svc.Stop(ctx) },
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	fmt.Printf("Starting %s %s\n", appName, Version)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
