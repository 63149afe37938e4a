package container

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"terminal-payment-backend/internal/config"
	"terminal-payment-backend/internal/domains/terminal/gateway"
	"terminal-payment-backend/internal/domains/terminal/gateway/helcim"
	gwmock "terminal-payment-backend/internal/domains/terminal/gateway/mock"
	terminalHandler "terminal-payment-backend/internal/domains/terminal/handler"
	terminalJob "terminal-payment-backend/internal/domains/terminal/job"
	terminalRepo "terminal-payment-backend/internal/domains/terminal/repository"
	terminalService "terminal-payment-backend/internal/domains/terminal/service"
	"terminal-payment-backend/internal/domains/terminal/store"
	infraCache "terminal-payment-backend/internal/infrastructure/cache"
	"terminal-payment-backend/internal/infrastructure/database"
	"terminal-payment-backend/internal/infrastructure/events"
	"terminal-payment-backend/internal/infrastructure/metrics"
	"terminal-payment-backend/internal/infrastructure/queue"
	"terminal-payment-backend/internal/infrastructure/sms"
	"terminal-payment-backend/internal/shared"
	"terminal-payment-backend/pkg/cache"
	"terminal-payment-backend/pkg/jwt"
)

// ========================================
// CONTAINER STRUCT
// ========================================

// Container is the root of the dependency graph shared by cmd/api and
// cmd/worker. Every field is a singleton for the process lifetime.
type Container struct {
	// ========================================
	// INFRASTRUCTURE LAYER
	// ========================================

	Config      *config.Config
	DB          *database.PostgresDB
	Redis       *infraCache.RedisClient
	Cache       cache.Cache
	JWTManager  *jwt.Manager
	Registry    *prometheus.Registry
	Metrics     *metrics.Metrics
	AsynqClient *asynq.Client
	RedisOpt    asynq.RedisClientOpt
	Publisher   events.Publisher
	SMSSender   sms.Sender

	// ========================================
	// TERMINAL STORES + GATEWAY
	// ========================================

	Sessions store.SessionStore
	Webhooks store.WebhookCache
	evictors []store.Evictor
	Gateway  gateway.TerminalGateway

	// ========================================
	// REPOSITORY LAYER
	// ========================================

	PaymentRepo     terminalRepo.PaymentRepository
	AppointmentRepo terminalRepo.AppointmentRepository
	StaffRateRepo   terminalRepo.StaffRateRepository
	CommissionRepo  terminalRepo.CommissionRepository
	WebhookLogRepo  terminalRepo.WebhookLogRepository
	TxManager       terminalRepo.TransactionManager

	// ========================================
	// SERVICE LAYER
	// ========================================

	SessionService    terminalService.SessionService
	ResolverService   terminalService.ResolverService
	SettlementService terminalService.SettlementService
	WebhookService    terminalService.WebhookService
	ReportService     terminalService.ReportService

	// ========================================
	// HANDLER LAYER (HTTP + JOBS)
	// ========================================

	TerminalHandler *terminalHandler.TerminalHandler
	WebhookHandler  *terminalHandler.WebhookHandler
	ReportHandler   *terminalHandler.ReportHandler

	EnrichWebhookJob     *terminalJob.EnrichWebhookHandler
	SettlePaymentJob     *terminalJob.SettlePaymentHandler
	FailPaymentJob       *terminalJob.FailPaymentHandler
	ReconcilePendingJob  *terminalJob.ReconcilePendingHandler
	PaymentAutomationJob *terminalJob.PaymentAutomationHandler
}

// ========================================
// CONSTRUCTOR: BUILD CONTAINER
// ========================================

// NewContainer builds the graph in dependency order:
// config, infrastructure, stores and gateway, repositories, services,
// handlers.
func NewContainer() (*Container, error) {
	log.Info().Msg("🔧 Initializing DI Container...")

	c := &Container{}

	// ========================================
	// STEP 1: LOAD CONFIGURATION
	// ========================================
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	c.Config = cfg
	log.Info().Str("env", cfg.App.Environment).Msg("✅ Config loaded")

	// ========================================
	// STEP 2: INITIALIZE DATABASE
	// ========================================
	dbConfig, err := config.LoadDatabaseConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load database config: %w", err)
	}

	db := database.NewPostgresDB(dbConfig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("database health check failed: %w", err)
	}
	c.DB = db
	log.Info().Msg("✅ Database connected")

	// ========================================
	// STEP 3: INITIALIZE REDIS + CACHE
	// ========================================
	if err := c.initRedis(ctx); err != nil {
		return nil, err
	}

	c.JWTManager = jwt.NewManager(cfg.JWT.Secret, cfg.JWT.TokenTTL)

	c.Registry = prometheus.NewRegistry()
	c.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.Metrics = metrics.New(c.Registry)

	// ========================================
	// STEP 4: QUEUE + EVENTS
	// ========================================
	c.RedisOpt = queue.RedisOpt(cfg.Redis.Host, cfg.Redis.Password, cfg.Redis.DB)
	c.AsynqClient = queue.NewClient(c.RedisOpt)

	switch cfg.Events.Driver {
	case config.EventsDriverKafka:
		c.Publisher = events.NewKafkaPublisher(cfg.Events.KafkaBrokers, cfg.Events.PaymentCompletedTop)
		log.Info().Strs("brokers", cfg.Events.KafkaBrokers).Msg("✅ Kafka publisher ready")
	default:
		c.Publisher = events.NewTaskPublisher(c.AsynqClient)
	}

	c.SMSSender = sms.NewMockSMSService()

	// ========================================
	// STEP 5: STORES + GATEWAY
	// ========================================
	if err := c.initStores(); err != nil {
		return nil, fmt.Errorf("failed to init stores: %w", err)
	}
	if err := c.initGateway(); err != nil {
		return nil, fmt.Errorf("failed to init gateway: %w", err)
	}

	// ========================================
	// STEP 6: REPOSITORIES, SERVICES, HANDLERS
	// ========================================
	c.initRepositories()
	c.initServices()
	c.initHandlers()

	log.Info().Msg("🎉 DI Container initialized successfully")
	return c, nil
}

// ========================================
// PRIVATE INITIALIZATION METHODS
// ========================================

func (c *Container) initRedis(ctx context.Context) error {
	rc := infraCache.NewRedisClient(c.Config.Redis.Host, c.Config.Redis.Password, c.Config.Redis.DB)

	// The task queue lives in Redis whatever the store backend, so there is
	// nothing useful to fall back to
	if err := rc.Connect(ctx); err != nil {
		_ = rc.Close()
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	c.Redis = rc
	c.Cache = infraCache.NewRedisCache(rc.Client)
	log.Info().Msg("✅ Redis connected")
	return nil
}

func (c *Container) initStores() error {
	tcfg := c.Config.Terminal

	switch tcfg.StoreBackend {
	case config.StoreBackendRedis:
		sessions := store.NewRedisSessionStore(c.Redis.Client, tcfg.SessionTTL)
		webhooks := store.NewRedisWebhookCache(c.Redis.Client, tcfg.WebhookRecordTTL, tcfg.LastCompletedTTL)
		c.Sessions, c.Webhooks = sessions, webhooks
		c.evictors = []store.Evictor{sessions, webhooks}
	case config.StoreBackendMemory:
		sessions := store.NewMemorySessionStore(tcfg.SessionTTL)
		webhooks := store.NewMemoryWebhookCache(tcfg.WebhookRecordTTL, tcfg.LastCompletedTTL)
		// Single process: idempotency and receipt markers stay in-process too
		markers := infraCache.NewMemoryCache().(*infraCache.MemoryCache)
		c.Sessions, c.Webhooks, c.Cache = sessions, webhooks, markers
		c.evictors = []store.Evictor{sessions, webhooks, markers}
	default:
		return fmt.Errorf("unknown store backend %q", tcfg.StoreBackend)
	}

	log.Info().Str("backend", tcfg.StoreBackend).Msg("✅ Terminal stores initialized")
	return nil
}

func (c *Container) initGateway() error {
	hcfg := c.Config.Helcim

	var gw gateway.TerminalGateway
	switch hcfg.Provider {
	case config.GatewayProviderHelcim:
		client, err := helcim.NewClient(&helcim.Config{
			APIURL:    hcfg.APIURL,
			APIToken:  hcfg.APIToken,
			Currency:  hcfg.Currency,
			DeviceMap: hcfg.DeviceMap,
			Timeout:   hcfg.RequestTimeout,
		})
		if err != nil {
			return err
		}
		gw = client
	default:
		gw = gwmock.NewGateway()
		log.Warn().Msg("⚠️  Using mock terminal gateway")
	}

	c.Gateway = gateway.Instrument(gw, c.Metrics)
	return nil
}

func (c *Container) initRepositories() {
	pool := c.DB.Pool

	c.PaymentRepo = terminalRepo.NewPaymentRepository(pool)
	c.AppointmentRepo = terminalRepo.NewAppointmentRepository(pool)
	c.StaffRateRepo = terminalRepo.NewStaffRateRepository(pool)
	c.CommissionRepo = terminalRepo.NewCommissionRepository(pool)
	c.WebhookLogRepo = terminalRepo.NewWebhookLogRepository(pool)
	c.TxManager = terminalRepo.NewPostgresTransactionManager(pool)
}

func (c *Container) initServices() {
	tcfg := c.Config.Terminal

	c.SessionService = terminalService.NewSessionService(
		c.Sessions,
		c.PaymentRepo,
		c.Gateway,
		tcfg,
	)

	c.ResolverService = terminalService.NewResolverService(
		c.Sessions,
		c.Webhooks,
		c.PaymentRepo,
		c.Gateway,
		c.AsynqClient,
		c.Metrics,
		tcfg,
		c.Config.Job,
	)

	c.SettlementService = terminalService.NewSettlementService(
		c.PaymentRepo,
		c.AppointmentRepo,
		c.StaffRateRepo,
		c.CommissionRepo,
		c.TxManager,
		c.Sessions,
		c.ResolverService,
		c.Publisher,
		c.Metrics,
	)

	c.WebhookService = terminalService.NewWebhookService(
		c.Sessions,
		c.Webhooks,
		c.PaymentRepo,
		c.WebhookLogRepo,
		c.AsynqClient,
		c.Metrics,
		c.Config.Helcim.WebhookSecret,
		tcfg,
	)

	c.ReportService = terminalService.NewReportService(c.CommissionRepo)
}

func (c *Container) initHandlers() {
	c.TerminalHandler = terminalHandler.NewTerminalHandler(
		c.SessionService,
		c.ResolverService,
		c.SettlementService,
		c.WebhookService,
	)
	c.WebhookHandler = terminalHandler.NewWebhookHandler(c.WebhookService)
	c.ReportHandler = terminalHandler.NewReportHandler(c.ReportService)

	c.EnrichWebhookJob = terminalJob.NewEnrichWebhookHandler(c.WebhookService)
	c.SettlePaymentJob = terminalJob.NewSettlePaymentHandler(c.SettlementService)
	c.FailPaymentJob = terminalJob.NewFailPaymentHandler(c.SettlementService)
	c.ReconcilePendingJob = terminalJob.NewReconcilePendingHandler(c.ResolverService, c.Config.Job.ReconcileBatchSize)
	c.PaymentAutomationJob = terminalJob.NewPaymentAutomationHandler(c.SMSSender, c.Cache, c.Config.App.Name)
}

// ========================================
// LIFECYCLE
// ========================================

// RunJanitor evicts expired store entries until ctx is cancelled
func (c *Container) RunJanitor(ctx context.Context) {
	store.RunJanitor(ctx, c.Config.Terminal.JanitorInterval, c.evictors...)
}

// RunBackground starts the janitor and the pool monitor; both stop with ctx
func (c *Container) RunBackground(ctx context.Context) {
	go c.RunJanitor(ctx)
	go c.DB.MonitorPoolHealth(ctx, time.Minute)
}

// Cleanup releases every connection. Safe to call once during shutdown.
func (c *Container) Cleanup() {
	log.Info().Msg("🧹 Cleaning up container resources...")

	if c.Publisher != nil {
		if err := c.Publisher.Close(); err != nil {
			log.Warn().Err(err).Msg("⚠️  Failed to close event publisher")
		}
	}

	if c.AsynqClient != nil {
		if err := c.AsynqClient.Close(); err != nil {
			log.Warn().Err(err).Msg("⚠️  Failed to close asynq client")
		}
	}

	if c.DB != nil {
		c.DB.Close()
		log.Info().Msg("✅ Database connections closed")
	}

	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			log.Warn().Err(err).Msg("⚠️  Failed to close Redis")
		} else {
			log.Info().Msg("✅ Redis connections closed")
		}
	}

	log.Info().Msg("✅ Container cleanup completed")
}

// RegisterJobHandlers binds every task type to its handler
func (c *Container) RegisterJobHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(shared.TypeEnrichWebhook, c.EnrichWebhookJob.ProcessTask)
	mux.HandleFunc(shared.TypeSettlePayment, c.SettlePaymentJob.ProcessTask)
	mux.HandleFunc(shared.TypeFailPayment, c.FailPaymentJob.ProcessTask)
	mux.HandleFunc(shared.TypeReconcilePending, c.ReconcilePendingJob.ProcessTask)
	mux.HandleFunc(shared.TypePaymentAutomation, c.PaymentAutomationJob.ProcessTask)
}
